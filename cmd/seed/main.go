package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"docqueue/internal/config"
)

func main() {
	// ---- Config ----
	configPath := flag.String("config", "config.yaml", "path to config file")
	addr := flag.String("addr", "", "base URL of a running instance (default http://localhost:<port>)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	base := *addr
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	token, err := login(client, base, cfg.Server.APIKey)
	if err != nil {
		log.Fatalf("login: %v", err)
	}

	// If jobs are already waiting, do nothing
	depth, err := queueDepth(client, base, token)
	if err != nil {
		log.Fatalf("queue metrics: %v", err)
	}
	if depth > 0 {
		fmt.Printf("%d jobs already waiting. No changes.\n", depth)
		return
	}

	// Seed a few sample jobs for testing the dispatch flow
	seed := []struct {
		Type     string
		Docs     []string
		Priority *int
	}{
		{"ocr", []string{"invoice-0001.tif", "invoice-0002.tif"}, intPtr(15)},
		{"text_extraction", []string{"report.pdf"}, nil},
		{"nlp_analysis", []string{"contract-a.pdf", "contract-b.pdf"}, nil},
		{"pii_scan", []string{"export.csv"}, intPtr(12)},
		{"validation", []string{"ledger-2025.xlsx"}, intPtr(-15)},
	}

	for _, s := range seed {
		id, err := submit(client, base, token, s.Type, s.Docs, s.Priority)
		if err != nil {
			log.Fatalf("submit %q: %v", s.Type, err)
		}
		fmt.Printf("seeded: %s (type=%s, docs=%d)\n", id, s.Type, len(s.Docs))
	}

	fmt.Println("✅ Seeding complete.")
}

func login(client *http.Client, base, apiKey string) (string, error) {
	body, _ := json.Marshal(map[string]string{"api_key": apiKey})
	resp, err := client.Post(base+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func queueDepth(client *http.Client, base, token string) (int, error) {
	req, err := http.NewRequest(http.MethodGet, base+"/api/v1/queue/metrics", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		QueueDepth int `json:"queue_depth"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.QueueDepth, nil
}

func submit(client *http.Client, base, token, jobType string, docs []string, priority *int) (string, error) {
	payload := map[string]any{
		"type":      jobType,
		"documents": docs,
		"options":   map[string]any{"language": "en"},
	}
	if priority != nil {
		payload["priority"] = *priority
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, base+"/api/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

func intPtr(v int) *int { return &v }
