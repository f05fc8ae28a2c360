package main

import (
	"context"
	"flag"
	"log"
	"os"

	"docqueue/internal/config"
	"docqueue/internal/infra/db/postgres"
	"docqueue/internal/infra/redis"
)

// This script resets the queue and the archive to a clean, predictable
// state for manual end-to-end testing.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	schemaPath := flag.String("schema", "deploy/postgres/init.sql", "path to archive schema")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.LoadConfig(*configPath, false)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatalf("database.url is not set; nothing to set up")
	}

	// --- Connect to Postgres ---
	pool, err := postgres.NewPgxPool(ctx, cfg.Database.URL, 5)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	// --- Connect to Redis ---
	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisClient.Close()

	log.Println("--- Starting E2E Environment Setup ---")

	// 1. Wipe the hot store: queues, snapshots, leases, everything.
	log.Println("[1/3] Wiping Redis state...")
	if err := redisClient.FlushDB(ctx); err != nil {
		log.Fatalf("failed to flush redis: %v", err)
	}

	// 2. Make sure the archive schema exists.
	log.Println("[2/3] Applying archive schema...")
	schema, err := os.ReadFile(*schemaPath)
	if err != nil {
		log.Fatalf("read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	// 3. Wipe any previously archived runs.
	log.Println("[3/3] Truncating archive tables...")
	if _, err := pool.Exec(ctx, `TRUNCATE archived_tasks, archived_jobs CASCADE;`); err != nil {
		log.Fatalf("failed to truncate archive: %v", err)
	}

	log.Println("--- E2E Environment Setup Complete ---")
}
