// Runs the whole queue in-process against an embedded redis: submits jobs
// at three priorities, drains them with two workers, then walks through
// the cancel and retry flows. Needs no infrastructure.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"

	"docqueue/internal/config"
	"docqueue/internal/domain"
	"docqueue/internal/domain/model"
	"docqueue/internal/infra/logging"
	red "docqueue/internal/infra/redis"
	"docqueue/internal/retry"
	"docqueue/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Embedded redis so the demo runs anywhere
	mr, err := miniredis.Run()
	if err != nil {
		log.Fatalf("embedded redis: %v", err)
	}
	defer mr.Close()

	// 2. Queue config and a console logger
	queueCfg := config.QueueConfig{
		MaxWorkers:   4,
		MaxQueueSize: 100,
		MaxRetries:   2,
		JobTypes: map[string]config.JobTypeConfig{
			"ocr":          {WorkerType: "ocr", Timeout: time.Minute, DefaultPriority: 5},
			"nlp_analysis": {WorkerType: "nlp", Timeout: time.Minute, DefaultPriority: 3},
		},
	}
	logger := logging.New(config.LogConfig{Level: "info", Format: "console"}, true)

	// 3. Store and scheduler
	store, err := red.NewClient(ctx, &config.RedisConfig{URL: mr.Addr()})
	if err != nil {
		log.Fatalf("redis client: %v", err)
	}
	defer store.Close()
	uc := usecase.NewJobUseCase(store, nil, queueCfg, retry.DefaultPolicy(), logger)

	// 4. Submit OCR jobs at three priorities
	urgent := submit(ctx, uc, "ocr", []string{"invoice-1.tif", "invoice-2.tif"}, intPtr(15))
	routine := submit(ctx, uc, "ocr", []string{"letter.tif"}, nil)
	backfill := submit(ctx, uc, "ocr", []string{"archive-A.tif", "archive-B.tif", "archive-C.tif"}, intPtr(-15))
	log.Printf("submitted urgent=%s routine=%s backfill=%s", urgent, routine, backfill)

	// 5. Drain them with two OCR workers
	var wg sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(ctx)
	runWorker(workerCtx, &wg, uc, "worker-1", "ocr")
	runWorker(workerCtx, &wg, uc, "worker-2", "ocr")

	waitSettled(ctx, uc, urgent, routine, backfill)
	printStatus(ctx, uc, urgent, routine, backfill)

	if results, err := uc.JobResults(ctx, urgent); err == nil {
		log.Printf("urgent job results: %d documents extracted", len(results.Documents))
	}

	// 6. Cancel a queued job (no nlp workers are running, so it stays put)
	pending := submit(ctx, uc, "nlp_analysis", []string{"contract.pdf"}, nil)
	if ok, _ := uc.CancelJob(ctx, pending); ok {
		log.Printf("cancelled %s before any worker picked it up", pending)
	}

	// 7. Retry flow: corrupt documents fail permanently, then the job is
	// re-queued by hand
	doomed := submit(ctx, uc, "ocr", []string{"corrupt-scan.tif"}, intPtr(10))
	waitSettled(ctx, uc, doomed)
	if ok, _ := uc.RetryJob(ctx, doomed); ok {
		log.Printf("retrying %s", doomed)
	}
	waitSettled(ctx, uc, doomed)
	printStatus(ctx, uc, doomed)

	// 8. Final census
	if m, err := uc.QueueMetrics(ctx, ""); err == nil {
		log.Printf("census: jobs=%v tasks=%v depth=%d", m.Jobs, m.Tasks, m.QueueDepth)
	}

	stopWorkers()
	wg.Wait()
	if err := uc.Close(context.Background()); err != nil {
		log.Printf("close: %v", err)
	}
}

func submit(ctx context.Context, uc usecase.JobUseCase, jobType string, docs []string, priority *int) string {
	id, err := uc.SubmitJob(ctx, jobType, docs, map[string]any{"language": "en"}, priority)
	if err != nil {
		log.Fatalf("submit %s: %v", jobType, err)
	}
	return id
}

// runWorker polls for work and processes one document at a time. The
// simulated extraction is flaky on the first attempt so the retry policy
// has something to do; corrupt documents fail permanently.
func runWorker(ctx context.Context, wg *sync.WaitGroup, uc usecase.JobUseCase, id, workerType string) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		flaky := make(map[string]bool)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			job, err := uc.NextJob(ctx, id, workerType)
			if errors.Is(err, domain.ErrNotFound) {
				time.Sleep(20 * time.Millisecond)
				continue
			}
			if err != nil {
				return
			}

			for i, doc := range job.Documents {
				taskID := model.TaskID(job.ID, i)
				var text string
				policy := retry.Policy{MaxAttempts: 3, BaseDelay: 5 * time.Millisecond, Multiplier: 2}
				err := retry.Do(ctx, policy, func() error {
					if strings.HasPrefix(doc, "corrupt") {
						return retry.Permanent(errors.New("unreadable scan"))
					}
					if !flaky[doc] {
						flaky[doc] = true
						return errors.New("scanner hiccup")
					}
					text = fmt.Sprintf("extracted text of %s", doc)
					return nil
				})
				if err != nil {
					_ = uc.CompleteTask(ctx, taskID, nil, err.Error())
				} else {
					_ = uc.CompleteTask(ctx, taskID, text, "")
				}
			}
		}
	}()
}

func waitSettled(ctx context.Context, uc usecase.JobUseCase, ids ...string) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		settled := 0
		for _, id := range ids {
			info, err := uc.JobStatus(ctx, id)
			if err == nil && info.Status.Terminal() {
				settled++
			}
		}
		if settled == len(ids) {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	log.Printf("jobs did not settle in time: %v", ids)
}

func printStatus(ctx context.Context, uc usecase.JobUseCase, ids ...string) {
	for _, id := range ids {
		info, err := uc.JobStatus(ctx, id)
		if err != nil {
			log.Printf("status %s: %v", id, err)
			continue
		}
		log.Printf("job %s: status=%-9s progress=%.2f tasks=%d/%d retries=%d",
			info.JobID, info.Status, info.Progress, info.CompletedTasks, info.TotalTasks, info.RetryCount)
	}
}

func intPtr(v int) *int { return &v }
