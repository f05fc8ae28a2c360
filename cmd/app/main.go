// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docqueue/internal/config"
	"docqueue/internal/domain/ports/repository"
	pg "docqueue/internal/infra/db/postgres"
	"docqueue/internal/infra/logging"
	"docqueue/internal/infra/metrics"
	red "docqueue/internal/infra/redis"
	"docqueue/internal/infra/sched"
	"docqueue/internal/infra/security"
	"docqueue/internal/infra/web"
	"docqueue/internal/retry"
	"docqueue/internal/usecase"
)

// Overridden at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, insecure cookies)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Runtime.Dev {
		log.Printf("[DEV MODE] Enabled")
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	// ---- Metrics ----
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()

	var store repository.Store = redisClient
	if cfg.Redis.SnapshotKey != "" {
		cipher, err := security.NewCipher(cfg.Redis.SnapshotKey)
		if err != nil {
			log.Fatalf("snapshot cipher: %v", err)
		}
		store = red.NewSealedStore(redisClient, cipher)
		log.Printf("snapshot encryption enabled")
	}

	// ---- Scheduler lock ----
	// In-memory state is authoritative while the process runs; a second
	// instance on the same keyspace would corrupt dispatch.
	lock := red.NewLock(redisClient, "scheduler:lock", 30*time.Second)
	if err := lock.Acquire(ctx); err != nil {
		log.Fatalf("scheduler lock: %v", err)
	}
	go func() {
		if err := lock.Keep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("scheduler lock lost")
		}
	}()

	// ---- Archive (optional) ----
	var archive repository.JobArchive
	if cfg.Database.URL != "" {
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		archive = pg.NewJobArchiveRepo(pool, pg.NewTxManager(pool))

		go func() {
			t := time.NewTicker(15 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					st := pool.Stat()
					metrics.SetArchivePoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
				}
			}
		}()
	} else {
		log.Printf("database.url not set; settled jobs will be evicted without archiving")
	}

	// ---- Scheduler core ----
	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Multiplier:  cfg.Retry.Multiplier,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	jobUC := usecase.NewJobUseCase(store, archive, cfg.Queue, policy, logger)

	restored, err := jobUC.Restore(ctx)
	if err != nil {
		log.Printf("restore: %v (starting empty)", err)
	} else if restored > 0 {
		log.Printf("restored %d jobs from snapshots", restored)
	}

	// ---- Monitors ----
	monitor := sched.NewMonitor(cfg.Monitor, store, jobUC, policy, logger)
	go func() { _ = monitor.Run(ctx) }()

	// ---- HTTP ----
	auth := web.NewAuthManager(cfg.Server.JWTSecret, !cfg.Runtime.Dev, "", cfg.Server.SessionTTL)
	srv := web.NewServer(jobUC, cfg.Server.APIKey, auth, logger)
	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: srv.Routes()}
	go func() {
		log.Printf("http listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	log.Println("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := jobUC.Close(shutdownCtx); err != nil {
		log.Printf("snapshot flush: %v", err)
	}
	cancel()
}
