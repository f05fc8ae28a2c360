package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"docqueue/internal/domain/ports/repository"
	"docqueue/internal/infra/metrics"
	"docqueue/internal/retry"
)

// LeaseSweeper is the slice of the job use case the watchdog drives.
type LeaseSweeper interface {
	SweepExpiredLeases(ctx context.Context) (int, error)
	FlushDirty(ctx context.Context) int
	SetStoreConnected(connected bool)
}

// StoreWatchdog keeps the store connection honest and runs the periodic
// lease sweep. When a ping fails it reconnects before anything else; a
// cycle without a healthy store is skipped entirely, the deferred
// snapshots catch up on the next one.
type StoreWatchdog struct {
	interval time.Duration
	store    repository.Store
	jobs     LeaseSweeper
	policy   retry.Policy
	log      *zerolog.Logger
}

func NewStoreWatchdog(interval time.Duration, store repository.Store, jobs LeaseSweeper, policy retry.Policy, logger *zerolog.Logger) *StoreWatchdog {
	if interval <= 0 {
		interval = time.Minute
	}
	wdLog := logger.With().Str("component", "StoreWatchdog").Logger()
	return &StoreWatchdog{
		interval: interval,
		store:    store,
		jobs:     jobs,
		policy:   policy,
		log:      &wdLog,
	}
}

func (w *StoreWatchdog) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting store watchdog")
	// Run once on startup, then on every tick
	w.tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping store watchdog")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *StoreWatchdog) tick(ctx context.Context) {
	if err := w.store.Ping(ctx); err != nil {
		w.jobs.SetStoreConnected(false)
		w.log.Warn().Err(err).Msg("store ping failed, attempting reconnect")
		rc, ok := w.store.(repository.Reconnector)
		if !ok {
			return
		}
		if err := retry.Do(ctx, w.policy, func() error { return rc.Reconnect(ctx) }); err != nil {
			w.log.Error().Err(err).Msg("store reconnect failed")
			return
		}
		metrics.IncStoreReconnect()
		w.log.Info().Msg("store connection restored")
	}
	w.jobs.SetStoreConnected(true)

	if n, err := w.jobs.SweepExpiredLeases(ctx); err != nil {
		w.log.Error().Err(err).Msg("lease sweep failed")
	} else if n > 0 {
		w.log.Warn().Int("count", n).Msg("running jobs timed out")
	}
	if n := w.jobs.FlushDirty(ctx); n > 0 {
		w.log.Info().Int("count", n).Msg("deferred snapshots flushed")
	}
}
