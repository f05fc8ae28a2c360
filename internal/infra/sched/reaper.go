package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reapable is the slice of the job use case the reaper drives.
type Reapable interface {
	ReapExpired(ctx context.Context, olderThan time.Duration) (int, error)
}

// ExpiryReaper periodically archives and evicts jobs that settled longer
// than the retention window ago.
type ExpiryReaper struct {
	interval  time.Duration
	retention time.Duration
	jobs      Reapable
	log       *zerolog.Logger
}

func NewExpiryReaper(interval, retention time.Duration, jobs Reapable, logger *zerolog.Logger) *ExpiryReaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if retention <= 0 {
		retention = time.Hour
	}
	reapLog := logger.With().Str("component", "ExpiryReaper").Logger()
	return &ExpiryReaper{
		interval:  interval,
		retention: retention,
		jobs:      jobs,
		log:       &reapLog,
	}
}

func (w *ExpiryReaper) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting expiry reaper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry reaper")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.jobs.ReapExpired(ctx, w.retention)
			if err != nil {
				w.log.Error().Err(err).Msg("reap cycle failed")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("settled jobs evicted")
			}
		}
	}
}
