package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"docqueue/internal/domain/model"
)

// MetricsRefresher is the slice of the job use case the sampler drives.
type MetricsRefresher interface {
	RefreshMetrics(ctx context.Context) model.MetricsSnapshot
}

// MetricsSampler refreshes the queue gauges on a fixed cadence so the
// metrics endpoint and the health report stay current between requests.
type MetricsSampler struct {
	interval time.Duration
	jobs     MetricsRefresher
	log      *zerolog.Logger
}

func NewMetricsSampler(interval time.Duration, jobs MetricsRefresher, logger *zerolog.Logger) *MetricsSampler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	smpLog := logger.With().Str("component", "MetricsSampler").Logger()
	return &MetricsSampler{
		interval: interval,
		jobs:     jobs,
		log:      &smpLog,
	}
}

func (w *MetricsSampler) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting metrics sampler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping metrics sampler")
			return ctx.Err()
		case <-ticker.C:
			snap := w.jobs.RefreshMetrics(ctx)
			w.log.Debug().
				Int64("queue_depth", snap.QueueDepth).
				Int("active_assignments", snap.ActiveAssignments).
				Float64("utilization", snap.WorkerUtilization).
				Msg("queue metrics sampled")
		}
	}
}
