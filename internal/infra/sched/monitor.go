package sched

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"docqueue/internal/config"
	"docqueue/internal/domain/ports/repository"
	"docqueue/internal/retry"
)

// JobMaintainer bundles the use case surfaces the background loops need.
type JobMaintainer interface {
	Reapable
	LeaseSweeper
	MetricsRefresher
}

// Monitor owns the three maintenance loops and stops them as a group
// when the context is cancelled.
type Monitor struct {
	reaper   *ExpiryReaper
	watchdog *StoreWatchdog
	sampler  *MetricsSampler
	log      *zerolog.Logger
}

func NewMonitor(cfg config.MonitorConfig, store repository.Store, jobs JobMaintainer, policy retry.Policy, logger *zerolog.Logger) *Monitor {
	monLog := logger.With().Str("component", "Monitor").Logger()
	return &Monitor{
		reaper:   NewExpiryReaper(cfg.ReapInterval, cfg.Retention, jobs, logger),
		watchdog: NewStoreWatchdog(cfg.WatchdogInterval, store, jobs, policy, logger),
		sampler:  NewMetricsSampler(cfg.SampleInterval, jobs, logger),
		log:      &monLog,
	}
}

func (m *Monitor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.reaper.Run(gctx) })
	g.Go(func() error { return m.watchdog.Run(gctx) })
	g.Go(func() error { return m.sampler.Run(gctx) })

	err := g.Wait()
	if err != nil && err != context.Canceled {
		m.log.Error().Err(err).Msg("maintenance loop exited")
		return err
	}
	return nil
}
