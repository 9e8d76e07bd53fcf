package ratelimit

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/invoicely/gatekeeper/pkg/observability"
)

// DefaultSweepSchedule runs the sweep every five minutes
const DefaultSweepSchedule = "@every 5m"

// Sweeper periodically removes expired counters to bound memory.
// Correctness never depends on it: expired counters are reset lazily by Take.
type Sweeper struct {
	store   CounterStore
	clock   clockwork.Clock
	logger  *observability.Logger
	metrics *observability.Metrics
	cron    *cron.Cron
}

// NewSweeper schedules store sweeps on a cron spec such as "@every 5m"
func NewSweeper(store CounterStore, schedule string, logger *observability.Logger, opts ...Option) (*Sweeper, error) {
	o := buildOptions(opts)
	s := &Sweeper{
		store:   store,
		clock:   o.clock,
		logger:  logger,
		metrics: o.metrics,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}

	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule in the background
func (s *Sweeper) Start() {
	s.logger.Info("Starting counter sweeper")
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce sweeps immediately and returns the number of removed counters
func (s *Sweeper) RunOnce(ctx context.Context) int {
	removed, err := s.store.Sweep(ctx, s.clock.Now())
	if err != nil {
		s.logger.WithError(err).Error("Counter sweep failed")
		if s.metrics != nil {
			s.metrics.CounterSweepsTotal.WithLabelValues("error").Inc()
		}
		return removed
	}

	if s.metrics != nil {
		s.metrics.CounterSweepsTotal.WithLabelValues("ok").Inc()
		s.metrics.CountersSweptTotal.Add(float64(removed))
	}
	if removed > 0 {
		s.logger.WithField("removed", removed).Debug("Swept expired counters")
	}
	return removed
}
