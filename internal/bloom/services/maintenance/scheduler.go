// Package maintenance runs the periodic control loop that keeps registered
// filters healthy: invalid entries are rebuilt immediately, and entries
// whose observed insert count has drifted past their design target are
// rebuilt with a larger expected count.
package maintenance

import (
	"context"
	"time"

	"github.com/octobloom/octobloom/internal/bloom/common/log"
	"github.com/octobloom/octobloom/internal/bloom/domain"
	"github.com/octobloom/octobloom/internal/bloom/registry"
)

const (
	// DefaultDriftRatio triggers a resize once observed inserts exceed the
	// expected count by half again.
	DefaultDriftRatio = 1.5

	// DefaultGrowthFactor doubles the expected count on a drift rebuild.
	DefaultGrowthFactor = 2
)

// Rebuilder resizes or revives one filter from the system of record. The
// membership service implements it.
type Rebuilder interface {
	RebuildWithParams(key domain.Key, expectedCount uint64, fpRate float64) error
}

type Scheduler struct {
	registry  *registry.Registry
	rebuilder Rebuilder
	interval  time.Duration
	drift     float64
	growth    uint64
	logger    log.Logger
}

type Options struct {
	Registry  *registry.Registry
	Rebuilder Rebuilder
	Interval  time.Duration
	Drift     float64 // <= 0 selects DefaultDriftRatio
	Growth    uint64  // 0 selects DefaultGrowthFactor
	Logger    log.Logger
}

func New(opts Options) *Scheduler {
	if opts.Drift <= 0 {
		opts.Drift = DefaultDriftRatio
	}
	if opts.Growth == 0 {
		opts.Growth = DefaultGrowthFactor
	}
	if opts.Logger == nil {
		opts.Logger = log.NoopLogger{}
	}
	return &Scheduler{
		registry:  opts.Registry,
		rebuilder: opts.Rebuilder,
		interval:  opts.Interval,
		drift:     opts.Drift,
		growth:    opts.Growth,
		logger:    opts.Logger,
	}
}

// Run scans on every tick until ctx is cancelled. Scan failures are logged
// and retried on the next cycle; they never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info(map[string]any{"interval": s.interval.String()}, "maintenance loop started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(nil, "maintenance loop stopped")
			return
		case <-ticker.C:
			s.Scan()
		}
	}
}

// Scan walks every registry entry once and issues any rebuilds the
// predicates call for. Exported so manual triggers and tests can run a
// cycle without the ticker.
func (s *Scheduler) Scan() {
	s.registry.Range(func(e *registry.Entry) bool {
		st := e.Status()
		switch {
		case !st.Valid:
			s.rebuildEntry(st.Key, st.ExpectedCount, st.FalsePositiveRate, "invalid")
		case float64(st.ObservedCount) > float64(st.ExpectedCount)*s.drift:
			s.rebuildEntry(st.Key, st.ExpectedCount*s.growth, st.FalsePositiveRate, "drift")
		}
		return true
	})
}

func (s *Scheduler) rebuildEntry(key domain.Key, expectedCount uint64, fpRate float64, why string) {
	if err := s.rebuilder.RebuildWithParams(key, expectedCount, fpRate); err != nil {
		s.logger.Warn(map[string]any{
			"key":   key.String(),
			"why":   why,
			"error": err.Error(),
		}, "maintenance rebuild failed, will retry next cycle")
		return
	}
	s.logger.Info(map[string]any{
		"key":      key.String(),
		"why":      why,
		"expected": expectedCount,
	}, "maintenance rebuild complete")
}
