package server

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"netsel/metrics"
	"netsel/registry"
)

// Sweeper periodically evicts services whose heartbeat lapsed. Each tick
// performs exactly one cleanup pass under the registry's write lock; ticks
// never overlap because the pass runs synchronously inside the loop.
type Sweeper struct {
	registry *registry.Registry
	interval time.Duration
	maxAge   time.Duration
	clock    clock.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// NewSweeper creates a sweeper evicting records older than maxAge every
// interval. Pass clock.New() in production; tests inject a mock.
func NewSweeper(reg *registry.Registry, interval, maxAge time.Duration, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *Sweeper {
	if clk == nil {
		clk = clock.New()
	}
	return &Sweeper{
		registry: reg,
		interval: interval,
		maxAge:   maxAge,
		clock:    clk,
		log:      log,
		metrics:  m,
	}
}

// Run ticks until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	expired := s.registry.CleanupOffline(s.maxAge)
	if len(expired) == 0 {
		return
	}
	s.metrics.Evictions.Add(float64(len(expired)))
	s.metrics.Services.Set(float64(s.registry.Len()))
	s.log.Info("evicted expired services",
		zap.Strings("services", expired),
		zap.Duration("max_age", s.maxAge))
}
