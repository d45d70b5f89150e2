package relay

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/matteso1/synapse/pkg/logger"
	"github.com/matteso1/synapse/pkg/metrics"
)

// Sweeper periodically publishes registry statistics to the metrics gauges
// and the log. It performs no eviction of its own — room lifecycle stays
// with the registry's deferred grace-window checks.
type Sweeper struct {
	registry *Registry
	cron     *cron.Cron
	log      *zap.Logger
}

// NewSweeper builds a sweeper over the registry.
func NewSweeper(registry *Registry) *Sweeper {
	return &Sweeper{
		registry: registry,
		cron:     cron.New(),
		log:      logger.WithModule("maintenance"),
	}
}

// Start schedules the sweep. schedule accepts cron expressions including the
// @every form.
func (s *Sweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return fmt.Errorf("maintenance: schedule sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce() {
	stats := s.registry.Stats()
	metrics.OpenRooms.Set(float64(stats.Rooms))
	metrics.OpenConnections.Set(float64(stats.Connections))
	s.log.Info("registry sweep",
		zap.Int("rooms", stats.Rooms),
		zap.Int("connections", stats.Connections),
	)
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
