package provider

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Monitor periodically refreshes the router's availability cache so request
// routing never has to probe on the hot path.
type Monitor struct {
	router   *Router
	interval time.Duration
	logger   zerolog.Logger
}

// NewMonitor creates a background health monitor.
func NewMonitor(router *Router, interval time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{router: router, interval: interval, logger: logger}
}

// Run probes all providers immediately and then on every tick until the
// context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	results := m.router.ProbeAll(ctx)
	for name, avail := range results {
		ev := m.logger.Debug().Str("provider", name).Bool("available", avail.Available)
		if avail.Version != "" {
			ev = ev.Str("version", avail.Version)
		}
		if avail.Error != "" {
			ev = ev.Str("error", avail.Error)
		}
		ev.Msg("provider health")
	}
}
