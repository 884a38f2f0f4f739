package provider

import (
	"github.com/rs/zerolog"

	"automatosx/internal/config"
)

// NewRouterFromConfig builds a router from the configured provider list.
// With cfg.MockProviders set, every configured provider is replaced by an
// in-process mock so runs never touch external CLIs.
func NewRouterFromConfig(cfg *config.Config, logger zerolog.Logger) *Router {
	r := NewRouter(logger,
		WithFallback(cfg.Router.FallbackEnabled),
		WithAvailabilityTTL(cfg.Router.GetAvailabilityTTL()),
	)

	for _, pc := range cfg.Providers {
		var p Provider
		if cfg.MockProviders {
			p = NewMockProvider(pc.Name, pc.Priority)
		} else {
			p = NewCLIProvider(pc, logger)
		}
		r.Add(p, pc.GetMaxRetries(), pc.GetRetryBaseDelay())
	}

	return r
}
