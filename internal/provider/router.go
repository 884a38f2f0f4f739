package provider

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"automatosx/internal/errs"
)

// routerEntry binds a provider to its retry policy.
type routerEntry struct {
	provider   Provider
	maxRetries int
	baseDelay  time.Duration
}

// Router selects a provider by priority and availability, retries transient
// failures, and falls back to the next provider when one fails outright.
type Router struct {
	entries         []routerEntry
	fallbackEnabled bool
	availabilityTTL time.Duration
	logger          zerolog.Logger

	mu    sync.RWMutex
	cache map[string]Availability

	start time.Time

	probes       atomic.Int64
	cacheHits    atomic.Int64
	cacheMiss    atomic.Int64
	execCount    atomic.Int64
	execFailures atomic.Int64
	execDuration atomic.Int64
}

// Metrics is a snapshot of router counters.
type Metrics struct {
	Probes          int64   `json:"probes"`
	CacheHits       int64   `json:"cache_hits"`
	CacheMisses     int64   `json:"cache_misses"`
	Executions      int64   `json:"executions"`
	Failures        int64   `json:"failures"`
	SuccessRate     float64 `json:"success_rate"`
	AvgDurationMs   int64   `json:"avg_duration_ms"`
	CacheAgeSeconds float64 `json:"cache_age_seconds"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// Metrics returns the current counters.
func (r *Router) Metrics() Metrics {
	m := Metrics{
		Probes:        r.probes.Load(),
		CacheHits:     r.cacheHits.Load(),
		CacheMisses:   r.cacheMiss.Load(),
		Executions:    r.execCount.Load(),
		Failures:      r.execFailures.Load(),
		UptimeSeconds: time.Since(r.start).Seconds(),
	}
	if m.Executions > 0 {
		m.SuccessRate = float64(m.Executions-m.Failures) / float64(m.Executions)
		m.AvgDurationMs = r.execDuration.Load() / m.Executions / int64(time.Millisecond)
	}

	r.mu.RLock()
	var newest time.Time
	for _, a := range r.cache {
		if a.CheckedAt.After(newest) {
			newest = a.CheckedAt
		}
	}
	r.mu.RUnlock()
	if !newest.IsZero() {
		m.CacheAgeSeconds = time.Since(newest).Seconds()
	}
	return m
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithFallback enables or disables falling back to lower-priority providers.
func WithFallback(enabled bool) RouterOption {
	return func(r *Router) { r.fallbackEnabled = enabled }
}

// WithAvailabilityTTL sets how long a probe result is trusted.
func WithAvailabilityTTL(ttl time.Duration) RouterOption {
	return func(r *Router) { r.availabilityTTL = ttl }
}

// NewRouter creates a router over the given providers, sorted by priority.
func NewRouter(logger zerolog.Logger, opts ...RouterOption) *Router {
	r := &Router{
		fallbackEnabled: true,
		availabilityTTL: 60 * time.Second,
		logger:          logger,
		cache:           make(map[string]Availability),
		start:           time.Now(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers a provider with its retry policy. Providers are kept sorted
// by ascending priority.
func (r *Router) Add(p Provider, maxRetries int, baseDelay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, routerEntry{provider: p, maxRetries: maxRetries, baseDelay: baseDelay})
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].provider.Priority() < r.entries[j].provider.Priority()
	})
}

// Providers returns the registered providers in priority order.
func (r *Router) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.provider)
	}
	return out
}

// Get returns a registered provider by name.
func (r *Router) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.provider.Name() == name {
			return e.provider, true
		}
	}
	return nil, false
}

// Availability returns the cached probe result for a provider, probing on
// miss or expiry.
func (r *Router) Availability(ctx context.Context, p Provider) Availability {
	r.mu.RLock()
	cached, ok := r.cache[p.Name()]
	r.mu.RUnlock()

	if ok && time.Since(cached.CheckedAt) < r.availabilityTTL {
		r.cacheHits.Add(1)
		return cached
	}
	r.cacheMiss.Add(1)

	r.probes.Add(1)
	avail := p.CheckAvailability(ctx)
	r.mu.Lock()
	r.cache[p.Name()] = avail
	r.mu.Unlock()
	return avail
}

// ProbeAll refreshes availability for every provider in parallel and
// returns the results keyed by provider name.
func (r *Router) ProbeAll(ctx context.Context) map[string]Availability {
	providers := r.Providers()

	results := make([]Availability, len(providers))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			r.probes.Add(1)
			results[i] = p.CheckAvailability(ctx)
			return nil
		})
	}
	g.Wait()

	out := make(map[string]Availability, len(providers))
	r.mu.Lock()
	for i, p := range providers {
		r.cache[p.Name()] = results[i]
		out[p.Name()] = results[i]
	}
	r.mu.Unlock()
	return out
}

// Invalidate drops a provider's cached availability so the next request
// re-probes it.
func (r *Router) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, name)
}

// Execute routes a request. With a preferred provider set, that provider is
// tried first; otherwise providers are tried in priority order. Transient
// failures retry with backoff; hard failures fall through to the next
// provider when fallback is enabled. Fatal failures abort the route.
func (r *Router) Execute(ctx context.Context, preferred string, req ExecutionRequest) (*ExecutionResponse, error) {
	start := time.Now()
	resp, err := r.route(ctx, preferred, req)

	r.execCount.Add(1)
	r.execDuration.Add(int64(time.Since(start)))
	if err != nil {
		r.execFailures.Add(1)
	}
	return resp, err
}

func (r *Router) route(ctx context.Context, preferred string, req ExecutionRequest) (*ExecutionResponse, error) {
	entries := r.ordered(preferred)
	if len(entries) == 0 {
		return nil, errs.New(errs.CodeNoAvailableProviders, "no providers configured").
			WithSuggestions("add providers to the configuration file")
	}

	var lastErr error
	for i, e := range entries {
		if i > 0 && !r.fallbackEnabled {
			break
		}

		avail := r.Availability(ctx, e.provider)
		if !avail.Available {
			r.logger.Debug().Str("provider", e.provider.Name()).Str("reason", avail.Error).
				Msg("skipping unavailable provider")
			lastErr = errs.New(errs.CodeProviderUnavailable, "provider "+e.provider.Name()+" unavailable").
				WithContext("reason", avail.Error)
			continue
		}

		resp, err := r.executeWithRetry(ctx, e, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if IsFatal(err) || ctx.Err() != nil {
			return nil, err
		}

		// A failed execution invalidates the cached probe; the provider
		// may have gone down since the last check.
		r.Invalidate(e.provider.Name())
		r.logger.Warn().Err(err).Str("provider", e.provider.Name()).Msg("provider failed, trying next")
	}

	return nil, errs.Wrap(errs.CodeNoAvailableProviders, "all providers failed", lastErr).
		WithSuggestions("check provider CLIs are installed and authenticated", "run the status command")
}

// executeWithRetry runs one provider with its retry policy. Fatal errors
// skip retries and bubble straight up.
func (r *Router) executeWithRetry(ctx context.Context, e routerEntry, req ExecutionRequest) (*ExecutionResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			delay := RetryDelay(attempt, e.baseDelay)
			r.logger.Debug().Str("provider", e.provider.Name()).Int("attempt", attempt).
				Dur("delay", delay).Msg("retrying provider")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := e.provider.Execute(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !ShouldRetry(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// ordered returns entries in routing order. The preferred provider, when
// registered, moves to the front.
func (r *Router) ordered(preferred string) []routerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]routerEntry, 0, len(r.entries))
	if preferred != "" {
		for _, e := range r.entries {
			if e.provider.Name() == preferred {
				out = append(out, e)
				break
			}
		}
	}
	for _, e := range r.entries {
		if e.provider.Name() != preferred {
			out = append(out, e)
		}
	}
	return out
}
