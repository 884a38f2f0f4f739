// Package provider defines the provider interface, the CLI subprocess
// provider, and the priority router with availability-based fallback.
package provider

import "context"

// Provider is a backend capable of executing a prompt. Implementations
// must be safe for concurrent use.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Priority returns the routing priority; lower values are tried first.
	Priority() int

	// Execute runs a single request to completion.
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error)

	// CheckAvailability probes whether the provider can serve requests.
	CheckAvailability(ctx context.Context) Availability
}
