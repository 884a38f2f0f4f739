package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockProvider is an in-process provider for tests and offline runs. It is
// enabled by the AUTOMATOSX_MOCK_PROVIDERS toggle and echoes a canned
// response derived from the prompt.
type MockProvider struct {
	name     string
	priority int

	mu        sync.Mutex
	calls     []ExecutionRequest
	respond   func(req ExecutionRequest) (*ExecutionResponse, error)
	available bool
	delay     time.Duration
}

// NewMockProvider creates an always-available mock provider.
func NewMockProvider(name string, priority int) *MockProvider {
	return &MockProvider{name: name, priority: priority, available: true}
}

func (m *MockProvider) Name() string  { return m.name }
func (m *MockProvider) Priority() int { return m.priority }

// SetResponder overrides the canned response.
func (m *MockProvider) SetResponder(fn func(req ExecutionRequest) (*ExecutionResponse, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respond = fn
}

// SetAvailable toggles the availability probe result.
func (m *MockProvider) SetAvailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = v
}

// SetDelay makes Execute sleep before responding.
func (m *MockProvider) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns a copy of all requests seen so far.
func (m *MockProvider) Calls() []ExecutionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExecutionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockProvider) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	respond := m.respond
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if respond != nil {
		return respond(req)
	}

	return &ExecutionResponse{
		Content:  fmt.Sprintf("[mock:%s] %s", m.name, req.Prompt),
		Provider: m.name,
		Model:    req.Model,
	}, nil
}

func (m *MockProvider) CheckAvailability(ctx context.Context) Availability {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Availability{Available: m.available, Version: "0.0.0-mock", CheckedAt: time.Now()}
}
