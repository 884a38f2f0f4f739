package provider

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automatosx/internal/config"
	"automatosx/internal/errs"
)

// writeScript creates an executable shell script for driving the CLI
// provider in tests.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not available on windows")
	}
	path := filepath.Join(t.TempDir(), "fakecli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func newCLI(t *testing.T, cfg config.ProviderConfig) *CLIProvider {
	t.Helper()
	return NewCLIProvider(cfg, zerolog.Nop())
}

func TestCLIProviderExecute(t *testing.T) {
	script := writeScript(t, `cat; echo`)
	p := newCLI(t, config.ProviderConfig{Name: "fake", Command: script})

	resp, err := p.Execute(context.Background(), ExecutionRequest{
		Prompt:       "do the thing",
		SystemPrompt: "you are helpful",
	})
	require.NoError(t, err)
	assert.Equal(t, "you are helpful\n\ndo the thing", resp.Content)
	assert.Equal(t, "fake", resp.Provider)
}

func TestCLIProviderEmptyOutput(t *testing.T) {
	script := writeScript(t, `exit 0`)
	p := newCLI(t, config.ProviderConfig{Name: "fake", Command: script})

	_, err := p.Execute(context.Background(), ExecutionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, errs.CodeProviderExec, errs.CodeOf(err))
}

func TestCLIProviderClassifiesStderr(t *testing.T) {
	script := writeScript(t, `echo "rate limit exceeded" >&2; exit 1`)
	p := newCLI(t, config.ProviderConfig{Name: "fake", Command: script})

	_, err := p.Execute(context.Background(), ExecutionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, errs.CodeProviderRateLimit, errs.CodeOf(err))
}

func TestCLIProviderTimeout(t *testing.T) {
	script := writeScript(t, `sleep 10`)
	p := newCLI(t, config.ProviderConfig{Name: "fake", Command: script, Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := p.Execute(context.Background(), ExecutionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, errs.CodeProviderTimeout, errs.CodeOf(err))
	assert.Less(t, time.Since(start), 8*time.Second)
}

func TestCLIProviderAvailability(t *testing.T) {
	script := writeScript(t, `echo "fakecli version 2.1.0"`)
	p := newCLI(t, config.ProviderConfig{Name: "fake", Command: script})

	avail := p.CheckAvailability(context.Background())
	assert.True(t, avail.Available)
	assert.Equal(t, "2.1.0", avail.Version)
}

func TestCLIProviderMinVersion(t *testing.T) {
	script := writeScript(t, `echo "fakecli version 1.0.0"`)
	p := newCLI(t, config.ProviderConfig{Name: "fake", Command: script, MinVersion: "2.0.0"})

	avail := p.CheckAvailability(context.Background())
	assert.False(t, avail.Available)
	assert.Contains(t, avail.Error, "below minimum")
}

func TestCLIProviderMissingBinary(t *testing.T) {
	p := newCLI(t, config.ProviderConfig{Name: "fake", Command: "/nonexistent/cli"})

	avail := p.CheckAvailability(context.Background())
	assert.False(t, avail.Available)
	assert.NotEmpty(t, avail.Error)
}

func TestNewRouterFromConfigMocks(t *testing.T) {
	cfg := &config.Config{
		MockProviders: true,
		Providers: []config.ProviderConfig{
			{Name: "claude", Priority: 1},
			{Name: "gemini", Priority: 2},
		},
	}
	r := NewRouterFromConfig(cfg, zerolog.Nop())

	resp, err := r.Execute(context.Background(), "", ExecutionRequest{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "claude", resp.Provider)
	assert.Contains(t, resp.Content, "hello")
}
