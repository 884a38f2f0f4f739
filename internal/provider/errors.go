package provider

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"automatosx/internal/errs"
)

// Classify maps a provider failure to a structured error code by inspecting
// the combined output. CLI providers don't return typed errors, so keyword
// matching is the only signal available.
func Classify(name string, err error, output string) *errs.Error {
	msg := strings.ToLower(output)
	if msg == "" && err != nil {
		msg = strings.ToLower(err.Error())
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errs.Wrap(errs.CodeProviderTimeout, "provider "+name+" timed out", err).
			WithContext("provider", name)
	case containsAny(msg, "rate limit", "too many requests", "429", "quota exceeded"):
		return errs.Wrap(errs.CodeProviderRateLimit, "provider "+name+" rate limited", err).
			WithContext("provider", name).
			WithSuggestions("wait a moment and retry", "switch to a fallback provider")
	case containsAny(msg, "unauthorized", "not authenticated", "authentication",
		"api key", "401", "403", "login required", "permission denied"):
		return errs.Wrap(errs.CodeProviderAuth, "provider "+name+" authentication failed", err).
			WithContext("provider", name).
			WithSuggestions("re-authenticate the " + name + " CLI")
	case containsAny(msg, "unavailable", "connection refused", "network", "503", "502",
		"overloaded", "internal server", "econnreset", "econnrefused", "etimedout", "enotfound"):
		return errs.Wrap(errs.CodeProviderUnavailable, "provider "+name+" unavailable", err).
			WithContext("provider", name)
	case containsAny(msg, "not found", "no such file"):
		return errs.Wrap(errs.CodeProviderNotFound, "provider "+name+" not found", err).
			WithContext("provider", name).
			WithSuggestions("install the " + name + " CLI and make sure it is on PATH")
	default:
		return errs.Wrap(errs.CodeProviderExec, "provider "+name+" execution failed", err).
			WithContext("provider", name)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ShouldRetry reports whether the error is transient enough that retrying
// the same provider makes sense. Rate limits retry with backoff; auth and
// missing-CLI failures never do.
func ShouldRetry(err error) bool {
	switch errs.CodeOf(err) {
	case errs.CodeProviderTimeout, errs.CodeProviderUnavailable, errs.CodeProviderRateLimit:
		return true
	case errs.CodeProviderExec:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the failure must abort routing entirely.
// Authentication and missing-CLI errors surface to the user; the router
// never retries or falls back past them.
func IsFatal(err error) bool {
	switch errs.CodeOf(err) {
	case errs.CodeProviderAuth, errs.CodeProviderNotFound:
		return true
	default:
		return false
	}
}

// RetryDelay returns the backoff before retry attempt n (1-based):
// base * 2^(n-1) with up to 25% jitter, capped at 30s.
func RetryDelay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}
