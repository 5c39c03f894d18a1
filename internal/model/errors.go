package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by store lookups that find nothing.
var ErrNotFound = fmt.Errorf("resource not found")

// ValidationError represents a violation of a recipe invariant (§7, kind 1).
// It is never retried — the caller logs and skips the item.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Reason)
}

// TransientError wraps a retriable I/O failure against the store, search
// index, bus, or model provider (§7, kind 2).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Temporary marks this error retriable to callers that check for it via
// model.Temporary. The workflow retry policy does not consult it.
func (e *TransientError) Temporary() bool { return true }

// RateLimitedError wraps a 429/quota response from an external service
// (§7, kind 3). Treated as transient but callers may apply a longer backoff.
type RateLimitedError struct {
	Op         string
	RetryAfter string
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited during %s: %v", e.Op, e.Err)
}

func (e *RateLimitedError) Unwrap() error   { return e.Err }
func (e *RateLimitedError) Temporary() bool { return true }

// SchemaError represents a model-assisted parse whose output didn't match
// the lenient schema even after a re-prompt (§7, kind 5).
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("model output schema failure: %s", e.Reason)
}

// ConfigError represents a fatal configuration or startup problem (§7,
// kind 6). The process that observes one should report it and exit
// non-zero rather than retry.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// ServiceUnavailableError marks a dependency (store, search, bus, workflow
// engine) that couldn't be reached at all, as opposed to a single call
// that timed out mid-operation. The CLI maps this to exit code 3.
type ServiceUnavailableError struct {
	Service string
	Err     error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("%s is unavailable: %v", e.Service, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

// temporary is implemented by TransientError and RateLimitedError.
type temporary interface{ Temporary() bool }

// Temporary reports whether err (or anything it wraps) is classified as
// retriable.
func Temporary(err error) bool {
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}
