package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome classifies the result of one provider attempt within a chain
// execution.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeAuthFailed  Outcome = "auth_failed"
	OutcomeError       Outcome = "error"
)

// Attempt records one provider try during a chain execution. Attempts
// are kept for observability and diagnostics; they are not returned to
// end users.
type Attempt struct {
	Provider string        `json:"provider"`
	Outcome  Outcome       `json:"outcome"`
	Latency  time.Duration `json:"latency"`
	Err      error         `json:"-"`
}

// RateLimitedError means the provider has no key with remaining budget.
// Recoverable by trying the next provider, or the same provider on a
// later call once a window resets.
type RateLimitedError struct {
	Provider string
	Key      string
}

func (e *RateLimitedError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("provider %s: key %s rate limited", e.Provider, e.Key)
	}
	return fmt.Sprintf("provider %s: rate limited, no key available", e.Provider)
}

// AuthFailedError means the upstream rejected the provider's
// credentials or the session is no longer valid. Only operator
// intervention recovers this; the chain skips the provider.
type AuthFailedError struct {
	Provider string
	Detail   string
}

func (e *AuthFailedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("provider %s: authentication failed: %s", e.Provider, e.Detail)
	}
	return fmt.Sprintf("provider %s: authentication failed", e.Provider)
}

// UpstreamError covers timeouts, transport failures, non-2xx responses
// and malformed payloads. Recoverable by trying the next provider.
type UpstreamError struct {
	Provider string
	Op       string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// SchemaMismatchError is raised by the normalizer when a required field
// is absent from a provider payload. The chain treats it exactly like
// an UpstreamError so the next provider gets a turn.
type SchemaMismatchError struct {
	Provider string
	DataType DataType
	Field    string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("provider %s: %s payload missing required field %q", e.Provider, e.DataType, e.Field)
}

// MissingParamError is returned when a required query parameter is
// absent. This is a caller error, not a provider failure.
type MissingParamError struct {
	Param string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Param)
}

// ExhaustedError is the terminal chain failure: every provider in the
// chain failed. It carries one attempt record per provider tried.
type ExhaustedError struct {
	DataType DataType
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s %s", a.Provider, strings.ReplaceAll(string(a.Outcome), "_", "-")))
	}
	return fmt.Sprintf("%s: all providers exhausted: %s", e.DataType, strings.Join(parts, ", "))
}

// OutcomeOf maps a fetch error to its attempt outcome.
func OutcomeOf(err error) Outcome {
	var rl *RateLimitedError
	var af *AuthFailedError
	switch {
	case errors.As(err, &rl):
		return OutcomeRateLimited
	case errors.As(err, &af):
		return OutcomeAuthFailed
	default:
		return OutcomeError
	}
}
