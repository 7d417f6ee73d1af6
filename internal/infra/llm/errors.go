package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ProviderError wraps a failed backend call with enough context to decide
// whether retrying makes sense. Transient errors (429, 5xx, network faults)
// are retried per policy; everything else (auth, validation) propagates
// immediately.
type ProviderError struct {
	Provider   string // "azure" | "aws" | "gcp" | "local"
	Op         string // "chat" | "chat_stream" | "embed"
	StatusCode int    // 0 for network-level failures
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a ProviderError marked retryable.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// transientStatus classifies an HTTP status: rate limiting and server-side
// bursts are retryable, client errors are not.
func transientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// networkErr wraps a transport-level failure (connection refused, timeout).
// These are always classified transient.
func networkErr(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Transient: true, Err: err}
}

// statusErr wraps a non-2xx response.
func statusErr(provider, op string, status int, body string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Op:         op,
		StatusCode: status,
		Transient:  transientStatus(status),
		Err:        fmt.Errorf("%s", body),
	}
}

// permanentErr wraps a non-retryable local failure (marshalling, bad config).
func permanentErr(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}
