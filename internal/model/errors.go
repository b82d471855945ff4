package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindUnauthorized   ErrorKind = "unauthorized"
	KindRateLimited    ErrorKind = "rate_limited"
	KindBadRequest     ErrorKind = "bad_request"
	KindServerError    ErrorKind = "server_error"
	KindNetworkFailure ErrorKind = "network_failure"
)

// ProviderError is a typed gateway failure.
type ProviderError struct {
	Provider   ProviderID
	Kind       ErrorKind
	Status     int
	Detail     string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && e.Detail == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// KindForStatus maps an HTTP status to an error kind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusPaymentRequired:
		return KindUnauthorized
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout:
		return KindNetworkFailure
	case status >= 400 && status < 500:
		return KindBadRequest
	case status >= 500:
		return KindServerError
	default:
		return KindNetworkFailure
	}
}

// StatusError builds a ProviderError from an HTTP status.
func StatusError(provider ProviderID, status int, detail string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     KindForStatus(status),
		Status:   status,
		Detail:   truncate(detail, 400),
		Err:      err,
	}
}

// NetworkError wraps a transport-level failure, including timeouts.
func NetworkError(provider ProviderID, err error) *ProviderError {
	detail := ""
	if errors.Is(err, context.DeadlineExceeded) {
		detail = "request timed out"
	}
	return &ProviderError{Provider: provider, Kind: KindNetworkFailure, Detail: detail, Err: err}
}

// KindOf returns the kind of a ProviderError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRetryable reports whether a failed call may succeed if repeated.
// Cancellation by the caller is never retryable.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindServerError, KindNetworkFailure, KindRateLimited:
		return true
	}
	return false
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
