package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/stupiduntilnot/relaybot/internal/model"
)

// ErrValidation marks input the bot refuses before doing any work.
var ErrValidation = errors.New("validation")

// ValidationError carries the hint shown to the user. It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	Hint string
}

func (e *ValidationError) Error() string         { return "validation: " + e.Hint }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Hint: fmt.Sprintf(format, args...)}
}

// RateLimitedError is returned when a user exceeds the request window.
type RateLimitedError struct {
	Remaining int
	ResetIn   time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %d remaining, resets in %s", e.Remaining, e.ResetIn)
}

// ProviderUnavailableError is returned while a provider's circuit is open.
type ProviderUnavailableError struct {
	Provider model.ProviderID
	RetryAt  time.Time
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable until %s", e.Provider, e.RetryAt.Format(time.RFC3339))
}

// DeliveryFailure reports the fragment at which delivery stopped. Earlier
// fragments were delivered.
type DeliveryFailure struct {
	// Part is the fragment label, e.g. "2/3" or "2.1/3".
	Part  string
	Index int
	Total int
	Err   error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery of part %s failed: %v", e.Part, e.Err)
}

func (e *DeliveryFailure) Unwrap() error { return e.Err }
