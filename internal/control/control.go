package control

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds provider calls made for one message.
type Policy struct {
	ProviderTimeout time.Duration
	MaxRetries      int
	MaxWallTime     time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		ProviderTimeout: 60 * time.Second,
		MaxRetries:      2,
		MaxWallTime:     120 * time.Second,
		RetryInitial:    time.Second,
		RetryMax:        30 * time.Second,
	}
}

// LimitType identifies which limit is reached.
type LimitType string

const (
	LimitWallTime LimitType = "max_wall_time_seconds"
	LimitRetries  LimitType = "max_retries"
)

// LimitError indicates a run limit was reached. Err is the last failure seen
// before the limit stopped further attempts.
type LimitError struct {
	Type      LimitType
	Value     int64
	Threshold int64
	Err       error
}

func (e *LimitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("limit reached type=%s value=%d threshold=%d", e.Type, e.Value, e.Threshold)
	}
	return fmt.Sprintf("limit reached type=%s value=%d threshold=%d: %v", e.Type, e.Value, e.Threshold, e.Err)
}

func (e *LimitError) Unwrap() error { return e.Err }

// CheckWallTime validates elapsed time against policy. A non-positive limit
// disables the check.
func CheckWallTime(p Policy, startedAt time.Time, now time.Time) error {
	limit := p.MaxWallTime
	if limit <= 0 {
		return nil
	}
	elapsed := now.Sub(startedAt)
	if elapsed > limit {
		return &LimitError{
			Type:      LimitWallTime,
			Value:     int64(elapsed.Seconds()),
			Threshold: int64(limit.Seconds()),
		}
	}
	return nil
}

// Backoff builds the exponential schedule for p, bounded by MaxRetries and
// MaxWallTime and stopped by ctx.
func Backoff(ctx context.Context, p Policy) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	if p.RetryInitial > 0 {
		expo.InitialInterval = p.RetryInitial
	}
	if p.RetryMax > 0 {
		expo.MaxInterval = p.RetryMax
	}
	expo.MaxElapsedTime = p.MaxWallTime
	expo.Reset()

	var b backoff.BackOff = expo
	if p.MaxRetries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

// Retry runs op until it succeeds, fails with an error retryable rejects, or
// the policy is exhausted. notify, when set, sees every scheduled retry.
// Non-retryable and context errors are returned unwrapped. When MaxRetries
// retries (at least one) or the wall time run out, the last error is wrapped
// in a *LimitError.
func Retry(ctx context.Context, p Policy, retryable func(error) bool, notify func(attempt int, err error, wait time.Duration), op func(ctx context.Context) error) error {
	started := time.Now()
	attempt := 0
	permanent := false
	var last error
	err := backoff.RetryNotify(func() error {
		if attempt > 0 && CheckWallTime(p, started, time.Now()) != nil {
			return backoff.Permanent(last)
		}
		attempt++
		last = op(ctx)
		if last == nil {
			return nil
		}
		if retryable == nil || !retryable(last) {
			permanent = true
			return backoff.Permanent(last)
		}
		return last
	}, Backoff(ctx, p), func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempt, err, wait)
		}
	})
	if err == nil || permanent || ctx.Err() != nil {
		return err
	}

	elapsed := time.Since(started)
	retries := attempt - 1
	if p.MaxRetries >= 0 && retries >= p.MaxRetries {
		if retries == 0 {
			return err
		}
		return &LimitError{Type: LimitRetries, Value: int64(retries), Threshold: int64(p.MaxRetries), Err: err}
	}
	return &LimitError{
		Type:      LimitWallTime,
		Value:     int64(elapsed.Seconds()),
		Threshold: int64(p.MaxWallTime.Seconds()),
		Err:       err,
	}
}
