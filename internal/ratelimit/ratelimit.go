// Package ratelimit implements a per-user sliding-window request limiter.
package ratelimit

import (
	"sync"
	"time"

	"github.com/stupiduntilnot/relaybot/internal/clock"
)

// Limiter admits at most MaxRequests per user within any trailing Window.
type Limiter struct {
	maxRequests int
	window      time.Duration
	clock       clock.Clock

	mu    sync.RWMutex
	users map[int64]*userWindow
}

type userWindow struct {
	mu       sync.Mutex
	requests []time.Time
}

// New creates a limiter. A nil clock uses wall time.
func New(maxRequests int, window time.Duration, c clock.Clock) *Limiter {
	if c == nil {
		c = clock.Real()
	}
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		clock:       c,
		users:       make(map[int64]*userWindow),
	}
}

func (l *Limiter) windowFor(userID int64) *userWindow {
	l.mu.RLock()
	w, ok := l.users[userID]
	l.mu.RUnlock()
	if ok {
		return w
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.users[userID]; !ok {
		w = &userWindow{}
		l.users[userID] = w
	}
	return w
}

// live returns the suffix of requests still inside the window at now.
// Requests are kept in arrival order, so expired ones form a prefix.
func (l *Limiter) live(requests []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(requests) && now.Sub(requests[i]) >= l.window {
		i++
	}
	return requests[i:]
}

// Allow prunes the user's window and records a request if fewer than
// MaxRequests remain in it.
func (l *Limiter) Allow(userID int64) bool {
	w := l.windowFor(userID)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.clock.Now()
	w.requests = l.live(w.requests, now)
	if len(w.requests) >= l.maxRequests {
		return false
	}
	w.requests = append(w.requests, now)
	return true
}

// Remaining reports how many requests the user could make now. It does not
// record anything.
func (l *Limiter) Remaining(userID int64) int {
	w := l.windowFor(userID)
	w.mu.Lock()
	defer w.mu.Unlock()

	left := l.maxRequests - len(l.live(w.requests, l.clock.Now()))
	if left < 0 {
		return 0
	}
	return left
}

// ResetIn reports how long until the oldest recorded request leaves the
// window, or zero when the user has capacity.
func (l *Limiter) ResetIn(userID int64) time.Duration {
	w := l.windowFor(userID)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.clock.Now()
	live := l.live(w.requests, now)
	if len(live) < l.maxRequests || len(live) == 0 {
		return 0
	}
	return live[0].Add(l.window).Sub(now)
}
