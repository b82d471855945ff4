// Package usage tracks per-tier request counters for provider accounts and
// resets them lazily at the end of each accounting period.
package usage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stupiduntilnot/relaybot/internal/clock"
)

const (
	Daily   = 24 * time.Hour
	Monthly = 30 * Daily
)

// ParsePeriod accepts "daily", "monthly" or any Go duration.
func ParsePeriod(s string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "daily", "day":
		return Daily, nil
	case "monthly", "month":
		return Monthly, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid usage period %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid usage period %q: must be positive", s)
	}
	return d, nil
}

// Scope describes one provider account: a set of named tiers sharing a reset
// period.
type Scope struct {
	Name   string
	Period time.Duration
	Limits map[string]int
}

// ErrUnknownTier is returned for a scope or tier that was never configured.
var ErrUnknownTier = errors.New("unknown usage tier")

// ExhaustedError reports a tier whose limit has been reached.
type ExhaustedError struct {
	Scope   string
	Tier    string
	Used    int
	Limit   int
	ResetAt time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("usage limit reached for %s/%s: %d/%d, resets at %s",
		e.Scope, e.Tier, e.Used, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

// Counter is a point-in-time view of one tier.
type Counter struct {
	Used     int
	Reserved int
	Limit    int
}

// ScopeSnapshot is a point-in-time view of one scope.
type ScopeSnapshot struct {
	Period       time.Duration
	WindowStart  time.Time
	ResetAt      time.Time
	Tiers        map[string]Counter
	InputTokens  int64
	OutputTokens int64
}

type tierState struct {
	used     int
	reserved int
	limit    int
}

type scopeState struct {
	mu          sync.Mutex
	period      time.Duration
	windowStart time.Time
	tiers       map[string]*tierState
	inTokens    int64
	outTokens   int64
}

// maybeResetLocked zeroes the counters once the period has elapsed.
// In-flight reservations carry over into the new window.
func (s *scopeState) maybeResetLocked(now time.Time) {
	if now.Sub(s.windowStart) <= s.period {
		return
	}
	for _, t := range s.tiers {
		t.used = 0
	}
	s.inTokens, s.outTokens = 0, 0
	s.windowStart = now
}

// Accounting holds the counters for every configured scope. The set of
// scopes and tiers is fixed at construction.
type Accounting struct {
	clock  clock.Clock
	scopes map[string]*scopeState
}

// New creates counters for scopes, all starting a fresh window now.
func New(c clock.Clock, scopes ...Scope) *Accounting {
	if c == nil {
		c = clock.Real()
	}
	a := &Accounting{clock: c, scopes: make(map[string]*scopeState, len(scopes))}
	now := c.Now()
	for _, sc := range scopes {
		period := sc.Period
		if period <= 0 {
			period = Daily
		}
		st := &scopeState{period: period, windowStart: now, tiers: make(map[string]*tierState, len(sc.Limits))}
		for tier, limit := range sc.Limits {
			st.tiers[tier] = &tierState{limit: limit}
		}
		a.scopes[sc.Name] = st
	}
	return a
}

func (a *Accounting) scope(name string) (*scopeState, error) {
	s, ok := a.scopes[name]
	if !ok {
		return nil, fmt.Errorf("%w: scope %q", ErrUnknownTier, name)
	}
	return s, nil
}

// HasTier reports whether scope/tier is configured.
func (a *Accounting) HasTier(scope, tier string) bool {
	s, ok := a.scopes[scope]
	if !ok {
		return false
	}
	_, ok = s.tiers[tier]
	return ok
}

// CheckLimit reports whether another request fits in the tier. Unknown tiers
// never fit.
func (a *Accounting) CheckLimit(scope, tier string) bool {
	s, err := a.scope(scope)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeResetLocked(a.clock.Now())
	t, ok := s.tiers[tier]
	return ok && t.used+t.reserved < t.limit
}

// Increment counts one request against the tier.
func (a *Accounting) Increment(scope, tier string) error {
	s, err := a.scope(scope)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeResetLocked(a.clock.Now())
	t, ok := s.tiers[tier]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownTier, scope, tier)
	}
	t.used++
	return nil
}

// RecordTokens adds provider-reported token counts to the scope.
func (a *Accounting) RecordTokens(scope string, input, output int64) {
	s, err := a.scope(scope)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeResetLocked(a.clock.Now())
	s.inTokens += input
	s.outTokens += output
}

// Reserve claims one slot in every listed tier, or none of them. The claim
// counts against the limit until it is committed or cancelled.
func (a *Accounting) Reserve(scope string, tiers ...string) (*Reservation, error) {
	s, err := a.scope(scope)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeResetLocked(a.clock.Now())

	for _, name := range tiers {
		t, ok := s.tiers[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnknownTier, scope, name)
		}
		if t.used+t.reserved >= t.limit {
			return nil, &ExhaustedError{
				Scope:   scope,
				Tier:    name,
				Used:    t.used,
				Limit:   t.limit,
				ResetAt: s.windowStart.Add(s.period),
			}
		}
	}
	for _, name := range tiers {
		s.tiers[name].reserved++
	}
	return &Reservation{state: s, tiers: append([]string(nil), tiers...), clock: a.clock}, nil
}

// Reservation is an in-flight claim made by Reserve.
type Reservation struct {
	state *scopeState
	tiers []string
	clock clock.Clock
	once  sync.Once
}

// Commit turns the claim into counted usage.
func (r *Reservation) Commit() {
	r.settle(true)
}

// Cancel releases the claim without counting it.
func (r *Reservation) Cancel() {
	r.settle(false)
}

func (r *Reservation) settle(count bool) {
	if r == nil {
		return
	}
	r.once.Do(func() {
		s := r.state
		s.mu.Lock()
		defer s.mu.Unlock()
		s.maybeResetLocked(r.clock.Now())
		for _, name := range r.tiers {
			t := s.tiers[name]
			t.reserved--
			if count {
				t.used++
			}
		}
	})
}

// Snapshot copies the current counters of every scope.
func (a *Accounting) Snapshot() map[string]ScopeSnapshot {
	now := a.clock.Now()
	out := make(map[string]ScopeSnapshot, len(a.scopes))
	for name, s := range a.scopes {
		s.mu.Lock()
		s.maybeResetLocked(now)
		snap := ScopeSnapshot{
			Period:       s.period,
			WindowStart:  s.windowStart,
			ResetAt:      s.windowStart.Add(s.period),
			Tiers:        make(map[string]Counter, len(s.tiers)),
			InputTokens:  s.inTokens,
			OutputTokens: s.outTokens,
		}
		for tier, t := range s.tiers {
			snap.Tiers[tier] = Counter{Used: t.used, Reserved: t.reserved, Limit: t.limit}
		}
		s.mu.Unlock()
		out[name] = snap
	}
	return out
}

// ScopeNames lists the configured scopes in sorted order.
func (a *Accounting) ScopeNames() []string {
	names := make([]string, 0, len(a.scopes))
	for name := range a.scopes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
