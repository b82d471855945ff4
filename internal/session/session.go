// Package session holds per-user bot state: the selected model and activity
// counters.
package session

import (
	"maps"
	"sync"
	"time"

	"github.com/stupiduntilnot/relaybot/internal/classify"
	"github.com/stupiduntilnot/relaybot/internal/clock"
	"github.com/stupiduntilnot/relaybot/internal/model"
)

// Session is one user's state. Values returned by a Store are copies.
type Session struct {
	UserID       int64
	Provider     model.ProviderID
	Model        string
	JoinedAt     time.Time
	LastActivity time.Time
	Messages     int
	Commands     int
	Images       int
	ByCategory   map[classify.Category]int
}

func (s Session) clone() Session {
	s.ByCategory = maps.Clone(s.ByCategory)
	return s
}

// Defaults seed a newly seen user.
type Defaults struct {
	Provider model.ProviderID
	Model    string
}

// Store creates sessions lazily and never removes them.
type Store interface {
	Get(userID int64) Session
	// Update applies fn under the store lock, stamps LastActivity and returns
	// the new state.
	Update(userID int64, fn func(*Session)) Session
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	defaults Defaults
	clock    clock.Clock

	mu    sync.Mutex
	users map[int64]*Session
}

func NewMemoryStore(defaults Defaults, c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real()
	}
	return &MemoryStore{defaults: defaults, clock: c, users: make(map[int64]*Session)}
}

func (s *MemoryStore) getLocked(userID int64) *Session {
	sess, ok := s.users[userID]
	if !ok {
		now := s.clock.Now()
		sess = &Session{
			UserID:       userID,
			Provider:     s.defaults.Provider,
			Model:        s.defaults.Model,
			JoinedAt:     now,
			LastActivity: now,
			ByCategory:   make(map[classify.Category]int),
		}
		s.users[userID] = sess
	}
	return sess
}

func (s *MemoryStore) Get(userID int64) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(userID).clone()
}

func (s *MemoryStore) Update(userID int64, fn func(*Session)) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getLocked(userID)
	if fn != nil {
		fn(sess)
	}
	sess.UserID = userID
	if sess.ByCategory == nil {
		sess.ByCategory = make(map[classify.Category]int)
	}
	sess.LastActivity = s.clock.Now()
	return sess.clone()
}

// Len reports how many users have been seen.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}
