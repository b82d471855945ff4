package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/relaybot/internal/classify"
	"github.com/stupiduntilnot/relaybot/internal/clock"
	"github.com/stupiduntilnot/relaybot/internal/model"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore() (*MemoryStore, *clock.Fake) {
	c := clock.NewFake(start)
	return NewMemoryStore(Defaults{Provider: model.OpenRouter, Model: "deepseek"}, c), c
}

func TestGetCreatesWithDefaults(t *testing.T) {
	s, _ := newStore()
	sess := s.Get(42)
	assert.Equal(t, int64(42), sess.UserID)
	assert.Equal(t, model.OpenRouter, sess.Provider)
	assert.Equal(t, "deepseek", sess.Model)
	assert.Equal(t, start, sess.JoinedAt)
	assert.Equal(t, 1, s.Len())
}

func TestUpdateStampsActivity(t *testing.T) {
	s, c := newStore()
	s.Get(1)
	c.Advance(time.Minute)

	sess := s.Update(1, func(x *Session) {
		x.Provider = model.Anthropic
		x.Model = "haiku"
		x.Messages++
		x.ByCategory[classify.Code]++
	})
	assert.Equal(t, "haiku", sess.Model)
	assert.Equal(t, start, sess.JoinedAt)
	assert.Equal(t, start.Add(time.Minute), sess.LastActivity)
	assert.Equal(t, 1, sess.ByCategory[classify.Code])
}

func TestReturnedSessionsAreCopies(t *testing.T) {
	s, _ := newStore()
	got := s.Update(1, func(x *Session) { x.ByCategory[classify.Chat] = 1 })
	got.ByCategory[classify.Chat] = 99
	got.Model = "other"

	again := s.Get(1)
	assert.Equal(t, 1, again.ByCategory[classify.Chat])
	assert.Equal(t, "deepseek", again.Model)
}

func TestConcurrentUpdatesDoNotLoseCounts(t *testing.T) {
	s, _ := newStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(7, func(x *Session) { x.Messages++ })
		}()
	}
	wg.Wait()
	require.Equal(t, 50, s.Get(7).Messages)
}
