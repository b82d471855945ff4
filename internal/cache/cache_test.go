package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/relaybot/internal/clock"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestSetGet(t *testing.T) {
	c := New[string, string](10, time.Hour, clock.NewFake(epoch))
	c.Set("a", "1")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestEvictsOldestInserted(t *testing.T) {
	fc := clock.NewFake(epoch)
	c := New[string, int](100, time.Hour, fc)
	for i := 0; i < 101; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
		fc.Advance(time.Second)
	}
	assert.Equal(t, 100, c.Len())
	_, ok := c.Get("k0")
	assert.False(t, ok)
	for i := 1; i < 101; i++ {
		_, ok := c.Get(fmt.Sprintf("k%d", i))
		require.True(t, ok, "k%d", i)
	}
}

func TestEvictionIgnoresReads(t *testing.T) {
	fc := clock.NewFake(epoch)
	c := New[string, int](2, time.Hour, fc)
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest inserted entry goes first even when recently read")
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestEvictionTieBreaksOnInsertionOrder(t *testing.T) {
	c := New[int, int](3, time.Hour, clock.NewFake(epoch))
	for i := 0; i < 4; i++ {
		c.Set(i, i)
	}
	_, ok := c.Get(0)
	assert.False(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestOverwriteRefreshesWithoutEviction(t *testing.T) {
	fc := clock.NewFake(epoch)
	c := New[string, int](2, time.Hour, fc)
	c.Set("a", 1)
	fc.Advance(time.Second)
	c.Set("b", 2)
	fc.Advance(time.Second)
	c.Set("a", 10)
	assert.Equal(t, 2, c.Len())

	c.Set("c", 3)
	_, ok := c.Get("b")
	assert.False(t, ok, "b is now the oldest insertion")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestTTLExpiry(t *testing.T) {
	fc := clock.NewFake(epoch)
	c := New[string, string](10, 3600*time.Second, fc)
	c.Set("k", "v")

	fc.Advance(3600 * time.Second)
	_, ok := c.Get("k")
	require.True(t, ok, "entry is live at exactly ttl")

	fc.Advance(time.Second)
	assert.Equal(t, 1, c.Len(), "expired entries count until read")
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestDisabledCache(t *testing.T) {
	c := New[string, string](0, time.Hour, nil)
	c.Set("k", "v")
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestClear(t *testing.T) {
	c := New[string, string](10, time.Hour, nil)
	c.Set("a", "b")
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentSetRespectsBound(t *testing.T) {
	c := New[int, int](50, time.Hour, clock.NewFake(epoch))
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Set(g*1000+i, i)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}
