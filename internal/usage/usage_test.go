package usage

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/relaybot/internal/clock"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newAccounting(fc *clock.Fake) *Accounting {
	return New(fc,
		Scope{Name: "openrouter", Period: Daily, Limits: map[string]int{"free": 100, "paid": 1000}},
		Scope{Name: "friendli", Period: Daily, Limits: map[string]int{"qwen3_highlights": 2, "total": 3}},
	)
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"daily", Daily, false},
		{"", Daily, false},
		{"Monthly", Monthly, false},
		{"90m", 90 * time.Minute, false},
		{"-1h", 0, true},
		{"weekly", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePeriod(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCheckLimitAndIncrement(t *testing.T) {
	fc := clock.NewFake(epoch)
	a := newAccounting(fc)
	for i := 0; i < 100; i++ {
		require.True(t, a.CheckLimit("openrouter", "free"))
		require.NoError(t, a.Increment("openrouter", "free"))
	}
	assert.False(t, a.CheckLimit("openrouter", "free"))
	assert.True(t, a.CheckLimit("openrouter", "paid"))

	assert.False(t, a.CheckLimit("openrouter", "gold"))
	assert.ErrorIs(t, a.Increment("nope", "free"), ErrUnknownTier)
}

func TestLazyResetAfterPeriod(t *testing.T) {
	fc := clock.NewFake(epoch)
	a := newAccounting(fc)
	for i := 0; i < 100; i++ {
		require.NoError(t, a.Increment("openrouter", "free"))
	}
	require.False(t, a.CheckLimit("openrouter", "free"))

	fc.Advance(Daily)
	assert.False(t, a.CheckLimit("openrouter", "free"), "period must be exceeded, not just reached")

	fc.Advance(time.Second)
	assert.True(t, a.CheckLimit("openrouter", "free"))
	snap := a.Snapshot()["openrouter"]
	assert.Equal(t, 0, snap.Tiers["free"].Used)
	assert.Equal(t, epoch.Add(Daily+time.Second), snap.WindowStart)
	assert.Equal(t, epoch.Add(2*Daily+time.Second), snap.ResetAt)
}

func TestReserveSpansTiersAtomically(t *testing.T) {
	fc := clock.NewFake(epoch)
	a := newAccounting(fc)

	r1, err := a.Reserve("friendli", "qwen3_highlights", "total")
	require.NoError(t, err)
	r1.Commit()
	r2, err := a.Reserve("friendli", "qwen3_highlights", "total")
	require.NoError(t, err)
	r2.Commit()

	_, err = a.Reserve("friendli", "qwen3_highlights", "total")
	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, "qwen3_highlights", exhausted.Tier)
	assert.Equal(t, 2, exhausted.Limit)
	assert.Equal(t, epoch.Add(Daily), exhausted.ResetAt)

	// The failed reservation must not have claimed "total".
	r3, err := a.Reserve("friendli", "total")
	require.NoError(t, err)
	r3.Commit()
	assert.Equal(t, 3, a.Snapshot()["friendli"].Tiers["total"].Used)
}

func TestCancelReleasesSlot(t *testing.T) {
	fc := clock.NewFake(epoch)
	a := New(fc, Scope{Name: "s", Period: Daily, Limits: map[string]int{"t": 1}})

	r, err := a.Reserve("s", "t")
	require.NoError(t, err)
	assert.False(t, a.CheckLimit("s", "t"), "reserved slot counts against the limit")
	r.Cancel()
	r.Commit() // settled already, no effect
	assert.True(t, a.CheckLimit("s", "t"))
	assert.Equal(t, Counter{Used: 0, Reserved: 0, Limit: 1}, a.Snapshot()["s"].Tiers["t"])
}

func TestConcurrentReserveNeverOvershoots(t *testing.T) {
	fc := clock.NewFake(epoch)
	a := New(fc, Scope{Name: "s", Period: Daily, Limits: map[string]int{"t": 25}})

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := a.Reserve("s", "t")
			if err != nil {
				return
			}
			ok.Add(1)
			r.Commit()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(25), ok.Load())
	assert.Equal(t, 25, a.Snapshot()["s"].Tiers["t"].Used)
}

func TestRecordTokens(t *testing.T) {
	fc := clock.NewFake(epoch)
	a := newAccounting(fc)
	a.RecordTokens("openrouter", 10, 20)
	a.RecordTokens("openrouter", 1, 2)
	a.RecordTokens("missing", 5, 5)
	snap := a.Snapshot()["openrouter"]
	assert.Equal(t, int64(11), snap.InputTokens)
	assert.Equal(t, int64(22), snap.OutputTokens)
	assert.Equal(t, []string{"friendli", "openrouter"}, a.ScopeNames())
}
