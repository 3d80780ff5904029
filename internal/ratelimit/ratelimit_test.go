package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestMinuteBudgetExhaustion(t *testing.T) {
	clk := newFakeClock(time.Date(2025, 3, 10, 14, 30, 12, 0, time.UTC))
	l := New(clk, 0, time.UTC)
	l.RegisterProvider("finnhub", KeyConfig{Key: "k1", PerMinute: 3})

	for i := 0; i < 3; i++ {
		require.True(t, l.CanConsume("finnhub", "k1"), "consume %d", i)
		l.Consume("finnhub", "k1")
	}
	assert.False(t, l.CanConsume("finnhub", "k1"), "budget should be exhausted")

	// Exhausted consume is a no-op, not an over-count.
	l.Consume("finnhub", "k1")
	snap := l.Snapshot()["finnhub"]
	require.Len(t, snap, 1)
	assert.Equal(t, 3, snap[0].MinuteUsed)
}

func TestMinuteWindowAnchorsAtFirstConsume(t *testing.T) {
	// First consume at :30:12 anchors the window there; the budget must
	// still be held at :31:00 and only reopen at :31:12.
	clk := newFakeClock(time.Date(2025, 3, 10, 14, 30, 12, 0, time.UTC))
	l := New(clk, 0, time.UTC)
	l.RegisterProvider("finnhub", KeyConfig{Key: "k1", PerMinute: 1})

	l.Consume("finnhub", "k1")
	assert.False(t, l.CanConsume("finnhub", "k1"))

	clk.Set(time.Date(2025, 3, 10, 14, 31, 0, 0, time.UTC))
	assert.False(t, l.CanConsume("finnhub", "k1"), "calendar minute rollover must not reset the window")

	clk.Set(time.Date(2025, 3, 10, 14, 31, 12, 0, time.UTC))
	assert.True(t, l.CanConsume("finnhub", "k1"), "window expires 60s after first consume")
}

func TestMinuteWindowReanchorsAfterIdle(t *testing.T) {
	clk := newFakeClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	l := New(clk, 0, time.UTC)
	l.RegisterProvider("fmp", KeyConfig{Key: "k1", PerMinute: 2})

	l.Consume("fmp", "k1")
	clk.Advance(5 * time.Minute)

	// The next consume after the idle gap starts a fresh window.
	l.Consume("fmp", "k1")
	snap := l.Snapshot()["fmp"]
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].MinuteUsed)

	clk.Advance(59 * time.Second)
	assert.True(t, l.CanConsume("fmp", "k1"))
	l.Consume("fmp", "k1")
	assert.False(t, l.CanConsume("fmp", "k1"))
}

func TestDailyWindowResetsAtConfiguredHour(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 23:50 Eastern, reset hour 0: ten minutes before the boundary.
	clk := newFakeClock(time.Date(2025, 3, 10, 23, 50, 0, 0, loc))
	l := New(clk, 0, loc)
	l.RegisterProvider("alphavantage", KeyConfig{Key: "k1", PerDay: 2})

	l.Consume("alphavantage", "k1")
	l.Consume("alphavantage", "k1")
	assert.False(t, l.CanConsume("alphavantage", "k1"))

	// Crossing midnight Eastern reopens the budget even though less
	// than 24h of wall time has passed.
	clk.Set(time.Date(2025, 3, 11, 0, 5, 0, 0, loc))
	assert.True(t, l.CanConsume("alphavantage", "k1"))

	l.Consume("alphavantage", "k1")
	snap := l.Snapshot()["alphavantage"]
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].DayUsed)
}

func TestDailyWindowDoesNotResetWithinSameDay(t *testing.T) {
	clk := newFakeClock(time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC))
	l := New(clk, 0, time.UTC)
	l.RegisterProvider("alphavantage", KeyConfig{Key: "k1", PerDay: 1})

	l.Consume("alphavantage", "k1")
	clk.Advance(12 * time.Hour)
	assert.False(t, l.CanConsume("alphavantage", "k1"))

	clk.Advance(12 * time.Hour) // 01:00 next day, past the 00:00 boundary
	assert.True(t, l.CanConsume("alphavantage", "k1"))
}

func TestMinuteAndDayBudgetsBothGate(t *testing.T) {
	clk := newFakeClock(time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	l := New(clk, 0, time.UTC)
	l.RegisterProvider("fmp", KeyConfig{Key: "k1", PerMinute: 10, PerDay: 2})

	l.Consume("fmp", "k1")
	l.Consume("fmp", "k1")
	assert.False(t, l.CanConsume("fmp", "k1"), "day cap reached despite minute headroom")

	// A minute reset alone does not reopen the key.
	clk.Advance(2 * time.Minute)
	assert.False(t, l.CanConsume("fmp", "k1"))
}

func TestNextAvailableKeyRotation(t *testing.T) {
	clk := newFakeClock(time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	l := New(clk, 0, time.UTC)
	l.RegisterProvider("finnhub",
		KeyConfig{Key: "primary", PerMinute: 1},
		KeyConfig{Key: "secondary", PerMinute: 1},
	)

	key, ok := l.NextAvailableKey("finnhub")
	require.True(t, ok)
	assert.Equal(t, "primary", key)
	l.Consume("finnhub", "primary")

	key, ok = l.NextAvailableKey("finnhub")
	require.True(t, ok)
	assert.Equal(t, "secondary", key, "rotation falls to the next configured key")
	l.Consume("finnhub", "secondary")

	_, ok = l.NextAvailableKey("finnhub")
	assert.False(t, ok, "all keys exhausted")

	// Primary comes back first once its window expires.
	clk.Advance(time.Minute)
	key, ok = l.NextAvailableKey("finnhub")
	require.True(t, ok)
	assert.Equal(t, "primary", key)
}

func TestUnlimitedKey(t *testing.T) {
	clk := newFakeClock(time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	l := New(clk, 0, time.UTC)
	l.RegisterProvider("robinhood", KeyConfig{Key: "session"})

	for i := 0; i < 500; i++ {
		require.True(t, l.CanConsume("robinhood", "session"))
		l.Consume("robinhood", "session")
	}
}

func TestUnknownProviderAndKey(t *testing.T) {
	l := New(newFakeClock(time.Now()), 0, time.UTC)
	l.RegisterProvider("finnhub", KeyConfig{Key: "k1", PerMinute: 1})

	assert.False(t, l.CanConsume("nope", "k1"))
	assert.False(t, l.CanConsume("finnhub", "nope"))
	_, ok := l.NextAvailableKey("nope")
	assert.False(t, ok)

	// No panic on unknown targets.
	l.Consume("nope", "k1")
}

func TestConcurrentConsumeNeverOverspends(t *testing.T) {
	clk := newFakeClock(time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	l := New(clk, 0, time.UTC)
	l.RegisterProvider("finnhub", KeyConfig{Key: "k1", PerMinute: 50})

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Consume("finnhub", "k1")
		}()
	}
	wg.Wait()

	snap := l.Snapshot()["finnhub"]
	require.Len(t, snap, 1)
	assert.Equal(t, 50, snap[0].MinuteUsed)
	assert.False(t, snap[0].Usable)
}

func TestSnapshotRedactsKeys(t *testing.T) {
	l := New(newFakeClock(time.Now()), 0, time.UTC)
	l.RegisterProvider("finnhub", KeyConfig{Key: "c0ffee1234deadbeef", PerMinute: 5})

	snap := l.Snapshot()["finnhub"]
	require.Len(t, snap, 1)
	assert.Equal(t, "c0ffee12...", snap[0].Key)
}
