package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemory(p Policy) (*Memory, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory(p)
	m.now = clock.Now
	return m, clock
}

func TestMemory_RejectsAfterMax(t *testing.T) {
	m, _ := newTestMemory(Login)
	ctx := context.Background()

	for i := 0; i < Login.Max; i++ {
		ok, err := m.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i+1)
	}
	ok, _ := m.Allow(ctx, "1.2.3.4")
	assert.False(t, ok, "request %d should be refused", Login.Max+1)

	ok, _ = m.Allow(ctx, "5.6.7.8")
	assert.True(t, ok, "other keys are unaffected")
}

func TestMemory_ResetsAfterWindow(t *testing.T) {
	m, clock := newTestMemory(Register)
	ctx := context.Background()

	for i := 0; i < Register.Max; i++ {
		_, _ = m.Allow(ctx, "k")
	}
	ok, _ := m.Allow(ctx, "k")
	require.False(t, ok)

	// Still inside the window (the boundary itself counts as inside).
	clock.Advance(Register.Window)
	ok, _ = m.Allow(ctx, "k")
	assert.False(t, ok)

	clock.Advance(time.Millisecond)
	ok, _ = m.Allow(ctx, "k")
	assert.True(t, ok, "window elapsed, counter resets")
}

func TestMemory_Sweep(t *testing.T) {
	m, clock := newTestMemory(Contact)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "old")
	clock.Advance(10 * time.Minute)
	_, _ = m.Allow(ctx, "new")
	require.Equal(t, 2, m.Len())

	dropped := m.Sweep(clock.Now().Add(6 * time.Minute))
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, m.Len())
}

func TestPolicyKey(t *testing.T) {
	assert.Equal(t, "login:10.0.0.1", Login.Key("10.0.0.1"))
	assert.NotEqual(t, Login.Key("x"), Newsletter.Key("x"))
}
