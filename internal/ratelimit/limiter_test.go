package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSameHost(t *testing.T) {
	// 10 requests per second = 100ms interval, burst 1.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://pypi.org/project/a/"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://pypi.org/project/b/"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	// A different host has its own bucket.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://libraries.io/api/pypi/a"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx, "https://pypi.org/"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx, "https://pypi.org/"))
	cancel()
	assert.Error(t, l.Wait(ctx, "https://pypi.org/"))
}

func TestLimiterBadURL(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.NoError(t, l.Wait(context.Background(), "::not a url"))
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Contains(t, l.limiters, "unknown")
}
