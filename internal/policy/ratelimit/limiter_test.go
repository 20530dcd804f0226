package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterSpacesRequestsToOneHost(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://jobs.example.com/rss"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://jobs.example.com/atom"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 1, l.Hosts())
}

func TestLimiterKeepsHostsIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com/feed"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com/feed"))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 2, l.Hosts())
}

func TestLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow.example.com")
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for range 50 {
		require.NoError(t, l.Wait(ctx, "https://jobs.example.com"))
	}
	assert.Less(t, time.Since(start), time.Second)
}
