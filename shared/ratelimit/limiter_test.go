package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/privacybox/relayer/testing/assert"
	"github.com/privacybox/relayer/testing/require"
)

func TestLimiter_TryAcquire_ExhaustsSecondBucket(t *testing.T) {
	l := NewLimiter(3, 100)
	for i := 0; i < 3; i++ {
		require.Equal(t, true, l.TryAcquire(), "token %d should be available", i)
	}
	assert.Equal(t, false, l.TryAcquire(), "second bucket should be exhausted")
}

func TestLimiter_TryAcquire_MinuteBucketBinds(t *testing.T) {
	// Per-second allows 10 but per-minute allows only 2.
	l := NewLimiter(10, 2)
	require.Equal(t, true, l.TryAcquire())
	require.Equal(t, true, l.TryAcquire())
	assert.Equal(t, false, l.TryAcquire(), "minute bucket should bind before the second bucket")
}

func TestLimiter_Acquire_BlocksUntilRefill(t *testing.T) {
	l := NewLimiter(5, 100)
	for l.TryAcquire() {
	}
	start := time.Now()
	require.NoError(t, l.Acquire(context.Background()))
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Acquire returned after %v, expected to wait for a leaked token", elapsed)
	}
}

func TestLimiter_Acquire_Cancellation(t *testing.T) {
	l := NewLimiter(1, 1)
	require.Equal(t, true, l.TryAcquire())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Acquire(ctx)
	require.ErrorContains(t, "context canceled", err)
}
