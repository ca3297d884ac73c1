package async_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/privacybox/relayer/async"
)

func TestRunEvery_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	async.RunEvery(ctx, 10*time.Millisecond, func() {
		atomic.AddInt32(&calls, 1)
	})

	time.Sleep(120 * time.Millisecond)
	cancel()
	seen := atomic.LoadInt32(&calls)
	if seen == 0 {
		t.Fatal("expected the function to have run at least once")
	}

	time.Sleep(50 * time.Millisecond)
	after := atomic.LoadInt32(&calls)
	time.Sleep(50 * time.Millisecond)
	if final := atomic.LoadInt32(&calls); final-after > 1 {
		t.Errorf("function kept running after cancellation: %d -> %d", after, final)
	}
}
