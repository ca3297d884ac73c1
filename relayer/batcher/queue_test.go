package batcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/privacybox/relayer/relayer/types"
	"github.com/privacybox/relayer/testing/assert"
	"github.com/privacybox/relayer/testing/require"
	logTest "github.com/sirupsen/logrus/hooks/test"
)

func testIntent(id string, chain types.ChainID) types.TransferIntent {
	return types.TransferIntent{
		RequestID:  id,
		SourceTxID: id,
		ChainID:    chain,
		Amount:     "0.01",
		Recipient:  "0xABCDEF0123456789abcdef0123456789ABCDEF01",
		CreatedAt:  time.Now(),
	}
}

func collect(t *testing.T, q *Queue, timeout time.Duration) types.Batch {
	select {
	case batch := <-q.Out():
		return batch
	case <-time.After(timeout):
		t.Fatal("no batch delivered")
		return types.Batch{}
	}
}

func TestQueue_SizeTriggeredFlush(t *testing.T) {
	q := New(3, time.Hour, 0)
	defer q.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Add(testIntent(fmt.Sprintf("at1-%d", i), types.Sepolia)))
	}
	batch := collect(t, q, time.Second)
	require.Equal(t, 3, len(batch.Intents))
	assert.Equal(t, types.Sepolia, batch.ChainID)
	assert.Equal(t, "sepolia-1", batch.BatchID)
	assert.Equal(t, "at1-0", batch.Intents[0].RequestID)
	assert.Equal(t, 0, q.Depth(types.Sepolia))
}

func TestQueue_TimeTriggeredFlush(t *testing.T) {
	q := New(100, 50*time.Millisecond, 0)
	defer q.Close()

	require.NoError(t, q.Add(testIntent("at1-0", types.Sepolia)))
	start := time.Now()
	batch := collect(t, q, time.Second)
	require.Equal(t, 1, len(batch.Intents))
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("batch flushed after %v, expected to wait for the timer", elapsed)
	}
}

func TestQueue_TimerRunsFromFirstEnqueue(t *testing.T) {
	q := New(100, 80*time.Millisecond, 0)
	defer q.Close()

	start := time.Now()
	require.NoError(t, q.Add(testIntent("at1-0", types.Sepolia)))
	time.Sleep(40 * time.Millisecond)
	// A later Add must not re-arm the timer.
	require.NoError(t, q.Add(testIntent("at1-1", types.Sepolia)))

	batch := collect(t, q, time.Second)
	require.Equal(t, 2, len(batch.Intents))
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("batch flushed after %v, timer should run from the first enqueue", elapsed)
	}
}

func TestQueue_PerChainIsolation(t *testing.T) {
	q := New(2, time.Hour, 0)
	defer q.Close()

	require.NoError(t, q.Add(testIntent("at1-s0", types.Sepolia)))
	require.NoError(t, q.Add(testIntent("at1-a0", types.Amoy)))
	require.NoError(t, q.Add(testIntent("at1-a1", types.Amoy)))

	batch := collect(t, q, time.Second)
	assert.Equal(t, types.Amoy, batch.ChainID)
	require.Equal(t, 2, len(batch.Intents))
	assert.Equal(t, 1, q.Depth(types.Sepolia))
}

func TestQueue_BatchIDsMonotonicPerChain(t *testing.T) {
	q := New(1, time.Hour, 0)
	defer q.Close()

	require.NoError(t, q.Add(testIntent("at1-0", types.Sepolia)))
	require.NoError(t, q.Add(testIntent("at1-1", types.Sepolia)))
	first := collect(t, q, time.Second)
	second := collect(t, q, time.Second)
	assert.Equal(t, "sepolia-1", first.BatchID)
	assert.Equal(t, "sepolia-2", second.BatchID)
}

func TestQueue_RejectsInvalidIntent(t *testing.T) {
	q := New(5, time.Hour, 0)
	defer q.Close()

	bad := testIntent("at1-0", types.Sepolia)
	bad.Recipient = "not-an-address"
	require.NotNil(t, q.Add(bad))
	assert.Equal(t, 0, q.Depth(types.Sepolia))
}

func TestQueue_FlushAll(t *testing.T) {
	q := New(100, time.Hour, 0)
	defer q.Close()

	require.NoError(t, q.Add(testIntent("at1-0", types.Sepolia)))
	require.NoError(t, q.Add(testIntent("at1-1", types.Amoy)))
	q.FlushAll()

	chains := map[types.ChainID]bool{}
	for i := 0; i < 2; i++ {
		batch := collect(t, q, time.Second)
		chains[batch.ChainID] = true
	}
	assert.Equal(t, true, chains[types.Sepolia])
	assert.Equal(t, true, chains[types.Amoy])
}

func TestQueue_HighWaterLogsDegradedSignal(t *testing.T) {
	hook := logTest.NewGlobal()
	q := New(100, time.Hour, 3)
	go func() {
		for range q.Out() {
		}
	}()
	defer q.Close()

	for i := 0; i < 2; i++ {
		require.NoError(t, q.Add(testIntent(fmt.Sprintf("at1-%d", i), types.Sepolia)))
	}
	require.LogsDoNotContain(t, hook, "high-water mark")

	require.NoError(t, q.Add(testIntent("at1-2", types.Sepolia)))
	require.LogsContain(t, hook, "high-water mark")
	// The mark only degrades the signal; every intent stays queued.
	assert.Equal(t, 3, q.Depth(types.Sepolia))
}

func TestQueue_ExactlyMaxSizeSingleFlush(t *testing.T) {
	q := New(2, 50*time.Millisecond, 0)
	defer q.Close()

	require.NoError(t, q.Add(testIntent("at1-0", types.Sepolia)))
	require.NoError(t, q.Add(testIntent("at1-1", types.Sepolia)))

	first := collect(t, q, time.Second)
	require.Equal(t, 2, len(first.Intents))

	// The timer must not produce a second, empty flush.
	select {
	case extra := <-q.Out():
		t.Fatalf("unexpected extra batch %s", extra.BatchID)
	case <-time.After(120 * time.Millisecond):
	}
}
