package metrics

import (
	"testing"

	"github.com/privacybox/relayer/relayer/types"
	"github.com/privacybox/relayer/testing/assert"
	"github.com/privacybox/relayer/testing/require"
)

func staticDeps() Deps {
	return Deps{
		QueueDepth:     func(types.ChainID) int { return 3 },
		DLQSize:        func(types.ChainID) int { return 1 },
		WalletCount:    func(types.ChainID) int { return 2 },
		WalletBalances: func(types.ChainID) map[string]string { return map[string]string{"0xabc": "1"} },
	}
}

func TestRegistry_SnapshotCoversAllChains(t *testing.T) {
	r := NewRegistry()
	snaps := r.Snapshot(staticDeps())
	require.Equal(t, len(types.SupportedChains()), len(snaps))
	assert.Equal(t, "sepolia", snaps[0].Chain)
	assert.Equal(t, 3, snaps[0].QueueDepth)
	assert.Equal(t, 1, snaps[0].DLQSize)
	assert.Equal(t, 2, snaps[0].WalletCount)
}

func TestRegistry_CountsOutcomes(t *testing.T) {
	r := NewRegistry()
	r.IntentArrived(types.Sepolia)
	r.IntentSettled(types.Sepolia, true)
	r.IntentSettled(types.Sepolia, true)
	r.IntentSettled(types.Sepolia, false)

	snaps := r.Snapshot(staticDeps())
	assert.Equal(t, uint64(2), snaps[0].Confirmed)
	assert.Equal(t, uint64(1), snaps[0].Failed)
	assert.Equal(t, uint64(0), snaps[1].Confirmed, "amoy must be untouched")
}

func TestRegistry_StabilityFlag(t *testing.T) {
	r := NewRegistry()
	// Completions keep pace with arrivals: stable.
	for i := 0; i < 10; i++ {
		r.IntentArrived(types.Sepolia)
		r.IntentSettled(types.Sepolia, true)
	}
	snaps := r.Snapshot(staticDeps())
	assert.Equal(t, true, snaps[0].Stable, "lambda < k*mu should be stable")

	// Arrivals with no completions at all: unstable.
	r2 := NewRegistry()
	for i := 0; i < 10; i++ {
		r2.IntentArrived(types.Sepolia)
	}
	snaps2 := r2.Snapshot(staticDeps())
	assert.Equal(t, false, snaps2[0].Stable)

	// An idle chain is trivially stable.
	r3 := NewRegistry()
	snaps3 := r3.Snapshot(staticDeps())
	assert.Equal(t, true, snaps3[0].Stable)
}
