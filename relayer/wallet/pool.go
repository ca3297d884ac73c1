package wallet

import (
	"context"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/privacybox/relayer/relayer/types"
)

// MinKeysPerChain is the minimum number of signing keys every enabled chain
// must have. Startup fails below it.
const MinKeysPerChain = 2

// ErrNoEligibleWallet is returned by Select when every slot is either busy,
// excluded or underfunded.
var ErrNoEligibleWallet = errors.New("no eligible wallet for chain")

// Pool holds the signing slots for every enabled chain.
type Pool struct {
	mu             sync.Mutex
	slots          map[types.ChainID][]*Slot
	maxOutstanding int
	rng            *rand.Rand
}

// NewPool derives one slot per (chain, key) pair and verifies the k >= 2
// requirement. The same key set serves every chain; nonce lanes are
// per-chain because EVM nonces are.
func NewPool(privateKeys []string, clients map[types.ChainID]Client, gasMultiplier float64, gasInterval time.Duration, maxOutstanding int) (*Pool, error) {
	if len(privateKeys) < MinKeysPerChain {
		return nil, errors.Errorf("need at least %d relayer keys, got %d", MinKeysPerChain, len(privateKeys))
	}
	pool := &Pool{
		slots:          make(map[types.ChainID][]*Slot),
		maxOutstanding: maxOutstanding,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	seen := make(map[common.Address]bool)
	for _, hexKey := range privateKeys {
		key, err := crypto.HexToECDSA(strip0x(hexKey))
		if err != nil {
			return nil, errors.Wrap(err, "invalid relayer private key")
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if seen[addr] {
			return nil, errors.Errorf("duplicate relayer key for address %s", addr.Hex())
		}
		seen[addr] = true
		for chain, client := range clients {
			gas := NewGasManager(client, gasMultiplier, gasInterval)
			pool.slots[chain] = append(pool.slots[chain], newSlot(chain, key, client, gas))
		}
	}
	for chain, slots := range pool.slots {
		log.WithFields(map[string]interface{}{
			"chainId": chain,
			"wallets": len(slots),
		}).Info("Initialized wallet slots")
	}
	return pool, nil
}

func strip0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Init queries initial nonces and balances for every slot.
func (p *Pool) Init(ctx context.Context) error {
	for _, slots := range p.slots {
		for _, slot := range slots {
			if err := slot.RefreshNonce(ctx); err != nil {
				return err
			}
			if err := slot.RefreshBalance(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Slots returns the slots for a chain.
func (p *Pool) Slots(chain types.ChainID) []*Slot {
	return p.slots[chain]
}

// Chains returns every chain the pool serves.
func (p *Pool) Chains() []types.ChainID {
	chains := make([]types.ChainID, 0, len(p.slots))
	for chain := range p.slots {
		chains = append(chains, chain)
	}
	return chains
}

// Select picks a wallet for one intent: uniform random among slots that are
// not excluded, have room in their lane and can afford amount plus fee.
func (p *Pool) Select(chain types.ChainID, amount *big.Int, fee FeeParams, excluded map[common.Address]bool) (*Slot, error) {
	var eligible []*Slot
	for _, slot := range p.slots[chain] {
		if excluded[slot.Address()] {
			continue
		}
		if slot.PendingCount() >= p.maxOutstanding {
			continue
		}
		if !slot.CanAfford(amount, fee) {
			log.WithFields(map[string]interface{}{
				"address": slot.Address().Hex(),
				"chainId": chain,
			}).Warn("Wallet excluded from batch, balance too low")
			continue
		}
		eligible = append(eligible, slot)
	}
	if len(eligible) == 0 {
		return nil, errors.Wrapf(ErrNoEligibleWallet, "%s", chain)
	}
	p.mu.Lock()
	pick := eligible[p.rng.Intn(len(eligible))]
	p.mu.Unlock()
	return pick, nil
}

// RefreshNonces reconciles every slot lane on a chain with the chain's
// pending transaction count. Called after every batch.
func (p *Pool) RefreshNonces(ctx context.Context, chain types.ChainID) {
	for _, slot := range p.slots[chain] {
		if err := slot.RefreshNonce(ctx); err != nil {
			log.WithError(err).Warn("Nonce refresh failed")
		}
	}
}

// RefreshBalances re-reads every slot balance across all chains.
func (p *Pool) RefreshBalances(ctx context.Context) {
	for _, slots := range p.slots {
		for _, slot := range slots {
			if err := slot.RefreshBalance(ctx); err != nil {
				log.WithError(err).Warn("Balance refresh failed")
			}
		}
	}
}

// Balances returns the cached balance per wallet address for a chain,
// human-denominated.
func (p *Pool) Balances(chain types.ChainID) map[string]string {
	out := make(map[string]string)
	for _, slot := range p.slots[chain] {
		out[slot.Address().Hex()] = types.FormatWei(slot.Balance())
	}
	return out
}

// MinBalance returns the smallest cached balance across every slot of every
// chain, in wei. Used for the degraded health signal.
func (p *Pool) MinBalance() *big.Int {
	var min *big.Int
	for _, slots := range p.slots {
		for _, slot := range slots {
			b := slot.Balance()
			if min == nil || b.Cmp(min) < 0 {
				min = b
			}
		}
	}
	if min == nil {
		return new(big.Int)
	}
	return min
}
