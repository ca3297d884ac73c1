package wallet

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/privacybox/relayer/relayer/types"
)

// Slot is one signing key bound to one chain. All mutable fields are guarded
// by the slot mutex; nonces issued by a slot are strictly monotonic and
// contiguous.
type Slot struct {
	chain   types.ChainID
	address common.Address
	key     *ecdsa.PrivateKey
	client  Client
	gas     *GasManager

	mu           sync.Mutex
	nextNonce    uint64
	pendingCount int
	balance      *big.Int
}

func newSlot(chain types.ChainID, key *ecdsa.PrivateKey, client Client, gas *GasManager) *Slot {
	return &Slot{
		chain:   chain,
		address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
		client:  client,
		gas:     gas,
		balance: new(big.Int),
	}
}

// Address of the signing key.
func (s *Slot) Address() common.Address {
	return s.address
}

// Chain this slot signs for.
func (s *Slot) Chain() types.ChainID {
	return s.chain
}

// Key returns the signing key for transaction signing.
func (s *Slot) Key() *ecdsa.PrivateKey {
	return s.key
}

// Gas returns the slot's gas manager.
func (s *Slot) Gas() *GasManager {
	return s.gas
}

// ReserveNonce hands out the next nonce in the lane and counts it as
// pending.
func (s *Slot) ReserveNonce() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce := s.nextNonce
	s.nextNonce++
	s.pendingCount++
	return nonce
}

// ReleaseNonce returns a nonce that never reached the network, so the next
// reservation re-uses it. Only the most recently reserved nonce can be
// released; the per-wallet-per-batch serialization makes that the only case.
func (s *Slot) ReleaseNonce(nonce uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nonce+1 != s.nextNonce {
		log.WithFields(map[string]interface{}{
			"address": s.address.Hex(),
			"nonce":   nonce,
			"next":    s.nextNonce,
		}).Error("Refusing to release a non-tail nonce")
		return
	}
	s.nextNonce = nonce
	s.pendingCount--
}

// ConfirmNonce marks a broadcast nonce as settled on chain.
func (s *Slot) ConfirmNonce(nonce uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingCount > 0 {
		s.pendingCount--
	}
}

// PendingCount is the number of nonces reserved but not yet confirmed.
func (s *Slot) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingCount
}

// Balance returns the cached balance in wei.
func (s *Slot) Balance() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.balance)
}

// RefreshNonce reconciles the local lane with the chain's pending
// transaction count, repairing drift from out-of-band transactions or
// crashes. A lane with reserved-but-unconfirmed nonces is left alone:
// rolling it back mid-send would hand the same nonce to two transactions.
func (s *Slot) RefreshNonce(ctx context.Context) error {
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return errors.Wrapf(err, "could not refresh nonce for %s", s.address.Hex())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingCount > 0 {
		return nil
	}
	if nonce != s.nextNonce {
		log.WithFields(map[string]interface{}{
			"address": s.address.Hex(),
			"local":   s.nextNonce,
			"chain":   nonce,
		}).Info("Reconciling nonce lane with chain")
		s.nextNonce = nonce
	}
	return nil
}

// RefreshBalance re-reads the slot's balance from the chain.
func (s *Slot) RefreshBalance(ctx context.Context) error {
	balance, err := s.client.BalanceAt(ctx, s.address, nil)
	if err != nil {
		return errors.Wrapf(err, "could not refresh balance for %s", s.address.Hex())
	}
	s.mu.Lock()
	s.balance = balance
	s.mu.Unlock()
	return nil
}

// CanAfford reports whether the cached balance covers amount plus the
// worst-case fee of one transfer.
func (s *Slot) CanAfford(amount *big.Int, fee FeeParams) bool {
	need := new(big.Int).Add(amount, fee.WorstCaseFee())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance.Cmp(need) >= 0
}
