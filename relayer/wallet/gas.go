package wallet

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FeeParams is one priced gas quote. Dynamic quotes carry EIP-1559 fields;
// legacy quotes carry only GasPrice.
type FeeParams struct {
	Dynamic   bool
	GasFeeCap *big.Int
	GasTipCap *big.Int
	GasPrice  *big.Int
}

// WorstCaseFee returns the maximum wei a native transfer priced with these
// params can cost.
func (f FeeParams) WorstCaseFee() *big.Int {
	price := f.GasPrice
	if f.Dynamic {
		price = f.GasFeeCap
	}
	if price == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(price, big.NewInt(transferGasLimit))
}

// transferGasLimit is the intrinsic gas of a native-token transfer.
const transferGasLimit = 21000

// GasManager caches fee data for one chain, refreshing at most once per
// interval and applying a safety multiplier. EIP-1559 pricing is preferred
// when the chain head carries a base fee.
type GasManager struct {
	client     Client
	multiplier float64
	interval   time.Duration

	mu          sync.Mutex
	cached      FeeParams
	lastRefresh time.Time
}

// NewGasManager builds a manager with an empty cache; the first Suggest call
// refreshes.
func NewGasManager(client Client, multiplier float64, interval time.Duration) *GasManager {
	return &GasManager{client: client, multiplier: multiplier, interval: interval}
}

// Suggest returns the cached fee quote, refreshing it if stale.
func (g *GasManager) Suggest(ctx context.Context) (FeeParams, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.lastRefresh.IsZero() && time.Since(g.lastRefresh) < g.interval {
		return g.cached, nil
	}
	params, err := g.refresh(ctx)
	if err != nil {
		if g.lastRefresh.IsZero() {
			return FeeParams{}, err
		}
		// A stale quote beats no quote; the multiplier gives headroom.
		log.WithError(err).Warn("Gas refresh failed, reusing cached fee data")
		return g.cached, nil
	}
	g.cached = params
	g.lastRefresh = time.Now()
	return params, nil
}

func (g *GasManager) refresh(ctx context.Context) (FeeParams, error) {
	head, err := g.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return FeeParams{}, errors.Wrap(err, "could not fetch chain head")
	}
	if head.BaseFee != nil {
		tip, err := g.client.SuggestGasTipCap(ctx)
		if err != nil {
			return FeeParams{}, errors.Wrap(err, "could not fetch gas tip cap")
		}
		tip = g.scale(tip)
		// feeCap = 2*baseFee + tip absorbs base fee growth across a few
		// blocks of waiting.
		feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
		return FeeParams{Dynamic: true, GasFeeCap: feeCap, GasTipCap: tip}, nil
	}
	price, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return FeeParams{}, errors.Wrap(err, "could not fetch gas price")
	}
	return FeeParams{GasPrice: g.scale(price)}, nil
}

// scale applies the configured multiplier to a wei price.
func (g *GasManager) scale(price *big.Int) *big.Int {
	scaled := new(big.Float).Mul(new(big.Float).SetInt(price), big.NewFloat(g.multiplier))
	out, _ := scaled.Int(nil)
	return out
}
