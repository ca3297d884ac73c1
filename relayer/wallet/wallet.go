// Package wallet manages the relayer's signing keys. Each chain gets k
// signing slots; a slot owns one nonce lane, a cached balance and a gas
// manager. The scheduler picks one slot per intent so a slot never sees two
// intents from the same batch.
package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "wallet")

// Client is the subset of the EVM RPC surface the wallet layer needs. It is
// satisfied by *ethclient.Client.
type Client interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}
