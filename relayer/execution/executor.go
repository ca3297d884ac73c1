package execution

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/privacybox/relayer/relayer/db/iface"
	"github.com/privacybox/relayer/relayer/types"
	"github.com/privacybox/relayer/relayer/wallet"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "execution")

// receiptPollInterval is how often a pending receipt is re-queried.
const receiptPollInterval = 3 * time.Second

// Client is the EVM RPC surface the executor needs, satisfied by
// *ethclient.Client.
type Client interface {
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Result is the outcome of settling one intent.
type Result struct {
	Intent      types.TransferIntent
	TxHash      string
	BlockNumber uint64
	Err         error
}

// Config tunes one per-chain executor.
type Config struct {
	ChainID        types.ChainID
	Client         Client
	Database       iface.Database
	Attempts       int
	Backoff        time.Duration
	ReceiptTimeout time.Duration
}

// Executor settles intents on a single target chain.
type Executor struct {
	cfg Config
}

// NewExecutor builds an executor for one chain.
func NewExecutor(cfg Config) *Executor {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 120 * time.Second
	}
	return &Executor{cfg: cfg}
}

// Chain this executor settles on.
func (e *Executor) Chain() types.ChainID {
	return e.cfg.ChainID
}

// Send settles one intent from one wallet slot, retrying transient failures
// with exponential backoff. A fresh nonce is only taken when no prior
// broadcast of this intent is unresolved: once a transaction is accepted by
// the network, later attempts wait on its hash instead of replacing it, so
// one intent can never have two live transactions. The terminal outcome is
// written to the store before Send returns.
func (e *Executor) Send(ctx context.Context, intent types.TransferIntent, slot *wallet.Slot) Result {
	result := Result{Intent: intent}

	if err := e.cfg.Database.UpdateStatus(intent.RequestID, types.StatusInFlight, iface.Meta{}); err != nil {
		result.Err = errors.Wrap(err, "could not mark intent in flight")
		return result
	}

	// A re-enqueued intent may have already landed before a crash; probe
	// the recorded hash before spending another transaction.
	if hash, blockNum, ok := e.recoverPriorSend(ctx, intent); ok {
		result.TxHash = hash
		result.BlockNumber = blockNum
		e.recordConfirmed(intent, hash, blockNum)
		return result
	}

	var (
		lastErr  *ChainError
		lastHash string
	)
	for attempt := 1; attempt <= e.cfg.Attempts; attempt++ {
		var (
			hash     string
			blockNum uint64
			chainErr *ChainError
		)
		if lastHash == "" {
			hash, blockNum, chainErr = e.attempt(ctx, intent, slot)
		} else {
			// A prior broadcast is still live in the mempool. Keep waiting
			// on its hash rather than spending a second nonce: a fresh
			// transaction could mine alongside the stuck one once it
			// unsticks, settling the intent twice.
			hash = lastHash
			blockNum, chainErr = e.resolvePending(ctx, lastHash)
		}
		if chainErr == nil {
			result.TxHash = hash
			result.BlockNumber = blockNum
			e.recordConfirmed(intent, hash, blockNum)
			return result
		}
		lastErr = chainErr
		if hash != "" {
			// Broadcast was accepted but did not confirm; keep the hash
			// so a later retry or restart can probe the receipt.
			lastHash = hash
		}
		txFailed.WithLabelValues(e.cfg.ChainID.String()).Inc()
		log.WithError(chainErr).WithFields(map[string]interface{}{
			"requestId":  intent.RequestID,
			"attempt":    attempt,
			"retryCount": intent.RetryCount,
		}).Warn("Send attempt failed")
		if chainErr.Permanent() {
			break
		}
		if chainErr.Kind == KindNonce {
			// The lane drifted from the chain; reconcile before the retry
			// reserves its fresh nonce.
			if err := slot.RefreshNonce(ctx); err != nil {
				log.WithError(err).Warn("Nonce refresh after nonce error failed")
			}
		}
		if attempt < e.cfg.Attempts {
			backoff := e.cfg.Backoff << uint(attempt-1)
			select {
			case <-ctx.Done():
				result.Err = ctx.Err()
				return result
			case <-time.After(backoff):
			}
		}
	}

	result.Err = lastErr
	if err := e.cfg.Database.UpdateStatus(intent.RequestID, types.StatusFailed, iface.Meta{
		ErrorMessage: lastErr.Error(),
		EvmTxHash:    lastHash,
	}); err != nil {
		log.WithError(err).WithField("requestId", intent.RequestID).Error("Could not record failure")
	}
	return result
}

// attempt performs a single reserve-nonce/broadcast/await-receipt cycle.
func (e *Executor) attempt(ctx context.Context, intent types.TransferIntent, slot *wallet.Slot) (string, uint64, *ChainError) {
	amount, err := types.ParseAmount(intent.Amount)
	if err != nil {
		return "", 0, newChainError(KindMalformed, "unparseable amount "+intent.Amount)
	}
	if !common.IsHexAddress(intent.Recipient) {
		return "", 0, newChainError(KindInvalidRecipient, "unparseable recipient "+intent.Recipient)
	}
	recipient := common.HexToAddress(intent.Recipient)

	fee, err := slot.Gas().Suggest(ctx)
	if err != nil {
		return "", 0, Classify(err)
	}
	nonce := slot.ReserveNonce()
	tx, err := e.buildAndSign(slot, nonce, recipient, amount, fee)
	if err != nil {
		slot.ReleaseNonce(nonce)
		return "", 0, Classify(err)
	}

	if err := e.cfg.Client.SendTransaction(ctx, tx); err != nil {
		// The transaction never reached the network, so the nonce goes
		// back to the lane.
		slot.ReleaseNonce(nonce)
		return "", 0, Classify(err)
	}
	txSent.WithLabelValues(e.cfg.ChainID.String()).Inc()
	log.WithFields(map[string]interface{}{
		"requestId": intent.RequestID,
		"txHash":    tx.Hash().Hex(),
		"nonce":     nonce,
		"wallet":    slot.Address().Hex(),
	}).Info("Broadcast transfer")

	receipt, chainErr := e.awaitReceipt(ctx, tx.Hash())
	if chainErr != nil {
		// The broadcast was accepted; the nonce is spent either way, so
		// leave the lane to the post-batch refresh.
		slot.ConfirmNonce(nonce)
		return tx.Hash().Hex(), 0, chainErr
	}
	slot.ConfirmNonce(nonce)
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return tx.Hash().Hex(), receipt.BlockNumber.Uint64(), newChainError(KindReverted, "execution reverted on chain")
	}
	return tx.Hash().Hex(), receipt.BlockNumber.Uint64(), nil
}

func (e *Executor) buildAndSign(slot *wallet.Slot, nonce uint64, recipient common.Address, amount *big.Int, fee wallet.FeeParams) (*gethtypes.Transaction, error) {
	chainID := new(big.Int).SetUint64(uint64(e.cfg.ChainID))
	var txData gethtypes.TxData
	if fee.Dynamic {
		txData = &gethtypes.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			To:        &recipient,
			Value:     amount,
			Gas:       21000,
			GasFeeCap: fee.GasFeeCap,
			GasTipCap: fee.GasTipCap,
		}
	} else {
		txData = &gethtypes.LegacyTx{
			Nonce:    nonce,
			To:       &recipient,
			Value:    amount,
			Gas:      21000,
			GasPrice: fee.GasPrice,
		}
	}
	return gethtypes.SignNewTx(slot.Key(), gethtypes.LatestSignerForChainID(chainID), txData)
}

// awaitReceipt polls for the receipt until it appears or the per-attempt
// timeout elapses.
func (e *Executor) awaitReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, *ChainError) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := e.cfg.Client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, newChainError(KindTimeout, "receipt wait timed out for "+hash.Hex())
		case <-ticker.C:
		}
	}
}

// resolvePending waits out another receipt window for a transaction that was
// already broadcast. No new transaction is created here; the hash either
// confirms, reverts, or stays pending for the next attempt (or, once the
// attempts run out, for the dead letter requeue, which probes the recorded
// hash before broadcasting anything).
func (e *Executor) resolvePending(ctx context.Context, hash string) (uint64, *ChainError) {
	receipt, chainErr := e.awaitReceipt(ctx, common.HexToHash(hash))
	if chainErr != nil {
		return 0, chainErr
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return receipt.BlockNumber.Uint64(), newChainError(KindReverted, "execution reverted on chain")
	}
	return receipt.BlockNumber.Uint64(), nil
}

// recoverPriorSend checks whether a previously recorded transaction hash
// already settled this intent.
func (e *Executor) recoverPriorSend(ctx context.Context, intent types.TransferIntent) (string, uint64, bool) {
	record, err := e.cfg.Database.Record(intent.RequestID)
	if err != nil || record.EvmTxHash == "" {
		return "", 0, false
	}
	receipt, err := e.cfg.Client.TransactionReceipt(ctx, common.HexToHash(record.EvmTxHash))
	if err != nil || receipt == nil || receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return "", 0, false
	}
	log.WithFields(map[string]interface{}{
		"requestId": intent.RequestID,
		"txHash":    record.EvmTxHash,
	}).Info("Prior broadcast already settled, skipping new transaction")
	return record.EvmTxHash, receipt.BlockNumber.Uint64(), true
}

func (e *Executor) recordConfirmed(intent types.TransferIntent, hash string, blockNum uint64) {
	txConfirmed.WithLabelValues(e.cfg.ChainID.String()).Inc()
	if err := e.cfg.Database.UpdateStatus(intent.RequestID, types.StatusConfirmed, iface.Meta{
		EvmTxHash:   hash,
		BlockNumber: blockNum,
	}); err != nil {
		log.WithError(err).WithField("requestId", intent.RequestID).Error("Could not record confirmation")
	}
	log.WithFields(map[string]interface{}{
		"requestId":   intent.RequestID,
		"txHash":      hash,
		"blockNumber": blockNum,
	}).Info("Transfer confirmed")
}
