package execution

import (
	"context"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/privacybox/relayer/relayer/db/iface"
	"github.com/privacybox/relayer/relayer/db/kv"
	"github.com/privacybox/relayer/relayer/types"
	"github.com/privacybox/relayer/relayer/wallet"
	"github.com/privacybox/relayer/testing/assert"
	"github.com/privacybox/relayer/testing/require"
)

const (
	testKey1 = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	testKey2 = "8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a"
)

// fakeWalletRPC backs the wallet pool in tests.
type fakeWalletRPC struct {
	nonce uint64
}

func (f *fakeWalletRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeWalletRPC) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)), nil
}

func (f *fakeWalletRPC) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	return &gethtypes.Header{Number: big.NewInt(1)}, nil
}

func (f *fakeWalletRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1e9), nil
}

func (f *fakeWalletRPC) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1e9), nil
}

// fakeEVM is the broadcast/receipt surface.
type fakeEVM struct {
	mu            sync.Mutex
	sendErrs      []error
	sent          []*gethtypes.Transaction
	receiptStatus uint64
	receiptErr    error
	// receiptFailures fails that many receipt lookups before succeeding,
	// simulating a transaction stuck in the mempool.
	receiptFailures int
}

func (f *fakeEVM) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeEVM) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptFailures > 0 {
		f.receiptFailures--
		return nil, errors.New("not found")
	}
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return &gethtypes.Receipt{Status: f.receiptStatus, BlockNumber: big.NewInt(42)}, nil
}

func (f *fakeEVM) sentNonces() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	nonces := make([]uint64, 0, len(f.sent))
	for _, tx := range f.sent {
		nonces = append(nonces, tx.Nonce())
	}
	return nonces
}

func executorFixture(t *testing.T, evm *fakeEVM) (*Executor, *wallet.Slot, *kv.Store) {
	store, err := kv.NewKVStore(filepath.Join(t.TempDir(), "transactions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pool, err := wallet.NewPool(
		[]string{testKey1, testKey2},
		map[types.ChainID]wallet.Client{types.Sepolia: &fakeWalletRPC{nonce: 5}},
		1.1, time.Minute, 5,
	)
	require.NoError(t, err)
	require.NoError(t, pool.Init(context.Background()))

	exec := NewExecutor(Config{
		ChainID:        types.Sepolia,
		Client:         evm,
		Database:       store,
		Attempts:       3,
		Backoff:        time.Millisecond,
		ReceiptTimeout: 50 * time.Millisecond,
	})
	return exec, pool.Slots(types.Sepolia)[0], store
}

func sepoliaIntent(id string) types.TransferIntent {
	return types.TransferIntent{
		RequestID:  id,
		SourceTxID: id,
		ChainID:    types.Sepolia,
		Amount:     "0.01",
		Recipient:  "0xABCDEF0123456789abcdef0123456789ABCDEF01",
		CreatedAt:  time.Now(),
	}
}

func markPending(t *testing.T, store *kv.Store, intent types.TransferIntent) {
	require.NoError(t, store.MarkPending(types.NewPendingRecord(intent)))
}

func TestExecutor_HappyPath(t *testing.T) {
	evm := &fakeEVM{receiptStatus: gethtypes.ReceiptStatusSuccessful}
	exec, slot, store := executorFixture(t, evm)
	intent := sepoliaIntent("at1aaa")
	markPending(t, store, intent)

	result := exec.Send(context.Background(), intent, slot)
	require.NoError(t, result.Err)
	require.NotEqual(t, "", result.TxHash)
	assert.Equal(t, uint64(42), result.BlockNumber)

	record, err := store.Record("at1aaa")
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, record.Status)
	assert.Equal(t, result.TxHash, record.EvmTxHash)
	assert.Equal(t, uint64(42), record.BlockNumber)

	assert.DeepEqual(t, []uint64{5}, evm.sentNonces())
	assert.Equal(t, 0, slot.PendingCount())
}

func TestExecutor_TransientNonceErrorRetries(t *testing.T) {
	evm := &fakeEVM{
		receiptStatus: gethtypes.ReceiptStatusSuccessful,
		sendErrs:      []error{errors.New("nonce too low")},
	}
	exec, slot, store := executorFixture(t, evm)
	intent := sepoliaIntent("at1aaa")
	markPending(t, store, intent)

	result := exec.Send(context.Background(), intent, slot)
	require.NoError(t, result.Err)

	record, err := store.Record("at1aaa")
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, record.Status)
	// The failed broadcast released its nonce, so the retry re-used it.
	assert.DeepEqual(t, []uint64{5}, evm.sentNonces())
}

func TestExecutor_RevertIsPermanent(t *testing.T) {
	evm := &fakeEVM{receiptStatus: gethtypes.ReceiptStatusFailed}
	exec, slot, store := executorFixture(t, evm)
	intent := sepoliaIntent("at1aaa")
	markPending(t, store, intent)

	result := exec.Send(context.Background(), intent, slot)
	require.NotNil(t, result.Err)
	chainErr := Classify(result.Err)
	assert.Equal(t, KindReverted, chainErr.Kind)
	// Permanent failures do not burn the remaining attempts.
	assert.Equal(t, 1, len(evm.sentNonces()))

	record, err := store.Record("at1aaa")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, record.Status)
}

func TestExecutor_AllAttemptsExhausted(t *testing.T) {
	evm := &fakeEVM{
		sendErrs: []error{
			errors.New("connection refused"),
			errors.New("connection refused"),
			errors.New("connection refused"),
		},
	}
	exec, slot, store := executorFixture(t, evm)
	intent := sepoliaIntent("at1aaa")
	markPending(t, store, intent)

	result := exec.Send(context.Background(), intent, slot)
	require.NotNil(t, result.Err)
	assert.Equal(t, 0, len(evm.sentNonces()))
	assert.Equal(t, 0, slot.PendingCount(), "released nonces must not leak pending count")

	record, err := store.Record("at1aaa")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, record.Status)
	require.NotEqual(t, "", record.ErrorMessage)
}

func TestExecutor_ReceiptTimeoutDoesNotRebroadcast(t *testing.T) {
	evm := &fakeEVM{receiptErr: errors.New("not found")}
	exec, slot, store := executorFixture(t, evm)
	intent := sepoliaIntent("at1aaa")
	markPending(t, store, intent)

	result := exec.Send(context.Background(), intent, slot)
	require.NotNil(t, result.Err)
	assert.Equal(t, KindTimeout, Classify(result.Err).Kind)
	// The stuck transaction could still mine; replacing it at a fresh nonce
	// would let both land.
	require.Equal(t, 1, len(evm.sentNonces()), "an unresolved broadcast must never be replaced")

	record, err := store.Record("at1aaa")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, record.Status)
	require.NotEqual(t, "", record.EvmTxHash, "the unresolved hash must survive for the requeue probe")
}

func TestExecutor_ReceiptTimeoutResolvedOnLaterWait(t *testing.T) {
	evm := &fakeEVM{receiptStatus: gethtypes.ReceiptStatusSuccessful, receiptFailures: 2}
	exec, slot, store := executorFixture(t, evm)
	intent := sepoliaIntent("at1aaa")
	markPending(t, store, intent)

	result := exec.Send(context.Background(), intent, slot)
	require.NoError(t, result.Err)
	require.Equal(t, 1, len(evm.sentNonces()), "retries must wait on the first hash, not broadcast again")

	record, err := store.Record("at1aaa")
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, record.Status)
	assert.Equal(t, result.TxHash, record.EvmTxHash)
}

func TestExecutor_RecoversPriorSend(t *testing.T) {
	evm := &fakeEVM{receiptStatus: gethtypes.ReceiptStatusSuccessful}
	exec, slot, store := executorFixture(t, evm)
	intent := sepoliaIntent("at1aaa")
	intent.RetryCount = 1
	markPending(t, store, intent)

	// Simulate a crash after broadcast: the record carries a tx hash and a
	// failed status from the prior life of the process.
	require.NoError(t, store.UpdateStatus("at1aaa", types.StatusInFlight, iface.Meta{}))
	require.NoError(t, store.UpdateStatus("at1aaa", types.StatusFailed, iface.Meta{
		EvmTxHash: "0x6b175474e89094c44da98b954eedeac495271d0f6b175474e89094c44da98b95",
	}))

	result := exec.Send(context.Background(), intent, slot)
	require.NoError(t, result.Err)
	assert.Equal(t, 0, len(evm.sentNonces()), "a settled intent must not be re-broadcast")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		kind Kind
	}{
		{"nonce too low", KindNonce},
		{"replacement transaction underpriced", KindNonce},
		{"transaction underpriced", KindUnderpriced},
		{"insufficient funds for gas * price + value", KindInsufficientFunds},
		{"execution reverted", KindReverted},
		{"context deadline exceeded", KindTimeout},
		{"connection refused", KindRPC},
	}
	for _, tc := range cases {
		chainErr := Classify(errors.New(tc.msg))
		assert.Equal(t, tc.kind, chainErr.Kind, "message %q", tc.msg)
	}
	assert.Equal(t, true, Classify(errors.New("execution reverted")).Permanent())
	assert.Equal(t, false, Classify(errors.New("nonce too low")).Permanent())
}
