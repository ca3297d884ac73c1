package api

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/privacybox/relayer/relayer/db/kv"
	"github.com/privacybox/relayer/relayer/metrics"
	"github.com/privacybox/relayer/relayer/types"
	"github.com/privacybox/relayer/shared/circuitbreaker"
	"github.com/privacybox/relayer/testing/assert"
	"github.com/privacybox/relayer/testing/require"
)

type apiFixture struct {
	svc      *Service
	store    *kv.Store
	enqueued []types.TransferIntent
	breaker  circuitbreaker.State
	balance  *big.Int
}

func newAPIFixture(t *testing.T) *apiFixture {
	store, err := kv.NewKVStore(filepath.Join(t.TempDir(), "transactions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &apiFixture{
		store:   store,
		breaker: circuitbreaker.Closed,
		balance: new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18)),
	}
	f.svc = NewService(Config{
		Port:     0,
		Database: store,
		Registry: metrics.NewRegistry(),
		Deps: metrics.Deps{
			QueueDepth:     func(types.ChainID) int { return 0 },
			DLQSize:        func(types.ChainID) int { return 0 },
			WalletCount:    func(types.ChainID) int { return 2 },
			WalletBalances: func(types.ChainID) map[string]string { return nil },
		},
		BreakerState:  func() circuitbreaker.State { return f.breaker },
		Enqueue:       func(i types.TransferIntent) { f.enqueued = append(f.enqueued, i) },
		MinBalance:    func() *big.Int { return f.balance },
		BalanceFloor:  big.NewInt(1e16),
		DLQTotal:      func() int { return 0 },
		ShutdownGrace: time.Second,
	})
	f.svc.startedAt = time.Now()
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.svc.Handler().ServeHTTP(rec, req)
	return rec
}

func registerBody(txID string) map[string]interface{} {
	return map[string]interface{}{
		"txId":      txID,
		"chainId":   uint64(types.Sepolia),
		"amount":    "0.01",
		"recipient": "0xABCDEF0123456789abcdef0123456789ABCDEF01",
	}
}

func TestAPI_RegisterAccepted(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/intent/register", registerBody("at1front"))
	require.Equal(t, http.StatusAccepted, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "at1front", resp["requestId"])
	require.Equal(t, 1, len(f.enqueued))

	// The record must be durable before the 202 returns.
	processed, err := f.store.IsProcessed("at1front")
	require.NoError(t, err)
	assert.Equal(t, true, processed)
}

func TestAPI_RegisterDuplicateConflict(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/intent/register", registerBody("at1dup")).Code)
	rec := f.do(t, http.MethodPost, "/api/intent/register", registerBody("at1dup"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, len(f.enqueued), "duplicate must not enqueue")
}

func TestAPI_RegisterValidation(t *testing.T) {
	f := newAPIFixture(t)
	cases := []map[string]interface{}{
		{"txId": "at1x", "chainId": uint64(999), "amount": "0.01", "recipient": "0xABCDEF0123456789abcdef0123456789ABCDEF01"},
		{"txId": "at1x", "chainId": uint64(types.Sepolia), "amount": "-1", "recipient": "0xABCDEF0123456789abcdef0123456789ABCDEF01"},
		{"txId": "at1x", "chainId": uint64(types.Sepolia), "amount": "0.01", "recipient": "bogus"},
		{"txId": "", "chainId": uint64(types.Sepolia), "amount": "0.01", "recipient": "0xABCDEF0123456789abcdef0123456789ABCDEF01"},
	}
	for i, body := range cases {
		rec := f.do(t, http.MethodPost, "/api/intent/register", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "case %d: %s", i, rec.Body.String())
	}
	assert.Equal(t, 0, len(f.enqueued))
}

func TestAPI_RegisterWhileBreakerOpen(t *testing.T) {
	f := newAPIFixture(t)
	f.breaker = circuitbreaker.Open
	rec := f.do(t, http.MethodPost, "/api/intent/register", registerBody("at1x"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPI_TransactionLookup(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/intent/register", registerBody("at1look")).Code)

	rec := f.do(t, http.MethodGet, "/api/transaction/at1look", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var record types.IntentRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "at1look", record.RequestID)
	assert.Equal(t, types.StatusPending, record.Status)

	rec = f.do(t, http.MethodGet, "/api/transaction/at1missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_HealthStates(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])

	f.breaker = circuitbreaker.Open
	rec = f.do(t, http.MethodGet, "/health", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health["status"])

	f.breaker = circuitbreaker.Closed
	f.balance = big.NewInt(1)
	rec = f.do(t, http.MethodGet, "/health", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health["status"], "wallet below floor should degrade")
}

func TestAPI_MetricsAndStatus(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	chains, ok := body["chains"].([]interface{})
	require.Equal(t, true, ok)
	assert.Equal(t, len(types.SupportedChains()), len(chains))

	rec = f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "closed", body["circuitBreaker"])
}
