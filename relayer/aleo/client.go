// Package aleo watches the Aleo chain for transfer intents. The Client wraps
// the explorer HTTP API with endpoint fallback and response-shape tolerance;
// the Service polls new blocks, extracts intents from matching transitions
// and emits them to a sink after deduplication.
package aleo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "aleo")

// callTimeout bounds every single explorer HTTP call.
const callTimeout = 10 * time.Second

// ErrAllEndpointsFailed is returned when every configured endpoint failed for
// one logical call. It counts as a single circuit breaker failure.
var ErrAllEndpointsFailed = errors.New("all aleo endpoints failed")

// Transaction is the envelope the explorer returns for one Aleo transaction.
type Transaction struct {
	ID        string `json:"id"`
	Execution struct {
		Transitions []Transition `json:"transitions"`
	} `json:"execution"`
}

// Transition is one program call within a transaction.
type Transition struct {
	Program  string  `json:"program"`
	Function string  `json:"function"`
	Inputs   []Value `json:"inputs"`
	Outputs  []Value `json:"outputs"`
}

// Value is a typed literal in a transition's inputs or outputs, e.g.
// {"type":"public","value":"10000000000000000u64"}.
type Value struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Client talks to the Aleo explorer API over an ordered list of base URLs.
// On any single-call error the next endpoint is tried; only when all fail is
// an error surfaced.
type Client struct {
	endpoints []string
	http      *http.Client
	// txCache memoizes per-height transaction fetches so overlapping polls
	// and breaker-recovery rescans do not refetch the same blocks.
	txCache *gocache.Cache
}

// NewClient builds a client over the primary endpoint followed by fallbacks.
func NewClient(primary string, fallbacks []string) *Client {
	endpoints := append([]string{primary}, fallbacks...)
	return &Client{
		endpoints: endpoints,
		http:      &http.Client{Timeout: callTimeout},
		txCache:   gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// LatestHeight returns the current chain tip height. The explorer returns
// either a bare integer or {"height": N} depending on API version.
func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	body, err := c.get(ctx, "/block/height/latest")
	if err != nil {
		return 0, err
	}
	if h, err := strconv.ParseUint(string(body), 10, 64); err == nil {
		return h, nil
	}
	var wrapped struct {
		Height uint64 `json:"height"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return 0, errors.Wrap(err, "could not decode block height response")
	}
	return wrapped.Height, nil
}

// BlockTransactions returns the transactions of one block, tolerating both
// the bare-array and the {"transactions": [...]} response shapes, and items
// that are either transaction envelopes or {"transaction": {...}} wrappers.
func (c *Client) BlockTransactions(ctx context.Context, height uint64) ([]Transaction, error) {
	cacheKey := strconv.FormatUint(height, 10)
	if cached, ok := c.txCache.Get(cacheKey); ok {
		return cached.([]Transaction), nil
	}
	body, err := c.get(ctx, fmt.Sprintf("/block/%d/transactions", height))
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		var wrapped struct {
			Transactions []json.RawMessage `json:"transactions"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, errors.Wrapf(err, "could not decode transactions for block %d", height)
		}
		items = wrapped.Transactions
	}
	txs := make([]Transaction, 0, len(items))
	for _, item := range items {
		tx, err := decodeTransaction(item)
		if err != nil {
			log.WithError(err).WithField("height", height).Warn("Skipping undecodable transaction")
			continue
		}
		txs = append(txs, tx)
	}
	c.txCache.SetDefault(cacheKey, txs)
	return txs, nil
}

// Transaction fetches one transaction by id.
func (c *Client) Transaction(ctx context.Context, id string) (Transaction, error) {
	body, err := c.get(ctx, "/transaction/"+id)
	if err != nil {
		return Transaction{}, err
	}
	return decodeTransaction(body)
}

func decodeTransaction(raw json.RawMessage) (Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return Transaction{}, err
	}
	if tx.ID != "" || len(tx.Execution.Transitions) > 0 {
		return tx, nil
	}
	var wrapped struct {
		Transaction Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return Transaction{}, err
	}
	return wrapped.Transaction, nil
}

// get performs a GET against each endpoint in order until one succeeds.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	for _, base := range c.endpoints {
		body, err := c.getOne(ctx, base+path)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WithError(err).WithField("endpoint", base).Debug("Aleo endpoint failed, trying next")
	}
	return nil, errors.Wrapf(ErrAllEndpointsFailed, "%s: %v", path, lastErr)
}

func (c *Client) getOne(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}
