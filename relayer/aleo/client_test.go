package aleo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/privacybox/relayer/testing/assert"
	"github.com/privacybox/relayer/testing/require"
)

func TestClient_LatestHeight_BareInteger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "12345")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	height, err := c.LatestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), height)
}

func TestClient_LatestHeight_WrappedObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"height": 6789}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	height, err := c.LatestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(6789), height)
}

func TestClient_BlockTransactions_BothShapes(t *testing.T) {
	txJSON := `{"id":"at1qqqq","execution":{"transitions":[{"program":"p.aleo","function":"f","inputs":[{"type":"public","value":"5u64"}]}]}}`
	shapes := []string{
		`[` + txJSON + `]`,
		`{"transactions":[` + txJSON + `]}`,
		`[{"status":"accepted","transaction":` + txJSON + `}]`,
	}
	for i, body := range shapes {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
		c := NewClient(srv.URL, nil)
		txs, err := c.BlockTransactions(context.Background(), uint64(i))
		require.NoError(t, err, "shape %d", i)
		require.Equal(t, 1, len(txs), "shape %d", i)
		assert.Equal(t, "at1qqqq", txs[0].ID, "shape %d", i)
		srv.Close()
	}
}

func TestClient_BlockTransactions_Cached(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"transactions":[]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.BlockTransactions(context.Background(), 7)
	require.NoError(t, err)
	_, err = c.BlockTransactions(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second fetch of the same height should hit the cache")
}

func TestClient_EndpointFallback(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "42")
	}))
	defer good.Close()

	c := NewClient(bad.URL, []string{good.URL})
	height, err := c.LatestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), height)
}

func TestClient_AllEndpointsFailed(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	c := NewClient(bad.URL, []string{bad.URL})
	_, err := c.LatestHeight(context.Background())
	require.NotNil(t, err)
	assert.Equal(t, true, errors.Is(err, ErrAllEndpointsFailed), "got %v", err)
}
