package types

import (
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/privacybox/relayer/testing/assert"
	"github.com/privacybox/relayer/testing/require"
)

func validIntent() TransferIntent {
	return TransferIntent{
		RequestID:  "at1qqqq",
		SourceTxID: "at1qqqq",
		ChainID:    Sepolia,
		Amount:     "0.01",
		Recipient:  "0xABCDEF0123456789abcdef0123456789ABCDEF01",
	}
}

func TestTransferIntent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TransferIntent)
		wantErr string
	}{
		{name: "valid", mutate: func(i *TransferIntent) {}},
		{
			name:    "missing request id",
			mutate:  func(i *TransferIntent) { i.RequestID = "" },
			wantErr: "missing request id",
		},
		{
			name:    "unknown chain",
			mutate:  func(i *TransferIntent) { i.ChainID = 1337 },
			wantErr: "unsupported chain id",
		},
		{
			name:    "empty amount",
			mutate:  func(i *TransferIntent) { i.Amount = "" },
			wantErr: "empty amount",
		},
		{
			name:    "zero amount",
			mutate:  func(i *TransferIntent) { i.Amount = "0" },
			wantErr: "bad amount",
		},
		{
			name:    "negative amount",
			mutate:  func(i *TransferIntent) { i.Amount = "-1" },
			wantErr: "bad amount",
		},
		{
			name:    "non-numeric amount",
			mutate:  func(i *TransferIntent) { i.Amount = "lots" },
			wantErr: "bad amount",
		},
		{
			name:    "recipient wrong length",
			mutate:  func(i *TransferIntent) { i.Recipient = "0xABCD" },
			wantErr: "malformed recipient",
		},
		{
			name:    "recipient missing prefix",
			mutate:  func(i *TransferIntent) { i.Recipient = "ABCDEF0123456789abcdef0123456789ABCDEF01" },
			wantErr: "malformed recipient",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := validIntent()
			tt.mutate(&intent)
			err := intent.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, tt.wantErr, err)
			assert.Equal(t, true, errors.Is(err, ErrValidation), "validation errors must wrap ErrValidation")
		})
	}
}

func TestValidTransition(t *testing.T) {
	legal := [][2]Status{
		{StatusPending, StatusInFlight},
		// An intent no wallet could ever take exhausts its retries while
		// still pending.
		{StatusPending, StatusPermanentlyFailed},
		{StatusInFlight, StatusConfirmed},
		{StatusInFlight, StatusFailed},
		{StatusFailed, StatusInFlight},
		{StatusFailed, StatusPermanentlyFailed},
	}
	for _, tr := range legal {
		assert.Equal(t, true, ValidTransition(tr[0], tr[1]), "%s -> %s should be legal", tr[0], tr[1])
	}
	illegal := [][2]Status{
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusFailed},
		{StatusConfirmed, StatusFailed},
		{StatusConfirmed, StatusInFlight},
		{StatusPermanentlyFailed, StatusInFlight},
		{StatusInFlight, StatusPending},
	}
	for _, tr := range illegal {
		assert.Equal(t, false, ValidTransition(tr[0], tr[1]), "%s -> %s should be illegal", tr[0], tr[1])
	}
}

func TestParseAmount(t *testing.T) {
	wei, err := ParseAmount("0.01")
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("10000000000000000", 10)
	assert.Equal(t, 0, wei.Cmp(want))

	_, err = ParseAmount("0")
	require.ErrorContains(t, "must be positive", err)
	_, err = ParseAmount("-0.5")
	require.ErrorContains(t, "must be positive", err)
	_, err = ParseAmount("")
	require.ErrorContains(t, "empty amount", err)
	_, err = ParseAmount("1e")
	require.ErrorContains(t, "non-numeric", err)
	_, err = ParseAmount("100000000")
	require.ErrorContains(t, "exceeds", err)
}

func TestFormatWei(t *testing.T) {
	cases := map[string]string{
		"10000000000000000":   "0.01",
		"1000000000000000000": "1",
		"1500000000000000000": "1.5",
		"1":                   "0.000000000000000001",
	}
	for in, want := range cases {
		wei, _ := new(big.Int).SetString(in, 10)
		assert.Equal(t, want, FormatWei(wei), "FormatWei(%s)", in)
	}
}

func TestChainFromCode(t *testing.T) {
	id, ok := ChainFromCode(1)
	require.Equal(t, true, ok)
	assert.Equal(t, Sepolia, id)
	id, ok = ChainFromCode(2)
	require.Equal(t, true, ok)
	assert.Equal(t, Amoy, id)
	_, ok = ChainFromCode(3)
	assert.Equal(t, false, ok)
}
