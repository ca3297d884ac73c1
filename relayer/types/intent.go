package types

import (
	"regexp"
	"time"

	"github.com/pkg/errors"
)

// ErrValidation is the root cause of every ingress validation failure. Use
// errors.Is(err, ErrValidation) to distinguish malformed input from
// operational errors.
var ErrValidation = errors.New("intent validation failed")

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// TransferIntent is the unit of work: a request observed on the source chain
// to settle a native-token transfer on a target EVM chain.
type TransferIntent struct {
	RequestID  string    `json:"requestId"`
	SourceTxID string    `json:"sourceTxId"`
	ChainID    ChainID   `json:"chainId"`
	Amount     string    `json:"amount"`
	Recipient  string    `json:"recipient"`
	CreatedAt  time.Time `json:"createdAt"`
	RetryCount int       `json:"retryCount"`
}

// Validate checks the intent for ingress acceptability. All failures wrap
// ErrValidation.
func (i *TransferIntent) Validate() error {
	if i.RequestID == "" {
		return errors.Wrap(ErrValidation, "missing request id")
	}
	if !i.ChainID.Valid() {
		return errors.Wrapf(ErrValidation, "unsupported chain id %d", i.ChainID)
	}
	if i.Amount == "" {
		return errors.Wrap(ErrValidation, "empty amount")
	}
	if _, err := ParseAmount(i.Amount); err != nil {
		return errors.Wrapf(ErrValidation, "bad amount %q: %v", i.Amount, err)
	}
	if !addressPattern.MatchString(i.Recipient) {
		return errors.Wrapf(ErrValidation, "malformed recipient %q", i.Recipient)
	}
	return nil
}

// Batch is a bounded group of intents flushed together for one target chain.
// A batch is created empty, closed exactly once, and never reopened.
type Batch struct {
	BatchID  string           `json:"batchId"`
	ChainID  ChainID          `json:"chainId"`
	Intents  []TransferIntent `json:"intents"`
	OpenedAt time.Time        `json:"openedAt"`
}
