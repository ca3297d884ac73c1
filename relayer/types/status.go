package types

import "time"

// Status is the settlement state of an intent record.
type Status string

// Intent record statuses. The only legal transitions are
// pending -> (in_flight | permanently_failed),
// in_flight -> (confirmed | failed) and
// failed -> (in_flight | permanently_failed). A pending intent reaches
// permanently_failed without ever flying when its retry cap runs out
// before any wallet can take it.
const (
	StatusPending           Status = "pending"
	StatusInFlight          Status = "in_flight"
	StatusConfirmed         Status = "confirmed"
	StatusFailed            Status = "failed"
	StatusPermanentlyFailed Status = "permanently_failed"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInFlight, StatusConfirmed, StatusFailed, StatusPermanentlyFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is a terminal status. A request id maps to at
// most one terminal status for all time.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusPermanentlyFailed
}

// ValidTransition reports whether moving a record from one status to another
// is legal. Same-status updates are treated as idempotent no-ops and allowed.
func ValidTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusInFlight || to == StatusPermanentlyFailed
	case StatusInFlight:
		return to == StatusConfirmed || to == StatusFailed
	case StatusFailed:
		return to == StatusInFlight || to == StatusPermanentlyFailed
	default:
		return false
	}
}

// IntentRecord is the persisted view of an intent. It carries enough of the
// original intent to rebuild it for the startup recovery sweep.
type IntentRecord struct {
	RequestID     string    `json:"requestId"`
	Status        Status    `json:"status"`
	AleoTxID      string    `json:"aleoTxId"`
	ChainID       ChainID   `json:"chainId"`
	Amount        string    `json:"amount"`
	Recipient     string    `json:"recipient"`
	EvmTxHash     string    `json:"evmTxHash,omitempty"`
	BlockNumber   uint64    `json:"blockNumber,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	RetryCount    int       `json:"retryCount"`
	FirstSeenAt   time.Time `json:"firstSeenAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// Intent rebuilds the in-memory intent from a persisted record.
func (r *IntentRecord) Intent() TransferIntent {
	return TransferIntent{
		RequestID:  r.RequestID,
		SourceTxID: r.AleoTxID,
		ChainID:    r.ChainID,
		Amount:     r.Amount,
		Recipient:  r.Recipient,
		CreatedAt:  r.FirstSeenAt,
		RetryCount: r.RetryCount,
	}
}

// NewPendingRecord builds the record the listener writes before enqueueing an
// intent.
func NewPendingRecord(intent TransferIntent) *IntentRecord {
	now := time.Now()
	return &IntentRecord{
		RequestID:     intent.RequestID,
		Status:        StatusPending,
		AleoTxID:      intent.SourceTxID,
		ChainID:       intent.ChainID,
		Amount:        intent.Amount,
		Recipient:     intent.Recipient,
		RetryCount:    intent.RetryCount,
		FirstSeenAt:   now,
		LastUpdatedAt: now,
	}
}
