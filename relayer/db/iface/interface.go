// Package iface defines the persistent store interface consumed by the
// listener, executor, dead letter queue and HTTP surface. It exists as its
// own package to avoid a circular dependency between the db implementation
// and its consumers.
package iface

import (
	"github.com/pkg/errors"
	"github.com/privacybox/relayer/relayer/types"
)

// Errors surfaced by store implementations.
var (
	// ErrNotFound is returned when no record exists for a request id.
	ErrNotFound = errors.New("no record found for request id")
	// ErrAlreadyExists is returned by MarkPending when a record already
	// exists. First writer wins; callers that only need idempotency can
	// ignore it, the register endpoint maps it to 409.
	ErrAlreadyExists = errors.New("record already exists for request id")
	// ErrIllegalTransition is returned by UpdateStatus for a transition
	// outside the record lifecycle.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Meta carries the optional fields of a status update. Zero values leave the
// corresponding record field unchanged.
type Meta struct {
	EvmTxHash    string
	BlockNumber  uint64
	ErrorMessage string
	RetryCount   int
}

// Database is the durable authority over intent records. MarkPending must be
// visible to IsProcessed before it returns, so callers can safely enqueue
// after a successful write.
type Database interface {
	IsProcessed(requestID string) (bool, error)
	MarkPending(record *types.IntentRecord) error
	UpdateStatus(requestID string, status types.Status, meta Meta) error
	Record(requestID string) (*types.IntentRecord, error)
	ListByStatus(status types.Status, limit int) ([]*types.IntentRecord, error)
	DatabasePath() string
	ClearDB() error
	Close() error
}
