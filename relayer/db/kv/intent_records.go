package kv

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/privacybox/relayer/relayer/db/iface"
	"github.com/privacybox/relayer/relayer/types"
	bolt "go.etcd.io/bbolt"
)

// Errors surfaced by record operations, shared through the iface package so
// consumers never import the implementation.
var (
	ErrNotFound          = iface.ErrNotFound
	ErrAlreadyExists     = iface.ErrAlreadyExists
	ErrIllegalTransition = iface.ErrIllegalTransition
)

// statusKey builds the secondary index key status||0x00||requestID.
func statusKey(status types.Status, requestID string) []byte {
	key := make([]byte, 0, len(status)+1+len(requestID))
	key = append(key, status...)
	key = append(key, 0)
	key = append(key, requestID...)
	return key
}

// IsProcessed reports whether a record exists for the request id, in any
// status.
func (s *Store) IsProcessed(requestID string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(intentRecordsBucket).Get([]byte(requestID)) != nil
		return nil
	})
	return exists, err
}

// MarkPending inserts a pending record if absent. Returns ErrAlreadyExists
// if any record is already present for the request id.
func (s *Store) MarkPending(record *types.IntentRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(intentRecordsBucket)
		if records.Get([]byte(record.RequestID)) != nil {
			return errors.Wrap(ErrAlreadyExists, record.RequestID)
		}
		enc, err := json.Marshal(record)
		if err != nil {
			return errors.Wrap(err, "could not encode record")
		}
		if err := records.Put([]byte(record.RequestID), enc); err != nil {
			return err
		}
		return tx.Bucket(statusIndexBucket).Put(statusKey(record.Status, record.RequestID), nil)
	})
}

// UpdateStatus moves a record to a new status, enforcing the transition
// table, and applies the non-zero meta fields.
func (s *Store) UpdateStatus(requestID string, status types.Status, meta iface.Meta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(intentRecordsBucket)
		enc := records.Get([]byte(requestID))
		if enc == nil {
			return errors.Wrap(ErrNotFound, requestID)
		}
		record := &types.IntentRecord{}
		if err := json.Unmarshal(enc, record); err != nil {
			return errors.Wrap(err, "could not decode record")
		}
		if !types.ValidTransition(record.Status, status) {
			return errors.Wrapf(ErrIllegalTransition, "%s -> %s for %s", record.Status, status, requestID)
		}
		index := tx.Bucket(statusIndexBucket)
		if err := index.Delete(statusKey(record.Status, requestID)); err != nil {
			return err
		}
		record.Status = status
		record.LastUpdatedAt = time.Now()
		if meta.EvmTxHash != "" {
			record.EvmTxHash = meta.EvmTxHash
		}
		if meta.BlockNumber != 0 {
			record.BlockNumber = meta.BlockNumber
		}
		if meta.ErrorMessage != "" {
			record.ErrorMessage = meta.ErrorMessage
		}
		if meta.RetryCount != 0 {
			record.RetryCount = meta.RetryCount
		}
		out, err := json.Marshal(record)
		if err != nil {
			return errors.Wrap(err, "could not encode record")
		}
		if err := records.Put([]byte(requestID), out); err != nil {
			return err
		}
		return index.Put(statusKey(status, requestID), nil)
	})
}

// Record returns the persisted record for a request id, or ErrNotFound.
func (s *Store) Record(requestID string) (*types.IntentRecord, error) {
	record := &types.IntentRecord{}
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(intentRecordsBucket).Get([]byte(requestID))
		if enc == nil {
			return errors.Wrap(ErrNotFound, requestID)
		}
		return json.Unmarshal(enc, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListByStatus returns up to limit records currently in the given status,
// in request id order. A limit <= 0 means no limit.
func (s *Store) ListByStatus(status types.Status, limit int) ([]*types.IntentRecord, error) {
	var out []*types.IntentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(intentRecordsBucket)
		c := tx.Bucket(statusIndexBucket).Cursor()
		prefix := statusKey(status, "")
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			requestID := k[len(prefix):]
			enc := records.Get(requestID)
			if enc == nil {
				log.WithField("requestId", string(requestID)).Warn("Status index entry with no record")
				continue
			}
			record := &types.IntentRecord{}
			if err := json.Unmarshal(enc, record); err != nil {
				return errors.Wrap(err, "could not decode record")
			}
			out = append(out, record)
		}
		return nil
	})
	return out, err
}
