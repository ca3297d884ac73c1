// Package kv implements the relayer's persistent store on top of BoltDB.
// Records are stored as JSON under their request id, with a secondary bucket
// indexing request ids by settlement status. Both buckets are maintained in
// the same transaction so the index can never drift from the records.
package kv

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	prombbolt "github.com/prysmaticlabs/prombbolt"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var log = logrus.WithField("prefix", "db")

var (
	intentRecordsBucket = []byte("intent-records")
	statusIndexBucket   = []byte("status-index")
)

// Store implements iface.Database using a single BoltDB file.
type Store struct {
	db           *bolt.DB
	databasePath string
}

// NewKVStore opens (or creates) the bolt database at the given file path and
// initializes the schema. The parent directory is created if missing.
func NewKVStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	boltDB, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}
	kv := &Store{db: boltDB, databasePath: path}
	if err := kv.db.Update(func(tx *bolt.Tx) error {
		return createBuckets(tx, intentRecordsBucket, statusIndexBucket)
	}); err != nil {
		return nil, err
	}
	if err := prometheus.Register(prombbolt.New("relayerdb", boltDB)); err != nil {
		log.WithError(err).Debug("Could not register bolt metrics collector")
	}
	return kv, nil
}

// ClearDB removes the database file from disk. The store must not be used
// afterwards.
func (s *Store) ClearDB() error {
	if _, err := os.Stat(s.databasePath); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(s.databasePath)
}

// Close closes the underlying bolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DatabasePath is the file this store writes to.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, bucket := range buckets {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
	}
	return nil
}
