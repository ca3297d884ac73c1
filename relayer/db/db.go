// Package db exposes the relayer database constructor. Consumers depend on
// iface.Database; only the node calls NewDB.
package db

import (
	"github.com/privacybox/relayer/relayer/db/iface"
	"github.com/privacybox/relayer/relayer/db/kv"
)

// Database re-exports the store interface for convenience.
type Database = iface.Database

// NewDB opens the bolt-backed store at the given file path.
func NewDB(path string) (Database, error) {
	return kv.NewKVStore(path)
}
