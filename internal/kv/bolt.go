// Package kv holds the two small key/value stores of the client: a
// SecureStore for credentials, sealed with a key provisioned from the
// platform keystore, and a PlainStore for non-sensitive flags. Both are
// single-file bbolt databases constructed once by the host and injected.
package kv

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// dataDirPerm is the permission mode for the directory holding the stores.
	dataDirPerm = fs.FileMode(0o700)

	// dataFilePerm is the permission mode for the database files.
	dataFilePerm = fs.FileMode(0o600)

	// openTimeout is the maximum time to wait for the bolt file lock.
	openTimeout = 5 * time.Second
)

// openBolt opens (creating if needed) the database at path and ensures
// the given buckets exist.
func openBolt(path string, buckets ...[]byte) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), dataDirPerm); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := bolt.Open(path, dataFilePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing %s: %w", filepath.Base(path), err)
	}

	return db, nil
}
