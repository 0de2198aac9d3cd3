// Package kv is a thin adapter over a bbolt file used as the durable
// key-value store. Buckets act as namespaces so a failure in one
// concern (counters, names, mode flag) never blocks loading another.
// Every Put is a single bbolt transaction, which gives the atomic
// per-key commit the rest of the daemon relies on.
package kv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt"
)

// DB wraps the underlying bbolt database.
type DB struct {
	db *bolt.DB
}

// Open opens (or creates) the store at path. A file corrupted by an
// unclean power loss is erased and recreated once, and the daemon
// boots with empty namespaces rather than refusing to start. Any
// other failure, a held file lock or a filesystem error, leaves the
// file alone and is returned to the caller.
func Open(path string) (*DB, error) {
	opts := &bolt.Options{Timeout: time.Second}

	db, err := bolt.Open(path, 0600, opts)
	if err != nil {
		if !corrupt(err) {
			return nil, fmt.Errorf("open store: %w", err)
		}
		log.Printf("kv: open %s failed (%v), erasing and reinitializing", path, err)
		if rmErr := os.Remove(path); rmErr != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		db, err = bolt.Open(path, 0600, opts)
		if err != nil {
			return nil, fmt.Errorf("reinitialize store: %w", err)
		}
	}
	return &DB{db: db}, nil
}

// corrupt reports whether an open failure means the file itself is
// damaged, as opposed to a transient condition like a lock timeout.
func corrupt(err error) bool {
	return errors.Is(err, berrors.ErrInvalid) ||
		errors.Is(err, berrors.ErrChecksum) ||
		errors.Is(err, berrors.ErrVersionMismatch) ||
		errors.Is(err, berrors.ErrInvalidMapping)
}

// Namespace returns a handle for the named bucket, creating it if needed.
func (d *DB) Namespace(name string) (*Namespace, error) {
	err := d.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open namespace %q: %w", name, err)
	}
	return &Namespace{db: d.db, bucket: []byte(name)}, nil
}

// Close closes the underlying database file.
func (d *DB) Close() error {
	return d.db.Close()
}

// Namespace is a handle to one bucket of the store.
type Namespace struct {
	db     *bolt.DB
	bucket []byte
}

// GetU32 reads a 32-bit unsigned value. The second return value is
// false when the key does not exist.
func (n *Namespace) GetU32(key string) (uint32, bool, error) {
	var (
		value uint32
		found bool
	)
	err := n.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(n.bucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		if len(raw) != 4 {
			return fmt.Errorf("key %q: malformed value (%d bytes)", key, len(raw))
		}
		value = binary.BigEndian.Uint32(raw)
		found = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return value, found, nil
}

// PutU32 writes and commits a 32-bit unsigned value.
func (n *Namespace) PutU32(key string, value uint32) error {
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], value)
	return n.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(n.bucket).Put([]byte(key), raw[:])
	})
}

// GetU8 reads a single-byte flag value.
func (n *Namespace) GetU8(key string) (uint8, bool, error) {
	var (
		value uint8
		found bool
	)
	err := n.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(n.bucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		if len(raw) != 1 {
			return fmt.Errorf("key %q: malformed value (%d bytes)", key, len(raw))
		}
		value = raw[0]
		found = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return value, found, nil
}

// PutU8 writes and commits a single-byte flag value.
func (n *Namespace) PutU8(key string, value uint8) error {
	return n.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(n.bucket).Put([]byte(key), []byte{value})
	})
}

// GetString reads a string value. The second return value is false
// when the key does not exist.
func (n *Namespace) GetString(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := n.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(n.bucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		value = string(raw)
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// PutString writes and commits a string value.
func (n *Namespace) PutString(key, value string) error {
	return n.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(n.bucket).Put([]byte(key), []byte(value))
	})
}
