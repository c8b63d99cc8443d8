package schema

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const defaultBucket = "metadata"

// BoltStoreOptions configures a file-backed metadata store
type BoltStoreOptions struct {
	// Path of the database file; parent directories are created
	Path string `json:"path" yaml:"path"`

	// Bucket holding the metadata keys
	Bucket string `json:"bucket" yaml:"bucket"`

	// Timeout waiting for the file lock; zero waits forever
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	NoSync bool `json:"no_sync" yaml:"no_sync"`
}

// BoltStore is a PersistentStore on a local bbolt file
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

// NewBoltStore opens (or creates) the database file
func NewBoltStore(options *BoltStoreOptions) (*BoltStore, error) {
	if options == nil || options.Path == "" {
		return nil, errors.New("bolt store path is required")
	}

	directory := filepath.Dir(options.Path)
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, errors.Wrapf(err, "os.MkdirAll failed. directory: %s", directory)
	}

	db, err := bolt.Open(options.Path, 0600, &bolt.Options{
		Timeout: options.Timeout,
		NoSync:  options.NoSync,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "bolt.Open failed. path: %s", options.Path)
	}

	bucket := defaultBucket
	if options.Bucket != "" {
		bucket = options.Bucket
	}
	s := &BoltStore{db: db, bucket: []byte(bucket)}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create bucket failed")
	}
	return s, nil
}

// Load returns the value stored under key. The bool is false on a miss.
func (s *BoltStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return errors.New("bucket not found")
		}
		data := bucket.Get([]byte(key))
		if data == nil {
			return nil
		}
		// bbolt reuses the memory once the transaction ends
		value = make([]byte, len(data))
		copy(value, data)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

// Save stores value under key, replacing any previous value
func (s *BoltStore) Save(ctx context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return errors.New("bucket not found")
		}
		return bucket.Put([]byte(key), value)
	})
}

// Purge removes every key starting with prefix
func (s *BoltStore) Purge(ctx context.Context, prefix string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return errors.New("bucket not found")
		}

		var keys [][]byte
		c := bucket.Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return errors.Wrapf(err, "delete key %s", k)
			}
		}
		return nil
	})
}

// Close releases the file lock
func (s *BoltStore) Close() error {
	return s.db.Close()
}
