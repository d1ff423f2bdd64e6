package persist

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const defaultBucket = "larder"

// BoltStore keeps snapshots in a bbolt file, one bucket, one key per cache.
type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
}

// NewBoltStore opens (or creates) the bbolt file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store %s: %w", path, err)
	}

	s := &BoltStore{db: db, bucket: []byte(defaultBucket)}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return s, nil
}

func (s *BoltStore) Read(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v != nil {
			// v is only valid inside the transaction.
			value, found = string(v), true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("bolt read %q: %w", key, err)
	}
	return value, found, nil
}

func (s *BoltStore) Write(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), []byte(value))
	}); err != nil {
		return fmt.Errorf("bolt write %q: %w", key, err)
	}
	return nil
}

func (s *BoltStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("bolt remove %q: %w", key, err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
