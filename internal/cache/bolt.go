package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("entitystore_cache")

// BoltTier is the long-lived L3 tier. Each value is stored behind an
// 8-byte big-endian expiry in unix nanoseconds (0 = never).
type BoltTier struct {
	db *bolt.DB
}

// NewBoltTier opens the bolt file at path, creating parent directories
func NewBoltTier(path string) (*BoltTier, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltTier{db: db}, nil
}

func (b *BoltTier) Name() string { return "bolt" }

func (b *BoltTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte
	found, expired := false, false
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltBucket).Get([]byte(key))
		if len(raw) < 8 {
			return nil
		}
		if exp := int64(binary.BigEndian.Uint64(raw[:8])); exp != 0 && time.Now().UnixNano() > exp {
			expired = true
			return nil
		}
		value = append([]byte{}, raw[8:]...)
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if expired {
		return nil, false, b.Delete(context.Background(), key)
	}
	return value, found, nil
}

func (b *BoltTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	raw := make([]byte, 8+len(value))
	if exp := expiry(ttl); !exp.IsZero() {
		binary.BigEndian.PutUint64(raw[:8], uint64(exp.UnixNano()))
	}
	copy(raw[8:], value)
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), raw)
	})
}

func (b *BoltTier) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
}

func (b *BoltTier) InvalidatePattern(_ context.Context, pattern string) (int, error) {
	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		var keys [][]byte
		err := bucket.ForEach(func(k, _ []byte) error {
			if Match(string(k), pattern) {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(keys)
		return nil
	})
	return removed, err
}

func (b *BoltTier) Clear(_ context.Context) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(boltBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(boltBucket)
		return err
	})
}

func (b *BoltTier) Close() error {
	return b.db.Close()
}
