package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketSeries = []byte("series")
	bucketMeta   = []byte("meta")

	keyEntries   = []byte("entries")
	keyUpdatedAt = []byte("updated_at")
)

// BoltPersister stores snapshots in a bbolt file.
type BoltPersister struct {
	db *bolt.DB
}

var _ Persister = (*BoltPersister)(nil)

// OpenBolt opens (or creates) the snapshot database at path.
func OpenBolt(path string) (*BoltPersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("cache: open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSeries, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltPersister{db: db}, nil
}

// Close closes the database.
func (p *BoltPersister) Close() error { return p.db.Close() }

// Load reads the saved snapshot.
func (p *BoltPersister) Load() (*Snapshot, error) {
	var snap *Snapshot
	err := p.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSeries).Get(keyEntries)
		stamp := tx.Bucket(bucketMeta).Get(keyUpdatedAt)
		if raw == nil || stamp == nil {
			return nil
		}
		var s Snapshot
		if err := json.Unmarshal(raw, &s.Entries); err != nil {
			return fmt.Errorf("decode entries: %w", err)
		}
		if err := s.UpdatedAt.UnmarshalText(stamp); err != nil {
			return fmt.Errorf("decode timestamp: %w", err)
		}
		snap = &s
		return nil
	})
	return snap, err
}

// Save writes entries and timestamp in one transaction.
func (p *BoltPersister) Save(s *Snapshot) error {
	raw, err := json.Marshal(s.Entries)
	if err != nil {
		return err
	}
	stamp, err := s.UpdatedAt.MarshalText()
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSeries).Put(keyEntries, raw); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyUpdatedAt, stamp)
	})
}
