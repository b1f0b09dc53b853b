// Package store keeps harvester state between sessions in a bbolt file: feed
// freshness markers and, optionally, identity keys of emitted records.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Adda-Baaj/khobor-scrapers/pkg/providers"
)

var (
	markersBucket = []byte("feed_markers")
	seenBucket    = []byte("seen")
)

// Store is a bbolt backed MarkerStore and SeenStore.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the state file at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("state path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{markersBucket, seenBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the file lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Marker returns the stored freshness marker for a feed URL.
func (s *Store) Marker(key string) (providers.Marker, bool) {
	var m providers.Marker
	found := false
	_ = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(markersBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		found = !m.IsZero()
		return nil
	})
	return m, found
}

// SaveMarker stores m for key. A zero marker removes the entry.
func (s *Store) SaveMarker(key string, m providers.Marker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(markersBucket)
		if m.IsZero() {
			return b.Delete([]byte(key))
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal marker: %w", err)
		}
		return b.Put([]byte(key), raw)
	})
}

// Seen reports whether any of keys was marked in an earlier session.
func (s *Store) Seen(keys ...string) (bool, error) {
	seen := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(seenBucket)
		for _, k := range keys {
			if b.Get([]byte(k)) != nil {
				seen = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("read seen keys: %w", err)
	}
	return seen, nil
}

// MarkSeen records keys with the current time.
func (s *Store) MarkSeen(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	stamp := []byte(time.Now().UTC().Format(time.RFC3339))
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(seenBucket)
		for _, k := range keys {
			if err := b.Put([]byte(k), stamp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write seen keys: %w", err)
	}
	return nil
}
