// Package kv is the per-user key-value storage for settings, usage counters,
// cached profile fields and memory items. Each owner gets one bbolt bucket.
package kv

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Well-known keys
const (
	KeyTheme    = "theme"
	KeyLocale   = "locale"
	KeyUsername = "username"
	KeyBio      = "bio"
	KeyMemory   = "memory"
)

// ErrNoOwner is returned when a key is addressed without an owner bucket
var ErrNoOwner = errors.New("kv: owner is required")

// Store wraps a bbolt database
type Store struct {
	db *bolt.DB
}

// Open opens or creates the store file
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying file
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value for key. ok is false when the key is missing.
func (s *Store) Get(owner, key string) (value string, ok bool, err error) {
	if owner == "" {
		return "", false, ErrNoOwner
	}
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(owner))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			value, ok = string(v), true
		}
		return nil
	})
	return value, ok, err
}

// GetDefault returns the stored value or def when missing or unreadable
func (s *Store) GetDefault(owner, key, def string) string {
	v, ok, err := s.Get(owner, key)
	if err != nil {
		log.Printf("[KV] Get failed owner=%s key=%s err=%v", owner, key, err)
		return def
	}
	if !ok || v == "" {
		return def
	}
	return v
}

// Set stores value under key
func (s *Store) Set(owner, key, value string) error {
	if owner == "" {
		return ErrNoOwner
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(owner))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(owner, key string) error {
	if owner == "" {
		return ErrNoOwner
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(owner))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// Update runs a read-modify-write on key inside a single transaction.
// Returning keep=false from fn deletes the key.
func (s *Store) Update(owner, key string, fn func(old string, ok bool) (value string, keep bool, err error)) error {
	if owner == "" {
		return ErrNoOwner
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(owner))
		if err != nil {
			return err
		}
		raw := b.Get([]byte(key))
		value, keep, err := fn(string(raw), raw != nil)
		if err != nil {
			return err
		}
		if !keep {
			return b.Delete([]byte(key))
		}
		return b.Put([]byte(key), []byte(value))
	})
}

// GetJSON decodes the value under key into target. Missing or malformed
// values leave target untouched and report false.
func (s *Store) GetJSON(owner, key string, target any) (bool, error) {
	v, ok, err := s.Get(owner, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		log.Printf("[KV] Ignoring malformed value owner=%s key=%s err=%v", owner, key, err)
		return false, nil
	}
	return true, nil
}

// SetJSON encodes value as JSON under key
func (s *Store) SetJSON(owner, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(owner, key, string(data))
}

// Keys lists the owner's keys with the given prefix in sorted order
func (s *Store) Keys(owner, prefix string) ([]string, error) {
	if owner == "" {
		return nil, ErrNoOwner
	}
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(owner))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			if strings.HasPrefix(string(k), prefix) {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	sort.Strings(keys)
	return keys, err
}
