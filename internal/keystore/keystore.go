// Package keystore manages the table of upload keys and their remaining-use quotas.
package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// UnlimitedUses is the sentinel for a key without a quota.
const UnlimitedUses = -1

// AccessKey is one entry in the key table.
// The JSON field names are the on-disk format of keys.json.
type AccessKey struct {
	Token         string `json:"key"`
	Owner         string `json:"user"`
	RemainingUses int    `json:"uses"` // -1 = unlimited, 0 = exhausted
}

// Exhausted returns true if the key has no uses left.
func (k *AccessKey) Exhausted() bool {
	return k.RemainingUses == 0
}

// Store holds the key table in memory and flushes it to disk on every mutation.
// Consume is the only hot path; it is a strict check-then-decrement critical
// section so a key with N remaining uses grants exactly N consumptions no
// matter how calls interleave.
type Store struct {
	path string
	keys map[string]*AccessKey
	mu   sync.RWMutex
}

// Load opens the key table at path. A missing file is an empty table;
// it is created on the first mutation.
func Load(path string) (*Store, error) {
	s := &Store{
		path: path,
		keys: make(map[string]*AccessKey),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read key table: %w", err)
	}

	var keys []*AccessKey
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("parse key table: %w", err)
	}
	for _, k := range keys {
		s.keys[k.Token] = k
	}

	return s, nil
}

// Consume validates token and spends one use of it.
// The decrement is flushed to disk inside the critical section: no caller can
// observe a granted use without the decrement, and the quota never goes
// negative. Unknown and exhausted tokens both fail with ErrUnauthorized.
func (s *Store) Consume(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[token]
	if !ok || k.Exhausted() {
		return "", ErrUnauthorized
	}

	if k.RemainingUses == UnlimitedUses {
		return k.Owner, nil
	}

	k.RemainingUses--
	if err := s.flush(); err != nil {
		// The grant is only valid together with the persisted decrement.
		k.RemainingUses++
		return "", fmt.Errorf("persist key table: %w", err)
	}

	log.Debug().Str("owner", k.Owner).Int("remaining", k.RemainingUses).Msg("upload key consumed")
	return k.Owner, nil
}

// Authorize validates token without spending a use.
func (s *Store) Authorize(token string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[token]
	if !ok || k.Exhausted() {
		return "", ErrUnauthorized
	}
	return k.Owner, nil
}

// Create adds a key to the table.
func (s *Store) Create(token, owner string, uses int) error {
	if token == "" {
		return fmt.Errorf("empty token")
	}
	if uses < UnlimitedUses {
		return fmt.Errorf("invalid use count %d", uses)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[token]; ok {
		return ErrKeyExists
	}

	s.keys[token] = &AccessKey{Token: token, Owner: owner, RemainingUses: uses}
	if err := s.flush(); err != nil {
		delete(s.keys, token)
		return fmt.Errorf("persist key table: %w", err)
	}

	log.Info().Str("owner", owner).Int("uses", uses).Msg("upload key created")
	return nil
}

// Delete removes a key from the table.
func (s *Store) Delete(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[token]
	if !ok {
		return ErrKeyNotFound
	}

	delete(s.keys, token)
	if err := s.flush(); err != nil {
		s.keys[token] = k
		return fmt.Errorf("persist key table: %w", err)
	}

	log.Info().Str("owner", k.Owner).Msg("upload key deleted")
	return nil
}

// List returns a copy of all keys.
func (s *Store) List() []AccessKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]AccessKey, 0, len(s.keys))
	for _, k := range s.keys {
		keys = append(keys, *k)
	}
	return keys
}

// Count returns the number of keys in the table.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// flush writes the table to disk (caller must hold the write lock).
func (s *Store) flush() error {
	keys := make([]*AccessKey, 0, len(s.keys))
	for _, k := range s.keys {
		keys = append(keys, k)
	}

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key table: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create key table dir: %w", err)
		}
	}

	return syncedWriteFile(s.path, data, 0600)
}

// syncedWriteFile writes data and fsyncs before returning so a crash cannot
// lose a quota decrement that a caller already acted on.
func syncedWriteFile(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}
