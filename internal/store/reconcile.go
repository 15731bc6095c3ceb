package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Reconcile scans the byte store for files added out-of-band and registers
// them with an empty download log under the administrative owner. It also
// repairs registrations interrupted mid-write (record present, inventory
// entry missing). It never removes inventory entries: a file whose bytes
// disappeared stays registered until DeleteFile is called on it. Running it
// twice in a row adds nothing the second time.
func Reconcile(s *Store) (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "files"))
	if err != nil {
		return 0, fmt.Errorf("read files dir: %w", err)
	}

	added := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		// Upload spool files are not user content.
		if strings.HasPrefix(name, ".") {
			continue
		}
		if err := validateName(name); err != nil {
			log.Warn().Str("file", name).Err(err).Msg("skipping unregistrable file")
			continue
		}

		l := s.lockName(name)
		n, err := reconcileName(s, name)
		s.unlockName(name, l)
		if err != nil {
			return added, err
		}
		added += n
	}

	return added, nil
}

// reconcileName registers or repairs one on-disk file (caller holds the name
// lock). Returns 1 if a record or inventory entry was created.
func reconcileName(s *Store, name string) (int, error) {
	_, err := s.readRecord(name)
	if err == nil {
		// Record exists; make sure the inventory lists it.
		repaired, err := s.ensureInventoried(name)
		if err != nil {
			return 0, err
		}
		if repaired {
			log.Info().Str("file", name).Msg("repaired missing inventory entry")
			return 1, nil
		}
		return 0, nil
	}
	if !errors.Is(err, ErrFileNotFound) {
		return 0, err
	}

	if _, err := s.register(name, AdminOwner); err != nil {
		return 0, err
	}
	log.Info().Str("file", name).Msg("reconciled out-of-band file")
	return 1, nil
}

// ensureInventoried adds name to the inventory if it is missing.
// Returns true if an entry was added.
func (s *Store) ensureInventoried(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.inventory {
		if n == name {
			return false, nil
		}
	}

	inv := append(append([]string{}, s.inventory...), name)
	if err := s.writeInventory(inv); err != nil {
		return false, err
	}
	s.inventory = inv
	return true, nil
}
