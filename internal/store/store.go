// Package store keeps a file's bytes, its metadata record and the inventory
// in lockstep. Directory structure:
//
//	{dataDir}/
//	  files/
//	    {name}            # raw uploaded bytes, immutable until deleted
//	  meta/
//	    {name}.json       # one FileRecord per file
//	  inventory.json      # list of registered file names
//
// A record exists iff the bytes exist iff the inventory lists the name; every
// mutation here preserves that invariant or rolls itself back.
package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// AdminOwner is attributed to files added outside an authorized upload
// (CLI additions and reconciled out-of-band files).
const AdminOwner = "admin"

// DownloadEvent is one entry in a file's download log.
// The JSON field names are the on-disk record format.
type DownloadEvent struct {
	IP        string    `json:"ip"`
	Timestamp time.Time `json:"timestamp"`
	UserAgent string    `json:"userAgent"`
}

// FileRecord is the metadata document for one stored file.
type FileRecord struct {
	Name      string          `json:"name"`
	AddedBy   string          `json:"addedBy"`
	Downloads []DownloadEvent `json:"downloads"`
}

// FileInfo is the listing view of a file.
type FileInfo struct {
	Name      string `json:"name"`
	AddedBy   string `json:"addedBy"`
	Downloads int    `json:"downloads"`
}

// Store owns the byte store, the metadata records and the inventory.
//
// Locking: mu guards the inventory and the per-name lock table. Each file
// name has its own mutex, so operations on different names proceed
// concurrently while register/delete/download on the same name serialize.
// Lock entries are refcounted and pruned once the last holder releases, so
// the table only ever holds names with an operation in flight.
// Lock order is always name lock first, then mu; never the reverse.
type Store struct {
	dataDir     string
	maxFileSize int64 // 0 = unlimited

	mu        sync.RWMutex
	inventory []string
	nameLocks map[string]*nameLock
}

// nameLock is one refcounted entry in the per-name lock table.
type nameLock struct {
	mu   sync.Mutex
	refs int
}

// Open initializes the store under dataDir, creating the directory layout
// and an empty inventory on first use.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "files"), 0755); err != nil {
		return nil, fmt.Errorf("create files dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "meta"), 0755); err != nil {
		return nil, fmt.Errorf("create meta dir: %w", err)
	}

	s := &Store{
		dataDir:   dataDir,
		nameLocks: make(map[string]*nameLock),
	}

	inv, err := s.readInventory()
	if err != nil {
		return nil, err
	}
	if inv == nil {
		inv = []string{}
		if err := s.writeInventory(inv); err != nil {
			return nil, err
		}
	}
	s.inventory = inv

	return s, nil
}

// SetMaxFileSize sets the per-file size ceiling in bytes. 0 disables the limit.
func (s *Store) SetMaxFileSize(limit int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxFileSize = limit
}

// DataDir returns the data directory path.
func (s *Store) DataDir() string {
	return s.dataDir
}

// lockName acquires the lock for a file name, creating the table entry on
// first use. Release with unlockName.
func (s *Store) lockName(name string) *nameLock {
	s.mu.Lock()
	l, ok := s.nameLocks[name]
	if !ok {
		l = &nameLock{}
		s.nameLocks[name] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return l
}

// unlockName releases a lock taken with lockName and prunes the table entry
// once no holder or waiter references it.
func (s *Store) unlockName(name string, l *nameLock) {
	l.mu.Unlock()

	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.nameLocks, name)
	}
	s.mu.Unlock()
}

// validateName rejects names that would escape the data directory.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("null bytes not allowed")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("invalid name")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("path separators not allowed")
	}
	return nil
}

func (s *Store) bytesPath(name string) string {
	return filepath.Join(s.dataDir, "files", name)
}

func (s *Store) recordPath(name string) string {
	return filepath.Join(s.dataDir, "meta", name+".json")
}

func (s *Store) inventoryPath() string {
	return filepath.Join(s.dataDir, "inventory.json")
}

// AddFile stores the bytes read from r under name and registers the file.
// The payload is spooled to a temp file first: an oversized or aborted upload
// never leaves partial bytes under the final name, and registration only
// happens after the bytes are durably in place. Fails with ErrFileExists if
// the name is already taken and ErrSizeExceeded over the configured limit.
func (s *Store) AddFile(name, owner string, r io.Reader) (*FileRecord, error) {
	if err := validateName(name); err != nil {
		return nil, fmt.Errorf("invalid file name: %w", err)
	}

	l := s.lockName(name)
	defer s.unlockName(name, l)

	bytesPath := s.bytesPath(name)
	if _, err := os.Stat(bytesPath); err == nil {
		return nil, ErrFileExists
	}
	if _, err := os.Stat(s.recordPath(name)); err == nil {
		return nil, ErrFileExists
	}

	s.mu.RLock()
	limit := s.maxFileSize
	s.mu.RUnlock()

	if err := s.spoolBytes(bytesPath, r, limit); err != nil {
		return nil, err
	}

	rec, err := s.register(name, owner)
	if err != nil {
		// Keep bytes and record in lockstep: a failed registration must not
		// leave orphaned bytes for reconcile to misattribute later.
		_ = os.Remove(bytesPath)
		return nil, err
	}

	log.Info().Str("file", name).Str("owner", owner).Msg("file stored")
	return rec, nil
}

// spoolBytes writes r to a temp file next to dst, enforcing limit, then
// fsyncs and renames into place.
func (s *Store) spoolBytes(dst string, r io.Reader, limit int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if limit > 0 {
		// Read one byte past the limit to distinguish "exactly limit" from over.
		n, err := io.Copy(tmp, io.LimitReader(r, limit+1))
		if err != nil {
			cleanup()
			return fmt.Errorf("write file bytes: %w", err)
		}
		if n > limit {
			cleanup()
			return ErrSizeExceeded
		}
	} else {
		if _, err := io.Copy(tmp, r); err != nil {
			cleanup()
			return fmt.Errorf("write file bytes: %w", err)
		}
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync file bytes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close file bytes: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move file into place: %w", err)
	}
	return nil
}

// register writes the metadata record and the inventory entry for name
// (caller must hold the name lock and have the bytes in place).
// On inventory failure the record is removed again so no partial
// registration is observable.
func (s *Store) register(name, owner string) (*FileRecord, error) {
	rec := &FileRecord{
		Name:      name,
		AddedBy:   owner,
		Downloads: []DownloadEvent{},
	}

	if err := s.writeRecord(rec); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv := append(append([]string{}, s.inventory...), name)
	if err := s.writeInventory(inv); err != nil {
		_ = os.Remove(s.recordPath(name))
		return nil, err
	}
	s.inventory = inv

	return rec, nil
}

// RecordDownload appends one event to a file's download log.
// The append happens under the name lock against the freshly read record, so
// concurrent downloads never clobber each other's entries.
func (s *Store) RecordDownload(name string, ev DownloadEvent) error {
	if err := validateName(name); err != nil {
		return ErrFileNotFound
	}

	l := s.lockName(name)
	defer s.unlockName(name, l)

	rec, err := s.readRecord(name)
	if err != nil {
		return err
	}

	rec.Downloads = append(rec.Downloads, ev)
	return s.writeRecord(rec)
}

// GetFile returns a copy of a file's metadata record.
func (s *Store) GetFile(name string) (*FileRecord, error) {
	if err := validateName(name); err != nil {
		return nil, ErrFileNotFound
	}

	l := s.lockName(name)
	defer s.unlockName(name, l)

	return s.readRecord(name)
}

// OpenFile returns a reader over a file's bytes together with its record.
// The caller owns the returned reader. Established bytes are immutable, so
// the read itself needs no lock once the handle is open.
func (s *Store) OpenFile(name string) (io.ReadCloser, *FileRecord, error) {
	if err := validateName(name); err != nil {
		return nil, nil, ErrFileNotFound
	}

	l := s.lockName(name)
	defer s.unlockName(name, l)

	rec, err := s.readRecord(name)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(s.bytesPath(name))
	if os.IsNotExist(err) {
		return nil, nil, ErrFileNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open file bytes: %w", err)
	}

	return f, rec, nil
}

// DeleteFile removes the bytes, the record and the inventory entry as a unit.
func (s *Store) DeleteFile(name string) error {
	if err := validateName(name); err != nil {
		return ErrFileNotFound
	}

	l := s.lockName(name)
	defer s.unlockName(name, l)

	if _, err := s.readRecord(name); err != nil {
		return err
	}

	s.mu.Lock()
	inv := make([]string, 0, len(s.inventory))
	for _, n := range s.inventory {
		if n != name {
			inv = append(inv, n)
		}
	}
	if err := s.writeInventory(inv); err != nil {
		s.mu.Unlock()
		return err
	}
	s.inventory = inv
	s.mu.Unlock()

	if err := os.Remove(s.recordPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove record: %w", err)
	}
	if err := os.Remove(s.bytesPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file bytes: %w", err)
	}

	log.Info().Str("file", name).Msg("file deleted")
	return nil
}

// ListFiles returns a snapshot of all registered files in inventory order.
func (s *Store) ListFiles() ([]FileInfo, error) {
	s.mu.RLock()
	inv := append([]string{}, s.inventory...)
	s.mu.RUnlock()

	files := make([]FileInfo, 0, len(inv))
	for _, name := range inv {
		l := s.lockName(name)
		rec, err := s.readRecord(name)
		s.unlockName(name, l)
		if err != nil {
			// Deleted between the snapshot and the read.
			continue
		}
		files = append(files, FileInfo{
			Name:      rec.Name,
			AddedBy:   rec.AddedBy,
			Downloads: len(rec.Downloads),
		})
	}

	return files, nil
}

// Count returns the number of registered files.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inventory)
}

// readRecord reads a metadata record (caller must hold the name lock).
func (s *Store) readRecord(name string) (*FileRecord, error) {
	data, err := os.ReadFile(s.recordPath(name))
	if os.IsNotExist(err) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}

	var rec FileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// writeRecord writes a metadata record (caller must hold the name lock).
func (s *Store) writeRecord(rec *FileRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := syncedWriteFile(s.recordPath(rec.Name), data, 0644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// readInventory reads the inventory from disk. Returns nil, nil when the
// inventory does not exist yet.
func (s *Store) readInventory() ([]string, error) {
	data, err := os.ReadFile(s.inventoryPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	var inv []string
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("unmarshal inventory: %w", err)
	}
	return inv, nil
}

// writeInventory writes the inventory to disk (caller must hold mu).
func (s *Store) writeInventory(inv []string) error {
	data, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal inventory: %w", err)
	}
	if err := syncedWriteFile(s.inventoryPath(), data, 0644); err != nil {
		return fmt.Errorf("write inventory: %w", err)
	}
	return nil
}

// syncedWriteFile writes data and fsyncs so a crash mid-mutation leaves at
// worst a divergence that Reconcile can repair, never a torn document.
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
