package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestOpenCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(dir, "files"))
	assert.DirExists(t, filepath.Join(dir, "meta"))
	assert.FileExists(t, filepath.Join(dir, "inventory.json"))
}

func TestAddFileRegistersEverything(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.AddFile("report.txt", "alice", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "report.txt", rec.Name)
	assert.Equal(t, "alice", rec.AddedBy)
	assert.Empty(t, rec.Downloads)

	// Bytes, record and inventory must all exist.
	data, err := os.ReadFile(filepath.Join(s.DataDir(), "files", "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.FileExists(t, filepath.Join(s.DataDir(), "meta", "report.txt.json"))
	assert.Equal(t, 1, s.Count())
}

func TestAddFileConflict(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddFile("a.txt", "alice", strings.NewReader("one"))
	require.NoError(t, err)

	_, err = s.AddFile("a.txt", "bob", strings.NewReader("two"))
	assert.ErrorIs(t, err, ErrFileExists)

	// Original content untouched.
	data, err := os.ReadFile(filepath.Join(s.DataDir(), "files", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestAddFileSizeLimit(t *testing.T) {
	s := newTestStore(t)
	s.SetMaxFileSize(4)

	_, err := s.AddFile("big.bin", "alice", strings.NewReader("12345"))
	assert.ErrorIs(t, err, ErrSizeExceeded)

	// Nothing was registered and no spool file remains.
	assert.Equal(t, 0, s.Count())
	entries, err := os.ReadDir(filepath.Join(s.DataDir(), "files"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Exactly at the limit is accepted.
	_, err = s.AddFile("ok.bin", "alice", strings.NewReader("1234"))
	require.NoError(t, err)
}

func TestAddFileInvalidNames(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "a\x00b"} {
		_, err := s.AddFile(name, "alice", strings.NewReader("x"))
		assert.Error(t, err, "name %q", name)
	}
}

func TestRecordDownloadAppends(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddFile("a.txt", "alice", strings.NewReader("x"))
	require.NoError(t, err)

	ev := DownloadEvent{IP: "10.0.0.1", Timestamp: time.Now().UTC(), UserAgent: "curl/8.0"}
	require.NoError(t, s.RecordDownload("a.txt", ev))
	require.NoError(t, s.RecordDownload("a.txt", ev))

	rec, err := s.GetFile("a.txt")
	require.NoError(t, err)
	require.Len(t, rec.Downloads, 2)
	assert.Equal(t, "10.0.0.1", rec.Downloads[0].IP)
	assert.Equal(t, "curl/8.0", rec.Downloads[0].UserAgent)
}

func TestRecordDownloadMissingFile(t *testing.T) {
	s := newTestStore(t)
	err := s.RecordDownload("nope.txt", DownloadEvent{})
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestConcurrentDownloadsAllLogged(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddFile("a.txt", "alice", strings.NewReader("x"))
	require.NoError(t, err)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := DownloadEvent{IP: "10.0.0.1", Timestamp: time.Now().UTC()}
			assert.NoError(t, s.RecordDownload("a.txt", ev))
		}()
	}
	wg.Wait()

	rec, err := s.GetFile("a.txt")
	require.NoError(t, err)
	assert.Len(t, rec.Downloads, n)
}

func TestOpenFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddFile("a.txt", "alice", strings.NewReader("payload"))
	require.NoError(t, err)

	f, rec, err := s.OpenFile("a.txt")
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "alice", rec.AddedBy)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, _, err = s.OpenFile("nope.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestDeleteFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddFile("a.txt", "alice", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteFile("a.txt"))
	assert.Equal(t, 0, s.Count())
	assert.NoFileExists(t, filepath.Join(s.DataDir(), "files", "a.txt"))
	assert.NoFileExists(t, filepath.Join(s.DataDir(), "meta", "a.txt.json"))

	assert.ErrorIs(t, s.DeleteFile("a.txt"), ErrFileNotFound)
}

func TestListFiles(t *testing.T) {
	s := newTestStore(t)

	infos, err := s.ListFiles()
	require.NoError(t, err)
	assert.Empty(t, infos)

	_, err = s.AddFile("a.txt", "alice", strings.NewReader("x"))
	require.NoError(t, err)
	_, err = s.AddFile("b.txt", "bob", strings.NewReader("y"))
	require.NoError(t, err)
	require.NoError(t, s.RecordDownload("a.txt", DownloadEvent{IP: "1.2.3.4", Timestamp: time.Now().UTC()}))

	infos, err = s.ListFiles()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "a.txt", infos[0].Name)
	assert.Equal(t, 1, infos[0].Downloads)
	assert.Equal(t, "b.txt", infos[1].Name)
	assert.Equal(t, 0, infos[1].Downloads)
}

func TestInventorySurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.AddFile("a.txt", "alice", strings.NewReader("x"))
	require.NoError(t, err)

	s2, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, s2.Count())

	rec, err := s2.GetFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.AddedBy)
}

func TestLockTablePrunedWhenIdle(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddFile("a.txt", "alice", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, s.RecordDownload("a.txt", DownloadEvent{IP: "1.2.3.4", Timestamp: time.Now().UTC()}))
	_, err = s.GetFile("a.txt")
	require.NoError(t, err)
	require.NoError(t, s.DeleteFile("a.txt"))

	// Touch many distinct names too; failed lookups must not leak entries.
	for i := 0; i < 100; i++ {
		_, err := s.GetFile(fmt.Sprintf("ghost-%d.txt", i))
		assert.ErrorIs(t, err, ErrFileNotFound)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Empty(t, s.nameLocks)
}

func TestConcurrentAddSameName(t *testing.T) {
	s := newTestStore(t)

	const n = 10
	var success int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddFile("race.txt", "alice", strings.NewReader("x"))
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrFileExists)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, success)
	assert.Equal(t, 1, s.Count())
}
