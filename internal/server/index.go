package server

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/afscache/afscache/pkg/wire"
)

// TimestampIndex is the server's monotonic per-path timestamp map (spec
// §3, §4.4), incremented on each successful Upload commit.
type TimestampIndex struct {
	mu      sync.Mutex
	clock   int64
	byPath  map[string]int64
}

// NewTimestampIndex creates an empty index.
func NewTimestampIndex() *TimestampIndex {
	return &TimestampIndex{byPath: make(map[string]int64)}
}

// ScanRoot populates the index from the existing file tree at startup, so
// newly-started servers report a stable (if arbitrary) timestamp for every
// file already on disk rather than treating them all as nonexistent.
func (t *TimestampIndex) ScanRoot(root string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		t.clock++
		t.byPath[filepath.ToSlash(rel)] = t.clock
		return nil
	})
}

// Get returns the current timestamp for path, or (wire.NoExistTimestamp,
// false) if the path has no entry.
func (t *TimestampIndex) Get(path string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.byPath[path]
	if !ok {
		return wire.NoExistTimestamp, false
	}
	return ts, true
}

// Bump increments the global clock and records it as path's new timestamp,
// returning the new value (spec §4.4 Upload: "always increments
// timestamp").
func (t *TimestampIndex) Bump(path string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock++
	t.byPath[path] = t.clock
	return t.clock
}

// Delete removes path's timestamp entry.
func (t *TimestampIndex) Delete(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPath, path)
}
