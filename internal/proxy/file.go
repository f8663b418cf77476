package proxy

import (
	"os"

	cacheerrors "github.com/afscache/afscache/pkg/errors"
)

// File is the subset of *os.File the posix handle-dispatch layer needs for
// read/write/lseek, exposed so that layer never has to go through the
// cache-engine mutex for per-call I/O (spec §5).
type File interface {
	ReadAt(b []byte, off int64) (int, error)
	WriteAt(b []byte, off int64) (int, error)
	Stat() (os.FileInfo, error)
}

// FileFor returns the underlying File for an open file descriptor. The
// engine mutex is only held for the table lookup itself, never across the
// I/O the caller goes on to perform.
func (e *Engine) FileFor(fd int64) (File, bool) {
	e.mu.Lock()
	h, ok := e.fds.lookup(fd)
	e.mu.Unlock()
	if !ok || h.kind != kindFile || h.file == nil {
		return nil, false
	}
	return h.file, true
}

// IsDirectory reports whether fd is a directory pseudo-handle (spec §4.2
// step 5, §6): reads against it must return EISDIR rather than EBADF.
func (e *Engine) IsDirectory(fd int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.fds.lookup(fd)
	return ok && h.kind == kindDirectory
}

// ReserveForWrite grows fd's writer version's LRU reservation to cover a
// write extending the file out to endOffset, if endOffset exceeds the
// version's current on-disk size. It must be called before the write that
// would extend the file; a caller that skips this lets cache_occupancy
// silently drift below the version's actual disk usage (spec.md §3
// invariant 6, §8 invariant 1). Callers writing within the current file
// size need not call this at all. Returns ENOMEM, leaving the reservation
// unchanged, if the growth has no room even after evicting everything
// eviction is allowed to touch (spec §7's write-boundary reserve).
func (e *Engine) ReserveForWrite(fd int64, endOffset int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.fds.lookup(fd)
	if !ok || h.kind != kindFile {
		return cacheerrors.New(cacheerrors.ErrCodeBadDescriptor, "unknown descriptor %d", fd)
	}
	if !h.mode.RequiresWrite() {
		return nil
	}

	info, err := h.file.Stat()
	if err != nil {
		return cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "stat writer version for %s", h.path)
	}
	current := info.Size()
	if endOffset <= current {
		return nil
	}

	key := VersionKey{Path: h.path, VersionID: h.versionID}
	growth := endOffset - current
	if ok := e.lru.ExtendReserve(key, growth, e, e.evictVersion); !ok {
		return cacheerrors.New(cacheerrors.ErrCodeOutOfMemory, "no cache space to grow %s to %d bytes", h.path, endOffset)
	}
	return nil
}
