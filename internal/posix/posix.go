// Package posix is the thin, explicitly out-of-core client-facing handle
// API (spec §1, §6): Open/Close/Read/Write/Lseek/Unlink dispatch against a
// file-descriptor table, delegating every consistency decision to
// internal/proxy's cache engine. It carries none of the MVCC/LRU
// invariants itself; it exists so the module is runnable end-to-end.
package posix

import (
	"io"
	"sync"

	"github.com/afscache/afscache/internal/proxy"
	cacheerrors "github.com/afscache/afscache/pkg/errors"
	"github.com/afscache/afscache/pkg/wire"
)

// Handles dispatches POSIX-style operations onto a proxy.Engine. A
// separate handle table exists here (rather than reusing the engine's
// internal fd table) because real/posix fds and the underlying engine's
// own per-open bookkeeping serve different purposes: this layer's job is
// read/write/lseek position tracking, which the engine (spec §5) never
// takes its cache-engine mutex for.
type Handles struct {
	engine *proxy.Engine

	mu      sync.Mutex
	cursors map[int64]*int64 // fd -> current read/write offset
}

// New wraps engine with the handle-dispatch layer.
func New(engine *proxy.Engine) *Handles {
	return &Handles{engine: engine, cursors: make(map[int64]*int64)}
}

// Open delegates to the cache engine and registers a zero offset cursor
// for the returned descriptor.
func (h *Handles) Open(path string, mode wire.OpenMode) (int64, error) {
	fd, err := h.engine.Open(path, mode)
	if err != nil {
		return 0, err
	}
	off := int64(0)
	h.mu.Lock()
	h.cursors[fd] = &off
	h.mu.Unlock()
	return fd, nil
}

// Close delegates to the cache engine and drops the descriptor's cursor.
func (h *Handles) Close(fd int64) error {
	h.mu.Lock()
	delete(h.cursors, fd)
	h.mu.Unlock()
	return h.engine.Close(fd)
}

// Unlink delegates to the cache engine.
func (h *Handles) Unlink(path string) error {
	return h.engine.Unlink(path)
}

// Read reads up to len(buf) bytes from fd at its current cursor, advancing
// the cursor by the number of bytes read.
func (h *Handles) Read(fd int64, buf []byte) (int, error) {
	if h.engine.IsDirectory(fd) {
		return 0, cacheerrors.New(cacheerrors.ErrCodeIsDirectory, "read on directory descriptor %d", fd)
	}
	f, cursor, err := h.fileAndCursor(fd)
	if err != nil {
		return 0, err
	}
	n, err := f.ReadAt(buf, *cursor)
	*cursor += int64(n)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Write writes buf to fd at its current cursor, advancing the cursor by
// the number of bytes written. Before a write that would extend the file,
// it reserves the additional bytes against cache capacity (spec §4.2's
// write-boundary reserve, §7), failing with ENOMEM rather than letting the
// file grow unaccounted for.
func (h *Handles) Write(fd int64, buf []byte) (int, error) {
	f, cursor, err := h.fileAndCursor(fd)
	if err != nil {
		return 0, err
	}
	if err := h.engine.ReserveForWrite(fd, *cursor+int64(len(buf))); err != nil {
		return 0, err
	}
	n, err := f.WriteAt(buf, *cursor)
	*cursor += int64(n)
	return n, err
}

// Whence mirrors the standard seek whence values.
type Whence int

const (
	SeekStart   Whence = 0
	SeekCurrent Whence = 1
	SeekEnd     Whence = 2
)

// Lseek repositions fd's cursor and returns the new offset.
func (h *Handles) Lseek(fd int64, offset int64, whence Whence) (int64, error) {
	f, cursor, err := h.fileAndCursor(fd)
	if err != nil {
		return 0, err
	}
	switch whence {
	case SeekStart:
		*cursor = offset
	case SeekCurrent:
		*cursor += offset
	case SeekEnd:
		info, serr := f.Stat()
		if serr != nil {
			return 0, cacheerrors.Wrap(cacheerrors.ErrCodeIO, serr, "stat for lseek")
		}
		*cursor = info.Size() + offset
	default:
		return 0, cacheerrors.New(cacheerrors.ErrCodeInvalid, "unknown whence %d", whence)
	}
	return *cursor, nil
}

func (h *Handles) fileAndCursor(fd int64) (proxy.File, *int64, error) {
	f, ok := h.engine.FileFor(fd)
	if !ok {
		return nil, nil, cacheerrors.New(cacheerrors.ErrCodeBadDescriptor, "unknown descriptor %d", fd)
	}
	h.mu.Lock()
	cursor, ok := h.cursors[fd]
	h.mu.Unlock()
	if !ok {
		return nil, nil, cacheerrors.New(cacheerrors.ErrCodeBadDescriptor, "unknown descriptor %d", fd)
	}
	return f, cursor, nil
}
