package proxy

import (
	"os"

	"github.com/afscache/afscache/pkg/wire"
)

// handleKind distinguishes an open file handle from a directory
// pseudo-handle (spec §4.2 step 5, §6).
type handleKind int

const (
	kindFile handleKind = iota
	kindDirectory
)

// openHandle is the proxy's bookkeeping for one open descriptor: which
// path/version/mode it refers to and, for files, the underlying *os.File
// read/write operations are dispatched against outside the engine lock
// (spec §5: read/write/lseek don't take the cache-engine mutex).
type openHandle struct {
	kind      handleKind
	path      string
	mode      wire.OpenMode
	versionID int64
	file      *os.File
}

// fdTable mints and tracks numeric descriptors. File descriptors start at
// wire.FirstFileDescriptor; directory pseudo-handles occupy the disjoint
// range below it (spec §6). This lives in the proxy package rather than
// the (out-of-scope) posix layer because close() needs it to dispatch to
// release_reader/release_writer; the posix handle API (read/write/lseek
// dispatch) is an external collaborator per spec §1.
type fdTable struct {
	nextFile int64
	nextDir  int64
	handles  map[int64]*openHandle
}

func newFDTable() *fdTable {
	return &fdTable{
		nextFile: wire.FirstFileDescriptor,
		nextDir:  wire.FirstDirDescriptor,
		handles:  make(map[int64]*openHandle),
	}
}

func (t *fdTable) registerFile(h *openHandle) int64 {
	fd := t.nextFile
	t.nextFile++
	t.handles[fd] = h
	return fd
}

func (t *fdTable) registerDirectory(h *openHandle) int64 {
	fd := t.nextDir
	t.nextDir++
	t.handles[fd] = h
	return fd
}

func (t *fdTable) lookup(fd int64) (*openHandle, bool) {
	h, ok := t.handles[fd]
	return h, ok
}

func (t *fdTable) remove(fd int64) {
	delete(t.handles, fd)
}
