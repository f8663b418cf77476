package server

import (
	"os"
	"sync"
)

// direction distinguishes a download stream (server reading, proxy writing
// its local copy) from an upload stream (server writing, proxy sending
// bytes) (spec §3 "Server transfer tables").
type direction int

const (
	directionDownload direction = iota
	directionUpload
)

// transfer is one active chunked stream: the open server-side file handle,
// the path it belongs to, and the lock guard retained for the stream's
// duration (spec §4.4, §4.5 "lock retention across RPCs").
type transfer struct {
	path      string
	file      *os.File
	direction direction
	guard     *Guard
	remaining int64 // download only: bytes left to read before EOF
}

// TransferTable assigns globally-unique, monotonic chunk ids to active
// streams and looks them up for DownloadChunk/UploadChunk/CancelChunk.
type TransferTable struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*transfer
}

// NewTransferTable creates an empty TransferTable.
func NewTransferTable() *TransferTable {
	return &TransferTable{entries: make(map[int64]*transfer)}
}

// Register mints a new chunk id for an active transfer and stores it.
// remaining is only meaningful for downloads: the bytes left to stream
// after the chunk already delivered to the caller.
func (t *TransferTable) Register(path string, f *os.File, dir direction, guard *Guard, remaining int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.entries[id] = &transfer{path: path, file: f, direction: dir, guard: guard, remaining: remaining}
	return id
}

// Get returns the transfer registered under id.
func (t *TransferTable) Get(id int64) (*transfer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.entries[id]
	return tr, ok
}

// Remove drops id from the table. Callers are responsible for closing the
// file and releasing the guard.
func (t *TransferTable) Remove(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// finish closes the transfer's file and releases its lock guard; callers
// call this once a stream reaches its terminal state (final chunk read/
// written, or CancelChunk for a download).
func (tr *transfer) finish() {
	if tr.file != nil {
		tr.file.Close()
	}
	if tr.guard != nil {
		tr.guard.Release()
	}
}
