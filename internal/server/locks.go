// Package server implements the authoritative versioned file store (spec
// §4.4): a monotonic per-path timestamp index, a lazily-created per-path
// reader/writer lock table, a chunk-transfer table that lets a lock outlive
// a single RPC, and the Validate/Upload/UploadChunk/DownloadChunk/
// CancelChunk/Delete RPC surface. Grounded on the teacher's service-layer
// locking conventions, adapted per the spec §9 re-architecture note: a lock
// manager abstraction exposing with_read/with_write scoped acquisitions,
// with explicit guard objects for locks that must outlive a function call.
package server

import "sync"

// LockManager lazily creates one sync.RWMutex per path and exposes scoped
// and explicit-guard acquisition (spec §9).
type LockManager struct {
	globalMu sync.Mutex
	locks    map[string]*sync.RWMutex
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*sync.RWMutex)}
}

func (m *LockManager) lockFor(path string) *sync.RWMutex {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	l, ok := m.locks[path]
	if !ok {
		l = &sync.RWMutex{}
		m.locks[path] = l
	}
	return l
}

// WithRead runs f while holding path's reader lock.
func (m *LockManager) WithRead(path string, f func() error) error {
	l := m.lockFor(path)
	l.RLock()
	defer l.RUnlock()
	return f()
}

// WithWrite runs f while holding path's writer lock.
func (m *LockManager) WithWrite(path string, f func() error) error {
	l := m.lockFor(path)
	l.Lock()
	defer l.Unlock()
	return f()
}

// Guard is an explicit, held lock acquisition that outlives a single
// function call — used by chunk streaming, where the reader or writer lock
// must stay held across multiple RPCs (spec §4.4, §4.5: "lock retention
// across RPCs").
type Guard struct {
	mu     *sync.RWMutex
	write  bool
	once   sync.Once
}

// AcquireRead takes and holds path's reader lock, returning a Guard the
// caller releases later with Release.
func (m *LockManager) AcquireRead(path string) *Guard {
	l := m.lockFor(path)
	l.RLock()
	return &Guard{mu: l, write: false}
}

// AcquireWrite takes and holds path's writer lock, returning a Guard the
// caller releases later with Release.
func (m *LockManager) AcquireWrite(path string) *Guard {
	l := m.lockFor(path)
	l.Lock()
	return &Guard{mu: l, write: true}
}

// Release releases the held lock. Safe to call more than once; only the
// first call has effect.
func (g *Guard) Release() {
	g.once.Do(func() {
		if g.write {
			g.mu.Unlock()
		} else {
			g.mu.RUnlock()
		}
	})
}
