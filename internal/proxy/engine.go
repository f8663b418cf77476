package proxy

import (
	"os"
	"sync"

	"github.com/afscache/afscache/internal/chunkio"
	"github.com/afscache/afscache/internal/logging"
	"github.com/afscache/afscache/internal/metrics"
	cacheerrors "github.com/afscache/afscache/pkg/errors"
	"github.com/afscache/afscache/pkg/wire"
)

// Config configures an Engine.
type Config struct {
	CacheRoot      string
	CapacityBytes  int64
	ChunkSizeBytes int
}

// Engine is the proxy cache engine (spec §4.2): the cache state held in its
// fields (spec §9 — no package-level singletons) drives open/close/unlink
// against the server through a ServerClient, installing and evicting
// Versions as it goes.
type Engine struct {
	mu sync.Mutex // cache-engine mutex: serializes open top-to-bottom and close bookkeeping (spec §5)

	records    map[string]*FileRecord
	timestamps map[string]int64 // path -> last known server timestamp; wire.NoLocalTimestamp if none

	lru   *LRU
	arena *Arena
	fds   *fdTable

	client    ServerClient
	chunkSize int
	pool      *chunkio.Pool

	log     *logging.Logger
	metrics *metrics.Collector
}

// NewEngine constructs an Engine, sweeping stale version files from the
// cache root per spec §9's startup design note before serving traffic.
func NewEngine(cfg Config, client ServerClient, log *logging.Logger, mc *metrics.Collector) (*Engine, error) {
	if err := Sweep(cfg.CacheRoot); err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "sweep cache root %s", cfg.CacheRoot)
	}
	chunkSize := cfg.ChunkSizeBytes
	if chunkSize <= 0 {
		chunkSize = wire.DefaultChunkSize
	}
	return &Engine{
		records:    make(map[string]*FileRecord),
		timestamps: make(map[string]int64),
		lru:        NewLRU(cfg.CapacityBytes),
		arena:      NewArena(cfg.CacheRoot),
		fds:        newFDTable(),
		client:     client,
		chunkSize:  chunkSize,
		pool:       chunkio.NewPool(chunkSize),
		log:        log.WithComponent("proxy-engine"),
		metrics:    mc,
	}, nil
}

// Evictable implements PinChecker against the engine's FileRecord set. It is
// only ever invoked while the caller holds e.mu, since every LRU operation
// in this engine runs from inside Open/Close/Unlink (spec §5: LRU
// bookkeeping never spans an RPC on its own, and all of it happens under
// the cache-engine mutex here).
func (e *Engine) Evictable(key VersionKey) bool {
	rec, ok := e.records[key.Path]
	if !ok {
		return true
	}
	return rec.refCount(key.VersionID) == 0
}

// evictVersion is the EvictFunc passed to the LRU: delete the on-disk file
// and clear FileRecord bookkeeping for an evicted version (spec §4.3).
func (e *Engine) evictVersion(key VersionKey) {
	if err := e.arena.Remove(key); err != nil {
		e.log.WithField("path", key.Path).Warn("failed removing evicted version file: ", err)
	}
	rec, ok := e.records[key.Path]
	if !ok {
		return
	}
	rec.removeVersion(key.VersionID)
	if rec.readerVersionID == key.VersionID {
		rec.readerVersionID = -1
		e.timestamps[key.Path] = wire.NoLocalTimestamp
	}
	if e.metrics != nil {
		e.metrics.RecordEviction()
	}
}

func (e *Engine) recordFor(path string) *FileRecord {
	rec, ok := e.records[path]
	if !ok {
		rec = newFileRecord(path)
		e.records[path] = rec
	}
	return rec
}

// Open implements the spec §4.2 state machine.
func (e *Engine) Open(path string, mode wire.OpenMode) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	localTS, haveLocal := e.timestamps[path]
	if !haveLocal {
		localTS = wire.NoLocalTimestamp
	}

	result, err := e.client.Validate(wire.ValidateArgs{Path: path, Mode: mode, ClientTimestamp: localTS})
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordRPCError("Validate", "transport")
		}
		return 0, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "validate %s", path)
	}

	if result.Errno != int32(cacheerrors.OK) {
		if cacheerrors.Errno(result.Errno) == cacheerrors.ENOENT {
			if rec, ok := e.records[path]; ok {
				rec.readerVersionID = -1
			}
			e.timestamps[path] = wire.NoLocalTimestamp
		}
		return 0, cacheerrors.FromErrno(cacheerrors.Errno(result.Errno), "validate "+path)
	}

	if result.IsDirectory {
		h := &openHandle{kind: kindDirectory, path: path, mode: mode}
		fd := e.fds.registerDirectory(h)
		return fd, nil
	}

	rec := e.recordFor(path)

	if result.HasChunk {
		if cur, ok := e.timestamps[path]; ok && cur == result.ServerTimestamp {
			// Another completed open already installed this server
			// timestamp while we held the engine lock; the server is
			// holding a reader lock for a download we no longer need.
			if result.Chunk.ChunkID != wire.NoChunkID {
				if err := e.client.CancelChunk(wire.CancelChunkArgs{ChunkID: result.Chunk.ChunkID}); err != nil {
					e.log.WithField("path", path).Warn("cancel orphaned download chunk failed: ", err)
				}
			}
		} else {
			versionID, err := e.downloadLoop(rec, path, result)
			if err != nil {
				return 0, err
			}
			rec.readerVersionID = versionID
			e.timestamps[path] = result.ServerTimestamp
		}
	} else {
		e.timestamps[path] = result.ServerTimestamp
	}

	var (
		versionID int64
		f         *os.File
		acqErr    error
	)
	if mode.RequiresWrite() {
		versionID, f, acqErr = e.acquireWriter(rec, path)
	} else {
		versionID, f, acqErr = e.acquireReader(rec, path)
	}
	if acqErr != nil {
		return 0, acqErr
	}

	h := &openHandle{kind: kindFile, path: path, mode: mode, versionID: versionID, file: f}
	fd := e.fds.registerFile(h)
	return fd, nil
}

// Close dispatches to release_reader or release_writer per spec §4.2.
func (e *Engine) Close(fd int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.fds.lookup(fd)
	if !ok {
		return cacheerrors.New(cacheerrors.ErrCodeBadDescriptor, "unknown descriptor %d", fd)
	}
	e.fds.remove(fd)

	if h.kind == kindDirectory {
		return nil
	}
	if h.file != nil {
		h.file.Close()
	}

	rec, ok := e.records[h.path]
	if !ok {
		return nil
	}

	if h.mode.RequiresWrite() {
		return e.releaseWriter(rec, h.path, h.versionID)
	}
	e.releaseReader(rec, h.versionID)
	return nil
}

// Unlink implements spec §4.2's unlink.
func (e *Engine) Unlink(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.client.Delete(wire.DeleteArgs{Path: path})
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordRPCError("Delete", "transport")
		}
		return cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "delete %s", path)
	}
	if result.Errno != int32(cacheerrors.OK) {
		return cacheerrors.FromErrno(cacheerrors.Errno(result.Errno), "delete "+path)
	}

	rec, ok := e.records[path]
	if !ok {
		delete(e.timestamps, path)
		return nil
	}
	rec.readerVersionID = -1
	delete(e.timestamps, path)

	for _, id := range rec.liveVersionIDs() {
		if rec.refCount(id) != 0 {
			continue
		}
		key := VersionKey{Path: path, VersionID: id}
		rec.removeVersion(id)
		e.arena.Remove(key)
		e.lru.Untrack(key)
	}
	return nil
}
