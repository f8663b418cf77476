package server

import (
	"io"
	"os"

	"github.com/afscache/afscache/internal/pathsafe"
	cacheerrors "github.com/afscache/afscache/pkg/errors"
	"github.com/afscache/afscache/pkg/wire"
)

// Store is the authoritative versioned file store (spec §4.4): the service
// root on disk, the timestamp index, the per-path lock table, and the
// active chunk-transfer table, wired together behind the RPC surface.
type Store struct {
	root      string
	chunkSize int

	index     *TimestampIndex
	locks     *LockManager
	transfers *TransferTable
}

// NewStore opens a Store rooted at root, scanning it to seed the timestamp
// index (spec §4.4 "initial scan of root").
func NewStore(root string, chunkSize int) (*Store, error) {
	if chunkSize <= 0 {
		chunkSize = wire.DefaultChunkSize
	}
	s := &Store{
		root:      root,
		chunkSize: chunkSize,
		index:     NewTimestampIndex(),
		locks:     NewLockManager(),
		transfers: NewTransferTable(),
	}
	if err := s.index.ScanRoot(root); err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "scan service root %s", root)
	}
	return s, nil
}

func canRead(info os.FileInfo) bool {
	return info.Mode().Perm()&0o444 != 0
}

func canWrite(info os.FileInfo) bool {
	return info.Mode().Perm()&0o222 != 0
}

// classify applies the Validate error table (spec §7).
func classify(exists bool, info os.FileInfo, mode wire.OpenMode) (cacheerrors.Errno, bool) {
	if !exists {
		if mode.AllowsCreate() {
			return cacheerrors.OK, false
		}
		return cacheerrors.ENOENT, false
	}
	// Validate maps exists && CREATE_NEW to EEXIST before calling classify.
	if info.IsDir() {
		if mode != wire.ModeRead {
			return cacheerrors.EISDIR, true
		}
		if !canRead(info) {
			return cacheerrors.EPERM, true
		}
		return cacheerrors.OK, true
	}
	if !info.Mode().IsRegular() {
		return cacheerrors.EPERM, false
	}
	needsRead := mode.RequiresRead() || mode == wire.ModeCreate
	if needsRead && !canRead(info) {
		return cacheerrors.EPERM, false
	}
	if mode.RequiresWrite() && !canWrite(info) {
		return cacheerrors.EPERM, false
	}
	return cacheerrors.OK, false
}

// Validate implements spec §4.4's Validate RPC.
func (s *Store) Validate(args wire.ValidateArgs) (wire.ValidateResult, error) {
	path, perr := pathsafe.Normalize(args.Path)
	if perr != nil {
		return wire.ValidateResult{Errno: int32(cacheerrors.EPERM)}, nil
	}

	guard := s.locks.AcquireRead(path)

	full, rerr := pathsafe.Resolve(s.root, path)
	if rerr != nil {
		guard.Release()
		return wire.ValidateResult{Errno: int32(cacheerrors.EPERM)}, nil
	}

	info, statErr := os.Stat(full)
	exists := statErr == nil
	if statErr != nil && !os.IsNotExist(statErr) {
		guard.Release()
		return wire.ValidateResult{Errno: int32(cacheerrors.EIO)}, nil
	}

	if exists && args.Mode == wire.ModeCreateNew {
		guard.Release()
		return wire.ValidateResult{Errno: int32(cacheerrors.EEXIST)}, nil
	}

	errno, isDir := classify(exists, info, args.Mode)
	if errno != cacheerrors.OK {
		guard.Release()
		return wire.ValidateResult{Errno: int32(errno), IsDirectory: isDir}, nil
	}

	if isDir {
		guard.Release()
		return wire.ValidateResult{Errno: int32(cacheerrors.OK), IsDirectory: true}, nil
	}

	if !exists {
		guard.Release()
		return wire.ValidateResult{Errno: int32(cacheerrors.OK), ServerTimestamp: wire.NoExistTimestamp}, nil
	}

	serverTS, _ := s.index.Get(path)
	if args.ClientTimestamp == serverTS {
		guard.Release()
		return wire.ValidateResult{Errno: int32(cacheerrors.OK), ServerTimestamp: serverTS}, nil
	}

	chunk, err := s.loadFirstChunk(path, full, guard)
	if err != nil {
		guard.Release()
		return wire.ValidateResult{Errno: int32(cacheerrors.EIO)}, nil
	}

	return wire.ValidateResult{
		Errno:           int32(cacheerrors.OK),
		ServerTimestamp: serverTS,
		HasChunk:        true,
		Chunk:           chunk,
	}, nil
}

// loadFirstChunk opens full for reading and reads its first chunk. If more
// data remains, it registers a download transfer retaining guard; if the
// whole file fit in one chunk, it closes the file and releases guard
// itself (spec §4.4 step 7).
func (s *Store) loadFirstChunk(path, full string, guard *Guard) (wire.Chunk, error) {
	f, err := os.Open(full)
	if err != nil {
		return wire.Chunk{}, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return wire.Chunk{}, err
	}
	total := info.Size()

	toRead := total
	if toRead > int64(s.chunkSize) {
		toRead = int64(s.chunkSize)
	}
	buf := make([]byte, toRead)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		f.Close()
		return wire.Chunk{}, err
	}

	remaining := total - int64(n)
	if remaining <= 0 {
		f.Close()
		guard.Release()
		return wire.Chunk{Bytes: buf[:n], EOF: true, ChunkID: wire.NoChunkID}, nil
	}

	id := s.transfers.Register(path, f, directionDownload, guard, remaining)
	return wire.Chunk{Bytes: buf[:n], EOF: false, ChunkID: id}, nil
}

// DownloadChunk implements spec §4.4's DownloadChunk RPC.
func (s *Store) DownloadChunk(args wire.DownloadChunkArgs) (wire.DownloadChunkResult, error) {
	tr, ok := s.transfers.Get(args.ChunkID)
	if !ok {
		return wire.DownloadChunkResult{Chunk: wire.Chunk{EOF: true}}, nil
	}

	toRead := tr.remaining
	if toRead > int64(s.chunkSize) {
		toRead = int64(s.chunkSize)
	}
	buf := make([]byte, toRead)
	n, err := io.ReadFull(tr.file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		s.transfers.Remove(args.ChunkID)
		tr.finish()
		return wire.DownloadChunkResult{}, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "read chunk for %s", tr.path)
	}
	tr.remaining -= int64(n)

	eof := tr.remaining <= 0
	if eof {
		s.transfers.Remove(args.ChunkID)
		tr.finish()
	}
	return wire.DownloadChunkResult{Chunk: wire.Chunk{Bytes: buf[:n], EOF: eof, ChunkID: args.ChunkID}}, nil
}

// CancelChunk implements spec §4.4's CancelChunk RPC: only valid for
// downloads, releasing the retained reader lock without draining the rest
// of the stream.
func (s *Store) CancelChunk(args wire.CancelChunkArgs) error {
	tr, ok := s.transfers.Get(args.ChunkID)
	if !ok || tr.direction != directionDownload {
		return nil
	}
	s.transfers.Remove(args.ChunkID)
	tr.finish()
	return nil
}

// Upload implements spec §4.4's Upload RPC.
func (s *Store) Upload(args wire.UploadArgs) (wire.UploadResult, error) {
	path, perr := pathsafe.Normalize(args.Path)
	if perr != nil {
		return wire.UploadResult{}, perr
	}
	full, rerr := pathsafe.Resolve(s.root, path)
	if rerr != nil {
		return wire.UploadResult{}, rerr
	}

	guard := s.locks.AcquireWrite(path)

	f, err := os.OpenFile(full, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		guard.Release()
		return wire.UploadResult{}, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "create %s for upload", path)
	}

	if _, err := f.Write(args.FirstChunk.Bytes); err != nil {
		f.Close()
		guard.Release()
		return wire.UploadResult{}, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "write first chunk for %s", path)
	}

	newTS := s.index.Bump(path)

	if args.FirstChunk.EOF {
		f.Close()
		guard.Release()
		return wire.UploadResult{ServerTimestamp: newTS, ChunkID: wire.NoChunkID}, nil
	}

	id := s.transfers.Register(path, f, directionUpload, guard, 0)
	return wire.UploadResult{ServerTimestamp: newTS, ChunkID: id}, nil
}

// UploadChunk implements spec §4.4's UploadChunk RPC.
func (s *Store) UploadChunk(args wire.UploadChunkArgs) error {
	tr, ok := s.transfers.Get(args.Chunk.ChunkID)
	if !ok {
		return cacheerrors.New(cacheerrors.ErrCodeInvalid, "unknown upload chunk id %d", args.Chunk.ChunkID)
	}

	if _, err := tr.file.Write(args.Chunk.Bytes); err != nil {
		s.transfers.Remove(args.Chunk.ChunkID)
		tr.finish()
		return cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "write chunk for %s", tr.path)
	}

	if args.Chunk.EOF {
		s.transfers.Remove(args.Chunk.ChunkID)
		tr.finish()
	}
	return nil
}

// Delete implements spec §4.4's Delete RPC.
func (s *Store) Delete(args wire.DeleteArgs) (wire.DeleteResult, error) {
	path, perr := pathsafe.Normalize(args.Path)
	if perr != nil {
		return wire.DeleteResult{Errno: int32(cacheerrors.EPERM)}, nil
	}
	full, rerr := pathsafe.Resolve(s.root, path)
	if rerr != nil {
		return wire.DeleteResult{Errno: int32(cacheerrors.EPERM)}, nil
	}

	var result wire.DeleteResult
	err := s.locks.WithWrite(path, func() error {
		info, statErr := os.Stat(full)
		if os.IsNotExist(statErr) {
			result.Errno = int32(cacheerrors.ENOENT)
			return nil
		}
		if statErr != nil {
			result.Errno = int32(cacheerrors.EIO)
			return nil
		}
		if info.IsDir() {
			result.Errno = int32(cacheerrors.EISDIR)
			return nil
		}
		if err := os.Remove(full); err != nil {
			result.Errno = int32(cacheerrors.EIO)
			return nil
		}
		s.index.Delete(path)
		result.Errno = int32(cacheerrors.OK)
		return nil
	})
	if err != nil {
		return wire.DeleteResult{}, err
	}
	return result, nil
}
