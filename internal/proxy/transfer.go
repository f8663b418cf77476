package proxy

import (
	"io"
	"os"

	cacheerrors "github.com/afscache/afscache/pkg/errors"
	"github.com/afscache/afscache/pkg/wire"
)

// downloadLoop implements the proxy side of the download half of the
// chunked transfer protocol (spec §4.5), called from Open once Validate has
// returned a first chunk. It reserves cache bytes chunk-by-chunk, writing
// each into the new version's on-disk file, and returns the installed
// version id on success.
func (e *Engine) downloadLoop(rec *FileRecord, path string, result wire.ValidateResult) (int64, error) {
	versionID := rec.mintVersionID()
	key := VersionKey{Path: path, VersionID: versionID}

	f, err := e.arena.Create(key)
	if err != nil {
		return 0, err
	}

	chunk := result.Chunk
	if ok := e.lru.Reserve(key, int64(len(chunk.Bytes)), e, e.evictVersion); !ok {
		f.Close()
		e.arena.Remove(key)
		if chunk.ChunkID != wire.NoChunkID {
			if cerr := e.client.CancelChunk(wire.CancelChunkArgs{ChunkID: chunk.ChunkID}); cerr != nil {
				e.log.WithField("path", path).Warn("cancel chunk after out-of-space failed: ", cerr)
			}
		}
		return 0, cacheerrors.New(cacheerrors.ErrCodeOutOfMemory, "no cache space to download %s", path)
	}

	if _, err := f.Write(chunk.Bytes); err != nil {
		f.Close()
		e.lru.Evict(key)
		e.arena.Remove(key)
		return 0, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "write downloaded chunk for %s", path)
	}

	for !chunk.EOF {
		next, err := e.client.DownloadChunk(wire.DownloadChunkArgs{ChunkID: chunk.ChunkID})
		if err != nil {
			f.Close()
			e.lru.Evict(key)
			e.arena.Remove(key)
			return 0, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "download chunk for %s", path)
		}
		chunk = next.Chunk

		if ok := e.lru.ExtendReserve(key, int64(len(chunk.Bytes)), e, e.evictVersion); !ok {
			f.Close()
			e.lru.Evict(key)
			e.arena.Remove(key)
			if cerr := e.client.CancelChunk(wire.CancelChunkArgs{ChunkID: chunk.ChunkID}); cerr != nil {
				e.log.WithField("path", path).Warn("cancel chunk after out-of-space failed: ", cerr)
			}
			return 0, cacheerrors.New(cacheerrors.ErrCodeOutOfMemory, "no cache space to download %s", path)
		}
		if _, err := f.Write(chunk.Bytes); err != nil {
			f.Close()
			e.lru.Evict(key)
			e.arena.Remove(key)
			return 0, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "write downloaded chunk for %s", path)
		}
	}

	f.Close()
	rec.installVersion(versionID, 0)
	e.lru.Touch(key)
	return versionID, nil
}

// acquireReader implements FileRecord.acquire_reader (spec §4.1).
func (e *Engine) acquireReader(rec *FileRecord, path string) (int64, *os.File, error) {
	if rec.readerVersionID < 0 {
		return 0, nil, cacheerrors.New(cacheerrors.ErrCodeIO, "no visible version for %s", path)
	}
	key := VersionKey{Path: path, VersionID: rec.readerVersionID}
	f, err := e.arena.OpenRead(key)
	if err != nil {
		return 0, nil, err
	}
	rec.pin(key.VersionID)
	e.lru.Touch(key)
	return key.VersionID, f, nil
}

// acquireWriter implements FileRecord.acquire_writer, including the
// copy-on-open pinning sequence (spec §4.1).
func (e *Engine) acquireWriter(rec *FileRecord, path string) (int64, *os.File, error) {
	newID := rec.mintVersionID()
	newKey := VersionKey{Path: path, VersionID: newID}

	if rec.readerVersionID < 0 {
		if ok := e.lru.Reserve(newKey, 0, e, e.evictVersion); !ok {
			return 0, nil, cacheerrors.New(cacheerrors.ErrCodeOutOfMemory, "no cache space for %s", path)
		}
		f, err := e.arena.Create(newKey)
		if err != nil {
			e.lru.Evict(newKey)
			return 0, nil, err
		}
		rec.installVersion(newID, 1)
		return newID, f, nil
	}

	readerKey := VersionKey{Path: path, VersionID: rec.readerVersionID}
	size, err := e.arena.Size(readerKey)
	if err != nil {
		return 0, nil, err
	}

	if ok := e.lru.Reserve(newKey, size, e, e.evictVersion); !ok {
		return 0, nil, cacheerrors.New(cacheerrors.ErrCodeOutOfMemory, "no cache space for writer copy of %s", path)
	}

	rec.pin(readerKey.VersionID)
	_, err = e.arena.CopyFrom(newKey, readerKey)
	rec.unpin(readerKey.VersionID)
	if err != nil {
		e.lru.Evict(newKey)
		e.arena.Remove(newKey)
		return 0, nil, err
	}

	rec.installVersion(newID, 1)
	f, err := e.arena.OpenReadWrite(newKey)
	if err != nil {
		return 0, nil, err
	}
	return newID, f, nil
}

// releaseReader implements FileRecord.release_reader (spec §4.1). A version
// that survives the close (it's still the reader version, or another
// reader/writer still holds it) is touched, per spec §3's "touch happens on
// ... close of either [a reader or a writer]".
func (e *Engine) releaseReader(rec *FileRecord, versionID int64) {
	rec.unpin(versionID)
	key := VersionKey{Path: rec.path, VersionID: versionID}

	if versionID != rec.readerVersionID && rec.refCount(versionID) == 0 {
		rec.removeVersion(versionID)
		e.arena.Remove(key)
		e.lru.Untrack(key)
		return
	}

	e.lru.Touch(key)
}

// releaseWriter implements FileRecord.release_writer: stream the writer
// version to the server, install it as the new reader version on success,
// or roll back on failure (spec §9's chosen policy for a partial upload). A
// version that survives the close is touched, per spec §3.
func (e *Engine) releaseWriter(rec *FileRecord, path string, versionID int64) error {
	key := VersionKey{Path: path, VersionID: versionID}

	newTS, err := e.uploadLoop(key)
	rec.unpin(versionID)

	if err != nil {
		if rec.refCount(versionID) == 0 && rec.readerVersionID != versionID {
			rec.removeVersion(versionID)
			e.arena.Remove(key)
			e.lru.Untrack(key)
		} else {
			e.lru.Touch(key)
		}
		return err
	}

	prevReader := rec.readerVersionID
	rec.readerVersionID = versionID
	e.timestamps[path] = newTS
	e.lru.Touch(key)

	if prevReader >= 0 && prevReader != versionID && rec.refCount(prevReader) == 0 {
		prevKey := VersionKey{Path: path, VersionID: prevReader}
		rec.removeVersion(prevReader)
		e.arena.Remove(prevKey)
		e.lru.Untrack(prevKey)
	}
	return nil
}

// uploadLoop implements the proxy side of the upload half of the chunked
// transfer protocol (spec §4.5), called from releaseWriter.
func (e *Engine) uploadLoop(key VersionKey) (int64, error) {
	f, err := e.arena.OpenRead(key)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	total, err := e.arena.Size(key)
	if err != nil {
		return 0, err
	}

	buf := e.pool.Get()
	defer e.pool.Put(buf)

	var read int64
	toRead := minInt64(int64(len(buf)), total-read)
	n, err := io.ReadFull(f, buf[:toRead])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return 0, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "read writer version for upload")
	}
	read += int64(n)
	eof := read == total

	uploadResult, err := e.client.Upload(wire.UploadArgs{Path: key.Path, FirstChunk: wire.Chunk{
		Bytes: append([]byte(nil), buf[:n]...), EOF: eof, ChunkID: wire.NoChunkID,
	}})
	if err != nil {
		return 0, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "upload %s", key.Path)
	}

	for !eof {
		toRead = minInt64(int64(len(buf)), total-read)
		n, err = io.ReadFull(f, buf[:toRead])
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return 0, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "read writer version for upload")
		}
		read += int64(n)
		eof = read == total

		if err := e.client.UploadChunk(wire.UploadChunkArgs{Chunk: wire.Chunk{
			Bytes: append([]byte(nil), buf[:n]...), EOF: eof, ChunkID: uploadResult.ChunkID,
		}}); err != nil {
			return 0, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "upload chunk for %s", key.Path)
		}
	}

	return uploadResult.ServerTimestamp, nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
