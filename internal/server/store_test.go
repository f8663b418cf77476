package server

import (
	"os"
	"path/filepath"
	"testing"

	cacheerrors "github.com/afscache/afscache/pkg/errors"
	"github.com/afscache/afscache/pkg/wire"
)

func newTestStore(t *testing.T, chunkSize int) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := NewStore(root, chunkSize)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func writeFile(t *testing.T, root, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestStore_ValidateNotExistAllowsCreate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, wire.DefaultChunkSize)
	res, err := s.Validate(wire.ValidateArgs{Path: "/new.txt", Mode: wire.ModeCreate})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Errno != int32(cacheerrors.OK) {
		t.Errorf("Errno = %d, want OK", res.Errno)
	}
	if res.ServerTimestamp != wire.NoExistTimestamp {
		t.Errorf("ServerTimestamp = %d, want NoExistTimestamp", res.ServerTimestamp)
	}
}

func TestStore_ValidateNotExistReadIsENOENT(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, wire.DefaultChunkSize)
	res, err := s.Validate(wire.ValidateArgs{Path: "/missing.txt", Mode: wire.ModeRead})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Errno != int32(cacheerrors.ENOENT) {
		t.Errorf("Errno = %d, want ENOENT", res.Errno)
	}
}

func TestStore_ValidateCreateNewCollision(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "f.txt", []byte("x"))
	s, err := NewStore(root, wire.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Validate(wire.ValidateArgs{Path: "/f.txt", Mode: wire.ModeCreateNew})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Errno != int32(cacheerrors.EEXIST) {
		t.Errorf("Errno = %d, want EEXIST", res.Errno)
	}
}

func TestStore_ValidateSameTimestampSkipsChunk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "f.txt", []byte("contents"))
	s, err := NewStore(root, wire.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	ts, _ := s.index.Get("f.txt")

	res, err := s.Validate(wire.ValidateArgs{Path: "/f.txt", Mode: wire.ModeRead, ClientTimestamp: ts})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.HasChunk {
		t.Error("matching timestamp should not trigger a chunk transfer")
	}
	if res.ServerTimestamp != ts {
		t.Errorf("ServerTimestamp = %d, want %d", res.ServerTimestamp, ts)
	}
}

func TestStore_ValidateStaleTimestampReturnsFirstChunk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "f.txt", []byte("contents"))
	s, err := NewStore(root, wire.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Validate(wire.ValidateArgs{Path: "/f.txt", Mode: wire.ModeRead, ClientTimestamp: wire.NoLocalTimestamp})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.HasChunk {
		t.Fatal("expected a chunk for a stale/unknown local timestamp")
	}
	if !res.Chunk.EOF || string(res.Chunk.Bytes) != "contents" {
		t.Errorf("chunk = %+v, want single-chunk EOF with full contents", res.Chunk)
	}
}

func TestStore_ValidateDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(root, wire.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Validate(wire.ValidateArgs{Path: "/sub", Mode: wire.ModeRead})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.IsDirectory {
		t.Error("expected IsDirectory = true")
	}
	if res.Errno != int32(cacheerrors.OK) {
		t.Errorf("Errno = %d, want OK", res.Errno)
	}
}

func TestStore_ValidateWriteOnDirectoryIsEISDIR(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(root, wire.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Validate(wire.ValidateArgs{Path: "/sub", Mode: wire.ModeWrite})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Errno != int32(cacheerrors.EISDIR) {
		t.Errorf("Errno = %d, want EISDIR", res.Errno)
	}
}

// TestStore_DownloadExactChunkSizeIsSingleChunk guards the boundary bug: a
// file whose size is exactly chunkSize must report EOF on the first chunk
// and never require a DownloadChunk call (spec §8's literal boundary case).
func TestStore_DownloadExactChunkSizeIsSingleChunk(t *testing.T) {
	t.Parallel()

	const chunkSize = 16
	root := t.TempDir()
	data := make([]byte, chunkSize)
	for i := range data {
		data[i] = byte(i)
	}
	writeFile(t, root, "f.bin", data)
	s, err := NewStore(root, chunkSize)
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Validate(wire.ValidateArgs{Path: "/f.bin", Mode: wire.ModeRead, ClientTimestamp: wire.NoLocalTimestamp})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Chunk.EOF {
		t.Fatal("file exactly equal to chunk size must report EOF on first chunk")
	}
	if res.Chunk.ChunkID != wire.NoChunkID {
		t.Errorf("ChunkID = %d, want NoChunkID (no transfer should be registered)", res.Chunk.ChunkID)
	}
	if len(res.Chunk.Bytes) != chunkSize {
		t.Errorf("len(Bytes) = %d, want %d", len(res.Chunk.Bytes), chunkSize)
	}
}

func TestStore_DownloadMultiChunkThenCancel(t *testing.T) {
	t.Parallel()

	const chunkSize = 4
	root := t.TempDir()
	writeFile(t, root, "f.bin", []byte("0123456789"))
	s, err := NewStore(root, chunkSize)
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Validate(wire.ValidateArgs{Path: "/f.bin", Mode: wire.ModeRead, ClientTimestamp: wire.NoLocalTimestamp})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Chunk.EOF || res.Chunk.ChunkID == wire.NoChunkID {
		t.Fatalf("expected a multi-chunk transfer, got %+v", res.Chunk)
	}
	if string(res.Chunk.Bytes) != "0123" {
		t.Errorf("first chunk = %q, want %q", res.Chunk.Bytes, "0123")
	}

	next, err := s.DownloadChunk(wire.DownloadChunkArgs{ChunkID: res.Chunk.ChunkID})
	if err != nil {
		t.Fatalf("DownloadChunk: %v", err)
	}
	if next.Chunk.EOF {
		t.Fatal("second chunk should not be EOF yet (6 bytes remain, chunk size 4)")
	}
	if string(next.Chunk.Bytes) != "4567" {
		t.Errorf("second chunk = %q, want %q", next.Chunk.Bytes, "4567")
	}

	if err := s.CancelChunk(wire.CancelChunkArgs{ChunkID: res.Chunk.ChunkID}); err != nil {
		t.Fatalf("CancelChunk: %v", err)
	}
	if _, ok := s.transfers.Get(res.Chunk.ChunkID); ok {
		t.Error("transfer should be removed after cancel")
	}
}

func TestStore_DownloadFinalChunkExactlyDrains(t *testing.T) {
	t.Parallel()

	const chunkSize = 4
	root := t.TempDir()
	writeFile(t, root, "f.bin", []byte("01234567")) // exactly 2 chunks
	s, err := NewStore(root, chunkSize)
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Validate(wire.ValidateArgs{Path: "/f.bin", Mode: wire.ModeRead, ClientTimestamp: wire.NoLocalTimestamp})
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunk.EOF {
		t.Fatal("first of two exact chunks should not be EOF")
	}

	next, err := s.DownloadChunk(wire.DownloadChunkArgs{ChunkID: res.Chunk.ChunkID})
	if err != nil {
		t.Fatalf("DownloadChunk: %v", err)
	}
	if !next.Chunk.EOF {
		t.Fatal("second chunk should drain exactly and report EOF")
	}
	if string(next.Chunk.Bytes) != "4567" {
		t.Errorf("final chunk = %q, want %q", next.Chunk.Bytes, "4567")
	}
}

func TestStore_UploadSingleChunkBumpsTimestamp(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, wire.DefaultChunkSize)

	res, err := s.Upload(wire.UploadArgs{Path: "/new.txt", FirstChunk: wire.Chunk{Bytes: []byte("hi"), EOF: true, ChunkID: wire.NoChunkID}})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.ServerTimestamp == 0 {
		t.Error("expected a non-zero server timestamp after upload")
	}
	if res.ChunkID != wire.NoChunkID {
		t.Errorf("ChunkID = %d, want NoChunkID for single-chunk upload", res.ChunkID)
	}

	ts, ok := s.index.Get("new.txt")
	if !ok || ts != res.ServerTimestamp {
		t.Errorf("index timestamp = %d (ok=%v), want %d", ts, ok, res.ServerTimestamp)
	}
}

func TestStore_UploadMultiChunkBumpsTimestampImmediately(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, wire.DefaultChunkSize)

	res, err := s.Upload(wire.UploadArgs{Path: "/new.txt", FirstChunk: wire.Chunk{Bytes: []byte("part1"), EOF: false, ChunkID: wire.NoChunkID}})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	// Spec requires the timestamp to bump on the very first Upload call,
	// not deferred until the final UploadChunk.
	if res.ServerTimestamp == 0 {
		t.Error("timestamp must be bumped on the first Upload RPC even mid-transfer")
	}
	if res.ChunkID == wire.NoChunkID {
		t.Fatal("expected a transfer id for a multi-chunk upload")
	}

	if err := s.UploadChunk(wire.UploadChunkArgs{Chunk: wire.Chunk{Bytes: []byte("part2"), EOF: true, ChunkID: res.ChunkID}}); err != nil {
		t.Fatalf("UploadChunk: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.root, "new.txt"))
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if string(data) != "part1part2" {
		t.Errorf("uploaded content = %q, want %q", data, "part1part2")
	}
}

func TestStore_DeleteRemovesFileAndIndexEntry(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "f.txt", []byte("bye"))
	s, err := NewStore(root, wire.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Delete(wire.DeleteArgs{Path: "/f.txt"})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if res.Errno != int32(cacheerrors.OK) {
		t.Errorf("Errno = %d, want OK", res.Errno)
	}
	if _, err := os.Stat(filepath.Join(root, "f.txt")); !os.IsNotExist(err) {
		t.Error("file should be removed from disk")
	}
	if _, ok := s.index.Get("f.txt"); ok {
		t.Error("index entry should be cleared")
	}
}

func TestStore_DeleteMissingIsENOENT(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, wire.DefaultChunkSize)
	res, err := s.Delete(wire.DeleteArgs{Path: "/nope.txt"})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if res.Errno != int32(cacheerrors.ENOENT) {
		t.Errorf("Errno = %d, want ENOENT", res.Errno)
	}
}

func TestStore_DeleteDirectoryIsEISDIR(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(root, wire.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Delete(wire.DeleteArgs{Path: "/sub"})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if res.Errno != int32(cacheerrors.EISDIR) {
		t.Errorf("Errno = %d, want EISDIR", res.Errno)
	}
}
