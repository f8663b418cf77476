package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTempFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "transfer")
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestTransferTable_RegisterMintsMonotonicIDs(t *testing.T) {
	t.Parallel()

	tt := NewTransferTable()
	f1, f2 := openTempFile(t), openTempFile(t)
	defer f1.Close()
	defer f2.Close()

	id1 := tt.Register("/a", f1, directionDownload, nil, 10)
	id2 := tt.Register("/b", f2, directionUpload, nil, 0)
	if id2 <= id1 {
		t.Errorf("id2 %d should exceed id1 %d", id2, id1)
	}

	tr, ok := tt.Get(id1)
	if !ok || tr.path != "/a" || tr.remaining != 10 {
		t.Errorf("Get(id1) = %+v, ok=%v", tr, ok)
	}
}

func TestTransferTable_RemoveForgetsEntry(t *testing.T) {
	t.Parallel()

	tt := NewTransferTable()
	f := openTempFile(t)
	defer f.Close()
	id := tt.Register("/a", f, directionDownload, nil, 5)

	tt.Remove(id)
	if _, ok := tt.Get(id); ok {
		t.Error("expected transfer to be gone after Remove")
	}
}

func TestTransfer_FinishClosesFileAndReleasesGuard(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "f")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}

	m := NewLockManager()
	guard := m.AcquireWrite("/f")

	tr := &transfer{path: "/f", file: f, direction: directionUpload, guard: guard}
	tr.finish()

	// The file should now be closed: reading from it must fail.
	if _, err := f.Read(make([]byte, 1)); err == nil {
		t.Error("expected file to be closed after finish()")
	}

	// The lock must have been released: a fresh AcquireWrite should not block.
	done := make(chan struct{})
	go func() {
		m.AcquireWrite("/f").Release()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("expected guard release to unblock a subsequent AcquireWrite")
	}
}
