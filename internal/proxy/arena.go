package proxy

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	cacheerrors "github.com/afscache/afscache/pkg/errors"
)

// Arena maps VersionKeys onto on-disk paths under a cache root and performs
// the actual file creation/deletion. It is the storage half of the pair the
// teacher's LRUCache used to hold together; the LRU (see lru.go) only ever
// holds keys and sizes, never bytes (spec §9).
type Arena struct {
	root string
}

// NewArena creates an Arena rooted at root. The caller is responsible for
// ensuring root exists.
func NewArena(root string) *Arena {
	return &Arena{root: root}
}

// PathFor returns the on-disk path for a version: cache_root/P for version
// 0 (the base version), cache_root/P{n} for version n>0 (spec §3).
func (a *Arena) PathFor(key VersionKey) string {
	if key.VersionID == 0 {
		return filepath.Join(a.root, key.Path)
	}
	return filepath.Join(a.root, key.Path+strconv.FormatInt(key.VersionID, 10))
}

// Create creates (truncating if present) the on-disk file for key and
// returns it open read-write, having ensured its parent directory exists.
func (a *Arena) Create(key VersionKey) (*os.File, error) {
	p := a.PathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "create parent dir for %s", p)
	}
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "create version file %s", p)
	}
	return f, nil
}

// OpenRead opens the on-disk file for key read-only.
func (a *Arena) OpenRead(key VersionKey) (*os.File, error) {
	f, err := os.Open(a.PathFor(key))
	if err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "open version file for read %s", key.Path)
	}
	return f, nil
}

// OpenReadWrite opens the on-disk file for key read-write without truncating.
func (a *Arena) OpenReadWrite(key VersionKey) (*os.File, error) {
	f, err := os.OpenFile(a.PathFor(key), os.O_RDWR, 0o644)
	if err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "open version file for write %s", key.Path)
	}
	return f, nil
}

// CopyFrom copies the bytes of src into a freshly created file for dst,
// returning the number of bytes copied. Used by the writer copy-on-open
// sequence (spec §4.1): the caller must pin src in FileRecord before
// calling and unpin it after, so a concurrent evictor cannot delete src's
// bytes mid-copy.
func (a *Arena) CopyFrom(dst, src VersionKey) (int64, error) {
	in, err := a.OpenRead(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := a.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return 0, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "copy %s to %s", src.Path, dst.Path)
	}
	return n, nil
}

// Remove deletes the on-disk file for key. Missing files are not an error:
// eviction of a version whose file is already gone must still clear
// bookkeeping.
func (a *Arena) Remove(key VersionKey) error {
	err := os.Remove(a.PathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "remove version file %s", key.Path)
	}
	return nil
}

// Size returns the on-disk size of key's file.
func (a *Arena) Size(key VersionKey) (int64, error) {
	info, err := os.Stat(a.PathFor(key))
	if err != nil {
		return 0, cacheerrors.Wrap(cacheerrors.ErrCodeIO, err, "stat version file %s", key.Path)
	}
	return info.Size(), nil
}

// Sweep deletes every regular file anywhere under root (directories are
// left in place; a missing root is not an error). This implements
// the spec §9 startup-sweep design choice: rather than adopt a deterministic
// naming scheme that makes stale P{n} files harmless, the proxy starts with
// an empty in-memory FileRecord set and removes every stale version file it
// finds under the cache root before serving traffic.
func Sweep(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		return os.Remove(path)
	})
}
