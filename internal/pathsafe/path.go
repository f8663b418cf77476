// Package pathsafe normalizes server-root-relative paths and rejects any
// that escape the root, per spec §3 ("a server-root-relative, normalized
// string (no ".." escaping root)") and §4.4 ("Normalize path; reject with
// EPERM if it escapes the service root").
package pathsafe

import (
	"path/filepath"
	"strings"

	"github.com/afscache/afscache/pkg/errors"
)

// Normalize cleans a client-supplied path and verifies it stays within the
// service root. It returns the cleaned, root-relative path (no leading
// slash, "." for the root itself) or an EPERM CacheError.
func Normalize(path string) (string, error) {
	if path == "" {
		return "", errors.New(errors.ErrCodePermission, "empty path")
	}

	// Clean the root-relative form so a leading ".." survives and is caught
	// below; Clean("") yields "." for the root itself.
	relative := filepath.Clean(strings.TrimLeft(path, "/"))

	if relative == ".." || strings.HasPrefix(relative, "../") {
		return "", errors.New(errors.ErrCodePermission, "path %q escapes service root", path)
	}

	return relative, nil
}

// Resolve joins a normalized relative path onto an absolute root directory,
// guaranteeing the result is inside root. Callers should pass a path that
// has already gone through Normalize.
func Resolve(root, relative string) (string, error) {
	full := filepath.Join(root, relative)
	cleanRoot := filepath.Clean(root)
	if full != cleanRoot && !strings.HasPrefix(full, cleanRoot+string(filepath.Separator)) {
		return "", errors.New(errors.ErrCodePermission, "path %q escapes root %q", relative, root)
	}
	return full, nil
}
