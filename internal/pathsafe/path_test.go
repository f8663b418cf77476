package pathsafe

import (
	"path/filepath"
	"testing"

	"github.com/afscache/afscache/pkg/errors"
)

func TestNormalize_StripsLeadingSlashAndCleans(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"/f.txt":        "f.txt",
		"f.txt":         "f.txt",
		"/a/b/../c.txt": "a/c.txt",
		"/a//b.txt":     "a/b.txt",
		"/":             ".",
	}
	for in, want := range cases {
		got, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize_RejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := Normalize("")
	assertPermissionError(t, err)
}

func TestNormalize_RejectsEscapeAttempts(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"..", "../etc/passwd", "a/../../etc/passwd", "/a/../../b"} {
		_, err := Normalize(in)
		assertPermissionError(t, err)
	}
}

func TestResolve_StaysWithinRoot(t *testing.T) {
	t.Parallel()

	root := "/srv/cache"
	got, err := Resolve(root, "a/b.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := filepath.Join(root, "a/b.txt")
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolve_RootItselfIsAllowed(t *testing.T) {
	t.Parallel()

	root := "/srv/cache"
	got, err := Resolve(root, ".")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != filepath.Clean(root) {
		t.Errorf("Resolve(root, \".\") = %q, want %q", got, root)
	}
}

func TestResolve_RejectsPathsThatEscapeRoot(t *testing.T) {
	t.Parallel()

	// Resolve trusts its caller to have already Normalize()d, but must still
	// refuse to hand back a path outside root if that invariant is broken.
	_, err := Resolve("/srv/cache", "../outside.txt")
	assertPermissionError(t, err)
}

func assertPermissionError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	ce, ok := err.(*errors.CacheError)
	if !ok || ce.Code != errors.ErrCodePermission {
		t.Fatalf("err = %v, want EPERM CacheError", err)
	}
}
