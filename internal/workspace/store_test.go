package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), 1024)
	require.NoError(t, err)
	return s
}

func TestEnsureRoomSeedsDefaultFile(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.EnsureRoom("abc"))

	content, err := s.Read("abc", DefaultFile)
	require.NoError(t, err)
	assert.Contains(t, content, "Hello, World!")

	// Idempotent: a second call must not reseed or fail.
	require.NoError(t, s.EnsureRoom("abc"))
}

func TestEnsureRoomDoesNotOverwrite(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureRoom("abc"))
	require.NoError(t, s.Write("abc", DefaultFile, "edited"))

	require.NoError(t, s.EnsureRoom("abc"))

	content, err := s.Read("abc", DefaultFile)
	require.NoError(t, err)
	assert.Equal(t, "edited", content)
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	const body = "print('x')\n# trailing\n"
	require.NoError(t, s.Write("abc", "a.py", body))

	got, err := s.Read("abc", "a.py")
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestWriteTooLargeLeavesPriorContent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("abc", "a.py", "original"))

	err := s.Write("abc", "a.py", strings.Repeat("x", 2048))
	assert.ErrorIs(t, err, ErrTooLarge)

	got, err := s.Read("abc", "a.py")
	require.NoError(t, err)
	assert.Equal(t, "original", got)
}

func TestContainmentDeniedOnEveryOperation(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureRoom("abc"))

	outside := filepath.Join(s.root, "..", "escape.txt")
	require.NoError(t, os.WriteFile(filepath.Clean(outside), []byte("secret"), 0o644))

	traversals := []string{
		"../../etc/passwd",
		"../escape.txt",
		"../../escape.txt",
		"sub/../../escape.txt",
	}

	for _, p := range traversals {
		_, err := s.Read("abc", p)
		assert.ErrorIs(t, err, ErrDenied, "Read %q", p)

		assert.ErrorIs(t, s.Write("abc", p, "x"), ErrDenied, "Write %q", p)
		assert.ErrorIs(t, s.Create("abc", p, "x"), ErrDenied, "Create %q", p)
		assert.ErrorIs(t, s.Delete("abc", p), ErrDenied, "Delete %q", p)
		assert.ErrorIs(t, s.Rename("abc", p, "ok.txt"), ErrDenied, "Rename from %q", p)
		assert.ErrorIs(t, s.Rename("abc", "ok.txt", p), ErrDenied, "Rename to %q", p)
		assert.ErrorIs(t, s.Mkdir("abc", p), ErrDenied, "Mkdir %q", p)
	}

	// The file outside the room must be untouched.
	b, err := os.ReadFile(filepath.Clean(outside))
	require.NoError(t, err)
	assert.Equal(t, "secret", string(b))
}

func TestTraversalInRoomID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("../abc", "a.py")
	assert.ErrorIs(t, err, ErrDenied)
}

func TestCreateConflict(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("abc", "a.py", "one"))
	assert.ErrorIs(t, s.Create("abc", "a.py", "two"), ErrConflict)

	got, err := s.Read("abc", "a.py")
	require.NoError(t, err)
	assert.Equal(t, "one", got)
}

func TestCreateFillsTemplateFromExtension(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("abc", "new.go", ""))

	got, err := s.Read("abc", "new.go")
	require.NoError(t, err)
	assert.Contains(t, got, "package main")
}

func TestRenameConflictLeavesBothFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("abc", "a.py", "content-a"))
	require.NoError(t, s.Write("abc", "b.py", "content-b"))

	assert.ErrorIs(t, s.Rename("abc", "a.py", "b.py"), ErrConflict)

	a, err := s.Read("abc", "a.py")
	require.NoError(t, err)
	assert.Equal(t, "content-a", a)

	b, err := s.Read("abc", "b.py")
	require.NoError(t, err)
	assert.Equal(t, "content-b", b)
}

func TestRenameMissingSource(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureRoom("abc"))
	assert.ErrorIs(t, s.Rename("abc", "missing.py", "other.py"), ErrNotFound)
}

func TestDeleteThenRead(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("abc", "a.py", "x"))
	require.NoError(t, s.Delete("abc", "a.py"))

	_, err := s.Read("abc", "a.py")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete("abc", "a.py"), ErrNotFound)
}

func TestListMetadata(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("abc", "b.py", "python here"))
	require.NoError(t, s.Write("abc", "a.js", "js here"))
	require.NoError(t, s.Write("abc", "lib/util.rb", "ruby here"))

	files, err := s.List("abc")
	require.NoError(t, err)
	require.Len(t, files, 3)

	// Sorted by name.
	assert.Equal(t, "a.js", files[0].Name)
	assert.Equal(t, "b.py", files[1].Name)
	assert.Equal(t, "util.rb", files[2].Name)

	assert.Equal(t, "javascript", files[0].Language)
	assert.Equal(t, ".js", files[0].Extension)
	assert.Equal(t, int64(len("js here")), files[0].Size)
	assert.Equal(t, filepath.Join("lib", "util.rb"), files[2].Path)
}

func TestListUnknownRoomIsEmpty(t *testing.T) {
	s := newTestStore(t)
	files, err := s.List("nope")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestReadBinaryPlaceholder(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureRoom("abc"))

	dir, err := s.RoomDir("abc")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob.bin"), []byte{0xff, 0xfe, 0x00, 0x01}, 0o644))

	got, err := s.Read("abc", "blob.bin")
	require.NoError(t, err)
	assert.Equal(t, binaryPlaceholder, got)
}
