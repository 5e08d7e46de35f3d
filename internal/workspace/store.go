package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/codesync/codesync/internal/language"
)

var (
	ErrNotFound = errors.New("workspace: not found")
	ErrDenied   = errors.New("workspace: path outside room")
	ErrTooLarge = errors.New("workspace: content over size limit")
	ErrConflict = errors.New("workspace: target already exists")
)

const binaryPlaceholder = "[Binary file - cannot display]"

// DefaultFile is written into a room the first time it is initialized.
const DefaultFile = "main.py"

// FileInfo is the listing metadata for one room file.
type FileInfo struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Language  string    `json:"type"`
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
	Extension string    `json:"extension"`
}

// Store is a path-confined file store with one directory per room.
// Every operation re-resolves its target against the room root; nothing
// about containment is cached between calls.
type Store struct {
	root        string
	maxFileSize int64
}

func New(root string, maxFileSize int64) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve rooms dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create rooms dir: %w", err)
	}
	return &Store{root: abs, maxFileSize: maxFileSize}, nil
}

// RoomDir returns the absolute directory for a room, rejecting room ids
// that would themselves escape the store root.
func (s *Store) RoomDir(room string) (string, error) {
	return s.resolve(room, ".")
}

// resolve canonicalizes room-relative path and enforces containment.
func (s *Store) resolve(room, path string) (string, error) {
	roomDir := filepath.Join(s.root, room)
	if !contained(s.root, roomDir) {
		return "", ErrDenied
	}
	target := filepath.Join(roomDir, path)
	if !contained(roomDir, target) {
		return "", ErrDenied
	}
	return target, nil
}

func contained(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// EnsureRoom creates the room directory and, when the room is empty,
// seeds it with the default starter file. Idempotent.
func (s *Store) EnsureRoom(room string) error {
	dir, err := s.resolve(room, ".")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create room %q: %w", room, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		starter := language.Template("python")
		if err := os.WriteFile(filepath.Join(dir, DefaultFile), []byte(starter), 0o644); err != nil {
			return fmt.Errorf("seed room %q: %w", room, err)
		}
	}
	return nil
}

func (s *Store) Read(room, path string) (string, error) {
	target, err := s.resolve(room, path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}

	b, err := os.ReadFile(target)
	if err != nil {
		return "", ErrNotFound
	}
	if !utf8.Valid(b) {
		return binaryPlaceholder, nil
	}
	return string(b), nil
}

func (s *Store) Write(room, path, content string) error {
	target, err := s.resolve(room, path)
	if err != nil {
		return err
	}
	if int64(len(content)) > s.maxFileSize {
		return ErrTooLarge
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, []byte(content), 0o644)
}

// Create writes a new file, filling empty content from the starter template
// of the language detected from the filename.
func (s *Store) Create(room, path, content string) error {
	target, err := s.resolve(room, path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(target); err == nil {
		return ErrConflict
	}
	if content == "" {
		content = language.Template(language.Detect(path))
	}
	if int64(len(content)) > s.maxFileSize {
		return ErrTooLarge
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, []byte(content), 0o644)
}

func (s *Store) Mkdir(room, dir string) error {
	target, err := s.resolve(room, dir)
	if err != nil {
		return err
	}
	if _, err := os.Stat(target); err == nil {
		return ErrConflict
	}
	return os.MkdirAll(target, 0o755)
}

func (s *Store) Delete(room, path string) error {
	target, err := s.resolve(room, path)
	if err != nil {
		return err
	}
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		return ErrNotFound
	}
	return os.Remove(target)
}

func (s *Store) Rename(room, oldPath, newPath string) error {
	// Both ends must pass containment.
	oldTarget, err := s.resolve(room, oldPath)
	if err != nil {
		return err
	}
	newTarget, err := s.resolve(room, newPath)
	if err != nil {
		return err
	}

	if _, err := os.Stat(oldTarget); err != nil {
		return ErrNotFound
	}
	if _, err := os.Stat(newTarget); err == nil {
		return ErrConflict
	}
	if err := os.MkdirAll(filepath.Dir(newTarget), 0o755); err != nil {
		return err
	}
	return os.Rename(oldTarget, newTarget)
}

// List walks the room and returns per-file metadata sorted by name.
func (s *Store) List(room string) ([]FileInfo, error) {
	dir, err := s.resolve(room, ".")
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		return []FileInfo{}, nil
	}

	var files []FileInfo
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, FileInfo{
			Name:      d.Name(),
			Path:      rel,
			Language:  language.Detect(d.Name()),
			Size:      info.Size(),
			Modified:  info.ModTime(),
			Extension: filepath.Ext(d.Name()),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}
