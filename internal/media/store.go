// Package media gives read access to the video directory.
package media

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/mocaca/mocaca/internal/filecache"
)

// ErrNotFound is returned when a path does not name a regular file under the
// media root.
var ErrNotFound = errors.New("media: not found")

// Entry describes a file found by Lookup.
type Entry struct {
	// Path is the absolute, symlink-free path. It is the key used for handle
	// caching.
	Path string
	// Rel is the slash-separated path relative to the root.
	Rel     string
	Size    int64
	ModTime time.Time
}

// Store resolves request paths to files below a root directory.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Errorf("failed to create media dir %q: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, xerrors.Errorf("failed to resolve media dir %q: %w", dir, err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, xerrors.Errorf("failed to resolve media dir %q: %w", dir, err)
	}
	return &Store{root: root}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Lookup resolves rel, a slash-separated path relative to the root. When no
// file matches exactly, a case-insensitive match in the same directory is
// accepted. Paths escaping the root, directories and missing files all yield
// ErrNotFound.
func (s *Store) Lookup(rel string) (Entry, error) {
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if rel == "" {
		return Entry{}, ErrNotFound
	}

	full := filepath.Join(s.root, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		full, err = s.matchFold(full)
		if err != nil {
			return Entry{}, err
		}
		info, err = os.Stat(full)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, xerrors.Errorf("failed to stat %q: %w", rel, err)
	}
	if info.IsDir() {
		return Entry{}, ErrNotFound
	}

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return Entry{}, xerrors.Errorf("failed to resolve %q: %w", rel, err)
	}
	if !isSubPath(s.root, resolved) {
		return Entry{}, ErrNotFound
	}

	relResolved, _ := filepath.Rel(s.root, full)
	return Entry{
		Path:    resolved,
		Rel:     filepath.ToSlash(relResolved),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// matchFold looks for a directory entry whose name equals the base of full
// ignoring case.
func (s *Store) matchFold(full string) (string, error) {
	dir, name := filepath.Split(full)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", ErrNotFound
	}
	for _, e := range entries {
		if strings.EqualFold(e.Name(), name) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", ErrNotFound
}

// Open opens an absolute path returned by Lookup for reading.
func (s *Store) Open(abs string) (filecache.Handle, error) {
	f, err := os.Open(abs)
	if err != nil {
		return nil, xerrors.Errorf("failed to open %q: %w", abs, err)
	}
	return f, nil
}

// Remove deletes the file at rel. A file that is already gone is not an error.
func (s *Store) Remove(rel string) error {
	e, err := s.Lookup(rel)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return xerrors.Errorf("failed to remove %q: %w", rel, err)
	}
	return nil
}

// isSubPath reports whether target lies inside base.
func isSubPath(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
