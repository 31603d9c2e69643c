// Package output holds the files produced by a build.
package output

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrExist is returned by Rename when the target path is already taken.
var ErrExist = errors.New("output file exists")

// File is a single output file.
type File struct {
	Path string // Slash separated path relative to the build folder
	Data []byte
}

// Set is a collection of output files keyed by path. It is safe for concurrent use.
type Set struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{files: make(map[string][]byte)}
}

// Put adds or replaces the file at name.
func (s *Set) Put(name string, data []byte) {
	s.mu.Lock()
	s.files[clean(name)] = data
	s.mu.Unlock()
}

// Get returns the contents of name.
func (s *Set) Get(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.files[clean(name)]
	return b, ok
}

// Has reports whether name is in the set.
func (s *Set) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Delete removes name from the set.
func (s *Set) Delete(name string) {
	s.mu.Lock()
	delete(s.files, clean(name))
	s.mu.Unlock()
}

// Rename moves the file at from to to.
func (s *Set) Rename(from, to string) error {
	from, to = clean(from), clean(to)
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[from]
	if !ok {
		return fmt.Errorf("rename %q: %w", from, fs.ErrNotExist)
	}
	if from == to {
		return nil
	}
	if _, ok := s.files[to]; ok {
		return fmt.Errorf("rename %q to %q: %w", from, to, ErrExist)
	}
	delete(s.files, from)
	s.files[to] = b
	return nil
}

// Paths returns the paths of all files in sorted order.
func (s *Set) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Files returns all files sorted by path.
func (s *Set) Files() []File {
	paths := s.Paths()
	s.mu.RLock()
	defer s.mu.RUnlock()
	files := make([]File, 0, len(paths))
	for _, p := range paths {
		files = append(files, File{Path: p, Data: s.files[p]})
	}
	return files
}

// Len returns the number of files.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Digest returns a hex hash over every path and its contents. Two sets with
// the same files have the same digest.
func (s *Set) Digest() string {
	h := sha256.New()
	for _, f := range s.Files() {
		fmt.Fprintf(h, "%s\x00%d\x00", f.Path, len(f.Data))
		h.Write(f.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func clean(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

// WriteDir writes the set below dir and removes any other files found there,
// so that dir holds exactly the set afterwards. Files whose contents did not
// change are left untouched.
func (s *Set) WriteDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("WriteDir: %w", err)
	}
	for _, f := range s.Files() {
		name := filepath.Join(dir, filepath.FromSlash(f.Path))
		if old, err := os.ReadFile(name); err == nil && bytes.Equal(old, f.Data) {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			return fmt.Errorf("WriteDir: %w", err)
		}
		if err := os.WriteFile(name, f.Data, 0o644); err != nil {
			return fmt.Errorf("WriteDir: %w", err)
		}
	}
	if err := s.prune(dir); err != nil {
		return fmt.Errorf("WriteDir: %w", err)
	}
	return nil
}

// prune removes files under dir that are not in the set, then empty folders.
func (s *Set) prune(dir string) error {
	var dirs []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel != "." {
				dirs = append(dirs, p)
			}
			return nil
		}
		if !s.Has(filepath.ToSlash(rel)) {
			return os.Remove(p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	// deepest first
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			if err := os.Remove(dirs[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadDir loads every regular file below dir into a new Set.
func ReadDir(dir string) (*Set, error) {
	s := NewSet()
	err := fs.WalkDir(os.DirFS(dir), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(p)))
		if err != nil {
			return err
		}
		s.Put(p, b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ReadDir: %w", err)
	}
	return s, nil
}
