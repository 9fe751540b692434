package mocks

import (
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/felixgeelhaar/provisioner/internal/ports"
)

// FileSystem is a thread-safe in-memory test double for ports.FileSystem.
type FileSystem struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
	temps int
}

// NewFileSystem creates a new FileSystem mock.
func NewFileSystem() *FileSystem {
	return &FileSystem{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
	}
}

// AddFile adds a file to the mock filesystem.
func (fs *FileSystem) AddFile(p string, content string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[path.Clean(p)] = []byte(content)
}

// AddDir adds a directory, and its parents, to the mock filesystem.
func (fs *FileSystem) AddDir(p string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.addDirLocked(path.Clean(p))
}

func (fs *FileSystem) addDirLocked(p string) {
	for p != "/" && p != "." && p != "" {
		fs.dirs[p] = true
		p = path.Dir(p)
	}
}

// ReadFile reads a file from the mock filesystem.
func (fs *FileSystem) ReadFile(p string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	data, ok := fs.files[path.Clean(p)]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", p, os.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

// WriteFile writes a file to the mock filesystem.
func (fs *FileSystem) WriteFile(p string, data []byte, _ os.FileMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[path.Clean(p)] = append([]byte(nil), data...)
	return nil
}

// Exists checks if a file or directory exists.
func (fs *FileSystem) Exists(p string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	p = path.Clean(p)
	_, isFile := fs.files[p]
	return isFile || fs.dirs[p]
}

// IsDir checks if a path is a directory.
func (fs *FileSystem) IsDir(p string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.dirs[path.Clean(p)]
}

// MkdirAll creates a directory and all parents.
func (fs *FileSystem) MkdirAll(p string, _ os.FileMode) error {
	fs.AddDir(p)
	return nil
}

// Remove removes a file or empty directory.
func (fs *FileSystem) Remove(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p = path.Clean(p)
	if _, ok := fs.files[p]; ok {
		delete(fs.files, p)
		return nil
	}
	if !fs.dirs[p] {
		return fmt.Errorf("remove %s: %w", p, os.ErrNotExist)
	}
	prefix := p + "/"
	for f := range fs.files {
		if strings.HasPrefix(f, prefix) {
			return fmt.Errorf("remove %s: directory not empty", p)
		}
	}
	delete(fs.dirs, p)
	return nil
}

// MkdirTemp creates a numbered directory in dir. The last "*" in pattern is
// replaced by the number, which is appended when there is none.
func (fs *FileSystem) MkdirTemp(dir, pattern string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.temps++
	n := fmt.Sprint(fs.temps)
	name := pattern + n
	if i := strings.LastIndex(pattern, "*"); i >= 0 {
		name = pattern[:i] + n + pattern[i+1:]
	}
	p := path.Join(path.Clean(dir), name)
	fs.addDirLocked(p)
	return p, nil
}

// RemoveAll removes p and everything below it.
func (fs *FileSystem) RemoveAll(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p = path.Clean(p)
	prefix := p + "/"
	for f := range fs.files {
		if f == p || strings.HasPrefix(f, prefix) {
			delete(fs.files, f)
		}
	}
	for d := range fs.dirs {
		if d == p || strings.HasPrefix(d, prefix) {
			delete(fs.dirs, d)
		}
	}
	return nil
}

// Rename moves a file, or a directory with everything below it.
func (fs *FileSystem) Rename(oldPath, newPath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	oldPath, newPath = path.Clean(oldPath), path.Clean(newPath)
	if data, ok := fs.files[oldPath]; ok {
		fs.files[newPath] = data
		delete(fs.files, oldPath)
		return nil
	}
	if !fs.dirs[oldPath] {
		return fmt.Errorf("rename %s: %w", oldPath, os.ErrNotExist)
	}

	prefix := oldPath + "/"
	for f, data := range fs.files {
		if strings.HasPrefix(f, prefix) {
			fs.files[newPath+"/"+strings.TrimPrefix(f, prefix)] = data
			delete(fs.files, f)
		}
	}
	for d := range fs.dirs {
		if d == oldPath || strings.HasPrefix(d, prefix) {
			delete(fs.dirs, d)
			fs.dirs[newPath+strings.TrimPrefix(d, oldPath)] = true
		}
	}
	fs.addDirLocked(path.Dir(newPath))
	return nil
}

// Files returns the paths of every file in the mock.
func (fs *FileSystem) Files() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]string, 0, len(fs.files))
	for p := range fs.files {
		out = append(out, p)
	}
	return out
}

var _ ports.FileSystem = (*FileSystem)(nil)
