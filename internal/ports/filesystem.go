package ports

import "os"

// FileSystem is the file access the layout manager, the install ledger and
// the installer strategies need. WriteFile must replace the target
// atomically so a crash never leaves a truncated ledger behind.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	Exists(path string) bool
	IsDir(path string) bool
	MkdirAll(path string, perm os.FileMode) error
	MkdirTemp(dir, pattern string) (string, error)
	Remove(path string) error
	RemoveAll(path string) error
	Rename(oldPath, newPath string) error
}
