package project

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirLibrary is a filesystem-backed Library: one file per blob under a root
// directory. Write-once is enforced by refusing to overwrite.
type DirLibrary struct {
	root string
}

// OpenDirLibrary creates the root directory if needed and returns the library.
func OpenDirLibrary(root string) (*DirLibrary, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}
	return &DirLibrary{root: root}, nil
}

// Save implements Library.
func (l *DirLibrary) Save(id string, blob []byte) error {
	path := filepath.Join(l.root, id)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("blob %s already exists", id)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0644); err != nil {
		return fmt.Errorf("write blob %s: %w", id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit blob %s: %w", id, err)
	}
	return nil
}

// Load reads a blob back. Used by status tooling and tests.
func (l *DirLibrary) Load(id string) ([]byte, error) {
	return os.ReadFile(filepath.Join(l.root, id))
}
