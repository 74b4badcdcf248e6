// Package temp makes hierarchical scratch directories for job runs.
// Every directory a worker writes into is created through here so that the
// on-disk layout of a job is decided in one place.
package temp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TempDir is a scratch directory, that may live under other scratch directories.
type TempDir struct {
	Dir string
}

// Open ensures dir exists and returns it as a TempDir.
func Open(dir string) (*TempDir, error) {
	if dir == "" {
		return nil, fmt.Errorf("temp.Open: empty path")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &TempDir{Dir: dir}, nil
}

// Create a new directory with a fixed name (this lets us structure our scratch files)
func (d *TempDir) FixedDir(name string) (*TempDir, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, os.PathSeparator) {
		return nil, fmt.Errorf("temp.TempDir.FixedDir: Invalid name %q", name)
	}
	return Open(filepath.Join(d.Dir, name))
}

// Path joins elem onto the directory without creating anything.
func (d *TempDir) Path(elem ...string) string {
	return filepath.Join(append([]string{d.Dir}, elem...)...)
}

// Create a new temporary file under d
func (d *TempDir) TempFile(prefix string) (*os.File, error) {
	return os.CreateTemp(d.Dir, prefix)
}

// Reset removes everything under d, leaving d itself in place.
// A worker re-run after a crash starts from an empty scratch directory.
func (d *TempDir) Reset() error {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(d.Dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
