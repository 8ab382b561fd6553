// Package testutil provides helpers shared by ticketocr tests: synthetic
// ticket scans, sample ticket texts and annotation fixtures.
package testutil

import (
	"errors"
	"io/fs"
	"os"
)

// EnsureDir creates path and its parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o750)
}

// FileExists reports whether path exists. Permission errors count as
// existing.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
