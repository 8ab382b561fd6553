package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/ticketocr/internal/utils"
	"github.com/bmatcuk/doublestar/v4"
)

// Discover expands paths into ticket files: supported images and PDFs.
// Directories are scanned, recursively when requested. Files named
// explicitly are kept even when their extension is not recognized, so the
// caller gets a per-file error instead of a silent skip.
//
// Include and exclude globs use doublestar syntax; excludes win. A pattern
// without a slash matches the base name, one with a slash matches the path
// relative to the directory being scanned, so "archive/**" skips a whole
// subtree.
func Discover(paths []string, recursive bool, includePatterns, excludePatterns []string) ([]string, error) {
	f := nameFilter{include: includePatterns, exclude: excludePatterns}
	var files []string
	seen := make(map[string]struct{})

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", root, err)
		}

		var found []string
		if info.IsDir() {
			if found, err = f.walk(root, recursive); err != nil {
				return nil, err
			}
		} else if f.keep(root) {
			found = []string{root}
		}

		for _, p := range found {
			if _, dup := seen[p]; !dup {
				seen[p] = struct{}{}
				files = append(files, p)
			}
		}
	}
	return files, nil
}

// ValidatePatterns reports the first malformed glob.
func ValidatePatterns(patterns []string) error {
	for _, g := range patterns {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("invalid pattern %q", g)
		}
	}
	return nil
}

// IsTicketFile reports whether path names a supported image or a PDF.
func IsTicketFile(path string) bool {
	return utils.IsSupportedImage(path) || IsPDF(path)
}

// IsPDF reports whether path has a .pdf extension.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

type nameFilter struct {
	include, exclude []string
}

// keep decides on a file given by its path relative to the scanned root.
func (f nameFilter) keep(rel string) bool {
	if matchesAnyPattern(rel, f.exclude) {
		return false
	}
	return len(f.include) == 0 || matchesAnyPattern(rel, f.include)
}

// walk lists ticket files under dir in lexical order. Excluded directories
// are not entered.
func (f nameFilter) walk(dir string, recursive bool) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		switch {
		case d.IsDir() && (!recursive || matchesAnyPattern(rel, f.exclude)):
			return filepath.SkipDir
		case !d.IsDir() && IsTicketFile(p) && f.keep(rel):
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// matchesAnyPattern reports whether path matches one of the globs. Malformed
// globs never match.
func matchesAnyPattern(p string, patterns []string) bool {
	slashed := filepath.ToSlash(p)
	base := path.Base(slashed)
	for _, g := range patterns {
		name := base
		if strings.Contains(g, "/") {
			name = slashed
		}
		if ok, _ := doublestar.Match(g, name); ok {
			return true
		}
	}
	return false
}
