package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	}
}

func TestDiscover_EmptyArgs(t *testing.T) {
	files, err := Discover([]string{}, false, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDiscover_Directory(t *testing.T) {
	dir := t.TempDir()
	scan := filepath.Join(dir, "scan.png")
	photo := filepath.Join(dir, "photo.JPG")
	doc := filepath.Join(dir, "tickets.pdf")
	notes := filepath.Join(dir, "notes.txt")
	touch(t, scan, photo, doc, notes)

	files, err := Discover([]string{dir}, false, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{photo, scan, doc}, files, "lexical walk order, text files skipped")
}

func TestDiscover_ExplicitFilesAreKept(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	scan := filepath.Join(dir, "scan.png")
	touch(t, notes, scan)

	files, err := Discover([]string{notes, scan, scan}, false, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{notes, scan}, files, "explicit files are kept once")
}

func TestDiscover_Recursive(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "root.png")
	sub := filepath.Join(dir, "subdir", "sub.pdf")
	touch(t, root, sub)

	files, err := Discover([]string{dir}, true, nil, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{root, sub}, files)

	files, err = Discover([]string{dir}, false, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{root}, files)
}

func TestDiscover_IncludeExcludePatterns(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "ticket1.png")
	b := filepath.Join(dir, "ticket2.png")
	skip := filepath.Join(dir, "ticket-exclude.png")
	other := filepath.Join(dir, "receipt.png")
	touch(t, a, b, skip, other)

	files, err := Discover([]string{dir}, false, []string{"ticket*"}, []string{"*exclude*"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, files)
}

func TestDiscover_DoublestarExclude(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "current", "t1.png")
	top := filepath.Join(dir, "t0.png")
	old := filepath.Join(dir, "archive", "t2.png")
	older := filepath.Join(dir, "archive", "2023", "t3.pdf")
	touch(t, keep, top, old, older)

	files, err := Discover([]string{dir}, true, nil, []string{"archive/**"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{keep, top}, files)

	files, err = Discover([]string{dir}, true, []string{"**/*.pdf"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{older}, files)
}

func TestValidatePatterns(t *testing.T) {
	require.NoError(t, ValidatePatterns([]string{"*.png", "archive/**", "{a,b}*.pdf"}))
	assert.ErrorContains(t, ValidatePatterns([]string{"*.png", "[bad"}), `invalid pattern "[bad"`)
}

func TestDiscover_NonExistent(t *testing.T) {
	files, err := Discover([]string{"/nonexistent/directory"}, false, nil, nil)
	require.Error(t, err)
	assert.Nil(t, files)
	assert.Contains(t, err.Error(), "cannot access")
}

func TestIsTicketFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"a.png", true},
		{"a.jpeg", true},
		{"a.PDF", true},
		{"a.txt", false},
		{"pdf", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTicketFile(tt.path), tt.path)
	}
}

func TestMatchesAnyPattern(t *testing.T) {
	testCases := []struct {
		filename string
		patterns []string
		expected bool
	}{
		{"test.png", nil, false},
		{"test.png", []string{"*.png"}, true},
		{"test.PNG", []string{"*.png"}, false},
		{"dir/test.png", []string{"test.*"}, true},
		{"special.gif", []string{"*.png", "special.*"}, true},
		{"document.pdf", []string{"*.png", "*.jpg"}, false},
		{"archive/2023/t.png", []string{"archive/**"}, true},
		{"current/t.png", []string{"archive/**"}, false},
		{"a/b/scan.png", []string{"**/b/*.png"}, true},
		{"scan.png", []string{"[bad"}, false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, matchesAnyPattern(tc.filename, tc.patterns), "filename=%s", tc.filename)
	}
}
