package pdf

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePageRange(t *testing.T) {
	tests := []struct {
		name        string
		pageRange   string
		want        []int
		expectError bool
	}{
		{name: "empty range returns nil", pageRange: "", want: nil},
		{name: "blank range returns nil", pageRange: "  ", want: nil},
		{name: "single page", pageRange: "1", want: []int{1}},
		{name: "multiple single pages", pageRange: "1,3,5", want: []int{1, 3, 5}},
		{name: "simple range", pageRange: "1-5", want: []int{1, 2, 3, 4, 5}},
		{name: "mixed pages and ranges", pageRange: "1,3-5,7", want: []int{1, 3, 4, 5, 7}},
		{name: "range with spaces", pageRange: " 1 - 3 , 5 ", want: []int{1, 2, 3, 5}},
		{name: "overlap is deduplicated and sorted", pageRange: "5,1-3,2", want: []int{1, 2, 3, 5}},
		{name: "invalid page number", pageRange: "abc", expectError: true},
		{name: "invalid range format", pageRange: "1-2-3", expectError: true},
		{name: "reversed range", pageRange: "5-1", expectError: true},
		{name: "page zero", pageRange: "0", expectError: true},
		{name: "empty token", pageRange: "1,,2", expectError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePageRange(tt.pageRange)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePageFromFilename(t *testing.T) {
	tests := []struct {
		file    string
		want    int
		wantErr bool
	}{
		{"ticket_1_Im0.png", 1, false},
		{"ticket_012_Im3.jpg", 12, false},
		{"ticket_3_thumb.png", 3, false},
		{"other_1_Im0.png", 0, true},
		{"ticket_x_Im0.png", 0, true},
		{"ticket_0_Im0.png", 0, true},
		{"ticket_5.png", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got, err := parsePageFromFilename("ticket", tt.file)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.NoError(t, png.Encode(f, img))
}

func writeJPEG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.NoError(t, jpeg.Encode(f, img, nil))
}

func TestCollectPagesOrdersAndReencodes(t *testing.T) {
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "ticket_2_Im0.jpg"), solid(30, 20, color.White))
	writePNG(t, filepath.Join(dir, "ticket_1_Im1.png"), solid(10, 10, color.Black))
	writePNG(t, filepath.Join(dir, "ticket_1_Im0.png"), solid(12, 8, color.Gray{Y: 128}))
	writePNG(t, filepath.Join(dir, "unrelated.png"), solid(4, 4, color.White))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ticket_3_Im0.png"), []byte("not an image"), 0o600))

	pages, err := collectPages(dir, "ticket")
	require.NoError(t, err)
	require.Len(t, pages, 3)

	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, 1, pages[0].Index)
	assert.Equal(t, 12, pages[0].Width)
	assert.Equal(t, "ticket#page1-1", pages[0].Name)
	assert.Equal(t, 2, pages[1].Index)
	assert.Equal(t, 2, pages[2].Number)
	assert.Equal(t, "ticket#page2-1", pages[2].Name)

	for _, p := range pages {
		_, format, err := image.DecodeConfig(bytes.NewReader(p.Data))
		require.NoError(t, err)
		assert.Equal(t, "png", format)
	}
}

func TestExtractPagesErrors(t *testing.T) {
	_, err := ExtractPages(filepath.Join(t.TempDir(), "missing.pdf"), Options{})
	assert.Error(t, err)

	_, err = ExtractPages("whatever.pdf", Options{PageRange: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid page range")

	notPDF := filepath.Join(t.TempDir(), "fake.pdf")
	require.NoError(t, os.WriteFile(notPDF, []byte("plain text"), 0o600))
	_, err = ExtractPages(notPDF, Options{})
	assert.Error(t, err)
}

func TestExtractPagesFromImportedImage(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "scan.png")
	writePNG(t, imgPath, solid(64, 48, color.Gray{Y: 200}))
	pdfPath := filepath.Join(dir, "ticket.pdf")
	if err := api.ImportImagesFile([]string{imgPath}, pdfPath, nil, nil); err != nil {
		t.Skipf("cannot build fixture PDF: %v", err)
	}

	pages, err := ExtractPages(pdfPath, Options{PageRange: "1"})
	require.NoError(t, err)
	require.NotEmpty(t, pages)
	assert.Equal(t, 1, pages[0].Number)
	assert.NotEmpty(t, pages[0].Data)
}

func TestExtractTextErrors(t *testing.T) {
	_, err := ExtractText(filepath.Join(t.TempDir(), "missing.pdf"), "")
	assert.Error(t, err)

	_, err = ExtractText("whatever.pdf", "1-")
	assert.Error(t, err)
}

func TestConfigurationPassword(t *testing.T) {
	conf := configuration("secret")
	assert.Equal(t, "secret", conf.UserPW)
	assert.Equal(t, "secret", conf.OwnerPW)
	assert.Empty(t, configuration("").UserPW)
}

func TestPageTextUsable(t *testing.T) {
	assert.False(t, PageText{Words: MinTextWords - 1}.Usable())
	assert.True(t, PageText{Words: MinTextWords}.Usable())
}
