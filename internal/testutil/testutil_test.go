package testutil_test

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/ticketocr/internal/accuracy"
	"github.com/MeKo-Tech/ticketocr/internal/quality"
	"github.com/MeKo-Tech/ticketocr/internal/testutil"
	"github.com/MeKo-Tech/ticketocr/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, testutil.EnsureDir(dir))
	assert.True(t, testutil.FileExists(dir))
	assert.False(t, testutil.FileExists(filepath.Join(dir, "missing")))
}

func TestGenerateTicketImage(t *testing.T) {
	img, err := testutil.GenerateTicketImage(testutil.DefaultTicketImageConfig())
	require.NoError(t, err)
	assert.Equal(t, testutil.TicketSize.Width, img.Bounds().Dx())
	assert.Equal(t, testutil.TicketSize.Height, img.Bounds().Dy())

	cfg := testutil.DefaultTicketImageConfig()
	cfg.Size = testutil.ImageSize{}
	_, err = testutil.GenerateTicketImage(cfg)
	assert.Error(t, err)
}

func TestTicketPNGDecodes(t *testing.T) {
	data := testutil.TicketPNG(t, "Ticket No: 1")
	meta, err := utils.DescribeImage(data)
	require.NoError(t, err)
	assert.Equal(t, testutil.TicketSize.Width, meta.Width)
}

func TestCrispPNGVariants(t *testing.T) {
	a := testutil.CrispPNG(t, 1)
	b := testutil.CrispPNG(t, 2)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, testutil.CrispPNG(t, 1))

	assert.Equal(t, quality.Excellent, quality.AssessBytes(a).Tier)
}

func TestCompareImages(t *testing.T) {
	cfg := testutil.DefaultTicketImageConfig()
	clean, err := testutil.GenerateTicketImage(cfg)
	require.NoError(t, err)
	again, err := testutil.GenerateTicketImage(cfg)
	require.NoError(t, err)
	assert.True(t, testutil.CompareImages(clean, again, 0))

	cfg.Noise = 0.2
	noisy, err := testutil.GenerateTicketImage(cfg)
	require.NoError(t, err)
	assert.False(t, testutil.CompareImages(clean, noisy, 0))
	assert.True(t, testutil.CompareImages(clean, noisy, 1))

	small := image.NewGray(image.Rect(0, 0, 2, 2))
	assert.False(t, testutil.CompareImages(clean, small, 1))
}

func TestWriteTicketImages(t *testing.T) {
	dir := t.TempDir()
	paths := testutil.WriteTicketImages(t, dir)
	require.Len(t, paths, 3)
	for _, p := range paths {
		assert.True(t, testutil.FileExists(p))
		img := testutil.LoadImage(t, p)
		assert.Positive(t, img.Bounds().Dx())
	}
}

func TestWriteAnnotationsLoads(t *testing.T) {
	path := testutil.WriteAnnotations(t, t.TempDir(), testutil.SampleFixtures())
	set, err := accuracy.LoadAnnotations(path)
	require.NoError(t, err)
	require.Len(t, set.Cases, 2)
	assert.Equal(t, "bauxite-full", set.Cases[0].Name)
	assert.Equal(t, testutil.SampleExpected(), set.Cases[0].Expected)
	assert.Len(t, testutil.SampleTicketLines(), 11)
}
