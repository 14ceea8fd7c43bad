package archive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dicom-ingest/pkg/errors"
	"github.com/jwalitptl/dicom-ingest/pkg/logger"
)

func writeZip(t *testing.T, dir string, entries map[string]string, order []string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(entries[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(dir, "upload.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestExtractFlattensAndDeduplicates(t *testing.T) {
	src := t.TempDir()
	order := []string{
		"study/a/img.dcm",
		"study/b/img.dcm",
		"study/c/img.dcm",
		"img_1.dcm",
		"__MACOSX/study/._img.dcm",
		"study/.DS_Store",
		"README",
		"__MACOSX/img.dcm",
	}
	entries := map[string]string{}
	for i, name := range order {
		entries[name] = string(rune('a' + i))
	}
	archivePath := writeZip(t, src, entries, order)

	work := t.TempDir()
	ex := NewExtractor(work, logger.Nop())
	dir, files, err := ex.Extract(context.Background(), archivePath)
	require.NoError(t, err)
	defer ex.Cleanup(dir)

	var names []string
	for _, f := range files {
		assert.Equal(t, dir, filepath.Dir(f))
		names = append(names, filepath.Base(f))
	}
	sort.Strings(names)
	assert.Equal(t, []string{"README", "img.dcm", "img_1.dcm", "img_1_1.dcm", "img_2.dcm"}, names)

	data, err := os.ReadFile(filepath.Join(dir, "img_1.dcm"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(data), "second img.dcm keeps its own content")

	data, err = os.ReadFile(filepath.Join(dir, "img_1_1.dcm"))
	require.NoError(t, err)
	assert.Equal(t, "d", string(data))
}

func TestExtractInvalidArchiveLeavesNothingBehind(t *testing.T) {
	src := t.TempDir()
	bogus := filepath.Join(src, "broken.zip")
	require.NoError(t, os.WriteFile(bogus, []byte("definitely not a zip"), 0o644))

	work := t.TempDir()
	_, _, err := NewExtractor(work, nil).Extract(context.Background(), bogus)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidArchive))

	left, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestCleanupRemovesWorkDir(t *testing.T) {
	src := t.TempDir()
	archivePath := writeZip(t, src, map[string]string{"x.dcm": "x"}, []string{"x.dcm"})

	ex := NewExtractor(t.TempDir(), nil)
	dir, files, err := ex.Extract(context.Background(), archivePath)
	require.NoError(t, err)
	require.Len(t, files, 1)

	ex.Cleanup(dir)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestExtractHonoursCancellation(t *testing.T) {
	src := t.TempDir()
	archivePath := writeZip(t, src, map[string]string{"x.dcm": "x"}, []string{"x.dcm"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	work := t.TempDir()
	_, _, err := NewExtractor(work, nil).Extract(ctx, archivePath)
	assert.ErrorIs(t, err, context.Canceled)

	left, _ := os.ReadDir(work)
	assert.Empty(t, left)
}

func TestExtractCorruptEntryIsInvalidArchive(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "x.dcm", Method: zip.Store})
	require.NoError(t, err)
	payload := []byte("stored-payload-bytes")
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	raw := buf.Bytes()
	at := bytes.Index(raw, payload)
	require.GreaterOrEqual(t, at, 0)
	raw[at] ^= 0xff

	archivePath := filepath.Join(t.TempDir(), "corrupt.zip")
	require.NoError(t, os.WriteFile(archivePath, raw, 0o644))

	work := t.TempDir()
	_, _, err = NewExtractor(work, nil).Extract(context.Background(), archivePath)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidArchive))

	left, _ := os.ReadDir(work)
	assert.Empty(t, left)
}

func TestWriteEntryLocalFailureIsNotInvalidArchive(t *testing.T) {
	archivePath := writeZip(t, t.TempDir(), map[string]string{"x.dcm": "x"}, []string{"x.dcm"})
	zr, err := zip.OpenReader(archivePath)
	require.NoError(t, err)
	defer zr.Close()

	target := filepath.Join(t.TempDir(), "missing", "x.dcm")
	err = writeEntry(archivePath, zr.File[0], target)
	require.Error(t, err)
	assert.False(t, errors.Is(err, errors.ErrInvalidArchive))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
