// Package archive unpacks uploaded zip archives into a flat working set.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/jwalitptl/dicom-ingest/pkg/errors"
	"github.com/jwalitptl/dicom-ingest/pkg/logger"
)

const (
	workDirPrefix = "dicom_extract_"
	sidecarMarker = "__MACOSX"
)

type Extractor struct {
	workRoot string
	log      *logger.Logger
}

// NewExtractor creates an extractor whose working directories live under
// workRoot. An empty workRoot means the system temp dir.
func NewExtractor(workRoot string, log *logger.Logger) *Extractor {
	if log == nil {
		log = logger.Nop()
	}
	return &Extractor{workRoot: workRoot, log: log}
}

// Extract unpacks every regular entry of the archive into a fresh working
// directory, flattened to basenames. The caller owns the directory and must
// call Cleanup on every exit path.
func (e *Extractor) Extract(ctx context.Context, archivePath string) (string, []string, error) {
	if e.workRoot != "" {
		if err := os.MkdirAll(e.workRoot, 0o755); err != nil {
			return "", nil, fmt.Errorf("create work root: %w", err)
		}
	}
	workDir, err := os.MkdirTemp(e.workRoot, workDirPrefix)
	if err != nil {
		return "", nil, fmt.Errorf("create work dir: %w", err)
	}

	files, err := e.extractInto(ctx, archivePath, workDir)
	if err != nil {
		e.Cleanup(workDir)
		return "", nil, err
	}

	e.log.Info("archive extracted", "archive", archivePath, "work_dir", workDir, "files", len(files))
	return workDir, files, nil
}

func (e *Extractor) extractInto(ctx context.Context, archivePath, workDir string) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, errors.InvalidArchive(archivePath, err)
	}
	defer zr.Close()

	e.log.Debug("reading archive", "archive", archivePath, "entries", len(zr.File))

	taken := make(map[string]bool)
	var files []string
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.FileInfo().IsDir() {
			continue
		}

		entry := strings.ReplaceAll(f.Name, "\\", "/")
		base := path.Base(entry)
		if strings.HasPrefix(base, ".") || strings.Contains(entry, sidecarMarker) || base == "/" {
			e.log.Debug("skipping system or hidden entry", "entry", f.Name)
			continue
		}

		name := uniqueName(base, taken)
		taken[name] = true
		target := filepath.Join(workDir, name)
		if err := writeEntry(archivePath, f, target); err != nil {
			return nil, err
		}
		files = append(files, target)
	}
	return files, nil
}

// uniqueName appends _1, _2, ... before the extension until the name is free.
func uniqueName(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if !taken[candidate] {
			return candidate
		}
	}
}

// writeEntry copies one entry to target. Failures reading the entry mean the
// archive is bad; failures on the local side are returned as they are.
func writeEntry(archivePath string, f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return errors.InvalidArchive(archivePath, fmt.Errorf("entry %s: %w", f.Name, err))
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	src := &entryReader{r: rc}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		if src.err != nil {
			return errors.InvalidArchive(archivePath, fmt.Errorf("entry %s: %w", f.Name, src.err))
		}
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

// entryReader remembers the first read error so a failed copy can be
// blamed on the archive or on the destination.
type entryReader struct {
	r   io.Reader
	err error
}

func (e *entryReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && err != io.EOF && e.err == nil {
		e.err = err
	}
	return n, err
}

// Cleanup removes a working directory returned by Extract. Errors are logged,
// never returned, so it is safe to defer.
func (e *Extractor) Cleanup(workDir string) {
	if workDir == "" {
		return
	}
	if err := os.RemoveAll(workDir); err != nil {
		e.log.Error(err, "failed to remove work dir", "work_dir", workDir)
		return
	}
	e.log.Debug("work dir removed", "work_dir", workDir)
}
