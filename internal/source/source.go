// Package source turns archive references into local zip files. A reference
// is a local path or a gs://bucket/object URI; a directory or an object
// prefix names every zip below it.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const archiveExt = ".zip"

// Fetcher expands and materialises archive references.
type Fetcher interface {
	// List expands ref into the archive references it names, sorted.
	List(ctx context.Context, ref string) ([]string, error)
	// Fetch returns a local path for ref. release must be called once the
	// file is no longer needed.
	Fetch(ctx context.Context, ref string) (path string, release func(), err error)
}

// Local serves archives already on the local filesystem.
type Local struct{}

func (Local) List(_ context.Context, ref string) ([]string, error) {
	info, err := os.Stat(ref)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", ref, err)
	}
	if !info.IsDir() {
		return []string{ref}, nil
	}

	var out []string
	err = filepath.WalkDir(ref, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isArchive(path) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", ref, err)
	}
	sort.Strings(out)
	return out, nil
}

func (Local) Fetch(_ context.Context, ref string) (string, func(), error) {
	info, err := os.Stat(ref)
	if err != nil {
		return "", nil, fmt.Errorf("stat %s: %w", ref, err)
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("%s is a directory", ref)
	}
	return ref, func() {}, nil
}

// Router sends gs:// references to GCS and everything else to Local.
type Router struct {
	Local Local
	// GCS may be nil, in which case gs:// references are rejected.
	GCS *GCS
}

func (r *Router) pick(ref string) (Fetcher, error) {
	if !IsGCS(ref) {
		return r.Local, nil
	}
	if r.GCS == nil {
		return nil, fmt.Errorf("no GCS client configured for %s", ref)
	}
	return r.GCS, nil
}

func (r *Router) List(ctx context.Context, ref string) ([]string, error) {
	f, err := r.pick(ref)
	if err != nil {
		return nil, err
	}
	return f.List(ctx, ref)
}

func (r *Router) Fetch(ctx context.Context, ref string) (string, func(), error) {
	f, err := r.pick(ref)
	if err != nil {
		return "", nil, err
	}
	return f.Fetch(ctx, ref)
}

// IsGCS reports whether ref is a gs:// URI.
func IsGCS(ref string) bool {
	return strings.HasPrefix(ref, gcsScheme)
}

func isArchive(name string) bool {
	return strings.EqualFold(filepath.Ext(name), archiveExt)
}
