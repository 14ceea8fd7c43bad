package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/jwalitptl/dicom-ingest/pkg/logger"
)

const gcsScheme = "gs://"

// GCS downloads archives from Google Cloud Storage into a work directory.
type GCS struct {
	client  *storage.Client
	workDir string
	log     *logger.Logger
}

// NewGCS creates a client with application default credentials, or with
// credentialsFile when it is set.
func NewGCS(ctx context.Context, credentialsFile, workDir string, log *logger.Logger) (*GCS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCS storage client: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GCS{client: client, workDir: workDir, log: log}, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

// ParseURI splits gs://bucket/object. The object may be empty or a prefix.
func ParseURI(uri string) (bucket, object string, err error) {
	if !IsGCS(uri) {
		return "", "", fmt.Errorf("invalid GCS URI %q", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, gcsScheme), "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid GCS URI %q: missing bucket", uri)
	}
	if len(parts) == 2 {
		object = parts[1]
	}
	return parts[0], object, nil
}

// List returns uri itself when it names a zip object, otherwise every zip
// object under the prefix.
func (g *GCS) List(ctx context.Context, uri string) ([]string, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if isArchive(object) {
		return []string{uri}, nil
	}
	it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: object})
	out, err := collectArchives(bucket, it)
	if err != nil {
		return nil, fmt.Errorf("iterate GCS objects under %s: %w", uri, err)
	}
	return out, nil
}

type objectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

func collectArchives(bucket string, it objectIterator) ([]string, error) {
	var out []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		if isArchive(attrs.Name) {
			out = append(out, gcsScheme+bucket+"/"+attrs.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (g *GCS) Fetch(ctx context.Context, uri string) (string, func(), error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return "", nil, err
	}
	if object == "" {
		return "", nil, fmt.Errorf("invalid GCS URI %q: missing object", uri)
	}

	rc, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("open %s: %w", uri, err)
	}
	defer rc.Close()

	path, err := download(rc, g.workDir)
	if err != nil {
		return "", nil, fmt.Errorf("download %s: %w", uri, err)
	}
	g.log.Info("archive downloaded", "uri", uri, "path", path, "bytes", rc.Attrs.Size)

	release := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			g.log.Error(err, "failed to remove downloaded archive", "path", path)
		}
	}
	return path, release, nil
}

// download copies r into a fresh file under dir, or the temp dir when dir
// is empty.
func download(r io.Reader, dir string) (string, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	f, err := os.CreateTemp(dir, "archive_*"+archiveExt)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
