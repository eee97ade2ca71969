// Package storage persists cleaned series as artifacts under an output root and
// reads them back.
//
// Artifacts are written through a gocloud blob bucket. Each format is one blob
// write; an encoding failure aborts that write, leaving any previous object for the
// key in place. Artifact keys are "<instrument>.<extension>" at the bucket root.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

// Output is an opened output root.
type Output struct {
	dir    string
	bucket *blob.Bucket
}

// OpenOutput creates dir if needed and opens it as a file-backed bucket.
func OpenOutput(ctx context.Context, dir string) (*Output, error) {
	if dir == "" {
		return nil, NewStorageError("open", dir, fmt.Errorf("output directory is empty"))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, NewStorageError("open", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, NewStorageError("open", abs, fmt.Errorf("failed to create output directory: %w", err))
	}
	bucket, err := fileblob.OpenBucket(abs, &fileblob.Options{
		NoTempDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	if err != nil {
		return nil, NewStorageError("open", abs, err)
	}
	return &Output{dir: abs, bucket: bucket}, nil
}

// NewOutput wraps an already opened bucket. dir is informational.
func NewOutput(bucket *blob.Bucket, dir string) *Output {
	return &Output{dir: dir, bucket: bucket}
}

// Dir returns the output root.
func (o *Output) Dir() string {
	return o.dir
}

// Close releases the bucket.
func (o *Output) Close() error {
	return o.bucket.Close()
}

// ArtifactKey returns the deterministic key for an instrument and extension.
func ArtifactKey(instrument, extension string) string {
	return instrument + "." + extension
}

// WriteAtomic streams content produced by fn to key. If fn fails, the write is
// aborted and any existing object at key is left untouched.
func (o *Output) WriteAtomic(ctx context.Context, key, contentType string, fn func(io.Writer) error) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := o.bucket.NewWriter(wctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return NewStorageError("write", key, err)
	}
	if err := fn(w); err != nil {
		cancel()
		_ = w.Close()
		return NewStorageError("write", key, err)
	}
	if err := w.Close(); err != nil {
		return NewStorageError("write", key, err)
	}
	return nil
}

// ReadAll returns the full content of key. A missing key wraps ErrNotFound.
func (o *Output) ReadAll(ctx context.Context, key string) ([]byte, error) {
	data, err := o.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, NewStorageError("read", key, ErrNotFound)
		}
		return nil, NewStorageError("read", key, err)
	}
	return data, nil
}

// Size returns the stored size of key in bytes.
func (o *Output) Size(ctx context.Context, key string) (int64, error) {
	attrs, err := o.bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return 0, NewStorageError("stat", key, ErrNotFound)
		}
		return 0, NewStorageError("stat", key, err)
	}
	return attrs.Size, nil
}

// Exists reports whether key is present.
func (o *Output) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := o.bucket.Exists(ctx, key)
	if err != nil {
		return false, NewStorageError("exists", key, err)
	}
	return ok, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (o *Output) Delete(ctx context.Context, key string) error {
	if err := o.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return NewStorageError("delete", key, err)
	}
	return nil
}

// Instruments lists the instruments that have an artifact with the given
// extension at the output root, sorted. Hidden files and reserved names are skipped.
func (o *Output) Instruments(ctx context.Context, extension string) ([]string, error) {
	suffix := "." + extension
	iter := o.bucket.List(&blob.ListOptions{Delimiter: "/"})
	var out []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewStorageError("list", o.dir, err)
		}
		if obj.IsDir || strings.HasPrefix(obj.Key, ".") || !strings.HasSuffix(obj.Key, suffix) {
			continue
		}
		id := strings.TrimSuffix(obj.Key, suffix)
		if id == "" || reservedNames[id] {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// reservedNames are artifact stems written by the pipeline itself.
var reservedNames = map[string]bool{
	ListingName:  true,
	ManifestName: true,
}
