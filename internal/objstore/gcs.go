package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig configures a Google Cloud Storage backed store.
type GCSConfig struct {
	Bucket string
	// Prefix is prepended to every key, without a trailing slash.
	Prefix string
	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string
	// WriteOnce makes Put keep an existing object instead of replacing it.
	// Manifests and segments are immutable and their keys are never reused,
	// so an existing object can only be an earlier upload of the same write.
	WriteOnce bool
}

// GCS is a Store backed by a Google Cloud Storage bucket.
type GCS struct {
	client    *storage.Client
	bucket    *storage.BucketHandle
	prefix    string
	writeOnce bool
	owned     bool
}

// NewGCS opens a client for cfg.Bucket.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("objstore: gcs bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objstore: create gcs client: %w", err)
	}
	g := NewGCSWithClient(client, cfg)
	g.owned = true
	return g, nil
}

// NewGCSWithClient wraps an existing client. Close does not close client.
func NewGCSWithClient(client *storage.Client, cfg GCSConfig) *GCS {
	return &GCS{
		client:    client,
		bucket:    client.Bucket(cfg.Bucket),
		prefix:    strings.Trim(cfg.Prefix, "/"),
		writeOnce: cfg.WriteOnce,
	}
}

// Close releases the client if the store created it.
func (g *GCS) Close() error {
	if g.owned {
		return g.client.Close()
	}
	return nil
}

func (g *GCS) objectName(key string) string {
	if g.prefix == "" {
		return key
	}
	return path.Join(g.prefix, key)
}

func (g *GCS) keyFromName(name string) string {
	if g.prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, g.prefix+"/")
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// Put implements Store.
func (g *GCS) Put(ctx context.Context, key string, data []byte) error {
	obj := g.bucket.Object(g.objectName(key))
	if g.writeOnce {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("objstore: gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		if g.writeOnce && isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("objstore: gcs close %s: %w", key, err)
	}
	return nil
}

// Get implements Store.
func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := g.bucket.Object(g.objectName(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("objstore: gcs open %s: %w", key, err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("objstore: gcs read %s: %w", key, err)
	}
	return data, nil
}

// Delete implements Store.
func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(g.objectName(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("objstore: gcs delete %s: %w", key, err)
	}
	return nil
}

// Exists implements Store.
func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.bucket.Object(g.objectName(key)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("objstore: gcs attrs %s: %w", key, err)
	}
	return true, nil
}

// List implements Store.
func (g *GCS) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	q := &storage.Query{Prefix: g.objectName(prefix)}
	if prefix == "" && g.prefix != "" {
		q.Prefix = g.prefix + "/"
	}
	if err := q.SetAttrSelection([]string{"Name", "Size", "Updated"}); err != nil {
		return nil, err
	}
	// path.Join drops a trailing slash that callers use to scope directories.
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(q.Prefix, "/") {
		q.Prefix += "/"
	}

	var out []ObjectInfo
	it := g.bucket.Objects(ctx, q)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("objstore: gcs list %s: %w", prefix, err)
		}
		out = append(out, ObjectInfo{Key: g.keyFromName(attrs.Name), Size: attrs.Size, ModTime: attrs.Updated})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
