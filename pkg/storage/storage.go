// Package storage resolves dataset paths to readable blobs.
//
// Local paths are opened directly. URIs such as s3://bucket/key are served by
// the ObjectStore registered for their scheme. Compressed payloads are
// decompressed into memory, either from an explicit codec name or detected
// from the file extension ("infer") or from the extension and magic bytes
// ("detect").
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ajshedivy/kubeflow-ppc64le-components/config"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
)

// ErrNotFound is returned when a remote object does not exist.
// It maps to os.ErrNotExist so local and remote misses compare equal.
var ErrNotFound = os.ErrNotExist

// ObjectStore fetches whole objects from a bucket.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// Resolver implements core.Storage for local files and registered URI schemes.
type Resolver struct {
	stores map[string]ObjectStore
}

// NewResolver creates a resolver that only serves local files.
func NewResolver() *Resolver {
	return &Resolver{stores: make(map[string]ObjectStore)}
}

// NewResolverFromConfig creates a resolver with the s3 scheme wired according
// to cfg. A configured endpoint selects the MinIO client, otherwise the AWS SDK
// default credential chain is used.
func NewResolverFromConfig(ctx context.Context, cfg config.StorageConfig) (*Resolver, error) {
	r := NewResolver()

	if cfg.S3.Endpoint != "" {
		store, err := NewMinioStore(cfg.S3)
		if err != nil {
			return nil, err
		}
		r.Register("s3", store)
		return r, nil
	}

	store, err := NewS3Store(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	r.Register("s3", store)
	return r, nil
}

// Register serves URIs with the given scheme from store.
func (r *Resolver) Register(scheme string, store ObjectStore) {
	r.stores[strings.ToLower(scheme)] = store
}

// Open implements core.Storage.
func (r *Resolver) Open(ctx context.Context, p string, compression string) (core.Blob, error) {
	codec, detect, err := ParseCompression(compression)
	if err != nil {
		return nil, err
	}

	scheme, bucket, key, err := splitURI(p)
	if err != nil {
		return nil, err
	}
	if scheme == "" {
		return openLocal(p, codec, detect)
	}

	store, ok := r.stores[scheme]
	if !ok {
		return nil, fmt.Errorf("no storage registered for scheme %q", scheme)
	}

	data, err := store.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	if detect != DetectOff {
		codec = DetectCompressionByExtension(key)
		if codec == CompressionNone && detect == DetectContent {
			codec = DetectCompressionByMagic(data)
		}
	}
	if codec != CompressionNone {
		data, err = Decompress(bytes.NewReader(data), codec)
		if err != nil {
			return nil, err
		}
	}
	return newMemBlob(data), nil
}

// splitURI returns an empty scheme for local paths, including file:// URIs
// and Windows drive letters.
func splitURI(p string) (scheme, bucket, key string, err error) {
	if !strings.Contains(p, "://") {
		return "", "", "", nil
	}
	u, err := url.Parse(p)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid dataset URI %q: %w", p, err)
	}
	scheme = strings.ToLower(u.Scheme)
	if scheme == "file" || len(scheme) == 1 {
		return "", "", "", nil
	}
	if u.Host == "" {
		return "", "", "", fmt.Errorf("dataset URI %q has no bucket", p)
	}
	return scheme, u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// LocalPath strips a file:// prefix.
func LocalPath(p string) string {
	if strings.HasPrefix(strings.ToLower(p), "file://") {
		return p[len("file://"):]
	}
	return p
}

func openLocal(p string, codec Compression, detect Detection) (core.Blob, error) {
	p = LocalPath(p)
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}

	if detect != DetectOff {
		codec = DetectCompressionByExtension(p)
		if codec == CompressionNone && detect == DetectContent {
			header := make([]byte, 6)
			n, _ := f.ReadAt(header, 0)
			codec = DetectCompressionByMagic(header[:n])
		}
	}

	if codec == CompressionNone {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		if info.IsDir() {
			f.Close()
			return nil, fmt.Errorf("%s is a directory", p)
		}
		return &fileBlob{File: f, size: info.Size()}, nil
	}

	defer f.Close()
	data, err := Decompress(f, codec)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return newMemBlob(data), nil
}

// fileBlob is an uncompressed local file.
type fileBlob struct {
	*os.File
	size int64
}

func (b *fileBlob) Size() int64 { return b.size }

// memBlob is a fully buffered payload.
type memBlob struct {
	*bytes.Reader
}

func newMemBlob(data []byte) *memBlob {
	return &memBlob{Reader: bytes.NewReader(data)}
}

func (b *memBlob) Close() error { return nil }
