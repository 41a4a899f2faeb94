package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajshedivy/kubeflow-ppc64le-components/config"
)

type mapStore map[string][]byte

func (m mapStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	data, ok := m[bucket+"/"+key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func readAll(t *testing.T, r *Resolver, p, compression string) string {
	t.Helper()
	blob, err := r.Open(context.Background(), p, compression)
	require.NoError(t, err)
	defer blob.Close()

	data, err := io.ReadAll(blob)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), blob.Size())
	return string(data)
}

func TestResolverLocal(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(plain, []byte(payload), 0o644))
	packed := filepath.Join(dir, "data.csv.gz")
	require.NoError(t, os.WriteFile(packed, compress(t, CompressionGzip, []byte(payload)), 0o644))
	// zstd payload without a telling extension
	hidden := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(hidden, compress(t, CompressionZstd, []byte(payload)), 0o644))

	r := NewResolver()

	t.Run("plain file", func(t *testing.T) {
		blob, err := r.Open(context.Background(), plain, "infer")
		require.NoError(t, err)
		defer blob.Close()
		assert.IsType(t, &fileBlob{}, blob)
		assert.Equal(t, int64(len(payload)), blob.Size())
	})

	t.Run("file URI", func(t *testing.T) {
		assert.Equal(t, payload, readAll(t, r, "file://"+plain, ""))
	})

	t.Run("compression from extension", func(t *testing.T) {
		assert.Equal(t, payload, readAll(t, r, packed, "infer"))
	})

	t.Run("compression from magic", func(t *testing.T) {
		assert.Equal(t, payload, readAll(t, r, hidden, "detect"))
	})

	t.Run("infer ignores magic bytes", func(t *testing.T) {
		raw := readAll(t, r, hidden, "infer")
		assert.NotEqual(t, payload, raw)

		// a plain CSV whose first cell happens to look like a bzip2 header
		lookalike := filepath.Join(dir, "bzh.csv")
		require.NoError(t, os.WriteFile(lookalike, []byte("BZh91AY,b\n1,2\n"), 0o644))
		assert.Equal(t, "BZh91AY,b\n1,2\n", readAll(t, r, lookalike, "infer"))
		assert.Equal(t, "BZh91AY,b\n1,2\n", readAll(t, r, lookalike, ""))
	})

	t.Run("explicit compression", func(t *testing.T) {
		assert.Equal(t, payload, readAll(t, r, packed, "gzip"))
	})

	t.Run("explicit none keeps raw bytes", func(t *testing.T) {
		raw := readAll(t, r, packed, "none")
		assert.NotEqual(t, payload, raw)
	})

	t.Run("wrong explicit codec", func(t *testing.T) {
		_, err := r.Open(context.Background(), plain, "xz")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := r.Open(context.Background(), filepath.Join(dir, "nope.csv"), "")
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("directory", func(t *testing.T) {
		_, err := r.Open(context.Background(), dir, "none")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is a directory")
	})

	t.Run("unknown codec", func(t *testing.T) {
		_, err := r.Open(context.Background(), plain, "rar")
		assert.Error(t, err)
	})
}

func TestResolverRemote(t *testing.T) {
	r := NewResolver()
	r.Register("MEM", mapStore{
		"bucket/data.csv":     []byte(payload),
		"bucket/data.csv.xz":  compress(t, CompressionXZ, []byte(payload)),
		"bucket/nested/a.lz4": compress(t, CompressionLZ4, []byte(payload)),
		"bucket/magic":        compress(t, CompressionGzip, []byte(payload)),
	})

	assert.Equal(t, payload, readAll(t, r, "mem://bucket/data.csv", ""))
	assert.Equal(t, payload, readAll(t, r, "mem://bucket/data.csv.xz", "infer"))
	assert.Equal(t, payload, readAll(t, r, "mem://bucket/nested/a.lz4", "lz4"))
	assert.Equal(t, payload, readAll(t, r, "mem://bucket/magic", "detect"))
	assert.NotEqual(t, payload, readAll(t, r, "mem://bucket/magic", ""))

	_, err := r.Open(context.Background(), "mem://bucket/missing.csv", "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Open(context.Background(), "gs://bucket/data.csv", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"gs"`)

	_, err = r.Open(context.Background(), "mem:///data.csv", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no bucket")
}

func TestSplitURI(t *testing.T) {
	tests := []struct {
		in                  string
		scheme, bucket, key string
	}{
		{"data.csv", "", "", ""},
		{"/tmp/data.csv", "", "", ""},
		{"file:///tmp/data.csv", "", "", ""},
		{`C://data/data.csv`, "", "", ""},
		{"s3://bucket/a/b.csv", "s3", "bucket", "a/b.csv"},
		{"S3://bucket/b.csv", "s3", "bucket", "b.csv"},
	}
	for _, tt := range tests {
		scheme, bucket, key, err := splitURI(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.scheme, scheme, tt.in)
		assert.Equal(t, tt.bucket, bucket, tt.in)
		assert.Equal(t, tt.key, key, tt.in)
	}
}

func TestLocalPath(t *testing.T) {
	assert.Equal(t, "/tmp/x", LocalPath("file:///tmp/x"))
	assert.Equal(t, "/tmp/x", LocalPath("FILE:///tmp/x"))
	assert.Equal(t, "rel/x", LocalPath("rel/x"))
}

const noSuchKey = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`

// objectServer serves path-style bucket/key requests from objects.
func objectServer(t *testing.T, objects map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		data, ok := objects[name]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, noSuchKey)
			return
		}
		w.Header().Set("ETag", `"0123456789abcdef"`)
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeContent(w, r, name, time.Unix(1700000000, 0), bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMinioStore(t *testing.T) {
	srv := objectServer(t, map[string][]byte{"bucket/data.csv": []byte(payload)})

	store, err := NewMinioStore(config.S3Config{
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		AccessKey: "minio",
		SecretKey: "minio123",
		UseSSL:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "http", store.client.EndpointURL().Scheme)

	data, err := store.Get(context.Background(), "bucket", "data.csv")
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))

	_, err = store.Get(context.Background(), "bucket", "missing.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Store(t *testing.T) {
	srv := objectServer(t, map[string][]byte{"bucket/dir/data.csv": []byte(payload)})

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("key", "secret", ""),
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
	})
	store := NewS3StoreFromClient(client)

	data, err := store.Get(context.Background(), "bucket", "dir/data.csv")
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))

	_, err = store.Get(context.Background(), "bucket", "missing.csv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestResolverFromConfigEndpoint(t *testing.T) {
	srv := objectServer(t, map[string][]byte{"bucket/data.csv.gz": compress(t, CompressionGzip, []byte(payload))})

	r, err := NewResolverFromConfig(context.Background(), config.StorageConfig{S3: config.S3Config{
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		AccessKey: "minio",
		SecretKey: "minio123",
	}})
	require.NoError(t, err)
	assert.Equal(t, payload, readAll(t, r, "s3://bucket/data.csv.gz", "infer"))
}
