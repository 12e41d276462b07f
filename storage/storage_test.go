package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStorage(t.TempDir())

	require.NoError(t, s.Write(ctx, "_delta_log/00000000000000000001.json", strings.NewReader("b")))
	require.NoError(t, s.Write(ctx, "_delta_log/00000000000000000000.json", strings.NewReader("a")))
	require.NoError(t, s.Write(ctx, "_delta_log/_last_checkpoint", strings.NewReader("{}")))

	files, err := s.List(ctx, "_delta_log/0")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"_delta_log/00000000000000000000.json",
		"_delta_log/00000000000000000001.json",
	}, files)

	r, err := s.Read(ctx, "_delta_log/00000000000000000001.json")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "b", string(data))

	f, err := s.Open(ctx, "_delta_log/_last_checkpoint")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(2), f.Size())
	buf := make([]byte, 1)
	_, err = f.ReadAt(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, "}", string(buf))
}

func TestLocalStorageMissing(t *testing.T) {
	s := NewLocalStorage(t.TempDir())

	_, err := s.Read(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	files, err := s.List(context.Background(), "missing/")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		raw  string
		want Location
	}{
		{"/tmp/table/", Location{Scheme: "file", Path: "/tmp/table/"}},
		{"file:///tmp/table/", Location{Scheme: "file", Path: "/tmp/table/"}},
		{"s3://bucket/a/b/", Location{Scheme: "s3", Bucket: "bucket", Path: "a/b/"}},
		{"gs://bucket/t/", Location{Scheme: "gs", Bucket: "bucket", Path: "t/"}},
	}
	for _, tt := range tests {
		got, err := ParseLocation(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	_, err := ParseLocation("s3://bucket")
	assert.Error(t, err)

	for _, raw := range []string{"abfss://c@acct/t/", "az://c/t/", "ftp://host/t/"} {
		_, err := ParseLocation(raw)
		assert.ErrorIs(t, err, ErrUnsupportedPathScheme, raw)
	}
}

func TestResolverRequiresEndpointForR2(t *testing.T) {
	r := NewResolver(S3Options{})
	_, err := r.Resolve(context.Background(), "r2://bucket/table/")
	assert.ErrorIs(t, err, ErrUnsupportedPathScheme)
}

func TestEndpointURL(t *testing.T) {
	off := false
	assert.Equal(t, "", S3Options{}.endpointURL("s3"))
	assert.Equal(t, "https://storage.googleapis.com", S3Options{}.endpointURL("gs"))
	assert.Equal(t, "https://minio:9000", S3Options{Endpoint: "minio:9000"}.endpointURL("s3"))
	assert.Equal(t, "http://minio:9000", S3Options{Endpoint: "minio:9000", UseSSL: &off}.endpointURL("s3"))
}

func TestBuffer(t *testing.T) {
	b := NewBuffer()
	_, err := b.Write([]byte("parquet"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.Size())

	p := make([]byte, 3)
	n, err := b.ReadAt(p, 2)
	require.NoError(t, err)
	assert.Equal(t, "rqu", string(p[:n]))
	n, err = b.ReadAt(p, 5)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "et", string(p[:n]))

	dir := t.TempDir()
	store := NewLocalStorage(dir)
	require.NoError(t, b.Store(context.Background(), store, "a/b.bin"))
	rc, err := store.Read(context.Background(), "a/b.bin")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "parquet", string(data))

	b.Reset()
	assert.Zero(t, b.Size())
}
