package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Location is a parsed table or file URL.
type Location struct {
	Scheme string
	Bucket string
	Path   string
}

var objectStoreSchemes = map[string]bool{
	"s3": true, "s3a": true, "r2": true, "gs": true, "gcs": true,
}

var knownUnsupportedSchemes = map[string]bool{
	"az": true, "azure": true, "abfs": true, "abfss": true, "hdfs": true, "http": true, "https": true,
}

// ParseLocation splits raw into scheme, bucket and path. Locations without a
// scheme and file:// URLs are local paths.
func ParseLocation(raw string) (Location, error) {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return Location{Scheme: "file", Path: raw}, nil
	}

	scheme := strings.ToLower(raw[:idx])
	rest := raw[idx+3:]
	switch {
	case scheme == "file":
		return Location{Scheme: "file", Path: rest}, nil
	case objectStoreSchemes[scheme]:
		end := strings.IndexByte(rest, '/')
		if end <= 0 {
			return Location{}, fmt.Errorf("invalid %s url: %s", scheme, raw)
		}
		return Location{Scheme: scheme, Bucket: rest[:end], Path: strings.TrimPrefix(rest[end:], "/")}, nil
	case knownUnsupportedSchemes[scheme]:
		return Location{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedPathScheme, scheme, raw)
	}
	return Location{}, fmt.Errorf("%w: %s", ErrUnsupportedPathScheme, raw)
}

// Resolver hands out storages for locations, sharing one S3 client per
// scheme.
type Resolver struct {
	s3opts S3Options

	mu      sync.Mutex
	clients map[string]*s3.Client
}

func NewResolver(opts S3Options) *Resolver {
	return &Resolver{
		s3opts:  opts,
		clients: make(map[string]*s3.Client),
	}
}

func (r *Resolver) client(ctx context.Context, scheme string) (*s3.Client, error) {
	// r2 and gcs are reached through their S3 compatible endpoints, which
	// only exist when configured.
	if (scheme == "r2" || scheme == "gs" || scheme == "gcs") && r.s3opts.Endpoint == "" && r.s3opts.KeyID == "" {
		return nil, fmt.Errorf("%w: can not scan a %s:// url without credentials providing its endpoint", ErrUnsupportedPathScheme, scheme)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[scheme]; ok {
		return c, nil
	}
	c, err := NewS3Client(ctx, r.s3opts, scheme)
	if err != nil {
		return nil, err
	}
	r.clients[scheme] = c
	return c, nil
}

// Resolve returns a storage rooted at root.
func (r *Resolver) Resolve(ctx context.Context, root string) (Storage, error) {
	loc, err := ParseLocation(root)
	if err != nil {
		return nil, err
	}
	if loc.Scheme == "file" {
		return NewLocalStorage(loc.Path), nil
	}

	client, err := r.client(ctx, loc.Scheme)
	if err != nil {
		return nil, err
	}
	return NewS3Storage(client, loc.Bucket, loc.Path), nil
}

// OpenFile opens a single object by its full location.
func (r *Resolver) OpenFile(ctx context.Context, location string) (File, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	if loc.Scheme == "file" {
		return NewLocalStorage("").Open(ctx, loc.Path)
	}

	client, err := r.client(ctx, loc.Scheme)
	if err != nil {
		return nil, err
	}
	return NewS3Storage(client, loc.Bucket, "").Open(ctx, loc.Path)
}
