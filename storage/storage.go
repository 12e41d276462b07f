package storage

import (
	"context"
	"errors"
	"io"
)

// ErrUnsupportedPathScheme is returned for table or file locations whose URL
// scheme has no storage backend.
var ErrUnsupportedPathScheme = errors.New("unsupported path scheme")

// ErrNotFound is wrapped by backends when an object does not exist.
var ErrNotFound = errors.New("object not found")

// Storage is rooted at a table location; paths are relative to that root.
type Storage interface {
	Write(ctx context.Context, filepath string, data io.Reader) error
	Read(ctx context.Context, filepath string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Open(ctx context.Context, filepath string) (File, error)
}

// File supports the random access Parquet footers and deletion vector
// offsets need.
type File interface {
	io.ReaderAt
	io.Closer
	Size() int64
}
