package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// Buffer stages an object in memory until Store writes it. It implements
// File, so a staged object can be read back the way a stored one is.
type Buffer struct {
	mu   sync.RWMutex
	data []byte
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if off < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *Buffer) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.data))
}

func (b *Buffer) Close() error { return nil }

func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// Store writes the staged object to s at path.
func (b *Buffer) Store(ctx context.Context, s Storage, path string) error {
	b.mu.RLock()
	data := bytes.Clone(b.data)
	b.mu.RUnlock()
	return s.Write(ctx, path, bytes.NewReader(data))
}
