package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{root: root}
}

func (s *LocalStorage) fullPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.root, filepath.FromSlash(p))
}

func (s *LocalStorage) Write(ctx context.Context, p string, data io.Reader) error {
	full := s.fullPath(p)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}

	file, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

func (s *LocalStorage) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	file, err := os.Open(s.fullPath(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return file, nil
}

// List returns the relative names of regular files whose path starts with
// prefix, sorted lexically.
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	dir := s.fullPath(prefix)
	namePrefix := ""
	if !strings.HasSuffix(prefix, "/") {
		dir, namePrefix = filepath.Split(dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), namePrefix) {
			continue
		}
		rel, err := filepath.Rel(s.root, filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("relativising %s: %w", entry.Name(), err)
		}
		files = append(files, filepath.ToSlash(rel))
	}
	sort.Strings(files)
	return files, nil
}

func (s *LocalStorage) Open(ctx context.Context, p string) (File, error) {
	file, err := os.Open(s.fullPath(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("getting file size: %w", err)
	}
	return &localFile{File: file, size: info.Size()}, nil
}

type localFile struct {
	*os.File
	size int64
}

func (f *localFile) Size() int64 { return f.size }
