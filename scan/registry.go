package scan

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"delta-mirror/deltalog"
	"delta-mirror/logger"
)

// Registry creates the file lists of scans. With PinSnapshot set, the first
// snapshot opened for a path and version is kept and shared by every later
// list of that path, so repeated scans read the same table version.
type Registry struct {
	engine deltalog.Engine
	opts   Options

	mu     sync.Mutex
	pinned map[string]*SnapshotHandle
}

func NewRegistry(engine deltalog.Engine, opts Options) *Registry {
	return &Registry{
		engine: engine,
		opts:   opts,
		pinned: make(map[string]*SnapshotHandle),
	}
}

// CreateFileList returns a new list for paths, which must name exactly one
// table. The caller closes the list.
func (r *Registry) CreateFileList(ctx context.Context, paths []string, version *int64) (*LazyFileList, error) {
	if len(paths) != 1 {
		return nil, fmt.Errorf("delta scans take exactly one table path, got %d", len(paths))
	}
	path := paths[0]
	if !r.opts.PinSnapshot {
		return NewLazyFileList(ctx, r.engine, path, version), nil
	}

	key := path
	if version != nil {
		key += "@" + strconv.FormatInt(*version, 10)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.pinned[key]
	if !ok {
		var err error
		h, err = OpenSnapshot(ctx, r.engine, path, version)
		if err != nil {
			return nil, err
		}
		r.pinned[key] = h
		logger.Debug("pinned delta snapshot", "path", path, "version", h.Version())
	}
	return newListFromHandle(ctx, h.Retain(), nil), nil
}

// Close releases the pinned snapshots.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, h := range r.pinned {
		if err := h.Release(); err != nil {
			errs = append(errs, err)
		}
		delete(r.pinned, key)
	}
	return errors.Join(errs...)
}
