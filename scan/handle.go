package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"delta-mirror/deltalog"
	"delta-mirror/logger"
	"delta-mirror/storage"
)

// SnapshotHandle shares one opened snapshot between a file list and the
// filtered lists derived from it. It is immutable once opened; the snapshot
// is closed when the last reference is released.
type SnapshotHandle struct {
	path   string
	engine deltalog.Engine
	snap   deltalog.Snapshot
	refs   atomic.Int32
}

// OpenSnapshot opens path at version, or at the latest version when version
// is nil. The returned handle holds one reference.
func OpenSnapshot(ctx context.Context, engine deltalog.Engine, path string, version *int64) (*SnapshotHandle, error) {
	root, err := NormalizePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSnapshotOpen, path, err)
	}
	snap, err := engine.Open(ctx, root, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSnapshotOpen, path, err)
	}

	h := &SnapshotHandle{path: root, engine: engine, snap: snap}
	h.refs.Store(1)
	logger.Debug("snapshot handle opened", "path", root, "version", snap.Version())
	return h, nil
}

// NormalizePath turns a table location into the form handed to the log
// engine: ./relative paths become absolute file:// URLs and every path ends
// with a slash.
func NormalizePath(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty table path")
	}
	if _, err := storage.ParseLocation(raw); err != nil {
		return "", err
	}
	p := raw
	if strings.HasPrefix(raw, "./") {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working directory: %w", err)
		}
		p = "file://" + filepath.ToSlash(filepath.Join(wd, raw[2:]))
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p, nil
}

func (h *SnapshotHandle) Path() string { return h.path }

func (h *SnapshotHandle) Version() int64 { return h.snap.Version() }

func (h *SnapshotHandle) Snapshot() deltalog.Snapshot { return h.snap }

func (h *SnapshotHandle) Engine() deltalog.Engine { return h.engine }

// Retain adds a reference.
func (h *SnapshotHandle) Retain() *SnapshotHandle {
	h.refs.Add(1)
	return h
}

// Release drops a reference and closes the snapshot with the last one.
func (h *SnapshotHandle) Release() error {
	n := h.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		return fmt.Errorf("%w: snapshot handle %s released too often", ErrInternal, h.path)
	}
	logger.Debug("snapshot handle closed", "path", h.path)
	return h.snap.Close()
}
