package scan

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"delta-mirror/deltalog"
	"delta-mirror/logger"
	"delta-mirror/metrics"
	"delta-mirror/multifile"
	"delta-mirror/scan/filter"
)

// LazyFileList resolves the data files of one snapshot on demand. Files are
// appended in visitation order and keep their index forever; once the log
// engine reports the end of the scan the list is exhausted for good.
//
// Every method takes the list mutex, so one list can be shared by all
// workers of a scan.
type LazyFileList struct {
	// ctx is used for the log engine calls made while expanding.
	ctx     context.Context
	engine  deltalog.Engine
	path    string
	version *int64
	filters filter.Set

	mu                  sync.Mutex
	handle              *SnapshotHandle
	initializedSnapshot bool
	initializedScan     bool
	cursor              deltalog.ScanCursor
	files               []string
	metadata            []*FileMetadata
	exhausted           bool
	err                 error
	columns             []multifile.Column
	closed              bool
}

// NewLazyFileList creates a list over path at version, or at the latest
// version when version is nil. Nothing is opened until first use.
func NewLazyFileList(ctx context.Context, engine deltalog.Engine, path string, version *int64) *LazyFileList {
	return &LazyFileList{ctx: ctx, engine: engine, path: path, version: version}
}

// newListFromHandle creates a list over an already opened snapshot. It takes
// over one reference of handle.
func newListFromHandle(ctx context.Context, handle *SnapshotHandle, filters filter.Set) *LazyFileList {
	return &LazyFileList{
		ctx:                 ctx,
		engine:              handle.Engine(),
		path:                handle.Path(),
		filters:             filters,
		handle:              handle,
		initializedSnapshot: true,
	}
}

// checkOpen fails once the list released its snapshot. The caller holds the
// lock.
func (l *LazyFileList) checkOpen() error {
	if l.closed {
		return fmt.Errorf("%w: file list of %s used after close", ErrInternal, l.path)
	}
	return nil
}

func (l *LazyFileList) initializeSnapshot() error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	if l.initializedSnapshot {
		return nil
	}
	h, err := OpenSnapshot(l.ctx, l.engine, l.path, l.version)
	if err != nil {
		return err
	}
	l.handle = h
	l.initializedSnapshot = true
	return nil
}

func (l *LazyFileList) initializeScan() error {
	if l.initializedScan {
		return nil
	}
	var pred deltalog.Predicate
	if len(l.filters) > 0 {
		pred = TranslateFilters(l.filters, l.handle.Snapshot().Schema().Names())
	}
	cursor, err := l.handle.Snapshot().Scan(l.ctx, pred)
	if err != nil {
		return fmt.Errorf("starting scan of %s: %w", l.handle.Path(), err)
	}
	if pred != nil {
		logger.Debug("pushing predicate into delta scan", "path", l.handle.Path(), "predicate", pred.String())
	}
	l.cursor = cursor
	l.initializedScan = true
	return nil
}

// getFile expands the list until file i is resolved or the scan ends. The
// caller holds the lock.
func (l *LazyFileList) getFile(i int) (string, bool, error) {
	if err := l.checkOpen(); err != nil {
		return "", false, err
	}
	if l.err != nil {
		return "", false, l.err
	}
	if err := l.initializeSnapshot(); err != nil {
		return "", false, err
	}
	if err := l.initializeScan(); err != nil {
		return "", false, err
	}
	if i < 0 {
		return "", false, nil
	}

	for i >= len(l.files) {
		if l.exhausted {
			return "", false, nil
		}
		before := len(l.files)
		more, err := l.cursor.NextBatch(l.visit)
		l.countResolved(len(l.files) - before)
		if err != nil {
			l.err = err
			return "", false, err
		}
		if !more {
			l.exhausted = true
			logger.Debug("file list exhausted", "path", l.handle.Path(), "files", len(l.files))
		}
	}
	return l.files[i], true, nil
}

func (l *LazyFileList) countResolved(n int) {
	if n > 0 {
		metrics.FilesResolved.WithLabelValues(strconv.FormatBool(len(l.filters) > 0)).Add(float64(n))
	}
}

// expandAll resolves every file. The caller holds the lock.
func (l *LazyFileList) expandAll() error {
	for i := len(l.files); ; i++ {
		_, ok, err := l.getFile(i)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// GetFile returns the path of file i, expanding the list as needed. ok is
// false once i is past the last file.
func (l *LazyFileList) GetFile(i int) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getFile(i)
}

// GetAllFiles expands the whole list.
func (l *LazyFileList) GetAllFiles() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.expandAll(); err != nil {
		return nil, err
	}
	return append([]string(nil), l.files...), nil
}

func (l *LazyFileList) GetTotalFileCount() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.expandAll(); err != nil {
		return 0, err
	}
	return len(l.files), nil
}

// GetCardinality sums the row counts of all files. known is false when any
// file has no row count. Deleted rows are not subtracted.
func (l *LazyFileList) GetCardinality() (rows int64, known bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.expandAll(); err != nil {
		return 0, false, err
	}
	for _, md := range l.metadata {
		if md.Cardinality == nil {
			return 0, false, nil
		}
		rows += *md.Cardinality
	}
	return rows, true, nil
}

// MetaData returns the metadata of a resolved file.
func (l *LazyFileList) MetaData(i int) (*FileMetadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(l.metadata) {
		return nil, fmt.Errorf("%w: no metadata for file %d of %d", ErrInternal, i, len(l.metadata))
	}
	return l.metadata[i], nil
}

// Bind returns the columns of the table schema.
func (l *LazyFileList) Bind() ([]multifile.Column, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bind()
}

func (l *LazyFileList) bind() ([]multifile.Column, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if l.columns != nil {
		return l.columns, nil
	}
	if err := l.initializeSnapshot(); err != nil {
		return nil, err
	}
	s := l.handle.Snapshot().Schema()
	cols := make([]multifile.Column, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = multifile.Column{Name: c.Name, Type: c.Type}
	}
	l.columns = cols
	return cols, nil
}

// Version is the resolved table version.
func (l *LazyFileList) Version() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.initializeSnapshot(); err != nil {
		return 0, err
	}
	return l.handle.Version(), nil
}

// Handle returns the shared snapshot handle, opening it if needed.
func (l *LazyFileList) Handle() (*SnapshotHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.initializeSnapshot(); err != nil {
		return nil, err
	}
	return l.handle, nil
}

// Filters returns the filters pushed into this list.
func (l *LazyFileList) Filters() filter.Set {
	return l.filters
}

// PushdownInfo collects file counts of filter pushdowns for EXPLAIN style
// output. It may be passed to several ApplyFilters calls of one scan.
type PushdownInfo struct {
	TotalFiles    *int
	FilteredFiles *int
	// FileFilters renders the filters that pruned files, one per line.
	FileFilters string
}

// ApplyFilters returns a list restricted to files that may hold rows
// matching filters. The new list shares this list's snapshot and runs its
// own visitation. It returns nil when there is nothing to push down.
//
// With opts.Profiling and opts.ExplainFilesFiltered both lists are fully
// expanded to fill info.
func (l *LazyFileList) ApplyFilters(filters filter.Set, opts Options, info *PushdownInfo) (*LazyFileList, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	names, err := l.bind()
	if err != nil {
		return nil, err
	}
	combined := make(filter.Set, len(l.filters)+len(filters))
	for col, f := range l.filters {
		combined[col] = f
	}
	for col, f := range filters {
		if existing, ok := combined[col]; ok {
			combined[col] = &filter.And{Children: []filter.Filter{existing, f}}
			continue
		}
		combined[col] = f
	}
	filtered := newListFromHandle(l.ctx, l.handle.Retain(), combined)

	if !opts.Profiling || !opts.ExplainFilesFiltered || info == nil {
		return filtered, nil
	}
	if err := l.explain(filtered, columnNames(names), info); err != nil {
		filtered.Close()
		return nil, err
	}
	return filtered, nil
}

// explain counts files before and after pruning. The caller holds the lock
// of l.
func (l *LazyFileList) explain(filtered *LazyFileList, names []string, info *PushdownInfo) error {
	if err := l.expandAll(); err != nil {
		return err
	}
	oldTotal := len(l.files)
	newTotal, err := filtered.GetTotalFileCount()
	if err != nil {
		return err
	}
	if oldTotal != newTotal {
		info.FileFilters = filtered.filters.Summary(names)
	}

	if info.TotalFiles == nil {
		info.TotalFiles = &oldTotal
	} else if *info.TotalFiles < oldTotal {
		return fmt.Errorf("%w: analyzing filtered files: total files inconsistent", ErrInternal)
	}
	if info.FilteredFiles == nil || *info.FilteredFiles >= newTotal {
		info.FilteredFiles = &newTotal
	} else {
		return fmt.Errorf("%w: analyzing filtered files: filtered files inconsistent", ErrInternal)
	}

	metrics.ExplainFiles.WithLabelValues("total").Set(float64(oldTotal))
	metrics.ExplainFiles.WithLabelValues("filtered").Set(float64(newTotal))
	logger.Debug("explained delta file pruning", "path", l.handle.Path(), "total", oldTotal, "filtered", newTotal)
	return nil
}

func columnNames(cols []multifile.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Close releases the list's reference on its snapshot.
func (l *LazyFileList) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.handle == nil {
		return nil
	}
	return l.handle.Release()
}
