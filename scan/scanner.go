package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"delta-mirror/chunk"
	"delta-mirror/deltalog"
	"delta-mirror/metrics"
	"delta-mirror/multifile"
	"delta-mirror/scan/filter"
)

var errLimitReached = errors.New("scan limit reached")

// Scanner runs table scans: it creates file lists through a Registry, pushes
// filters down, reads the files with a multifile.Reader and applies the
// filters to rows.
type Scanner struct {
	registry *Registry
	opener   multifile.Opener
	opts     Options
}

func NewScanner(engine deltalog.Engine, opener multifile.Opener, opts Options) *Scanner {
	return &Scanner{
		registry: NewRegistry(engine, opts),
		opener:   opener,
		opts:     opts,
	}
}

// Request describes one scan.
type Request struct {
	Path    string
	Version *int64
	// Columns selects output columns by name. nil selects every column.
	Columns []string
	// Filters are keyed by column name.
	Filters map[string]filter.Filter
	// Limit stops the scan after this many rows when positive.
	Limit int
	// Explain receives pruning counts when profiling is enabled.
	Explain *PushdownInfo
}

// TableScan is a prepared scan. Run may be called more than once.
type TableScan struct {
	lists      []*LazyFileList
	files      *LazyFileList
	reader     *multifile.Reader
	columns    []multifile.Column
	projection []int
	// filters indexes into the internal projection
	filters filter.Set
	limit   int
}

// Prepare opens the table, binds its columns and pushes the filters down.
func (s *Scanner) Prepare(ctx context.Context, req Request) (*TableScan, error) {
	list, err := s.registry.CreateFileList(ctx, []string{req.Path}, req.Version)
	if err != nil {
		return nil, err
	}
	ts := &TableScan{lists: []*LazyFileList{list}, files: list, limit: req.Limit}
	if err := ts.prepare(ctx, s, req); err != nil {
		ts.Close()
		return nil, err
	}
	return ts, nil
}

func (ts *TableScan) prepare(ctx context.Context, s *Scanner, req Request) error {
	bound, err := NewMultiFileReader(ts.files, s.opts).Bind(ctx)
	if err != nil {
		return err
	}

	pushdown := filter.Set{}
	for name, f := range req.Filters {
		idx, ok := lookupColumn(bound, name)
		if !ok {
			return fmt.Errorf("filter on unknown column %q", name)
		}
		pushdown.Add(idx, f)
	}
	filtered, err := ts.files.ApplyFilters(pushdown, s.opts, req.Explain)
	if err != nil {
		return err
	}
	if filtered != nil {
		ts.lists = append(ts.lists, filtered)
		ts.files = filtered
	}

	hooks := NewMultiFileReader(ts.files, s.opts)
	ts.reader = multifile.NewReader(ts.files, hooks, s.opener, multifile.Options{
		Workers:   s.opts.Workers,
		ChunkSize: s.opts.ChunkSize,
	})

	if req.Columns == nil {
		for i := range bound {
			ts.projection = append(ts.projection, i)
		}
	}
	for _, name := range req.Columns {
		idx, ok := lookupColumn(bound, name)
		if !ok {
			return fmt.Errorf("unknown column %q", name)
		}
		ts.projection = append(ts.projection, idx)
	}
	for _, idx := range ts.projection {
		ts.columns = append(ts.columns, bound[idx])
	}

	// filtered columns are read even when not selected and dropped after
	// the row filter ran
	ts.filters = filter.Set{}
	for _, col := range pushdown.Columns() {
		pos := -1
		for i, idx := range ts.projection {
			if idx == col {
				pos = i
				break
			}
		}
		if pos < 0 {
			ts.projection = append(ts.projection, col)
			pos = len(ts.projection) - 1
		}
		ts.filters[pos] = pushdown[col]
	}
	return nil
}

func lookupColumn(cols []multifile.Column, name string) (int, bool) {
	for i, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return i, true
		}
	}
	return -1, false
}

// Columns are the output columns of the scan.
func (ts *TableScan) Columns() []multifile.Column { return ts.columns }

// Files is the file list the scan reads.
func (ts *TableScan) Files() *LazyFileList { return ts.files }

// Run reads the table and hands every chunk to emit, which is never called
// concurrently.
func (ts *TableScan) Run(ctx context.Context, emit func(*chunk.Chunk) error) error {
	emitted := 0
	err := ts.reader.Scan(ctx, ts.projection, func(c *chunk.Chunk) error {
		if len(ts.filters) > 0 {
			sel := make([]int, 0, c.Size())
			for i := 0; i < c.Size(); i++ {
				if ts.filters.MatchesRow(c.Row(i)) {
					sel = append(sel, i)
				}
			}
			c.Slice(sel, len(sel))
		}
		c.Truncate(len(ts.columns))
		if ts.limit > 0 && emitted+c.Size() > ts.limit {
			keep := make([]int, ts.limit-emitted)
			for i := range keep {
				keep[i] = i
			}
			c.Slice(keep, len(keep))
		}
		if c.Size() == 0 {
			return nil
		}
		emitted += c.Size()
		metrics.RowsEmitted.Add(float64(c.Size()))
		if err := emit(c); err != nil {
			return err
		}
		if ts.limit > 0 && emitted >= ts.limit {
			return errLimitReached
		}
		return nil
	})
	if errors.Is(err, errLimitReached) {
		return nil
	}
	return err
}

// Close releases the snapshots of the scan.
func (ts *TableScan) Close() error {
	var errs []error
	for _, l := range ts.lists {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases pinned snapshots.
func (s *Scanner) Close() error {
	return s.registry.Close()
}
