package scan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"delta-mirror/chunk"
	"delta-mirror/deltalog"
	"delta-mirror/schema"
)

// fakeEngine serves a fixed list of visit events in batches.
type fakeEngine struct {
	version    int64
	schema     *schema.TableSchema
	partitions []string
	events     []deltalog.VisitEvent
	batch      int
	dvs        map[string][]bool
	openErr    error

	mu      sync.Mutex
	opens   int
	batches int
	preds   []deltalog.Predicate
	closes  atomic.Int32
}

func newFakeEngine(events ...deltalog.VisitEvent) *fakeEngine {
	return &fakeEngine{
		version: 7,
		schema: &schema.TableSchema{Columns: []schema.Column{
			{Name: "id", Type: chunk.BigInt, Nullable: true},
			{Name: "name", Type: chunk.Varchar, Nullable: true},
		}},
		events: events,
		batch:  2,
		dvs:    map[string][]bool{},
	}
}

func (e *fakeEngine) Open(ctx context.Context, path string, version *int64) (deltalog.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opens++
	if e.openErr != nil {
		return nil, e.openErr
	}
	v := e.version
	if version != nil {
		v = *version
	}
	return &fakeSnapshot{engine: e, path: path, version: v}, nil
}

func (e *fakeEngine) ResolveDeletionVector(ctx context.Context, root string, dv *deltalog.DeletionVectorDescriptor) ([]bool, error) {
	sel, ok := e.dvs[dv.PathOrInlineDv]
	if !ok {
		return nil, errors.New("deletion vector not found")
	}
	return sel, nil
}

func (e *fakeEngine) openCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens
}

func (e *fakeEngine) batchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batches
}

type fakeSnapshot struct {
	engine  *fakeEngine
	path    string
	version int64
}

func (s *fakeSnapshot) Path() string                { return s.path }
func (s *fakeSnapshot) Version() int64              { return s.version }
func (s *fakeSnapshot) Schema() *schema.TableSchema { return s.engine.schema }
func (s *fakeSnapshot) PartitionColumns() []string  { return s.engine.partitions }

func (s *fakeSnapshot) Scan(ctx context.Context, pred deltalog.Predicate) (deltalog.ScanCursor, error) {
	s.engine.mu.Lock()
	s.engine.preds = append(s.engine.preds, pred)
	s.engine.mu.Unlock()
	return &fakeCursor{engine: s.engine}, nil
}

func (s *fakeSnapshot) Close() error {
	s.engine.closes.Add(1)
	return nil
}

type fakeCursor struct {
	engine *fakeEngine
	pos    int
}

func (c *fakeCursor) NextBatch(visit func(deltalog.VisitEvent) error) (bool, error) {
	c.engine.mu.Lock()
	c.engine.batches++
	c.engine.mu.Unlock()
	if c.pos >= len(c.engine.events) {
		return false, nil
	}
	end := min(c.pos+c.engine.batch, len(c.engine.events))
	for ; c.pos < end; c.pos++ {
		if err := visit(c.engine.events[c.pos]); err != nil {
			c.pos++
			return true, err
		}
	}
	return true, nil
}

func event(path string, rows int64) deltalog.VisitEvent {
	return deltalog.VisitEvent{Path: path, Size: 100, NumRecords: &rows}
}
