package deltalog

import (
	"context"
	"time"

	"github.com/karlseguin/ccache/v2"

	"delta-mirror/schema"
	"delta-mirror/storage"
)

// Engine opens table snapshots and resolves deletion vectors.
type Engine interface {
	// Open replays the log of the table rooted at path up to version, or to
	// the latest version when version is nil.
	Open(ctx context.Context, path string, version *int64) (Snapshot, error)
	// ResolveDeletionVector returns a selection over physical row offsets:
	// true keeps the row. Offsets past the end of the slice are live.
	ResolveDeletionVector(ctx context.Context, tableRoot string, dv *DeletionVectorDescriptor) ([]bool, error)
}

// Snapshot is an opened table version.
type Snapshot interface {
	Path() string
	Version() int64
	Schema() *schema.TableSchema
	PartitionColumns() []string
	// Scan starts a visitation pass over the live data files. pred may be nil.
	Scan(ctx context.Context, pred Predicate) (ScanCursor, error)
	Close() error
}

// ScanCursor pulls visitation batches. NextBatch returns false once the
// files are exhausted; that is not an error.
type ScanCursor interface {
	NextBatch(visit func(VisitEvent) error) (bool, error)
}

// VisitEvent describes one data file of a scan.
type VisitEvent struct {
	Path            string // relative to the table root, URL encoded
	Size            int64
	NumRecords      *int64
	DeletionVector  *DeletionVectorDescriptor
	PartitionValues map[string]*string
}

// PartitionValue looks a partition value up by column name. present is false
// when the column is not a partition column of this file; value is nil for a
// NULL partition.
func (e VisitEvent) PartitionValue(name string) (value *string, present bool) {
	value, present = e.PartitionValues[name]
	return value, present
}

const (
	DefaultBatchSize    = 32
	DefaultDVCacheItems = 1024
	dvCacheTTL          = 10 * time.Minute
)

// LogEngine reads Delta transaction logs through a storage resolver.
type LogEngine struct {
	resolver  *storage.Resolver
	schemas   *schema.Manager
	dvCache   *ccache.Cache
	batchSize int
}

type Option func(*LogEngine)

// WithBatchSize sets how many log entries one NextBatch call considers.
func WithBatchSize(n int) Option {
	return func(e *LogEngine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithDVCacheSize bounds the number of resolved deletion vectors kept.
func WithDVCacheSize(n int64) Option {
	return func(e *LogEngine) {
		if n > 0 {
			e.dvCache = ccache.New(ccache.Configure().MaxSize(n).ItemsToPrune(uint32(n/10 + 1)))
		}
	}
}

func NewEngine(resolver *storage.Resolver, opts ...Option) *LogEngine {
	e := &LogEngine{
		resolver:  resolver,
		schemas:   schema.NewSchemaManager(),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dvCache == nil {
		e.dvCache = ccache.New(ccache.Configure().MaxSize(DefaultDVCacheItems).ItemsToPrune(100))
	}
	return e
}

// Stop releases the background goroutine of the deletion vector cache.
func (e *LogEngine) Stop() {
	e.dvCache.Stop()
}
