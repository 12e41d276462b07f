package deltalog

import (
	"context"

	"delta-mirror/metrics"
)

// cursor walks the live files of a snapshot in log order. Each NextBatch
// call considers up to batchSize files; pruned files produce no event, so a
// batch may visit nothing.
type cursor struct {
	ctx        context.Context
	snap       *snapshot
	pred       Predicate
	partitions map[string]bool
	batchSize  int
	pos        int
}

func (s *snapshot) Scan(ctx context.Context, pred Predicate) (ScanCursor, error) {
	return s.scan(ctx, pred, s.batchSize), nil
}

func (s *snapshot) scan(ctx context.Context, pred Predicate, batchSize int) *cursor {
	partitions := make(map[string]bool, len(s.metadata.PartitionColumns))
	for _, c := range s.metadata.PartitionColumns {
		partitions[c] = true
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &cursor{
		ctx:        ctx,
		snap:       s,
		pred:       pred,
		partitions: partitions,
		batchSize:  batchSize,
	}
}

func (c *cursor) NextBatch(visit func(VisitEvent) error) (bool, error) {
	if c.pos >= len(c.snap.files) {
		return false, nil
	}
	if err := c.ctx.Err(); err != nil {
		return false, err
	}
	metrics.VisitBatches.Inc()

	end := min(c.pos+c.batchSize, len(c.snap.files))
	for ; c.pos < end; c.pos++ {
		add := c.snap.files[c.pos]
		stats := parseStats(add.Stats)
		view := &fileView{
			schema:     c.snap.schema,
			partitions: c.partitions,
			add:        add,
			stats:      stats,
		}
		if !mayMatch(c.pred, view) {
			continue
		}
		ev := VisitEvent{
			Path:            add.Path,
			Size:            add.Size,
			DeletionVector:  add.DeletionVector,
			PartitionValues: add.PartitionValues,
		}
		if stats != nil {
			ev.NumRecords = stats.numRecords
		}
		if err := visit(ev); err != nil {
			c.pos++
			return true, err
		}
	}
	return true, nil
}
