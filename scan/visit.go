package scan

import (
	"fmt"
	"net/url"
	"strings"

	"delta-mirror/chunk"
	"delta-mirror/deltalog"
	"delta-mirror/schema"
)

// FileMetadata describes one resolved data file. It is index aligned with
// the resolved paths of its list.
type FileMetadata struct {
	SnapshotVersion int64
	FileIndex       int
	// Cardinality is the physical row count from the file's stats, nil
	// without stats.
	Cardinality *int64
	// Selection marks live physical rows. nil means every row is live.
	Selection []bool
	// PartitionValues holds the partition columns of the file: VARCHAR text,
	// raw BLOB bytes for BLOB columns, or NULL.
	PartitionValues *chunk.CaseInsensitiveMap[chunk.Value]
}

// visit materializes one visitation event. It runs with the list lock held.
func (l *LazyFileList) visit(ev deltalog.VisitEvent) error {
	path := resolvePath(l.handle.Path(), ev.Path)

	var sel []bool
	if ev.DeletionVector != nil {
		resolved, err := l.handle.Engine().ResolveDeletionVector(l.ctx, l.handle.Path(), ev.DeletionVector)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrDeletionVectorResolution, path, err)
		}
		sel = resolved
	}

	l.files = append(l.files, path)
	l.metadata = append(l.metadata, &FileMetadata{
		SnapshotVersion: l.handle.Version(),
		FileIndex:       len(l.files) - 1,
		Cardinality:     ev.NumRecords,
		Selection:       sel,
		PartitionValues: partitionValues(ev, l.handle.Snapshot().Schema()),
	})
	return nil
}

// partitionValues looks every schema column up in the event by name. A
// column the event does not carry is not a partition column of the file.
func partitionValues(ev deltalog.VisitEvent, s *schema.TableSchema) *chunk.CaseInsensitiveMap[chunk.Value] {
	values := chunk.NewCaseInsensitiveMap[chunk.Value]()
	for _, col := range s.Columns {
		raw, present := ev.PartitionValue(col.Name)
		if !present {
			continue
		}
		switch {
		case raw == nil:
			values.Set(col.Name, chunk.NullValue(chunk.Varchar))
		case col.Type == chunk.Blob:
			values.Set(col.Name, chunk.BlobValue([]byte(*raw)))
		default:
			values.Set(col.Name, chunk.VarcharValue(*raw))
		}
	}
	return values
}

// resolvePath joins a table root and a URL encoded relative path and turns
// file:// URLs into local paths.
func resolvePath(root, raw string) string {
	joined := strings.TrimRight(root, "/") + "/" + raw
	if decoded, err := url.QueryUnescape(joined); err == nil {
		joined = decoded
	}
	return strings.TrimPrefix(joined, "file://")
}
