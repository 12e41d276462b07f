// Package deltatest writes small Delta tables for tests and demos: Parquet
// data files, JSON commits with stats, deletion vectors and checkpoints.
package deltatest

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/parquet-go/parquet-go"

	"delta-mirror/chunk"
	"delta-mirror/deltalog"
	"delta-mirror/multifile"
	"delta-mirror/schema"
	"delta-mirror/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DVMode selects how Delete stores its deletion vector.
type DVMode int

const (
	DVInline DVMode = iota
	DVRelative
	DVAbsolute
)

// Table appends commits to a local Delta table.
type Table struct {
	Root             string
	Schema           *schema.TableSchema
	PartitionColumns []string
	// Stats controls whether written adds carry statistics.
	Stats bool

	store    storage.Storage
	mu       sync.Mutex
	version  int64
	protocol *deltalog.Protocol
	metadata *deltalog.Metadata
	live     []*deltalog.Add
	// rank orders live files by the first add of their path, like log replay.
	rank  map[string]int
	files int
}

// Create writes version 0 of a new table rooted at the local directory root.
func Create(ctx context.Context, root string, s *schema.TableSchema, partitionColumns ...string) (*Table, error) {
	t := &Table{
		Root:             root,
		Schema:           s,
		PartitionColumns: partitionColumns,
		Stats:            true,
		store:            storage.NewLocalStorage(root),
		version:          -1,
	}

	schemaString, err := s.SchemaString()
	if err != nil {
		return nil, err
	}
	created := time.Now().UnixMilli()
	if partitionColumns == nil {
		partitionColumns = []string{}
	}
	t.protocol = &deltalog.Protocol{
		MinReaderVersion: 3,
		MinWriterVersion: 7,
		ReaderFeatures:   []string{"deletionVectors"},
		WriterFeatures:   []string{"deletionVectors"},
	}
	t.metadata = &deltalog.Metadata{
		ID:               uuid.New().String(),
		Format:           deltalog.Format{Provider: "parquet", Options: map[string]string{}},
		SchemaString:     schemaString,
		PartitionColumns: partitionColumns,
		Configuration:    map[string]string{"delta.enableDeletionVectors": "true"},
		CreatedTime:      &created,
	}
	if err := t.Commit(ctx, deltalog.Action{Protocol: t.protocol}, deltalog.Action{MetaData: t.metadata}); err != nil {
		return nil, err
	}
	return t, nil
}

// Version is the latest committed version.
func (t *Table) Version() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// Commit writes the next version with the given actions.
func (t *Table) Commit(ctx context.Context, actions ...deltalog.Action) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf := storage.NewBuffer()
	for _, a := range actions {
		line, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encoding action: %w", err)
		}
		buf.Write(line)
		buf.Write([]byte("\n"))
	}
	info, err := json.Marshal(deltalog.Action{CommitInfo: map[string]any{
		"timestamp": time.Now().UnixMilli(),
		"operation": "WRITE",
	}})
	if err != nil {
		return fmt.Errorf("encoding commit info: %w", err)
	}
	buf.Write(info)
	buf.Write([]byte("\n"))

	version := t.version + 1
	if err := buf.Store(ctx, t.store, deltalog.CommitPath(version)); err != nil {
		return fmt.Errorf("writing commit %d: %w", version, err)
	}
	t.version = version

	for _, a := range actions {
		switch {
		case a.Add != nil:
			t.insertLive(a.Add)
		case a.Remove != nil:
			for i, add := range t.live {
				if add.Path == a.Remove.Path && add.DeletionVector.UniqueID() == a.Remove.DeletionVector.UniqueID() {
					t.live = append(t.live[:i], t.live[i+1:]...)
					break
				}
			}
		}
	}
	return nil
}

func (t *Table) insertLive(add *deltalog.Add) {
	if t.rank == nil {
		t.rank = make(map[string]int)
	}
	r, ok := t.rank[add.Path]
	if !ok {
		r = len(t.rank)
		t.rank[add.Path] = r
	}
	pos := len(t.live)
	for i, l := range t.live {
		if t.rank[l.Path] > r {
			pos = i
			break
		}
	}
	t.live = slices.Insert(t.live, pos, add)
}

// WriteFile writes rows, laid out like the table schema, to a new data file
// and returns its add action without committing it. Partition columns are
// taken from partition rather than from the rows.
func (t *Table) WriteFile(ctx context.Context, partition map[string]*string, rows [][]chunk.Value) (*deltalog.Add, error) {
	isPartition := make(map[string]bool, len(t.PartitionColumns))
	for _, c := range t.PartitionColumns {
		isPartition[c] = true
	}

	group := parquet.Group{}
	var dataCols []int
	for i, col := range t.Schema.Columns {
		if isPartition[col.Name] {
			continue
		}
		node, err := multifile.ParquetNode(col.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		group[col.Name] = node
		dataCols = append(dataCols, i)
	}
	ps := parquet.NewSchema("spark_schema", group)

	buf := storage.NewBuffer()
	writer := parquet.NewWriter(buf, ps)
	builder := parquet.NewRowBuilder(ps)
	for _, row := range rows {
		builder.Reset()
		for _, i := range dataCols {
			leaf, ok := ps.Lookup(t.Schema.Columns[i].Name)
			if !ok {
				return nil, fmt.Errorf("column %s missing from parquet schema", t.Schema.Columns[i].Name)
			}
			// an optional leaf left empty reads back as NULL
			if row[i].IsNull() {
				continue
			}
			builder.Add(leaf.ColumnIndex, multifile.ToParquetValue(row[i]))
		}
		if _, err := writer.WriteRows([]parquet.Row{builder.Row()}); err != nil {
			return nil, fmt.Errorf("writing row: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing parquet writer: %w", err)
	}

	t.mu.Lock()
	t.files++
	name := fmt.Sprintf("part-%05d-%s.c000.snappy.parquet", t.files, uuid.New())
	t.mu.Unlock()

	diskPath, logPath := name, name
	for _, c := range t.PartitionColumns {
		value := "__HIVE_DEFAULT_PARTITION__"
		if v := partition[c]; v != nil {
			value = *v
		}
		diskPath = c + "=" + value + "/" + diskPath
		logPath = url.PathEscape(c+"="+value) + "/" + logPath
	}
	if err := buf.Store(ctx, t.store, diskPath); err != nil {
		return nil, fmt.Errorf("writing data file: %w", err)
	}

	add := &deltalog.Add{
		Path:             logPath,
		PartitionValues:  map[string]*string{},
		Size:             buf.Size(),
		ModificationTime: time.Now().UnixMilli(),
		DataChange:       true,
	}
	for _, c := range t.PartitionColumns {
		add.PartitionValues[c] = partition[c]
	}
	if t.Stats {
		stats, err := t.stats(rows, dataCols)
		if err != nil {
			return nil, err
		}
		add.Stats = stats
	}
	return add, nil
}

// Append writes rows to a new data file and commits it.
func (t *Table) Append(ctx context.Context, partition map[string]*string, rows [][]chunk.Value) (*deltalog.Add, error) {
	add, err := t.WriteFile(ctx, partition, rows)
	if err != nil {
		return nil, err
	}
	if err := t.Commit(ctx, deltalog.Action{Add: add}); err != nil {
		return nil, err
	}
	return add, nil
}

// Remove commits the removal of a live file.
func (t *Table) Remove(ctx context.Context, add *deltalog.Add) error {
	return t.Commit(ctx, deltalog.Action{Remove: removeOf(add)})
}

func removeOf(add *deltalog.Add) *deltalog.Remove {
	return &deltalog.Remove{
		Path:              add.Path,
		DeletionTimestamp: time.Now().UnixMilli(),
		DataChange:        true,
		DeletionVector:    add.DeletionVector,
	}
}

// Delete marks physical rows of a live file as deleted. The file is
// re-added with a deletion vector holding its previous deletions and rows.
func (t *Table) Delete(ctx context.Context, add *deltalog.Add, mode DVMode, rows ...uint64) (*deltalog.Add, error) {
	deleted := append([]uint64(nil), rows...)
	if add.DeletionVector != nil {
		previous, err := t.previousDeletions(ctx, add)
		if err != nil {
			return nil, err
		}
		deleted = append(deleted, previous...)
	}

	data, err := deltalog.EncodeBitmap(deleted...)
	if err != nil {
		return nil, err
	}
	dv, err := t.storeDeletionVector(ctx, mode, data)
	if err != nil {
		return nil, err
	}
	dv.Cardinality = int64(len(unique(deleted)))

	next := *add
	next.DeletionVector = dv
	next.DataChange = true
	if err := t.Commit(ctx, deltalog.Action{Remove: removeOf(add)}, deltalog.Action{Add: &next}); err != nil {
		return nil, err
	}
	return &next, nil
}

func (t *Table) previousDeletions(ctx context.Context, add *deltalog.Add) ([]uint64, error) {
	engine := deltalog.NewEngine(storage.NewResolver(storage.S3Options{}))
	defer engine.Stop()
	sel, err := engine.ResolveDeletionVector(ctx, t.Root, add.DeletionVector)
	if err != nil {
		return nil, err
	}
	var rows []uint64
	for i, live := range sel {
		if !live {
			rows = append(rows, uint64(i))
		}
	}
	return rows, nil
}

func (t *Table) storeDeletionVector(ctx context.Context, mode DVMode, data []byte) (*deltalog.DeletionVectorDescriptor, error) {
	dv := &deltalog.DeletionVectorDescriptor{SizeInBytes: int32(len(data))}
	if mode == DVInline {
		encoded, err := deltalog.EncodeInline(data)
		if err != nil {
			return nil, err
		}
		dv.StorageType = "i"
		dv.PathOrInlineDv = encoded
		return dv, nil
	}

	// version byte, then the framed bitmap
	file := append([]byte{1}, deltalog.FrameBitmap(data)...)
	id := uuid.New()
	name := fmt.Sprintf("deletion_vector_%s.bin", id)
	if err := t.store.Write(ctx, name, bytes.NewReader(file)); err != nil {
		return nil, fmt.Errorf("writing deletion vector: %w", err)
	}
	offset := int32(1)
	dv.Offset = &offset

	if mode == DVAbsolute {
		dv.StorageType = "p"
		dv.PathOrInlineDv = "file://" + filepath.ToSlash(filepath.Join(t.Root, name))
		return dv, nil
	}
	encoded, err := deltalog.EncodeUUIDPath("", id)
	if err != nil {
		return nil, err
	}
	dv.StorageType = "u"
	dv.PathOrInlineDv = encoded
	return dv, nil
}

// Checkpoint writes a checkpoint of the latest version.
func (t *Table) Checkpoint(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := []deltalog.CheckpointRow{
		*deltalog.CheckpointRowFor(&deltalog.Action{Protocol: t.protocol}),
		*deltalog.CheckpointRowFor(&deltalog.Action{MetaData: t.metadata}),
	}
	for _, add := range t.live {
		rows = append(rows, *deltalog.CheckpointRowFor(&deltalog.Action{Add: add}))
	}

	buf := storage.NewBuffer()
	if err := deltalog.WriteCheckpoint(buf, rows); err != nil {
		return err
	}
	if err := buf.Store(ctx, t.store, deltalog.CheckpointPath(t.version)); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}

// Live returns the adds of the latest version, ordered by the first add of
// each path.
func (t *Table) Live() []*deltalog.Add {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*deltalog.Add(nil), t.live...)
}

func unique(rows []uint64) map[uint64]bool {
	set := make(map[uint64]bool, len(rows))
	for _, r := range rows {
		set[r] = true
	}
	return set
}
