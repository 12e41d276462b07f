package deltalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/parquet-go/parquet-go"

	"delta-mirror/storage"
)

const checkpointReadBatch = 256

// CheckpointRow is one row of a checkpoint file. Exactly one field is set.
type CheckpointRow struct {
	Add      *CheckpointAdd      `parquet:"add,optional"`
	Remove   *CheckpointRemove   `parquet:"remove,optional"`
	MetaData *CheckpointMetadata `parquet:"metaData,optional"`
	Protocol *CheckpointProtocol `parquet:"protocol,optional"`
}

type CheckpointAdd struct {
	Path             string                    `parquet:"path"`
	PartitionValues  map[string]string         `parquet:"partitionValues"`
	Size             int64                     `parquet:"size"`
	ModificationTime int64                     `parquet:"modificationTime"`
	DataChange       bool                      `parquet:"dataChange"`
	Stats            string                    `parquet:"stats,optional"`
	DeletionVector   *CheckpointDeletionVector `parquet:"deletionVector,optional"`
}

type CheckpointRemove struct {
	Path              string                    `parquet:"path"`
	DeletionTimestamp int64                     `parquet:"deletionTimestamp,optional"`
	DataChange        bool                      `parquet:"dataChange"`
	DeletionVector    *CheckpointDeletionVector `parquet:"deletionVector,optional"`
}

type CheckpointDeletionVector struct {
	StorageType    string `parquet:"storageType"`
	PathOrInlineDv string `parquet:"pathOrInlineDv"`
	Offset         *int32 `parquet:"offset,optional"`
	SizeInBytes    int32  `parquet:"sizeInBytes"`
	Cardinality    int64  `parquet:"cardinality"`
}

type CheckpointFormat struct {
	Provider string            `parquet:"provider"`
	Options  map[string]string `parquet:"options,optional"`
}

type CheckpointMetadata struct {
	ID               string            `parquet:"id"`
	Name             string            `parquet:"name,optional"`
	Description      string            `parquet:"description,optional"`
	Format           CheckpointFormat  `parquet:"format"`
	SchemaString     string            `parquet:"schemaString"`
	PartitionColumns []string          `parquet:"partitionColumns,list"`
	Configuration    map[string]string `parquet:"configuration,optional"`
	CreatedTime      *int64            `parquet:"createdTime,optional"`
}

type CheckpointProtocol struct {
	MinReaderVersion int32    `parquet:"minReaderVersion"`
	MinWriterVersion int32    `parquet:"minWriterVersion"`
	ReaderFeatures   []string `parquet:"readerFeatures,optional,list"`
	WriterFeatures   []string `parquet:"writerFeatures,optional,list"`
}

func (e *LogEngine) readCheckpoint(ctx context.Context, store storage.Storage, cp *checkpointInfo, r *replay) error {
	parts := make([]int, 0, len(cp.parts))
	for part := range cp.parts {
		parts = append(parts, part)
	}
	sort.Ints(parts)

	for _, part := range parts {
		if err := readCheckpointPart(ctx, store, cp.parts[part], r); err != nil {
			return fmt.Errorf("part %d: %w", part, err)
		}
	}
	return nil
}

func readCheckpointPart(ctx context.Context, store storage.Storage, name string, r *replay) error {
	f, err := store.Open(ctx, name)
	if err != nil {
		return err
	}
	defer f.Close()

	pf, err := parquet.OpenFile(f, f.Size())
	if err != nil {
		return fmt.Errorf("%w: opening checkpoint: %w", ErrCorruptLog, err)
	}

	reader := parquet.NewGenericReader[CheckpointRow](pf)
	defer reader.Close()

	rows := make([]CheckpointRow, checkpointReadBatch)
	for {
		n, err := reader.Read(rows)
		for i := 0; i < n; i++ {
			if action := rows[i].action(); action != nil {
				r.apply(action)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: reading checkpoint rows: %w", ErrCorruptLog, err)
		}
	}
}

// action converts a checkpoint row to its log form. Removes are tombstones
// kept for vacuum and play no part in the replay of a checkpoint.
func (row *CheckpointRow) action() *Action {
	switch {
	case row.Add != nil:
		add := row.Add
		return &Action{Add: &Add{
			Path:             add.Path,
			PartitionValues:  partitionValuesFromCheckpoint(add.PartitionValues),
			Size:             add.Size,
			ModificationTime: add.ModificationTime,
			DataChange:       add.DataChange,
			Stats:            add.Stats,
			DeletionVector:   add.DeletionVector.descriptor(),
		}}
	case row.MetaData != nil:
		md := row.MetaData
		return &Action{MetaData: &Metadata{
			ID:               md.ID,
			Name:             md.Name,
			Description:      md.Description,
			Format:           Format{Provider: md.Format.Provider, Options: md.Format.Options},
			SchemaString:     md.SchemaString,
			PartitionColumns: md.PartitionColumns,
			Configuration:    md.Configuration,
			CreatedTime:      md.CreatedTime,
		}}
	case row.Protocol != nil:
		p := row.Protocol
		return &Action{Protocol: &Protocol{
			MinReaderVersion: int(p.MinReaderVersion),
			MinWriterVersion: int(p.MinWriterVersion),
			ReaderFeatures:   p.ReaderFeatures,
			WriterFeatures:   p.WriterFeatures,
		}}
	}
	return nil
}

// Checkpoint maps cannot hold NULL, so an empty partition value stands for
// it, the same as in commits.
func partitionValuesFromCheckpoint(values map[string]string) map[string]*string {
	out := make(map[string]*string, len(values))
	for k, v := range values {
		if v == "" {
			out[k] = nil
			continue
		}
		out[k] = &v
	}
	return out
}

func (dv *CheckpointDeletionVector) descriptor() *DeletionVectorDescriptor {
	if dv == nil {
		return nil
	}
	return &DeletionVectorDescriptor{
		StorageType:    dv.StorageType,
		PathOrInlineDv: dv.PathOrInlineDv,
		Offset:         dv.Offset,
		SizeInBytes:    dv.SizeInBytes,
		Cardinality:    dv.Cardinality,
	}
}

// CheckpointRowFor converts a log action to its checkpoint row. It returns
// nil for actions checkpoints do not carry.
func CheckpointRowFor(a *Action) *CheckpointRow {
	switch {
	case a.Add != nil:
		values := make(map[string]string, len(a.Add.PartitionValues))
		for k, v := range a.Add.PartitionValues {
			if v != nil {
				values[k] = *v
			} else {
				values[k] = ""
			}
		}
		return &CheckpointRow{Add: &CheckpointAdd{
			Path:             a.Add.Path,
			PartitionValues:  values,
			Size:             a.Add.Size,
			ModificationTime: a.Add.ModificationTime,
			DataChange:       a.Add.DataChange,
			Stats:            a.Add.Stats,
			DeletionVector:   checkpointDeletionVector(a.Add.DeletionVector),
		}}
	case a.Remove != nil:
		return &CheckpointRow{Remove: &CheckpointRemove{
			Path:              a.Remove.Path,
			DeletionTimestamp: a.Remove.DeletionTimestamp,
			DataChange:        a.Remove.DataChange,
			DeletionVector:    checkpointDeletionVector(a.Remove.DeletionVector),
		}}
	case a.MetaData != nil:
		md := a.MetaData
		return &CheckpointRow{MetaData: &CheckpointMetadata{
			ID:               md.ID,
			Name:             md.Name,
			Description:      md.Description,
			Format:           CheckpointFormat{Provider: md.Format.Provider, Options: md.Format.Options},
			SchemaString:     md.SchemaString,
			PartitionColumns: md.PartitionColumns,
			Configuration:    md.Configuration,
			CreatedTime:      md.CreatedTime,
		}}
	case a.Protocol != nil:
		return &CheckpointRow{Protocol: &CheckpointProtocol{
			MinReaderVersion: int32(a.Protocol.MinReaderVersion),
			MinWriterVersion: int32(a.Protocol.MinWriterVersion),
			ReaderFeatures:   a.Protocol.ReaderFeatures,
			WriterFeatures:   a.Protocol.WriterFeatures,
		}}
	}
	return nil
}

func checkpointDeletionVector(dv *DeletionVectorDescriptor) *CheckpointDeletionVector {
	if dv == nil {
		return nil
	}
	return &CheckpointDeletionVector{
		StorageType:    dv.StorageType,
		PathOrInlineDv: dv.PathOrInlineDv,
		Offset:         dv.Offset,
		SizeInBytes:    dv.SizeInBytes,
		Cardinality:    dv.Cardinality,
	}
}

// WriteCheckpoint encodes rows as a single-part checkpoint file.
func WriteCheckpoint(w io.Writer, rows []CheckpointRow) error {
	writer := parquet.NewGenericWriter[CheckpointRow](w)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("writing checkpoint rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing checkpoint writer: %w", err)
	}
	return nil
}
