package scan

import (
	"context"
	"fmt"
	"strings"

	"delta-mirror/chunk"
	"delta-mirror/metrics"
	"delta-mirror/multifile"
)

// MultiFileReader adapts a LazyFileList to the multifile reader: it maps file
// columns by name, injects partition values and the file number as
// constants, and drops deleted rows from every chunk.
type MultiFileReader struct {
	files *LazyFileList
	opts  Options
}

func NewMultiFileReader(files *LazyFileList, opts Options) *MultiFileReader {
	return &MultiFileReader{files: files, opts: opts}
}

// globalState records where the columns the reader relies on sit in the
// output layout.
type globalState struct {
	rowNumber  int
	fileNumber int // -1 unless the file number column is enabled
}

func (m *MultiFileReader) Bind(ctx context.Context) ([]multifile.Column, error) {
	cols, err := m.files.Bind()
	if err != nil {
		return nil, err
	}
	cols = append([]multifile.Column(nil), cols...)
	if m.opts.FileRowNumber {
		cols = append(cols, multifile.Column{Name: FileRowNumberColumn, Type: chunk.BigInt})
	}
	if m.opts.FileNumber {
		cols = append(cols, multifile.Column{Name: FileNumberColumn, Type: chunk.UBigInt})
	}
	return cols, nil
}

// InitializeGlobalState finds the row number and file number columns in the
// projection and adds them as extra columns when they are not projected.
func (m *MultiFileReader) InitializeGlobalState(g *multifile.GlobalState) error {
	st := &globalState{
		rowNumber:  m.requireColumn(g, FileRowNumberColumn, chunk.BigInt),
		fileNumber: -1,
	}
	if m.opts.FileNumber {
		st.fileNumber = m.requireColumn(g, FileNumberColumn, chunk.UBigInt)
	}
	g.State = st
	return nil
}

func (m *MultiFileReader) requireColumn(g *multifile.GlobalState, name string, t chunk.Type) int {
	for i := 0; i < g.Projected; i++ {
		if strings.EqualFold(g.Columns[i].Name, name) {
			return i
		}
	}
	return g.AddExtraColumn(multifile.Column{Name: name, Type: t})
}

// CreateColumnMapping maps output columns to file columns by name, ignoring
// case. Columns the file lacks read as NULL.
func (m *MultiFileReader) CreateColumnMapping(r *multifile.ReaderData, g *multifile.GlobalState) error {
	st := g.State.(*globalState)
	for pos, col := range g.Columns {
		if pos == st.fileNumber {
			continue
		}
		local, ok := r.LocalColumn(col.Name)
		if !ok {
			if pos == st.rowNumber {
				return fmt.Errorf("%w: %s has no %s column", ErrRequiredColumnMissing, r.FileName, FileRowNumberColumn)
			}
			r.SetConstant(pos, chunk.NullValue(col.Type))
			continue
		}
		localType := r.LocalColumns[local].Type
		if localType == chunk.Invalid {
			return fmt.Errorf("column %s of %s has an unsupported physical type", col.Name, r.FileName)
		}
		r.ColumnIDs[pos] = local
		if localType != col.Type {
			r.CastMap[pos] = col.Type
		}
	}
	return nil
}

// FinalizeBind injects the constants of one file. A partition value that
// does not cast to its column type fails the scan.
func (m *MultiFileReader) FinalizeBind(r *multifile.ReaderData, g *multifile.GlobalState) error {
	st := g.State.(*globalState)
	md, err := m.files.MetaData(r.FileIndex)
	if err != nil {
		return err
	}
	r.State = md

	if st.fileNumber >= 0 {
		r.SetConstant(st.fileNumber, chunk.UBigIntValue(uint64(md.FileIndex)))
	}
	if md.PartitionValues.Len() == 0 {
		return nil
	}
	for pos, col := range g.Columns {
		if pos == st.rowNumber || pos == st.fileNumber {
			continue
		}
		raw, ok := md.PartitionValues.Get(col.Name)
		if !ok {
			continue
		}
		v, err := partitionConstant(raw, col.Type)
		if err != nil {
			return fmt.Errorf("%w: column %s of %s: %w", ErrPartitionCast, col.Name, r.FileName, err)
		}
		r.SetConstant(pos, v)
	}
	return nil
}

func partitionConstant(raw chunk.Value, t chunk.Type) (chunk.Value, error) {
	switch {
	case raw.IsNull():
		return chunk.NullValue(t), nil
	case t == chunk.Blob:
		return chunk.BlobValue(raw.Bytes()), nil
	}
	return raw.CastAs(t)
}

// FinalizeChunk drops the rows the file's deletion vector marks deleted.
func (m *MultiFileReader) FinalizeChunk(r *multifile.ReaderData, g *multifile.GlobalState, c *chunk.Chunk) error {
	md, ok := r.State.(*FileMetadata)
	if !ok || md.Selection == nil {
		return nil
	}
	st := g.State.(*globalState)
	size := c.Size()
	sel, n := BuildSelection(md.Selection, c.Data[st.rowNumber], size)
	if n < size {
		metrics.RowsDeleted.Add(float64(size - n))
		c.Slice(sel, n)
	}
	return nil
}
