// Package multifile reads a list of columnar files as one relation. Table
// formats plug in through Hooks to map each file's columns onto the bound
// schema, inject constants and post-process chunks.
package multifile

import (
	"context"
	"strings"

	"delta-mirror/chunk"
)

// FileRowNumberColumn is the local column every physical reader synthesizes:
// the offset of the row within its file.
const FileRowNumberColumn = "file_row_number"

type Column struct {
	Name string
	Type chunk.Type
}

// FileList hands out files by index. GetFile returns ok=false once i is past
// the last file.
type FileList interface {
	GetFile(i int) (path string, ok bool, err error)
	GetTotalFileCount() (int, error)
}

// GlobalState is the output layout shared by every file of a scan: the
// projected columns followed by extra columns hooks need internally.
type GlobalState struct {
	Columns   []Column
	Projected int
	// State carries hook specific per-scan data.
	State any
}

// NewGlobalState lays out the projection. projection indexes into bound.
func NewGlobalState(bound []Column, projection []int) *GlobalState {
	g := &GlobalState{Columns: make([]Column, 0, len(projection))}
	for _, idx := range projection {
		g.Columns = append(g.Columns, bound[idx])
	}
	g.Projected = len(g.Columns)
	return g
}

// Position finds an output column by name, ignoring case. It returns -1 when
// the column is not part of the layout.
func (g *GlobalState) Position(name string) int {
	for i, c := range g.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// AddExtraColumn appends a column that is read but stripped before chunks
// are returned.
func (g *GlobalState) AddExtraColumn(c Column) int {
	g.Columns = append(g.Columns, c)
	return len(g.Columns) - 1
}

// ReaderData is the per-file mapping from local columns to the output
// layout. For every output position either ColumnIDs holds a local column
// index or ConstantMap holds the value to repeat.
type ReaderData struct {
	FileName     string
	FileIndex    int
	LocalColumns []Column
	ColumnIDs    []int
	ConstantMap  map[int]chunk.Value
	CastMap      map[int]chunk.Type
	// EmptyColumns is set when no output column is read from the file.
	EmptyColumns bool
	// State carries hook specific per-file data.
	State any
}

func NewReaderData(name string, index int, local []Column, width int) *ReaderData {
	ids := make([]int, width)
	for i := range ids {
		ids[i] = -1
	}
	return &ReaderData{
		FileName:     name,
		FileIndex:    index,
		LocalColumns: local,
		ColumnIDs:    ids,
		ConstantMap:  make(map[int]chunk.Value),
		CastMap:      make(map[int]chunk.Type),
	}
}

// LocalColumn finds a local column by name, ignoring case.
func (r *ReaderData) LocalColumn(name string) (int, bool) {
	for i, c := range r.LocalColumns {
		if strings.EqualFold(c.Name, name) {
			return i, true
		}
	}
	return -1, false
}

// SetConstant makes position pos a constant column.
func (r *ReaderData) SetConstant(pos int, v chunk.Value) {
	r.ColumnIDs[pos] = -1
	delete(r.CastMap, pos)
	r.ConstantMap[pos] = v
}

// Hooks adapt a table format to the reader. FinalizeChunk may be called from
// several goroutines at once, for different files.
type Hooks interface {
	// Bind returns the columns of the relation.
	Bind(ctx context.Context) ([]Column, error)
	// InitializeGlobalState may add extra columns to the layout.
	InitializeGlobalState(g *GlobalState) error
	// CreateColumnMapping fills the ReaderData of a newly opened file.
	CreateColumnMapping(r *ReaderData, g *GlobalState) error
	// FinalizeBind runs after the mapping, before any row is read.
	FinalizeBind(r *ReaderData, g *GlobalState) error
	// FinalizeChunk post-processes a chunk in the output layout, extra
	// columns included.
	FinalizeChunk(r *ReaderData, g *GlobalState, c *chunk.Chunk) error
}

// FileReader reads the local columns of one physical file.
type FileReader interface {
	Columns() []Column
	// Read returns up to max rows of every local column, or io.EOF.
	Read(max int) (*chunk.Chunk, error)
	Close() error
}

// Opener opens physical files by path.
type Opener interface {
	Open(ctx context.Context, path string) (FileReader, error)
}
