package scan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delta-mirror/chunk"
	"delta-mirror/multifile"
	"delta-mirror/schema"
)

func partitionedList(t *testing.T, year *string) *LazyFileList {
	t.Helper()
	ev := event("year=2023/f.parquet", 4)
	ev.PartitionValues = map[string]*string{"year": year}
	engine := newFakeEngine(ev)
	engine.schema = &schema.TableSchema{Columns: []schema.Column{
		{Name: "id", Type: chunk.BigInt},
		{Name: "name", Type: chunk.Varchar},
		{Name: "year", Type: chunk.Integer},
	}}
	engine.partitions = []string{"year"}
	list := NewLazyFileList(context.Background(), engine, "/t", nil)
	t.Cleanup(func() { list.Close() })
	_, ok, err := list.GetFile(0)
	require.NoError(t, err)
	require.True(t, ok)
	return list
}

// bindFile runs the hooks up to FinalizeBind for file 0 with local columns
// ID INTEGER and file_row_number.
func bindFile(t *testing.T, m *MultiFileReader, projection []int) (*multifile.GlobalState, *multifile.ReaderData, error) {
	t.Helper()
	bound, err := m.Bind(context.Background())
	require.NoError(t, err)
	g := multifile.NewGlobalState(bound, projection)
	require.NoError(t, m.InitializeGlobalState(g))

	local := []multifile.Column{{Name: "ID", Type: chunk.Integer}, {Name: FileRowNumberColumn, Type: chunk.BigInt}}
	r := multifile.NewReaderData("f.parquet", 0, local, len(g.Columns))
	if err := m.CreateColumnMapping(r, g); err != nil {
		return g, r, err
	}
	return g, r, m.FinalizeBind(r, g)
}

func TestReaderInjectsConstants(t *testing.T) {
	year := "2023"
	opts := DefaultOptions()
	opts.FileNumber = true
	m := NewMultiFileReader(partitionedList(t, &year), opts)

	bound, err := m.Bind(context.Background())
	require.NoError(t, err)
	require.Len(t, bound, 4)
	assert.Equal(t, FileNumberColumn, bound[3].Name)
	assert.Equal(t, chunk.UBigInt, bound[3].Type)

	// id, year, delta_file_number
	g, r, err := bindFile(t, m, []int{0, 2, 3})
	require.NoError(t, err)
	require.Len(t, g.Columns, 4, "the row number column is added for deletion vectors")
	assert.Equal(t, 3, g.Projected)
	assert.Equal(t, FileRowNumberColumn, g.Columns[3].Name)

	assert.Equal(t, 0, r.ColumnIDs[0])
	assert.Equal(t, chunk.BigInt, r.CastMap[0])
	assert.Equal(t, chunk.IntegerValue(2023), r.ConstantMap[1])
	assert.Equal(t, chunk.UBigIntValue(0), r.ConstantMap[2])
	assert.Equal(t, 1, r.ColumnIDs[3])

	md, ok := r.State.(*FileMetadata)
	require.True(t, ok)
	assert.Equal(t, 0, md.FileIndex)
}

func TestReaderMissingColumnsReadNull(t *testing.T) {
	year := "2023"
	m := NewMultiFileReader(partitionedList(t, &year), DefaultOptions())
	_, r, err := bindFile(t, m, []int{1})
	require.NoError(t, err)
	assert.Equal(t, chunk.NullValue(chunk.Varchar), r.ConstantMap[0])
}

func TestReaderNullPartition(t *testing.T) {
	m := NewMultiFileReader(partitionedList(t, nil), DefaultOptions())
	_, r, err := bindFile(t, m, []int{2})
	require.NoError(t, err)
	assert.Equal(t, chunk.NullValue(chunk.Integer), r.ConstantMap[0])
}

func TestReaderPartitionCastFailure(t *testing.T) {
	year := "MMXXIII"
	m := NewMultiFileReader(partitionedList(t, &year), DefaultOptions())
	_, _, err := bindFile(t, m, []int{0, 2})
	assert.ErrorIs(t, err, ErrPartitionCast)
}

func TestReaderRequiresRowNumbers(t *testing.T) {
	year := "2023"
	m := NewMultiFileReader(partitionedList(t, &year), DefaultOptions())
	bound, err := m.Bind(context.Background())
	require.NoError(t, err)
	g := multifile.NewGlobalState(bound, []int{0})
	require.NoError(t, m.InitializeGlobalState(g))

	r := multifile.NewReaderData("f.parquet", 0, []multifile.Column{{Name: "id", Type: chunk.BigInt}}, len(g.Columns))
	err = m.CreateColumnMapping(r, g)
	assert.ErrorIs(t, err, ErrRequiredColumnMissing)
}

func TestReaderProjectedRowNumber(t *testing.T) {
	year := "2023"
	opts := DefaultOptions()
	opts.FileRowNumber = true
	m := NewMultiFileReader(partitionedList(t, &year), opts)

	// id, file_row_number
	g, r, err := bindFile(t, m, []int{0, 3})
	require.NoError(t, err)
	assert.Len(t, g.Columns, 2, "a projected row number column is reused")
	assert.Equal(t, 1, r.ColumnIDs[1])
}

func TestReaderDropsDeletedRows(t *testing.T) {
	year := "2023"
	m := NewMultiFileReader(partitionedList(t, &year), DefaultOptions())
	g, r, err := bindFile(t, m, []int{0})
	require.NoError(t, err)

	c := chunk.NewChunk([]chunk.Type{chunk.BigInt, chunk.BigInt}, 4)
	for i := int64(0); i < 4; i++ {
		c.Data[0].Append(chunk.BigIntValue(i * 10))
		c.Data[1].Append(chunk.BigIntValue(i))
	}

	// without a deletion vector nothing changes
	require.NoError(t, m.FinalizeChunk(r, g, c))
	assert.Equal(t, 4, c.Size())

	r.State.(*FileMetadata).Selection = []bool{true, false, true, false}
	require.NoError(t, m.FinalizeChunk(r, g, c))
	require.Equal(t, 2, c.Size())
	assert.Equal(t, chunk.BigIntValue(0), c.Data[0].Values[0])
	assert.Equal(t, chunk.BigIntValue(20), c.Data[0].Values[1])
}
