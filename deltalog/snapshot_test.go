package deltalog_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delta-mirror/chunk"
	"delta-mirror/deltalog"
	"delta-mirror/deltatest"
	"delta-mirror/schema"
	"delta-mirror/storage"
)

var events = &schema.TableSchema{Columns: []schema.Column{
	{Name: "id", Type: chunk.BigInt, Nullable: true},
	{Name: "name", Type: chunk.Varchar, Nullable: true},
	{Name: "year", Type: chunk.Integer, Nullable: true},
}}

func rows(from, to int64) [][]chunk.Value {
	var out [][]chunk.Value
	for i := from; i < to; i++ {
		out = append(out, []chunk.Value{chunk.BigIntValue(i), chunk.VarcharValue("row"), chunk.IntegerValue(2023)})
	}
	return out
}

func year(y string) map[string]*string { return map[string]*string{"year": &y} }

func newEngine(t *testing.T, opts ...deltalog.Option) *deltalog.LogEngine {
	engine := deltalog.NewEngine(storage.NewResolver(storage.S3Options{}), opts...)
	t.Cleanup(engine.Stop)
	return engine
}

func visitAll(t *testing.T, snap deltalog.Snapshot, pred deltalog.Predicate) []deltalog.VisitEvent {
	cur, err := snap.Scan(context.Background(), pred)
	require.NoError(t, err)
	var out []deltalog.VisitEvent
	for {
		more, err := cur.NextBatch(func(ev deltalog.VisitEvent) error {
			out = append(out, ev)
			return nil
		})
		require.NoError(t, err)
		if !more {
			return out
		}
	}
}

func paths(evs []deltalog.VisitEvent) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Path
	}
	return out
}

// fixture commits: v1 add a, v2 add b, v3 add c, v4 remove b
func fixture(t *testing.T) (*deltatest.Table, []*deltalog.Add) {
	ctx := context.Background()
	table, err := deltatest.Create(ctx, t.TempDir(), events, "year")
	require.NoError(t, err)

	var adds []*deltalog.Add
	for i, y := range []string{"2022", "2023", "2024"} {
		add, err := table.Append(ctx, year(y), rows(int64(i*10), int64(i*10+10)))
		require.NoError(t, err)
		adds = append(adds, add)
	}
	require.NoError(t, table.Remove(ctx, adds[1]))
	return table, adds
}

func TestOpenLatestVersion(t *testing.T) {
	table, adds := fixture(t)
	engine := newEngine(t)

	snap, err := engine.Open(context.Background(), table.Root, nil)
	require.NoError(t, err)
	defer snap.Close()

	assert.Equal(t, int64(4), snap.Version())
	assert.Equal(t, []string{"year"}, snap.PartitionColumns())
	assert.Equal(t, []string{"id", "name", "year"}, snap.Schema().Names())

	evs := visitAll(t, snap, nil)
	assert.Equal(t, []string{adds[0].Path, adds[2].Path}, paths(evs))
	require.NotNil(t, evs[0].NumRecords)
	assert.Equal(t, int64(10), *evs[0].NumRecords)
	value, present := evs[1].PartitionValue("year")
	assert.True(t, present)
	assert.Equal(t, "2024", *value)
}

func TestOpenPinnedVersion(t *testing.T) {
	table, adds := fixture(t)
	engine := newEngine(t)

	v := int64(3)
	snap, err := engine.Open(context.Background(), table.Root, &v)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Version())
	assert.Equal(t, []string{adds[0].Path, adds[1].Path, adds[2].Path}, paths(visitAll(t, snap, nil)))

	missing := int64(9)
	_, err = engine.Open(context.Background(), table.Root, &missing)
	assert.ErrorIs(t, err, deltalog.ErrVersionNotFound)
}

func TestOpenMissingTable(t *testing.T) {
	_, err := newEngine(t).Open(context.Background(), filepath.Join(t.TempDir(), "nothing"), nil)
	assert.ErrorIs(t, err, deltalog.ErrTableNotFound)
}

func TestReAddAfterRemoveKeepsFirstPosition(t *testing.T) {
	table, adds := fixture(t)
	require.NoError(t, table.Commit(context.Background(), deltalog.Action{Add: adds[1]}))

	snap, err := newEngine(t).Open(context.Background(), table.Root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{adds[0].Path, adds[1].Path, adds[2].Path}, paths(visitAll(t, snap, nil)))
}

func TestCheckpointReplacesCommits(t *testing.T) {
	ctx := context.Background()
	table, adds := fixture(t)
	require.NoError(t, table.Checkpoint(ctx))
	extra, err := table.Append(ctx, year("2025"), rows(100, 105))
	require.NoError(t, err)

	for v := int64(0); v <= 4; v++ {
		require.NoError(t, os.Remove(filepath.Join(table.Root, filepath.FromSlash(deltalog.CommitPath(v)))))
	}

	snap, err := newEngine(t).Open(ctx, table.Root, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.Version())
	evs := visitAll(t, snap, nil)
	assert.Equal(t, []string{adds[0].Path, adds[2].Path, extra.Path}, paths(evs))
	require.NotNil(t, evs[0].NumRecords)
	assert.Equal(t, int64(10), *evs[0].NumRecords)

	// history before the checkpoint is gone
	early := int64(2)
	_, err = newEngine(t).Open(ctx, table.Root, &early)
	assert.ErrorIs(t, err, deltalog.ErrVersionNotFound)
}

// partitionYears maps each visited path to its year, "NULL" for NULL.
func partitionYears(t *testing.T, evs []deltalog.VisitEvent) map[string]string {
	out := make(map[string]string, len(evs))
	for _, ev := range evs {
		v, present := ev.PartitionValue("year")
		require.True(t, present, ev.Path)
		if v == nil {
			out[ev.Path] = "NULL"
			continue
		}
		out[ev.Path] = *v
	}
	return out
}

func TestEmptyPartitionValueIsNullAcrossCheckpoint(t *testing.T) {
	ctx := context.Background()
	table, err := deltatest.Create(ctx, t.TempDir(), events, "year")
	require.NoError(t, err)
	dated, err := table.Append(ctx, year("2023"), rows(0, 3))
	require.NoError(t, err)
	empty, err := table.Append(ctx, year(""), rows(3, 6))
	require.NoError(t, err)
	missing, err := table.Append(ctx, map[string]*string{"year": nil}, rows(6, 9))
	require.NoError(t, err)

	want := map[string]string{dated.Path: "2023", empty.Path: "NULL", missing.Path: "NULL"}
	isNull := &deltalog.IsNull{Column: "year"}
	eq := &deltalog.Comparison{Column: "year", Op: deltalog.OpEq, Value: chunk.IntegerValue(2023)}

	check := func(t *testing.T) {
		snap, err := newEngine(t).Open(ctx, table.Root, nil)
		require.NoError(t, err)
		defer snap.Close()
		assert.Equal(t, want, partitionYears(t, visitAll(t, snap, nil)))
		assert.Equal(t, []string{empty.Path, missing.Path}, paths(visitAll(t, snap, isNull)))
		assert.Equal(t, []string{dated.Path}, paths(visitAll(t, snap, eq)))
	}
	t.Run("commits", check)
	require.NoError(t, table.Checkpoint(ctx))
	t.Run("checkpoint", check)
}

func TestRewrittenFileKeepsPositionAcrossCheckpoint(t *testing.T) {
	ctx := context.Background()
	table, adds := fixture(t)
	deleted, err := table.Delete(ctx, adds[0], deltatest.DVInline, 1)
	require.NoError(t, err)
	extra, err := table.Append(ctx, year("2025"), rows(100, 102))
	require.NoError(t, err)

	want := []string{deleted.Path, adds[2].Path, extra.Path}
	check := func(t *testing.T) {
		snap, err := newEngine(t).Open(ctx, table.Root, nil)
		require.NoError(t, err)
		defer snap.Close()
		evs := visitAll(t, snap, nil)
		assert.Equal(t, want, paths(evs))
		require.NotNil(t, evs[0].DeletionVector)
		assert.Equal(t, deleted.DeletionVector.UniqueID(), evs[0].DeletionVector.UniqueID())
	}
	t.Run("commits", check)
	require.NoError(t, table.Checkpoint(ctx))
	t.Run("checkpoint", check)
}

func TestUnsupportedProtocol(t *testing.T) {
	ctx := context.Background()
	table, _ := fixture(t)
	require.NoError(t, table.Commit(ctx, deltalog.Action{Protocol: &deltalog.Protocol{
		MinReaderVersion: 3,
		MinWriterVersion: 7,
		ReaderFeatures:   []string{"columnMapping"},
	}}))

	_, err := newEngine(t).Open(ctx, table.Root, nil)
	assert.ErrorIs(t, err, deltalog.ErrUnsupportedProtocol)
}

func TestCorruptCommit(t *testing.T) {
	ctx := context.Background()
	table, _ := fixture(t)
	store := storage.NewLocalStorage(table.Root)
	require.NoError(t, store.Write(ctx, deltalog.CommitPath(5), strings.NewReader("{not json\n")))

	_, err := newEngine(t).Open(ctx, table.Root, nil)
	assert.ErrorIs(t, err, deltalog.ErrCorruptLog)
}

func TestScanPrunesFiles(t *testing.T) {
	table, adds := fixture(t)
	snap, err := newEngine(t).Open(context.Background(), table.Root, nil)
	require.NoError(t, err)

	byPartition := &deltalog.Comparison{Column: "year", Op: deltalog.OpEq, Value: chunk.IntegerValue(2024)}
	assert.Equal(t, []string{adds[2].Path}, paths(visitAll(t, snap, byPartition)))

	byStats := &deltalog.Comparison{Column: "id", Op: deltalog.OpLt, Value: chunk.BigIntValue(5)}
	assert.Equal(t, []string{adds[0].Path}, paths(visitAll(t, snap, byStats)))

	none := &deltalog.And{Children: []deltalog.Predicate{byPartition, byStats}}
	assert.Empty(t, visitAll(t, snap, none))
}

func TestScanBatches(t *testing.T) {
	ctx := context.Background()
	table, err := deltatest.Create(ctx, t.TempDir(), events, "year")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := table.Append(ctx, year("2023"), rows(0, 1))
		require.NoError(t, err)
	}

	snap, err := newEngine(t, deltalog.WithBatchSize(2)).Open(ctx, table.Root, nil)
	require.NoError(t, err)
	cur, err := snap.Scan(ctx, nil)
	require.NoError(t, err)

	var sizes []int
	for {
		n := 0
		more, err := cur.NextBatch(func(deltalog.VisitEvent) error { n++; return nil })
		require.NoError(t, err)
		if !more {
			break
		}
		sizes = append(sizes, n)
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestResolveDeletionVectors(t *testing.T) {
	for _, mode := range []deltatest.DVMode{deltatest.DVInline, deltatest.DVRelative, deltatest.DVAbsolute} {
		ctx := context.Background()
		table, adds := fixture(t)
		deleted, err := table.Delete(ctx, adds[0], mode, 2, 5)
		require.NoError(t, err)

		engine := newEngine(t)
		sel, err := engine.ResolveDeletionVector(ctx, table.Root, deleted.DeletionVector)
		require.NoError(t, err)
		assert.Equal(t, []bool{true, true, false, true, true, false}, sel)

		snap, err := engine.Open(ctx, table.Root, nil)
		require.NoError(t, err)
		evs := visitAll(t, snap, nil)
		require.Len(t, evs, 2)
		assert.Equal(t, adds[0].Path, evs[0].Path)
		require.NotNil(t, evs[0].DeletionVector)
		assert.Equal(t, int64(2), evs[0].DeletionVector.Cardinality)
	}
}

func TestDeletionVectorsAccumulate(t *testing.T) {
	ctx := context.Background()
	table, adds := fixture(t)
	first, err := table.Delete(ctx, adds[0], deltatest.DVRelative, 1)
	require.NoError(t, err)
	second, err := table.Delete(ctx, first, deltatest.DVInline, 3)
	require.NoError(t, err)

	sel, err := newEngine(t).ResolveDeletionVector(ctx, table.Root, second.DeletionVector)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, false}, sel)
}

func TestResolveNilDeletionVector(t *testing.T) {
	sel, err := newEngine(t).ResolveDeletionVector(context.Background(), "/tmp", nil)
	assert.NoError(t, err)
	assert.Nil(t, sel)
}

func TestResolveMissingDeletionVector(t *testing.T) {
	offset := int32(1)
	dv := &deltalog.DeletionVectorDescriptor{
		StorageType:    "p",
		PathOrInlineDv: filepath.Join(t.TempDir(), "deletion_vector_missing.bin"),
		Offset:         &offset,
		SizeInBytes:    10,
		Cardinality:    1,
	}
	_, err := newEngine(t).ResolveDeletionVector(context.Background(), t.TempDir(), dv)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
