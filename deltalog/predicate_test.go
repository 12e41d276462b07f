package deltalog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"delta-mirror/chunk"
	"delta-mirror/schema"
)

var testSchema = &schema.TableSchema{Columns: []schema.Column{
	{Name: "id", Type: chunk.BigInt, Nullable: true},
	{Name: "name", Type: chunk.Varchar, Nullable: true},
	{Name: "ts", Type: chunk.Timestamp, Nullable: true},
	{Name: "year", Type: chunk.Integer, Nullable: true},
}}

func view(stats string, partition map[string]*string) *fileView {
	return &fileView{
		schema:     testSchema,
		partitions: map[string]bool{"year": true},
		add:        &Add{Path: "f.parquet", PartitionValues: partition, Stats: stats},
		stats:      parseStats(stats),
	}
}

func strPtr(s string) *string { return &s }

const idStats = `{"numRecords":10,"minValues":{"id":10,"name":"b"},"maxValues":{"id":20,"name":"m"},"nullCount":{"id":0,"name":3}}`

func TestComparisonAgainstStats(t *testing.T) {
	f := view(idStats, map[string]*string{"year": strPtr("2023")})

	tests := []struct {
		op    CmpOp
		value int64
		keep  bool
	}{
		{OpEq, 15, true},
		{OpEq, 9, false},
		{OpEq, 21, false},
		{OpLt, 10, false},
		{OpLe, 10, true},
		{OpGt, 20, false},
		{OpGe, 20, true},
		{OpNe, 15, true},
	}
	for _, tt := range tests {
		pred := &Comparison{Column: "id", Op: tt.op, Value: chunk.BigIntValue(tt.value)}
		assert.Equal(t, tt.keep, mayMatch(pred, f), pred.String())
	}
}

func TestMissingStatsKeepFile(t *testing.T) {
	f := view("", map[string]*string{"year": strPtr("2023")})
	assert.True(t, mayMatch(&Comparison{Column: "id", Op: OpEq, Value: chunk.BigIntValue(1)}, f))
	assert.True(t, mayMatch(&IsNull{Column: "id"}, f))
	assert.True(t, mayMatch(&Comparison{Column: "unknown", Op: OpEq, Value: chunk.BigIntValue(1)}, f))
}

func TestTruncatedStringMax(t *testing.T) {
	long := "abcdefghijklmnopqrstuvwxyz0123456789"
	f := view(`{"numRecords":1,"minValues":{"name":"a"},"maxValues":{"name":"`+long[:32]+`"}}`, nil)
	// a prefix of length 32 is not an upper bound
	assert.True(t, mayMatch(&Comparison{Column: "name", Op: OpEq, Value: chunk.VarcharValue(long)}, f))

	short := view(`{"numRecords":1,"minValues":{"name":"a"},"maxValues":{"name":"abc"}}`, nil)
	assert.False(t, mayMatch(&Comparison{Column: "name", Op: OpGt, Value: chunk.VarcharValue("abd")}, short))
}

func TestTimestampMaxIsWidened(t *testing.T) {
	f := view(`{"numRecords":1,"minValues":{"ts":"2024-01-01T00:00:00.000Z"},"maxValues":{"ts":"2024-01-01T00:00:00.000Z"}}`, nil)
	ts, err := chunk.ParseValue("2024-01-01 00:00:00.000500", chunk.Timestamp)
	assert.NoError(t, err)
	assert.True(t, mayMatch(&Comparison{Column: "ts", Op: OpEq, Value: ts}, f), "sub-millisecond values survive")

	later, err := chunk.ParseValue("2024-01-01 00:00:00.002", chunk.Timestamp)
	assert.NoError(t, err)
	assert.False(t, mayMatch(&Comparison{Column: "ts", Op: OpGe, Value: later}, f))
}

func TestPartitionValues(t *testing.T) {
	f := view("", map[string]*string{"year": strPtr("2023")})
	assert.True(t, mayMatch(&Comparison{Column: "year", Op: OpEq, Value: chunk.IntegerValue(2023)}, f))
	assert.False(t, mayMatch(&Comparison{Column: "year", Op: OpEq, Value: chunk.IntegerValue(2024)}, f))
	assert.True(t, mayMatch(&In{Column: "year", Values: []chunk.Value{chunk.IntegerValue(2022), chunk.IntegerValue(2023)}}, f))
	assert.False(t, mayMatch(&IsNull{Column: "year"}, f))

	null := view("", map[string]*string{"year": nil})
	assert.False(t, mayMatch(&Comparison{Column: "year", Op: OpEq, Value: chunk.IntegerValue(2023)}, null))
	assert.True(t, mayMatch(&IsNull{Column: "year"}, null))
	assert.False(t, mayMatch(&IsNotNull{Column: "year"}, null))
}

func TestNullCounts(t *testing.T) {
	f := view(idStats, nil)
	assert.False(t, mayMatch(&IsNull{Column: "id"}, f))
	assert.True(t, mayMatch(&IsNull{Column: "name"}, f))

	allNull := view(`{"numRecords":3,"nullCount":{"name":3}}`, nil)
	assert.False(t, mayMatch(&IsNotNull{Column: "name"}, allNull))
}

func TestConnectives(t *testing.T) {
	f := view(idStats, map[string]*string{"year": strPtr("2023")})
	excluded := &Comparison{Column: "id", Op: OpGt, Value: chunk.BigIntValue(100)}
	unknown := &Comparison{Column: "id", Op: OpEq, Value: chunk.BigIntValue(15)}
	proven := &Comparison{Column: "year", Op: OpEq, Value: chunk.IntegerValue(2023)}

	assert.False(t, mayMatch(&And{Children: []Predicate{unknown, excluded}}, f))
	assert.True(t, mayMatch(&And{Children: []Predicate{unknown, proven}}, f))
	assert.True(t, mayMatch(&Or{Children: []Predicate{excluded, unknown}}, f))
	assert.False(t, mayMatch(&Or{Children: []Predicate{excluded, excluded}}, f))
	assert.True(t, mayMatch(nil, f))
}

func TestPredicateString(t *testing.T) {
	pred := &And{Children: []Predicate{
		&Comparison{Column: "name", Op: OpEq, Value: chunk.VarcharValue("o'k")},
		&Or{Children: []Predicate{&IsNull{Column: "id"}, &In{Column: "id", Values: []chunk.Value{chunk.BigIntValue(1), chunk.BigIntValue(2)}}}},
	}}
	assert.Equal(t, "name = 'o''k' AND (id IS NULL OR id IN (1, 2))", pred.String())
}
