package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"delta-mirror/chunk"
)

func TestComparisonMatches(t *testing.T) {
	gt := &ConstantComparison{Op: GreaterThan, Value: chunk.BigIntValue(10)}
	assert.True(t, gt.Matches(chunk.IntegerValue(11)))
	assert.False(t, gt.Matches(chunk.IntegerValue(10)))
	assert.False(t, gt.Matches(chunk.NullValue(chunk.Integer)))

	eq := &ConstantComparison{Op: Equal, Value: chunk.VarcharValue("2023")}
	assert.True(t, eq.Matches(chunk.IntegerValue(2023)), "constant is cast to the column type")
}

func TestCompositeMatches(t *testing.T) {
	f := &Or{Children: []Filter{
		&IsNull{},
		&In{Values: []chunk.Value{chunk.VarcharValue("a"), chunk.VarcharValue("b")}},
	}}
	assert.True(t, f.Matches(chunk.NullValue(chunk.Varchar)))
	assert.True(t, f.Matches(chunk.VarcharValue("b")))
	assert.False(t, f.Matches(chunk.VarcharValue("c")))

	between := &And{Children: []Filter{
		&ConstantComparison{Op: GreaterThanOrEqual, Value: chunk.BigIntValue(1)},
		&ConstantComparison{Op: LessThan, Value: chunk.BigIntValue(5)},
	}}
	assert.True(t, between.Matches(chunk.BigIntValue(4)))
	assert.False(t, between.Matches(chunk.BigIntValue(5)))
}

func TestSet(t *testing.T) {
	s := Set{}
	s.Add(2, &ConstantComparison{Op: GreaterThan, Value: chunk.BigIntValue(1)})
	s.Add(0, &IsNotNull{})
	s.Add(2, &ConstantComparison{Op: LessThan, Value: chunk.BigIntValue(9)})

	assert.Equal(t, []int{0, 2}, s.Columns())
	assert.Equal(t, "id IS NOT NULL\nv>1 AND v<9", s.Summary([]string{"id", "name", "v"}))

	row := []chunk.Value{chunk.BigIntValue(1), chunk.VarcharValue("x"), chunk.BigIntValue(3)}
	assert.True(t, s.MatchesRow(row))
	row[2] = chunk.BigIntValue(9)
	assert.False(t, s.MatchesRow(row))
}

func TestParseOp(t *testing.T) {
	op, ok := ParseOp("<>")
	assert.True(t, ok)
	assert.Equal(t, NotEqual, op)
	_, ok = ParseOp("~")
	assert.False(t, ok)
}

func TestParseCondition(t *testing.T) {
	col, f, err := ParseCondition("year=2023")
	assert.NoError(t, err)
	assert.Equal(t, "year", col)
	assert.Equal(t, &ConstantComparison{Op: Equal, Value: chunk.VarcharValue("2023")}, f)

	col, f, err = ParseCondition(" id >= 10 ")
	assert.NoError(t, err)
	assert.Equal(t, "id", col)
	assert.Equal(t, "id>='10'", f.Format(col))
	assert.True(t, f.Matches(chunk.BigIntValue(10)))
	assert.False(t, f.Matches(chunk.BigIntValue(9)))

	_, f, err = ParseCondition("name = 'it''s here'")
	assert.NoError(t, err)
	assert.Equal(t, chunk.VarcharValue("it's here"), f.(*ConstantComparison).Value)

	_, f, err = ParseCondition("name is not null")
	assert.NoError(t, err)
	assert.IsType(t, &IsNotNull{}, f)
	_, f, err = ParseCondition("name IS NULL")
	assert.NoError(t, err)
	assert.IsType(t, &IsNull{}, f)

	_, _, err = ParseCondition("no operator")
	assert.Error(t, err)
}
