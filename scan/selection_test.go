package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"delta-mirror/chunk"
)

func rowIDs(ids ...int64) *chunk.Vector {
	v := chunk.NewVector(chunk.BigInt, len(ids))
	for _, id := range ids {
		v.Append(chunk.BigIntValue(id))
	}
	return v
}

func TestBuildSelection(t *testing.T) {
	dv := []bool{true, true, false, true, true, false}

	sel, n := BuildSelection(dv, rowIDs(0, 1, 2, 3, 4, 5), 6)
	assert.Equal(t, 4, n)
	assert.Equal(t, []int{0, 1, 3, 4}, sel)

	// chunks of a later row group start at a row id past zero
	sel, n = BuildSelection(dv, rowIDs(4, 5, 6, 7), 4)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{0, 2, 3}, sel, "ids past the vector are live")

	sel, n = BuildSelection(dv, rowIDs(2, 5), 2)
	assert.Zero(t, n)
	assert.Empty(t, sel)

	_, n = BuildSelection(dv, rowIDs(0, 1, 2), 2)
	assert.Equal(t, 2, n, "only count rows are considered")

	_, n = BuildSelection(nil, rowIDs(0, 1), 2)
	assert.Equal(t, 2, n)
}
