package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateKeepsRowCount(t *testing.T) {
	c := NewChunk([]Type{BigInt, Varchar}, 3)
	for i := int64(0); i < 3; i++ {
		c.Data[0].Append(BigIntValue(i))
		c.Data[1].Append(VarcharValue("x"))
	}

	c.Truncate(1)
	assert.Equal(t, 1, c.ColumnCount())
	assert.Equal(t, 3, c.Size())

	c.Slice([]int{0, 2}, 2)
	c.Truncate(0)
	assert.Equal(t, 0, c.ColumnCount())
	assert.Equal(t, 2, c.Size())
	assert.NoError(t, c.Validate())

	c.Slice(nil, 0)
	assert.Equal(t, 0, c.Size())
}

func TestNewRowCount(t *testing.T) {
	c := NewRowCount(5)
	assert.Equal(t, 5, c.Size())
	assert.Empty(t, c.Row(4))
	c.Truncate(0)
	assert.Equal(t, 5, c.Size())
}
