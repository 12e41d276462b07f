package chunk

import (
	"fmt"
	"strings"
)

// DefaultSize is the number of rows a reader puts into one chunk.
const DefaultSize = 2048

type Vector struct {
	Type   Type
	Values []Value
}

func NewVector(t Type, capacity int) *Vector {
	return &Vector{Type: t, Values: make([]Value, 0, capacity)}
}

// NewConstantVector repeats v n times.
func NewConstantVector(v Value, n int) *Vector {
	vec := &Vector{Type: v.Type(), Values: make([]Value, n)}
	for i := range vec.Values {
		vec.Values[i] = v
	}
	return vec
}

func (v *Vector) Append(val Value) {
	v.Values = append(v.Values, val)
}

func (v *Vector) Len() int { return len(v.Values) }

// Chunk is a set of equally sized column vectors. A chunk without columns
// still counts its rows.
type Chunk struct {
	Data []*Vector
	rows int
}

// NewRowCount returns a chunk of n rows and no columns.
func NewRowCount(n int) *Chunk { return &Chunk{rows: n} }

func NewChunk(types []Type, capacity int) *Chunk {
	c := &Chunk{Data: make([]*Vector, len(types))}
	for i, t := range types {
		c.Data[i] = NewVector(t, capacity)
	}
	return c
}

func (c *Chunk) ColumnCount() int { return len(c.Data) }

func (c *Chunk) Size() int {
	if len(c.Data) == 0 {
		return c.rows
	}
	return c.Data[0].Len()
}

// Types returns the column types in order.
func (c *Chunk) Types() []Type {
	types := make([]Type, len(c.Data))
	for i, v := range c.Data {
		types[i] = v.Type
	}
	return types
}

// Slice keeps the first count positions of sel, in order, in every column.
func (c *Chunk) Slice(sel []int, count int) {
	c.rows = count
	for _, vec := range c.Data {
		sliced := make([]Value, count)
		for i := 0; i < count; i++ {
			sliced[i] = vec.Values[sel[i]]
		}
		vec.Values = sliced
	}
}

// Truncate drops every column from index n onwards. The row count survives
// dropping all columns.
func (c *Chunk) Truncate(n int) {
	if n < len(c.Data) {
		c.rows = c.Size()
		c.Data = c.Data[:n]
	}
}

// Row returns the values at position i across all columns.
func (c *Chunk) Row(i int) []Value {
	row := make([]Value, len(c.Data))
	for col, vec := range c.Data {
		row[col] = vec.Values[i]
	}
	return row
}

func (c *Chunk) Validate() error {
	size := c.Size()
	for i, vec := range c.Data {
		if vec.Len() != size {
			return fmt.Errorf("column %d has %d rows, expected %d", i, vec.Len(), size)
		}
	}
	return nil
}

// CaseInsensitiveMap keys values by column name ignoring case while
// remembering the first spelling of each key.
type CaseInsensitiveMap[V any] struct {
	entries map[string]ciEntry[V]
	order   []string
}

type ciEntry[V any] struct {
	key   string
	value V
}

func NewCaseInsensitiveMap[V any]() *CaseInsensitiveMap[V] {
	return &CaseInsensitiveMap[V]{entries: make(map[string]ciEntry[V])}
}

func (m *CaseInsensitiveMap[V]) Set(key string, value V) {
	folded := strings.ToLower(key)
	if existing, ok := m.entries[folded]; ok {
		m.entries[folded] = ciEntry[V]{key: existing.key, value: value}
		return
	}
	m.entries[folded] = ciEntry[V]{key: key, value: value}
	m.order = append(m.order, folded)
}

func (m *CaseInsensitiveMap[V]) Get(key string) (V, bool) {
	var zero V
	if m == nil {
		return zero, false
	}
	e, ok := m.entries[strings.ToLower(key)]
	if !ok {
		return zero, false
	}
	return e.value, true
}

func (m *CaseInsensitiveMap[V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Keys returns keys in insertion order using their original spelling.
func (m *CaseInsensitiveMap[V]) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m.order))
	for _, folded := range m.order {
		keys = append(keys, m.entries[folded].key)
	}
	return keys
}
