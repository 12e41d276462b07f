package deltalog

import (
	"fmt"
	"strings"

	"delta-mirror/chunk"
	"delta-mirror/schema"
)

// Predicate is a pruning expression over column names. Files for which it
// is provably false are skipped during a scan; anything unprovable is kept.
type Predicate interface {
	fmt.Stringer
	eval(f *fileView) tri
}

type tri int8

const (
	triFalse tri = iota - 1
	triUnknown
	triTrue
)

func (t tri) not() tri { return -t }

type CmpOp int

const (
	OpEq CmpOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func (op CmpOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	}
	return "?"
}

func (op CmpOp) holds(c int) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// Comparison is column <op> literal.
type Comparison struct {
	Column string
	Op     CmpOp
	Value  chunk.Value
}

type In struct {
	Column string
	Values []chunk.Value
}

type IsNull struct{ Column string }

type IsNotNull struct{ Column string }

type And struct{ Children []Predicate }

type Or struct{ Children []Predicate }

func (p *Comparison) String() string {
	return fmt.Sprintf("%s %s %s", p.Column, p.Op, literal(p.Value))
}

func (p *In) String() string {
	vals := make([]string, len(p.Values))
	for i, v := range p.Values {
		vals[i] = literal(v)
	}
	return fmt.Sprintf("%s IN (%s)", p.Column, strings.Join(vals, ", "))
}

func (p *IsNull) String() string    { return p.Column + " IS NULL" }
func (p *IsNotNull) String() string { return p.Column + " IS NOT NULL" }
func (p *And) String() string       { return join(p.Children, " AND ") }
func (p *Or) String() string        { return join(p.Children, " OR ") }

func join(children []Predicate, sep string) string {
	parts := make([]string, len(children))
	for i, c := range children {
		s := c.String()
		switch c.(type) {
		case *And, *Or:
			s = "(" + s + ")"
		}
		parts[i] = s
	}
	return strings.Join(parts, sep)
}

func literal(v chunk.Value) string {
	if v.IsNull() {
		return "NULL"
	}
	switch v.Type() {
	case chunk.Varchar, chunk.Blob, chunk.Date, chunk.Timestamp:
		return "'" + strings.ReplaceAll(v.String(), "'", "''") + "'"
	}
	return v.String()
}

// fileView is what a predicate can learn about one data file.
type fileView struct {
	schema     *schema.TableSchema
	partitions map[string]bool
	add        *Add
	stats      *fileStats
}

// operand is a column as seen by the predicate: either an exact partition
// value or a min/max range.
type operand struct {
	typ       chunk.Type
	partition bool
	value     chunk.Value // partition value, may be NULL
	known     bool        // partition value parsed
}

func (f *fileView) column(name string) (operand, bool) {
	idx, ok := f.schema.Lookup(name)
	if !ok {
		return operand{}, false
	}
	col := f.schema.Columns[idx]
	op := operand{typ: col.Type}
	if !f.partitions[col.Name] {
		return op, true
	}
	op.partition = true
	raw, present := f.add.PartitionValues[col.Name]
	if !present || raw == nil {
		op.value, op.known = chunk.NullValue(col.Type), true
		return op, true
	}
	v, err := chunk.ParseValue(*raw, col.Type)
	if err == nil {
		op.value, op.known = v, true
	}
	return op, true
}

func compare(a, b chunk.Value) (int, bool) {
	if c, ok := a.Compare(b); ok {
		return c, true
	}
	cast, err := b.CastAs(a.Type())
	if err != nil {
		return 0, false
	}
	return a.Compare(cast)
}

func (p *Comparison) eval(f *fileView) tri {
	op, ok := f.column(p.Column)
	if !ok || p.Value.IsNull() {
		return triUnknown
	}
	if op.partition {
		if !op.known {
			return triUnknown
		}
		if op.value.IsNull() {
			return triFalse
		}
		c, ok := compare(op.value, p.Value)
		if !ok {
			return triUnknown
		}
		if p.Op.holds(c) {
			return triTrue
		}
		return triFalse
	}

	if p.Op == OpNe {
		return triUnknown
	}
	lo, hasLo := f.stats.min(p.Column, op.typ)
	hi, hasHi := f.stats.max(p.Column, op.typ)
	excluded := false
	switch p.Op {
	case OpEq:
		if hasLo {
			if c, ok := compare(lo, p.Value); ok && c > 0 {
				excluded = true
			}
		}
		if hasHi {
			if c, ok := compare(hi, p.Value); ok && c < 0 {
				excluded = true
			}
		}
	case OpLt, OpLe:
		if hasLo {
			if c, ok := compare(lo, p.Value); ok && !p.Op.holds(c) {
				excluded = true
			}
		}
	case OpGt, OpGe:
		if hasHi {
			if c, ok := compare(hi, p.Value); ok && !p.Op.holds(c) {
				excluded = true
			}
		}
	}
	if excluded {
		return triFalse
	}
	return triUnknown
}

func (p *In) eval(f *fileView) tri {
	if len(p.Values) == 0 {
		return triFalse
	}
	result := triFalse
	for _, v := range p.Values {
		r := (&Comparison{Column: p.Column, Op: OpEq, Value: v}).eval(f)
		if r == triTrue {
			return triTrue
		}
		if r == triUnknown {
			result = triUnknown
		}
	}
	return result
}

func (p *IsNull) eval(f *fileView) tri {
	op, ok := f.column(p.Column)
	if !ok {
		return triUnknown
	}
	if op.partition {
		if !op.known {
			return triUnknown
		}
		if op.value.IsNull() {
			return triTrue
		}
		return triFalse
	}
	if n, ok := f.stats.nulls(p.Column); ok && n == 0 {
		return triFalse
	}
	return triUnknown
}

func (p *IsNotNull) eval(f *fileView) tri {
	op, ok := f.column(p.Column)
	if !ok {
		return triUnknown
	}
	if op.partition {
		return (&IsNull{Column: p.Column}).eval(f).not()
	}
	n, ok := f.stats.nulls(p.Column)
	if ok && f.stats.numRecords != nil && n == *f.stats.numRecords {
		return triFalse
	}
	return triUnknown
}

func (p *And) eval(f *fileView) tri {
	result := triTrue
	for _, c := range p.Children {
		switch c.eval(f) {
		case triFalse:
			return triFalse
		case triUnknown:
			result = triUnknown
		}
	}
	return result
}

func (p *Or) eval(f *fileView) tri {
	result := triFalse
	for _, c := range p.Children {
		switch c.eval(f) {
		case triTrue:
			return triTrue
		case triUnknown:
			result = triUnknown
		}
	}
	return result
}

// mayMatch reports whether a file can hold rows satisfying pred.
func mayMatch(pred Predicate, f *fileView) bool {
	if pred == nil {
		return true
	}
	return pred.eval(f) != triFalse
}
