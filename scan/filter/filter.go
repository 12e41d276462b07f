// Package filter holds residual column filters: per-column conditions a scan
// applies to rows and may push down to prune files.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"delta-mirror/chunk"
)

type Op int

const (
	Equal Op = iota
	NotEqual
	LessThan
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
)

func (op Op) String() string {
	switch op {
	case Equal:
		return "="
	case NotEqual:
		return "!="
	case LessThan:
		return "<"
	case LessThanOrEqual:
		return "<="
	case GreaterThan:
		return ">"
	case GreaterThanOrEqual:
		return ">="
	}
	return "?"
}

// ParseOp maps an operator token to an Op.
func ParseOp(token string) (Op, bool) {
	switch token {
	case "=", "==":
		return Equal, true
	case "!=", "<>":
		return NotEqual, true
	case "<":
		return LessThan, true
	case "<=":
		return LessThanOrEqual, true
	case ">":
		return GreaterThan, true
	case ">=":
		return GreaterThanOrEqual, true
	}
	return 0, false
}

// Filter is a condition on a single column.
type Filter interface {
	// Matches evaluates the filter against one value with SQL semantics:
	// comparisons involving NULL do not match.
	Matches(v chunk.Value) bool
	// Format renders the filter for the named column.
	Format(column string) string
}

type ConstantComparison struct {
	Op    Op
	Value chunk.Value
}

type In struct {
	Values []chunk.Value
}

type IsNull struct{}

type IsNotNull struct{}

type And struct {
	Children []Filter
}

type Or struct {
	Children []Filter
}

func compare(v, constant chunk.Value) (int, bool) {
	if c, ok := v.Compare(constant); ok {
		return c, true
	}
	cast, err := constant.CastAs(v.Type())
	if err != nil {
		return 0, false
	}
	return v.Compare(cast)
}

func (f *ConstantComparison) Matches(v chunk.Value) bool {
	if v.IsNull() || f.Value.IsNull() {
		return false
	}
	c, ok := compare(v, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case Equal:
		return c == 0
	case NotEqual:
		return c != 0
	case LessThan:
		return c < 0
	case LessThanOrEqual:
		return c <= 0
	case GreaterThan:
		return c > 0
	case GreaterThanOrEqual:
		return c >= 0
	}
	return false
}

func (f *In) Matches(v chunk.Value) bool {
	for _, candidate := range f.Values {
		if (&ConstantComparison{Op: Equal, Value: candidate}).Matches(v) {
			return true
		}
	}
	return false
}

func (f *IsNull) Matches(v chunk.Value) bool    { return v.IsNull() }
func (f *IsNotNull) Matches(v chunk.Value) bool { return !v.IsNull() }

func (f *And) Matches(v chunk.Value) bool {
	for _, c := range f.Children {
		if !c.Matches(v) {
			return false
		}
	}
	return true
}

func (f *Or) Matches(v chunk.Value) bool {
	for _, c := range f.Children {
		if c.Matches(v) {
			return true
		}
	}
	return false
}

func quote(v chunk.Value) string {
	if v.IsNull() {
		return "NULL"
	}
	switch v.Type() {
	case chunk.Varchar, chunk.Blob, chunk.Date, chunk.Timestamp:
		return "'" + strings.ReplaceAll(v.String(), "'", "''") + "'"
	}
	return v.String()
}

func (f *ConstantComparison) Format(column string) string {
	return fmt.Sprintf("%s%s%s", column, f.Op, quote(f.Value))
}

func (f *In) Format(column string) string {
	vals := make([]string, len(f.Values))
	for i, v := range f.Values {
		vals[i] = quote(v)
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(vals, ", "))
}

func (f *IsNull) Format(column string) string    { return column + " IS NULL" }
func (f *IsNotNull) Format(column string) string { return column + " IS NOT NULL" }

func (f *And) Format(column string) string { return formatChildren(f.Children, column, " AND ") }
func (f *Or) Format(column string) string  { return formatChildren(f.Children, column, " OR ") }

func formatChildren(children []Filter, column, sep string) string {
	parts := make([]string, len(children))
	for i, c := range children {
		s := c.Format(column)
		switch c.(type) {
		case *And, *Or:
			s = "(" + s + ")"
		}
		parts[i] = s
	}
	return strings.Join(parts, sep)
}

// Set maps column indexes of the bound schema to their filters.
type Set map[int]Filter

// Columns returns the filtered column indexes in ascending order.
func (s Set) Columns() []int {
	cols := make([]int, 0, len(s))
	for col := range s {
		cols = append(cols, col)
	}
	sort.Ints(cols)
	return cols
}

// Add conjoins f with any filter already set on column.
func (s Set) Add(column int, f Filter) {
	if existing, ok := s[column]; ok {
		if and, ok := existing.(*And); ok {
			and.Children = append(and.Children, f)
			return
		}
		s[column] = &And{Children: []Filter{existing, f}}
		return
	}
	s[column] = f
}

// Summary renders every filter in column order, one per line.
func (s Set) Summary(names []string) string {
	lines := make([]string, 0, len(s))
	for _, col := range s.Columns() {
		name := fmt.Sprintf("#%d", col)
		if col >= 0 && col < len(names) {
			name = names[col]
		}
		lines = append(lines, s[col].Format(name))
	}
	return strings.Join(lines, "\n")
}

// MatchesRow evaluates every filter against a row laid out like the bound
// schema. Columns outside the row are ignored.
func (s Set) MatchesRow(row []chunk.Value) bool {
	for col, f := range s {
		if col < len(row) && !f.Matches(row[col]) {
			return false
		}
	}
	return true
}
