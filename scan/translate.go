package scan

import (
	"delta-mirror/deltalog"
	"delta-mirror/scan/filter"
)

var pushableOps = map[filter.Op]deltalog.CmpOp{
	filter.Equal:              deltalog.OpEq,
	filter.LessThan:           deltalog.OpLt,
	filter.LessThanOrEqual:    deltalog.OpLe,
	filter.GreaterThan:        deltalog.OpGt,
	filter.GreaterThanOrEqual: deltalog.OpGe,
}

// TranslateFilters converts filters on the columns named by names into a
// pruning predicate. Filters that cannot be expressed are left out, so the
// predicate is never stricter than the filters. It returns nil when nothing
// can be pushed down.
func TranslateFilters(filters filter.Set, names []string) deltalog.Predicate {
	var children []deltalog.Predicate
	for _, col := range filters.Columns() {
		if col < 0 || col >= len(names) {
			continue
		}
		if p := translate(names[col], filters[col]); p != nil {
			children = append(children, p)
		}
	}
	return conjoin(children)
}

func conjoin(children []deltalog.Predicate) deltalog.Predicate {
	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	}
	return &deltalog.And{Children: children}
}

func translate(column string, f filter.Filter) deltalog.Predicate {
	switch f := f.(type) {
	case *filter.ConstantComparison:
		// != is left to the row filter: stats cannot rule it out safely.
		op, ok := pushableOps[f.Op]
		if !ok || f.Value.IsNull() {
			return nil
		}
		return &deltalog.Comparison{Column: column, Op: op, Value: f.Value}
	case *filter.In:
		in := &deltalog.In{Column: column}
		for _, v := range f.Values {
			if !v.IsNull() {
				in.Values = append(in.Values, v)
			}
		}
		if len(in.Values) == 0 {
			return nil
		}
		return in
	case *filter.IsNull:
		return &deltalog.IsNull{Column: column}
	case *filter.IsNotNull:
		return &deltalog.IsNotNull{Column: column}
	case *filter.And:
		var children []deltalog.Predicate
		for _, c := range f.Children {
			if p := translate(column, c); p != nil {
				children = append(children, p)
			}
		}
		return conjoin(children)
	case *filter.Or:
		// a dropped branch would make the disjunction stricter
		children := make([]deltalog.Predicate, 0, len(f.Children))
		for _, c := range f.Children {
			p := translate(column, c)
			if p == nil {
				return nil
			}
			children = append(children, p)
		}
		if len(children) == 0 {
			return nil
		}
		return &deltalog.Or{Children: children}
	}
	return nil
}
