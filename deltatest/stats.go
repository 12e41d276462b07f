package deltatest

import (
	"fmt"

	"delta-mirror/chunk"
)

type fileStats struct {
	NumRecords int64          `json:"numRecords"`
	MinValues  map[string]any `json:"minValues"`
	MaxValues  map[string]any `json:"maxValues"`
	NullCount  map[string]any `json:"nullCount"`
}

// stats computes the statistics writers attach to an add action.
func (t *Table) stats(rows [][]chunk.Value, dataCols []int) (string, error) {
	st := fileStats{
		NumRecords: int64(len(rows)),
		MinValues:  map[string]any{},
		MaxValues:  map[string]any{},
		NullCount:  map[string]any{},
	}
	for _, i := range dataCols {
		col := t.Schema.Columns[i]
		var (
			lo, hi chunk.Value
			nulls  int64
			seen   bool
		)
		for _, row := range rows {
			v := row[i]
			if v.IsNull() {
				nulls++
				continue
			}
			if !seen {
				lo, hi, seen = v, v, true
				continue
			}
			if c, ok := v.Compare(lo); ok && c < 0 {
				lo = v
			}
			if c, ok := v.Compare(hi); ok && c > 0 {
				hi = v
			}
		}
		st.NullCount[col.Name] = nulls
		if !seen {
			continue
		}
		if min, ok := statJSON(lo); ok {
			st.MinValues[col.Name] = min
		}
		if max, ok := statJSON(hi); ok {
			st.MaxValues[col.Name] = max
		}
	}

	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("encoding stats: %w", err)
	}
	return string(data), nil
}

func statJSON(v chunk.Value) (any, bool) {
	switch v.Type() {
	case chunk.TinyInt, chunk.SmallInt, chunk.Integer, chunk.BigInt:
		return v.Int64(), true
	case chunk.Float, chunk.Double:
		return v.Float64(), true
	case chunk.Varchar:
		return v.Str(), true
	case chunk.Date:
		return v.String(), true
	case chunk.Timestamp:
		return v.Time().Format("2006-01-02T15:04:05.000Z07:00"), true
	}
	return nil, false
}
