package deltalog

import (
	"github.com/tidwall/gjson"

	"delta-mirror/chunk"
)

// truncatedStringLength is the prefix length writers keep for string
// statistics. A max of that length may have been cut and is not an upper
// bound.
const truncatedStringLength = 32

// fileStats is a lazily parsed view over the stats JSON of an add action.
type fileStats struct {
	numRecords *int64
	minValues  map[string]gjson.Result
	maxValues  map[string]gjson.Result
	nullCount  map[string]gjson.Result
}

func parseStats(raw string) *fileStats {
	if raw == "" || !gjson.Valid(raw) {
		return nil
	}
	doc := gjson.Parse(raw)
	st := &fileStats{
		minValues: doc.Get("minValues").Map(),
		maxValues: doc.Get("maxValues").Map(),
		nullCount: doc.Get("nullCount").Map(),
	}
	if n := doc.Get("numRecords"); n.Exists() && n.Type == gjson.Number {
		v := n.Int()
		st.numRecords = &v
	}
	return st
}

// NumRecords extracts the numRecords statistic. It is nil when the add
// carries no usable stats.
func NumRecords(raw string) *int64 {
	st := parseStats(raw)
	if st == nil {
		return nil
	}
	return st.numRecords
}

func (s *fileStats) min(column string, t chunk.Type) (chunk.Value, bool) {
	if s == nil {
		return chunk.Value{}, false
	}
	return statValue(s.minValues[column], t)
}

func (s *fileStats) max(column string, t chunk.Type) (chunk.Value, bool) {
	if s == nil {
		return chunk.Value{}, false
	}
	v, ok := statValue(s.maxValues[column], t)
	if !ok {
		return v, false
	}
	switch t {
	case chunk.Varchar:
		if len(v.Str()) >= truncatedStringLength {
			return chunk.Value{}, false
		}
	case chunk.Timestamp:
		// stats are written with millisecond precision
		v = chunk.TimestampValue(v.Int64() + 1000)
	}
	return v, true
}

func (s *fileStats) nulls(column string) (int64, bool) {
	if s == nil {
		return 0, false
	}
	r, ok := s.nullCount[column]
	if !ok || r.Type != gjson.Number {
		return 0, false
	}
	return r.Int(), true
}

func statValue(r gjson.Result, t chunk.Type) (chunk.Value, bool) {
	if !r.Exists() || r.Type == gjson.Null {
		return chunk.Value{}, false
	}
	switch t {
	case chunk.TinyInt, chunk.SmallInt, chunk.Integer, chunk.BigInt:
		if r.Type != gjson.Number {
			return chunk.Value{}, false
		}
		v, err := chunk.BigIntValue(r.Int()).CastAs(t)
		return v, err == nil
	case chunk.Float, chunk.Double:
		if r.Type != gjson.Number {
			return chunk.Value{}, false
		}
		return chunk.DoubleValue(r.Float()), true
	case chunk.Varchar:
		if r.Type != gjson.String {
			return chunk.Value{}, false
		}
		return chunk.VarcharValue(r.String()), true
	case chunk.Date, chunk.Timestamp:
		if r.Type != gjson.String {
			return chunk.Value{}, false
		}
		v, err := chunk.ParseValue(r.String(), t)
		return v, err == nil
	}
	return chunk.Value{}, false
}
