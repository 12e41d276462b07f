package scan

import "delta-mirror/chunk"

// BuildSelection selects the rows of a chunk that a deletion selection keeps.
// Row i is kept when its physical row id lies past the end of dv or dv marks
// it live. The result is dense and preserves row order.
func BuildSelection(dv []bool, rowIDs *chunk.Vector, count int) ([]int, int) {
	sel := make([]int, 0, count)
	for i := 0; i < count; i++ {
		id := rowIDs.Values[i].Int64()
		if id < 0 || id >= int64(len(dv)) || dv[id] {
			sel = append(sel, i)
		}
	}
	return sel, len(sel)
}
