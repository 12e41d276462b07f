package multifile

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"

	"delta-mirror/chunk"
	"delta-mirror/storage"
)

// ParquetOpener opens Parquet files through a storage resolver.
type ParquetOpener struct {
	Resolver *storage.Resolver
}

func (o *ParquetOpener) Open(ctx context.Context, path string) (FileReader, error) {
	f, err := o.Resolver.OpenFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	r, err := NewParquetReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return r, nil
}

// ParquetReader reads the top-level primitive columns of a Parquet file and
// numbers its rows.
type ParquetReader struct {
	file    storage.File
	reader  *parquet.Reader
	columns []Column
	// local position of every leaf column index, -1 for skipped leaves
	positions []int
	kinds     []columnKind
	buf       []parquet.Row
	rowNumber int64
}

type columnKind struct {
	typ         chunk.Type
	timeDivisor int64 // timestamp unit to microseconds: divide
	timeFactor  int64 // or multiply
}

func NewParquetReader(f storage.File) (*ParquetReader, error) {
	pf, err := parquet.OpenFile(f, f.Size())
	if err != nil {
		return nil, fmt.Errorf("opening parquet file: %w", err)
	}

	schema := pf.Schema()
	paths := schema.Columns()
	r := &ParquetReader{
		file:      f,
		reader:    parquet.NewReader(pf),
		positions: make([]int, len(paths)),
	}
	for i, path := range paths {
		r.positions[i] = -1
		if len(path) != 1 {
			continue
		}
		leaf, ok := schema.Lookup(path...)
		if !ok {
			continue
		}
		kind := kindOf(leaf.Node.Type())
		r.positions[leaf.ColumnIndex] = len(r.columns)
		r.columns = append(r.columns, Column{Name: path[0], Type: kind.typ})
		r.kinds = append(r.kinds, kind)
	}
	r.columns = append(r.columns, Column{Name: FileRowNumberColumn, Type: chunk.BigInt})
	return r, nil
}

// kindOf maps a physical type to a chunk type. Unsupported types map to
// chunk.Invalid and can only be read as NULL.
func kindOf(t parquet.Type) columnKind {
	lt := t.LogicalType()
	switch t.Kind() {
	case parquet.Boolean:
		return columnKind{typ: chunk.Boolean}
	case parquet.Int32:
		switch {
		case lt != nil && lt.Date != nil:
			return columnKind{typ: chunk.Date}
		case lt != nil && lt.Decimal != nil:
			return columnKind{typ: chunk.Invalid}
		case lt != nil && lt.Integer != nil && lt.Integer.BitWidth == 8:
			return columnKind{typ: chunk.TinyInt}
		case lt != nil && lt.Integer != nil && lt.Integer.BitWidth == 16:
			return columnKind{typ: chunk.SmallInt}
		}
		return columnKind{typ: chunk.Integer}
	case parquet.Int64:
		switch {
		case lt != nil && lt.Timestamp != nil:
			return timestampKind(lt.Timestamp.Unit)
		case lt != nil && lt.Decimal != nil:
			return columnKind{typ: chunk.Invalid}
		}
		return columnKind{typ: chunk.BigInt}
	case parquet.Float:
		return columnKind{typ: chunk.Float}
	case parquet.Double:
		return columnKind{typ: chunk.Double}
	case parquet.ByteArray:
		if lt != nil && (lt.UTF8 != nil || lt.Enum != nil || lt.Json != nil) {
			return columnKind{typ: chunk.Varchar}
		}
		if lt != nil && lt.Decimal != nil {
			return columnKind{typ: chunk.Invalid}
		}
		return columnKind{typ: chunk.Blob}
	}
	return columnKind{typ: chunk.Invalid}
}

func timestampKind(unit format.TimeUnit) columnKind {
	switch {
	case unit.Millis != nil:
		return columnKind{typ: chunk.Timestamp, timeFactor: 1000}
	case unit.Nanos != nil:
		return columnKind{typ: chunk.Timestamp, timeDivisor: 1000}
	}
	return columnKind{typ: chunk.Timestamp}
}

func (r *ParquetReader) Columns() []Column { return r.columns }

func (r *ParquetReader) Read(max int) (*chunk.Chunk, error) {
	if cap(r.buf) < max {
		r.buf = make([]parquet.Row, max)
	}
	rows := r.buf[:max]
	n, err := r.reader.ReadRows(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	if n == 0 {
		return nil, io.EOF
	}

	types := make([]chunk.Type, len(r.columns))
	for i, c := range r.columns {
		types[i] = c.Type
	}
	out := chunk.NewChunk(types, n)
	rowNumbers := out.Data[len(out.Data)-1]
	for _, row := range rows[:n] {
		for pos := range r.kinds {
			out.Data[pos].Append(chunk.NullValue(r.kinds[pos].typ))
		}
		for _, v := range row {
			col := v.Column()
			if col < 0 || col >= len(r.positions) || r.positions[col] < 0 {
				continue
			}
			pos := r.positions[col]
			out.Data[pos].Values[out.Data[pos].Len()-1] = fromParquetValue(v, r.kinds[pos])
		}
		rowNumbers.Append(chunk.BigIntValue(r.rowNumber))
		r.rowNumber++
	}
	return out, nil
}

func (r *ParquetReader) Close() error {
	err := r.reader.Close()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// fromParquetValue converts one leaf value.
func fromParquetValue(v parquet.Value, kind columnKind) chunk.Value {
	if v.IsNull() {
		return chunk.NullValue(kind.typ)
	}
	switch kind.typ {
	case chunk.Boolean:
		return chunk.BooleanValue(v.Boolean())
	case chunk.TinyInt:
		return chunk.TinyIntValue(int8(v.Int32()))
	case chunk.SmallInt:
		return chunk.SmallIntValue(int16(v.Int32()))
	case chunk.Integer:
		return chunk.IntegerValue(v.Int32())
	case chunk.BigInt:
		return chunk.BigIntValue(v.Int64())
	case chunk.Float:
		return chunk.FloatValue(v.Float())
	case chunk.Double:
		return chunk.DoubleValue(v.Double())
	case chunk.Varchar:
		return chunk.VarcharValue(string(v.ByteArray()))
	case chunk.Blob:
		return chunk.BlobValue(append([]byte(nil), v.ByteArray()...))
	case chunk.Date:
		return chunk.DateValue(v.Int32())
	case chunk.Timestamp:
		ts := v.Int64()
		switch {
		case kind.timeFactor > 0:
			ts *= kind.timeFactor
		case kind.timeDivisor > 0:
			ts /= kind.timeDivisor
		}
		return chunk.TimestampValue(ts)
	}
	return chunk.NullValue(kind.typ)
}

// ParquetNode is the optional leaf node writers use for a column of type t.
func ParquetNode(t chunk.Type) (parquet.Node, error) {
	var node parquet.Node
	switch t {
	case chunk.Boolean:
		node = parquet.Leaf(parquet.BooleanType)
	case chunk.TinyInt:
		node = parquet.Int(8)
	case chunk.SmallInt:
		node = parquet.Int(16)
	case chunk.Integer:
		node = parquet.Int(32)
	case chunk.BigInt:
		node = parquet.Int(64)
	case chunk.Float:
		node = parquet.Leaf(parquet.FloatType)
	case chunk.Double:
		node = parquet.Leaf(parquet.DoubleType)
	case chunk.Varchar:
		node = parquet.String()
	case chunk.Blob:
		node = parquet.Leaf(parquet.ByteArrayType)
	case chunk.Date:
		node = parquet.Date()
	case chunk.Timestamp:
		node = parquet.Timestamp(parquet.Microsecond)
	default:
		return nil, fmt.Errorf("unsupported type: %s", t)
	}
	return parquet.Optional(node), nil
}

// ToParquetValue is the inverse of the reader conversion for the nodes of
// ParquetNode. NULL maps to the null value, which a RowBuilder stores as a
// zero; leave the leaf unset instead to write NULL.
func ToParquetValue(v chunk.Value) parquet.Value {
	if v.IsNull() {
		return parquet.NullValue()
	}
	switch v.Type() {
	case chunk.Boolean:
		return parquet.BooleanValue(v.Bool())
	case chunk.TinyInt, chunk.SmallInt, chunk.Integer, chunk.Date:
		return parquet.Int32Value(int32(v.Int64()))
	case chunk.BigInt, chunk.Timestamp:
		return parquet.Int64Value(v.Int64())
	case chunk.Float:
		return parquet.FloatValue(float32(v.Float64()))
	case chunk.Double:
		return parquet.DoubleValue(v.Float64())
	case chunk.Varchar:
		return parquet.ByteArrayValue([]byte(v.Str()))
	case chunk.Blob:
		b := v.Bytes()
		if b == nil {
			b = []byte{}
		}
		return parquet.ByteArrayValue(b)
	}
	return parquet.NullValue()
}
