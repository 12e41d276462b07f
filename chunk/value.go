package chunk

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// Value is a tagged scalar. Integers, dates (days since epoch) and
// timestamps (microseconds since epoch) share the signed slot.
type Value struct {
	typ  Type
	null bool
	i    int64
	u    uint64
	f    float64
	s    string
	b    []byte
}

func NullValue(t Type) Value            { return Value{typ: t, null: true} }
func BooleanValue(v bool) Value         { return Value{typ: Boolean, i: boolToInt(v)} }
func TinyIntValue(v int8) Value         { return Value{typ: TinyInt, i: int64(v)} }
func SmallIntValue(v int16) Value       { return Value{typ: SmallInt, i: int64(v)} }
func IntegerValue(v int32) Value        { return Value{typ: Integer, i: int64(v)} }
func BigIntValue(v int64) Value         { return Value{typ: BigInt, i: v} }
func UBigIntValue(v uint64) Value       { return Value{typ: UBigInt, u: v} }
func FloatValue(v float32) Value        { return Value{typ: Float, f: float64(v)} }
func DoubleValue(v float64) Value       { return Value{typ: Double, f: v} }
func VarcharValue(v string) Value       { return Value{typ: Varchar, s: v} }
func BlobValue(v []byte) Value          { return Value{typ: Blob, b: v} }
func DateValue(days int32) Value        { return Value{typ: Date, i: int64(days)} }
func TimestampValue(micros int64) Value { return Value{typ: Timestamp, i: micros} }

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func (v Value) Type() Type   { return v.typ }
func (v Value) IsNull() bool { return v.null }
func (v Value) Bool() bool   { return v.i != 0 }
func (v Value) Int64() int64 { return v.i }
func (v Value) Uint64() uint64 {
	if v.typ == UBigInt {
		return v.u
	}
	return uint64(v.i)
}
func (v Value) Float64() float64 { return v.f }
func (v Value) Str() string      { return v.s }
func (v Value) Bytes() []byte    { return v.b }

// Time returns DATE and TIMESTAMP values as UTC times.
func (v Value) Time() time.Time {
	switch v.typ {
	case Date:
		return epoch.AddDate(0, 0, int(v.i))
	case Timestamp:
		return time.UnixMicro(v.i).UTC()
	}
	return time.Time{}
}

// Interface returns the Go representation used by database/sql drivers.
func (v Value) Interface() any {
	if v.null {
		return nil
	}
	switch v.typ {
	case Boolean:
		return v.Bool()
	case TinyInt:
		return int8(v.i)
	case SmallInt:
		return int16(v.i)
	case Integer:
		return int32(v.i)
	case BigInt:
		return v.i
	case UBigInt:
		return v.u
	case Float:
		return float32(v.f)
	case Double:
		return v.f
	case Varchar:
		return v.s
	case Blob:
		return v.b
	case Date, Timestamp:
		return v.Time()
	}
	return nil
}

func (v Value) String() string {
	if v.null {
		return "NULL"
	}
	switch v.typ {
	case Boolean:
		return strconv.FormatBool(v.Bool())
	case TinyInt, SmallInt, Integer, BigInt:
		return strconv.FormatInt(v.i, 10)
	case UBigInt:
		return strconv.FormatUint(v.u, 10)
	case Float:
		return strconv.FormatFloat(v.f, 'g', -1, 32)
	case Double:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case Varchar:
		return v.s
	case Blob:
		return string(v.b)
	case Date:
		return v.Time().Format("2006-01-02")
	case Timestamp:
		return v.Time().Format("2006-01-02 15:04:05.999999")
	}
	return ""
}

// Equal compares type, nullness and payload.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ || v.null != o.null {
		return false
	}
	if v.null {
		return true
	}
	return v.i == o.i && v.u == o.u && v.f == o.f && v.s == o.s && bytes.Equal(v.b, o.b)
}

// Compare orders two non-null values of the same type family. The boolean
// result is false when the values are not comparable.
func (v Value) Compare(o Value) (int, bool) {
	if v.null || o.null {
		return 0, false
	}
	switch {
	case v.typ == o.typ && (v.typ.IsInteger() || v.typ == Boolean || v.typ == Date || v.typ == Timestamp):
		return cmpOrdered(v.i, o.i), true
	case v.typ == UBigInt && o.typ == UBigInt:
		return cmpOrdered(v.u, o.u), true
	case v.typ.IsNumeric() && o.typ.IsNumeric():
		return cmpOrdered(v.asFloat(), o.asFloat()), true
	case v.typ == Varchar && o.typ == Varchar:
		return strings.Compare(v.s, o.s), true
	case v.typ == Blob && o.typ == Blob:
		return bytes.Compare(v.b, o.b), true
	}
	return 0, false
}

func cmpOrdered[T int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (v Value) asFloat() float64 {
	switch {
	case v.typ == UBigInt:
		return float64(v.u)
	case v.typ == Float || v.typ == Double:
		return v.f
	}
	return float64(v.i)
}

// CastAs converts v to t. Text sources are parsed the way partition values
// are written to the transaction log.
func (v Value) CastAs(t Type) (Value, error) {
	if v.typ == t {
		return v, nil
	}
	if v.null {
		return NullValue(t), nil
	}
	switch {
	case v.typ == Varchar:
		return ParseValue(v.s, t)
	case t == Varchar:
		return VarcharValue(v.String()), nil
	case t == Blob:
		return BlobValue([]byte(v.String())), nil
	case v.typ.IsNumeric() && t.IsNumeric():
		return castNumeric(v, t)
	case v.typ == Date && t == Timestamp:
		return TimestampValue(v.i * 86_400_000_000), nil
	case v.typ == Timestamp && t == Date:
		return DateValue(int32(math.Floor(float64(v.i) / 86_400_000_000))), nil
	case v.typ == Boolean && t.IsInteger():
		return castNumeric(BigIntValue(v.i), t)
	}
	return Value{}, fmt.Errorf("cannot cast %s to %s", v.typ, t)
}

func castNumeric(v Value, t Type) (Value, error) {
	switch t {
	case Float:
		return FloatValue(float32(v.asFloat())), nil
	case Double:
		return DoubleValue(v.asFloat()), nil
	case UBigInt:
		if v.typ == Float || v.typ == Double {
			if v.f < 0 || v.f != math.Trunc(v.f) {
				return Value{}, fmt.Errorf("cannot cast %v to %s", v.f, t)
			}
			return UBigIntValue(uint64(v.f)), nil
		}
		if v.typ != UBigInt && v.i < 0 {
			return Value{}, fmt.Errorf("cannot cast %d to %s: out of range", v.i, t)
		}
		return UBigIntValue(v.Uint64()), nil
	}
	var n int64
	switch {
	case v.typ == UBigInt:
		if v.u > math.MaxInt64 {
			return Value{}, fmt.Errorf("cannot cast %d to %s: out of range", v.u, t)
		}
		n = int64(v.u)
	case v.typ == Float || v.typ == Double:
		if v.f != math.Trunc(v.f) {
			return Value{}, fmt.Errorf("cannot cast %v to %s: not an integer", v.f, t)
		}
		n = int64(v.f)
	default:
		n = v.i
	}
	return integerValue(n, t)
}

func integerValue(n int64, t Type) (Value, error) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	switch t {
	case TinyInt:
		lo, hi = math.MinInt8, math.MaxInt8
	case SmallInt:
		lo, hi = math.MinInt16, math.MaxInt16
	case Integer:
		lo, hi = math.MinInt32, math.MaxInt32
	}
	if n < lo || n > hi {
		return Value{}, fmt.Errorf("cannot cast %d to %s: out of range", n, t)
	}
	return Value{typ: t, i: n}, nil
}

// ParseValue parses the text form of a value of type t.
func ParseValue(s string, t Type) (Value, error) {
	switch t {
	case Varchar:
		return VarcharValue(s), nil
	case Blob:
		return BlobValue([]byte(s)), nil
	case Boolean:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return Value{}, fmt.Errorf("parsing %q as %s: %w", s, t, err)
		}
		return BooleanValue(b), nil
	case TinyInt, SmallInt, Integer, BigInt:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing %q as %s: %w", s, t, err)
		}
		return integerValue(n, t)
	case UBigInt:
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing %q as %s: %w", s, t, err)
		}
		return UBigIntValue(n), nil
	case Float:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
		if err != nil {
			return Value{}, fmt.Errorf("parsing %q as %s: %w", s, t, err)
		}
		return FloatValue(float32(f)), nil
	case Double:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing %q as %s: %w", s, t, err)
		}
		return DoubleValue(f), nil
	case Date:
		d, err := time.Parse("2006-01-02", strings.TrimSpace(s))
		if err != nil {
			return Value{}, fmt.Errorf("parsing %q as %s: %w", s, t, err)
		}
		return DateValue(int32(d.Sub(epoch).Hours() / 24)), nil
	case Timestamp:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return TimestampValue(ts.UnixMicro()), nil
			}
		}
		return Value{}, fmt.Errorf("parsing %q as %s: unrecognised timestamp", s, t)
	}
	return Value{}, fmt.Errorf("parsing %q: unsupported type %s", s, t)
}
