package chunk

import "fmt"

// Type is the logical type of a column as exposed to consumers of a scan.
type Type int

const (
	Invalid Type = iota
	Boolean
	TinyInt
	SmallInt
	Integer
	BigInt
	UBigInt
	Float
	Double
	Varchar
	Blob
	Date
	Timestamp
)

func (t Type) String() string {
	switch t {
	case Boolean:
		return "BOOLEAN"
	case TinyInt:
		return "TINYINT"
	case SmallInt:
		return "SMALLINT"
	case Integer:
		return "INTEGER"
	case BigInt:
		return "BIGINT"
	case UBigInt:
		return "UBIGINT"
	case Float:
		return "FLOAT"
	case Double:
		return "DOUBLE"
	case Varchar:
		return "VARCHAR"
	case Blob:
		return "BLOB"
	case Date:
		return "DATE"
	case Timestamp:
		return "TIMESTAMP"
	default:
		return fmt.Sprintf("INVALID(%d)", int(t))
	}
}

func (t Type) IsInteger() bool {
	switch t {
	case TinyInt, SmallInt, Integer, BigInt:
		return true
	}
	return false
}

func (t Type) IsNumeric() bool {
	return t.IsInteger() || t == UBigInt || t == Float || t == Double
}
