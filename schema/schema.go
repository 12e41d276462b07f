package schema

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"delta-mirror/chunk"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Column struct {
	Name     string
	Type     chunk.Type
	TypeName string
	Nullable bool
}

type TableSchema struct {
	Columns []Column
}

// structField is one entry of a Delta schemaString.
type structField struct {
	Name     string              `json:"name"`
	Type     jsoniter.RawMessage `json:"type"`
	Nullable bool                `json:"nullable"`
	Metadata map[string]any      `json:"metadata"`
}

type structType struct {
	Type   string        `json:"type"`
	Fields []structField `json:"fields"`
}

// ParseSchemaString decodes the schemaString of a metaData action.
func ParseSchemaString(schemaString string) (*TableSchema, error) {
	var st structType
	if err := json.Unmarshal([]byte(schemaString), &st); err != nil {
		return nil, fmt.Errorf("decoding schema string: %w", err)
	}
	if st.Type != "struct" {
		return nil, fmt.Errorf("schema root must be a struct, got %q", st.Type)
	}

	schema := &TableSchema{
		Columns: make([]Column, 0, len(st.Fields)),
	}
	for _, f := range st.Fields {
		var typeName string
		if err := json.Unmarshal(f.Type, &typeName); err != nil {
			return nil, fmt.Errorf("column %s: nested types are not supported", f.Name)
		}
		t, err := TypeFromDelta(typeName)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", f.Name, err)
		}
		schema.Columns = append(schema.Columns, Column{
			Name:     f.Name,
			Type:     t,
			TypeName: typeName,
			Nullable: f.Nullable,
		})
	}

	return schema, nil
}

// TypeFromDelta maps a primitive Delta type name to a chunk type.
func TypeFromDelta(name string) (chunk.Type, error) {
	switch name {
	case "boolean":
		return chunk.Boolean, nil
	case "byte":
		return chunk.TinyInt, nil
	case "short":
		return chunk.SmallInt, nil
	case "integer":
		return chunk.Integer, nil
	case "long":
		return chunk.BigInt, nil
	case "float":
		return chunk.Float, nil
	case "double":
		return chunk.Double, nil
	case "string":
		return chunk.Varchar, nil
	case "binary":
		return chunk.Blob, nil
	case "date":
		return chunk.Date, nil
	case "timestamp", "timestamp_ntz":
		return chunk.Timestamp, nil
	}
	if strings.HasPrefix(name, "decimal") {
		return chunk.Invalid, fmt.Errorf("unsupported type: %s", name)
	}
	return chunk.Invalid, fmt.Errorf("unknown type: %s", name)
}

// DeltaTypeName is the inverse of TypeFromDelta.
func DeltaTypeName(t chunk.Type) string {
	switch t {
	case chunk.Boolean:
		return "boolean"
	case chunk.TinyInt:
		return "byte"
	case chunk.SmallInt:
		return "short"
	case chunk.Integer:
		return "integer"
	case chunk.BigInt:
		return "long"
	case chunk.Float:
		return "float"
	case chunk.Double:
		return "double"
	case chunk.Varchar:
		return "string"
	case chunk.Blob:
		return "binary"
	case chunk.Date:
		return "date"
	case chunk.Timestamp:
		return "timestamp"
	}
	return ""
}

// SchemaString encodes the schema in the metaData format.
func (s *TableSchema) SchemaString() (string, error) {
	st := struct {
		Type   string           `json:"type"`
		Fields []map[string]any `json:"fields"`
	}{Type: "struct"}
	for _, col := range s.Columns {
		typeName := col.TypeName
		if typeName == "" {
			typeName = DeltaTypeName(col.Type)
		}
		st.Fields = append(st.Fields, map[string]any{
			"name":     col.Name,
			"type":     typeName,
			"nullable": col.Nullable,
			"metadata": map[string]any{},
		})
	}
	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("encoding schema string: %w", err)
	}
	return string(data), nil
}

func (s *TableSchema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

func (s *TableSchema) Types() []chunk.Type {
	types := make([]chunk.Type, len(s.Columns))
	for i, col := range s.Columns {
		types[i] = col.Type
	}
	return types
}

// Lookup finds a column by name, ignoring case.
func (s *TableSchema) Lookup(name string) (int, bool) {
	for i, col := range s.Columns {
		if strings.EqualFold(col.Name, name) {
			return i, true
		}
	}
	return -1, false
}
