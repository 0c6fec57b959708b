package tableformat

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vegasq/deltagate/gatewayerr"
)

// Primitive type names used in schema strings.
const (
	TypeLong      = "long"
	TypeInteger   = "integer"
	TypeShort     = "short"
	TypeByte      = "byte"
	TypeDouble    = "double"
	TypeFloat     = "float"
	TypeString    = "string"
	TypeBoolean   = "boolean"
	TypeDate      = "date"
	TypeTimestamp = "timestamp"
)

// Field is one column of a table schema.
type Field struct {
	Name     string                 `json:"name"`
	Type     string                 `json:"type"`
	Nullable bool                   `json:"nullable"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Schema is a flat struct type.
type Schema struct {
	Type   string  `json:"type"`
	Fields []Field `json:"fields"`
}

// ParseSchema decodes a metaData schemaString.
func ParseSchema(s string) (Schema, error) {
	var schema Schema
	if err := json.Unmarshal([]byte(s), &schema); err != nil {
		return Schema{}, fmt.Errorf("parse schema: %w", err)
	}
	for _, f := range schema.Fields {
		if !supportedType(f.Type) {
			return Schema{}, fmt.Errorf("column %s: unsupported type %q", f.Name, f.Type)
		}
	}
	return schema, nil
}

func (s Schema) String() string {
	out := Schema{Type: s.Type, Fields: make([]Field, len(s.Fields))}
	if out.Type == "" {
		out.Type = "struct"
	}
	for i, f := range s.Fields {
		if f.Metadata == nil {
			f.Metadata = map[string]interface{}{}
		}
		out.Fields[i] = f
	}
	data, _ := json.Marshal(out)
	return string(data)
}

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field looks a column up case-insensitively.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

func supportedType(t string) bool {
	switch t {
	case TypeLong, TypeInteger, TypeShort, TypeByte, TypeDouble, TypeFloat,
		TypeString, TypeBoolean, TypeDate, TypeTimestamp:
		return true
	}
	return false
}

// inferSchema derives a schema from records. Columns are sorted by name.
// Integers and doubles in the same column widen to double; a column that
// is always null becomes a string.
func inferSchema(records []map[string]interface{}) (Schema, error) {
	types := make(map[string]string)
	for _, rec := range records {
		for name, v := range rec {
			if name == "" {
				return Schema{}, gatewayerr.Invalid("empty column name")
			}
			t := valueType(v)
			prev, seen := types[name]
			switch {
			case !seen || prev == "":
				types[name] = t
			case t == "" || t == prev:
			case (prev == TypeLong && t == TypeDouble) || (prev == TypeDouble && t == TypeLong):
				types[name] = TypeDouble
			default:
				return Schema{}, gatewayerr.Invalid("column %s mixes %s and %s values", name, prev, t)
			}
		}
	}
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	schema := Schema{Type: "struct"}
	for _, name := range names {
		t := types[name]
		if t == "" {
			t = TypeString
		}
		schema.Fields = append(schema.Fields, Field{Name: name, Type: t, Nullable: true, Metadata: map[string]interface{}{}})
	}
	return schema, nil
}

func valueType(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return TypeLong
	case float32, float64:
		return TypeDouble
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return TypeLong
		}
		return TypeDouble
	case time.Time:
		return TypeTimestamp
	}
	return TypeString
}

// coerce converts v to the in-memory representation of column type t.
func coerce(v interface{}, t string) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeLong, TypeInteger, TypeShort, TypeByte:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if lo, hi := intRange(t); n < lo || n > hi {
			return nil, fmt.Errorf("value %d out of range for %s", n, t)
		}
		return n, nil
	case TypeDouble, TypeFloat:
		return toFloat64(v)
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("expected boolean, got %T", v)
	case TypeDate:
		switch val := v.(type) {
		case time.Time:
			return val.UTC().Format("2006-01-02"), nil
		case string:
			if _, err := time.Parse("2006-01-02", val); err != nil {
				return nil, fmt.Errorf("invalid date %q", val)
			}
			return val, nil
		}
		return nil, fmt.Errorf("expected date, got %T", v)
	case TypeTimestamp:
		switch val := v.(type) {
		case time.Time:
			return val.UTC(), nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, val)
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp %q", val)
			}
			return ts.UTC(), nil
		}
		return nil, fmt.Errorf("expected timestamp, got %T", v)
	}
	return nil, fmt.Errorf("unsupported type %s", t)
}

func intRange(t string) (int64, int64) {
	switch t {
	case TypeInteger:
		return math.MinInt32, math.MaxInt32
	case TypeShort:
		return math.MinInt16, math.MaxInt16
	case TypeByte:
		return math.MinInt8, math.MaxInt8
	}
	return math.MinInt64, math.MaxInt64
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("value %v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	}
	if i, err := toInt64(v); err == nil {
		return float64(i), nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

// conform maps records onto schema order, coercing values. Columns missing
// from a record are null; columns unknown to the schema are rejected.
func conform(schema Schema, records []map[string]interface{}) ([][]interface{}, error) {
	index := make(map[string]int, len(schema.Fields))
	for i, f := range schema.Fields {
		index[strings.ToLower(f.Name)] = i
	}
	rows := make([][]interface{}, len(records))
	for r, rec := range records {
		row := make([]interface{}, len(schema.Fields))
		for name, v := range rec {
			i, ok := index[strings.ToLower(name)]
			if !ok {
				return nil, gatewayerr.Invalid("column %s is not in the table schema", name)
			}
			cv, err := coerce(v, schema.Fields[i].Type)
			if err != nil {
				return nil, &gatewayerr.InvalidRequestError{Reason: fmt.Sprintf("row %d column %s", r, name), Err: err}
			}
			row[i] = cv
		}
		for i, f := range schema.Fields {
			if row[i] == nil && !f.Nullable {
				return nil, gatewayerr.Invalid("row %d: column %s is not nullable", r, f.Name)
			}
		}
		rows[r] = row
	}
	return rows, nil
}

// partitionString renders a partition value. NULL has no string form.
func partitionString(v interface{}) *string {
	var s string
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		s = val
	case int64:
		s = strconv.FormatInt(val, 10)
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(val)
	case time.Time:
		s = val.UTC().Format("2006-01-02 15:04:05.999999")
	default:
		s = fmt.Sprint(val)
	}
	return &s
}

// parsePartitionValue is the inverse of partitionString for column type t.
func parsePartitionValue(s *string, t string) (interface{}, error) {
	if s == nil {
		return nil, nil
	}
	switch t {
	case TypeLong, TypeInteger, TypeShort, TypeByte:
		return strconv.ParseInt(*s, 10, 64)
	case TypeDouble, TypeFloat:
		return strconv.ParseFloat(*s, 64)
	case TypeBoolean:
		return strconv.ParseBool(*s)
	case TypeTimestamp:
		ts, err := time.Parse("2006-01-02 15:04:05.999999", *s)
		if err != nil {
			return nil, err
		}
		return ts.UTC(), nil
	}
	return *s, nil
}
