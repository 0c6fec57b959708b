package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vegasq/deltagate/query"
)

// Formatter writes a query result in one output format.
type Formatter interface {
	// Format writes res to the current output.
	Format(res *query.Result) error

	// SetOutput changes the output writer
	SetOutput(w io.Writer)
}

// Formats lists the names New accepts.
var Formats = []string{"jsonl", "json", "csv", "table"}

// New returns the formatter registered under name.
func New(name string, w io.Writer) (Formatter, error) {
	switch strings.ToLower(name) {
	case "jsonl", "":
		return NewJSONFormatter(w), nil
	case "json":
		return NewJSONArrayFormatter(w), nil
	case "csv":
		return NewCSVFormatter(w), nil
	case "table":
		return NewTableFormatter(w), nil
	}
	return nil, fmt.Errorf("unknown output format %q (expected one of %s)", name, strings.Join(Formats, ", "))
}

// Record is one result row that marshals to a JSON object with keys in
// column order.
type Record struct {
	Columns []string
	Values  []interface{}
}

// Records pairs each row of res with its column names.
func Records(res *query.Result) []Record {
	out := make([]Record, len(res.Rows))
	for i, row := range res.Rows {
		out[i] = Record{Columns: res.Columns, Values: row}
	}
	return out
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		var v interface{}
		if i < len(r.Values) {
			v = r.Values[i]
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
