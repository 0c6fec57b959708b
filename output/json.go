package output

import (
	"encoding/json"
	"io"

	"github.com/vegasq/deltagate/query"
)

// JSONFormatter outputs rows as JSON Lines format
type JSONFormatter struct {
	writer io.Writer
}

// NewJSONFormatter creates a new JSON Lines formatter
func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return &JSONFormatter{writer: w}
}

// SetOutput sets the output writer
func (j *JSONFormatter) SetOutput(w io.Writer) {
	j.writer = w
}

// Format writes rows as JSON Lines (one JSON object per line)
func (j *JSONFormatter) Format(res *query.Result) error {
	encoder := json.NewEncoder(j.writer)
	for _, rec := range Records(res) {
		if err := encoder.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// JSONArrayFormatter outputs all rows as one indented JSON array.
type JSONArrayFormatter struct {
	writer io.Writer
}

func NewJSONArrayFormatter(w io.Writer) *JSONArrayFormatter {
	return &JSONArrayFormatter{writer: w}
}

func (j *JSONArrayFormatter) SetOutput(w io.Writer) {
	j.writer = w
}

func (j *JSONArrayFormatter) Format(res *query.Result) error {
	encoder := json.NewEncoder(j.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(Records(res))
}
