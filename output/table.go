package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/vegasq/deltagate/query"
)

// TableFormatter renders rows as an aligned text table.
type TableFormatter struct {
	writer io.Writer
}

func NewTableFormatter(w io.Writer) *TableFormatter {
	return &TableFormatter{writer: w}
}

func (t *TableFormatter) SetOutput(w io.Writer) {
	t.writer = w
}

// Format renders the header and rows. NULL cells print as NULL.
func (t *TableFormatter) Format(res *query.Result) error {
	table := tablewriter.NewWriter(t.writer)
	table.SetHeader(res.Columns)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i := range res.Columns {
			if i >= len(row) || row[i] == nil {
				cells[i] = "NULL"
				continue
			}
			if s, ok := row[i].(string); ok {
				cells[i] = s
				continue
			}
			cells[i] = formatValue(row[i])
		}
		table.Append(cells)
	}
	table.Render()
	return nil
}
