// Package output renders query results for the command line.
//
// Every formatter honours the result's column order.
//
// # Supported Formats
//
//   - jsonl: one JSON object per row, keys in column order
//   - json: a single JSON array of those objects
//   - csv: a header row followed by one line per row
//   - table: an aligned text table
//
// # Basic Usage
//
//	formatter, err := output.New("table", os.Stdout)
//	if err != nil {
//	    return err
//	}
//	if err := formatter.Format(result); err != nil {
//	    return err
//	}
//
// Records can also be serialized on their own; Record marshals to a JSON
// object whose keys keep the column order, which the HTTP API relies on.
package output
