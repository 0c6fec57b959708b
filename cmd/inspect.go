package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vegasq/deltagate/output"
	"github.com/vegasq/deltagate/query"
	"github.com/vegasq/deltagate/reader"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Print the rows or schema of a parquet data file",
	Long: `Reads a single parquet file directly, without going through the catalog.
Useful to look at the data files a table's log references. FILE may be a
glob pattern; with --schema the first match is described.`,
	Example: `  deltagate inspect part-00000.parquet
  deltagate inspect --schema -f table 'warehouse/main/sales/orders/*.parquet'`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	f := inspectCmd.Flags()
	f.StringP("format", "f", "jsonl", "output format: "+strings.Join(output.Formats, ", "))
	f.Int("limit", 0, "limit number of rows (0 = unlimited)")
	f.Bool("schema", false, "show schema information instead of data")
}

func runInspect(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	limit, _ := cmd.Flags().GetInt("limit")
	schema, _ := cmd.Flags().GetBool("schema")
	if limit < 0 {
		return fmt.Errorf("--limit must be non-negative, got %d", limit)
	}
	formatter, err := output.New(format, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	files, err := expandFiles(args[0])
	if err != nil {
		return err
	}
	if schema {
		if len(files) > 1 {
			fmt.Fprintf(cmd.ErrOrStderr(), "# Showing schema from: %s (%d files matched)\n", files[0], len(files))
		}
		return inspectSchema(formatter, files[0])
	}

	var res *query.Result
	for _, path := range files {
		r, err := reader.Open(path)
		if err != nil {
			return err
		}
		rows, err := r.ReadAll(cmd.Context())
		cols := r.Columns()
		r.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if res == nil {
			res = &query.Result{Columns: cols}
		}
		for _, row := range rows {
			vals := make([]interface{}, len(res.Columns))
			for i, c := range res.Columns {
				vals[i] = row[c]
			}
			res.Rows = append(res.Rows, vals)
		}
		if limit > 0 && len(res.Rows) >= limit {
			res.Rows = res.Rows[:limit]
			break
		}
	}
	return formatter.Format(res)
}

func inspectSchema(formatter output.Formatter, path string) error {
	r, err := reader.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	res := &query.Result{Columns: []string{"name", "type", "physical_type", "logical_type", "nullable", "repeated"}}
	for _, s := range r.Schema() {
		res.Rows = append(res.Rows, []interface{}{s.Name, s.Type, s.PhysicalType, s.LogicalType, s.Nullable, s.Repeated})
	}
	return formatter.Format(res)
}

// expandFiles resolves a glob pattern to the files it matches in lexical
// order. A plain path is returned as is once it is known to exist.
func expandFiles(pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, "*?[") {
		if _, err := os.Stat(pattern); err != nil {
			return nil, err
		}
		return []string{pattern}, nil
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no files match pattern: %s", pattern)
	}
	return matches, nil
}
