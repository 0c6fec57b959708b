package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vegasq/deltagate/mutation"
	"github.com/vegasq/deltagate/reader"
	"github.com/vegasq/deltagate/tableformat"
)

var appendCmd = &cobra.Command{
	Use:   "append CATALOG.SCHEMA.TABLE",
	Short: "Append rows from a parquet, json or jsonl file to a table",
	Example: `  deltagate append main.sales.orders --file orders.parquet
  deltagate append main.sales.events --file events.jsonl --partition-by day
  cat rows.jsonl | deltagate append main.sales.events --file -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		partitionBy, _ := cmd.Flags().GetStringSlice("partition-by")
		mode, _ := cmd.Flags().GetString("mode")
		if file == "" {
			return fmt.Errorf("--file is required")
		}
		rows, err := readRows(cmd, file)
		if err != nil {
			return err
		}
		return applyMutation(cmd, mutation.Request{
			Kind:        mutation.Append,
			Table:       args[0],
			Rows:        rows,
			PartitionBy: partitionBy,
			Mode:        tableformat.SaveMode(mode),
		})
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact CATALOG.SCHEMA.TABLE",
	Short: "Bin-pack small files of a table",
	Example: `  deltagate compact main.sales.events
  deltagate compact main.sales.events --filter day=2024-01-01 --target-size 268435456`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetStringArray("filter")
		target, _ := cmd.Flags().GetInt64("target-size")
		filters := make([]tableformat.PartitionFilter, 0, len(raw))
		for _, r := range raw {
			f, err := parseFilter(r)
			if err != nil {
				return err
			}
			filters = append(filters, f)
		}
		return applyMutation(cmd, mutation.Request{
			Kind:             mutation.Compact,
			Table:            args[0],
			PartitionFilters: filters,
			TargetSize:       target,
		})
	},
}

var vacuumCmd = &cobra.Command{
	Use:   "vacuum CATALOG.SCHEMA.TABLE",
	Short: "Delete files no longer referenced by a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		enforce, _ := cmd.Flags().GetBool("enforce-retention")
		req := mutation.Request{
			Kind:             mutation.Vacuum,
			Table:            args[0],
			DryRun:           dryRun,
			EnforceRetention: enforce,
		}
		if cmd.Flags().Changed("retention-hours") {
			hours, _ := cmd.Flags().GetFloat64("retention-hours")
			req.RetentionHours = &hours
		}
		return applyMutation(cmd, req)
	},
}

func init() {
	appendCmd.Flags().String("file", "", "input file (.parquet, .json, .jsonl; - reads jsonl from stdin)")
	appendCmd.Flags().StringSlice("partition-by", nil, "partition columns when the table is created")
	appendCmd.Flags().String("mode", string(tableformat.ModeAppend), "save mode: append or overwrite")

	compactCmd.Flags().StringArray("filter", nil, "partition filter: col=v, col!=v, col=a,b (in) or col!=a,b (not in)")
	compactCmd.Flags().Int64("target-size", 0, "target file size in bytes (0 = configured default)")

	vacuumCmd.Flags().Float64("retention-hours", 0, "retention window in hours (default: table setting)")
	vacuumCmd.Flags().Bool("dry-run", false, "list files without deleting them")
	vacuumCmd.Flags().Bool("enforce-retention", true, "refuse a retention shorter than the configured minimum")
}

func applyMutation(cmd *cobra.Command, req mutation.Request) error {
	e, err := newEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.shutdown()

	res, err := e.gateway.ApplyMutation(cmd.Context(), req)
	if err != nil {
		if res != nil {
			return fmt.Errorf("%s %s stopped in state %s: %w", req.Kind, req.Table, res.State, err)
		}
		return err
	}
	return printJSON(cmd, res)
}

// parseFilter reads a partition filter written as col=v, col!=v or, with
// comma separated values, as IN and NOT IN.
func parseFilter(s string) (tableformat.PartitionFilter, error) {
	op := tableformat.OpEqual
	col, value, ok := strings.Cut(s, "!=")
	if ok {
		op = tableformat.OpNotEqual
	} else if col, value, ok = strings.Cut(s, "="); !ok {
		return tableformat.PartitionFilter{}, fmt.Errorf("invalid filter %q: expected col=value or col!=value", s)
	}
	col = strings.TrimSpace(col)
	if col == "" {
		return tableformat.PartitionFilter{}, fmt.Errorf("invalid filter %q: missing column", s)
	}
	values := strings.Split(value, ",")
	if len(values) > 1 {
		if op == tableformat.OpEqual {
			op = tableformat.OpIn
		} else {
			op = tableformat.OpNotIn
		}
	}
	return tableformat.PartitionFilter{Column: col, Op: op, Values: values}, nil
}

// readRows loads the rows of path, choosing the decoder by extension.
func readRows(cmd *cobra.Command, path string) ([]map[string]interface{}, error) {
	if path == "-" {
		return decodeJSONLines(cmd.InOrStdin())
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		r, err := reader.Open(path)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return r.ReadAll(cmd.Context())
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var rows []map[string]interface{}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&rows); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return rows, nil
	case ".jsonl", ".ndjson":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		rows, err := decodeJSONLines(f)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return rows, nil
	}
	return nil, fmt.Errorf("unsupported input file %s: expected .parquet, .json or .jsonl", path)
}

func decodeJSONLines(r io.Reader) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var row map[string]interface{}
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, sc.Err()
}
