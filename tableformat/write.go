package tableformat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/vegasq/deltagate/gatewayerr"
	"github.com/vegasq/deltagate/metrics"
)

// SaveMode selects how Write treats existing data.
type SaveMode string

const (
	ModeAppend    SaveMode = "append"
	ModeOverwrite SaveMode = "overwrite"
)

// WriteOptions configures Write.
type WriteOptions struct {
	Mode        SaveMode
	PartitionBy []string
	// Configuration is stored in the table metadata when the table is
	// created.
	Configuration map[string]string
}

// WriteResult summarizes a Write commit.
type WriteResult struct {
	Version      int64 `json:"version"`
	FilesAdded   int   `json:"files_added"`
	FilesRemoved int   `json:"files_removed"`
	RowsWritten  int64 `json:"rows_written"`
}

// Write adds records as new data files. The first write creates the table
// with a schema inferred from records; later writes coerce records to the
// existing schema.
func (t *Table) Write(ctx context.Context, records []map[string]interface{}, opts WriteOptions) (*WriteResult, error) {
	if len(records) == 0 {
		return nil, gatewayerr.Invalid("no rows to write")
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeAppend
	}
	if mode != ModeAppend && mode != ModeOverwrite {
		return nil, gatewayerr.Invalid("unknown write mode %q", opts.Mode)
	}

	var (
		actions  []Action
		version  int64
		schema   Schema
		partCols []string
		removed  int
	)
	snap, err := t.Snapshot(ctx)
	switch {
	case errors.Is(err, ErrNotATable):
		schema, err = inferSchema(records)
		if err != nil {
			return nil, err
		}
		partCols, err = resolvePartitionColumns(schema, opts.PartitionBy)
		if err != nil {
			return nil, err
		}
		meta := t.newMetadata(schema, partCols, opts.Configuration)
		actions = append(actions,
			Action{Protocol: &Protocol{MinReaderVersion: 1, MinWriterVersion: 2}},
			Action{MetaData: &meta},
		)
	case err != nil:
		return nil, err
	default:
		schema = snap.Schema
		partCols = snap.PartitionColumns()
		if len(opts.PartitionBy) > 0 && !sameColumns(opts.PartitionBy, partCols) {
			return nil, gatewayerr.Invalid("partition columns [%s] do not match table partitioning [%s]",
				strings.Join(opts.PartitionBy, ", "), strings.Join(partCols, ", "))
		}
		version = snap.Version + 1
		if mode == ModeOverwrite {
			ts := t.now().UnixMilli()
			for _, f := range snap.Files() {
				actions = append(actions, Action{Remove: f.remove(ts, true)})
				removed++
			}
		}
	}

	rows, err := conform(schema, records)
	if err != nil {
		return nil, err
	}
	adds, err := t.writeFiles(ctx, schema, partCols, rows, true)
	if err != nil {
		return nil, err
	}
	for _, a := range adds {
		actions = append(actions, Action{Add: a})
	}

	operation := "WRITE"
	if version == 0 {
		operation = "CREATE TABLE AS SELECT"
	}
	blind := mode == ModeAppend
	info := CommitInfo{
		Operation: operation,
		OperationParameters: map[string]string{
			"mode":        string(mode),
			"partitionBy": quoteList(partCols),
		},
		OperationMetrics: map[string]string{
			"numFiles":        strconv.Itoa(len(adds)),
			"numOutputRows":   strconv.Itoa(len(rows)),
			"numRemovedFiles": strconv.Itoa(removed),
		},
		IsBlindAppend: &blind,
	}
	if err := t.commit(ctx, version, info, actions); err != nil {
		return nil, err
	}
	return &WriteResult{
		Version:      version,
		FilesAdded:   len(adds),
		FilesRemoved: removed,
		RowsWritten:  int64(len(rows)),
	}, nil
}

func (t *Table) newMetadata(schema Schema, partCols []string, conf map[string]string) Metadata {
	if conf == nil {
		conf = map[string]string{}
	}
	if partCols == nil {
		partCols = []string{}
	}
	return Metadata{
		ID:               uuid.NewString(),
		Format:           Format{Provider: "parquet", Options: map[string]string{}},
		SchemaString:     schema.String(),
		PartitionColumns: partCols,
		Configuration:    conf,
		CreatedTime:      t.now().UnixMilli(),
	}
}

// resolvePartitionColumns maps requested partition columns onto schema
// spelling.
func resolvePartitionColumns(schema Schema, cols []string) ([]string, error) {
	out := make([]string, 0, len(cols))
	seen := make(map[string]bool)
	for _, c := range cols {
		f, ok := schema.Field(c)
		if !ok {
			return nil, gatewayerr.Invalid("partition column %s is not in the data", c)
		}
		key := strings.ToLower(f.Name)
		if seen[key] {
			return nil, gatewayerr.Invalid("partition column %s listed twice", c)
		}
		seen[key] = true
		out = append(out, f.Name)
	}
	if len(out) == len(schema.Fields) && len(out) > 0 {
		return nil, gatewayerr.Invalid("cannot partition by every column")
	}
	return out, nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

func quoteList(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = strconv.Quote(c)
	}
	return "[" + strings.Join(q, ",") + "]"
}

// writeFiles groups rows by partition and writes one data file per
// partition. Rows are in schema order; partition columns are not stored in
// the files.
func (t *Table) writeFiles(ctx context.Context, schema Schema, partCols []string, rows [][]interface{}, dataChange bool) ([]*AddFile, error) {
	partIdx := make([]int, len(partCols))
	isPart := make(map[int]bool, len(partCols))
	for i, c := range partCols {
		for j, f := range schema.Fields {
			if strings.EqualFold(f.Name, c) {
				partIdx[i] = j
				isPart[j] = true
			}
		}
	}
	var dataFields []Field
	var dataIdx []int
	for j, f := range schema.Fields {
		if !isPart[j] {
			dataFields = append(dataFields, f)
			dataIdx = append(dataIdx, j)
		}
	}

	type partition struct {
		values map[string]*string
		rows   [][]interface{}
	}
	var (
		order  []string
		groups = make(map[string]*partition)
	)
	for _, row := range rows {
		values := make(map[string]*string, len(partCols))
		var key strings.Builder
		for i, c := range partCols {
			v := partitionString(row[partIdx[i]])
			values[c] = v
			if v == nil {
				key.WriteString("\x00null")
			} else {
				key.WriteString("\x00" + *v)
			}
			key.WriteByte('\x01')
		}
		k := key.String()
		g, ok := groups[k]
		if !ok {
			g = &partition{values: values}
			groups[k] = g
			order = append(order, k)
		}
		data := make([]interface{}, len(dataIdx))
		for i, j := range dataIdx {
			data[i] = row[j]
		}
		g.rows = append(g.rows, data)
	}

	adds := make([]*AddFile, 0, len(order))
	for _, k := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g := groups[k]
		file, err := encodeParquet(dataFields, g.rows)
		if err != nil {
			return nil, fmt.Errorf("encode data file: %w", err)
		}
		path := newDataPath(partCols, g.values)
		if err := t.store.Write(ctx, path, file.data); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		metrics.FilesWritten.Inc()
		metrics.BytesWritten.Add(float64(len(file.data)))
		t.logger.DebugContext(ctx, "wrote data file", "path", path, "rows", len(g.rows), "bytes", len(file.data))
		adds = append(adds, &AddFile{
			Path:             logPath(path),
			PartitionValues:  g.values,
			Size:             int64(len(file.data)),
			ModificationTime: t.now().UnixMilli(),
			DataChange:       dataChange,
			Stats:            file.stats.encode(),
		})
	}
	return adds, nil
}
