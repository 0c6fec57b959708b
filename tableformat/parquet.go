package tableformat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/vegasq/deltagate/reader"
)

// dataFile is an encoded parquet file with its stats.
type dataFile struct {
	data  []byte
	stats FileStats
}

// parquetNode maps a column type onto an optional parquet leaf.
func parquetNode(t string) (parquet.Node, error) {
	var node parquet.Node
	switch t {
	case TypeLong:
		node = parquet.Int(64)
	case TypeInteger, TypeShort, TypeByte:
		node = parquet.Int(32)
	case TypeDouble:
		node = parquet.Leaf(parquet.DoubleType)
	case TypeFloat:
		node = parquet.Leaf(parquet.FloatType)
	case TypeString:
		node = parquet.String()
	case TypeBoolean:
		node = parquet.Leaf(parquet.BooleanType)
	case TypeDate:
		node = parquet.Date()
	case TypeTimestamp:
		node = parquet.Timestamp(parquet.Microsecond)
	default:
		return nil, fmt.Errorf("unsupported column type %q", t)
	}
	return parquet.Optional(node), nil
}

// parquetValue converts an in-memory value of type t to a parquet value.
func parquetValue(v interface{}, t string) (parquet.Value, error) {
	if v == nil {
		return parquet.NullValue(), nil
	}
	switch t {
	case TypeInteger, TypeShort, TypeByte:
		n, err := toInt64(v)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.ValueOf(int32(n)), nil
	case TypeFloat:
		f, err := toFloat64(v)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.ValueOf(float32(f)), nil
	case TypeDate:
		s, ok := v.(string)
		if !ok {
			return parquet.Value{}, fmt.Errorf("expected date string, got %T", v)
		}
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.ValueOf(int32(d.Unix() / 86400)), nil
	case TypeTimestamp:
		ts, ok := v.(time.Time)
		if !ok {
			return parquet.Value{}, fmt.Errorf("expected timestamp, got %T", v)
		}
		return parquet.ValueOf(ts.UnixMicro()), nil
	}
	return parquet.ValueOf(v), nil
}

// encodeParquet writes rows (in fields order) as one snappy-compressed file.
func encodeParquet(fields []Field, rows [][]interface{}) (*dataFile, error) {
	group := make(parquet.Group, len(fields))
	for _, f := range fields {
		node, err := parquetNode(f.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", f.Name, err)
		}
		group[f.Name] = node
	}
	schema := parquet.NewSchema("deltagate", group)

	// group columns are laid out in name order
	order := make([]int, len(fields))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return fields[order[a]].Name < fields[order[b]].Name })

	stats := newStatsBuilder(fields)
	out := make([]parquet.Row, 0, len(rows))
	for _, row := range rows {
		prow := make(parquet.Row, len(fields))
		for col, i := range order {
			if row[i] == nil {
				prow[col] = parquet.NullValue().Level(0, 0, col)
				continue
			}
			v, err := parquetValue(row[i], fields[i].Type)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", fields[i].Name, err)
			}
			prow[col] = v.Level(0, 1, col)
		}
		stats.add(row)
		out = append(out, prow)
	}

	var buf bytes.Buffer
	w := parquet.NewWriter(&buf, schema, parquet.Compression(&parquet.Snappy))
	if _, err := w.WriteRows(out); err != nil {
		return nil, fmt.Errorf("write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}
	return &dataFile{data: buf.Bytes(), stats: stats.build()}, nil
}

// decodeParquet reads a data file and maps it onto fields order. Columns
// absent from the file are null.
func decodeParquet(ctx context.Context, data []byte, fields []Field) ([][]interface{}, error) {
	r, err := reader.NewBytesReader(data)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	records, err := r.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([][]interface{}, len(records))
	for n, rec := range records {
		lower := make(map[string]interface{}, len(rec))
		for k, v := range rec {
			lower[strings.ToLower(k)] = v
		}
		row := make([]interface{}, len(fields))
		for i, f := range fields {
			v, ok := lower[strings.ToLower(f.Name)]
			if !ok || v == nil {
				continue
			}
			cv, err := coerce(v, f.Type)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", f.Name, err)
			}
			row[i] = cv
		}
		rows[n] = row
	}
	return rows, nil
}

type statsBuilder struct {
	fields []Field
	stats  FileStats
}

func newStatsBuilder(fields []Field) *statsBuilder {
	return &statsBuilder{
		fields: fields,
		stats: FileStats{
			MinValues: map[string]interface{}{},
			MaxValues: map[string]interface{}{},
			NullCount: map[string]int64{},
		},
	}
}

func (b *statsBuilder) add(row []interface{}) {
	b.stats.NumRecords++
	for i, f := range b.fields {
		v := row[i]
		if v == nil {
			b.stats.NullCount[f.Name]++
			continue
		}
		if f.Type == TypeBoolean {
			continue
		}
		if cur, ok := b.stats.MinValues[f.Name]; !ok || lessValue(v, cur) {
			b.stats.MinValues[f.Name] = v
		}
		if cur, ok := b.stats.MaxValues[f.Name]; !ok || lessValue(cur, v) {
			b.stats.MaxValues[f.Name] = v
		}
	}
}

func (b *statsBuilder) build() FileStats {
	for _, f := range b.fields {
		if _, ok := b.stats.NullCount[f.Name]; !ok {
			b.stats.NullCount[f.Name] = 0
		}
	}
	return b.stats
}

func lessValue(a, b interface{}) bool {
	switch x := a.(type) {
	case int64:
		y, ok := b.(int64)
		return ok && x < y
	case float64:
		y, ok := b.(float64)
		return ok && x < y
	case string:
		y, ok := b.(string)
		return ok && x < y
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Before(y)
	}
	return false
}

func (s FileStats) encode() string {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(data)
}
