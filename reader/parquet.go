package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"
)

// readBatch is the number of rows pulled from a row group per call.
const readBatch = 512

// Reader reads a single parquet file.
type Reader struct {
	file   *parquet.File
	leaves []leaf
	closer io.Closer
}

// leaf is a flattened leaf column, indexed by its parquet column index.
type leaf struct {
	name     string
	node     parquet.Node
	repeated bool
}

// NewReader opens a parquet file of the given size.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	f, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	rd := &Reader{file: f}
	for _, field := range f.Schema().Fields() {
		rd.leaves = collectLeaves(rd.leaves, field, "", false)
	}
	return rd, nil
}

// NewBytesReader opens a parquet file held in memory.
func NewBytesReader(data []byte) (*Reader, error) {
	return NewReader(bytes.NewReader(data), int64(len(data)))
}

// Open opens a parquet file on the local filesystem.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	r, err := NewReader(file, stat.Size())
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// collectLeaves walks fields depth first, which matches the order parquet
// assigns column indexes in.
func collectLeaves(leaves []leaf, field parquet.Field, prefix string, repeated bool) []leaf {
	name := field.Name()
	if prefix != "" {
		name = prefix + "." + name
	}
	repeated = repeated || field.Repeated()
	if children := field.Fields(); len(children) > 0 {
		for _, child := range children {
			leaves = collectLeaves(leaves, child, name, repeated)
		}
		return leaves
	}
	return append(leaves, leaf{name: name, node: field, repeated: repeated})
}

// NumRows returns the row count recorded in the file footer.
func (r *Reader) NumRows() int64 {
	return r.file.NumRows()
}

// ReadAll decodes every row in the file.
func (r *Reader) ReadAll(ctx context.Context) ([]map[string]interface{}, error) {
	records := make([]map[string]interface{}, 0, r.file.NumRows())
	buf := make([]parquet.Row, readBatch)

	for _, rg := range r.file.RowGroups() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				rec, convErr := r.decodeRow(row)
				if convErr != nil {
					_ = rows.Close()
					return nil, convErr
				}
				records = append(records, rec)
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to read rows: %w", err)
			}
			if n == 0 {
				break
			}
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("failed to close row group: %w", err)
		}
	}
	return records, nil
}

func (r *Reader) decodeRow(row parquet.Row) (map[string]interface{}, error) {
	rec := make(map[string]interface{}, len(r.leaves))
	for _, l := range r.leaves {
		if l.repeated {
			rec[l.name] = []interface{}{}
		} else {
			rec[l.name] = nil
		}
	}
	for _, v := range row {
		idx := v.Column()
		if idx < 0 || idx >= len(r.leaves) {
			return nil, fmt.Errorf("value for unknown column index %d", idx)
		}
		l := r.leaves[idx]
		val := decodeValue(v, l.node)
		if l.repeated {
			if val != nil {
				rec[l.name] = append(rec[l.name].([]interface{}), val)
			}
			continue
		}
		rec[l.name] = val
	}
	return rec, nil
}

func decodeValue(v parquet.Value, node parquet.Node) interface{} {
	if v.IsNull() {
		return nil
	}
	logical := node.Type().LogicalType()
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		if logical != nil && logical.Date != nil {
			return time.Unix(int64(v.Int32())*86400, 0).UTC().Format("2006-01-02")
		}
		return int64(v.Int32())
	case parquet.Int64:
		if logical != nil && logical.Timestamp != nil {
			return timestampValue(v.Int64(), logical.Timestamp)
		}
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	case parquet.Int96:
		return fmt.Sprint(v.Int96())
	}
	return nil
}

func timestampValue(n int64, ts *format.TimestampType) time.Time {
	switch {
	case ts.Unit.Nanos != nil:
		return time.Unix(0, n).UTC()
	case ts.Unit.Millis != nil:
		return time.UnixMilli(n).UTC()
	}
	return time.UnixMicro(n).UTC()
}

// Close releases the underlying file if the reader opened it.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
