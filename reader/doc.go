// Package reader decodes Apache Parquet data files into records.
//
// Files are opened from any io.ReaderAt, so the same code path serves
// local files and objects fetched from blob storage:
//
//	r, err := reader.NewBytesReader(data)
//	if err != nil {
//	    return err
//	}
//	records, err := r.ReadAll(ctx)
//
// Each record maps a column name to its value. Values are decoded by
// physical and logical type:
//
//   - BOOLEAN as bool
//   - INT32 and INT64 as int64, DATE as a "2006-01-02" string and
//     TIMESTAMP as time.Time in UTC
//   - FLOAT and DOUBLE as float64
//   - BYTE_ARRAY and FIXED_LEN_BYTE_ARRAY as string
//   - NULL as nil
//
// Nested group fields are flattened with dot notation ("address.city") and
// repeated fields are returned as []interface{}.
package reader
