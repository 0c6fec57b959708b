package reader

import (
	"github.com/parquet-go/parquet-go"
)

// SchemaInfo describes one leaf column of a parquet file.
type SchemaInfo struct {
	Name         string `json:"name"`
	Type         string `json:"type"` // table-format type name, e.g. "long"
	PhysicalType string `json:"physical_type"`
	LogicalType  string `json:"logical_type,omitempty"`
	Nullable     bool   `json:"nullable"`
	Repeated     bool   `json:"repeated"`
}

// Schema returns the file's leaf columns in column-index order.
func (r *Reader) Schema() []SchemaInfo {
	infos := make([]SchemaInfo, len(r.leaves))
	for i, l := range r.leaves {
		info := SchemaInfo{
			Name:         l.name,
			Type:         tableType(l.node),
			PhysicalType: physicalType(l.node),
			Nullable:     l.node.Optional(),
			Repeated:     l.repeated,
		}
		if lt := l.node.Type().LogicalType(); lt != nil {
			info.LogicalType = lt.String()
		}
		infos[i] = info
	}
	return infos
}

// Columns returns the leaf column names in column-index order.
func (r *Reader) Columns() []string {
	names := make([]string, len(r.leaves))
	for i, l := range r.leaves {
		names[i] = l.name
	}
	return names
}

func physicalType(node parquet.Node) string {
	switch node.Type().Kind() {
	case parquet.Boolean:
		return "BOOLEAN"
	case parquet.Int32:
		return "INT32"
	case parquet.Int64:
		return "INT64"
	case parquet.Int96:
		return "INT96"
	case parquet.Float:
		return "FLOAT"
	case parquet.Double:
		return "DOUBLE"
	case parquet.ByteArray:
		return "BYTE_ARRAY"
	case parquet.FixedLenByteArray:
		return "FIXED_LEN_BYTE_ARRAY"
	}
	return "UNKNOWN"
}

// tableType maps a leaf onto the primitive type names used in table
// metadata schemas.
func tableType(node parquet.Node) string {
	lt := node.Type().LogicalType()
	switch {
	case lt == nil:
	case lt.Date != nil:
		return "date"
	case lt.Timestamp != nil:
		return "timestamp"
	case lt.Integer != nil:
		switch lt.Integer.BitWidth {
		case 8:
			return "byte"
		case 16:
			return "short"
		case 32:
			return "integer"
		}
		return "long"
	}
	switch node.Type().Kind() {
	case parquet.Boolean:
		return "boolean"
	case parquet.Int32:
		return "integer"
	case parquet.Int64:
		return "long"
	case parquet.Float:
		return "float"
	case parquet.Double:
		return "double"
	case parquet.ByteArray:
		if lt != nil && lt.UTF8 == nil && lt.Json == nil && lt.Enum == nil {
			return "binary"
		}
		return "string"
	}
	return "string"
}
