package tableformat

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// NullPartition is the directory value used for a NULL partition value.
const NullPartition = "__HIVE_DEFAULT_PARTITION__"

const hiveSpecial = "\"#%'*/:=?\\{[]^"

// escapePartitionValue percent-encodes characters that cannot appear in a
// partition directory name.
func escapePartitionValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c == 0x7f || strings.IndexByte(hiveSpecial, c) >= 0 {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// newDataPath returns a fresh storage path for a data file under the
// partition directories for values.
func newDataPath(partitionCols []string, values map[string]*string) string {
	var parts []string
	for _, col := range partitionCols {
		v := NullPartition
		if s := values[col]; s != nil {
			v = escapePartitionValue(*s)
		}
		parts = append(parts, col+"="+v)
	}
	parts = append(parts, fmt.Sprintf("part-00000-%s-c000.snappy.parquet", uuid.NewString()))
	return strings.Join(parts, "/")
}

// logPath converts a storage path to the URL-encoded form kept in the log.
func logPath(storagePath string) string {
	segments := strings.Split(storagePath, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// storagePath is the inverse of logPath.
func storagePath(logged string) string {
	p, err := url.PathUnescape(logged)
	if err != nil {
		return logged
	}
	return p
}
