package catalog

import (
	"fmt"
	"strings"

	"github.com/vegasq/deltagate/gatewayerr"
)

// TableName is a parsed catalog.schema.table identifier.
type TableName struct {
	Catalog string
	Schema  string
	Table   string
}

func (n TableName) String() string {
	return n.Catalog + "." + n.Schema + "." + n.Table
}

// Key is the case-folded form used for cache keys and bindings.
func (n TableName) Key() string {
	return strings.ToLower(n.String())
}

// ParseTableName parses a 3-part dotted name. Parts may be quoted with
// backticks; quoted parts may contain dots.
func ParseTableName(s string) (TableName, error) {
	parts, err := splitIdentifier(strings.TrimSpace(s))
	if err != nil {
		return TableName{}, &gatewayerr.InvalidRequestError{Reason: fmt.Sprintf("table name %q", s), Err: err}
	}
	if len(parts) != 3 {
		return TableName{}, gatewayerr.Invalid("table name %q must be catalog.schema.table", s)
	}
	return TableName{Catalog: parts[0], Schema: parts[1], Table: parts[2]}, nil
}

// NormalizeName returns the case-folded, unquoted form of a table name,
// or the trimmed input if it does not parse.
func NormalizeName(s string) string {
	parts, err := splitIdentifier(strings.TrimSpace(s))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return strings.ToLower(strings.Join(parts, "."))
}

func splitIdentifier(s string) ([]string, error) {
	var (
		parts  []string
		cur    strings.Builder
		quoted bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '`':
			quoted = !quoted
		case c == '.' && !quoted:
			if cur.Len() == 0 {
				return nil, fmt.Errorf("empty identifier part at offset %d", i)
			}
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quoted identifier")
	}
	if cur.Len() == 0 {
		return nil, fmt.Errorf("empty identifier part")
	}
	return append(parts, cur.String()), nil
}
