package query

import (
	"context"
	"fmt"
	"strings"
)

// Bindings maps table names, as written in queries, to tables. Lookup
// ignores case and backtick quoting.
type Bindings map[string]Table

// Lookup finds the table bound to name.
func (b Bindings) Lookup(name string) (Table, bool) {
	if t, ok := b[name]; ok {
		return t, true
	}
	key := normalizeName(name)
	for k, t := range b {
		if normalizeName(k) == key {
			return t, true
		}
	}
	return nil, false
}

// MemTable is a Table over rows held in memory.
type MemTable struct {
	Name    string
	Columns []string
	Rows    [][]interface{}
}

// NewMemTable builds a MemTable from records, ordering columns as given.
func NewMemTable(name string, columns []string, records []map[string]interface{}) *MemTable {
	rows := make([][]interface{}, len(records))
	for i, rec := range records {
		row := make([]interface{}, len(columns))
		for j, col := range columns {
			row[j] = rec[col]
		}
		rows[i] = row
	}
	return &MemTable{Name: name, Columns: columns, Rows: rows}
}

func (t *MemTable) Read(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{Columns: t.Columns, Rows: t.Rows}, nil
}

func (t *MemTable) Describe() string {
	return fmt.Sprintf("LocalScan %s [%s] rows=%d", t.Name, strings.Join(t.Columns, ", "), len(t.Rows))
}

// TableRefs returns the distinct table names a statement reads, in order of
// first appearance. Names defined by WITH are not included.
func TableRefs(sql string) ([]string, error) {
	stmt, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	var refs []string
	seen := make(map[string]bool)
	collectTableRefs(stmt, nil, seen, &refs)
	return refs, nil
}

func collectTableRefs(stmt *Select, scope map[string]bool, seen map[string]bool, refs *[]string) {
	local := make(map[string]bool, len(scope)+len(stmt.With))
	for k := range scope {
		local[k] = true
	}
	for _, cte := range stmt.With {
		collectTableRefs(cte.Query, local, seen, refs)
		local[normalizeName(cte.Name)] = true
	}

	visit := func(ref *TableRef) {
		if ref.Subquery != nil {
			collectTableRefs(ref.Subquery, local, seen, refs)
			return
		}
		key := normalizeName(ref.Name)
		if local[key] || seen[key] {
			return
		}
		seen[key] = true
		*refs = append(*refs, ref.Name)
	}
	if stmt.From != nil {
		visit(stmt.From)
	}
	for i := range stmt.Joins {
		visit(&stmt.Joins[i].Table)
	}
	for _, sub := range expressionSubqueries(stmt) {
		collectTableRefs(sub, local, seen, refs)
	}
}

// joinDotted joins identifier parts with dots, quoting parts that would
// not survive a split.
func joinDotted(parts []string) string {
	quoted := make([]string, len(parts))
	for i, part := range parts {
		if strings.ContainsAny(part, ".`") {
			quoted[i] = "`" + strings.ReplaceAll(part, "`", "``") + "`"
		} else {
			quoted[i] = part
		}
	}
	return strings.Join(quoted, ".")
}

// splitDotted is the inverse of joinDotted.
func splitDotted(name string) []string {
	var parts []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '`' && inQuote && i+1 < len(name) && name[i+1] == '`':
			cur.WriteByte('`')
			i++
		case c == '`':
			inQuote = !inQuote
		case c == '.' && !inQuote:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(parts, cur.String())
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(splitDotted(name), "."))
}
