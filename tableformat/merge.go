package tableformat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vegasq/deltagate/gatewayerr"
	"github.com/vegasq/deltagate/query"
)

// Default merge aliases.
const (
	DefaultSourceAlias = "source"
	DefaultTargetAlias = "target"
)

// MergeOptions configures Merge. Exactly one of Updates and Delete is set.
type MergeOptions struct {
	Source []map[string]interface{}
	// Predicate joins target and source rows, e.g.
	// "target.id = source.id".
	Predicate   string
	SourceAlias string
	TargetAlias string
	// Updates maps target columns to expressions over both sides.
	Updates map[string]string
	Delete  bool
	// MatchedPredicate further restricts which matched rows are touched.
	MatchedPredicate string
}

// MergeMetrics summarizes a Merge.
type MergeMetrics struct {
	Version               int64 `json:"version"`
	NumSourceRows         int   `json:"num_source_rows"`
	NumTargetRowsUpdated  int64 `json:"num_target_rows_updated"`
	NumTargetRowsDeleted  int64 `json:"num_target_rows_deleted"`
	NumTargetRowsCopied   int64 `json:"num_target_rows_copied"`
	NumTargetFilesAdded   int   `json:"num_target_files_added"`
	NumTargetFilesRemoved int   `json:"num_target_files_removed"`
}

type compiledMerge struct {
	sourceAlias string
	targetAlias string
	predicate   query.Expr
	matched     query.Expr
	updates     map[int]query.Expr
	sourceCols  []string
	source      []map[string]interface{}
}

// Merge updates or deletes target rows matched by source rows. Unmatched
// target rows are untouched and unmatched source rows are ignored. Only
// files holding a matched row are rewritten; when nothing matches no
// version is committed.
func (t *Table) Merge(ctx context.Context, opts MergeOptions) (*MergeMetrics, error) {
	if len(opts.Source) == 0 {
		return nil, gatewayerr.Invalid("no source rows to merge")
	}
	snap, err := t.Snapshot(ctx)
	if errors.Is(err, ErrNotATable) {
		return nil, &gatewayerr.NotFoundError{Table: t.name, Err: err}
	}
	if err != nil {
		return nil, err
	}
	m, err := compileMerge(snap.Schema, opts)
	if err != nil {
		return nil, err
	}

	files := snap.Files()
	perFile, err := t.readFiles(ctx, snap, files)
	if err != nil {
		return nil, err
	}

	res := &MergeMetrics{Version: snap.Version, NumSourceRows: len(opts.Source)}
	var (
		actions  []Action
		rewrites [][]interface{}
		ts       = t.now().UnixMilli()
	)
	record := make(map[string]interface{}, len(snap.Schema.Fields)+len(m.sourceCols))
	for fi, rows := range perFile {
		var (
			kept             [][]interface{}
			updated, deleted int64
		)
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for i, f := range snap.Schema.Fields {
				record[m.targetAlias+"."+f.Name] = row[i]
			}
			match, err := m.match(record, m.source)
			if err != nil {
				return nil, err
			}
			if match < 0 {
				kept = append(kept, row)
				continue
			}
			if opts.Delete {
				deleted++
				continue
			}
			newRow, err := m.update(snap.Schema, row, record)
			if err != nil {
				return nil, err
			}
			updated++
			kept = append(kept, newRow)
		}
		if updated == 0 && deleted == 0 {
			continue
		}
		actions = append(actions, Action{Remove: files[fi].remove(ts, true)})
		res.NumTargetFilesRemoved++
		res.NumTargetRowsUpdated += updated
		res.NumTargetRowsDeleted += deleted
		res.NumTargetRowsCopied += int64(len(rows)) - updated - deleted
		rewrites = append(rewrites, kept...)
	}

	if res.NumTargetFilesRemoved == 0 {
		t.logger.InfoContext(ctx, "merge matched no rows", "version", snap.Version)
		return res, nil
	}

	if len(rewrites) > 0 {
		adds, err := t.writeFiles(ctx, snap.Schema, snap.PartitionColumns(), rewrites, true)
		if err != nil {
			return nil, err
		}
		for _, a := range adds {
			actions = append(actions, Action{Add: a})
		}
		res.NumTargetFilesAdded = len(adds)
	}

	params := map[string]string{"predicate": opts.Predicate}
	if opts.MatchedPredicate != "" {
		params["matchedPredicate"] = opts.MatchedPredicate
	}
	if opts.Delete {
		params["matchedAction"] = "delete"
	} else {
		params["matchedAction"] = "update"
	}
	info := CommitInfo{
		Operation:           "MERGE",
		OperationParameters: params,
		OperationMetrics: map[string]string{
			"numSourceRows":         strconv.Itoa(res.NumSourceRows),
			"numTargetRowsUpdated":  strconv.FormatInt(res.NumTargetRowsUpdated, 10),
			"numTargetRowsDeleted":  strconv.FormatInt(res.NumTargetRowsDeleted, 10),
			"numTargetFilesAdded":   strconv.Itoa(res.NumTargetFilesAdded),
			"numTargetFilesRemoved": strconv.Itoa(res.NumTargetFilesRemoved),
		},
	}
	version := snap.Version + 1
	if err := t.commit(ctx, version, info, actions); err != nil {
		return nil, err
	}
	res.Version = version
	return res, nil
}

func compileMerge(schema Schema, opts MergeOptions) (*compiledMerge, error) {
	m := &compiledMerge{
		sourceAlias: opts.SourceAlias,
		targetAlias: opts.TargetAlias,
		updates:     make(map[int]query.Expr),
	}
	if m.sourceAlias == "" {
		m.sourceAlias = DefaultSourceAlias
	}
	if m.targetAlias == "" {
		m.targetAlias = DefaultTargetAlias
	}
	if strings.EqualFold(m.sourceAlias, m.targetAlias) {
		return nil, gatewayerr.Invalid("source and target aliases must differ")
	}
	if strings.TrimSpace(opts.Predicate) == "" {
		return nil, gatewayerr.Invalid("merge predicate is required")
	}
	if opts.Delete == (len(opts.Updates) > 0) {
		return nil, gatewayerr.Invalid("merge needs either updates or delete")
	}

	// Source columns match case-insensitively; the first spelling seen
	// names the column and every row is rekeyed to it.
	canonical := make(map[string]string)
	for _, rec := range opts.Source {
		for k := range rec {
			if _, ok := canonical[strings.ToLower(k)]; !ok {
				canonical[strings.ToLower(k)] = k
				m.sourceCols = append(m.sourceCols, k)
			}
		}
	}
	sort.Strings(m.sourceCols)
	m.source = make([]map[string]interface{}, len(opts.Source))
	for i, rec := range opts.Source {
		row := make(map[string]interface{}, len(rec))
		for k, v := range rec {
			name := canonical[strings.ToLower(k)]
			if _, dup := row[name]; dup {
				return nil, gatewayerr.Invalid("source row %d has column %s more than once", i, name)
			}
			row[name] = v
		}
		m.source[i] = row
	}

	var err error
	if m.predicate, err = m.compile(schema, "predicate", opts.Predicate); err != nil {
		return nil, err
	}
	if opts.MatchedPredicate != "" {
		if m.matched, err = m.compile(schema, "matched predicate", opts.MatchedPredicate); err != nil {
			return nil, err
		}
	}
	for col, text := range opts.Updates {
		idx := -1
		for i, f := range schema.Fields {
			if strings.EqualFold(f.Name, col) {
				idx = i
			}
		}
		if idx < 0 {
			return nil, gatewayerr.Invalid("update column %s is not in the table schema", col)
		}
		expr, err := m.compile(schema, "update of "+col, text)
		if err != nil {
			return nil, err
		}
		m.updates[idx] = expr
	}
	return m, nil
}

// compile parses text and checks every column reference names a side and
// a column that side has.
func (m *compiledMerge) compile(schema Schema, what, text string) (query.Expr, error) {
	expr, err := query.ParseExpr(text)
	if err != nil {
		return nil, &gatewayerr.InvalidRequestError{Reason: what, Err: err}
	}
	for _, ref := range query.Columns(expr) {
		switch {
		case strings.EqualFold(ref.Table, m.targetAlias):
			if _, ok := schema.Field(ref.Name); !ok {
				return nil, gatewayerr.Invalid("%s: target has no column %s", what, ref.Name)
			}
		case strings.EqualFold(ref.Table, m.sourceAlias):
			if !m.hasSourceColumn(ref.Name) {
				return nil, gatewayerr.Invalid("%s: source has no column %s", what, ref.Name)
			}
		case ref.Table == "":
			return nil, gatewayerr.Invalid("%s: column %s must be qualified with %s or %s", what, ref.Name, m.targetAlias, m.sourceAlias)
		default:
			return nil, gatewayerr.Invalid("%s: unknown qualifier %s", what, ref.Table)
		}
	}
	return expr, nil
}

func (m *compiledMerge) hasSourceColumn(name string) bool {
	for _, c := range m.sourceCols {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// match returns the index of the single source row matching the target
// row already in record, or -1.
func (m *compiledMerge) match(record map[string]interface{}, source []map[string]interface{}) (int, error) {
	found := -1
	for si, src := range source {
		for _, c := range m.sourceCols {
			record[m.sourceAlias+"."+c] = src[c]
		}
		ok, err := holds(m.predicate, record, "predicate")
		if err != nil {
			return -1, err
		}
		if !ok {
			continue
		}
		if m.matched != nil {
			ok, err = holds(m.matched, record, "matched predicate")
			if err != nil {
				return -1, err
			}
			if !ok {
				continue
			}
		}
		if found >= 0 {
			return -1, gatewayerr.Invalid("a target row matched source rows %d and %d", found, si)
		}
		found = si
	}
	if found >= 0 {
		for _, c := range m.sourceCols {
			record[m.sourceAlias+"."+c] = source[found][c]
		}
	}
	return found, nil
}

func (m *compiledMerge) update(schema Schema, row []interface{}, record map[string]interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(row))
	copy(out, row)
	for idx, expr := range m.updates {
		v, err := query.Eval(expr, record)
		if err != nil {
			return nil, &gatewayerr.InvalidRequestError{Reason: "update of " + schema.Fields[idx].Name, Err: err}
		}
		f := schema.Fields[idx]
		cv, err := coerce(v, f.Type)
		if err != nil {
			return nil, &gatewayerr.InvalidRequestError{Reason: "update of " + f.Name, Err: err}
		}
		if cv == nil && !f.Nullable {
			return nil, gatewayerr.Invalid("update sets non-nullable column %s to null", f.Name)
		}
		out[idx] = cv
	}
	return out, nil
}

func holds(expr query.Expr, record map[string]interface{}, what string) (bool, error) {
	v, err := query.Eval(expr, record)
	if err != nil {
		return false, &gatewayerr.InvalidRequestError{Reason: what, Err: err}
	}
	switch b := v.(type) {
	case nil:
		return false, nil
	case bool:
		return b, nil
	}
	return false, gatewayerr.Invalid("%s evaluates to %T, not a boolean", what, v)
}

func (m MergeMetrics) String() string {
	return fmt.Sprintf("updated=%d deleted=%d files_added=%d files_removed=%d",
		m.NumTargetRowsUpdated, m.NumTargetRowsDeleted, m.NumTargetFilesAdded, m.NumTargetFilesRemoved)
}
