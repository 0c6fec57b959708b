package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vegasq/deltagate/gatewayerr"
)

// Statement is a compiled SELECT whose table references are all bound.
type Statement struct {
	sql      string
	stmt     *Select
	bindings Bindings
}

// Compile parses sql and checks that every table it reads is bound. It
// performs no I/O.
func Compile(sql string, bindings Bindings) (*Statement, error) {
	stmt, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	if err := checkBound(stmt, nil, bindings); err != nil {
		return nil, &gatewayerr.QueryError{Query: sql, Fragment: err.Near, Err: err}
	}
	return &Statement{sql: sql, stmt: stmt, bindings: bindings}, nil
}

// Execute compiles and runs sql. The plan is rendered from the compiled
// statement before any table is read.
func Execute(ctx context.Context, sql string, bindings Bindings) (*Result, string, error) {
	st, err := Compile(sql, bindings)
	if err != nil {
		return nil, "", err
	}
	plan := st.Plan()
	res, err := st.Run(ctx)
	if err != nil {
		return nil, plan, err
	}
	return res, plan, nil
}

// Run executes the statement. Each call reads the bound tables afresh.
func (s *Statement) Run(ctx context.Context) (*Result, error) {
	ex := &executor{
		ctx:        ctx,
		bindings:   s.bindings,
		scans:      make(map[string]*relation),
		subqueries: make(map[*Select]*relation),
	}
	rel, err := ex.run(s.stmt, nil)
	if err != nil {
		var qe *gatewayerr.QueryError
		if errors.As(err, &qe) && qe.Query == "" {
			qe.Query = s.sql
		}
		return nil, err
	}
	columns := make([]string, len(rel.cols))
	for i, c := range rel.cols {
		columns[i] = c.Name
	}
	return &Result{Columns: columns, Rows: rel.rows}, nil
}

// Statement returns the parsed AST.
func (s *Statement) Statement() *Select {
	return s.stmt
}

func checkBound(stmt *Select, scope map[string]bool, bindings Bindings) *syntaxError {
	local := make(map[string]bool, len(scope)+len(stmt.With))
	for k := range scope {
		local[k] = true
	}
	for _, cte := range stmt.With {
		if err := checkBound(cte.Query, local, bindings); err != nil {
			return err
		}
		local[normalizeName(cte.Name)] = true
	}
	check := func(ref *TableRef) *syntaxError {
		if ref.Subquery != nil {
			return checkBound(ref.Subquery, local, bindings)
		}
		if local[normalizeName(ref.Name)] {
			return nil
		}
		if _, ok := bindings.Lookup(ref.Name); !ok {
			return &syntaxError{Near: ref.Name, Err: fmt.Errorf("table %s is not bound", ref.Name)}
		}
		return nil
	}
	if stmt.From != nil {
		if err := check(stmt.From); err != nil {
			return err
		}
	}
	for i := range stmt.Joins {
		if err := check(&stmt.Joins[i].Table); err != nil {
			return err
		}
	}
	for _, sub := range expressionSubqueries(stmt) {
		if err := checkBound(sub, local, bindings); err != nil {
			return err
		}
	}
	return nil
}

// column is one relation column. Table is the qualifier it answers to and
// Source the normalized name of the table it was read from.
type column struct {
	Table  string
	Source string
	Name   string
}

type relation struct {
	cols  []column
	rows  [][]interface{}
	index map[string]int
}

func (r *relation) resolve(table, name string) (int, error) {
	memo := table + "\x00" + name
	if i, ok := r.index[memo]; ok {
		return i, nil
	}
	source := ""
	if table != "" {
		source = normalizeName(table)
	}
	found := -1
	for i, c := range r.cols {
		if !strings.EqualFold(c.Name, name) {
			continue
		}
		if table != "" && !strings.EqualFold(c.Table, table) && c.Source != source {
			continue
		}
		if found >= 0 {
			if table != "" {
				return 0, fmt.Errorf("ambiguous column %s.%s", table, name)
			}
			return 0, fmt.Errorf("ambiguous column %s", name)
		}
		found = i
	}
	if found < 0 {
		if table != "" {
			return 0, fmt.Errorf("unknown column %s.%s", table, name)
		}
		return 0, fmt.Errorf("unknown column %s", name)
	}
	if r.index == nil {
		r.index = make(map[string]int)
	}
	r.index[memo] = found
	return found, nil
}

// requalify returns a view of r whose columns answer to qualifier.
func (r *relation) requalify(qualifier, source string) *relation {
	cols := make([]column, len(r.cols))
	for i, c := range r.cols {
		cols[i] = column{Table: qualifier, Source: source, Name: c.Name}
	}
	return &relation{cols: cols, rows: r.rows}
}

// rowEnv evaluates expressions against one row. Window values computed
// for the row are attached after projection has seen every row.
type rowEnv struct {
	rel     *relation
	row     []interface{}
	ex      *executor
	windows map[*WindowExpr]interface{}
}

func (ex *executor) env(rel *relation, row []interface{}) *rowEnv {
	return &rowEnv{rel: rel, row: row, ex: ex}
}

func (e *rowEnv) Column(table, name string) (interface{}, error) {
	i, err := e.rel.resolve(table, name)
	if err != nil {
		return nil, err
	}
	if e.row == nil {
		return nil, nil
	}
	return e.row[i], nil
}

func (e *rowEnv) subquery(q *Select) (*relation, error) {
	if e.ex != nil {
		if rel, ok := e.ex.subqueries[q]; ok {
			return rel, nil
		}
	}
	return nil, fmt.Errorf("subquery is not available here")
}

func (e *rowEnv) window(w *WindowExpr) (interface{}, bool) {
	v, ok := e.windows[w]
	return v, ok
}

func (e *rowEnv) setWindow(w *WindowExpr, v interface{}) {
	if e.windows == nil {
		e.windows = make(map[*WindowExpr]interface{})
	}
	e.windows[w] = v
}

// outputEnv lets ORDER BY see select-list aliases ahead of input columns.
type outputEnv struct {
	names  []string
	values []interface{}
	base   Env
}

func (e *outputEnv) Column(table, name string) (interface{}, error) {
	if table == "" {
		for i, n := range e.names {
			if strings.EqualFold(n, name) {
				return e.values[i], nil
			}
		}
	}
	return e.base.Column(table, name)
}

func (e *outputEnv) aggregate(a *AggregateExpr) (interface{}, bool) {
	if ae, ok := e.base.(aggregateEnv); ok {
		return ae.aggregate(a)
	}
	return nil, false
}

func (e *outputEnv) window(w *WindowExpr) (interface{}, bool) {
	if we, ok := e.base.(windowEnv); ok {
		return we.window(w)
	}
	return nil, false
}

func (e *outputEnv) subquery(q *Select) (*relation, error) {
	return subqueryResult(e.base, q)
}

type executor struct {
	ctx        context.Context
	bindings   Bindings
	scans      map[string]*relation
	subqueries map[*Select]*relation
}

func stageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if gatewayerr.KindOf(err) != gatewayerr.KindInternal {
		return err
	}
	return &gatewayerr.ExecutionError{Stage: stage, Err: err}
}

func (ex *executor) checkpoint() error {
	return ex.ctx.Err()
}

func (ex *executor) run(stmt *Select, parent map[string]*relation) (*relation, error) {
	scope := make(map[string]*relation, len(parent)+len(stmt.With))
	for k, v := range parent {
		scope[k] = v
	}
	for _, cte := range stmt.With {
		rel, err := ex.run(cte.Query, scope)
		if err != nil {
			return nil, err
		}
		key := normalizeName(cte.Name)
		scope[key] = rel.requalify(cte.Name, key)
	}
	if err := ex.prepareSubqueries(stmt, scope); err != nil {
		return nil, err
	}

	rel, err := ex.source(stmt.From, scope)
	if err != nil {
		return nil, err
	}
	for _, join := range stmt.Joins {
		right, err := ex.source(&join.Table, scope)
		if err != nil {
			return nil, err
		}
		if rel, err = ex.join(rel, right, join); err != nil {
			return nil, stageError("join", err)
		}
	}

	if stmt.Where != nil {
		if err := ex.checkpoint(); err != nil {
			return nil, err
		}
		if rel, err = ex.filter(rel, stmt.Where); err != nil {
			return nil, stageError("filter", err)
		}
	}

	if err := ex.checkpoint(); err != nil {
		return nil, err
	}
	out, envs, err := ex.project(stmt, rel)
	if err != nil {
		return nil, err
	}

	if stmt.Distinct {
		out, envs = distinctRows(out, envs)
	}

	if len(stmt.OrderBy) > 0 {
		if err := ex.checkpoint(); err != nil {
			return nil, err
		}
		if err := orderRows(out, envs, stmt.OrderBy); err != nil {
			return nil, stageError("sort", err)
		}
	}

	out.rows = limitRows(out.rows, stmt.Limit, stmt.Offset)
	return out, nil
}

func (ex *executor) source(ref *TableRef, scope map[string]*relation) (*relation, error) {
	if ref == nil {
		return &relation{rows: [][]interface{}{{}}}, nil
	}
	if ref.Subquery != nil {
		rel, err := ex.run(ref.Subquery, scope)
		if err != nil {
			return nil, err
		}
		return rel.requalify(ref.Alias, ""), nil
	}

	key := normalizeName(ref.Name)
	if rel, ok := scope[key]; ok {
		return rel.requalify(ref.Qualifier(), key), nil
	}
	if rel, ok := ex.scans[key]; ok {
		return rel.requalify(ref.Qualifier(), key), nil
	}

	table, ok := ex.bindings.Lookup(ref.Name)
	if !ok {
		return nil, &gatewayerr.QueryError{Fragment: ref.Name, Err: fmt.Errorf("table %s is not bound", ref.Name)}
	}
	if err := ex.checkpoint(); err != nil {
		return nil, err
	}
	res, err := table.Read(ex.ctx)
	if err != nil {
		return nil, stageError("scan "+ref.Name, err)
	}
	rel := &relation{cols: make([]column, len(res.Columns)), rows: make([][]interface{}, len(res.Rows))}
	for i, name := range res.Columns {
		rel.cols[i] = column{Name: name}
	}
	for i, row := range res.Rows {
		if len(row) != len(res.Columns) {
			return nil, stageError("scan "+ref.Name, fmt.Errorf("row %d has %d values for %d columns", i, len(row), len(res.Columns)))
		}
		norm := make([]interface{}, len(row))
		for j, v := range row {
			norm[j] = normalize(v)
		}
		rel.rows[i] = norm
	}
	ex.scans[key] = rel
	return rel.requalify(ref.Qualifier(), key), nil
}

func (ex *executor) filter(rel *relation, cond Expr) (*relation, error) {
	out := &relation{cols: rel.cols}
	for _, row := range rel.rows {
		ok, err := matches(cond, ex.env(rel, row))
		if err != nil {
			return nil, err
		}
		if ok {
			out.rows = append(out.rows, row)
		}
	}
	return out, nil
}

func matches(cond Expr, env Env) (bool, error) {
	v, err := cond.Eval(env)
	if err != nil {
		return false, err
	}
	return truth(v)
}

// join is a nested-loop join. Outer joins pad the missing side with NULLs.
func (ex *executor) join(left, right *relation, j Join) (*relation, error) {
	out := &relation{cols: append(append([]column{}, left.cols...), right.cols...)}
	combine := func(l, r []interface{}) []interface{} {
		row := make([]interface{}, 0, len(out.cols))
		if l == nil {
			l = make([]interface{}, len(left.cols))
		}
		if r == nil {
			r = make([]interface{}, len(right.cols))
		}
		return append(append(row, l...), r...)
	}

	rightMatched := make([]bool, len(right.rows))
	for i, l := range left.rows {
		if i%1024 == 0 {
			if err := ex.checkpoint(); err != nil {
				return nil, err
			}
		}
		matched := false
		for k, r := range right.rows {
			row := combine(l, r)
			if j.Condition != nil {
				ok, err := matches(j.Condition, ex.env(out, row))
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			}
			matched = true
			rightMatched[k] = true
			out.rows = append(out.rows, row)
		}
		if !matched && (j.Type == JoinLeft || j.Type == JoinFull) {
			out.rows = append(out.rows, combine(l, nil))
		}
	}
	if j.Type == JoinRight || j.Type == JoinFull {
		for k, r := range right.rows {
			if !rightMatched[k] {
				out.rows = append(out.rows, combine(nil, r))
			}
		}
	}
	return out, nil
}

func isAggregateQuery(stmt *Select) bool {
	if len(stmt.GroupBy) > 0 || stmt.Having != nil {
		return true
	}
	for _, item := range stmt.Items {
		if hasAggregate(item.Expr) {
			return true
		}
	}
	return false
}

// outputName names a select item in the result.
func outputName(item SelectItem) string {
	if item.Alias != "" {
		return item.Alias
	}
	if c, ok := item.Expr.(*ColumnRef); ok {
		return c.Name
	}
	return item.Expr.String()
}

// project evaluates the select list. It returns, per output row, the
// environment the row was computed in so ORDER BY can reach input columns.
func (ex *executor) project(stmt *Select, rel *relation) (*relation, []Env, error) {
	var envs []Env
	if isAggregateQuery(stmt) {
		var aggs []*AggregateExpr
		for _, item := range stmt.Items {
			if _, ok := item.Expr.(*StarExpr); ok {
				return nil, nil, &gatewayerr.QueryError{Fragment: "*", Err: fmt.Errorf("* is not allowed in an aggregate query")}
			}
			if err := checkGrouped(item.Expr, stmt.GroupBy); err != nil {
				return nil, nil, &gatewayerr.QueryError{Fragment: item.Expr.String(), Err: err}
			}
			aggs = append(aggs, collectAggregates(item.Expr)...)
		}
		if stmt.Having != nil {
			if err := checkGrouped(stmt.Having, stmt.GroupBy); err != nil {
				return nil, nil, &gatewayerr.QueryError{Fragment: stmt.Having.String(), Err: err}
			}
			aggs = append(aggs, collectAggregates(stmt.Having)...)
		}
		for _, o := range stmt.OrderBy {
			aggs = append(aggs, collectAggregates(o.Expr)...)
		}

		groups, err := ex.groupRows(rel, stmt.GroupBy)
		if err != nil {
			return nil, nil, stageError("aggregate", err)
		}
		for _, g := range groups {
			env, err := ex.newGroupEnv(rel, g, aggs)
			if err != nil {
				return nil, nil, stageError("aggregate", err)
			}
			if stmt.Having != nil {
				ok, err := matches(stmt.Having, env)
				if err != nil {
					return nil, nil, stageError("having", err)
				}
				if !ok {
					continue
				}
			}
			envs = append(envs, env)
		}
	} else {
		envs = make([]Env, len(rel.rows))
		for i, row := range rel.rows {
			envs[i] = ex.env(rel, row)
		}
	}

	if err := ex.applyWindows(stmt, envs); err != nil {
		return nil, nil, err
	}

	// Expand the select list into per-column evaluators.
	type outCol struct {
		name string
		expr Expr
		idx  int // input column index for star expansion, -1 otherwise
	}
	var cols []outCol
	for _, item := range stmt.Items {
		star, ok := item.Expr.(*StarExpr)
		if !ok {
			cols = append(cols, outCol{name: outputName(item), expr: item.Expr, idx: -1})
			continue
		}
		source := normalizeName(star.Table)
		n := 0
		for i, c := range rel.cols {
			if star.Table != "" && !strings.EqualFold(c.Table, star.Table) && c.Source != source {
				continue
			}
			cols = append(cols, outCol{name: c.Name, idx: i})
			n++
		}
		if n == 0 {
			if star.Table != "" {
				return nil, nil, &gatewayerr.QueryError{Fragment: star.String(), Err: fmt.Errorf("unknown table %s", star.Table)}
			}
			if stmt.From == nil {
				return nil, nil, &gatewayerr.QueryError{Fragment: "*", Err: fmt.Errorf("SELECT * requires FROM")}
			}
		}
	}

	out := &relation{cols: make([]column, len(cols)), rows: make([][]interface{}, len(envs))}
	for i, c := range cols {
		out.cols[i] = column{Name: c.name}
	}
	for r, env := range envs {
		if r%4096 == 0 {
			if err := ex.checkpoint(); err != nil {
				return nil, nil, err
			}
		}
		row := make([]interface{}, len(cols))
		for i, c := range cols {
			if c.idx >= 0 {
				row[i] = rel.rows[r][c.idx]
				continue
			}
			v, err := c.expr.Eval(env)
			if err != nil {
				return nil, nil, stageError("projection", err)
			}
			row[i] = normalize(v)
		}
		out.rows[r] = row
	}
	return out, envs, nil
}

func distinctRows(rel *relation, envs []Env) (*relation, []Env) {
	seen := make(map[string]bool, len(rel.rows))
	out := &relation{cols: rel.cols}
	var keptEnvs []Env
	for i, row := range rel.rows {
		key := rowKey(row)
		if seen[key] {
			continue
		}
		seen[key] = true
		out.rows = append(out.rows, row)
		keptEnvs = append(keptEnvs, envs[i])
	}
	return out, keptEnvs
}

// orderRows sorts rel in place, stably, NULLs first ascending and last
// descending. An integer literal key selects an output column by position.
func orderRows(rel *relation, envs []Env, orderBy []OrderItem) error {
	names := make([]string, len(rel.cols))
	for i, c := range rel.cols {
		names[i] = c.Name
	}

	type keyed struct {
		row  []interface{}
		keys []interface{}
	}
	items := make([]keyed, len(rel.rows))
	for r, row := range rel.rows {
		env := &outputEnv{names: names, values: row, base: envs[r]}
		keys := make([]interface{}, len(orderBy))
		for k, o := range orderBy {
			if lit, ok := o.Expr.(*Literal); ok {
				pos, ok := lit.Value.(int64)
				if !ok || pos < 1 || pos > int64(len(row)) {
					return fmt.Errorf("ORDER BY position %s is out of range", lit)
				}
				keys[k] = row[pos-1]
				continue
			}
			v, err := o.Expr.Eval(env)
			if err != nil {
				return err
			}
			keys[k] = normalize(v)
		}
		items[r] = keyed{row: row, keys: keys}
	}

	sort.SliceStable(items, func(a, b int) bool {
		for k, o := range orderBy {
			c := orderValues(items[a].keys[k], items[b].keys[k])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	for i, it := range items {
		rel.rows[i] = it.row
	}
	return nil
}

func limitRows(rows [][]interface{}, limit, offset *int64) [][]interface{} {
	if offset != nil {
		if *offset >= int64(len(rows)) {
			return rows[:0]
		}
		rows = rows[*offset:]
	}
	if limit != nil && *limit < int64(len(rows)) {
		rows = rows[:*limit]
	}
	return rows
}
