package query

import (
	"fmt"
	"sort"
	"strings"
)

// windowFunctions lists the ranking and value functions usable with OVER,
// with their minimum and maximum argument counts. The aggregates in
// aggregateNames may also take an OVER clause.
var windowFunctions = map[string][2]int{
	"ROW_NUMBER":  {0, 0},
	"RANK":        {0, 0},
	"DENSE_RANK":  {0, 0},
	"NTILE":       {1, 1},
	"FIRST_VALUE": {1, 1},
	"LAST_VALUE":  {1, 1},
	"NTH_VALUE":   {2, 2},
	"LAG":         {1, 3},
	"LEAD":        {1, 3},
}

// WindowExpr is a function evaluated over the rows of a partition:
// name(args) OVER ([PARTITION BY ...] [ORDER BY ...]). With ORDER BY the
// frame runs from the start of the partition through the current row's
// last peer; without it the frame is the whole partition.
type WindowExpr struct {
	Func        string
	Args        []Expr
	Aggregate   *AggregateExpr // set for COUNT, SUM, AVG, MIN and MAX
	PartitionBy []Expr
	OrderBy     []OrderItem
}

// windowEnv is implemented by environments that carry computed window
// values.
type windowEnv interface {
	window(*WindowExpr) (interface{}, bool)
}

func (e *WindowExpr) Eval(env Env) (interface{}, error) {
	if we, ok := env.(windowEnv); ok {
		if v, ok := we.window(e); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("window function %s is not allowed here", e)
}

func (e *WindowExpr) String() string {
	var b strings.Builder
	if e.Aggregate != nil {
		b.WriteString(e.Aggregate.String())
	} else {
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = a.String()
		}
		b.WriteString(e.Func + "(" + strings.Join(args, ", ") + ")")
	}
	b.WriteString(" OVER (")
	if len(e.PartitionBy) > 0 {
		b.WriteString("PARTITION BY " + exprList(e.PartitionBy))
	}
	if len(e.OrderBy) > 0 {
		if len(e.PartitionBy) > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("ORDER BY " + orderList(e.OrderBy))
	}
	b.WriteString(")")
	return b.String()
}

func orderList(items []OrderItem) string {
	keys := make([]string, len(items))
	for i, o := range items {
		keys[i] = o.Expr.String()
		if o.Desc {
			keys[i] += " DESC"
		}
	}
	return strings.Join(keys, ", ")
}

// collectWindows returns the window calls in e, outermost only.
func collectWindows(e Expr) []*WindowExpr {
	var out []*WindowExpr
	walkExpr(e, func(n Expr) bool {
		if w, ok := n.(*WindowExpr); ok {
			out = append(out, w)
			return false
		}
		return true
	})
	return out
}

func hasWindow(e Expr) bool {
	return len(collectWindows(e)) > 0
}

type windowSetter interface {
	setWindow(*WindowExpr, interface{})
}

// applyWindows computes every window call of the select list and ORDER BY
// over envs and attaches the values to each env.
func (ex *executor) applyWindows(stmt *Select, envs []Env) error {
	var windows []*WindowExpr
	for _, item := range stmt.Items {
		windows = append(windows, collectWindows(item.Expr)...)
	}
	for _, o := range stmt.OrderBy {
		windows = append(windows, collectWindows(o.Expr)...)
	}
	for _, w := range windows {
		values, err := ex.computeWindow(w, envs)
		if err != nil {
			return stageError("window", err)
		}
		for i, env := range envs {
			env.(windowSetter).setWindow(w, values[i])
		}
	}
	return nil
}

// computeWindow returns w's value for each env, in env order. Partitions
// are processed in order of first appearance.
func (ex *executor) computeWindow(w *WindowExpr, envs []Env) ([]interface{}, error) {
	out := make([]interface{}, len(envs))
	parts, err := partitionEnvs(w.PartitionBy, envs)
	if err != nil {
		return nil, err
	}
	for _, part := range parts {
		if err := ex.checkpoint(); err != nil {
			return nil, err
		}
		if err := sortPartition(part, envs, w.OrderBy); err != nil {
			return nil, err
		}
		f := &windowFrame{w: w, envs: envs, rows: part.rows, last: part.last}
		values, err := f.evaluate()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", w.Func, err)
		}
		for pos, idx := range part.rows {
			out[idx] = values[pos]
		}
	}
	return out, nil
}

// partition holds env indices. After sorting, first and last give the
// positions bounding each row's peer group.
type partition struct {
	rows  []int
	first []int
	last  []int
}

func partitionEnvs(by []Expr, envs []Env) ([]*partition, error) {
	if len(by) == 0 {
		p := &partition{rows: make([]int, len(envs))}
		for i := range envs {
			p.rows[i] = i
		}
		return []*partition{p}, nil
	}
	index := make(map[string]*partition)
	var parts []*partition
	values := make([]interface{}, len(by))
	for i, env := range envs {
		for k, e := range by {
			v, err := e.Eval(env)
			if err != nil {
				return nil, err
			}
			values[k] = normalize(v)
		}
		key := rowKey(values)
		p, ok := index[key]
		if !ok {
			p = &partition{}
			index[key] = p
			parts = append(parts, p)
		}
		p.rows = append(p.rows, i)
	}
	return parts, nil
}

// sortPartition orders p stably by orderBy, NULLs first ascending, and
// fills the peer bounds. Without ORDER BY every row is a peer of every
// other.
func sortPartition(p *partition, envs []Env, orderBy []OrderItem) error {
	n := len(p.rows)
	p.first = make([]int, n)
	p.last = make([]int, n)
	if len(orderBy) == 0 {
		for i := range p.rows {
			p.first[i] = 0
			p.last[i] = n - 1
		}
		return nil
	}

	type keyed struct {
		idx  int
		keys []interface{}
	}
	items := make([]keyed, n)
	for i, idx := range p.rows {
		keys := make([]interface{}, len(orderBy))
		for k, o := range orderBy {
			v, err := o.Expr.Eval(envs[idx])
			if err != nil {
				return err
			}
			keys[k] = normalize(v)
		}
		items[i] = keyed{idx: idx, keys: keys}
	}
	cmp := func(a, b []interface{}) int {
		for k, o := range orderBy {
			c := orderValues(a[k], b[k])
			if c == 0 {
				continue
			}
			if o.Desc {
				return -c
			}
			return c
		}
		return 0
	}
	sort.SliceStable(items, func(a, b int) bool {
		return cmp(items[a].keys, items[b].keys) < 0
	})

	for i, it := range items {
		p.rows[i] = it.idx
		if i > 0 && cmp(items[i-1].keys, it.keys) == 0 {
			p.first[i] = p.first[i-1]
		} else {
			p.first[i] = i
		}
	}
	for i := n - 1; i >= 0; i-- {
		if i < n-1 && p.first[i+1] == p.first[i] {
			p.last[i] = p.last[i+1]
		} else {
			p.last[i] = i
		}
	}
	return nil
}

// windowFrame evaluates one window call over one sorted partition.
type windowFrame struct {
	w    *WindowExpr
	envs []Env
	rows []int
	last []int
}

func (f *windowFrame) value(e Expr, pos int) (interface{}, error) {
	v, err := e.Eval(f.envs[f.rows[pos]])
	if err != nil {
		return nil, err
	}
	return normalize(v), nil
}

// count evaluates an integer argument such as an NTILE bucket count or a
// LAG offset.
func (f *windowFrame) count(e Expr, pos int, what string) (int64, error) {
	v, err := f.value(e, pos)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("%s must not be NULL", what)
	}
	n, err := valueToInt(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return n, nil
}

func (f *windowFrame) evaluate() ([]interface{}, error) {
	n := len(f.rows)
	out := make([]interface{}, n)
	if n == 0 {
		return out, nil
	}
	if f.w.Aggregate != nil {
		return f.aggregate()
	}

	switch f.w.Func {
	case "ROW_NUMBER":
		for pos := range out {
			out[pos] = int64(pos + 1)
		}
	case "RANK", "DENSE_RANK":
		dense := int64(0)
		for pos := range out {
			first := pos == 0 || f.last[pos-1] != f.last[pos]
			if first {
				dense++
			}
			if f.w.Func == "DENSE_RANK" {
				out[pos] = dense
				continue
			}
			if first {
				out[pos] = int64(pos + 1)
			} else {
				out[pos] = out[pos-1]
			}
		}
	case "NTILE":
		buckets, err := f.count(f.w.Args[0], 0, "bucket count")
		if err != nil {
			return nil, err
		}
		if buckets <= 0 {
			return nil, fmt.Errorf("bucket count must be positive, got %d", buckets)
		}
		size, rem := int64(n)/buckets, int64(n)%buckets
		for pos := range out {
			p := int64(pos)
			if p < rem*(size+1) {
				out[pos] = p/(size+1) + 1
			} else {
				out[pos] = rem + (p-rem*(size+1))/size + 1
			}
		}
	case "FIRST_VALUE":
		v, err := f.value(f.w.Args[0], 0)
		if err != nil {
			return nil, err
		}
		for pos := range out {
			out[pos] = v
		}
	case "LAST_VALUE":
		for pos := range out {
			v, err := f.value(f.w.Args[0], f.last[pos])
			if err != nil {
				return nil, err
			}
			out[pos] = v
		}
	case "NTH_VALUE":
		nth, err := f.count(f.w.Args[1], 0, "position")
		if err != nil {
			return nil, err
		}
		if nth < 1 {
			return nil, fmt.Errorf("position must be at least 1, got %d", nth)
		}
		for pos := range out {
			if nth-1 > int64(f.last[pos]) {
				continue
			}
			v, err := f.value(f.w.Args[0], int(nth-1))
			if err != nil {
				return nil, err
			}
			out[pos] = v
		}
	case "LAG", "LEAD":
		for pos := range out {
			offset := int64(1)
			if len(f.w.Args) > 1 {
				var err error
				if offset, err = f.count(f.w.Args[1], pos, "offset"); err != nil {
					return nil, err
				}
				if offset < 0 {
					return nil, fmt.Errorf("offset must not be negative, got %d", offset)
				}
			}
			target := int64(pos) - offset
			if f.w.Func == "LEAD" {
				target = int64(pos) + offset
			}
			var err error
			switch {
			case target >= 0 && target < int64(n):
				out[pos], err = f.value(f.w.Args[0], int(target))
			case len(f.w.Args) > 2:
				out[pos], err = f.value(f.w.Args[2], pos)
			}
			if err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unknown window function %s", f.w.Func)
	}
	return out, nil
}

// aggregate folds the running frame one peer group at a time.
func (f *windowFrame) aggregate() ([]interface{}, error) {
	agg := f.w.Aggregate
	acc := newAccumulator(agg)
	out := make([]interface{}, len(f.rows))
	for start := 0; start < len(f.rows); {
		end := f.last[start]
		for pos := start; pos <= end; pos++ {
			var v interface{}
			if agg.Arg != nil {
				var err error
				if v, err = f.value(agg.Arg, pos); err != nil {
					return nil, err
				}
			}
			if err := acc.add(v); err != nil {
				return nil, err
			}
		}
		result := acc.result()
		for pos := start; pos <= end; pos++ {
			out[pos] = result
		}
		start = end + 1
	}
	return out, nil
}
