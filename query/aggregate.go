package query

import (
	"fmt"
	"strings"
)

// group is a set of rows sharing GROUP BY key values.
type group struct {
	rows [][]interface{}
}

// groupRows partitions rel by the GROUP BY expressions, keeping groups in
// order of first appearance. Without GROUP BY every row, possibly none,
// forms a single group.
func (ex *executor) groupRows(rel *relation, groupBy []Expr) ([]*group, error) {
	if len(groupBy) == 0 {
		return []*group{{rows: rel.rows}}, nil
	}

	index := make(map[string]*group)
	var groups []*group
	keyValues := make([]interface{}, len(groupBy))
	for _, row := range rel.rows {
		env := ex.env(rel, row)
		for i, e := range groupBy {
			v, err := e.Eval(env)
			if err != nil {
				return nil, err
			}
			keyValues[i] = v
		}
		key := rowKey(keyValues)
		g, ok := index[key]
		if !ok {
			g = &group{}
			index[key] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, row)
	}
	return groups, nil
}

// groupEnv evaluates expressions for one group: plain columns read the
// group's first row and aggregates read their computed values.
type groupEnv struct {
	rowEnv
	values map[*AggregateExpr]interface{}
}

func (g *groupEnv) aggregate(a *AggregateExpr) (interface{}, bool) {
	v, ok := g.values[a]
	return v, ok
}

func (ex *executor) newGroupEnv(rel *relation, g *group, aggs []*AggregateExpr) (*groupEnv, error) {
	env := &groupEnv{rowEnv: rowEnv{rel: rel, ex: ex}, values: make(map[*AggregateExpr]interface{}, len(aggs))}
	if len(g.rows) > 0 {
		env.row = g.rows[0]
	}
	for _, a := range aggs {
		v, err := evaluateAggregate(ex, a, rel, g.rows)
		if err != nil {
			return nil, err
		}
		env.values[a] = v
	}
	return env, nil
}

func evaluateAggregate(ex *executor, agg *AggregateExpr, rel *relation, rows [][]interface{}) (interface{}, error) {
	acc := newAccumulator(agg)
	for _, row := range rows {
		var v interface{}
		if agg.Arg != nil {
			var err error
			if v, err = agg.Arg.Eval(ex.env(rel, row)); err != nil {
				return nil, err
			}
		}
		if err := acc.add(v); err != nil {
			return nil, err
		}
	}
	return acc.result(), nil
}

// accumulator folds values into one aggregate result. NULL inputs are
// skipped except by COUNT(*). SUM keeps long precision until a double is
// seen.
type accumulator struct {
	agg     *AggregateExpr
	seen    map[string]bool
	count   int64
	isum    int64
	fsum    float64
	isFloat bool
	best    interface{}
}

func newAccumulator(agg *AggregateExpr) *accumulator {
	a := &accumulator{agg: agg}
	if agg.Distinct {
		a.seen = make(map[string]bool)
	}
	return a
}

func (a *accumulator) add(v interface{}) error {
	if a.agg.Arg == nil {
		a.count++
		return nil
	}
	if v == nil {
		return nil
	}
	if a.seen != nil {
		key := rowKey([]interface{}{v})
		if a.seen[key] {
			return nil
		}
		a.seen[key] = true
	}
	a.count++

	switch a.agg.Func {
	case "SUM":
		switch n := v.(type) {
		case int64:
			a.isum += n
		case float64:
			a.fsum += n
			a.isFloat = true
		default:
			return fmt.Errorf("%s: cannot sum %s", a.agg, typeName(v))
		}
	case "AVG":
		f, ok := toFloat64(v)
		if !ok {
			return fmt.Errorf("%s: cannot average %s", a.agg, typeName(v))
		}
		a.fsum += f
	case "MIN", "MAX":
		if a.best == nil {
			a.best = v
			return nil
		}
		c, err := compareValues(v, a.best)
		if err != nil {
			return fmt.Errorf("%s: %w", a.agg, err)
		}
		if (a.agg.Func == "MIN" && c < 0) || (a.agg.Func == "MAX" && c > 0) {
			a.best = v
		}
	case "COUNT":
	default:
		return fmt.Errorf("unknown aggregate %s", a.agg.Func)
	}
	return nil
}

func (a *accumulator) result() interface{} {
	switch a.agg.Func {
	case "COUNT":
		return a.count
	case "SUM":
		if a.count == 0 {
			return nil
		}
		if a.isFloat {
			return a.fsum + float64(a.isum)
		}
		return a.isum
	case "AVG":
		if a.count == 0 {
			return nil
		}
		return a.fsum / float64(a.count)
	}
	return a.best
}

// checkGrouped verifies that e reads columns only through GROUP BY
// expressions or aggregates.
func checkGrouped(e Expr, groupBy []Expr) error {
	var err error
	walkExpr(e, func(n Expr) bool {
		if err != nil {
			return false
		}
		if _, ok := n.(*AggregateExpr); ok {
			return false
		}
		for _, g := range groupBy {
			if strings.EqualFold(n.String(), g.String()) {
				return false
			}
		}
		if c, ok := n.(*ColumnRef); ok {
			for _, g := range groupBy {
				if gc, ok := g.(*ColumnRef); ok && sameColumn(c, gc) {
					return false
				}
			}
			err = fmt.Errorf("column %s must appear in GROUP BY or be used in an aggregate", c)
		}
		return true
	})
	return err
}

func sameColumn(a, b *ColumnRef) bool {
	if !strings.EqualFold(a.Name, b.Name) {
		return false
	}
	return a.Table == "" || b.Table == "" || strings.EqualFold(a.Table, b.Table)
}
