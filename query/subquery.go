package query

import "fmt"

// Subqueries in expressions are uncorrelated: each runs once per
// statement execution, before the enclosing SELECT reads its sources, and
// sees the enclosing WITH names but not its columns.

// SubqueryExpr is a parenthesized SELECT used as a value. It must return a
// single column and at most one row; no rows yields NULL.
type SubqueryExpr struct {
	Query *Select
	Text  string
}

// ExistsExpr is [NOT] EXISTS (SELECT ...).
type ExistsExpr struct {
	Query *Select
	Text  string
	Not   bool
}

// InSubqueryExpr is x [NOT] IN (SELECT ...).
type InSubqueryExpr struct {
	Expr  Expr
	Query *Select
	Text  string
	Not   bool
}

// subqueryEnv is implemented by environments that can reach the results
// of the statement's expression subqueries.
type subqueryEnv interface {
	subquery(*Select) (*relation, error)
}

func subqueryResult(env Env, q *Select) (*relation, error) {
	if se, ok := env.(subqueryEnv); ok {
		return se.subquery(q)
	}
	return nil, fmt.Errorf("subqueries are not allowed here")
}

func (e *SubqueryExpr) Eval(env Env) (interface{}, error) {
	rel, err := subqueryResult(env, e.Query)
	if err != nil {
		return nil, err
	}
	if len(rel.cols) != 1 {
		return nil, fmt.Errorf("scalar subquery must return one column, got %d", len(rel.cols))
	}
	switch len(rel.rows) {
	case 0:
		return nil, nil
	case 1:
		return rel.rows[0][0], nil
	}
	return nil, fmt.Errorf("scalar subquery returned %d rows", len(rel.rows))
}

func (e *SubqueryExpr) String() string {
	return "(" + e.Text + ")"
}

func (e *ExistsExpr) Eval(env Env) (interface{}, error) {
	rel, err := subqueryResult(env, e.Query)
	if err != nil {
		return nil, err
	}
	return (len(rel.rows) > 0) != e.Not, nil
}

func (e *ExistsExpr) String() string {
	if e.Not {
		return "NOT EXISTS (" + e.Text + ")"
	}
	return "EXISTS (" + e.Text + ")"
}

// Eval follows IN list semantics: a NULL left operand, or no match when the
// subquery returned a NULL, yields NULL.
func (e *InSubqueryExpr) Eval(env Env) (interface{}, error) {
	rel, err := subqueryResult(env, e.Query)
	if err != nil {
		return nil, err
	}
	if len(rel.cols) != 1 {
		return nil, fmt.Errorf("IN subquery must return one column, got %d", len(rel.cols))
	}
	v, err := e.Expr.Eval(env)
	if err != nil || v == nil {
		return nil, err
	}
	sawNull := false
	for _, row := range rel.rows {
		if row[0] == nil {
			sawNull = true
			continue
		}
		c, err := compareValues(v, row[0])
		if err != nil {
			return nil, err
		}
		if c == 0 {
			return !e.Not, nil
		}
	}
	if sawNull {
		return nil, nil
	}
	return e.Not, nil
}

func (e *InSubqueryExpr) String() string {
	op := " IN ("
	if e.Not {
		op = " NOT IN ("
	}
	return e.Expr.String() + op + e.Text + ")"
}

// expressionSubqueries returns the SELECTs nested in stmt's expressions,
// outermost only and in clause order. Subqueries in FROM and WITH are not
// included.
func expressionSubqueries(stmt *Select) []*Select {
	var out []*Select
	visit := func(e Expr) {
		walkExpr(e, func(n Expr) bool {
			switch s := n.(type) {
			case *SubqueryExpr:
				out = append(out, s.Query)
			case *ExistsExpr:
				out = append(out, s.Query)
			case *InSubqueryExpr:
				out = append(out, s.Query)
			}
			return true
		})
	}
	for _, item := range stmt.Items {
		visit(item.Expr)
	}
	for _, j := range stmt.Joins {
		visit(j.Condition)
	}
	visit(stmt.Where)
	for _, g := range stmt.GroupBy {
		visit(g)
	}
	visit(stmt.Having)
	for _, o := range stmt.OrderBy {
		visit(o.Expr)
	}
	return out
}

func hasSubquery(e Expr) bool {
	found := false
	walkExpr(e, func(n Expr) bool {
		switch n.(type) {
		case *SubqueryExpr, *ExistsExpr, *InSubqueryExpr:
			found = true
		}
		return !found
	})
	return found
}

// prepareSubqueries runs stmt's expression subqueries against scope and
// keeps their results for the statement's environments.
func (ex *executor) prepareSubqueries(stmt *Select, scope map[string]*relation) error {
	for _, q := range expressionSubqueries(stmt) {
		if _, ok := ex.subqueries[q]; ok {
			continue
		}
		rel, err := ex.run(q, scope)
		if err != nil {
			return err
		}
		ex.subqueries[q] = rel
	}
	return nil
}
