package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Literal is a constant value.
type Literal struct {
	Value interface{}
}

func (e *Literal) Eval(Env) (interface{}, error) { return e.Value, nil }

func (e *Literal) String() string {
	switch v := e.Value.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return fmt.Sprint(e.Value)
}

// ColumnRef references a column, optionally qualified by a table name or
// alias.
type ColumnRef struct {
	Table string
	Name  string
}

func (e *ColumnRef) Eval(env Env) (interface{}, error) {
	return env.Column(e.Table, e.Name)
}

func (e *ColumnRef) String() string {
	if e.Table != "" {
		return e.Table + "." + e.Name
	}
	return e.Name
}

// StarExpr is * or qualifier.* in a select list.
type StarExpr struct {
	Table string
}

func (e *StarExpr) Eval(Env) (interface{}, error) {
	return nil, fmt.Errorf("%s is only allowed in the select list", e)
}

func (e *StarExpr) String() string {
	if e.Table != "" {
		return e.Table + ".*"
	}
	return "*"
}

// UnaryExpr is NOT x or -x.
type UnaryExpr struct {
	Op      TokenType
	Operand Expr
}

func (e *UnaryExpr) Eval(env Env) (interface{}, error) {
	v, err := e.Operand.Eval(env)
	if err != nil || v == nil {
		return nil, err
	}
	switch e.Op {
	case TokenNot:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("NOT requires a boolean, got %s", typeName(v))
		}
		return !b, nil
	case TokenMinus:
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
		return nil, fmt.Errorf("cannot negate %s", typeName(v))
	}
	return nil, fmt.Errorf("unsupported unary operator %s", e.Op)
}

func (e *UnaryExpr) String() string {
	if e.Op == TokenNot {
		return "NOT " + e.Operand.String()
	}
	return "-" + e.Operand.String()
}

// BinaryExpr covers logical, comparison, arithmetic and concatenation
// operators.
type BinaryExpr struct {
	Op    TokenType
	Left  Expr
	Right Expr
}

func (e *BinaryExpr) Eval(env Env) (interface{}, error) {
	switch e.Op {
	case TokenAnd, TokenOr:
		return e.evalLogical(env)
	}

	left, err := e.Left.Eval(env)
	if err != nil {
		return nil, err
	}
	right, err := e.Right.Eval(env)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case TokenEqual, TokenNotEqual, TokenLess, TokenLessEqual, TokenGreater, TokenGreaterEqual:
		return compare(left, e.Op, right)
	case TokenConcat:
		if left == nil || right == nil {
			return nil, nil
		}
		return formatValue(left) + formatValue(right), nil
	}
	return arithmetic(e.Op, left, right)
}

// evalLogical implements three-valued AND/OR.
func (e *BinaryExpr) evalLogical(env Env) (interface{}, error) {
	left, err := e.Left.Eval(env)
	if err != nil {
		return nil, err
	}
	lb, err := logicalOperand(left)
	if err != nil {
		return nil, err
	}
	if lb != nil {
		if e.Op == TokenAnd && !*lb {
			return false, nil
		}
		if e.Op == TokenOr && *lb {
			return true, nil
		}
	}

	right, err := e.Right.Eval(env)
	if err != nil {
		return nil, err
	}
	rb, err := logicalOperand(right)
	if err != nil {
		return nil, err
	}
	if rb != nil {
		if e.Op == TokenAnd && !*rb {
			return false, nil
		}
		if e.Op == TokenOr && *rb {
			return true, nil
		}
	}
	if lb == nil || rb == nil {
		return nil, nil
	}
	return e.Op == TokenAnd, nil
}

func logicalOperand(v interface{}) (*bool, error) {
	if v == nil {
		return nil, nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("logical operator requires booleans, got %s", typeName(v))
	}
	return &b, nil
}

func (e *BinaryExpr) String() string {
	return "(" + e.Left.String() + " " + e.Op.String() + " " + e.Right.String() + ")"
}

func arithmetic(op TokenType, left, right interface{}) (interface{}, error) {
	if left == nil || right == nil {
		return nil, nil
	}
	if !isNumeric(left) || !isNumeric(right) {
		return nil, fmt.Errorf("cannot apply %s to %s and %s", op, typeName(left), typeName(right))
	}

	li, lint := left.(int64)
	ri, rint := right.(int64)
	if lint && rint {
		switch op {
		case TokenPlus:
			return li + ri, nil
		case TokenMinus:
			return li - ri, nil
		case TokenStar:
			return li * ri, nil
		case TokenPercent:
			if ri == 0 {
				return nil, nil
			}
			return li % ri, nil
		}
	}

	lf, _ := toFloat64(left)
	rf, _ := toFloat64(right)
	switch op {
	case TokenPlus:
		return lf + rf, nil
	case TokenMinus:
		return lf - rf, nil
	case TokenStar:
		return lf * rf, nil
	case TokenSlash:
		if rf == 0 {
			return nil, nil
		}
		return lf / rf, nil
	case TokenPercent:
		if rf == 0 {
			return nil, nil
		}
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("unsupported arithmetic operator %s", op)
}

// InExpr is x [NOT] IN (list).
type InExpr struct {
	Expr Expr
	List []Expr
	Not  bool
}

func (e *InExpr) Eval(env Env) (interface{}, error) {
	v, err := e.Expr.Eval(env)
	if err != nil || v == nil {
		return nil, err
	}
	sawNull := false
	for _, item := range e.List {
		iv, err := item.Eval(env)
		if err != nil {
			return nil, err
		}
		if iv == nil {
			sawNull = true
			continue
		}
		c, err := compareValues(v, iv)
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

func (e *InExpr) String() string {
	items := make([]string, len(e.List))
	for i, item := range e.List {
		items[i] = item.String()
	}
	op := " IN ("
	if e.Not {
		op = " NOT IN ("
	}
	return e.Expr.String() + op + strings.Join(items, ", ") + ")"
}

// LikeExpr is x [NOT] LIKE pattern.
type LikeExpr struct {
	Expr    Expr
	Pattern Expr
	Not     bool
}

func (e *LikeExpr) Eval(env Env) (interface{}, error) {
	v, err := e.Expr.Eval(env)
	if err != nil || v == nil {
		return nil, err
	}
	p, err := e.Pattern.Eval(env)
	if err != nil || p == nil {
		return nil, err
	}
	pattern, ok := p.(string)
	if !ok {
		return nil, fmt.Errorf("LIKE pattern must be a string, got %s", typeName(p))
	}
	return matchLikePattern(formatValue(v), pattern) != e.Not, nil
}

func (e *LikeExpr) String() string {
	op := " LIKE "
	if e.Not {
		op = " NOT LIKE "
	}
	return e.Expr.String() + op + e.Pattern.String()
}

// BetweenExpr is x [NOT] BETWEEN low AND high, inclusive.
type BetweenExpr struct {
	Expr Expr
	Low  Expr
	High Expr
	Not  bool
}

func (e *BetweenExpr) Eval(env Env) (interface{}, error) {
	lower := &BinaryExpr{Op: TokenGreaterEqual, Left: e.Expr, Right: e.Low}
	upper := &BinaryExpr{Op: TokenLessEqual, Left: e.Expr, Right: e.High}
	v, err := (&BinaryExpr{Op: TokenAnd, Left: lower, Right: upper}).Eval(env)
	if err != nil || v == nil || !e.Not {
		return v, err
	}
	return !v.(bool), nil
}

func (e *BetweenExpr) String() string {
	op := " BETWEEN "
	if e.Not {
		op = " NOT BETWEEN "
	}
	return e.Expr.String() + op + e.Low.String() + " AND " + e.High.String()
}

// IsNullExpr is x IS [NOT] NULL.
type IsNullExpr struct {
	Expr Expr
	Not  bool
}

func (e *IsNullExpr) Eval(env Env) (interface{}, error) {
	v, err := e.Expr.Eval(env)
	if err != nil {
		return nil, err
	}
	return (v == nil) != e.Not, nil
}

func (e *IsNullExpr) String() string {
	if e.Not {
		return e.Expr.String() + " IS NOT NULL"
	}
	return e.Expr.String() + " IS NULL"
}

// WhenClause is one WHEN ... THEN ... arm.
type WhenClause struct {
	Condition Expr
	Result    Expr
}

// CaseExpr is a searched CASE, or a simple CASE when Operand is set.
type CaseExpr struct {
	Operand Expr
	Whens   []WhenClause
	Else    Expr
}

func (e *CaseExpr) Eval(env Env) (interface{}, error) {
	var operand interface{}
	if e.Operand != nil {
		v, err := e.Operand.Eval(env)
		if err != nil {
			return nil, err
		}
		operand = v
	}
	for _, w := range e.Whens {
		cond, err := w.Condition.Eval(env)
		if err != nil {
			return nil, err
		}
		var matched bool
		if e.Operand != nil {
			eq, err := compare(operand, TokenEqual, cond)
			if err != nil {
				return nil, err
			}
			matched = eq == true
		} else if matched, err = truth(cond); err != nil {
			return nil, err
		}
		if matched {
			return w.Result.Eval(env)
		}
	}
	if e.Else != nil {
		return e.Else.Eval(env)
	}
	return nil, nil
}

func (e *CaseExpr) String() string {
	var b strings.Builder
	b.WriteString("CASE")
	if e.Operand != nil {
		b.WriteString(" " + e.Operand.String())
	}
	for _, w := range e.Whens {
		b.WriteString(" WHEN " + w.Condition.String() + " THEN " + w.Result.String())
	}
	if e.Else != nil {
		b.WriteString(" ELSE " + e.Else.String())
	}
	b.WriteString(" END")
	return b.String()
}

// FuncCall invokes a registered scalar function.
type FuncCall struct {
	Name string
	Args []Expr
	fn   Function
}

func (e *FuncCall) Eval(env Env) (interface{}, error) {
	args := make([]interface{}, len(e.Args))
	for i, a := range e.Args {
		v, err := a.Eval(env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	v, err := e.fn.Evaluate(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name, err)
	}
	return normalize(v), nil
}

func (e *FuncCall) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return e.Name + "(" + strings.Join(args, ", ") + ")"
}

// AggregateExpr is COUNT, SUM, AVG, MIN or MAX. Its value comes from the
// group being projected.
type AggregateExpr struct {
	Func     string
	Arg      Expr // nil for COUNT(*)
	Distinct bool
}

// aggregateEnv is implemented by environments that carry computed
// aggregate values.
type aggregateEnv interface {
	aggregate(*AggregateExpr) (interface{}, bool)
}

func (e *AggregateExpr) Eval(env Env) (interface{}, error) {
	if ae, ok := env.(aggregateEnv); ok {
		if v, ok := ae.aggregate(e); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("aggregate %s is not allowed here", e)
}

func (e *AggregateExpr) String() string {
	arg := "*"
	if e.Arg != nil {
		arg = e.Arg.String()
	}
	if e.Distinct {
		arg = "DISTINCT " + arg
	}
	return e.Func + "(" + arg + ")"
}

// walkExpr visits e and its children depth first. Returning false from
// visit stops descent into that node.
func walkExpr(e Expr, visit func(Expr) bool) {
	if e == nil || !visit(e) {
		return
	}
	switch n := e.(type) {
	case *UnaryExpr:
		walkExpr(n.Operand, visit)
	case *BinaryExpr:
		walkExpr(n.Left, visit)
		walkExpr(n.Right, visit)
	case *InExpr:
		walkExpr(n.Expr, visit)
		for _, item := range n.List {
			walkExpr(item, visit)
		}
	case *LikeExpr:
		walkExpr(n.Expr, visit)
		walkExpr(n.Pattern, visit)
	case *BetweenExpr:
		walkExpr(n.Expr, visit)
		walkExpr(n.Low, visit)
		walkExpr(n.High, visit)
	case *IsNullExpr:
		walkExpr(n.Expr, visit)
	case *CaseExpr:
		walkExpr(n.Operand, visit)
		for _, w := range n.Whens {
			walkExpr(w.Condition, visit)
			walkExpr(w.Result, visit)
		}
		walkExpr(n.Else, visit)
	case *FuncCall:
		for _, a := range n.Args {
			walkExpr(a, visit)
		}
	case *AggregateExpr:
		walkExpr(n.Arg, visit)
	case *CastExpr:
		walkExpr(n.Expr, visit)
	case *InSubqueryExpr:
		walkExpr(n.Expr, visit)
	case *WindowExpr:
		for _, a := range n.Args {
			walkExpr(a, visit)
		}
		if n.Aggregate != nil {
			walkExpr(n.Aggregate.Arg, visit)
		}
		for _, p := range n.PartitionBy {
			walkExpr(p, visit)
		}
		for _, o := range n.OrderBy {
			walkExpr(o.Expr, visit)
		}
	}
}

// collectAggregates returns the aggregate calls in e, outermost only.
func collectAggregates(e Expr) []*AggregateExpr {
	var out []*AggregateExpr
	walkExpr(e, func(n Expr) bool {
		if agg, ok := n.(*AggregateExpr); ok {
			out = append(out, agg)
			return false
		}
		return true
	})
	return out
}

func hasAggregate(e Expr) bool {
	return len(collectAggregates(e)) > 0
}

// Columns returns the column references in e.
func Columns(e Expr) []*ColumnRef {
	var out []*ColumnRef
	walkExpr(e, func(n Expr) bool {
		if c, ok := n.(*ColumnRef); ok {
			out = append(out, c)
		}
		return true
	})
	return out
}

// Eval evaluates e against a single record. A qualified reference looks up
// the key "qualifier.name"; keys match case-insensitively.
func Eval(e Expr, record map[string]interface{}) (interface{}, error) {
	return e.Eval(recordEnv(record))
}

type recordEnv map[string]interface{}

func (r recordEnv) Column(table, name string) (interface{}, error) {
	if table != "" {
		if v, ok := lookupFold(r, table+"."+name); ok {
			return normalize(v), nil
		}
		return nil, fmt.Errorf("unknown column %s.%s", table, name)
	}
	if v, ok := lookupFold(r, name); ok {
		return normalize(v), nil
	}
	return nil, fmt.Errorf("unknown column %s", name)
}

func lookupFold(m map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
