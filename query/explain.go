package query

import (
	"fmt"
	"strings"
)

type planNode struct {
	label    string
	children []*planNode
}

// Plan renders the statement's logical plan. It reads no table data.
func (s *Statement) Plan() string {
	var b strings.Builder
	b.WriteString("== Plan ==\n")
	planFor(s.stmt, nil, s.bindings).render(&b, "", "")
	return strings.TrimRight(b.String(), "\n")
}

// Explain compiles sql against bindings and returns its plan.
func Explain(sql string, bindings Bindings) (string, error) {
	st, err := Compile(sql, bindings)
	if err != nil {
		return "", err
	}
	return st.Plan(), nil
}

func planFor(stmt *Select, scope map[string]bool, bindings Bindings) *planNode {
	local := make(map[string]bool, len(scope)+len(stmt.With))
	for k := range scope {
		local[k] = true
	}
	var ctes []*planNode
	for _, cte := range stmt.With {
		ctes = append(ctes, &planNode{
			label:    "CTE " + cte.Name,
			children: []*planNode{planFor(cte.Query, local, bindings)},
		})
		local[normalizeName(cte.Name)] = true
	}

	node := sourcePlan(stmt.From, local, bindings)
	for _, j := range stmt.Joins {
		label := j.Type.String() + " Join"
		if j.Condition != nil {
			label += " " + j.Condition.String()
		}
		node = &planNode{label: label, children: []*planNode{node, sourcePlan(&j.Table, local, bindings)}}
	}
	if stmt.Where != nil {
		node = wrap("Filter "+stmt.Where.String(), node)
	}
	if isAggregateQuery(stmt) {
		keys := exprList(stmt.GroupBy)
		var aggs []string
		for _, item := range stmt.Items {
			for _, a := range collectAggregates(item.Expr) {
				aggs = append(aggs, a.String())
			}
		}
		node = wrap(fmt.Sprintf("Aggregate keys=[%s] functions=[%s]", keys, strings.Join(aggs, ", ")), node)
		if stmt.Having != nil {
			node = wrap("Filter "+stmt.Having.String(), node)
		}
	}

	var windows []string
	for _, item := range stmt.Items {
		for _, w := range collectWindows(item.Expr) {
			windows = append(windows, w.String())
		}
	}
	if len(windows) > 0 {
		node = wrap("Window ["+strings.Join(windows, ", ")+"]", node)
	}

	items := make([]string, len(stmt.Items))
	for i, item := range stmt.Items {
		items[i] = item.Expr.String()
		if item.Alias != "" {
			items[i] += " AS " + item.Alias
		}
	}
	node = wrap("Project ["+strings.Join(items, ", ")+"]", node)
	if stmt.Distinct {
		node = wrap("Distinct", node)
	}
	if len(stmt.OrderBy) > 0 {
		keys := make([]string, len(stmt.OrderBy))
		for i, o := range stmt.OrderBy {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			keys[i] = o.Expr.String() + " " + dir
		}
		node = wrap("Sort ["+strings.Join(keys, ", ")+"]", node)
	}
	if stmt.Limit != nil || stmt.Offset != nil {
		var parts []string
		if stmt.Limit != nil {
			parts = append(parts, fmt.Sprintf("limit=%d", *stmt.Limit))
		}
		if stmt.Offset != nil {
			parts = append(parts, fmt.Sprintf("offset=%d", *stmt.Offset))
		}
		node = wrap("Limit "+strings.Join(parts, " "), node)
	}
	var subs []*planNode
	for _, sub := range expressionSubqueries(stmt) {
		subs = append(subs, &planNode{label: "Subquery", children: []*planNode{planFor(sub, local, bindings)}})
	}
	if len(subs) > 0 {
		node = &planNode{label: "WithSubqueries", children: append(subs, node)}
	}
	if len(ctes) > 0 {
		node = &planNode{label: "WithCTE", children: append(ctes, node)}
	}
	return node
}

func sourcePlan(ref *TableRef, scope map[string]bool, bindings Bindings) *planNode {
	switch {
	case ref == nil:
		return &planNode{label: "OneRowRelation"}
	case ref.Subquery != nil:
		return &planNode{label: "SubqueryAlias " + ref.Alias, children: []*planNode{planFor(ref.Subquery, scope, bindings)}}
	case scope[normalizeName(ref.Name)]:
		return &planNode{label: "CTERef " + ref.Name + " AS " + ref.Qualifier()}
	}
	label := "Scan " + ref.Name
	if t, ok := bindings.Lookup(ref.Name); ok {
		label = t.Describe()
	}
	if ref.Alias != "" {
		label += " AS " + ref.Alias
	}
	return &planNode{label: label}
}

func wrap(label string, child *planNode) *planNode {
	return &planNode{label: label, children: []*planNode{child}}
}

func exprList(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

func (n *planNode) render(b *strings.Builder, first, rest string) {
	b.WriteString(first)
	b.WriteString(n.label)
	b.WriteByte('\n')
	for i, c := range n.children {
		if i == len(n.children)-1 {
			c.render(b, rest+"+- ", rest+"   ")
		} else {
			c.render(b, rest+":- ", rest+":  ")
		}
	}
}
