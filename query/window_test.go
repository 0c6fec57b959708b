package query

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/vegasq/deltagate/gatewayerr"
)

func TestExecuteWindows(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		columns []string
		rows    [][]interface{}
	}{
		{
			name:    "row number per partition",
			sql:     "SELECT id, ROW_NUMBER() OVER (PARTITION BY customer ORDER BY amount DESC) AS rn FROM main.sales.orders ORDER BY id",
			columns: []string{"id", "rn"},
			rows:    [][]interface{}{{int64(1), int64(1)}, {int64(2), int64(1)}, {int64(3), int64(2)}, {int64(4), int64(1)}},
		},
		{
			name:    "rank and dense rank share ties",
			sql:     "SELECT id, RANK() OVER (ORDER BY region) AS r, DENSE_RANK() OVER (ORDER BY region) AS d FROM main.sales.orders ORDER BY id",
			columns: []string{"id", "r", "d"},
			rows: [][]interface{}{
				{int64(1), int64(2), int64(2)},
				{int64(2), int64(4), int64(3)},
				{int64(3), int64(2), int64(2)},
				{int64(4), int64(1), int64(1)},
			},
		},
		{
			name:    "running sum",
			sql:     "SELECT id, SUM(amount) OVER (ORDER BY id) AS running FROM main.sales.orders ORDER BY id",
			columns: []string{"id", "running"},
			rows:    [][]interface{}{{int64(1), 10.0}, {int64(2), 30.5}, {int64(3), 35.5}, {int64(4), 43.0}},
		},
		{
			name:    "partition totals without order",
			sql:     "SELECT id, COUNT(*) OVER (PARTITION BY customer) AS n, AVG(amount) OVER (PARTITION BY customer) AS avg FROM main.sales.orders ORDER BY id",
			columns: []string{"id", "n", "avg"},
			rows: [][]interface{}{
				{int64(1), int64(2), 7.5},
				{int64(2), int64(1), 20.5},
				{int64(3), int64(2), 7.5},
				{int64(4), int64(1), 7.5},
			},
		},
		{
			name:    "lag and lead with default",
			sql:     "SELECT id, LAG(id) OVER (ORDER BY id) AS prev, LEAD(id, 2, 0) OVER (ORDER BY id) AS next2 FROM main.sales.orders ORDER BY id",
			columns: []string{"id", "prev", "next2"},
			rows: [][]interface{}{
				{int64(1), nil, int64(3)},
				{int64(2), int64(1), int64(4)},
				{int64(3), int64(2), int64(0)},
				{int64(4), int64(3), int64(0)},
			},
		},
		{
			name:    "first and last value use the running frame",
			sql:     "SELECT id, FIRST_VALUE(id) OVER (PARTITION BY customer ORDER BY id) AS f, LAST_VALUE(id) OVER (PARTITION BY customer ORDER BY id) AS l FROM main.sales.orders ORDER BY id",
			columns: []string{"id", "f", "l"},
			rows: [][]interface{}{
				{int64(1), int64(1), int64(1)},
				{int64(2), int64(2), int64(2)},
				{int64(3), int64(1), int64(3)},
				{int64(4), int64(4), int64(4)},
			},
		},
		{
			name:    "ntile spreads the remainder first",
			sql:     "SELECT id, NTILE(3) OVER (ORDER BY id) AS t FROM main.sales.orders ORDER BY id",
			columns: []string{"id", "t"},
			rows:    [][]interface{}{{int64(1), int64(1)}, {int64(2), int64(1)}, {int64(3), int64(2)}, {int64(4), int64(3)}},
		},
		{
			name:    "nth value is null before the frame reaches it",
			sql:     "SELECT id, NTH_VALUE(id, 2) OVER (ORDER BY id) AS second FROM main.sales.orders ORDER BY id",
			columns: []string{"id", "second"},
			rows:    [][]interface{}{{int64(1), nil}, {int64(2), int64(2)}, {int64(3), int64(2)}, {int64(4), int64(2)}},
		},
		{
			name:    "rank over grouped totals",
			sql:     "SELECT customer, SUM(amount) AS total, RANK() OVER (ORDER BY SUM(amount) DESC) AS r FROM main.sales.orders GROUP BY customer ORDER BY r",
			columns: []string{"customer", "total", "r"},
			rows: [][]interface{}{
				{"bob", 20.5, int64(1)},
				{"alice", 15.0, int64(2)},
				{"carol", 7.5, int64(3)},
			},
		},
		{
			name:    "order by a window call",
			sql:     "SELECT id FROM main.sales.orders ORDER BY ROW_NUMBER() OVER (ORDER BY amount)",
			columns: []string{"id"},
			rows:    [][]interface{}{{int64(3)}, {int64(4)}, {int64(1)}, {int64(2)}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _, err := Execute(context.Background(), tt.sql, testBindings())
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if !reflect.DeepEqual(res.Columns, tt.columns) {
				t.Errorf("Columns = %v, want %v", res.Columns, tt.columns)
			}
			if len(res.Rows) != len(tt.rows) {
				t.Fatalf("got %d rows, want %d: %v", len(res.Rows), len(tt.rows), res.Rows)
			}
			for i := range tt.rows {
				if !reflect.DeepEqual(res.Rows[i], tt.rows[i]) {
					t.Errorf("row %d = %v, want %v", i, res.Rows[i], tt.rows[i])
				}
			}
		})
	}
}

func TestExecuteWindowErrors(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		kind gatewayerr.Kind
	}{
		{"window in where", "SELECT id FROM main.sales.orders WHERE ROW_NUMBER() OVER () = 1", gatewayerr.KindQuery},
		{"window in group by", "SELECT COUNT(*) FROM main.sales.orders GROUP BY RANK() OVER (ORDER BY id)", gatewayerr.KindQuery},
		{"window in having", "SELECT customer FROM main.sales.orders GROUP BY customer HAVING RANK() OVER () = 1", gatewayerr.KindQuery},
		{"missing over", "SELECT ROW_NUMBER() FROM main.sales.orders", gatewayerr.KindQuery},
		{"window inside aggregate", "SELECT SUM(ROW_NUMBER() OVER ()) FROM main.sales.orders", gatewayerr.KindQuery},
		{"nested window", "SELECT LAG(ROW_NUMBER() OVER ()) OVER () FROM main.sales.orders", gatewayerr.KindQuery},
		{"frame clause", "SELECT SUM(amount) OVER (ORDER BY id ROWS BETWEEN 1 PRECEDING AND CURRENT ROW) FROM main.sales.orders", gatewayerr.KindQuery},
		{"wrong arity", "SELECT NTILE() OVER () FROM main.sales.orders", gatewayerr.KindQuery},
		{"non positive ntile", "SELECT NTILE(0) OVER () FROM main.sales.orders", gatewayerr.KindExecution},
		{"negative lag offset", "SELECT LAG(id, -1) OVER (ORDER BY id) FROM main.sales.orders", gatewayerr.KindExecution},
		{"nth value position zero", "SELECT NTH_VALUE(id, 0) OVER () FROM main.sales.orders", gatewayerr.KindExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Execute(context.Background(), tt.sql, testBindings())
			if err == nil {
				t.Fatal("Execute() error = nil")
			}
			if got := gatewayerr.KindOf(err); got != tt.kind {
				t.Errorf("KindOf() = %s, want %s (%v)", got, tt.kind, err)
			}
		})
	}
}

func TestParseExprRejectsWindows(t *testing.T) {
	if _, err := ParseExpr("ROW_NUMBER() OVER (ORDER BY id) = 1"); err == nil {
		t.Fatal("ParseExpr() accepted a window function")
	}
}

func TestWindowString(t *testing.T) {
	stmt, err := Parse("SELECT SUM(amount) OVER (PARTITION BY customer ORDER BY id DESC), LAG(id, 1) OVER () FROM t")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []string{
		"SUM(amount) OVER (PARTITION BY customer ORDER BY id DESC)",
		"LAG(id, 1) OVER ()",
	}
	for i, w := range want {
		if got := stmt.Items[i].Expr.String(); got != w {
			t.Errorf("item %d = %q, want %q", i, got, w)
		}
	}
}

func TestPlanShowsWindow(t *testing.T) {
	plan, err := Explain("SELECT id, ROW_NUMBER() OVER (ORDER BY id) FROM main.sales.orders", testBindings())
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if !strings.Contains(plan, "Window [ROW_NUMBER() OVER (ORDER BY id)]") {
		t.Errorf("plan missing window node:\n%s", plan)
	}
}
