package query

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/vegasq/deltagate/gatewayerr"
)

// countingTable records how often it is read.
type countingTable struct {
	*MemTable
	reads atomic.Int32
	err   error
}

func (c *countingTable) Read(ctx context.Context) (*Result, error) {
	c.reads.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.MemTable.Read(ctx)
}

func testBindings() Bindings {
	orders := &MemTable{
		Name:    "main.sales.orders",
		Columns: []string{"id", "customer", "region", "amount"},
		Rows: [][]interface{}{
			{1, "alice", "east", 10.0},
			{2, "bob", "west", 20.5},
			{3, "alice", "east", 5.0},
			{4, "carol", nil, 7.5},
		},
	}
	customers := &MemTable{
		Name:    "main.sales.customers",
		Columns: []string{"id", "name", "tier"},
		Rows: [][]interface{}{
			{int32(1), "alice", "gold"},
			{int32(2), "bob", "silver"},
			{int32(3), "dave", "bronze"},
		},
	}
	return Bindings{
		"main.sales.orders":    orders,
		"main.sales.customers": customers,
	}
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		columns []string
		rows    [][]interface{}
	}{
		{
			name:    "filter and order",
			sql:     "SELECT id, amount FROM main.sales.orders WHERE amount > 6 ORDER BY id",
			columns: []string{"id", "amount"},
			rows:    [][]interface{}{{int64(1), 10.0}, {int64(2), 20.5}, {int64(4), 7.5}},
		},
		{
			name:    "group by with aggregates",
			sql:     "SELECT customer, SUM(amount) AS total, COUNT(*) AS n FROM main.sales.orders GROUP BY customer ORDER BY total DESC",
			columns: []string{"customer", "total", "n"},
			rows: [][]interface{}{
				{"bob", 20.5, int64(1)},
				{"alice", 15.0, int64(2)},
				{"carol", 7.5, int64(1)},
			},
		},
		{
			name:    "null never equals",
			sql:     "SELECT id FROM main.sales.orders WHERE region <> 'east'",
			columns: []string{"id"},
			rows:    [][]interface{}{{int64(2)}},
		},
		{
			name:    "is null",
			sql:     "SELECT id FROM main.sales.orders WHERE region IS NULL",
			columns: []string{"id"},
			rows:    [][]interface{}{{int64(4)}},
		},
		{
			name:    "left join",
			sql:     "SELECT o.id, c.tier FROM main.sales.orders o LEFT JOIN main.sales.customers c ON o.customer = c.name ORDER BY o.id",
			columns: []string{"id", "tier"},
			rows:    [][]interface{}{{int64(1), "gold"}, {int64(2), "silver"}, {int64(3), "gold"}, {int64(4), nil}},
		},
		{
			name:    "full join",
			sql:     "SELECT COUNT(*) AS n FROM main.sales.orders o FULL OUTER JOIN main.sales.customers c ON o.customer = c.name",
			columns: []string{"n"},
			rows:    [][]interface{}{{int64(5)}},
		},
		{
			name:    "right join keeps unmatched right rows",
			sql:     "SELECT c.name FROM main.sales.orders o RIGHT JOIN main.sales.customers c ON o.customer = c.name WHERE o.id IS NULL",
			columns: []string{"name"},
			rows:    [][]interface{}{{"dave"}},
		},
		{
			name:    "without from",
			sql:     "SELECT 1 + 2 AS three, 'a' || 'b' AS ab, 7 / 2 AS half",
			columns: []string{"three", "ab", "half"},
			rows:    [][]interface{}{{int64(3), "ab", 3.5}},
		},
		{
			name:    "distinct",
			sql:     "SELECT DISTINCT customer FROM main.sales.orders ORDER BY customer",
			columns: []string{"customer"},
			rows:    [][]interface{}{{"alice"}, {"bob"}, {"carol"}},
		},
		{
			name:    "limit offset",
			sql:     "SELECT id FROM main.sales.orders ORDER BY id LIMIT 2 OFFSET 1",
			columns: []string{"id"},
			rows:    [][]interface{}{{int64(2)}, {int64(3)}},
		},
		{
			name:    "cte",
			sql:     "WITH big AS (SELECT * FROM main.sales.orders WHERE amount >= 10) SELECT COUNT(*) AS n FROM big",
			columns: []string{"n"},
			rows:    [][]interface{}{{int64(2)}},
		},
		{
			name:    "aggregate over no rows",
			sql:     "SELECT COUNT(*) AS n, SUM(amount) AS s FROM main.sales.orders WHERE amount > 100",
			columns: []string{"n", "s"},
			rows:    [][]interface{}{{int64(0), nil}},
		},
		{
			name:    "subquery in from",
			sql:     "SELECT s.customer FROM (SELECT customer, amount FROM main.sales.orders) s WHERE s.amount > 15",
			columns: []string{"customer"},
			rows:    [][]interface{}{{"bob"}},
		},
		{
			name:    "case insensitive table name",
			sql:     "SELECT COUNT(*) AS n FROM MAIN.Sales.`Orders`",
			columns: []string{"n"},
			rows:    [][]interface{}{{int64(4)}},
		},
		{
			name:    "case expression",
			sql:     "SELECT id, CASE WHEN amount >= 10 THEN 'big' ELSE 'small' END AS size FROM main.sales.orders ORDER BY id",
			columns: []string{"id", "size"},
			rows:    [][]interface{}{{int64(1), "big"}, {int64(2), "big"}, {int64(3), "small"}, {int64(4), "small"}},
		},
		{
			name:    "like",
			sql:     "SELECT id FROM main.sales.orders WHERE customer LIKE 'a%' ORDER BY id",
			columns: []string{"id"},
			rows:    [][]interface{}{{int64(1)}, {int64(3)}},
		},
		{
			name:    "in list",
			sql:     "SELECT id FROM main.sales.orders WHERE id IN (2, 4) ORDER BY id DESC",
			columns: []string{"id"},
			rows:    [][]interface{}{{int64(4)}, {int64(2)}},
		},
		{
			name:    "between is inclusive",
			sql:     "SELECT id FROM main.sales.orders WHERE amount BETWEEN 7.5 AND 10 ORDER BY id",
			columns: []string{"id"},
			rows:    [][]interface{}{{int64(1)}, {int64(4)}},
		},
		{
			name:    "fully qualified column",
			sql:     "SELECT main.sales.orders.id, orders.customer FROM main.sales.orders WHERE main.sales.orders.id = 1",
			columns: []string{"id", "customer"},
			rows:    [][]interface{}{{int64(1), "alice"}},
		},
		{
			name:    "having",
			sql:     "SELECT customer FROM main.sales.orders GROUP BY customer HAVING COUNT(*) > 1",
			columns: []string{"customer"},
			rows:    [][]interface{}{{"alice"}},
		},
		{
			name:    "order by aggregate not selected",
			sql:     "SELECT customer FROM main.sales.orders GROUP BY customer ORDER BY MAX(amount)",
			columns: []string{"customer"},
			rows:    [][]interface{}{{"carol"}, {"alice"}, {"bob"}},
		},
		{
			name:    "order by position",
			sql:     "SELECT customer, id FROM main.sales.orders ORDER BY 2 DESC LIMIT 1",
			columns: []string{"customer", "id"},
			rows:    [][]interface{}{{"carol", int64(4)}},
		},
		{
			name:    "nulls sort first",
			sql:     "SELECT id FROM main.sales.orders ORDER BY region, id",
			columns: []string{"id"},
			rows:    [][]interface{}{{int64(4)}, {int64(1)}, {int64(3)}, {int64(2)}},
		},
		{
			name:    "qualified star",
			sql:     "SELECT c.* FROM main.sales.customers c WHERE c.id = 3",
			columns: []string{"id", "name", "tier"},
			rows:    [][]interface{}{{int64(3), "dave", "bronze"}},
		},
		{
			name:    "count distinct and avg",
			sql:     "SELECT COUNT(DISTINCT customer) AS c, AVG(amount) AS a FROM main.sales.orders",
			columns: []string{"c", "a"},
			rows:    [][]interface{}{{int64(3), 10.75}},
		},
		{
			name:    "scalar functions",
			sql:     "SELECT UPPER(customer) AS u, COALESCE(region, 'none') AS r FROM main.sales.orders WHERE id = 4",
			columns: []string{"u", "r"},
			rows:    [][]interface{}{{"CAROL", "none"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, plan, err := Execute(context.Background(), tt.sql, testBindings())
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if plan == "" {
				t.Error("empty plan")
			}
			if !reflect.DeepEqual(res.Columns, tt.columns) {
				t.Errorf("Columns = %v, want %v", res.Columns, tt.columns)
			}
			if len(res.Rows) != len(tt.rows) {
				t.Fatalf("got %d rows %v, want %d %v", len(res.Rows), res.Rows, len(tt.rows), tt.rows)
			}
			for i := range tt.rows {
				if !reflect.DeepEqual(res.Rows[i], tt.rows[i]) {
					t.Errorf("row %d = %v, want %v", i, res.Rows[i], tt.rows[i])
				}
			}
		})
	}
}

func TestExecuteErrors(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		kind gatewayerr.Kind
	}{
		{"unbound table", "SELECT * FROM main.sales.missing", gatewayerr.KindQuery},
		{"syntax", "SELECT FROM", gatewayerr.KindQuery},
		{"ungrouped column", "SELECT customer, amount FROM main.sales.orders GROUP BY customer", gatewayerr.KindQuery},
		{"star without from", "SELECT *", gatewayerr.KindQuery},
		{"unknown column", "SELECT nope FROM main.sales.orders", gatewayerr.KindExecution},
		{"type mismatch", "SELECT customer + 1 FROM main.sales.orders", gatewayerr.KindExecution},
		{"ambiguous column", "SELECT id FROM main.sales.orders o JOIN main.sales.customers c ON o.customer = c.name", gatewayerr.KindExecution},
		{"non boolean where", "SELECT id FROM main.sales.orders WHERE amount", gatewayerr.KindExecution},
		{"order position out of range", "SELECT id FROM main.sales.orders ORDER BY 3", gatewayerr.KindExecution},
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

func TestExecuteUnboundTableFragment(t *testing.T) {
	_, _, err := Execute(context.Background(), "SELECT * FROM main.sales.missing", testBindings())
	var qe *gatewayerr.QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("error = %v, want *QueryError", err)
	}
	if qe.Fragment != "main.sales.missing" {
		t.Errorf("Fragment = %q", qe.Fragment)
	}
}

func TestExecuteReadsEachTableOnce(t *testing.T) {
	orders := &countingTable{MemTable: testBindings()["main.sales.orders"].(*MemTable)}
	bindings := Bindings{"main.sales.orders": orders}

	res, _, err := Execute(context.Background(),
		"SELECT a.id FROM main.sales.orders a JOIN main.sales.orders b ON a.id = b.id", bindings)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(res.Rows) != 4 {
		t.Errorf("got %d rows, want 4", len(res.Rows))
	}
	if got := orders.reads.Load(); got != 1 {
		t.Errorf("reads = %d, want 1", got)
	}
}

func TestPlanDoesNotReadTables(t *testing.T) {
	orders := &countingTable{MemTable: testBindings()["main.sales.orders"].(*MemTable)}
	bindings := Bindings{"main.sales.orders": orders}

	plan, err := Explain("SELECT customer, SUM(amount) FROM main.sales.orders WHERE id > 1 GROUP BY customer", bindings)
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if orders.reads.Load() != 0 {
		t.Error("Explain read the table")
	}
	for _, want := range []string{"Aggregate", "Filter (id > 1)", "LocalScan main.sales.orders"} {
		if !strings.Contains(plan, want) {
			t.Errorf("plan missing %q:\n%s", want, plan)
		}
	}
}

func TestExecuteTableReadErrors(t *testing.T) {
	unavailable := &gatewayerr.UnavailableError{Service: "storage", Err: errors.New("timeout")}
	tests := []struct {
		name string
		err  error
		kind gatewayerr.Kind
	}{
		{"classified error passes through", unavailable, gatewayerr.KindUnavailable},
		{"plain error becomes execution error", errors.New("corrupt file"), gatewayerr.KindExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := &countingTable{MemTable: &MemTable{Name: "t"}, err: tt.err}
			_, _, err := Execute(context.Background(), "SELECT * FROM main.sales.orders", Bindings{"main.sales.orders": table})
			if got := gatewayerr.KindOf(err); got != tt.kind {
				t.Errorf("KindOf() = %s, want %s", got, tt.kind)
			}
		})
	}
}

func TestExecuteCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Execute(ctx, "SELECT * FROM main.sales.orders", testBindings())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestResultRecords(t *testing.T) {
	res := &Result{Columns: []string{"a", "b"}, Rows: [][]interface{}{{int64(1), "x"}}}
	got := res.Records()
	want := []map[string]interface{}{{"a": int64(1), "b": "x"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Records() = %v, want %v", got, want)
	}
}
