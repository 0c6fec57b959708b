package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/vegasq/deltagate/tableformat"
)

// run executes the root command with args against a local warehouse and
// returns what it printed to stdout.
func run(t *testing.T, warehouse string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append(args, "--catalog-type", "local", "--warehouse", warehouse, "--log-level", "warn"))
	err := rootCmd.Execute()
	if err != nil {
		t.Logf("stderr: %s", stderr.String())
	}
	return stdout.String(), err
}

func TestEndToEnd(t *testing.T) {
	warehouse := t.TempDir()
	if err := os.MkdirAll(filepath.Join(warehouse, "main"), 0o755); err != nil {
		t.Fatal(err)
	}
	rows := filepath.Join(t.TempDir(), "orders.jsonl")
	data := `{"id": 1, "status": "open", "amount": 12.5}
{"id": 2, "status": "closed", "amount": 40}

{"id": 3, "status": "open", "amount": 7.25}
`
	if err := os.WriteFile(rows, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, warehouse, "create", "schema", "main.sales", "--comment", "sales data")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"full_name": "main.sales"`) {
		t.Errorf("create schema printed %s", out)
	}

	if _, err := run(t, warehouse, "create", "table", "main.sales.orders"); err != nil {
		t.Fatal(err)
	}

	out, err = run(t, warehouse, "append", "main.sales.orders", "--file", rows)
	if err != nil {
		t.Fatal(err)
	}
	var res struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil || res.State != "DONE" {
		t.Errorf("append printed %s (%v)", out, err)
	}

	out, err = run(t, warehouse, "query", "-f", "jsonl", "-q",
		"SELECT status, COUNT(*) AS n FROM main.sales.orders GROUP BY status ORDER BY status")
	if err != nil {
		t.Fatal(err)
	}
	want := "{\"status\":\"closed\",\"n\":1}\n{\"status\":\"open\",\"n\":2}\n"
	if out != want {
		t.Errorf("query printed %q, want %q", out, want)
	}

	out, err = run(t, warehouse, "query", "--explain", "-q", "SELECT id FROM main.sales.orders")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "DeltaScan main.sales.orders") {
		t.Errorf("plan = %q", out)
	}
	// Flag values stick to the command between runs.
	queryCmd.Flags().Set("explain", "false")

	out, err = run(t, warehouse, "tables", "main.sales", "-f", "jsonl")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"full_name":"main.sales.orders"`) {
		t.Errorf("tables printed %s", out)
	}

	out, err = run(t, warehouse, "history", "main.sales.orders", "-f", "jsonl")
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(out, "\n"); n != 1 {
		t.Errorf("history has %d commits:\n%s", n, out)
	}
}

func TestCommandErrors(t *testing.T) {
	warehouse := t.TempDir()
	tests := []struct {
		name string
		args []string
	}{
		{"query without sql", []string{"query", "-q", ""}},
		{"tables without schema", []string{"tables", "main"}},
		{"unknown table", []string{"table", "main.sales.nope"}},
		{"append without file", []string{"append", "main.sales.orders", "--file", ""}},
		{"bad filter", []string{"compact", "main.sales.orders", "--filter", "day"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, warehouse, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in      string
		want    tableformat.PartitionFilter
		wantErr bool
	}{
		{in: "day=2024-01-01", want: tableformat.PartitionFilter{Column: "day", Op: "=", Values: []string{"2024-01-01"}}},
		{in: "day!=2024-01-01", want: tableformat.PartitionFilter{Column: "day", Op: "!=", Values: []string{"2024-01-01"}}},
		{in: "region=eu,us", want: tableformat.PartitionFilter{Column: "region", Op: "in", Values: []string{"eu", "us"}}},
		{in: "region!=eu,us", want: tableformat.PartitionFilter{Column: "region", Op: "not in", Values: []string{"eu", "us"}}},
		{in: " day =x", want: tableformat.PartitionFilter{Column: "day", Op: "=", Values: []string{"x"}}},
		{in: "day", wantErr: true},
		{in: "=x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFilter(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestReadRows(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	tests := []struct {
		name    string
		path    string
		want    int
		wantErr bool
	}{
		{"json array", write("a.json", `[{"id": 1}, {"id": 2}]`), 2, false},
		{"jsonl", write("b.jsonl", "{\"id\": 1}\n\n{\"id\": 2}\n{\"id\": 3}\n"), 3, false},
		{"bad jsonl", write("c.jsonl", "{\"id\": 1}\nnot json\n"), 0, true},
		{"unsupported", write("d.csv", "id\n1\n"), 0, true},
		{"missing", filepath.Join(dir, "nope.json"), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := readRows(appendCmd, tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(rows) != tt.want {
				t.Errorf("read %d rows, want %d", len(rows), tt.want)
			}
		})
	}

	rows, err := readRows(appendCmd, filepath.Join(dir, "b.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := rows[2]["id"].(json.Number); !ok || n.String() != "3" {
		t.Errorf("id decoded as %#v", rows[2]["id"])
	}
}

func TestExpandFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.parquet", "a.parquet", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := expandFiles(filepath.Join(dir, "*.parquet"))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "a.parquet"), filepath.Join(dir, "b.parquet")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := expandFiles(filepath.Join(dir, "*.orc")); err == nil {
		t.Error("expected error for a pattern with no matches")
	}
	if _, err := expandFiles(filepath.Join(dir, "missing.parquet")); err == nil {
		t.Error("expected error for a missing file")
	}
}
