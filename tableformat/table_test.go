package tableformat

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/vegasq/deltagate/gatewayerr"
	"github.com/vegasq/deltagate/storage"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestTable(t *testing.T) (*Table, *storage.Local, *testClock) {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	clock := &testClock{now: time.Now()}
	return New(store, WithName("main.sales.orders"), WithClock(clock.Now)), store, clock
}

func mustWrite(t *testing.T, tbl *Table, records []map[string]interface{}, opts WriteOptions) *WriteResult {
	t.Helper()
	res, err := tbl.Write(context.Background(), records, opts)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	return res
}

// sortedRows orders rows by their first column, which tests keep integral.
func sortedRows(t *testing.T, tbl *Table) ([]string, [][]interface{}) {
	t.Helper()
	res, err := tbl.Rows(context.Background())
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	rows := res.Rows
	sort.SliceStable(rows, func(i, j int) bool { return rows[i][0].(int64) < rows[j][0].(int64) })
	return res.Columns, rows
}

func TestWriteCreatesAndAppends(t *testing.T) {
	tbl, store, _ := newTestTable(t)
	ctx := context.Background()

	if ok, _ := tbl.Exists(ctx); ok {
		t.Fatal("empty location reported as a table")
	}
	res, err := tbl.Rows(ctx)
	if err != nil || len(res.Rows) != 0 {
		t.Fatalf("Rows on missing table = %+v, %v", res, err)
	}

	first := mustWrite(t, tbl, []map[string]interface{}{
		{"id": 1, "name": "alice", "score": 1.5},
		{"id": 2, "name": nil, "score": 2},
	}, WriteOptions{})
	if first.Version != 0 || first.FilesAdded != 1 || first.RowsWritten != 2 {
		t.Errorf("first write = %+v", first)
	}
	second := mustWrite(t, tbl, []map[string]interface{}{
		{"id": int64(3), "name": "carol"},
	}, WriteOptions{Mode: ModeAppend})
	if second.Version != 1 {
		t.Errorf("second version = %d", second.Version)
	}

	cols, rows := sortedRows(t, tbl)
	if !reflect.DeepEqual(cols, []string{"id", "name", "score"}) {
		t.Errorf("columns = %v", cols)
	}
	want := [][]interface{}{
		{int64(1), "alice", 1.5},
		{int64(2), nil, 2.0},
		{int64(3), "carol", nil},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}

	snap, err := tbl.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 1 || len(snap.Files()) != 2 {
		t.Errorf("snapshot version %d with %d files", snap.Version, len(snap.Files()))
	}
	if f, _ := snap.Schema.Field("score"); f.Type != TypeDouble {
		t.Errorf("score inferred as %s", f.Type)
	}
	if n := snap.Files()[0].NumRecords(); n != 2 {
		t.Errorf("stats numRecords = %d", n)
	}
	if ok, _ := store.Exists(ctx, "_delta_log/00000000000000000001.json"); !ok {
		t.Error("version 1 commit file missing")
	}
}

func TestWritePartitioned(t *testing.T) {
	tbl, store, _ := newTestTable(t)
	ctx := context.Background()

	mustWrite(t, tbl, []map[string]interface{}{
		{"id": 1, "region": "east"},
		{"id": 2, "region": "west"},
		{"id": 3, "region": "east"},
		{"id": 4, "region": nil},
		{"id": 5, "region": "a/b"},
	}, WriteOptions{PartitionBy: []string{"region"}})

	snap, err := tbl.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := snap.PartitionColumns(); !reflect.DeepEqual(got, []string{"region"}) {
		t.Errorf("partition columns = %v", got)
	}
	if len(snap.Files()) != 4 {
		t.Fatalf("expected one file per partition, got %d", len(snap.Files()))
	}
	for _, f := range snap.Files() {
		if !strings.HasPrefix(f.Path, "region=") {
			t.Errorf("file %s is not under a partition directory", f.Path)
		}
		if ok, _ := store.Exists(ctx, storagePath(f.Path)); !ok {
			t.Errorf("file %s missing from storage", f.Path)
		}
	}

	_, rows := sortedRows(t, tbl)
	regions := make([]interface{}, len(rows))
	for i, r := range rows {
		regions[i] = r[1]
	}
	want := []interface{}{"east", "west", "east", nil, "a/b"}
	if !reflect.DeepEqual(regions, want) {
		t.Errorf("regions = %v, want %v", regions, want)
	}
}

func TestWriteErrors(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	mustWrite(t, tbl, []map[string]interface{}{{"id": 1, "region": "east"}}, WriteOptions{PartitionBy: []string{"region"}})

	tests := []struct {
		name    string
		records []map[string]interface{}
		opts    WriteOptions
	}{
		{"empty", nil, WriteOptions{}},
		{"unknown mode", []map[string]interface{}{{"id": 2}}, WriteOptions{Mode: "upsert"}},
		{"unknown column", []map[string]interface{}{{"id": 2, "extra": true}}, WriteOptions{}},
		{"type mismatch", []map[string]interface{}{{"id": "two"}}, WriteOptions{}},
		{"fractional integer", []map[string]interface{}{{"id": 2.5}}, WriteOptions{}},
		{"partition change", []map[string]interface{}{{"id": 2}}, WriteOptions{PartitionBy: []string{"id"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tbl.Write(context.Background(), tt.records, tt.opts)
			if gatewayerr.KindOf(err) != gatewayerr.KindInvalidRequest {
				t.Errorf("expected invalid request, got %v", err)
			}
		})
	}
}

func TestWriteNewTableErrors(t *testing.T) {
	tests := []struct {
		name    string
		records []map[string]interface{}
		opts    WriteOptions
	}{
		{"mixed types", []map[string]interface{}{{"a": 1}, {"a": "x"}}, WriteOptions{}},
		{"missing partition column", []map[string]interface{}{{"a": 1}}, WriteOptions{PartitionBy: []string{"b"}}},
		{"every column partitioned", []map[string]interface{}{{"a": 1}}, WriteOptions{PartitionBy: []string{"a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, _, _ := newTestTable(t)
			_, err := tbl.Write(context.Background(), tt.records, tt.opts)
			if gatewayerr.KindOf(err) != gatewayerr.KindInvalidRequest {
				t.Errorf("expected invalid request, got %v", err)
			}
			if ok, _ := tbl.Exists(context.Background()); ok {
				t.Error("failed write created the table")
			}
		})
	}
}

func TestOverwrite(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	mustWrite(t, tbl, []map[string]interface{}{{"id": 1}, {"id": 2}}, WriteOptions{})
	res := mustWrite(t, tbl, []map[string]interface{}{{"id": 9}}, WriteOptions{Mode: ModeOverwrite})
	if res.FilesRemoved != 1 {
		t.Errorf("FilesRemoved = %d", res.FilesRemoved)
	}
	_, rows := sortedRows(t, tbl)
	if !reflect.DeepEqual(rows, [][]interface{}{{int64(9)}}) {
		t.Errorf("rows after overwrite = %v", rows)
	}
	snap, _ := tbl.Snapshot(context.Background())
	if len(snap.Tombstones()) != 1 {
		t.Errorf("tombstones = %d", len(snap.Tombstones()))
	}
}

func TestCommitConflict(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	mustWrite(t, tbl, []map[string]interface{}{{"id": 1}}, WriteOptions{})

	err := tbl.commit(context.Background(), 0, CommitInfo{Operation: "WRITE"}, nil)
	var conflict *gatewayerr.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Version != 0 || conflict.Table != "main.sales.orders" {
		t.Errorf("conflict = %+v", conflict)
	}
	if !errors.Is(err, storage.ErrExists) {
		t.Error("conflict does not unwrap to storage.ErrExists")
	}
}

func TestHistory(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	ctx := context.Background()
	if _, err := tbl.History(ctx, 0); gatewayerr.KindOf(err) != gatewayerr.KindNotFound {
		t.Fatalf("history of missing table: %v", err)
	}
	mustWrite(t, tbl, []map[string]interface{}{{"id": 1}}, WriteOptions{})
	mustWrite(t, tbl, []map[string]interface{}{{"id": 2}}, WriteOptions{})
	mustWrite(t, tbl, []map[string]interface{}{{"id": 3}}, WriteOptions{Mode: ModeOverwrite})

	all, err := tbl.History(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, c := range all {
		got = append(got, c.Operation+"@"+c.OperationParameters["mode"])
	}
	want := []string{"WRITE@overwrite", "WRITE@append", "CREATE TABLE AS SELECT@append"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("history = %v, want %v", got, want)
	}
	if all[0].Version != 2 || all[0].ReadVersion == nil || *all[0].ReadVersion != 1 {
		t.Errorf("latest commit = %+v", all[0])
	}

	limited, _ := tbl.History(ctx, 1)
	if len(limited) != 1 || limited[0].Version != 2 {
		t.Errorf("limited history = %+v", limited)
	}
}

func TestParseCommitPath(t *testing.T) {
	tests := []struct {
		path string
		want int64
		ok   bool
	}{
		{"_delta_log/00000000000000000000.json", 0, true},
		{"_delta_log/00000000000000000012.json", 12, true},
		{"_delta_log/00000000000000000012.checkpoint.parquet", 0, false},
		{"_delta_log/12.json", 0, false},
		{"data/00000000000000000001.json", 0, false},
	}
	for _, tt := range tests {
		v, ok := parseCommitPath(tt.path)
		if v != tt.want || ok != tt.ok {
			t.Errorf("parseCommitPath(%q) = %d, %v", tt.path, v, ok)
		}
	}
	if got := commitPath(7); got != "_delta_log/00000000000000000007.json" {
		t.Errorf("commitPath(7) = %s", got)
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"interval 7 days", 7 * 24 * time.Hour, false},
		{"interval 1 week", 7 * 24 * time.Hour, false},
		{"INTERVAL 36 HOURS", 36 * time.Hour, false},
		{"interval 30 minutes", 30 * time.Minute, false},
		{"90m", 90 * time.Minute, false},
		{"interval x days", 0, true},
		{"interval 3 fortnights", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := parseInterval(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseInterval(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestEscapePaths(t *testing.T) {
	if got := escapePartitionValue("a/b=c d"); got != "a%2Fb%3Dc d" {
		t.Errorf("escapePartitionValue = %s", got)
	}
	p := "region=a%2Fb/part-0.parquet"
	logged := logPath(p)
	if logged != "region=a%252Fb/part-0.parquet" {
		t.Errorf("logPath = %s", logged)
	}
	if storagePath(logged) != p {
		t.Errorf("storagePath(%s) = %s", logged, storagePath(logged))
	}
	null := "x"
	path := newDataPath([]string{"a", "b"}, map[string]*string{"a": &null})
	if !strings.HasPrefix(path, "a=x/b="+NullPartition+"/part-") || !strings.HasSuffix(path, ".snappy.parquet") {
		t.Errorf("newDataPath = %s", path)
	}
}

func TestCommitLogsTableOnce(t *testing.T) {
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tbl := New(store, WithName("main.sales.orders"), WithLogger(logger))

	mustWrite(t, tbl, []map[string]interface{}{{"id": int64(1)}}, WriteOptions{})

	var commits int
	for _, line := range strings.Split(buf.String(), "\n") {
		if !strings.Contains(line, "msg=committed") {
			continue
		}
		commits++
		if n := strings.Count(line, "table=main.sales.orders"); n != 1 {
			t.Errorf("commit line names the table %d times: %s", n, line)
		}
	}
	if commits != 1 {
		t.Errorf("logged %d commits:\n%s", commits, buf.String())
	}
}
