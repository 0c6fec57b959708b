package tableformat

import (
	"context"
	"reflect"
	"testing"

	"github.com/vegasq/deltagate/gatewayerr"
)

// seedPeople writes two files: ids 1-2 and ids 3-4.
func seedPeople(t *testing.T) *Table {
	t.Helper()
	tbl, _, _ := newTestTable(t)
	mustWrite(t, tbl, []map[string]interface{}{
		{"id": 1, "name": "alice", "score": 10},
		{"id": 2, "name": "bob", "score": 20},
	}, WriteOptions{})
	mustWrite(t, tbl, []map[string]interface{}{
		{"id": 3, "name": "carol", "score": 30},
		{"id": 4, "name": "dave", "score": 40},
	}, WriteOptions{})
	return tbl
}

func TestMergeUpdate(t *testing.T) {
	tbl := seedPeople(t)
	res, err := tbl.Merge(context.Background(), MergeOptions{
		Source: []map[string]interface{}{
			{"id": 2, "name": "robert", "bonus": 5},
			{"id": 99, "name": "nobody", "bonus": 1},
		},
		Predicate: "target.id = source.id",
		Updates: map[string]string{
			"name":  "source.name",
			"score": "target.score + source.bonus",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Version != 2 || res.NumTargetRowsUpdated != 1 || res.NumTargetRowsCopied != 1 {
		t.Errorf("metrics = %+v", res)
	}
	if res.NumTargetFilesRemoved != 1 || res.NumTargetFilesAdded != 1 {
		t.Errorf("only the file holding id 2 should be rewritten: %+v", res)
	}

	_, rows := sortedRows(t, tbl)
	want := [][]interface{}{
		{int64(1), "alice", int64(10)},
		{int64(2), "robert", int64(25)},
		{int64(3), "carol", int64(30)},
		{int64(4), "dave", int64(40)},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}

func TestMergeDelete(t *testing.T) {
	tbl := seedPeople(t)
	res, err := tbl.Merge(context.Background(), MergeOptions{
		Source: []map[string]interface{}{
			{"id": 1, "deleted": true},
			{"id": 3, "deleted": false},
			{"id": 4, "deleted": true},
		},
		Predicate:        "target.id = source.id",
		MatchedPredicate: "source.deleted = true",
		Delete:           true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.NumTargetRowsDeleted != 2 || res.NumTargetFilesRemoved != 2 {
		t.Errorf("metrics = %+v", res)
	}
	_, rows := sortedRows(t, tbl)
	var ids []int64
	for _, r := range rows {
		ids = append(ids, r[0].(int64))
	}
	if !reflect.DeepEqual(ids, []int64{2, 3}) {
		t.Errorf("remaining ids = %v", ids)
	}
}

func TestMergeDeleteWholeFile(t *testing.T) {
	tbl := seedPeople(t)
	res, err := tbl.Merge(context.Background(), MergeOptions{
		Source:    []map[string]interface{}{{"id": 3}, {"id": 4}},
		Predicate: "target.id = source.id",
		Delete:    true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.NumTargetFilesAdded != 0 || res.NumTargetFilesRemoved != 1 {
		t.Errorf("metrics = %+v", res)
	}
	snap, _ := tbl.Snapshot(context.Background())
	if len(snap.Files()) != 1 {
		t.Errorf("active files = %d", len(snap.Files()))
	}
}

func TestMergeNoMatchDoesNotCommit(t *testing.T) {
	tbl := seedPeople(t)
	res, err := tbl.Merge(context.Background(), MergeOptions{
		Source:    []map[string]interface{}{{"id": 100}},
		Predicate: "target.id = source.id",
		Delete:    true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Version != 1 {
		t.Errorf("version = %d, want unchanged 1", res.Version)
	}
	snap, _ := tbl.Snapshot(context.Background())
	if snap.Version != 1 {
		t.Errorf("snapshot advanced to %d", snap.Version)
	}
}

func TestMergeCustomAliases(t *testing.T) {
	tbl := seedPeople(t)
	res, err := tbl.Merge(context.Background(), MergeOptions{
		Source:      []map[string]interface{}{{"key": 4}},
		Predicate:   "t.id = s.key",
		SourceAlias: "s",
		TargetAlias: "t",
		Updates:     map[string]string{"name": "UPPER(t.name)"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.NumTargetRowsUpdated != 1 {
		t.Fatalf("metrics = %+v", res)
	}
	_, rows := sortedRows(t, tbl)
	if rows[3][1] != "DAVE" {
		t.Errorf("name = %v", rows[3][1])
	}
}

func TestMergeErrors(t *testing.T) {
	tests := []struct {
		name string
		opts MergeOptions
		kind gatewayerr.Kind
	}{
		{"no source", MergeOptions{Predicate: "target.id = source.id", Delete: true}, gatewayerr.KindInvalidRequest},
		{"no predicate", MergeOptions{Source: []map[string]interface{}{{"id": 1}}, Delete: true}, gatewayerr.KindInvalidRequest},
		{"no action", MergeOptions{Source: []map[string]interface{}{{"id": 1}}, Predicate: "target.id = source.id"}, gatewayerr.KindInvalidRequest},
		{"both actions", MergeOptions{Source: []map[string]interface{}{{"id": 1}}, Predicate: "target.id = source.id",
			Delete: true, Updates: map[string]string{"name": "'x'"}}, gatewayerr.KindInvalidRequest},
		{"same aliases", MergeOptions{Source: []map[string]interface{}{{"id": 1}}, Predicate: "a.id = a.id",
			SourceAlias: "a", TargetAlias: "a", Delete: true}, gatewayerr.KindInvalidRequest},
		{"unqualified column", MergeOptions{Source: []map[string]interface{}{{"id": 1}}, Predicate: "id = 1", Delete: true}, gatewayerr.KindInvalidRequest},
		{"unknown target column", MergeOptions{Source: []map[string]interface{}{{"id": 1}}, Predicate: "target.nope = source.id", Delete: true}, gatewayerr.KindInvalidRequest},
		{"unknown source column", MergeOptions{Source: []map[string]interface{}{{"id": 1}}, Predicate: "target.id = source.nope", Delete: true}, gatewayerr.KindInvalidRequest},
		{"unknown update column", MergeOptions{Source: []map[string]interface{}{{"id": 1}}, Predicate: "target.id = source.id",
			Updates: map[string]string{"nope": "1"}}, gatewayerr.KindInvalidRequest},
		{"syntax error", MergeOptions{Source: []map[string]interface{}{{"id": 1}}, Predicate: "target.id = = source.id", Delete: true}, gatewayerr.KindInvalidRequest},
		{"non-boolean predicate", MergeOptions{Source: []map[string]interface{}{{"id": 1}}, Predicate: "target.id + source.id", Delete: true}, gatewayerr.KindInvalidRequest},
		{"bad update type", MergeOptions{Source: []map[string]interface{}{{"id": 1}}, Predicate: "target.id = source.id",
			Updates: map[string]string{"score": "'high'"}}, gatewayerr.KindInvalidRequest},
		{"multiple matches", MergeOptions{Source: []map[string]interface{}{{"id": 1}, {"id": 1}}, Predicate: "target.id = source.id", Delete: true}, gatewayerr.KindInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := seedPeople(t)
			_, err := tbl.Merge(context.Background(), tt.opts)
			if got := gatewayerr.KindOf(err); got != tt.kind {
				t.Errorf("kind = %s (%v), want %s", got, err, tt.kind)
			}
			snap, _ := tbl.Snapshot(context.Background())
			if snap.Version != 1 {
				t.Errorf("failed merge committed version %d", snap.Version)
			}
		})
	}
}

func TestMergeMissingTable(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	_, err := tbl.Merge(context.Background(), MergeOptions{
		Source:    []map[string]interface{}{{"id": 1}},
		Predicate: "target.id = source.id",
		Delete:    true,
	})
	if gatewayerr.KindOf(err) != gatewayerr.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestMergeSourceKeysFoldCase(t *testing.T) {
	tbl := seedPeople(t)
	res, err := tbl.Merge(context.Background(), MergeOptions{
		Source: []map[string]interface{}{
			{"id": 1, "name": "ann"},
			{"ID": 3, "Name": "carla"},
		},
		Predicate: "target.id = source.id",
		Updates:   map[string]string{"name": "source.name"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.NumTargetRowsUpdated != 2 {
		t.Errorf("metrics = %+v", res)
	}
	_, rows := sortedRows(t, tbl)
	var names []string
	for _, r := range rows {
		names = append(names, r[1].(string))
	}
	if want := []string{"ann", "bob", "carla", "dave"}; !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestMergeSourceKeyCollision(t *testing.T) {
	tbl := seedPeople(t)
	_, err := tbl.Merge(context.Background(), MergeOptions{
		Source:    []map[string]interface{}{{"id": 1, "ID": 2, "name": "x"}},
		Predicate: "target.id = source.id",
		Updates:   map[string]string{"name": "source.name"},
	})
	if gatewayerr.KindOf(err) != gatewayerr.KindInvalidRequest {
		t.Errorf("expected invalid request, got %v", err)
	}
}
