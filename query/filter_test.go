package query

import (
	"testing"
)

func TestMatchLikePattern(t *testing.T) {
	tests := []struct {
		str, pattern string
		want         bool
	}{
		{"alice", "a%", true},
		{"alice", "%ce", true},
		{"alice", "%li%", true},
		{"alice", "a_ice", true},
		{"alice", "a_ce", false},
		{"abcabc", "%abc", true},
		{"abcab", "a%b%c", false},
		{"", "%", true},
		{"", "_", false},
		{"x", "", false},
		{"100%", "100%", true},
	}
	for _, tt := range tests {
		if got := matchLikePattern(tt.str, tt.pattern); got != tt.want {
			t.Errorf("matchLikePattern(%q, %q) = %v, want %v", tt.str, tt.pattern, got, tt.want)
		}
	}
}

func TestThreeValuedLogic(t *testing.T) {
	record := map[string]interface{}{"n": nil, "t": true, "f": false, "x": 5}
	tests := []struct {
		expr string
		want interface{}
	}{
		{"n = 1", nil},
		{"n AND f", false},
		{"n AND t", nil},
		{"n OR t", true},
		{"n OR f", nil},
		{"NOT n", nil},
		{"n IS NULL", true},
		{"x IN (1, n)", nil},
		{"x IN (5, n)", true},
		{"x NOT IN (1, 2)", true},
		{"n + 1", nil},
		{"x = 5.0", true},
		{"x = '5'", true},
		{"x BETWEEN n AND 10", nil},
		{"x NOT BETWEEN 1 AND 4", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := ParseExpr(tt.expr)
			if err != nil {
				t.Fatalf("ParseExpr() error = %v", err)
			}
			got, err := Eval(e, record)
			if err != nil {
				t.Fatalf("Eval() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvalQualifiedRecord(t *testing.T) {
	e, err := ParseExpr("target.id = source.id AND source.amount > 0")
	if err != nil {
		t.Fatal(err)
	}
	got, err := Eval(e, map[string]interface{}{"target.id": 1, "source.id": int64(1), "source.amount": 2.5})
	if err != nil {
		t.Fatal(err)
	}
	if got != true {
		t.Errorf("got %v, want true", got)
	}
	if _, err := Eval(e, map[string]interface{}{"target.id": 1}); err == nil {
		t.Error("expected unknown column error")
	}
}

func TestRowKeyNumericEquivalence(t *testing.T) {
	if rowKey([]interface{}{int64(2)}) != rowKey([]interface{}{2.0}) {
		t.Error("2 and 2.0 should share a key")
	}
	if rowKey([]interface{}{"2"}) == rowKey([]interface{}{int64(2)}) {
		t.Error("string and long should not share a key")
	}
	if rowKey([]interface{}{nil}) == rowKey([]interface{}{""}) {
		t.Error("null and empty string should not share a key")
	}
}
