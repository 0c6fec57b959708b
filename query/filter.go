package query

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const floatEpsilon = 1e-9

// normalize folds the value types tables may produce onto the engine's
// value domain: nil, bool, int64, float64 and string.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, bool, int64, float64, string:
		return v
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return float64(val)
		}
		return int64(val)
	case uint:
		return int64(val)
	case float32:
		return float64(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}

func isNumeric(v interface{}) bool {
	_, ok := toFloat64(v)
	return ok
}

// compareValues orders two non-null values. Numbers compare numerically,
// strings lexically and booleans false before true. A number compared with
// a numeric-looking string compares numerically.
func compareValues(left, right interface{}) (int, error) {
	if li, ok := left.(int64); ok {
		if ri, ok := right.(int64); ok {
			switch {
			case li < ri:
				return -1, nil
			case li > ri:
				return 1, nil
			}
			return 0, nil
		}
	}

	lf, lnum := toFloat64(left)
	rf, rnum := toFloat64(right)
	if lnum && !rnum {
		if s, ok := right.(string); ok {
			rf, rnum = parseNumber(s)
		}
	}
	if rnum && !lnum {
		if s, ok := left.(string); ok {
			lf, lnum = parseNumber(s)
		}
	}
	if lnum && rnum {
		return compareNumbers(lf, rf), nil
	}

	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return strings.Compare(ls, rs), nil
		}
	}

	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			switch {
			case lb == rb:
				return 0, nil
			case !lb:
				return -1, nil
			}
			return 1, nil
		}
	}

	return 0, fmt.Errorf("cannot compare %s with %s", typeName(left), typeName(right))
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func compareNumbers(left, right float64) int {
	if math.Abs(left-right) < floatEpsilon {
		return 0
	}
	if left < right {
		return -1
	}
	return 1
}

// compare applies a comparison operator. A NULL operand yields NULL.
func compare(left interface{}, op TokenType, right interface{}) (interface{}, error) {
	if left == nil || right == nil {
		return nil, nil
	}
	c, err := compareValues(left, right)
	if err != nil {
		return nil, err
	}
	switch op {
	case TokenEqual:
		return c == 0, nil
	case TokenNotEqual:
		return c != 0, nil
	case TokenLess:
		return c < 0, nil
	case TokenLessEqual:
		return c <= 0, nil
	case TokenGreater:
		return c > 0, nil
	case TokenGreaterEqual:
		return c >= 0, nil
	}
	return nil, fmt.Errorf("unsupported comparison operator %s", op)
}

// orderValues is compareValues extended with NULL, which sorts first.
// Incomparable values fall back to their type name and text.
func orderValues(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c, err := compareValues(a, b); err == nil {
		return c
	}
	if c := strings.Compare(typeName(a), typeName(b)); c != 0 {
		return c
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// truth converts a predicate result to a WHERE/ON/HAVING decision.
// NULL is false.
func truth(v interface{}) (bool, error) {
	switch val := v.(type) {
	case nil:
		return false, nil
	case bool:
		return val, nil
	}
	return false, fmt.Errorf("expected boolean condition, got %s", typeName(v))
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case int64:
		return "long"
	case float64:
		return "double"
	case string:
		return "string"
	}
	return fmt.Sprintf("%T", v)
}

// rowKey renders a tuple as a map key. Integral doubles share a key with
// the equivalent long.
func rowKey(values []interface{}) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		switch val := v.(type) {
		case nil:
			b.WriteString("N")
		case int64:
			b.WriteString("n")
			b.WriteString(strconv.FormatInt(val, 10))
		case float64:
			if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
				b.WriteString("n")
				b.WriteString(strconv.FormatInt(int64(val), 10))
			} else {
				b.WriteString("f")
				b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
			}
		case string:
			b.WriteString("s")
			b.WriteString(strconv.Quote(val))
		case bool:
			b.WriteString("b")
			b.WriteString(strconv.FormatBool(val))
		default:
			fmt.Fprintf(&b, "?%v", val)
		}
	}
	return b.String()
}

// matchLikePattern matches str against a SQL LIKE pattern where % matches
// any run of characters and _ matches exactly one.
func matchLikePattern(str, pattern string) bool {
	s, p := []rune(str), []rune(pattern)
	si, pi := 0, 0
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(p) && (p[pi] == '_' || p[pi] == s[si]):
			si++
			pi++
		case pi < len(p) && p[pi] == '%':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '%' {
		pi++
	}
	return pi == len(p)
}
