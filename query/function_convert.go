package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// castTypes maps accepted type names onto the engine's value types.
var castTypes = map[string]string{
	"STRING": "STRING", "VARCHAR": "STRING", "CHAR": "STRING", "TEXT": "STRING",
	"BIGINT": "BIGINT", "INT": "BIGINT", "INTEGER": "BIGINT", "LONG": "BIGINT",
	"SMALLINT": "BIGINT", "TINYINT": "BIGINT",
	"DOUBLE": "DOUBLE", "FLOAT": "DOUBLE", "REAL": "DOUBLE", "DECIMAL": "DOUBLE",
	"NUMERIC": "DOUBLE", "NUMBER": "DOUBLE",
	"BOOLEAN": "BOOLEAN", "BOOL": "BOOLEAN",
	"DATE": "DATE", "TIMESTAMP": "TIMESTAMP", "DATETIME": "TIMESTAMP",
}

// CastExpr is CAST(x AS type), or TRY_CAST when Try is set, which yields
// NULL instead of failing on a value that does not convert.
type CastExpr struct {
	Expr Expr
	Type string
	Try  bool
}

func (e *CastExpr) Eval(env Env) (interface{}, error) {
	v, err := e.Expr.Eval(env)
	if err != nil {
		return nil, err
	}
	out, err := castValue(normalize(v), e.Type)
	if err != nil {
		if e.Try {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (e *CastExpr) String() string {
	name := "CAST"
	if e.Try {
		name = "TRY_CAST"
	}
	return name + "(" + e.Expr.String() + " AS " + e.Type + ")"
}

func castValue(v interface{}, target string) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	fail := func() error {
		return fmt.Errorf("cannot cast %s %q to %s", typeName(v), formatValue(v), target)
	}
	switch target {
	case "STRING":
		return formatValue(v), nil
	case "BIGINT":
		switch val := v.(type) {
		case int64:
			return val, nil
		case bool:
			if val {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			s := strings.TrimSpace(val)
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fail()
			}
			v = f
		}
		f, ok := v.(float64)
		if !ok || math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
			return nil, fail()
		}
		return int64(f), nil
	case "DOUBLE":
		switch val := v.(type) {
		case int64:
			return float64(val), nil
		case float64:
			return val, nil
		case bool:
			if val {
				return 1.0, nil
			}
			return 0.0, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return nil, fail()
			}
			return f, nil
		}
	case "BOOLEAN":
		switch val := v.(type) {
		case bool:
			return val, nil
		case int64:
			return val != 0, nil
		case float64:
			return val != 0, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(val)) {
			case "true", "t", "yes", "y", "1":
				return true, nil
			case "false", "f", "no", "n", "0":
				return false, nil
			}
		}
	case "DATE":
		t, err := parseTime(v)
		if err != nil {
			return nil, fail()
		}
		return formatDate(t), nil
	case "TIMESTAMP":
		t, err := parseTime(v)
		if err != nil {
			return nil, fail()
		}
		return formatTimestamp(t), nil
	default:
		return nil, fmt.Errorf("unknown type %s", target)
	}
	return nil, fail()
}

func castFunc(target string) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		return castValue(args[0], target)
	}
}

// toNumberFunc keeps longs as longs and parses everything else as a
// double.
func toNumberFunc(args []interface{}) (interface{}, error) {
	if i, ok := args[0].(int64); ok {
		return i, nil
	}
	return castValue(args[0], "DOUBLE")
}

func init() {
	for _, f := range []*scalar{
		{name: "TO_STRING", min: 1, max: 1, eval: castFunc("STRING")},
		{name: "TO_NUMBER", min: 1, max: 1, eval: toNumberFunc},
		{name: "TO_DATE", min: 1, max: 1, eval: castFunc("DATE")},
		{name: "TO_TIMESTAMP", min: 1, max: 1, eval: castFunc("TIMESTAMP")},
	} {
		globalRegistry.Register(f)
	}
}
