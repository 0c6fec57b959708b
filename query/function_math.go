package query

import (
	"fmt"
	"math"
	"math/rand/v2"
)

func init() {
	for _, f := range []*scalar{
		{name: "SQRT", min: 1, max: 1, eval: sqrtFunc},
		{name: "POWER", min: 2, max: 2, eval: powerFunc},
		{name: "POW", min: 2, max: 2, eval: powerFunc},
		{name: "EXP", min: 1, max: 1, eval: mathFunc(math.Exp)},
		{name: "LN", min: 1, max: 1, eval: logFunc(math.Log)},
		{name: "LOG10", min: 1, max: 1, eval: logFunc(math.Log10)},
		{name: "LOG2", min: 1, max: 1, eval: logFunc(math.Log2)},
		{name: "LOG", min: 1, max: 2, eval: logBaseFunc},
		{name: "SIGN", min: 1, max: 1, eval: signFunc},
		{name: "TRUNC", min: 1, max: 2, eval: truncFunc},
		{name: "TRUNCATE", min: 1, max: 2, eval: truncFunc},
		{name: "PI", min: 0, max: 0, eval: func([]interface{}) (interface{}, error) { return math.Pi, nil }},
		{name: "RAND", min: 0, max: 0, eval: randFunc},
		{name: "RANDOM", min: 0, max: 0, eval: randFunc},
		{name: "GREATEST", min: 2, max: -1, nullSafe: true, eval: extremeFunc(1)},
		{name: "LEAST", min: 2, max: -1, nullSafe: true, eval: extremeFunc(-1)},
	} {
		globalRegistry.Register(f)
	}
}

func mathFunc(fn func(float64) float64) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		f, err := valueToNumber(args[0])
		if err != nil {
			return nil, err
		}
		return fn(f), nil
	}
}

func sqrtFunc(args []interface{}) (interface{}, error) {
	f, err := valueToNumber(args[0])
	if err != nil {
		return nil, err
	}
	if f < 0 {
		return nil, fmt.Errorf("square root of negative number %v", f)
	}
	return math.Sqrt(f), nil
}

func powerFunc(args []interface{}) (interface{}, error) {
	x, err := valueToNumber(args[0])
	if err != nil {
		return nil, err
	}
	y, err := valueToNumber(args[1])
	if err != nil {
		return nil, err
	}
	return math.Pow(x, y), nil
}

// logFunc rejects arguments outside the logarithm's domain.
func logFunc(fn func(float64) float64) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		f, err := valueToNumber(args[0])
		if err != nil {
			return nil, err
		}
		if f <= 0 {
			return nil, fmt.Errorf("logarithm of non-positive number %v", f)
		}
		return fn(f), nil
	}
}

// logBaseFunc is LOG(x), the natural logarithm, or LOG(base, x).
func logBaseFunc(args []interface{}) (interface{}, error) {
	if len(args) == 1 {
		return logFunc(math.Log)(args)
	}
	base, err := valueToNumber(args[0])
	if err != nil {
		return nil, err
	}
	if base <= 0 || base == 1 {
		return nil, fmt.Errorf("invalid logarithm base %v", base)
	}
	x, err := logFunc(math.Log)(args[1:])
	if err != nil {
		return nil, err
	}
	return x.(float64) / math.Log(base), nil
}

func signFunc(args []interface{}) (interface{}, error) {
	f, err := valueToNumber(args[0])
	if err != nil {
		return nil, err
	}
	switch {
	case f > 0:
		return int64(1), nil
	case f < 0:
		return int64(-1), nil
	}
	return int64(0), nil
}

// truncFunc is TRUNC(x[, scale]): rounding toward zero at scale decimal
// places. Longs are returned unchanged for a non-negative scale.
func truncFunc(args []interface{}) (interface{}, error) {
	var scale int64
	if len(args) == 2 {
		s, err := valueToInt(args[1])
		if err != nil {
			return nil, err
		}
		scale = s
	}
	if i, ok := args[0].(int64); ok && scale >= 0 {
		return i, nil
	}
	f, err := valueToNumber(args[0])
	if err != nil {
		return nil, err
	}
	p := math.Pow(10, float64(scale))
	return math.Trunc(f*p) / p, nil
}

func randFunc([]interface{}) (interface{}, error) {
	return rand.Float64(), nil
}

// extremeFunc implements GREATEST (dir 1) and LEAST (dir -1). NULL
// arguments are skipped; all NULL yields NULL.
func extremeFunc(dir int) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		var best interface{}
		for _, a := range args {
			if a == nil {
				continue
			}
			if best == nil {
				best = a
				continue
			}
			c, err := compareValues(a, best)
			if err != nil {
				return nil, err
			}
			if c*dir > 0 {
				best = a
			}
		}
		return best, nil
	}
}
