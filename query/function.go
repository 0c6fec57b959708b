package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Function is a scalar SQL function.
type Function interface {
	Name() string
	MinArity() int
	MaxArity() int // -1 for variadic
	Evaluate(args []interface{}) (interface{}, error)
}

// FunctionRegistry holds functions by upper-case name.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]Function
}

// NewFunctionRegistry creates an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{functions: make(map[string]Function)}
}

// Register adds or replaces f.
func (r *FunctionRegistry) Register(f Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[strings.ToUpper(f.Name())] = f
}

// Get looks a function up case-insensitively.
func (r *FunctionRegistry) Get(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.functions[strings.ToUpper(name)]
	return f, ok
}

var globalRegistry = NewFunctionRegistry()

// GetGlobalRegistry returns the registry the parser resolves calls against.
func GetGlobalRegistry() *FunctionRegistry {
	return globalRegistry
}

// scalar adapts a plain function. Unless nullSafe is set, any NULL
// argument makes the result NULL without calling eval.
type scalar struct {
	name     string
	min, max int
	nullSafe bool
	eval     func(args []interface{}) (interface{}, error)
}

func (s *scalar) Name() string  { return s.name }
func (s *scalar) MinArity() int { return s.min }
func (s *scalar) MaxArity() int { return s.max }

func (s *scalar) Evaluate(args []interface{}) (interface{}, error) {
	if !s.nullSafe {
		for _, a := range args {
			if a == nil {
				return nil, nil
			}
		}
	}
	return s.eval(args)
}

func init() {
	for _, f := range []*scalar{
		{name: "UPPER", min: 1, max: 1, eval: stringFunc(strings.ToUpper)},
		{name: "LOWER", min: 1, max: 1, eval: stringFunc(strings.ToLower)},
		{name: "TRIM", min: 1, max: 1, eval: stringFunc(strings.TrimSpace)},
		{name: "LTRIM", min: 1, max: 1, eval: stringFunc(func(s string) string { return strings.TrimLeft(s, " \t\r\n") })},
		{name: "RTRIM", min: 1, max: 1, eval: stringFunc(func(s string) string { return strings.TrimRight(s, " \t\r\n") })},
		{name: "LENGTH", min: 1, max: 1, eval: lengthFunc},
		{name: "CONCAT", min: 1, max: -1, eval: concatFunc},
		{name: "SUBSTRING", min: 2, max: 3, eval: substringFunc},
		{name: "SUBSTR", min: 2, max: 3, eval: substringFunc},
		{name: "REPLACE", min: 3, max: 3, eval: replaceFunc},
		{name: "ABS", min: 1, max: 1, eval: absFunc},
		{name: "ROUND", min: 1, max: 2, eval: roundFunc},
		{name: "FLOOR", min: 1, max: 1, eval: floatFunc(math.Floor)},
		{name: "CEIL", min: 1, max: 1, eval: floatFunc(math.Ceil)},
		{name: "CEILING", min: 1, max: 1, eval: floatFunc(math.Ceil)},
		{name: "MOD", min: 2, max: 2, eval: func(args []interface{}) (interface{}, error) {
			return arithmetic(TokenPercent, args[0], args[1])
		}},
		{name: "COALESCE", min: 1, max: -1, nullSafe: true, eval: coalesceFunc},
		{name: "NULLIF", min: 2, max: 2, nullSafe: true, eval: nullifFunc},
	} {
		globalRegistry.Register(f)
	}
}

// formatValue renders a value the way string functions and || see it.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	}
	return fmt.Sprint(v)
}

func valueToNumber(v interface{}) (float64, error) {
	if f, ok := toFloat64(v); ok {
		return f, nil
	}
	if s, ok := v.(string); ok {
		if f, ok := parseNumber(s); ok {
			return f, nil
		}
	}
	return 0, fmt.Errorf("expected a number, got %s", typeName(v))
}

func valueToInt(v interface{}) (int64, error) {
	if i, ok := v.(int64); ok {
		return i, nil
	}
	f, err := valueToNumber(v)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func stringFunc(fn func(string) string) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		return fn(formatValue(args[0])), nil
	}
}

func floatFunc(fn func(float64) float64) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		if i, ok := args[0].(int64); ok {
			return i, nil
		}
		f, err := valueToNumber(args[0])
		if err != nil {
			return nil, err
		}
		return int64(fn(f)), nil
	}
}

func lengthFunc(args []interface{}) (interface{}, error) {
	return int64(len([]rune(formatValue(args[0])))), nil
}

func concatFunc(args []interface{}) (interface{}, error) {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(formatValue(a))
	}
	return b.String(), nil
}

// substringFunc is SUBSTRING(s, start[, length]) with a 1-based start. A
// non-positive start counts from the end of the string.
func substringFunc(args []interface{}) (interface{}, error) {
	s := []rune(formatValue(args[0]))
	start, err := valueToInt(args[1])
	if err != nil {
		return nil, err
	}
	var from int64
	switch {
	case start > 0:
		from = start - 1
	case start < 0:
		from = int64(len(s)) + start
		if from < 0 {
			from = 0
		}
	}
	if from > int64(len(s)) {
		return "", nil
	}
	to := int64(len(s))
	if len(args) == 3 {
		n, err := valueToInt(args[2])
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return "", nil
		}
		if from+n < to {
			to = from + n
		}
	}
	return string(s[from:to]), nil
}

func replaceFunc(args []interface{}) (interface{}, error) {
	return strings.ReplaceAll(formatValue(args[0]), formatValue(args[1]), formatValue(args[2])), nil
}

func absFunc(args []interface{}) (interface{}, error) {
	switch n := args[0].(type) {
	case int64:
		if n < 0 {
			return -n, nil
		}
		return n, nil
	}
	f, err := valueToNumber(args[0])
	if err != nil {
		return nil, err
	}
	return math.Abs(f), nil
}

// roundFunc rounds half away from zero.
func roundFunc(args []interface{}) (interface{}, error) {
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
	return math.Round(f*p) / p, nil
}

func coalesceFunc(args []interface{}) (interface{}, error) {
	for _, a := range args {
		if a != nil {
			return a, nil
		}
	}
	return nil, nil
}

func nullifFunc(args []interface{}) (interface{}, error) {
	if args[0] == nil || args[1] == nil {
		return args[0], nil
	}
	c, err := compareValues(args[0], args[1])
	if err != nil {
		return nil, err
	}
	if c == 0 {
		return nil, nil
	}
	return args[0], nil
}
