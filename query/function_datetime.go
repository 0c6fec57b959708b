package query

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Dates are carried as "2006-01-02" strings and timestamps as RFC 3339
// strings in UTC, the form scans produce for time values.

const dateLayout = "2006-01-02"

// now is the clock behind NOW, CURRENT_DATE and CURRENT_TIMESTAMP.
var now = time.Now

// niladicNames are functions that may be written without parentheses.
var niladicNames = map[string]bool{"CURRENT_DATE": true, "CURRENT_TIMESTAMP": true}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	dateLayout,
}

func parseTime(v interface{}) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected a date or timestamp, got %s", typeName(v))
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date or timestamp", s)
}

func isDateOnly(v interface{}) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := time.Parse(dateLayout, strings.TrimSpace(s))
	return err == nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func init() {
	for _, f := range []*scalar{
		{name: "NOW", min: 0, max: 0, eval: func([]interface{}) (interface{}, error) {
			return formatTimestamp(now()), nil
		}},
		{name: "CURRENT_TIMESTAMP", min: 0, max: 0, eval: func([]interface{}) (interface{}, error) {
			return formatTimestamp(now()), nil
		}},
		{name: "CURRENT_DATE", min: 0, max: 0, eval: func([]interface{}) (interface{}, error) {
			return formatDate(now()), nil
		}},
		{name: "YEAR", min: 1, max: 1, eval: datePart("year")},
		{name: "QUARTER", min: 1, max: 1, eval: datePart("quarter")},
		{name: "MONTH", min: 1, max: 1, eval: datePart("month")},
		{name: "DAY", min: 1, max: 1, eval: datePart("day")},
		{name: "DAYOFMONTH", min: 1, max: 1, eval: datePart("day")},
		{name: "DAYOFWEEK", min: 1, max: 1, eval: datePart("dayofweek")},
		{name: "DAYOFYEAR", min: 1, max: 1, eval: datePart("dayofyear")},
		{name: "HOUR", min: 1, max: 1, eval: datePart("hour")},
		{name: "MINUTE", min: 1, max: 1, eval: datePart("minute")},
		{name: "SECOND", min: 1, max: 1, eval: datePart("second")},
		{name: "DATE_PART", min: 2, max: 2, eval: datePartFunc},
		{name: "DATE_TRUNC", min: 2, max: 2, eval: dateTruncFunc},
		{name: "DATE_ADD", min: 2, max: 3, eval: dateAddFunc(1)},
		{name: "DATE_SUB", min: 2, max: 3, eval: dateAddFunc(-1)},
		{name: "DATEDIFF", min: 2, max: 2, eval: dateDiffFunc},
		{name: "DATE_DIFF", min: 2, max: 2, eval: dateDiffFunc},
		{name: "DATE_FORMAT", min: 2, max: 2, eval: dateFormatFunc},
	} {
		globalRegistry.Register(f)
	}
}

func extract(unit string, t time.Time) (int64, error) {
	switch strings.ToLower(unit) {
	case "year":
		return int64(t.Year()), nil
	case "quarter":
		return int64(t.Month()-1)/3 + 1, nil
	case "month":
		return int64(t.Month()), nil
	case "week":
		_, w := t.ISOWeek()
		return int64(w), nil
	case "day":
		return int64(t.Day()), nil
	case "dayofweek":
		return int64(t.Weekday()) + 1, nil
	case "dayofyear":
		return int64(t.YearDay()), nil
	case "hour":
		return int64(t.Hour()), nil
	case "minute":
		return int64(t.Minute()), nil
	case "second":
		return int64(t.Second()), nil
	}
	return 0, fmt.Errorf("unknown date part %q", unit)
}

func datePart(unit string) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		t, err := parseTime(args[0])
		if err != nil {
			return nil, err
		}
		return extract(unit, t)
	}
}

// datePartFunc is DATE_PART(unit, value).
func datePartFunc(args []interface{}) (interface{}, error) {
	t, err := parseTime(args[1])
	if err != nil {
		return nil, err
	}
	return extract(formatValue(args[0]), t)
}

// dateTruncFunc is DATE_TRUNC(unit, value). It returns a timestamp.
func dateTruncFunc(args []interface{}) (interface{}, error) {
	t, err := parseTime(args[1])
	if err != nil {
		return nil, err
	}
	y, m, d := t.Date()
	switch strings.ToLower(formatValue(args[0])) {
	case "year":
		t = time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
	case "quarter":
		t = time.Date(y, (m-1)/3*3+1, 1, 0, 0, 0, 0, time.UTC)
	case "month":
		t = time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	case "week":
		day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		t = day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	case "day":
		t = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case "hour":
		t = t.Truncate(time.Hour)
	case "minute":
		t = t.Truncate(time.Minute)
	case "second":
		t = t.Truncate(time.Second)
	default:
		return nil, fmt.Errorf("unknown unit %q", formatValue(args[0]))
	}
	return formatTimestamp(t), nil
}

// maxDateAmount bounds DATE_ADD amounts so calendar arithmetic stays in
// range.
const maxDateAmount = 1 << 30

// dateAddFunc is DATE_ADD(value, amount[, unit]) with unit defaulting to
// day. A date input shifted by whole days or larger stays a date.
func dateAddFunc(sign int64) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		t, err := parseTime(args[0])
		if err != nil {
			return nil, err
		}
		n, err := valueToInt(args[1])
		if err != nil {
			return nil, err
		}
		if n > maxDateAmount || n < -maxDateAmount {
			return nil, fmt.Errorf("amount %d is out of range", n)
		}
		n *= sign
		unit := "day"
		if len(args) == 3 {
			unit = strings.ToLower(formatValue(args[2]))
		}

		var step time.Duration
		switch unit {
		case "year":
			t = t.AddDate(int(n), 0, 0)
		case "month":
			t = t.AddDate(0, int(n), 0)
		case "week":
			t = t.AddDate(0, 0, int(n)*7)
		case "day":
			t = t.AddDate(0, 0, int(n))
		case "hour":
			step = time.Hour
		case "minute":
			step = time.Minute
		case "second":
			step = time.Second
		default:
			return nil, fmt.Errorf("unknown unit %q", unit)
		}
		if step == 0 {
			if isDateOnly(args[0]) {
				return formatDate(t), nil
			}
			return formatTimestamp(t), nil
		}
		if limit := int64(math.MaxInt64 / step); n > limit || n < -limit {
			return nil, fmt.Errorf("amount %d is out of range for unit %s", n, unit)
		}
		return formatTimestamp(t.Add(time.Duration(n) * step)), nil
	}
}

// dateDiffFunc is DATEDIFF(end, start): the number of day boundaries
// between the two values.
func dateDiffFunc(args []interface{}) (interface{}, error) {
	end, err := parseTime(args[0])
	if err != nil {
		return nil, err
	}
	start, err := parseTime(args[1])
	if err != nil {
		return nil, err
	}
	day := func(t time.Time) time.Time {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return (day(end).Unix() - day(start).Unix()) / 86400, nil
}

// javaLayout translates the common yyyy-MM-dd HH:mm:ss pattern letters
// into a Go time layout.
var javaLayout = strings.NewReplacer(
	"yyyy", "2006", "yy", "06",
	"MM", "01", "dd", "02",
	"HH", "15", "mm", "04", "ss", "05",
	"SSS", "000",
)

// dateFormatFunc is DATE_FORMAT(value, pattern).
func dateFormatFunc(args []interface{}) (interface{}, error) {
	t, err := parseTime(args[0])
	if err != nil {
		return nil, err
	}
	return t.Format(javaLayout.Replace(formatValue(args[1]))), nil
}
