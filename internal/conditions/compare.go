package conditions

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type undefined struct{}

// Undefined is passed to comparators for fields missing from the context.
// It is distinct from nil, which is an explicit null.
var Undefined any = undefined{}

// Lookup resolves field in data. An exact key wins; otherwise a dotted path
// walks nested objects. Missing fields yield Undefined.
func Lookup(data map[string]any, field string) any {
	if v, ok := data[field]; ok {
		return v
	}
	if !strings.Contains(field, ".") {
		return Undefined
	}

	var cur any = data
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return Undefined
		}
		if cur, ok = m[part]; !ok {
			return Undefined
		}
	}
	return cur
}

// strictEqual compares scalars by kind and value. Numbers of any Go type
// compare numerically. Objects and arrays are never strictly equal.
func strictEqual(a, b any) bool {
	if a == Undefined || b == Undefined {
		return a == b
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	return false
}

func notEqual(a, b any) bool { return !strictEqual(a, b) }

func greaterThan(a, b any) bool {
	c, ok := compareOrdered(a, b)
	return ok && c > 0
}

func lessThan(a, b any) bool {
	c, ok := compareOrdered(a, b)
	return ok && c < 0
}

func contains(a, b any) bool {
	return strings.Contains(stringify(a), stringify(b))
}

// compareOrdered orders two numbers, two strings or two times. ok is false
// for any other pairing, including NaN.
func compareOrdered(a, b any) (int, bool) {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		if !ok || math.IsNaN(x) || math.IsNaN(y) {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// stringify renders a value for substring matching. Missing and null
// values render as "".
func stringify(v any) string {
	if v == Undefined || v == nil {
		return ""
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}
