package factgraph

import (
	"fmt"
	"strings"
	"time"
)

var aggregateOps = map[string]bool{
	"count": true, "sum": true, "some": true, "all": true, "none": true,
}

// executeOperator handles all JSON-logic operators.
// Any operation on nil yields nil so incompleteness flows to the result.
func (e *vm) executeOperator(op string, args any) any {
	switch op {
	// === Variable Access ===
	case "var":
		switch a := args.(type) {
		case string:
			return e.getVar(a)
		case []any:
			if len(a) > 0 {
				if s, ok := a[0].(string); ok {
					return e.getVar(s)
				}
			}
		}
		return nil

	// === Comparison Operators ===
	case "==":
		a := e.resolveArgs(args, 2)
		return e.compareEqual(a[0], a[1])

	case "!=":
		a := e.resolveArgs(args, 2)
		eq := e.compareEqual(a[0], a[1])
		if eq == nil {
			return nil
		}
		return !eq.(bool)

	case ">":
		a := e.resolveArgs(args, 2)
		return e.compareNumeric(a[0], a[1], func(x, y float64) bool { return x > y })

	case "<":
		a := e.resolveArgs(args, 2)
		return e.compareNumeric(a[0], a[1], func(x, y float64) bool { return x < y })

	case ">=":
		a := e.resolveArgs(args, 2)
		return e.compareNumeric(a[0], a[1], func(x, y float64) bool { return x >= y })

	case "<=":
		a := e.resolveArgs(args, 2)
		return e.compareNumeric(a[0], a[1], func(x, y float64) bool { return x <= y })

	// === Logical Operators ===
	case "and":
		return e.opAnd(args)

	case "or":
		return e.opOr(args)

	case "not", "!":
		a := e.resolveArgs(args, 1)
		if a[0] == nil {
			return nil
		}
		return !e.isTruthy(a[0])

	case "if":
		return e.opIf(args)

	// === Arithmetic Operators ===
	case "+":
		return e.fold(args, func(x, y float64) float64 { return x + y })

	case "-":
		a := e.resolveArgs(args, 2)
		return e.arith(a[0], a[1], func(x, y float64) (float64, bool) { return x - y, true })

	case "*":
		return e.fold(args, func(x, y float64) float64 { return x * y })

	case "/":
		a := e.resolveArgs(args, 2)
		return e.arith(a[0], a[1], func(x, y float64) (float64, bool) { return x / y, y != 0 })

	case "min":
		return e.fold(args, func(x, y float64) float64 {
			if y < x {
				return y
			}
			return x
		})

	case "max":
		return e.fold(args, func(x, y float64) float64 {
			if y > x {
				return y
			}
			return x
		})

	// === Date Operators ===
	case "before":
		a := e.resolveArgs(args, 2)
		return e.compareDates(a[0], a[1], func(x, y time.Time) bool { return x.Before(y) })

	case "after":
		a := e.resolveArgs(args, 2)
		return e.compareDates(a[0], a[1], func(x, y time.Time) bool { return x.After(y) })

	// === Collection Operators ===
	case "in":
		a := e.resolveArgs(args, 2)
		return e.opIn(a[0], a[1])

	case "count":
		return e.opCount(args)

	case "sum":
		return e.opSum(args)

	case "some":
		return e.opSome(args)

	case "all":
		return e.opAll(args)

	case "none":
		v := e.opSome(args)
		if v == nil {
			return nil
		}
		return !v.(bool)

	default:
		e.addWarning(e.current, fmt.Sprintf("unknown operator '%s' in derived expression", op))
		return nil
	}
}

// === Comparison Helpers ===

// compareEqual checks equality, handling numeric coercion.
// Returns nil when either side is unknown.
func (e *vm) compareEqual(a, b any) any {
	if a == nil || b == nil {
		return nil
	}

	aNum, aOk := toFloat(a)
	bNum, bOk := toFloat(b)
	if aOk && bOk {
		return aNum == bNum
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareNumeric compares two values numerically.
// Returns nil if either value is nil or non-numeric.
func (e *vm) compareNumeric(a, b any, cmp func(float64, float64) bool) any {
	aNum, aOk := toFloat(a)
	bNum, bOk := toFloat(b)
	if !aOk || !bOk {
		return nil
	}
	return cmp(aNum, bNum)
}

// compareDates compares two ISO dates. Returns nil if either is unparseable.
func (e *vm) compareDates(a, b any, cmp func(time.Time, time.Time) bool) any {
	aTime, aOk := parseDate(a)
	bTime, bOk := parseDate(b)
	if !aOk || !bOk {
		return nil
	}
	return cmp(aTime, bTime)
}

// === Logical Operators ===

// opAnd is a three-valued AND: false wins, then unknown, then true.
func (e *vm) opAnd(args any) any {
	arr, ok := args.([]any)
	if !ok {
		arr = []any{args}
	}

	unknown := false
	for _, arg := range arr {
		v := e.resolve(arg)
		if v == nil {
			unknown = true
			continue
		}
		if !e.isTruthy(v) {
			return false
		}
	}
	if unknown {
		return nil
	}
	return true
}

// opOr is a three-valued OR: true wins, then unknown, then false.
func (e *vm) opOr(args any) any {
	arr, ok := args.([]any)
	if !ok {
		arr = []any{args}
	}

	unknown := false
	for _, arg := range arr {
		v := e.resolve(arg)
		if v == nil {
			unknown = true
			continue
		}
		if e.isTruthy(v) {
			return true
		}
	}
	if unknown {
		return nil
	}
	return false
}

// opIf implements {"if": [c1, t1, c2, t2, ..., else]}.
// An unknown condition makes the whole expression unknown.
func (e *vm) opIf(args any) any {
	arr, ok := args.([]any)
	if !ok || len(arr) < 2 {
		return nil
	}

	for i := 0; i+1 < len(arr); i += 2 {
		condition := e.resolve(arr[i])
		if condition == nil {
			return nil
		}
		if e.isTruthy(condition) {
			return e.resolve(arr[i+1])
		}
	}

	if len(arr)%2 == 1 {
		return e.resolve(arr[len(arr)-1])
	}
	return nil
}

// === Arithmetic Operators ===

func (e *vm) arith(a, b any, fn func(float64, float64) (float64, bool)) any {
	aNum, aOk := toFloat(a)
	bNum, bOk := toFloat(b)
	if !aOk || !bOk {
		return nil
	}
	r, ok := fn(aNum, bNum)
	if !ok {
		return nil
	}
	return r
}

// fold applies fn left to right over all numeric arguments.
func (e *vm) fold(args any, fn func(float64, float64) float64) any {
	resolved := e.resolve(args)
	vals, ok := resolved.([]any)
	if !ok {
		vals = []any{resolved}
	}
	if len(vals) == 0 {
		return nil
	}

	acc, ok := toFloat(vals[0])
	if !ok {
		return nil
	}
	for _, v := range vals[1:] {
		n, ok := toFloat(v)
		if !ok {
			return nil
		}
		acc = fn(acc, n)
	}
	return acc
}

// === Collection Operators ===

// aggregateArgs splits {"op": ["/collection", expr]} into its parts.
func aggregateArgs(args any) (string, any) {
	switch a := args.(type) {
	case string:
		return a, nil
	case []any:
		var expr any
		if len(a) > 1 {
			expr = a[1]
		}
		if len(a) > 0 {
			if s, ok := a[0].(string); ok {
				return s, expr
			}
		}
		return "", expr
	}
	return "", nil
}

// opCount counts collection items, optionally those matching a condition.
// Syntax: {"count": "/formW2s"} or {"count": ["/formW2s", cond]}
func (e *vm) opCount(args any) any {
	coll, cond := aggregateArgs(args)
	ids, ok := e.items(coll)
	if !ok {
		return nil
	}

	n := 0
	for _, id := range ids {
		if cond == nil {
			n++
			continue
		}
		v := e.withItem(id, cond)
		if v == nil {
			return nil
		}
		if e.isTruthy(v) {
			n++
		}
	}
	return float64(n)
}

// opSum adds an expression over every item of a collection.
// Syntax: {"sum": ["/formW2s", {"var": "/formW2s/*/writableWages"}]}
func (e *vm) opSum(args any) any {
	coll, expr := aggregateArgs(args)
	ids, ok := e.items(coll)
	if !ok || expr == nil {
		return nil
	}

	total := 0.0
	for _, id := range ids {
		n, ok := toFloat(e.withItem(id, expr))
		if !ok {
			return nil
		}
		total += n
	}
	return total
}

// elements evaluates cond against each member of the first argument. The
// first argument is either a collection path, iterated by item, or any
// expression yielding an array, iterated with {"var": ""}.
func (e *vm) elements(args any) ([]any, bool) {
	arr, ok := args.([]any)
	if !ok || len(arr) < 2 {
		return nil, false
	}

	if coll := collectionArg(arr[0]); coll != "" {
		if ids, ok := e.items(coll); ok {
			out := make([]any, len(ids))
			for i, id := range ids {
				out[i] = e.withItem(id, arr[1])
			}
			return out, true
		}
	}

	var values []any
	switch v := e.resolve(arr[0]).(type) {
	case []any:
		values = v
	case []string:
		for _, s := range v {
			values = append(values, s)
		}
	default:
		return nil, false
	}
	out := make([]any, len(values))
	for i, val := range values {
		out[i] = e.withElement(val, arr[1])
	}
	return out, true
}

// opSome: any true wins, then unknown, then false.
func (e *vm) opSome(args any) any {
	results, ok := e.elements(args)
	if !ok {
		return nil
	}
	unknown := false
	for _, r := range results {
		if r == nil {
			unknown = true
			continue
		}
		if e.isTruthy(r) {
			return true
		}
	}
	if unknown {
		return nil
	}
	return false
}

// opAll: any false wins, then unknown, then true. Empty is vacuously true.
func (e *vm) opAll(args any) any {
	results, ok := e.elements(args)
	if !ok {
		return nil
	}
	unknown := false
	for _, r := range results {
		if r == nil {
			unknown = true
			continue
		}
		if !e.isTruthy(r) {
			return false
		}
	}
	if unknown {
		return nil
	}
	return true
}

// opIn checks if needle is in haystack (array or string).
func (e *vm) opIn(needle, haystack any) any {
	if needle == nil || haystack == nil {
		return nil
	}

	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if eq, _ := e.compareEqual(needle, item).(bool); eq {
				return true
			}
		}
		return false

	case []string:
		s := fmt.Sprintf("%v", needle)
		for _, item := range h {
			if item == s {
				return true
			}
		}
		return false

	case string:
		needleStr, ok := needle.(string)
		if !ok {
			return false
		}
		return strings.Contains(h, needleStr)

	default:
		return false
	}
}

// === Helper Functions ===

// toFloat converts a value to float64 if possible.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		// strings are never auto-converted
		return 0, false
	}
}

// parseDate parses an ISO 8601 date string or time.Time.
func parseDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case string:
		formats := []string{
			time.RFC3339,
			"2006-01-02T15:04:05",
			"2006-01-02",
		}
		for _, format := range formats {
			if t, err := time.Parse(format, d); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
