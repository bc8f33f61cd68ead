package factgraph

import (
	"fmt"
	"strings"
)

// Warning is a non-fatal problem met while computing derived facts.
type Warning struct {
	Path    ConcretePath `json:"path,omitempty"`
	Message string       `json:"message"`
}

// vm computes derived facts over a fixed State.
// It is nil-safe: an unknown input yields nil, which callers read as incomplete.
type vm struct {
	dict  *Dictionary
	state *State

	memo   map[ConcretePath]Result
	active map[ConcretePath]bool // derivations in progress (cycle guard)

	item           string // collection item bound to '*'
	currentElement any    // value of {"var": ""} inside some/all/none over arrays
	tainted        bool   // a placeholder fed the current derivation

	warnings []Warning
	current  ConcretePath
}

func newVM(dict *Dictionary, state *State) *vm {
	return &vm{
		dict:   dict,
		state:  state,
		memo:   make(map[ConcretePath]Result),
		active: make(map[ConcretePath]bool),
	}
}

// resolve evaluates any JSON-logic node and returns its value.
// This is the recursive core of the VM.
func (e *vm) resolve(node any) any {
	if node == nil {
		return nil
	}

	switch v := node.(type) {
	case map[string]any:
		// {"op": args}; multi-key maps are literal objects
		if len(v) == 1 {
			for op, args := range v {
				return e.executeOperator(op, args)
			}
		}
		return v

	case []any:
		result := make([]any, len(v))
		for i, elem := range v {
			result[i] = e.resolve(elem)
		}
		return result

	default:
		return v
	}
}

// lookup returns the full result for a bound path.
func (e *vm) lookup(c ConcretePath) Result {
	def, ok := e.dict.LookupConcrete(c)
	if !ok {
		return Result{}
	}
	res := Result{TypeName: string(def.Type)}

	if coll, id, scoped := c.Collection(); scoped && !e.state.hasItem(coll, id) {
		return res
	}

	switch {
	case def.Type == TypeCollection:
		items := append([]string(nil), e.state.Collections[c]...)
		res.Complete, res.HasValue, res.Value = true, true, items
		return res

	case def.IsDerived():
		return e.derive(c, def)

	default:
		if v, ok := e.state.Facts[c]; ok {
			res.Complete, res.HasValue, res.Value = true, true, v
		}
		return res
	}
}

// derive computes and memoizes one derived fact.
func (e *vm) derive(c ConcretePath, def *FactDef) Result {
	if r, ok := e.memo[c]; ok {
		return r
	}
	res := Result{TypeName: string(def.Type)}
	if e.active[c] {
		e.addWarning(c, fmt.Sprintf("%v at %s", ErrDerivationCycle, c))
		return res
	}

	_, ids := c.Abstract()
	savedItem, savedTaint, savedCur := e.item, e.tainted, e.current
	e.item, e.tainted, e.current = "", false, c
	if len(ids) > 0 {
		e.item = ids[0]
	}
	e.active[c] = true

	value := e.resolve(def.Derived)
	tainted := e.tainted

	delete(e.active, c)
	e.item, e.tainted, e.current = savedItem, savedTaint, savedCur

	switch {
	case value != nil:
		res.HasValue, res.Value, res.Complete = true, value, !tainted
	case def.Placeholder != nil:
		res.HasValue, res.Value = true, def.Placeholder
	}
	e.memo[c] = res
	return res
}

// getVar reads a fact by template path, binding '*' to the current item.
// Returns nil if the fact has no value (distinguishes "unknown" from "zero").
// Placeholder values are returned but mark the running derivation incomplete.
func (e *vm) getVar(path string) any {
	if path == "" {
		return e.currentElement
	}

	p, err := ParsePath(path)
	if err != nil {
		e.addWarning(e.current, err.Error())
		return nil
	}
	c, err := p.Bind(e.item)
	if err != nil {
		e.addWarning(e.current, err.Error())
		return nil
	}

	r := e.lookup(c)
	if !r.HasValue {
		return nil
	}
	if !r.Complete {
		e.tainted = true
	}
	return r.Value
}

// items returns the item ids of the collection named by a path argument.
func (e *vm) items(path string) ([]string, bool) {
	p, err := ParsePath(path)
	if err != nil || !e.dict.IsCollection(p) {
		return nil, false
	}
	return e.state.Collections[p.MustBind()], true
}

// withItem evaluates node with '*' bound to id.
func (e *vm) withItem(id string, node any) any {
	saved := e.item
	e.item = id
	v := e.resolve(node)
	e.item = saved
	return v
}

// withElement evaluates node with {"var": ""} bound to value.
func (e *vm) withElement(value any, node any) any {
	saved := e.currentElement
	e.currentElement = value
	v := e.resolve(node)
	e.currentElement = saved
	return v
}

// isTruthy determines if a value is "truthy" in JSON-logic terms.
// nil, false, 0, and "" are falsy. Everything else is truthy.
func (e *vm) isTruthy(value any) bool {
	if value == nil {
		return false
	}

	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case []string:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

// resolveArgs resolves an args node (expected to be []any) and returns the resolved values.
// Missing values are nil.
func (e *vm) resolveArgs(args any, expected int) []any {
	result := make([]any, expected)

	arr, ok := args.([]any)
	if !ok {
		// single value, e.g. {"not": true}
		if expected > 0 {
			result[0] = e.resolve(args)
		}
		return result
	}

	for i := 0; i < expected && i < len(arr); i++ {
		result[i] = e.resolve(arr[i])
	}
	return result
}

func (e *vm) addWarning(path ConcretePath, message string) {
	e.warnings = append(e.warnings, Warning{Path: path, Message: message})
}

// collectionArg returns the collection path named by the first argument of an
// aggregate operator, if it is a literal fact path.
func collectionArg(args any) string {
	switch a := args.(type) {
	case string:
		if strings.HasPrefix(a, "/") {
			return a
		}
	case []any:
		if len(a) > 0 {
			return collectionArg(a[0])
		}
	}
	return ""
}
