package condition

import (
	"fmt"

	"github.com/dlovans/taxflow/pkg/factgraph"
)

// Evaluator decides conditions against a fact graph snapshot.
// It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	Signals SignalSource
}

// Evaluate decides c for the collection item itemID (empty outside loops).
// A nil condition is True. Unbound wildcards and unknown signals are errors;
// undecidable facts are Incomplete.
func (ev *Evaluator) Evaluate(c Condition, r factgraph.Reader, itemID string) (Tri, error) {
	switch v := c.(type) {
	case nil:
		return True, nil

	case Ref:
		path, err := v.Path.Bind(itemID)
		if err != nil {
			return Incomplete, fmt.Errorf("condition %s: %w", v, err)
		}
		return Apply(v.Operator, r.Get(path)), nil

	case Signal:
		return ev.signal(v, r, itemID)

	case Not:
		t, err := ev.Evaluate(v.C, r, itemID)
		if err != nil {
			return Incomplete, err
		}
		return t.Not(), nil

	case And:
		out := True
		for _, m := range v.Cs {
			t, err := ev.Evaluate(m, r, itemID)
			if err != nil {
				return Incomplete, err
			}
			// later members are not checked for unbound wildcards; flow.Build
			// rejects those before any evaluation
			if t == False {
				return False, nil
			}
			out = out.And(t)
		}
		return out, nil

	case Or:
		out := False
		for _, m := range v.Cs {
			t, err := ev.Evaluate(m, r, itemID)
			if err != nil {
				return Incomplete, err
			}
			if t == True {
				return True, nil
			}
			out = out.Or(t)
		}
		return out, nil
	}
	return Incomplete, fmt.Errorf("unsupported condition type %T", c)
}

// Holds is Evaluate collapsed to "definitely true".
func (ev *Evaluator) Holds(c Condition, r factgraph.Reader, itemID string) (bool, error) {
	t, err := ev.Evaluate(c, r, itemID)
	return t == True, err
}

func (ev *Evaluator) signal(s Signal, r factgraph.Reader, itemID string) (Tri, error) {
	if ev.Signals == nil {
		return Incomplete, fmt.Errorf("%w: %s (no signal source)", ErrUnknownSignal, s)
	}
	val, ok := ev.Signals.Signal(SignalQuery{Name: s.Name, Section: s.Section, Reader: r, ItemID: itemID})
	if !ok {
		return Incomplete, fmt.Errorf("%w: %s", ErrUnknownSignal, s)
	}
	return Apply(s.Operator, val.result()), nil
}

// Apply maps a fact result through an operator:
//
//	operator             no value     placeholder  complete v
//	isTrue               Incomplete   v            v
//	isTrueAndComplete    Incomplete   Incomplete   v
//	isTrueOrIncomplete   True         True         v
//	isFalse              Incomplete   !v           !v
//	isFalseAndComplete   Incomplete   Incomplete   !v
//	isFalseOrIncomplete  True         True         !v
//	isComplete           False        False        True
//	isIncomplete         True         True         False
//	isUnknown            True         False        False
func Apply(op Operator, res factgraph.Result) Tri {
	v := truthy(res.Value)

	switch op {
	case IsTrue:
		if !res.HasValue {
			return Incomplete
		}
		return FromBool(v)
	case IsTrueAndComplete:
		if !res.Complete {
			return Incomplete
		}
		return FromBool(v)
	case IsTrueOrIncomplete:
		if !res.Complete {
			return True
		}
		return FromBool(v)
	case IsFalse:
		if !res.HasValue {
			return Incomplete
		}
		return FromBool(!v)
	case IsFalseAndComplete:
		if !res.Complete {
			return Incomplete
		}
		return FromBool(!v)
	case IsFalseOrIncomplete:
		if !res.Complete {
			return True
		}
		return FromBool(!v)
	case IsComplete:
		return FromBool(res.Complete)
	case IsIncomplete:
		return FromBool(!res.Complete)
	case IsUnknown:
		return FromBool(!res.HasValue)
	}
	return Incomplete
}

// truthy follows JSON-logic truthiness for non-boolean facts.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	case string:
		return x != ""
	case []string:
		return len(x) > 0
	case []any:
		return len(x) > 0
	default:
		return true
	}
}
