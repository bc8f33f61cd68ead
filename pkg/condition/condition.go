// Package condition evaluates guards over a fact graph snapshot using
// three-valued logic. A condition that cannot be decided yet evaluates to
// Incomplete rather than to an error.
package condition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dlovans/taxflow/pkg/factgraph"
)

var (
	ErrUnboundWildcard = factgraph.ErrUnboundWildcard
	ErrUnknownSignal   = errors.New("unknown condition signal")
	ErrInvalidOperator = errors.New("invalid condition operator")
	ErrEmptyCondition  = errors.New("empty condition")
)

// Operator maps a fact result to a truth value.
type Operator string

const (
	IsTrue              Operator = "isTrue"
	IsTrueAndComplete   Operator = "isTrueAndComplete"
	IsTrueOrIncomplete  Operator = "isTrueOrIncomplete"
	IsFalse             Operator = "isFalse"
	IsFalseAndComplete  Operator = "isFalseAndComplete"
	IsFalseOrIncomplete Operator = "isFalseOrIncomplete"
	IsComplete          Operator = "isComplete"
	IsIncomplete        Operator = "isIncomplete"
	IsUnknown           Operator = "isUnknown"
)

var operators = map[Operator]bool{
	IsTrue: true, IsTrueAndComplete: true, IsTrueOrIncomplete: true,
	IsFalse: true, IsFalseAndComplete: true, IsFalseOrIncomplete: true,
	IsComplete: true, IsIncomplete: true, IsUnknown: true,
}

// Valid reports whether o is one of the known operators.
func (o Operator) Valid() bool { return operators[o] }

// Condition is one of Ref, Not, And, Or or Signal.
type Condition interface {
	String() string
	isCondition()
}

// Ref tests a fact.
type Ref struct {
	Path     factgraph.Path
	Operator Operator
}

// Not negates a condition.
type Not struct {
	C Condition
}

// And holds when every member holds. An empty And is True.
type And struct {
	Cs []Condition
}

// Or holds when any member holds. An empty Or is False.
type Or struct {
	Cs []Condition
}

// Signal tests a structural signal supplied from outside the fact graph,
// such as a feature flag or a data-import section.
type Signal struct {
	Name     string
	Section  string
	Operator Operator
}

func (Ref) isCondition()    {}
func (Not) isCondition()    {}
func (And) isCondition()    {}
func (Or) isCondition()     {}
func (Signal) isCondition() {}

func (r Ref) String() string {
	if r.Operator == IsTrue {
		return r.Path.String()
	}
	return string(r.Operator) + ":" + r.Path.String()
}

func (n Not) String() string { return "not(" + n.C.String() + ")" }

func (a And) String() string { return joinConditions("all", a.Cs) }

func (o Or) String() string { return joinConditions("any", o.Cs) }

func (s Signal) String() string {
	name := s.Name
	if s.Section != "" {
		name += "[" + s.Section + "]"
	}
	if s.Operator == IsTrue {
		return name
	}
	return string(s.Operator) + ":" + name
}

func joinConditions(op string, cs []Condition) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

// Paths lists every fact path a condition references.
func Paths(c Condition) []factgraph.Path {
	var out []factgraph.Path
	var walk func(Condition)
	walk = func(c Condition) {
		switch v := c.(type) {
		case Ref:
			out = append(out, v.Path)
		case Not:
			walk(v.C)
		case And:
			for _, m := range v.Cs {
				walk(m)
			}
		case Or:
			for _, m := range v.Cs {
				walk(m)
			}
		}
	}
	if c != nil {
		walk(c)
	}
	return out
}

// Signals lists every signal a condition references.
func Signals(c Condition) []Signal {
	var out []Signal
	var walk func(Condition)
	walk = func(c Condition) {
		switch v := c.(type) {
		case Signal:
			out = append(out, v)
		case Not:
			walk(v.C)
		case And:
			for _, m := range v.Cs {
				walk(m)
			}
		case Or:
			for _, m := range v.Cs {
				walk(m)
			}
		}
	}
	if c != nil {
		walk(c)
	}
	return out
}

// Conjoin combines guards into one, dropping nils.
func Conjoin(cs ...Condition) Condition {
	var out []Condition
	for _, c := range cs {
		if c != nil {
			out = append(out, c)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return And{Cs: out}
	}
}

func invalidOperator(op Operator) error {
	return fmt.Errorf("%w: %q", ErrInvalidOperator, op)
}
