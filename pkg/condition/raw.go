package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dlovans/taxflow/pkg/factgraph"
)

// RawCondition is the authoring form of a condition. It is either a bare
// string naming a fact path or a signal, or an object:
//
//	{operator: isFalse, condition: /hasForeignAccounts}
//	{condition: data-import, section: form-w2s, operator: isUnknown}
//	{not: ...}
//	{all: [...]}
//	{any: [...]}
type RawCondition struct {
	Condition string         `yaml:"condition,omitempty" json:"condition,omitempty"`
	Operator  Operator       `yaml:"operator,omitempty" json:"operator,omitempty"`
	Section   string         `yaml:"section,omitempty" json:"section,omitempty"`
	Not       *RawCondition  `yaml:"not,omitempty" json:"not,omitempty"`
	All       []RawCondition `yaml:"all,omitempty" json:"all,omitempty"`
	Any       []RawCondition `yaml:"any,omitempty" json:"any,omitempty"`
}

type rawFields RawCondition

// Bare reports whether the condition can be written as a plain string.
func (r RawCondition) Bare() bool {
	return r.Condition != "" && (r.Operator == "" || r.Operator == IsTrue) &&
		r.Section == "" && r.Not == nil && r.All == nil && r.Any == nil
}

func (r *RawCondition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*r = RawCondition{Condition: node.Value}
		return nil
	}
	var f rawFields
	if err := node.Decode(&f); err != nil {
		return err
	}
	*r = RawCondition(f)
	return nil
}

func (r RawCondition) MarshalYAML() (any, error) {
	if r.Bare() {
		return r.Condition, nil
	}
	return rawFields(r), nil
}

func (r *RawCondition) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = RawCondition{Condition: s}
		return nil
	}
	var f rawFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = RawCondition(f)
	return nil
}

func (r RawCondition) MarshalJSON() ([]byte, error) {
	if r.Bare() {
		return json.Marshal(r.Condition)
	}
	return json.Marshal(rawFields(r))
}

// Parse converts the authoring form into a Condition.
func Parse(raw RawCondition) (Condition, error) {
	forms := 0
	if raw.Condition != "" {
		forms++
	}
	if raw.Not != nil {
		forms++
	}
	if raw.All != nil {
		forms++
	}
	if raw.Any != nil {
		forms++
	}
	if forms != 1 {
		return nil, fmt.Errorf("%w: exactly one of condition, not, all, any is required", ErrEmptyCondition)
	}

	switch {
	case raw.Not != nil:
		inner, err := Parse(*raw.Not)
		if err != nil {
			return nil, err
		}
		return Not{C: inner}, nil

	case raw.All != nil:
		cs, err := parseList(raw.All)
		if err != nil {
			return nil, err
		}
		return And{Cs: cs}, nil

	case raw.Any != nil:
		cs, err := parseList(raw.Any)
		if err != nil {
			return nil, err
		}
		return Or{Cs: cs}, nil
	}

	op := raw.Operator
	if op == "" {
		op = IsTrue
	}
	if !op.Valid() {
		return nil, invalidOperator(op)
	}

	if !strings.HasPrefix(raw.Condition, "/") {
		return Signal{Name: raw.Condition, Section: raw.Section, Operator: op}, nil
	}
	if raw.Section != "" {
		return nil, fmt.Errorf("condition %s: section applies to signals only", raw.Condition)
	}
	p, err := factgraph.ParsePath(raw.Condition)
	if err != nil {
		return nil, err
	}
	return Ref{Path: p, Operator: op}, nil
}

// ParseAll parses a list of guards into their conjunction. An empty list
// yields a nil Condition, which always evaluates True.
func ParseAll(raws []RawCondition) (Condition, error) {
	cs, err := parseList(raws)
	if err != nil {
		return nil, err
	}
	return Conjoin(cs...), nil
}

func parseList(raws []RawCondition) ([]Condition, error) {
	cs := make([]Condition, 0, len(raws))
	for _, r := range raws {
		c, err := Parse(r)
		if err != nil {
			return nil, err
		}
		cs = append(cs, c)
	}
	return cs, nil
}

// MustParse parses a bare string condition and panics on error.
func MustParse(s string) Condition {
	c, err := Parse(RawCondition{Condition: s})
	if err != nil {
		panic(err)
	}
	return c
}
