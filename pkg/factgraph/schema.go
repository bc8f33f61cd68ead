// Package factgraph provides a sparse, collection-aware store of tax facts.
// Writable facts are answered by the filer; derived facts are computed from
// JSON-logic expressions over other facts. Unknown inputs propagate as
// incompleteness rather than as zero values.
package factgraph

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FactType names the value domain of a fact.
type FactType string

const (
	TypeBoolean     FactType = "boolean"
	TypeDollar      FactType = "dollar"
	TypeInt         FactType = "int"
	TypeEnum        FactType = "enum"
	TypeMultiEnum   FactType = "multiEnum"
	TypeString      FactType = "string"
	TypeDate        FactType = "date"
	TypeTIN         FactType = "tin"
	TypeEIN         FactType = "ein"
	TypePIN         FactType = "pin"
	TypeBankAccount FactType = "bankAccount"
	TypeCollection  FactType = "collection"
)

var knownTypes = map[FactType]bool{
	TypeBoolean: true, TypeDollar: true, TypeInt: true, TypeEnum: true,
	TypeMultiEnum: true, TypeString: true, TypeDate: true, TypeTIN: true,
	TypeEIN: true, TypePIN: true, TypeBankAccount: true, TypeCollection: true,
}

// Sensitive reports whether values of this type are always masked.
func (t FactType) Sensitive() bool {
	return t == TypeTIN || t == TypeEIN || t == TypePIN
}

// FactDef declares one fact. Path may contain wildcards for facts that live
// on every item of a collection.
type FactDef struct {
	Path             string   `yaml:"path" json:"path"`
	Type             FactType `yaml:"type" json:"type"`
	Writable         bool     `yaml:"writable,omitempty" json:"writable,omitempty"`
	Derived          any      `yaml:"derived,omitempty" json:"derived,omitempty"` // JSON-logic
	Placeholder      any      `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	Options          []string `yaml:"options,omitempty" json:"options,omitempty"`
	Sensitive        bool     `yaml:"sensitive,omitempty" json:"sensitive,omitempty"`
	BlocksSubmission bool     `yaml:"blocksSubmission,omitempty" json:"blocksSubmission,omitempty"`
	Label            string   `yaml:"label,omitempty" json:"label,omitempty"`

	path Path
}

// Template returns the parsed path of the definition.
func (d *FactDef) Template() Path { return d.path }

// IsDerived reports whether the fact is computed rather than answered.
func (d *FactDef) IsDerived() bool { return d.Derived != nil }

// Format selects the dictionary encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf guesses the encoding from a file extension; YAML is the default.
func FormatOf(name string) Format {
	if strings.EqualFold(filepath.Ext(name), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Dictionary is the immutable set of fact definitions.
type Dictionary struct {
	facts map[string]*FactDef
	order []*FactDef
}

type dictionaryFile struct {
	Facts []*FactDef `yaml:"facts" json:"facts"`
}

// LoadDictionary decodes and validates a dictionary document.
func LoadDictionary(r io.Reader, format Format) (*Dictionary, error) {
	defs, err := DecodeFactDefs(r, format)
	if err != nil {
		return nil, err
	}
	return NewDictionary(defs)
}

// DecodeFactDefs decodes a dictionary document without validating it.
func DecodeFactDefs(r io.Reader, format Format) ([]*FactDef, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}

	var doc dictionaryFile
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	default:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse dictionary: %w", err)
	}
	return doc.Facts, nil
}

// LoadDictionaryFile reads a dictionary from disk.
func LoadDictionaryFile(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()
	return LoadDictionary(f, FormatOf(path))
}

// NewDictionary validates definitions and indexes them by path.
// All problems are collected into a single *DictionaryError.
func NewDictionary(defs []*FactDef) (*Dictionary, error) {
	d := &Dictionary{facts: make(map[string]*FactDef, len(defs))}
	var problems []string

	for _, def := range defs {
		if def == nil {
			continue
		}
		p, err := ParsePath(def.Path)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		def.path = p
		if _, dup := d.facts[p.String()]; dup {
			problems = append(problems, fmt.Sprintf("duplicate fact %s", p))
			continue
		}
		if !knownTypes[def.Type] {
			problems = append(problems, fmt.Sprintf("fact %s has unknown type %q", p, def.Type))
		}
		if def.Writable && def.IsDerived() {
			problems = append(problems, fmt.Sprintf("fact %s is both writable and derived", p))
		}
		if (def.Type == TypeEnum || def.Type == TypeMultiEnum) && len(def.Options) == 0 {
			problems = append(problems, fmt.Sprintf("fact %s of type %s declares no options", p, def.Type))
		}
		if def.Type == TypeCollection && (def.IsDerived() || p.IsAbstract()) {
			problems = append(problems, fmt.Sprintf("collection %s must be a plain top-level fact", p))
		}
		d.facts[p.String()] = def
		d.order = append(d.order, def)
	}

	for _, def := range d.order {
		if !def.path.IsAbstract() {
			continue
		}
		coll := def.path.CollectionPath()
		cd, ok := d.facts[coll.String()]
		if !ok || cd.Type != TypeCollection {
			problems = append(problems, fmt.Sprintf("fact %s is scoped to undeclared collection %s", def.path, coll))
		}
		if def.path.Wildcards() > 1 {
			problems = append(problems, fmt.Sprintf("fact %s nests collections, which is not supported", def.path))
		}
	}

	for _, def := range d.order {
		if !def.IsDerived() {
			continue
		}
		for _, v := range Vars(def.Derived) {
			if _, err := ParsePath(v); err != nil {
				problems = append(problems, fmt.Sprintf("derived fact %s: %v", def.path, err))
				continue
			}
			if _, ok := d.facts[v]; !ok {
				problems = append(problems, fmt.Sprintf("derived fact %s references undefined fact %s", def.path, v))
			}
		}
	}

	if cycle := d.findCycle(); cycle != nil {
		problems = append(problems, fmt.Sprintf("%v: %s", ErrDerivationCycle, strings.Join(cycle, " -> ")))
	}

	if len(problems) > 0 {
		return nil, &DictionaryError{Problems: problems}
	}
	return d, nil
}

// Lookup finds the definition for a template path.
func (d *Dictionary) Lookup(p Path) (*FactDef, bool) {
	def, ok := d.facts[p.String()]
	return def, ok
}

// LookupConcrete finds the definition governing a bound path.
func (d *Dictionary) LookupConcrete(c ConcretePath) (*FactDef, bool) {
	p, _ := c.Abstract()
	if p.IsZero() {
		return nil, false
	}
	return d.Lookup(p)
}

// Facts returns definitions in declaration order.
func (d *Dictionary) Facts() []*FactDef {
	out := make([]*FactDef, len(d.order))
	copy(out, d.order)
	return out
}

// IsCollection reports whether p names a collection fact.
func (d *Dictionary) IsCollection(p Path) bool {
	def, ok := d.Lookup(p)
	return ok && def.Type == TypeCollection
}

// SubmissionBlocking returns the facts that, when true, block filing.
func (d *Dictionary) SubmissionBlocking() []*FactDef {
	var out []*FactDef
	for _, def := range d.order {
		if def.BlocksSubmission {
			out = append(out, def)
		}
	}
	return out
}

// findCycle runs a DFS over derived-fact dependencies and returns the first
// cycle found, or nil.
func (d *Dictionary) findCycle() []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(d.facts))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case visiting:
			for i, s := range stack {
				if s == name {
					cycle = append(append([]string{}, stack[i:]...), name)
				}
			}
			return true
		case done:
			return false
		}
		state[name] = visiting
		stack = append(stack, name)
		if def, ok := d.facts[name]; ok && def.IsDerived() {
			deps := Vars(def.Derived)
			sort.Strings(deps)
			for _, dep := range deps {
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return false
	}

	for _, def := range d.order {
		if visit(def.path.String()) {
			return cycle
		}
	}
	return nil
}

// Vars recursively finds every fact path referenced by {"var": "/path"} and by
// the collection argument of aggregate operators in a JSON-logic tree.
func Vars(node any) []string {
	if node == nil {
		return nil
	}

	var vars []string
	switch v := node.(type) {
	case map[string]any:
		if name, ok := v["var"].(string); ok && name != "" {
			vars = append(vars, name)
		}
		for op, args := range v {
			if aggregateOps[op] {
				if coll := collectionArg(args); coll != "" {
					vars = append(vars, coll)
				}
			}
			vars = append(vars, Vars(args)...)
		}
	case []any:
		for _, elem := range v {
			vars = append(vars, Vars(elem)...)
		}
	}
	return dedupe(vars)
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
