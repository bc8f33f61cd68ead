// Package lint provides static analysis for flow declarations and their fact
// dictionary. It reports everything it can find in one pass without
// evaluating any return.
package lint

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/flow"
)

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue represents a problem found during static analysis.
type Issue struct {
	Severity string `json:"severity"` // "error" or "warning"
	Route    string `json:"route,omitempty"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
}

func (i Issue) String() string {
	var b strings.Builder
	b.WriteString(i.Severity)
	b.WriteString(": ")
	if i.Route != "" {
		b.WriteString(i.Route)
		b.WriteString(": ")
	}
	b.WriteString(i.Message)
	return b.String()
}

// Result contains all issues found by the linter.
type Result struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// Errors counts the error issues.
func (r *Result) Errors() int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			n++
		}
	}
	return n
}

// Run lints doc against the fact definitions. The definitions need not be
// valid: their problems are reported as errors and the flow checks that need
// a dictionary are skipped.
func Run(doc *flow.Document, defs []*factgraph.FactDef) *Result {
	result := &Result{
		Valid:  true,
		Issues: make([]Issue, 0),
	}

	dict, err := factgraph.NewDictionary(defs)
	if err != nil {
		var de *factgraph.DictionaryError
		if errors.As(err, &de) {
			for _, p := range de.Problems {
				result.addError("", "", p)
			}
		} else {
			result.addError("", "", err.Error())
		}
	}

	w := &walker{
		result:   result,
		declared: make(map[string]bool),
		writers:  make(map[string][]string),
	}
	for _, b := range doc.Batches {
		w.declared[b] = true
	}
	for _, cat := range doc.Categories {
		w.node(cat, scope{})
	}

	// Check: facts written by more than one screen
	paths := make([]string, 0, len(w.writers))
	for p := range w.writers {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if screens := w.writers[p]; len(screens) > 1 {
			result.addWarning("", p, fmt.Sprintf(
				"fact '%s' is set by multiple screens: %v (answers may overwrite each other)", p, screens))
		}
	}

	if dict == nil {
		return result
	}

	// Check: writable facts no screen asks for
	for _, def := range dict.Facts() {
		if def.Writable && len(w.writers[def.Template().String()]) == 0 {
			result.addWarning("", def.Path, fmt.Sprintf("writable fact '%s' is never asked for", def.Path))
		}
	}

	// Anything the graph builder rejects is an error.
	if _, err := flow.Build(doc, dict); err != nil {
		var be *flow.BuildError
		if errors.As(err, &be) {
			for _, is := range be.Issues {
				result.addError(is.Route, is.Path, is.Message)
			}
		} else {
			result.addError("", "", err.Error())
		}
	}
	return result
}

type walker struct {
	result   *Result
	declared map[string]bool
	writers  map[string][]string // fact path -> screen routes
}

// scope tracks the route of the enclosing nodes.
type scope struct {
	category, subcategory string
}

func (s scope) route(segment string) string {
	parts := []string{"/flow"}
	for _, p := range []string{s.category, s.subcategory, segment} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

func (w *walker) node(d *flow.NodeDecl, s scope) {
	if d == nil {
		return
	}
	where := s.route("")
	switch d.Kind {
	case flow.KindCategory:
		s.category = d.Route
		where = s.route("")
	case flow.KindSubcategory:
		s.subcategory = d.Route
		where = s.route("")
		if d.CompleteIf == nil {
			w.result.addWarning(where, "", "subcategory has no completeIf, so the checklist never marks it complete")
		}
	case flow.KindLoop:
		where = fmt.Sprintf("%s (loop %s)", where, d.LoopName)
		if d.CompletedCondition == nil {
			w.result.addWarning(where, d.Collection,
				"loop has no completedCondition, so finished items are never skipped or marked done")
		}
	case flow.KindScreen:
		where = s.route(d.Route)
		w.screen(d, where)
	}
	w.batches(d.Batches, where)

	for _, child := range d.Children {
		w.node(child, s)
	}
}

func (w *walker) screen(d *flow.NodeDecl, route string) {
	heading := false
	for _, c := range d.Content {
		switch c.Kind {
		case flow.ContentHeading:
			heading = true
		case flow.ContentFact, flow.ContentFactSelect, flow.ContentBankAccount:
			if !c.ReadOnly && c.Path != "" {
				w.write(c.Path, route)
			}
		case flow.ContentSetFact:
			if c.Path != "" {
				w.write(c.Path, route)
			}
		}
		w.batches(c.Batches, route)
	}
	if !heading {
		w.result.addWarning(route, "", "screen has no heading")
	}
}

func (w *walker) write(path, route string) {
	for _, r := range w.writers[path] {
		if r == route {
			return
		}
	}
	w.writers[path] = append(w.writers[path], route)
}

func (w *walker) batches(batches []string, route string) {
	for _, b := range batches {
		if !w.declared[b] {
			w.result.addWarning(route, "", fmt.Sprintf("batch '%s' is not declared by any flow file", b))
		}
	}
}

func (r *Result) addError(route, path, message string) {
	r.Valid = false
	r.Issues = append(r.Issues, Issue{
		Severity: SeverityError,
		Route:    route,
		Path:     path,
		Message:  message,
	})
}

func (r *Result) addWarning(route, path, message string) {
	r.Issues = append(r.Issues, Issue{
		Severity: SeverityWarning,
		Route:    route,
		Path:     path,
		Message:  message,
	})
}
