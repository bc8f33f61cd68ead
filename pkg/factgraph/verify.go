package factgraph

import (
	"fmt"
	"reflect"
	"sort"
)

// Document is an exported return: the writable state plus the derived values
// that were computed from it.
type Document struct {
	State
	Derived map[ConcretePath]any `json:"derived,omitempty"`
}

// Export captures a snapshot with every complete derived value.
func Export(s *Snapshot) *Document {
	doc := &Document{State: *s.State(), Derived: make(map[ConcretePath]any)}
	for path, r := range s.derived {
		if r.Complete {
			doc.Derived[path] = r.Value
		}
	}
	return doc
}

// Mismatch is one derived value that does not replay.
type Mismatch struct {
	Path     ConcretePath `json:"path"`
	Claimed  any          `json:"claimed"`
	Computed any          `json:"computed"`
}

// VerifyError lists every derived value that failed to replay.
type VerifyError struct {
	Mismatches []Mismatch
}

func (e *VerifyError) Error() string {
	if len(e.Mismatches) == 1 {
		m := e.Mismatches[0]
		return fmt.Sprintf("derived fact %s: got %v, expected %v", m.Path, m.Claimed, m.Computed)
	}
	return fmt.Sprintf("%d derived facts do not replay", len(e.Mismatches))
}

// Verify checks that doc's derived values follow from its writable state.
// It replays the derivations and compares results.
func Verify(dict *Dictionary, doc *Document) (bool, error) {
	g, err := Restore(dict, &doc.State)
	if err != nil {
		return false, fmt.Errorf("replay failed: %w", err)
	}
	snap := g.Snapshot()
	replayed := Export(snap)

	var mismatches []Mismatch
	for path, claimed := range doc.Derived {
		computed, ok := replayed.Derived[path]
		if !ok || !valuesEqual(claimed, computed) {
			mismatches = append(mismatches, Mismatch{Path: path, Claimed: claimed, Computed: computed})
		}
	}
	for path, computed := range replayed.Derived {
		if _, ok := doc.Derived[path]; !ok {
			mismatches = append(mismatches, Mismatch{Path: path, Computed: computed})
		}
	}
	if len(mismatches) > 0 {
		sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].Path < mismatches[j].Path })
		return false, &VerifyError{Mismatches: mismatches}
	}
	return true, nil
}

// valuesEqual compares numbers numerically and everything else structurally,
// so values that went through a JSON round trip still match.
func valuesEqual(a, b any) bool {
	an, aOk := toFloat(a)
	bn, bOk := toFloat(b)
	if aOk && bOk {
		return an == bn
	}
	if as, ok := stringList(a); ok {
		bs, ok := stringList(b)
		return ok && reflect.DeepEqual(as, bs)
	}
	return reflect.DeepEqual(a, b)
}

func stringList(v any) ([]string, bool) {
	switch l := v.(type) {
	case []string:
		return l, true
	case []any:
		out := make([]string, 0, len(l))
		for _, x := range l {
			s, ok := x.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
