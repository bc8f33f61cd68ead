package factgraph_test

import (
	"fmt"
	"testing"

	"github.com/dlovans/taxflow/internal/flowtest"
	"github.com/dlovans/taxflow/pkg/factgraph"
)

// benchmarkState is a filled-in return with two W-2s.
func benchmarkState(b *testing.B) *factgraph.State {
	b.Helper()
	return flowtest.NewFacts(b).
		Set("/filingStatus", "single").
		Set("/livesAbroad", false).
		Set("/primaryFilerTin", "123-45-6789").
		Set("/hasW2s", true).
		AddW2(flowtest.W2A, true).
		AddW2(flowtest.W2B, true).
		Set("/interestTypes", []string{"bank"}).
		Snapshot().State()
}

// BenchmarkRestore measures rebuilding a return from its saved state.
func BenchmarkRestore(b *testing.B) {
	dict := flowtest.Dictionary(b)
	state := benchmarkState(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := factgraph.Restore(dict, state); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRestoreParallel measures restores from concurrent requests
// sharing one dictionary.
func BenchmarkRestoreParallel(b *testing.B) {
	dict := flowtest.Dictionary(b)
	state := benchmarkState(b)

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := factgraph.Restore(dict, state); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkLargeCollection derives over a collection of 100 items and a
// chain of 50 derived facts.
func BenchmarkLargeCollection(b *testing.B) {
	dict, state := largeReturn(b, 100, 50)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := factgraph.Restore(dict, state); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkVerify measures replaying an exported return.
func BenchmarkVerify(b *testing.B) {
	dict := flowtest.Dictionary(b)
	g, err := factgraph.Restore(dict, benchmarkState(b))
	if err != nil {
		b.Fatal(err)
	}
	doc := factgraph.Export(g.Snapshot())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if ok, err := factgraph.Verify(dict, doc); !ok || err != nil {
			b.Fatal(err)
		}
	}
}

// largeReturn builds a dictionary with a collection of amounts, their sum
// and a chain of derived facts on top of it, plus a state with items.
func largeReturn(b *testing.B, items, chain int) (*factgraph.Dictionary, *factgraph.State) {
	b.Helper()
	defs := []*factgraph.FactDef{
		{Path: "/lines", Type: factgraph.TypeCollection},
		{Path: "/lines/*/amount", Type: factgraph.TypeDollar, Writable: true},
		{Path: "/step0", Type: factgraph.TypeDollar, Derived: map[string]any{
			"sum": []any{"/lines", map[string]any{"var": "/lines/*/amount"}},
		}},
	}
	for i := 1; i <= chain; i++ {
		defs = append(defs, &factgraph.FactDef{
			Path: fmt.Sprintf("/step%d", i),
			Type: factgraph.TypeDollar,
			Derived: map[string]any{
				"+": []any{map[string]any{"var": fmt.Sprintf("/step%d", i-1)}, float64(1)},
			},
		})
	}
	dict, err := factgraph.NewDictionary(defs)
	if err != nil {
		b.Fatal(err)
	}

	g := factgraph.New(dict)
	lines := factgraph.MustParsePath("/lines").MustBind()
	amount := factgraph.MustParsePath("/lines/*/amount")
	err = g.Apply(func(tx *factgraph.Tx) error {
		for i := 0; i < items; i++ {
			id, err := tx.NewItem(lines)
			if err != nil {
				return err
			}
			if err := tx.Set(amount.MustBind(id), float64(i)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
	return dict, g.Snapshot().State()
}
