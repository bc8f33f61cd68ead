package navigate_test

import (
	"testing"

	"github.com/dlovans/taxflow/internal/flowtest"
	"github.com/dlovans/taxflow/pkg/navigate"
)

// BenchmarkWalkFlow follows NextScreen from the first screen until the flow
// ends, the way a filer clicks through a finished return.
func BenchmarkWalkFlow(b *testing.B) {
	nav := navigate.New(flowtest.Graph(b), flowtest.Evaluator())
	snap := flowtest.NewFacts(b).
		Set("/filingStatus", "single").
		Set("/livesAbroad", false).
		Set("/primaryFilerTin", "123-45-6789").
		Set("/hasW2s", true).
		AddW2(flowtest.W2A, true).
		Snapshot()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d := navigate.Destination{Kind: navigate.KindScreen, Route: flowtest.RouteAboutYouIntro}
		for steps := 0; d.Kind == navigate.KindScreen && steps < 100; steps++ {
			var err error
			if d, err = nav.NextScreen(d.Route, d.ItemID, snap); err != nil {
				b.Fatal(err)
			}
		}
	}
}

// BenchmarkNextScreenParallel measures one navigation from concurrent
// requests sharing the navigator.
func BenchmarkNextScreenParallel(b *testing.B) {
	nav := navigate.New(flowtest.Graph(b), flowtest.Evaluator())
	snap := flowtest.NewFacts(b).Set("/hasW2s", true).AddW2(flowtest.W2A, false).Snapshot()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := nav.NextScreen(flowtest.RouteJobsIntro, "", snap); err != nil {
				b.Fatal(err)
			}
		}
	})
}
