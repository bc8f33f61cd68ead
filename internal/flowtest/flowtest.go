// Package flowtest provides a small but complete tax return flow for tests:
// a fact dictionary, a three-chunk flow declaration and helpers to build fact
// states against them.
package flowtest

import (
	"bytes"
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dlovans/taxflow/pkg/condition"
	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/flow"
)

//go:embed testdata
var testdata embed.FS

// Stable collection item ids used across fixtures.
const (
	W2A = "0b8e4c1a-4a53-4bb4-8f3c-5f0e2a1d9c01"
	W2B = "0b8e4c1a-4a53-4bb4-8f3c-5f0e2a1d9c02"
)

// Well-known routes of the fixture flow.
const (
	RouteAboutYouIntro = "/flow/you-and-your-family/about-you/about-you-intro"
	RouteFilingStatus  = "/flow/you-and-your-family/about-you/filing-status"
	RouteLivesAbroad   = "/flow/you-and-your-family/about-you/lives-abroad"
	RouteLivesAbroadKO = "/flow/you-and-your-family/about-you/lives-abroad-ko"
	RoutePrimaryTIN    = "/flow/you-and-your-family/about-you/primary-tin"
	RouteJobsIntro     = "/flow/income/jobs/jobs-intro"
	RouteJobsLoopIntro = "/flow/income/jobs/jobs-loop-intro"
	RouteAddW2         = "/flow/income/jobs/add-w2"
	RouteW2Employer    = "/flow/income/jobs/w2-employer-info"
	RouteW2Wages       = "/flow/income/jobs/w2-wages"
	RouteW2Tips        = "/flow/income/jobs/w2-tips"
	RouteTipsInfo      = "/flow/income/jobs/tips-info"
	RouteW2Summary     = "/flow/income/jobs/w2-summary"
	RouteInterestTypes = "/flow/complete/refund/interest-types"
	RouteDirectDeposit = "/flow/complete/refund/direct-deposit"
	RouteBankAccount   = "/flow/complete/refund/bank-account"
	RouteForeignAccts  = "/flow/complete/refund/foreign-accounts"
	RouteSign          = "/flow/complete/sign/sign-and-submit"
	RouteIncomeTooHigh = "/flow/knockout/knockouts/income-too-high"

	SubcategoryAboutYou = "/flow/you-and-your-family/about-you"
	SubcategoryJobs     = "/flow/income/jobs"
	SubcategoryRefund   = "/flow/complete/refund"
	SubcategorySign     = "/flow/complete/sign"
)

// InnerLoopFlow keeps its W-2 loop inside a subsubcategory. The loop has no
// completion condition and does not move on to the next item by itself.
const InnerLoopFlow = `
categories:
  - kind: category
    route: income
    children:
      - kind: subcategory
        route: jobs
        children:
          - kind: screen
            route: jobs-intro
            content:
              - {kind: fact, path: /hasW2s}
          - kind: subsubcategory
            route: w2s
            children:
              - kind: screen
                route: w2-list
                condition: /hasW2s
                content:
                  - {kind: heading, i18nKey: heading.w2-list}
              - kind: loop
                loopName: w2s
                collection: /formW2s
                condition: /hasW2s
                children:
                  - kind: screen
                    route: w2-employer-info
                    content:
                      - {kind: fact, path: /formW2s/*/employerName}
                  - kind: screen
                    route: w2-wages
                    content:
                      - {kind: fact, path: /formW2s/*/writableWages}
          - kind: screen
            route: jobs-done
            content:
              - {kind: heading, i18nKey: heading.jobs-done}
`

// Routes of InnerLoopFlow.
const (
	InnerSubSubcategory = "/flow/income/jobs/w2s"
	InnerW2List         = "/flow/income/jobs/w2-list"
	InnerW2Employer     = "/flow/income/jobs/w2-employer-info"
	InnerW2Wages        = "/flow/income/jobs/w2-wages"
	InnerJobsDone       = "/flow/income/jobs/jobs-done"
)

// DictionaryYAML returns the raw fixture dictionary.
func DictionaryYAML() []byte {
	data, err := testdata.ReadFile("testdata/dictionary.yaml")
	if err != nil {
		panic(err)
	}
	return data
}

// FlowChunks returns the fixture flow files by name, in load order.
func FlowChunks() map[string][]byte {
	out := make(map[string][]byte)
	entries, err := fs.ReadDir(testdata, "testdata/flow")
	if err != nil {
		panic(err)
	}
	for _, e := range entries {
		data, err := testdata.ReadFile(path.Join("testdata/flow", e.Name()))
		if err != nil {
			panic(err)
		}
		out[e.Name()] = data
	}
	return out
}

// Dictionary loads the fixture dictionary.
func Dictionary(t testing.TB) *factgraph.Dictionary {
	t.Helper()
	dict, err := factgraph.LoadDictionary(bytes.NewReader(DictionaryYAML()), factgraph.FormatYAML)
	require.NoError(t, err)
	return dict
}

// Document parses and merges the fixture flow chunks.
func Document(t testing.TB) *flow.Document {
	t.Helper()
	chunks := FlowChunks()
	names := make([]string, 0, len(chunks))
	for name := range chunks {
		names = append(names, name)
	}
	sort.Strings(names)

	docs := make([]*flow.Document, 0, len(names))
	for _, name := range names {
		doc, err := flow.Parse(chunks[name], factgraph.FormatYAML, name)
		require.NoError(t, err)
		docs = append(docs, doc)
	}
	return flow.Merge(docs...)
}

// Files locates the fixture written to disk by WriteFiles.
type Files struct {
	Dir        string
	Dictionary string
	FlowGlob   string
}

// WriteFiles writes the fixture dictionary and flow chunks under dir, laid
// out like a project: facts.yaml and flow/*.yaml.
func WriteFiles(t testing.TB, dir string) Files {
	t.Helper()
	flowDir := filepath.Join(dir, "flow")
	require.NoError(t, os.MkdirAll(flowDir, 0o755))
	dict := filepath.Join(dir, "facts.yaml")
	require.NoError(t, os.WriteFile(dict, DictionaryYAML(), 0o644))
	for name, data := range FlowChunks() {
		require.NoError(t, os.WriteFile(filepath.Join(flowDir, name), data, 0o644))
	}
	return Files{
		Dir:        dir,
		Dictionary: dict,
		FlowGlob:   filepath.Join(flowDir, "*.yaml"),
	}
}

// Graph builds the fixture flow against the fixture dictionary.
func Graph(t testing.TB) *flow.Graph {
	t.Helper()
	g, err := flow.Build(Document(t), Dictionary(t))
	require.NoError(t, err)
	return g
}

// BuildGraph builds a single-document flow against the fixture dictionary.
// body is the YAML below the version line.
func BuildGraph(t testing.TB, body string) *flow.Graph {
	t.Helper()
	doc, err := flow.Parse([]byte("version: 1.2.0\n"+body), factgraph.FormatYAML, t.Name())
	require.NoError(t, err)
	g, err := flow.Build(doc, Dictionary(t))
	require.NoError(t, err)
	return g
}

// Evaluator answers every signal the fixture flow uses. No data import has
// run, so every data-import section is Unknown.
func Evaluator() *condition.Evaluator {
	return &condition.Evaluator{Signals: condition.ChainSignals{
		condition.FeatureFlags{},
		condition.SubmissionBlocking{},
		&condition.StaticSignals{Sections: map[string]map[string]condition.SignalValue{
			condition.SignalDataImport: {},
		}},
	}}
}

// Facts is a fluent builder for fixture fact graphs.
type Facts struct {
	t testing.TB
	g *factgraph.Graph
}

// NewFacts starts an empty return over the fixture dictionary.
func NewFacts(t testing.TB) *Facts {
	t.Helper()
	return &Facts{t: t, g: factgraph.New(Dictionary(t))}
}

// Set writes one fact; path may be abstract when ids are given.
func (f *Facts) Set(path string, value any, ids ...string) *Facts {
	f.t.Helper()
	c, err := factgraph.MustParsePath(path).Bind(ids...)
	require.NoError(f.t, err)
	require.NoError(f.t, f.g.Set(c, value), "set %s", c)
	return f
}

// AddW2 adds a W-2 item and optionally fills it completely.
func (f *Facts) AddW2(id string, complete bool) *Facts {
	f.t.Helper()
	require.NoError(f.t, f.g.AddItem(factgraph.MustParsePath("/formW2s").MustBind(), id))
	if complete {
		f.Set("/formW2s/*/employerName", "Acme Tools", id).
			Set("/formW2s/*/employerEin", "12-3456789", id).
			Set("/formW2s/*/writableWages", 52000, id).
			Set("/formW2s/*/hasTips", false, id)
	}
	return f
}

// Graph returns the underlying fact graph.
func (f *Facts) Graph() *factgraph.Graph { return f.g }

// Snapshot returns the current consistent view.
func (f *Facts) Snapshot() *factgraph.Snapshot { return f.g.Snapshot() }
