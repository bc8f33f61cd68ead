package flow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlovans/taxflow/internal/flowtest"
	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/flow"
)

func TestIsCompatible(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"1.2.0", true},
		{"1.2.7", true},
		{"1.9.0", true},
		{"1.1.0", false},
		{"2.0.0", false},
		{"0.9.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			ok, err := flow.IsCompatible(tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	_, err := flow.IsCompatible("one point two")
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		doc, err := flow.Parse([]byte(`
version: 1.2.0
categories:
  - kind: category
    route: income
    children:
      - kind: subcategory
        route: jobs
        children:
          - kind: screen
            route: jobs-intro
            condition: /hasW2s
`), factgraph.FormatYAML, "inline.yaml")
		require.NoError(t, err)
		require.Len(t, doc.Categories, 1)
		screen := doc.Categories[0].Children[0].Children[0]
		assert.Equal(t, flow.KindScreen, screen.Kind)
		require.NotNil(t, screen.Condition)
		assert.Equal(t, "/hasW2s", screen.Condition.Condition)
	})

	t.Run("json", func(t *testing.T) {
		doc, err := flow.Parse([]byte(`{
			"version": "1.2.0",
			"categories": [{"kind": "category", "route": "income", "children": [
				{"kind": "subcategory", "route": "jobs", "children": [
					{"kind": "screen", "route": "jobs-intro",
					 "condition": {"operator": "isFalse", "condition": "/hasW2s"}}
				]}
			]}]
		}`), factgraph.FormatJSON, "inline.json")
		require.NoError(t, err)
		screen := doc.Categories[0].Children[0].Children[0]
		assert.EqualValues(t, "isFalse", screen.Condition.Operator)
	})

	t.Run("schema violation", func(t *testing.T) {
		_, err := flow.Parse([]byte(`
version: 1.2.0
categories:
  - kind: page
    route: income
`), factgraph.FormatYAML, "bad.yaml")
		assert.ErrorIs(t, err, flow.ErrSchema)
	})

	t.Run("bad route characters", func(t *testing.T) {
		_, err := flow.Parse([]byte(`
version: 1.2.0
categories:
  - kind: category
    route: Income_Section
`), factgraph.FormatYAML, "bad.yaml")
		assert.ErrorIs(t, err, flow.ErrSchema)
	})

	t.Run("missing version", func(t *testing.T) {
		_, err := flow.Parse([]byte(`categories: []`), factgraph.FormatYAML, "bad.yaml")
		assert.ErrorIs(t, err, flow.ErrSchema)
	})

	t.Run("incompatible version", func(t *testing.T) {
		_, err := flow.Parse([]byte(`
version: 2.0.0
categories: []
`), factgraph.FormatYAML, "future.yaml")
		assert.ErrorIs(t, err, flow.ErrIncompatibleVersion)
	})
}

func TestLoadGlob(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "chunks"), 0o755))
	for name, data := range flowtest.FlowChunks() {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "chunks", name), data, 0o644))
	}

	doc, files, err := flow.LoadGlob(filepath.Join(dir, "**", "*.yaml"), filepath.Join(dir, "chunks", "01-*.yaml"))
	require.NoError(t, err)
	require.Len(t, files, 3, "overlapping patterns load each file once")
	assert.Equal(t, "01-you-and-your-family.yaml", filepath.Base(files[0]))
	assert.Equal(t, "03-complete.yaml", filepath.Base(files[2]))

	assert.Equal(t, "1.2.1", doc.Version)
	assert.Equal(t, []string{"edc-0", "interest-1"}, doc.Batches)

	var routes []string
	for _, c := range doc.Categories {
		routes = append(routes, c.Route)
	}
	assert.Equal(t, []string{"you-and-your-family", "income", "complete", "knockout"}, routes)

	_, _, err = flow.LoadGlob(filepath.Join(dir, "*.json"))
	assert.ErrorIs(t, err, flow.ErrNoFlowFiles)
}
