package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlovans/taxflow/internal/flowtest"
	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/store"
)

const returnID = "2024-return-1"

func open(t *testing.T, path string) *store.SQLite {
	t.Helper()
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fullReturn(t *testing.T) *flowtest.Facts {
	return flowtest.NewFacts(t).
		Set("/filingStatus", "single").
		Set("/primaryFilerTin", "123456789").
		Set("/hasW2s", true).
		AddW2(flowtest.W2A, true).
		AddW2(flowtest.W2B, false).
		Set("/formW2s/*/writableWages", 1234.5, flowtest.W2B).
		Set("/interestTypes", []string{"bond", "bank"}).
		Set("/refundAccount", map[string]any{
			"accountType":   "savings",
			"routingNumber": "021000021",
			"accountNumber": "987654321",
		})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := open(t, store.Memory)
	f := fullReturn(t)
	want := f.Snapshot().State()

	require.NoError(t, s.Save(ctx, returnID, want))
	loaded, err := s.Load(ctx, returnID)
	require.NoError(t, err)

	g, err := factgraph.Restore(flowtest.Dictionary(t), loaded)
	require.NoError(t, err)
	if diff := cmp.Diff(want, g.Snapshot().State()); diff != "" {
		t.Errorf("restored state mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{flowtest.W2A, flowtest.W2B},
		loaded.Collections["/formW2s"], "item order is kept")
}

func TestSaveReplacesState(t *testing.T) {
	ctx := context.Background()
	s := open(t, store.Memory)
	f := fullReturn(t)
	require.NoError(t, s.Save(ctx, returnID, f.Snapshot().State()))

	g := f.Graph()
	require.NoError(t, g.RemoveItem("/formW2s", flowtest.W2B))
	require.NoError(t, g.Delete("/interestTypes"))
	require.NoError(t, s.Save(ctx, returnID, g.Snapshot().State()))

	loaded, err := s.Load(ctx, returnID)
	require.NoError(t, err)
	assert.Equal(t, []string{flowtest.W2A}, loaded.Collections["/formW2s"])
	assert.NotContains(t, loaded.Facts, factgraph.ConcretePath("/interestTypes"))
	assert.NotContains(t, loaded.Facts, factgraph.ConcretePath("/formW2s/#"+flowtest.W2B+"/writableWages"))
}

func TestGraphSavesThroughStore(t *testing.T) {
	ctx := context.Background()
	s := open(t, store.Memory)
	dict := flowtest.Dictionary(t)

	g := factgraph.New(dict, factgraph.WithPersister(s, returnID))
	require.NoError(t, g.Set("/hasW2s", false))
	require.NoError(t, g.Save(ctx))

	loaded, err := s.Load(ctx, returnID)
	require.NoError(t, err)
	assert.Equal(t, false, loaded.Facts["/hasW2s"])
}

func TestLoadUnknownReturn(t *testing.T) {
	s := open(t, store.Memory)
	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteAndList(t *testing.T) {
	ctx := context.Background()
	s := open(t, store.Memory)
	state := fullReturn(t).Snapshot().State()
	require.NoError(t, s.Save(ctx, "a", state))
	require.NoError(t, s.Save(ctx, "b", state))

	ids, err := s.Returns(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "never-saved"))
	_, err = s.Load(ctx, "a")
	assert.ErrorIs(t, err, store.ErrNotFound)

	ids, err = s.Returns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "returns.db")

	s, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, returnID, fullReturn(t).Snapshot().State()))
	require.NoError(t, s.Close())

	// migrations already applied are skipped
	s = open(t, path)
	loaded, err := s.Load(ctx, returnID)
	require.NoError(t, err)
	assert.Equal(t, "single", loaded.Facts["/filingStatus"])
}
