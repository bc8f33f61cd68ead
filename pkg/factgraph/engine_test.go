package factgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	g := New(loadTestDictionary(t))

	r := g.Get("/filingStatus")
	assert.False(t, r.Complete)
	assert.False(t, r.HasValue)
	assert.Equal(t, "enum", r.TypeName)

	require.NoError(t, g.Set("/filingStatus", "single"))
	r = g.Get("/filingStatus")
	assert.True(t, r.Complete)
	assert.Equal(t, "single", r.Value)

	require.NoError(t, g.Delete("/filingStatus"))
	assert.False(t, g.Get("/filingStatus").HasValue)
}

func TestSetErrors(t *testing.T) {
	g := New(loadTestDictionary(t))
	require.NoError(t, g.AddItem("/formW2s", itemA))

	tests := []struct {
		name  string
		path  ConcretePath
		value any
		want  error
	}{
		{"unknown fact", "/nope", true, ErrUnknownFact},
		{"derived fact", "/totalWages", 1.0, ErrNotWritable},
		{"collection", "/formW2s", []string{"x"}, ErrNotWritable},
		{"bad option", "/filingStatus", "married", ErrInvalidValue},
		{"wrong type", w2Path(t, itemA, "writableWages"), "lots", ErrInvalidValue},
		{"unknown item", w2Path(t, itemB, "writableWages"), 10.0, ErrUnknownItem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Set(tt.path, tt.value)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Set(%s) error = %v, want %v", tt.path, err, tt.want)
			}
		})
	}
}

func TestDerivedFacts(t *testing.T) {
	g := New(loadTestDictionary(t))

	t.Run("empty collection aggregates are complete", func(t *testing.T) {
		r := g.Get("/totalWages")
		assert.True(t, r.Complete)
		assert.Equal(t, 0.0, r.Value)
		assert.Equal(t, 0.0, g.Get("/w2Count").Value)
		assert.Equal(t, false, g.Get("/anyTips").Value)
	})

	t.Run("placeholder while inputs are unknown", func(t *testing.T) {
		r := g.Get("/taxableIncome")
		assert.True(t, r.HasValue)
		assert.False(t, r.Complete)
		assert.Equal(t, 0, r.Value)
	})

	require.NoError(t, g.Apply(func(tx *Tx) error {
		if err := tx.AddItem("/formW2s", itemA); err != nil {
			return err
		}
		return tx.AddItem("/formW2s", itemB)
	}))

	t.Run("item with unanswered wages makes the sum incomplete", func(t *testing.T) {
		require.NoError(t, g.Set(w2Path(t, itemA, "writableWages"), 50000.0))
		assert.False(t, g.Get("/totalWages").Complete)
		assert.True(t, g.Get(w2Path(t, itemA, "isComplete")).Complete)
		assert.False(t, g.Get(w2Path(t, itemB, "isComplete")).HasValue)
	})

	t.Run("all inputs known", func(t *testing.T) {
		require.NoError(t, g.Apply(func(tx *Tx) error {
			if err := tx.Set(w2Path(t, itemB, "writableWages"), 10000); err != nil {
				return err
			}
			return tx.Set("/filingStatus", "single")
		}))
		assert.Equal(t, 60000.0, g.Get("/totalWages").Value)
		assert.Equal(t, 2.0, g.Get("/w2Count").Value)

		r := g.Get("/taxableIncome")
		assert.True(t, r.Complete)
		assert.Equal(t, 45400.0, r.Value)
	})

	t.Run("some is unknown until an item answers", func(t *testing.T) {
		assert.False(t, g.Get("/anyTips").HasValue)
		require.NoError(t, g.Set(w2Path(t, itemB, "hasTips"), true))
		assert.Equal(t, true, g.Get("/anyTips").Value)
	})
}

func TestApplyIsAtomic(t *testing.T) {
	g := New(loadTestDictionary(t))
	before := g.Snapshot()

	err := g.Apply(func(tx *Tx) error {
		if err := tx.Set("/filingStatus", "single"); err != nil {
			return err
		}
		return tx.Set("/primaryFilerTin", "12")
	})
	require.ErrorIs(t, err, ErrInvalidValue)

	assert.False(t, g.Get("/filingStatus").HasValue, "failed transaction leaked a write")
	assert.Same(t, before, g.Snapshot())
}

func TestSnapshotIsImmutable(t *testing.T) {
	g := New(loadTestDictionary(t))
	snap := g.Snapshot()

	require.NoError(t, g.Set("/filingStatus", "headOfHousehold"))

	assert.False(t, snap.Get("/filingStatus").HasValue)
	assert.Equal(t, "headOfHousehold", g.Snapshot().Get("/filingStatus").Value)
}

func TestRemoveItemClearsScopedFacts(t *testing.T) {
	g := New(loadTestDictionary(t))
	require.NoError(t, g.AddItem("/formW2s", itemA))
	require.NoError(t, g.AddItem("/formW2s", itemB))
	require.NoError(t, g.Set(w2Path(t, itemA, "writableWages"), 100.0))

	require.NoError(t, g.RemoveItem("/formW2s", itemA))

	assert.Equal(t, []string{itemB}, g.Items("/formW2s"))
	assert.NotContains(t, g.Snapshot().State().Facts, w2Path(t, itemA, "writableWages"))
	assert.False(t, g.Get(w2Path(t, itemA, "writableWages")).HasValue)

	require.ErrorIs(t, g.RemoveItem("/formW2s", itemA), ErrUnknownItem)
	require.ErrorIs(t, g.AddItem("/formW2s", itemB), ErrInvalidValue)
	require.ErrorIs(t, g.AddItem("/filingStatus", itemB), ErrNotCollection)
}

func TestNewItemGeneratesUUID(t *testing.T) {
	g := New(loadTestDictionary(t))
	id, err := g.NewItem("/formW2s")
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.Equal(t, []string{id}, g.Items("/formW2s"))
}

type memoryPersister struct {
	saved map[string]*State
	err   error
}

func (m *memoryPersister) Save(_ context.Context, returnID string, state *State) error {
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = make(map[string]*State)
	}
	m.saved[returnID] = state
	return nil
}

func TestSave(t *testing.T) {
	dict := loadTestDictionary(t)

	t.Run("no persister", func(t *testing.T) {
		require.ErrorIs(t, New(dict).Save(context.Background()), ErrNoPersister)
	})

	t.Run("round trip through Restore", func(t *testing.T) {
		p := &memoryPersister{}
		g := New(dict, WithPersister(p, "return-1"))
		require.NoError(t, g.AddItem("/formW2s", itemA))
		require.NoError(t, g.Set(w2Path(t, itemA, "writableWages"), 123.456))
		require.NoError(t, g.Set("/primaryFilerTin", "123-45-6789"))
		require.NoError(t, g.Save(context.Background()))

		restored, err := Restore(dict, p.saved["return-1"])
		require.NoError(t, err)
		assert.Equal(t, 123.46, restored.Get(w2Path(t, itemA, "writableWages")).Value)
		assert.Equal(t, "123456789", restored.Get("/primaryFilerTin").Value)
		assert.Equal(t, 123.46, restored.Get("/totalWages").Value)
	})

	t.Run("persister error is wrapped", func(t *testing.T) {
		boom := errors.New("disk full")
		g := New(dict, WithPersister(&memoryPersister{err: boom}, "r"))
		require.ErrorIs(t, g.Save(context.Background()), boom)
	})
}
