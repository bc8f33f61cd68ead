package factgraph

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDictionary(t *testing.T) {
	dict := loadTestDictionary(t)

	def, ok := dict.Lookup(MustParsePath("/formW2s/*/writableWages"))
	require.True(t, ok)
	assert.Equal(t, TypeDollar, def.Type)
	assert.True(t, def.Writable)
	assert.True(t, dict.IsCollection(MustParsePath("/formW2s")))
	assert.False(t, dict.IsCollection(MustParsePath("/filingStatus")))

	def, ok = dict.LookupConcrete(w2Path(t, itemA, "isComplete"))
	require.True(t, ok)
	assert.True(t, def.IsDerived())
}

func TestLoadDictionaryJSON(t *testing.T) {
	doc := `{"facts": [
		{"path": "/filingStatus", "type": "enum", "writable": true, "options": ["single"]},
		{"path": "/isSingle", "type": "boolean", "derived": {"==": [{"var": "/filingStatus"}, "single"]}}
	]}`
	dict, err := LoadDictionary(strings.NewReader(doc), FormatJSON)
	require.NoError(t, err)
	assert.Len(t, dict.Facts(), 2)
}

func TestDictionaryValidation(t *testing.T) {
	tests := []struct {
		name string
		defs []*FactDef
		want string
	}{
		{
			name: "duplicate path",
			defs: []*FactDef{
				{Path: "/a", Type: TypeString, Writable: true},
				{Path: "/a", Type: TypeString, Writable: true},
			},
			want: "duplicate fact /a",
		},
		{
			name: "writable and derived",
			defs: []*FactDef{
				{Path: "/a", Type: TypeBoolean, Writable: true, Derived: map[string]any{"var": "/a"}},
			},
			want: "both writable and derived",
		},
		{
			name: "enum without options",
			defs: []*FactDef{{Path: "/a", Type: TypeEnum, Writable: true}},
			want: "declares no options",
		},
		{
			name: "undeclared collection",
			defs: []*FactDef{{Path: "/w2s/*/wages", Type: TypeDollar, Writable: true}},
			want: "undeclared collection /w2s",
		},
		{
			name: "unknown type",
			defs: []*FactDef{{Path: "/a", Type: "money", Writable: true}},
			want: `unknown type "money"`,
		},
		{
			name: "undefined reference",
			defs: []*FactDef{
				{Path: "/a", Type: TypeBoolean, Derived: map[string]any{"var": "/missing"}},
			},
			want: "references undefined fact /missing",
		},
		{
			name: "derivation cycle",
			defs: []*FactDef{
				{Path: "/a", Type: TypeInt, Derived: map[string]any{"var": "/b"}},
				{Path: "/b", Type: TypeInt, Derived: map[string]any{"var": "/a"}},
			},
			want: "derived fact cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDictionary(tt.defs)
			require.Error(t, err)
			var derr *DictionaryError
			require.True(t, errors.As(err, &derr), "error %T is not *DictionaryError", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestVars(t *testing.T) {
	expr := map[string]any{
		"and": []any{
			map[string]any{"var": "/filingStatus"},
			map[string]any{"sum": []any{"/formW2s", map[string]any{"var": "/formW2s/*/writableWages"}}},
			map[string]any{"var": "/filingStatus"},
		},
	}
	got := Vars(expr)
	assert.ElementsMatch(t, []string{"/filingStatus", "/formW2s", "/formW2s/*/writableWages"}, got)
}
