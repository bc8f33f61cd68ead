package factgraph

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidateValue(t *testing.T) {
	dict := loadTestDictionary(t)
	def := func(path string) *FactDef {
		d, ok := dict.Lookup(MustParsePath(path))
		if !ok {
			t.Fatalf("no fact %s", path)
		}
		return d
	}

	tests := []struct {
		name    string
		def     *FactDef
		in      any
		want    any
		wantErr bool
	}{
		{name: "tin strips dashes", def: def("/primaryFilerTin"), in: "123-45-6789", want: "123456789"},
		{name: "tin too short", def: def("/primaryFilerTin"), in: "12345", wantErr: true},
		{name: "tin letters", def: def("/primaryFilerTin"), in: "12345678a", wantErr: true},
		{name: "dollar rounds to cents", def: def("/formW2s/*/writableWages"), in: 10.006, want: 10.01},
		{name: "dollar from int", def: def("/formW2s/*/writableWages"), in: 7, want: 7.0},
		{name: "boolean", def: def("/formW2s/*/hasTips"), in: "yes", wantErr: true},
		{name: "multiEnum from json", def: def("/interestTypes"), in: []any{"bank", "bond", "bank"}, want: []string{"bank", "bond"}},
		{name: "multiEnum bad option", def: def("/interestTypes"), in: []string{"crypto"}, wantErr: true},
		{name: "multiEnum empty", def: def("/interestTypes"), in: []string{}, want: []string{}},
		{
			name: "bank account",
			def:  def("/refundAccount"),
			in: map[string]any{
				AccountType:   "checking",
				RoutingNumber: "011-000-015",
				AccountNumber: "123456789",
			},
			want: map[string]any{
				AccountType:   "checking",
				RoutingNumber: "011000015",
				AccountNumber: "123456789",
			},
		},
		{
			name:    "bank account bad routing",
			def:     def("/refundAccount"),
			in:      map[string]any{AccountType: "savings", RoutingNumber: "123", AccountNumber: "123456789"},
			wantErr: true,
		},
		{name: "nil", def: def("/filingStatus"), in: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateValue(tt.def, tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidValue) {
					t.Fatalf("validateValue(%v) error = %v, want ErrInvalidValue", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("validateValue(%v): %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("validateValue mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
