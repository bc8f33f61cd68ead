package factgraph

import (
	"errors"
	"testing"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		in         string
		wantErr    bool
		abstract   bool
		collection string
	}{
		{in: "/filingStatus"},
		{in: "/formW2s/*/writableWages", abstract: true, collection: "/formW2s"},
		{in: "/a/b/*/c/*/d", abstract: true, collection: "/a/b"},
		{in: "filingStatus", wantErr: true},
		{in: "/", wantErr: true},
		{in: "/a//b", wantErr: true},
		{in: "/formW2s/#abc/wages", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePath(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePath(%q) succeeded, want error", tt.in)
				}
				if !errors.Is(err, ErrInvalidPath) {
					t.Errorf("error %v is not ErrInvalidPath", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePath(%q): %v", tt.in, err)
			}
			if p.String() != tt.in {
				t.Errorf("String() = %q, want %q", p.String(), tt.in)
			}
			if p.IsAbstract() != tt.abstract {
				t.Errorf("IsAbstract() = %v, want %v", p.IsAbstract(), tt.abstract)
			}
			if got := p.CollectionPath().String(); got != tt.collection {
				t.Errorf("CollectionPath() = %q, want %q", got, tt.collection)
			}
		})
	}
}

func TestBind(t *testing.T) {
	p := MustParsePath("/formW2s/*/writableWages")

	t.Run("binds wildcard", func(t *testing.T) {
		c, err := p.Bind("abc")
		if err != nil {
			t.Fatal(err)
		}
		if c != "/formW2s/#abc/writableWages" {
			t.Errorf("Bind = %q", c)
		}
	})

	t.Run("missing id is a typed error", func(t *testing.T) {
		_, err := p.Bind()
		if !errors.Is(err, ErrUnboundWildcard) {
			t.Fatalf("Bind() error = %v, want ErrUnboundWildcard", err)
		}
		_, err = p.Bind("")
		if !errors.Is(err, ErrUnboundWildcard) {
			t.Fatalf("Bind(\"\") error = %v, want ErrUnboundWildcard", err)
		}
	})

	t.Run("concrete path ignores item context", func(t *testing.T) {
		c, err := MustParsePath("/filingStatus").Bind("abc")
		if err != nil {
			t.Fatal(err)
		}
		if c != "/filingStatus" {
			t.Errorf("Bind = %q", c)
		}
	})
}

func TestConcretePathAbstract(t *testing.T) {
	c := ConcretePath("/formW2s/#abc/writableWages")
	p, ids := c.Abstract()
	if p.String() != "/formW2s/*/writableWages" {
		t.Errorf("Abstract() path = %q", p)
	}
	if len(ids) != 1 || ids[0] != "abc" {
		t.Errorf("Abstract() ids = %v", ids)
	}

	coll, id, ok := c.Collection()
	if !ok || coll != "/formW2s" || id != "abc" {
		t.Errorf("Collection() = %q, %q, %v", coll, id, ok)
	}

	if _, _, ok := ConcretePath("/filingStatus").Collection(); ok {
		t.Error("top-level path reported a collection scope")
	}

	if _, err := ParseConcretePath("/formW2s/*/writableWages"); !errors.Is(err, ErrUnboundWildcard) {
		t.Errorf("ParseConcretePath with wildcard: %v", err)
	}
}
