package factgraph

import (
	"fmt"
	"strings"
)

// SegmentKind distinguishes literal path segments from collection wildcards.
type SegmentKind int

const (
	Literal SegmentKind = iota
	Wildcard
)

// Segment is one element of a path template.
type Segment struct {
	Kind SegmentKind
	Name string // empty for wildcards
}

// Path is a parsed path template such as /formW2s/*/writableWages.
// A Path containing wildcards is abstract and must be bound to collection
// item ids before it can be read or written.
type Path struct {
	raw  string
	segs []Segment
}

// ConcretePath is a fully bound path. Wildcards are replaced by "#<itemID>".
type ConcretePath string

// ParsePath parses a path template.
func ParsePath(s string) (Path, error) {
	if !strings.HasPrefix(s, "/") {
		return Path{}, fmt.Errorf("%w: %q must start with '/'", ErrInvalidPath, s)
	}
	if s == "/" {
		return Path{}, fmt.Errorf("%w: %q has no segments", ErrInvalidPath, s)
	}

	parts := strings.Split(s[1:], "/")
	segs := make([]Segment, 0, len(parts))
	for _, part := range parts {
		switch {
		case part == "":
			return Path{}, fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, s)
		case part == "*":
			segs = append(segs, Segment{Kind: Wildcard})
		case strings.HasPrefix(part, "#"):
			return Path{}, fmt.Errorf("%w: %q contains a bound item segment; use ParseConcretePath", ErrInvalidPath, s)
		default:
			segs = append(segs, Segment{Kind: Literal, Name: part})
		}
	}
	return Path{raw: s, segs: segs}, nil
}

// MustParsePath is ParsePath for static declarations; it panics on error.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string { return p.raw }

// IsZero reports whether p is the zero Path.
func (p Path) IsZero() bool { return len(p.segs) == 0 }

// Segments returns a copy of the parsed segments.
func (p Path) Segments() []Segment {
	out := make([]Segment, len(p.segs))
	copy(out, p.segs)
	return out
}

// IsAbstract reports whether p contains at least one wildcard.
func (p Path) IsAbstract() bool { return p.Wildcards() > 0 }

// Wildcards counts the wildcard segments in p.
func (p Path) Wildcards() int {
	n := 0
	for _, s := range p.segs {
		if s.Kind == Wildcard {
			n++
		}
	}
	return n
}

// CollectionPath returns the prefix before the first wildcard, i.e. the
// collection the wildcard iterates. It returns the zero Path for concrete paths.
func (p Path) CollectionPath() Path {
	for i, s := range p.segs {
		if s.Kind == Wildcard {
			return fromSegments(p.segs[:i])
		}
	}
	return Path{}
}

// Child appends a literal segment.
func (p Path) Child(name string) Path {
	segs := make([]Segment, len(p.segs), len(p.segs)+1)
	copy(segs, p.segs)
	return fromSegments(append(segs, Segment{Kind: Literal, Name: name}))
}

// Bind replaces wildcards, in order, with the given collection item ids.
// Surplus ids are ignored so a concrete path binds to itself regardless of
// the collection context it is evaluated in.
func (p Path) Bind(ids ...string) (ConcretePath, error) {
	if p.IsZero() {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	var b strings.Builder
	next := 0
	for _, s := range p.segs {
		b.WriteByte('/')
		if s.Kind == Literal {
			b.WriteString(s.Name)
			continue
		}
		if next >= len(ids) || ids[next] == "" {
			return "", fmt.Errorf("%w: %s needs %d collection item id(s), got %d",
				ErrUnboundWildcard, p.raw, p.Wildcards(), countNonEmpty(ids))
		}
		b.WriteByte('#')
		b.WriteString(ids[next])
		next++
	}
	return ConcretePath(b.String()), nil
}

// MustBind is Bind for paths known to be concrete.
func (p Path) MustBind(ids ...string) ConcretePath {
	c, err := p.Bind(ids...)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseConcretePath validates a bound path string.
func ParseConcretePath(s string) (ConcretePath, error) {
	if strings.Contains(s, "*") {
		return "", fmt.Errorf("%w: %q", ErrUnboundWildcard, s)
	}
	c := ConcretePath(s)
	if _, _, err := c.split(); err != nil {
		return "", err
	}
	return c, nil
}

func (c ConcretePath) String() string { return string(c) }

// Abstract recovers the template and the item ids bound into c.
func (c ConcretePath) Abstract() (Path, []string) {
	p, ids, err := c.split()
	if err != nil {
		return Path{}, nil
	}
	return p, ids
}

// Collection returns the concrete collection path and the item id when c is
// scoped to a collection item.
func (c ConcretePath) Collection() (ConcretePath, string, bool) {
	s := string(c)
	i := strings.Index(s, "/#")
	if i < 0 {
		return "", "", false
	}
	rest := s[i+2:]
	id := rest
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		id = rest[:j]
	}
	return ConcretePath(s[:i]), id, true
}

func (c ConcretePath) split() (Path, []string, error) {
	s := string(c)
	if !strings.HasPrefix(s, "/") || s == "/" {
		return Path{}, nil, fmt.Errorf("%w: %q", ErrInvalidPath, s)
	}
	var ids []string
	parts := strings.Split(s[1:], "/")
	segs := make([]Segment, 0, len(parts))
	for _, part := range parts {
		switch {
		case part == "":
			return Path{}, nil, fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, s)
		case strings.HasPrefix(part, "#"):
			ids = append(ids, part[1:])
			segs = append(segs, Segment{Kind: Wildcard})
		default:
			segs = append(segs, Segment{Kind: Literal, Name: part})
		}
	}
	return fromSegments(segs), ids, nil
}

func fromSegments(segs []Segment) Path {
	if len(segs) == 0 {
		return Path{}
	}
	var b strings.Builder
	for _, s := range segs {
		b.WriteByte('/')
		if s.Kind == Wildcard {
			b.WriteByte('*')
		} else {
			b.WriteString(s.Name)
		}
	}
	out := make([]Segment, len(segs))
	copy(out, segs)
	return Path{raw: b.String(), segs: out}
}

func countNonEmpty(ids []string) int {
	n := 0
	for _, id := range ids {
		if id != "" {
			n++
		}
	}
	return n
}
