package condition

// Tri is a three-valued truth value. The zero value is Incomplete.
type Tri uint8

const (
	Incomplete Tri = iota
	True
	False
)

// FromBool lifts a boolean.
func FromBool(b bool) Tri {
	if b {
		return True
	}
	return False
}

func (t Tri) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "incomplete"
	}
}

// IsTrue reports whether t is definitely True.
func (t Tri) IsTrue() bool { return t == True }

// And is Kleene conjunction: False dominates, then Incomplete.
func (t Tri) And(u Tri) Tri {
	switch {
	case t == False || u == False:
		return False
	case t == Incomplete || u == Incomplete:
		return Incomplete
	default:
		return True
	}
}

// Or is Kleene disjunction: True dominates, then Incomplete.
func (t Tri) Or(u Tri) Tri {
	switch {
	case t == True || u == True:
		return True
	case t == Incomplete || u == Incomplete:
		return Incomplete
	default:
		return False
	}
}

// Not swaps True and False and keeps Incomplete.
func (t Tri) Not() Tri {
	switch t {
	case True:
		return False
	case False:
		return True
	default:
		return Incomplete
	}
}

// MarshalText renders the value for JSON and YAML output.
func (t Tri) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
