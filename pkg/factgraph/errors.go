package factgraph

import "errors"

var (
	ErrInvalidPath     = errors.New("invalid fact path")
	ErrUnboundWildcard = errors.New("unbound collection wildcard")
	ErrUnknownFact     = errors.New("unknown fact")
	ErrNotWritable     = errors.New("fact is not writable")
	ErrInvalidValue    = errors.New("invalid fact value")
	ErrUnknownItem     = errors.New("unknown collection item")
	ErrNotCollection   = errors.New("fact is not a collection")
	ErrDerivationCycle = errors.New("derived fact cycle")
)

// DictionaryError aggregates every problem found while loading a dictionary.
type DictionaryError struct {
	Problems []string
}

func (e *DictionaryError) Error() string {
	if len(e.Problems) == 1 {
		return "fact dictionary: " + e.Problems[0]
	}
	msg := "fact dictionary has problems:"
	for _, p := range e.Problems {
		msg += "\n  - " + p
	}
	return msg
}
