package condition

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dlovans/taxflow/pkg/factgraph"
)

// Signal names understood by the provided sources.
const (
	SignalExperimental       = "experimental"
	SignalSubmissionBlocking = "submissionBlockingFactsAreFalse"
	SignalDataImport         = "data-import"
)

// SignalValue is the state of a structural signal.
type SignalValue int

const (
	Unknown SignalValue = iota
	Yes
	No
)

func (v SignalValue) String() string {
	switch v {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unknown"
	}
}

func (v *SignalValue) UnmarshalText(text []byte) error {
	switch string(text) {
	case "yes", "true":
		*v = Yes
	case "no", "false":
		*v = No
	case "unknown", "":
		*v = Unknown
	default:
		return fmt.Errorf("invalid signal value %q", text)
	}
	return nil
}

// result presents the signal as a fact result so operators apply uniformly.
func (v SignalValue) result() factgraph.Result {
	if v == Unknown {
		return factgraph.Result{TypeName: "signal"}
	}
	return factgraph.Result{Complete: true, HasValue: true, Value: v == Yes, TypeName: "signal"}
}

// SignalQuery identifies one signal lookup.
type SignalQuery struct {
	Name    string
	Section string
	Reader  factgraph.Reader
	ItemID  string
}

// SignalSource supplies signal values. ok is false when the source does not
// know the signal.
type SignalSource interface {
	Signal(q SignalQuery) (SignalValue, bool)
}

// SignalFunc adapts a function to SignalSource.
type SignalFunc func(q SignalQuery) (SignalValue, bool)

func (f SignalFunc) Signal(q SignalQuery) (SignalValue, bool) { return f(q) }

// ChainSignals asks each source in turn and returns the first answer.
type ChainSignals []SignalSource

func (c ChainSignals) Signal(q SignalQuery) (SignalValue, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Signal(q); ok {
			return v, true
		}
	}
	return Unknown, false
}

// FeatureFlags answers boolean flags by name, including "experimental".
// Flags not listed are No.
type FeatureFlags map[string]bool

func (f FeatureFlags) Signal(q SignalQuery) (SignalValue, bool) {
	if q.Section != "" {
		return Unknown, false
	}
	on, ok := f[q.Name]
	if !ok {
		if q.Name != SignalExperimental {
			return Unknown, false
		}
		return No, true
	}
	if on {
		return Yes, true
	}
	return No, true
}

// SubmissionBlocking is Yes when every fact flagged blocksSubmission has a
// value and that value is false. Completeness is not required, so facts
// carrying a placeholder still let the filer through.
type SubmissionBlocking struct{}

func (SubmissionBlocking) Signal(q SignalQuery) (SignalValue, bool) {
	if q.Name != SignalSubmissionBlocking {
		return Unknown, false
	}
	if q.Reader == nil {
		return Unknown, true
	}
	for _, def := range q.Reader.Dictionary().SubmissionBlocking() {
		p := def.Template()
		if p.IsAbstract() {
			// blocking facts on collection items block if any item blocks
			for _, id := range q.Reader.Items(p.CollectionPath().MustBind()) {
				if !isFalseValue(q.Reader.Get(p.MustBind(id))) {
					return No, true
				}
			}
			continue
		}
		if !isFalseValue(q.Reader.Get(p.MustBind())) {
			return No, true
		}
	}
	return Yes, true
}

func isFalseValue(r factgraph.Result) bool {
	b, ok := r.Value.(bool)
	return r.HasValue && ok && !b
}

// StaticSignals holds a profile of named signals, optionally split by section,
// e.g. the sections of a data-import profile.
type StaticSignals struct {
	Values   map[string]SignalValue            `yaml:"values"`
	Sections map[string]map[string]SignalValue `yaml:"sections"`
}

func (s *StaticSignals) Signal(q SignalQuery) (SignalValue, bool) {
	if s == nil {
		return Unknown, false
	}
	if q.Section != "" {
		sec, ok := s.Sections[q.Name]
		if !ok {
			return Unknown, false
		}
		// an unlisted section of a known signal is simply not loaded
		return sec[q.Section], true
	}
	v, ok := s.Values[q.Name]
	return v, ok
}

// LoadStaticSignals decodes a YAML signal profile.
func LoadStaticSignals(r io.Reader) (*StaticSignals, error) {
	var s StaticSignals
	if err := yaml.NewDecoder(r).Decode(&s); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse signal profile: %w", err)
	}
	return &s, nil
}

// LoadStaticSignalsFile reads a YAML signal profile from disk.
func LoadStaticSignalsFile(path string) (*StaticSignals, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open signal profile: %w", err)
	}
	defer f.Close()
	return LoadStaticSignals(f)
}
