package flow

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/dlovans/taxflow/pkg/condition"
	"github.com/dlovans/taxflow/pkg/factgraph"
)

// FormatVersion is the declaration format this package builds.
// Documents declare their version; any version caret-compatible with this
// one is accepted.
const FormatVersion = "1.2.0"

// Document is the serializable flow declaration.
type Document struct {
	Version    string      `yaml:"version" json:"version"`
	Batches    []string    `yaml:"batches,omitempty" json:"batches,omitempty"`
	Categories []*NodeDecl `yaml:"categories" json:"categories"`
}

// NodeKind names a structural node type.
type NodeKind string

const (
	KindCategory       NodeKind = "category"
	KindSubcategory    NodeKind = "subcategory"
	KindSubSubcategory NodeKind = "subsubcategory"
	KindGate           NodeKind = "gate"
	KindLoop           NodeKind = "loop"
	KindScreen         NodeKind = "screen"
)

// NodeDecl declares one node of the flow tree.
type NodeDecl struct {
	Kind  NodeKind `yaml:"kind" json:"kind"`
	Route string   `yaml:"route,omitempty" json:"route,omitempty"`

	Condition         *condition.RawCondition  `yaml:"condition,omitempty" json:"condition,omitempty"`
	Conditions        []condition.RawCondition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	CompleteIf        *condition.RawCondition  `yaml:"completeIf,omitempty" json:"completeIf,omitempty"`
	DisplayOnlyIf     []condition.RawCondition `yaml:"displayOnlyIf,omitempty" json:"displayOnlyIf,omitempty"`
	CollectionContext string                   `yaml:"collectionContext,omitempty" json:"collectionContext,omitempty"`

	Editable           *bool `yaml:"editable,omitempty" json:"editable,omitempty"`
	Hidden             bool  `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	LockFutureSections bool  `yaml:"lockFutureSections,omitempty" json:"lockFutureSections,omitempty"`

	// loop
	LoopName           string                  `yaml:"loopName,omitempty" json:"loopName,omitempty"`
	Collection         string                  `yaml:"collection,omitempty" json:"collection,omitempty"`
	AutoIterate        bool                    `yaml:"autoIterate,omitempty" json:"autoIterate,omitempty"`
	CompletedCondition *condition.RawCondition `yaml:"completedCondition,omitempty" json:"completedCondition,omitempty"`
	DonePath           string                  `yaml:"donePath,omitempty" json:"donePath,omitempty"`

	// screen
	IsKnockout         bool          `yaml:"isKnockout,omitempty" json:"isKnockout,omitempty"`
	RouteAutomatically *bool         `yaml:"routeAutomatically,omitempty" json:"routeAutomatically,omitempty"`
	ActAsDataView      bool          `yaml:"actAsDataView,omitempty" json:"actAsDataView,omitempty"`
	Content            []ContentDecl `yaml:"content,omitempty" json:"content,omitempty"`

	Batches  []string    `yaml:"batches,omitempty" json:"batches,omitempty"`
	Children []*NodeDecl `yaml:"children,omitempty" json:"children,omitempty"`
}

// ContentKind names a content node type.
type ContentKind string

const (
	ContentHeading        ContentKind = "heading"
	ContentContextHeading ContentKind = "contextHeading"
	ContentInfo           ContentKind = "info"
	ContentAlert          ContentKind = "alert"
	ContentFact           ContentKind = "fact"
	ContentFactSelect     ContentKind = "factSelect"
	ContentBankAccount    ContentKind = "bankAccount"
	ContentContinueButton ContentKind = "continueButton"
	ContentLink           ContentKind = "link"
	ContentSetFact        ContentKind = "setFact"
)

// ContentDecl declares one content node of a screen.
type ContentDecl struct {
	Kind          ContentKind              `yaml:"kind" json:"kind"`
	Path          string                   `yaml:"path,omitempty" json:"path,omitempty"`
	I18nKey       string                   `yaml:"i18nKey,omitempty" json:"i18nKey,omitempty"`
	Condition     *condition.RawCondition  `yaml:"condition,omitempty" json:"condition,omitempty"`
	Conditions    []condition.RawCondition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	DisplayOnlyOn DisplayMode              `yaml:"displayOnlyOn,omitempty" json:"displayOnlyOn,omitempty"`
	Required      *bool                    `yaml:"required,omitempty" json:"required,omitempty"`
	InputType     string                   `yaml:"inputType,omitempty" json:"inputType,omitempty"`
	Sensitive     bool                     `yaml:"sensitive,omitempty" json:"sensitive,omitempty"`
	ReadOnly      bool                     `yaml:"readOnly,omitempty" json:"readOnly,omitempty"`
	EditRoute     string                   `yaml:"editRoute,omitempty" json:"editRoute,omitempty"`
	Source        string                   `yaml:"source,omitempty" json:"source,omitempty"`
	Target        string                   `yaml:"target,omitempty" json:"target,omitempty"`
	AlertType     string                   `yaml:"alertType,omitempty" json:"alertType,omitempty"`
	Batches       []string                 `yaml:"batches,omitempty" json:"batches,omitempty"`
}

// Parse decodes a declaration, validates its structure against the embedded
// schema and checks the format version. name is used in error messages.
func Parse(data []byte, format factgraph.Format, name string) (*Document, error) {
	var generic any
	var err error
	if format == factgraph.FormatJSON {
		err = json.Unmarshal(data, &generic)
	} else {
		err = yaml.Unmarshal(data, &generic)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if err := validateSchema(generic); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	var doc Document
	if format == factgraph.FormatJSON {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	ok, err := IsCompatible(doc.Version)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w: version %s, supported ^%s", name, ErrIncompatibleVersion, doc.Version, FormatVersion)
	}
	return &doc, nil
}

// IsCompatible checks a declared version against FormatVersion using a
// caret constraint.
func IsCompatible(version string) (bool, error) {
	constraint, err := semver.NewConstraint("^" + FormatVersion)
	if err != nil {
		return false, fmt.Errorf("invalid format version: %w", err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid flow version %q: %w", version, err)
	}
	return constraint.Check(v), nil
}

// LoadFile reads one declaration file.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow: %w", err)
	}
	return Parse(data, factgraph.FormatOf(path), path)
}

// LoadGlob loads every file matching the doublestar patterns, in lexical
// order, and merges them into one document.
func LoadGlob(patterns ...string) (*Document, []string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoFlowFiles, patterns)
	}
	sort.Strings(files)

	docs := make([]*Document, 0, len(files))
	for _, f := range files {
		doc, err := LoadFile(f)
		if err != nil {
			return nil, nil, err
		}
		docs = append(docs, doc)
	}
	return Merge(docs...), files, nil
}

// Merge concatenates categories in order. The result takes the highest
// declared version and the union of declared batches.
func Merge(docs ...*Document) *Document {
	out := &Document{}
	var best *semver.Version
	batches := make(map[string]bool)
	for _, d := range docs {
		if d == nil {
			continue
		}
		if v, err := semver.NewVersion(d.Version); err == nil && (best == nil || v.GreaterThan(best)) {
			best = v
			out.Version = d.Version
		}
		for _, b := range d.Batches {
			if !batches[b] {
				batches[b] = true
				out.Batches = append(out.Batches, b)
			}
		}
		out.Categories = append(out.Categories, d.Categories...)
	}
	return out
}
