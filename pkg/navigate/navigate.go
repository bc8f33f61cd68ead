// Package navigate resolves where a filer goes next: the following screen in
// document order, the next item of a collection loop, a knockout, a data view
// or the checklist.
package navigate

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dlovans/taxflow/pkg/condition"
	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/flow"
)

// ErrUnknownRoute means the current route is not a screen of the flow.
var ErrUnknownRoute = errors.New("unknown route")

// ChecklistRoute is the overview every exhausted or broken navigation ends on.
const ChecklistRoute = "/checklist"

// Kind classifies a destination.
type Kind string

const (
	KindScreen    Kind = "screen"
	KindChecklist Kind = "checklist"
	KindKnockout  Kind = "knockout"
	KindDataView  Kind = "dataView"
)

// Destination is the outcome of a navigation.
type Destination struct {
	Kind   Kind       `json:"kind"`
	Route  string     `json:"route"`
	ItemID string     `json:"itemId,omitempty"`
	Screen *flow.Node `json:"-"` // nil for the checklist and data views
}

// Terminal reports whether the destination ends forward navigation.
func (d Destination) Terminal() bool {
	return d.Kind == KindChecklist || d.Kind == KindKnockout
}

// Observer is told about every navigation. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveNavigation(kind Kind, elapsed time.Duration)
	ObserveConfigError(err error)
}

// Navigator walks one immutable flow graph. It holds no per-return state and
// is safe for concurrent use.
type Navigator struct {
	g        *flow.Graph
	ev       *condition.Evaluator
	log      *zap.Logger
	strict   bool
	observer Observer

	returnToDataView bool
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithLogger sets the logger used for recovered configuration errors.
func WithLogger(l *zap.Logger) Option {
	return func(n *Navigator) {
		if l != nil {
			n.log = l
		}
	}
}

// WithStrict makes configuration errors fail instead of falling back to the
// checklist. Use it in development and tests.
func WithStrict(strict bool) Option {
	return func(n *Navigator) { n.strict = strict }
}

// WithObserver reports outcomes to o.
func WithObserver(o Observer) Option {
	return func(n *Navigator) { n.observer = o }
}

// WithReturnToDataView sends the filer to the data view of the current
// subcategory instead of crossing into the next one.
func WithReturnToDataView(on bool) Option {
	return func(n *Navigator) { n.returnToDataView = on }
}

// New returns a Navigator over g.
func New(g *flow.Graph, ev *condition.Evaluator, opts ...Option) *Navigator {
	n := &Navigator{g: g, ev: ev, log: zap.NewNop()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Graph returns the flow the navigator walks.
func (n *Navigator) Graph() *flow.Graph { return n.g }

// NextScreen resolves the destination after the screen at route. The item id
// is taken from itemID, or from the route's query when itemID is empty.
// All evaluation happens against r, so r should be a consistent snapshot.
//
// Configuration errors (an unknown route, an undecidable signal) are
// returned in strict mode; otherwise they are logged and the filer is sent to
// the checklist.
func (n *Navigator) NextScreen(route, itemID string, r factgraph.Reader) (Destination, error) {
	start := time.Now()

	ref, err := flow.ParseRoute(route)
	if err != nil {
		return n.fail(route, fmt.Errorf("%w: %v", ErrUnknownRoute, err))
	}
	cur, ok := n.g.ScreenByRoute(ref.Path)
	if !ok {
		return n.fail(route, fmt.Errorf("%w: %s", ErrUnknownRoute, ref.Path))
	}
	if itemID == "" {
		itemID = ref.ItemID
	}

	w := &walk{Navigator: n, r: r, review: ref.ReviewMode}
	d, err := w.next(cur, itemID)
	if err != nil {
		return n.fail(route, err)
	}

	n.log.Debug("navigated",
		zap.String("from", route),
		zap.String("to", d.Route),
		zap.String("kind", string(d.Kind)))
	n.observe(d.Kind, start)
	return d, nil
}

// FirstAvailable resolves entry into any routed node: a category,
// subcategory, subsubcategory or screen. It returns the first screen of the
// subtree the filer can see, preferring itemID inside collection loops.
func (n *Navigator) FirstAvailable(route, itemID string, r factgraph.Reader) (Destination, error) {
	start := time.Now()

	ref, err := flow.ParseRoute(route)
	if err != nil {
		return n.fail(route, fmt.Errorf("%w: %v", ErrUnknownRoute, err))
	}
	root, ok := n.lookup(ref.Path)
	if !ok {
		return n.fail(route, fmt.Errorf("%w: %s", ErrUnknownRoute, ref.Path))
	}
	if itemID == "" {
		itemID = ref.ItemID
	}

	w := &walk{Navigator: n, r: r, preferred: itemID, root: root}
	d, found, err := w.scan(nil, n.g.ScreensUnder(root.ID), itemID)
	if err != nil {
		return n.fail(route, err)
	}
	if !found {
		d = n.dataView(root, itemID, "")
	}
	n.observe(d.Kind, start)
	return d, nil
}

// lookup finds any routed node by its full route.
func (n *Navigator) lookup(route string) (*flow.Node, bool) {
	if s, ok := n.g.ScreenByRoute(route); ok {
		return s, true
	}
	if s, ok := n.g.Subcategory(route); ok {
		return s, true
	}
	if s, ok := n.g.SubSubcategory(route); ok {
		return s, true
	}
	for _, c := range n.g.Categories() {
		if c.FullRoute == route {
			return c, true
		}
	}
	return nil, false
}

func (n *Navigator) fail(route string, err error) (Destination, error) {
	if n.observer != nil {
		n.observer.ObserveConfigError(err)
	}
	if n.strict {
		return Destination{}, err
	}
	n.log.Error("flow configuration error, sending filer to checklist",
		zap.String("route", route),
		zap.Error(err))
	return checklist(), nil
}

func (n *Navigator) observe(kind Kind, start time.Time) {
	if n.observer != nil {
		n.observer.ObserveNavigation(kind, time.Since(start))
	}
}

func checklist() Destination {
	return Destination{Kind: KindChecklist, Route: ChecklistRoute}
}

func (n *Navigator) dataView(node *flow.Node, itemID, fragment string) Destination {
	route := flow.DataViewRoute(node, itemID)
	if fragment != "" {
		route += "#" + fragment
	}
	d := Destination{Kind: KindDataView, Route: route}
	if !node.Scope().IsZero() {
		d.ItemID = itemID
	}
	return d
}

func (n *Navigator) loopDataView(loop *flow.Node, itemID string) Destination {
	return Destination{Kind: KindDataView, Route: flow.LoopDataViewRoute(loop, itemID), ItemID: itemID}
}
