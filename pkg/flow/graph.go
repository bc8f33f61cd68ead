// Package flow builds the immutable screen graph of a tax return interview
// from a serializable declaration and answers availability questions about
// its nodes.
package flow

import (
	"fmt"

	"github.com/dlovans/taxflow/pkg/condition"
	"github.com/dlovans/taxflow/pkg/factgraph"
)

// NodeID indexes the node arena.
type NodeID int32

// NoNode is the parent of top-level categories.
const NoNode NodeID = -1

// Node is one element of the flow tree. Nodes are owned by their Graph and
// must be treated as read-only.
type Node struct {
	ID       NodeID
	Kind     NodeKind
	Route    string // own segment
	Parent   NodeID
	Children []NodeID

	// FullRoute is /flow/<category>[/<subcategory>[/<screen or subsubcategory>]].
	FullRoute string

	Guard         condition.Condition // own guard, ancestors excluded
	CompleteIf    condition.Condition
	DisplayOnlyIf condition.Condition

	Editable           bool
	Hidden             bool
	LockFutureSections bool
	Batches            []string

	// Nearest ancestors of each structural kind, or NoNode.
	Category       NodeID
	Subcategory    NodeID
	SubSubcategory NodeID
	LoopID         NodeID

	Loop   *Loop
	Screen *Screen

	scope factgraph.Path
	graph *Graph
}

// Loop describes a collection loop node.
type Loop struct {
	Name        string
	Collection  factgraph.Path
	AutoIterate bool
	Completed   condition.Condition // per item
	DonePath    string              // full route shown when the filer finishes adding items
}

// Screen describes a navigable screen.
type Screen struct {
	IsKnockout         bool
	RouteAutomatically bool
	ActAsDataView      bool
	Content            []*Content
	Order              int // position in document order among screens

	factPaths []factgraph.Path
}

// FactPaths lists the fact paths written by the screen's content, in order.
func (s *Screen) FactPaths() []factgraph.Path {
	return append([]factgraph.Path(nil), s.factPaths...)
}

// DisplayMode restricts where content appears.
type DisplayMode string

const (
	DisplayAlways   DisplayMode = ""
	DisplayEdit     DisplayMode = "edit"
	DisplayDataView DisplayMode = "data-view"
)

// Content is one built content node.
type Content struct {
	Kind          ContentKind
	Path          factgraph.Path
	I18nKey       string
	Guard         condition.Condition
	DisplayOnlyOn DisplayMode
	Required      bool
	Checkbox      bool
	Sensitive     bool
	ReadOnly      bool
	EditRoute     string // resolved full route, empty when editing in place
	Source        factgraph.Path
	Target        string // resolved full route of a link
	AlertType     string
	Batches       []string
}

// WritesFact reports whether the content sets the fact at Path.
func (c *Content) WritesFact() bool {
	switch c.Kind {
	case ContentFact, ContentFactSelect, ContentBankAccount:
		return !c.ReadOnly
	case ContentSetFact:
		return true
	}
	return false
}

// ShowsFact reports whether the content displays the fact at Path.
func (c *Content) ShowsFact() bool {
	switch c.Kind {
	case ContentFact, ContentFactSelect, ContentBankAccount:
		return true
	}
	return false
}

// Graph is the immutable, validated flow tree.
type Graph struct {
	nodes      []Node
	categories []NodeID
	screens    []NodeID
	batches    []string
	dict       *factgraph.Dictionary

	screenByRoute  map[string]NodeID
	subcategories  map[string]NodeID
	subsubcategory map[string]NodeID
	loops          map[string]NodeID
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return &g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Dictionary returns the fact dictionary the graph was validated against.
func (g *Graph) Dictionary() *factgraph.Dictionary { return g.dict }

// Categories returns top-level nodes in document order.
func (g *Graph) Categories() []*Node { return g.collect(g.categories) }

// Screens returns every screen in document order.
func (g *Graph) Screens() []*Node { return g.collect(g.screens) }

// Batches returns the declared batch tags.
func (g *Graph) Batches() []string { return append([]string(nil), g.batches...) }

// Children returns the children of a node in document order.
func (g *Graph) Children(id NodeID) []*Node {
	if n := g.Node(id); n != nil {
		return g.collect(n.Children)
	}
	return nil
}

func (g *Graph) collect(ids []NodeID) []*Node {
	out := make([]*Node, len(ids))
	for i, id := range ids {
		out[i] = &g.nodes[id]
	}
	return out
}

// ScreenByRoute finds a screen by full route; query strings are ignored.
func (g *Graph) ScreenByRoute(route string) (*Node, bool) {
	id, ok := g.screenByRoute[stripQuery(route)]
	if !ok {
		return nil, false
	}
	return &g.nodes[id], true
}

// Subcategory finds a subcategory by full route (/flow/<cat>/<subcat>).
func (g *Graph) Subcategory(route string) (*Node, bool) {
	id, ok := g.subcategories[stripQuery(route)]
	if !ok {
		return nil, false
	}
	return &g.nodes[id], true
}

// SubSubcategory finds a subsubcategory by full route.
func (g *Graph) SubSubcategory(route string) (*Node, bool) {
	id, ok := g.subsubcategory[stripQuery(route)]
	if !ok {
		return nil, false
	}
	return &g.nodes[id], true
}

// Loop finds a collection loop by name.
func (g *Graph) Loop(name string) (*Node, bool) {
	id, ok := g.loops[name]
	if !ok {
		return nil, false
	}
	return &g.nodes[id], true
}

// ScreensUnder lists the screens in the subtree of id, in document order.
func (g *Graph) ScreensUnder(id NodeID) []*Node {
	var out []*Node
	for _, sid := range g.screens {
		if g.IsAncestor(id, sid) {
			out = append(out, &g.nodes[sid])
		}
	}
	return out
}

// IsAncestor reports whether a is b or one of b's ancestors.
func (g *Graph) IsAncestor(a, b NodeID) bool {
	for n := b; n != NoNode; n = g.nodes[n].Parent {
		if n == a {
			return true
		}
	}
	return false
}

// FactPathsUnder lists the distinct fact paths written by screens under id.
// Clearing these is how dependent answers are reset when a controlling
// answer changes.
func (g *Graph) FactPathsUnder(id NodeID) []factgraph.Path {
	seen := make(map[string]bool)
	var out []factgraph.Path
	for _, s := range g.ScreensUnder(id) {
		for _, p := range s.Screen.factPaths {
			if !seen[p.String()] {
				seen[p.String()] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Scope returns the collection whose items bind '*' for this node, or the
// zero Path.
func (n *Node) Scope() factgraph.Path { return n.scope }

// InLoop reports whether the node is inside a collection loop.
func (n *Node) InLoop() bool { return n.LoopID != NoNode }

// Owner is the subsubcategory holding an inner loop, or the subcategory of
// any other node.
func (g *Graph) Owner(n *Node) *Node {
	if n.Kind == KindLoop && n.SubSubcategory != NoNode {
		return g.Node(n.SubSubcategory)
	}
	return g.Node(n.Subcategory)
}

// IsAvailable is true iff the node's own guard and every ancestor guard
// evaluate True for itemID. A node inside a loop is only available for an
// item currently in the loop's collection, so a loop with no items hides its
// subtree.
func (n *Node) IsAvailable(ev *condition.Evaluator, r factgraph.Reader, itemID string) (bool, error) {
	return n.graph.IsAvailable(n.ID, ev, r, itemID)
}

// IsAvailable is the Graph form of Node.IsAvailable.
func (g *Graph) IsAvailable(id NodeID, ev *condition.Evaluator, r factgraph.Reader, itemID string) (bool, error) {
	// a collection-scoped node cannot be shown without one of its items
	if scope := g.nodes[id].scope; !scope.IsZero() && !containsItem(r.Items(scope.MustBind()), itemID) {
		return false, nil
	}
	for cur := id; cur != NoNode; cur = g.nodes[cur].Parent {
		node := &g.nodes[cur]
		if node.Kind == KindLoop && !containsItem(r.Items(node.Loop.Collection.MustBind()), itemID) {
			return false, nil
		}
		ok, err := ev.Holds(node.Guard, r, itemID)
		if err != nil {
			return false, fmt.Errorf("guard of %s: %w", node.describe(), err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (n *Node) describe() string {
	switch {
	case n.FullRoute != "":
		return string(n.Kind) + " " + n.FullRoute
	case n.Loop != nil:
		return "loop " + n.Loop.Name
	default:
		return fmt.Sprintf("%s #%d", n.Kind, n.ID)
	}
}

func containsItem(items []string, id string) bool {
	if id == "" {
		return false
	}
	for _, it := range items {
		if it == id {
			return true
		}
	}
	return false
}
