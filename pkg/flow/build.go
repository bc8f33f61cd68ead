package flow

import (
	"fmt"
	"strings"

	"github.com/dlovans/taxflow/pkg/condition"
	"github.com/dlovans/taxflow/pkg/factgraph"
)

// allowedChildren encodes the structural nesting rules.
var allowedChildren = map[NodeKind]map[NodeKind]bool{
	"":                 {KindCategory: true},
	KindCategory:       {KindSubcategory: true},
	KindSubcategory:    {KindSubSubcategory: true, KindGate: true, KindLoop: true, KindScreen: true},
	KindSubSubcategory: {KindGate: true, KindLoop: true, KindScreen: true},
	KindGate:           {KindGate: true, KindLoop: true, KindSubSubcategory: true, KindScreen: true},
	KindLoop:           {KindSubSubcategory: true, KindGate: true, KindScreen: true},
}

// frame is the inherited context while walking declarations.
type frame struct {
	kind           NodeKind
	category       NodeID
	subcategory    NodeID
	subsubcategory NodeID
	loop           NodeID
	scope          factgraph.Path
	route          string // full route of the nearest routed ancestor
	knockout       bool
}

type pendingRoute struct {
	subcategory string
	target      string
	where       string
	set         func(string)
}

type builder struct {
	g       *Graph
	dict    *factgraph.Dictionary
	issues  []Issue
	routes  map[string]bool
	pending []pendingRoute
}

// Build validates a declaration against the fact dictionary and produces the
// immutable Graph. Every problem found is reported in one *BuildError.
func Build(doc *Document, dict *factgraph.Dictionary) (*Graph, error) {
	b := &builder{
		g: &Graph{
			dict:           dict,
			batches:        append([]string(nil), doc.Batches...),
			screenByRoute:  make(map[string]NodeID),
			subcategories:  make(map[string]NodeID),
			subsubcategory: make(map[string]NodeID),
			loops:          make(map[string]NodeID),
		},
		dict:   dict,
		routes: make(map[string]bool),
	}

	root := frame{category: NoNode, subcategory: NoNode, subsubcategory: NoNode, loop: NoNode, route: "/flow"}
	for _, d := range doc.Categories {
		if id, ok := b.add(d, NoNode, root); ok {
			b.g.categories = append(b.g.categories, id)
		}
	}
	b.resolveRoutes()

	if len(b.issues) > 0 {
		return nil, &BuildError{Code: CodeInvalidConfig, Issues: b.issues}
	}
	for i := range b.g.nodes {
		b.g.nodes[i].graph = b.g
	}
	return b.g, nil
}

func (b *builder) issue(route, path, format string, args ...any) {
	b.issues = append(b.issues, Issue{Route: route, Path: path, Message: fmt.Sprintf(format, args...)})
}

// add appends d and its subtree. It returns false when d was rejected.
func (b *builder) add(d *NodeDecl, parent NodeID, f frame) (NodeID, bool) {
	if d == nil {
		return NoNode, false
	}
	where := f.route
	if d.Route != "" {
		where = f.route + "/" + d.Route
	}

	if !allowedChildren[f.kind][d.Kind] {
		parentKind := string(f.kind)
		if parentKind == "" {
			parentKind = "document root"
		}
		b.issue(where, "", "%s may not appear directly under %s", d.Kind, parentKind)
		return NoNode, false
	}

	id := NodeID(len(b.g.nodes))
	b.g.nodes = append(b.g.nodes, Node{
		ID:                 id,
		Kind:               d.Kind,
		Route:              d.Route,
		Parent:             parent,
		Editable:           d.Editable == nil || *d.Editable,
		Hidden:             d.Hidden,
		LockFutureSections: d.LockFutureSections,
		Batches:            d.Batches,
		Category:           f.category,
		Subcategory:        f.subcategory,
		SubSubcategory:     f.subsubcategory,
		LoopID:             f.loop,
	})
	// b.g.nodes may grow during recursion; always index, never hold a pointer.
	node := func() *Node { return &b.g.nodes[id] }
	if parent != NoNode {
		b.g.nodes[parent].Children = append(b.g.nodes[parent].Children, id)
	}

	child := f
	child.kind = d.Kind

	switch d.Kind {
	case KindCategory, KindSubcategory, KindSubSubcategory, KindScreen:
		if d.Route == "" {
			b.issue(where, "", "%s has no route", d.Kind)
		} else {
			// subsubcategories group screens without adding a route segment
			if d.Kind != KindSubSubcategory {
				child.route = where
			}
			node().FullRoute = where
			b.claimRoute(d.Kind, where)
		}
	case KindGate, KindLoop:
		if d.Route != "" {
			b.issue(where, "", "%s nodes do not take a route", d.Kind)
		}
	}

	switch d.Kind {
	case KindCategory:
		child.category = id
		node().Category = id
	case KindSubcategory:
		child.subcategory = id
		node().Subcategory = id
		b.g.subcategories[where] = id
	case KindSubSubcategory:
		if f.subsubcategory != NoNode {
			b.issue(where, "", "subsubcategories may not nest")
		}
		child.subsubcategory = id
		node().SubSubcategory = id
		b.g.subsubcategory[where] = id
	case KindLoop:
		child.loop = id
		node().LoopID = id
		b.buildLoop(d, id, f, &child)
	case KindScreen:
		child.knockout = d.IsKnockout
	}

	if d.CollectionContext != "" {
		b.setScope(d.CollectionContext, where, &child)
	}
	node().scope = child.scope

	node().Guard = b.guard(d.Condition, d.Conditions, child.scope, where)
	if d.CompleteIf != nil {
		node().CompleteIf = b.guard(d.CompleteIf, nil, child.scope, where)
	}
	if len(d.DisplayOnlyIf) > 0 {
		node().DisplayOnlyIf = b.guard(nil, d.DisplayOnlyIf, child.scope, where)
	}

	if d.Kind == KindScreen {
		if len(d.Children) > 0 {
			b.issue(where, "", "screens may not have children")
		}
		b.buildScreen(d, id, child, where)
		return id, true
	}
	if len(d.Content) > 0 {
		b.issue(where, "", "%s nodes may not carry content", d.Kind)
	}

	for _, c := range d.Children {
		b.add(c, id, child)
	}
	return id, true
}

func (b *builder) claimRoute(kind NodeKind, route string) {
	key := string(kind) + " " + route
	if b.routes[key] {
		b.issue(route, "", "duplicate %s route", kind)
		return
	}
	b.routes[key] = true
}

func (b *builder) setScope(raw, where string, f *frame) {
	p, err := factgraph.ParsePath(raw)
	if err != nil {
		b.issue(where, raw, "collection context: %v", err)
		return
	}
	if !b.dict.IsCollection(p) {
		b.issue(where, raw, "collection context %s is not a collection fact", p)
		return
	}
	if f.loop != NoNode && f.scope.String() != p.String() {
		b.issue(where, raw, "collection context %s conflicts with enclosing loop over %s", p, f.scope)
		return
	}
	f.scope = p
}

func (b *builder) buildLoop(d *NodeDecl, id NodeID, f frame, child *frame) {
	where := f.route + " (loop " + d.LoopName + ")"
	if f.loop != NoNode {
		b.issue(where, "", "nested collection loops are not supported")
	}
	if d.LoopName == "" {
		b.issue(where, "", "loop has no loopName")
	} else if _, dup := b.g.loops[d.LoopName]; dup {
		b.issue(where, "", "duplicate loop name %q", d.LoopName)
	} else {
		b.g.loops[d.LoopName] = id
	}

	loop := &Loop{Name: d.LoopName, AutoIterate: d.AutoIterate}
	b.g.nodes[id].Loop = loop

	coll, err := factgraph.ParsePath(d.Collection)
	switch {
	case err != nil:
		b.issue(where, d.Collection, "loop collection: %v", err)
		return
	case !b.dict.IsCollection(coll):
		b.issue(where, d.Collection, "loop collection %s is not a collection in the fact dictionary", coll)
		return
	}
	loop.Collection = coll
	child.scope = coll

	if d.CompletedCondition != nil {
		loop.Completed = b.guard(d.CompletedCondition, nil, coll, where)
	}
	if d.DonePath != "" {
		b.pending = append(b.pending, pendingRoute{
			subcategory: f.subcategoryRoute(b.g),
			target:      d.DonePath,
			where:       where,
			set:         func(r string) { loop.DonePath = r },
		})
	}
}

func (f frame) subcategoryRoute(g *Graph) string {
	if f.subcategory == NoNode {
		return ""
	}
	return g.nodes[f.subcategory].FullRoute
}

// guard parses a node's conditions and checks every path they reference.
func (b *builder) guard(single *condition.RawCondition, list []condition.RawCondition, scope factgraph.Path, where string) condition.Condition {
	var parts []condition.Condition
	if single != nil {
		c, err := condition.Parse(*single)
		if err != nil {
			b.issue(where, "", "condition: %v", err)
		} else {
			parts = append(parts, c)
		}
	}
	if len(list) > 0 {
		c, err := condition.ParseAll(list)
		if err != nil {
			b.issue(where, "", "conditions: %v", err)
		} else {
			parts = append(parts, c)
		}
	}
	c := condition.Conjoin(parts...)
	for _, p := range condition.Paths(c) {
		b.checkPath(p, scope, where)
	}
	return c
}

// checkPath verifies that p is a known fact and that any wildcard in it is
// bound by the enclosing collection context.
func (b *builder) checkPath(p factgraph.Path, scope factgraph.Path, where string) (*factgraph.FactDef, bool) {
	def, ok := b.dict.Lookup(p)
	if !ok {
		b.issue(where, p.String(), "unknown fact path %s", p)
		return nil, false
	}
	if p.IsAbstract() {
		if scope.IsZero() {
			b.issue(where, p.String(), "abstract path %s is used outside any collection context", p)
			return def, false
		}
		if p.CollectionPath().String() != scope.String() {
			b.issue(where, p.String(), "path %s does not belong to collection %s", p, scope)
			return def, false
		}
	}
	return def, true
}

func (b *builder) buildScreen(d *NodeDecl, id NodeID, f frame, where string) {
	s := &Screen{
		IsKnockout:         d.IsKnockout,
		RouteAutomatically: d.RouteAutomatically == nil || *d.RouteAutomatically,
		ActAsDataView:      d.ActAsDataView,
		Order:              len(b.g.screens),
	}
	b.g.nodes[id].Screen = s
	b.g.screens = append(b.g.screens, id)
	if d.Route != "" {
		b.g.screenByRoute[where] = id
	}

	for i := range d.Content {
		c := b.content(&d.Content[i], f, where, s.IsKnockout)
		if c == nil {
			continue
		}
		s.Content = append(s.Content, c)
		if c.WritesFact() {
			s.factPaths = append(s.factPaths, c.Path)
		}
	}
}

func (b *builder) content(d *ContentDecl, f frame, where string, knockout bool) *Content {
	c := &Content{
		Kind:          d.Kind,
		I18nKey:       d.I18nKey,
		DisplayOnlyOn: d.DisplayOnlyOn,
		Required:      d.Required == nil || *d.Required,
		Checkbox:      d.InputType == "checkbox",
		Sensitive:     d.Sensitive,
		ReadOnly:      d.ReadOnly,
		AlertType:     d.AlertType,
		Batches:       d.Batches,
	}
	c.Guard = b.guard(d.Condition, d.Conditions, f.scope, where)
	subcat := f.subcategoryRoute(b.g)

	var def *factgraph.FactDef
	if d.Path != "" {
		p, err := factgraph.ParsePath(d.Path)
		if err != nil {
			b.issue(where, d.Path, "content path: %v", err)
			return nil
		}
		c.Path = p
		def, _ = b.checkPath(p, f.scope, where)
	}

	switch d.Kind {
	case ContentFact, ContentFactSelect, ContentBankAccount, ContentSetFact:
		if d.Path == "" {
			b.issue(where, "", "%s content has no path", d.Kind)
			return nil
		}
	case ContentContinueButton:
		if knockout {
			b.issue(where, "", "knockout screen has a continue button")
		}
	case ContentLink:
		if d.Target == "" {
			b.issue(where, "", "link has no target")
		} else {
			b.pending = append(b.pending, pendingRoute{subcategory: subcat, target: d.Target, where: where,
				set: func(r string) { c.Target = r }})
		}
	}

	if def != nil {
		b.checkContentType(c, def, where)
	}
	if d.Kind == ContentSetFact {
		if d.Source == "" {
			b.issue(where, d.Path, "setFact has no source")
		} else if p, err := factgraph.ParsePath(d.Source); err != nil {
			b.issue(where, d.Source, "setFact source: %v", err)
		} else {
			c.Source = p
			b.checkPath(p, f.scope, where)
		}
	}
	if d.EditRoute != "" {
		b.pending = append(b.pending, pendingRoute{subcategory: subcat, target: d.EditRoute, where: where,
			set: func(r string) { c.EditRoute = r }})
	}
	return c
}

func (b *builder) checkContentType(c *Content, def *factgraph.FactDef, where string) {
	p := c.Path.String()
	if c.WritesFact() && !def.Writable {
		b.issue(where, p, "%s content writes %s, which is not writable", c.Kind, p)
	}
	switch c.Kind {
	case ContentFactSelect:
		if def.Type != factgraph.TypeMultiEnum {
			b.issue(where, p, "factSelect needs a multiEnum fact, %s is %s", p, def.Type)
		}
	case ContentBankAccount:
		if def.Type != factgraph.TypeBankAccount {
			b.issue(where, p, "bankAccount content needs a bankAccount fact, %s is %s", p, def.Type)
		}
	}
	if c.Checkbox && (c.Kind != ContentFact || def.Type != factgraph.TypeBoolean) {
		b.issue(where, p, "checkbox input needs a boolean fact")
	}
}

// resolveRoutes resolves link targets, edit routes and loop done paths once
// every screen is indexed. Targets are full routes or screen routes relative
// to the enclosing subcategory.
func (b *builder) resolveRoutes() {
	for _, pr := range b.pending {
		full := pr.target
		if !strings.HasPrefix(full, flowPrefix) {
			full = pr.subcategory + "/" + pr.target
		}
		full = stripQuery(full)
		if _, ok := b.g.screenByRoute[full]; !ok {
			b.issue(pr.where, "", "route %q does not name a screen", pr.target)
			continue
		}
		pr.set(full)
	}
}
