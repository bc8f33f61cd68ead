// Package dataview projects a return into read-only summary sections, one per
// subsubcategory, independent of the order the interview asks questions in.
package dataview

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dlovans/taxflow/pkg/condition"
	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/flow"
	"github.com/dlovans/taxflow/pkg/navigate"
)

// ErrUnknownSubcategory means a data view was asked for a route that is not a
// subcategory of the flow.
var ErrUnknownSubcategory = errors.New("unknown subcategory")

// ErrUnknownLoop means a loop data view named a loop the flow does not have.
var ErrUnknownLoop = errors.New("unknown loop")

// NoneSelected is the Key of the single row shown for a multi-select
// question with no selections.
const NoneSelected = "noneSelected"

const dataViewPrefix = "/data-view"

// DisplayFact is one row of a summary section.
type DisplayFact struct {
	Path         factgraph.ConcretePath `json:"path"`
	AbstractPath string                 `json:"abstractPath"`
	// Key names the selection or account field of an expanded row.
	Key      string `json:"key,omitempty"`
	Value    any    `json:"value,omitempty"`
	TypeName string `json:"typeName"`

	IsSensitive      bool `json:"isSensitive"`
	IsCheckbox       bool `json:"isCheckbox,omitempty"`
	IsNextIncomplete bool `json:"isNextIncomplete,omitempty"`
	ReadOnly         bool `json:"readOnly,omitempty"`

	ScreenRoute string `json:"screenRoute"`
	EditRoute   string `json:"editRoute"`
}

// Section summarizes one subsubcategory, or the screens of a subcategory that
// sit outside any subsubcategory.
type Section struct {
	Route          string `json:"route"`
	ItemID         string `json:"itemId,omitempty"`
	ContextHeading string `json:"contextHeading,omitempty"`
	Editable       bool   `json:"editable"`
	Complete       bool   `json:"complete"`
	// EditRoute opens the section's first available screen in review mode.
	EditRoute            string        `json:"editRoute"`
	NextIncompleteScreen string        `json:"nextIncompleteScreen,omitempty"`
	Facts                []DisplayFact `json:"facts"`
}

// ProjectOptions carry subcategory-wide progress into a single section.
type ProjectOptions struct {
	// NextIncompleteScreen is the screen the filer should be nudged toward,
	// for NextIncompleteItem when it lives in a loop.
	NextIncompleteScreen *flow.Node
	NextIncompleteItem   string
	// SubcategoryComplete applies to sections without their own completeIf.
	SubcategoryComplete bool
}

// Projector renders data views over one flow graph. It is safe for
// concurrent use.
type Projector struct {
	g   *flow.Graph
	ev  *condition.Evaluator
	nav *navigate.Navigator
	log *zap.Logger
}

// Option configures a Projector.
type Option func(*Projector)

// WithLogger sets the projector's logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Projector) {
		if l != nil {
			p.log = l
		}
	}
}

// New returns a Projector over g.
func New(g *flow.Graph, ev *condition.Evaluator, opts ...Option) *Projector {
	p := &Projector{g: g, ev: ev, log: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	p.nav = navigate.New(g, ev, navigate.WithLogger(p.log), navigate.WithStrict(true))
	return p
}

// ProjectSubcategory renders every section of the subcategory at route, which
// may carry the /data-view prefix. A non-empty itemID (or one bound in the
// route's query) restricts collection loops to that item. Loop data view
// routes are handed to ProjectLoop.
func (p *Projector) ProjectSubcategory(route string, r factgraph.Reader, itemID string) ([]Section, error) {
	if name, id, ok := flow.ParseLoopDataViewRoute(route); ok {
		if itemID == "" {
			itemID = id
		}
		return p.ProjectLoop(name, r, itemID)
	}

	ref, err := flow.ParseRoute(route)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSubcategory, err)
	}
	sub, ok := p.g.Subcategory(strings.TrimPrefix(ref.Path, dataViewPrefix))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubcategory, ref.Path)
	}
	if itemID == "" {
		itemID = ref.ItemID
	}

	next, found, err := p.nav.FirstIncompleteScreen(sub.FullRoute, itemID, r)
	if err != nil {
		return nil, err
	}
	opts := ProjectOptions{SubcategoryComplete: !found}
	if sub.CompleteIf != nil {
		if opts.SubcategoryComplete, err = p.ev.Holds(sub.CompleteIf, r, itemID); err != nil {
			return nil, fmt.Errorf("completeIf of %s: %w", sub.FullRoute, err)
		}
	}
	if found {
		opts.NextIncompleteScreen = next.Screen
		opts.NextIncompleteItem = next.ItemID
	}

	c := &collector{p: p, r: r, sub: sub, only: itemID, opts: opts}
	for _, child := range p.g.Children(sub.ID) {
		if err := c.visit(child, ""); err != nil {
			return nil, err
		}
	}
	if err := c.flush(); err != nil {
		return nil, err
	}

	p.log.Debug("projected data view",
		zap.String("subcategory", sub.FullRoute),
		zap.Int("sections", len(c.out)))
	return c.out, nil
}

// ProjectLoop renders the sections of one item of the named loop. It is what
// the filer sees at the end of an item in a loop that does not move on to the
// next item by itself.
func (p *Projector) ProjectLoop(name string, r factgraph.Reader, itemID string) ([]Section, error) {
	loop, ok := p.g.Loop(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLoop, name)
	}
	if itemID == "" {
		return nil, fmt.Errorf("%w: loop %s needs an item", factgraph.ErrUnboundWildcard, name)
	}
	if !containsItem(r.Items(loop.Loop.Collection.MustBind()), itemID) {
		return nil, fmt.Errorf("%w: %s in %s", factgraph.ErrUnknownItem, itemID, loop.Loop.Collection)
	}

	next, found, err := p.nav.FirstIncompleteInLoop(name, itemID, r)
	if err != nil {
		return nil, err
	}
	opts := ProjectOptions{SubcategoryComplete: !found}
	if loop.Loop.Completed != nil {
		if opts.SubcategoryComplete, err = p.ev.Holds(loop.Loop.Completed, r, itemID); err != nil {
			return nil, fmt.Errorf("completion of loop %s: %w", name, err)
		}
	}
	if found {
		opts.NextIncompleteScreen = next.Screen
		opts.NextIncompleteItem = next.ItemID
	}

	c := &collector{p: p, r: r, sub: p.g.Owner(loop), only: itemID, opts: opts}
	for _, child := range p.g.Children(loop.ID) {
		if err := c.visit(child, itemID); err != nil {
			return nil, err
		}
	}
	if err := c.flush(); err != nil {
		return nil, err
	}

	p.log.Debug("projected loop data view",
		zap.String("loop", name),
		zap.String("item", itemID),
		zap.Int("sections", len(c.out)))
	return c.out, nil
}

// ProjectSubSubcategory renders one subsubcategory for itemID. ok is false
// when none of its screens is available.
func (p *Projector) ProjectSubSubcategory(ssc *flow.Node, r factgraph.Reader, itemID string, opts ProjectOptions) (sec Section, ok bool, err error) {
	if ssc.Kind != flow.KindSubSubcategory {
		return Section{}, false, fmt.Errorf("%s is a %s, not a subsubcategory", ssc.FullRoute, ssc.Kind)
	}
	return p.project(ssc, p.g.ScreensUnder(ssc.ID), r, itemID, opts)
}

// collector walks a subcategory in document order, grouping screens into
// sections.
type collector struct {
	p    *Projector
	r    factgraph.Reader
	sub  *flow.Node
	only string
	opts ProjectOptions
	out  []Section

	loose     []*flow.Node
	looseItem string
}

func (c *collector) visit(n *flow.Node, item string) error {
	if n.Hidden {
		return nil
	}
	switch n.Kind {
	case flow.KindSubSubcategory:
		if err := c.flush(); err != nil {
			return err
		}
		if item == "" && c.holdsLoop(n) {
			return c.innerLoops(n)
		}
		sec, ok, err := c.p.ProjectSubSubcategory(n, c.r, item, c.opts)
		if err != nil || !ok {
			return err
		}
		c.out = append(c.out, sec)

	case flow.KindLoop:
		if err := c.flush(); err != nil {
			return err
		}
		for _, id := range c.r.Items(n.Loop.Collection.MustBind()) {
			if c.only != "" && id != c.only {
				continue
			}
			for _, child := range c.p.g.Children(n.ID) {
				if err := c.visit(child, id); err != nil {
					return err
				}
			}
			if err := c.flush(); err != nil {
				return err
			}
		}

	case flow.KindScreen:
		if len(c.loose) > 0 && c.looseItem != item {
			if err := c.flush(); err != nil {
				return err
			}
		}
		c.loose = append(c.loose, n)
		c.looseItem = item

	default:
		for _, child := range c.p.g.Children(n.ID) {
			if err := c.visit(child, item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *collector) holdsLoop(ssc *flow.Node) bool {
	for _, s := range c.p.g.ScreensUnder(ssc.ID) {
		if s.InLoop() && c.p.g.IsAncestor(ssc.ID, s.LoopID) {
			return true
		}
	}
	return false
}

// innerLoops renders a subsubcategory holding a loop: one section for its
// screens outside the loop, then one per item of each loop.
func (c *collector) innerLoops(ssc *flow.Node) error {
	var outside []*flow.Node
	var loops []*flow.Node
	seen := make(map[flow.NodeID]bool)
	for _, s := range c.p.g.ScreensUnder(ssc.ID) {
		if !s.InLoop() {
			outside = append(outside, s)
			continue
		}
		if !seen[s.LoopID] {
			seen[s.LoopID] = true
			loops = append(loops, c.p.g.Node(s.LoopID))
		}
	}

	if len(outside) > 0 {
		sec, ok, err := c.p.project(ssc, outside, c.r, "", c.opts)
		if err != nil {
			return err
		}
		if ok {
			c.out = append(c.out, sec)
		}
	}
	for _, loop := range loops {
		if loop.Hidden {
			continue
		}
		for _, id := range c.r.Items(loop.Loop.Collection.MustBind()) {
			if c.only != "" && id != c.only {
				continue
			}
			sec, ok, err := c.p.project(ssc, c.p.g.ScreensUnder(loop.ID), c.r, id, c.opts)
			if err != nil {
				return err
			}
			if ok {
				sec.ItemID = id
				c.out = append(c.out, sec)
			}
		}
	}
	return nil
}

// flush emits the pending screens that sit outside any subsubcategory. Such a
// section is only worth showing when it has facts.
func (c *collector) flush() error {
	if len(c.loose) == 0 {
		return nil
	}
	screens, item := c.loose, c.looseItem
	c.loose, c.looseItem = nil, ""

	sec, ok, err := c.p.project(c.sub, screens, c.r, item, c.opts)
	if err != nil {
		return err
	}
	if ok && len(sec.Facts) > 0 {
		if item != "" {
			sec.ItemID = item
		}
		c.out = append(c.out, sec)
	}
	return nil
}

func (p *Projector) project(owner *flow.Node, screens []*flow.Node, r factgraph.Reader, item string, opts ProjectOptions) (Section, bool, error) {
	sec := Section{
		Route:    owner.FullRoute,
		Editable: owner.Editable,
		Complete: opts.SubcategoryComplete,
		Facts:    []DisplayFact{},
	}
	if !owner.Scope().IsZero() {
		sec.ItemID = item
	}
	if owner.Kind == flow.KindSubSubcategory && owner.CompleteIf != nil {
		ok, err := p.ev.Holds(owner.CompleteIf, r, item)
		if err != nil {
			return Section{}, false, fmt.Errorf("completeIf of %s: %w", owner.FullRoute, err)
		}
		sec.Complete = ok
	}

	seen := make(map[string]bool)
	available := false
	for _, s := range screens {
		ok, err := p.g.IsAvailable(s.ID, p.ev, r, item)
		if err != nil {
			return Section{}, false, err
		}
		if !ok {
			continue
		}
		if !available {
			available = true
			sec.EditRoute = flow.FullRoute(s, item, flow.RouteOptions{ReviewMode: true})
			if sec.ContextHeading, err = p.contextHeading(s, r, item); err != nil {
				return Section{}, false, err
			}
		}

		next := p.isNext(s, item, opts) && !sec.Complete
		if next {
			sec.NextIncompleteScreen = flow.FullRoute(s, item, flow.RouteOptions{})
		}
		first := true
		for _, c := range s.Screen.Content {
			if !c.ShowsFact() || c.DisplayOnlyOn == flow.DisplayEdit {
				continue
			}
			shown, err := p.ev.Holds(c.Guard, r, item)
			if err != nil {
				return Section{}, false, fmt.Errorf("content guard on %s: %w", s.FullRoute, err)
			}
			if !shown {
				continue
			}
			rows, err := p.rows(s, c, r, item, next && first)
			if err != nil {
				return Section{}, false, err
			}
			first = false
			for _, row := range rows {
				key := string(row.Path) + "#" + row.Key
				if seen[key] {
					continue
				}
				seen[key] = true
				sec.Facts = append(sec.Facts, row)
			}
		}
	}
	return sec, available, nil
}

func (p *Projector) isNext(s *flow.Node, item string, opts ProjectOptions) bool {
	n := opts.NextIncompleteScreen
	if n == nil || n.ID != s.ID {
		return false
	}
	return s.Scope().IsZero() || opts.NextIncompleteItem == item
}

// contextHeading is the first context heading of a screen that is shown in
// data views.
func (p *Projector) contextHeading(s *flow.Node, r factgraph.Reader, item string) (string, error) {
	for _, c := range s.Screen.Content {
		if c.Kind != flow.ContentContextHeading || c.DisplayOnlyOn == flow.DisplayEdit {
			continue
		}
		ok, err := p.ev.Holds(c.Guard, r, item)
		if err != nil {
			return "", fmt.Errorf("content guard on %s: %w", s.FullRoute, err)
		}
		if ok {
			return c.I18nKey, nil
		}
	}
	return "", nil
}

// rows turns one fact content node into display rows. nudge marks the fact
// the filer should answer next; it is kept, without a value, even though it is
// incomplete.
func (p *Projector) rows(s *flow.Node, c *flow.Content, r factgraph.Reader, item string, nudge bool) ([]DisplayFact, error) {
	path, err := c.Path.Bind(item)
	if err != nil {
		return nil, fmt.Errorf("content %s on %s: %w", c.Path, s.FullRoute, err)
	}
	def, _ := p.g.Dictionary().Lookup(c.Path)
	res := r.Get(path)

	base := DisplayFact{
		Path:         path,
		AbstractPath: c.Path.String(),
		TypeName:     res.TypeName,
		IsSensitive:  c.Sensitive,
		ReadOnly:     c.ReadOnly,
		ScreenRoute:  flow.FullRoute(s, item, flow.RouteOptions{}),
		EditRoute:    c.EditRoute,
	}
	if base.EditRoute == "" {
		base.EditRoute = flow.FullRoute(s, item, flow.RouteOptions{ReviewMode: true})
	}
	if def != nil {
		base.IsSensitive = base.IsSensitive || def.Sensitive || def.Type.Sensitive()
		if base.TypeName == "" {
			base.TypeName = string(def.Type)
		}
	}

	if c.Kind == flow.ContentFactSelect {
		selected := stringList(res.Value)
		if !res.Complete || len(selected) == 0 {
			row := base
			row.Key = NoneSelected
			row.IsNextIncomplete = nudge && !res.Complete
			return []DisplayFact{row}, nil
		}
		out := make([]DisplayFact, 0, len(selected))
		for _, opt := range selected {
			row := base
			row.Key, row.Value = opt, opt
			out = append(out, row)
		}
		return out, nil
	}

	if !res.Complete {
		if !nudge {
			return nil, nil
		}
		base.IsNextIncomplete = true
		return []DisplayFact{base}, nil
	}

	switch {
	case c.Kind == flow.ContentBankAccount:
		acct, _ := res.Value.(map[string]any)
		out := make([]DisplayFact, 0, 3)
		for _, key := range []string{factgraph.AccountType, factgraph.RoutingNumber, factgraph.AccountNumber} {
			row := base
			row.Key, row.Value = key, acct[key]
			row.IsSensitive = base.IsSensitive || key != factgraph.AccountType
			out = append(out, row)
		}
		return out, nil

	case c.Checkbox:
		// an unchecked box is not an answer the filer gave
		if checked, _ := res.Value.(bool); !checked {
			return nil, nil
		}
		base.IsCheckbox = true
	}
	base.Value = res.Value
	return []DisplayFact{base}, nil
}

func stringList(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, x := range vs {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func containsItem(items []string, id string) bool {
	for _, it := range items {
		if it == id {
			return true
		}
	}
	return false
}
