// Package checklist computes the overview of a return: which subcategories
// are done, which one is next and where each of them links to.
package checklist

import (
	"fmt"

	"github.com/dlovans/taxflow/pkg/condition"
	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/flow"
)

// KnockoutCategory holds the knockout screens; it never appears on the
// checklist unless asked for.
const KnockoutCategory = "/flow/knockout"

// Options tune Build.
type Options struct {
	// ExcludedCategories lists category full routes to leave out. nil means
	// the knockout category only.
	ExcludedCategories []string
}

// Category is one group of the checklist.
type Category struct {
	Route         string        `json:"route"`
	Active        bool          `json:"active"`
	Subcategories []Subcategory `json:"subcategories"`
}

// Subcategory is one checklist entry.
type Subcategory struct {
	Route             string `json:"route"`
	IsNext            bool   `json:"isNext"`
	IsComplete        bool   `json:"isComplete"`
	IsStarted         bool   `json:"isStarted"` // started but not complete
	HasIncompleteItem bool   `json:"hasIncompleteItem"`
	// NavigationRoute is empty until the filer has reached the category.
	NavigationRoute string `json:"navigationRoute,omitempty"`
}

// Build walks the flow in order. A subcategory only counts as complete once
// every earlier one is, so exactly one visible subcategory is next until the
// return is finished.
func Build(g *flow.Graph, ev *condition.Evaluator, r factgraph.Reader, opts Options) ([]Category, error) {
	excluded := opts.ExcludedCategories
	if excluded == nil {
		excluded = []string{KnockoutCategory}
	}
	skip := make(map[string]bool, len(excluded))
	for _, route := range excluded {
		skip[route] = true
	}

	b := &builder{g: g, ev: ev, r: r, prevComplete: true}
	var out []Category
	for _, cat := range g.Categories() {
		if skip[cat.FullRoute] {
			continue
		}
		c, err := b.category(cat)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

type builder struct {
	g  *flow.Graph
	ev *condition.Evaluator
	r  factgraph.Reader

	prevComplete bool
}

func (b *builder) category(cat *flow.Node) (Category, error) {
	c := Category{Route: cat.FullRoute, Subcategories: []Subcategory{}}
	for _, sub := range b.g.Children(cat.ID) {
		if sub.Kind != flow.KindSubcategory || sub.Hidden {
			continue
		}
		hidden, err := b.hidden(sub)
		if err != nil {
			return Category{}, err
		}
		if hidden {
			continue
		}

		s := Subcategory{Route: sub.FullRoute}
		started, err := b.started(sub)
		if err != nil {
			return Category{}, err
		}
		if b.prevComplete && started {
			if s.HasIncompleteItem, err = b.hasIncompleteItem(sub); err != nil {
				return Category{}, err
			}
		}

		if b.prevComplete && sub.CompleteIf != nil {
			ok, err := b.ev.Holds(sub.CompleteIf, b.r, "")
			if err != nil {
				return Category{}, fmt.Errorf("completeIf of %s: %w", sub.FullRoute, err)
			}
			s.IsComplete = ok && !(sub.LockFutureSections && s.HasIncompleteItem)
		}
		s.IsNext = b.prevComplete && !s.IsComplete
		if s.IsNext {
			b.prevComplete = false
		}
		if s.IsNext || s.IsComplete {
			c.Active = true
		}
		s.IsStarted = s.IsNext && started

		if c.Active {
			if s.NavigationRoute, err = b.navigation(sub, s); err != nil {
				return Category{}, err
			}
		}
		if s.IsNext && s.NavigationRoute == "" {
			// nothing to show, so it cannot be next after all
			s.IsNext = false
			b.prevComplete = true
		}
		c.Subcategories = append(c.Subcategories, s)
	}
	return c, nil
}

// hidden is true when displayOnlyIf is decidedly False.
func (b *builder) hidden(sub *flow.Node) (bool, error) {
	if sub.DisplayOnlyIf == nil {
		return false, nil
	}
	t, err := b.ev.Evaluate(sub.DisplayOnlyIf, b.r, "")
	if err != nil {
		return false, fmt.Errorf("displayOnlyIf of %s: %w", sub.FullRoute, err)
	}
	return t == condition.False, nil
}

// started reports whether the filer has answered anything in the
// subcategory. Auto-iterating loops are left out: their collections can be
// filled before the filer ever visits the section.
func (b *builder) started(sub *flow.Node) (bool, error) {
	for _, s := range b.g.ScreensUnder(sub.ID) {
		if s.InLoop() {
			continue
		}
		ok, err := s.IsAvailable(b.ev, b.r, "")
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		for _, c := range s.Screen.Content {
			if !c.WritesFact() || !c.Required || c.Kind == flow.ContentSetFact {
				continue
			}
			shown, err := b.ev.Holds(c.Guard, b.r, "")
			if err != nil {
				return false, fmt.Errorf("content guard on %s: %w", s.FullRoute, err)
			}
			if !shown {
				continue
			}
			path, err := c.Path.Bind()
			if err != nil {
				continue
			}
			if b.r.Get(path).Complete {
				return true, nil
			}
		}
	}
	for _, loop := range b.loops(sub) {
		if !loop.Loop.AutoIterate && len(b.r.Items(loop.Loop.Collection.MustBind())) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// hasIncompleteItem reports whether an available loop of the subcategory has
// an item its completion condition does not mark done.
func (b *builder) hasIncompleteItem(sub *flow.Node) (bool, error) {
	for _, loop := range b.loops(sub) {
		if loop.Loop.Completed == nil {
			continue
		}
		for _, id := range b.r.Items(loop.Loop.Collection.MustBind()) {
			available, err := loop.IsAvailable(b.ev, b.r, id)
			if err != nil {
				return false, err
			}
			if !available {
				continue
			}
			done, err := b.ev.Holds(loop.Loop.Completed, b.r, id)
			if err != nil {
				return false, fmt.Errorf("completion of loop %s: %w", loop.Loop.Name, err)
			}
			if !done {
				return true, nil
			}
		}
	}
	return false, nil
}

// navigation picks where the entry links to: the data view once the filer
// has been there, the first available screen otherwise.
func (b *builder) navigation(sub *flow.Node, s Subcategory) (string, error) {
	if hasDataView(b.g, sub) && (s.IsComplete || s.IsStarted) {
		for _, sc := range b.g.ScreensUnder(sub.ID) {
			if !sc.Screen.ActAsDataView {
				continue
			}
			ok, err := sc.IsAvailable(b.ev, b.r, "")
			if err != nil {
				return "", err
			}
			if ok {
				return flow.FullRoute(sc, "", flow.RouteOptions{ReviewMode: true}), nil
			}
		}
		return flow.DataViewRoute(sub, ""), nil
	}
	for _, sc := range b.g.ScreensUnder(sub.ID) {
		ok, err := sc.IsAvailable(b.ev, b.r, "")
		if err != nil {
			return "", err
		}
		if ok {
			return flow.FullRoute(sc, "", flow.RouteOptions{}), nil
		}
	}
	return "", nil
}

func (b *builder) loops(sub *flow.Node) []*flow.Node {
	var out []*flow.Node
	seen := make(map[flow.NodeID]bool)
	for _, s := range b.g.ScreensUnder(sub.ID) {
		if s.InLoop() && !seen[s.LoopID] {
			seen[s.LoopID] = true
			out = append(out, b.g.Node(s.LoopID))
		}
	}
	return out
}

// hasDataView: a subcategory summarizes itself when it groups its screens
// into subsubcategories.
func hasDataView(g *flow.Graph, sub *flow.Node) bool {
	for _, s := range g.ScreensUnder(sub.ID) {
		if s.SubSubcategory != flow.NoNode {
			return true
		}
	}
	return false
}
