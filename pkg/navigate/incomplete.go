package navigate

import (
	"fmt"

	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/flow"
)

// FirstIncompleteScreen finds the first screen under a subcategory that asks
// for a required fact that has not been answered. Loops are searched item by
// item, skipping items their completion condition marks done; every item of a
// loop without one is searched. found is false when nothing under the
// subcategory is missing.
func (n *Navigator) FirstIncompleteScreen(route, itemID string, r factgraph.Reader) (d Destination, found bool, err error) {
	ref, err := flow.ParseRoute(route)
	if err != nil {
		return Destination{}, false, fmt.Errorf("%w: %v", ErrUnknownRoute, err)
	}
	sub, ok := n.lookup(ref.Path)
	if !ok {
		return Destination{}, false, fmt.Errorf("%w: %s", ErrUnknownRoute, ref.Path)
	}
	if itemID == "" {
		itemID = ref.ItemID
	}

	w := &walk{Navigator: n, r: r}
	visited := make(map[flow.NodeID]bool)
	for _, s := range n.g.ScreensUnder(sub.ID) {
		if !s.InLoop() {
			missing, err := w.missingFacts(s, itemID)
			if err != nil {
				return Destination{}, false, err
			}
			if missing {
				return w.screen(KindScreen, s, itemID), true, nil
			}
			continue
		}

		if visited[s.LoopID] {
			continue
		}
		visited[s.LoopID] = true
		loop := n.g.Node(s.LoopID)
		for _, id := range r.Items(loop.Loop.Collection.MustBind()) {
			done, err := w.itemDone(loop, id)
			if err != nil {
				return Destination{}, false, err
			}
			if done {
				continue
			}
			s, err := w.firstIncompleteIn(loop, id)
			if err != nil {
				return Destination{}, false, err
			}
			if s != nil {
				return w.screen(KindScreen, s, id), true, nil
			}
		}
	}
	return Destination{}, false, nil
}

// FirstIncompleteInLoop finds the first screen of one item of the named loop
// that asks for a missing fact.
func (n *Navigator) FirstIncompleteInLoop(loopName, itemID string, r factgraph.Reader) (d Destination, found bool, err error) {
	loop, ok := n.g.Loop(loopName)
	if !ok {
		return Destination{}, false, fmt.Errorf("%w: loop %s", ErrUnknownRoute, loopName)
	}
	w := &walk{Navigator: n, r: r}
	s, err := w.firstIncompleteIn(loop, itemID)
	if err != nil || s == nil {
		return Destination{}, false, err
	}
	return w.screen(KindScreen, s, itemID), true, nil
}

// firstIncompleteIn returns the first screen of a loop item that still asks
// for a missing fact.
func (w *walk) firstIncompleteIn(loop *flow.Node, item string) (*flow.Node, error) {
	for _, s := range w.g.ScreensUnder(loop.ID) {
		missing, err := w.missingFacts(s, item)
		if err != nil {
			return nil, err
		}
		if missing {
			return s, nil
		}
	}
	return nil, nil
}

// missingFacts reports whether an available screen has a visible, required,
// editable fact input (or a fact it sets) that is not complete. Multi-select
// inputs are always optional.
func (w *walk) missingFacts(s *flow.Node, item string) (bool, error) {
	ok, err := w.g.IsAvailable(s.ID, w.ev, w.r, item)
	if err != nil || !ok {
		return false, err
	}

	for _, c := range s.Screen.Content {
		switch c.Kind {
		case flow.ContentFact, flow.ContentBankAccount:
			if !c.Required || c.ReadOnly || c.DisplayOnlyOn == flow.DisplayDataView {
				continue
			}
		case flow.ContentSetFact:
		default:
			continue
		}

		shown, err := w.ev.Holds(c.Guard, w.r, item)
		if err != nil {
			return false, fmt.Errorf("content guard on %s: %w", s.FullRoute, err)
		}
		if !shown {
			continue
		}
		path, err := c.Path.Bind(item)
		if err != nil {
			return false, fmt.Errorf("content %s on %s: %w", c.Path, s.FullRoute, err)
		}
		if !w.r.Get(path).Complete {
			return true, nil
		}
	}
	return false, nil
}
