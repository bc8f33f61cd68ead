package navigate

import (
	"fmt"

	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/flow"
)

// walk is the state of one navigation.
type walk struct {
	*Navigator
	r         factgraph.Reader
	review    bool
	preferred string     // item to try first when entering a loop
	root      *flow.Node // when set, only screens under root are considered
}

func (w *walk) next(cur *flow.Node, item string) (Destination, error) {
	// a knockout is absorbing: there is nothing past it
	if cur.Screen.IsKnockout {
		return w.screen(KindKnockout, cur, item), nil
	}

	screens := w.g.Screens()
	after := screens[cur.Screen.Order+1:]

	if cur.InLoop() {
		if item == "" {
			return Destination{}, fmt.Errorf("%w: %s needs a %s item",
				factgraph.ErrUnboundWildcard, cur.FullRoute, cur.Scope())
		}
		loop := w.g.Node(cur.LoopID)
		d, found, err := w.withinLoop(cur, loop, item)
		if err != nil || found {
			return d, err
		}
		return w.exitLoop(cur, loop)
	}

	d, found, err := w.scan(cur, after, item)
	if err != nil {
		return Destination{}, err
	}
	if !found {
		return checklist(), nil
	}
	return d, nil
}

// withinLoop continues inside the current item. In an auto-iterating loop an
// incomplete item keeps the filer on its own screens and a complete one hands
// over to the next item that still needs work. Items of other loops end on
// their own data view.
func (w *walk) withinLoop(cur, loop *flow.Node, item string) (Destination, bool, error) {
	if !loop.Loop.AutoIterate {
		s, err := w.firstIn(loop, item, cur.Screen.Order)
		if err != nil {
			return Destination{}, false, err
		}
		if s != nil {
			return w.arrive(cur, s, item), true, nil
		}
		return w.loopDataView(loop, item), true, nil
	}

	done, err := w.itemDone(loop, item)
	if err != nil {
		return Destination{}, false, err
	}

	if !done {
		s, err := w.firstIn(loop, item, cur.Screen.Order)
		if err != nil {
			return Destination{}, false, err
		}
		if s != nil {
			return w.arrive(cur, s, item), true, nil
		}
		if loop.Loop.Completed != nil {
			// out of screens but not done: return to what is missing
			s, err := w.firstIncompleteIn(loop, item)
			if err != nil {
				return Destination{}, false, err
			}
			if s != nil {
				return w.arrive(cur, s, item), true, nil
			}
			w.log.Warn("loop item is incomplete but no screen asks for the missing facts")
		}
	}

	// without a completion condition items are simply taken in order
	next := rotateAfter(w.r.Items(loop.Loop.Collection.MustBind()), item)
	if loop.Loop.Completed == nil {
		next = itemsAfter(w.r.Items(loop.Loop.Collection.MustBind()), item)
	}
	for _, id := range next {
		d, found, err := w.tryItem(cur, loop, id)
		if err != nil || found {
			return d, found, err
		}
	}
	return Destination{}, false, nil
}

// tryItem starts the loop subtree for id unless the item is already done.
func (w *walk) tryItem(from, loop *flow.Node, id string) (Destination, bool, error) {
	done, err := w.itemDone(loop, id)
	if err != nil || done {
		return Destination{}, false, err
	}
	s, err := w.firstIn(loop, id, -1)
	if err != nil || s == nil {
		return Destination{}, false, err
	}
	return w.arrive(from, s, id), true, nil
}

// exitLoop leaves the loop, landing on its done screen when it has one.
func (w *walk) exitLoop(cur, loop *flow.Node) (Destination, error) {
	if loop.Loop.DonePath != "" {
		if s, ok := w.g.ScreenByRoute(loop.Loop.DonePath); ok {
			ok, err := w.g.IsAvailable(s.ID, w.ev, w.r, "")
			if err != nil {
				return Destination{}, err
			}
			if ok {
				return w.arrive(cur, s, ""), nil
			}
		}
	}

	inLoop := w.g.ScreensUnder(loop.ID)
	last := inLoop[len(inLoop)-1].Screen.Order
	d, found, err := w.scan(cur, w.g.Screens()[last+1:], "")
	if err != nil {
		return Destination{}, err
	}
	if !found {
		return checklist(), nil
	}
	return d, nil
}

// scan returns the first screen of screens the filer can be routed to.
// Loops met along the way are entered as a whole.
func (w *walk) scan(from *flow.Node, screens []*flow.Node, item string) (Destination, bool, error) {
	entered := make(map[flow.NodeID]bool)
	for _, s := range screens {
		if s.InLoop() && (from == nil || s.LoopID != from.LoopID) {
			if entered[s.LoopID] {
				continue
			}
			entered[s.LoopID] = true
			d, found, err := w.enterLoop(from, w.g.Node(s.LoopID))
			if err != nil || found {
				return d, found, err
			}
			continue
		}

		id := ""
		if !s.Scope().IsZero() && from != nil && s.Scope().String() == from.Scope().String() {
			id = item
		} else if from == nil {
			id = item
		}
		ok, err := w.routable(s, id)
		if err != nil {
			return Destination{}, false, err
		}
		if ok {
			return w.arrive(from, s, id), true, nil
		}
	}
	return Destination{}, false, nil
}

// enterLoop picks the first item that still needs work. Loops that do not
// auto-iterate are entered only through links, except when an item was
// asked for explicitly.
func (w *walk) enterLoop(from, loop *flow.Node) (Destination, bool, error) {
	items := w.r.Items(loop.Loop.Collection.MustBind())
	if w.preferred != "" && containsItem(items, w.preferred) {
		s, err := w.firstIn(loop, w.preferred, -1)
		if err != nil {
			return Destination{}, false, err
		}
		if s != nil {
			return w.arrive(from, s, w.preferred), true, nil
		}
	}
	if !loop.Loop.AutoIterate {
		return Destination{}, false, nil
	}
	for _, id := range items {
		d, found, err := w.tryItem(from, loop, id)
		if err != nil || found {
			return d, found, err
		}
	}
	return Destination{}, false, nil
}

// firstIn returns the first routable screen of the loop after order.
func (w *walk) firstIn(loop *flow.Node, item string, order int) (*flow.Node, error) {
	for _, s := range w.g.ScreensUnder(loop.ID) {
		if s.Screen.Order <= order || (w.root != nil && !w.g.IsAncestor(w.root.ID, s.ID)) {
			continue
		}
		ok, err := w.routable(s, item)
		if err != nil {
			return nil, err
		}
		if ok {
			return s, nil
		}
	}
	return nil, nil
}

// routable: available, and either routed automatically or a knockout.
func (w *walk) routable(s *flow.Node, item string) (bool, error) {
	if !s.Screen.RouteAutomatically && !s.Screen.IsKnockout {
		return false, nil
	}
	ok, err := w.g.IsAvailable(s.ID, w.ev, w.r, item)
	if err != nil {
		return false, fmt.Errorf("availability of %s: %w", s.FullRoute, err)
	}
	return ok, nil
}

func (w *walk) itemDone(loop *flow.Node, item string) (bool, error) {
	if loop.Loop.Completed == nil {
		return false, nil
	}
	ok, err := w.ev.Holds(loop.Loop.Completed, w.r, item)
	if err != nil {
		return false, fmt.Errorf("completion of loop %s: %w", loop.Loop.Name, err)
	}
	return ok, nil
}

// arrive turns the chosen screen into a destination, stopping at data views
// where the filer is leaving the section they came from.
func (w *walk) arrive(from, s *flow.Node, item string) Destination {
	if s.Screen.IsKnockout {
		return w.screen(KindKnockout, s, item)
	}
	if from == nil {
		return w.screen(KindScreen, s, item)
	}

	if w.review && s.SubSubcategory != from.SubSubcategory {
		if from.Screen.ActAsDataView {
			return checklist()
		}
		sub := w.g.Node(from.Subcategory)
		fragment := ""
		if ssc := w.g.Node(from.SubSubcategory); ssc != nil {
			fragment = ssc.Route
		}
		if sub != nil {
			return w.dataView(sub, item, fragment)
		}
	}
	if w.returnToDataView && s.Subcategory != from.Subcategory {
		if sub := w.g.Node(from.Subcategory); sub != nil {
			return w.dataView(sub, item, "")
		}
	}
	return w.screen(KindScreen, s, item)
}

func (w *walk) screen(kind Kind, s *flow.Node, item string) Destination {
	d := Destination{
		Kind:   kind,
		Screen: s,
		Route:  flow.FullRoute(s, item, flow.RouteOptions{ReviewMode: w.review}),
	}
	if !s.Scope().IsZero() {
		d.ItemID = item
	}
	return d
}

// rotateAfter lists the items after id followed by those before it.
func rotateAfter(items []string, id string) []string {
	for i, it := range items {
		if it == id {
			out := append([]string(nil), items[i+1:]...)
			return append(out, items[:i]...)
		}
	}
	return items
}

func itemsAfter(items []string, id string) []string {
	for i, it := range items {
		if it == id {
			return items[i+1:]
		}
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
