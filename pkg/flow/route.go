package flow

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	flowPrefix     = "/flow/"
	dataViewPrefix = "/data-view"
	loopViewPrefix = dataViewPrefix + "/loop/"
	reviewModeKey  = "reviewMode"
)

// RouteOptions modify rendered routes.
type RouteOptions struct {
	ReviewMode bool
}

// RouteRef is a parsed route string.
type RouteRef struct {
	Path       string // /flow/<category>/<subcategory>/<screen>
	Collection string // collection path bound by the query, e.g. /formW2s
	ItemID     string
	ReviewMode bool
}

// String renders the route with its query.
func (r RouteRef) String() string {
	var q []string
	if r.Collection != "" && r.ItemID != "" {
		q = append(q, r.Collection+"="+r.ItemID)
	}
	if r.ReviewMode {
		q = append(q, reviewModeKey+"=true")
	}
	if len(q) == 0 {
		return r.Path
	}
	return r.Path + "?" + strings.Join(q, "&")
}

// FullRoute renders the route to a node for an optional collection item,
// e.g. /flow/income/jobs/w2-wages?/formW2s=<uuid>&reviewMode=true.
// The item id is only emitted when the node is scoped to a collection.
func FullRoute(n *Node, itemID string, opts RouteOptions) string {
	ref := RouteRef{Path: n.FullRoute, ReviewMode: opts.ReviewMode}
	if !n.scope.IsZero() {
		ref.Collection = n.scope.String()
		ref.ItemID = itemID
	}
	return ref.String()
}

// DataViewRoute renders the summary route of a subcategory or subsubcategory.
func DataViewRoute(n *Node, itemID string) string {
	ref := RouteRef{Path: dataViewPrefix + n.FullRoute}
	if !n.scope.IsZero() {
		ref.Collection = n.scope.String()
		ref.ItemID = itemID
	}
	return ref.String()
}

// LoopDataViewRoute renders the summary route of one loop item,
// /data-view/loop/<loopName>/<itemID>.
func LoopDataViewRoute(loop *Node, itemID string) string {
	return loopViewPrefix + url.PathEscape(loop.Loop.Name) + "/" + url.PathEscape(itemID)
}

// ParseLoopDataViewRoute splits a route made by LoopDataViewRoute. ok is
// false for any other route; itemID is empty when the route names none.
func ParseLoopDataViewRoute(s string) (loopName, itemID string, ok bool) {
	rest, found := strings.CutPrefix(stripQuery(s), loopViewPrefix)
	if !found {
		return "", "", false
	}
	name, item, _ := strings.Cut(rest, "/")
	name, err := url.PathUnescape(name)
	if err != nil || name == "" {
		return "", "", false
	}
	if item, err = url.PathUnescape(item); err != nil {
		return "", "", false
	}
	return name, item, true
}

// ParseRoute parses a route produced by FullRoute.
func ParseRoute(s string) (RouteRef, error) {
	path, query, _ := strings.Cut(s, "?")
	if !strings.HasPrefix(path, flowPrefix) && !strings.HasPrefix(path, dataViewPrefix+flowPrefix) {
		return RouteRef{}, fmt.Errorf("%w: %q", ErrInvalidRoute, s)
	}
	ref := RouteRef{Path: strings.TrimSuffix(path, "/")}
	if query == "" {
		return ref, nil
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return RouteRef{}, fmt.Errorf("%w: %q: %v", ErrInvalidRoute, s, err)
	}
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		switch {
		case key == reviewModeKey:
			ref.ReviewMode = vals[0] == "true"
		case strings.HasPrefix(key, "/"):
			if ref.Collection != "" {
				return RouteRef{}, fmt.Errorf("%w: %q binds more than one collection", ErrInvalidRoute, s)
			}
			ref.Collection, ref.ItemID = key, vals[0]
		}
	}
	return ref, nil
}

func stripQuery(route string) string {
	path, _, _ := strings.Cut(route, "?")
	return strings.TrimSuffix(path, "/")
}
