package factgraph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoPersister is returned by Save when the graph was built without one.
var ErrNoPersister = errors.New("fact graph has no persister")

// Result is the outcome of reading one fact.
// HasValue without Complete means a placeholder value.
type Result struct {
	Complete bool   `json:"complete"`
	HasValue bool   `json:"hasValue"`
	Value    any    `json:"value,omitempty"`
	TypeName string `json:"typeName,omitempty"`
}

// Reader is the read side of the fact store. All evaluation runs against a
// Reader so that one navigation or projection sees a single consistent state.
type Reader interface {
	Get(path ConcretePath) Result
	Items(collection ConcretePath) []string
	Dictionary() *Dictionary
}

// Persister stores the writable state of a return.
type Persister interface {
	Save(ctx context.Context, returnID string, state *State) error
}

// State is the persisted, writable part of a fact graph.
type State struct {
	Facts       map[ConcretePath]any      `json:"facts"`
	Collections map[ConcretePath][]string `json:"collections"`
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		Facts:       make(map[ConcretePath]any),
		Collections: make(map[ConcretePath][]string),
	}
}

func (s *State) clone() *State {
	out := NewState()
	for k, v := range s.Facts {
		out.Facts[k] = v
	}
	for k, v := range s.Collections {
		out.Collections[k] = append([]string(nil), v...)
	}
	return out
}

func (s *State) hasItem(coll ConcretePath, id string) bool {
	for _, it := range s.Collections[coll] {
		if it == id {
			return true
		}
	}
	return false
}

// Graph is a mutable fact store. Writes go through Apply and are committed
// all-or-nothing; readers take a Snapshot.
type Graph struct {
	mu        sync.RWMutex
	dict      *Dictionary
	state     *State
	snap      *Snapshot
	log       *zap.Logger
	persister Persister
	returnID  string
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger used for derivation warnings.
func WithLogger(l *zap.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.log = l
		}
	}
}

// WithPersister sets the backend used by Save.
func WithPersister(p Persister, returnID string) Option {
	return func(g *Graph) {
		g.persister = p
		g.returnID = returnID
	}
}

// New creates an empty graph over dict.
func New(dict *Dictionary, opts ...Option) *Graph {
	g := &Graph{dict: dict, state: NewState(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	g.snap = g.commit(g.state)
	return g
}

// Restore rebuilds a graph from persisted state, validating every value.
func Restore(dict *Dictionary, state *State, opts ...Option) (*Graph, error) {
	g := New(dict, opts...)
	if state == nil {
		return g, nil
	}
	err := g.Apply(func(tx *Tx) error {
		colls := make([]string, 0, len(state.Collections))
		for c := range state.Collections {
			colls = append(colls, string(c))
		}
		sort.Strings(colls)
		for _, c := range colls {
			for _, id := range state.Collections[ConcretePath(c)] {
				if err := tx.AddItem(ConcretePath(c), id); err != nil {
					return err
				}
			}
		}
		for path, v := range state.Facts {
			if err := tx.Set(path, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("restore fact graph: %w", err)
	}
	return g, nil
}

// Dictionary returns the fact definitions.
func (g *Graph) Dictionary() *Dictionary { return g.dict }

// Snapshot returns the current immutable view.
func (g *Graph) Snapshot() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snap
}

// Get reads one fact from the current snapshot.
func (g *Graph) Get(path ConcretePath) Result { return g.Snapshot().Get(path) }

// Items lists collection item ids in order.
func (g *Graph) Items(collection ConcretePath) []string { return g.Snapshot().Items(collection) }

// Set writes a single writable fact.
func (g *Graph) Set(path ConcretePath, value any) error {
	return g.Apply(func(tx *Tx) error { return tx.Set(path, value) })
}

// Delete clears writable facts.
func (g *Graph) Delete(paths ...ConcretePath) error {
	return g.Apply(func(tx *Tx) error { return tx.Delete(paths...) })
}

// AddItem appends an item to a collection.
func (g *Graph) AddItem(collection ConcretePath, id string) error {
	return g.Apply(func(tx *Tx) error { return tx.AddItem(collection, id) })
}

// NewItem appends a fresh UUID item to a collection and returns its id.
func (g *Graph) NewItem(collection ConcretePath) (string, error) {
	var id string
	err := g.Apply(func(tx *Tx) error {
		var err error
		id, err = tx.NewItem(collection)
		return err
	})
	return id, err
}

// RemoveItem removes an item and every fact scoped to it.
func (g *Graph) RemoveItem(collection ConcretePath, id string) error {
	return g.Apply(func(tx *Tx) error { return tx.RemoveItem(collection, id) })
}

// Apply runs fn against a working copy of the state. If fn returns an error
// nothing is committed; otherwise derived facts are recomputed once and a new
// snapshot is published.
func (g *Graph) Apply(fn func(*Tx) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx := &Tx{dict: g.dict, state: g.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	g.state = tx.state
	g.snap = g.commit(g.state)
	return nil
}

func (g *Graph) commit(state *State) *Snapshot {
	snap := newSnapshot(g.dict, state)
	for _, w := range snap.warnings {
		g.log.Warn("derived fact warning", zap.String("path", string(w.Path)), zap.String("message", w.Message))
	}
	return snap
}

// Save persists the writable state through the configured Persister.
func (g *Graph) Save(ctx context.Context) error {
	if g.persister == nil {
		return ErrNoPersister
	}
	state := g.Snapshot().State()
	if err := g.persister.Save(ctx, g.returnID, state); err != nil {
		return fmt.Errorf("save return %s: %w", g.returnID, err)
	}
	return nil
}

// Tx stages writes inside Apply.
type Tx struct {
	dict  *Dictionary
	state *State
}

// Set validates and stages a writable value.
func (tx *Tx) Set(path ConcretePath, value any) error {
	def, err := tx.writable(path)
	if err != nil {
		return err
	}
	v, err := validateValue(def, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	tx.state.Facts[path] = v
	return nil
}

// Delete removes staged values; unknown or derived paths are errors.
func (tx *Tx) Delete(paths ...ConcretePath) error {
	for _, path := range paths {
		def, ok := tx.dict.LookupConcrete(path)
		if !ok {
			return fmt.Errorf("delete %s: %w", path, ErrUnknownFact)
		}
		if !def.Writable {
			return fmt.Errorf("delete %s: %w", path, ErrNotWritable)
		}
		delete(tx.state.Facts, path)
	}
	return nil
}

// AddItem appends id to a collection.
func (tx *Tx) AddItem(collection ConcretePath, id string) error {
	if err := tx.collection(collection); err != nil {
		return err
	}
	if id == "" || strings.ContainsAny(id, "/#*") {
		return fmt.Errorf("add item %q to %s: %w", id, collection, ErrInvalidValue)
	}
	if tx.state.hasItem(collection, id) {
		return fmt.Errorf("add item %s to %s: %w: duplicate id", id, collection, ErrInvalidValue)
	}
	tx.state.Collections[collection] = append(tx.state.Collections[collection], id)
	return nil
}

// NewItem appends a generated UUID item.
func (tx *Tx) NewItem(collection ConcretePath) (string, error) {
	id := uuid.NewString()
	if err := tx.AddItem(collection, id); err != nil {
		return "", err
	}
	return id, nil
}

// RemoveItem drops an item and clears facts scoped to it.
func (tx *Tx) RemoveItem(collection ConcretePath, id string) error {
	if err := tx.collection(collection); err != nil {
		return err
	}
	items := tx.state.Collections[collection]
	idx := -1
	for i, it := range items {
		if it == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("remove %s from %s: %w", id, collection, ErrUnknownItem)
	}
	tx.state.Collections[collection] = append(items[:idx:idx], items[idx+1:]...)

	prefix := string(collection) + "/#" + id + "/"
	for path := range tx.state.Facts {
		if strings.HasPrefix(string(path), prefix) {
			delete(tx.state.Facts, path)
		}
	}
	return nil
}

// Get reads through the staged state, including recomputed derived facts.
func (tx *Tx) Get(path ConcretePath) Result {
	return newVM(tx.dict, tx.state).lookup(path)
}

func (tx *Tx) writable(path ConcretePath) (*FactDef, error) {
	def, ok := tx.dict.LookupConcrete(path)
	if !ok {
		return nil, fmt.Errorf("set %s: %w", path, ErrUnknownFact)
	}
	if !def.Writable || def.IsDerived() || def.Type == TypeCollection {
		return nil, fmt.Errorf("set %s: %w", path, ErrNotWritable)
	}
	if coll, id, scoped := path.Collection(); scoped && !tx.state.hasItem(coll, id) {
		return nil, fmt.Errorf("set %s: %w %s", path, ErrUnknownItem, id)
	}
	return def, nil
}

func (tx *Tx) collection(path ConcretePath) error {
	def, ok := tx.dict.LookupConcrete(path)
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrUnknownFact)
	}
	if def.Type != TypeCollection {
		return fmt.Errorf("%s: %w", path, ErrNotCollection)
	}
	return nil
}

// Snapshot is an immutable view of a committed state with every derived
// fact computed. It is safe for concurrent readers.
type Snapshot struct {
	dict     *Dictionary
	state    *State
	derived  map[ConcretePath]Result
	warnings []Warning
}

// NewSnapshot evaluates state without a Graph, e.g. for request-scoped reads.
func NewSnapshot(dict *Dictionary, state *State) *Snapshot {
	if state == nil {
		state = NewState()
	}
	return newSnapshot(dict, state.clone())
}

func newSnapshot(dict *Dictionary, state *State) *Snapshot {
	e := newVM(dict, state)
	for _, def := range dict.order {
		if !def.IsDerived() {
			continue
		}
		if !def.path.IsAbstract() {
			e.lookup(def.path.MustBind())
			continue
		}
		coll := def.path.CollectionPath().MustBind()
		for _, id := range state.Collections[coll] {
			c, err := def.path.Bind(id)
			if err != nil {
				continue
			}
			e.lookup(c)
		}
	}
	return &Snapshot{dict: dict, state: state, derived: e.memo, warnings: e.warnings}
}

// Get reads one fact.
func (s *Snapshot) Get(path ConcretePath) Result {
	def, ok := s.dict.LookupConcrete(path)
	if !ok {
		return Result{}
	}
	if def.IsDerived() {
		if r, ok := s.derived[path]; ok {
			return r
		}
		return Result{TypeName: string(def.Type)}
	}
	return newVM(s.dict, s.state).lookup(path)
}

// Items lists the item ids of a collection in insertion order.
func (s *Snapshot) Items(collection ConcretePath) []string {
	return append([]string(nil), s.state.Collections[collection]...)
}

// Dictionary returns the fact definitions.
func (s *Snapshot) Dictionary() *Dictionary { return s.dict }

// Warnings lists problems met while computing derived facts.
func (s *Snapshot) Warnings() []Warning { return append([]Warning(nil), s.warnings...) }

// State returns a copy of the writable state.
func (s *Snapshot) State() *State { return s.state.clone() }
