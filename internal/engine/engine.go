// Package engine assembles a runnable flow from configuration: the fact
// dictionary, the validated flow graph, signal sources, a navigator and a
// data-view projector over the same graph.
package engine

import (
	"bytes"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/dlovans/taxflow/internal/config"
	"github.com/dlovans/taxflow/pkg/checklist"
	"github.com/dlovans/taxflow/pkg/condition"
	"github.com/dlovans/taxflow/pkg/dataview"
	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/flow"
	"github.com/dlovans/taxflow/pkg/navigate"
)

// Engine is one immutable, loaded flow. Swap the whole value to reload.
type Engine struct {
	Dictionary *factgraph.Dictionary
	Graph      *flow.Graph
	Evaluator  *condition.Evaluator
	Navigator  *navigate.Navigator
	Projector  *dataview.Projector

	// Files lists the flow chunks the graph was built from.
	Files []string
}

// Options configures assembly.
type Options struct {
	Features         map[string]bool
	Signals          *condition.StaticSignals
	Strict           bool
	ReturnToDataView bool
	Logger           *zap.Logger
	Observer         navigate.Observer
}

// OptionsFromConfig maps the configuration onto assembly options.
func OptionsFromConfig(cfg *config.Config, log *zap.Logger, observer navigate.Observer) Options {
	return Options{
		Features:         cfg.Features,
		Strict:           cfg.Strict(),
		ReturnToDataView: cfg.ReturnToDataView(),
		Logger:           log,
		Observer:         observer,
	}
}

// New builds an engine from a loaded dictionary and flow document.
func New(dict *factgraph.Dictionary, doc *flow.Document, opts Options) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	g, err := flow.Build(doc, dict)
	if err != nil {
		return nil, err
	}

	static := opts.Signals
	if static == nil {
		// no data import has run: every section is unknown
		static = &condition.StaticSignals{Sections: map[string]map[string]condition.SignalValue{
			condition.SignalDataImport: {},
		}}
	}
	ev := &condition.Evaluator{Signals: condition.ChainSignals{
		condition.FeatureFlags(opts.Features),
		condition.SubmissionBlocking{},
		static,
	}}

	navOpts := []navigate.Option{
		navigate.WithLogger(log.Named("navigate")),
		navigate.WithStrict(opts.Strict),
		navigate.WithReturnToDataView(opts.ReturnToDataView),
	}
	if opts.Observer != nil {
		navOpts = append(navOpts, navigate.WithObserver(opts.Observer))
	}

	return &Engine{
		Dictionary: dict,
		Graph:      g,
		Evaluator:  ev,
		Navigator:  navigate.New(g, ev, navOpts...),
		Projector:  dataview.New(g, ev, dataview.WithLogger(log.Named("dataview"))),
	}, nil
}

// Sources is a flow held in memory, as shipped to a browser.
type Sources struct {
	Dictionary       []byte
	DictionaryFormat factgraph.Format
	// Flow maps chunk names to their contents; chunks merge in name order.
	Flow    map[string][]byte
	Signals []byte
}

// FromSources builds an engine without touching the file system.
func FromSources(src Sources, opts Options) (*Engine, error) {
	format := src.DictionaryFormat
	if format == "" {
		format = factgraph.FormatYAML
	}
	dict, err := factgraph.LoadDictionary(bytes.NewReader(src.Dictionary), format)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(src.Flow))
	for name := range src.Flow {
		names = append(names, name)
	}
	sort.Strings(names)
	docs := make([]*flow.Document, 0, len(names))
	for _, name := range names {
		doc, err := flow.Parse(src.Flow[name], factgraph.FormatOf(name), name)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	if len(src.Signals) > 0 && opts.Signals == nil {
		s, err := condition.LoadStaticSignals(bytes.NewReader(src.Signals))
		if err != nil {
			return nil, err
		}
		opts.Signals = s
	}

	e, err := New(dict, flow.Merge(docs...), opts)
	if err != nil {
		return nil, err
	}
	e.Files = names
	return e, nil
}

// Load reads the dictionary, flow chunks and signal profile named by cfg.
func Load(cfg *config.Config, opts Options) (*Engine, error) {
	dict, err := factgraph.LoadDictionaryFile(cfg.Flow.Dictionary)
	if err != nil {
		return nil, err
	}
	doc, files, err := flow.LoadGlob(cfg.Flow.Globs...)
	if err != nil {
		return nil, err
	}
	if cfg.Signals.File != "" && opts.Signals == nil {
		s, err := condition.LoadStaticSignalsFile(cfg.Signals.File)
		if err != nil {
			return nil, err
		}
		opts.Signals = s
	}

	e, err := New(dict, doc, opts)
	if err != nil {
		return nil, fmt.Errorf("build flow from %d files: %w", len(files), err)
	}
	e.Files = files

	if opts.Logger != nil {
		opts.Logger.Info("loaded flow",
			zap.Int("files", len(files)),
			zap.Int("screens", len(e.Graph.Screens())),
			zap.Int("facts", len(dict.Facts())))
	}
	return e, nil
}

// Restore rebuilds a fact graph for a return's stored state. A nil state is
// an empty return.
func (e *Engine) Restore(state *factgraph.State, opts ...factgraph.Option) (*factgraph.Graph, error) {
	return factgraph.Restore(e.Dictionary, state, opts...)
}

// Checklist builds the checklist of a return.
func (e *Engine) Checklist(r factgraph.Reader, opts checklist.Options) ([]checklist.Category, error) {
	return checklist.Build(e.Graph, e.Evaluator, r, opts)
}
