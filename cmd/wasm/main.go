//go:build js && wasm

// Package main provides WASM bindings for the taxflow engine.
// A page loads its flow once with TaxflowLoad and then asks navigation,
// data view and checklist questions against the filer's current state.
package main

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"syscall/js"

	"github.com/dlovans/taxflow/internal/engine"
	"github.com/dlovans/taxflow/pkg/checklist"
	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/navigate"
)

// bundle is what TaxflowLoad accepts: the flow sources as strings.
type bundle struct {
	Dictionary       string            `json:"dictionary"`
	DictionaryFormat string            `json:"dictionaryFormat,omitempty"`
	Flow             map[string]string `json:"flow"`
	Signals          string            `json:"signals,omitempty"`
	Features         map[string]bool   `json:"features,omitempty"`
	ReturnToDataView bool              `json:"returnToDataView,omitempty"`
}

var (
	current   atomic.Pointer[engine.Engine]
	errNoFlow = errors.New("no flow loaded: call TaxflowLoad first")
)

func main() {
	js.Global().Set("TaxflowLoad", js.FuncOf(taxflowLoad))
	js.Global().Set("TaxflowNext", js.FuncOf(taxflowNext))
	js.Global().Set("TaxflowFirst", js.FuncOf(taxflowFirst))
	js.Global().Set("TaxflowDataView", js.FuncOf(taxflowDataView))
	js.Global().Set("TaxflowChecklist", js.FuncOf(taxflowChecklist))
	js.Global().Set("TaxflowVerify", js.FuncOf(taxflowVerify))

	// Keep the Go runtime alive
	select {}
}

// taxflowLoad builds the engine every other call uses.
// Usage: TaxflowLoad(bundleJson) -> { result: {files, screens}, error?: string }
func taxflowLoad(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return makeError("TaxflowLoad requires 1 argument: bundleJson")
	}
	var b bundle
	if err := json.Unmarshal([]byte(args[0].String()), &b); err != nil {
		return makeError("invalid bundle: " + err.Error())
	}

	src := engine.Sources{
		Dictionary:       []byte(b.Dictionary),
		DictionaryFormat: factgraph.Format(b.DictionaryFormat),
		Flow:             make(map[string][]byte, len(b.Flow)),
		Signals:          []byte(b.Signals),
	}
	for name, data := range b.Flow {
		src.Flow[name] = []byte(data)
	}
	// Browsers never fail a navigation; configuration errors fall back to
	// the checklist.
	e, err := engine.FromSources(src, engine.Options{
		Features:         b.Features,
		ReturnToDataView: b.ReturnToDataView,
	})
	if err != nil {
		return makeError(err.Error())
	}
	current.Store(e)
	return makeResult(map[string]any{
		"files":   e.Files,
		"screens": len(e.Graph.Screens()),
	})
}

// taxflowNext resolves where the filer goes after a screen.
// Usage: TaxflowNext(stateJson, route, itemId?) -> { result: destination, error?: string }
func taxflowNext(this js.Value, args []js.Value) any {
	return navigateWith(args, "TaxflowNext", func(e *engine.Engine, route, itemID string, snap *factgraph.Snapshot) (navigate.Destination, error) {
		return e.Navigator.NextScreen(route, itemID, snap)
	})
}

// taxflowFirst resolves the first visible screen under a route.
// Usage: TaxflowFirst(stateJson, route, itemId?) -> { result: destination, error?: string }
func taxflowFirst(this js.Value, args []js.Value) any {
	return navigateWith(args, "TaxflowFirst", func(e *engine.Engine, route, itemID string, snap *factgraph.Snapshot) (navigate.Destination, error) {
		return e.Navigator.FirstAvailable(route, itemID, snap)
	})
}

func navigateWith(args []js.Value, name string, fn func(*engine.Engine, string, string, *factgraph.Snapshot) (navigate.Destination, error)) any {
	if len(args) < 2 {
		return makeError(name + " requires 2 arguments: stateJson, route")
	}
	e, snap, err := restore(args[0])
	if err != nil {
		return makeError(err.Error())
	}
	d, err := fn(e, args[1].String(), optional(args, 2), snap)
	if err != nil {
		return makeError(err.Error())
	}
	return makeResult(map[string]any{
		"kind":     d.Kind,
		"route":    d.Route,
		"itemId":   d.ItemID,
		"terminal": d.Terminal(),
	})
}

// taxflowDataView projects a subcategory's answers.
// Usage: TaxflowDataView(stateJson, subcategoryRoute, itemId?) -> { result: sections, error?: string }
func taxflowDataView(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return makeError("TaxflowDataView requires 2 arguments: stateJson, subcategoryRoute")
	}
	e, snap, err := restore(args[0])
	if err != nil {
		return makeError(err.Error())
	}
	sections, err := e.Projector.ProjectSubcategory(args[1].String(), snap, optional(args, 2))
	if err != nil {
		return makeError(err.Error())
	}
	return makeResult(sections)
}

// taxflowChecklist computes the checklist without the knockout category.
// Usage: TaxflowChecklist(stateJson) -> { result: categories, error?: string }
func taxflowChecklist(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return makeError("TaxflowChecklist requires 1 argument: stateJson")
	}
	e, snap, err := restore(args[0])
	if err != nil {
		return makeError(err.Error())
	}
	cats, err := e.Checklist(snap, checklist.Options{})
	if err != nil {
		return makeError(err.Error())
	}
	return makeResult(cats)
}

// taxflowVerify replays an exported return's derivations.
// Usage: TaxflowVerify(documentJson) -> { valid: boolean, error?: string }
func taxflowVerify(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return makeError("TaxflowVerify requires 1 argument: documentJson")
	}
	e := current.Load()
	if e == nil {
		return makeError(errNoFlow.Error())
	}
	var doc factgraph.Document
	if err := json.Unmarshal([]byte(args[0].String()), &doc); err != nil {
		return makeError("invalid document: " + err.Error())
	}

	valid, err := factgraph.Verify(e.Dictionary, &doc)
	if err != nil {
		return map[string]any{
			"valid": false,
			"error": err.Error(),
		}
	}

	return map[string]any{
		"valid": valid,
	}
}

// restore rebuilds the filer's return from its state JSON. An empty string
// is an empty return.
func restore(v js.Value) (*engine.Engine, *factgraph.Snapshot, error) {
	e := current.Load()
	if e == nil {
		return nil, nil, errNoFlow
	}
	var state *factgraph.State
	if s := v.String(); s != "" {
		state = new(factgraph.State)
		if err := json.Unmarshal([]byte(s), state); err != nil {
			return nil, nil, errors.New("invalid state: " + err.Error())
		}
	}
	g, err := e.Restore(state)
	if err != nil {
		return nil, nil, err
	}
	return e, g.Snapshot(), nil
}

func optional(args []js.Value, i int) string {
	if i >= len(args) || args[i].IsUndefined() || args[i].IsNull() {
		return ""
	}
	return args[i].String()
}

// makeError creates a JS-friendly error response
func makeError(msg string) map[string]any {
	return map[string]any{
		"error": msg,
	}
}

// makeResult creates a JS-friendly success response. js.ValueOf only takes
// plain maps, slices and scalars, so v goes through JSON first.
func makeResult(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return makeError(err.Error())
	}
	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		return makeError(err.Error())
	}
	return map[string]any{
		"result": result,
	}
}
