package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dlovans/taxflow/internal/engine"
	"github.com/dlovans/taxflow/internal/flowtest"
	"github.com/dlovans/taxflow/internal/metrics"
	"github.com/dlovans/taxflow/internal/server"
	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/navigate"
	"github.com/dlovans/taxflow/pkg/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newEngine(t *testing.T, strict bool) *engine.Engine {
	t.Helper()
	e, err := engine.FromSources(engine.Sources{
		Dictionary: flowtest.DictionaryYAML(),
		Flow:       flowtest.FlowChunks(),
	}, engine.Options{Strict: strict})
	require.NoError(t, err)
	return e
}

func newStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.Open(store.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// do sends body as JSON and decodes the response into out when it is not nil.
func do(t *testing.T, h http.Handler, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func aboutYouState() *factgraph.State {
	return &factgraph.State{Facts: map[factgraph.ConcretePath]any{
		"/filingStatus":    "single",
		"/livesAbroad":     false,
		"/primaryFilerTin": "123-45-6789",
	}}
}

func TestHealth(t *testing.T) {
	srv := server.New(newEngine(t, true))

	var got map[string]any
	code := do(t, srv.Handler(), http.MethodGet, "/healthz", nil, &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", got["status"])
	assert.EqualValues(t, 3, got["files"])
}

func TestNext(t *testing.T) {
	srv := server.New(newEngine(t, true))

	tests := []struct {
		name     string
		req      server.Request
		wantCode int
		wantKind navigate.Kind
		route    string
		terminal bool
	}{
		{
			name:     "linear",
			req:      server.Request{Route: flowtest.RouteAboutYouIntro},
			wantCode: http.StatusOK,
			wantKind: navigate.KindScreen,
			route:    flowtest.RouteFilingStatus,
		},
		{
			name: "knockout",
			req: server.Request{
				Route: flowtest.RouteLivesAbroad,
				State: &factgraph.State{Facts: map[factgraph.ConcretePath]any{"/livesAbroad": true}},
			},
			wantCode: http.StatusOK,
			wantKind: navigate.KindKnockout,
			route:    flowtest.RouteLivesAbroadKO,
			terminal: true,
		},
		{
			name:     "unknown route in strict mode",
			req:      server.Request{Route: "/flow/nowhere/at/all"},
			wantCode: http.StatusNotFound,
		},
		{
			name:     "missing route",
			req:      server.Request{},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "invalid fact value",
			req: server.Request{
				Route: flowtest.RouteAboutYouIntro,
				State: &factgraph.State{Facts: map[factgraph.ConcretePath]any{"/filingStatus": "complicated"}},
			},
			wantCode: http.StatusUnprocessableEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got struct {
				Kind     navigate.Kind `json:"kind"`
				Route    string        `json:"route"`
				Terminal bool          `json:"terminal"`
				Error    string        `json:"error"`
			}
			code := do(t, srv.Handler(), http.MethodPost, "/v1/next", tt.req, &got)
			require.Equal(t, tt.wantCode, code, got.Error)
			if code != http.StatusOK {
				assert.NotEmpty(t, got.Error)
				return
			}
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.route, got.Route)
			assert.Equal(t, tt.terminal, got.Terminal)
		})
	}
}

func TestNextFallsBackOutsideStrictMode(t *testing.T) {
	srv := server.New(newEngine(t, false))

	var got navigate.Destination
	code := do(t, srv.Handler(), http.MethodPost, "/v1/next", server.Request{Route: "/flow/nowhere/at/all"}, &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, navigate.KindChecklist, got.Kind)
	assert.Equal(t, navigate.ChecklistRoute, got.Route)
}

func TestFirstAndIncomplete(t *testing.T) {
	srv := server.New(newEngine(t, true))

	var first navigate.Destination
	code := do(t, srv.Handler(), http.MethodPost, "/v1/first",
		server.Request{Route: flowtest.SubcategoryAboutYou}, &first)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, flowtest.RouteAboutYouIntro, first.Route)

	var incomplete server.IncompleteResponse
	code = do(t, srv.Handler(), http.MethodPost, "/v1/incomplete",
		server.Request{Route: flowtest.SubcategoryAboutYou}, &incomplete)
	require.Equal(t, http.StatusOK, code)
	require.True(t, incomplete.Found)
	assert.Equal(t, flowtest.RouteFilingStatus, incomplete.Destination.Route)

	incomplete = server.IncompleteResponse{}
	code = do(t, srv.Handler(), http.MethodPost, "/v1/incomplete",
		server.Request{Route: flowtest.SubcategoryAboutYou, State: aboutYouState()}, &incomplete)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, incomplete.Found)
	assert.Nil(t, incomplete.Destination)
}

func TestDataView(t *testing.T) {
	srv := server.New(newEngine(t, true))

	var got server.DataViewResponse
	code := do(t, srv.Handler(), http.MethodPost, "/v1/dataview",
		server.Request{Route: "/data-view" + flowtest.SubcategoryAboutYou, State: aboutYouState()}, &got)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, got.Sections)

	values := make(map[factgraph.ConcretePath]any)
	for _, sec := range got.Sections {
		for _, f := range sec.Facts {
			values[f.Path] = f.Value
		}
	}
	assert.Equal(t, "single", values["/filingStatus"])
	assert.Equal(t, "123456789", values["/primaryFilerTin"], "stored digits only")

	var failed map[string]string
	code = do(t, srv.Handler(), http.MethodPost, "/v1/dataview",
		server.Request{Route: "/flow/income/nothing-here"}, &failed)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, failed["error"])
}

func TestLoopDataView(t *testing.T) {
	srv := server.New(newEngine(t, true))
	state := &factgraph.State{
		Facts: map[factgraph.ConcretePath]any{
			"/hasW2s": true,
			factgraph.ConcretePath("/formW2s/#" + flowtest.W2A + "/employerName"): "Acme Tools",
		},
		Collections: map[factgraph.ConcretePath][]string{"/formW2s": {flowtest.W2A}},
	}

	var got server.DataViewResponse
	code := do(t, srv.Handler(), http.MethodPost, "/v1/dataview",
		server.Request{Route: "/data-view/loop/w2s/" + flowtest.W2A, State: state}, &got)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, got.Sections)
	for _, sec := range got.Sections {
		assert.Equal(t, flowtest.W2A, sec.ItemID)
	}

	var failed map[string]string
	code = do(t, srv.Handler(), http.MethodPost, "/v1/dataview",
		server.Request{Route: "/data-view/loop/1099s/" + flowtest.W2A, State: state}, &failed)
	assert.Equal(t, http.StatusNotFound, code)

	code = do(t, srv.Handler(), http.MethodPost, "/v1/dataview",
		server.Request{Route: "/data-view/loop/w2s", State: state}, &failed)
	assert.Equal(t, http.StatusUnprocessableEntity, code, "no item")
}

func TestChecklist(t *testing.T) {
	srv := server.New(newEngine(t, true))

	var got server.ChecklistResponse
	code := do(t, srv.Handler(), http.MethodPost, "/v1/checklist", server.Request{State: aboutYouState()}, &got)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, got.Categories, 3)
	aboutYou := got.Categories[0].Subcategories[0]
	assert.True(t, aboutYou.IsComplete)
	assert.True(t, got.Categories[1].Subcategories[0].IsNext)

	got = server.ChecklistResponse{}
	code = do(t, srv.Handler(), http.MethodPost, "/v1/checklist",
		map[string]any{"excludedCategories": []string{}}, &got)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, got.Categories, 4, "an empty exclusion list shows knockouts")
}

func TestVerify(t *testing.T) {
	e := newEngine(t, true)
	srv := server.New(e)

	g, err := e.Restore(&factgraph.State{
		Facts:       map[factgraph.ConcretePath]any{"/formW2s/#" + flowtest.W2A + "/writableWages": 1200},
		Collections: map[factgraph.ConcretePath][]string{"/formW2s": {flowtest.W2A}},
	})
	require.NoError(t, err)
	doc := factgraph.Export(g.Snapshot())

	var got server.VerifyResponse
	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodPost, "/v1/verify", doc, &got))
	assert.True(t, got.Valid, got.Error)

	doc.Derived["/totalWages"] = 999999.0
	got = server.VerifyResponse{}
	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodPost, "/v1/verify", doc, &got))
	assert.False(t, got.Valid)
	require.NotEmpty(t, got.Mismatches)
	assert.Equal(t, factgraph.ConcretePath("/totalWages"), got.Mismatches[0].Path)
}

func TestReturns(t *testing.T) {
	srv := server.New(newEngine(t, true),
		server.WithStore(newStore(t)),
		server.WithIDGenerator(func() string { return "return-1" }))
	h := srv.Handler()

	var created server.ReturnResponse
	code := do(t, h, http.MethodPost, "/v1/returns", map[string]any{"state": aboutYouState()}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "return-1", created.ReturnID)
	assert.Equal(t, "123456789", created.State.Facts["/primaryFilerTin"], "stored normalized")

	// evaluation endpoints can name a stored return
	var cl server.ChecklistResponse
	code = do(t, h, http.MethodPost, "/v1/checklist", server.Request{ReturnID: "return-1"}, &cl)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, cl.Categories[0].Subcategories[0].IsComplete)

	var list map[string][]string
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/returns", nil, &list))
	assert.Equal(t, []string{"return-1"}, list["returns"])

	state := aboutYouState()
	state.Facts["/hasW2s"] = true
	var updated server.ReturnResponse
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/v1/returns/return-1", map[string]any{"state": state}, &updated))
	assert.Equal(t, true, updated.State.Facts["/hasW2s"])

	var loaded server.ReturnResponse
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/returns/return-1", nil, &loaded))
	assert.Equal(t, true, loaded.State.Facts["/hasW2s"])

	var rejected map[string]string
	code = do(t, h, http.MethodPut, "/v1/returns/return-1",
		map[string]any{"state": map[string]any{"facts": map[string]any{"/totalWages": 5}}}, &rejected)
	assert.Equal(t, http.StatusUnprocessableEntity, code, "derived facts are not writable")

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/v1/returns/return-1", nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/returns/return-1", nil, &rejected))
	assert.Equal(t, http.StatusNotFound,
		do(t, h, http.MethodPost, "/v1/checklist", server.Request{ReturnID: "return-1"}, &rejected))
}

func TestReturnsRequireStore(t *testing.T) {
	srv := server.New(newEngine(t, true))
	var got map[string]string
	assert.Equal(t, http.StatusNotImplemented, do(t, srv.Handler(), http.MethodGet, "/v1/returns", nil, &got))
	assert.Equal(t, http.StatusNotImplemented,
		do(t, srv.Handler(), http.MethodPost, "/v1/checklist", server.Request{ReturnID: "x"}, &got))
}

func TestRejectsMalformedBodies(t *testing.T) {
	srv := server.New(newEngine(t, true))

	for _, body := range []string{`{`, `{"route": 5}`, `{"unknownField": true}`} {
		t.Run(body, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/next", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	var got map[string]string
	code := do(t, srv.Handler(), http.MethodPost, "/v1/next",
		server.Request{Route: flowtest.RouteAboutYouIntro, ReturnID: "x", State: aboutYouState()}, &got)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReload(t *testing.T) {
	m := metrics.New()
	first := newEngine(t, true)
	srv := server.New(first, server.WithMetrics(m))

	err := srv.Reload(func() (*engine.Engine, error) { return nil, errors.New("duplicate route") })
	assert.Error(t, err)
	assert.Same(t, first, srv.Engine(), "a failed reload keeps the current flow")

	second := newEngine(t, true)
	require.NoError(t, srv.Reload(func() (*engine.Engine, error) { return second, nil }))
	assert.Same(t, second, srv.Engine())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `taxflow_flow_reloads_total{result="error"} 1`)
	assert.Contains(t, rec.Body.String(), `taxflow_flow_reloads_total{result="ok"} 1`)
}

func TestListenAndServe(t *testing.T) {
	srv := server.New(newEngine(t, true))

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0", time.Second, ready) }()

	addr := <-ready
	client := &http.Client{Transport: &http.Transport{}}
	resp, err := client.Get(fmt.Sprintf("http://%s/healthz", addr))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	client.CloseIdleConnections()

	cancel()
	require.NoError(t, <-done)
}
