package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlovans/taxflow/pkg/navigate"
)

func TestObserveNavigation(t *testing.T) {
	m := New()
	m.ObserveNavigation(navigate.KindScreen, time.Millisecond)
	m.ObserveNavigation(navigate.KindScreen, 2*time.Millisecond)
	m.ObserveNavigation(navigate.KindChecklist, time.Millisecond)
	m.ObserveConfigError(errors.New("unknown route"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.navigations.WithLabelValues("screen")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.navigations.WithLabelValues("checklist")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.configErrors))
	assert.Equal(t, 1, testutil.CollectAndCount(m.latency))
}

func TestObserveReload(t *testing.T) {
	m := New()
	m.ObserveReload(18, nil)
	m.ObserveReload(0, errors.New("duplicate route"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues("error")))
	assert.Equal(t, 18.0, testutil.ToFloat64(m.flowScreens), "a failed reload keeps the last size")
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveNavigation(navigate.KindDataView, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `taxflow_navigations_total{outcome="dataView"} 1`), body)
	assert.Contains(t, body, "taxflow_navigation_seconds_bucket")
	assert.Contains(t, body, "go_goroutines")
}
