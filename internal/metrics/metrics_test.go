package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.UnitDone(ResultChanged)
	m.UnitDone(ResultChanged)
	m.UnitDone(ResultFailed)
	m.RecordChanged("created")
	m.FetchFailed("github")
	m.ObserveRun(3 * time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.units.WithLabelValues(ResultChanged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.units.WithLabelValues(ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordChanges.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchErrors.WithLabelValues("github")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.runDuration))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordChanged("deleted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `reposync_record_changes_total{action="deleted"} 1`)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.UnitDone(ResultUnchanged)
		m.RecordChanged("updated")
		m.FetchFailed("yml_remote")
		m.ObserveRun(time.Second)
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
