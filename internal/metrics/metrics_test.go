package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_TaskLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TaskAwaited()
	m.TaskAwaited()
	m.TaskSettled(ResultResolved, 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasksAwaited))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksSettled.WithLabelValues(ResultResolved)))
}

func TestMetrics_Wizard(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.WizardFinished("add-vdisk", true)
	m.WizardFinished("add-vdisk", false)
	m.WizardFinished("add-vdisk", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.wizardFinishes.WithLabelValues("add-vdisk", ResultResolved)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.wizardFinishes.WithLabelValues("add-vdisk", ResultFailed)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TaskAwaited()
		m.TaskSettled(ResultTimeout, time.Second)
		m.WizardFinished("x", true)
		m.APIRequest("GET", "200")
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.APIRequest("POST", "200")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `consolewiz_api_requests_total{method="POST",status="200"} 1`)
}
