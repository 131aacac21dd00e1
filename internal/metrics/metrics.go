// Package metrics holds the prometheus collectors for task waiting and wizard
// completion. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Settlement results used as the "result" label.
const (
	ResultResolved  = "resolved"
	ResultFailed    = "failed"
	ResultTransport = "transport_error"
	ResultTimeout   = "timeout"
	ResultAbandoned = "abandoned"
)

// Metrics groups the collectors registered by New.
type Metrics struct {
	tasksAwaited   prometheus.Counter
	tasksSettled   *prometheus.CounterVec
	tasksPending   prometheus.Gauge
	taskWait       prometheus.Histogram
	wizardFinishes *prometheus.CounterVec
	apiRequests    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksAwaited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consolewiz",
			Name:      "tasks_awaited_total",
			Help:      "Task ids registered with the waiter.",
		}),
		tasksSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consolewiz",
			Name:      "tasks_settled_total",
			Help:      "Awaited tasks by settlement result.",
		}, []string{"result"}),
		tasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consolewiz",
			Name:      "tasks_pending",
			Help:      "Task ids currently awaiting an outcome.",
		}),
		taskWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "consolewiz",
			Name:      "task_wait_seconds",
			Help:      "Time between registering a task id and its settlement.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		}),
		wizardFinishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consolewiz",
			Name:      "wizard_finish_total",
			Help:      "Wizard finish outcomes.",
		}, []string{"wizard", "result"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consolewiz",
			Name:      "api_requests_total",
			Help:      "Backend API requests by method and status.",
		}, []string{"method", "status"}),
	}
	reg.MustRegister(m.tasksAwaited, m.tasksSettled, m.tasksPending, m.taskWait, m.wizardFinishes, m.apiRequests)
	return m
}

// TaskAwaited records a newly registered task id.
func (m *Metrics) TaskAwaited() {
	if m == nil {
		return
	}
	m.tasksAwaited.Inc()
	m.tasksPending.Inc()
}

// TaskSettled records the settlement of a registered task id.
func (m *Metrics) TaskSettled(result string, waited time.Duration) {
	if m == nil {
		return
	}
	m.tasksSettled.WithLabelValues(result).Inc()
	m.tasksPending.Dec()
	m.taskWait.Observe(waited.Seconds())
}

// WizardFinished records a wizard finish outcome.
func (m *Metrics) WizardFinished(wizard string, success bool) {
	if m == nil {
		return
	}
	result := ResultResolved
	if !success {
		result = ResultFailed
	}
	m.wizardFinishes.WithLabelValues(wizard, result).Inc()
}

// APIRequest records a backend request. status is the HTTP status text or
// "error" when no response arrived.
func (m *Metrics) APIRequest(method, status string) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, status).Inc()
}

// Handler serves the collectors gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
