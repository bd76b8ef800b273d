// Package metrics exposes halirc runtime counters in Prometheus format.
//
// Metrics owns a private registry so tests and multiple instances never
// collide on the global default registry. The API server mounts Handler at
// /metrics.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "halirc"

// Result label values.
const (
	ResultOK      = "ok"
	ResultTimeout = "timeout"
	ResultError   = "error"
)

// Metrics holds every halirc collector.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	pacingWait      *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	eventsTotal     *prometheus.CounterVec
	actionsTotal    *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	dispatchPending prometheus.Gauge
	journalDropped  prometheus.Counter
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "requests_total",
			Help:      "Device requests finished, by result",
		}, []string{"device", "result"}),

		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "request_duration_seconds",
			Help:      "Time from first send to answer or failure",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"device"}),

		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "retries_total",
			Help:      "Resends after a request timed out",
		}, []string{"device"}),

		pacingWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "pacing_wait_seconds",
			Help:      "Delay imposed by per-device pacing before a send",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"device"}),

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "queue_depth",
			Help:      "Requests waiting in a device queue",
		}, []string{"device"}),

		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hal",
			Name:      "events_total",
			Help:      "Events routed through trigger matching",
		}, []string{"source"}),

		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hal",
			Name:      "actions_total",
			Help:      "Actions finished by the dispatcher, by result",
		}, []string{"result"}),

		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hal",
			Name:      "action_duration_seconds",
			Help:      "Time an action ran",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"action"}),

		dispatchPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hal",
			Name:      "dispatcher_pending",
			Help:      "Occurrences waiting behind the running action",
		}),

		journalDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "dropped_total",
			Help:      "Journal entries lost to a full buffer",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestLatency,
		m.retriesTotal,
		m.pacingWait,
		m.queueDepth,
		m.eventsTotal,
		m.actionsTotal,
		m.actionDuration,
		m.dispatchPending,
		m.journalDropped,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Result maps an error to a result label. timeout is reported by
// isTimeout so this package does not depend on the device package.
func Result(err error, isTimeout func(error) bool) string {
	switch {
	case err == nil:
		return ResultOK
	case isTimeout != nil && isTimeout(err):
		return ResultTimeout
	default:
		return ResultError
	}
}

// ObserveRequest records a finished device request.
func (m *Metrics) ObserveRequest(device, result string, latency time.Duration, retries int) {
	m.requestsTotal.WithLabelValues(device, result).Inc()
	m.requestLatency.WithLabelValues(device).Observe(latency.Seconds())
	if retries > 0 {
		m.retriesTotal.WithLabelValues(device).Add(float64(retries))
	}
}

// ObservePacing records a pacing delay.
func (m *Metrics) ObservePacing(device string, wait time.Duration) {
	m.pacingWait.WithLabelValues(device).Observe(wait.Seconds())
}

// SetQueueDepth sets the number of waiting requests of device.
func (m *Metrics) SetQueueDepth(device string, n int) {
	m.queueDepth.WithLabelValues(device).Set(float64(n))
}

// ObserveEvent counts an event from source.
func (m *Metrics) ObserveEvent(source string) {
	m.eventsTotal.WithLabelValues(source).Inc()
}

// ObserveAction records a finished action.
func (m *Metrics) ObserveAction(name string, d time.Duration, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.actionsTotal.WithLabelValues(result).Inc()
	m.actionDuration.WithLabelValues(name).Observe(d.Seconds())
}

// SetDispatcherPending sets the dispatcher queue length.
func (m *Metrics) SetDispatcherPending(n int) {
	m.dispatchPending.Set(float64(n))
}

// AddJournalDropped adds n lost journal entries.
func (m *Metrics) AddJournalDropped(n uint64) {
	if n > 0 {
		m.journalDropped.Add(float64(n))
	}
}

// ErrUnknownMetric is returned by Value for a family that is not registered
// or has no samples yet.
var ErrUnknownMetric = errors.New("metrics: unknown metric")

// Value gathers the registry and returns the sum of all samples of the
// named family whose labels include every pair in labels. Counters and
// gauges report their value, histograms their sample count.
func (m *Metrics) Value(name string, labels map[string]string) (float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return 0, err
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range mf.GetMetric() {
			if !hasLabels(metric.GetLabel(), labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				total += metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				total += float64(metric.GetHistogram().GetSampleCount())
			}
		}
		return total, nil
	}
	return 0, ErrUnknownMetric
}
