// Package metrics exposes prometheus collectors for the game server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "geotrivia"

type Metrics struct {
	Registry *prometheus.Registry

	calls           *prometheus.CounterVec
	callDuration    *prometheus.HistogramVec
	sessionsDeleted prometheus.Counter
}

// New registers the collectors. sessions and connections report the live counts
// at scrape time.
func New(sessions, connections func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Client calls handled, by event and outcome.",
		}, []string{"event", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Time spent handling a client call.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 30},
		}, []string{"event"}),
		sessionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_deleted_total",
			Help:      "Sessions removed from the registry.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.calls,
		m.callDuration,
		m.sessionsDeleted,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live sessions.",
		}, func() float64 { return float64(sessions()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open client connections.",
		}, func() float64 { return float64(connections()) }),
	)
	return m
}

// ObserveCall records one handled call; an empty reason counts as "ok".
func (m *Metrics) ObserveCall(event, reason string, d time.Duration) {
	outcome := reason
	if outcome == "" {
		outcome = "ok"
	}
	m.calls.WithLabelValues(event, outcome).Inc()
	m.callDuration.WithLabelValues(event).Observe(d.Seconds())
}

// SessionDeleted is meant to be registered as a registry delete hook.
func (m *Metrics) SessionDeleted(string) {
	m.sessionsDeleted.Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
