// Package metrics reports transport events to Prometheus.
package metrics

import (
	"time"

	"github.com/always-cache/fusion-client/httpclient"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements httpclient.Metrics with Prometheus collectors.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	sharedTotal     prometheus.Counter
	refreshesTotal  prometheus.Counter
}

var _ httpclient.Metrics = (*Metrics)(nil)

// New creates the collectors and registers them with registerer.
// The default registerer is used if registerer is nil.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusion_client_requests_total",
				Help: "The total number of HTTP requests sent, by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "fusion_client_request_duration_seconds",
				Help: "The HTTP request latencies in seconds",
			},
			[]string{"method"},
		),
		sharedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fusion_client_shared_requests_total",
			Help: "The total number of GET calls served by a shared in-flight request",
		}),
		refreshesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fusion_client_refreshes_total",
			Help: "The total number of background refresh requests started",
		}),
	}
	for _, collector := range []prometheus.Collector{m.requestsTotal, m.requestDuration, m.sharedTotal, m.refreshesTotal} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RequestCompleted(method, outcome string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, outcome).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) RequestShared() {
	m.sharedTotal.Inc()
}

func (m *Metrics) RefreshIssued() {
	m.refreshesTotal.Inc()
}
