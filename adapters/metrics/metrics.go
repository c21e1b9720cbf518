// Package metrics provides Prometheus metrics collection for plume.
package metrics

import (
	"time"

	"github.com/artpar/plume/core/service"
	"github.com/artpar/plume/pkg/apperr"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the service layer.
// It implements service.Observer and realtime.PublishObserver.
type Collector struct {
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	EventsTotal  *prometheus.CounterVec
	EventTargets *prometheus.CounterVec
	Connections  prometheus.Gauge
}

// New creates a collector and registers its metrics with reg.
// Pass prometheus.DefaultRegisterer outside tests.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "plume",
				Name:      "service_calls_total",
				Help:      "Total service calls by service, method and outcome",
			},
			[]string{"service", "method", "status"},
		),
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "plume",
				Name:      "service_call_duration_seconds",
				Help:      "Service call duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"service", "method"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "plume",
				Name:      "events_published_total",
				Help:      "Total events published to channels",
			},
			[]string{"event"},
		),
		EventTargets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "plume",
				Name:      "event_recipients_total",
				Help:      "Total per-connection event deliveries",
			},
			[]string{"event"},
		),
		Connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "plume",
				Name:      "connections",
				Help:      "Live persistent connections",
			},
		),
	}

	reg.MustRegister(c.CallsTotal, c.CallDuration, c.EventsTotal, c.EventTargets, c.Connections)
	return c
}

// ObserveCall records one completed service call.
func (c *Collector) ObserveCall(svc string, method service.Method, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = apperr.KindOf(err).String()
	}
	c.CallsTotal.WithLabelValues(svc, string(method), status).Inc()
	c.CallDuration.WithLabelValues(svc, string(method)).Observe(d.Seconds())
}

// ObservePublish records one channel fan-out.
func (c *Collector) ObservePublish(event string, recipients int) {
	c.EventsTotal.WithLabelValues(event).Inc()
	c.EventTargets.WithLabelValues(event).Add(float64(recipients))
}

// ConnectionOpened increments the live connection gauge.
func (c *Collector) ConnectionOpened() {
	c.Connections.Inc()
}

// ConnectionClosed decrements the live connection gauge.
func (c *Collector) ConnectionClosed() {
	c.Connections.Dec()
}
