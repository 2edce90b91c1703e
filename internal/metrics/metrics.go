// Package metrics exposes the process metrics on a private prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

const namespace = "switchboard"

type Metrics struct {
	ServiceStatus     *prometheus.GaugeVec
	ServiceFaults     *prometheus.CounterVec
	MessagesPublished *prometheus.CounterVec
	MessagesForwarded *prometheus.CounterVec
	RunnerErrors      *prometheus.CounterVec
	MQTTReconnects    *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
	ReconcileErrors   prometheus.Counter

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=faulted)",
			},
			[]string{"service", "type"},
		),
		ServiceFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "faults_total",
				Help:      "Total number of service loops that exited with an error",
			},
			[]string{"service"},
		),
		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "published_total",
				Help:      "Total number of messages a service stored in the router",
			},
			[]string{"service"},
		),
		MessagesForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "forwarded_total",
				Help:      "Total number of messages delivered to associated services",
			},
			[]string{"from", "to"},
		),
		RunnerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "errors_total",
				Help:      "Total number of transient I/O errors inside service loops",
			},
			[]string{"service", "op"},
		),
		MQTTReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mqtt",
				Name:      "reconnects_total",
				Help:      "Total number of automatic MQTT reconnects",
			},
			[]string{"service"},
		),
		ReconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "duration_seconds",
				Help:      "Reconcile duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ReconcileErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "errors_total",
				Help:      "Total number of reconciles that reported an error",
			},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.ServiceStatus,
		m.ServiceFaults,
		m.MessagesPublished,
		m.MessagesForwarded,
		m.RunnerErrors,
		m.MQTTReconnects,
		m.ReconcileDuration,
		m.ReconcileErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveReconcile records one reconcile pass.
func (m *Metrics) ObserveReconcile(started time.Time, err error) {
	m.ReconcileDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		m.ReconcileErrors.Inc()
	}
}

// Transition implements supervisor.Observer.
func (m *Metrics) Transition(changed supervisor.HandleInfo, _ []supervisor.HandleInfo) {
	if changed.Status == supervisor.StatusFaulted {
		m.ServiceFaults.WithLabelValues(changed.Name).Inc()
	}
	m.ServiceStatus.WithLabelValues(changed.Name, string(changed.Type)).Set(float64(changed.Status))
}

func (m *Metrics) Shutdown() {}
