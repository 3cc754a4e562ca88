package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

type PrometheusMetrics struct {
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}

	pm.registerMetrics()

	return pm
}

func (pm *PrometheusMetrics) registerMetrics() {
	// Counters
	pm.counters["listener_events_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listener_events_total",
			Help: "Total switch events read from the event socket",
		},
		[]string{"event"},
	)

	pm.counters["listener_reconnects_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listener_reconnects_total",
			Help: "Event socket connection attempts by outcome",
		},
		[]string{"result"},
	)

	pm.counters["listener_processing_errors_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listener_processing_errors_total",
			Help: "Event processing failures counted toward loop fatigue",
		},
		[]string{},
	)

	pm.counters["events_processed_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_processed_total",
			Help: "Canonical events appended by type",
		},
		[]string{"event"},
	)

	pm.counters["events_dropped_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Events dropped without side effects by reason",
		},
		[]string{"reason"},
	)

	pm.counters["webhook_delivered_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_delivered_total",
			Help: "Webhook deliveries that reached the endpoint",
		},
		[]string{},
	)

	pm.counters["webhook_failed_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_failed_total",
			Help: "Webhook deliveries that exhausted their retries",
		},
		[]string{},
	)

	pm.counters["webhook_dropped_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_dropped_total",
			Help: "Webhook deliveries dropped because the queue was full",
		},
		[]string{},
	)

	pm.counters["xml_requests_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xml_requests_total",
			Help: "Switch configuration pull requests by section",
		},
		[]string{"section"},
	)

	// Histograms
	pm.histograms["event_processing_seconds"] = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_processing_seconds",
			Help:    "Time spent processing one switch event",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"event"},
	)

	pm.histograms["xml_compile_seconds"] = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xml_compile_seconds",
			Help:    "Time spent compiling one directory or dialplan document",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"section"},
	)

	// Gauges
	pm.gauges["queue_waiting_calls"] = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_waiting_calls",
			Help: "Calls currently waiting per queue",
		},
		[]string{"queue"},
	)

	pm.gauges["queue_available_agents"] = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_available_agents",
			Help: "Available members per queue",
		},
		[]string{"queue"},
	)

	pm.gauges["listener_connected"] = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "listener_connected",
			Help: "1 while the event socket session is up",
		},
		[]string{},
	)

	for _, counter := range pm.counters {
		prometheus.MustRegister(counter)
	}
	for _, histogram := range pm.histograms {
		prometheus.MustRegister(histogram)
	}
	for _, gauge := range pm.gauges {
		prometheus.MustRegister(gauge)
	}
}

func (pm *PrometheusMetrics) IncrementCounter(name string, labels map[string]string) {
	if counter, exists := pm.counters[name]; exists {
		if labels == nil {
			labels = make(map[string]string)
		}
		counter.With(prometheus.Labels(labels)).Inc()
	}
}

func (pm *PrometheusMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
	if histogram, exists := pm.histograms[name]; exists {
		histogram.With(prometheus.Labels(labels)).Observe(value)
	}
}

func (pm *PrometheusMetrics) SetGauge(name string, value float64, labels map[string]string) {
	if gauge, exists := pm.gauges[name]; exists {
		if labels == nil {
			labels = make(map[string]string)
		}
		gauge.With(prometheus.Labels(labels)).Set(value)
	}
}

func (pm *PrometheusMetrics) ServeHTTP(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.WithField("addr", addr).Info("Metrics server started")
	return http.ListenAndServe(addr, nil)
}
