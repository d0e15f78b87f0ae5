package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
	apperrors "github.com/frostdev-ops/pma-alerting-go/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig contains configuration for metrics collection
type MetricsConfig struct {
	Enabled bool
	Prefix  string
}

// PrometheusCollector records alerting metrics on its own registry.
type PrometheusCollector struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	// HTTP Metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// WebSocket Metrics
	websocketConnections prometheus.Gauge

	// Evaluation Metrics
	evaluationsTotal   *prometheus.CounterVec
	evaluationFailures *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	tickDuration       *prometheus.HistogramVec
	transitionsTotal   *prometheus.CounterVec
	alarmStatus        *prometheus.GaugeVec

	// Dispatch Metrics
	dispatchTotal *prometheus.CounterVec
	queueDropped  *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec

	// Ingestion and actuation
	pointsIngested   *prometheus.CounterVec
	actuatorTriggers *prometheus.CounterVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector
func NewPrometheusCollector(config *MetricsConfig) *PrometheusCollector {
	if config == nil {
		config = &MetricsConfig{
			Enabled: true,
			Prefix:  "pma_alerting",
		}
	}
	prefix := config.Prefix

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	c := &PrometheusCollector{config: config, registry: reg}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.websocketConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_websocket_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	c.evaluationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_evaluations_total",
			Help: "Rule evaluations by resulting status and whether the period had data",
		},
		[]string{"rule_id", "status", "missing"},
	)
	c.evaluationFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_evaluation_failures_total",
			Help: "Recovered evaluation failures by kind",
		},
		[]string{"rule_id", "kind"},
	)
	c.evaluationDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    prefix + "_evaluation_duration_seconds",
			Help:    "Duration of a single rule evaluation",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)
	c.tickDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_tick_duration_seconds",
			Help:    "Duration of an evaluation tick across all rules of a period",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"period"},
	)
	c.transitionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_transitions_total",
			Help: "Alarm state transitions",
		},
		[]string{"rule_id", "severity", "from", "to"},
	)
	c.alarmStatus = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: prefix + "_alarm_status",
			Help: "1 for the current status of each rule, 0 otherwise",
		},
		[]string{"rule_id", "status"},
	)

	c.dispatchTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_dispatch_total",
			Help: "Notification sends by channel and result",
		},
		[]string{"channel", "result"},
	)
	c.queueDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_queue_dropped_total",
			Help: "Notifications dropped from full outbound queues",
		},
		[]string{"channel"},
	)
	c.queueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Pending notifications per channel",
		},
		[]string{"channel"},
	)

	c.pointsIngested = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_points_ingested_total",
			Help: "Metric points accepted or rejected by the window",
		},
		[]string{"source", "result"},
	)
	c.actuatorTriggers = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_actuator_triggers_total",
			Help: "Remediation actions fired",
		},
		[]string{"action", "result"},
	)

	return c
}

// Registry exposes the underlying registry, mostly for tests.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordHTTPRequest records an HTTP request
func (c *PrometheusCollector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWebSocketConnection records a websocket connect or disconnect
func (c *PrometheusCollector) RecordWebSocketConnection(action string) {
	switch action {
	case "connect":
		c.websocketConnections.Inc()
	case "disconnect":
		c.websocketConnections.Dec()
	}
}

// RecordPoint counts an ingested point.
func (c *PrometheusCollector) RecordPoint(source string, err error) {
	c.pointsIngested.WithLabelValues(source, result(err)).Inc()
}

// RecordTrigger counts a remediation action.
func (c *PrometheusCollector) RecordTrigger(action string, err error) {
	c.actuatorTriggers.WithLabelValues(action, result(err)).Inc()
}

// EvaluationCompleted implements alarm.Observer.
func (c *PrometheusCollector) EvaluationCompleted(rule rules.AlarmRule, status alarm.Status, missing bool, took time.Duration) {
	c.evaluationsTotal.WithLabelValues(rule.ID, string(status), strconv.FormatBool(missing)).Inc()
	c.evaluationDuration.Observe(took.Seconds())
	for _, s := range []alarm.Status{alarm.StatusOK, alarm.StatusAlarm, alarm.StatusInsufficientData} {
		v := 0.0
		if s == status {
			v = 1
		}
		c.alarmStatus.WithLabelValues(rule.ID, string(s)).Set(v)
	}
}

// EvaluationFailed implements alarm.Observer.
func (c *PrometheusCollector) EvaluationFailed(rule rules.AlarmRule, kind apperrors.Kind) {
	c.evaluationFailures.WithLabelValues(rule.ID, string(kind)).Inc()
}

// TransitionRecorded implements alarm.Observer.
func (c *PrometheusCollector) TransitionRecorded(event alarm.NotificationEvent) {
	c.transitionsTotal.WithLabelValues(event.RuleID, string(event.Severity), string(event.PreviousStatus), string(event.NewStatus)).Inc()
}

// TickCompleted implements scheduler.TickObserver.
func (c *PrometheusCollector) TickCompleted(period time.Duration, _ int, took time.Duration) {
	c.tickDuration.WithLabelValues(period.String()).Observe(took.Seconds())
}

// Dispatched implements notify.DispatchObserver.
func (c *PrometheusCollector) Dispatched(channel string, err error) {
	c.dispatchTotal.WithLabelValues(channel, result(err)).Inc()
}

// Dropped implements notify.DispatchObserver.
func (c *PrometheusCollector) Dropped(channel string) {
	c.queueDropped.WithLabelValues(channel).Inc()
}

// QueueDepth implements notify.DispatchObserver.
func (c *PrometheusCollector) QueueDepth(channel string, depth int) {
	c.queueDepth.WithLabelValues(channel).Set(float64(depth))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
