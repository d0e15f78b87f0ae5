package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
	apperrors "github.com/frostdev-ops/pma-alerting-go/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRule() rules.AlarmRule {
	return rules.AlarmRule{ID: "NHomeHeartbeatMissingAlarm", Severity: rules.SeverityHigh}
}

func TestPrometheusCollector_Evaluations(t *testing.T) {
	c := NewPrometheusCollector(&MetricsConfig{Enabled: true, Prefix: "test"})

	c.EvaluationCompleted(testRule(), alarm.StatusAlarm, true, time.Millisecond)
	c.EvaluationCompleted(testRule(), alarm.StatusAlarm, true, time.Millisecond)
	c.EvaluationFailed(testRule(), apperrors.KindIngestionUnavailable)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.evaluationsTotal.WithLabelValues("NHomeHeartbeatMissingAlarm", "ALARM", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alarmStatus.WithLabelValues("NHomeHeartbeatMissingAlarm", "ALARM")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.alarmStatus.WithLabelValues("NHomeHeartbeatMissingAlarm", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.evaluationFailures.WithLabelValues("NHomeHeartbeatMissingAlarm", string(apperrors.KindIngestionUnavailable))))

	c.EvaluationCompleted(testRule(), alarm.StatusOK, false, time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.alarmStatus.WithLabelValues("NHomeHeartbeatMissingAlarm", "ALARM")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alarmStatus.WithLabelValues("NHomeHeartbeatMissingAlarm", "OK")))
}

func TestPrometheusCollector_Transitions(t *testing.T) {
	c := NewPrometheusCollector(nil)
	event := alarm.NewEvent(testRule(), alarm.StatusOK, alarm.StatusAlarm, nil, "missing", time.Now())
	c.TransitionRecorded(event)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitionsTotal.WithLabelValues("NHomeHeartbeatMissingAlarm", "HIGH", "OK", "ALARM")))
}

func TestPrometheusCollector_Dispatch(t *testing.T) {
	c := NewPrometheusCollector(nil)
	c.Dispatched("pager", nil)
	c.Dispatched("pager", errors.New("boom"))
	c.Dropped("alerts")
	c.QueueDepth("alerts", 7)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.dispatchTotal.WithLabelValues("pager", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dispatchTotal.WithLabelValues("pager", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queueDropped.WithLabelValues("alerts")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.queueDepth.WithLabelValues("alerts")))
}

func TestPrometheusCollector_WebSocketGauge(t *testing.T) {
	c := NewPrometheusCollector(nil)
	c.RecordWebSocketConnection("connect")
	c.RecordWebSocketConnection("connect")
	c.RecordWebSocketConnection("disconnect")
	c.RecordWebSocketConnection("noise")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.websocketConnections))
}

func TestPrometheusCollector_SeparateRegistries(t *testing.T) {
	// Two collectors must not collide on registration.
	a := NewPrometheusCollector(nil)
	b := NewPrometheusCollector(nil)
	a.RecordPoint("http", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.pointsIngested.WithLabelValues("http", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.pointsIngested.WithLabelValues("http", "success")))
}

func TestPrometheusCollector_Handler(t *testing.T) {
	c := NewPrometheusCollector(nil)
	c.RecordHTTPRequest("GET", "/api/v1/alarms", 200, 5*time.Millisecond)
	c.RecordTrigger("pi-plug-on", nil)
	c.TickCompleted(2*time.Minute, 14, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `pma_alerting_http_requests_total{method="GET",path="/api/v1/alarms",status="200"} 1`)
	assert.Contains(t, body, `pma_alerting_actuator_triggers_total{action="pi-plug-on",result="success"} 1`)
	assert.Contains(t, body, `pma_alerting_tick_duration_seconds_count{period="2m0s"} 1`)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestHealthChecker_Overall(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"all healthy", []string{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []string{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []string{StatusDegraded, StatusUnhealthy}, StatusUnhealthy},
		{"unknown", []string{StatusHealthy, "weird"}, StatusUnknown},
		{"no components", nil, StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker(time.Second)
			for i, s := range tt.statuses {
				status := s
				h.Register(string(rune('a'+i)), func(context.Context) HealthStatus {
					return NewHealthStatus(status, "")
				})
			}
			report := h.Check(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Components, len(tt.statuses))
			assert.Contains(t, report.SystemInfo, "uptime")
		})
	}
}

func TestHealthChecker_Timeout(t *testing.T) {
	h := NewHealthChecker(20 * time.Millisecond)
	h.Register("database", func(ctx context.Context) HealthStatus {
		time.Sleep(200 * time.Millisecond)
		return NewHealthStatus(StatusHealthy, "late")
	})

	report := h.Check(context.Background())
	require.Contains(t, report.Components, "database")
	assert.Equal(t, StatusUnhealthy, report.Components["database"].Status)
	assert.Equal(t, "20ms", report.Components["database"].Details["timeout"])
	assert.Equal(t, []string{"database"}, h.Components())
}

func TestHealthStatus_WithDetail(t *testing.T) {
	base := NewHealthStatus(StatusHealthy, "ok")
	withA := base.WithDetail("a", 1)
	assert.Nil(t, base.Details)
	assert.Equal(t, 1, withA.Details["a"])
	assert.True(t, withA.IsHealthy())
}
