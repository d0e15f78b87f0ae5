package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/stream"
	"github.com/frostdev-ops/pma-alerting-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

func temperatureRule() rules.AlarmRule {
	return rules.AlarmRule{
		ID:                "N.Meter1TemperatureHighAlarm",
		Metric:            stream.Selector{Namespace: "NHomeZero", MetricName: "Temperature", Dimensions: stream.NewDimensions(map[string]string{"Meter": "N. Meter 1"})},
		Period:            2 * time.Minute,
		Statistic:         stream.StatisticMinimum,
		Comparison:        rules.GreaterOrEqual,
		Threshold:         26,
		EvaluationPeriods: 30,
		DatapointsToAlarm: 30,
		MissingData:       rules.MissingIgnore,
		Severity:          rules.SeverityHigh,
	}
}

func TestFormat(t *testing.T) {
	v := 27.5
	event := alarm.NewEvent(temperatureRule(), alarm.StatusOK, alarm.StatusAlarm, &v, "Threshold crossed", at)

	msg := Format(event)
	assert.Equal(t, "ALARM: N.Meter1TemperatureHighAlarm", msg.Title)

	want := strings.Join([]string{
		"State:     OK -> ALARM",
		"Time:      2026-05-04T09:30:00Z",
		"Reason:    Threshold crossed",
		"Value:     27.5",
		"",
		"Metric:    Temperature",
		"Device:    N. Meter 1 (Meter)",
		"Condition: MIN >= 26",
		"Period:    2m (30/30 datapoints)",
		"Missing:   treated as ignore",
	}, "\n")
	assert.Equal(t, want, msg.Body)
}

func TestFormat_NoDimensions(t *testing.T) {
	rule := temperatureRule()
	rule.Metric.Dimensions = nil
	rule.Period = time.Hour
	msg := Format(alarm.NewEvent(rule, alarm.StatusAlarm, alarm.StatusOK, nil, "recovered", at))
	assert.Contains(t, msg.Body, "Device:    None")
	assert.Contains(t, msg.Body, "Period:    1h (30/30 datapoints)")
	assert.NotContains(t, msg.Body, "Value:")
}

func TestFormatPeriod(t *testing.T) {
	assert.Equal(t, "15m", formatPeriod(15*time.Minute))
	assert.Equal(t, "2h", formatPeriod(2*time.Hour))
	assert.Equal(t, "45s", formatPeriod(45*time.Second))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "a", truncate("aé", 2))
}

func TestPushoverChannel_SendsEmergencyPage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		got = map[string]string{}
		for k := range r.PostForm {
			got[k] = r.PostForm.Get(k)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":1}`))
	}))
	defer srv.Close()

	ch := NewPushoverChannel(ChannelPager, PushoverConfig{
		APIKey: "app-token", UserKey: "user-key", URL: srv.URL,
		Priority: 2, Retry: 2 * time.Minute, Expire: 15 * time.Minute, Sound: "Narita",
	}, srv.Client(), logger.Discard())

	err := ch.Send(context.Background(), alarm.NewEvent(temperatureRule(), alarm.StatusOK, alarm.StatusAlarm, nil, "crossed", at))
	require.NoError(t, err)
	assert.Equal(t, "app-token", got["token"])
	assert.Equal(t, "user-key", got["user"])
	assert.Equal(t, "2", got["priority"])
	assert.Equal(t, "120", got["retry"])
	assert.Equal(t, "900", got["expire"])
	assert.Equal(t, "Narita", got["sound"])
	assert.Equal(t, "ALARM: N.Meter1TemperatureHighAlarm", got["title"])
}

func TestPushoverChannel_SkipsRecovery(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	ch := NewPushoverChannel(ChannelPager, PushoverConfig{URL: srv.URL}, srv.Client(), logger.Discard())
	require.NoError(t, ch.Send(context.Background(), alarm.NewEvent(temperatureRule(), alarm.StatusAlarm, alarm.StatusOK, nil, "ok", at)))
	assert.False(t, called)
}

func TestPushoverChannel_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":["application token is invalid"]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	ch := NewPushoverChannel(ChannelPager, PushoverConfig{URL: srv.URL}, srv.Client(), logger.Discard())
	err := ch.Send(context.Background(), alarm.NewEvent(temperatureRule(), alarm.StatusOK, alarm.StatusAlarm, nil, "x", at))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestWebhookChannel(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Alert-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(ChannelAlerts, WebhookConfig{URL: srv.URL, Headers: map[string]string{"X-Alert-Token": "secret"}}, srv.Client())
	v := 30.0
	require.NoError(t, ch.Send(context.Background(), alarm.NewEvent(temperatureRule(), alarm.StatusInsufficientData, alarm.StatusAlarm, &v, "crossed", at)))

	assert.Equal(t, "N.Meter1TemperatureHighAlarm", payload["rule_id"])
	assert.Equal(t, "ALARM", payload["new_status"])
	assert.Equal(t, "ENTERING_ALARM", payload["direction"])
	assert.Equal(t, 30.0, payload["triggering_value"])
	assert.Equal(t, "MIN >= 26", payload["condition"])
	assert.Equal(t, "NHomeZero/Temperature{Meter=N. Meter 1}", payload["metric"])
}

func TestWebhookChannel_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(ChannelAlerts, WebhookConfig{URL: srv.URL}, srv.Client())
	err := ch.Send(context.Background(), alarm.NewEvent(temperatureRule(), alarm.StatusOK, alarm.StatusAlarm, nil, "x", at))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type fakeMailer struct {
	mu       sync.Mutex
	messages []*gomail.Message
	err      error
}

func (f *fakeMailer) DialAndSend(m ...*gomail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, m...)
	return nil
}

func TestEmailChannel(t *testing.T) {
	mailer := &fakeMailer{}
	ch := NewEmailChannel(ChannelRecovery, EmailConfig{From: "alarms@home.local", To: []string{"owner@example.com"}}, mailer)

	require.NoError(t, ch.Send(context.Background(), alarm.NewEvent(temperatureRule(), alarm.StatusAlarm, alarm.StatusOK, nil, "recovered", at)))
	require.Len(t, mailer.messages, 1)
	m := mailer.messages[0]
	assert.Equal(t, []string{"OK: N.Meter1TemperatureHighAlarm"}, m.GetHeader("Subject"))
	assert.Equal(t, []string{"owner@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"alarms@home.local"}, m.GetHeader("From"))
}

func TestEmailChannel_Errors(t *testing.T) {
	ch := NewEmailChannel(ChannelRecovery, EmailConfig{From: "a@b"}, &fakeMailer{})
	assert.Error(t, ch.Send(context.Background(), alarm.NewEvent(temperatureRule(), alarm.StatusAlarm, alarm.StatusOK, nil, "", at)))

	failing := NewEmailChannel(ChannelRecovery, EmailConfig{From: "a@b", To: []string{"c@d"}}, &fakeMailer{err: errors.New("535 auth failed")})
	err := failing.Send(context.Background(), alarm.NewEvent(temperatureRule(), alarm.StatusAlarm, alarm.StatusOK, nil, "", at))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "535")
}

type fakeActuator struct {
	actions []string
	err     error
}

func (f *fakeActuator) Trigger(_ context.Context, actionID string) error {
	f.actions = append(f.actions, actionID)
	return f.err
}

func TestRemediationChannel(t *testing.T) {
	act := &fakeActuator{}
	ch := NewRemediationChannel(ChannelRemediation, act, logger.Discard())
	rule := sampleRule("NPiInvalidLowSev", rules.SeverityLow)

	require.NoError(t, ch.Send(context.Background(), transition(rule, alarm.StatusOK, alarm.StatusAlarm, at)))
	require.NoError(t, ch.Send(context.Background(), transition(rule, alarm.StatusAlarm, alarm.StatusOK, at)))
	assert.Equal(t, []string{"pi-plug-on"}, act.actions)

	rule.Action = ""
	assert.Error(t, ch.Send(context.Background(), transition(rule, alarm.StatusOK, alarm.StatusAlarm, at)))

	act.err = errors.New("device offline")
	rule.Action = "pi-plug-on"
	err := ch.Send(context.Background(), transition(rule, alarm.StatusOK, alarm.StatusAlarm, at))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device offline")
}

type fakeHub struct {
	types []string
	data  []map[string]interface{}
}

func (f *fakeHub) BroadcastToAll(messageType string, data map[string]interface{}) {
	f.types = append(f.types, messageType)
	f.data = append(f.data, data)
}

func TestBroadcastChannel(t *testing.T) {
	hub := &fakeHub{}
	ch := NewBroadcastChannel("live", hub)
	v := 1.0
	require.NoError(t, ch.Send(context.Background(), alarm.NewEvent(temperatureRule(), alarm.StatusOK, alarm.StatusAlarm, &v, "x", at)))
	ch.Publish(alarm.NewEvent(temperatureRule(), alarm.StatusAlarm, alarm.StatusInsufficientData, nil, "y", at))

	require.Len(t, hub.data, 2)
	assert.Equal(t, MessageTypeAlarmTransition, hub.types[0])
	assert.Equal(t, 1.0, hub.data[0]["triggering_value"])
	assert.Equal(t, alarm.DirectionNone, hub.data[1]["direction"])
}

func TestConsoleChannel(t *testing.T) {
	ch := NewConsoleChannel("console", logger.Discard())
	assert.Equal(t, "console", ch.Name())
	assert.NoError(t, ch.Send(context.Background(), alarm.NewEvent(temperatureRule(), alarm.StatusOK, alarm.StatusAlarm, nil, "x", at)))
}
