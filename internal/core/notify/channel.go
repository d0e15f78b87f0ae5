package notify

import (
	"context"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	apperrors "github.com/frostdev-ops/pma-alerting-go/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Channel delivers a notification to one destination. Idempotency at the
// destination is the channel's concern; the router never retries.
type Channel interface {
	Name() string
	Send(ctx context.Context, event alarm.NotificationEvent) error
}

// ErrorSink receives every failed or dropped dispatch.
type ErrorSink interface {
	Report(err *apperrors.AlarmError, event alarm.NotificationEvent)
}

// LogSink reports dispatch failures as structured log records.
type LogSink struct {
	Logger *logrus.Logger
}

func (s LogSink) Report(err *apperrors.AlarmError, event alarm.NotificationEvent) {
	s.Logger.WithFields(logrus.Fields{
		"rule_id":         event.RuleID,
		"previous_status": event.PreviousStatus,
		"new_status":      event.NewStatus,
		"timestamp":       event.Timestamp.Format(time.RFC3339),
		"channel":         err.Channel,
		"reason":          err.Error(),
	}).Error("Notification dispatch failed")
}

// MultiSink reports to every sink in order.
type MultiSink []ErrorSink

func (m MultiSink) Report(err *apperrors.AlarmError, event alarm.NotificationEvent) {
	for _, s := range m {
		s.Report(err, event)
	}
}

// ConsoleChannel writes notifications to the service log.
type ConsoleChannel struct {
	name   string
	logger *logrus.Logger
}

// NewConsoleChannel creates a channel that only logs.
func NewConsoleChannel(name string, logger *logrus.Logger) *ConsoleChannel {
	return &ConsoleChannel{name: name, logger: logger}
}

func (c *ConsoleChannel) Name() string { return c.name }

func (c *ConsoleChannel) Send(_ context.Context, event alarm.NotificationEvent) error {
	msg := Format(event)
	entry := c.logger.WithFields(logrus.Fields{
		"channel":  c.name,
		"rule_id":  event.RuleID,
		"severity": event.Severity,
		"title":    msg.Title,
	})
	if event.NewStatus == alarm.StatusAlarm {
		entry.Warn(msg.Body)
	} else {
		entry.Info(msg.Body)
	}
	return nil
}
