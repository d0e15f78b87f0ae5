package notify

import (
	"context"
	"fmt"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	"github.com/sirupsen/logrus"
)

// Actuator fires a named remediation action.
type Actuator interface {
	Trigger(ctx context.Context, actionID string) error
}

// RemediationChannel turns an ENTERING_ALARM transition into the rule's
// actuation request.
type RemediationChannel struct {
	name     string
	actuator Actuator
	logger   *logrus.Logger
}

// NewRemediationChannel creates the remediation channel.
func NewRemediationChannel(name string, actuator Actuator, logger *logrus.Logger) *RemediationChannel {
	return &RemediationChannel{name: name, actuator: actuator, logger: logger}
}

func (r *RemediationChannel) Name() string { return r.name }

func (r *RemediationChannel) Send(ctx context.Context, event alarm.NotificationEvent) error {
	if event.Direction() != alarm.DirectionEntering {
		return nil
	}
	action := event.Rule.Action
	if action == "" {
		return fmt.Errorf("rule %s has no remediation action", event.RuleID)
	}

	r.logger.WithFields(logrus.Fields{
		"rule_id": event.RuleID,
		"action":  action,
	}).Info("Triggering remediation")

	if err := r.actuator.Trigger(ctx, action); err != nil {
		return fmt.Errorf("action %s failed: %w", action, err)
	}
	return nil
}
