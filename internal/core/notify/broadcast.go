package notify

import (
	"context"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
)

// MessageTypeAlarmTransition is the live feed message type for transitions.
const MessageTypeAlarmTransition = "alarm_transition"

// Broadcaster fans a message out to live subscribers.
type Broadcaster interface {
	BroadcastToAll(messageType string, data map[string]interface{})
}

// TransitionData renders event as a live feed payload.
func TransitionData(event alarm.NotificationEvent) map[string]interface{} {
	data := map[string]interface{}{
		"id":              event.ID,
		"rule_id":         event.RuleID,
		"severity":        event.Severity,
		"previous_status": event.PreviousStatus,
		"new_status":      event.NewStatus,
		"direction":       event.Direction(),
		"reason":          event.Reason,
		"timestamp":       event.Timestamp.Format(time.RFC3339),
	}
	if event.TriggeringValue != nil {
		data["triggering_value"] = *event.TriggeringValue
	}
	return data
}

// BroadcastChannel pushes notifications to websocket subscribers.
type BroadcastChannel struct {
	name string
	hub  Broadcaster
}

// NewBroadcastChannel creates a live feed channel over hub.
func NewBroadcastChannel(name string, hub Broadcaster) *BroadcastChannel {
	return &BroadcastChannel{name: name, hub: hub}
}

func (b *BroadcastChannel) Name() string { return b.name }

func (b *BroadcastChannel) Send(_ context.Context, event alarm.NotificationEvent) error {
	b.hub.BroadcastToAll(MessageTypeAlarmTransition, TransitionData(event))
	return nil
}

// Publish lets the channel follow every transition, silent ones included.
func (b *BroadcastChannel) Publish(event alarm.NotificationEvent) {
	_ = b.Send(context.Background(), event)
}
