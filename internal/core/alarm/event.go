package alarm

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
	"github.com/google/uuid"
)

// Direction classifies a transition for routing.
type Direction string

const (
	DirectionEntering   Direction = "ENTERING_ALARM"
	DirectionRecovering Direction = "RECOVERING"
	// DirectionNone covers transitions that never notify.
	DirectionNone Direction = ""
)

// UnmarshalText accepts the routable directions in any case.
func (d *Direction) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case string(DirectionEntering):
		*d = DirectionEntering
	case string(DirectionRecovering):
		*d = DirectionRecovering
	default:
		return fmt.Errorf("unknown direction %q", string(text))
	}
	return nil
}

// NotificationEvent describes one status transition. It is produced once by
// the evaluator and consumed by the router; it is never mutated.
type NotificationEvent struct {
	ID              string          `json:"id"`
	RuleID          string          `json:"rule_id"`
	Severity        rules.Severity  `json:"severity"`
	PreviousStatus  Status          `json:"previous_status"`
	NewStatus       Status          `json:"new_status"`
	TriggeringValue *float64        `json:"triggering_value,omitempty"`
	Reason          string          `json:"reason"`
	Timestamp       time.Time       `json:"timestamp"`
	Rule            rules.AlarmRule `json:"-"`
}

// NewEvent builds the event for a transition of rule.
func NewEvent(rule rules.AlarmRule, prev, next Status, value *float64, reason string, at time.Time) NotificationEvent {
	return NotificationEvent{
		ID:              uuid.NewString(),
		RuleID:          rule.ID,
		Severity:        rule.Severity,
		PreviousStatus:  prev,
		NewStatus:       next,
		TriggeringValue: value,
		Reason:          reason,
		Timestamp:       at,
		Rule:            rule,
	}
}

// Direction returns ENTERING_ALARM for any move into ALARM and RECOVERING
// for ALARM to OK. Everything else is silent.
func (e NotificationEvent) Direction() Direction {
	switch {
	case e.NewStatus == StatusAlarm && e.PreviousStatus != StatusAlarm:
		return DirectionEntering
	case e.PreviousStatus == StatusAlarm && e.NewStatus == StatusOK:
		return DirectionRecovering
	}
	return DirectionNone
}

// DedupKey identifies the transition independent of delivery attempts.
func (e NotificationEvent) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d", e.RuleID, e.NewStatus, e.Timestamp.UnixNano())
}

// Publisher receives transitions as they occur. Publish must not block.
type Publisher interface {
	Publish(event NotificationEvent)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(NotificationEvent)

func (f PublisherFunc) Publish(event NotificationEvent) { f(event) }

// FanOut delivers each event to every publisher in order.
type FanOut struct {
	mu   sync.RWMutex
	subs []Publisher
}

// NewFanOut returns a fan-out over subs.
func NewFanOut(subs ...Publisher) *FanOut {
	return &FanOut{subs: subs}
}

// Add registers another publisher.
func (f *FanOut) Add(p Publisher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, p)
}

func (f *FanOut) Publish(event NotificationEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.subs {
		p.Publish(event)
	}
}
