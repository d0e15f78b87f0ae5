package models

import "time"

// AlarmTransition is one persisted status change of an alarm rule
type AlarmTransition struct {
	ID              string    `json:"id" db:"id"`
	RuleID          string    `json:"rule_id" db:"rule_id"`
	Severity        string    `json:"severity" db:"severity"`
	PreviousStatus  string    `json:"previous_status" db:"previous_status"`
	NewStatus       string    `json:"new_status" db:"new_status"`
	Direction       string    `json:"direction" db:"direction"`
	TriggeringValue *float64  `json:"triggering_value,omitempty" db:"triggering_value"`
	Reason          string    `json:"reason" db:"reason"`
	OccurredAt      time.Time `json:"occurred_at" db:"occurred_at"`
	RecordedAt      time.Time `json:"recorded_at" db:"recorded_at"`
}

// DispatchFailure records a notification that a channel failed to deliver or
// that was dropped before delivery
type DispatchFailure struct {
	ID             int64     `json:"id" db:"id"`
	EventID        string    `json:"event_id" db:"event_id"`
	RuleID         string    `json:"rule_id" db:"rule_id"`
	Channel        string    `json:"channel" db:"channel"`
	PreviousStatus string    `json:"previous_status" db:"previous_status"`
	NewStatus      string    `json:"new_status" db:"new_status"`
	Error          string    `json:"error" db:"error"`
	OccurredAt     time.Time `json:"occurred_at" db:"occurred_at"`
	RecordedAt     time.Time `json:"recorded_at" db:"recorded_at"`
}

// JournalFilter narrows journal listings. Zero values mean no constraint.
type JournalFilter struct {
	RuleID string
	Since  time.Time
	Until  time.Time
	Limit  int
}
