package alarm

import (
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
)

// Status is the alarm state of one rule.
type Status string

const (
	StatusOK               Status = "OK"
	StatusAlarm            Status = "ALARM"
	StatusInsufficientData Status = "INSUFFICIENT_DATA"
)

// Flag is one entry of the evaluation window.
type Flag uint8

const (
	// FlagOK is a period whose statistic did not breach.
	FlagOK Flag = iota
	// FlagBreach is a period whose statistic breached.
	FlagBreach
	// FlagMissingBreach is an empty period counted as breaching.
	FlagMissingBreach
)

func (f Flag) String() string {
	switch f {
	case FlagBreach:
		return "BREACH"
	case FlagMissingBreach:
		return "MISSING"
	}
	return "OK"
}

// Breach reports whether the entry counts toward datapointsToAlarm.
func (f Flag) Breach() bool {
	return f == FlagBreach || f == FlagMissingBreach
}

// History is a fixed-capacity ring of the most recent period flags.
type History struct {
	buf   []Flag
	start int
	n     int
}

// NewHistory returns an empty ring holding up to size flags.
func NewHistory(size int) History {
	if size < 1 {
		size = 1
	}
	return History{buf: make([]Flag, size)}
}

// Push appends f, evicting the oldest flag when full.
func (h *History) Push(f Flag) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = f
		h.n++
		return
	}
	h.buf[h.start] = f
	h.start = (h.start + 1) % len(h.buf)
}

// Len is the number of flags held.
func (h History) Len() int { return h.n }

// Cap is the window size.
func (h History) Cap() int { return len(h.buf) }

// Full reports whether the window holds Cap flags.
func (h History) Full() bool { return h.n == len(h.buf) }

// BreachCount counts breaching flags, observed or substituted.
func (h History) BreachCount() int {
	c := 0
	for i := 0; i < h.n; i++ {
		if h.buf[(h.start+i)%len(h.buf)].Breach() {
			c++
		}
	}
	return c
}

// MissingBreachCount counts flags substituted for missing periods.
func (h History) MissingBreachCount() int {
	c := 0
	for i := 0; i < h.n; i++ {
		if h.buf[(h.start+i)%len(h.buf)] == FlagMissingBreach {
			c++
		}
	}
	return c
}

// Flags returns the flags oldest first.
func (h History) Flags() []Flag {
	out := make([]Flag, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Clone returns an independent copy.
func (h History) Clone() History {
	c := History{buf: make([]Flag, len(h.buf)), start: h.start, n: h.n}
	copy(c.buf, h.buf)
	return c
}

// Decide maps a rule's window to a status.
//
// A partial window is INSUFFICIENT_DATA, except that a BREACHING rule may
// alarm as soon as its missing-data flags alone reach datapointsToAlarm.
// With datapointsToAlarm 2, a partial window of [missing, breach] stays
// INSUFFICIENT_DATA while [missing, missing] is ALARM.
func Decide(rule rules.AlarmRule, h History) Status {
	if !h.Full() {
		if rule.MissingData == rules.MissingBreaching && h.MissingBreachCount() >= rule.DatapointsToAlarm {
			return StatusAlarm
		}
		return StatusInsufficientData
	}
	if h.BreachCount() >= rule.DatapointsToAlarm {
		return StatusAlarm
	}
	return StatusOK
}

// State is the mutable evaluation state of one rule.
type State struct {
	Status           Status
	History          History
	LastTransitionAt time.Time
	LastEvaluatedAt  time.Time
	LastValue        *float64
	LastReason       string
}

func newState(rule rules.AlarmRule) State {
	return State{
		Status:  StatusInsufficientData,
		History: NewHistory(rule.EvaluationPeriods),
	}
}

func (s State) clone() State {
	c := s
	c.History = s.History.Clone()
	if s.LastValue != nil {
		v := *s.LastValue
		c.LastValue = &v
	}
	return c
}

// Snapshot is a read-only view of a rule's state.
type Snapshot struct {
	RuleID            string     `json:"rule_id"`
	Status            Status     `json:"status"`
	Window            []string   `json:"window"`
	BufferLength      int        `json:"buffer_length"`
	EvaluationPeriods int        `json:"evaluation_periods"`
	BreachCount       int        `json:"breach_count"`
	LastTransitionAt  *time.Time `json:"last_transition_at,omitempty"`
	LastEvaluatedAt   *time.Time `json:"last_evaluated_at,omitempty"`
	LastValue         *float64   `json:"last_value,omitempty"`
	LastReason        string     `json:"last_reason,omitempty"`
}

func (s State) snapshot(ruleID string) Snapshot {
	flags := s.History.Flags()
	window := make([]string, len(flags))
	for i, f := range flags {
		window[i] = f.String()
	}
	snap := Snapshot{
		RuleID:            ruleID,
		Status:            s.Status,
		Window:            window,
		BufferLength:      s.History.Len(),
		EvaluationPeriods: s.History.Cap(),
		BreachCount:       s.History.BreachCount(),
		LastReason:        s.LastReason,
	}
	if !s.LastTransitionAt.IsZero() {
		t := s.LastTransitionAt
		snap.LastTransitionAt = &t
	}
	if !s.LastEvaluatedAt.IsZero() {
		t := s.LastEvaluatedAt
		snap.LastEvaluatedAt = &t
	}
	if s.LastValue != nil {
		v := *s.LastValue
		snap.LastValue = &v
	}
	return snap
}
