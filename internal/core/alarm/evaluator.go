package alarm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/stream"
	apperrors "github.com/frostdev-ops/pma-alerting-go/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Aggregator reduces a selector's points over [asOf-period, asOf).
type Aggregator interface {
	Aggregate(ctx context.Context, sel stream.Selector, period time.Duration, stat stream.Statistic, asOf time.Time) (float64, bool, error)
}

// Observer is notified about evaluation outcomes, typically for metrics.
type Observer interface {
	EvaluationCompleted(rule rules.AlarmRule, status Status, missing bool, took time.Duration)
	EvaluationFailed(rule rules.AlarmRule, kind apperrors.Kind)
	TransitionRecorded(event NotificationEvent)
}

type nopObserver struct{}

func (nopObserver) EvaluationCompleted(rules.AlarmRule, Status, bool, time.Duration) {}
func (nopObserver) EvaluationFailed(rules.AlarmRule, apperrors.Kind)                {}
func (nopObserver) TransitionRecorded(NotificationEvent)                            {}

type ruleState struct {
	mu    sync.Mutex
	state State
}

// Evaluator owns one state machine per rule id.
type Evaluator struct {
	aggregator Aggregator
	publisher  Publisher
	observer   Observer
	logger     *logrus.Logger

	mu     sync.Mutex
	states map[string]*ruleState
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithObserver attaches an evaluation observer.
func WithObserver(o Observer) Option {
	return func(e *Evaluator) {
		if o != nil {
			e.observer = o
		}
	}
}

// NewEvaluator creates an evaluator reading from aggregator and publishing
// transitions to publisher.
func NewEvaluator(aggregator Aggregator, publisher Publisher, logger *logrus.Logger, opts ...Option) *Evaluator {
	if publisher == nil {
		publisher = PublisherFunc(func(NotificationEvent) {})
	}
	e := &Evaluator{
		aggregator: aggregator,
		publisher:  publisher,
		observer:   nopObserver{},
		logger:     logger,
		states:     make(map[string]*ruleState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) stateFor(rule rules.AlarmRule) *ruleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.states[rule.ID]
	if !ok {
		rs = &ruleState{state: newState(rule)}
		e.states[rule.ID] = rs
	}
	return rs
}

// Evaluate runs one tick of rule for the period ending at asOf. It returns
// the transition event when the status changed, or nil.
//
// A tick at or before the last evaluated instant is a no-op. The new window
// and status are computed on a copy and committed together, so a cancelled
// tick leaves the state untouched.
func (e *Evaluator) Evaluate(ctx context.Context, rule rules.AlarmRule, asOf time.Time) (*NotificationEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rs := e.stateFor(rule)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.state.LastEvaluatedAt.IsZero() && !asOf.After(rs.state.LastEvaluatedAt) {
		return nil, nil
	}

	start := time.Now()
	next := rs.state.clone()
	log := e.logger.WithFields(logrus.Fields{
		"rule_id": rule.ID,
		"as_of":   asOf.Format(time.RFC3339),
	})

	if !next.LastEvaluatedAt.IsZero() {
		if skipped := int(asOf.Sub(next.LastEvaluatedAt)/rule.Period) - 1; skipped > 0 {
			skew := apperrors.ClockSkew(rule.ID, "%d periods skipped since %s", skipped, next.LastEvaluatedAt.Format(time.RFC3339))
			log.WithError(skew).Warn("Tick fired late, treating skipped periods as missing")
			e.observer.EvaluationFailed(rule, apperrors.KindClockSkew)
			if skipped > rule.EvaluationPeriods {
				skipped = rule.EvaluationPeriods
			}
			for i := 0; i < skipped; i++ {
				applyMissing(rule, &next.History)
			}
		}
	}

	value, ok, err := e.aggregator.Aggregate(ctx, rule.Metric, rule.Period, rule.Statistic, asOf)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		unavailable := apperrors.IngestionUnavailable(rule.ID, err)
		log.WithError(unavailable).Warn("Aggregation failed, treating period as missing data")
		e.observer.EvaluationFailed(rule, apperrors.KindIngestionUnavailable)
		ok = false
	}

	if ok {
		v := value
		next.LastValue = &v
		if rule.Breaches(value) {
			next.History.Push(FlagBreach)
		} else {
			next.History.Push(FlagOK)
		}
	} else {
		next.LastValue = nil
		applyMissing(rule, &next.History)
	}

	status := Decide(rule, next.History)
	next.LastEvaluatedAt = asOf
	next.LastReason = reason(rule, status, next.History)

	var event *NotificationEvent
	if status != next.Status {
		ev := NewEvent(rule, next.Status, status, next.LastValue, next.LastReason, asOf)
		event = &ev
		next.Status = status
		next.LastTransitionAt = asOf
	}

	rs.state = next
	e.observer.EvaluationCompleted(rule, status, !ok, time.Since(start))

	if event != nil {
		fields := logrus.Fields{
			"rule_id":         event.RuleID,
			"previous_status": event.PreviousStatus,
			"new_status":      event.NewStatus,
			"timestamp":       event.Timestamp.Format(time.RFC3339),
			"reason":          event.Reason,
		}
		if event.TriggeringValue != nil {
			fields["triggering_value"] = *event.TriggeringValue
		}
		e.logger.WithFields(fields).Info("Alarm state changed")
		e.observer.TransitionRecorded(*event)
		e.publisher.Publish(*event)
	} else {
		log.WithField("status", status).Debug("Alarm evaluated")
	}
	return event, nil
}

func applyMissing(rule rules.AlarmRule, h *History) {
	if rule.MissingData == rules.MissingBreaching {
		h.Push(FlagMissingBreach)
	}
}

func reason(rule rules.AlarmRule, status Status, h History) string {
	switch status {
	case StatusAlarm:
		if !h.Full() {
			return fmt.Sprintf("Missing data treated as breaching: %d of %d periods had no data", h.MissingBreachCount(), h.Cap())
		}
		return fmt.Sprintf("Threshold crossed: %d out of the last %d datapoints breached %s", h.BreachCount(), h.Len(), rule.Condition())
	case StatusOK:
		return fmt.Sprintf("Threshold not crossed: %d out of the last %d datapoints breached %s", h.BreachCount(), h.Len(), rule.Condition())
	}
	return fmt.Sprintf("Insufficient data: %d of %d periods evaluated", h.Len(), h.Cap())
}

// Snapshot returns the state of ruleID, if it has been evaluated.
func (e *Evaluator) Snapshot(ruleID string) (Snapshot, bool) {
	e.mu.Lock()
	rs, ok := e.states[ruleID]
	e.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.state.snapshot(ruleID), true
}

// Snapshots returns every known state ordered by rule id.
func (e *Evaluator) Snapshots() []Snapshot {
	e.mu.Lock()
	ids := make([]string, 0, len(e.states))
	for id := range e.states {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := e.Snapshot(id); ok {
			out = append(out, snap)
		}
	}
	return out
}

// Reset drops the state of ruleID; the next tick starts from
// INSUFFICIENT_DATA with an empty window. It reports whether a state existed.
func (e *Evaluator) Reset(ruleID string) bool {
	e.mu.Lock()
	rs, ok := e.states[ruleID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.states, ruleID)
	e.mu.Unlock()

	// wait for an in-flight tick so it cannot be observed after the reset
	rs.mu.Lock()
	rs.mu.Unlock() //nolint:staticcheck

	e.logger.WithField("rule_id", ruleID).Info("Alarm state reset")
	return true
}
