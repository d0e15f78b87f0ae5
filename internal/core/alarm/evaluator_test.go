package alarm

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/stream"
	apperrors "github.com/frostdev-ops/pma-alerting-go/pkg/errors"
	"github.com/frostdev-ops/pma-alerting-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type result struct {
	value float64
	ok    bool
	err   error
}

// scriptedAggregator answers per asOf; unknown instants have no data.
type scriptedAggregator struct {
	mu      sync.Mutex
	results map[time.Time]result
	calls   int
}

func newScripted() *scriptedAggregator {
	return &scriptedAggregator{results: make(map[time.Time]result)}
}

func (s *scriptedAggregator) set(at time.Time, r result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[at] = r
}

func (s *scriptedAggregator) Aggregate(_ context.Context, _ stream.Selector, _ time.Duration, _ stream.Statistic, asOf time.Time) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	r := s.results[asOf]
	return r.value, r.ok, r.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []NotificationEvent
}

func (p *recordingPublisher) Publish(e NotificationEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) all() []NotificationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]NotificationEvent(nil), p.events...)
}

func testRule(n, m int, policy rules.MissingDataPolicy) rules.AlarmRule {
	return rules.AlarmRule{
		ID:                "TestRule",
		Metric:            stream.Selector{Namespace: "NHomeZero", MetricName: "Temperature"},
		Period:            2 * time.Minute,
		Statistic:         stream.StatisticMaximum,
		Comparison:        rules.GreaterOrEqual,
		Threshold:         26,
		EvaluationPeriods: n,
		DatapointsToAlarm: m,
		MissingData:       policy,
		Severity:          rules.SeverityHigh,
	}
}

func tick(i int, rule rules.AlarmRule) time.Time {
	return t0.Add(time.Duration(i) * rule.Period)
}

func newTestEvaluator(agg Aggregator) (*Evaluator, *recordingPublisher) {
	pub := &recordingPublisher{}
	return NewEvaluator(agg, pub, logger.Discard()), pub
}

func TestHistory_Ring(t *testing.T) {
	h := NewHistory(3)
	h.Push(FlagBreach)
	h.Push(FlagOK)
	assert.Equal(t, 2, h.Len())
	assert.False(t, h.Full())

	h.Push(FlagMissingBreach)
	h.Push(FlagOK)
	assert.True(t, h.Full())
	assert.Equal(t, []Flag{FlagOK, FlagMissingBreach, FlagOK}, h.Flags())
	assert.Equal(t, 1, h.BreachCount())
	assert.Equal(t, 1, h.MissingBreachCount())

	c := h.Clone()
	c.Push(FlagBreach)
	assert.Equal(t, []Flag{FlagOK, FlagMissingBreach, FlagOK}, h.Flags())
}

func TestDecide_PartialWindow(t *testing.T) {
	tests := []struct {
		name   string
		policy rules.MissingDataPolicy
		flags  []Flag
		want   Status
	}{
		{"real breach does not alarm early", rules.MissingBreaching, []Flag{FlagMissingBreach, FlagBreach}, StatusInsufficientData},
		{"substituted breaches alarm early", rules.MissingBreaching, []Flag{FlagMissingBreach, FlagMissingBreach}, StatusAlarm},
		{"ignore never alarms early", rules.MissingIgnore, []Flag{FlagBreach, FlagBreach}, StatusInsufficientData},
		{"full window counts every breach", rules.MissingBreaching, []Flag{FlagMissingBreach, FlagBreach, FlagOK}, StatusAlarm},
		{"full window below threshold", rules.MissingBreaching, []Flag{FlagOK, FlagBreach, FlagOK}, StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHistory(3)
			for _, f := range tt.flags {
				h.Push(f)
			}
			assert.Equal(t, tt.want, Decide(testRule(3, 2, tt.policy), h))
		})
	}
}

func TestEvaluate_IgnorePolicySkipsMissingPeriods(t *testing.T) {
	rule := testRule(3, 2, rules.MissingIgnore)
	agg := newScripted()
	agg.set(tick(1, rule), result{value: 30, ok: true})
	agg.set(tick(3, rule), result{value: 30, ok: true})
	ev, pub := newTestEvaluator(agg)

	for i := 1; i <= 3; i++ {
		_, err := ev.Evaluate(context.Background(), rule, tick(i, rule))
		require.NoError(t, err)
	}

	snap, ok := ev.Snapshot(rule.ID)
	require.True(t, ok)
	assert.Equal(t, StatusInsufficientData, snap.Status)
	assert.Equal(t, []string{"BREACH", "BREACH"}, snap.Window)
	assert.Equal(t, 2, snap.BufferLength)
	assert.Empty(t, pub.all())
}

func TestEvaluate_BreachingPolicyAlarmsOnFirstMissingTick(t *testing.T) {
	rule := testRule(3, 1, rules.MissingBreaching)
	ev, pub := newTestEvaluator(newScripted())

	event, err := ev.Evaluate(context.Background(), rule, tick(1, rule))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, StatusInsufficientData, event.PreviousStatus)
	assert.Equal(t, StatusAlarm, event.NewStatus)
	assert.Equal(t, DirectionEntering, event.Direction())
	assert.Nil(t, event.TriggeringValue)

	for i := 2; i <= 3; i++ {
		event, err = ev.Evaluate(context.Background(), rule, tick(i, rule))
		require.NoError(t, err)
		assert.Nil(t, event)
	}
	assert.Len(t, pub.all(), 1)
}

func TestEvaluate_PartialWindowUsesOnlySubstitutedBreaches(t *testing.T) {
	rule := testRule(3, 2, rules.MissingBreaching)
	agg := newScripted()
	agg.set(tick(1, rule), result{value: 30, ok: true})
	ev, _ := newTestEvaluator(agg)

	_, err := ev.Evaluate(context.Background(), rule, tick(1, rule))
	require.NoError(t, err)
	snap, _ := ev.Snapshot(rule.ID)
	assert.Equal(t, StatusInsufficientData, snap.Status)

	// one observed breach plus one missing: still below M substituted flags
	_, err = ev.Evaluate(context.Background(), rule, tick(2, rule))
	require.NoError(t, err)
	snap, _ = ev.Snapshot(rule.ID)
	assert.Equal(t, StatusInsufficientData, snap.Status)

	// full window: both kinds count
	_, err = ev.Evaluate(context.Background(), rule, tick(3, rule))
	require.NoError(t, err)
	snap, _ = ev.Snapshot(rule.ID)
	assert.Equal(t, StatusAlarm, snap.Status)
	assert.Equal(t, 3, snap.BreachCount)
}

func TestEvaluate_TransitionOnlyDispatch(t *testing.T) {
	rule := testRule(1, 1, rules.MissingIgnore)
	agg := newScripted()
	for i := 1; i <= 3; i++ {
		agg.set(tick(i, rule), result{value: 27, ok: true})
	}
	ev, pub := newTestEvaluator(agg)

	for i := 1; i <= 3; i++ {
		_, err := ev.Evaluate(context.Background(), rule, tick(i, rule))
		require.NoError(t, err)
	}

	events := pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, StatusAlarm, events[0].NewStatus)
	require.NotNil(t, events[0].TriggeringValue)
	assert.Equal(t, 27.0, *events[0].TriggeringValue)
}

func TestEvaluate_IdempotentForSameInstant(t *testing.T) {
	rule := testRule(1, 1, rules.MissingIgnore)
	agg := newScripted()
	agg.set(tick(1, rule), result{value: 27, ok: true})
	ev, pub := newTestEvaluator(agg)

	_, err := ev.Evaluate(context.Background(), rule, tick(1, rule))
	require.NoError(t, err)
	before, _ := ev.Snapshot(rule.ID)

	for i := 0; i < 3; i++ {
		event, err := ev.Evaluate(context.Background(), rule, tick(1, rule))
		require.NoError(t, err)
		assert.Nil(t, event)
	}
	event, err := ev.Evaluate(context.Background(), rule, tick(0, rule))
	require.NoError(t, err)
	assert.Nil(t, event)

	after, _ := ev.Snapshot(rule.ID)
	assert.Equal(t, before, after)
	assert.Len(t, pub.all(), 1)
	assert.Equal(t, 1, agg.calls)
}

func TestEvaluate_ThirtyPeriodScenario(t *testing.T) {
	rule := testRule(30, 30, rules.MissingIgnore)
	window := stream.NewWindow(rule.Window())
	ev, pub := newTestEvaluator(window)

	record := func(i int, v float64) {
		at := tick(i, rule).Add(-time.Minute)
		require.NoError(t, window.Record(stream.MetricPoint{
			Namespace:  rule.Metric.Namespace,
			MetricName: rule.Metric.MetricName,
			Value:      v,
			Timestamp:  at,
		}))
	}

	for i := 1; i <= 30; i++ {
		record(i, 27)
		_, err := ev.Evaluate(context.Background(), rule, tick(i, rule))
		require.NoError(t, err)
		snap, _ := ev.Snapshot(rule.ID)
		if i < 30 {
			assert.Equal(t, StatusInsufficientData, snap.Status, "tick %d", i)
		}
	}

	snap, _ := ev.Snapshot(rule.ID)
	assert.Equal(t, StatusAlarm, snap.Status)
	assert.Equal(t, 30, snap.BreachCount)
	require.Len(t, pub.all(), 1)

	record(31, 20)
	event, err := ev.Evaluate(context.Background(), rule, tick(31, rule))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, StatusAlarm, event.PreviousStatus)
	assert.Equal(t, StatusOK, event.NewStatus)
	assert.Equal(t, DirectionRecovering, event.Direction())

	snap, _ = ev.Snapshot(rule.ID)
	assert.Equal(t, 29, snap.BreachCount)
	assert.Equal(t, 30, snap.BufferLength)

	events := pub.all()
	require.Len(t, events, 2)
	assert.Equal(t, StatusOK, events[1].NewStatus)
}

func TestEvaluate_AggregationErrorIsMissingData(t *testing.T) {
	rule := testRule(1, 1, rules.MissingIgnore)
	agg := newScripted()
	agg.set(tick(1, rule), result{err: errors.New("store offline")})
	ev, pub := newTestEvaluator(agg)

	event, err := ev.Evaluate(context.Background(), rule, tick(1, rule))
	require.NoError(t, err)
	assert.Nil(t, event)

	snap, ok := ev.Snapshot(rule.ID)
	require.True(t, ok)
	assert.Equal(t, StatusInsufficientData, snap.Status)
	assert.Equal(t, 0, snap.BufferLength)
	assert.Empty(t, pub.all())

	breaching := testRule(1, 1, rules.MissingBreaching)
	breaching.ID = "Breaching"
	event, err = ev.Evaluate(context.Background(), breaching, tick(1, rule))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, StatusAlarm, event.NewStatus)
}

func TestEvaluate_SkippedPeriodsCountAsMissing(t *testing.T) {
	rule := testRule(3, 2, rules.MissingBreaching)
	agg := newScripted()
	agg.set(tick(1, rule), result{value: 10, ok: true})
	ev, _ := newTestEvaluator(agg)

	_, err := ev.Evaluate(context.Background(), rule, tick(1, rule))
	require.NoError(t, err)

	// ticks 2 and 3 never fired
	event, err := ev.Evaluate(context.Background(), rule, tick(4, rule))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, StatusAlarm, event.NewStatus)

	snap, _ := ev.Snapshot(rule.ID)
	assert.Equal(t, []string{"MISSING", "MISSING", "MISSING"}, snap.Window)
}

func TestEvaluate_SkippedPeriodsAreCappedAtWindow(t *testing.T) {
	rule := testRule(3, 3, rules.MissingBreaching)
	agg := newScripted()
	agg.set(tick(1, rule), result{value: 10, ok: true})
	agg.set(tick(1000, rule), result{value: 10, ok: true})
	ev, _ := newTestEvaluator(agg)

	_, err := ev.Evaluate(context.Background(), rule, tick(1, rule))
	require.NoError(t, err)
	_, err = ev.Evaluate(context.Background(), rule, tick(1000, rule))
	require.NoError(t, err)

	snap, _ := ev.Snapshot(rule.ID)
	assert.Equal(t, []string{"MISSING", "MISSING", "OK"}, snap.Window)
	assert.Equal(t, StatusOK, snap.Status)
}

type cancellingAggregator struct {
	cancel context.CancelFunc
}

func (c cancellingAggregator) Aggregate(ctx context.Context, _ stream.Selector, _ time.Duration, _ stream.Statistic, _ time.Time) (float64, bool, error) {
	c.cancel()
	return 0, false, ctx.Err()
}

func TestEvaluate_CancelledTickLeavesStateUntouched(t *testing.T) {
	rule := testRule(1, 1, rules.MissingBreaching)
	ctx, cancel := context.WithCancel(context.Background())
	ev, pub := newTestEvaluator(cancellingAggregator{cancel: cancel})

	event, err := ev.Evaluate(ctx, rule, tick(1, rule))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, event)

	snap, ok := ev.Snapshot(rule.ID)
	require.True(t, ok)
	assert.Equal(t, StatusInsufficientData, snap.Status)
	assert.Nil(t, snap.LastEvaluatedAt)
	assert.Equal(t, 0, snap.BufferLength)
	assert.Empty(t, pub.all())
}

func TestEvaluate_BreachCountInvariant(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	rule := testRule(5, 3, rules.MissingBreaching)
	agg := newScripted()
	for i := 1; i <= 200; i++ {
		switch rnd.Intn(3) {
		case 0:
			agg.set(tick(i, rule), result{value: 30, ok: true})
		case 1:
			agg.set(tick(i, rule), result{value: 20, ok: true})
		}
	}
	ev, pub := newTestEvaluator(agg)

	for i := 1; i <= 200; i++ {
		_, err := ev.Evaluate(context.Background(), rule, tick(i, rule))
		require.NoError(t, err)
		snap, _ := ev.Snapshot(rule.ID)
		assert.GreaterOrEqual(t, snap.BreachCount, 0)
		assert.LessOrEqual(t, snap.BreachCount, snap.BufferLength)
		assert.LessOrEqual(t, snap.BufferLength, rule.EvaluationPeriods)
	}

	// consecutive events always chain previous to new status
	events := pub.all()
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].NewStatus, events[i].PreviousStatus)
		assert.NotEqual(t, events[i].PreviousStatus, events[i].NewStatus)
	}
}

func TestEvaluate_ConcurrentTicksAreSerialisedPerRule(t *testing.T) {
	rule := testRule(10, 5, rules.MissingBreaching)
	ev, _ := newTestEvaluator(newScripted())

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ev.Evaluate(context.Background(), rule, tick(i, rule))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap, ok := ev.Snapshot(rule.ID)
	require.True(t, ok)
	assert.LessOrEqual(t, snap.BufferLength, 10)
	require.NotNil(t, snap.LastEvaluatedAt)
	assert.True(t, tick(50, rule).Equal(*snap.LastEvaluatedAt))
}

func TestEvaluator_Reset(t *testing.T) {
	rule := testRule(1, 1, rules.MissingBreaching)
	ev, pub := newTestEvaluator(newScripted())

	_, err := ev.Evaluate(context.Background(), rule, tick(1, rule))
	require.NoError(t, err)
	assert.True(t, ev.Reset(rule.ID))
	assert.False(t, ev.Reset(rule.ID))

	_, ok := ev.Snapshot(rule.ID)
	assert.False(t, ok)

	// a fresh state transitions again
	_, err = ev.Evaluate(context.Background(), rule, tick(2, rule))
	require.NoError(t, err)
	assert.Len(t, pub.all(), 2)
	assert.Len(t, ev.Snapshots(), 1)
}

type countingObserver struct {
	mu          sync.Mutex
	completed   int
	failures    map[apperrors.Kind]int
	transitions int
}

func (o *countingObserver) EvaluationCompleted(rules.AlarmRule, Status, bool, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed++
}

func (o *countingObserver) EvaluationFailed(_ rules.AlarmRule, kind apperrors.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[kind]++
}

func (o *countingObserver) TransitionRecorded(NotificationEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions++
}

func TestEvaluator_Observer(t *testing.T) {
	rule := testRule(2, 1, rules.MissingBreaching)
	agg := newScripted()
	agg.set(tick(1, rule), result{err: errors.New("boom")})
	obs := &countingObserver{failures: make(map[apperrors.Kind]int)}
	ev := NewEvaluator(agg, nil, logger.Discard(), WithObserver(obs))

	_, err := ev.Evaluate(context.Background(), rule, tick(1, rule))
	require.NoError(t, err)
	_, err = ev.Evaluate(context.Background(), rule, tick(5, rule))
	require.NoError(t, err)

	assert.Equal(t, 2, obs.completed)
	assert.Equal(t, 1, obs.failures[apperrors.KindIngestionUnavailable])
	assert.Equal(t, 1, obs.failures[apperrors.KindClockSkew])
	assert.Equal(t, 1, obs.transitions)
}

func TestNotificationEvent_Direction(t *testing.T) {
	tests := []struct {
		prev, next Status
		want       Direction
	}{
		{StatusOK, StatusAlarm, DirectionEntering},
		{StatusInsufficientData, StatusAlarm, DirectionEntering},
		{StatusAlarm, StatusOK, DirectionRecovering},
		{StatusAlarm, StatusInsufficientData, DirectionNone},
		{StatusInsufficientData, StatusOK, DirectionNone},
		{StatusOK, StatusInsufficientData, DirectionNone},
	}
	for _, tt := range tests {
		e := NotificationEvent{PreviousStatus: tt.prev, NewStatus: tt.next}
		assert.Equal(t, tt.want, e.Direction(), "%s -> %s", tt.prev, tt.next)
	}
}
