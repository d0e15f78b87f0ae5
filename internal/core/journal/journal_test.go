package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
	"github.com/frostdev-ops/pma-alerting-go/internal/database/models"
	apperrors "github.com/frostdev-ops/pma-alerting-go/pkg/errors"
	"github.com/frostdev-ops/pma-alerting-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type memoryStore struct {
	mu          sync.Mutex
	transitions []*models.AlarmTransition
	failures    []*models.DispatchFailure
	cutoff      time.Time
	err         error
	block       chan struct{}
}

func (m *memoryStore) RecordTransition(_ context.Context, t *models.AlarmTransition) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.transitions = append(m.transitions, t)
	return nil
}

func (m *memoryStore) RecordDispatchFailure(_ context.Context, f *models.DispatchFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, f)
	return nil
}

func (m *memoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoff = before
	return 4, nil
}

func event(prev, next alarm.Status) alarm.NotificationEvent {
	v := 2.0
	rule := rules.AlarmRule{ID: "NPiInvalidHighSev", Severity: rules.SeverityHigh}
	return alarm.NewEvent(rule, prev, next, &v, "2 of 3 datapoints breached", t0)
}

func TestWriter_RecordsTransitionsAndFailures(t *testing.T) {
	store := &memoryStore{}
	w := NewWriter(store, 0, logger.Discard())
	w.Start()

	ev := event(alarm.StatusOK, alarm.StatusAlarm)
	w.Publish(ev)
	w.Report(apperrors.DispatchFailure(ev.RuleID, "pager", errors.New("timeout")), ev)
	w.Stop()

	require.Len(t, store.transitions, 1)
	tr := store.transitions[0]
	assert.Equal(t, ev.ID, tr.ID)
	assert.Equal(t, "HIGH", tr.Severity)
	assert.Equal(t, "ENTERING_ALARM", tr.Direction)
	assert.Equal(t, 2.0, *tr.TriggeringValue)
	assert.True(t, t0.Equal(tr.OccurredAt))

	require.Len(t, store.failures, 1)
	assert.Equal(t, "pager", store.failures[0].Channel)
	assert.Equal(t, ev.ID, store.failures[0].EventID)
	assert.Contains(t, store.failures[0].Error, "timeout")

	assert.Equal(t, Stats{Written: 2}, w.Stats())
}

func TestWriter_DropsWhenFullOrStopped(t *testing.T) {
	store := &memoryStore{block: make(chan struct{})}
	w := NewWriter(store, 0, logger.Discard())
	w.entries = make(chan entry, 1)
	w.Start()

	// The first entry is taken by the writer and blocks in the store, the
	// second fills the buffer and the third is dropped.
	w.Publish(event(alarm.StatusOK, alarm.StatusAlarm))
	require.Eventually(t, func() bool { return len(w.entries) == 0 }, time.Second, 5*time.Millisecond)
	w.Publish(event(alarm.StatusAlarm, alarm.StatusOK))
	w.Publish(event(alarm.StatusOK, alarm.StatusAlarm))
	assert.Equal(t, int64(1), w.Stats().Dropped)

	close(store.block)
	w.Stop()
	w.Publish(event(alarm.StatusOK, alarm.StatusAlarm))

	stats := w.Stats()
	assert.Equal(t, int64(2), stats.Written)
	assert.Equal(t, int64(2), stats.Dropped)
}

func TestWriter_CountsStoreFailures(t *testing.T) {
	store := &memoryStore{err: errors.New("disk full")}
	w := NewWriter(store, 0, logger.Discard())
	w.Start()
	w.Publish(event(alarm.StatusOK, alarm.StatusAlarm))
	w.Stop()

	assert.Equal(t, int64(1), w.Stats().Failed)
	assert.Empty(t, store.transitions)
}

func TestWriter_Prune(t *testing.T) {
	store := &memoryStore{}

	disabled := NewWriter(store, 0, logger.Discard())
	n, err := disabled.Prune(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, store.cutoff.IsZero())

	w := NewWriter(store, 24*time.Hour, logger.Discard())
	w.now = func() time.Time { return t0 }
	n, err = w.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, t0.Add(-24*time.Hour), store.cutoff)
}
