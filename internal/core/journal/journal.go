package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	"github.com/frostdev-ops/pma-alerting-go/internal/database/models"
	apperrors "github.com/frostdev-ops/pma-alerting-go/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Store persists journal entries.
type Store interface {
	RecordTransition(ctx context.Context, transition *models.AlarmTransition) error
	RecordDispatchFailure(ctx context.Context, failure *models.DispatchFailure) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

const (
	defaultBuffer = 256
	writeTimeout  = 5 * time.Second
)

// Writer records alarm transitions and dispatch failures off the evaluation
// path. Publish and Report never block; entries that do not fit the buffer
// are dropped and counted.
type Writer struct {
	store     Store
	logger    *logrus.Logger
	retention time.Duration
	now       func() time.Time

	entries chan entry
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	stopped bool

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

type entry struct {
	transition *models.AlarmTransition
	failure    *models.DispatchFailure
}

// Stats summarises writer activity.
type Stats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
	Pending int   `json:"pending"`
}

// NewWriter creates a writer over store. A zero retention disables pruning.
func NewWriter(store Store, retention time.Duration, logger *logrus.Logger) *Writer {
	return &Writer{
		store:     store,
		logger:    logger,
		retention: retention,
		now:       time.Now,
		entries:   make(chan entry, defaultBuffer),
	}
}

// Start launches the background writer.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop drains pending entries and waits for the writer to exit.
func (w *Writer) Stop() {
	w.once.Do(func() {
		w.mu.Lock()
		w.stopped = true
		close(w.entries)
		w.mu.Unlock()
	})
	w.wg.Wait()
}

func (w *Writer) run() {
	defer w.wg.Done()
	for e := range w.entries {
		w.write(e)
	}
}

func (w *Writer) write(e entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch {
	case e.transition != nil:
		err = w.store.RecordTransition(ctx, e.transition)
	case e.failure != nil:
		err = w.store.RecordDispatchFailure(ctx, e.failure)
	}
	if err != nil {
		w.failed.Add(1)
		w.logger.WithError(err).Warn("Failed to write journal entry")
		return
	}
	w.written.Add(1)
}

func (w *Writer) enqueue(e entry) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		w.dropped.Add(1)
		return
	}
	select {
	case w.entries <- e:
	default:
		w.dropped.Add(1)
		w.logger.Warn("Journal buffer full, entry dropped")
	}
}

// Publish journals a transition.
func (w *Writer) Publish(event alarm.NotificationEvent) {
	w.enqueue(entry{transition: &models.AlarmTransition{
		ID:              event.ID,
		RuleID:          event.RuleID,
		Severity:        string(event.Severity),
		PreviousStatus:  string(event.PreviousStatus),
		NewStatus:       string(event.NewStatus),
		Direction:       string(event.Direction()),
		TriggeringValue: event.TriggeringValue,
		Reason:          event.Reason,
		OccurredAt:      event.Timestamp,
	}})
}

// Report journals a failed or dropped dispatch.
func (w *Writer) Report(err *apperrors.AlarmError, event alarm.NotificationEvent) {
	w.enqueue(entry{failure: &models.DispatchFailure{
		EventID:        event.ID,
		RuleID:         event.RuleID,
		Channel:        err.Channel,
		PreviousStatus: string(event.PreviousStatus),
		NewStatus:      string(event.NewStatus),
		Error:          err.Error(),
		OccurredAt:     event.Timestamp,
	}})
}

// Prune removes entries older than the retention period.
func (w *Writer) Prune(ctx context.Context) (int64, error) {
	if w.retention <= 0 {
		return 0, nil
	}
	cutoff := w.now().Add(-w.retention)
	n, err := w.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.WithFields(logrus.Fields{
			"removed": n,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("Pruned alarm journal")
	}
	return n, nil
}

// Stats returns writer counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
		Pending: len(w.entries),
	}
}
