package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/database/models"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const defaultListLimit = 100

type JournalRepository struct {
	db  *sqlx.DB
	log *logrus.Logger
	now func() time.Time
}

func NewJournalRepository(db *sqlx.DB, log *logrus.Logger) *JournalRepository {
	return &JournalRepository{
		db:  db,
		log: log,
		now: time.Now,
	}
}

// Transitions

func (r *JournalRepository) RecordTransition(ctx context.Context, t *models.AlarmTransition) error {
	t.OccurredAt = t.OccurredAt.UTC()
	t.RecordedAt = r.now().UTC()

	query := `INSERT INTO alarm_transitions (id, rule_id, severity, previous_status, new_status,
			  direction, triggering_value, reason, occurred_at, recorded_at)
			  VALUES (:id, :rule_id, :severity, :previous_status, :new_status,
			  :direction, :triggering_value, :reason, :occurred_at, :recorded_at)`

	if _, err := r.db.NamedExecContext(ctx, query, t); err != nil {
		r.log.WithError(err).WithField("rule_id", t.RuleID).Error("Failed to record alarm transition")
		return fmt.Errorf("failed to record alarm transition: %w", err)
	}
	return nil
}

func (r *JournalRepository) ListTransitions(ctx context.Context, filter models.JournalFilter) ([]*models.AlarmTransition, error) {
	where, args := filterClause(filter)
	query := `SELECT id, rule_id, severity, previous_status, new_status, direction,
			  triggering_value, reason, occurred_at, recorded_at FROM alarm_transitions` +
		where + ` ORDER BY occurred_at DESC, recorded_at DESC LIMIT ?`
	args = append(args, limit(filter))

	transitions := []*models.AlarmTransition{}
	if err := r.db.SelectContext(ctx, &transitions, query, args...); err != nil {
		r.log.WithError(err).Error("Failed to list alarm transitions")
		return nil, fmt.Errorf("failed to list alarm transitions: %w", err)
	}
	return transitions, nil
}

func (r *JournalRepository) GetTransition(ctx context.Context, id string) (*models.AlarmTransition, error) {
	query := `SELECT id, rule_id, severity, previous_status, new_status, direction,
			  triggering_value, reason, occurred_at, recorded_at FROM alarm_transitions WHERE id = ?`

	var t models.AlarmTransition
	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.log.WithError(err).WithField("id", id).Error("Failed to get alarm transition")
		return nil, fmt.Errorf("failed to get alarm transition: %w", err)
	}
	return &t, nil
}

// Dispatch failures

func (r *JournalRepository) RecordDispatchFailure(ctx context.Context, f *models.DispatchFailure) error {
	f.OccurredAt = f.OccurredAt.UTC()
	f.RecordedAt = r.now().UTC()

	query := `INSERT INTO dispatch_failures (event_id, rule_id, channel, previous_status,
			  new_status, error, occurred_at, recorded_at)
			  VALUES (:event_id, :rule_id, :channel, :previous_status,
			  :new_status, :error, :occurred_at, :recorded_at)`

	result, err := r.db.NamedExecContext(ctx, query, f)
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"rule_id": f.RuleID,
			"channel": f.Channel,
		}).Error("Failed to record dispatch failure")
		return fmt.Errorf("failed to record dispatch failure: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		f.ID = id
	}
	return nil
}

func (r *JournalRepository) ListDispatchFailures(ctx context.Context, filter models.JournalFilter) ([]*models.DispatchFailure, error) {
	where, args := filterClause(filter)
	query := `SELECT id, event_id, rule_id, channel, previous_status, new_status, error,
			  occurred_at, recorded_at FROM dispatch_failures` +
		where + ` ORDER BY occurred_at DESC, id DESC LIMIT ?`
	args = append(args, limit(filter))

	failures := []*models.DispatchFailure{}
	if err := r.db.SelectContext(ctx, &failures, query, args...); err != nil {
		r.log.WithError(err).Error("Failed to list dispatch failures")
		return nil, fmt.Errorf("failed to list dispatch failures: %w", err)
	}
	return failures, nil
}

// Prune deletes journal rows that occurred before the cutoff and returns how
// many were removed.
func (r *JournalRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin prune: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"alarm_transitions", "dispatch_failures"} {
		result, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE occurred_at < ?", before.UTC())
		if err != nil {
			r.log.WithError(err).WithField("table", table).Error("Failed to prune journal")
			return 0, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		n, _ := result.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return total, nil
}

func filterClause(filter models.JournalFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.RuleID != "" {
		conditions = append(conditions, "rule_id = ?")
		args = append(args, filter.RuleID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "occurred_at < ?")
		args = append(args, filter.Until.UTC())
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func limit(filter models.JournalFilter) int {
	if filter.Limit <= 0 {
		return defaultListLimit
	}
	return filter.Limit
}
