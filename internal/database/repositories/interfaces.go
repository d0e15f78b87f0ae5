package repositories

import (
	"context"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/database/models"
)

// JournalRepository defines alarm journal data access methods
type JournalRepository interface {
	RecordTransition(ctx context.Context, transition *models.AlarmTransition) error
	ListTransitions(ctx context.Context, filter models.JournalFilter) ([]*models.AlarmTransition, error)
	GetTransition(ctx context.Context, id string) (*models.AlarmTransition, error)
	RecordDispatchFailure(ctx context.Context, failure *models.DispatchFailure) error
	ListDispatchFailures(ctx context.Context, filter models.JournalFilter) ([]*models.DispatchFailure, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}
