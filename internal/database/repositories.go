package database

import (
	"github.com/frostdev-ops/pma-alerting-go/internal/database/repositories"
	"github.com/frostdev-ops/pma-alerting-go/internal/database/sqlite"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Repositories holds all repository instances
type Repositories struct {
	Journal repositories.JournalRepository
}

// NewRepositories creates all repository instances
func NewRepositories(db *sqlx.DB, log *logrus.Logger) *Repositories {
	return &Repositories{
		Journal: sqlite.NewJournalRepository(db, log),
	}
}
