package database

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/repository/sqlstore"
)

// Stores bundles the record stores selected by DB_DRIVER.
type Stores struct {
	Assessments repository.Assessments
	Questions   repository.Questions
	Students    repository.Students
	Attempts    repository.Attempts

	Ping  func(ctx context.Context) error
	Close func()
}

// OpenStores connects to PostgreSQL, or to SQLite when DB_DRIVER=sqlite.
func OpenStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Stores, error) {
	if cfg.UseSQLite() {
		db, err := NewSQLiteDB(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if err := sqlstore.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return &Stores{
			Assessments: sqlstore.NewAssessmentStore(db),
			Questions:   sqlstore.NewQuestionStore(db),
			Students:    sqlstore.NewStudentStore(db),
			Attempts:    sqlstore.NewAttemptStore(db),
			Ping:        db.PingContext,
			Close:       func() { db.Close() },
		}, nil
	}

	pool, err := NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Assessments: repository.NewAssessmentRepository(pool),
		Questions:   repository.NewQuestionRepository(pool),
		Students:    repository.NewStudentRepository(pool),
		Attempts:    repository.NewAttemptRepository(pool),
		Ping:        pool.Ping,
		Close:       pool.Close,
	}, nil
}
