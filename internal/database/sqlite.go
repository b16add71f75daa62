package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	_ "modernc.org/sqlite"
)

// NewSQLiteDB opens the offline single-node store. The schema is created by
// sqlstore.EnsureSchema, not by migrations.
func NewSQLiteDB(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", cfg.SQLiteDSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	log.Info().Str("dsn", cfg.SQLiteDSN).Msg("SQLite opened")
	return db, nil
}
