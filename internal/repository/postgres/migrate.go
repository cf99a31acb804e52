package postgres

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"

	apperrors "github.com/P4R1H/affiliate-platform/internal/shared/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending goose migration embedded under
// migrations/. It is safe to call on every process start: goose tracks
// applied versions in its own goose_db_version table.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return apperrors.NewDatabaseError("goose_set_dialect", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return apperrors.NewDatabaseError("goose_up", err)
	}
	return nil
}
