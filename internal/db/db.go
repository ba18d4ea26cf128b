package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hpungsan/scrapflow/internal/config"
	"github.com/hpungsan/scrapflow/internal/errors"
	"github.com/hpungsan/scrapflow/internal/scrap"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// DBFileName is the database file created inside the base directory.
const DBFileName = "scrapflow.db"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scraps (
  id             TEXT PRIMARY KEY,
  image_path     TEXT NOT NULL,
  comment        TEXT,
  category       TEXT NOT NULL,
  extracted_text TEXT,
  source_url     TEXT,
  created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scraps_created
ON scraps(created_at DESC, id DESC);

CREATE INDEX IF NOT EXISTS idx_scraps_category_created
ON scraps(category, created_at DESC);

CREATE TABLE IF NOT EXISTS categories (
  name  TEXT PRIMARY KEY,
  color TEXT NOT NULL,
  count INTEGER NOT NULL DEFAULT 0
);
`

// columnMigration adds a column introduced after the first release.
type columnMigration struct {
	table  string
	column string
	ddl    string
}

// scrapColumnMigrations bring a scraps table created by an older release up to date.
var scrapColumnMigrations = []columnMigration{
	{"scraps", "extracted_text", "ALTER TABLE scraps ADD COLUMN extracted_text TEXT"},
	{"scraps", "source_url", "ALTER TABLE scraps ADD COLUMN source_url TEXT"},
}

// Init initializes the SQLite database at baseDir/scrapflow.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.scrapflow.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, errors.NewStorageUnavailable(fmt.Errorf("failed to create base directory: %w", err))
	}
	_ = os.Chmod(baseDir, 0700)

	// Pragmas in the connection string apply to every pooled connection
	dbPath := filepath.Join(baseDir, DBFileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.NewStorageUnavailable(fmt.Errorf("failed to open database: %w", err))
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, errors.NewStorageUnavailable(err)
	}

	if err := EnsureSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// EnsureSchema creates or upgrades the schema. It is safe to run any number of times
// and must complete before any other store operation.
//
// Table creation and seeding failures are fatal. A failed additive column migration
// is logged and skipped: the pre-existing columns stay usable.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return errors.NewStorageUnavailable(fmt.Errorf("create tables: %w", err))
	}

	for _, m := range scrapColumnMigrations {
		if err := addColumnIfMissing(ctx, db, m); err != nil {
			slog.Warn("schema: additive migration failed",
				"code", errors.ErrMigrationWarning,
				"table", m.table,
				"column", m.column,
				"error", err)
		}
	}

	// Older rows may hold "" for "no text"; missing-text queries only look for NULL
	if _, err := db.ExecContext(ctx,
		`UPDATE scraps SET extracted_text = NULL WHERE extracted_text = ''`); err != nil {
		slog.Warn("schema: empty extracted text not cleared",
			"code", errors.ErrMigrationWarning,
			"error", err)
	}

	// Depends on extracted_text, so it follows the column migrations
	if _, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_scraps_missing_text
		ON scraps(created_at DESC)
		WHERE extracted_text IS NULL`); err != nil {
		slog.Warn("schema: missing-text index not created",
			"code", errors.ErrMigrationWarning,
			"error", err)
	}

	for _, c := range scrap.DefaultCategories {
		if err := UpsertCategory(ctx, db, c, false); err != nil {
			return errors.NewStorageUnavailable(fmt.Errorf("seed category %s: %w", c.Name, err))
		}
	}

	version, err := GetUserVersion(db)
	if err != nil {
		return errors.NewStorageUnavailable(err)
	}
	if version < CurrentSchemaVersion {
		if err := SetUserVersion(db, CurrentSchemaVersion); err != nil {
			return errors.NewStorageUnavailable(err)
		}
	}

	return nil
}

// addColumnIfMissing runs m.ddl unless m.column already exists on m.table.
func addColumnIfMissing(ctx context.Context, db *sql.DB, m columnMigration) error {
	exists, err := ColumnExists(ctx, db, m.table, m.column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := db.ExecContext(ctx, m.ddl); err != nil {
		return fmt.Errorf("add column %s.%s: %w", m.table, m.column, err)
	}
	slog.Info("schema: added column", "table", m.table, "column", m.column)
	return nil
}

// ColumnExists reports whether table has a column with the given name.
func ColumnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("inspect columns of %s: %w", table, err)
	}
	return count > 0, nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
