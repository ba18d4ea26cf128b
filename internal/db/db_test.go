package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/scrapflow/internal/scrap"
)

func TestInit(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	dbPath := filepath.Join(tmpDir, DBFileName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file not created at %s", dbPath)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}

	for _, table := range []string{"scraps", "categories"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("%s table not found: %v", table, err)
		}
	}
}

func TestInit_CreatesDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	baseDir := filepath.Join(tmpDir, "nested", "path", ".scrapflow")

	db, err := Init(baseDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		t.Errorf("base directory not created at %s", baseDir)
	}
}

func TestInit_SeedsDefaultCategories(t *testing.T) {
	db, err := Init(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	categories, err := ListCategoriesWithCounts(context.Background(), db)
	require.NoError(t, err)

	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = c.Name
	}
	assert.Equal(t, []string{scrap.AllCategory, "Business", "Design", "Dev"}, names)
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Init(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, EnsureSchema(ctx, db))
	require.NoError(t, EnsureSchema(ctx, db))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM categories").Scan(&count))
	assert.Equal(t, len(scrap.DefaultCategories), count, "re-seeding must not duplicate categories")

	version, err := GetUserVersion(db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestEnsureSchema_SeedingKeepsCustomizedDefaults(t *testing.T) {
	ctx := context.Background()
	db, err := Init(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, UpsertCategory(ctx, db, scrap.Category{Name: "Dev", Color: "#000000"}, true))
	insertTestScrap(t, db, "01SEED0001", "Dev", 1000)
	require.NoError(t, RefreshCategoryCount(ctx, db, "Dev"))

	require.NoError(t, EnsureSchema(ctx, db))

	var color string
	require.NoError(t, db.QueryRow("SELECT color FROM categories WHERE name = 'Dev'").Scan(&color))
	assert.Equal(t, "#000000", color, "seeding must not overwrite a user color")

	stored, err := StoredCategoryCount(ctx, db, "Dev")
	require.NoError(t, err)
	assert.Equal(t, 1, stored, "seeding must not reset a stored count")
}

func TestInit_MigrationIdempotent(t *testing.T) {
	tmpDir := t.TempDir()

	db1, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("first Init() error = %v", err)
	}
	db1.Close()

	db2, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	defer db2.Close()

	version, err := GetUserVersion(db2)
	if err != nil {
		t.Fatalf("GetUserVersion() error = %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("user_version after second Init = %d, want %d", version, CurrentSchemaVersion)
	}
}

func TestInit_UpgradesLegacyScrapsTable(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, DBFileName)

	// First-release layout: no extracted_text, no source_url
	legacy, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = legacy.Exec(`
		CREATE TABLE scraps (
		  id         TEXT PRIMARY KEY,
		  image_path TEXT NOT NULL,
		  comment    TEXT,
		  category   TEXT NOT NULL,
		  created_at INTEGER NOT NULL
		);
		CREATE TABLE categories (
		  name  TEXT PRIMARY KEY,
		  color TEXT NOT NULL,
		  count INTEGER NOT NULL DEFAULT 0
		);
		INSERT INTO categories (name, color, count) VALUES ('Dev', '#3B82F6', 1);
		INSERT INTO scraps (id, image_path, comment, category, created_at)
		VALUES ('01LEGACY01', '/old.png', 'kept', 'Dev', 1000);
	`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	db, err := Init(tmpDir)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	for _, column := range []string{"extracted_text", "source_url"} {
		exists, err := ColumnExists(ctx, db, "scraps", column)
		require.NoError(t, err)
		assert.True(t, exists, "column %s should be added", column)
	}

	got, err := GetScrap(ctx, db, "01LEGACY01")
	require.NoError(t, err)
	require.NotNil(t, got.Comment)
	assert.Equal(t, "kept", *got.Comment)
	assert.Nil(t, got.ExtractedText)
	assert.Nil(t, got.SourceURL)

	// A second pass finds the columns and does nothing
	require.NoError(t, EnsureSchema(ctx, db))
}

func TestColumnExists(t *testing.T) {
	db, err := Init(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	exists, err := ColumnExists(ctx, db, "scraps", "image_path")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = ColumnExists(ctx, db, "scraps", "no_such_column")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInit_SchemaIndexes(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	indexes := []string{
		"idx_scraps_created",
		"idx_scraps_category_created",
		"idx_scraps_missing_text",
	}

	for _, idx := range indexes {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&name)
		if err != nil {
			t.Errorf("index %s not found: %v", idx, err)
		}
	}
}

func TestUserVersion(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	if err := SetUserVersion(db, 99); err != nil {
		t.Fatalf("SetUserVersion() error = %v", err)
	}

	version, err := GetUserVersion(db)
	if err != nil {
		t.Fatalf("GetUserVersion() error = %v", err)
	}
	if version != 99 {
		t.Errorf("user_version = %d, want 99", version)
	}

	// A newer on-disk version is left alone
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	version, _ = GetUserVersion(db)
	if version != 99 {
		t.Errorf("user_version after EnsureSchema = %d, want 99", version)
	}
}
