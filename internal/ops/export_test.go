package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/scrapflow/internal/config"
	"github.com/hpungsan/scrapflow/internal/errors"
	"github.com/hpungsan/scrapflow/internal/scrap"
)

func backupConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AllowedPaths = []string{dir}
	return cfg, dir
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestExport(t *testing.T) {
	database := setupDB(t)
	cfg, dir := backupConfig(t)
	ctx := context.Background()

	_, err := UpsertCategory(ctx, database, CategoryInput{Name: "Travel", Color: "#EF4444"})
	require.NoError(t, err)
	mustSave(t, database, SaveInput{ImagePath: "/a.png", Category: "Travel", Comment: stringPtr("<b>trip</b>")})
	mustSave(t, database, SaveInput{ImagePath: "/b.png", Category: "Dev", ExtractedText: stringPtr("code")})

	path := filepath.Join(dir, "backup.jsonl")
	out, err := Export(ctx, database, cfg, ExportInput{Path: path})
	require.NoError(t, err)
	assert.Equal(t, path, out.Path)
	assert.Equal(t, 4, out.Categories, "reserved category is not exported")
	assert.Equal(t, 2, out.Scraps)

	lines := readLines(t, path)
	require.Len(t, lines, 1+4+2)

	var header ExportHeader
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &header))
	assert.True(t, header.ScrapflowExport)
	assert.Equal(t, ExportSchemaVersion, header.SchemaVersion)

	assert.Contains(t, lines[len(lines)-2], "<b>trip</b>", "HTML is not escaped")

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	// No temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExport_RejectsPathOutsideAllowedDirs(t *testing.T) {
	database := setupDB(t)
	cfg := config.DefaultConfig()

	_, err := Export(context.Background(), database, cfg, ExportInput{Path: filepath.Join(t.TempDir(), "x.jsonl")})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := setupDB(t)
	cfg, dir := backupConfig(t)
	ctx := context.Background()

	_, err := UpsertCategory(ctx, src, CategoryInput{Name: "Travel", Color: "#EF4444"})
	require.NoError(t, err)
	a := mustSave(t, src, SaveInput{ImagePath: "/a.png", Category: "Travel", SourceURL: stringPtr("https://x.test")})
	b := mustSave(t, src, SaveInput{ImagePath: "/b.png", Category: "Dev", ExtractedText: stringPtr("hello")})

	path := filepath.Join(dir, "backup.jsonl")
	_, err = Export(ctx, src, cfg, ExportInput{Path: path})
	require.NoError(t, err)

	dst := setupDB(t)
	out, err := Import(ctx, dst, cfg, ImportInput{Path: path})
	require.NoError(t, err)
	assert.Empty(t, out.Errors)
	assert.Equal(t, 2, out.Imported)
	assert.Equal(t, 4, out.Categories)

	for _, want := range []*scrap.Scrap{a, b} {
		got, err := Get(ctx, dst, want.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 1, categoryCount(t, dst, "Travel"))
	assert.Equal(t, 1, categoryCount(t, dst, "Dev"))

	var stored int
	require.NoError(t, dst.QueryRow("SELECT count FROM categories WHERE name = 'Travel'").Scan(&stored))
	assert.Equal(t, 1, stored)
}

func TestImport_ModeErrorIsAtomic(t *testing.T) {
	database := setupDB(t)
	cfg, dir := backupConfig(t)
	ctx := context.Background()

	existing := mustSave(t, database, SaveInput{ImagePath: "/e.png", Category: "Dev"})

	path := filepath.Join(dir, "in.jsonl")
	content := strings.Join([]string{
		`{"_scrapflow_export":true,"schema_version":"1.0","exported_at":1}`,
		`{"kind":"scrap","scrap":{"id":"01NEW0000000000000000000AA","image_path":"/n.png","category":"Dev","created_at":100}}`,
		`{"kind":"scrap","scrap":{"id":"` + existing.ID + `","image_path":"/e.png","category":"Dev","created_at":100}}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	out, err := Import(ctx, database, cfg, ImportInput{Path: path})
	require.NoError(t, err)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "ID_COLLISION", out.Errors[0].Code)
	assert.Equal(t, 0, out.Imported)

	_, err = Get(ctx, database, "01NEW0000000000000000000AA")
	assert.True(t, errors.Is(err, errors.ErrNotFound), "rolled back")
}

func TestImport_ModeSkip(t *testing.T) {
	database := setupDB(t)
	cfg, dir := backupConfig(t)
	ctx := context.Background()

	existing := mustSave(t, database, SaveInput{ImagePath: "/e.png", Category: "Dev"})

	path := filepath.Join(dir, "in.jsonl")
	content := strings.Join([]string{
		`not json`,
		`{"kind":"category","category":{"name":"Dev","color":"#000000"}}`,
		`{"kind":"scrap","scrap":{"id":"01NEW0000000000000000000AA","image_path":"/n.png","category":"Dev","created_at":100}}`,
		`{"kind":"scrap","scrap":{"id":"` + existing.ID + `","image_path":"/e.png","category":"Dev","created_at":100}}`,
		`{"kind":"scrap","scrap":{"id":"01BAD0000000000000000000AA","image_path":"/x.png","category":"Nowhere","created_at":100}}`,
		`{"kind":"scrap","scrap":{"id":"01ALL0000000000000000000AA","image_path":"/x.png","category":"All","created_at":100}}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	out, err := Import(ctx, database, cfg, ImportInput{Path: path, Mode: ImportModeSkip})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Imported)
	assert.Equal(t, 4, out.Skipped)
	require.Len(t, out.Errors, 4)
	assert.Equal(t, "PARSE_ERROR", out.Errors[0].Code)
	assert.Equal(t, 1, out.Errors[0].Line)

	// Import never recolors an existing category
	var color string
	require.NoError(t, database.QueryRow("SELECT color FROM categories WHERE name = 'Dev'").Scan(&color))
	assert.Equal(t, "#3B82F6", color)

	assert.Equal(t, 2, categoryCount(t, database, "Dev"))
}

func TestImport_ModeErrorStopsOnParseErrors(t *testing.T) {
	database := setupDB(t)
	cfg, dir := backupConfig(t)

	path := filepath.Join(dir, "in.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"kind":"mystery"}`), 0600))

	out, err := Import(context.Background(), database, cfg, ImportInput{Path: path})
	require.NoError(t, err)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "INVALID_RECORD", out.Errors[0].Code)
}

func TestImport_Validation(t *testing.T) {
	database := setupDB(t)
	cfg, dir := backupConfig(t)

	_, err := Import(context.Background(), database, cfg, ImportInput{Path: filepath.Join(dir, "x.jsonl"), Mode: "replace"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = Import(context.Background(), database, cfg, ImportInput{Path: filepath.Join(dir, "missing.jsonl")})
	assert.True(t, errors.Is(err, errors.ErrFileNotFound), "got %v", err)
}
