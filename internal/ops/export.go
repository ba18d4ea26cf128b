package ops

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/hpungsan/scrapflow/internal/config"
	"github.com/hpungsan/scrapflow/internal/db"
	"github.com/hpungsan/scrapflow/internal/errors"
	"github.com/hpungsan/scrapflow/internal/scrap"
)

// ExportSchemaVersion is written to the header of every backup file.
const ExportSchemaVersion = "1.0"

// Record kinds in a backup file.
const (
	RecordKindCategory = "category"
	RecordKindScrap    = "scrap"
)

// ExportHeader is the first line of a backup file.
type ExportHeader struct {
	ScrapflowExport bool   `json:"_scrapflow_export"`
	SchemaVersion   string `json:"schema_version"`
	ExportedAt      int64  `json:"exported_at"`
}

// ExportRecord is one category or scrap line of a backup file.
// Image files are referenced by path, not embedded.
type ExportRecord struct {
	Kind     string          `json:"kind"`
	Category *scrap.Category `json:"category,omitempty"`
	Scrap    *scrap.Scrap    `json:"scrap,omitempty"`
}

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path string // optional, default: ~/.scrapflow/exports/scraps-<timestamp>.jsonl
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Categories int    `json:"categories"`
	Scraps     int    `json:"scraps"`
	ExportedAt int64  `json:"exported_at"`
}

// Export writes every category and scrap to a JSONL backup file. The file is
// written to a temporary name and renamed into place, so an existing backup
// at the same path survives a failed export.
func Export(ctx context.Context, database *sql.DB, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	started := now()

	exportPath := input.Path
	if exportPath == "" {
		dir, err := DefaultExportsDir()
		if err != nil {
			return nil, err
		}
		exportPath = filepath.Join(dir, "scraps-"+started.Format("2006-01-02T150405")+BackupExt)
	}

	if err := ValidateBackupPath(exportPath, PathCheckWrite, cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	out := &ExportOutput{Path: exportPath, ExportedAt: started.Unix()}

	if err := enc.Encode(ExportHeader{
		ScrapflowExport: true,
		SchemaVersion:   ExportSchemaVersion,
		ExportedAt:      out.ExportedAt,
	}); err != nil {
		return nil, errors.NewInternal(err)
	}

	categories, err := db.ListCategoriesWithCounts(ctx, database)
	if err != nil {
		return nil, err
	}
	for i := range categories {
		c := categories[i]
		if scrap.IsReserved(c.Name) {
			continue
		}
		c.Count = 0
		if err := enc.Encode(ExportRecord{Kind: RecordKindCategory, Category: &c}); err != nil {
			return nil, errors.NewInternal(err)
		}
		out.Categories++
	}

	rows, err := db.StreamScraps(ctx, database)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("export")
		}
		s, err := db.ScanScrapFromRows(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		if err := enc.Encode(ExportRecord{Kind: RecordKindScrap, Scrap: s}); err != nil {
			return nil, errors.NewInternal(err)
		}
		out.Scraps++
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	if err := w.Flush(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	// Close before rename (required on Windows)
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink at the destination
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("export path is a symlink")
	}

	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return out, nil
}
