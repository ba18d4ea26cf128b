package ops

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hpungsan/scrapflow/internal/config"
	"github.com/hpungsan/scrapflow/internal/db"
	"github.com/hpungsan/scrapflow/internal/errors"
	"github.com/hpungsan/scrapflow/internal/scrap"
)

// ImportMode controls what happens when a scrap id already exists.
type ImportMode string

const (
	ImportModeError ImportMode = "error" // abort the whole import, nothing is written
	ImportModeSkip  ImportMode = "skip"  // keep the stored scrap, skip the imported one
)

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: error
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Categories int           `json:"categories"`
	Imported   int           `json:"imported"`
	Skipped    int           `json:"skipped"`
	Errors     []ImportError `json:"errors"`
}

// ImportError describes one rejected line.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// importLine is an ExportRecord or the header, decoded from one line.
type importLine struct {
	ExportRecord
	ScrapflowExport bool `json:"_scrapflow_export"`
}

type parsedRecord struct {
	line   int
	record ExportRecord
}

// Import reads a backup written by Export. Categories are created when absent
// and never recolored. Scraps keep their original ids and timestamps. Every
// write happens in one transaction, and category counts are re-derived afterwards.
func Import(ctx context.Context, database *sql.DB, cfg *config.Config, input ImportInput) (*ImportOutput, error) {
	if input.Mode == "" {
		input.Mode = ImportModeError
	}
	if input.Mode != ImportModeError && input.Mode != ImportModeSkip {
		return nil, errors.NewInvalidRequest("mode must be one of: error, skip")
	}
	if err := ValidateBackupPath(input.Path, PathCheckRead, cfg); err != nil {
		return nil, err
	}

	file, err := openFileNoFollowRead(input.Path)
	if err != nil {
		if errors.Is(err, errors.ErrFileNotFound) || errors.Is(err, errors.ErrInvalidRequest) {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	records, parseErrors := parseBackup(file)
	if input.Mode == ImportModeError && len(parseErrors) > 0 {
		return &ImportOutput{Errors: parseErrors}, nil
	}

	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback() //nolint:errcheck

	out := &ImportOutput{Errors: parseErrors, Skipped: len(parseErrors)}

	for _, pr := range records {
		switch pr.record.Kind {
		case RecordKindCategory:
			c := pr.record.Category
			if err := db.UpsertCategory(ctx, tx, scrap.Category{Name: c.Name, Color: c.Color}, false); err != nil {
				return nil, err
			}
			out.Categories++

		case RecordKindScrap:
			s := pr.record.Scrap
			rejected, err := checkImportedScrap(ctx, tx, pr.line, s)
			if err != nil {
				return nil, err
			}
			if rejected == nil {
				exists, err := db.ScrapExists(ctx, tx, s.ID)
				if err != nil {
					return nil, err
				}
				if exists {
					rejected = &ImportError{
						Line:    pr.line,
						ID:      s.ID,
						Code:    "ID_COLLISION",
						Message: fmt.Sprintf("scrap with id %q already exists", s.ID),
					}
				}
			}
			if rejected != nil {
				if input.Mode == ImportModeError {
					return &ImportOutput{Errors: []ImportError{*rejected}}, nil
				}
				out.Errors = append(out.Errors, *rejected)
				out.Skipped++
				continue
			}

			if err := db.InsertScrap(ctx, tx, s); err != nil {
				return nil, err
			}
			out.Imported++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewInternal(err)
	}

	if err := db.RefreshAllCategoryCounts(ctx, database); err != nil {
		slog.Error("category count refresh failed",
			"code", errors.ErrCountDriftRisk,
			"op", "import",
			"error", err)
	}

	return out, nil
}

// checkImportedScrap validates one scrap record against the rules Save enforces.
func checkImportedScrap(ctx context.Context, tx db.Execer, line int, s *scrap.Scrap) (*ImportError, error) {
	reject := func(msg string) (*ImportError, error) {
		return &ImportError{Line: line, ID: s.ID, Code: string(errors.ErrInvalidRequest), Message: msg}, nil
	}

	if strings.TrimSpace(s.ImagePath) == "" {
		return reject("image_path is required")
	}
	if scrap.IsReserved(s.Category) {
		return reject("category " + scrap.AllCategory + " cannot hold scraps")
	}
	exists, err := db.CategoryExists(ctx, tx, s.Category)
	if err != nil {
		return nil, err
	}
	if !exists {
		return reject(fmt.Sprintf("category does not exist: %s", s.Category))
	}
	return nil, nil
}

// parseBackup reads every line of a backup file. The header is skipped; lines
// that cannot be used are reported with their line number.
func parseBackup(r io.Reader) ([]parsedRecord, []ImportError) {
	var records []parsedRecord
	var parseErrors []ImportError

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var rec importLine
		if err := json.Unmarshal(line, &rec); err != nil {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}
		if rec.ScrapflowExport {
			continue
		}

		if msg := validateRecordShape(rec.ExportRecord); msg != "" {
			id := ""
			if rec.Scrap != nil {
				id = rec.Scrap.ID
			}
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				ID:      id,
				Code:    "INVALID_RECORD",
				Message: msg,
			})
			continue
		}

		records = append(records, parsedRecord{line: lineNum, record: rec.ExportRecord})
	}

	if err := scanner.Err(); err != nil {
		parseErrors = append(parseErrors, ImportError{
			Line:    lineNum,
			Code:    "READ_ERROR",
			Message: fmt.Sprintf("failed to read file: %v", err),
		})
	}

	return records, parseErrors
}

func validateRecordShape(rec ExportRecord) string {
	switch rec.Kind {
	case RecordKindCategory:
		if rec.Category == nil || strings.TrimSpace(rec.Category.Name) == "" {
			return "category record without a name"
		}
		if strings.TrimSpace(rec.Category.Color) == "" {
			return "category record without a color"
		}
	case RecordKindScrap:
		if rec.Scrap == nil || rec.Scrap.ID == "" {
			return "missing id field"
		}
		if rec.Scrap.CreatedAt <= 0 {
			return "missing created_at field"
		}
	default:
		return fmt.Sprintf("unknown record kind %q", rec.Kind)
	}
	return ""
}
