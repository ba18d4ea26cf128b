package ops

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/hpungsan/scrapflow/internal/db"
	"github.com/hpungsan/scrapflow/internal/errors"
	"github.com/hpungsan/scrapflow/internal/scrap"
)

// SaveInput contains parameters for the Save operation.
type SaveInput struct {
	ImagePath     string  // required
	Category      string  // required; must exist and must not be the reserved category
	Comment       *string // optional
	ExtractedText *string // optional; usually filled later by recognition
	SourceURL     *string // optional
}

// Save creates a scrap and re-derives its category's count. It returns the
// stored record including the generated id.
func Save(ctx context.Context, database *sql.DB, input SaveInput) (*scrap.Scrap, error) {
	imagePath := strings.TrimSpace(input.ImagePath)
	if imagePath == "" {
		return nil, errors.NewInvalidRequest("image_path is required")
	}
	category := strings.TrimSpace(input.Category)
	if category == "" {
		return nil, errors.NewInvalidRequest("category is required")
	}
	if scrap.IsReserved(category) {
		return nil, errors.NewInvalidRequest("category " + scrap.AllCategory + " is reserved and cannot hold scraps")
	}

	exists, err := db.CategoryExists(ctx, database, category)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.NewCategoryNotFound(category)
	}

	createdAt := now()
	id, err := generateULID(createdAt)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	// Recognition yields "" for images without text; store that as absent
	extracted := input.ExtractedText
	if extracted != nil && *extracted == "" {
		extracted = nil
	}

	s := &scrap.Scrap{
		ID:            id,
		ImagePath:     imagePath,
		Comment:       scrap.CleanOptional(input.Comment),
		Category:      category,
		ExtractedText: extracted,
		SourceURL:     scrap.CleanOptional(input.SourceURL),
		CreatedAt:     createdAt.Unix(),
	}

	if err := db.InsertScrap(ctx, database, s); err != nil {
		return nil, err
	}

	refreshCount(ctx, database, category, "save", id)

	return s, nil
}

// Capture is the save path for a fresh capture: it recognizes the image, attaches
// any text found, and saves. Recognition never blocks the save; a failure is
// logged and the scrap is stored without text.
func Capture(ctx context.Context, database *sql.DB, recognizer Recognizer, input SaveInput) (*scrap.Scrap, error) {
	if input.ExtractedText == nil && recognizer != nil && strings.TrimSpace(input.ImagePath) != "" {
		text, err := recognizer.Recognize(ctx, strings.TrimSpace(input.ImagePath))
		if err != nil {
			slog.Warn("capture: recognition unavailable, saving without text",
				"image_path", input.ImagePath,
				"code", errors.CodeOf(err),
				"error", err)
		} else if text != "" {
			input.ExtractedText = &text
		}
	}
	return Save(ctx, database, input)
}

// refreshCount re-derives a category count after a mutation. A failure does not
// undo the mutation; it is logged so the count can be re-derived later.
func refreshCount(ctx context.Context, database *sql.DB, category, op, id string) {
	if err := db.RefreshCategoryCount(ctx, database, category); err != nil {
		slog.Error("category count refresh failed",
			"code", errors.ErrCountDriftRisk,
			"op", op,
			"id", id,
			"category", category,
			"error", err)
	}
}
