package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/scrapflow/internal/db"
	"github.com/hpungsan/scrapflow/internal/errors"
)

// TextOutput contains the result of SetText and Extract.
type TextOutput struct {
	ID            string  `json:"id"`
	ExtractedText *string `json:"extracted_text"`
	Updated       bool    `json:"updated"`
}

// SetText stores extracted text for an existing scrap. Empty text clears it.
func SetText(ctx context.Context, database *sql.DB, id, text string) (*TextOutput, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	var value *string
	if text != "" {
		value = &text
	}
	if err := db.UpdateExtractedText(ctx, database, id, value); err != nil {
		return nil, err
	}
	return &TextOutput{ID: id, ExtractedText: value, Updated: true}, nil
}

// Extract recognizes the image of one stored scrap and saves the text.
// When recognition finds nothing the scrap is left unchanged and Updated is false.
// Unlike Capture, a RECOGNITION_UNAVAILABLE error is returned to the caller.
func Extract(ctx context.Context, database *sql.DB, recognizer Recognizer, id string) (*TextOutput, error) {
	if recognizer == nil {
		return nil, errors.NewRecognitionUnavailable(nil)
	}
	s, err := Get(ctx, database, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}

	text, err := recognizer.Recognize(ctx, s.ImagePath)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return &TextOutput{ID: s.ID, ExtractedText: s.ExtractedText, Updated: false}, nil
	}

	if err := db.UpdateExtractedText(ctx, database, s.ID, &text); err != nil {
		return nil, err
	}
	return &TextOutput{ID: s.ID, ExtractedText: &text, Updated: true}, nil
}
