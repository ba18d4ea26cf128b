package ops

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/hpungsan/scrapflow/internal/db"
	"github.com/hpungsan/scrapflow/internal/errors"
)

// BackfillProgress is reported once per processed scrap. Processed never
// decreases within one run.
type BackfillProgress struct {
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	CurrentID string `json:"current_id"`
}

// ProgressFunc receives backfill progress synchronously.
type ProgressFunc func(BackfillProgress)

// BackfillOutput contains the result of the Backfill operation.
type BackfillOutput struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Updated   int `json:"updated"` // scraps that received text
	Failed    int `json:"failed"`  // scraps whose recognition or write failed
}

// Backfill recognizes every scrap that has no extracted text yet, one at a
// time, and stores the text found. A failing item is logged and counted but
// does not stop the run, except RECOGNITION_UNAVAILABLE: the engine cannot
// start, so the run stops and returns the partial output with that error.
// Cancelling ctx stops before the next item; the partial output is returned
// together with ctx.Err().
//
// Running it again only visits scraps that are still missing text.
func Backfill(ctx context.Context, database *sql.DB, recognizer Recognizer, progress ProgressFunc) (*BackfillOutput, error) {
	if recognizer == nil {
		return nil, errors.NewRecognitionUnavailable(nil)
	}

	pending, err := db.ListScrapsMissingExtractedText(ctx, database)
	if err != nil {
		return nil, err
	}

	out := &BackfillOutput{Total: len(pending)}
	slog.Info("backfill: starting", "total", out.Total)

	for _, s := range pending {
		if err := ctx.Err(); err != nil {
			slog.Info("backfill: cancelled", "processed", out.Processed, "total", out.Total)
			return out, err
		}

		updated, err := backfillOne(ctx, database, recognizer, s.ID, s.ImagePath)
		switch {
		case errors.Is(err, errors.ErrRecognitionUnavailable):
			// The engine could not start; every later item would retry startup and fail the same way
			out.Failed++
			out.Processed++
			if progress != nil {
				progress(BackfillProgress{Processed: out.Processed, Total: out.Total, CurrentID: s.ID})
			}
			slog.Warn("backfill: stopped, recognition unavailable",
				"processed", out.Processed,
				"total", out.Total,
				"error", err)
			return out, err
		case err != nil:
			out.Failed++
			slog.Warn("backfill: item failed",
				"id", s.ID,
				"code", errors.CodeOf(err),
				"error", err)
		case updated:
			out.Updated++
		}

		out.Processed++
		if progress != nil {
			progress(BackfillProgress{
				Processed: out.Processed,
				Total:     out.Total,
				CurrentID: s.ID,
			})
		}
	}

	slog.Info("backfill: finished",
		"processed", out.Processed,
		"updated", out.Updated,
		"failed", out.Failed)
	return out, nil
}

func backfillOne(ctx context.Context, database *sql.DB, recognizer Recognizer, id, imagePath string) (bool, error) {
	text, err := recognizer.Recognize(ctx, imagePath)
	if err != nil {
		return false, err
	}
	if text == "" {
		return false, nil
	}
	if err := db.UpdateExtractedText(ctx, database, id, &text); err != nil {
		return false, err
	}
	return true, nil
}
