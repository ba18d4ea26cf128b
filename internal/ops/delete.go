package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/scrapflow/internal/db"
	"github.com/hpungsan/scrapflow/internal/errors"
)

// DeleteOutput contains the result of the Delete operation.
type DeleteOutput struct {
	Deleted  bool   `json:"deleted"`
	ID       string `json:"id"`
	Category string `json:"category"`
}

// Delete removes a scrap and re-derives its category's count.
// Deleting an unknown id fails with NOT_FOUND and changes nothing.
func Delete(ctx context.Context, database *sql.DB, id string) (*DeleteOutput, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	category, err := db.DeleteScrap(ctx, database, id)
	if err != nil {
		return nil, err
	}

	refreshCount(ctx, database, category, "delete", id)

	return &DeleteOutput{
		Deleted:  true,
		ID:       id,
		Category: category,
	}, nil
}
