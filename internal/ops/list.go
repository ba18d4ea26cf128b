package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/scrapflow/internal/db"
	"github.com/hpungsan/scrapflow/internal/errors"
	"github.com/hpungsan/scrapflow/internal/scrap"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Category  string // optional; "All" means no filter
	DateRange string // optional: today, week, month
	Search    string // optional; matches comment or extracted text
	Limit     int    // default: 0 (all rows), max: 500
	Offset    int    // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []scrap.Scrap `json:"items"`
	Pagination Pagination    `json:"pagination"`
}

// List returns scraps matching the filter, newest first.
func List(ctx context.Context, database *sql.DB, input ListInput) (*ListOutput, error) {
	dateRange, err := scrap.ParseDateRange(input.DateRange)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	limit, offset, err := validatePaging(input.Limit, input.Offset)
	if err != nil {
		return nil, err
	}

	items, total, err := db.ListScraps(ctx, database, scrap.Filter{
		Category:  input.Category,
		DateRange: dateRange,
		Search:    input.Search,
		Limit:     limit,
		Offset:    offset,
	}, now())
	if err != nil {
		return nil, err
	}

	return &ListOutput{
		Items:      items,
		Pagination: newPagination(limit, offset, len(items), total),
	}, nil
}

// ListMissingText returns scraps that have no extracted text yet, newest first.
func ListMissingText(ctx context.Context, database *sql.DB) ([]scrap.Scrap, error) {
	return db.ListScrapsMissingExtractedText(ctx, database)
}

// Get returns one scrap by id.
func Get(ctx context.Context, database *sql.DB, id string) (*scrap.Scrap, error) {
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	return db.GetScrap(ctx, database, id)
}
