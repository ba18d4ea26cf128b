package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/scrapflow/internal/db"
	"github.com/hpungsan/scrapflow/internal/errors"
	"github.com/hpungsan/scrapflow/internal/scrap"
)

// CategoryInput contains parameters for the UpsertCategory operation.
type CategoryInput struct {
	Name  string // required
	Color string // required; any display string, e.g. "#3B82F6"
}

// UpsertCategory creates a category or changes its color, then returns it
// with a freshly computed count. The reserved category may be recolored.
func UpsertCategory(ctx context.Context, database *sql.DB, input CategoryInput) (*scrap.Category, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("name is required")
	}
	color := strings.TrimSpace(input.Color)
	if color == "" {
		return nil, errors.NewInvalidRequest("color is required")
	}

	if err := db.UpsertCategory(ctx, database, scrap.Category{Name: name, Color: color}, true); err != nil {
		return nil, err
	}

	categories, err := db.ListCategoriesWithCounts(ctx, database)
	if err != nil {
		return nil, err
	}
	for i := range categories {
		if categories[i].Name == name {
			return &categories[i], nil
		}
	}
	return nil, errors.NewInternal(fmt.Errorf("category %s missing after upsert", name))
}

// ListCategories returns every category with counts computed at read time,
// the reserved category first.
func ListCategories(ctx context.Context, database *sql.DB) ([]scrap.Category, error) {
	return db.ListCategoriesWithCounts(ctx, database)
}

// RefreshCountsOutput contains the result of the RefreshCounts operation.
type RefreshCountsOutput struct {
	Categories []scrap.Category `json:"categories"`
}

// RefreshCounts re-derives every stored category count. Use it after a
// COUNT_DRIFT_RISK has been logged.
func RefreshCounts(ctx context.Context, database *sql.DB) (*RefreshCountsOutput, error) {
	if err := db.RefreshAllCategoryCounts(ctx, database); err != nil {
		return nil, err
	}
	categories, err := db.ListCategoriesWithCounts(ctx, database)
	if err != nil {
		return nil, err
	}
	return &RefreshCountsOutput{Categories: categories}, nil
}

// Stats returns store-wide counters and the most recent scraps.
func Stats(ctx context.Context, database *sql.DB) (*scrap.Stats, error) {
	return db.Stats(ctx, database, now())
}
