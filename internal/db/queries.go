package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/scrapflow/internal/errors"
	"github.com/hpungsan/scrapflow/internal/scrap"
)

const scrapColumns = `id, image_path, comment, category, extracted_text, source_url, created_at`

// RecentScrapsInStats is how many scraps Stats returns in Recent.
const RecentScrapsInStats = 3

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Execer is satisfied by *sql.DB and *sql.Tx, so writes can join a transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InsertScrap stores a new scrap. The caller assigns ID and CreatedAt.
func InsertScrap(ctx context.Context, db Execer, s *scrap.Scrap) error {
	query := `
		INSERT INTO scraps (` + scrapColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		s.ID, s.ImagePath, toNullString(s.Comment), s.Category,
		toNullText(s.ExtractedText), toNullString(s.SourceURL), s.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetScrap retrieves a scrap by its ULID.
func GetScrap(ctx context.Context, db *sql.DB, id string) (*scrap.Scrap, error) {
	row := db.QueryRowContext(ctx, `SELECT `+scrapColumns+` FROM scraps WHERE id = ?`, id)
	s, err := scanScrap(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// DeleteScrap removes a scrap and returns the category it belonged to, so the
// caller can re-derive that category's count.
func DeleteScrap(ctx context.Context, db *sql.DB, id string) (string, error) {
	var category string
	err := db.QueryRowContext(ctx, `SELECT category FROM scraps WHERE id = ?`, id).Scan(&category)
	if err == sql.ErrNoRows {
		return "", errors.NewNotFound(id)
	}
	if err != nil {
		return "", errors.NewInternal(err)
	}

	result, err := db.ExecContext(ctx, `DELETE FROM scraps WHERE id = ?`, id)
	if err != nil {
		return "", errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		// Deleted by someone else between the lookup and the delete
		return "", errors.NewNotFound(id)
	}

	return category, nil
}

// UpdateExtractedText sets extracted_text on one scrap. Writing the same text
// twice is harmless. Returns NotFound when no row has the id.
func UpdateExtractedText(ctx context.Context, db *sql.DB, id string, text *string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE scraps SET extracted_text = ? WHERE id = ?`, toNullText(text), id)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// ListScraps returns scraps matching f, newest first, together with the total
// number of matches ignoring Limit and Offset. now anchors date ranges.
func ListScraps(ctx context.Context, db *sql.DB, f scrap.Filter, now time.Time) ([]scrap.Scrap, int, error) {
	where, args := buildScrapFilter(f, now)

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scraps`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + scrapColumns + ` FROM scraps` + where + ` ORDER BY created_at DESC, id DESC`
	pageArgs := append([]any{}, args...)
	switch {
	case f.Limit > 0:
		query += ` LIMIT ? OFFSET ?`
		pageArgs = append(pageArgs, f.Limit, max(f.Offset, 0))
	case f.Offset > 0:
		query += ` LIMIT -1 OFFSET ?`
		pageArgs = append(pageArgs, f.Offset)
	}

	scraps, err := queryScraps(ctx, db, query, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	return scraps, total, nil
}

// ListScrapsMissingExtractedText returns every scrap without extracted text, newest first.
func ListScrapsMissingExtractedText(ctx context.Context, db *sql.DB) ([]scrap.Scrap, error) {
	return queryScraps(ctx, db, `
		SELECT `+scrapColumns+` FROM scraps
		WHERE extracted_text IS NULL
		ORDER BY created_at DESC, id DESC
	`)
}

// buildScrapFilter translates f into a WHERE clause (with leading space) and its args.
// Dimensions that are not set contribute nothing.
func buildScrapFilter(f scrap.Filter, now time.Time) (string, []any) {
	var conditions []string
	var args []any

	if category := f.CategoryFilter(); category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, category)
	}

	if since, ok := f.DateRange.Since(now); ok {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, since.Unix())
	}

	// Plain substring on folded text: wildcards match literally, NULL columns never match
	if term := f.SearchTerm(); term != "" {
		folded := Fold(term)
		conditions = append(conditions,
			`(instr(`+FoldFunc+`(comment), ?) > 0 OR instr(`+FoldFunc+`(extracted_text), ?) > 0)`)
		args = append(args, folded, folded)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func queryScraps(ctx context.Context, db *sql.DB, query string, args ...any) ([]scrap.Scrap, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	scraps := []scrap.Scrap{}
	for rows.Next() {
		s, err := scanScrap(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		scraps = append(scraps, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return scraps, nil
}

// ScrapExists reports whether a scrap with the given id exists.
func ScrapExists(ctx context.Context, db Execer, id string) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM scraps WHERE id = ? LIMIT 1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// StreamScraps returns rows of every scrap, oldest first, for export.
// The caller must close rows and read them with ScanScrapFromRows.
func StreamScraps(ctx context.Context, db *sql.DB) (*sql.Rows, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+scrapColumns+` FROM scraps ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return rows, nil
}

// ScanScrapFromRows scans the current row of a StreamScraps result.
func ScanScrapFromRows(rows *sql.Rows) (*scrap.Scrap, error) {
	return scanScrap(rows)
}

// CategoryExists reports whether a category with the given name exists.
func CategoryExists(ctx context.Context, db Execer, name string) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM categories WHERE name = ? LIMIT 1`, name).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// UpsertCategory creates a category or updates its color.
//
// With updateCount, the stored count is re-derived afterwards. Without it the call
// only creates a missing category and leaves an existing one (color and count)
// untouched; default seeding uses that mode.
func UpsertCategory(ctx context.Context, db Execer, c scrap.Category, updateCount bool) error {
	if !updateCount {
		_, err := db.ExecContext(ctx,
			`INSERT INTO categories (name, color) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
			c.Name, c.Color)
		if err != nil {
			return errors.NewInternal(err)
		}
		return nil
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO categories (name, color) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET color = excluded.color
	`, c.Name, c.Color)
	if err != nil {
		return errors.NewInternal(err)
	}
	return RefreshCategoryCount(ctx, db, c.Name)
}

// RefreshCategoryCount re-derives the stored count of one category from the
// scraps table. Always a fresh aggregate, so it is safe to repeat.
// The reserved category has no stored count of its own.
func RefreshCategoryCount(ctx context.Context, db Execer, name string) error {
	if scrap.IsReserved(name) {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		UPDATE categories
		SET count = (SELECT COUNT(*) FROM scraps WHERE category = ?)
		WHERE name = ?
	`, name, name)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("refresh count for %s: %w", name, err))
	}
	return nil
}

// RefreshAllCategoryCounts re-derives every stored count.
func RefreshAllCategoryCounts(ctx context.Context, db Execer) error {
	_, err := db.ExecContext(ctx, `
		UPDATE categories
		SET count = (SELECT COUNT(*) FROM scraps WHERE scraps.category = categories.name)
		WHERE name != ?
	`, scrap.AllCategory)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("refresh counts: %w", err))
	}
	return nil
}

// StoredCategoryCount returns the count column as stored, without recomputing.
func StoredCategoryCount(ctx context.Context, db *sql.DB, name string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT count FROM categories WHERE name = ?`, name).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, errors.NewNotFound(name)
	}
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return count, nil
}

// ListCategoriesWithCounts returns every category with a count computed at read
// time. The reserved category comes first and reports the sum of all others;
// the rest are ordered by name.
func ListCategoriesWithCounts(ctx context.Context, db *sql.DB) ([]scrap.Category, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.name, c.color, COUNT(s.id) AS count
		FROM categories c
		LEFT JOIN scraps s ON s.category = c.name
		GROUP BY c.name, c.color
		ORDER BY CASE WHEN c.name = ? THEN 0 ELSE 1 END, c.name
	`, scrap.AllCategory)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	categories := []scrap.Category{}
	reserved := -1
	sum := 0
	for rows.Next() {
		var c scrap.Category
		if err := rows.Scan(&c.Name, &c.Color, &c.Count); err != nil {
			return nil, errors.NewInternal(err)
		}
		if scrap.IsReserved(c.Name) {
			reserved = len(categories)
		} else {
			sum += c.Count
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	if reserved >= 0 {
		categories[reserved].Count = sum
	}
	return categories, nil
}

// Stats aggregates store-wide counters. now anchors the today/week/month
// windows and the local calendar used for the daily histogram.
func Stats(ctx context.Context, db *sql.DB, now time.Time) (*scrap.Stats, error) {
	stats := &scrap.Stats{}

	err := db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN comment IS NOT NULL AND comment != '' THEN 1 END),
			COUNT(CASE WHEN extracted_text IS NOT NULL AND extracted_text != '' THEN 1 END)
		FROM scraps
	`).Scan(&stats.Total, &stats.WithComment, &stats.WithExtractedText)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	rows, err := db.QueryContext(ctx, `SELECT created_at FROM scraps ORDER BY created_at ASC`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	today, _ := scrap.DateRangeToday.Since(now)
	week, _ := scrap.DateRangeWeek.Since(now)
	month, _ := scrap.DateRangeMonth.Since(now)

	stats.Daily = []scrap.DayCount{}
	for rows.Next() {
		var createdAt int64
		if err := rows.Scan(&createdAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		if createdAt >= today.Unix() {
			stats.Today++
		}
		if createdAt >= week.Unix() {
			stats.ThisWeek++
		}
		if createdAt >= month.Unix() {
			stats.ThisMonth++
		}

		// Rows arrive in ascending order, so each day is contiguous
		day := time.Unix(createdAt, 0).In(now.Location()).Format("2006-01-02")
		if n := len(stats.Daily); n > 0 && stats.Daily[n-1].Date == day {
			stats.Daily[n-1].Count++
		} else {
			stats.Daily = append(stats.Daily, scrap.DayCount{Date: day, Count: 1})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	rows.Close()

	recent, _, err := ListScraps(ctx, db, scrap.Filter{Limit: RecentScrapsInStats}, now)
	if err != nil {
		return nil, err
	}
	stats.Recent = recent

	return stats, nil
}

// scanScrap scans a single row into a Scrap struct.
func scanScrap(row rowScanner) (*scrap.Scrap, error) {
	var (
		s             scrap.Scrap
		comment       sql.NullString
		extractedText sql.NullString
		sourceURL     sql.NullString
	)

	err := row.Scan(
		&s.ID, &s.ImagePath, &comment, &s.Category,
		&extractedText, &sourceURL, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Comment = fromNullString(comment)
	s.ExtractedText = fromNullString(extractedText)
	s.SourceURL = fromNullString(sourceURL)

	return &s, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// toNullText is toNullString for extracted text, where "" also means absent.
func toNullText(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
