package scrap

import (
	"fmt"
	"strings"
	"time"
)

// DateRange restricts a listing to scraps created after a lower bound.
type DateRange string

const (
	DateRangeNone  DateRange = ""
	DateRangeToday DateRange = "today" // local midnight to now
	DateRangeWeek  DateRange = "week"  // the last seven days
	DateRangeMonth DateRange = "month" // first of the month (local) to now
)

// ParseDateRange accepts the range names used by callers. "thisMonth" and
// "this_month" are accepted as aliases for month.
func ParseDateRange(s string) (DateRange, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "all":
		return DateRangeNone, nil
	case "today":
		return DateRangeToday, nil
	case "week", "thisweek", "this_week":
		return DateRangeWeek, nil
	case "month", "thismonth", "this_month":
		return DateRangeMonth, nil
	default:
		return DateRangeNone, fmt.Errorf("unknown date range %q (want today, week, month)", s)
	}
}

// Since returns the inclusive lower bound for the range relative to now,
// in now's location. ok is false for DateRangeNone.
func (r DateRange) Since(now time.Time) (since time.Time, ok bool) {
	switch r {
	case DateRangeToday:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), true
	case DateRangeWeek:
		return now.Add(-7 * 24 * time.Hour), true
	case DateRangeMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), true
	default:
		return time.Time{}, false
	}
}

// Filter selects scraps. Every dimension is optional and they combine with AND.
type Filter struct {
	// Category matches exactly; empty or AllCategory means no filter
	Category string

	DateRange DateRange

	// Search is a case-insensitive substring matched against comment or extracted text;
	// blank means no filter
	Search string

	// Limit caps the number of rows returned; 0 returns every match
	Limit  int
	Offset int
}

// CategoryFilter returns the category to match, or "" when the filter does not restrict by category.
func (f Filter) CategoryFilter() string {
	c := strings.TrimSpace(f.Category)
	if c == "" || IsReserved(c) {
		return ""
	}
	return c
}

// SearchTerm returns the trimmed search text.
func (f Filter) SearchTerm() string {
	return strings.TrimSpace(f.Search)
}
