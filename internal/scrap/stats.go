package scrap

// DayCount is the number of scraps created on one local calendar day.
type DayCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int    `json:"count"`
}

// Stats summarizes the store for dashboards and diagnostics.
type Stats struct {
	Total             int        `json:"total"`
	WithComment       int        `json:"with_comment"`
	WithExtractedText int        `json:"with_extracted_text"`
	Today             int        `json:"today"`
	ThisWeek          int        `json:"this_week"`
	ThisMonth         int        `json:"this_month"`
	Daily             []DayCount `json:"daily"`  // ascending by date
	Recent            []Scrap    `json:"recent"` // newest first
}
