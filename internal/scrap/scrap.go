package scrap

import "strings"

// Scrap is one captured image with its metadata.
type Scrap struct {
	// ID is a ULID assigned on creation
	ID string `json:"id"`

	// ImagePath references the captured image on disk
	ImagePath string `json:"image_path"`

	// Comment is optional free text entered at capture time
	Comment *string `json:"comment,omitempty"`

	// Category names an existing, non-reserved category
	Category string `json:"category"`

	// ExtractedText is the recognized text of the image (nullable, filled asynchronously)
	ExtractedText *string `json:"extracted_text,omitempty"`

	// SourceURL records where the capture came from (nullable)
	SourceURL *string `json:"source_url,omitempty"`

	// CreatedAt is the Unix timestamp when the scrap was created
	CreatedAt int64 `json:"created_at"`
}

// HasExtractedText reports whether recognition produced non-empty text for this scrap.
func (s *Scrap) HasExtractedText() bool {
	return s.ExtractedText != nil && *s.ExtractedText != ""
}

// Category groups scraps. Count is derived from the scraps table.
type Category struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Count int    `json:"count"`
}

// AllCategory is the reserved "all categories" name. It never filters, never
// holds scraps, and reports the sum of every other category's count.
const AllCategory = "All"

// IsReserved reports whether name is the reserved "all categories" name.
func IsReserved(name string) bool {
	return strings.TrimSpace(name) == AllCategory
}

// DefaultCategories are created on first startup.
var DefaultCategories = []Category{
	{Name: AllCategory, Color: "#6B7280"},
	{Name: "Dev", Color: "#3B82F6"},
	{Name: "Design", Color: "#F59E0B"},
	{Name: "Business", Color: "#10B981"},
}

// CleanOptional trims s and returns nil for nil or blank input.
func CleanOptional(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
