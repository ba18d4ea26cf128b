package web

import (
	"database/sql"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hpungsan/scrapflow/internal/config"
	"github.com/hpungsan/scrapflow/internal/errors"
	"github.com/hpungsan/scrapflow/internal/ops"
	"github.com/hpungsan/scrapflow/internal/scrap"
)

// defaultPageSize is the number of scraps per list page.
const defaultPageSize = 40

// imageExts are the file types served by HandleImage.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	ocr      ops.Recognizer // nil disables extraction
	renderer *Renderer
	logger   *slog.Logger
}

// HandleList handles GET /scraps: the filtered, newest-first scrap grid.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := q.Get("category")
	dateRange := q.Get("range")
	query := q.Get("q")

	result, err := ops.List(r.Context(), h.db, ops.ListInput{
		Category:  category,
		DateRange: dateRange,
		Search:    query,
		Limit:     parseIntParam(r, "limit", defaultPageSize),
		Offset:    parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	categories, err := ops.ListCategories(r.Context(), h.db)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if category == "" {
		category = scrap.AllCategory
	}

	data := ListPageData{
		PageData: PageData{
			Title:   "Scraps",
			Version: h.renderer.version,
			Nav:     "scraps",
		},
		Items:      result.Items,
		Categories: categories,
		Colors:     categoryColors(categories),
		Pagination: result.Pagination,
		Category:   category,
		DateRange:  dateRange,
		Query:      query,
	}

	// If htmx targets #results, render only the grid
	if r.Header.Get("HX-Target") == "results" {
		h.renderer.renderBlock(w, http.StatusOK, "list", "scrap-results", data)
		return
	}

	h.renderer.renderPage(w, r, "list", data)
}

// HandleDetail handles GET /scraps/{id}: one scrap with its image and text.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("scrap ID is required"))
		return
	}

	s, err := ops.Get(r.Context(), h.db, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, s)
		return
	}

	categories, err := ops.ListCategories(r.Context(), h.db)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	var comment template.HTML
	if s.Comment != nil {
		comment = renderMarkdown(*s.Comment)
	}

	h.renderer.renderPage(w, r, "detail", DetailPageData{
		PageData: PageData{
			Title:   displayName(s),
			Version: h.renderer.version,
			Nav:     "scraps",
		},
		Scrap:       s,
		Color:       categoryColors(categories)[s.Category],
		CommentHTML: comment,
		CanExtract:  h.ocr != nil,
	})
}

// HandleImage handles GET /scraps/{id}/image and streams the captured image.
// Only paths stored on a scrap are served, and only image file types.
func (h *Handlers) HandleImage(w http.ResponseWriter, r *http.Request) {
	s, err := ops.Get(r.Context(), h.db, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if !imageExts[strings.ToLower(filepath.Ext(s.ImagePath))] {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("not an image file"))
		return
	}

	f, err := os.Open(s.ImagePath)
	if err != nil {
		if os.IsNotExist(err) {
			h.renderer.renderError(w, r, errors.NewFileNotFound(s.ImagePath))
			return
		}
		h.renderer.renderError(w, r, errors.NewInternal(err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		h.renderer.renderError(w, r, errors.NewFileNotFound(s.ImagePath))
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, filepath.Base(s.ImagePath), info.ModTime(), f)
}

// HandleDelete handles DELETE /scraps/{id}. The image file is left on disk.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("scrap ID is required"))
		return
	}

	result, err := ops.Delete(r.Context(), h.db, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.logger.Info("scrap deleted", "id", result.ID, "category", result.Category)

	// HTMX request: redirect via HX-Redirect header
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/scraps")
		w.WriteHeader(http.StatusOK)
		return
	}

	// JSON request
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	// Default: redirect
	http.Redirect(w, r, "/scraps", http.StatusSeeOther)
}

// HandleSetText handles POST /scraps/{id}/text and replaces the extracted text.
func (h *Handlers) HandleSetText(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	result, err := ops.SetText(r.Context(), h.db, r.PathValue("id"), r.FormValue("text"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.textResponse(w, r, result)
}

// HandleExtract handles POST /scraps/{id}/extract and runs recognition on one scrap.
func (h *Handlers) HandleExtract(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Extract(r.Context(), h.db, h.ocr, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.textResponse(w, r, result)
}

func (h *Handlers) textResponse(w http.ResponseWriter, r *http.Request, result *ops.TextOutput) {
	// HTMX request: return the new text block
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		text := ""
		if result.ExtractedText != nil {
			text = *result.ExtractedText
		}
		_, _ = w.Write([]byte(`<pre class="extracted-text">` + template.HTMLEscapeString(text) + `</pre>`))
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	http.Redirect(w, r, "/scraps/"+result.ID, http.StatusSeeOther)
}

// HandleStats handles GET /stats: totals, period counts and the daily histogram.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := ops.Stats(r.Context(), h.db)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, stats)
		return
	}

	categories, err := ops.ListCategories(r.Context(), h.db)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	maxDaily := 0
	for _, d := range stats.Daily {
		maxDaily = max(maxDaily, d.Count)
	}

	h.renderer.renderPage(w, r, "stats", StatsPageData{
		PageData: PageData{
			Title:   "Stats",
			Version: h.renderer.version,
			Nav:     "stats",
		},
		Stats:      stats,
		Categories: categories,
		MaxDaily:   maxDaily,
	})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

func categoryColors(categories []scrap.Category) map[string]string {
	colors := make(map[string]string, len(categories))
	for _, c := range categories {
		colors[c.Name] = c.Color
	}
	return colors
}

// displayName returns the first comment line if present, or a truncated ID.
func displayName(s *scrap.Scrap) string {
	if s.Comment != nil {
		line, _, _ := strings.Cut(*s.Comment, "\n")
		if line = strings.TrimSpace(line); line != "" {
			return truncate(60, line)
		}
	}
	if len(s.ID) > 10 {
		return s.ID[:10] + "..."
	}
	return s.ID
}
