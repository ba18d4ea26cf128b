package web

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/scrapflow/internal/config"
	"github.com/hpungsan/scrapflow/internal/db"
	"github.com/hpungsan/scrapflow/internal/ops"
)

func stringPtr(s string) *string { return &s }

// stubRecognizer returns the same text for every image.
type stubRecognizer struct{ text string }

func (s stubRecognizer) Recognize(context.Context, string) (string, error) { return s.text, nil }

func setupTest(t *testing.T) *Handlers {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		t.Fatalf("template sub-FS: %v", err)
	}
	renderer, err := NewRenderer(templateSub, "test", logger)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	return &Handlers{
		db:       database,
		cfg:      cfg,
		renderer: renderer,
		logger:   logger,
	}
}

// seedScrap saves a scrap and returns its ID.
func seedScrap(t *testing.T, h *Handlers, input ops.SaveInput) string {
	t.Helper()
	if input.ImagePath == "" {
		input.ImagePath = "/captures/shot.png"
	}
	if input.Category == "" {
		input.Category = "Dev"
	}
	s, err := ops.Save(context.Background(), h.db, input)
	if err != nil {
		t.Fatalf("seed scrap: %v", err)
	}
	return s.ID
}

func get(h http.HandlerFunc, target string, header map[string]string, pathID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	if pathID != "" {
		req.SetPathValue("id", pathID)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

// --- HandleList ---

func TestHandleList_Default(t *testing.T) {
	h := setupTest(t)
	seedScrap(t, h, ops.SaveInput{Comment: stringPtr("first idea")})
	seedScrap(t, h, ops.SaveInput{Category: "Design", Comment: stringPtr("palette")})

	rec := get(h.HandleList, "/scraps", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<!DOCTYPE html>")
	assert.Contains(t, body, "first idea")
	assert.Contains(t, body, "palette")
	assert.Contains(t, body, "2 scraps")
	// Sidebar lists the reserved category with the sum of the others
	assert.Contains(t, body, `<span class="category-name">All</span>`)
}

func TestHandleList_Filters(t *testing.T) {
	h := setupTest(t)
	seedScrap(t, h, ops.SaveInput{Comment: stringPtr("kubernetes notes")})
	seedScrap(t, h, ops.SaveInput{Category: "Design", Comment: stringPtr("font pairing")})
	seedScrap(t, h, ops.SaveInput{Category: "Design", ExtractedText: stringPtr("Kubernetes diagram")})

	tests := []struct {
		name    string
		query   string
		want    []string
		notWant []string
	}{
		{"category", "category=Design", []string{"font pairing"}, []string{"kubernetes notes"}},
		{"search comment and text", "q=KUBERNETES", []string{"kubernetes notes", "2 scraps"}, []string{"font pairing"}},
		{"category and search", "category=Design&q=kubernetes", []string{"1 scraps"}, []string{"font pairing", "kubernetes notes"}},
		{"today", "range=today", []string{"3 scraps"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(h.HandleList, "/scraps?"+tt.query, nil, "")
			require.Equal(t, http.StatusOK, rec.Code)
			body := rec.Body.String()
			for _, s := range tt.want {
				assert.Contains(t, body, s)
			}
			for _, s := range tt.notWant {
				assert.NotContains(t, body, s)
			}
		})
	}
}

func TestHandleList_Empty(t *testing.T) {
	h := setupTest(t)

	rec := get(h.HandleList, "/scraps", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No scraps match.")
}

func TestHandleList_InvalidRange(t *testing.T) {
	h := setupTest(t)

	rec := get(h.HandleList, "/scraps?range=decade", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleList_HtmxReturnsContentOnly(t *testing.T) {
	h := setupTest(t)
	seedScrap(t, h, ops.SaveInput{Comment: stringPtr("fragment")})

	rec := get(h.HandleList, "/scraps", map[string]string{"HX-Request": "true"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "<!DOCTYPE html>")
	assert.Contains(t, body, "fragment")
	assert.Contains(t, body, `class="categories"`)
}

func TestHandleList_HtmxTargetResults_ReturnsGridOnly(t *testing.T) {
	h := setupTest(t)
	seedScrap(t, h, ops.SaveInput{Comment: stringPtr("grid item")})

	rec := get(h.HandleList, "/scraps?q=grid", map[string]string{"HX-Request": "true", "HX-Target": "results"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "grid item")
	assert.NotContains(t, body, `class="categories"`)
}

func TestHandleList_Pagination(t *testing.T) {
	h := setupTest(t)
	for range 3 {
		seedScrap(t, h, ops.SaveInput{})
	}

	rec := get(h.HandleList, "/scraps?limit=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, 2, strings.Count(body, `class="card"`))
	assert.Contains(t, body, "Older")
	assert.NotContains(t, body, "Newer")
}

// --- HandleDetail ---

func TestHandleDetail_Found(t *testing.T) {
	h := setupTest(t)
	id := seedScrap(t, h, ops.SaveInput{
		Comment:       stringPtr("Title line\n\n**bold** <script>alert(1)</script>"),
		ExtractedText: stringPtr("안녕하세요 world"),
		SourceURL:     stringPtr("https://example.com/post"),
	})

	rec := get(h.HandleDetail, "/scraps/"+id, nil, id)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<title>Title line · scrapflow</title>")
	assert.Contains(t, body, "<strong>bold</strong>")
	assert.NotContains(t, body, "<script>alert")
	assert.Contains(t, body, "안녕하세요 world")
	assert.Contains(t, body, "https://example.com/post")
	assert.Contains(t, body, "/scraps/"+id+"/image")
	assert.NotContains(t, body, "Recognize again", "extract hidden without a recognizer")
}

func TestHandleDetail_JSON(t *testing.T) {
	h := setupTest(t)
	id := seedScrap(t, h, ops.SaveInput{})

	rec := get(h.HandleDetail, "/scraps/"+id, map[string]string{"Accept": "application/json"}, id)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, id, got["id"])
	assert.Equal(t, "Dev", got["category"])
}

func TestHandleDetail_NotFound(t *testing.T) {
	h := setupTest(t)

	rec := get(h.HandleDetail, "/scraps/NONEXISTENT", nil, "NONEXISTENT")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDetail_EmptyID(t *testing.T) {
	h := setupTest(t)

	rec := get(h.HandleDetail, "/scraps/", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- HandleImage ---

func TestHandleImage(t *testing.T) {
	h := setupTest(t)
	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\nfake"), 0600))
	id := seedScrap(t, h, ops.SaveInput{ImagePath: path})

	rec := get(h.HandleImage, "/scraps/"+id+"/image", nil, id)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG\r\n\x1a\nfake", rec.Body.String())
}

func TestHandleImage_MissingFile(t *testing.T) {
	h := setupTest(t)
	id := seedScrap(t, h, ops.SaveInput{ImagePath: filepath.Join(t.TempDir(), "gone.png")})

	rec := get(h.HandleImage, "/scraps/"+id+"/image", map[string]string{"Accept": "application/json"}, id)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "FILE_NOT_FOUND")
}

func TestHandleImage_RejectsNonImage(t *testing.T) {
	h := setupTest(t)
	path := filepath.Join(t.TempDir(), "secrets.txt")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0600))
	id := seedScrap(t, h, ops.SaveInput{ImagePath: path})

	rec := get(h.HandleImage, "/scraps/"+id+"/image", nil, id)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "nope")
}

// --- HandleDelete ---

func TestHandleDelete_HtmxRequest(t *testing.T) {
	h := setupTest(t)
	id := seedScrap(t, h, ops.SaveInput{})

	req := httptest.NewRequest("DELETE", "/scraps/"+id, nil)
	req.SetPathValue("id", id)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/scraps", rec.Header().Get("HX-Redirect"))
}

func TestHandleDelete_JSONRequest(t *testing.T) {
	h := setupTest(t)
	id := seedScrap(t, h, ops.SaveInput{Category: "Business"})

	req := httptest.NewRequest("DELETE", "/scraps/"+id, nil)
	req.SetPathValue("id", id)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, true, resp["deleted"])
	assert.Equal(t, "Business", resp["category"])

	// Second delete is NOT_FOUND
	rec = httptest.NewRecorder()
	h.HandleDelete(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDelete_DefaultRedirect(t *testing.T) {
	h := setupTest(t)
	id := seedScrap(t, h, ops.SaveInput{})

	req := httptest.NewRequest("DELETE", "/scraps/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/scraps", rec.Header().Get("Location"))
}

// --- Text ---

func postForm(h http.HandlerFunc, target, id string, form url.Values, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestHandleSetText(t *testing.T) {
	h := setupTest(t)
	id := seedScrap(t, h, ops.SaveInput{})

	rec := postForm(h.HandleSetText, "/scraps/"+id+"/text", id, url.Values{"text": {"typed <b>text</b>"}}, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/scraps/"+id, rec.Header().Get("Location"))

	s, err := ops.Get(context.Background(), h.db, id)
	require.NoError(t, err)
	require.NotNil(t, s.ExtractedText)
	assert.Equal(t, "typed <b>text</b>", *s.ExtractedText)

	rec = postForm(h.HandleSetText, "/scraps/"+id+"/text", id, url.Values{"text": {"<i>x</i>"}}, map[string]string{"HX-Request": "true"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `<pre class="extracted-text">&lt;i&gt;x&lt;/i&gt;</pre>`, rec.Body.String())
}

func TestHandleExtract(t *testing.T) {
	h := setupTest(t)
	id := seedScrap(t, h, ops.SaveInput{})

	rec := postForm(h.HandleExtract, "/scraps/"+id+"/extract", id, nil, map[string]string{"Accept": "application/json"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.ocr = stubRecognizer{text: "from the image"}
	rec = postForm(h.HandleExtract, "/scraps/"+id+"/extract", id, nil, map[string]string{"Accept": "application/json"})
	require.Equal(t, http.StatusOK, rec.Code)

	var out ops.TextOutput
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.True(t, out.Updated)
	assert.Equal(t, "from the image", *out.ExtractedText)

	rec = get(h.HandleDetail, "/scraps/"+id, nil, id)
	assert.Contains(t, rec.Body.String(), "Recognize again")
}

// --- HandleStats ---

func TestHandleStats(t *testing.T) {
	h := setupTest(t)
	seedScrap(t, h, ops.SaveInput{Comment: stringPtr("c")})
	seedScrap(t, h, ops.SaveInput{ExtractedText: stringPtr("t")})

	rec := get(h.HandleStats, "/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `<span class="value">2</span> total`)
	assert.Contains(t, body, `<span class="value">1</span> with comment`)
	assert.Contains(t, body, `data-width="100"`)

	rec = get(h.HandleStats, "/stats", map[string]string{"Accept": "application/json"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, float64(2), stats["total"])
}

// --- Error rendering ---

func TestErrorRendering_HtmxFragment(t *testing.T) {
	h := setupTest(t)

	rec := get(h.HandleDetail, "/scraps/NONEXISTENT", map[string]string{"HX-Request": "true"}, "NONEXISTENT")
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "error-message")
	assert.NotContains(t, body, "<!DOCTYPE html>")
}

func TestErrorRendering_FullErrorPage(t *testing.T) {
	h := setupTest(t)

	rec := get(h.HandleDetail, "/scraps/NONEXISTENT", nil, "NONEXISTENT")
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<!DOCTYPE html>")
	assert.Contains(t, body, "404")
}

// --- Server ---

func TestNewServer_RoutesAndHeaders(t *testing.T) {
	h := setupTest(t)
	id := seedScrap(t, h, ops.SaveInput{})

	srv, err := NewServer(h.db, h.cfg, nil, h.logger, "test")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8765", srv.Addr)

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	client := ts.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, err := client.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/scraps", resp.Header.Get("Location"))

	resp, err = client.Get(ts.URL + "/scraps/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "img-src 'self'")

	resp, err = client.Get(ts.URL + "/static/style.css")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// --- Helper functions ---

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 40},
		{"limit=5", 5},
		{"limit=abc", 40},
		{"limit=-1", -1},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/scraps?"+tt.query, nil)
		assert.Equal(t, tt.want, parseIntParam(req, "limit", 40), tt.query)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate(10, "short"))
	assert.Equal(t, "한글…", truncate(2, "한글입니다"))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, percent(3, 0))
	assert.Equal(t, 50, percent(1, 2))
	assert.Equal(t, 100, percent(4, 4))
}

func TestRenderMarkdown_StripsUnsafeLinks(t *testing.T) {
	html := string(renderMarkdown("[x](javascript:alert(1)) and [ok](https://example.com)"))
	assert.NotContains(t, html, "javascript:")
	assert.Contains(t, html, `href="https://example.com"`)
}
