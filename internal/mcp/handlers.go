package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/scrapflow/internal/config"
	"github.com/hpungsan/scrapflow/internal/errors"
	"github.com/hpungsan/scrapflow/internal/ops"
)

// notifyFunc delivers a notification to the client that made the current request.
type notifyFunc func(ctx context.Context, method string, params map[string]any) error

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db     *sql.DB
	cfg    *config.Config
	ocr    Recognizer
	notify notifyFunc
}

// NewHandlers creates a new Handlers instance. recognizer may be nil, in
// which case saves skip recognition and the OCR tools report
// RECOGNITION_UNAVAILABLE.
func NewHandlers(db *sql.DB, cfg *config.Config, recognizer Recognizer) *Handlers {
	return &Handlers{db: db, cfg: cfg, ocr: recognizer, notify: notifyClient}
}

// notifyClient sends through the server bound to ctx by mcp-go.
func notifyClient(ctx context.Context, method string, params map[string]any) error {
	s := server.ServerFromContext(ctx)
	if s == nil {
		return fmt.Errorf("no server in context")
	}
	return s.SendNotificationToClient(ctx, method, params)
}

// recognizer converts the optional worker to the ops interface, keeping nil nil.
func (h *Handlers) recognizer() ops.Recognizer {
	if h.ocr == nil {
		return nil
	}
	return h.ocr
}

// Request types for each tool

// ListRequest represents the arguments for scrap_list.
type ListRequest struct {
	Category  string `json:"category,omitempty"`
	DateRange string `json:"date_range,omitempty"`
	Search    string `json:"search,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// IDRequest represents the arguments for tools addressing one scrap.
type IDRequest struct {
	ID string `json:"id"`
}

// SaveRequest represents the arguments for scrap_save.
type SaveRequest struct {
	ImagePath     string  `json:"image_path"`
	Category      string  `json:"category"`
	Comment       *string `json:"comment,omitempty"`
	SourceURL     *string `json:"source_url,omitempty"`
	ExtractedText *string `json:"extracted_text,omitempty"`
	Recognize     *bool   `json:"recognize,omitempty"`
}

// SetTextRequest represents the arguments for scrap_set_text.
type SetTextRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ExportRequest represents the arguments for scrap_export.
type ExportRequest struct {
	Path string `json:"path,omitempty"`
}

// ImportRequest represents the arguments for scrap_import.
type ImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// CategoryUpsertRequest represents the arguments for category_upsert.
type CategoryUpsertRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// HandleList handles the scrap_list tool.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(ctx, h.db, ops.ListInput{
		Category:  r.Category,
		DateRange: r.DateRange,
		Search:    r.Search,
		Limit:     r.Limit,
		Offset:    r.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleGet handles the scrap_get tool.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Get(ctx, h.db, r.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSave handles the scrap_save tool.
func (h *Handlers) HandleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[SaveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	input := ops.SaveInput{
		ImagePath:     r.ImagePath,
		Category:      r.Category,
		Comment:       r.Comment,
		ExtractedText: r.ExtractedText,
		SourceURL:     r.SourceURL,
	}

	recognize := r.Recognize == nil || *r.Recognize
	if recognize && h.ocr != nil {
		result, err := ops.Capture(ctx, h.db, h.recognizer(), input)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(result)
	}

	result, err := ops.Save(ctx, h.db, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDelete handles the scrap_delete tool.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Delete(ctx, h.db, r.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSetText handles the scrap_set_text tool.
func (h *Handlers) HandleSetText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[SetTextRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.SetText(ctx, h.db, r.ID, r.Text)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleMissingText handles the scrap_missing_text tool.
func (h *Handlers) HandleMissingText(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := ops.ListMissingText(ctx, h.db)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"items": items})
}

// HandleExtract handles the scrap_extract tool.
func (h *Handlers) HandleExtract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Extract(ctx, h.db, h.recognizer(), r.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleBackfill handles the scrap_backfill tool. When the request carries a
// progress token, every processed scrap is reported as notifications/progress.
func (h *Handlers) HandleBackfill(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var progress ops.ProgressFunc
	if req.Params.Meta != nil && req.Params.Meta.ProgressToken != nil {
		token := req.Params.Meta.ProgressToken
		progress = func(p ops.BackfillProgress) {
			// A client that stopped listening does not stop the backfill.
			_ = h.notify(ctx, "notifications/progress", map[string]any{
				"progressToken": token,
				"progress":      p.Processed,
				"total":         p.Total,
				"message":       p.CurrentID,
			})
		}
	}

	result, err := ops.Backfill(ctx, h.db, h.recognizer(), progress)
	if err != nil {
		if ctx.Err() != nil && stderrors.Is(err, ctx.Err()) {
			cancelled := errors.NewCancelled("backfill")
			if result != nil {
				cancelled.Details["processed"] = result.Processed
				cancelled.Details["total"] = result.Total
				cancelled.Details["updated"] = result.Updated
				cancelled.Details["failed"] = result.Failed
			}
			return errorResult(cancelled), nil
		}
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleStats handles the scrap_stats tool.
func (h *Handlers) HandleStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Stats(ctx, h.db)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleExport handles the scrap_export tool.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.db, h.cfg, ops.ExportInput{Path: r.Path})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleImport handles the scrap_import tool.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Import(ctx, h.db, h.cfg, ops.ImportInput{
		Path: r.Path,
		Mode: ops.ImportMode(r.Mode),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCategoryList handles the category_list tool.
func (h *Handlers) HandleCategoryList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	categories, err := ops.ListCategories(ctx, h.db)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"categories": categories})
}

// HandleCategoryUpsert handles the category_upsert tool.
func (h *Handlers) HandleCategoryUpsert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[CategoryUpsertRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.UpsertCategory(ctx, h.db, ops.CategoryInput{Name: r.Name, Color: r.Color})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRefreshCounts handles the category_refresh_counts tool.
func (h *Handlers) HandleRefreshCounts(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.RefreshCounts(ctx, h.db)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleOCRStatus handles the ocr_status tool.
func (h *Handlers) HandleOCRStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.ocr == nil {
		return errorResult(errors.NewRecognitionUnavailable(nil)), nil
	}
	return successResult(h.ocr.Status())
}

// errorResult creates an MCP error result from an error.
// Returns a structured JSON error payload with IsError=true.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var scrapErr *errors.ScrapError
	if stderrors.As(err, &scrapErr) {
		errorObj := map[string]any{
			"code":    scrapErr.Code,
			"message": scrapErr.Message,
			"status":  scrapErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if scrapErr.Code != errors.ErrInternal && scrapErr.Details != nil {
			errorObj["details"] = scrapErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
