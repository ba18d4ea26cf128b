package mcp

import "github.com/mark3labs/mcp-go/mcp"

var listToolDef = mcp.NewTool("scrap_list",
	mcp.WithDescription("List scraps newest first. Filters combine with AND; omit a filter to skip it."),
	mcp.WithString("category", mcp.Description(`Exact category name. "All" means every category.`)),
	mcp.WithString("date_range", mcp.Description("Only scraps created in this window."), mcp.Enum("today", "week", "month")),
	mcp.WithString("search", mcp.Description("Case-insensitive substring matched against the comment or the extracted text.")),
	mcp.WithNumber("limit", mcp.Description("Maximum number of scraps to return (0 = all, max 500).")),
	mcp.WithNumber("offset", mcp.Description("Number of matches to skip.")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var getToolDef = mcp.NewTool("scrap_get",
	mcp.WithDescription("Get one scrap by id."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Scrap ULID.")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var saveToolDef = mcp.NewTool("scrap_save",
	mcp.WithDescription("Save a captured image as a scrap. Text in the image is recognized first unless extracted_text is given or recognize is false; recognition problems never block the save."),
	mcp.WithString("image_path", mcp.Required(), mcp.Description("Path of the captured image on disk.")),
	mcp.WithString("category", mcp.Required(), mcp.Description(`Existing category name (not "All").`)),
	mcp.WithString("comment", mcp.Description("Optional note.")),
	mcp.WithString("source_url", mcp.Description("Where the capture came from.")),
	mcp.WithString("extracted_text", mcp.Description("Text already known for the image.")),
	mcp.WithBoolean("recognize", mcp.Description("Run text recognition before saving (default true).")),
)

var deleteToolDef = mcp.NewTool("scrap_delete",
	mcp.WithDescription("Delete a scrap by id. The image file is not touched."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Scrap ULID.")),
	mcp.WithDestructiveHintAnnotation(true),
)

var setTextToolDef = mcp.NewTool("scrap_set_text",
	mcp.WithDescription("Replace the extracted text of a scrap. An empty text clears it."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Scrap ULID.")),
	mcp.WithString("text", mcp.Description("New extracted text.")),
)

var missingTextToolDef = mcp.NewTool("scrap_missing_text",
	mcp.WithDescription("List scraps that have no extracted text yet, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var extractToolDef = mcp.NewTool("scrap_extract",
	mcp.WithDescription("Recognize the text in one stored scrap's image and save it."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Scrap ULID.")),
)

var backfillToolDef = mcp.NewTool("scrap_backfill",
	mcp.WithDescription("Recognize text for every scrap that has none, one image at a time. Sends notifications/progress when the request carries a progress token."),
)

var statsToolDef = mcp.NewTool("scrap_stats",
	mcp.WithDescription("Totals, today/week/month counts, a per-day histogram and the three newest scraps."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var exportToolDef = mcp.NewTool("scrap_export",
	mcp.WithDescription("Write every category and scrap to a JSONL backup. Images are referenced by path, not copied."),
	mcp.WithString("path", mcp.Description("Destination .jsonl file (default ~/.scrapflow/exports/scraps-<timestamp>.jsonl).")),
)

var importToolDef = mcp.NewTool("scrap_import",
	mcp.WithDescription("Load a JSONL backup written by scrap_export."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Backup .jsonl file.")),
	mcp.WithString("mode", mcp.Description("On an existing id: error aborts everything, skip keeps the stored scrap."), mcp.Enum("error", "skip")),
)

var categoryListToolDef = mcp.NewTool("category_list",
	mcp.WithDescription(`List categories with live counts. "All" comes first and counts every scrap.`),
	mcp.WithReadOnlyHintAnnotation(true),
)

var categoryUpsertToolDef = mcp.NewTool("category_upsert",
	mcp.WithDescription("Create a category or change its color."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Category name.")),
	mcp.WithString("color", mcp.Required(), mcp.Description(`Display color, e.g. "#3B82F6".`)),
)

var categoryRefreshToolDef = mcp.NewTool("category_refresh_counts",
	mcp.WithDescription("Re-derive every stored category count from the scraps table."),
)

var ocrStatusToolDef = mcp.NewTool("ocr_status",
	mcp.WithDescription("State of the text recognition worker: uninitialized, initializing, ready, degraded or terminated."),
	mcp.WithReadOnlyHintAnnotation(true),
)
