package mcp

import (
	"context"
	"database/sql"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/scrapflow/internal/config"
	"github.com/hpungsan/scrapflow/internal/ocr"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"scrap", "category", "ocr"}

// Recognizer is the part of *ocr.Worker the tools use.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
	Status() ocr.Status
}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"scrap_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"scrap_get": {
		def:     getToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGet },
	},
	"scrap_save": {
		def:     saveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSave },
	},
	"scrap_delete": {
		def:     deleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDelete },
	},
	"scrap_set_text": {
		def:     setTextToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSetText },
	},
	"scrap_missing_text": {
		def:     missingTextToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMissingText },
	},
	"scrap_extract": {
		def:     extractToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExtract },
	},
	"scrap_backfill": {
		def:     backfillToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBackfill },
	},
	"scrap_stats": {
		def:     statsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStats },
	},
	"scrap_export": {
		def:     exportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"scrap_import": {
		def:     importToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleImport },
	},
	"category_list": {
		def:     categoryListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCategoryList },
	},
	"category_upsert": {
		def:     categoryUpsertToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCategoryUpsert },
	},
	"category_refresh_counts": {
		def:     categoryRefreshToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRefreshCounts },
	},
	"ocr_status": {
		def:     ocrStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleOCRStatus },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "scrap_save" → "scrap").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates a new MCP server with the scrapflow tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(db *sql.DB, cfg *config.Config, recognizer Recognizer, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"scrapflow",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg, recognizer)

	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, recognizer Recognizer, version string) error {
	s := NewServer(db, cfg, recognizer, version)
	return server.ServeStdio(s)
}
