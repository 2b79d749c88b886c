package mcp

import (
	"context"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wallcrawler78/arenadocs/internal/ops"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"session", "category", "field", "record", "token", "autodetect", "ai", "document", "cache"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"session_status": {
		def:     sessionStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionStatus },
	},
	"category_list": {
		def:     categoryListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCategoryList },
	},
	"field_list": {
		def:     fieldListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFieldList },
	},
	"record_list": {
		def:     recordListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecordList },
	},
	"token_insert": {
		def:     tokenInsertToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTokenInsert },
	},
	"token_list": {
		def:     tokenListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTokenList },
	},
	"token_delete": {
		def:     tokenDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTokenDelete },
	},
	"token_clear": {
		def:     tokenClearToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTokenClear },
	},
	"token_validate": {
		def:     tokenValidateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTokenValidate },
	},
	"record_populate": {
		def:     recordPopulateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecordPopulate },
	},
	"record_changes": {
		def:     recordChangesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecordChanges },
	},
	"record_update": {
		def:     recordUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecordUpdate },
	},
	"autodetect_scan": {
		def:     autodetectScanToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAutodetectScan },
	},
	"ai_generate": {
		def:     aiGenerateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAIGenerate },
	},
	"document_export": {
		def:     documentExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDocumentExport },
	},
	"cache_clear": {
		def:     cacheClearToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCacheClear },
	},
}

// AllToolNames returns all valid tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
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
// Tool names follow the pattern "type_action" (e.g., "token_insert" → "token").
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
	sort.Strings(tools)
	return tools
}

// enabledTools returns the registry names left after applying the runtime's
// disabled types and tools.
func enabledTools(rt *ops.Runtime) []string {
	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(rt.Config.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range rt.Config.DisabledTools {
		disabled[name] = true
	}

	var names []string
	for _, name := range AllToolNames() {
		if !disabled[name] {
			names = append(names, name)
		}
	}
	return names
}

// NewServer creates an MCP server exposing the runtime's document and user
// state. Tools listed in DisabledTools or belonging to DisabledTypes are not
// registered.
func NewServer(rt *ops.Runtime, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"arenadocs",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	h := NewHandlers(rt)
	for _, name := range enabledTools(rt) {
		entry := toolRegistry[name]
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run serves MCP over stdio until stdin closes.
func Run(rt *ops.Runtime, version string) error {
	return server.ServeStdio(NewServer(rt, version))
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
