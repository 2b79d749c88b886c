package mcp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	rt *ops.Runtime

	// mu serializes tool calls; the document and its token metadata are
	// updated in several steps per operation.
	mu sync.Mutex
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(rt *ops.Runtime) *Handlers {
	return &Handlers{rt: rt}
}

// Request types for each tool

// FieldListRequest represents the arguments for field_list.
type FieldListRequest struct {
	Category string `json:"category"`
}

// RecordListRequest represents the arguments for record_list.
type RecordListRequest struct {
	Category string `json:"category,omitempty"`
	Number   string `json:"number,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// TokenInsertRequest represents the arguments for token_insert.
type TokenInsertRequest struct {
	Category string `json:"category"`
	Field    string `json:"field"`
	Position *int   `json:"position,omitempty"`
}

// TokenDeleteRequest represents the arguments for token_delete.
type TokenDeleteRequest struct {
	ID         string `json:"id"`
	RemoveText bool   `json:"remove_text,omitempty"`
}

// TokenValidateRequest represents the arguments for token_validate.
type TokenValidateRequest struct {
	Category string `json:"category,omitempty"`
}

// RecordRequest represents the arguments for record_populate,
// record_changes and record_update.
type RecordRequest struct {
	RecordID string `json:"record_id,omitempty"`
	Number   string `json:"number,omitempty"`
}

// AutodetectRequest represents the arguments for autodetect_scan.
type AutodetectRequest struct {
	Category      string  `json:"category"`
	MinConfidence float64 `json:"min_confidence,omitempty"`
	Apply         bool    `json:"apply,omitempty"`
}

// GenerateRequest represents the arguments for ai_generate.
type GenerateRequest struct {
	Category       string   `json:"category"`
	Instruction    string   `json:"instruction"`
	Position       *int     `json:"position,omitempty"`
	IncludeContext bool     `json:"include_context,omitempty"`
	Temperature    *float32 `json:"temperature,omitempty"`
	MaxTokens      int32    `json:"max_tokens,omitempty"`
	DryRun         bool     `json:"dry_run,omitempty"`
}

// ExportRequest represents the arguments for document_export.
type ExportRequest struct {
	Path   string `json:"path,omitempty"`
	Format string `json:"format,omitempty"`
}

// Handler implementations

// HandleSessionStatus handles the session_status tool call.
func (h *Handlers) HandleSessionStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return respond(ops.Status(ctx, h.rt))
}

// HandleCategoryList handles the category_list tool call.
func (h *Handlers) HandleCategoryList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return respond(ops.ListCategories(ctx, h.rt))
}

// HandleFieldList handles the field_list tool call.
func (h *Handlers) HandleFieldList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FieldListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return respond(ops.ListFields(ctx, h.rt, ops.ListFieldsInput{Category: input.Category}))
}

// HandleRecordList handles the record_list tool call.
func (h *Handlers) HandleRecordList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecordListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return respond(ops.ListRecords(ctx, h.rt, ops.ListRecordsInput{
		Category: input.Category,
		Number:   input.Number,
		Limit:    input.Limit,
	}))
}

// HandleTokenInsert handles the token_insert tool call.
func (h *Handlers) HandleTokenInsert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TokenInsertRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saved(ops.InsertToken(ctx, h.rt, ops.InsertTokenInput{
		Category: input.Category,
		Field:    input.Field,
		Position: input.Position,
	}))
}

// HandleTokenList handles the token_list tool call.
func (h *Handlers) HandleTokenList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return respond(ops.ListTokens(ctx, h.rt))
}

// HandleTokenDelete handles the token_delete tool call.
func (h *Handlers) HandleTokenDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TokenDeleteRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saved(ops.DeleteToken(ctx, h.rt, ops.DeleteTokenInput{ID: input.ID, RemoveText: input.RemoveText}))
}

// HandleTokenClear handles the token_clear tool call.
func (h *Handlers) HandleTokenClear(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saved(ops.ClearTokens(ctx, h.rt))
}

// HandleTokenValidate handles the token_validate tool call.
func (h *Handlers) HandleTokenValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TokenValidateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return respond(ops.ValidateTokens(ctx, h.rt, ops.ValidateTokensInput{Category: input.Category}))
}

// HandleRecordPopulate handles the record_populate tool call.
func (h *Handlers) HandleRecordPopulate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecordRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saved(ops.Populate(ctx, h.rt, input.toOps()))
}

// HandleRecordChanges handles the record_changes tool call.
func (h *Handlers) HandleRecordChanges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecordRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return respond(ops.CheckChanges(ctx, h.rt, input.toOps()))
}

// HandleRecordUpdate handles the record_update tool call.
func (h *Handlers) HandleRecordUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecordRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saved(ops.Update(ctx, h.rt, input.toOps()))
}

func (r RecordRequest) toOps() ops.RecordInput {
	return ops.RecordInput{RecordID: r.RecordID, Number: r.Number}
}

// HandleAutodetectScan handles the autodetect_scan tool call.
func (h *Handlers) HandleAutodetectScan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AutodetectRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saved(ops.Autodetect(ctx, h.rt, ops.AutodetectInput{
		Category:      input.Category,
		MinConfidence: input.MinConfidence,
		Apply:         input.Apply,
	}))
}

// HandleAIGenerate handles the ai_generate tool call.
func (h *Handlers) HandleAIGenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GenerateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saved(ops.Generate(ctx, h.rt, ops.GenerateInput{
		Category:       input.Category,
		Instruction:    input.Instruction,
		Position:       input.Position,
		IncludeContext: input.IncludeContext,
		Temperature:    input.Temperature,
		MaxTokens:      input.MaxTokens,
		DryRun:         input.DryRun,
	}))
}

// HandleDocumentExport handles the document_export tool call.
func (h *Handlers) HandleDocumentExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return respond(ops.ExportDocument(ctx, h.rt, ops.ExportDocumentInput{Path: input.Path, Format: input.Format}))
}

// HandleCacheClear handles the cache_clear tool call.
func (h *Handlers) HandleCacheClear(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return respond(ops.ClearCache(ctx, h.rt))
}

// Result helpers

// saved writes pending document changes before reporting a mutating call.
// Callers hold h.mu.
func (h *Handlers) saved(data any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return errorResult(err), nil
	}
	if err := h.rt.Save(); err != nil {
		return errorResult(err), nil
	}
	return successResult(data)
}

func respond(data any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(data)
}

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if appErr, ok := errors.As(err); ok {
		errorObj := map[string]any{
			"code":    appErr.Code,
			"message": appErr.Message,
			"status":  appErr.Status,
		}
		if appErr.Hint != "" {
			errorObj["hint"] = appErr.Hint
		}
		if appErr.Code != errors.ErrInternal && appErr.Details != nil {
			errorObj["details"] = appErr.Details
		}
		if appErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
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
