package mcp

import "github.com/mark3labs/mcp-go/mcp"

var sessionStatusToolDef = mcp.NewTool(
	"session_status",
	mcp.WithDescription("Report sign-in state, AI key and rate-limit state, the open document and cache counters. Makes no network calls."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(false),
)

var categoryListToolDef = mcp.NewTool(
	"category_list",
	mcp.WithDescription("List the PLM item categories of the signed-in workspace."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(true),
)

var fieldListToolDef = mcp.NewTool(
	"field_list",
	mcp.WithDescription("List the fields a token can bind to for a category: the standard item fields plus the category's custom attributes."),
	mcp.WithString("category",
		mcp.Required(),
		mcp.Description("Category name or guid (e.g., 'Resistor')"),
	),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(true),
)

var recordListToolDef = mcp.NewTool(
	"record_list",
	mcp.WithDescription("List PLM records, optionally filtered by category and exact item number."),
	mcp.WithString("category", mcp.Description("Optional - category name or guid")),
	mcp.WithString("number", mcp.Description("Optional - exact item number (e.g., 'RES-001')")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum records to return (default 50, max 400)"),
		mcp.Min(0),
	),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(true),
)

var tokenInsertToolDef = mcp.NewTool(
	"token_insert",
	mcp.WithDescription("Insert a {{ARENA:Category:Field}} token into the document and start tracking it."),
	mcp.WithString("category", mcp.Required(), mcp.Description("Category name or guid")),
	mcp.WithString("field", mcp.Required(), mcp.Description("Field name from field_list")),
	mcp.WithNumber("position",
		mcp.Description("Optional - byte offset to insert at; defaults to the document cursor"),
		mcp.Min(0),
	),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(false),
	mcp.WithOpenWorldHintAnnotation(true),
)

var tokenListToolDef = mcp.NewTool(
	"token_list",
	mcp.WithDescription("List tracked tokens with their current positions and text, plus token literals that are not tracked."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(false),
)

var tokenDeleteToolDef = mcp.NewTool(
	"token_delete",
	mcp.WithDescription("Stop tracking one token, optionally removing its text from the document."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Token id from token_list")),
	mcp.WithBoolean("remove_text", mcp.Description("Also delete the token's text (default false)")),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(false),
)

var tokenClearToolDef = mcp.NewTool(
	"token_clear",
	mcp.WithDescription("Forget every tracked token and the linked record. Document text is left as is."),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(false),
)

var tokenValidateToolDef = mcp.NewTool(
	"token_validate",
	mcp.WithDescription("Check every token literal in the document against a category's fields."),
	mcp.WithString("category", mcp.Description("Optional when all literals name the same category")),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(true),
)

func withRecordArgs(desc string, opts ...mcp.ToolOption) []mcp.ToolOption {
	return append([]mcp.ToolOption{
		mcp.WithDescription(desc),
		mcp.WithString("record_id", mcp.Description("Record guid; wins over number")),
		mcp.WithString("number", mcp.Description("Item number, resolved to a record")),
	}, opts...)
}

var recordPopulateToolDef = mcp.NewTool(
	"record_populate",
	withRecordArgs("Replace every tracked token with the record's field values and link the document to the record.",
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)...,
)

var recordChangesToolDef = mcp.NewTool(
	"record_changes",
	withRecordArgs("Compare populated values with the record's current values without editing the document. Defaults to the linked record.",
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)...,
)

var recordUpdateToolDef = mcp.NewTool(
	"record_update",
	withRecordArgs("Write the record's current values over changed populated values. Defaults to the linked record.",
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)...,
)

var autodetectScanToolDef = mcp.NewTool(
	"autodetect_scan",
	mcp.WithDescription("Find labels in the document that name a category field (e.g., 'Part Number:') and suggest tokens. With apply, insert them."),
	mcp.WithString("category", mcp.Required(), mcp.Description("Category name or guid")),
	mcp.WithNumber("min_confidence",
		mcp.Description("Optional - drop suggestions below this confidence (0 to 1; 0.75 is always applied)"),
		mcp.Min(0),
		mcp.Max(1),
	),
	mcp.WithBoolean("apply", mcp.Description("Insert a token after each accepted label (default false)")),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithOpenWorldHintAnnotation(true),
)

var aiGenerateToolDef = mcp.NewTool(
	"ai_generate",
	mcp.WithDescription("Draft document text for a category with the AI backend and insert it, tracking every valid token in the draft."),
	mcp.WithString("category", mcp.Required(), mcp.Description("Category name or guid")),
	mcp.WithString("instruction", mcp.Required(), mcp.Description("What to write (e.g., 'a one-paragraph datasheet summary')")),
	mcp.WithNumber("position", mcp.Description("Optional - byte offset; defaults to the cursor, else the end"), mcp.Min(0)),
	mcp.WithBoolean("include_context", mcp.Description("Send the current document text along (default false)")),
	mcp.WithNumber("temperature", mcp.Description("Optional - sampling temperature"), mcp.Min(0), mcp.Max(2)),
	mcp.WithNumber("max_tokens", mcp.Description("Optional - output token cap"), mcp.Min(1)),
	mcp.WithBoolean("dry_run", mcp.Description("Return the draft without inserting it (default false)")),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithOpenWorldHintAnnotation(true),
)

var documentExportToolDef = mcp.NewTool(
	"document_export",
	mcp.WithDescription("Write the document as markdown or HTML. Paths must sit directly in ~/.arenadocs/exports or a configured allowed path."),
	mcp.WithString("path", mcp.Description("Optional - output file (.md or .html)")),
	mcp.WithString("format", mcp.Description("Optional - output format"), mcp.Enum("markdown", "html")),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithOpenWorldHintAnnotation(false),
)

var cacheClearToolDef = mcp.NewTool(
	"cache_clear",
	mcp.WithDescription("Drop cached categories and field lists so the next lookup refetches them."),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(false),
)
