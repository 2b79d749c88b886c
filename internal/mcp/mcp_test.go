package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap/zaptest"

	"github.com/wallcrawler78/arenadocs/internal/arena/arenatest"
	"github.com/wallcrawler78/arenadocs/internal/config"
	"github.com/wallcrawler78/arenadocs/internal/db"
	"github.com/wallcrawler78/arenadocs/internal/document"
	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/ops"
)

const generateBody = `{
  "candidates": [{
    "content": {"role": "model", "parts": [{"text": "Part {{ARENA:Resistor:Number}} ({{ARENA:Resistor:Name}})."}]},
    "finishReason": "STOP"
  }],
  "usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15}
}`

type testEnv struct {
	dir     string
	docPath string
	cfg     *config.Config
	plm     *arenatest.Server
}

// testSetup starts a fake PLM and AI backend and returns a config pointing
// at them. The document lives in a temp dir that is also an allowed path.
func testSetup(t *testing.T) *testEnv {
	t.Helper()

	tmpDir := t.TempDir()
	plm := arenatest.NewServer()
	plm.Fixtures()
	t.Cleanup(plm.Close)

	ai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(generateBody))
	}))
	t.Cleanup(ai.Close)

	cfg := config.DefaultConfig()
	cfg.ArenaBaseURL = plm.URL
	cfg.ArenaEmail = arenatest.Email
	cfg.ArenaWorkspaceID = arenatest.WorkspaceID
	cfg.GeminiBaseURL = ai.URL
	cfg.GeminiAPIKey = "test-key"
	cfg.AllowedPaths = []string{tmpDir}

	return &testEnv{
		dir:     tmpDir,
		docPath: filepath.Join(tmpDir, "datasheet.arenadoc"),
		cfg:     cfg,
		plm:     plm,
	}
}

// runtime opens a runtime on the env's database and document.
func (e *testEnv) runtime(t *testing.T) *ops.Runtime {
	t.Helper()
	database, err := db.Init(e.dir)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	rt, err := ops.Open(database, e.cfg, zaptest.NewLogger(t), e.docPath)
	if err != nil {
		t.Fatalf("failed to open runtime: %v", err)
	}
	return rt
}

// signedIn returns handlers over a runtime that is already logged in.
func (e *testEnv) signedIn(t *testing.T) (*Handlers, *ops.Runtime) {
	t.Helper()
	rt := e.runtime(t)
	if _, err := ops.Login(context.Background(), rt, ops.LoginInput{Password: arenatest.Password}); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return NewHandlers(rt), rt
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestHandleSessionStatus(t *testing.T) {
	env := testSetup(t)
	h := NewHandlers(env.runtime(t))

	out := parseOutput(t, mustCall(t, h.HandleSessionStatus, nil))
	session := out["session"].(map[string]any)
	if session["signed_in"] != false {
		t.Errorf("signed_in = %v, want false", session["signed_in"])
	}
	ai := out["ai"].(map[string]any)
	if ai["key_configured"] != true {
		t.Errorf("key_configured = %v, want true", ai["key_configured"])
	}
}

func TestHandleCategoryAndFieldList(t *testing.T) {
	env := testSetup(t)
	h, _ := env.signedIn(t)

	cats := parseOutput(t, mustCall(t, h.HandleCategoryList, nil))
	if cats["count"] != float64(2) {
		t.Errorf("count = %v, want 2", cats["count"])
	}

	tests := []struct {
		name      string
		args      map[string]any
		wantError string
		wantCount float64
	}{
		{name: "by name", args: map[string]any{"category": "Capacitor"}, wantCount: 10},
		{name: "by guid", args: map[string]any{"category": "CAT-R"}, wantCount: 10},
		{name: "unknown", args: map[string]any{"category": "Inductor"}, wantError: "NOT_FOUND"},
		{name: "missing", args: map[string]any{}, wantError: "INVALID_REQUEST"},
		{name: "wrong type", args: map[string]any{"category": 7}, wantError: "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := mustCall(t, h.HandleFieldList, tt.args)
			if tt.wantError != "" {
				assertErrorCode(t, result, tt.wantError)
				return
			}
			out := parseOutput(t, result)
			if out["count"] != tt.wantCount {
				t.Errorf("count = %v, want %v", out["count"], tt.wantCount)
			}
		})
	}
}

func TestHandleRecordList(t *testing.T) {
	env := testSetup(t)
	h, _ := env.signedIn(t)

	out := parseOutput(t, mustCall(t, h.HandleRecordList, map[string]any{"category": "Resistor", "limit": 5}))
	records := out["records"].([]any)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if num := records[0].(map[string]any)["number"]; num != "RES-001" {
		t.Errorf("number = %v, want RES-001", num)
	}

	assertErrorCode(t, mustCall(t, h.HandleRecordList, map[string]any{"limit": -3}), "INVALID_REQUEST")
}

func TestHandleTokenLifecycle(t *testing.T) {
	env := testSetup(t)
	h, rt := env.signedIn(t)

	if err := rt.Doc.Insert(0, "Part: \nName: "); err != nil {
		t.Fatalf("insert text: %v", err)
	}

	inserted := parseOutput(t, mustCall(t, h.HandleTokenInsert, map[string]any{
		"category": "Resistor", "field": "Number", "position": 6,
	}))
	tok := inserted["token"].(map[string]any)
	if tok["text"] != "{{ARENA:Resistor:Number}}" {
		t.Errorf("token text = %v", tok["text"])
	}
	mustCall(t, h.HandleTokenInsert, map[string]any{"category": "Resistor", "field": "Name", "position": float64(rt.Doc.Len())})

	// Mutating tools persist the document.
	saved, err := document.Load(env.docPath)
	if err != nil {
		t.Fatalf("load saved document: %v", err)
	}
	if saved.Text() != rt.Doc.Text() {
		t.Errorf("saved text = %q, want %q", saved.Text(), rt.Doc.Text())
	}

	list := parseOutput(t, mustCall(t, h.HandleTokenList, nil))
	if list["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", list["count"])
	}

	valid := parseOutput(t, mustCall(t, h.HandleTokenValidate, nil))
	if valid["ok"] != true {
		t.Errorf("validation ok = %v, want true: %v", valid["ok"], valid)
	}

	pop := parseOutput(t, mustCall(t, h.HandleRecordPopulate, map[string]any{"number": "RES-001"}))
	if pop["replaced"] != float64(2) {
		t.Errorf("replaced = %v, want 2", pop["replaced"])
	}
	if want := "Part: RES-001\nName: 10k Resistor"; rt.Doc.Text() != want {
		t.Errorf("text = %q, want %q", rt.Doc.Text(), want)
	}

	env.plm.Items[0].Number = "RES-001A"
	changes := parseOutput(t, mustCall(t, h.HandleRecordChanges, nil))
	if got := len(changes["changes"].([]any)); got != 1 {
		t.Fatalf("changes = %d, want 1", got)
	}

	upd := parseOutput(t, mustCall(t, h.HandleRecordUpdate, nil))
	if upd["applied"] != float64(1) {
		t.Errorf("applied = %v, want 1", upd["applied"])
	}
	if want := "Part: RES-001A\nName: 10k Resistor"; rt.Doc.Text() != want {
		t.Errorf("text = %q, want %q", rt.Doc.Text(), want)
	}

	id := tok["id"].(string)
	del := parseOutput(t, mustCall(t, h.HandleTokenDelete, map[string]any{"id": id}))
	if del["deleted"] != true {
		t.Errorf("deleted = %v, want true", del["deleted"])
	}
	assertErrorCode(t, mustCall(t, h.HandleTokenDelete, map[string]any{"id": id}), "NOT_FOUND")

	cleared := parseOutput(t, mustCall(t, h.HandleTokenClear, nil))
	if cleared["removed"] != float64(1) {
		t.Errorf("removed = %v, want 1", cleared["removed"])
	}
	assertErrorCode(t, mustCall(t, h.HandleRecordChanges, nil), "INVALID_REQUEST")
}

func TestHandleAutodetectScan(t *testing.T) {
	env := testSetup(t)
	h, rt := env.signedIn(t)

	if err := rt.Doc.Insert(0, "Revision: \nResistance: "); err != nil {
		t.Fatalf("insert text: %v", err)
	}

	scan := parseOutput(t, mustCall(t, h.HandleAutodetectScan, map[string]any{"category": "Resistor"}))
	if scan["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", scan["count"])
	}
	if _, ok := scan["inserted"]; ok {
		t.Error("scan without apply should not insert")
	}

	applied := parseOutput(t, mustCall(t, h.HandleAutodetectScan, map[string]any{"category": "Resistor", "apply": true}))
	if got := len(applied["inserted"].([]any)); got != 2 {
		t.Errorf("inserted = %d, want 2", got)
	}
	want := "Revision: {{ARENA:Resistor:Revision}}\nResistance: {{ARENA:Resistor:Resistance}}"
	if rt.Doc.Text() != want {
		t.Errorf("text = %q, want %q", rt.Doc.Text(), want)
	}

	assertErrorCode(t, mustCall(t, h.HandleAutodetectScan, map[string]any{"category": "Resistor", "min_confidence": 3}), "INVALID_REQUEST")
}

func TestHandleAIGenerate(t *testing.T) {
	env := testSetup(t)
	h, rt := env.signedIn(t)

	out := parseOutput(t, mustCall(t, h.HandleAIGenerate, map[string]any{
		"category":    "Resistor",
		"instruction": "Summarize the part",
		"temperature": 0.2,
		"max_tokens":  256,
	}))
	if got := len(out["tokens"].([]any)); got != 2 {
		t.Errorf("tokens = %d, want 2", got)
	}
	if rt.Doc.Text() != "Part {{ARENA:Resistor:Number}} ({{ARENA:Resistor:Name}})." {
		t.Errorf("text = %q", rt.Doc.Text())
	}

	assertErrorCode(t, mustCall(t, h.HandleAIGenerate, map[string]any{"category": "Resistor"}), "INVALID_REQUEST")
}

func TestHandleDocumentExport(t *testing.T) {
	env := testSetup(t)
	h, rt := env.signedIn(t)
	if err := rt.Doc.Insert(0, "# Datasheet\n\n**Rated** 10k\n"); err != nil {
		t.Fatalf("insert text: %v", err)
	}

	path := filepath.Join(env.dir, "datasheet.html")
	out := parseOutput(t, mustCall(t, h.HandleDocumentExport, map[string]any{"path": path}))
	if out["format"] != "html" {
		t.Errorf("format = %v, want html", out["format"])
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), "<strong>Rated</strong>") {
		t.Errorf("export is not rendered HTML: %s", data)
	}

	assertErrorCode(t, mustCall(t, h.HandleDocumentExport, map[string]any{"path": "/etc/datasheet.md"}), "INVALID_REQUEST")
	assertErrorCode(t, mustCall(t, h.HandleDocumentExport, map[string]any{"path": path, "format": "pdf"}), "INVALID_REQUEST")
}

func TestHandleCacheClear(t *testing.T) {
	env := testSetup(t)
	h, _ := env.signedIn(t)

	mustCall(t, h.HandleFieldList, map[string]any{"category": "Resistor"})
	out := parseOutput(t, mustCall(t, h.HandleCacheClear, nil))
	if out["removed"] != float64(3) {
		t.Errorf("removed = %v, want 3", out["removed"])
	}
}

func TestHandlers_SignedOut(t *testing.T) {
	env := testSetup(t)
	h := NewHandlers(env.runtime(t))

	assertErrorCode(t, mustCall(t, h.HandleCategoryList, nil), "AUTH_REQUIRED")
	assertErrorCode(t, mustCall(t, h.HandleRecordPopulate, map[string]any{"number": "RES-001"}), "AUTH_REQUIRED")
}

func TestServerRegistration(t *testing.T) {
	env := testSetup(t)

	s := NewServer(env.runtime(t), "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"session_status",
		"category_list",
		"field_list",
		"record_list",
		"token_insert",
		"token_list",
		"token_delete",
		"token_clear",
		"token_validate",
		"record_populate",
		"record_changes",
		"record_update",
		"autodetect_scan",
		"ai_generate",
		"document_export",
		"cache_clear",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}
	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	env := testSetup(t)
	env.cfg.DisabledTools = []string{"token_clear", "record_update", "record_update"}

	tools := NewServer(env.runtime(t), "test").ListTools()
	if len(tools) != 14 {
		t.Errorf("registered tool count = %d, want 14", len(tools))
	}
	for _, name := range []string{"token_clear", "record_update"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_WithDisabledTypes(t *testing.T) {
	env := testSetup(t)
	env.cfg.DisabledTypes = []string{"token", "ai"}

	tools := NewServer(env.runtime(t), "test").ListTools()
	if len(tools) != 10 {
		t.Errorf("registered tool count = %d, want 10", len(tools))
	}
	for name := range tools {
		if typ := GetTypeForTool(name); typ == "token" || typ == "ai" {
			t.Errorf("tool %q of disabled type %q is registered", name, typ)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	env := testSetup(t)
	env.cfg.DisabledTools = AllToolNames()

	if tools := NewServer(env.runtime(t), "test").ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{name: "all valid", input: []string{"token_clear", "ai_generate"}, wantLen: 0},
		{name: "one unknown", input: []string{"token_clear", "widget_store"}, wantLen: 1},
		{name: "all unknown", input: []string{"foo", "bar", "baz"}, wantLen: 3},
		{name: "empty list", input: []string{}, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unknown := ValidateDisabledTools(tt.input); len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestValidateDisabledTypes(t *testing.T) {
	if unknown := ValidateDisabledTypes([]string{"token", "widget"}); len(unknown) != 1 || unknown[0] != "widget" {
		t.Errorf("ValidateDisabledTypes() = %v, want [widget]", unknown)
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != 16 {
		t.Errorf("AllToolNames() returned %d names, want 16", len(names))
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("AllToolNames() is not sorted: %v", names)
	}
	if unknown := ValidateDisabledTools(names); len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}

	// Every tool belongs to a known type.
	if unknown := ValidateDisabledTypes(typesOf(names)); len(unknown) != 0 {
		t.Errorf("tools with unknown types: %v", unknown)
	}
}

func TestExpandTypesToTools(t *testing.T) {
	got := ExpandTypesToTools([]string{"record"})
	want := []string{"record_changes", "record_list", "record_populate", "record_update"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("ExpandTypesToTools(record) = %v, want %v", got, want)
	}
	if got := ExpandTypesToTools(nil); got != nil {
		t.Errorf("ExpandTypesToTools(nil) = %v, want nil", got)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
	if errObj["message"] != "an internal error occurred" {
		t.Errorf("message = %v, want generic message", errObj["message"])
	}
}

func TestErrorResult_IncludesHintAndDetails(t *testing.T) {
	r := errorResult(errors.NewRateLimitExhausted(3, fmt.Errorf("429")))

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrRateLimited) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrRateLimited)
	}
	if errObj["hint"] == nil || errObj["hint"] == "" {
		t.Error("expected a hint")
	}
	details, ok := errObj["details"].(map[string]any)
	if !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
	if details["retries"] != float64(3) {
		t.Errorf("retries = %v, want 3", details["retries"])
	}
}

func TestErrorResult_PlainError(t *testing.T) {
	errObj := errorObject(t, errorResult(fmt.Errorf("boom")))
	if errObj["code"] != string(errors.ErrInternal) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
}

func TestDecode_WrongArgumentType(t *testing.T) {
	env := testSetup(t)
	h := NewHandlers(env.runtime(t))

	result := mustCall(t, h.HandleTokenInsert, map[string]any{
		"category": "Resistor",
		"field":    "Number",
		"position": "six",
	})
	assertErrorCode(t, result, "INVALID_REQUEST")
	if msg := extractErrorMessage(result); !strings.Contains(msg, "position") {
		t.Errorf("error message %q should name the argument", msg)
	}
}

// Helper functions

func mustCall(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) *mcp.CallToolResult {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	result, err := handler(context.Background(), makeRequest(args))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return result
}

func typesOf(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = GetTypeForTool(n)
	}
	return out
}

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func errorObject(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in payload: %v", payload)
	}
	return errObj
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if !result.IsError {
		t.Errorf("expected error %s, got success: %s", expectedCode, extractErrorMessage(result))
		return
	}
	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}
	if code, _ := errorObject(t, result)["code"].(string); code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
