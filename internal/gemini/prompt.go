package gemini

import (
	"fmt"
	"strings"

	"github.com/wallcrawler78/arenadocs/internal/token"
)

// maxContextBytes caps how much existing document text is sent along.
const maxContextBytes = 8000

// Prompt is a system instruction plus the user turn.
type Prompt struct {
	System string `json:"system,omitempty"`
	User   string `json:"user"`
}

// DraftRequest asks for document text with tokens for one category placed inline.
type DraftRequest struct {
	Instruction string
	Category    string
	Fields      []string
	// Context is existing document text the draft should fit into.
	Context string
}

const systemPrompt = `You write technical product documentation.
Wherever a value from the product record belongs, write the placeholder token
for that field exactly as listed and nothing else. Do not invent placeholders,
do not change their spelling and do not fill in values yourself.
Return only the document text, formatted as Markdown.`

// BuildDraftPrompt renders r into a prompt listing the allowed tokens.
func BuildDraftPrompt(r DraftRequest) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", strings.TrimSpace(r.Instruction))
	fmt.Fprintf(&b, "Product category: %s\n", r.Category)
	b.WriteString("Available placeholders:\n")
	for _, f := range r.Fields {
		fmt.Fprintf(&b, "- %s: %s\n", f, token.CreateTokenText(r.Category, f))
	}

	if ctx := strings.TrimSpace(r.Context); ctx != "" {
		if len(ctx) > maxContextBytes {
			ctx = strings.ToValidUTF8(ctx[:maxContextBytes], "")
		}
		b.WriteString("\nExisting document text for reference:\n---\n")
		b.WriteString(ctx)
		b.WriteString("\n---\n")
	}
	return Prompt{System: systemPrompt, User: b.String()}
}
