package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/wallcrawler78/arenadocs/internal/autodetect"
	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/gemini"
	"github.com/wallcrawler78/arenadocs/internal/token"
)

// AutodetectInput contains parameters for the Autodetect operation.
type AutodetectInput struct {
	Category string
	// MinConfidence raises the acceptance threshold above autodetect.Threshold.
	MinConfidence float64
	// Apply inserts a token for each accepted suggestion.
	Apply bool
}

// AutodetectOutput contains the result of the Autodetect operation.
type AutodetectOutput struct {
	Category    string                  `json:"category"`
	Suggestions []autodetect.Suggestion `json:"suggestions"`
	Count       int                     `json:"count"`
	Inserted    []*token.Token          `json:"inserted,omitempty"`
}

// Autodetect scans the document for labels naming the category's fields.
func Autodetect(ctx context.Context, rt *Runtime, input AutodetectInput) (*AutodetectOutput, error) {
	if err := rt.requireDocument(); err != nil {
		return nil, err
	}
	if input.MinConfidence < 0 || input.MinConfidence > 1 {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("min confidence must be between 0 and 1, got %g", input.MinConfidence))
	}
	fs, err := fieldSet(ctx, rt, input.Category)
	if err != nil {
		return nil, err
	}

	all := autodetect.Scan(rt.Doc.Text(), fs.Fields)
	suggestions := make([]autodetect.Suggestion, 0, len(all))
	for _, s := range all {
		if s.Confidence >= input.MinConfidence {
			suggestions = append(suggestions, s)
		}
	}

	out := &AutodetectOutput{Category: fs.CategoryName, Suggestions: suggestions, Count: len(suggestions)}
	if input.Apply && len(suggestions) > 0 {
		out.Inserted, err = autodetect.Apply(ctx, rt.Engine, fs, suggestions)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GenerateInput contains parameters for the Generate operation.
type GenerateInput struct {
	Category    string
	Instruction string
	// Position is where the text goes; nil means the cursor, else the end.
	Position *int
	// IncludeContext sends the current document text along with the prompt.
	IncludeContext bool
	Temperature    *float32
	MaxTokens      int32
	// DryRun returns the generated text without inserting it.
	DryRun bool
}

// GenerateOutput contains the result of the Generate operation.
type GenerateOutput struct {
	Text         string                  `json:"text"`
	Model        string                  `json:"model"`
	FinishReason string                  `json:"finish_reason,omitempty"`
	PromptTokens int32                   `json:"prompt_tokens"`
	OutputTokens int32                   `json:"output_tokens"`
	Position     int                     `json:"position"`
	Inserted     int                     `json:"inserted"`
	Tokens       []*token.Token          `json:"tokens"`
	Validation   *token.ValidationResult `json:"validation,omitempty"`
}

// Generate drafts text for the category with the AI backend and inserts it,
// registering every valid literal in it as an ai-generated token.
func Generate(ctx context.Context, rt *Runtime, input GenerateInput) (*GenerateOutput, error) {
	if err := rt.requireDocument(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Instruction) == "" {
		return nil, errors.NewInvalidRequest("instruction is required")
	}
	fs, err := fieldSet(ctx, rt, input.Category)
	if err != nil {
		return nil, err
	}

	pos := rt.Doc.Len()
	if input.Position != nil {
		pos = *input.Position
	} else if c, ok := rt.Doc.Cursor(); ok {
		pos = c
	}
	if pos < 0 || pos > rt.Doc.Len() {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("position %d is outside the document (length %d)", pos, rt.Doc.Len()))
	}

	req := gemini.DraftRequest{
		Instruction: input.Instruction,
		Category:    fs.CategoryName,
		Fields:      fs.Names(),
	}
	if input.IncludeContext {
		req.Context = rt.Doc.Text()
	}
	opts := gemini.DefaultOptions()
	if input.Temperature != nil {
		opts.Temperature = *input.Temperature
	}
	if input.MaxTokens > 0 {
		opts.MaxOutputTokens = input.MaxTokens
	}

	res, err := rt.AI.Generate(ctx, gemini.BuildDraftPrompt(req), opts)
	if err != nil {
		return nil, err
	}
	out := &GenerateOutput{
		Text:         res.Text,
		Model:        rt.AI.Model(),
		FinishReason: res.FinishReason,
		PromptTokens: res.PromptTokens,
		OutputTokens: res.OutputTokens,
		Position:     pos,
		Tokens:       []*token.Token{},
	}
	if input.DryRun {
		return out, nil
	}

	gen, err := rt.Engine.RegisterGenerated(ctx, pos, res.Text, fs)
	if err != nil {
		return nil, err
	}
	out.Inserted = gen.Inserted
	out.Tokens = gen.Tokens
	out.Validation = &gen.Validation
	return out, nil
}
