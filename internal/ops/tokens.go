package ops

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/wallcrawler78/arenadocs/internal/arena"
	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/token"
)

// InsertTokenInput contains parameters for the InsertToken operation.
type InsertTokenInput struct {
	Category string
	Field    string
	// Position is a byte offset; nil inserts at the document cursor.
	Position *int
}

// InsertTokenOutput contains the result of the InsertToken operation.
type InsertTokenOutput struct {
	Token *token.Token `json:"token"`
	Start int          `json:"start"`
	End   int          `json:"end"`
}

// InsertToken inserts a token for a field of the category.
func InsertToken(ctx context.Context, rt *Runtime, input InsertTokenInput) (*InsertTokenOutput, error) {
	if err := rt.requireDocument(); err != nil {
		return nil, err
	}
	fs, err := fieldSet(ctx, rt, input.Category)
	if err != nil {
		return nil, err
	}
	f, ok := fs.Lookup(strings.TrimSpace(input.Field))
	if !ok {
		appErr := errors.NewNotFound("field", input.Field)
		appErr.Hint = fmt.Sprintf("list the fields of %s with 'arenadocs fields'", fs.CategoryName)
		return nil, appErr
	}
	b := token.BindingFor(arena.Category{GUID: fs.CategoryID, Name: fs.CategoryName}, f)

	var t *token.Token
	if input.Position != nil {
		t, err = rt.Engine.InsertAt(ctx, *input.Position, b, token.Provenance{Source: token.SourceManual})
	} else {
		t, err = rt.Engine.InsertAtCursor(ctx, b)
	}
	if err != nil {
		return nil, err
	}

	out := &InsertTokenOutput{Token: t}
	if a, ok := rt.Doc.Anchor(t.ID); ok {
		out.Start, out.End = a.Start, a.End
	}
	return out, nil
}

// ListTokensOutput contains the result of the ListTokens operation.
type ListTokensOutput struct {
	Tokens       []token.Located     `json:"tokens"`
	Count        int                 `json:"count"`
	Untracked    []token.Occurrence  `json:"untracked,omitempty"`
	LinkedRecord *token.LinkedRecord `json:"linked_record,omitempty"`
}

// ListTokens returns the stored tokens with their positions, plus literals in
// the text that have no stored metadata.
func ListTokens(ctx context.Context, rt *Runtime) (*ListTokensOutput, error) {
	if err := rt.requireDocument(); err != nil {
		return nil, err
	}
	located, err := rt.Engine.List(ctx)
	if err != nil {
		return nil, err
	}
	lr, err := rt.Engine.Tokens().LinkedRecord(ctx)
	if err != nil {
		return nil, err
	}

	tracked := map[int]bool{}
	for _, l := range located {
		if l.Present {
			tracked[l.Start] = true
		}
	}
	var untracked []token.Occurrence
	for _, o := range rt.Engine.FindAll() {
		if !tracked[o.Start] {
			untracked = append(untracked, o)
		}
	}

	if located == nil {
		located = []token.Located{}
	}
	return &ListTokensOutput{
		Tokens:       located,
		Count:        len(located),
		Untracked:    untracked,
		LinkedRecord: lr,
	}, nil
}

// DeleteTokenInput contains parameters for the DeleteToken operation.
type DeleteTokenInput struct {
	ID         string
	RemoveText bool
}

// DeleteTokenOutput contains the result of the DeleteToken operation.
type DeleteTokenOutput struct {
	Deleted     bool `json:"deleted"`
	TextRemoved bool `json:"text_removed"`
}

// DeleteToken removes one token's tracking and optionally its text.
func DeleteToken(ctx context.Context, rt *Runtime, input DeleteTokenInput) (*DeleteTokenOutput, error) {
	if err := rt.requireDocument(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("token id is required")
	}
	deleted, err := rt.Engine.Delete(ctx, id, input.RemoveText)
	if err != nil {
		return nil, err
	}
	return &DeleteTokenOutput{Deleted: deleted, TextRemoved: deleted && input.RemoveText}, nil
}

// ClearTokensOutput contains the result of the ClearTokens operation.
type ClearTokensOutput struct {
	Removed int `json:"removed"`
}

// ClearTokens forgets every token and the record link. Text is untouched.
func ClearTokens(ctx context.Context, rt *Runtime) (*ClearTokensOutput, error) {
	if err := rt.requireDocument(); err != nil {
		return nil, err
	}
	n, err := rt.Engine.ClearAll(ctx)
	if err != nil {
		return nil, err
	}
	return &ClearTokensOutput{Removed: n}, nil
}

// ValidateTokensInput contains parameters for the ValidateTokens operation.
type ValidateTokensInput struct {
	// Category is optional when every literal in the document names the
	// same category.
	Category string
}

// ValidateTokensOutput contains the result of the ValidateTokens operation.
type ValidateTokensOutput struct {
	Category string `json:"category"`
	OK       bool   `json:"ok"`
	token.ValidationResult
}

// ValidateTokens checks every literal in the document against a category's
// field list. When the field list cannot be loaded the category check still
// runs and a warning is returned.
func ValidateTokens(ctx context.Context, rt *Runtime, input ValidateTokensInput) (*ValidateTokensOutput, error) {
	if err := rt.requireDocument(); err != nil {
		return nil, err
	}
	occ := rt.Engine.FindAll()
	texts := make([]string, len(occ))
	for i, o := range occ {
		texts[i] = o.Text
	}

	category := strings.TrimSpace(input.Category)
	if category == "" {
		var err error
		if category, err = inferCategory(occ); err != nil {
			return nil, err
		}
	}

	var names []string
	var warn string
	fs, err := rt.Catalog.FieldsFor(ctx, category)
	switch {
	case err == nil:
		category = fs.CategoryName
		names = fs.Names()
	case errors.Is(err, errors.ErrNotFound), errors.Is(err, errors.ErrInvalidRequest), errors.Is(err, errors.ErrAuthRequired):
		return nil, err
	default:
		warn = "could not load fields: " + err.Error()
		rt.Logger.Warn("validating without field list", zap.String("category", category), zap.Error(err))
	}

	res := token.Validate(texts, category, names)
	if warn != "" {
		res.Warnings = append(res.Warnings, warn)
	}
	return &ValidateTokensOutput{
		Category:         category,
		OK:               len(res.Invalid) == 0,
		ValidationResult: res,
	}, nil
}

func inferCategory(occ []token.Occurrence) (string, error) {
	set := map[string]bool{}
	for _, o := range occ {
		set[o.Category] = true
	}
	if len(set) == 1 {
		for c := range set {
			return c, nil
		}
	}
	if len(set) == 0 {
		return "", errors.NewInvalidRequest("document has no tokens to validate")
	}
	names := make([]string, 0, len(set))
	for c := range set {
		names = append(names, c)
	}
	sort.Strings(names)
	appErr := errors.NewInvalidRequest(fmt.Sprintf("document mixes categories %s", strings.Join(names, ", ")))
	appErr.Hint = "pass the category to validate against"
	return "", appErr
}
