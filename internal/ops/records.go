package ops

import (
	"context"

	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/token"
)

// RecordInput addresses a PLM record by id or by item number. Both empty
// means the record the document was last populated from, where allowed.
type RecordInput struct {
	RecordID string
	Number   string
}

// Populate fills every token in the document from a record.
func Populate(ctx context.Context, rt *Runtime, input RecordInput) (*token.PopulateResult, error) {
	if err := rt.requireDocument(); err != nil {
		return nil, err
	}
	id, err := resolveRecord(ctx, rt, input.RecordID, input.Number)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errors.NewInvalidRequest("record id or number is required")
	}
	return rt.Engine.PopulateFromRecord(ctx, id)
}

// CheckChanges reports populated values that differ from the record's
// current values without touching the document.
func CheckChanges(ctx context.Context, rt *Runtime, input RecordInput) (*token.ChangeReport, error) {
	if err := rt.requireDocument(); err != nil {
		return nil, err
	}
	id, err := linkedOr(ctx, rt, input)
	if err != nil {
		return nil, err
	}
	return rt.Engine.DetectChanges(ctx, id)
}

// Update applies every detected change to the document.
func Update(ctx context.Context, rt *Runtime, input RecordInput) (*token.UpdateResult, error) {
	if err := rt.requireDocument(); err != nil {
		return nil, err
	}
	id, err := resolveRecord(ctx, rt, input.RecordID, input.Number)
	if err != nil {
		return nil, err
	}
	return rt.Engine.Update(ctx, id)
}

func linkedOr(ctx context.Context, rt *Runtime, input RecordInput) (string, error) {
	id, err := resolveRecord(ctx, rt, input.RecordID, input.Number)
	if err != nil || id != "" {
		return id, err
	}
	lr, err := rt.Engine.Tokens().LinkedRecord(ctx)
	if err != nil {
		return "", err
	}
	if lr == nil {
		appErr := errors.NewInvalidRequest("document is not linked to a record")
		appErr.Hint = "pass a record id or populate the document first"
		return "", appErr
	}
	return lr.RecordID, nil
}
