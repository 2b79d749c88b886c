package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/wallcrawler78/arenadocs/internal/arena"
	"github.com/wallcrawler78/arenadocs/internal/errors"
)

// ListCategoriesOutput contains the result of the ListCategories operation.
type ListCategoriesOutput struct {
	Categories []arena.Category `json:"categories"`
	Count      int              `json:"count"`
}

// ListCategories returns the workspace's categories, cached per user.
func ListCategories(ctx context.Context, rt *Runtime) (*ListCategoriesOutput, error) {
	cats, err := rt.Catalog.Categories(ctx)
	if err != nil {
		return nil, err
	}
	if cats == nil {
		cats = []arena.Category{}
	}
	return &ListCategoriesOutput{Categories: cats, Count: len(cats)}, nil
}

// ListFieldsInput contains parameters for the ListFields operation.
type ListFieldsInput struct {
	Category string // name or guid
}

// ListFieldsOutput contains the result of the ListFields operation.
type ListFieldsOutput struct {
	CategoryID   string        `json:"category_id"`
	CategoryName string        `json:"category_name"`
	Fields       []arena.Field `json:"fields"`
	Count        int           `json:"count"`
}

// ListFields returns the bindable fields of a category.
func ListFields(ctx context.Context, rt *Runtime, input ListFieldsInput) (*ListFieldsOutput, error) {
	fs, err := fieldSet(ctx, rt, input.Category)
	if err != nil {
		return nil, err
	}
	return &ListFieldsOutput{
		CategoryID:   fs.CategoryID,
		CategoryName: fs.CategoryName,
		Fields:       fs.Fields,
		Count:        len(fs.Fields),
	}, nil
}

func fieldSet(ctx context.Context, rt *Runtime, category string) (*arena.CategoryFieldSet, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, errors.NewInvalidRequest("category is required")
	}
	return rt.Catalog.FieldsFor(ctx, category)
}

// WarmCache loads every category's fields into the cache.
func WarmCache(ctx context.Context, rt *Runtime) (*arena.WarmResult, error) {
	return rt.Catalog.WarmFields(ctx)
}

// ClearCacheOutput contains the result of the ClearCache operation.
type ClearCacheOutput struct {
	Removed int `json:"removed"`
}

// ClearCache drops cached categories and field sets.
func ClearCache(ctx context.Context, rt *Runtime) (*ClearCacheOutput, error) {
	return &ClearCacheOutput{Removed: rt.Catalog.ClearCache(ctx)}, nil
}

// ListRecordsInput contains parameters for the ListRecords operation.
type ListRecordsInput struct {
	Category string // optional name or guid
	Number   string // optional exact item number
	Limit    int    // default DefaultRecordLimit, max MaxRecordLimit
}

// RecordSummary is one row of a record listing.
type RecordSummary struct {
	ID             string `json:"id"`
	Number         string `json:"number"`
	Name           string `json:"name"`
	Revision       string `json:"revision,omitempty"`
	Category       string `json:"category,omitempty"`
	LifecyclePhase string `json:"lifecycle_phase,omitempty"`
}

// ListRecordsOutput contains the result of the ListRecords operation.
type ListRecordsOutput struct {
	Records []RecordSummary `json:"records"`
	Count   int             `json:"count"`
	Limit   int             `json:"limit"`
}

// ListRecords lists PLM records, optionally filtered by category and number.
func ListRecords(ctx context.Context, rt *Runtime, input ListRecordsInput) (*ListRecordsOutput, error) {
	limit := input.Limit
	switch {
	case limit < 0:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("limit must not be negative, got %d", limit))
	case limit == 0:
		limit = DefaultRecordLimit
	case limit > MaxRecordLimit:
		limit = MaxRecordLimit
	}

	q := arena.ItemQuery{Number: strings.TrimSpace(input.Number), Limit: limit}
	if c := strings.TrimSpace(input.Category); c != "" {
		cat, err := rt.Catalog.FindCategory(ctx, c)
		if err != nil {
			return nil, err
		}
		q.CategoryID = cat.GUID
	}

	items, err := rt.Arena.Items(ctx, q)
	if err != nil {
		return nil, err
	}
	out := &ListRecordsOutput{Records: make([]RecordSummary, 0, len(items)), Limit: limit}
	for _, it := range items {
		out.Records = append(out.Records, summarize(it))
	}
	out.Count = len(out.Records)
	return out, nil
}

func summarize(it arena.Item) RecordSummary {
	return RecordSummary{
		ID:             it.GUID,
		Number:         it.Number,
		Name:           it.Name,
		Revision:       it.RevisionNumber,
		Category:       it.Category.Name,
		LifecyclePhase: it.LifecyclePhase.Name,
	}
}

// resolveRecord turns a record id or item number into a record id. An id
// wins when both are given.
func resolveRecord(ctx context.Context, rt *Runtime, id, number string) (string, error) {
	if id = strings.TrimSpace(id); id != "" {
		return id, nil
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return "", nil
	}
	items, err := rt.Arena.Items(ctx, arena.ItemQuery{Number: number, Limit: 1})
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", errors.NewNotFound("record", number)
	}
	return items[0].GUID, nil
}
