package arena

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wallcrawler78/arenadocs/internal/cache"
	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/store"
)

const (
	DefaultCategoryTTL = time.Hour
	DefaultFieldTTL    = time.Hour

	warmConcurrency = 4
)

// Schema is the part of the PLM API the catalog reads.
type Schema interface {
	Categories(ctx context.Context) ([]Category, error)
	CategoryAttributes(ctx context.Context, categoryID string) ([]Attribute, error)
}

// Catalog serves categories and their field sets through the TTL cache.
type Catalog struct {
	src         Schema
	cache       *cache.Cache
	logger      *zap.Logger
	categoryTTL time.Duration
	fieldTTL    time.Duration
}

// NewCatalog creates a catalog. Non-positive TTLs use the defaults.
func NewCatalog(src Schema, c *cache.Cache, logger *zap.Logger, categoryTTL, fieldTTL time.Duration) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if categoryTTL <= 0 {
		categoryTTL = DefaultCategoryTTL
	}
	if fieldTTL <= 0 {
		fieldTTL = DefaultFieldTTL
	}
	return &Catalog{
		src:         src,
		cache:       c,
		logger:      logger.Named("catalog"),
		categoryTTL: categoryTTL,
		fieldTTL:    fieldTTL,
	}
}

// Categories returns all item categories, from cache when fresh.
func (c *Catalog) Categories(ctx context.Context) ([]Category, error) {
	return cache.GetOrFetch(ctx, c.cache, store.ScopeUser, cache.KeyCategories, c.categoryTTL, c.src.Categories)
}

// FindCategory resolves a category by guid or by name (case-insensitive).
func (c *Catalog) FindCategory(ctx context.Context, nameOrID string) (Category, error) {
	cats, err := c.Categories(ctx)
	if err != nil {
		return Category{}, err
	}
	for _, cat := range cats {
		if cat.GUID == nameOrID {
			return cat, nil
		}
	}
	for _, cat := range cats {
		if strings.EqualFold(cat.Name, nameOrID) {
			return cat, nil
		}
	}
	return Category{}, errors.NewNotFound("category", nameOrID)
}

// Fields returns the bindable fields of a category. When the attribute list
// cannot be fetched the standard fields alone are returned and nothing is
// cached, so the next call tries again.
func (c *Catalog) Fields(ctx context.Context, cat Category) (*CategoryFieldSet, error) {
	attrs, err := cache.GetOrFetch(ctx, c.cache, store.ScopeUser, cache.FieldsKey(cat.GUID), c.fieldTTL,
		func(ctx context.Context) ([]Attribute, error) {
			return c.src.CategoryAttributes(ctx, cat.GUID)
		})
	if err != nil {
		if errors.Is(err, errors.ErrAuthRequired) {
			return nil, err
		}
		c.logger.Warn("attribute fetch failed, using standard fields only",
			zap.String("category", cat.Name), zap.Error(err))
		attrs = nil
	}
	return NewFieldSet(cat, attrs), nil
}

// FieldsFor resolves nameOrID and returns its field set.
func (c *Catalog) FieldsFor(ctx context.Context, nameOrID string) (*CategoryFieldSet, error) {
	cat, err := c.FindCategory(ctx, nameOrID)
	if err != nil {
		return nil, err
	}
	return c.Fields(ctx, cat)
}

// WarmResult summarizes a WarmFields run.
type WarmResult struct {
	Categories int `json:"categories"`
	Fields     int `json:"fields"`
}

// WarmFields loads every category's field set into the cache.
func (c *Catalog) WarmFields(ctx context.Context) (*WarmResult, error) {
	cats, err := c.Categories(ctx)
	if err != nil {
		return nil, err
	}

	counts := make([]int, len(cats))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmConcurrency)
	for i, cat := range cats {
		g.Go(func() error {
			fs, err := c.Fields(gctx, cat)
			if err != nil {
				return err
			}
			counts[i] = len(fs.Fields)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &WarmResult{Categories: len(cats)}
	for _, n := range counts {
		res.Fields += n
	}
	c.logger.Info("field cache warmed", zap.Int("categories", res.Categories), zap.Int("fields", res.Fields))
	return res, nil
}

// ClearCache drops the category list and the field sets of every category
// currently known.
func (c *Catalog) ClearCache(ctx context.Context) int {
	keys := []string{cache.KeyCategories}
	var cats []Category
	if c.cache.Get(ctx, store.ScopeUser, cache.KeyCategories, &cats) {
		for _, cat := range cats {
			keys = append(keys, cache.FieldsKey(cat.GUID))
		}
	}
	c.cache.Clear(ctx, store.ScopeUser, keys)
	return len(keys)
}
