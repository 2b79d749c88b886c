// Package ops implements the user-level operations shared by the CLI and the
// MCP server. Each operation takes a Runtime plus an Input struct and returns
// an Output struct that both surfaces serialize as JSON.
package ops

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wallcrawler78/arenadocs/internal/arena"
	"github.com/wallcrawler78/arenadocs/internal/cache"
	"github.com/wallcrawler78/arenadocs/internal/config"
	"github.com/wallcrawler78/arenadocs/internal/db"
	"github.com/wallcrawler78/arenadocs/internal/document"
	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/gemini"
	"github.com/wallcrawler78/arenadocs/internal/ratelimit"
	"github.com/wallcrawler78/arenadocs/internal/store"
	"github.com/wallcrawler78/arenadocs/internal/token"
)

// Record listing limits.
const (
	DefaultRecordLimit = 50
	MaxRecordLimit     = 400
)

// Runtime wires every component for one user profile and at most one open
// document.
type Runtime struct {
	Config *config.Config
	Logger *zap.Logger

	Store   *store.Scoped
	Cache   *cache.Cache
	Limiter *ratelimit.Limiter
	Arena   *arena.Client
	Catalog *arena.Catalog
	AI      *gemini.Client
	Engine  *token.Engine

	// Doc is an unsaved scratch document when DocPath is empty.
	Doc     *document.Document
	DocPath string

	now func() time.Time
}

// Option adjusts how Open wires the runtime.
type Option func(*options)

type options struct {
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
	httpClient *http.Client
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSleep overrides backoff and admission waits.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// WithHTTPClient overrides the HTTP client used for both backends.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// Open builds a Runtime. User-scope state lives in database under
// cfg.Profile; document-scope state lives in the document at docPath, which
// is created on Close if it does not exist yet.
func Open(database *sql.DB, cfg *config.Config, logger *zap.Logger, docPath string, opts ...Option) (*Runtime, error) {
	o := options{now: time.Now, sleep: ratelimit.Sleep}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.HTTPTimeout()}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	doc, err := openDocument(docPath)
	if err != nil {
		return nil, err
	}

	st := store.NewScoped(db.NewKV(database, string(store.ScopeUser), cfg.Profile), doc.Properties())
	c := cache.New(st, logger, cache.WithClock(o.now))
	limiter := ratelimit.NewLimiter(st, logger,
		ratelimit.WithLimit(cfg.AIRequestsPerMinute),
		ratelimit.WithClock(o.now),
		ratelimit.WithSleep(o.sleep),
	)
	retry := ratelimit.DefaultPolicy()
	retry.Sleep = o.sleep

	ac := arena.NewClient(arena.ClientConfig{
		BaseURL:       cfg.ArenaBaseURL,
		HTTPClient:    o.httpClient,
		Store:         st,
		Logger:        logger,
		ProbeInterval: cfg.SessionProbeInterval(),
		PageSize:      cfg.ItemPageSize,
		Retry:         retry,
		Now:           o.now,
	})
	catalog := arena.NewCatalog(ac, c, logger,
		time.Duration(cfg.CategoryCacheTTLSeconds)*time.Second,
		time.Duration(cfg.FieldCacheTTLSeconds)*time.Second)
	ai := gemini.New(gemini.Config{
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		HTTPClient: o.httpClient,
		Store:      st,
		Limiter:    limiter,
		Retry:      retry,
		Logger:     logger,
		EnvAPIKey:  cfg.GeminiAPIKey,
	})
	engine := token.NewEngine(token.Config{
		Document: doc,
		Store:    st,
		Records:  ac,
		Logger:   logger,
		Now:      o.now,
	})

	return &Runtime{
		Config:  cfg,
		Logger:  logger,
		Store:   st,
		Cache:   c,
		Limiter: limiter,
		Arena:   ac,
		Catalog: catalog,
		AI:      ai,
		Engine:  engine,
		Doc:     doc,
		DocPath: docPath,
		now:     o.now,
	}, nil
}

func openDocument(path string) (*document.Document, error) {
	if path == "" {
		return document.New("Untitled", ""), nil
	}
	if filepath.Ext(path) != document.Extension {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("document path must end in %s", document.Extension))
	}
	doc, err := document.Load(path)
	if errors.Is(err, errors.ErrNotFound) {
		title := strings.TrimSuffix(filepath.Base(path), document.Extension)
		return document.New(title, ""), nil
	}
	return doc, err
}

// Save writes the document when it has a path and unsaved changes.
func (rt *Runtime) Save() error {
	if rt.DocPath == "" || !rt.Doc.Dirty() {
		return nil
	}
	if err := rt.Doc.Save(rt.DocPath); err != nil {
		return err
	}
	rt.Logger.Debug("document saved", zap.String("path", rt.DocPath))
	return nil
}

// Close saves pending document changes.
func (rt *Runtime) Close() error {
	return rt.Save()
}

// requireDocument rejects document operations on the scratch document.
func (rt *Runtime) requireDocument() error {
	if rt.DocPath == "" {
		appErr := errors.NewInvalidRequest("no document open")
		appErr.Hint = "pass --doc <file" + document.Extension + ">"
		return appErr
	}
	return nil
}
