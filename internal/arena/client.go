// Package arena is the client for the Arena PLM REST API: sign-in, the
// category/field catalog and item records.
package arena

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/ratelimit"
	"github.com/wallcrawler78/arenadocs/internal/remote"
	"github.com/wallcrawler78/arenadocs/internal/store"
)

// SessionHeader carries the session id on every authenticated call.
const SessionHeader = "arena_session_id"

const (
	DefaultBaseURL       = "https://api.arenasolutions.com/v1"
	DefaultProbeInterval = 30 * time.Minute
	DefaultPageSize      = 400
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Store      store.Store
	Logger     *zap.Logger

	// ProbeInterval is how long a validated session is trusted before the
	// next call first re-checks it with a cheap authenticated request.
	ProbeInterval time.Duration
	PageSize      int

	// Retry governs GET retries. Zero value means ratelimit.DefaultPolicy().
	Retry ratelimit.Policy
	Now   func() time.Time
}

// Client is one signed-in PLM user. Session state lives in the user scope of
// the store; the client keeps a copy for the duration of a command.
type Client struct {
	rc       *remote.Client
	store    store.Store
	logger   *zap.Logger
	probe    time.Duration
	pageSize int
	retry    ratelimit.Policy
	now      func() time.Time

	mu      sync.Mutex
	session *Session
	loaded  bool
}

// NewClient creates a PLM client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Retry.MaxAttempts == 0 {
		sleep := cfg.Retry.Sleep
		cfg.Retry = ratelimit.DefaultPolicy()
		cfg.Retry.Sleep = sleep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Client{
		store:    cfg.Store,
		logger:   cfg.Logger.Named("arena"),
		probe:    cfg.ProbeInterval,
		pageSize: cfg.PageSize,
		retry:    cfg.Retry,
		now:      cfg.Now,
	}
	c.retry.Logger = c.logger
	c.rc = remote.New(remote.Config{
		Name:       "arena",
		BaseURL:    cfg.BaseURL,
		HTTPClient: cfg.HTTPClient,
		Logger:     cfg.Logger,
		Authorize:  c.authorize,
		Classify:   classify,
	})
	return c
}

func classify(status int, msg string) error {
	if status == http.StatusUnauthorized {
		return errors.NewSessionExpired()
	}
	return remote.DefaultClassify(status, msg)
}

func isSessionExpired(err error) bool {
	appErr, ok := errors.As(err)
	return ok && appErr.Code == errors.ErrAuthRequired && appErr.Details["reason"] == "session_expired"
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

type loginResponse struct {
	SessionID     string `json:"arenaSessionId"`
	WorkspaceName string `json:"workspaceName"`
}

// Login signs in and stores the new session. The password is not retained.
func (c *Client) Login(ctx context.Context, email, password, workspaceID string) (*Session, error) {
	if email == "" || password == "" {
		return nil, errors.NewInvalidRequest("email and password are required")
	}

	var resp loginResponse
	err := c.rc.Do(ctx, remote.Request{
		Method:    http.MethodPost,
		Path:      "/login",
		Body:      loginRequest{Email: email, Password: password, WorkspaceID: workspaceID},
		Anonymous: true,
	}, &resp)
	if err != nil {
		if errors.Is(err, errors.ErrAuthRequired) || errors.Is(err, errors.ErrInvalidCredential) {
			return nil, &errors.AppError{
				Code:    errors.ErrAuthRequired,
				Status:  401,
				Message: "Arena rejected the sign-in",
				Hint:    "check the email, password and workspace id",
				Cause:   err,
			}
		}
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, errors.NewRemote(http.StatusOK, "login response has no session id")
	}

	now := c.now().UTC()
	sess := &Session{
		ID:              resp.SessionID,
		Email:           email,
		WorkspaceID:     workspaceID,
		WorkspaceName:   resp.WorkspaceName,
		CreatedAt:       now,
		LastValidatedAt: now,
	}
	if err := saveSession(ctx, c.store, sess); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.session, c.loaded = sess, true
	c.mu.Unlock()

	c.logger.Info("signed in", zap.String("email", email), zap.String("workspace", workspaceID))
	return sess, nil
}

// Logout ends the server session (best effort) and forgets it locally.
func (c *Client) Logout(ctx context.Context) error {
	sess, err := c.Session(ctx)
	if err != nil {
		return err
	}
	if sess != nil {
		if err := c.rc.Do(ctx, remote.Request{Method: http.MethodPut, Path: "/logout"}, nil); err != nil {
			c.logger.Debug("server logout failed", zap.Error(err))
		}
	}
	return c.forget(ctx)
}

// Session returns the stored session, or nil when signed out.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		s, err := loadSession(ctx, c.store)
		if err != nil {
			return nil, err
		}
		c.session, c.loaded = s, true
	}
	if c.session == nil {
		return nil, nil
	}
	cp := *c.session
	return &cp, nil
}

func (c *Client) forget(ctx context.Context) error {
	c.mu.Lock()
	c.session, c.loaded = nil, true
	c.mu.Unlock()
	return clearSession(ctx, c.store)
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	sess, err := c.Session(ctx)
	if err != nil {
		return err
	}
	if !sess.Valid() {
		return errors.NewAuthRequired("not signed in to Arena")
	}
	req.Header.Set(SessionHeader, sess.ID)
	return nil
}

// ensureFresh probes the server when the session was last validated more
// than the probe interval ago.
func (c *Client) ensureFresh(ctx context.Context) error {
	sess, err := c.Session(ctx)
	if err != nil {
		return err
	}
	if !sess.Valid() {
		return errors.NewAuthRequired("not signed in to Arena")
	}
	if c.now().Sub(sess.LastValidatedAt) <= c.probe {
		return nil
	}

	c.logger.Debug("probing session", zap.Time("last_validated", sess.LastValidatedAt))
	if err := c.rc.Do(ctx, remote.Request{Path: "/settings/users/me"}, nil); err != nil {
		return c.handleAuth(ctx, err)
	}

	sess.LastValidatedAt = c.now().UTC()
	if err := saveSession(ctx, c.store, sess); err != nil {
		c.logger.Warn("failed to persist session validation time", zap.Error(err))
	}
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	return nil
}

func (c *Client) handleAuth(ctx context.Context, err error) error {
	if isSessionExpired(err) {
		c.logger.Info("session rejected by server, clearing")
		if clearErr := c.forget(ctx); clearErr != nil {
			c.logger.Warn("failed to clear session", zap.Error(clearErr))
		}
	}
	return err
}

// get performs an authenticated GET with the general retry track.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	_, err := ratelimit.Do(ctx, nil, c.retry, func(ctx context.Context) (struct{}, error) {
		if err := c.ensureFresh(ctx); err != nil {
			return struct{}{}, err
		}
		err := c.rc.Do(ctx, remote.Request{Path: path, Query: query}, out)
		return struct{}{}, c.handleAuth(ctx, err)
	})
	return err
}

type listResponse[T any] struct {
	Count   int `json:"count"`
	Results []T `json:"results"`
}

// Categories lists item categories.
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	var resp listResponse[Category]
	if err := c.get(ctx, "/settings/items/categories", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// CategoryAttributes lists the custom attributes of one category.
func (c *Client) CategoryAttributes(ctx context.Context, categoryID string) ([]Attribute, error) {
	var resp listResponse[Attribute]
	path := "/settings/items/categories/" + url.PathEscape(categoryID) + "/attributes"
	if err := c.get(ctx, path, nil, &resp); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NewNotFound("category", categoryID)
		}
		return nil, err
	}
	return resp.Results, nil
}

// ItemQuery filters an item listing.
type ItemQuery struct {
	CategoryID string
	Number     string
	// Limit caps the total number of items returned; 0 means all.
	Limit int
}

// Items lists items page by page until a short page, then concatenates them.
func (c *Client) Items(ctx context.Context, q ItemQuery) ([]Item, error) {
	var all []Item
	for offset := 0; ; offset += c.pageSize {
		query := url.Values{
			"limit":        {strconv.Itoa(c.pageSize)},
			"offset":       {strconv.Itoa(offset)},
			"responseview": {"full"},
		}
		if q.CategoryID != "" {
			query.Set("category.guid", q.CategoryID)
		}
		if q.Number != "" {
			query.Set("number", q.Number)
		}

		var page listResponse[Item]
		if err := c.get(ctx, "/items", query, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Results...)
		if q.Limit > 0 && len(all) >= q.Limit {
			return all[:q.Limit], nil
		}
		if len(page.Results) < c.pageSize {
			return all, nil
		}
	}
}

// Item fetches one record with all attributes.
func (c *Client) Item(ctx context.Context, id string) (*Item, error) {
	if id == "" {
		return nil, errors.NewInvalidRequest("record id is required")
	}
	var it Item
	path := "/items/" + url.PathEscape(id)
	if err := c.get(ctx, path, url.Values{"responseview": {"full"}}, &it); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NewNotFound("record", id)
		}
		return nil, err
	}
	return &it, nil
}
