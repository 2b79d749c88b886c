// Package remote is the authenticated JSON-over-HTTP client shared by the PLM
// and AI backends. Backends differ in how they authorize a request and how
// they map a failing status to the error taxonomy.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/logging"
)

// DefaultTimeout bounds a single HTTP exchange.
const DefaultTimeout = 30 * time.Second

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 16 << 20

// Authorizer adds credentials to an outgoing request.
type Authorizer func(ctx context.Context, req *http.Request) error

// Classifier turns a non-2xx status and its extracted message into an error.
type Classifier func(status int, message string) error

// Request describes one call relative to the client's base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is JSON-encoded when non-nil.
	Body any
	// Anonymous skips the authorizer, for calls such as login.
	Anonymous bool
}

// Config configures a Client.
type Config struct {
	// Name identifies the backend in logs and error messages.
	Name       string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Authorize  Authorizer
	Classify   Classifier
}

// Client sends JSON requests to one backend.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	authorize  Authorizer
	classify   Classifier
}

// New creates a client. Missing optional fields get defaults.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Classify == nil {
		cfg.Classify = DefaultClassify
	}
	if cfg.Name == "" {
		cfg.Name = "remote"
	}
	return &Client{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger.Named(cfg.Name),
		authorize:  cfg.Authorize,
		classify:   cfg.Classify,
	}
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs req and decodes a 200/201 response body into out (which may be nil).
// Network failures are TRANSIENT; failing statuses go through the classifier.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	endpoint, err := c.buildURL(req.Path, req.Query)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid %s URL: %v", c.name, err))
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return errors.NewInternal(fmt.Errorf("encoding %s request: %w", c.name, err))
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("creating %s request: %w", c.name, err))
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.authorize != nil && !req.Anonymous {
		if err := c.authorize(ctx, httpReq); err != nil {
			return err
		}
	}

	c.logger.Debug("request", zap.String("method", method), zap.String("url", logging.RedactURL(endpoint)))
	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewTransient(fmt.Sprintf("cannot reach %s", c.name), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return errors.NewTransient(fmt.Sprintf("reading %s response", c.name), err)
	}

	c.logger.Debug("response",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg := ExtractMessage(data)
		c.logger.Warn("request failed",
			zap.String("method", method),
			zap.String("path", req.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		return c.classify(resp.StatusCode, msg)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.NewRemote(resp.StatusCode, fmt.Sprintf("invalid JSON from %s: %v", c.name, err))
	}
	return nil
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base URL %q is not absolute", c.baseURL)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// DefaultClassify maps common statuses onto the error taxonomy.
func DefaultClassify(status int, message string) error {
	switch {
	case status == http.StatusUnauthorized:
		return errors.NewAuthRequired(message)
	case status == http.StatusForbidden:
		return errors.NewInvalidCredential(message)
	case status == http.StatusNotFound:
		return errors.NewNotFound("resource", message)
	case status == http.StatusTooManyRequests:
		return errors.NewRateLimited(message)
	case status >= 500:
		return errors.NewTransient(fmt.Sprintf("server error %d: %s", status, message), nil)
	default:
		return errors.NewRemote(status, message)
	}
}

// ExtractMessage pulls a human-readable message from an error body. It
// understands {"error":{"message"}}, {"error":"..."}, {"errors":[{"message"}]}
// and {"message"}; anything else is returned as trimmed raw text.
func ExtractMessage(body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Error) > 0 {
			var obj struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(payload.Error, &obj) == nil && obj.Message != "" {
				return obj.Message
			}
			var s string
			if json.Unmarshal(payload.Error, &s) == nil && s != "" {
				return s
			}
		}
		var msgs []string
		for _, e := range payload.Errors {
			if e.Message != "" {
				msgs = append(msgs, e.Message)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
		if payload.Message != "" {
			return payload.Message
		}
	}

	text := strings.TrimSpace(string(body))
	const maxLen = 500
	if len(text) > maxLen {
		text = text[:maxLen] + "..."
	}
	if text == "" {
		text = "empty response"
	}
	return text
}
