// Package gemini is the generative-AI client. Requests and responses use the
// genai wire types; transport, error classification and retries are shared
// with the PLM client.
package gemini

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/ratelimit"
	"github.com/wallcrawler78/arenadocs/internal/remote"
	"github.com/wallcrawler78/arenadocs/internal/store"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-1.5-flash"

	// APIKeyKey is the user-scope key holding the API key.
	APIKeyKey = "gemini_api_key"
)

// Options are the generation parameters.
type Options struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int32   `json:"maxOutputTokens"`
	TopP            float32 `json:"topP"`
	TopK            float32 `json:"topK"`
}

// DefaultOptions returns temperature 0.7, 2048 output tokens, top-p 0.95, top-k 40.
func DefaultOptions() Options {
	return Options{Temperature: 0.7, MaxOutputTokens: 2048, TopP: 0.95, TopK: 40}
}

// Result is one generation.
type Result struct {
	Text         string `json:"text"`
	FinishReason string `json:"finishReason,omitempty"`
	PromptTokens int32  `json:"promptTokens"`
	OutputTokens int32  `json:"outputTokens"`
	TotalTokens  int32  `json:"totalTokens"`
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Store      store.Store
	Limiter    *ratelimit.Limiter
	Retry      ratelimit.Policy
	Logger     *zap.Logger

	// EnvAPIKey is used when no key has been stored for the user.
	EnvAPIKey string
}

// Client calls generateContent for one user.
type Client struct {
	rc      *remote.Client
	model   string
	store   store.Store
	limiter *ratelimit.Limiter
	retry   ratelimit.Policy
	logger  *zap.Logger
	envKey  string
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retry.MaxAttempts == 0 {
		sleep := cfg.Retry.Sleep
		cfg.Retry = ratelimit.DefaultPolicy()
		cfg.Retry.Sleep = sleep
	}

	c := &Client{
		model:   cfg.Model,
		store:   cfg.Store,
		limiter: cfg.Limiter,
		retry:   cfg.Retry,
		logger:  cfg.Logger.Named("gemini"),
		envKey:  cfg.EnvAPIKey,
	}
	c.retry.Logger = c.logger
	c.rc = remote.New(remote.Config{
		Name:       "gemini",
		BaseURL:    cfg.BaseURL,
		HTTPClient: cfg.HTTPClient,
		Logger:     cfg.Logger,
		Authorize:  c.authorize,
		Classify:   classify,
	})
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// classify maps key problems to INVALID_CREDENTIAL. The API answers a bad key
// with 400 and a missing permission with 403.
func classify(status int, msg string) error {
	switch status {
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(msg), "api key") {
			return errors.NewInvalidCredential(msg)
		}
		return errors.NewRemote(status, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NewInvalidCredential(msg)
	}
	return remote.DefaultClassify(status, msg)
}

// SetAPIKey stores key for the current user.
func (c *Client) SetAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.NewInvalidRequest("API key is empty")
	}
	if err := c.store.Set(ctx, store.ScopeUser, APIKeyKey, key); err != nil {
		return errors.NewInternal(err)
	}
	c.logger.Info("API key stored")
	return nil
}

// ClearAPIKey removes the stored key.
func (c *Client) ClearAPIKey(ctx context.Context) error {
	if err := c.store.Delete(ctx, store.ScopeUser, APIKeyKey); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// HasAPIKey reports whether a key is available from the store or environment.
func (c *Client) HasAPIKey(ctx context.Context) bool {
	key, err := c.apiKey(ctx)
	return err == nil && key != ""
}

func (c *Client) apiKey(ctx context.Context) (string, error) {
	key, ok, err := c.store.Get(ctx, store.ScopeUser, APIKeyKey)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if ok && key != "" {
		return key, nil
	}
	if c.envKey != "" {
		return c.envKey, nil
	}
	appErr := errors.NewAuthRequired("no AI API key configured")
	appErr.Hint = "run 'arenadocs set-key' or set GEMINI_API_KEY"
	return "", appErr
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	key, err := c.apiKey(ctx)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("key", key)
	req.URL.RawQuery = q.Encode()
	return nil
}

type generateRequest struct {
	Contents          []*genai.Content        `json:"contents"`
	SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *genai.GenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings    []*genai.SafetySetting  `json:"safetySettings,omitempty"`
}

func safetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	out := make([]*genai.SafetySetting, len(categories))
	for i, cat := range categories {
		out[i] = &genai.SafetySetting{
			Category:  cat,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		}
	}
	return out
}

// Generate sends one prompt. The key check, admission control and retries all
// happen around this single call.
func (c *Client) Generate(ctx context.Context, p Prompt, opts Options) (*Result, error) {
	if strings.TrimSpace(p.User) == "" {
		return nil, errors.NewInvalidRequest("prompt is empty")
	}
	if _, err := c.apiKey(ctx); err != nil {
		return nil, err
	}

	req := generateRequest{
		Contents: []*genai.Content{genai.NewContentFromText(p.User, genai.RoleUser)},
		GenerationConfig: &genai.GenerationConfig{
			Temperature:     &opts.Temperature,
			MaxOutputTokens: opts.MaxOutputTokens,
			TopP:            &opts.TopP,
			TopK:            &opts.TopK,
		},
		SafetySettings: safetySettings(),
	}
	if p.System != "" {
		req.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}

	path := "/models/" + url.PathEscape(c.model) + ":generateContent"
	resp, err := ratelimit.Do(ctx, c.limiter, c.retry, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		var out genai.GenerateContentResponse
		if err := c.rc.Do(ctx, remote.Request{Method: http.MethodPost, Path: path, Body: req}, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}
	return toResult(resp)
}

func toResult(resp *genai.GenerateContentResponse) (*Result, error) {
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			err := errors.NewInvalidRequest("prompt was blocked: " + string(resp.PromptFeedback.BlockReason))
			err.Hint = "rephrase the request"
			return nil, err
		}
		return nil, errors.NewRemote(http.StatusOK, "response has no candidates")
	}

	cand := resp.Candidates[0]
	var sb strings.Builder
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part != nil && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
	}
	res := &Result{
		Text:         sb.String(),
		FinishReason: string(cand.FinishReason),
	}
	if u := resp.UsageMetadata; u != nil {
		res.PromptTokens = u.PromptTokenCount
		res.OutputTokens = u.CandidatesTokenCount
		res.TotalTokens = u.TotalTokenCount
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil, errors.NewRemote(http.StatusOK, "empty generation (finish reason "+res.FinishReason+")")
	}
	return res, nil
}
