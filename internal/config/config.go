package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds application configuration.
// Values come from ~/.arenadocs/config.json, the nearest repo .arenadocs/config.json,
// and finally environment variables (env tags), in that order of precedence.
type Config struct {
	// ArenaBaseURL is the PLM REST API root.
	ArenaBaseURL string `json:"arena_base_url" env:"ARENA_API_URL"`

	// ArenaEmail and ArenaWorkspaceID prefill the login prompt.
	ArenaEmail       string `json:"arena_email,omitempty" env:"ARENA_EMAIL"`
	ArenaWorkspaceID string `json:"arena_workspace_id,omitempty" env:"ARENA_WORKSPACE_ID"`

	GeminiBaseURL string `json:"gemini_base_url" env:"GEMINI_API_URL"`
	GeminiModel   string `json:"gemini_model" env:"GEMINI_MODEL"`

	// GeminiAPIKey is read from the environment only. A key saved with set-key
	// in the user store takes precedence.
	GeminiAPIKey string `json:"-" env:"GEMINI_API_KEY"`

	HTTPTimeoutSeconds int `json:"http_timeout_seconds" env:"ARENADOCS_HTTP_TIMEOUT"`

	// SessionProbeMinutes is how long a PLM session is trusted before the
	// next call first re-checks it against the server.
	SessionProbeMinutes int `json:"session_probe_minutes" env:"ARENADOCS_SESSION_PROBE_MINUTES"`

	CategoryCacheTTLSeconds int `json:"category_cache_ttl_seconds" env:"ARENADOCS_CATEGORY_TTL"`
	FieldCacheTTLSeconds    int `json:"field_cache_ttl_seconds" env:"ARENADOCS_FIELD_TTL"`

	// AIRequestsPerMinute is the sliding-window admission limit for the AI backend.
	AIRequestsPerMinute int `json:"ai_requests_per_minute" env:"ARENADOCS_AI_RPM"`

	// ItemPageSize is the page size used when listing PLM records.
	ItemPageSize int `json:"item_page_size" env:"ARENADOCS_ITEM_PAGE_SIZE"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level" env:"ARENADOCS_LOG_LEVEL"`

	// Profile selects the user-scope namespace in the local database.
	Profile string `json:"profile" env:"ARENADOCS_PROFILE"`

	// AllowedPaths is an allowlist of directories for import/export operations.
	// Paths outside ~/.arenadocs/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for import/export.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "session", "category", "field", "record", "token",
	// "autodetect", "ai", "document", "cache".
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ArenaBaseURL:            "https://api.arenasolutions.com/v1",
		GeminiBaseURL:           "https://generativelanguage.googleapis.com/v1beta",
		GeminiModel:             "gemini-1.5-flash",
		HTTPTimeoutSeconds:      30,
		SessionProbeMinutes:     30,
		CategoryCacheTTLSeconds: 3600,
		FieldCacheTTLSeconds:    3600,
		AIRequestsPerMinute:     15,
		ItemPageSize:            400,
		LogLevel:                "warn",
		Profile:                 "default",
	}
}

// HTTPTimeout returns the HTTP client timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// SessionProbeInterval returns how long a validated session is trusted.
func (c *Config) SessionProbeInterval() time.Duration {
	return time.Duration(c.SessionProbeMinutes) * time.Minute
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.ArenaBaseURL == "" {
		return fmt.Errorf("arena_base_url must not be empty")
	}
	if c.GeminiModel == "" {
		return fmt.Errorf("gemini_model must not be empty")
	}
	if c.AIRequestsPerMinute <= 0 {
		return fmt.Errorf("ai_requests_per_minute must be positive, got %d", c.AIRequestsPerMinute)
	}
	if c.ItemPageSize <= 0 {
		return fmt.Errorf("item_page_size must be positive, got %d", c.ItemPageSize)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	return nil
}

// Load loads configuration from baseDir/config.json and applies environment overrides.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.arenadocs.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return applyEnv(cfg)
}

// LoadWithRepo loads configuration from both global (~/.arenadocs) and repo (.arenadocs) directories,
// then applies environment overrides.
// Repo config is found by walking upward from startDir to find the nearest .arenadocs/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return applyEnv(Merge(Merge(DefaultConfig(), global), repo))
}

// FindRepoConfig walks upward from startDir to find the nearest .arenadocs/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".arenadocs", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) (*Config, error) {
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return cfg, nil
}

// loadFileRaw returns zero-valued config (not defaults) if the file doesn't exist.
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	return cfg, nil
}

func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	return &Config{
		ArenaBaseURL:            firstString(overlay.ArenaBaseURL, base.ArenaBaseURL),
		ArenaEmail:              firstString(overlay.ArenaEmail, base.ArenaEmail),
		ArenaWorkspaceID:        firstString(overlay.ArenaWorkspaceID, base.ArenaWorkspaceID),
		GeminiBaseURL:           firstString(overlay.GeminiBaseURL, base.GeminiBaseURL),
		GeminiModel:             firstString(overlay.GeminiModel, base.GeminiModel),
		GeminiAPIKey:            firstString(overlay.GeminiAPIKey, base.GeminiAPIKey),
		HTTPTimeoutSeconds:      firstInt(overlay.HTTPTimeoutSeconds, base.HTTPTimeoutSeconds),
		SessionProbeMinutes:     firstInt(overlay.SessionProbeMinutes, base.SessionProbeMinutes),
		CategoryCacheTTLSeconds: firstInt(overlay.CategoryCacheTTLSeconds, base.CategoryCacheTTLSeconds),
		FieldCacheTTLSeconds:    firstInt(overlay.FieldCacheTTLSeconds, base.FieldCacheTTLSeconds),
		AIRequestsPerMinute:     firstInt(overlay.AIRequestsPerMinute, base.AIRequestsPerMinute),
		ItemPageSize:            firstInt(overlay.ItemPageSize, base.ItemPageSize),
		LogLevel:                firstString(overlay.LogLevel, base.LogLevel),
		Profile:                 firstString(overlay.Profile, base.Profile),
		DBMaxOpenConns:          firstInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:          firstInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns),

		// Booleans: overlay wins if true, else base
		AllowUnsafePaths: base.AllowUnsafePaths || overlay.AllowUnsafePaths,

		AllowedPaths:  mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths),
		DisabledTools: mergeStringSlice(base.DisabledTools, overlay.DisabledTools),
		DisabledTypes: mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes),
	}
}

func firstString(overlay, base string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

func firstInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
