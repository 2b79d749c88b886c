package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AIRequestsPerMinute != 15 {
		t.Fatalf("AIRequestsPerMinute = %d, want 15", cfg.AIRequestsPerMinute)
	}
	if cfg.SessionProbeInterval() != 30*time.Minute {
		t.Fatalf("SessionProbeInterval() = %v, want 30m", cfg.SessionProbeInterval())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on defaults error = %v", err)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"item_page_size": 50, "gemini_model": "gemini-2.0-flash"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ItemPageSize != 50 {
		t.Fatalf("ItemPageSize = %d, want 50", cfg.ItemPageSize)
	}
	if cfg.GeminiModel != "gemini-2.0-flash" {
		t.Fatalf("GeminiModel = %q, want %q", cfg.GeminiModel, "gemini-2.0-flash")
	}
	if cfg.ArenaBaseURL != DefaultConfig().ArenaBaseURL {
		t.Fatalf("ArenaBaseURL = %q, want default", cfg.ArenaBaseURL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"arena_base_url": "https://file.example/v1"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("ARENA_API_URL", "https://env.example/v1")
	t.Setenv("GEMINI_API_KEY", "k-123")
	t.Setenv("ARENADOCS_AI_RPM", "5")

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ArenaBaseURL != "https://env.example/v1" {
		t.Errorf("ArenaBaseURL = %q, want env value", cfg.ArenaBaseURL)
	}
	if cfg.GeminiAPIKey != "k-123" {
		t.Errorf("GeminiAPIKey = %q, want env value", cfg.GeminiAPIKey)
	}
	if cfg.AIRequestsPerMinute != 5 {
		t.Errorf("AIRequestsPerMinute = %d, want 5", cfg.AIRequestsPerMinute)
	}
}

func TestLoad_APIKeyNotReadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"gemini_api_key": "leaked"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GeminiAPIKey == "leaked" {
		t.Fatal("GeminiAPIKey must only come from the environment")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_DisabledTools(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"disabled_tools": ["ai_generate", "token_clear"]}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.DisabledTools) != 2 {
		t.Fatalf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
	if cfg.DisabledTools[0] != "ai_generate" {
		t.Errorf("DisabledTools[0] = %q, want %q", cfg.DisabledTools[0], "ai_generate")
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	globalConfig := `{"item_page_size": 200, "disabled_tools": ["ai_generate"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	repoDir := filepath.Join(repoRoot, ".arenadocs")
	if err := os.MkdirAll(repoDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	repoConfig := `{"item_page_size": 100, "disabled_tools": ["token_clear"]}`
	if err := os.WriteFile(filepath.Join(repoDir, "config.json"), []byte(repoConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	// Start below the repo root to exercise the upward walk.
	start := filepath.Join(repoRoot, "docs", "specs")
	if err := os.MkdirAll(start, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, start)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.ItemPageSize != 100 {
		t.Errorf("ItemPageSize = %d, want 100 (repo override)", cfg.ItemPageSize)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.ItemPageSize != 400 {
		t.Errorf("ItemPageSize = %d, want 400", cfg.ItemPageSize)
	}
	if cfg.Profile != "default" {
		t.Errorf("Profile = %q, want %q", cfg.Profile, "default")
	}
}

func TestMerge_ScalarOverride(t *testing.T) {
	base := &Config{ItemPageSize: 400, DBMaxOpenConns: 5, LogLevel: "warn"}
	overlay := &Config{ItemPageSize: 50}

	result := Merge(base, overlay)

	if result.ItemPageSize != 50 {
		t.Errorf("ItemPageSize = %d, want 50", result.ItemPageSize)
	}
	if result.DBMaxOpenConns != 5 {
		t.Errorf("DBMaxOpenConns = %d, want 5 (base preserved)", result.DBMaxOpenConns)
	}
	if result.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", result.LogLevel, "warn")
	}
}

func TestMerge_BooleanOr(t *testing.T) {
	if !Merge(&Config{AllowUnsafePaths: true}, &Config{}).AllowUnsafePaths {
		t.Error("AllowUnsafePaths should stay true when base is true")
	}
	if !Merge(&Config{}, &Config{AllowUnsafePaths: true}).AllowUnsafePaths {
		t.Error("AllowUnsafePaths should be true when overlay is true")
	}
}

func TestMerge_ArrayDedup(t *testing.T) {
	base := &Config{AllowedPaths: []string{"/a", " /b "}}
	overlay := &Config{AllowedPaths: []string{"/b", "/c", ""}}

	result := Merge(base, overlay)

	want := []string{"/a", "/b", "/c"}
	if len(result.AllowedPaths) != len(want) {
		t.Fatalf("AllowedPaths = %v, want %v", result.AllowedPaths, want)
	}
	for i := range want {
		if result.AllowedPaths[i] != want[i] {
			t.Errorf("AllowedPaths[%d] = %q, want %q", i, result.AllowedPaths[i], want[i])
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.ArenaBaseURL = "" }},
		{"zero rpm", func(c *Config) { c.AIRequestsPerMinute = 0 }},
		{"zero page size", func(c *Config) { c.ItemPageSize = -1 }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"empty model", func(c *Config) { c.GeminiModel = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error, got nil")
			}
		})
	}
}
