package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points Load at an empty settings dir and no env file
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("SETTINGS_DIR", tmpDir)
	t.Setenv("ENV_FILE", filepath.Join(tmpDir, "missing.env"))
	for _, key := range []string{
		"PORT", "DB_PATH", "KV_PATH", "STATIC_DIR", "UPLOAD_DIR",
		"DAILY_REQUEST_LIMIT", "DAILY_ATTACHMENT_LIMIT", "ATTACHMENT_MODE",
		"ATTACHMENT_MAX_BYTES", "FEATURE_VOICE", "FEATURE_ATTACHMENTS", "FEATURE_MEMORY",
		"MEMORY_IN_PROMPT", "SESSION_TTL", "SESSION_IDLE_TIMEOUT", "SUBMIT_RATE_PER_MINUTE",
		"CORS_ORIGINS", "OFFLINE_CACHE_NAME", "MISTRAL_API_KEY", "OPENROUTER_API_KEY",
	} {
		t.Setenv(key, "")
	}
	return tmpDir
}

func writeProviders(t *testing.T, settingsDir, content string) {
	t.Helper()
	secretsDir := filepath.Join(settingsDir, "secrets")
	if err := os.MkdirAll(secretsDir, 0755); err != nil {
		t.Fatalf("failed to create secrets dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(secretsDir, "providers.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write providers file: %v", err)
	}
}

func TestLoadProvidersConfig_ValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeProviders(t, tmpDir, `
mistral:
  api_key: "mistral-key"
openrouter:
  api_key: "openrouter-key"
  base_url: "https://proxy.example/v1"
`)

	cfg, err := loadProvidersConfig(filepath.Join(tmpDir, "secrets", "providers.yaml"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Mistral.APIKey != "mistral-key" {
		t.Errorf("expected mistral api_key 'mistral-key', got '%s'", cfg.Mistral.APIKey)
	}
	if cfg.OpenRouter.APIKey != "openrouter-key" {
		t.Errorf("expected openrouter api_key 'openrouter-key', got '%s'", cfg.OpenRouter.APIKey)
	}
	if cfg.OpenRouter.BaseURL != "https://proxy.example/v1" {
		t.Errorf("expected openrouter base_url, got '%s'", cfg.OpenRouter.BaseURL)
	}
}

func TestLoadProvidersConfig_FileNotFound(t *testing.T) {
	_, err := loadProvidersConfig("/nonexistent/path/providers.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got '%s'", cfg.Port)
	}
	if cfg.DailyRequestLimit != 100 || cfg.DailyAttachmentLimit != 20 {
		t.Errorf("expected limits 100/20, got %d/%d", cfg.DailyRequestLimit, cfg.DailyAttachmentLimit)
	}
	if cfg.AttachmentMode != AttachmentInline {
		t.Errorf("expected inline attachments, got '%s'", cfg.AttachmentMode)
	}
	if cfg.AttachmentMaxBytes != 5<<20 {
		t.Errorf("expected 5MB attachment limit, got %d", cfg.AttachmentMaxBytes)
	}
	if !cfg.Features.Voice || !cfg.Features.Attachments || !cfg.Features.Memory {
		t.Errorf("expected all features on, got %+v", cfg.Features)
	}
	if cfg.MemoryInPrompt {
		t.Error("expected memory in prompt to be off")
	}
	if cfg.SessionTTL != 30*24*time.Hour {
		t.Errorf("expected 30 day session TTL, got %v", cfg.SessionTTL)
	}
	if cfg.OfflineCacheName != "senteros-ai-cache-v1" {
		t.Errorf("expected default cache name, got '%s'", cfg.OfflineCacheName)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("expected wildcard origins, got %v", cfg.AllowedOrigins)
	}
	if cfg.Providers.Mistral.APIKey != "" {
		t.Errorf("expected no mistral key, got '%s'", cfg.Providers.Mistral.APIKey)
	}
}

func TestLoad_WithEnvVars(t *testing.T) {
	tmpDir := isolate(t)
	writeProviders(t, tmpDir, `
mistral:
  api_key: "file-key"
openrouter:
  api_key: "file-router-key"
`)

	t.Setenv("DB_PATH", "/custom/db/path.db")
	t.Setenv("STATIC_DIR", "/custom/static")
	t.Setenv("DAILY_REQUEST_LIMIT", "5")
	t.Setenv("FEATURE_VOICE", "false")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MISTRAL_API_KEY", "env-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.DBPath != "/custom/db/path.db" {
		t.Errorf("expected DB_PATH '/custom/db/path.db', got '%s'", cfg.DBPath)
	}
	if cfg.StaticDir != "/custom/static" {
		t.Errorf("expected STATIC_DIR '/custom/static', got '%s'", cfg.StaticDir)
	}
	if cfg.DailyRequestLimit != 5 {
		t.Errorf("expected request limit 5, got %d", cfg.DailyRequestLimit)
	}
	if cfg.Features.Voice {
		t.Error("expected voice to be disabled")
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Errorf("expected 2h session TTL, got %v", cfg.SessionTTL)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.Providers.Mistral.APIKey != "env-key" {
		t.Errorf("expected env key to win, got '%s'", cfg.Providers.Mistral.APIKey)
	}
	if cfg.Providers.OpenRouter.APIKey != "file-router-key" {
		t.Errorf("expected file key for openrouter, got '%s'", cfg.Providers.OpenRouter.APIKey)
	}
	if cfg.PersonaPath() != filepath.Join(tmpDir, "persona.yaml") {
		t.Errorf("unexpected persona path '%s'", cfg.PersonaPath())
	}
}

func TestLoad_EnvFile(t *testing.T) {
	tmpDir := isolate(t)
	envFile := filepath.Join(tmpDir, "test.env")
	if err := os.WriteFile(envFile, []byte("OFFLINE_CACHE_NAME=from-env-file\n"), 0644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("ENV_FILE", envFile)
	// godotenv does not override variables that are already set
	os.Unsetenv("OFFLINE_CACHE_NAME")
	t.Cleanup(func() { os.Unsetenv("OFFLINE_CACHE_NAME") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.OfflineCacheName != "from-env-file" {
		t.Errorf("expected cache name from env file, got '%s'", cfg.OfflineCacheName)
	}
}

func TestLoad_InvalidProvidersFile(t *testing.T) {
	tmpDir := isolate(t)
	writeProviders(t, tmpDir, "mistral: [not, a, map")

	if _, err := Load(); err == nil {
		t.Error("expected error for malformed providers file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:                "8080",
			DBPath:              "app.db",
			KVPath:              "local.db",
			UploadDir:           "uploads",
			AttachmentMode:      AttachmentInline,
			AttachmentMaxBytes:  1,
			SessionTTL:          time.Hour,
			SessionIdleTimeout:  time.Minute,
			SubmitRatePerMinute: 1,
			OfflineCacheName:    "cache",
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"negative request limit", func(c *Config) { c.DailyRequestLimit = -1 }},
		{"unknown attachment mode", func(c *Config) { c.AttachmentMode = "s3" }},
		{"upload without dir", func(c *Config) { c.AttachmentMode = AttachmentUpload; c.UploadDir = "" }},
		{"zero attachment size", func(c *Config) { c.AttachmentMaxBytes = 0 }},
		{"zero rate", func(c *Config) { c.SubmitRatePerMinute = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
