package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Attachment modes accepted in ATTACHMENT_MODE
const (
	AttachmentInline = "inline"
	AttachmentUpload = "upload"
)

// ProviderConfig holds one completion provider's credentials
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ProvidersConfig is the layout of settings/secrets/providers.yaml
type ProvidersConfig struct {
	Mistral    ProviderConfig `yaml:"mistral"`
	OpenRouter ProviderConfig `yaml:"openrouter"`
}

// Features toggles optional surfaces
type Features struct {
	Voice       bool
	Attachments bool
	Memory      bool
}

// Config holds all application configuration
type Config struct {
	Port        string
	DBPath      string
	KVPath      string
	StaticDir   string
	SettingsDir string
	UploadDir   string

	Providers ProvidersConfig
	// SiteURL and SiteName are sent to OpenRouter as HTTP-Referer and X-Title
	SiteURL  string
	SiteName string

	DailyRequestLimit    int
	DailyAttachmentLimit int

	AttachmentMode     string
	AttachmentMaxBytes int64

	Features       Features
	MemoryInPrompt bool

	SessionTTL          time.Duration
	SessionIdleTimeout  time.Duration
	SubmitRatePerMinute int
	AllowedOrigins      []string

	OfflineCacheName string
}

// Load reads .env (when present), the environment and the providers secrets file
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil {
		log.Printf("[Config] No env file loaded path=%s", envFile)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DBPath:      getEnv("DB_PATH", "data/app.db"),
		KVPath:      getEnv("KV_PATH", "data/local.db"),
		StaticDir:   getEnv("STATIC_DIR", "static"),
		SettingsDir: getEnv("SETTINGS_DIR", "settings"),
		UploadDir:   getEnv("UPLOAD_DIR", "data/uploads"),

		SiteURL:  getEnv("SITE_URL", "http://localhost:8080"),
		SiteName: getEnv("SITE_NAME", "SenterosAI"),

		DailyRequestLimit:    getEnvInt("DAILY_REQUEST_LIMIT", 100),
		DailyAttachmentLimit: getEnvInt("DAILY_ATTACHMENT_LIMIT", 20),

		AttachmentMode:     strings.ToLower(getEnv("ATTACHMENT_MODE", AttachmentInline)),
		AttachmentMaxBytes: int64(getEnvInt("ATTACHMENT_MAX_BYTES", 5<<20)),

		Features: Features{
			Voice:       getEnvBool("FEATURE_VOICE", true),
			Attachments: getEnvBool("FEATURE_ATTACHMENTS", true),
			Memory:      getEnvBool("FEATURE_MEMORY", true),
		},
		MemoryInPrompt: getEnvBool("MEMORY_IN_PROMPT", false),

		SessionTTL:          getEnvDuration("SESSION_TTL", 30*24*time.Hour),
		SessionIdleTimeout:  getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SubmitRatePerMinute: getEnvInt("SUBMIT_RATE_PER_MINUTE", 20),
		AllowedOrigins:      splitList(getEnv("CORS_ORIGINS", "*")),

		OfflineCacheName: getEnv("OFFLINE_CACHE_NAME", "senteros-ai-cache-v1"),
	}

	providers, err := loadProvidersConfig(filepath.Join(cfg.SettingsDir, "secrets", "providers.yaml"))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Printf("[Config] No providers file found dir=%s", cfg.SettingsDir)
	case err != nil:
		return nil, fmt.Errorf("load providers: %w", err)
	default:
		cfg.Providers = *providers
	}

	// Environment keys win over the secrets file
	if key := os.Getenv("MISTRAL_API_KEY"); key != "" {
		cfg.Providers.Mistral.APIKey = key
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		cfg.Providers.OpenRouter.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and required fields
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.KVPath == "" {
		return fmt.Errorf("KV_PATH cannot be empty")
	}
	if c.DailyRequestLimit < 0 {
		return fmt.Errorf("DAILY_REQUEST_LIMIT must be >= 0")
	}
	if c.DailyAttachmentLimit < 0 {
		return fmt.Errorf("DAILY_ATTACHMENT_LIMIT must be >= 0")
	}
	switch c.AttachmentMode {
	case AttachmentInline:
	case AttachmentUpload:
		if c.UploadDir == "" {
			return fmt.Errorf("UPLOAD_DIR cannot be empty in upload mode")
		}
	default:
		return fmt.Errorf("ATTACHMENT_MODE must be %q or %q, got %q", AttachmentInline, AttachmentUpload, c.AttachmentMode)
	}
	if c.AttachmentMaxBytes <= 0 {
		return fmt.Errorf("ATTACHMENT_MAX_BYTES must be > 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be > 0")
	}
	if c.SubmitRatePerMinute <= 0 {
		return fmt.Errorf("SUBMIT_RATE_PER_MINUTE must be > 0")
	}
	if c.OfflineCacheName == "" {
		return fmt.Errorf("OFFLINE_CACHE_NAME cannot be empty")
	}
	return nil
}

// PersonaPath is the hot-reloaded persona file
func (c *Config) PersonaPath() string {
	return filepath.Join(c.SettingsDir, "persona.yaml")
}

// loadProvidersConfig loads provider credentials from a YAML file
func loadProvidersConfig(path string) (*ProvidersConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg ProvidersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func getEnv(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}

func getEnvInt(key string, def int) int {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[Config] Ignoring invalid integer key=%s value=%q", key, value)
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("[Config] Ignoring invalid boolean key=%s value=%q", key, value)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("[Config] Ignoring invalid duration key=%s value=%q", key, value)
		return def
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
