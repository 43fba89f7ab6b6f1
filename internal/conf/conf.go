package conf

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/biz/usecase"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv
const EnvPrefix = "MENTIONWATCH"

// Config represents application configuration
type Config struct {
	// HTTP listener for the page shim, popup and API
	ListenAddr     string   `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8787"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	// Base URL the MCP server uses to reach the API
	APIURL string `envconfig:"API_URL" default:"http://127.0.0.1:8787"`

	DBPath   string `envconfig:"DB_PATH"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`

	Scan    ScanConfig    `envconfig:"SCAN"`
	Suggest SuggestConfig `envconfig:"SUGGEST"`
	Feishu  FeishuConfig  `envconfig:"FEISHU"`
	Slack   SlackConfig   `envconfig:"SLACK"`

	// Path of the prompts YAML; empty searches the usual places
	PromptsPath string `envconfig:"PROMPTS_PATH"`

	// Prompts configuration (loaded from YAML)
	Prompts *PromptsConfig `ignored:"true"`
}

// ScanConfig contains scheduler and extraction timing
type ScanConfig struct {
	Interval        time.Duration `envconfig:"INTERVAL" default:"1m"`
	Watchdog        time.Duration `envconfig:"WATCHDOG" default:"10m"`
	AmbientCooldown time.Duration `envconfig:"AMBIENT_COOLDOWN" default:"10s"`
	DMOpenCooldown  time.Duration `envconfig:"DM_OPEN_COOLDOWN" default:"30s"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5s"`
}

// SuggestConfig contains the default settings used until the user saves
// their own
type SuggestConfig struct {
	Provider      string        `envconfig:"PROVIDER" default:"static"`
	APIKey        string        `envconfig:"API_KEY"`
	Model         string        `envconfig:"MODEL"`
	BaseURL       string        `envconfig:"BASE_URL"`
	Timeout       time.Duration `envconfig:"TIMEOUT" default:"15s"`
	Enabled       bool          `envconfig:"ENABLED" default:"true"`
	Notifications bool          `envconfig:"NOTIFICATIONS" default:"true"`
	ManualName    string        `envconfig:"MANUAL_NAME"`
}

// FeishuConfig contains the optional Feishu notification target
type FeishuConfig struct {
	AppID     string `envconfig:"APP_ID"`
	AppSecret string `envconfig:"APP_SECRET"`
	ChatID    string `envconfig:"CHAT_ID"`
	BaseURL   string `envconfig:"BASE_URL"`
}

// Enabled reports whether Feishu notifications are configured
func (c FeishuConfig) Enabled() bool {
	return c.AppID != "" || c.AppSecret != "" || c.ChatID != ""
}

// SlackConfig contains the optional incoming webhook
type SlackConfig struct {
	WebhookURL string `envconfig:"WEBHOOK_URL"`
}

// LoadFromEnv loads .env if present, then configuration from environment
// variables, then the prompts file
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, &ConfigError{Field: EnvPrefix, Message: err.Error()}
	}

	if cfg.DBPath == "" {
		homeDir, _ := os.UserHomeDir()
		cfg.DBPath = filepath.Join(homeDir, ".mentionwatch", "mentionwatch.db")
	}

	prompts, err := LoadPromptsConfig(cfg.PromptsPath)
	if err != nil {
		return nil, &ConfigError{Field: "PROMPTS_PATH", Message: err.Error()}
	}
	cfg.Prompts = prompts

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ToSettings converts to the default runtime settings
func (c *Config) ToSettings() domain.Settings {
	return domain.Settings{
		Provider:             domain.ProviderType(c.Suggest.Provider),
		APIKey:               c.Suggest.APIKey,
		Model:                c.Suggest.Model,
		NotificationsEnabled: c.Suggest.Notifications,
		SuggestionsEnabled:   c.Suggest.Enabled,
		ManualUserName:       c.Suggest.ManualName,
	}
}

// ToExtractorConfig converts to extractor configuration
func (c *Config) ToExtractorConfig() usecase.ExtractorConfig {
	return usecase.ExtractorConfig{
		AmbientCooldown: c.Scan.AmbientCooldown,
		DMOpenCooldown:  c.Scan.DMOpenCooldown,
	}
}

// ToSuggestPrompts converts to the prompts used by model providers
func (c *Config) ToSuggestPrompts() domain.SuggestPrompts {
	if c.Prompts == nil {
		return domain.DefaultSuggestPrompts()
	}
	return c.Prompts.ToSuggestPrompts()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return &ConfigError{Field: "LISTEN_ADDR", Message: "required"}
	}
	if c.Scan.Interval <= 0 {
		return &ConfigError{Field: "SCAN_INTERVAL", Message: "must be positive"}
	}
	if c.Scan.Watchdog <= c.Scan.Interval {
		return &ConfigError{Field: "SCAN_WATCHDOG", Message: "must be longer than SCAN_INTERVAL"}
	}
	if c.Scan.AmbientCooldown < 0 || c.Scan.DMOpenCooldown < 0 {
		return &ConfigError{Field: "SCAN_AMBIENT_COOLDOWN/SCAN_DM_OPEN_COOLDOWN", Message: "must not be negative"}
	}
	if _, err := c.ToSettings().Normalize(); err != nil {
		return &ConfigError{Field: "SUGGEST_PROVIDER", Message: err.Error()}
	}
	if c.Feishu.Enabled() && (c.Feishu.AppID == "" || c.Feishu.AppSecret == "" || c.Feishu.ChatID == "") {
		return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET/FEISHU_CHAT_ID", Message: "all required together"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
