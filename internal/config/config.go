// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Vault() VaultConfig
	Browser() BrowserConfig
	Auth() AuthConfig
	LLM() LLMConfig
	Session() SessionConfig
	Webhook() WebhookConfig
	Email() EmailConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserIgnoreTLSErrors(bool)

	// Auth Setters
	SetAuthStrategy(string)

	// Vault Setters
	SetVaultPath(string)
}

// Config holds the entire application configuration. Access goes through the
// Interface getters so call sites stay mockable.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	VaultCfg   VaultConfig   `mapstructure:"vault" yaml:"vault"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	AuthCfg    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	LLMCfg     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	SessionCfg SessionConfig `mapstructure:"session" yaml:"session"`
	WebhookCfg WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
	EmailCfg   EmailConfig   `mapstructure:"email" yaml:"email"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Vault() VaultConfig     { return c.VaultCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Auth() AuthConfig       { return c.AuthCfg }
func (c *Config) LLM() LLMConfig         { return c.LLMCfg }
func (c *Config) Session() SessionConfig { return c.SessionCfg }
func (c *Config) Webhook() WebhookConfig { return c.WebhookCfg }
func (c *Config) Email() EmailConfig     { return c.EmailCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserIgnoreTLSErrors(b bool) { c.BrowserCfg.IgnoreTLSErrors = b }
func (c *Config) SetAuthStrategy(s string)         { c.AuthCfg.Strategy = s }
func (c *Config) SetVaultPath(p string)            { c.VaultCfg.Path = p }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// VaultConfig locates the encrypted credential store. Key material itself is
// never part of this struct: it is loaded by the bootstrap layer and handed
// to the vault constructor directly.
type VaultConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	// KeyFile is the bootstrap location of the agent's key material. Only the
	// CLI reads it; library consumers pass key bytes in explicitly.
	KeyFile string `mapstructure:"key_file" yaml:"key_file"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// SettleDelay is the pause after each UI action before the next
	// screenshot or selector probe. Rapid-fire actions trip bot detection.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	Args        []string      `mapstructure:"args" yaml:"args"`
}

// AuthConfig tunes the orchestrator's retry and strategy selection.
type AuthConfig struct {
	// Strategy selects the browser automation implementation: "selector" or
	// "vision".
	Strategy string `mapstructure:"strategy" yaml:"strategy"`
	// MaxRetries is the number of additional attempts after the first one.
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryWait  time.Duration `mapstructure:"retry_wait" yaml:"retry_wait"`
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
}

// LLMConfig configures the vision model used by the agentic browser strategy.
type LLMConfig struct {
	Model      string        `mapstructure:"model" yaml:"model"`
	APIKey     string        `mapstructure:"api_key" yaml:"-"`
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxTokens  int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// LoginIterations and RegisterIterations cap the agentic loop;
	// registration flows need more turns than logins.
	LoginIterations    int `mapstructure:"login_iterations" yaml:"login_iterations"`
	RegisterIterations int `mapstructure:"register_iterations" yaml:"register_iterations"`
	// TransientRetries bounds backoff retries on rate limits and 5xx errors.
	TransientRetries int           `mapstructure:"transient_retries" yaml:"transient_retries"`
	BackoffBase      time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
}

// SessionConfig tunes the in-memory session cache.
type SessionConfig struct {
	DefaultTTL    time.Duration `mapstructure:"default_ttl" yaml:"default_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// WebhookConfig configures the fire-and-forget event emitter.
type WebhookConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// RatePerSecond and Burst bound delivery so a retry storm cannot flood
	// the owner's channel.
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `mapstructure:"burst" yaml:"burst"`
}

// EmailConfig configures the inbox poller used for account verification.
type EmailConfig struct {
	InboxURL     string        `mapstructure:"inbox_url" yaml:"inbox_url"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	WaitTimeout  time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "agentpass")
	v.SetDefault("logger.log_file", "agentpass.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Vault --
	v.SetDefault("vault.path", "agentpass.vault")
	v.SetDefault("vault.key_file", "")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.settle_delay", "1500ms")

	// -- Auth --
	v.SetDefault("auth.strategy", "selector")
	v.SetDefault("auth.max_retries", 2)
	v.SetDefault("auth.retry_wait", "2s")
	v.SetDefault("auth.session_ttl", "30m")

	// -- LLM --
	v.SetDefault("llm.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.login_iterations", 25)
	v.SetDefault("llm.register_iterations", 40)
	v.SetDefault("llm.transient_retries", 3)
	v.SetDefault("llm.backoff_base", "1s")

	// -- Session --
	v.SetDefault("session.default_ttl", "30m")
	v.SetDefault("session.sweep_interval", "1m")

	// -- Webhook --
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.rate_per_second", 5.0)
	v.SetDefault("webhook.burst", 10)

	// -- Email --
	v.SetDefault("email.poll_interval", "5s")
	v.SetDefault("email.wait_timeout", "2m")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("llm.api_key", "AGENTPASS_LLM_API_KEY")
	v.BindEnv("webhook.url", "AGENTPASS_WEBHOOK_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the key if Unmarshal didn't pick it up
	if cfg.LLMCfg.APIKey == "" {
		cfg.LLMCfg.APIKey = os.Getenv("AGENTPASS_LLM_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.AuthCfg.Strategy {
	case "selector", "vision":
	default:
		return fmt.Errorf("auth.strategy must be \"selector\" or \"vision\", got %q", c.AuthCfg.Strategy)
	}
	if c.AuthCfg.MaxRetries < 0 {
		return fmt.Errorf("auth.max_retries must not be negative")
	}
	if c.AuthCfg.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be a positive duration")
	}
	if c.VaultCfg.Path == "" {
		return fmt.Errorf("vault.path is a required configuration field")
	}
	if c.AuthCfg.Strategy == "vision" {
		if err := c.LLMCfg.Validate(); err != nil {
			return fmt.Errorf("llm configuration invalid: %w", err)
		}
	}
	if c.SessionCfg.SweepInterval <= 0 {
		return fmt.Errorf("session.sweep_interval must be a positive duration")
	}
	return nil
}

// Validate checks the LLM configuration used by the vision strategy.
func (l *LLMConfig) Validate() error {
	if l.Model == "" {
		return fmt.Errorf("model is required")
	}
	if l.LoginIterations <= 0 || l.RegisterIterations <= 0 {
		return fmt.Errorf("login_iterations and register_iterations must be greater than 0")
	}
	if l.TransientRetries < 0 {
		return fmt.Errorf("transient_retries must not be negative")
	}
	return nil
}
