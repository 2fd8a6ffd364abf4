package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	ClassifierHeuristic = "heuristic"
	ClassifierLLM       = "llm"
)

type Config struct {
	Mode         string `yaml:"mode"`
	Input        string `yaml:"input"`
	LookbackDays int    `yaml:"lookback_days"`
	MaxItems     int    `yaml:"max_items"`
	OutputDir    string `yaml:"output_dir"`
	ReportName   string `yaml:"report_name"`
	Format       string `yaml:"format"`

	Classifier      string `yaml:"classifier"`
	RulesetPath     string `yaml:"ruleset_path"`
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	LLMBaseURL      string `yaml:"llm_base_url"`
	LLMConcurrency  int    `yaml:"llm_concurrency"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`

	IMAPHost     string `yaml:"imap_host"`
	IMAPUser     string `yaml:"imap_user"`
	IMAPPassword string `yaml:"imap_password"`
	IMAPFolder   string `yaml:"imap_folder"`
	FeedURL      string `yaml:"feed_url"`

	// Empty DBPath disables run history.
	DBPath string `yaml:"db_path"`

	SlackBotToken     string `yaml:"slack_bot_token"`
	SlackChannelID    string `yaml:"slack_channel_id"`
	SlackUploadReport bool   `yaml:"slack_upload_report"`

	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`

	RedisURL        string `yaml:"redis_url"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`

	MetricsTextfile string `yaml:"metrics_textfile"`

	Schedule                   string `yaml:"schedule"`
	Timezone                   string `yaml:"timezone"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	LogFormat string `yaml:"log_format"`
	LogLevel  string `yaml:"log_level"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// Load builds the configuration: YAML file, then environment, then the
// caller's overrides (CLI flags), then defaults, then validation.
// path may be empty, in which case CONFIG_PATH or ./config.yaml is used if present.
func Load(path string, overrides func(*Config)) (Config, error) {
	var cfg Config

	explicit := path != ""
	if !explicit {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			path = envPath
			explicit = true
		} else {
			path = "config.yaml"
		}
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if overrides != nil {
		overrides(&cfg)
	}
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	envOverride(&cfg.Mode, "OPSDIAG_MODE")
	envOverride(&cfg.Input, "OPSDIAG_INPUT")
	envOverride(&cfg.OutputDir, "OPSDIAG_OUTPUT_DIR")
	envOverride(&cfg.ReportName, "OPSDIAG_REPORT_NAME")
	envOverride(&cfg.Format, "OPSDIAG_FORMAT")
	envOverride(&cfg.Classifier, "OPSDIAG_CLASSIFIER")
	envOverride(&cfg.RulesetPath, "OPSDIAG_RULESET_PATH")
	envOverride(&cfg.LLMProvider, "OPSDIAG_LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "OPSDIAG_LLM_MODEL")
	envOverride(&cfg.LLMBaseURL, "OPSDIAG_LLM_BASE_URL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.IMAPHost, "OPSDIAG_IMAP_HOST")
	envOverride(&cfg.IMAPUser, "OPSDIAG_IMAP_USER")
	envOverride(&cfg.IMAPPassword, "OPSDIAG_IMAP_PASSWORD")
	envOverride(&cfg.IMAPFolder, "OPSDIAG_IMAP_FOLDER")
	envOverride(&cfg.FeedURL, "OPSDIAG_FEED_URL")
	envOverrideAllowEmpty(&cfg.DBPath, "OPSDIAG_DB_PATH")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "OPSDIAG_SLACK_CHANNEL_ID")
	envOverride(&cfg.AMQPURL, "OPSDIAG_AMQP_URL")
	envOverride(&cfg.AMQPExchange, "OPSDIAG_AMQP_EXCHANGE")
	envOverride(&cfg.RedisURL, "OPSDIAG_REDIS_URL")
	envOverride(&cfg.MetricsTextfile, "OPSDIAG_METRICS_TEXTFILE")
	envOverride(&cfg.Schedule, "OPSDIAG_SCHEDULE")
	envOverride(&cfg.Timezone, "OPSDIAG_TIMEZONE")
	envOverride(&cfg.LogFormat, "OPSDIAG_LOG_FORMAT")
	envOverride(&cfg.LogLevel, "OPSDIAG_LOG_LEVEL")

	return errors.Join(
		envOverrideInt(&cfg.LookbackDays, "OPSDIAG_LOOKBACK_DAYS"),
		envOverrideInt(&cfg.MaxItems, "OPSDIAG_MAX_ITEMS"),
		envOverrideInt(&cfg.LLMConcurrency, "OPSDIAG_LLM_CONCURRENCY"),
		envOverrideInt(&cfg.CacheTTLSeconds, "OPSDIAG_CACHE_TTL_SECONDS"),
		envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "OPSDIAG_EXTERNAL_HTTP_TIMEOUT_SECONDS"),
		envOverrideBool(&cfg.SlackUploadReport, "OPSDIAG_SLACK_UPLOAD_REPORT"),
	)
}

func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = "csv"
	}
	if cfg.LookbackDays == 0 {
		cfg.LookbackDays = 14
	}
	if cfg.MaxItems == 0 {
		cfg.MaxItems = 200
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "output"
	}
	if cfg.ReportName == "" {
		cfg.ReportName = "operations_load_diagnostic"
	}
	if cfg.Format == "" {
		cfg.Format = "both"
	}
	if cfg.Classifier == "" {
		cfg.Classifier = ClassifierHeuristic
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.LLMConcurrency == 0 {
		cfg.LLMConcurrency = 4
	}
	if cfg.IMAPFolder == "" {
		cfg.IMAPFolder = "INBOX"
	}
	if cfg.AMQPExchange == "" {
		cfg.AMQPExchange = "opsdiag.events"
	}
	if cfg.CacheTTLSeconds == 0 {
		cfg.CacheTTLSeconds = int((7 * 24 * time.Hour) / time.Second)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "0 7 * * 1"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	cfg.Classifier = strings.ToLower(strings.TrimSpace(cfg.Classifier))
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

func (c *Config) validate() error {
	if !oneOf(c.Mode, "csv", "text", "imap", "feed") {
		return fmt.Errorf("mode must be one of csv, text, imap, feed, got '%s'", c.Mode)
	}
	if !oneOf(c.Format, "markdown", "html", "both") {
		return fmt.Errorf("format must be one of markdown, html, both, got '%s'", c.Format)
	}
	if !oneOf(c.Classifier, ClassifierHeuristic, ClassifierLLM) {
		return fmt.Errorf("classifier must be 'heuristic' or 'llm', got '%s'", c.Classifier)
	}
	if !oneOf(c.LLMProvider, "anthropic", "openai") {
		return fmt.Errorf("llm_provider must be 'anthropic' or 'openai', got '%s'", c.LLMProvider)
	}
	if c.LookbackDays < 1 {
		return fmt.Errorf("invalid lookback_days '%d': must be >= 1", c.LookbackDays)
	}
	if c.MaxItems < 1 {
		return fmt.Errorf("invalid max_items '%d': must be >= 1", c.MaxItems)
	}
	if c.LLMConcurrency < 1 || c.LLMConcurrency > 16 {
		return fmt.Errorf("invalid llm_concurrency '%d': must be between 1 and 16", c.LLMConcurrency)
	}
	if c.CacheTTLSeconds < 1 {
		return fmt.Errorf("invalid cache_ttl_seconds '%d': must be >= 1", c.CacheTTLSeconds)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.SlackChannelID != "" && c.SlackBotToken == "" {
		return fmt.Errorf("slack_bot_token is required when slack_channel_id is set")
	}

	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
		c.Location = loc
	}
	return nil
}

// ValidateRun checks the settings a diagnostic run needs beyond Load's checks.
func (c Config) ValidateRun() error {
	switch c.Mode {
	case "csv", "text":
		if strings.TrimSpace(c.Input) == "" {
			return fmt.Errorf("input is required for %s mode", c.Mode)
		}
	case "imap":
		for name, val := range map[string]string{"imap_host": c.IMAPHost, "imap_user": c.IMAPUser, "imap_password": c.IMAPPassword} {
			if val == "" {
				return fmt.Errorf("imap mode requires '%s'", name)
			}
		}
	case "feed":
		if c.FeedURL == "" {
			return fmt.Errorf("feed mode requires 'feed_url'")
		}
	}
	return nil
}

func (c Config) HistoryEnabled() bool {
	return c.DBPath != ""
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// APIKey returns the credential for the configured LLM provider.
func (c Config) APIKey() string {
	if c.LLMProvider == "openai" {
		return c.OpenAIAPIKey
	}
	return c.AnthropicAPIKey
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}
