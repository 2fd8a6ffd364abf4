package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolateConfigEnv(t *testing.T) {
	t.Helper()
	empty := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", empty)
	for _, key := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "SLACK_BOT_TOKEN"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("SLACK_BOT_TOKEN", "")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mode != "csv" || cfg.Format != "both" || cfg.Classifier != "heuristic" {
		t.Fatalf("unexpected enum defaults: %+v", cfg)
	}
	if cfg.LookbackDays != 14 || cfg.MaxItems != 200 {
		t.Fatalf("unexpected window defaults: %d/%d", cfg.LookbackDays, cfg.MaxItems)
	}
	if cfg.OutputDir != "output" || cfg.ReportName != "operations_load_diagnostic" {
		t.Fatalf("unexpected output defaults: %q %q", cfg.OutputDir, cfg.ReportName)
	}
	if cfg.LLMProvider != "anthropic" || cfg.LLMConcurrency != 4 {
		t.Fatalf("unexpected llm defaults: %q %d", cfg.LLMProvider, cfg.LLMConcurrency)
	}
	if cfg.ExternalHTTPTimeoutSeconds != int(defaultExternalHTTPTimeout/time.Second) {
		t.Fatalf("unexpected external HTTP timeout default: %d", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.CacheTTL() != 7*24*time.Hour {
		t.Fatalf("unexpected cache ttl: %s", cfg.CacheTTL())
	}
	if cfg.Location != time.Local {
		t.Fatalf("expected local timezone, got %v", cfg.Location)
	}
	if cfg.HistoryEnabled() || cfg.SlackConfigured() {
		t.Fatalf("optional integrations should be off by default")
	}
}

func TestLoadYAMLEnvAndOverrides(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
mode: text
input: "/data/batch.txt"
lookback_days: 30
format: markdown
classifier: llm
llm_provider: openai
openai_api_key: "yaml-key"
timezone: "UTC"
db_path: "/tmp/yaml.db"
slack_channel_id: "C123"
slack_bot_token: "xoxb-yaml"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	isolateConfigEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPSDIAG_LOOKBACK_DAYS", "21")
	t.Setenv("OPSDIAG_MAX_ITEMS", "50")
	t.Setenv("OPSDIAG_DB_PATH", "")

	cfg, err := Load(cfgPath, func(c *Config) {
		c.MaxItems = 75
		c.Format = "HTML"
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Mode != "text" || cfg.Input != "/data/batch.txt" {
		t.Fatalf("yaml values not loaded: %+v", cfg)
	}
	if cfg.LookbackDays != 21 {
		t.Fatalf("expected env to override yaml lookback, got %d", cfg.LookbackDays)
	}
	if cfg.MaxItems != 75 || cfg.Format != "html" {
		t.Fatalf("expected overrides to win and be normalized, got %d %q", cfg.MaxItems, cfg.Format)
	}
	if cfg.OpenAIAPIKey != "sk-env" || cfg.APIKey() != "sk-env" {
		t.Fatalf("expected env api key, got %q", cfg.OpenAIAPIKey)
	}
	if cfg.DBPath != "" {
		t.Fatalf("expected empty env value to disable history, got %q", cfg.DBPath)
	}
	if cfg.Location == nil || cfg.Location != time.UTC {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
	if !cfg.SlackConfigured() {
		t.Fatalf("expected slack to be configured")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name     string
		override func(*Config)
		env      map[string]string
		wantErr  string
	}{
		{name: "mode", override: func(c *Config) { c.Mode = "fax" }, wantErr: "mode must be one of"},
		{name: "format", override: func(c *Config) { c.Format = "pdf" }, wantErr: "format must be one of"},
		{name: "classifier", override: func(c *Config) { c.Classifier = "magic" }, wantErr: "classifier must be"},
		{name: "provider", override: func(c *Config) { c.LLMProvider = "mistral" }, wantErr: "llm_provider must be"},
		{name: "lookback", override: func(c *Config) { c.LookbackDays = -1 }, wantErr: "lookback_days"},
		{name: "max items", override: func(c *Config) { c.MaxItems = -5 }, wantErr: "max_items"},
		{name: "concurrency", override: func(c *Config) { c.LLMConcurrency = 17 }, wantErr: "llm_concurrency"},
		{name: "timeout", override: func(c *Config) { c.ExternalHTTPTimeoutSeconds = 2 }, wantErr: "external_http_timeout_seconds"},
		{name: "timezone", override: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: "invalid timezone"},
		{name: "slack", override: func(c *Config) { c.SlackChannelID = "C1" }, wantErr: "slack_bot_token is required"},
		{name: "bad env int", env: map[string]string{"OPSDIAG_MAX_ITEMS": "lots"}, wantErr: "OPSDIAG_MAX_ITEMS"},
		{name: "bad env bool", env: map[string]string{"OPSDIAG_SLACK_UPLOAD_REPORT": "maybe"}, wantErr: "OPSDIAG_SLACK_UPLOAD_REPORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("", tt.override)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	isolateConfigEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatalf("expected explicit missing config to fail")
	}
}

func TestValidateRun(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "csv without input", cfg: Config{Mode: "csv"}, wantErr: "input is required"},
		{name: "text ok", cfg: Config{Mode: "text", Input: "batch.txt"}},
		{name: "imap partial", cfg: Config{Mode: "imap", IMAPHost: "imap.example.com", IMAPUser: "ops"}, wantErr: "imap_password"},
		{name: "imap ok", cfg: Config{Mode: "imap", IMAPHost: "h", IMAPUser: "u", IMAPPassword: "p"}},
		{name: "feed without url", cfg: Config{Mode: "feed"}, wantErr: "feed_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ValidateRun()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
