// Package app wires configuration, logging and the diagnostic pipeline behind
// the opsdiag command line.
//
// Usage:
//
//	opsdiag run --mode csv --input inbound.csv [--classifier llm]
//	opsdiag schedule [--cron "0 7 * * 1"]
//	opsdiag history [--limit 10] [--run-id N]
//	opsdiag ruleset [--ruleset rules.yaml]
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"opsdiag/internal/config"
	"opsdiag/internal/httpx"
	"opsdiag/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootFlags struct {
	configPath string
	logFormat  string
	logLevel   string
}

// NewRootCommand builds the full command tree. Each call returns fresh flag state.
func NewRootCommand() *cobra.Command {
	rf := &rootFlags{}
	root := &cobra.Command{
		Use:   "opsdiag",
		Short: "Operations load diagnostic for inbound operational messages",
		Long: "opsdiag classifies a batch of inbound operational messages (CSV, text, IMAP or feed),\n" +
			"estimates the handling load they cause and writes a Markdown/HTML diagnostic report.",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		Version: version,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&rf.configPath, "config", "", "Path to YAML config (default $CONFIG_PATH or ./config.yaml)")
	pf.StringVar(&rf.logFormat, "log-format", "", "Log encoding: json or console")
	pf.StringVar(&rf.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(newRunCommand(rf))
	root.AddCommand(newScheduleCommand(rf))
	root.AddCommand(newHistoryCommand(rf))
	root.AddCommand(newRulesetCommand(rf))
	return root
}

// Main runs the CLI until completion or SIGINT/SIGTERM and exits non-zero on error.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "opsdiag:", err)
		os.Exit(1)
	}
}

// loadRuntime loads configuration with the command's overrides and builds the
// process logger and shared HTTP client from it.
func loadRuntime(rf *rootFlags, overrides func(*config.Config)) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(rf.configPath, func(c *config.Config) {
		if rf.logFormat != "" {
			c.LogFormat = rf.logFormat
		}
		if rf.logLevel != "" {
			c.LogLevel = rf.logLevel
		}
		if overrides != nil {
			overrides(c)
		}
	})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	timeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Debug("config loaded",
		zap.String("mode", cfg.Mode),
		zap.String("classifier", cfg.Classifier),
		zap.Int("lookback_days", cfg.LookbackDays),
		zap.Int("max_items", cfg.MaxItems),
		zap.String("timezone", cfg.Location.String()),
		zap.Bool("history", cfg.HistoryEnabled()),
		zap.Bool("slack", cfg.SlackConfigured()),
		zap.Duration("external_http_timeout", timeout),
	)
	return cfg, log, nil
}
