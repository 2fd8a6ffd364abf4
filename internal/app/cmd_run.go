package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"opsdiag/internal/config"
	"opsdiag/internal/diagnostic"
)

// runFlags are shared by run and schedule. Only flags the user set override
// the YAML and environment values.
type runFlags struct {
	mode         string
	input        string
	lookbackDays int
	maxItems     int
	outputDir    string
	reportName   string
	format       string
	classifier   string
	llmProvider  string
	llmModel     string
	ruleset      string
	imapHost     string
	imapUser     string
	imapPassword string
	imapFolder   string
	feedURL      string
	dbPath       string
}

func addRunFlags(f *pflag.FlagSet, rf *runFlags) {
	f.StringVar(&rf.mode, "mode", "csv", "Ingestion mode: csv, text, imap, feed")
	f.StringVar(&rf.input, "input", "", "Input file for csv/text mode")
	f.IntVar(&rf.lookbackDays, "lookback-days", 14, "Only consider items from the last N days")
	f.IntVar(&rf.maxItems, "max-items", 200, "Cap on items analyzed (newest first)")
	f.StringVar(&rf.outputDir, "output-dir", "output", "Directory for reports and summary JSON")
	f.StringVar(&rf.reportName, "report-name", "operations_load_diagnostic", "Report file name prefix")
	f.StringVar(&rf.format, "format", "both", "Report format: markdown, html, both")
	f.StringVar(&rf.classifier, "classifier", "heuristic", "Classifier: heuristic or llm")
	f.StringVar(&rf.llmProvider, "llm-provider", "anthropic", "LLM provider: anthropic or openai")
	f.StringVar(&rf.llmModel, "llm-model", "", "LLM model (provider default when empty)")
	f.StringVar(&rf.ruleset, "ruleset", "", "YAML keyword ruleset replacing the built-in one")
	f.StringVar(&rf.imapHost, "imap-host", "", "IMAP host[:port] (TLS, default port 993)")
	f.StringVar(&rf.imapUser, "imap-user", "", "IMAP username")
	f.StringVar(&rf.imapPassword, "imap-password", "", "IMAP password")
	f.StringVar(&rf.imapFolder, "imap-folder", "INBOX", "IMAP folder")
	f.StringVar(&rf.feedURL, "feed-url", "", "RSS/Atom feed URL for feed mode")
	f.StringVar(&rf.dbPath, "db", "", "Run history database (empty disables history)")
}

// apply copies explicitly set flags onto cfg.
func (rf *runFlags) apply(f *pflag.FlagSet, cfg *config.Config) {
	strs := []struct {
		name string
		dst  *string
		val  string
	}{
		{"mode", &cfg.Mode, rf.mode},
		{"input", &cfg.Input, rf.input},
		{"output-dir", &cfg.OutputDir, rf.outputDir},
		{"report-name", &cfg.ReportName, rf.reportName},
		{"format", &cfg.Format, rf.format},
		{"classifier", &cfg.Classifier, rf.classifier},
		{"llm-provider", &cfg.LLMProvider, rf.llmProvider},
		{"llm-model", &cfg.LLMModel, rf.llmModel},
		{"ruleset", &cfg.RulesetPath, rf.ruleset},
		{"imap-host", &cfg.IMAPHost, rf.imapHost},
		{"imap-user", &cfg.IMAPUser, rf.imapUser},
		{"imap-password", &cfg.IMAPPassword, rf.imapPassword},
		{"imap-folder", &cfg.IMAPFolder, rf.imapFolder},
		{"feed-url", &cfg.FeedURL, rf.feedURL},
		{"db", &cfg.DBPath, rf.dbPath},
	}
	for _, s := range strs {
		if f.Changed(s.name) {
			*s.dst = s.val
		}
	}
	if f.Changed("lookback-days") {
		cfg.LookbackDays = rf.lookbackDays
	}
	if f.Changed("max-items") {
		cfg.MaxItems = rf.maxItems
	}
}

func newRunCommand(root *rootFlags) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one diagnostic and print its summary JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadRuntime(root, func(c *config.Config) { rf.apply(cmd.Flags(), c) })
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if err := cfg.ValidateRun(); err != nil {
				return err
			}

			summary, err := diagnostic.NewRunner(cfg, log).Run(cmd.Context())
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	addRunFlags(cmd.Flags(), rf)
	return cmd
}
