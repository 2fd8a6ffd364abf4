// Package notify posts finished diagnostics to Slack.
package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"opsdiag/internal/report"
)

type Notification struct {
	ReportName  string
	GeneratedAt time.Time
	Summary     report.Summary
	Leverage    []string
	// ReportFile is uploaded next to the message when uploads are enabled.
	ReportFile string
}

type SlackNotifier struct {
	api          *slack.Client
	channelID    string
	uploadReport bool
	log          *zap.Logger
}

func NewSlackNotifier(token, channelID string, uploadReport bool, log *zap.Logger, opts ...slack.Option) *SlackNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &SlackNotifier{
		api:          slack.New(token, opts...),
		channelID:    channelID,
		uploadReport: uploadReport,
		log:          log,
	}
}

func (n *SlackNotifier) Notify(ctx context.Context, note Notification) error {
	text, blocks := buildSlackMessage(note)
	_, ts, err := n.api.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("post slack summary: %w", err)
	}
	n.log.Info("posted diagnostic summary to slack", zap.String("channel", n.channelID), zap.String("ts", ts))

	if !n.uploadReport || note.ReportFile == "" {
		return nil
	}
	fi, err := os.Stat(note.ReportFile)
	if err != nil {
		return fmt.Errorf("stat report file: %w", err)
	}
	if fi.Size() <= 0 {
		return fmt.Errorf("report file is empty: %s", note.ReportFile)
	}
	_, err = n.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		File:            note.ReportFile,
		FileSize:        int(fi.Size()),
		Filename:        filepath.Base(note.ReportFile),
		Channel:         n.channelID,
		Title:           note.ReportName,
		ThreadTimestamp: ts,
	})
	if err != nil {
		return fmt.Errorf("upload report file: %w", err)
	}
	return nil
}

func formatTokenCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func buildSlackMessage(note Notification) (string, []slack.Block) {
	s := note.Summary
	headline := fmt.Sprintf("%d items over %d day(s), estimated %.1f hours/week", s.ItemsProcessed, s.PeriodDays, s.EstimatedHoursPerWeek)
	title := "Operations Load Diagnostic"
	if note.ReportName != "" {
		title = fmt.Sprintf("%s: %s", title, note.ReportName)
	}

	details := fmt.Sprintf("Classifier: %s", s.Classifier)
	if s.LLMTokens > 0 {
		details += fmt.Sprintf(" (tokens used: %s)", formatTokenCount(s.LLMTokens))
	}
	if !note.GeneratedAt.IsZero() {
		details += fmt.Sprintf(" | Generated %s", note.GeneratedAt.Format("2006-01-02 15:04"))
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, "*"+headline+"*", false, false), nil, nil),
	}
	if len(note.Leverage) > 0 {
		var b strings.Builder
		for _, line := range note.Leverage {
			fmt.Fprintf(&b, "• %s\n", line)
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, strings.TrimSuffix(b.String(), "\n"), false, false), nil, nil))
	}
	blocks = append(blocks, slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, details, false, false)))

	return fmt.Sprintf("%s: %s", title, headline), blocks
}
