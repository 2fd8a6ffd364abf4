package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatBoth     = "both"
)

// Summary is the machine-readable result of a run, also printed by the CLI.
type Summary struct {
	ItemsProcessed        int               `json:"items_processed"`
	PeriodDays            int               `json:"period_days"`
	EstimatedHoursPerWeek float64           `json:"estimated_hours_per_week"`
	Classifier            string            `json:"classifier"`
	LLMTokens             int64             `json:"llm_tokens,omitempty"`
	LLMFallbacks          int64             `json:"llm_fallbacks,omitempty"`
	RunID                 int64             `json:"run_id,omitempty"`
	OutputFiles           map[string]string `json:"output_files"`
}

// BaseName is the shared file stem for one run's outputs.
func BaseName(reportName string, at time.Time) string {
	return fmt.Sprintf("%s_%s", sanitizeFilename(reportName), at.Format("20060102_150405"))
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", " ", "_")
	return replacer.Replace(strings.TrimSpace(s))
}

func WriteReportFile(content, path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	return path, os.WriteFile(path, []byte(content), 0644)
}

// WriteReports renders the requested formats under outputDir and returns the
// written paths keyed by format.
func WriteReports(in Input, format, outputDir, baseName string) (map[string]string, error) {
	files := map[string]string{}
	if format == FormatMarkdown || format == FormatBoth {
		path, err := WriteReportFile(RenderMarkdown(in), filepath.Join(outputDir, baseName+".md"))
		if err != nil {
			return nil, fmt.Errorf("write markdown report: %w", err)
		}
		files[FormatMarkdown] = path
	}
	if format == FormatHTML || format == FormatBoth {
		path, err := WriteReportFile(RenderHTML(in), filepath.Join(outputDir, baseName+".html"))
		if err != nil {
			return nil, fmt.Errorf("write html report: %w", err)
		}
		files[FormatHTML] = path
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("unknown report format %q", format)
	}
	return files, nil
}

func WriteSummary(s Summary, outputDir, baseName string) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return WriteReportFile(string(data), filepath.Join(outputDir, baseName+".summary.json"))
}
