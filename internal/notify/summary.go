package notify

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ChainSummary describes one finished export chain.
type ChainSummary struct {
	Table      string
	ChainID    string
	Batches    int
	Rows       int64
	Bytes      int64
	LastOffset int64
	Duration   time.Duration
	Success    bool
	Error      error
}

// SummaryPath returns configured, or the GitHub step summary file when
// running inside Actions.
func SummaryPath(configured string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv("GITHUB_STEP_SUMMARY")
}

// WriteSummary appends a markdown section for summary to path. An empty path
// is a no-op.
func WriteSummary(path string, summary *ChainSummary) error {
	if path == "" {
		return nil
	}

	content := buildSummaryMarkdown(summary)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open summary file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	return nil
}

func buildSummaryMarkdown(summary *ChainSummary) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## Table Export: %s\n\n", summary.Table))

	if summary.Success {
		sb.WriteString("**Status:** :white_check_mark: Success\n\n")
	} else {
		sb.WriteString("**Status:** :x: Failed\n\n")
	}

	sb.WriteString("| Property | Value |\n")
	sb.WriteString("|----------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Table | %s |\n", summary.Table))
	sb.WriteString(fmt.Sprintf("| Chain | `%s` |\n", summary.ChainID))
	sb.WriteString(fmt.Sprintf("| Batches | %d |\n", summary.Batches))
	sb.WriteString(fmt.Sprintf("| Rows | %s |\n", humanize.Comma(summary.Rows)))
	sb.WriteString(fmt.Sprintf("| Compressed Size | %s |\n", humanize.IBytes(uint64(max(summary.Bytes, 0)))))
	sb.WriteString(fmt.Sprintf("| Duration | %s |\n", summary.Duration.Round(time.Millisecond)))

	if !summary.Success {
		sb.WriteString(fmt.Sprintf("| Failed At Offset | %d |\n", summary.LastOffset))
		if summary.Error != nil {
			sb.WriteString(fmt.Sprintf("| Error | %s |\n", escapeCell(summary.Error.Error())))
		}
	}

	sb.WriteString("\n")

	return sb.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

func SetGitHubOutput(name, value string) error {
	outputFile := os.Getenv("GITHUB_OUTPUT")
	if outputFile == "" {
		return nil
	}

	f, err := os.OpenFile(outputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s=%s\n", name, value); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	return nil
}
