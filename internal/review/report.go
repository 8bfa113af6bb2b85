package review

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Analysis is the model's review of one file.
type Analysis struct {
	File  string `json:"file"`
	Lines int    `json:"lines,omitempty"`
	Text  string `json:"analysis,omitempty"`
	Err   string `json:"error,omitempty"`
}

func renderReport(dir, summary string, analyses []Analysis, at time.Time) string {
	var b strings.Builder
	b.WriteString("# Test Analysis Report\n")
	fmt.Fprintf(&b, "Date: %s\n", at.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Project: %s\n\n---\n\n", dir)
	b.WriteString(strings.TrimSpace(summary))
	b.WriteString("\n\n---\n\n## Detailed Analysis Results\n")
	for _, a := range analyses {
		fmt.Fprintf(&b, "\n### %s\n", a.File)
		if a.Err != "" {
			fmt.Fprintf(&b, "**Error:** %s\n", a.Err)
		} else {
			fmt.Fprintf(&b, "**Lines of Code:** %d\n**Analysis:**\n%s\n", a.Lines, strings.TrimSpace(a.Text))
		}
		b.WriteString("---\n")
	}
	return b.String()
}

func writeReport(dir, content string) (string, error) {
	path := filepath.Join(dir, ReportName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
