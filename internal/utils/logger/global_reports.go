package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StringListReport collects lines that are flushed to a report file in one go.
type StringListReport struct {
	mu    sync.Mutex
	Title string
	Items []string
}

// FetchedReport records every URL the fetcher downloaded or served from cache.
var FetchedReport = &StringListReport{Title: "FetchedFiles"}

// ReportPath is the directory reports are written into.
var ReportPath = "builds"

// Add appends an item. Safe for concurrent use.
func (r *StringListReport) Add(item string) {
	r.mu.Lock()
	r.Items = append(r.Items, item)
	r.mu.Unlock()
}

// Len returns the number of pending items.
func (r *StringListReport) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Items)
}

// WriteToFile appends the pending items to <ReportPath>/fetchurl-<title>.txt
// followed by a blank separator line, then resets the list.
func (r *StringListReport) WriteToFile() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(ReportPath, 0755); err != nil {
		return "", fmt.Errorf("creating base path: %w", err)
	}

	reportFullPath := filepath.Join(ReportPath, fmt.Sprintf("fetchurl-%s.txt", sanitizeTitle(r.Title)))

	f, err := os.OpenFile(reportFullPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	for _, item := range r.Items {
		if _, err := fmt.Fprintln(f, item); err != nil {
			return "", fmt.Errorf("writing to file: %w", err)
		}
	}
	r.Items = nil
	if _, err := fmt.Fprintln(f); err != nil {
		return "", fmt.Errorf("writing new line to file: %w", err)
	}
	return reportFullPath, nil
}

// sanitizeTitle replaces anything that is not an ASCII letter or digit.
func sanitizeTitle(title string) string {
	if title == "" {
		return "untitled"
	}
	safe := make([]rune, 0, len(title))
	for _, r := range title {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			safe = append(safe, r)
		} else {
			safe = append(safe, '_')
		}
	}
	return string(safe)
}
