package game

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileExporter appends a plain-text summary of every finished game to Path.
type FileExporter struct {
	Path string
	Now  func() time.Time

	mu sync.Mutex
}

func NewFileExporter(path string) *FileExporter {
	return &FileExporter{Path: path, Now: time.Now}
}

func (e *FileExporter) Export(v View, lb Leaderboard, questions []Question) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(e.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	fileExists := false
	if _, err := os.Stat(e.Path); err == nil {
		fileExists = true
	}
	file, err := os.OpenFile(e.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(formatResults(v, lb, questions, e.now(), fileExists)); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

func (e *FileExporter) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func formatResults(v View, lb Leaderboard, questions []Question, at time.Time, separate bool) string {
	var sb strings.Builder
	if separate {
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf("GeoTrivia Game Results - Session %s\n", v.SessionID))
	sb.WriteString(fmt.Sprintf("Host: %s\n", v.HostUsername))
	sb.WriteString(fmt.Sprintf("Started: %s\n", v.CreatedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")

	sb.WriteString("Questions:\n")
	for i, q := range questions {
		sb.WriteString(fmt.Sprintf("%d. [%s] %s\n", i+1, q.Region, q.Text))
		for j, o := range q.Options {
			marker := " "
			if j == q.CorrectAnswerIndex {
				marker = "*"
			}
			sb.WriteString(fmt.Sprintf("   %s %s\n", marker, o))
		}
	}

	sb.WriteString("\nLeaderboard:\n")
	for _, entry := range lb {
		sb.WriteString(fmt.Sprintf("%d. %s: %d points\n", entry.Rank, entry.Username, entry.Score))
	}
	sb.WriteString(fmt.Sprintf("\nGame ended at %s\n", at.Format("2006-01-02 15:04:05")))
	sb.WriteString(strings.Repeat("=", 50) + "\n")
	return sb.String()
}
