package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"listing-watcher/utils"
)

const (
	LastDigestFile    = "last_digest.txt"
	LastRunFile       = "last_worker_run.txt"
	RunHistoryFile    = "worker_run_history.txt"
	runHistoryEntries = 100
)

// TimestampFile holds a single ISO-8601 timestamp.
type TimestampFile struct {
	path   string
	logger *utils.Logger
}

// NewTimestampFile returns a TimestampFile at path.
func NewTimestampFile(path string, logger *utils.Logger) *TimestampFile {
	return &TimestampFile{path: path, logger: logger}
}

// Load returns the stored time. ok is false when the file is absent or
// unreadable, which callers treat as "never".
func (f *TimestampFile) Load() (t time.Time, ok bool) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn("[state] could not read timestamp", "path", f.path, "error", err)
		}
		return time.Time{}, false
	}

	t, err = parseTimestamp(strings.TrimSpace(string(data)))
	if err != nil {
		f.logger.Warn("[state] malformed timestamp, treating as never", "path", f.path, "error", err)
		return time.Time{}, false
	}
	return t, true
}

// Save atomically stores t.
func (f *TimestampFile) Save(t time.Time) error {
	if err := writeFileAtomic(f.path, []byte(t.Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("state: save %q: %w", f.path, err)
	}
	return nil
}

// parseTimestamp accepts RFC 3339 and the offset-less ISO form written by
// earlier versions of the watcher, which is read as UTC.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05.999999999", s)
}

// RunHistory records when the job ran, keeping the last 100 runs.
type RunHistory struct {
	last    string
	history string
}

// NewRunHistory returns a RunHistory writing into dataDir-relative paths.
func NewRunHistory(lastPath, historyPath string) *RunHistory {
	return &RunHistory{last: lastPath, history: historyPath}
}

// Mark records a run at t.
func (h *RunHistory) Mark(t time.Time) error {
	stamp := t.Format(time.RFC3339)
	if err := writeFileAtomic(h.last, []byte(stamp)); err != nil {
		return fmt.Errorf("state: mark run: %w", err)
	}

	var lines []string
	if data, err := os.ReadFile(h.history); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
	}
	lines = append(lines, stamp)
	if len(lines) > runHistoryEntries {
		lines = lines[len(lines)-runHistoryEntries:]
	}

	if err := writeFileAtomic(h.history, []byte(strings.Join(lines, "\n")+"\n")); err != nil {
		return fmt.Errorf("state: append run history: %w", err)
	}
	return nil
}
