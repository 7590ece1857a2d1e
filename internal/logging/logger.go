// Package logging provides leveled logging and per-day tracing for cura.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A DayLogger for structured JSONL day traces (<data dir>/days.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/cura/internal/epidemic"
)

// LevelTrace is a custom slog level below Debug. At this level the runner
// also logs per-tract seeding and tick timing.
const LevelTrace = slog.LevelDebug - 4

// DayFile is the JSONL file name written by DayLogger.
const DayFile = "days.jsonl"

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether s names a supported level. Empty means info.
func ValidLevel(s string) bool {
	switch strings.ToLower(s) {
	case "", "info", "debug", "trace":
		return true
	}
	return false
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// DayEvent is one line of the day trace.
type DayEvent struct {
	Time   string             `json:"time"`
	RunID  string             `json:"run_id"`
	Report epidemic.DayReport `json:"report"`
	Stats  epidemic.Aggregate `json:"stats"`
}

// DayLogger appends one JSON line per simulated day. It is safe for
// concurrent use, and a nil DayLogger is a no-op.
type DayLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewDayLogger creates a day logger writing to dir/days.jsonl.
// At "info" level (the default), returns nil and no file is created.
// Returns nil if the file cannot be opened.
func NewDayLogger(dir string, level string) *DayLogger {
	if ParseLevel(level) == slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	f, err := os.OpenFile(filepath.Join(dir, DayFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &DayLogger{file: f}
}

// LogDay writes one day as a single JSONL line.
func (dl *DayLogger) LogDay(runID string, report epidemic.DayReport, stats epidemic.Aggregate) {
	if dl == nil {
		return
	}

	data, err := json.Marshal(DayEvent{
		Time:   time.Now().UTC().Format(time.RFC3339Nano),
		RunID:  runID,
		Report: report,
		Stats:  stats,
	})
	if err != nil {
		return
	}
	data = append(data, '\n')

	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.file == nil {
		return
	}
	_, _ = dl.file.Write(data)
}

// Close closes the underlying file. Safe to call on nil receiver.
func (dl *DayLogger) Close() {
	if dl == nil {
		return
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.file != nil {
		dl.file.Close()
		dl.file = nil
	}
}
