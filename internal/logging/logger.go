// Package logging holds resistsim's operational logger and the JSONL
// reaction trace written to <output.dir>/events.jsonl.
package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/resistsim/internal/constants"
)

// LevelTrace sits below Debug. At this level every reaction event is also
// written to the operational log.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps "info", "debug" or "trace" (any case) to a level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a text logger writing to w at the named level.
func NewLogger(level string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Reaction is one line of the reaction trace.
type Reaction struct {
	Run     string    `json:"run,omitempty"`
	Seq     int64     `json:"seq"`
	SimTime float64   `json:"sim_time"`
	Tau     float64   `json:"tau"`
	Lambda  float64   `json:"lambda"`
	Channel string    `json:"channel"`
	Site    int       `json:"site"`
	Detail  string    `json:"detail,omitempty"`
	Wall    time.Time `json:"wall"`
}

// EventLogger appends Reactions to a JSONL file. It is safe for concurrent
// use, and a nil *EventLogger discards everything.
type EventLogger struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	enc     *json.Encoder
	written int64
}

// NewEventLogger opens dir/events.jsonl for append when level is debug or
// trace. At info level, or if the file cannot be opened, it returns nil.
func NewEventLogger(dir, level string) *EventLogger {
	if ParseLevel(level) > slog.LevelDebug {
		return nil
	}
	el, err := OpenEventLog(filepath.Join(dir, constants.EventLogName))
	if err != nil {
		return nil
	}
	return el
}

// OpenEventLog opens path for append, creating its directory.
func OpenEventLog(path string) (*EventLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	buf := bufio.NewWriter(f)
	return &EventLogger{file: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Log appends r, stamping Wall with the current UTC time if unset.
func (el *EventLogger) Log(r Reaction) {
	if el == nil {
		return
	}
	if r.Wall.IsZero() {
		r.Wall = time.Now().UTC()
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.enc == nil {
		return
	}
	if el.enc.Encode(r) == nil {
		el.written++
	}
}

// Written returns how many reactions were encoded.
func (el *EventLogger) Written() int64 {
	if el == nil {
		return 0
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.written
}

// Flush writes buffered lines to disk.
func (el *EventLogger) Flush() error {
	if el == nil {
		return nil
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.buf == nil {
		return nil
	}
	return el.buf.Flush()
}

// Close flushes and closes the file. Later calls to Log are dropped.
func (el *EventLogger) Close() {
	if el == nil {
		return
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.file == nil {
		return
	}
	_ = el.buf.Flush()
	el.file.Close()
	el.file, el.buf, el.enc = nil, nil, nil
}

// ForRun returns a view of el that stamps every reaction with run.
func (el *EventLogger) ForRun(run string) *RunEventLogger {
	if el == nil {
		return nil
	}
	return &RunEventLogger{parent: el, run: run}
}

// RunEventLogger is an EventLogger bound to one run. Nil is a no-op.
type RunEventLogger struct {
	parent *EventLogger
	run    string
}

// Log appends r under this run's ID.
func (rl *RunEventLogger) Log(r Reaction) {
	if rl == nil {
		return
	}
	r.Run = rl.run
	rl.parent.Log(r)
}
