package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"maps"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the maximum number of stderr lines kept per run.
	MaxBufferedLines = 100
)

// StderrHandler captures stderr output from the benchmark process.
// It keeps recent lines for exit reports, logs notable ones, and optionally
// forwards the raw bytes to a terminal.
//
// StderrHandler is an io.Writer so it can be assigned to exec.Cmd.Stderr;
// call Flush after the command has been waited on.
type StderrHandler struct {
	pid     int
	logger  *slog.Logger
	verbose bool
	forward io.Writer

	mu      sync.Mutex
	partial []byte

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	total  int

	// Per-pattern counts over every line, evicted ones included
	diagnostics map[string]int
}

// NewStderrHandler creates a stderr handler. forward may be nil.
func NewStderrHandler(logger *slog.Logger, verbose bool, forward io.Writer) *StderrHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StderrHandler{
		logger:  logger,
		verbose: verbose,
		forward: forward,
		buffer:  make([]string, MaxBufferedLines),

		diagnostics: make(map[string]int),
	}
}

// SetPID tags subsequent log lines with the child's pid.
func (h *StderrHandler) SetPID(pid int) {
	h.mu.Lock()
	h.pid = pid
	h.mu.Unlock()
}

// Write implements io.Writer, splitting input into lines.
func (h *StderrHandler) Write(p []byte) (int, error) {
	if h.forward != nil {
		// Forwarding is best effort; a closed terminal must not fail the child.
		_, _ = h.forward.Write(p)
	}

	h.mu.Lock()
	h.partial = append(h.partial, p...)
	var lines []string
	for {
		i := bytes.IndexByte(h.partial, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimRight(string(h.partial[:i]), "\r"))
		h.partial = h.partial[i+1:]
	}
	// Never let an unterminated line grow without bound.
	if len(h.partial) > MaxLineLength {
		lines = append(lines, string(h.partial))
		h.partial = nil
	}
	h.mu.Unlock()

	for _, line := range lines {
		h.HandleLine(line)
	}
	return len(p), nil
}

// Flush handles any trailing line without a newline.
func (h *StderrHandler) Flush() {
	h.mu.Lock()
	rest := string(h.partial)
	h.partial = nil
	h.mu.Unlock()

	if rest != "" {
		h.HandleLine(rest)
	}
}

// HandleLine processes a single line of stderr output.
func (h *StderrHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.total++
	for _, pattern := range ErrorPatterns {
		if strings.Contains(line, pattern) {
			h.diagnostics[pattern]++
		}
	}
	pid := h.pid
	h.mu.Unlock()

	h.logLine(pid, line)
}

// logLine logs the line at appropriate level based on content.
func (h *StderrHandler) logLine(pid int, line string) {
	level := classifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	h.logger.Log(context.Background(), level, "stream_stderr",
		"pid", pid,
		"line", line,
	)
}

// classifyLine determines the log level for a line based on content.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	if strings.Contains(lower, "failed") ||
		strings.Contains(lower, "invalid") ||
		strings.Contains(lower, "unknown operation") ||
		strings.Contains(lower, "must be") ||
		strings.Contains(lower, "error") {
		return slog.LevelWarn
	}

	if strings.Contains(lower, "not available") ||
		strings.Contains(lower, "not compiled in") ||
		strings.Contains(lower, "not supported") ||
		strings.HasPrefix(lower, "usage:") {
		return slog.LevelWarn
	}

	return slog.LevelDebug
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *StderrHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)

	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}

	return lines
}

// Text returns every buffered line joined with newlines.
func (h *StderrHandler) Text() string {
	lines := h.RecentLines(MaxBufferedLines)
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// LineCount returns the number of lines seen, including evicted ones.
func (h *StderrHandler) LineCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// ErrorPatterns are the benchmark's diagnostic messages counted for the exit summary.
var ErrorPatterns = []string{
	"NUMA support not compiled in",
	"NUMA not available",
	"Invalid CPU list",
	"Invalid NUMA node list",
	"Invalid number in list",
	"Unknown operation",
	"Runtime must be positive",
	"Failed to allocate",
	"Failed to set CPU affinity",
	"Validation failed",
	"Error creating thread",
}

// CountErrors returns how many lines matched each of ErrorPatterns.
// Patterns that never matched are absent.
func (h *StderrHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return maps.Clone(h.diagnostics)
}
