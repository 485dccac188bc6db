package tui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-stream-pressure/internal/supervisor"
)

// =============================================================================
// Tests: state indicator
// =============================================================================

func TestGetStateStyle(t *testing.T) {
	tests := []struct {
		state supervisor.State
		want  lipgloss.TerminalColor
	}{
		{supervisor.StateNotStarted, colorTextMuted},
		{supervisor.StateRunning, colorSuccess},
		{supervisor.StateStopping, colorWarning},
		{supervisor.StateExited, colorInfo},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := GetStateStyle(tt.state).GetForeground(); got != tt.want {
				t.Errorf("GetStateStyle(%s) foreground = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestGetStateLabel(t *testing.T) {
	got := GetStateLabel(supervisor.StateRunning)
	if !strings.Contains(got, "running") {
		t.Errorf("GetStateLabel(running) = %q", got)
	}
}

func TestGetExitStyle(t *testing.T) {
	tests := []struct {
		code int
		want lipgloss.TerminalColor
	}{
		{0, colorSuccess},
		{1, colorError},
		{3, colorError},
		{137, colorWarning},
		{143, colorWarning},
	}

	for _, tt := range tests {
		if got := GetExitStyle(tt.code).GetForeground(); got != tt.want {
			t.Errorf("GetExitStyle(%d) foreground = %v, want %v", tt.code, got, tt.want)
		}
	}
}

// =============================================================================
// Tests: CPU indicator
// =============================================================================

func TestGetCPUStyle(t *testing.T) {
	tests := []struct {
		name    string
		percent float64
		threads int
		want    lipgloss.TerminalColor
	}{
		{"saturated", 400, 4, colorSuccess},
		{"mostly busy", 310, 4, colorSuccess},
		{"half busy", 200, 4, colorWarning},
		{"idle", 10, 4, colorError},
		{"zero threads treated as one", 90, 0, colorSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCPUStyle(tt.percent, tt.threads).GetForeground(); got != tt.want {
				t.Errorf("GetCPUStyle(%v, %d) foreground = %v, want %v", tt.percent, tt.threads, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: helpers
// =============================================================================

func TestRenderKeyValue(t *testing.T) {
	got := RenderKeyValue("Threads", "4")
	if !strings.Contains(got, "Threads:") || !strings.Contains(got, "4") {
		t.Errorf("RenderKeyValue() = %q", got)
	}
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name     string
		progress float64
		width    int
		filled   int
		percent  string
	}{
		{"empty", 0, 20, 0, "0%"},
		{"half", 0.5, 20, 10, "50%"},
		{"full", 1, 20, 20, "100%"},
		{"overflow clamps", 1.5, 20, 20, "100%"},
		{"negative clamps", -0.2, 20, 0, "0%"},
		{"min width", 0.5, 4, 5, "50%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderProgressBar(tt.progress, tt.width)
			if n := strings.Count(got, "█"); n != tt.filled {
				t.Errorf("filled = %d, want %d (%q)", n, tt.filled, got)
			}
			if !strings.Contains(got, tt.percent) {
				t.Errorf("RenderProgressBar() = %q, want %q", got, tt.percent)
			}
		})
	}
}
