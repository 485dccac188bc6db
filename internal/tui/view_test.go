package tui

import (
	"strings"
	"testing"

	"github.com/randomizedcoder/go-stream-pressure/internal/stats"
)

func TestView_InitialDashboard(t *testing.T) {
	view := New(testConfig()).View()

	for _, want := range []string{
		"go-stream-pressure",
		"not_started",
		"PID: -",
		"triad",
		"1.0M elements",
		"24.00 MB total",
		"No sample yet",
		"n/a",
		"http://127.0.0.1:9100/metrics",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "Result") {
		t.Error("result section shown before exit")
	}
}

func TestView_UsagePercentiles(t *testing.T) {
	m := New(testConfig())
	write := uint64(0)
	m.usage = stats.UsageSummary{Samples: 10, CPUP50: 350, CPUP95: 395, CPUMax: 400, RSSPeak: 48_000_000, IOWriteBytes: &write}

	view := m.View()
	for _, want := range []string{"350.0% / 395.0% / 400.0%", "48.00 MB", "0 B"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestView_IterationModeHasNoProgressBar(t *testing.T) {
	cfg := testConfig()
	cfg.Runtime = 0
	cfg.Termination = "10 iterations"

	view := New(cfg).View()
	if strings.Contains(view, "░") {
		t.Error("iteration mode should not render a progress bar")
	}
	if !strings.Contains(view, "10 iterations") {
		t.Error("termination missing from view")
	}
}

func TestView_NoMetricsAddr(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsAddr = ""
	if strings.Contains(New(cfg).View(), "metrics:") {
		t.Error("footer should omit metrics when disabled")
	}
}

func TestView_NarrowTerminal(t *testing.T) {
	m := New(testConfig())
	m.width = 10
	if m.View() == "" {
		t.Error("narrow terminal should still render")
	}
}

func TestFormatCounter(t *testing.T) {
	if got := formatCounter(nil); got != "n/a" {
		t.Errorf("formatCounter(nil) = %q", got)
	}
	v := uint64(2_500_000)
	if got := formatCounter(&v); got != "2.50 MB" {
		t.Errorf("formatCounter(2.5M) = %q", got)
	}
}
