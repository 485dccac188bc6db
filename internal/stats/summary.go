package stats

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// Command is the benchmark command line that ran
	Command string

	// PID of the last run (0 if nothing started)
	PID int

	// ExitCode of the last run; only meaningful when Exited is true
	ExitCode int
	Exited   bool

	// Stopped is true when the run was ended by the supervisor
	Stopped bool

	// Uptime is how long the benchmark process lived
	Uptime time.Duration

	// Duration is the total wall time of the CLI run
	Duration time.Duration

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// TextfilePath is where final metrics were written, if anywhere
	TextfilePath string

	// Diagnostics counts known error messages on the benchmark's stderr
	Diagnostics map[string]int
}

const (
	heavyRule = "═══════════════════════════════════════════════════════════════════════════════\n"
	lightRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// FormatExitSummary formats the run outcome and resource usage for display
// at program exit. usage may be nil when sampling was unavailable.
func FormatExitSummary(usage *UsageSummary, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(heavyRule)
	b.WriteString("                        go-stream-pressure Exit Summary\n")
	b.WriteString(heavyRule + "\n")

	// Run info
	if cfg.Command != "" {
		fmt.Fprintf(&b, "Command:                %s\n", cfg.Command)
	}
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	fmt.Fprintf(&b, "Benchmark Uptime:       %s\n", FormatDuration(cfg.Uptime))
	if cfg.PID > 0 {
		fmt.Fprintf(&b, "PID:                    %d\n", cfg.PID)
	}
	switch {
	case !cfg.Exited:
		b.WriteString("Exit Code:              -\n")
	case cfg.Stopped:
		fmt.Fprintf(&b, "Exit Code:              %d %s (stopped)\n", cfg.ExitCode, exitCodeLabel(cfg.ExitCode))
	default:
		fmt.Fprintf(&b, "Exit Code:              %d %s\n", cfg.ExitCode, exitCodeLabel(cfg.ExitCode))
	}
	b.WriteString("\n")

	b.WriteString(lightRule)
	b.WriteString("                               Resource Usage\n")
	b.WriteString(lightRule + "\n")

	if usage == nil || usage.Samples == 0 {
		b.WriteString("  (no resource samples were collected)\n\n")
	} else {
		fmt.Fprintf(&b, "  %-20s %12s %12s %12s\n", "", "p50", "p95", "max")
		b.WriteString("  " + strings.Repeat("─", 58) + "\n")
		fmt.Fprintf(&b, "  %-20s %11.1f%% %11.1f%% %11.1f%%\n", "CPU", usage.CPUP50, usage.CPUP95, usage.CPUMax)
		fmt.Fprintf(&b, "  %-20s %12s %12s %12s\n", "Memory (RSS)", FormatBytes(int64(usage.RSSP50)), "-", FormatBytes(int64(usage.RSSPeak)))
		b.WriteString("\n")

		fmt.Fprintf(&b, "  Samples:            %s over %s\n", FormatNumber(usage.Samples), FormatDuration(usage.Span))
		fmt.Fprintf(&b, "  IO Read:            %s\n", formatOptionalBytes(usage.IOReadBytes))
		fmt.Fprintf(&b, "  IO Written:         %s\n\n", formatOptionalBytes(usage.IOWriteBytes))
	}

	if len(cfg.Diagnostics) > 0 {
		b.WriteString(lightRule)
		b.WriteString("                            Benchmark Diagnostics\n")
		b.WriteString(lightRule + "\n")
		for _, msg := range slices.Sorted(maps.Keys(cfg.Diagnostics)) {
			fmt.Fprintf(&b, "  %-40s %6d\n", msg, cfg.Diagnostics[msg])
		}
		b.WriteString("\n")
	}

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}
	if cfg.TextfilePath != "" {
		fmt.Fprintf(&b, "Metrics written to:   %s\n", cfg.TextfilePath)
	}

	b.WriteString(heavyRule)

	return b.String()
}

func formatOptionalBytes(v *uint64) string {
	if v == nil {
		return "n/a"
	}
	return FormatBytes(int64(*v))
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatPercent formats a CPU percentage; 100 is one busy core.
func FormatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}
