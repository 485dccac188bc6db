package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-stream-pressure/internal/stats"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderDashboard renders the full dashboard.
func (m Model) renderDashboard() string {
	sections := []string{
		m.renderHeader(),
		m.renderWorkload(),
		m.renderResources(),
	}

	if m.exited {
		sections = append(sections, m.renderExit())
	}

	if m.detailedView {
		sections = append(sections, m.renderCommand())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// boxWidth is the usable width of a bordered section.
func (m Model) boxWidth() int {
	return max(m.width-2, 40)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	pid := "-"
	if m.pid > 0 {
		pid = fmt.Sprintf("%d", m.pid)
	}

	header := fmt.Sprintf(
		" go-stream-pressure │ %s │ PID: %s │ Uptime: %s ",
		GetStateLabel(m.state),
		pid,
		stats.FormatDuration(m.uptime),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Workload
// =============================================================================

func (m Model) renderWorkload() string {
	rows := []string{
		RenderKeyValue("Operation", m.cfg.Operation),
		RenderKeyValue("Threads", fmt.Sprintf("%d", m.cfg.Threads)),
		RenderKeyValue("Array Size", fmt.Sprintf("%s elements (%s total)",
			stats.FormatNumber(m.cfg.ArraySize), stats.FormatBytes(m.cfg.ArraySize*24))),
		RenderKeyValue("Termination", m.cfg.Termination),
	}

	if progress := m.Progress(); progress >= 0 {
		rows = append(rows, RenderProgressBar(progress, max(m.width-30, 20)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Workload")}, rows...)...,
	)

	return boxStyle.Width(m.boxWidth()).Render(content)
}

// =============================================================================
// Resources
// =============================================================================

func (m Model) renderResources() string {
	var rows []string

	if m.snapshot == nil {
		rows = append(rows, dimStyle.Render("No sample yet"))
	} else {
		s := m.snapshot
		rows = append(rows,
			renderStyledValue("CPU", GetCPUStyle(s.CPUPercent, m.cfg.Threads), stats.FormatPercent(s.CPUPercent)),
			RenderKeyValue("RSS", stats.FormatBytes(int64(s.MemoryRSSBytes))),
			RenderKeyValue("VMS", stats.FormatBytes(int64(s.MemoryVMSBytes))),
		)
	}

	u := m.usage
	if u.Samples > 0 {
		rows = append(rows,
			RenderKeyValue("CPU p50/p95/max", fmt.Sprintf("%s / %s / %s",
				stats.FormatPercent(u.CPUP50), stats.FormatPercent(u.CPUP95), stats.FormatPercent(u.CPUMax))),
			RenderKeyValue("Peak RSS", stats.FormatBytes(int64(u.RSSPeak))),
		)
	}

	rows = append(rows,
		RenderKeyValue("I/O Read", formatCounter(m.ioRead())),
		RenderKeyValue("I/O Write", formatCounter(m.ioWrite())),
	)

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Resources")}, rows...)...,
	)

	return boxStyle.Width(m.boxWidth()).Render(content)
}

func (m Model) ioRead() *uint64 {
	if m.snapshot != nil && m.snapshot.IOReadBytes != nil {
		return m.snapshot.IOReadBytes
	}
	return m.usage.IOReadBytes
}

func (m Model) ioWrite() *uint64 {
	if m.snapshot != nil && m.snapshot.IOWriteBytes != nil {
		return m.snapshot.IOWriteBytes
	}
	return m.usage.IOWriteBytes
}

// formatCounter renders an optional byte counter; nil means unsupported.
func formatCounter(v *uint64) string {
	if v == nil {
		return "n/a"
	}
	return stats.FormatBytes(int64(*v))
}

// =============================================================================
// Exit
// =============================================================================

func (m Model) renderExit() string {
	status := statusOK.Render("✓ Completed")
	if m.exitCode != 0 {
		status = statusError.Render(fmt.Sprintf("✗ Exited with code %d", m.exitCode))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Result"),
		status,
		renderStyledValue("Exit Code", GetExitStyle(m.exitCode), fmt.Sprintf("%d", m.exitCode)),
		RenderKeyValue("Uptime", stats.FormatDuration(m.uptime)),
	)

	return boxStyle.Width(m.boxWidth()).Render(content)
}

// =============================================================================
// Command (Detailed View)
// =============================================================================

func (m Model) renderCommand() string {
	cmd := m.cfg.Command
	if cmd == "" {
		cmd = "(unknown)"
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Command"),
		lipgloss.NewStyle().Width(m.boxWidth()-4).Render(cmd),
	)

	return boxStyle.Width(m.boxWidth()).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	parts := []string{"q: quit", "d: toggle command", "r: refresh"}
	if m.cfg.MetricsAddr != "" {
		parts = append(parts, "metrics: http://"+m.cfg.MetricsAddr+"/metrics")
	}
	parts = append(parts, "updated "+m.lastUpdate.Format("15:04:05"))

	return footerStyle.Render(strings.Join(parts, " │ "))
}
