package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-stream-pressure/internal/sampler"
	"github.com/randomizedcoder/go-stream-pressure/internal/stats"
	"github.com/randomizedcoder/go-stream-pressure/internal/supervisor"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// SampleMsg carries a fresh resource snapshot.
type SampleMsg struct {
	Snapshot sampler.Snapshot
}

// ExitMsg reports that the benchmark exited.
type ExitMsg struct {
	Code   int
	Uptime time.Duration
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// ProcessSource is the supervisor view the dashboard polls.
type ProcessSource interface {
	State() supervisor.State
	PID() int
	Uptime() time.Duration
}

// UsageSource provides aggregated resource usage.
type UsageSource interface {
	Summary() stats.UsageSummary
}

// Config holds TUI configuration.
type Config struct {
	Command     string
	Operation   string
	Threads     int
	ArraySize   int64
	Termination string

	// Runtime drives the progress bar; zero in iteration mode.
	Runtime time.Duration

	MetricsAddr string

	Process ProcessSource
	Usage   UsageSource
}

// Model represents the TUI state.
type Model struct {
	cfg Config

	state    supervisor.State
	pid      int
	uptime   time.Duration
	snapshot *sampler.Snapshot
	usage    stats.UsageSummary

	exited   bool
	exitCode int

	startTime    time.Time
	lastUpdate   time.Time
	detailedView bool

	width  int
	height int

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		cfg:        cfg,
		startTime:  time.Now(),
		lastUpdate: time.Now(),
		width:      80,
		height:     24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.poll()
		m.lastUpdate = time.Time(msg)
		return m, tickCmd()

	case SampleMsg:
		snap := msg.Snapshot
		m.snapshot = &snap
		m.lastUpdate = snap.Time
		return m, nil

	case ExitMsg:
		m.exited = true
		m.exitCode = msg.Code
		m.uptime = msg.Uptime
		m.state = supervisor.StateExited
		m.snapshot = nil
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// poll refreshes state from the configured sources.
func (m *Model) poll() {
	if m.cfg.Process != nil {
		m.state = m.cfg.Process.State()
		if !m.exited {
			m.pid = m.cfg.Process.PID()
			m.uptime = m.cfg.Process.Uptime()
		}
	}
	if m.cfg.Usage != nil {
		m.usage = m.cfg.Usage.Summary()
	}
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Progress returns runtime progress (0.0 to 1.0), or -1 in iteration mode.
func (m Model) Progress() float64 {
	if m.cfg.Runtime <= 0 {
		return -1
	}
	if m.exited {
		return 1
	}
	return min(float64(m.uptime)/float64(m.cfg.Runtime), 1)
}

// State returns the last observed supervisor state.
func (m Model) State() supervisor.State {
	return m.state
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendSample forwards a snapshot to the TUI.
func SendSample(p *tea.Program, snap sampler.Snapshot) {
	if p != nil {
		p.Send(SampleMsg{Snapshot: snap})
	}
}

// SendExit reports the benchmark's exit to the TUI.
func SendExit(p *tea.Program, code int, uptime time.Duration) {
	if p != nil {
		p.Send(ExitMsg{Code: code, Uptime: uptime})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}
