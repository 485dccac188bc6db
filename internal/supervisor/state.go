// Package supervisor manages the lifecycle of a single STREAM benchmark process.
package supervisor

// State represents the lifecycle state of the supervised benchmark.
type State int

const (
	// StateNotStarted is the initial state before any run.
	StateNotStarted State = iota

	// StateRunning indicates the benchmark process is alive.
	StateRunning

	// StateStopping indicates a stop was requested and termination is in progress.
	StateStopping

	// StateExited indicates the last run has ended, by itself or through Stop.
	StateExited
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// IsActive returns true while a child process may still be alive.
func (s State) IsActive() bool {
	return s == StateRunning || s == StateStopping
}

// CanStart returns true if a new run may be spawned from this state.
func (s State) CanStart() bool {
	return s == StateNotStarted || s == StateExited
}
