package process

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"slices"
	"strconv"
	"strings"
)

// Operation selects the STREAM kernel to run.
type Operation string

const (
	// OpCopy runs a[i] = b[i].
	OpCopy Operation = "copy"

	// OpScale runs a[i] = q*b[i].
	OpScale Operation = "scale"

	// OpAdd runs a[i] = b[i] + c[i].
	OpAdd Operation = "add"

	// OpTriad runs a[i] = b[i] + q*c[i]. Highest memory traffic per element.
	OpTriad Operation = "triad"
)

// ParseOperation converts a flag value into an Operation.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	if !op.Valid() {
		return "", fmt.Errorf("%w: unknown operation %q (must be copy, scale, add, or triad)", ErrInvalidConfiguration, s)
	}
	return op, nil
}

// Valid reports whether o is one of the four STREAM kernels.
func (o Operation) Valid() bool {
	switch o {
	case OpCopy, OpScale, OpAdd, OpTriad:
		return true
	default:
		return false
	}
}

// Termination decides when the benchmark stops on its own.
// It is either Iterations or Runtime, never both.
type Termination interface {
	args() []string
	validate() error
	String() string
}

// Iterations stops the benchmark after a fixed number of passes.
type Iterations struct {
	Count int
}

func (t Iterations) args() []string { return []string{"-i", strconv.Itoa(t.Count)} }

func (t Iterations) validate() error {
	if t.Count < 1 {
		return fmt.Errorf("%w: iterations must be >= 1 (got %d)", ErrInvalidConfiguration, t.Count)
	}
	return nil
}

func (t Iterations) String() string { return fmt.Sprintf("%d iterations", t.Count) }

// Runtime stops the benchmark after a wall-clock duration.
type Runtime struct {
	Seconds float64
}

func (t Runtime) args() []string { return []string{"-r", formatFloat(t.Seconds)} }

func (t Runtime) validate() error {
	if math.IsNaN(t.Seconds) || math.IsInf(t.Seconds, 0) || t.Seconds <= 0 {
		return fmt.Errorf("%w: runtime must be a positive number of seconds (got %v)", ErrInvalidConfiguration, t.Seconds)
	}
	return nil
}

func (t Runtime) String() string { return formatFloat(t.Seconds) + "s" }

// Capabilities records optional features compiled into the executable.
type Capabilities struct {
	NUMA bool
}

// StreamConfig holds the benchmark parameters for one invocation.
type StreamConfig struct {
	// BinaryPath is the path to the STREAM executable.
	BinaryPath string

	// Threads is the number of benchmark worker threads.
	Threads int

	// ArraySize is the element count of each of the three arrays.
	ArraySize int64

	// Operation is the kernel to run.
	Operation Operation

	// Scalar is q in the scale and triad kernels.
	Scalar float64

	// Termination is Iterations or Runtime.
	Termination Termination

	// Instrumentation enables -p (hrperf timing).
	Instrumentation bool

	// Silent enables -q.
	Silent bool

	// CPUAffinity pins benchmark threads to these CPU indices, in order.
	CPUAffinity []int

	// NUMANodes binds allocations to these nodes. Dropped when the
	// executable was built without NUMA support.
	NUMANodes []int
}

// DefaultStreamConfig returns a StreamConfig with the benchmark's customary
// defaults: 4 threads, 100M elements, triad, scalar 3.0, 10 iterations, silent.
func DefaultStreamConfig(binaryPath string) *StreamConfig {
	return &StreamConfig{
		BinaryPath:  binaryPath,
		Threads:     4,
		ArraySize:   100_000_000,
		Operation:   OpTriad,
		Scalar:      3.0,
		Termination: Iterations{Count: 10},
		Silent:      true,
	}
}

// SetRuntime switches to duration mode, clearing iteration mode.
func (c *StreamConfig) SetRuntime(seconds float64) {
	c.Termination = Runtime{Seconds: seconds}
}

// SetIterations switches to iteration mode, clearing duration mode.
func (c *StreamConfig) SetIterations(n int) {
	c.Termination = Iterations{Count: n}
}

// EnableInstrumentation toggles -p.
func (c *StreamConfig) EnableInstrumentation(enable bool) {
	c.Instrumentation = enable
}

// SetSilent toggles -q.
func (c *StreamConfig) SetSilent(silent bool) {
	c.Silent = silent
}

// SetCPUAffinity replaces the CPU affinity list. A nil or empty list clears it.
func (c *StreamConfig) SetCPUAffinity(cpus []int) {
	c.CPUAffinity = slices.Clone(cpus)
}

// SetNUMANodes replaces the NUMA node list. A nil or empty list clears it.
func (c *StreamConfig) SetNUMANodes(nodes []int) {
	c.NUMANodes = slices.Clone(nodes)
}

// Clone returns a deep copy, so later mutation does not reach a running child.
func (c *StreamConfig) Clone() *StreamConfig {
	out := *c
	out.CPUAffinity = slices.Clone(c.CPUAffinity)
	out.NUMANodes = slices.Clone(c.NUMANodes)
	return &out
}

// Validate checks the parameter invariants.
func (c *StreamConfig) Validate() error {
	if c.Threads < 1 {
		return fmt.Errorf("%w: threads must be >= 1 (got %d)", ErrInvalidConfiguration, c.Threads)
	}
	if c.ArraySize < 1 {
		return fmt.Errorf("%w: array size must be >= 1 (got %d)", ErrInvalidConfiguration, c.ArraySize)
	}
	if !c.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidConfiguration, c.Operation)
	}
	if math.IsNaN(c.Scalar) || math.IsInf(c.Scalar, 0) {
		return fmt.Errorf("%w: scalar must be finite (got %v)", ErrInvalidConfiguration, c.Scalar)
	}
	if c.Termination == nil {
		return fmt.Errorf("%w: no termination mode set", ErrInvalidConfiguration)
	}
	if err := c.Termination.validate(); err != nil {
		return err
	}
	for _, cpu := range c.CPUAffinity {
		if cpu < 0 {
			return fmt.Errorf("%w: negative CPU index %d", ErrInvalidConfiguration, cpu)
		}
	}
	for _, node := range c.NUMANodes {
		if node < 0 {
			return fmt.Errorf("%w: negative NUMA node %d", ErrInvalidConfiguration, node)
		}
	}
	return nil
}

// BuildArgs maps a configuration and probed capabilities to the benchmark's
// argument vector. The same inputs always produce the same vector.
// Requests that cannot be honored are dropped and described in warnings.
func BuildArgs(cfg *StreamConfig, caps Capabilities) (args []string, warnings []string) {
	args = []string{
		"-n", strconv.Itoa(cfg.Threads),
		"-s", strconv.FormatInt(cfg.ArraySize, 10),
		"-o", string(cfg.Operation),
		"-c", formatFloat(cfg.Scalar),
	}

	term := cfg.Termination
	if term == nil {
		term = Iterations{Count: 10}
	}
	args = append(args, term.args()...)

	if cfg.Instrumentation {
		args = append(args, "-p")
	}

	if cfg.Silent {
		args = append(args, "-q")
	}

	if len(cfg.CPUAffinity) > 0 {
		args = append(args, "-a", joinInts(cfg.CPUAffinity))
	}

	if len(cfg.NUMANodes) > 0 {
		if caps.NUMA {
			args = append(args, "-m", joinInts(cfg.NUMANodes))
		} else {
			warnings = append(warnings, fmt.Sprintf(
				"NUMA nodes %s requested but %s was built without NUMA support; ignoring",
				joinInts(cfg.NUMANodes), cfg.BinaryPath))
		}
	}

	return args, warnings
}

var _ Runner = (*StreamRunner)(nil)

// StreamRunner implements Runner for the STREAM benchmark.
type StreamRunner struct {
	config *StreamConfig
	caps   Capabilities
	logger *slog.Logger
}

// NewStreamRunner creates a runner for a snapshot of cfg.
func NewStreamRunner(cfg *StreamConfig, caps Capabilities, logger *slog.Logger) *StreamRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamRunner{
		config: cfg.Clone(),
		caps:   caps,
		logger: logger,
	}
}

// Name returns "stream".
func (r *StreamRunner) Name() string {
	return "stream"
}

// BuildCommand creates an exec.Cmd for the benchmark with all configured options.
func (r *StreamRunner) BuildCommand(ctx context.Context) (*exec.Cmd, error) {
	args := r.buildArgs()
	return exec.CommandContext(ctx, r.config.BinaryPath, args...), nil
}

// buildArgs builds the argument vector and reports dropped requests.
func (r *StreamRunner) buildArgs() []string {
	args, warnings := BuildArgs(r.config, r.caps)
	for _, w := range warnings {
		r.logger.Warn("numa_request_dropped", "reason", w)
	}
	return args
}

// Argv returns the full command line, executable first.
func (r *StreamRunner) Argv() []string {
	return append([]string{r.config.BinaryPath}, r.buildArgs()...)
}

// Config returns the runner's configuration snapshot.
func (r *StreamRunner) Config() *StreamConfig {
	return r.config
}

// CommandString returns the command that would be executed (for debugging).
func (r *StreamRunner) CommandString() string {
	return strings.Join(r.Argv(), " ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
