package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-stream-pressure/internal/logging"
	"github.com/randomizedcoder/go-stream-pressure/internal/process"
	"github.com/randomizedcoder/go-stream-pressure/internal/sampler"
)

const (
	// DefaultPollInterval is how often the monitor samples a running child.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultGracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	DefaultGracePeriod = 2 * time.Second

	// DefaultJoinTimeout bounds the wait for reaping after SIGKILL and for
	// the monitor goroutine to finish.
	DefaultJoinTimeout = time.Second
)

// ErrAlreadyRunning is returned by Start and Run while a child is alive.
var ErrAlreadyRunning = errors.New("benchmark already running")

// Callbacks contains optional callback functions for supervisor events.
// They run on supervisor goroutines and must not call Stop or Close.
type Callbacks struct {
	// OnStateChange is called when the supervisor state changes.
	OnStateChange func(oldState, newState State)

	// OnStart is called when a benchmark process starts.
	OnStart func(pid int)

	// OnExit is called when a benchmark process has been reaped.
	OnExit func(exitCode int, uptime time.Duration)

	// OnSample is called by the monitor on every poll tick while the
	// child is alive. Background runs only.
	OnSample func(snap sampler.Snapshot)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	// Stream is copied; later changes to the caller's value have no effect.
	Stream *process.StreamConfig

	Logger    *slog.Logger
	Callbacks Callbacks

	// Guard is the lifecycle registry to join. Nil means DefaultGuard.
	Guard *Guard

	// Sampler reads resource usage. Nil means sampler.New().
	Sampler *sampler.Sampler

	// Prober caches capability probes. Nil creates a private one.
	Prober *process.Prober

	// Stdout and Stderr receive the benchmark's output when Silent is false.
	// Nil means os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// Verbose logs every benchmark stderr line, not only warnings.
	Verbose bool

	PollInterval time.Duration
	GracePeriod  time.Duration
	JoinTimeout  time.Duration
}

// handle is one spawned child. exitCode and endTime are written by the
// waiter before exited is closed.
type handle struct {
	cmd       *exec.Cmd
	pid       int
	startTime time.Time
	stdout    *bytes.Buffer
	stderr    *logging.StderrHandler

	exited   chan struct{}
	exitCode int
	endTime  time.Time

	stopReq     chan struct{}
	stopOnce    sync.Once
	monitorDone chan struct{}
}

func (h *handle) hasExited() bool {
	select {
	case <-h.exited:
		return true
	default:
		return false
	}
}

func (h *handle) requestStop() {
	h.stopOnce.Do(func() { close(h.stopReq) })
}

func (h *handle) stopRequested() bool {
	select {
	case <-h.stopReq:
		return true
	default:
		return false
	}
}

// Supervisor manages the lifecycle of a single benchmark process.
// At most one child is alive per Supervisor. All methods are safe for
// concurrent use.
type Supervisor struct {
	logger    *slog.Logger
	callbacks Callbacks
	sampler   *sampler.Sampler
	prober    *process.Prober
	stdout    io.Writer
	stderr    io.Writer
	verbose   bool

	pollInterval time.Duration
	gracePeriod  time.Duration
	joinTimeout  time.Duration

	guard *Guard

	// regMu guards deregister, which is non-nil while a child is alive.
	regMu      sync.Mutex
	deregister func()

	// opMu serializes spawn, Stop and config mutation.
	opMu sync.Mutex
	cfg  *process.StreamConfig

	// stateMu guards state, current and lastExit. Never held across a wait.
	stateMu  sync.RWMutex
	state    State
	current  *handle
	lastExit int
}

// New creates a Supervisor. The executable is resolved and the stream
// configuration validated; nothing is spawned.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Stream == nil {
		return nil, fmt.Errorf("%w: no stream configuration", process.ErrInvalidConfiguration)
	}

	stream := cfg.Stream.Clone()
	path, err := process.ResolveExecutable(stream.BinaryPath)
	if err != nil {
		return nil, err
	}
	stream.BinaryPath = path
	if err := stream.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{
		logger:       logger,
		callbacks:    cfg.Callbacks,
		sampler:      cfg.Sampler,
		prober:       cfg.Prober,
		stdout:       cfg.Stdout,
		stderr:       cfg.Stderr,
		verbose:      cfg.Verbose,
		pollInterval: cfg.PollInterval,
		gracePeriod:  cfg.GracePeriod,
		joinTimeout:  cfg.JoinTimeout,
		guard:        cfg.Guard,
		cfg:          stream,
		state:        StateNotStarted,
	}
	if s.sampler == nil {
		s.sampler = sampler.New()
	}
	if s.prober == nil {
		s.prober = process.NewProber(process.DefaultProbeTimeout, logger)
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}
	if s.stderr == nil {
		s.stderr = os.Stderr
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.gracePeriod <= 0 {
		s.gracePeriod = DefaultGracePeriod
	}
	if s.joinTimeout <= 0 {
		s.joinTimeout = DefaultJoinTimeout
	}

	if s.guard == nil {
		s.guard = DefaultGuard
	}

	return s, nil
}

// Run starts the benchmark and blocks until it exits.
//
// A non-zero exit is not an error; it is reported in Result.ExitCode with
// the captured stderr. Cancelling ctx terminates the process group, first
// with SIGTERM and then SIGKILL after the grace period.
func (s *Supervisor) Run(ctx context.Context) (*process.Result, error) {
	h, err := s.spawn(ctx, true)
	if err != nil {
		return nil, err
	}

	<-h.exited

	result := &process.Result{
		PID:       h.pid,
		ExitCode:  h.exitCode,
		StartTime: h.startTime,
		EndTime:   h.endTime,
		Stdout:    h.stdout.String(),
		Stderr:    h.stderr.Text(),

		Diagnostics: h.stderr.CountErrors(),
	}

	s.logger.Info("benchmark_exited",
		"pid", h.pid,
		"exit_code", h.exitCode,
		"uptime", result.Duration().String(),
		"stderr_lines", h.stderr.LineCount(),
	)

	return result, nil
}

// Start spawns the benchmark in the background and returns once it is running.
// ctx only bounds the capability probe and spawn; use Stop to end the run.
// A ctx that is already done spawns nothing and returns its error.
func (s *Supervisor) Start(ctx context.Context) error {
	_, err := s.spawn(ctx, false)
	return err
}

func (s *Supervisor) spawn(ctx context.Context, blocking bool) (*handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if prev := s.lastHandle(); prev != nil {
		if !prev.hasExited() {
			s.logger.Warn("benchmark_already_running", "pid", prev.pid)
			return nil, ErrAlreadyRunning
		}
		s.joinMonitor(prev)
	}

	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	cfg := s.cfg.Clone()
	caps := s.prober.Capabilities(ctx, cfg.BinaryPath)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runner := process.NewStreamRunner(cfg, caps, s.logger)

	runCtx := ctx
	if !blocking {
		runCtx = context.WithoutCancel(ctx)
	}

	var builder process.Runner = runner
	cmd, err := builder.BuildCommand(runCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", process.ErrProcessSpawn, err)
	}

	var forwardOut, forwardErr io.Writer
	if !cfg.Silent {
		forwardOut, forwardErr = s.stdout, s.stderr
	}

	h := &handle{
		cmd:         cmd,
		stderr:      logging.NewStderrHandler(s.logger, s.verbose, forwardErr),
		exited:      make(chan struct{}),
		stopReq:     make(chan struct{}),
		monitorDone: make(chan struct{}),
	}

	// Blocking runs hand stdout back in the Result; background runs only forward it.
	if blocking {
		h.stdout = &bytes.Buffer{}
		if forwardOut != nil {
			cmd.Stdout = io.MultiWriter(h.stdout, forwardOut)
		} else {
			cmd.Stdout = h.stdout
		}
	} else {
		cmd.Stdout = forwardOut
	}
	cmd.Stderr = h.stderr

	setSysProcAttr(cmd)
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = s.gracePeriod

	s.logger.Debug("benchmark_spawning",
		"builder", builder.Name(),
		"command", runner.CommandString(),
	)

	s.join()
	if err := cmd.Start(); err != nil {
		s.leave()
		s.logger.Error("failed_to_start_process",
			"path", cfg.BinaryPath,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %s: %v", process.ErrProcessSpawn, cfg.BinaryPath, err)
	}

	h.pid = cmd.Process.Pid
	h.startTime = time.Now()
	h.stderr.SetPID(h.pid)

	s.stateMu.Lock()
	s.current = h
	s.stateMu.Unlock()
	s.setState(StateRunning)

	s.logger.Info("benchmark_started",
		"pid", h.pid,
		"blocking", blocking,
		"threads", cfg.Threads,
		"array_size", cfg.ArraySize,
		"operation", string(cfg.Operation),
		"termination", cfg.Termination.String(),
		"numa", caps.NUMA,
	)

	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(h.pid)
	}

	go s.wait(h)
	if blocking {
		close(h.monitorDone)
	} else {
		go s.monitor(h)
	}

	return h, nil
}

// wait reaps the child. It is the only caller of cmd.Wait.
func (s *Supervisor) wait(h *handle) {
	err := h.cmd.Wait()
	h.endTime = time.Now()
	h.exitCode = extractExitCode(err)
	h.stderr.Flush()
	s.sampler.Forget(h.pid)

	// State settles before exited closes.
	s.stateMu.Lock()
	s.lastExit = h.exitCode
	oldState := s.state
	changed := s.current == h && oldState != StateExited
	if changed {
		s.state = StateExited
	}
	s.stateMu.Unlock()

	if changed && s.callbacks.OnStateChange != nil {
		s.callbacks.OnStateChange(oldState, StateExited)
	}

	s.leave()
	close(h.exited)

	uptime := h.endTime.Sub(h.startTime)
	s.logger.Debug("benchmark_reaped",
		"pid", h.pid,
		"exit_code", h.exitCode,
		"uptime", uptime.String(),
	)

	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(h.exitCode, uptime)
	}
}

// monitor watches a background run until it exits or a stop is requested.
func (s *Supervisor) monitor(h *handle) {
	defer close(h.monitorDone)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopReq:
			return
		case <-h.exited:
			if !h.stopRequested() {
				s.reportExit(h)
			}
			return
		case <-ticker.C:
			if s.callbacks.OnSample == nil || h.hasExited() {
				continue
			}
			if snap, ok := s.sampler.Sample(h.pid); ok {
				s.callbacks.OnSample(snap)
			}
		}
	}
}

// reportExit logs a self-exit of a background run.
func (s *Supervisor) reportExit(h *handle) {
	uptime := h.endTime.Sub(h.startTime).String()

	if h.exitCode == 0 {
		s.logger.Info("benchmark_completed",
			"pid", h.pid,
			"uptime", uptime,
		)
		return
	}

	if text := h.stderr.Text(); text != "" {
		s.logger.Error("benchmark_failed",
			"pid", h.pid,
			"exit_code", h.exitCode,
			"uptime", uptime,
			"stderr", text,
		)
		return
	}

	s.logger.Error("benchmark_failed",
		"pid", h.pid,
		"exit_code", h.exitCode,
		"uptime", uptime,
	)
}

// Stop terminates the running benchmark and waits until it has been reaped
// and its monitor has finished. It is a no-op when nothing is running and
// safe to call repeatedly.
func (s *Supervisor) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	h := s.lastHandle()
	if h == nil {
		return
	}
	if h.hasExited() {
		s.joinMonitor(h)
		return
	}

	s.markStopping(h)
	h.requestStop()

	s.logger.Debug("benchmark_stopping",
		"pid", h.pid,
		"grace_period", s.gracePeriod.String(),
	)
	if err := signalGroup(h.pid, unix.SIGTERM); err != nil {
		s.logger.Debug("sigterm_failed", "pid", h.pid, "error", err)
	}

	reaped := true
	select {
	case <-h.exited:
	case <-time.After(s.gracePeriod):
		s.logger.Warn("force_killing_process",
			"pid", h.pid,
			"grace_period", s.gracePeriod.String(),
		)
		if err := signalGroup(h.pid, unix.SIGKILL); err != nil {
			s.logger.Debug("sigkill_failed", "pid", h.pid, "error", err)
		}
		select {
		case <-h.exited:
		case <-time.After(s.joinTimeout):
			reaped = false
		}
	}

	s.joinMonitor(h)

	// The waiter moves the state to exited once the child is reaped.
	if !reaped {
		s.logger.Error("benchmark_not_reaped",
			"pid", h.pid,
			"timeout", s.joinTimeout.String(),
			"state", s.State().String(),
		)
		return
	}

	s.logger.Info("benchmark_stopped",
		"pid", h.pid,
		"exit_code", h.exitCode,
	)
}

// joinMonitor waits for the monitor goroutine of h, bounded by the join timeout.
func (s *Supervisor) joinMonitor(h *handle) {
	select {
	case <-h.monitorDone:
	case <-time.After(s.joinTimeout):
		s.logger.Warn("monitor_join_timeout",
			"pid", h.pid,
			"timeout", s.joinTimeout.String(),
		)
	}
}

// Close stops any running benchmark. A child that could not be reaped
// keeps its place in the lifecycle guard.
func (s *Supervisor) Close() {
	s.Stop()
}

// join registers with the guard for the lifetime of the next child.
func (s *Supervisor) join() {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	if s.deregister == nil {
		s.deregister = s.guard.Register(s)
	}
}

// leave removes the supervisor from the guard.
func (s *Supervisor) leave() {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	if s.deregister != nil {
		s.deregister()
		s.deregister = nil
	}
}

// IsRunning reports whether a child is alive. It never blocks behind Stop.
func (s *Supervisor) IsRunning() bool {
	h := s.lastHandle()
	return h != nil && !h.hasExited()
}

// ResourceUsage returns a fresh snapshot of the child's resource usage,
// or nil when nothing is running or the process vanished mid-read.
func (s *Supervisor) ResourceUsage() *sampler.Snapshot {
	h := s.lastHandle()
	if h == nil || h.hasExited() {
		return nil
	}
	snap, ok := s.sampler.Sample(h.pid)
	if !ok {
		return nil
	}
	return &snap
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(oldState, newState)
	}
}

// markStopping moves a running h to stopping. A child the waiter has
// already marked exited is left alone.
func (s *Supervisor) markStopping(h *handle) {
	s.stateMu.Lock()
	oldState := s.state
	changed := s.current == h && oldState == StateRunning
	if changed {
		s.state = StateStopping
	}
	s.stateMu.Unlock()

	if changed && s.callbacks.OnStateChange != nil {
		s.callbacks.OnStateChange(oldState, StateStopping)
	}
}

func (s *Supervisor) lastHandle() *handle {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.current
}

// PID returns the pid of the running child, or 0.
func (s *Supervisor) PID() int {
	if h := s.lastHandle(); h != nil && !h.hasExited() {
		return h.pid
	}
	return 0
}

// Uptime returns the current uptime if running, or 0 if not.
func (s *Supervisor) Uptime() time.Duration {
	h := s.lastHandle()
	if h == nil || h.hasExited() {
		return 0
	}
	return time.Since(h.startTime)
}

// Diagnostics returns per-message counts of known benchmark errors seen on
// the most recent child's stderr, or nil before the first start.
func (s *Supervisor) Diagnostics() map[string]int {
	h := s.lastHandle()
	if h == nil {
		return nil
	}
	return h.stderr.CountErrors()
}

// LastExitCode returns the exit code of the most recent reaped child.
// ok is false until a child has exited.
func (s *Supervisor) LastExitCode() (code int, ok bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.current == nil || !s.current.hasExited() {
		return 0, false
	}
	return s.lastExit, true
}

// BuildCommand returns the argv the next start would execute, executable first.
func (s *Supervisor) BuildCommand() ([]string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	caps := s.prober.Capabilities(context.Background(), s.cfg.BinaryPath)
	return process.NewStreamRunner(s.cfg, caps, s.logger).Argv(), nil
}

// Config returns a copy of the configuration the next start will use.
func (s *Supervisor) Config() *process.StreamConfig {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.cfg.Clone()
}

// SetRuntime switches the next run to duration mode.
func (s *Supervisor) SetRuntime(seconds float64) {
	s.mutate(func(c *process.StreamConfig) { c.SetRuntime(seconds) })
}

// SetIterations switches the next run to iteration mode.
func (s *Supervisor) SetIterations(n int) {
	s.mutate(func(c *process.StreamConfig) { c.SetIterations(n) })
}

// EnableInstrumentation toggles -p for the next run.
func (s *Supervisor) EnableInstrumentation(enable bool) {
	s.mutate(func(c *process.StreamConfig) { c.EnableInstrumentation(enable) })
}

// SetSilent toggles -q for the next run.
func (s *Supervisor) SetSilent(silent bool) {
	s.mutate(func(c *process.StreamConfig) { c.SetSilent(silent) })
}

// SetCPUAffinity replaces the CPU list for the next run.
func (s *Supervisor) SetCPUAffinity(cpus []int) {
	s.mutate(func(c *process.StreamConfig) { c.SetCPUAffinity(cpus) })
}

// SetNUMANodes replaces the NUMA node list for the next run.
func (s *Supervisor) SetNUMANodes(nodes []int) {
	s.mutate(func(c *process.StreamConfig) { c.SetNUMANodes(nodes) })
}

func (s *Supervisor) mutate(fn func(*process.StreamConfig)) {
	s.opMu.Lock()
	fn(s.cfg)
	s.opMu.Unlock()
}
