// Package orchestrator runs one supervised benchmark for the CLI: preflight,
// the supervisor, the live monitoring loop, metrics and the exit summary.
package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-stream-pressure/internal/config"
	"github.com/randomizedcoder/go-stream-pressure/internal/metrics"
	"github.com/randomizedcoder/go-stream-pressure/internal/preflight"
	"github.com/randomizedcoder/go-stream-pressure/internal/process"
	"github.com/randomizedcoder/go-stream-pressure/internal/sampler"
	"github.com/randomizedcoder/go-stream-pressure/internal/stats"
	"github.com/randomizedcoder/go-stream-pressure/internal/supervisor"
	"github.com/randomizedcoder/go-stream-pressure/internal/tui"
)

const shutdownTimeout = 5 * time.Second

var (
	// ErrPreflightFailed is returned when a preflight check fails.
	ErrPreflightFailed = errors.New("preflight checks failed (use --skip-preflight to override)")

	// ErrBenchmarkFailed is returned when the benchmark exits non-zero on its own.
	ErrBenchmarkFailed = errors.New("benchmark failed")
)

// Orchestrator coordinates all components for one benchmark run.
type Orchestrator struct {
	config  *config.Config
	logger  *slog.Logger
	version string
	out     io.Writer
	guard   *supervisor.Guard

	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	usage         *stats.UsageTracker
	sampler       *sampler.Sampler
	prober        *process.Prober

	supervisor *supervisor.Supervisor
	program    *tea.Program
	exited     chan struct{}
	command    string
	startTime  time.Time

	mu         sync.Mutex
	lastPID    int
	lastUptime time.Duration
}

// New creates a new Orchestrator with the given configuration.
// cfg must already have passed config.Validate.
func New(cfg *config.Config, logger *slog.Logger, version string) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:     version,
		Operation:   cfg.Operation,
		Termination: cfg.ToStreamConfig().Termination.String(),
		Threads:     cfg.Threads,
		ArraySize:   cfg.ArraySize,
	}, registry)

	o := &Orchestrator{
		config:   cfg,
		logger:   logger,
		version:  version,
		out:      os.Stdout,
		guard:    supervisor.DefaultGuard,
		registry: registry,
		metrics:  collector,
		usage:    stats.NewUsageTracker(),
		sampler:  sampler.New(),
		prober:   process.NewProber(process.DefaultProbeTimeout, logger),
		exited:   make(chan struct{}, 1),
	}
	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, registry, logger)
	}
	return o
}

// Run executes the benchmark. It blocks until the benchmark exits, the
// duration limit elapses, or SIGINT/SIGTERM arrives.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	path, err := o.resolveExecutable(ctx)
	if err != nil {
		return err
	}

	caps := o.prober.Capabilities(ctx, path)
	o.metrics.SetNUMACapable(caps.NUMA)

	if !o.config.SkipPreflight {
		result := preflight.RunAll(preflight.Options{
			StreamPath:  path,
			Threads:     o.config.Threads,
			CPUs:        o.config.CPUs,
			NUMANodes:   o.config.NUMANodes,
			MemoryBytes: o.config.EstimatedMemoryBytes(),
			NUMACapable: &caps.NUMA,
		})
		preflight.PrintResults(o.out, result)
		if !result.Passed {
			return ErrPreflightFailed
		}
	}

	stream := o.config.ToStreamConfig()
	stream.BinaryPath = path

	sup, err := supervisor.New(supervisor.Config{
		Stream:       stream,
		Logger:       o.logger,
		Guard:        o.guard,
		Sampler:      o.sampler,
		Prober:       o.prober,
		Verbose:      o.config.Verbose,
		PollInterval: o.config.SampleInterval,
		GracePeriod:  o.config.GracePeriod,
		Callbacks: supervisor.Callbacks{
			OnStateChange: o.onStateChange,
			OnStart:       o.onStart,
			OnExit:        o.onExit,
		},
	})
	if err != nil {
		return err
	}
	o.supervisor = sup
	defer sup.Close()

	argv, err := sup.BuildCommand()
	if err != nil {
		return err
	}
	o.command = strings.Join(argv, " ")

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if o.config.Duration > 0 {
		var cancelDuration context.CancelFunc
		runCtx, cancelDuration = context.WithTimeout(runCtx, o.config.Duration)
		defer cancelDuration()
	}

	o.logger.Info("run_starting",
		"command", o.command,
		"blocking", o.config.Blocking,
		"numa_capable", caps.NUMA,
	)

	var stopped bool
	if o.config.Blocking {
		stopped, err = o.runBlocking(runCtx)
	} else {
		stopped, err = o.runBackground(runCtx)
	}
	if err != nil {
		o.shutdownMetricsServer()
		return err
	}

	o.shutdownMetricsServer()
	o.writeTextfile()
	o.printExitSummary(stopped)

	code, ok := sup.LastExitCode()
	if ok && code != 0 && !stopped {
		return fmt.Errorf("%w: exit code %d", ErrBenchmarkFailed, code)
	}
	return nil
}

// resolveExecutable locates the benchmark, rebuilding it from SourceDir
// when it is missing and a source directory is configured.
func (o *Orchestrator) resolveExecutable(ctx context.Context) (string, error) {
	path, err := process.ResolveExecutable(o.config.StreamPath)
	if err == nil || o.config.SourceDir == "" {
		return path, err
	}

	o.logger.Info("rebuilding_benchmark",
		"source_dir", o.config.SourceDir,
		"reason", err.Error(),
	)
	if buildErr := process.BuildExecutable(ctx, o.config.SourceDir); buildErr != nil {
		o.logger.Error("rebuild_failed",
			"source_dir", o.config.SourceDir,
			"error", buildErr,
		)
		return "", err
	}

	name := cmp.Or(o.config.StreamPath, process.DefaultBinaryName)
	if !strings.ContainsRune(name, filepath.Separator) {
		name = filepath.Join(o.config.SourceDir, name)
	}
	return process.ResolveExecutable(name)
}

// runBlocking runs the benchmark to completion in the foreground while a
// sampling goroutine feeds the monitoring loop.
func (o *Orchestrator) runBlocking(ctx context.Context) (stopped bool, err error) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.sampleLoop(done)
	}()

	result, err := o.supervisor.Run(ctx)
	close(done)
	wg.Wait()
	if err != nil {
		return false, err
	}

	if ctx.Err() != nil {
		o.logStop(ctx.Err())
		stopped = true
	}
	o.logger.Debug("benchmark_output",
		"stdout_bytes", len(result.Stdout),
		"stderr_bytes", len(result.Stderr),
	)
	return stopped, nil
}

// runBackground starts the benchmark and polls it until it exits or ctx ends.
func (o *Orchestrator) runBackground(ctx context.Context) (stopped bool, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if o.config.TUIEnabled {
		o.program = tea.NewProgram(o.newDashboard(), tea.WithAltScreen(), tea.WithContext(ctx))
	}

	if err := o.supervisor.Start(ctx); err != nil {
		return false, err
	}

	var tuiDone chan struct{}
	if o.program != nil {
		tuiDone = make(chan struct{})
		go func() {
			defer close(tuiDone)
			// Quitting the dashboard stops the run.
			defer cancel()
			if _, err := o.program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				o.logger.Warn("tui_failed", "error", err)
			}
		}()
	}

	ticker := time.NewTicker(o.config.SampleInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-o.exited:
			break loop
		case <-ctx.Done():
			o.logStop(ctx.Err())
			stopped = true
			o.supervisor.Stop()
			break loop
		case <-ticker.C:
			o.sample()
		}
	}

	if tuiDone != nil {
		tui.SendQuit(o.program)
		<-tuiDone
	}
	return stopped, nil
}

func (o *Orchestrator) newDashboard() tui.Model {
	return tui.New(tui.Config{
		Command:     o.command,
		Operation:   o.config.Operation,
		Threads:     o.config.Threads,
		ArraySize:   o.config.ArraySize,
		Termination: o.supervisor.Config().Termination.String(),
		Runtime:     o.config.Runtime,
		MetricsAddr: o.config.MetricsAddr,
		Process:     o.supervisor,
		Usage:       o.usage,
	})
}

// sampleLoop samples every SampleInterval until done is closed.
func (o *Orchestrator) sampleLoop(done <-chan struct{}) {
	ticker := time.NewTicker(o.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			o.sample()
		}
	}
}

// sample takes one resource snapshot and fans it out.
func (o *Orchestrator) sample() {
	snap := o.supervisor.ResourceUsage()
	if snap == nil {
		return
	}

	o.metrics.RecordSample(*snap)
	o.usage.Add(*snap)

	if o.program != nil {
		tui.SendSample(o.program, *snap)
		return
	}

	fields := snap.Fields()
	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, "pid", snap.PID)
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		attrs = append(attrs, k, fields[k])
	}
	o.logger.Info("resource_usage", attrs...)
}

func (o *Orchestrator) logStop(err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		o.logger.Info("duration_elapsed", "duration", o.config.Duration.String())
		return
	}
	o.logger.Info("stop_requested")
}

// Callback handlers

func (o *Orchestrator) onStateChange(oldState, newState supervisor.State) {
	o.logger.Debug("state_change",
		"from", oldState.String(),
		"to", newState.String(),
	)
}

func (o *Orchestrator) onStart(pid int) {
	o.metrics.RecordStart(pid)

	o.mu.Lock()
	o.lastPID = pid
	o.mu.Unlock()
}

func (o *Orchestrator) onExit(exitCode int, uptime time.Duration) {
	o.metrics.RecordExit(exitCode, uptime)

	o.mu.Lock()
	o.lastUptime = uptime
	o.mu.Unlock()

	tui.SendExit(o.program, exitCode, uptime)

	select {
	case o.exited <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) shutdownMetricsServer() {
	if o.metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := o.metricsServer.Shutdown(ctx); err != nil {
		o.logger.Warn("metrics_server_shutdown_error", "error", err)
	}
}

func (o *Orchestrator) writeTextfile() {
	if o.config.TextfilePath == "" {
		return
	}
	if err := metrics.WriteTextfile(o.registry, o.config.TextfilePath); err != nil {
		o.logger.Error("textfile_write_failed",
			"path", o.config.TextfilePath,
			"error", err,
		)
		return
	}
	o.logger.Info("textfile_written", "path", o.config.TextfilePath)
}

// printExitSummary prints a summary of the run.
func (o *Orchestrator) printExitSummary(stopped bool) {
	lifecycle := o.metrics.GenerateSummary()
	o.logger.Info("run_complete",
		"duration", lifecycle.Duration.String(),
		"starts", lifecycle.TotalStarts,
		"peak_rss_bytes", lifecycle.PeakRSS,
	)

	var usage *stats.UsageSummary
	if o.sampler.Available() {
		u := o.usage.Summary()
		usage = &u
	}

	code, exited := o.supervisor.LastExitCode()

	o.mu.Lock()
	pid, uptime := o.lastPID, o.lastUptime
	o.mu.Unlock()

	fmt.Fprint(o.out, stats.FormatExitSummary(usage, stats.SummaryConfig{
		Command:      o.command,
		PID:          pid,
		ExitCode:     code,
		Exited:       exited,
		Stopped:      stopped,
		Uptime:       uptime,
		Duration:     time.Since(o.startTime),
		MetricsAddr:  o.config.MetricsAddr,
		TextfilePath: o.config.TextfilePath,
		Diagnostics:  o.supervisor.Diagnostics(),
	}))
}

// Supervisor returns the supervisor of the current run, or nil before Run.
func (o *Orchestrator) Supervisor() *supervisor.Supervisor {
	return o.supervisor
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Registry returns the Prometheus registry the collector is registered with.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}
