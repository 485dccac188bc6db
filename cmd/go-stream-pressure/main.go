// Package main provides the go-stream-pressure CLI entry point.
//
// go-stream-pressure runs the STREAM memory-bandwidth benchmark as a
// supervised child process, sampling its resource usage and exporting
// Prometheus metrics while it runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/randomizedcoder/go-stream-pressure/internal/config"
	"github.com/randomizedcoder/go-stream-pressure/internal/logging"
	"github.com/randomizedcoder/go-stream-pressure/internal/orchestrator"
	"github.com/randomizedcoder/go-stream-pressure/internal/process"
	"github.com/randomizedcoder/go-stream-pressure/internal/supervisor"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-stream-pressure
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// No benchmark may outlive the CLI, whichever way run returns.
	defer supervisor.DefaultGuard.Shutdown()

	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-stream-pressure %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	if cfg.Check {
		config.ApplyCheckMode(cfg)
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	// The dashboard owns the terminal; logs would corrupt it.
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, cfg.LogFormat, cfg.LogLevel())
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel(), cfg.Verbose)
	}
	logging.SetDefault(logger)

	if cfg.Check {
		logger.Info("check_mode_enabled",
			"array_size", cfg.ArraySize,
			"iterations", cfg.Iterations,
		)
	}

	if cfg.PrintCmd {
		printStreamCommand(cfg, logger)
		return 0
	}

	logger.Info("starting",
		"version", version,
		"stream", cfg.StreamPath,
		"threads", cfg.Threads,
		"array_size", cfg.ArraySize,
		"operation", cfg.Operation,
		"metrics_addr", cfg.MetricsAddr,
	)

	if !cfg.TUIEnabled {
		printBanner(cfg)
	}

	orch := orchestrator.New(cfg, logger, version)
	if err := orch.Run(context.Background()); err != nil {
		logger.Error("run_failed", "error", err)
		return 1
	}

	return 0
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	stream := cfg.ToStreamConfig()

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       go-stream-pressure                          ║")
	fmt.Println("║        Supervised STREAM Memory Bandwidth Benchmark               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Workload:    %s, %d threads, %d elements\n", cfg.Operation, cfg.Threads, cfg.ArraySize)
	fmt.Printf("  Memory:      %d MiB across three arrays\n", cfg.EstimatedMemoryBytes()>>20)
	fmt.Printf("  Until:       %s\n", stream.Termination)
	if len(cfg.CPUs) > 0 {
		fmt.Printf("  CPUs:        %s\n", joinInts(cfg.CPUs))
	}
	if len(cfg.NUMANodes) > 0 {
		fmt.Printf("  NUMA nodes:  %s\n", joinInts(cfg.NUMANodes))
	}
	if cfg.Duration > 0 {
		fmt.Printf("  Stop after:  %s\n", cfg.Duration)
	}
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}

// printStreamCommand prints the benchmark command that would be run.
// Capabilities are probed when the executable resolves; otherwise NUMA
// requests are shown as dropped.
func printStreamCommand(cfg *config.Config, logger *slog.Logger) {
	stream := cfg.ToStreamConfig()

	var caps process.Capabilities
	if path, err := process.ResolveExecutable(cfg.StreamPath); err == nil {
		stream.BinaryPath = path
		caps = process.NewProber(process.DefaultProbeTimeout, logger).Capabilities(context.Background(), path)
	} else {
		logger.Warn("executable_unresolved", "error", err)
	}

	runner := process.NewStreamRunner(stream, caps, logger)

	fmt.Println("# STREAM command that would be run:")
	fmt.Println()
	fmt.Println(runner.CommandString())
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
