package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// intList is a flag type for CPU and NUMA node lists: "0,2,4" or "0-3".
type intList []int

func (l *intList) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, len(*l))
	for i, v := range *l {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (l *intList) Set(value string) error {
	vals, err := ParseIntList(value)
	if err != nil {
		return err
	}
	*l = vals
	return nil
}

// ParseIntList parses a comma-separated list of non-negative integers and
// inclusive ranges. Order is preserved; an empty string yields nil.
func ParseIntList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			v, err := parseIndex(part)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			continue
		}

		start, err := parseIndex(lo)
		if err != nil {
			return nil, err
		}
		end, err := parseIndex(hi)
		if err != nil {
			return nil, err
		}
		if end < start {
			return nil, fmt.Errorf("invalid range %q", part)
		}
		for v := start; v <= end; v++ {
			out = append(out, v)
		}
	}
	return out, nil
}

func parseIndex(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("index %d must be >= 0", v)
	}
	return v, nil
}

// ParseFlags parses the process command line and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(flag.CommandLine.Name(), os.Args[1:], os.Stderr)
}

// ParseArgs parses args into a Config. Usage and parse errors go to output.
func ParseArgs(name string, args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	var cpus, numa intList

	// Custom usage message
	fs.Usage = func() {
		fmt.Fprintf(output, `go-stream-pressure - supervised STREAM memory-bandwidth benchmark

Usage:
  go-stream-pressure [flags]

Benchmark:
`)
		printFlagCategory(fs, output, []string{"stream", "source-dir", "threads", "size", "op", "scalar", "iterations", "runtime", "instrument", "quiet"})

		fmt.Fprintf(output, "\nPlacement:\n")
		printFlagCategory(fs, output, []string{"cpus", "numa"})

		fmt.Fprintf(output, "\nRun Control:\n")
		printFlagCategory(fs, output, []string{"blocking", "duration", "sample-interval", "grace"})

		fmt.Fprintf(output, "\nObservability:\n")
		printFlagCategory(fs, output, []string{"metrics", "textfile", "tui", "v", "log-format"})

		fmt.Fprintf(output, "\nDiagnostics:\n")
		printFlagCategory(fs, output, []string{"print-cmd", "check", "skip-preflight"})

		fmt.Fprintf(output, `
Flag Convention:
  Single-dash flags (-threads, -cpus) are normal options.
  Double-dash flags (--print-cmd, --check) are diagnostic modes.

Examples:
  # 30 second triad run pinned to the first four cores
  go-stream-pressure -runtime 30s -cpus 0-3

  # Background run with a live dashboard, stopped after one minute
  go-stream-pressure -runtime 10m -duration 1m -tui

  # Show the command line that would be executed
  go-stream-pressure --print-cmd -op copy -numa 0

`)
	}

	// Benchmark
	fs.StringVar(&cfg.StreamPath, "stream", cfg.StreamPath, "Path to the STREAM executable (bare names are searched in PATH)")
	fs.StringVar(&cfg.SourceDir, "source-dir", cfg.SourceDir, "Rebuild the executable with make in this directory when it is missing")
	fs.IntVar(&cfg.Threads, "threads", cfg.Threads, "Benchmark worker threads")
	fs.Int64Var(&cfg.ArraySize, "size", cfg.ArraySize, "Elements per array")
	fs.StringVar(&cfg.Operation, "op", cfg.Operation, `Kernel: "copy", "scale", "add", "triad"`)
	fs.Float64Var(&cfg.Scalar, "scalar", cfg.Scalar, "Scalar for scale and triad")
	fs.IntVar(&cfg.Iterations, "iterations", cfg.Iterations, "Passes to run (ignored when -runtime is set)")
	fs.DurationVar(&cfg.Runtime, "runtime", cfg.Runtime, "Run for this long instead of a fixed number of iterations")
	fs.BoolVar(&cfg.Instrumentation, "instrument", cfg.Instrumentation, "Enable benchmark hrperf instrumentation (-p)")
	fs.BoolVar(&cfg.Quiet, "quiet", cfg.Quiet, "Suppress benchmark output (-q)")

	// Placement
	fs.Var(&cpus, "cpus", "CPU affinity list, e.g. 0,2 or 0-3")
	fs.Var(&numa, "numa", "NUMA node list (dropped if the executable lacks NUMA support)")

	// Run control
	fs.BoolVar(&cfg.Blocking, "blocking", cfg.Blocking, "Wait for the benchmark in the foreground instead of monitoring it")
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "Stop the benchmark after this long (0 = until it exits)")
	fs.DurationVar(&cfg.SampleInterval, "sample-interval", cfg.SampleInterval, "Resource sampling interval")
	fs.DurationVar(&cfg.GracePeriod, "grace", cfg.GracePeriod, "Wait after SIGTERM before SIGKILL")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.StringVar(&cfg.TextfilePath, "textfile", cfg.TextfilePath, "Write final metrics in Prometheus text format to this file")
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)

	// Diagnostics (double-dash convention)
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the benchmark command and exit")
	fs.BoolVar(&cfg.Check, "check", cfg.Check, "Validate config and run one short iteration")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	// Parse
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	cfg.CPUs = cpus
	cfg.NUMANodes = numa

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" && f.DefValue != "[]" {
					fmt.Fprintf(w, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(w)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	getter, ok := f.Value.(flag.Getter)
	if !ok {
		return "list"
	}

	switch getter.Get().(type) {
	case bool:
		return ""
	case time.Duration:
		return "duration"
	case int, int64, uint, uint64:
		return "int"
	case float64:
		return "float"
	default:
		return "string"
	}
}
