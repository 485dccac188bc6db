// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/prometheus/procfs"

	"github.com/randomizedcoder/go-stream-pressure/internal/process"
)

// memoryWarnRatio flags runs that would use most of the available memory.
const memoryWarnRatio = 0.8

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Options describes the run being checked.
type Options struct {
	StreamPath  string
	Threads     int
	CPUs        []int
	NUMANodes   []int
	MemoryBytes uint64

	// NUMACapable is the probed capability; nil skips the NUMA check.
	NUMACapable *bool

	// ProcMount overrides /proc (tests).
	ProcMount string
}

// host abstracts what the checks read from the machine.
type host struct {
	onlineCPUs   func() ([]int, error)
	memAvailable func() (uint64, error)
}

func defaultHost(procMount string) host {
	return host{
		onlineCPUs: onlineCPUs,
		memAvailable: func() (uint64, error) {
			return memAvailable(procMount)
		},
	}
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	return runAll(opts, defaultHost(opts.ProcMount))
}

func runAll(opts Options, h host) *Result {
	result := &Result{
		Checks: make([]Check, 0, 5),
		Passed: true,
	}

	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkExecutable(opts.StreamPath))

	cpus, cpuErr := h.onlineCPUs()
	add(checkCPUAffinity(opts.CPUs, cpus, cpuErr))
	add(checkThreads(opts.Threads, opts.CPUs, cpus, cpuErr))

	if opts.NUMACapable != nil {
		add(checkNUMA(opts.NUMANodes, *opts.NUMACapable))
	}

	avail, memErr := h.memAvailable()
	add(checkMemory(opts.MemoryBytes, avail, memErr))

	return result
}

// checkExecutable verifies the benchmark binary resolves and is executable.
func checkExecutable(path string) Check {
	abs, err := process.ResolveExecutable(path)
	if err != nil {
		return Check{
			Name:    "stream_executable",
			Passed:  false,
			Message: err.Error(),
		}
	}
	return Check{
		Name:    "stream_executable",
		Passed:  true,
		Message: "found at " + abs,
	}
}

// checkCPUAffinity verifies every requested CPU is in the allowed set.
func checkCPUAffinity(requested, online []int, err error) Check {
	if len(requested) == 0 {
		return Check{
			Name:    "cpu_affinity",
			Passed:  true,
			Message: "not requested",
		}
	}
	if err != nil {
		return Check{
			Name:    "cpu_affinity",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to read CPU set: %v", err),
		}
	}

	var missing []string
	for _, cpu := range requested {
		if !slices.Contains(online, cpu) {
			missing = append(missing, fmt.Sprint(cpu))
		}
	}
	if len(missing) > 0 {
		return Check{
			Name:    "cpu_affinity",
			Passed:  false,
			Message: fmt.Sprintf("CPU %s not available to this process (have %d CPUs)", strings.Join(missing, ","), len(online)),
		}
	}
	return Check{
		Name:    "cpu_affinity",
		Passed:  true,
		Message: fmt.Sprintf("%d CPUs requested, all available", len(requested)),
	}
}

// checkThreads warns when threads oversubscribe the usable CPUs.
func checkThreads(threads int, requested, online []int, err error) Check {
	usable := len(online)
	if len(requested) > 0 {
		usable = len(requested)
	}
	if err != nil && len(requested) == 0 {
		return Check{
			Name:    "threads",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("%d threads (CPU count unknown)", threads),
		}
	}

	return Check{
		Name:     "threads",
		Required: threads,
		Actual:   usable,
		Passed:   true,
		Warning:  threads > usable,
	}
}

// checkNUMA warns when NUMA nodes are requested from a build without NUMA support.
func checkNUMA(nodes []int, capable bool) Check {
	switch {
	case len(nodes) == 0:
		return Check{
			Name:    "numa",
			Passed:  true,
			Message: fmt.Sprintf("not requested (executable support: %v)", capable),
		}
	case !capable:
		return Check{
			Name:    "numa",
			Passed:  true,
			Warning: true,
			Message: "nodes requested but the executable lacks NUMA support; they will be ignored",
		}
	default:
		return Check{
			Name:    "numa",
			Passed:  true,
			Message: fmt.Sprintf("%d nodes requested, supported", len(nodes)),
		}
	}
}

// checkMemory compares the array footprint with MemAvailable.
func checkMemory(need, avail uint64, err error) Check {
	if err != nil {
		return Check{
			Name:    "memory",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to read MemAvailable: %v", err),
		}
	}

	const mb = 1 << 20
	return Check{
		Name:     "memory",
		Required: int(need / mb),
		Actual:   int(avail / mb),
		Passed:   need <= avail,
		Warning:  float64(need) > memoryWarnRatio*float64(avail),
		Message:  fmt.Sprintf("%d MiB needed, %d MiB available", need/mb, avail/mb),
	}
}

// memAvailable reads MemAvailable in bytes via procfs.
func memAvailable(procMount string) (uint64, error) {
	fs, err := procfs.NewFS(orDefault(procMount))
	if err != nil {
		return 0, err
	}
	mi, err := fs.Meminfo()
	if err != nil {
		return 0, err
	}
	if mi.MemAvailable == nil {
		return 0, fmt.Errorf("MemAvailable not reported")
	}
	return *mi.MemAvailable * 1024, nil
}

func orDefault(mount string) string {
	if mount == "" {
		return procfs.DefaultMountPoint
	}
	return mount
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "stream_executable":
		return "build STREAM (make in the source dir) or pass -stream /path/to/stream, or -source-dir to rebuild"
	case "cpu_affinity":
		return "pick CPUs from `taskset -pc $$` or drop -cpus"
	case "memory":
		return "reduce -size (each element costs 24 bytes across the three arrays)"
	default:
		return "see documentation"
	}
}
