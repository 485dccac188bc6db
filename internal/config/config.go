// Package config provides configuration management for go-stream-pressure.
package config

import (
	"time"

	"github.com/randomizedcoder/go-stream-pressure/internal/process"
)

// Config holds all configuration options for the orchestrator.
type Config struct {
	// Benchmark
	StreamPath      string        `json:"stream_path"`
	SourceDir       string        `json:"source_dir"` // rebuild with make when the binary is missing
	Threads         int           `json:"threads"`
	ArraySize       int64         `json:"array_size"`
	Operation       string        `json:"operation"` // copy, scale, add, triad
	Scalar          float64       `json:"scalar"`
	Iterations      int           `json:"iterations"`
	Runtime         time.Duration `json:"runtime"` // > 0 selects duration mode
	Instrumentation bool          `json:"instrumentation"`
	Quiet           bool          `json:"quiet"`
	CPUs            []int         `json:"cpus"`
	NUMANodes       []int         `json:"numa_nodes"`

	// Run control
	Blocking       bool          `json:"blocking"`
	Duration       time.Duration `json:"duration"` // 0 = until the benchmark exits
	SampleInterval time.Duration `json:"sample_interval"`
	GracePeriod    time.Duration `json:"grace_period"`

	// Observability
	MetricsAddr  string `json:"metrics_addr"` // empty = disabled
	TextfilePath string `json:"textfile_path"`
	TUIEnabled   bool   `json:"tui_enabled"`
	Verbose      bool   `json:"verbose"`
	LogFormat    string `json:"log_format"` // json, text

	// Diagnostic modes
	PrintCmd      bool `json:"print_cmd"`
	Check         bool `json:"check"`
	SkipPreflight bool `json:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Benchmark
		StreamPath: process.DefaultBinaryName,
		Threads:    4,
		ArraySize:  100_000_000,
		Operation:  string(process.OpTriad),
		Scalar:     3.0,
		Iterations: 10,
		Quiet:      true,

		// Run control
		SampleInterval: time.Second,
		GracePeriod:    2 * time.Second,

		// Observability
		LogFormat: "json",
	}
}

// ToStreamConfig converts the CLI view into the benchmark parameters.
// The operation must already have passed Validate.
func (c *Config) ToStreamConfig() *process.StreamConfig {
	sc := process.DefaultStreamConfig(c.StreamPath)
	sc.Threads = c.Threads
	sc.ArraySize = c.ArraySize
	sc.Operation = process.Operation(c.Operation)
	sc.Scalar = c.Scalar

	if c.Runtime > 0 {
		sc.SetRuntime(c.Runtime.Seconds())
	} else {
		sc.SetIterations(c.Iterations)
	}

	sc.EnableInstrumentation(c.Instrumentation)
	sc.SetSilent(c.Quiet)
	sc.SetCPUAffinity(c.CPUs)
	sc.SetNUMANodes(c.NUMANodes)
	return sc
}

// EstimatedMemoryBytes is the footprint of the three benchmark arrays of doubles.
func (c *Config) EstimatedMemoryBytes() uint64 {
	if c.ArraySize <= 0 {
		return 0
	}
	return uint64(c.ArraySize) * 3 * 8
}
