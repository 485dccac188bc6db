// Package metrics provides Prometheus metrics for go-stream-pressure.
//
// The collector mirrors the supervised benchmark: lifecycle (running, runs,
// exit codes) and the resource samples taken while it runs. Metrics are
// exposed over HTTP by Server and can be written once at exit with
// WriteTextfile for the node_exporter textfile collector.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-stream-pressure/internal/sampler"
)

// Namespace prefixes every metric this package defines.
const Namespace = "stream_pressure"

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version     string
	Operation   string
	Termination string
	Threads     int
	ArraySize   int64
}

// Collector manages all Prometheus metrics for the benchmark.
type Collector struct {
	// --- Run Overview ---
	info      *prometheus.GaugeVec
	running   prometheus.Gauge
	pid       prometheus.Gauge
	arraySize prometheus.Gauge
	numa      prometheus.Gauge

	// --- Resource Usage ---
	cpuPercent   prometheus.Gauge
	rssBytes     prometheus.Gauge
	vmsBytes     prometheus.Gauge
	ioReadBytes  prometheus.Gauge
	ioWriteBytes prometheus.Gauge
	samplesTotal prometheus.Counter

	// --- Lifecycle ---
	startsTotal  prometheus.Counter
	exitsTotal   *prometheus.CounterVec
	lastExitCode prometheus.Gauge
	runDuration  prometheus.Histogram

	// For summary generation
	mu          sync.Mutex
	startTime   time.Time
	totalStarts int64
	exitCodes   map[int]int64
	peakRSS     uint64
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "info",
				Help:      "Information about the benchmark run (value always 1)",
			},
			[]string{"version", "operation", "termination", "threads"},
		),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "running",
			Help:      "1 while the benchmark process is alive",
		}),
		pid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pid",
			Help:      "PID of the running benchmark (0 when none)",
		}),
		arraySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "array_size_elements",
			Help:      "Configured elements per array",
		}),
		numa: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "numa_capable",
			Help:      "1 if the executable was built with NUMA support",
		}),

		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "cpu_percent",
			Help:      "Benchmark CPU utilization over the last sample interval (100 = one core)",
		}),
		rssBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_rss_bytes",
			Help:      "Benchmark resident set size",
		}),
		vmsBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_vms_bytes",
			Help:      "Benchmark virtual memory size",
		}),
		ioReadBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "io_read_bytes",
			Help:      "Bytes the benchmark has read from storage",
		}),
		ioWriteBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "io_write_bytes",
			Help:      "Bytes the benchmark has written to storage",
		}),
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "samples_total",
			Help:      "Resource samples taken",
		}),

		startsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "starts_total",
			Help:      "Benchmark processes started",
		}),
		exitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "exits_total",
				Help:      "Benchmark exits by result",
			},
			[]string{"result"}, // success, error, signal
		),
		lastExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_exit_code",
			Help:      "Exit code of the most recent run (signals are 128+n)",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of benchmark runs",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		}),

		startTime: time.Now(),
		exitCodes: make(map[int]int64),
	}

	registry.MustRegister(
		// Run Overview
		c.info,
		c.running,
		c.pid,
		c.arraySize,
		c.numa,

		// Resource Usage
		c.cpuPercent,
		c.rssBytes,
		c.vmsBytes,
		c.ioReadBytes,
		c.ioWriteBytes,
		c.samplesTotal,

		// Lifecycle
		c.startsTotal,
		c.exitsTotal,
		c.lastExitCode,
		c.runDuration,
	)

	c.info.WithLabelValues(cfg.Version, cfg.Operation, cfg.Termination, strconv.Itoa(cfg.Threads)).Set(1)
	c.arraySize.Set(float64(cfg.ArraySize))

	// Pre-create result series so they export as 0
	for _, result := range []string{"success", "error", "signal"} {
		c.exitsTotal.WithLabelValues(result)
	}

	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// RecordStart records a benchmark start.
func (c *Collector) RecordStart(pid int) {
	c.startsTotal.Inc()
	c.running.Set(1)
	c.pid.Set(float64(pid))

	c.mu.Lock()
	c.totalStarts++
	c.mu.Unlock()
}

// RecordExit records a process exit event.
func (c *Collector) RecordExit(exitCode int, uptime time.Duration) {
	c.exitsTotal.WithLabelValues(ExitCategory(exitCode)).Inc()
	c.lastExitCode.Set(float64(exitCode))
	c.runDuration.Observe(uptime.Seconds())
	c.running.Set(0)
	c.pid.Set(0)
	c.cpuPercent.Set(0)

	c.mu.Lock()
	c.exitCodes[exitCode]++
	c.mu.Unlock()
}

// RecordSample records a resource snapshot. IO gauges are left untouched
// when the counters were unavailable.
func (c *Collector) RecordSample(snap sampler.Snapshot) {
	c.samplesTotal.Inc()
	c.cpuPercent.Set(snap.CPUPercent)
	c.rssBytes.Set(float64(snap.MemoryRSSBytes))
	c.vmsBytes.Set(float64(snap.MemoryVMSBytes))
	if snap.IOReadBytes != nil {
		c.ioReadBytes.Set(float64(*snap.IOReadBytes))
	}
	if snap.IOWriteBytes != nil {
		c.ioWriteBytes.Set(float64(*snap.IOWriteBytes))
	}

	c.mu.Lock()
	c.peakRSS = max(c.peakRSS, snap.MemoryRSSBytes)
	c.mu.Unlock()
}

// SetNUMACapable records the probed NUMA capability.
func (c *Collector) SetNUMACapable(ok bool) {
	if ok {
		c.numa.Set(1)
	} else {
		c.numa.Set(0)
	}
}

// ExitCategory buckets an exit code for the exits_total result label.
func ExitCategory(exitCode int) string {
	switch {
	case exitCode == 0:
		return "success"
	case exitCode > 128:
		return "signal"
	default:
		return "error"
	}
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the lifecycle data for the exit summary.
type Summary struct {
	Duration    time.Duration
	TotalStarts int64
	ExitCodes   map[int]int64
	PeakRSS     uint64
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:    time.Since(c.startTime),
		TotalStarts: c.totalStarts,
		ExitCodes:   make(map[int]int64, len(c.exitCodes)),
		PeakRSS:     c.peakRSS,
	}
	for code, count := range c.exitCodes {
		s.ExitCodes[code] = count
	}
	return s
}

// TotalStarts returns the total number of benchmark starts.
func (c *Collector) TotalStarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalStarts
}
