// Package stats summarizes the resource samples of a benchmark run.
package stats

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-stream-pressure/internal/sampler"
)

// digestCompression bounds each digest to roughly 100 centroids.
const digestCompression = 100

// UsageTracker accumulates resource snapshots into percentile digests.
// It is safe for concurrent use.
type UsageTracker struct {
	mu sync.Mutex

	cpu *tdigest.TDigest
	rss *tdigest.TDigest

	samples int64
	cpuMax  float64
	rssPeak uint64
	ioRead  *uint64
	ioWrite *uint64
	first   time.Time
	last    time.Time
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{
		cpu: tdigest.NewWithCompression(digestCompression),
		rss: tdigest.NewWithCompression(digestCompression),
	}
}

// Add records one snapshot.
func (u *UsageTracker) Add(snap sampler.Snapshot) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.cpu.Add(snap.CPUPercent, 1)
	u.rss.Add(float64(snap.MemoryRSSBytes), 1)

	u.samples++
	u.cpuMax = max(u.cpuMax, snap.CPUPercent)
	u.rssPeak = max(u.rssPeak, snap.MemoryRSSBytes)

	// IO counters are cumulative; keep the latest readable values
	if snap.IOReadBytes != nil {
		v := *snap.IOReadBytes
		u.ioRead = &v
	}
	if snap.IOWriteBytes != nil {
		v := *snap.IOWriteBytes
		u.ioWrite = &v
	}

	if u.first.IsZero() {
		u.first = snap.Time
	}
	u.last = snap.Time
}

// UsageSummary is a point-in-time view of a UsageTracker.
type UsageSummary struct {
	Samples int64
	Span    time.Duration

	CPUP50 float64
	CPUP95 float64
	CPUMax float64

	RSSP50  uint64
	RSSPeak uint64

	// nil when the host never exposed the counters
	IOReadBytes  *uint64
	IOWriteBytes *uint64
}

// Summary returns the current percentiles. A tracker with no samples yields
// a zero summary.
func (u *UsageTracker) Summary() UsageSummary {
	u.mu.Lock()
	defer u.mu.Unlock()

	s := UsageSummary{
		Samples:      u.samples,
		CPUMax:       u.cpuMax,
		RSSPeak:      u.rssPeak,
		IOReadBytes:  copyCounter(u.ioRead),
		IOWriteBytes: copyCounter(u.ioWrite),
	}
	if u.samples == 0 {
		return s
	}

	s.Span = u.last.Sub(u.first)
	s.CPUP50 = u.cpu.Quantile(0.50)
	s.CPUP95 = u.cpu.Quantile(0.95)
	s.RSSP50 = uint64(max(u.rss.Quantile(0.50), 0))
	return s
}

func copyCounter(v *uint64) *uint64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
