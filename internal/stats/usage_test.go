package stats

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-stream-pressure/internal/sampler"
)

func u64(v uint64) *uint64 { return &v }

// =============================================================================
// Tests: UsageTracker
// =============================================================================

func TestUsageTracker_Empty(t *testing.T) {
	s := NewUsageTracker().Summary()
	if s.Samples != 0 || s.CPUP50 != 0 || s.RSSPeak != 0 || s.Span != 0 {
		t.Errorf("empty summary = %+v", s)
	}
	if s.IOReadBytes != nil || s.IOWriteBytes != nil {
		t.Error("empty summary should have no IO counters")
	}
}

func TestUsageTracker_Percentiles(t *testing.T) {
	u := NewUsageTracker()
	base := time.Unix(1700000000, 0)

	// CPU 1..100, RSS 1..100 MB
	for i := 1; i <= 100; i++ {
		u.Add(sampler.Snapshot{
			Time:           base.Add(time.Duration(i) * time.Second),
			CPUPercent:     float64(i),
			MemoryRSSBytes: uint64(i) * 1_000_000,
		})
	}

	s := u.Summary()
	if s.Samples != 100 {
		t.Errorf("Samples = %d, want 100", s.Samples)
	}
	if s.Span != 99*time.Second {
		t.Errorf("Span = %v, want 99s", s.Span)
	}
	if math.Abs(s.CPUP50-50) > 2 {
		t.Errorf("CPUP50 = %v, want ~50", s.CPUP50)
	}
	if math.Abs(s.CPUP95-95) > 2 {
		t.Errorf("CPUP95 = %v, want ~95", s.CPUP95)
	}
	if s.CPUMax != 100 {
		t.Errorf("CPUMax = %v, want 100", s.CPUMax)
	}
	if s.RSSPeak != 100_000_000 {
		t.Errorf("RSSPeak = %d, want 100000000", s.RSSPeak)
	}
	if diff := math.Abs(float64(s.RSSP50) - 50_000_000); diff > 2_000_000 {
		t.Errorf("RSSP50 = %d, want ~50MB", s.RSSP50)
	}
}

func TestUsageTracker_IOCounters(t *testing.T) {
	u := NewUsageTracker()

	u.Add(sampler.Snapshot{IOReadBytes: u64(100), IOWriteBytes: u64(5)})
	u.Add(sampler.Snapshot{IOReadBytes: u64(300), IOWriteBytes: u64(7)})
	// A later sample without counters keeps the last known values
	u.Add(sampler.Snapshot{})

	s := u.Summary()
	if s.IOReadBytes == nil || *s.IOReadBytes != 300 {
		t.Errorf("IOReadBytes = %v, want 300", s.IOReadBytes)
	}
	if s.IOWriteBytes == nil || *s.IOWriteBytes != 7 {
		t.Errorf("IOWriteBytes = %v, want 7", s.IOWriteBytes)
	}
}

func TestUsageTracker_SummaryIsACopy(t *testing.T) {
	u := NewUsageTracker()
	u.Add(sampler.Snapshot{IOReadBytes: u64(1)})

	s := u.Summary()
	*s.IOReadBytes = 999

	if got := *u.Summary().IOReadBytes; got != 1 {
		t.Errorf("tracker state changed through a summary: %d", got)
	}
}

func TestUsageTracker_Concurrent(t *testing.T) {
	u := NewUsageTracker()

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				u.Add(sampler.Snapshot{CPUPercent: float64(w*100 + i)})
				_ = u.Summary()
			}
		}()
	}
	wg.Wait()

	if got := u.Summary().Samples; got != 800 {
		t.Errorf("Samples = %d, want 800", got)
	}
}
