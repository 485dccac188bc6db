// Package sampler reads OS process accounting for a single PID.
//
// Samples come from /proc via github.com/prometheus/procfs. On hosts without
// procfs every sample is reported as absent rather than as an error.
package sampler

import (
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// Snapshot is a point-in-time read of a process's resource counters.
// IO counters are nil when the host does not expose them, which is distinct
// from a zero byte count.
type Snapshot struct {
	PID            int
	Time           time.Time
	CPUPercent     float64
	MemoryRSSBytes uint64
	MemoryVMSBytes uint64
	IOReadBytes    *uint64
	IOWriteBytes   *uint64
}

// Fields returns the snapshot as a flat map. IO keys are present only when
// the counters were readable.
func (s Snapshot) Fields() map[string]float64 {
	m := map[string]float64{
		"cpu_percent":      s.CPUPercent,
		"memory_rss_bytes": float64(s.MemoryRSSBytes),
		"memory_vms_bytes": float64(s.MemoryVMSBytes),
	}
	if s.IOReadBytes != nil {
		m["io_read_bytes"] = float64(*s.IOReadBytes)
	}
	if s.IOWriteBytes != nil {
		m["io_write_bytes"] = float64(*s.IOWriteBytes)
	}
	return m
}

// cpuMark remembers the last CPU reading so the next sample can compute
// utilization over the interval between them.
type cpuMark struct {
	cpuSeconds float64
	at         time.Time
}

// Sampler produces Snapshots. It is safe for concurrent use.
type Sampler struct {
	fs    procfs.FS
	fsErr error
	now   func() time.Time

	mu   sync.Mutex
	last map[int]cpuMark
}

// New creates a Sampler over the default /proc mount.
func New() *Sampler {
	fs, err := procfs.NewDefaultFS()
	return newSampler(fs, err)
}

// NewWithMount creates a Sampler over a specific procfs mount point.
func NewWithMount(mountPoint string) *Sampler {
	fs, err := procfs.NewFS(mountPoint)
	return newSampler(fs, err)
}

func newSampler(fs procfs.FS, err error) *Sampler {
	return &Sampler{
		fs:    fs,
		fsErr: err,
		now:   time.Now,
		last:  make(map[int]cpuMark),
	}
}

// Available reports whether procfs could be opened.
func (s *Sampler) Available() bool {
	return s.fsErr == nil
}

// Sample returns a best-effort snapshot for pid. ok is false when the process
// has gone away (including between a liveness check and this call) or procfs
// is unavailable.
func (s *Sampler) Sample(pid int) (snap Snapshot, ok bool) {
	if s.fsErr != nil || pid <= 0 {
		return Snapshot{}, false
	}

	proc, err := s.fs.Proc(pid)
	if err != nil {
		s.Forget(pid)
		return Snapshot{}, false
	}

	stat, err := proc.Stat()
	if err != nil {
		s.Forget(pid)
		return Snapshot{}, false
	}

	now := s.now()
	snap = Snapshot{
		PID:            pid,
		Time:           now,
		CPUPercent:     s.cpuPercent(pid, stat, now),
		MemoryRSSBytes: uint64(max(stat.ResidentMemory(), 0)),
		MemoryVMSBytes: uint64(stat.VirtualMemory()),
	}

	// /proc/<pid>/io needs ptrace access; absent counters stay nil.
	if pio, err := proc.IO(); err == nil {
		read, write := pio.ReadBytes, pio.WriteBytes
		snap.IOReadBytes = &read
		snap.IOWriteBytes = &write
	}

	return snap, true
}

// Forget drops the CPU baseline for pid.
func (s *Sampler) Forget(pid int) {
	s.mu.Lock()
	delete(s.last, pid)
	s.mu.Unlock()
}

// cpuPercent computes utilization since the previous sample of pid, or since
// process start on the first sample. 100 means one fully busy core.
func (s *Sampler) cpuPercent(pid int, stat procfs.ProcStat, now time.Time) float64 {
	cpu := stat.CPUTime()

	s.mu.Lock()
	prev, seen := s.last[pid]
	s.last[pid] = cpuMark{cpuSeconds: cpu, at: now}
	s.mu.Unlock()

	if !seen {
		started, err := stat.StartTime()
		if err != nil {
			return 0
		}
		prev = cpuMark{at: time.Unix(0, int64(started*float64(time.Second)))}
	}

	return utilization(cpu-prev.cpuSeconds, now.Sub(prev.at))
}

// utilization converts CPU seconds consumed over a wall interval to percent.
func utilization(cpuSeconds float64, wall time.Duration) float64 {
	if wall <= 0 || cpuSeconds <= 0 {
		return 0
	}
	return cpuSeconds / wall.Seconds() * 100
}
