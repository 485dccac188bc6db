package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-stream-pressure/internal/config"
	"github.com/randomizedcoder/go-stream-pressure/internal/process"
	"github.com/randomizedcoder/go-stream-pressure/internal/supervisor"
)

// fakeStream honors -i and -r and rejects -m like a build without libnuma.
const fakeStream = `runtime=""
numa=""
while getopts "n:s:i:o:c:pqr:a:m:" opt; do
  case "$opt" in
    r) runtime="$OPTARG" ;;
    m) numa="$OPTARG" ;;
    *) ;;
  esac
done
if [ -n "$numa" ]; then
  echo "NUMA support not compiled in." >&2
  exit 1
fi
if [ -n "$runtime" ]; then
  exec sleep "$runtime"
fi
echo "Triad:      12345.6"
`

const failingStream = `for a in "$@"; do [ "$a" = "-m" ] && exit 0; done
echo "Failed to allocate memory for arrays" >&2
exit 3
`

// =============================================================================
// Test Helpers
// =============================================================================

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func testConfig(streamPath string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.StreamPath = streamPath
	cfg.Threads = 1
	cfg.ArraySize = 1000
	cfg.Iterations = 1
	cfg.SampleInterval = 20 * time.Millisecond
	cfg.GracePeriod = time.Second
	cfg.SkipPreflight = true
	return cfg
}

type testRun struct {
	*Orchestrator
	logs *syncBuffer
	out  *bytes.Buffer
}

func newTestOrchestrator(t *testing.T, cfg *config.Config) *testRun {
	t.Helper()

	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	o := New(cfg, logger, "test")
	out := &bytes.Buffer{}
	o.out = out
	o.guard = supervisor.NewGuard(logger)

	return &testRun{Orchestrator: o, logs: logs, out: out}
}

// =============================================================================
// Tests: Run
// =============================================================================

func TestRun_BlockingCompletes(t *testing.T) {
	cfg := testConfig(writeScript(t, fakeStream))
	cfg.Blocking = true
	run := newTestOrchestrator(t, cfg)

	if err := run.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := run.Metrics().TotalStarts(); got != 1 {
		t.Errorf("TotalStarts() = %d, want 1", got)
	}
	summary := run.out.String()
	for _, want := range []string{"Exit Summary", "0 (clean)", "-o triad", "-i 1"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
	if strings.Contains(summary, "stopped") {
		t.Error("self-exit should not be reported as stopped")
	}
}

func TestRun_BackgroundCompletes(t *testing.T) {
	run := newTestOrchestrator(t, testConfig(writeScript(t, fakeStream)))

	if err := run.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code, ok := run.Supervisor().LastExitCode(); !ok || code != 0 {
		t.Errorf("LastExitCode() = %d, %v; want 0, true", code, ok)
	}
	if !strings.Contains(run.logs.String(), "run_complete") {
		t.Error("missing run_complete log")
	}
}

func TestRun_BenchmarkFailure(t *testing.T) {
	for _, blocking := range []bool{true, false} {
		name := "background"
		if blocking {
			name = "blocking"
		}
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(writeScript(t, failingStream))
			cfg.Blocking = blocking
			run := newTestOrchestrator(t, cfg)

			err := run.Run(context.Background())
			if !errors.Is(err, ErrBenchmarkFailed) {
				t.Fatalf("Run() error = %v, want ErrBenchmarkFailed", err)
			}
			if !strings.Contains(err.Error(), "exit code 3") {
				t.Errorf("error should carry the exit code: %v", err)
			}
			out := run.out.String()
			if !strings.Contains(out, "Exit Code:              3") {
				t.Errorf("summary missing exit code:\n%s", out)
			}
			if i := strings.Index(out, "Benchmark Diagnostics"); i < 0 || !strings.Contains(out[i:], "Failed to allocate") {
				t.Errorf("summary missing stderr diagnostics:\n%s", out)
			}
		})
	}
}

func TestRun_DurationStopsBenchmark(t *testing.T) {
	for _, blocking := range []bool{true, false} {
		name := "background"
		if blocking {
			name = "blocking"
		}
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(writeScript(t, fakeStream))
			cfg.Runtime = 30 * time.Second
			cfg.Duration = 300 * time.Millisecond
			cfg.Blocking = blocking
			run := newTestOrchestrator(t, cfg)

			start := time.Now()
			if err := run.Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v, stopping on duration is not a failure", err)
			}
			if elapsed := time.Since(start); elapsed > 5*time.Second {
				t.Errorf("Run() took %s, duration limit not honored", elapsed)
			}

			summary := run.out.String()
			if !strings.Contains(summary, "143 (SIGTERM) (stopped)") {
				t.Errorf("summary should report a stopped run:\n%s", summary)
			}
			if !strings.Contains(run.logs.String(), "duration_elapsed") {
				t.Error("missing duration_elapsed log")
			}
			if run.Supervisor().IsRunning() {
				t.Error("benchmark still running after Run returned")
			}
		})
	}
}

func TestRun_ContextCancelStops(t *testing.T) {
	cfg := testConfig(writeScript(t, fakeStream))
	cfg.Runtime = 30 * time.Second
	run := newTestOrchestrator(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	if err := run.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(run.logs.String(), "stop_requested") {
		t.Error("missing stop_requested log")
	}
}

func TestRun_SamplesWhileRunning(t *testing.T) {
	cfg := testConfig(writeScript(t, fakeStream))
	cfg.Runtime = 30 * time.Second
	cfg.Duration = 400 * time.Millisecond
	run := newTestOrchestrator(t, cfg)
	if !run.sampler.Available() {
		t.Skip("procfs not available on this host")
	}

	if err := run.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(run.logs.String(), "resource_usage") {
		t.Error("monitoring loop did not log resource usage")
	}
	if run.usage.Summary().Samples == 0 {
		t.Error("usage tracker received no samples")
	}
	if strings.Contains(run.out.String(), "no resource samples") {
		t.Error("summary should include resource usage")
	}
}

func TestRun_MissingExecutable(t *testing.T) {
	run := newTestOrchestrator(t, testConfig(filepath.Join(t.TempDir(), "no-such-stream")))

	err := run.Run(context.Background())
	if !errors.Is(err, process.ErrExecutableNotFound) {
		t.Fatalf("Run() error = %v, want ErrExecutableNotFound", err)
	}
	if run.Supervisor() != nil {
		t.Error("no supervisor should be created")
	}
}

func TestRun_PreflightFails(t *testing.T) {
	if _, err := os.Stat("/proc/meminfo"); err != nil {
		t.Skip("no /proc/meminfo on this host")
	}

	cfg := testConfig(writeScript(t, fakeStream))
	cfg.SkipPreflight = false
	cfg.ArraySize = 1 << 50
	run := newTestOrchestrator(t, cfg)

	if err := run.Run(context.Background()); !errors.Is(err, ErrPreflightFailed) {
		t.Fatalf("Run() error = %v, want ErrPreflightFailed", err)
	}
	if !strings.Contains(run.out.String(), "Preflight checks:") {
		t.Error("preflight results not printed")
	}
	if run.Metrics().TotalStarts() != 0 {
		t.Error("benchmark started despite failed preflight")
	}
}

func TestRun_WritesTextfile(t *testing.T) {
	cfg := testConfig(writeScript(t, fakeStream))
	cfg.TextfilePath = filepath.Join(t.TempDir(), "stream.prom")
	run := newTestOrchestrator(t, cfg)

	if err := run.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(cfg.TextfilePath)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	text := string(data)
	for _, want := range []string{"stream_pressure_starts_total 1", `stream_pressure_exits_total{result="success"} 1`} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "go_goroutines") {
		t.Error("textfile should only contain benchmark metrics")
	}
}

func TestRun_MetricsServer(t *testing.T) {
	cfg := testConfig(writeScript(t, fakeStream))
	cfg.MetricsAddr = "127.0.0.1:0"
	run := newTestOrchestrator(t, cfg)

	if err := run.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(run.out.String(), "Metrics endpoint was") {
		t.Error("summary should mention the metrics endpoint")
	}
}

func TestRun_NUMADroppedWhenUnsupported(t *testing.T) {
	cfg := testConfig(writeScript(t, fakeStream))
	cfg.NUMANodes = []int{0}
	run := newTestOrchestrator(t, cfg)

	if err := run.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Contains(run.command, "-m") {
		t.Errorf("command should drop -m: %s", run.command)
	}
	if !strings.Contains(run.logs.String(), "numa_request_dropped") {
		t.Error("missing numa_request_dropped warning")
	}
}

// =============================================================================
// Tests: executable rebuild
// =============================================================================

func TestResolveExecutable_Rebuild(t *testing.T) {
	if _, err := exec.LookPath("make"); err != nil {
		t.Skip("make not installed")
	}

	dir := t.TempDir()
	makefile := "fake-stream-bench:\n" +
		"\tprintf '#!/bin/sh\\nexit 0\\n' > fake-stream-bench\n" +
		"\tchmod +x fake-stream-bench\n" +
		"clean:\n" +
		"\trm -f fake-stream-bench\n"
	for name, body := range map[string]string{"Makefile": makefile, "stream.c": "int main(void) { return 0; }\n"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := testConfig("fake-stream-bench")
	cfg.SourceDir = dir
	run := newTestOrchestrator(t, cfg)

	path, err := run.resolveExecutable(context.Background())
	if err != nil {
		t.Fatalf("resolveExecutable() error = %v", err)
	}
	if path != filepath.Join(dir, "fake-stream-bench") {
		t.Errorf("path = %s, want the rebuilt binary in %s", path, dir)
	}
	if !strings.Contains(run.logs.String(), "rebuilding_benchmark") {
		t.Error("missing rebuilding_benchmark log")
	}
}

func TestResolveExecutable_RebuildFails(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "missing"))
	cfg.SourceDir = t.TempDir() // no stream.c
	run := newTestOrchestrator(t, cfg)

	_, err := run.resolveExecutable(context.Background())
	if !errors.Is(err, process.ErrExecutableNotFound) {
		t.Fatalf("resolveExecutable() error = %v, want ErrExecutableNotFound", err)
	}
	if !strings.Contains(run.logs.String(), "rebuild_failed") {
		t.Error("missing rebuild_failed log")
	}
}

func TestResolveExecutable_NoSourceDir(t *testing.T) {
	path := writeScript(t, fakeStream)
	run := newTestOrchestrator(t, testConfig(path))

	got, err := run.resolveExecutable(context.Background())
	if err != nil || got != path {
		t.Errorf("resolveExecutable() = %q, %v; want %q", got, err, path)
	}
}
