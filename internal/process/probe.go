package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultProbeTimeout bounds a single capability probe.
	DefaultProbeTimeout = 2 * time.Second

	// numaMissingMarker is what the benchmark prints on stderr when -m is
	// given to a build without libnuma.
	// TODO: switch to a structured capability query once the benchmark grows one.
	numaMissingMarker = "NUMA support not compiled in"
)

// probeArgs is a trivial workload that still parses -m.
var probeArgs = []string{"-m", "0", "-n", "1", "-s", "10", "-i", "1", "-q"}

// ProbeCapabilities runs the executable once with a minimal workload and
// inspects stderr to detect optional features.
//
// On timeout or spawn failure it returns an all-absent Capabilities together
// with ErrCapabilityProbeInconclusive. Callers are expected to log and carry on.
func ProbeCapabilities(ctx context.Context, binaryPath string, timeout time.Duration) (Capabilities, error) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(probeCtx, binaryPath, probeArgs...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = timeout

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Capabilities{}, fmt.Errorf("%w: %w", ErrCapabilityProbeInconclusive, ctxErr)
	}
	if probeCtx.Err() != nil {
		return Capabilities{}, fmt.Errorf("%w: %s timed out after %s", ErrCapabilityProbeInconclusive, binaryPath, timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Capabilities{}, fmt.Errorf("%w: %v", ErrCapabilityProbeInconclusive, err)
		}
		// A non-zero exit still tells us what we need through stderr.
	}

	return classifyProbeOutput(stderr.String()), nil
}

// classifyProbeOutput decides capabilities from the probe's stderr.
func classifyProbeOutput(stderr string) Capabilities {
	return Capabilities{
		NUMA: !strings.Contains(stderr, numaMissingMarker),
	}
}

// Prober caches capability probes per resolved executable path.
// A path is probed at most once for the lifetime of the Prober.
type Prober struct {
	timeout time.Duration
	logger  *slog.Logger
	probe   func(ctx context.Context, path string, timeout time.Duration) (Capabilities, error)

	mu    sync.Mutex
	cache map[string]Capabilities
}

// NewProber creates a Prober. A zero timeout uses DefaultProbeTimeout.
func NewProber(timeout time.Duration, logger *slog.Logger) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		timeout: timeout,
		logger:  logger,
		probe:   ProbeCapabilities,
		cache:   make(map[string]Capabilities),
	}
}

// Capabilities returns the cached result for path, probing on first use.
// Probe failures are logged and cached as all-absent. A probe cut short by
// cancellation of ctx is reported as absent but not cached.
func (p *Prober) Capabilities(ctx context.Context, path string) Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()

	if caps, ok := p.cache[path]; ok {
		return caps
	}

	start := time.Now()
	caps, err := p.probe(ctx, path, p.timeout)
	if err != nil {
		p.logger.Warn("capability_probe_inconclusive",
			"path", path,
			"error", err,
			"assumed_numa", caps.NUMA,
		)
	} else {
		p.logger.Debug("capability_probe_complete",
			"path", path,
			"numa", caps.NUMA,
			"duration", time.Since(start).String(),
		)
	}

	if ctx.Err() != nil {
		return caps
	}
	p.cache[path] = caps
	return caps
}
