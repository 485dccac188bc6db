package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/randomizedcoder/go-stream-pressure/internal/process"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets callers match validation failures with errors.Is.
func (e ValidationError) Unwrap() error {
	return process.ErrInvalidConfiguration
}

// minSampleInterval keeps the sampler from hammering procfs.
const minSampleInterval = 10 * time.Millisecond

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.StreamPath == "" {
		errs = append(errs, ValidationError{
			Field:   "stream_path",
			Message: "must not be empty",
		})
	}

	if cfg.Threads < 1 {
		errs = append(errs, ValidationError{
			Field:   "threads",
			Message: "must be at least 1",
		})
	}

	if cfg.ArraySize < 1 {
		errs = append(errs, ValidationError{
			Field:   "array_size",
			Message: "must be at least 1",
		})
	}

	if !process.Operation(cfg.Operation).Valid() {
		errs = append(errs, ValidationError{
			Field:   "operation",
			Message: fmt.Sprintf("must be one of: copy, scale, add, triad (got %q)", cfg.Operation),
		})
	}

	if math.IsNaN(cfg.Scalar) || math.IsInf(cfg.Scalar, 0) {
		errs = append(errs, ValidationError{
			Field:   "scalar",
			Message: "must be a finite number",
		})
	}

	// Iterations only matter when runtime mode is off
	if cfg.Runtime < 0 {
		errs = append(errs, ValidationError{
			Field:   "runtime",
			Message: "must not be negative",
		})
	} else if cfg.Runtime == 0 && cfg.Iterations < 1 {
		errs = append(errs, ValidationError{
			Field:   "iterations",
			Message: "must be at least 1",
		})
	}

	if cfg.Duration < 0 {
		errs = append(errs, ValidationError{
			Field:   "duration",
			Message: "must not be negative",
		})
	}

	if cfg.SampleInterval < minSampleInterval {
		errs = append(errs, ValidationError{
			Field:   "sample_interval",
			Message: fmt.Sprintf("must be at least %v (got %v)", minSampleInterval, cfg.SampleInterval),
		})
	}

	if cfg.GracePeriod <= 0 {
		errs = append(errs, ValidationError{
			Field:   "grace_period",
			Message: "must be positive",
		})
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if cfg.TUIEnabled && cfg.Blocking {
		errs = append(errs, ValidationError{
			Field:   "tui",
			Message: "the dashboard needs a background run; drop -blocking",
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ApplyCheckMode modifies config for --check mode: one short iteration with
// verbose logs and no dashboard.
func ApplyCheckMode(cfg *Config) {
	cfg.Iterations = 1
	cfg.Runtime = 0
	cfg.ArraySize = min(cfg.ArraySize, 1_000_000)
	cfg.Verbose = true
	cfg.TUIEnabled = false
}

// LogLevel returns the slog level name implied by the config.
func (c *Config) LogLevel() string {
	if c.Verbose {
		return "debug"
	}
	return "info"
}
