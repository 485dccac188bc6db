package process

import "errors"

var (
	// ErrInvalidConfiguration is returned when benchmark parameters are rejected
	// before anything is spawned.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrExecutableNotFound is returned when the benchmark path does not exist
	// or is not a regular file.
	ErrExecutableNotFound = errors.New("executable not found")

	// ErrExecutableNotExecutable is returned when the benchmark lacks the
	// execute bit and it could not be set.
	ErrExecutableNotExecutable = errors.New("executable not executable")

	// ErrProcessSpawn is returned when the OS refused to create the child.
	ErrProcessSpawn = errors.New("process spawn failed")

	// ErrCapabilityProbeInconclusive is returned alongside a conservative
	// (all features absent) result when the probe timed out or failed to run.
	// It is never fatal.
	ErrCapabilityProbeInconclusive = errors.New("capability probe inconclusive")
)
