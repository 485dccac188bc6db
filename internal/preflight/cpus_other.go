//go:build !linux

package preflight

import "runtime"

// onlineCPUs assumes CPUs 0..NumCPU-1 where affinity cannot be queried.
func onlineCPUs() ([]int, error) {
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	return cpus, nil
}
