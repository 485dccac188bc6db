//go:build linux

package preflight

import "golang.org/x/sys/unix"

// cpuSetSize is CPU_SETSIZE from sched.h.
const cpuSetSize = 1024

// onlineCPUs returns the CPUs this process may run on.
func onlineCPUs() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, err
	}

	cpus := make([]int, 0, set.Count())
	for i := range cpuSetSize {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpus, nil
}
