package utils

import (
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
)

// AvailableParallelism returns the number of logical CPUs usable for
// preprocessing workers. Falls back to runtime.NumCPU when the host query fails.
func AvailableParallelism() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	if procs := runtime.GOMAXPROCS(0); procs < n {
		n = procs
	}
	if n < 1 {
		n = 1
	}
	return n
}

// DeviceID returns a stable identifier for this host: the platform host id,
// else the hostname, else a random uuid for this process.
func DeviceID() string {
	info, err := host.Info()
	if err == nil {
		if id := strings.TrimSpace(info.HostID); id != "" {
			return id
		}
		if name := strings.TrimSpace(info.Hostname); name != "" {
			return name
		}
	}
	return uuid.New().String()
}
