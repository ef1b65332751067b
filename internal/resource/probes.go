package resource

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// defaultProbes returns the host probes used outside of tests: the
// aggregate cpu line from /proc/stat, MemTotal/MemAvailable from
// /proc/meminfo, and statfs for disk usage.
func defaultProbes() Probes {
	return Probes{
		CPU:    procStatCPU,
		Memory: procMeminfoUsed,
		Disk:   statfsUsed,
	}
}

// procStatCPU reads cumulative idle and total tick counters from the
// aggregate "cpu" line of /proc/stat. Idle includes iowait, matching
// the usual "100 − idle/total" usage definition.
func procStatCPU() (idle, total uint64, err error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, fmt.Errorf("read /proc/stat: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		for i, f := range fields[1:] {
			v, perr := strconv.ParseUint(f, 10, 64)
			if perr != nil {
				return 0, 0, fmt.Errorf("parse /proc/stat field %q: %w", f, perr)
			}
			total += v
			// Field 4 is idle, field 5 is iowait.
			if i == 3 || i == 4 {
				idle += v
			}
		}
		return idle, total, nil
	}
	return 0, 0, fmt.Errorf("no aggregate cpu line in /proc/stat")
}

// procMeminfoUsed computes used-memory percent from MemTotal and
// MemAvailable in /proc/meminfo.
func procMeminfoUsed() (float64, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, fmt.Errorf("read /proc/meminfo: %w", err)
	}

	var memTotal, memAvail uint64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, perr := strconv.ParseUint(fields[1], 10, 64)
		if perr != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			memTotal = v
		case "MemAvailable:":
			memAvail = v
		}
	}

	if memTotal == 0 {
		return 0, fmt.Errorf("MemTotal missing from /proc/meminfo")
	}
	return 100 * float64(memTotal-memAvail) / float64(memTotal), nil
}

// statfsUsed computes used-space percent for the filesystem containing
// path.
func statfsUsed(path string) (float64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	if st.Blocks == 0 {
		return 0, fmt.Errorf("statfs %s reported zero blocks", path)
	}
	used := st.Blocks - st.Bavail
	return 100 * float64(used) / float64(st.Blocks), nil
}
