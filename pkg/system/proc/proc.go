// Package proc reads point-in-time resource counters from proc-style text
// files. Readers take the proc root as a parameter so tests can point them
// at a fixture tree; production callers pass DefaultRoot.
package proc

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultRoot is the canonical procfs mount point.
const DefaultRoot = "/proc"

// ClockTicks returns the number of jiffies (clock ticks) per second.
// It first checks the env var CLK_TCK (useful for testing), otherwise
// falls back to 100 (common default).
//
// Note: On real systems, the authoritative way is `sysconf(_SC_CLK_TCK)`,
// but calling that requires cgo. For portability in a pure-Go library,
// this simplified approach is acceptable.
func ClockTicks() int {
	v, _ := strconv.Atoi(os.Getenv("CLK_TCK"))
	if v > 0 {
		return v
	}
	return 100
}

// CPUTimes holds the eight monotonically increasing per-CPU counters from
// a stat file CPU line, in platform ticks.
type CPUTimes struct {
	User    uint64
	Nice    uint64
	System  uint64
	Idle    uint64
	IOWait  uint64
	IRQ     uint64
	SoftIRQ uint64
	Steal   uint64
}

// Total returns the sum of all eight counters.
func (t CPUTimes) Total() uint64 {
	return t.User + t.Nice + t.System + t.Idle + t.IOWait + t.IRQ + t.SoftIRQ + t.Steal
}

// Busy returns the ticks spent doing work: total minus idle and iowait.
func (t CPUTimes) Busy() uint64 {
	return t.Total() - t.Idle - t.IOWait
}

// CoreTimes is the counter set of one core, tagged with its index.
type CoreTimes struct {
	Index int
	Times CPUTimes
}

// CPUSnapshot is a point-in-time capture of the aggregate and per-core
// CPU counters. Immutable once captured.
type CPUSnapshot struct {
	Total   CPUTimes
	PerCore []CoreTimes
}

// CoreCount returns the number of cores captured in the snapshot.
func (s CPUSnapshot) CoreCount() int { return len(s.PerCore) }

// ReadCPUSnapshot parses <root>/stat into a CPUSnapshot. The aggregate
// "cpu" line is required; "cpuN" lines are captured in file order.
func ReadCPUSnapshot(root string) (CPUSnapshot, error) {
	path := filepath.Join(root, "stat")
	f, err := os.Open(path)
	if err != nil {
		return CPUSnapshot{}, err
	}
	defer f.Close()

	var (
		snap     CPUSnapshot
		sawTotal bool
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fs := strings.Fields(line)
		if len(fs) == 0 || !strings.HasPrefix(fs[0], "cpu") {
			continue
		}
		if fs[0] == "cpu" {
			t, err := parseCPUTimes(fs[1:], line)
			if err != nil {
				return CPUSnapshot{}, err
			}
			snap.Total = t
			sawTotal = true
			continue
		}
		idx, err := strconv.Atoi(fs[0][len("cpu"):])
		if err != nil {
			// "cpuset" or similar, not a per-core line
			continue
		}
		t, err := parseCPUTimes(fs[1:], line)
		if err != nil {
			return CPUSnapshot{}, err
		}
		snap.PerCore = append(snap.PerCore, CoreTimes{Index: idx, Times: t})
	}
	if err := sc.Err(); err != nil {
		return CPUSnapshot{}, err
	}
	if !sawTotal {
		return CPUSnapshot{}, ErrNoCPU
	}
	return snap, nil
}

func parseCPUTimes(fields []string, line string) (CPUTimes, error) {
	if len(fields) < 8 {
		return CPUTimes{}, fmt.Errorf("%w: %q", ErrShortStat, line)
	}
	var vals [8]uint64
	for i := 0; i < 8; i++ {
		v, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return CPUTimes{}, fmt.Errorf("proc: malformed cpu field %q in %q: %w", fields[i], line, err)
		}
		vals[i] = v
	}
	return CPUTimes{
		User:    vals[0],
		Nice:    vals[1],
		System:  vals[2],
		Idle:    vals[3],
		IOWait:  vals[4],
		IRQ:     vals[5],
		SoftIRQ: vals[6],
		Steal:   vals[7],
	}, nil
}

// MemInfo is the host memory view from <root>/meminfo, in bytes.
type MemInfo struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

// ReadMemInfo parses MemTotal and MemAvailable from <root>/meminfo.
// MemTotal is required; when MemAvailable is absent (pre-3.14 kernels)
// MemFree is used instead.
func ReadMemInfo(root string) (MemInfo, error) {
	f, err := os.Open(filepath.Join(root, "meminfo"))
	if err != nil {
		return MemInfo{}, err
	}
	defer f.Close()

	var (
		info     MemInfo
		free     uint64
		sawTotal bool
		sawAvail bool
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fs := strings.Fields(sc.Text())
		if len(fs) < 2 {
			continue
		}
		kb, err := strconv.ParseUint(fs[1], 10, 64)
		if err != nil {
			continue
		}
		switch fs[0] {
		case "MemTotal:":
			info.TotalBytes = kb * 1024
			sawTotal = true
		case "MemAvailable:":
			info.AvailableBytes = kb * 1024
			sawAvail = true
		case "MemFree:":
			free = kb * 1024
		}
	}
	if err := sc.Err(); err != nil {
		return MemInfo{}, err
	}
	if !sawTotal {
		return MemInfo{}, ErrNoMemTotal
	}
	if !sawAvail {
		info.AvailableBytes = free
	}
	return info, nil
}
