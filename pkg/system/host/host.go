// Package host reads the host-level resource envelope: physical core
// count and total/used memory. Each metric is served by an ordered list
// of providers (cheap kernel files first, native calls next, gopsutil as
// the portable last resort) resolved through pkg/fallback.
package host

import (
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/resacct/resacct/pkg/fallback"
	"github.com/resacct/resacct/pkg/system/proc"
)

// View is the host-side resource envelope.
type View struct {
	CPUCores    int
	MemoryTotal uint64
	MemoryUsed  uint64
}

// Memory is one memory provider's result: always both fields or neither.
type Memory struct {
	Total uint64
	Used  uint64
}

// Cores returns the number of logical CPU cores. gopsutil is preferred
// (it honors offline CPUs); runtime.NumCPU is the last-resort provider
// and cannot fail.
func Cores() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Read assembles the host view. procRoot points at the procfs mount
// (tests pass a fixture tree).
func Read(procRoot string, logger zerolog.Logger) (View, error) {
	m, err := fallback.Resolve(memoryProviders(procRoot))
	if err != nil {
		return View{}, fmt.Errorf("host memory: %w", err)
	}
	logger.Debug().
		Uint64("total", m.Total).
		Uint64("used", m.Used).
		Msg("host: memory view resolved")
	return View{
		CPUCores:    Cores(),
		MemoryTotal: m.Total,
		MemoryUsed:  m.Used,
	}, nil
}

// gopsutilMemory is the portable provider, usable on every platform.
func gopsutilMemory() (Memory, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Memory{}, err
	}
	return Memory{Total: vm.Total, Used: vm.Total - vm.Available}, nil
}

// meminfoMemory reads the procfs meminfo file directly.
func meminfoMemory(procRoot string) func() (Memory, error) {
	return func() (Memory, error) {
		info, err := proc.ReadMemInfo(procRoot)
		if err != nil {
			return Memory{}, err
		}
		return Memory{Total: info.TotalBytes, Used: info.TotalBytes - info.AvailableBytes}, nil
	}
}
