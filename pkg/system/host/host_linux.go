//go:build linux

package host

import (
	"golang.org/x/sys/unix"

	"github.com/resacct/resacct/pkg/fallback"
)

// memoryProviders orders the Linux memory sources by preference: meminfo
// is exact (MemAvailable accounts reclaimable pages), sysinfo is a cheap
// native call but only knows free pages, gopsutil closes the gap on
// exotic setups.
func memoryProviders(procRoot string) []fallback.Provider[Memory] {
	return []fallback.Provider[Memory]{
		fallback.New("meminfo", meminfoMemory(procRoot)),
		fallback.New("sysinfo", sysinfoMemory),
		fallback.New("gopsutil", gopsutilMemory),
	}
}

// sysinfoMemory decodes the kernel's sysinfo structure. Totalram/Freeram
// are in Unit-sized blocks.
func sysinfoMemory() (Memory, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return Memory{}, err
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(si.Totalram) * unit
	free := uint64(si.Freeram) * unit
	return Memory{Total: total, Used: total - free}, nil
}
