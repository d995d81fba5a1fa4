//go:build !linux

package host

import "github.com/resacct/resacct/pkg/fallback"

// Off Linux there is no procfs or sysinfo; gopsutil carries the view alone.
func memoryProviders(string) []fallback.Provider[Memory] {
	return []fallback.Provider[Memory]{
		fallback.New("gopsutil", gopsutilMemory),
	}
}
