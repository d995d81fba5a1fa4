// Package accounting turns raw host and cgroup counters into structured,
// comparable snapshots: container limits, a unified resource envelope and
// CPU usage deltas. All decision logic is pure; I/O happens in the
// provider packages under pkg/system.
package accounting

import (
	"github.com/resacct/resacct/pkg/system/cgroup"
	"github.com/resacct/resacct/pkg/system/util"
	"github.com/resacct/resacct/pkg/types"
)

// Source names which view won the unified-limits decision.
type Source int

const (
	SourceHost Source = iota
	SourceCgroupV1
	SourceCgroupV2
)

func (s Source) String() string {
	switch s {
	case SourceCgroupV1:
		return "cgroup v1"
	case SourceCgroupV2:
		return "cgroup v2"
	default:
		return "host"
	}
}

// ContainerLimits is the container-side view of allocation and usage.
// Nil fields mean "not available / not limited", never a sentinel number:
// a nil throttle count is indistinguishable from zero only if you conflate
// "no counter exposed" with "checked and found zero", which this type
// refuses to do.
type ContainerLimits struct {
	CgroupVersion     cgroup.Version
	CPUQuotaCores     *types.Cores
	MemoryLimitBytes  *types.Bytes
	CPUUsageCores     *types.Cores
	MemoryUsageBytes  *types.Bytes
	CPUThrottledCount *uint64
	OOMKillCount      *uint64
}

// Limited reports whether the container view carries at least one hard
// allocation. This is the trigger for preferring it over the host view.
func (c *ContainerLimits) Limited() bool {
	return c != nil && c.CgroupVersion != cgroup.None &&
		(c.CPUQuotaCores != nil || c.MemoryLimitBytes != nil)
}

// CPUUtilizationPercentage relates measured usage to the quota. Zero when
// either side is absent.
func (c *ContainerLimits) CPUUtilizationPercentage() float64 {
	if c == nil || c.CPUQuotaCores == nil || c.CPUUsageCores == nil {
		return 0
	}
	return util.SafeDiv(float64(*c.CPUUsageCores), float64(*c.CPUQuotaCores)) * 100
}

// MemoryUtilizationPercentage relates memory usage to the limit. Zero
// when either side is absent.
func (c *ContainerLimits) MemoryUtilizationPercentage() float64 {
	if c == nil || c.MemoryLimitBytes == nil || c.MemoryUsageBytes == nil {
		return 0
	}
	return util.SafeDiv(float64(*c.MemoryUsageBytes), float64(*c.MemoryLimitBytes)) * 100
}
