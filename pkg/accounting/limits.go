package accounting

import (
	"github.com/resacct/resacct/pkg/system/util"
	"github.com/resacct/resacct/pkg/types"
)

// DefaultPressureThreshold is the utilization percentage above which a
// resource is considered under pressure.
const DefaultPressureThreshold = 80.0

// SystemLimits is the unified resource envelope: the binding allocation
// (container quota if one exists, host capacity otherwise) plus current
// usage. The derived helpers are pure functions over the four stored
// numbers and are recomputed on every call.
type SystemLimits struct {
	Source             Source
	CPUCores           types.Cores
	CurrentCPUCores    types.Cores
	MemoryBytes        types.Bytes
	CurrentMemoryBytes types.Bytes
}

// AvailableCPUCores returns the unused core budget, floored at zero.
func (s *SystemLimits) AvailableCPUCores() types.Cores {
	avail := float64(s.CPUCores) - float64(s.CurrentCPUCores)
	if avail < 0 {
		return 0
	}
	return types.Cores(avail)
}

// CPUUtilizationPercentage may exceed 100 under over-provisioning; it is
// deliberately not clamped, since exceeding capacity is itself signal.
func (s *SystemLimits) CPUUtilizationPercentage() float64 {
	return util.SafeDiv(float64(s.CurrentCPUCores), float64(s.CPUCores)) * 100
}

// CPUHeadroomPercentage is clamped at zero: negative headroom is
// meaningless.
func (s *SystemLimits) CPUHeadroomPercentage() float64 {
	if h := 100 - s.CPUUtilizationPercentage(); h > 0 {
		return h
	}
	return 0
}

// AvailableMemoryBytes returns the unused memory budget, floored at zero.
func (s *SystemLimits) AvailableMemoryBytes() types.Bytes {
	if s.CurrentMemoryBytes >= s.MemoryBytes {
		return 0
	}
	return s.MemoryBytes - s.CurrentMemoryBytes
}

func (s *SystemLimits) MemoryUtilizationPercentage() float64 {
	return util.SafeDiv(float64(s.CurrentMemoryBytes), float64(s.MemoryBytes)) * 100
}

func (s *SystemLimits) MemoryHeadroomPercentage() float64 {
	if h := 100 - s.MemoryUtilizationPercentage(); h > 0 {
		return h
	}
	return 0
}

// CanScaleCPU reports whether n more cores fit in the envelope.
func (s *SystemLimits) CanScaleCPU(n types.Cores) bool {
	return s.AvailableCPUCores() >= n
}

// CanScaleMemory reports whether n more bytes fit in the envelope.
func (s *SystemLimits) CanScaleMemory(n types.Bytes) bool {
	return s.AvailableMemoryBytes() >= n
}

// UnderCPUPressure reports utilization at or above threshold; a
// non-positive threshold means DefaultPressureThreshold.
func (s *SystemLimits) UnderCPUPressure(threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultPressureThreshold
	}
	return s.CPUUtilizationPercentage() >= threshold
}

// UnderMemoryPressure reports memory utilization at or above threshold; a
// non-positive threshold means DefaultPressureThreshold.
func (s *SystemLimits) UnderMemoryPressure(threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultPressureThreshold
	}
	return s.MemoryUtilizationPercentage() >= threshold
}
