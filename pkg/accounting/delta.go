package accounting

import (
	"errors"
	"time"

	"github.com/resacct/resacct/pkg/system/proc"
	"github.com/resacct/resacct/pkg/system/util"
)

// ErrIncompatibleSnapshots indicates two CPU snapshots with different core
// counts; per-core comparison between them is meaningless.
var ErrIncompatibleSnapshots = errors.New("accounting: incompatible snapshots")

// CPUDelta is the field-wise difference of two CPU snapshots taken at
// t1 < t2, plus the elapsed interval. Any counter whose second value is
// smaller than its first (wrap or source reset) is clipped to zero for
// that field only, so the remaining counters of the sample stay usable.
type CPUDelta struct {
	Total   proc.CPUTimes
	PerCore []proc.CoreTimes
	Elapsed time.Duration
}

// NewCPUDelta computes the delta from first to second.
func NewCPUDelta(first, second proc.CPUSnapshot, elapsed time.Duration) (*CPUDelta, error) {
	if first.CoreCount() != second.CoreCount() {
		return nil, ErrIncompatibleSnapshots
	}
	d := &CPUDelta{
		Total:   deltaTimes(second.Total, first.Total),
		Elapsed: elapsed,
	}
	for i := range second.PerCore {
		d.PerCore = append(d.PerCore, proc.CoreTimes{
			Index: second.PerCore[i].Index,
			Times: deltaTimes(second.PerCore[i].Times, first.PerCore[i].Times),
		})
	}
	return d, nil
}

func deltaTimes(now, prev proc.CPUTimes) proc.CPUTimes {
	return proc.CPUTimes{
		User:    util.DeltaU64(now.User, prev.User),
		Nice:    util.DeltaU64(now.Nice, prev.Nice),
		System:  util.DeltaU64(now.System, prev.System),
		Idle:    util.DeltaU64(now.Idle, prev.Idle),
		IOWait:  util.DeltaU64(now.IOWait, prev.IOWait),
		IRQ:     util.DeltaU64(now.IRQ, prev.IRQ),
		SoftIRQ: util.DeltaU64(now.SoftIRQ, prev.SoftIRQ),
		Steal:   util.DeltaU64(now.Steal, prev.Steal),
	}
}

// usagePercent computes busy/total*100 for one counter delta. Zero elapsed
// ticks is exactly 0%, never a division by zero.
func usagePercent(t proc.CPUTimes) float64 {
	return util.SafeDiv(float64(t.Busy()), float64(t.Total())) * 100
}

// UsagePercentage is the aggregate busy share of the interval, where busy
// is everything but idle and iowait.
func (d *CPUDelta) UsagePercentage() float64 {
	return usagePercent(d.Total)
}

// NormalizedUsagePercentage spreads the aggregate usage over the core
// count, yielding the average per-core busy share.
func (d *CPUDelta) NormalizedUsagePercentage() float64 {
	return util.SafeDiv(d.UsagePercentage(), float64(len(d.PerCore)))
}

// CoreUsagePercentage returns the busy share of the i-th captured core.
func (d *CPUDelta) CoreUsagePercentage(i int) float64 {
	if i < 0 || i >= len(d.PerCore) {
		return 0
	}
	return usagePercent(d.PerCore[i].Times)
}

// BusiestCore returns the core index and usage of the most loaded core,
// ties resolved by lowest index. Index -1 when no per-core data exists.
func (d *CPUDelta) BusiestCore() (int, float64) {
	idx, best := -1, 0.0
	for _, c := range d.PerCore {
		u := usagePercent(c.Times)
		if idx == -1 || u > best {
			idx, best = c.Index, u
		}
	}
	return idx, best
}

// IdlestCore returns the core index and usage of the least loaded core,
// ties resolved by lowest index.
func (d *CPUDelta) IdlestCore() (int, float64) {
	idx, worst := -1, 0.0
	for _, c := range d.PerCore {
		u := usagePercent(c.Times)
		if idx == -1 || u < worst {
			idx, worst = c.Index, u
		}
	}
	return idx, worst
}
