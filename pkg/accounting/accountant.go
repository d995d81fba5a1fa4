package accounting

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gcpu "github.com/shirou/gopsutil/v4/cpu"

	"github.com/resacct/resacct/pkg/fallback"
	"github.com/resacct/resacct/pkg/system/cgroup"
	"github.com/resacct/resacct/pkg/system/host"
	"github.com/resacct/resacct/pkg/system/proc"
	"github.com/resacct/resacct/pkg/system/util"
	"github.com/resacct/resacct/pkg/types"
)

// Config tunes an Accountant. Zero values mean defaults; a populated
// field overrides. Tests point the roots at fixture trees and inject a
// fake clock.
type Config struct {
	// CgroupRoot is the cgroup filesystem mount, default /sys/fs/cgroup.
	CgroupRoot string
	// SelfCgroup is the per-process controller list, default
	// /proc/self/cgroup.
	SelfCgroup string
	// ProcRoot is the procfs mount, default /proc.
	ProcRoot string
	// MinInterval bounds CPU measurement noise; shorter requested
	// intervals are raised to it. Default 100ms.
	MinInterval time.Duration
	// SmoothingAlpha in (0,1] applies an EMA to the container CPU usage
	// rate. 0 disables smoothing.
	SmoothingAlpha float64
	// Logger for degraded-field traces; nil means no logging.
	Logger *zerolog.Logger
	// Now is the clock used by the rate cache; nil means time.Now.
	Now func() time.Time
}

func defaultConfig() Config {
	return Config{
		CgroupRoot:  cgroup.DefaultRoot,
		SelfCgroup:  cgroup.DefaultSelfCgroup,
		ProcRoot:    proc.DefaultRoot,
		MinInterval: 100 * time.Millisecond,
	}
}

// Accountant owns every piece of state an accounting pass needs: the
// detected cgroup version, the rate cache and the provider wiring. It is
// an explicit instance rather than package globals so one value serves
// one sequential caller and tests can run many side by side. It is not
// safe for concurrent use.
type Accountant struct {
	cfg Config
	log zerolog.Logger

	loc    *cgroup.Locator
	reader *cgroup.Reader
	locErr error

	hostCores int
	usageEMA  *util.EMA
	sleep     func(time.Duration)
}

// New builds an Accountant. Construction always succeeds: on non-Linux
// hosts the container-side calls report ErrUnsupportedPlatform while the
// host view keeps working.
func New(cfg *Config) *Accountant {
	merged := defaultConfig()
	if cfg != nil {
		if cfg.CgroupRoot != "" {
			merged.CgroupRoot = cfg.CgroupRoot
		}
		if cfg.SelfCgroup != "" {
			merged.SelfCgroup = cfg.SelfCgroup
		}
		if cfg.ProcRoot != "" {
			merged.ProcRoot = cfg.ProcRoot
		}
		if cfg.MinInterval > 0 {
			merged.MinInterval = cfg.MinInterval
		}
		if cfg.SmoothingAlpha > 0 && cfg.SmoothingAlpha <= 1 {
			merged.SmoothingAlpha = cfg.SmoothingAlpha
		}
		merged.Logger = cfg.Logger
		merged.Now = cfg.Now
	}

	a := &Accountant{
		cfg:       merged,
		log:       zerolog.Nop(),
		hostCores: host.Cores(),
		sleep:     time.Sleep,
	}
	if merged.Logger != nil {
		a.log = *merged.Logger
	}
	if merged.SmoothingAlpha > 0 {
		a.usageEMA = util.NewEMA(merged.SmoothingAlpha)
	}

	a.loc, a.locErr = cgroup.NewLocator(&cgroup.LocatorConfig{
		Root:       merged.CgroupRoot,
		SelfCgroup: merged.SelfCgroup,
		Logger:     &a.log,
	})
	if a.locErr == nil {
		a.reader = cgroup.NewReader(a.loc, cgroup.NewRateCache(merged.Now), a.hostCores, a.log)
	}
	return a
}

// ContainerLimits reads the container-side allocation and usage view.
// Individual fields degrade to absent on missing or malformed files (with
// a log trace); a non-Linux host or a failed version detection (a marker
// file present but unreadable) is a hard error.
func (a *Accountant) ContainerLimits() (*ContainerLimits, error) {
	if a.locErr != nil {
		return nil, a.locErr
	}

	ver, err := a.loc.Version()
	if err != nil {
		return nil, err
	}
	cl := &ContainerLimits{CgroupVersion: ver}
	if cl.CgroupVersion == cgroup.None {
		return cl, nil
	}

	cl.CPUQuotaCores = coresField(a, "cpu quota", a.reader.CPUQuotaCores)
	cl.MemoryLimitBytes = bytesField(a, "memory limit", a.reader.MemoryLimitBytes)
	cl.CPUUsageCores = coresField(a, "cpu usage", a.reader.CPUUsageCores)
	cl.MemoryUsageBytes = bytesField(a, "memory usage", a.reader.MemoryUsageBytes)
	cl.CPUThrottledCount = countField(a, "throttle count", a.reader.CPUThrottledCount)
	cl.OOMKillCount = countField(a, "oom kills", a.reader.OOMKillCount)

	if a.usageEMA != nil && cl.CPUUsageCores != nil {
		smoothed := a.usageEMA.Next(float64(*cl.CPUUsageCores))
		cl.CPUUsageCores = types.Ptr(types.Cores(smoothed))
	}
	return cl, nil
}

func coresField(a *Accountant, name string, read func() (*types.Cores, error)) *types.Cores {
	v, err := read()
	if err != nil {
		a.log.Warn().Err(err).Str("field", name).Msg("accounting: field degraded to absent")
		return nil
	}
	return v
}

func bytesField(a *Accountant, name string, read func() (*types.Bytes, error)) *types.Bytes {
	v, err := read()
	if err != nil {
		a.log.Warn().Err(err).Str("field", name).Msg("accounting: field degraded to absent")
		return nil
	}
	return v
}

func countField(a *Accountant, name string, read func() (*uint64, error)) *uint64 {
	v, err := read()
	if err != nil {
		a.log.Warn().Err(err).Str("field", name).Msg("accounting: field degraded to absent")
		return nil
	}
	return v
}

// SystemLimits merges the host and container views into one envelope.
// Containerized workloads must respect their allocation, not the host's:
// when a cgroup hierarchy exists and grants at least one hard limit, the
// cgroup view wins; otherwise the host view applies. On the host path the
// call blocks for MinInterval (100ms default) to measure current CPU
// usage from two snapshots.
func (a *Accountant) SystemLimits() (*SystemLimits, error) {
	hv, err := host.Read(a.cfg.ProcRoot, a.log)
	if err != nil {
		return nil, fmt.Errorf("accounting: %w", err)
	}

	var cl *ContainerLimits
	if a.locErr == nil {
		if cl, err = a.ContainerLimits(); err != nil {
			return nil, err
		}
	}

	if cl.Limited() {
		sl := &SystemLimits{
			CPUCores:    types.Cores(hv.CPUCores),
			MemoryBytes: types.Bytes(hv.MemoryTotal),
		}
		switch cl.CgroupVersion {
		case cgroup.V2:
			sl.Source = SourceCgroupV2
		default:
			sl.Source = SourceCgroupV1
		}
		if cl.CPUQuotaCores != nil {
			sl.CPUCores = *cl.CPUQuotaCores
		}
		if cl.MemoryLimitBytes != nil {
			sl.MemoryBytes = *cl.MemoryLimitBytes
		}
		if cl.CPUUsageCores != nil {
			sl.CurrentCPUCores = *cl.CPUUsageCores
		}
		if cl.MemoryUsageBytes != nil {
			sl.CurrentMemoryBytes = *cl.MemoryUsageBytes
		}
		return sl, nil
	}

	sl := &SystemLimits{
		Source:             SourceHost,
		CPUCores:           types.Cores(hv.CPUCores),
		MemoryBytes:        types.Bytes(hv.MemoryTotal),
		CurrentMemoryBytes: types.Bytes(hv.MemoryUsed),
	}
	// Host-side CPU usage needs two snapshots; this blocks for MinInterval.
	if d, err := a.MeasureCPU(a.cfg.MinInterval); err == nil {
		sl.CurrentCPUCores = types.Cores(d.UsagePercentage() / 100 * float64(hv.CPUCores))
	} else {
		a.log.Debug().Err(err).Msg("accounting: host cpu usage unavailable")
	}
	return sl, nil
}

// CPUSnapshot captures the per-core counters, preferring the direct stat
// read and falling back to gopsutil.
func (a *Accountant) CPUSnapshot() (proc.CPUSnapshot, error) {
	return fallback.Resolve([]fallback.Provider[proc.CPUSnapshot]{
		fallback.New("proc-stat", func() (proc.CPUSnapshot, error) {
			return proc.ReadCPUSnapshot(a.cfg.ProcRoot)
		}),
		fallback.New("gopsutil", gopsutilSnapshot),
	})
}

// MeasureCPU takes two snapshots separated by a plain blocking sleep and
// returns their delta. Intervals below MinInterval are raised to it; the
// wait is not cancellable, so callers choose the interval up front.
func (a *Accountant) MeasureCPU(interval time.Duration) (*CPUDelta, error) {
	if interval < a.cfg.MinInterval {
		interval = a.cfg.MinInterval
	}
	first, err := a.CPUSnapshot()
	if err != nil {
		return nil, err
	}
	a.sleep(interval)
	second, err := a.CPUSnapshot()
	if err != nil {
		return nil, err
	}
	return NewCPUDelta(first, second, interval)
}

// gopsutilSnapshot rebuilds a tick-based snapshot from gopsutil's
// per-core seconds.
func gopsutilSnapshot() (proc.CPUSnapshot, error) {
	perCore, err := gcpu.Times(true)
	if err != nil {
		return proc.CPUSnapshot{}, err
	}
	if len(perCore) == 0 {
		return proc.CPUSnapshot{}, errors.New("gopsutil: no cpu times")
	}

	ticks := float64(proc.ClockTicks())
	var snap proc.CPUSnapshot
	for i, ts := range perCore {
		t := proc.CPUTimes{
			User:    uint64(ts.User * ticks),
			Nice:    uint64(ts.Nice * ticks),
			System:  uint64(ts.System * ticks),
			Idle:    uint64(ts.Idle * ticks),
			IOWait:  uint64(ts.Iowait * ticks),
			IRQ:     uint64(ts.Irq * ticks),
			SoftIRQ: uint64(ts.Softirq * ticks),
			Steal:   uint64(ts.Steal * ticks),
		}
		idx := i
		if n, err := strconv.Atoi(strings.TrimPrefix(ts.CPU, "cpu")); err == nil {
			idx = n
		}
		snap.PerCore = append(snap.PerCore, proc.CoreTimes{Index: idx, Times: t})
		snap.Total.User += t.User
		snap.Total.Nice += t.Nice
		snap.Total.System += t.System
		snap.Total.Idle += t.Idle
		snap.Total.IOWait += t.IOWait
		snap.Total.IRQ += t.IRQ
		snap.Total.SoftIRQ += t.SoftIRQ
		snap.Total.Steal += t.Steal
	}
	return snap, nil
}
