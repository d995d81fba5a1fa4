package cgroup

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/resacct/resacct/pkg/types"
)

// Kernel v1 "no limit" sentinel: memory.limit_in_bytes reports a value
// near max int64 (page-rounded) on unlimited groups. Anything at or above
// this is a fictitious multi-exabyte limit, reported as absent.
const memoryV1Unlimited uint64 = 9_000_000_000_000_000_000

// Counter unit scales, in counter units per second.
const (
	scaleMicroseconds = 1e6 // v2 cpu.stat usage_usec
	scaleNanoseconds  = 1e9 // v1 cpuacct.usage
)

// Reader interprets cgroup files into typed limits and usage. Optional
// results are nil when the limit is not configured or the file is not
// exposed; a nil result is never a measured zero. Parse failures surface
// as ErrMalformed with the offending snippet.
type Reader struct {
	loc       *Locator
	rates     *RateCache
	hostCores int
	log       zerolog.Logger
}

// NewReader wires a Reader to a Locator and a RateCache. hostCores bounds
// reported CPU quotas: a cgroup can never grant more cores than the host
// has.
func NewReader(loc *Locator, rates *RateCache, hostCores int, logger zerolog.Logger) *Reader {
	return &Reader{loc: loc, rates: rates, hostCores: hostCores, log: logger}
}

// CPUQuotaCores returns the effective CPU allowance in cores
// (quota/period), clamped to the host core count. Nil when unlimited
// ("max", quota <= 0) or when the controller files are unavailable.
func (r *Reader) CPUQuotaCores() (*types.Cores, error) {
	ver, err := r.loc.Version()
	if err != nil {
		return nil, err
	}
	switch ver {
	case V2:
		content, found := r.read("", "cpu.max")
		if !found {
			return nil, nil
		}
		fs := strings.Fields(content)
		if len(fs) != 2 {
			return nil, fmt.Errorf("%w: cpu.max: %q", ErrMalformed, content)
		}
		if fs[0] == "max" {
			return nil, nil
		}
		quota, err := parseInt("cpu.max quota", fs[0])
		if err != nil {
			return nil, err
		}
		period, err := parseInt("cpu.max period", fs[1])
		if err != nil {
			return nil, err
		}
		return r.quotaCores(quota, period), nil

	case V1:
		quotaRaw, found := r.read("cpu", "cpu.cfs_quota_us")
		if !found {
			return nil, nil
		}
		quota, err := parseInt("cpu.cfs_quota_us", strings.TrimSpace(quotaRaw))
		if err != nil {
			return nil, err
		}
		periodRaw, found := r.read("cpu", "cpu.cfs_period_us")
		if !found {
			return nil, nil
		}
		period, err := parseInt("cpu.cfs_period_us", strings.TrimSpace(periodRaw))
		if err != nil {
			return nil, err
		}
		return r.quotaCores(quota, period), nil

	default:
		return nil, nil
	}
}

// quotaCores turns quota/period into cores. Non-positive quota (the v1
// "-1" unlimited marker included) or period means no limit.
func (r *Reader) quotaCores(quota, period int64) *types.Cores {
	if quota <= 0 || period <= 0 {
		return nil
	}
	cores := float64(quota) / float64(period)
	if host := float64(r.hostCores); r.hostCores > 0 && cores > host {
		cores = host
	}
	return types.Ptr(types.Cores(cores))
}

// MemoryLimitBytes returns the configured memory limit, nil when
// unlimited ("max" on v2, the near-max-int64 sentinel on v1).
func (r *Reader) MemoryLimitBytes() (*types.Bytes, error) {
	ver, err := r.loc.Version()
	if err != nil {
		return nil, err
	}
	switch ver {
	case V2:
		content, found := r.read("", "memory.max")
		if !found {
			return nil, nil
		}
		raw := strings.TrimSpace(content)
		if raw == "max" {
			return nil, nil
		}
		v, err := parseUint("memory.max", raw)
		if err != nil {
			return nil, err
		}
		return types.Ptr(types.Bytes(v)), nil

	case V1:
		content, found := r.read("memory", "memory.limit_in_bytes")
		if !found {
			return nil, nil
		}
		v, err := parseUint("memory.limit_in_bytes", strings.TrimSpace(content))
		if err != nil {
			return nil, err
		}
		if v >= memoryV1Unlimited {
			return nil, nil
		}
		return types.Ptr(types.Bytes(v)), nil

	default:
		return nil, nil
	}
}

// MemoryUsageBytes returns current memory usage of the cgroup.
func (r *Reader) MemoryUsageBytes() (*types.Bytes, error) {
	ver, err := r.loc.Version()
	if err != nil {
		return nil, err
	}
	var content string
	var found bool
	switch ver {
	case V2:
		content, found = r.read("", "memory.current")
	case V1:
		content, found = r.read("memory", "memory.usage_in_bytes")
	default:
		return nil, nil
	}
	if !found {
		return nil, nil
	}
	v, err := parseUint("memory usage", strings.TrimSpace(content))
	if err != nil {
		return nil, err
	}
	return types.Ptr(types.Bytes(v)), nil
}

// CPUUsageCores derives the instantaneous CPU usage rate in cores from
// the cumulative usage counter. The kernel exposes a counter, not a rate,
// so two samples are needed: the first call per path primes the rate
// cache and reports nil.
func (r *Reader) CPUUsageCores() (*types.Cores, error) {
	ver, err := r.loc.Version()
	if err != nil {
		return nil, err
	}
	var (
		path  string
		value uint64
		scale float64
	)
	switch ver {
	case V2:
		p, err := r.loc.Resolve("", "cpu.stat")
		if err != nil {
			return nil, r.degrade(err, "cpu.stat")
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, r.degrade(err, "cpu.stat")
		}
		v, ok, err := statValue(string(content), "usage_usec")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		path, value, scale = p, v, scaleMicroseconds

	case V1:
		p, err := r.loc.Resolve("cpuacct", "cpuacct.usage")
		if err != nil {
			return nil, r.degrade(err, "cpuacct.usage")
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, r.degrade(err, "cpuacct.usage")
		}
		v, err := parseUint("cpuacct.usage", strings.TrimSpace(string(content)))
		if err != nil {
			return nil, err
		}
		path, value, scale = p, v, scaleNanoseconds

	default:
		return nil, nil
	}

	rate, ok := r.rates.Rate(path, value, scale)
	if !ok {
		return nil, nil
	}
	return types.Ptr(types.Cores(rate)), nil
}

// CPUThrottledCount returns the number of periods the cgroup was
// throttled (cpu.stat nr_throttled). Nil when the file or field is not
// exposed: a missing counter is not a measured zero.
func (r *Reader) CPUThrottledCount() (*uint64, error) {
	ver, err := r.loc.Version()
	if err != nil {
		return nil, err
	}
	var content string
	var found bool
	switch ver {
	case V2:
		content, found = r.read("", "cpu.stat")
	case V1:
		content, found = r.read("cpu", "cpu.stat")
	default:
		return nil, nil
	}
	if !found {
		return nil, nil
	}
	v, ok, err := statValue(content, "nr_throttled")
	if err != nil || !ok {
		return nil, err
	}
	return types.Ptr(v), nil
}

// OOMKillCount returns the number of OOM kills in the cgroup
// (memory.events oom_kill on v2, memory.oom_control on v1).
func (r *Reader) OOMKillCount() (*uint64, error) {
	ver, err := r.loc.Version()
	if err != nil {
		return nil, err
	}
	var content string
	var found bool
	switch ver {
	case V2:
		content, found = r.read("", "memory.events")
	case V1:
		content, found = r.read("memory", "memory.oom_control")
	default:
		return nil, nil
	}
	if !found {
		return nil, nil
	}
	v, ok, err := statValue(content, "oom_kill")
	if err != nil || !ok {
		return nil, err
	}
	return types.Ptr(v), nil
}

// read resolves and reads one controller file. A missing or unreadable
// file degrades to not-found: the field it feeds reports absent while the
// rest of the accounting pass proceeds.
func (r *Reader) read(controller, file string) (string, bool) {
	p, err := r.loc.Resolve(controller, file)
	if err != nil {
		_ = r.degrade(err, file)
		return "", false
	}
	b, err := os.ReadFile(p)
	if err != nil {
		_ = r.degrade(err, file)
		return "", false
	}
	return string(b), true
}

// degrade logs a per-field failure and swallows resolution misses.
// ErrNoCgroup and ErrNotFound mean "this field is absent here"; anything
// else would be a programming error and is returned as-is.
func (r *Reader) degrade(err error, field string) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoCgroup) || os.IsNotExist(err) || os.IsPermission(err) {
		r.log.Debug().Err(err).Str("field", field).Msg("cgroup: field unavailable")
		return nil
	}
	return err
}

// statValue extracts one "key value" line from flat keyed content such as
// cpu.stat or memory.events.
func statValue(content, key string) (uint64, bool, error) {
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		fs := strings.Fields(sc.Text())
		if len(fs) < 2 || fs[0] != key {
			continue
		}
		v, err := strconv.ParseUint(fs[1], 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w: %s: %q", ErrMalformed, key, sc.Text())
		}
		return v, true, nil
	}
	return 0, false, nil
}

func parseUint(field, raw string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q", ErrMalformed, field, raw)
	}
	return v, nil
}

func parseInt(field, raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q", ErrMalformed, field, raw)
	}
	return v, nil
}
