//go:build linux

package cgroup

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resacct/resacct/pkg/types"
)

const testHostCores = 8

func v2Reader(t *testing.T, clock *fakeClock, files map[string]string) *Reader {
	t.Helper()
	all := map[string]string{"cgroup.controllers": "cpu memory\n"}
	for name, body := range files {
		all["payload/"+name] = body
	}
	loc := fakeHierarchy(t, "0::/payload\n", all)
	return NewReader(loc, NewRateCache(clock.now), testHostCores, zerolog.Nop())
}

func v1Reader(t *testing.T, clock *fakeClock, files map[string]string) *Reader {
	t.Helper()
	all := make(map[string]string, len(files))
	for name, body := range files {
		switch {
		case name == "cpuacct.usage":
			all["cpu,cpuacct/docker/abc/"+name] = body
		case len(name) > 3 && name[:3] == "cpu":
			all["cpu,cpuacct/docker/abc/"+name] = body
		default:
			all["memory/docker/abc/"+name] = body
		}
	}
	loc := fakeHierarchy(t, "5:cpu,cpuacct:/docker/abc\n2:memory:/docker/abc\n", all)
	return NewReader(loc, NewRateCache(clock.now), testHostCores, zerolog.Nop())
}

// rewriteFile overwrites an already-resolvable controller file, simulating
// the kernel ticking a counter between two samples.
func rewriteFile(t *testing.T, r *Reader, controller, name, content string) {
	t.Helper()
	p, err := r.loc.Resolve(controller, name)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestCPUQuotaCores_V2(t *testing.T) {
	cases := []struct {
		content string
		want    *types.Cores
	}{
		{"50000 100000\n", types.Ptr(types.Cores(0.5))},
		{"200000 100000\n", types.Ptr(types.Cores(2))},
		{"max 100000\n", nil},
		{"0 100000\n", nil},
		{"-1 100000\n", nil},
		{"100000 0\n", nil},
		// 100 cores worth of quota on an 8 core host clamps to 8
		{"10000000 100000\n", types.Ptr(types.Cores(testHostCores))},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			r := v2Reader(t, newFakeClock(), map[string]string{"cpu.max": tc.content})
			got, err := r.CPUQuotaCores()
			require.NoError(t, err)
			if tc.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, float64(*tc.want), float64(*got), 1e-9)
		})
	}
}

func TestCPUQuotaCores_V2Malformed(t *testing.T) {
	r := v2Reader(t, newFakeClock(), map[string]string{"cpu.max": "fifty 100000\n"})
	_, err := r.CPUQuotaCores()
	require.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "fifty")

	r = v2Reader(t, newFakeClock(), map[string]string{"cpu.max": "1 2 3\n"})
	_, err = r.CPUQuotaCores()
	require.ErrorIs(t, err, ErrMalformed)
}

func TestCPUQuotaCores_V1(t *testing.T) {
	cases := []struct {
		quota, period string
		want          *types.Cores
	}{
		{"50000\n", "100000\n", types.Ptr(types.Cores(0.5))},
		{"-1\n", "100000\n", nil},
		{"0\n", "100000\n", nil},
		{"100000\n", "0\n", nil},
		{"400000\n", "100000\n", types.Ptr(types.Cores(4))},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			r := v1Reader(t, newFakeClock(), map[string]string{
				"cpu.cfs_quota_us":  tc.quota,
				"cpu.cfs_period_us": tc.period,
			})
			got, err := r.CPUQuotaCores()
			require.NoError(t, err)
			if tc.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, float64(*tc.want), float64(*got), 1e-9)
		})
	}
}

func TestCPUQuotaCores_MissingFilesAreAbsent(t *testing.T) {
	r := v2Reader(t, newFakeClock(), nil)
	got, err := r.CPUQuotaCores()
	require.NoError(t, err)
	assert.Nil(t, got)

	r = v1Reader(t, newFakeClock(), map[string]string{"cpu.cfs_quota_us": "50000\n"})
	got, err = r.CPUQuotaCores()
	require.NoError(t, err, "missing period file degrades to absent")
	assert.Nil(t, got)
}

func TestMemoryLimitBytes(t *testing.T) {
	r := v2Reader(t, newFakeClock(), map[string]string{"memory.max": "268435456\n"})
	got, err := r.MemoryLimitBytes()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.Bytes(268435456), *got)

	r = v2Reader(t, newFakeClock(), map[string]string{"memory.max": "max\n"})
	got, err = r.MemoryLimitBytes()
	require.NoError(t, err)
	assert.Nil(t, got)

	r = v1Reader(t, newFakeClock(), map[string]string{"memory.limit_in_bytes": "268435456\n"})
	got, err = r.MemoryLimitBytes()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.Bytes(268435456), *got)

	// kernel's effectively-unlimited sentinel is not a real limit
	r = v1Reader(t, newFakeClock(), map[string]string{"memory.limit_in_bytes": "9223372036854771712\n"})
	got, err = r.MemoryLimitBytes()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryUsageBytes(t *testing.T) {
	r := v2Reader(t, newFakeClock(), map[string]string{"memory.current": "134217728\n"})
	got, err := r.MemoryUsageBytes()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.Bytes(134217728), *got)

	r = v1Reader(t, newFakeClock(), map[string]string{"memory.usage_in_bytes": "1024\n"})
	got, err = r.MemoryUsageBytes()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.Bytes(1024), *got)
}

func TestCPUUsageCores_TwoSampleRate(t *testing.T) {
	clock := newFakeClock()
	r := v2Reader(t, clock, map[string]string{"cpu.stat": "usage_usec 1000000\nnr_periods 10\n"})

	// first sample only primes the cache
	got, err := r.CPUUsageCores()
	require.NoError(t, err)
	assert.Nil(t, got)

	// rewrite the counter and advance the clock: 1s of cpu over 2s = 0.5 cores
	clock.advance(2 * time.Second)
	rewriteFile(t, r, "", "cpu.stat", "usage_usec 2000000\nnr_periods 12\n")
	got, err = r.CPUUsageCores()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 0.5, float64(*got), 1e-9)
}

func TestCPUUsageCores_CounterReset(t *testing.T) {
	clock := newFakeClock()
	r := v2Reader(t, clock, map[string]string{"cpu.stat": "usage_usec 5000000\n"})

	_, err := r.CPUUsageCores()
	require.NoError(t, err)

	clock.advance(time.Second)
	rewriteFile(t, r, "", "cpu.stat", "usage_usec 1000000\n")
	got, err := r.CPUUsageCores()
	require.NoError(t, err)
	assert.Nil(t, got, "decreasing counter must not yield a negative rate")
}

func TestCPUUsageCores_V1Nanoseconds(t *testing.T) {
	clock := newFakeClock()
	r := v1Reader(t, clock, map[string]string{"cpuacct.usage": "1000000000\n"})

	_, err := r.CPUUsageCores()
	require.NoError(t, err)

	clock.advance(time.Second)
	rewriteFile(t, r, "cpuacct", "cpuacct.usage", "2500000000\n")
	got, err := r.CPUUsageCores()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 1.5, float64(*got), 1e-9)
}

func TestCPUThrottledCount(t *testing.T) {
	r := v2Reader(t, newFakeClock(), map[string]string{"cpu.stat": "usage_usec 1\nnr_throttled 42\n"})
	got, err := r.CPUThrottledCount()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(42), *got)

	// field missing from the file: absent, not zero
	r = v2Reader(t, newFakeClock(), map[string]string{"cpu.stat": "usage_usec 1\n"})
	got, err = r.CPUThrottledCount()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOOMKillCount(t *testing.T) {
	r := v2Reader(t, newFakeClock(), map[string]string{"memory.events": "low 0\noom 3\noom_kill 2\n"})
	got, err := r.OOMKillCount()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(2), *got)

	r = v1Reader(t, newFakeClock(), map[string]string{"memory.oom_control": "oom_kill_disable 0\nunder_oom 0\noom_kill 1\n"})
	got, err = r.OOMKillCount()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(1), *got)

	r = v1Reader(t, newFakeClock(), map[string]string{"memory.oom_control": "oom_kill_disable 0\n"})
	got, err = r.OOMKillCount()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReader_NoneVersionReportsAllAbsent(t *testing.T) {
	loc := fakeHierarchy(t, "", nil)
	r := NewReader(loc, NewRateCache(newFakeClock().now), testHostCores, zerolog.Nop())

	quota, err := r.CPUQuotaCores()
	require.NoError(t, err)
	assert.Nil(t, quota)

	mem, err := r.MemoryLimitBytes()
	require.NoError(t, err)
	assert.Nil(t, mem)

	usage, err := r.CPUUsageCores()
	require.NoError(t, err)
	assert.Nil(t, usage)
}
