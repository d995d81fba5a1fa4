//go:build linux

package cgroup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHierarchy builds a cgroup-like tree under t.TempDir and returns a
// locator pointed at it. files maps paths relative to the root; self is
// the /proc/self/cgroup content ("" means the file does not exist).
func fakeHierarchy(t *testing.T, self string, files map[string]string) *Locator {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	selfPath := filepath.Join(root, "self.cgroup")
	if self != "" {
		require.NoError(t, os.WriteFile(selfPath, []byte(self), 0o644))
	}
	loc, err := NewLocator(&LocatorConfig{Root: root, SelfCgroup: selfPath})
	require.NoError(t, err)
	return loc
}

func mustVersion(t *testing.T, loc *Locator) Version {
	t.Helper()
	v, err := loc.Version()
	require.NoError(t, err)
	return v
}

func TestLocator_DetectV2(t *testing.T) {
	loc := fakeHierarchy(t, "0::/payload\n", map[string]string{
		"cgroup.controllers":  "cpu memory\n",
		"payload/cpu.max":     "max 100000\n",
		"payload/memory.max":  "max\n",
	})
	assert.Equal(t, V2, mustVersion(t, loc))
}

func TestLocator_DetectV1(t *testing.T) {
	loc := fakeHierarchy(t, "4:cpu,cpuacct:/docker/abc\n3:memory:/docker/abc\n", map[string]string{
		"cpu,cpuacct/docker/abc/cpu.cfs_quota_us": "-1\n",
	})
	assert.Equal(t, V1, mustVersion(t, loc))
}

func TestLocator_DetectNone(t *testing.T) {
	loc := fakeHierarchy(t, "", nil)
	assert.Equal(t, None, mustVersion(t, loc))

	_, err := loc.Resolve("cpu", "cpu.stat")
	require.ErrorIs(t, err, ErrNoCgroup)
}

func TestLocator_DetectionIsCached(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "cgroup.controllers"), []byte("cpu\n"), 0o644))
	selfPath := filepath.Join(root, "self.cgroup")
	require.NoError(t, os.WriteFile(selfPath, []byte("0::/\n"), 0o644))

	loc, err := NewLocator(&LocatorConfig{Root: root, SelfCgroup: selfPath})
	require.NoError(t, err)
	require.Equal(t, V2, mustVersion(t, loc))

	// removing the marker after first detection must not change the answer
	require.NoError(t, os.Remove(filepath.Join(root, "cgroup.controllers")))
	assert.Equal(t, V2, mustVersion(t, loc))
}

func TestLocator_V2Resolve(t *testing.T) {
	loc := fakeHierarchy(t, "0::/payload\n", map[string]string{
		"cgroup.controllers":     "cpu memory\n",
		"payload/cpu.max":        "50000 100000\n",
		"payload/memory.current": "1024\n",
	})

	p, err := loc.Resolve("", "cpu.max")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(p))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "50000 100000\n", string(b))

	// missing file fails for that file only
	_, err = loc.Resolve("", "io.stat")
	require.ErrorIs(t, err, ErrNotFound)

	// another file still resolves afterwards
	_, err = loc.Resolve("", "memory.current")
	require.NoError(t, err)
}

func TestLocator_V2ResolveWithoutUnifiedPath(t *testing.T) {
	// marker present, per-process file has no hierarchy-0 line
	loc := fakeHierarchy(t, "4:cpu:/legacy\n", map[string]string{
		"cgroup.controllers": "cpu\n",
	})
	require.Equal(t, V2, mustVersion(t, loc))
	_, err := loc.Resolve("", "cpu.max")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocator_V1ResolveCommaJoinedControllers(t *testing.T) {
	loc := fakeHierarchy(t, "5:cpu,cpuacct:/docker/abc\n2:memory:/docker/abc\n", map[string]string{
		"cpu,cpuacct/docker/abc/cpu.cfs_quota_us": "50000\n",
		"cpu,cpuacct/docker/abc/cpuacct.usage":    "123\n",
		"memory/docker/abc/memory.limit_in_bytes": "268435456\n",
	})
	require.Equal(t, V1, mustVersion(t, loc))

	// one mount line served both comma-joined controllers
	p, err := loc.Resolve("cpu", "cpu.cfs_quota_us")
	require.NoError(t, err)
	assert.Contains(t, p, "cpu,cpuacct")

	p, err = loc.Resolve("cpuacct", "cpuacct.usage")
	require.NoError(t, err)
	assert.Contains(t, p, "cpu,cpuacct")

	_, err = loc.Resolve("memory", "memory.limit_in_bytes")
	require.NoError(t, err)
}

func TestLocator_V1NaiveFallback(t *testing.T) {
	// pids controller is absent from the per-process file but mounted
	// under its plain name
	loc := fakeHierarchy(t, "5:cpu:/x\n", map[string]string{
		"cpu/x/cpu.stat":  "nr_throttled 0\n",
		"pids/pids.max":   "max\n",
	})

	p, err := loc.Resolve("pids", "pids.max")
	require.NoError(t, err)
	assert.Contains(t, p, filepath.Join("pids", "pids.max"))
}

func TestLocator_V1MissingFileIsPerField(t *testing.T) {
	loc := fakeHierarchy(t, "5:cpu:/x\n", map[string]string{
		"cpu/x/cpu.cfs_period_us": "100000\n",
	})

	_, err := loc.Resolve("cpu", "cpu.cfs_quota_us")
	require.ErrorIs(t, err, ErrNotFound)

	// the sibling file still resolves
	_, err = loc.Resolve("cpu", "cpu.cfs_period_us")
	require.NoError(t, err)
}

func TestLocator_UnreadableMarkerFailsDetection(t *testing.T) {
	// root is a plain file, so opening <root>/cgroup.controllers fails
	// with ENOTDIR, not ENOENT: the marker location is broken, not absent
	dir := t.TempDir()
	root := filepath.Join(dir, "cgroup")
	require.NoError(t, os.WriteFile(root, []byte("not a directory\n"), 0o644))

	loc, err := NewLocator(&LocatorConfig{Root: root, SelfCgroup: filepath.Join(dir, "self.cgroup")})
	require.NoError(t, err)

	v, err := loc.Version()
	require.Error(t, err)
	assert.Equal(t, None, v)
	assert.Contains(t, err.Error(), "version detection")

	// resolution reports the same failure instead of guessing a path
	_, err = loc.Resolve("cpu", "cpu.stat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version detection")
}

func TestLocator_PermissionDeniedMarkerFailsDetection(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "cgroup.controllers"), []byte("cpu memory\n"), 0o000))

	loc, err := NewLocator(&LocatorConfig{Root: root, SelfCgroup: filepath.Join(root, "self.cgroup")})
	require.NoError(t, err)

	v, err := loc.Version()
	require.Error(t, err)
	assert.Equal(t, None, v)
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestLocator_SkipsMalformedSelfCgroupLines(t *testing.T) {
	loc := fakeHierarchy(t, "garbage\n5:cpu:/x\n", map[string]string{
		"cpu/x/cpu.stat": "nr_throttled 1\n",
	})
	require.Equal(t, V1, mustVersion(t, loc))
	_, err := loc.Resolve("cpu", "cpu.stat")
	require.NoError(t, err)
}
