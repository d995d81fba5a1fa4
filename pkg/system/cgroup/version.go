// Package cgroup locates and interprets Linux control-group accounting
// files. It detects the hierarchy version, resolves controller file
// paths (v1 multi-mount, v2 unified) and parses quotas, usage counters
// and event counts into typed, optional values.
package cgroup

type Version int

const (
	None Version = iota // no cgroup hierarchy found
	V1                  // legacy multi-hierarchy cgroup v1
	V2                  // unified cgroup v2
)

func (v Version) String() string {
	switch v {
	case V1:
		return "cgroup v1"
	case V2:
		return "cgroup v2"
	default:
		return "none"
	}
}
