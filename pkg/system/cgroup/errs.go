package cgroup

import "errors"

var (
	// ErrUnsupportedPlatform indicates cgroup accounting was requested on a
	// non-Linux host. Always a hard error, never a silent None.
	ErrUnsupportedPlatform = errors.New("cgroup: accounting requires linux")

	// ErrNotFound indicates a controller file could not be resolved or read.
	// Scoped to one field, not the whole accounting pass.
	ErrNotFound = errors.New("cgroup: file not found")

	// ErrNoCgroup indicates path resolution was attempted with no cgroup
	// hierarchy present.
	ErrNoCgroup = errors.New("cgroup: no cgroup hierarchy")

	// ErrMalformed indicates content that fails to parse against the
	// expected grammar. Wrapped errors carry the field and raw snippet.
	ErrMalformed = errors.New("cgroup: malformed content")
)
