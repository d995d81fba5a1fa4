package types

import "fmt"

// Cores is a fractional count of CPU cores (e.g. a cgroup quota of
// 50000/100000 is 0.5 cores).
type Cores float64

func (c Cores) String() string {
	return fmt.Sprintf("%.2f cores", float64(c))
}

// Ptr returns a pointer to v. Optional DTO fields model "not available /
// not limited" as a nil pointer, never a sentinel number; Ptr keeps the
// present case terse.
func Ptr[T any](v T) *T { return &v }
