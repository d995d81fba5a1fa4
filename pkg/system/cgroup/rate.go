package cgroup

import "time"

type rateSample struct {
	value uint64
	at    time.Time
}

// RateCache converts cumulative kernel counters into instantaneous rates
// by remembering the previous (value, timestamp) pair per resource path.
// It is owned by the accountant instance that created it and is not safe
// for concurrent use. Entries are overwritten on every read and never
// removed.
type RateCache struct {
	now     func() time.Time
	samples map[string]rateSample
}

// NewRateCache builds an empty cache. now may be nil, in which case
// time.Now is used; tests inject a fake clock instead.
func NewRateCache(now func() time.Time) *RateCache {
	if now == nil {
		now = time.Now
	}
	return &RateCache{now: now, samples: make(map[string]rateSample)}
}

// Rate records the latest counter reading for key and derives a per-second
// rate from the previous one. unitScale is counter units per second (1e6
// for microseconds, 1e9 for nanoseconds).
//
// The second return is false when no rate can be derived: on the first
// observation of a key (two samples minimum), when the counter moved
// backwards (reset), or when the clock did not advance. The cache entry is
// updated regardless, so the next read starts from the freshest sample.
func (c *RateCache) Rate(key string, value uint64, unitScale float64) (float64, bool) {
	prev, seen := c.samples[key]
	now := c.now()
	c.samples[key] = rateSample{value: value, at: now}
	if !seen {
		return 0, false
	}
	dt := now.Sub(prev.at).Seconds()
	if value < prev.value || dt <= 0 {
		return 0, false
	}
	return float64(value-prev.value) / unitScale / dt, true
}

// Len reports the number of tracked resource paths.
func (c *RateCache) Len() int { return len(c.samples) }
