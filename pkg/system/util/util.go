package util

// EMA is an exponential moving average with smoothing factor alpha in
// [0,1]. alpha=1 passes values through; alpha=0 holds the first value.
type EMA struct {
	alpha, prev float64
	ok          bool
}

func NewEMA(alpha float64) *EMA { return &EMA{alpha: alpha} }

func (e *EMA) Next(v float64) float64 {
	if !e.ok {
		e.prev, e.ok = v, true
		return v
	}
	e.prev = e.alpha*v + (1-e.alpha)*e.prev
	return e.prev
}

// DeltaU64 returns now-prev, clipped to zero when the counter moved
// backwards (wrap or reset). Clipping is per value so the remaining
// counters of the same sample stay usable.
func DeltaU64(now, prev uint64) uint64 {
	if now >= prev {
		return now - prev
	}
	return 0
}

// SafeDiv returns n/d, or 0 when d is (numerically) zero.
func SafeDiv(n, d float64) float64 {
	const eps = 1e-12
	if d > eps || d < -eps {
		return n / d
	}
	return 0
}
