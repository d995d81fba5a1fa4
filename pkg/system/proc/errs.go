package proc

import "errors"

var (
	// ErrNoCPU indicates that the stat file had no aggregate CPU line.
	ErrNoCPU = errors.New("proc: no cpu line")

	// ErrShortStat indicates a CPU line had fewer counter fields than expected.
	ErrShortStat = errors.New("proc: short cpu line")

	// ErrNoMemTotal indicates that meminfo had no MemTotal line.
	ErrNoMemTotal = errors.New("proc: meminfo missing MemTotal")
)
