package budget

import (
	"time"

	"github.com/AureliaStudio/conveyor/pkg/mruntime"
)

// Defaults applied when the configuration leaves a field zero.
const (
	DefaultMaxExecution       = 25 * time.Second
	DefaultMemoryLimitPercent = 0.8
)

// Budget is the cooperative yield signal for the runners: when it reports
// exceeded, the current worker stops doing more work in-process and enqueues a
// continuation job. The check runs between steps, never inside one.
type Budget struct {
	startedAt          time.Time
	maxExecution       time.Duration
	memoryLimitPercent float64
	memoryCapBytes     uint64

	now         func() time.Time
	memoryUsage func() uint64
}

// New returns a budget started now. A zero memoryCapBytes disables the memory
// check.
func New(maxExecution time.Duration, memoryLimitPercent float64, memoryCapBytes uint64) *Budget {
	if maxExecution <= 0 {
		maxExecution = DefaultMaxExecution
	}

	if memoryLimitPercent <= 0 {
		memoryLimitPercent = DefaultMemoryLimitPercent
	}

	b := &Budget{
		maxExecution:       maxExecution,
		memoryLimitPercent: memoryLimitPercent,
		memoryCapBytes:     memoryCapBytes,
		now:                time.Now,
		memoryUsage:        mruntime.MemoryUsageBytes,
	}

	b.startedAt = b.now()

	return b
}

// Reset restarts the wall clock, typically at the top of a worker invocation.
func (b *Budget) Reset() {
	b.startedAt = b.now()
}

// Exceeded reports whether the wall-clock or memory budget has run out.
func (b *Budget) Exceeded() bool {
	if b.now().Sub(b.startedAt) >= b.maxExecution {
		return true
	}

	if b.memoryCapBytes > 0 {
		limit := uint64(float64(b.memoryCapBytes) * b.memoryLimitPercent)
		if b.memoryUsage() >= limit {
			return true
		}
	}

	return false
}
