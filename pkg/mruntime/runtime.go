package mruntime

import (
	"context"
	"runtime"
	"runtime/debug"
)

// ErrorLogger is the minimal logging surface required for panic reporting.
type ErrorLogger interface {
	Errorf(format string, args ...any)
}

// MemoryUsageBytes returns the current heap allocation of the process.
func MemoryUsageBytes() uint64 {
	var ms runtime.MemStats

	runtime.ReadMemStats(&ms)

	return ms.HeapAlloc
}

// RecoverAndLog recovers a panic in the calling goroutine and logs it with the
// component and worker identity instead of crashing the process.
func RecoverAndLog(ctx context.Context, logger ErrorLogger, component, worker string) {
	if r := recover(); r != nil {
		logger.Errorf("panic recovered in %s/%s: %v\n%s", component, worker, r, debug.Stack())
	}
}

// SafeGoWithContext launches fn in a goroutine guarded by RecoverAndLog.
func SafeGoWithContext(ctx context.Context, logger ErrorLogger, component, worker string, fn func(ctx context.Context)) {
	go func() {
		defer RecoverAndLog(ctx, logger, component, worker)

		fn(ctx)
	}()
}
