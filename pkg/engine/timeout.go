package engine

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL is the deadline applied to stitched operations when none is given.
const DefaultTTL = 3 * time.Second

// WithTimeout wraps an executable with a deadline. When the deadline passes
// the call returns an error matching ErrTimeout. The wrapped call keeps
// running in the background and its result is discarded; cancelling ctx is
// the only way to stop it. A non-positive timeout disables the deadline.
func WithTimeout(exec Executable, timeout time.Duration) Executable {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return runWithDeadline(ctx, timeout, func(ctx context.Context) (map[string]any, error) {
			return exec(ctx, input)
		})
	}
}

func runWithDeadline[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	type outcome struct {
		value T
		err   error
	}

	// Buffered so the goroutine can always deliver and exit after a timeout.
	done := make(chan outcome, 1)
	go func() {
		value, err := fn(ctx)
		done <- outcome{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case o := <-done:
		return o.value, o.err
	case <-timer.C:
		return zero, timeoutError(timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func timeoutError(timeout time.Duration) *EngineError {
	return NewRuntimeError(fmt.Sprintf("operation did not settle within %s", timeout), nil).
		WithCode(ErrCodeTimeout).WithDetail("timeout_ms", timeout.Milliseconds())
}
