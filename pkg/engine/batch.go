package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BatchResult is the outcome of one input of a batch.
type BatchResult struct {
	Index    int            `json:"index"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// BatchOptions configures a batch run.
type BatchOptions struct {
	// MaxParallel bounds the number of concurrent invocations.
	MaxParallel int

	// FailFast stops handing out inputs after the first failure.
	FailFast bool
}

// BatchRunner invokes one executable over many inputs with a worker pool.
type BatchRunner struct {
	exec        Executable
	maxParallel int
}

// NewBatchRunner creates a batch runner. maxParallel defaults to 10.
func NewBatchRunner(exec Executable, maxParallel int) *BatchRunner {
	if maxParallel <= 0 {
		maxParallel = 10
	}
	return &BatchRunner{exec: exec, maxParallel: maxParallel}
}

// Run invokes the executable for every input. Results are returned in input
// order; inputs skipped after a fail-fast stop or a cancelled ctx have an
// error result. The returned error is the first failure reported, if any,
// and wraps ctx.Err() when inputs were skipped because ctx was done.
func (r *BatchRunner) Run(ctx context.Context, inputs []map[string]any, opts BatchOptions) ([]BatchResult, error) {
	results := make([]BatchResult, len(inputs))
	if len(inputs) == 0 {
		return results, nil
	}

	// Determine worker count (min of maxParallel and number of inputs)
	workerCount := r.maxParallel
	if opts.MaxParallel > 0 && opts.MaxParallel < workerCount {
		workerCount = opts.MaxParallel
	}
	if len(inputs) < workerCount {
		workerCount = len(inputs)
	}

	workQueue := make(chan int, len(inputs))
	for i := range inputs {
		workQueue <- i
	}
	close(workQueue)

	var (
		wg      sync.WaitGroup
		stopped sync.Once
		stop    = make(chan struct{})
		errChan = make(chan error, len(inputs))
	)

	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for i := range workQueue {
				select {
				case <-stop:
					results[i] = BatchResult{Index: i, Error: "skipped after an earlier failure"}
					continue
				case <-ctx.Done():
					results[i] = BatchResult{Index: i, Error: ctx.Err().Error()}
					errChan <- fmt.Errorf("input %d not run: %w", i, ctx.Err())
					continue
				default:
				}

				start := time.Now()
				out, err := r.exec(ctx, inputs[i])
				results[i] = BatchResult{Index: i, Output: out, Duration: time.Since(start)}
				if err != nil {
					results[i].Error = err.Error()
					errChan <- fmt.Errorf("input %d failed: %w", i, err)
					if opts.FailFast {
						stopped.Do(func() { close(stop) })
					}
				}
			}
		}()
	}

	wg.Wait()
	close(errChan)

	var firstErr error
	for err := range errChan {
		if firstErr == nil {
			firstErr = err
		}
	}
	return results, firstErr
}
