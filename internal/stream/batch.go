package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/pool"
)

// DefaultBatchSize is used when BatchOptions.Size is not positive.
const DefaultBatchSize = 50

// BatchOptions controls ProcessBatches.
type BatchOptions struct {
	Size  int
	Delay time.Duration
	Clock clockwork.Clock
}

// ProcessBatches runs fn over items in consecutive batches. Items within a
// batch run concurrently; the next batch starts only after the whole batch
// has settled and Delay has elapsed. No delay precedes the first batch.
//
// onProgress is called after every item, with a monotonically increasing
// count. Failed or panicking items are dropped; the result holds the
// successful values, in completion order within each batch.
//
// Once ctx is cancelled no further batch starts; the results so far are
// returned.
func ProcessBatches[T, R any](
	ctx context.Context,
	items []T,
	opts BatchOptions,
	fn func(ctx context.Context, item T) (R, error),
	onProgress ProgressFunc,
) []R {
	size := opts.Size
	if size <= 0 {
		size = DefaultBatchSize
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	total := len(items)
	results := make([]R, 0, total)

	var progressMu sync.Mutex
	processed := 0
	report := func() {
		progressMu.Lock()
		defer progressMu.Unlock()
		processed++
		if onProgress != nil {
			onProgress(processed, total)
		}
	}

	for start := 0; start < total; start += size {
		if ctx.Err() != nil {
			return results
		}
		if start > 0 && opts.Delay > 0 {
			select {
			case <-clock.After(opts.Delay):
			case <-ctx.Done():
				return results
			}
		}

		end := min(start+size, total)
		p := pool.NewWithResults[R]().WithErrors()
		for _, item := range items[start:end] {
			p.Go(func() (res R, err error) {
				defer report()
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("panic: %v", r)
					}
				}()
				return fn(ctx, item)
			})
		}

		// Errored items are already excluded from batch.
		batch, _ := p.Wait()
		results = append(results, batch...)
	}

	return results
}
