package optimize

import (
	"context"
	"sync"
	"time"
)

// ProcessBatch runs fn over items in fixed-size chunks: items within a
// chunk run concurrently, and a fixed pause separates chunks to pace
// load on downstream collaborators. Results and errors are positional,
// aligned with the input; a failing item records its error and never
// aborts the rest of the batch. Context cancellation stops before the
// next chunk, marking unprocessed items with the context error.
func ProcessBatch[T, R any](ctx context.Context, items []T, chunkSize int, pause time.Duration, fn func(context.Context, T) (R, error)) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))
	if len(items) == 0 {
		return results, errs
	}
	if chunkSize < 1 {
		chunkSize = 1
	}

	for start := 0; start < len(items); start += chunkSize {
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = fn(ctx, items[i])
			}(i)
		}
		wg.Wait()

		if end >= len(items) {
			break
		}
		select {
		case <-time.After(pause):
		case <-ctx.Done():
			for i := end; i < len(items); i++ {
				errs[i] = ctx.Err()
			}
			return results, errs
		}
	}
	return results, errs
}
