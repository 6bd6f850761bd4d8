package pipeline

import (
	"context"
	"runtime"
	"sync"
)

// ParallelConfig holds configuration for the per-image worker pool.
type ParallelConfig struct {
	MaxWorkers       int              // 0 = runtime.NumCPU()
	ProgressCallback ProgressCallback // optional
}

// DefaultParallelConfig uses one worker per CPU.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{MaxWorkers: runtime.NumCPU()}
}

type job[T any] struct {
	index int
	item  T
}

type outcome[R any] struct {
	index  int
	result R
	err    error
}

// parallelMap runs fn over items on a bounded worker pool and returns the
// results and per-item errors in input order. Only context cancellation
// fails the whole call.
func parallelMap[T, R any](ctx context.Context, items []T, cfg ParallelConfig,
	fn func(ctx context.Context, index int, item T) (R, error),
) ([]R, []error, error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))
	if len(items) == 0 {
		return results, errs, ctx.Err()
	}
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(items))
	progress := cfg.ProgressCallback
	if progress == nil {
		progress = NoOpProgressCallback{}
	}
	progress.OnStart(len(items))
	defer progress.OnComplete()

	jobs := make(chan job[T])
	out := make(chan outcome[R], len(items))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				r, err := fn(ctx, j.index, j.item)
				out <- outcome[R]{index: j.index, result: r, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, it := range items {
			select {
			case jobs <- job[T]{index: i, item: it}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	done := 0
	for o := range out {
		results[o.index] = o.result
		errs[o.index] = o.err
		done++
		if o.err != nil {
			progress.OnError(o.index, o.err)
		}
		progress.OnProgress(done, len(items))
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return results, errs, nil
}
