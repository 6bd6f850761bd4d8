package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCallback struct {
	started, progress, completed, errs atomic.Int32
}

func (c *countingCallback) OnStart(int)         { c.started.Add(1) }
func (c *countingCallback) OnProgress(int, int) { c.progress.Add(1) }
func (c *countingCallback) OnComplete()         { c.completed.Add(1) }
func (c *countingCallback) OnError(int, error)  { c.errs.Add(1) }

func TestDefaultParallelConfig(t *testing.T) {
	cfg := DefaultParallelConfig()
	assert.Positive(t, cfg.MaxWorkers)
	assert.Nil(t, cfg.ProgressCallback)
}

func TestParallelMapKeepsOrder(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	cb := &countingCallback{}
	cfg := ParallelConfig{MaxWorkers: 7, ProgressCallback: cb}

	out, errs, err := parallelMap(context.Background(), items, cfg,
		func(_ context.Context, index, item int) (string, error) {
			if item%10 == 3 {
				return "", fmt.Errorf("item %d", item)
			}
			return fmt.Sprint(item * 2), nil
		})
	require.NoError(t, err)
	require.Len(t, out, 50)
	for i := range items {
		if i%10 == 3 {
			assert.EqualError(t, errs[i], fmt.Sprintf("item %d", i))
			continue
		}
		assert.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprint(i*2), out[i])
	}
	assert.Equal(t, int32(1), cb.started.Load())
	assert.Equal(t, int32(50), cb.progress.Load())
	assert.Equal(t, int32(5), cb.errs.Load())
	assert.Equal(t, int32(1), cb.completed.Load())
}

func TestParallelMapEmpty(t *testing.T) {
	out, errs, err := parallelMap(context.Background(), []int(nil), ParallelConfig{},
		func(context.Context, int, int) (int, error) { return 0, errors.New("never called") })
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, errs)
}

func TestParallelMapCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	_, _, err := parallelMap(ctx, make([]int, 100), ParallelConfig{MaxWorkers: 2},
		func(context.Context, int, int) (int, error) {
			if calls.Add(1) == 3 {
				cancel()
			}
			return 0, nil
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, calls.Load(), int32(100))
}
