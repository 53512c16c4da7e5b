package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProcess_EmptyItems(t *testing.T) {
	pool := New(DefaultConfig(), zap.NewNop())
	assert.Nil(t, Process[int](context.Background(), pool, nil))
}

func TestProcess_AllItemsAttemptedDespiteFailures(t *testing.T) {
	pool := New(Config{MaxConcurrent: 2}, zap.NewNop())

	var items []Item[int]
	for i := 0; i < 10; i++ {
		i := i
		items = append(items, Item[int]{
			ID: fmt.Sprintf("item-%d", i),
			Execute: func(ctx context.Context) (int, error) {
				if i == 3 {
					return 0, errors.New("boom")
				}
				return i * i, nil
			},
		})
	}

	results := Process(context.Background(), pool, items)
	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("item-%d", i), r.ID, "results keep submission order")
		if i == 3 {
			assert.EqualError(t, r.Err, "boom")
			continue
		}
		assert.NoError(t, r.Err)
		assert.Equal(t, i*i, r.Result)
	}
}

func TestProcess_RespectsConcurrencyLimit(t *testing.T) {
	pool := New(Config{MaxConcurrent: 3}, zap.NewNop())

	var running, peak int32
	var items []Item[struct{}]
	for i := 0; i < 12; i++ {
		items = append(items, Item[struct{}]{
			ID: fmt.Sprint(i),
			Execute: func(ctx context.Context) (struct{}, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return struct{}{}, nil
			},
		})
	}

	Process(context.Background(), pool, items)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestProcess_CancelledContext(t *testing.T) {
	pool := New(DefaultConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	results := Process(ctx, pool, []Item[int]{{
		ID:      "a",
		Execute: func(ctx context.Context) (int, error) { called = true; return 1, nil },
	}})

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.False(t, called)
}

func TestNew_DefaultsInvalidConcurrency(t *testing.T) {
	pool := New(Config{MaxConcurrent: 0}, zap.NewNop())
	assert.Equal(t, 4, pool.MaxConcurrent())
}
