package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_AllItemsProcessed(t *testing.T) {
	var count int64
	err := Run(context.Background(), 50, 5, func(_ context.Context, _ int) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50), count)
}

func TestRun_ConcurrencyBounded(t *testing.T) {
	var inFlight, maxInFlight int64
	err := Run(context.Background(), 20, 3, func(_ context.Context, _ int) error {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			m := atomic.LoadInt64(&maxInFlight)
			if cur <= m || atomic.CompareAndSwapInt64(&maxInFlight, m, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(3))
}

func TestRunCollect_PreservesIndexOrder(t *testing.T) {
	results, errs := RunCollect(context.Background(), 10, 4, func(_ context.Context, i int) (int, error) {
		return i * i, nil
	})
	for i := 0; i < 10; i++ {
		assert.NoError(t, errs[i])
		assert.Equal(t, i*i, results[i])
	}
}

func TestRunCollect_PerItemErrorDoesNotAbortOthers(t *testing.T) {
	results, errs := RunCollect(context.Background(), 5, 2, func(_ context.Context, i int) (int, error) {
		if i == 2 {
			return 0, assert.AnError
		}
		return i, nil
	})
	for i := 0; i < 5; i++ {
		if i == 2 {
			assert.Error(t, errs[i])
			continue
		}
		assert.NoError(t, errs[i])
		assert.Equal(t, i, results[i])
	}
}

func TestRun_ZeroItems(t *testing.T) {
	calls := 0
	err := Run(context.Background(), 0, 5, func(_ context.Context, _ int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}
