package keylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockSerializesSameKey(t *testing.T) {
	table := New()
	var active, maxActive int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := table.Lock(context.Background(), "same")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			cur := atomic.AddInt32(&active, 1)
			for {
				prev := atomic.LoadInt32(&maxActive)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, table.Len(), "lock entries should be discarded after the last holder")
}

func TestLockAllowsDistinctKeys(t *testing.T) {
	table := New()
	unlockA, err := table.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := table.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()

	assert.Equal(t, []string{"a"}, table.Held())
}

func TestLockHonoursContext(t *testing.T) {
	table := New()
	unlock, err := table.Lock(context.Background(), "busy")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = table.Lock(ctx, "busy")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, table.Len())
}
