package locks_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/report-engine/locks"
)

func TestKeyed_TryLock_ExclusivePerKey(t *testing.T) {
	// GIVEN: A held key
	k := locks.NewKeyed()
	ctx := context.Background()

	held, release, ok, err := k.TryLock(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ctx, held)

	// WHEN: Another caller tries the same key and a different key
	_, _, sameOK, _ := k.TryLock(ctx, "job-1")
	_, otherRelease, otherOK, _ := k.TryLock(ctx, "job-2")

	// THEN: Same key is refused, different key is granted
	assert.False(t, sameOK)
	assert.True(t, otherOK)

	release()
	otherRelease()

	_, again, ok, _ := k.TryLock(ctx, "job-1")
	assert.True(t, ok)
	again()
	assert.Equal(t, 0, k.Len())
}

func TestKeyed_ReleaseIsIdempotent(t *testing.T) {
	k := locks.NewKeyed()
	_, release, ok, _ := k.TryLock(context.Background(), "a")
	require.True(t, ok)

	release()
	release()
	assert.Equal(t, 0, k.Len())
}

func TestKeyed_Lock_SerializesHolders(t *testing.T) {
	k := locks.NewKeyed()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.Lock(context.Background(), "shared")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestKeyed_Lock_HonoursContext(t *testing.T) {
	k := locks.NewKeyed()
	_, release, ok, _ := k.TryLock(context.Background(), "busy")
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := k.Lock(ctx, "busy")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	assert.Eventually(t, func() bool { return k.Len() == 0 }, time.Second, 5*time.Millisecond)
}
