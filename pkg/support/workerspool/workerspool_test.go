package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitToStartLimitsConcurrency(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(1)

	var running, maxSeen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		pool.WaitToStart(func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				cur := maxSeen.Load()
				if n <= cur || maxSeen.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, int(maxSeen.Load()), 2*1+1)
}

func TestDisabledParallelismRunsInline(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(0)

	var ran bool
	pool.WaitToStart(func() { ran = true })
	assert.True(t, ran)
}

func TestUnlimitedParallelismStartsImmediately(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(-1)
	assert.True(t, pool.IsUnlimited())

	done := make(chan struct{})
	pool.WaitToStart(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unlimited pool did not run task promptly")
	}
}

func TestStartIfAvailable(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(1)

	block := make(chan struct{})
	started := make(chan struct{})
	ok := pool.StartIfAvailable(func() {
		close(started)
		<-block
	})
	assert.True(t, ok)
	<-started

	// goroutineToParallelismRatio is 2, so with max=1 two slots are
	// available before the pool reports full.
	ok = pool.StartIfAvailable(func() { <-block })
	assert.True(t, ok)

	close(block)
}

func TestWorkerIsAsleepOnDisabledPool(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(0)
	assert.False(t, pool.IsEnabled())
	pool.WorkerIsAsleep()
	pool.WorkerRestarted()
}
