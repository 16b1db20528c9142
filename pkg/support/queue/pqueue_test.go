package queue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/paramsync/pkg/support/queue"
)

func TestFIFOWithinPriority(t *testing.T) {
	q := queue.New[int]()
	q.Push(1, 0)
	q.Push(2, 0)
	q.Push(3, 0)

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestHigherPriorityFirst(t *testing.T) {
	q := queue.New[string]()
	q.Push("low", 0)
	q.Push("high", 10)
	q.Push("mid", 5)

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "high", got)

	got, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "mid", got)

	got, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "low", got)
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := queue.New[int]()
	result := make(chan int, 1)
	go func() {
		v, ok := q.Pop()
		if ok {
			result <- v
		}
	}()

	select {
	case <-result:
		t.Fatal("Pop returned before any Push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(7, 0)
	select {
	case v := <-result:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestAbortWakesBlockedPop(t *testing.T) {
	q := queue.New[int]()
	var wg sync.WaitGroup
	oks := make([]bool, 4)
	for i := range oks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok := q.Pop()
			oks[i] = ok
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	q.Abort()
	wg.Wait()
	for _, ok := range oks {
		assert.False(t, ok)
	}
}

func TestAbortDrainsPendingItemsFirst(t *testing.T) {
	q := queue.New[int]()
	q.Push(1, 0)
	q.Push(2, 0)
	q.Abort()

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestPushAfterAbortPanics(t *testing.T) {
	q := queue.New[int]()
	q.Abort()
	assert.Panics(t, func() { q.Push(1, 0) })
}

func TestLen(t *testing.T) {
	q := queue.New[int]()
	assert.Equal(t, 0, q.Len())
	q.Push(1, 0)
	q.Push(2, 0)
	assert.Equal(t, 2, q.Len())
	q.Pop()
	assert.Equal(t, 1, q.Len())
}
