package xsync_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gomlx/paramsync/pkg/support/xsync"
)

func TestDynamicWaitGroupBasic(t *testing.T) {
	dwg := xsync.NewDynamicWaitGroup()
	dwg.Add(2)

	done := make(chan struct{})
	go func() {
		dwg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before count reached zero")
	case <-time.After(20 * time.Millisecond):
	}

	dwg.Done()
	dwg.Done()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after count drained")
	}
}

func TestDynamicWaitGroupAddWhileWaiting(t *testing.T) {
	dwg := xsync.NewDynamicWaitGroup()
	dwg.Add(1)

	done := make(chan struct{})
	go func() {
		dwg.Wait()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	dwg.Add(1) // a second PullReq arrives before the first Wait returns
	dwg.Done()

	select {
	case <-done:
		t.Fatal("Wait returned early despite a pending addition")
	case <-time.After(20 * time.Millisecond):
	}

	dwg.Done()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after final Done")
	}
}

func TestDynamicWaitGroupNegativePanics(t *testing.T) {
	dwg := xsync.NewDynamicWaitGroup()
	assert.Panics(t, func() { dwg.Done() })
}
