package engine

import (
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// fatalf reports a usage error or internal invariant violation the engine
// cannot recover from: duplicate Init, invalid device id, a shape
// mismatch on Push, a negative wait counter. It logs the failing context
// before panicking, since the panicking goroutine's stack trace alone
// doesn't carry key/devid/phase information.
func fatalf(format string, args ...any) {
	klog.Errorf(format, args...)
	exceptions.Panicf(format, args...)
}
