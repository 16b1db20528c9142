package engine

import (
	"sync"

	"github.com/gomlx/paramsync/backends"
	supportxsync "github.com/gomlx/paramsync/pkg/support/xsync"
	"github.com/gomlx/paramsync/types/shapes"
	"github.com/gomlx/paramsync/types/tensors"
)

// pushEntry is the per-key double-buffered staging area.
type pushEntry struct {
	mu sync.Mutex // push_lock: guards activeSlot, copied, numCopied.

	shape shapes.Shape // per-device contribution shape [H, W].

	// data[v] is a [ndevice*H, W] tensor: device wid's contribution lives
	// in rows [wid*H, (wid+1)*H). Two slots let the next round's pushes
	// land in one slot while the finish handler and pull workers still
	// use the other.
	data [2]*tensors.HostTensor

	// weight holds the server-side authoritative value, allocated only
	// when update_on_server is enabled. It is shape [H, W] regardless of
	// push_op, since the server always sums contributions before handing
	// them to the ModelUpdater even if the key is also marked gather --
	// InitKey just warns about that combination, it does not reject it.
	weight *tensors.HostTensor

	// activeSlot is the data[] index the next Push lands in. The push
	// worker that completes a round flips it, then hands the slot it just
	// filled to the finish handler.
	activeSlot int

	copied    []bool
	numCopied int
}

func newPushEntry(shape shapes.Shape, ndevice int, weighted bool) *pushEntry {
	blockShape := shapes.Make(shape.DType, ndevice*shape.H, shape.W)
	e := &pushEntry{
		shape:  shape,
		data:   [2]*tensors.HostTensor{tensors.New(blockShape), tensors.New(blockShape)},
		copied: make([]bool, ndevice),
	}
	if weighted {
		e.weight = tensors.New(shape)
	}
	return e
}

// pullRequest is one device's most recently registered pull target, plus
// that device's view of whether src is still fresh.
//
// ready is true exactly when src holds a value this device has not yet
// invalidated by pushing again: Push clears it synchronously for its own
// wid before enqueuing the copy-in, and publishPull sets it back to true
// for every device once a round's result lands. waiting is true from
// PullReq until either the request is dispatched against an
// already-ready src or a subsequent publish dispatches it.
type pullRequest struct {
	dest     backends.DeviceBuffer
	priority int
	callback PullCallback
	arg      any
	ready    bool
	waiting  bool
}

// pullEntry is the per-key pull-side state.
//
// Rather than a {nwait, finished} flag pair guarded by a dedicated
// condition variable, delivery completion is tracked with one
// xsync.DynamicWaitGroup per device: PullReq increments it when it
// registers a request, whether the request is dispatched at once or held
// until the round it waits on is published; the pull worker decrements
// it once the copy lands, and PullWait simply waits for it to drain back
// to zero -- already zero, and returning immediately, whenever no request
// is outstanding.
type pullEntry struct {
	mu sync.Mutex // request_lock: guards src, req (including each req[wid].ready/waiting).

	src *tensors.HostTensor
	req []pullRequest

	nwait []*supportxsync.DynamicWaitGroup
}

func newPullEntry(ndevice int) *pullEntry {
	e := &pullEntry{
		req:   make([]pullRequest, ndevice),
		nwait: make([]*supportxsync.DynamicWaitGroup, ndevice),
	}
	for i := range e.nwait {
		e.nwait[i] = supportxsync.NewDynamicWaitGroup()
	}
	return e
}

// keyState bundles one key's push and pull sides plus its fixed shape and
// reduction op, the value type stored in the engine's keyed map.
type keyState struct {
	initOnce sync.Once

	shape shapes.Shape
	op    PushOp

	push *pushEntry
	pull *pullEntry
}
