package engine

import (
	"github.com/gomlx/paramsync/pkg/support/reduce"
	"github.com/gomlx/paramsync/pkg/support/workerspool"
	"github.com/gomlx/paramsync/types/tensors"
)

// finishPushRound runs once every device has copied its contribution
// into pe.data[slot] for a round: it resolves the key's push_op (and, if
// update_on_server is set, feeds the ModelUpdater) and publishes the
// result to pull.
func (e *Engine) finishPushRound(key int, ks *keyState, slot int) {
	pe := ks.push
	shape := ks.shape
	data := pe.data[slot]

	rows := make([][]float64, e.ndevice)
	for wid := range rows {
		rows[wid] = data.BlockFlat(wid*shape.H, shape.H)
	}

	pool, chunks := e.reducePoolFor(shape.Size())

	var publish *tensors.HostTensor
	switch {
	case e.updateOnServer:
		// The server always sums contributions before handing them to
		// the ModelUpdater, regardless of push_op; InitKey already
		// warned if this key was also marked gather, and already called
		// InitModel, so every round from here on is an Update.
		reduce.SumRows(rows, pool, chunks)
		grad := rows[0]
		if err := e.updater.Update(key, grad); err != nil {
			fatalf("engine.Engine: ModelUpdater failed for key %d: %v", key, err)
		}
		pe.weight.SetFromDeviceValues(grad)
		publish = pe.weight

	case ks.op == OpSum:
		reduce.SumRows(rows, pool, chunks)
		publish = data.ViewBlock(0, shape.H)

	default: // OpGather
		if e.usePinMemory {
			// Pinned host memory must not be aliased across an
			// independent pull transfer and the next round's pushes
			// into the same staging slot, so materialize an owned copy
			// instead of handing out a zero-copy view.
			gathered := reduce.Gather(rows)
			publish = tensors.New(data.Shape())
			publish.SetFromDeviceValues(gathered)
		} else {
			// The slot is already [ndevice*H, W] with rows in device
			// order: the gathered result is the slot itself.
			publish = data
		}
	}

	e.publishPull(key, ks, publish)
}

// reducePoolFor decides whether sum reduction for a tensor of the given
// element count should fan out across reduce_thread workers: only once
// it crosses bigarray_bound and a pool actually exists.
func (e *Engine) reducePoolFor(size int) (*workerspool.Pool, int) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	if e.reducePool == nil || size < e.bigArrayBound {
		return nil, 1
	}
	chunks := e.reduceThreads
	if chunks < 1 {
		chunks = 1
	}
	return e.reducePool, chunks
}
