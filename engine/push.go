package engine

import (
	"github.com/gomlx/paramsync/backends"
	"github.com/gomlx/paramsync/types/tensors"
)

// Push submits device devid's contribution to key: src must already hold
// the current round's [H, W] value, quantized to key's dtype, on devid.
// Push enqueues the copy-in and returns immediately; the actual device
// read happens on a push worker.
func (e *Engine) Push(key, devid int, src backends.DeviceBuffer, priority int) {
	ks := e.mustKey(key) // validated again by the worker; this just fails fast.
	wid := e.workIndex(devid)
	qidx := e.pushWorkerIndex(wid)

	// devid's published value is about to go stale for devid's own future
	// pulls: clear its readiness here, synchronously in the caller's
	// goroutine, so a PullReq issued right after Push can never race the
	// push worker and see the previous round's src as still fresh.
	pe := ks.pull
	pe.mu.Lock()
	pe.req[wid].ready = false
	pe.mu.Unlock()

	e.inFlight.Add(1)
	e.pushQueues[qidx].Push(pushTask{key: key, wid: wid, devid: devid, src: src}, priority)
}

// pushWorkerLoop is one push worker: it owns copy streams to whichever
// devices it serves (one stream per device in "ndev" mode, opened once;
// a lazily grown map in "one" mode, since a single worker then serves
// every device) and runs until its queue is aborted and drained.
func (e *Engine) pushWorkerLoop(qidx int) {
	defer e.workers.Done()
	streams := make(map[int]backends.Stream)
	defer func() {
		for _, s := range streams {
			_ = s.Close()
		}
	}()

	for {
		task, ok := e.pushQueues[qidx].Pop()
		if !ok {
			return
		}
		e.processPush(task, streams)
		e.inFlight.Done()
	}
}

func (e *Engine) streamFor(streams map[int]backends.Stream, devid int) backends.Stream {
	if s, ok := streams[devid]; ok {
		return s
	}
	if err := e.runtime.SetDevice(devid); err != nil {
		fatalf("engine: worker failed to select device %d: %v", devid, err)
	}
	s, err := e.runtime.NewStream(devid)
	if err != nil {
		fatalf("engine: worker failed to open a stream on device %d: %v", devid, err)
	}
	streams[devid] = s
	return s
}

func (e *Engine) processPush(task pushTask, streams map[int]backends.Stream) {
	ks := e.mustKey(task.key)
	pe := ks.push
	shape := ks.shape

	pe.mu.Lock()
	if pe.copied[task.wid] {
		pe.mu.Unlock()
		fatalf("engine.Engine.Push: key %d device %d pushed twice in the same round", task.key, task.devid)
	}
	slot := pe.activeSlot
	pe.mu.Unlock()

	stream := e.streamFor(streams, task.devid)
	hostBuf, err := e.runtime.AllocHost(shape.Memory(), e.usePinMemory)
	if err != nil {
		fatalf("engine.Engine.Push: AllocHost for key %d device %d: %v", task.key, task.devid, err)
	}
	if err := stream.CopyDeviceToHost(hostBuf, task.src); err != nil {
		fatalf("engine.Engine.Push: CopyDeviceToHost for key %d device %d: %v", task.key, task.devid, err)
	}
	if err := stream.Wait(); err != nil {
		fatalf("engine.Engine.Push: stream wait for key %d device %d: %v", task.key, task.devid, err)
	}

	values := tensors.Decode(hostBuf.Bytes(), shape.DType)
	pe.data[slot].SetBlockFromDeviceValues(task.wid*shape.H, shape.H, values)

	pe.mu.Lock()
	pe.copied[task.wid] = true
	pe.numCopied++
	roundDone := pe.numCopied == e.ndevice
	if roundDone {
		pe.numCopied = 0
		clear(pe.copied)
		pe.activeSlot = 1 - slot
	}
	pe.mu.Unlock()

	if roundDone {
		e.finishPushRound(task.key, ks, slot)
	}
}
