package engine

import (
	"github.com/gomlx/paramsync/backends"
	"github.com/gomlx/paramsync/types/tensors"
)

// PullCallback is invoked once a pull's device copy has been queued onto
// stream, but before the engine waits for it to land -- a hook for a
// caller that wants to chain further stream-ordered work (or just know a
// transfer is in flight) without blocking on the copy's completion.
type PullCallback func(stream backends.Stream, arg any)

// PullReq registers devid's interest in key's current authoritative
// value. If devid has not pushed since the last value was published for
// key, the copy is dispatched immediately; otherwise it is dispatched
// once the round devid just pushed into finishes and republishes. callback
// and arg may be nil.
func (e *Engine) PullReq(key, devid int, dest backends.DeviceBuffer, priority int, callback PullCallback, arg any) {
	ks := e.mustKey(key)
	wid := e.workIndex(devid)
	pe := ks.pull

	req := pullRequest{dest: dest, priority: priority, callback: callback, arg: arg}
	pe.mu.Lock()
	if pe.req[wid].waiting {
		pe.mu.Unlock()
		fatalf("engine.Engine.PullReq: key %d device %d already has a pending PullReq", key, devid)
	}
	ready := pe.req[wid].ready
	req.ready = ready
	if !ready {
		req.waiting = true
	}
	// Count the request before publishPull can see it, so PullWait blocks
	// from here on, including while the request waits for its round.
	pe.nwait[wid].Add(1)
	pe.req[wid] = req
	pe.mu.Unlock()

	if ready {
		e.enqueuePull(key, wid, req)
	}
}

// PullWait blocks until every pull requested so far for key on devid has
// been delivered, including a request still waiting for its round to
// finish. It returns immediately if no request is outstanding.
func (e *Engine) PullWait(key, devid int) {
	ks := e.mustKey(key)
	wid := e.workIndex(devid)
	ks.pull.nwait[wid].Wait()
}

// PullReady publishes data as key's new authoritative value, shaped like
// key's per-device contribution, and dispatches every pull request
// registered since the last publish. It is the entry point for a caller
// that sets a key's value directly rather than through Push (e.g. a
// server seeding a key's initial weight before any device has pushed).
func (e *Engine) PullReady(key int, data []float64) {
	ks := e.mustKey(key)
	value := tensors.New(ks.shape)
	value.SetFromDeviceValues(data)
	e.publishPull(key, ks, value)
}

// publishPull stores value as key's current authoritative tensor, marks
// every device's view of it fresh again, and dispatches whichever devices
// had a PullReq still waiting on this round to finish.
func (e *Engine) publishPull(key int, ks *keyState, value *tensors.HostTensor) {
	pe := ks.pull

	pe.mu.Lock()
	pe.src = value
	var pending []pullRequest
	var wids []int
	for wid := range pe.req {
		pe.req[wid].ready = true
		if pe.req[wid].waiting {
			pe.req[wid].waiting = false
			pending = append(pending, pe.req[wid])
			wids = append(wids, wid)
		}
	}
	pe.mu.Unlock()

	for i, req := range pending {
		e.enqueuePull(key, wids[i], req)
	}
}

// enqueuePull dispatches req as a pull task for device wid. The device's
// wait counter was already incremented by the PullReq that registered req.
func (e *Engine) enqueuePull(key, wid int, req pullRequest) {
	devid := e.devices[wid]
	qidx := e.pullWorkerIndex(wid)

	e.inFlight.Add(1)
	e.pullQueues[qidx].Push(pullTask{
		key: key, wid: wid, devid: devid,
		dest: req.dest, callback: req.callback, arg: req.arg,
	}, req.priority)
}

// pullWorkerLoop is one pull worker, symmetric to pushWorkerLoop.
func (e *Engine) pullWorkerLoop(qidx int) {
	defer e.workers.Done()
	streams := make(map[int]backends.Stream)
	defer func() {
		for _, s := range streams {
			_ = s.Close()
		}
	}()

	for {
		task, ok := e.pullQueues[qidx].Pop()
		if !ok {
			return
		}
		e.processPull(task, streams)
		e.inFlight.Done()
	}
}

func (e *Engine) processPull(task pullTask, streams map[int]backends.Stream) {
	ks := e.mustKey(task.key)
	pe := ks.pull

	pe.mu.Lock()
	src := pe.src
	pe.mu.Unlock()
	if src == nil {
		fatalf("engine.Engine: pull worker for key %d device %d found no published value", task.key, task.devid)
	}

	shape := src.Shape()
	encoded := tensors.Encode(src.ToDeviceValues(), shape.DType)

	stream := e.streamFor(streams, task.devid)
	hostBuf, err := e.runtime.AllocHost(len(encoded), e.usePinMemory)
	if err != nil {
		fatalf("engine.Engine: PullReq AllocHost for key %d device %d: %v", task.key, task.devid, err)
	}
	copy(hostBuf.Bytes(), encoded)

	if err := stream.CopyHostToDevice(task.dest, hostBuf); err != nil {
		fatalf("engine.Engine: CopyHostToDevice for key %d device %d: %v", task.key, task.devid, err)
	}

	if task.callback != nil {
		task.callback(stream, task.arg)
	}

	if err := stream.Wait(); err != nil {
		fatalf("engine.Engine: pull stream wait for key %d device %d: %v", task.key, task.devid, err)
	}

	ks.pull.nwait[task.wid].Done()
}
