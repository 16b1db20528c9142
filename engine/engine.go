// Package engine implements the in-process parameter-synchronization
// core: a push/pull key-value store that fans a data-parallel training
// loop's per-device gradients into a sum or gather, and fans the result
// back out to every device's pull request.
//
// An Engine is built with New, configured with SetParam, and made live
// with a single call to Init; Push, PullReq, PullWait, and PullReady are
// the steady-state API once initialized.
package engine

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/gomlx/paramsync/backends"
	"github.com/gomlx/paramsync/pkg/support/queue"
	"github.com/gomlx/paramsync/pkg/support/workerspool"
	supportxsync "github.com/gomlx/paramsync/pkg/support/xsync"
	"github.com/gomlx/paramsync/types/shapes"
	typesxsync "github.com/gomlx/paramsync/types/xsync"
	"github.com/gomlx/paramsync/updater"
)

// pushTask is one queued push copy-in: device devid's contribution to
// key, already resident on the device in src.
type pushTask struct {
	key   int
	wid   int
	devid int
	src   backends.DeviceBuffer
}

// pullTask is one queued pull delivery: copy key's current authoritative
// value down to device devid's dest buffer. dest/callback/arg are copied
// in at enqueue time rather than re-read from the key's pullEntry when
// the task runs, so a newer PullReq overwriting the same device's slot
// can never change which request this particular task fulfills.
type pullTask struct {
	key      int
	wid      int
	devid    int
	dest     backends.DeviceBuffer
	callback PullCallback
	arg      any
}

// Engine is the synchronization core. The zero value is not usable; build
// one with New.
type Engine struct {
	runtime backends.DeviceRuntime

	// id tags every klog line this engine emits, so a process running
	// more than one Engine (e.g. one per model in a test harness) can
	// tell their logs apart.
	id string

	devices []int
	dev2idx map[int]int // device id -> work index (wid), injective.
	ndevice int

	keys typesxsync.SyncMap[int, *keyState]

	// cfgMu guards every field below it that SetParam or Init touches.
	cfgMu          sync.Mutex
	cfgHistory     []paramRecord
	initialized    bool
	pendingPushOp  map[int]PushOp
	reduceThreads  int
	reducePool     *workerspool.Pool
	usePinMemory   bool
	bigArrayBound  int
	pullThreadMode string // "ndev" or "one"
	pushThreadMode string // "ndev" or "one"
	updateOnServer bool
	updater        updater.ModelUpdater

	pushQueues []*queue.Queue[pushTask]
	pullQueues []*queue.Queue[pullTask]

	// inFlight counts push and pull tasks that have been enqueued but not
	// yet fully processed by a worker, so Close can drain every worker's
	// queue before returning even though a task may still be racing onto
	// a queue right as shutdown begins.
	inFlight *supportxsync.DynamicWaitGroup

	workers sync.WaitGroup
}

// New returns an unconfigured Engine bound to runtime. Call SetParam any
// number of times, then Init exactly once.
func New(runtime backends.DeviceRuntime) *Engine {
	if runtime == nil {
		fatalf("engine.New: runtime must not be nil")
	}
	id := uuid.NewString()
	klog.V(1).Infof("engine.New: id=%s", id)
	return &Engine{
		runtime:        runtime,
		id:             id,
		pullThreadMode: "ndev",
		pushThreadMode: "ndev",
		bigArrayBound:  1 << 20, // 1Mi elements before sum reduction fans out across reduce_thread.
		inFlight:       supportxsync.NewDynamicWaitGroup(),
	}
}

// ID returns the engine's unique instance id, generated at New and stable
// for the lifetime of the Engine. It has no meaning beyond correlating a
// particular Engine's log lines when a process runs more than one.
func (e *Engine) ID() string {
	return e.id
}

// Init makes the engine live: it fixes the device set, allocates the
// push/pull worker pools and their queues, and constructs the steady
// state the rest of the API assumes. It is callable exactly once, with a
// non-empty list of distinct, non-negative device ids.
//
// upd becomes the engine's ModelUpdater; InitUpdater is called with rank
// and resumeState, then every SetParam call accumulated before Init that
// the engine itself didn't recognize is replayed into upd.SetParam, in
// the order it was originally issued.
func (e *Engine) Init(devices []int, upd updater.ModelUpdater, rank int, resumeState []byte) error {
	e.cfgMu.Lock()
	if e.initialized {
		e.cfgMu.Unlock()
		fatalf("engine.Engine.Init: already initialized")
	}
	if len(devices) == 0 {
		e.cfgMu.Unlock()
		fatalf("engine.Engine.Init: devices must be non-empty")
	}
	if upd == nil {
		e.cfgMu.Unlock()
		fatalf("engine.Engine.Init: updater must not be nil")
	}

	dev2idx := make(map[int]int, len(devices))
	for wid, devid := range devices {
		if devid < 0 {
			e.cfgMu.Unlock()
			fatalf("engine.Engine.Init: negative device id %d", devid)
		}
		if _, dup := dev2idx[devid]; dup {
			e.cfgMu.Unlock()
			fatalf("engine.Engine.Init: duplicate device id %d", devid)
		}
		dev2idx[devid] = wid
	}

	e.devices = append([]int(nil), devices...)
	e.dev2idx = dev2idx
	e.ndevice = len(devices)
	e.updater = upd

	if e.reduceThreads > 0 {
		e.reducePool = workerspool.NewWithParallelism(e.reduceThreads)
	}

	nPushWorkers, nPullWorkers := 1, 1
	if e.pushThreadMode == "ndev" {
		nPushWorkers = e.ndevice
	}
	if e.pullThreadMode == "ndev" {
		nPullWorkers = e.ndevice
	}
	e.pushQueues = make([]*queue.Queue[pushTask], nPushWorkers)
	for i := range e.pushQueues {
		e.pushQueues[i] = queue.New[pushTask]()
	}
	e.pullQueues = make([]*queue.Queue[pullTask], nPullWorkers)
	for i := range e.pullQueues {
		e.pullQueues[i] = queue.New[pullTask]()
	}

	history := append([]paramRecord(nil), e.cfgHistory...)
	e.initialized = true
	e.cfgMu.Unlock()

	if err := upd.InitUpdater(rank, resumeState); err != nil {
		fatalf("engine.Engine.Init: updater.InitUpdater failed: %v", err)
	}
	for _, rec := range history {
		if !isEngineParam(rec.Name) {
			upd.SetParam(rec.Name, rec.Value)
		}
	}

	for wid := 0; wid < nPushWorkers; wid++ {
		e.workers.Add(1)
		go e.pushWorkerLoop(wid)
	}
	for wid := 0; wid < nPullWorkers; wid++ {
		e.workers.Add(1)
		go e.pullWorkerLoop(wid)
	}
	return nil
}

// Close waits for in-flight tasks to drain, then aborts every worker
// queue and waits for worker goroutines to exit. It does not release device
// memory or streams already handed out by earlier Push/PullReq calls;
// those belong to the caller.
func (e *Engine) Close() {
	e.cfgMu.Lock()
	if !e.initialized {
		e.cfgMu.Unlock()
		return
	}
	pushQueues := e.pushQueues
	pullQueues := e.pullQueues
	e.cfgMu.Unlock()

	// Drain before aborting: a push that completes a round enqueues pull
	// tasks, and those must land before the pull queues stop accepting.
	e.inFlight.Wait()
	for _, q := range pushQueues {
		q.Abort()
	}
	for _, q := range pullQueues {
		q.Abort()
	}
	e.workers.Wait()
}

// pushWorkerIndex maps a work index to the push queue its task should be
// enqueued on, honoring push_thread's "ndev" (one queue per device) or
// "one" (a single shared queue) topology.
func (e *Engine) pushWorkerIndex(wid int) int {
	if e.pushThreadMode == "ndev" {
		return wid
	}
	return 0
}

func (e *Engine) pullWorkerIndex(wid int) int {
	if e.pullThreadMode == "ndev" {
		return wid
	}
	return 0
}

// workIndex returns devid's injective work index, fatal if devid was not
// part of the device list passed to Init.
func (e *Engine) workIndex(devid int) int {
	wid, ok := e.dev2idx[devid]
	if !ok {
		fatalf("engine.Engine: device id %d was not passed to Init", devid)
	}
	return wid
}

// InitKey lazily allocates key's push and pull state the first time it
// is seen, idempotent and safe to call concurrently from every device's
// first Push or PullReq. Every subsequent call for the same key asserts
// the same shape was given.
//
// The reduction op applied at push time is whatever push_op[key] was set
// to before Init (default OpSum); push_op may not change afterward.
func (e *Engine) InitKey(key int, shape shapes.Shape) *keyState {
	e.cfgMu.Lock()
	if !e.initialized {
		e.cfgMu.Unlock()
		fatalf("engine.Engine.InitKey: Init must be called first")
	}
	op := e.pendingPushOp[key]
	weighted := e.updateOnServer
	e.cfgMu.Unlock()

	fresh := &keyState{shape: shape, op: op}
	actual, loaded := e.keys.LoadOrStore(key, fresh)
	actual.initOnce.Do(func() {
		if weighted && op == OpGather {
			// The server path always sum-reduces before calling the updater,
			// regardless of push_op -- this is documented, surprising
			// behavior carried over rather than silently changed.
			klog.Warningf("engine[%s].InitKey: key %d has push_op=gather but update_on_server is set; "+
				"the server always sums before updating, gather is ignored for this key", e.id, key)
		}

		actual.push = newPushEntry(shape, e.ndevice, weighted)
		actual.pull = newPullEntry(e.ndevice)
		staging := 2 * e.ndevice * shape.Memory() // double-buffered [ndevice*H, W] staging area.
		klog.V(1).Infof("engine[%s].InitKey: key %d shape %s op %s, %s of staging allocated",
			e.id, key, shape, op, humanize.Bytes(uint64(staging)))

		if weighted {
			// The server seeds its weight the moment the buffer exists,
			// not on the first completed push round, so a PullReq issued
			// before any device has pushed still gets served instead of
			// blocking until a round happens to complete.
			zeros := make([]float64, shape.H*shape.W)
			if err := e.updater.InitModel(key, zeros); err != nil {
				fatalf("engine.Engine.InitKey: key %d: updater.InitModel failed: %v", key, err)
			}
			actual.push.weight.SetFromDeviceValues(zeros)
			e.publishPull(key, actual, actual.push.weight)
		}
	})
	if loaded && !actual.shape.Equal(shape) {
		fatalf("engine.Engine.InitKey: key %d already initialized with shape %s, got %s", key, actual.shape, shape)
	}
	return actual
}

func (e *Engine) mustKey(key int) *keyState {
	ks, ok := e.keys.Load(key)
	if !ok {
		fatalf("engine.Engine: key %d was never initialized", key)
	}
	return ks
}
