package engine

import (
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/gomlx/paramsync/pkg/support/workerspool"
)

// PushOp selects how a key's per-device contributions are combined.
type PushOp int

const (
	// OpSum is the default: accumulate all devices' rows into one.
	OpSum PushOp = iota
	// OpGather concatenates rows without reducing them.
	OpGather
)

func (op PushOp) String() string {
	if op == OpGather {
		return "gather"
	}
	return "sum"
}

// paramRecord is one accumulated SetParam call, replayed into the updater
// once it is constructed at Init.
type paramRecord struct {
	Name  string
	Value string
}

// ConfigHistory returns the ordered list of SetParam calls made before
// Init, for diagnostics and tests.
func (e *Engine) ConfigHistory() []paramRecord {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	out := make([]paramRecord, len(e.cfgHistory))
	copy(out, e.cfgHistory)
	return out
}

// SetParam sets an engine-recognized configuration option, or -- for any
// name outside the recognized set -- records and forwards it to the
// ModelUpdater. Calls before Init accumulate into a replay list fed to
// the updater at construction time; structural options
// (push_op, pull_thread, push_thread, update_on_server) may only be set
// before Init, since they fix worker and buffer topology that Init
// allocates once and never revisits.
func (e *Engine) SetParam(name, value string) {
	e.cfgMu.Lock()
	initialized := e.initialized
	if !initialized {
		e.cfgHistory = append(e.cfgHistory, paramRecord{Name: name, Value: value})
	}
	e.cfgMu.Unlock()

	switch {
	case strings.HasPrefix(name, "push_op[") && strings.HasSuffix(name, "]"):
		e.setPushOpParam(name, value, initialized)
	case name == "reduce_thread":
		e.setReduceThreadParam(value)
	case name == "use_pin_memory":
		e.setUsePinMemoryParam(value, initialized)
	case name == "bigarray_bound":
		e.setBigArrayBoundParam(value)
	case name == "pull_thread":
		e.setThreadModeParam("pull_thread", value, &e.pullThreadMode, initialized)
	case name == "push_thread":
		e.setThreadModeParam("push_thread", value, &e.pushThreadMode, initialized)
	case name == "update_on_server":
		e.setUpdateOnServerParam(value, initialized)
	default:
		klog.V(2).Infof("engine.Engine.SetParam: unrecognized parameter %q=%q, forwarding to updater", name, value)
		if e.updater != nil {
			e.updater.SetParam(name, value)
		}
	}
}

// isEngineParam reports whether name is one SetParam handles itself,
// as opposed to one that gets forwarded to the ModelUpdater. Init uses
// this to replay only the forwarded subset of cfgHistory into the
// updater once it exists.
func isEngineParam(name string) bool {
	switch {
	case strings.HasPrefix(name, "push_op[") && strings.HasSuffix(name, "]"):
		return true
	case name == "reduce_thread", name == "use_pin_memory", name == "bigarray_bound",
		name == "pull_thread", name == "push_thread", name == "update_on_server":
		return true
	default:
		return false
	}
}

func parseKeyFromBrackets(name string) (int, error) {
	inner := name[strings.Index(name, "[")+1 : len(name)-1]
	return strconv.Atoi(inner)
}

func (e *Engine) setPushOpParam(name, value string, initialized bool) {
	if initialized {
		fatalf("engine.Engine.SetParam(%q): push_op may only be set before Init", name)
	}
	key, err := parseKeyFromBrackets(name)
	if err != nil {
		fatalf("engine.Engine.SetParam(%q): malformed key: %v", name, err)
	}
	var op PushOp
	switch value {
	case "sum":
		op = OpSum
	case "gather":
		op = OpGather
	default:
		fatalf("engine.Engine.SetParam(%q): unknown push_op value %q, want sum or gather", name, value)
	}
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	if e.pendingPushOp == nil {
		e.pendingPushOp = make(map[int]PushOp)
	}
	e.pendingPushOp[key] = op
}

func (e *Engine) setReduceThreadParam(value string) {
	n, err := strconv.Atoi(value)
	if err != nil {
		fatalf("engine.Engine.SetParam(%q): invalid reduce_thread value %q: %v", "reduce_thread", value, err)
	}
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.reduceThreads = n
	switch {
	case e.reducePool != nil:
		e.reducePool.SetMaxParallelism(maxInt(n, 1))
	case e.initialized && n > 0:
		// reduce_thread went from disabled to enabled after Init: build
		// the pool now instead of requiring it to exist upfront.
		e.reducePool = workerspool.NewWithParallelism(maxInt(n, 1))
	}
}

func (e *Engine) setUsePinMemoryParam(value string, initialized bool) {
	v, err := strconv.Atoi(value)
	if err != nil || (v != 0 && v != 1) {
		fatalf("engine.Engine.SetParam(%q): invalid use_pin_memory value %q, want 0 or 1", "use_pin_memory", value)
	}
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.usePinMemory = v == 1
	_ = initialized // read at every push/pull host allocation, so the new value applies from the next copy on.
}

func (e *Engine) setBigArrayBoundParam(value string) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		fatalf("engine.Engine.SetParam(%q): invalid bigarray_bound value %q, want a non-negative size", "bigarray_bound", value)
	}
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.bigArrayBound = n
}

func (e *Engine) setThreadModeParam(name, value string, dst *string, initialized bool) {
	if initialized {
		fatalf("engine.Engine.SetParam(%q): may only be set before Init", name)
	}
	if value != "ndev" && value != "one" {
		fatalf("engine.Engine.SetParam(%q): invalid value %q, want %q or %q", name, value, "ndev", "one")
	}
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	*dst = value
}

func (e *Engine) setUpdateOnServerParam(value string, initialized bool) {
	if initialized {
		fatalf("engine.Engine.SetParam(%q): may only be set before Init", "update_on_server")
	}
	v, err := strconv.Atoi(value)
	if err != nil || (v != 0 && v != 1) {
		fatalf("engine.Engine.SetParam(%q): invalid update_on_server value %q, want 0 or 1", "update_on_server", value)
	}
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.updateOnServer = v == 1
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
