// Package backends defines the interface a device runtime needs to
// implement to serve as the copy engine underneath the synchronization
// core: allocating host and device buffers and moving bytes between them
// on a stream. The core never links against a concrete accelerator SDK;
// it only ever holds a DeviceRuntime value.
//
// To simplify error handling inside the reference implementation,
// internal invariant violations panic with a stack trace rather than
// returning an error. See github.com/gomlx/exceptions.
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"
)

// HostBuffer is host-resident memory backing one contribution's staging
// area, pinned or not depending on the runtime.
type HostBuffer interface {
	// Bytes returns the raw storage; length is fixed at allocation.
	Bytes() []byte
}

// DeviceBuffer is device-resident memory holding one device's live copy
// of a parameter or gradient.
type DeviceBuffer interface {
	// Device is the device number this buffer lives on.
	Device() int
	// Size is the buffer length in bytes.
	Size() int
}

// Stream serializes a sequence of copies against a single device queue.
// Copies queued on a Stream complete in order; Wait blocks the calling
// goroutine until every copy queued so far has completed.
type Stream interface {
	CopyHostToDevice(dst DeviceBuffer, src HostBuffer) error
	CopyDeviceToHost(dst HostBuffer, src DeviceBuffer) error
	Wait() error
	Close() error
}

// DeviceRuntime is the API a device backend must implement to back the
// push/pull workers with real memory and copies.
type DeviceRuntime interface {
	// Name returns the short name of the runtime, e.g. "cpu".
	Name() string

	// NumDevices returns the number of devices this runtime exposes.
	NumDevices() int

	// SetDevice makes id the current device for the calling goroutine,
	// the way CUDA/PJRT device contexts work.
	SetDevice(id int) error

	// AllocHost allocates nbytes of host memory. If pin is true, the
	// runtime should use page-locked memory where that concept applies.
	AllocHost(nbytes int, pin bool) (HostBuffer, error)

	// AllocDevice allocates nbytes of memory on device id.
	AllocDevice(id int, nbytes int) (DeviceBuffer, error)

	// NewStream opens a new copy stream bound to device id.
	NewStream(deviceID int) (Stream, error)
}

// Constructor takes a config string (optionally empty) and returns a
// DeviceRuntime.
type Constructor func(config string) DeviceRuntime

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register makes a runtime constructor available under name. Call it
// during package initialization, the way backends/cpu does in its
// init().
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the runtime configuration used by New when the
// PARAMSYNC_RUNTIME environment variable is unset.
var DefaultConfig string

// PARAMSYNC_RUNTIME names the environment variable holding the default
// runtime configuration, formatted "<name>:<config>".
const PARAMSYNC_RUNTIME = "PARAMSYNC_RUNTIME"

// New returns a DeviceRuntime chosen by, in order: the
// PARAMSYNC_RUNTIME environment variable, DefaultConfig, or the first
// registered runtime with an empty configuration. Panics if no runtime
// was registered.
func New() DeviceRuntime {
	config, found := os.LookupEnv(PARAMSYNC_RUNTIME)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig parses config as "<name>:<config>" and constructs the
// named runtime.
func NewWithConfig(config string) DeviceRuntime {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered device runtimes -- maybe import the reference one with import _ "github.com/gomlx/paramsync/backends/cpu"?`)
	}
	name := firstRegistered
	runtimeConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		name = config[:idx]
		runtimeConfig = config[idx+1:]
	}
	constructor, found := registeredConstructors[name]
	if !found {
		exceptions.Panicf("can't find device runtime %q for configuration %q given", name, config)
	}
	return constructor(runtimeConfig)
}
