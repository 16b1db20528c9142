// Package cpu implements backends.DeviceRuntime for a host running with no
// real accelerator: "devices" are just numbered host memory arenas and
// copies are synchronous memmoves. It exists so the synchronization core's
// state machine, worker pools, and reduction logic can be exercised in
// tests without any GPU present, the same role a reference CPU compute
// backend plays for a graph executor.
package cpu

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/paramsync/backends"
)

func init() {
	backends.Register("cpu", func(config string) backends.DeviceRuntime {
		return New()
	})
}

// Runtime is the reference in-process backends.DeviceRuntime.
type Runtime struct {
	mu      sync.Mutex
	numDev  int
	current int
}

// New returns a Runtime with runtime.NumCPU-independent, unbounded device
// numbering: any non-negative device id is accepted on first use.
func New() *Runtime {
	return &Runtime{numDev: 0}
}

// Name implements backends.DeviceRuntime.
func (r *Runtime) Name() string { return "cpu" }

// NumDevices implements backends.DeviceRuntime. It grows lazily as
// SetDevice/AllocDevice see higher device ids, since the reference runtime
// has no fixed device count.
func (r *Runtime) NumDevices() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numDev
}

// SetDevice implements backends.DeviceRuntime.
func (r *Runtime) SetDevice(id int) error {
	if id < 0 {
		return errors.Errorf("cpu.Runtime.SetDevice: negative device id %d", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = id
	if id+1 > r.numDev {
		r.numDev = id + 1
	}
	return nil
}

// hostBuffer implements backends.HostBuffer.
type hostBuffer struct {
	data []byte
	pin  bool
}

func (b *hostBuffer) Bytes() []byte { return b.data }

// AllocHost implements backends.DeviceRuntime.
func (r *Runtime) AllocHost(nbytes int, pin bool) (backends.HostBuffer, error) {
	if nbytes < 0 {
		return nil, errors.Errorf("cpu.Runtime.AllocHost: negative size %d", nbytes)
	}
	klog.V(2).Infof("cpu.Runtime.AllocHost: %d bytes, pin=%v", nbytes, pin)
	return &hostBuffer{data: make([]byte, nbytes), pin: pin}, nil
}

// deviceBuffer implements backends.DeviceBuffer.
type deviceBuffer struct {
	device int
	data   []byte
}

func (b *deviceBuffer) Device() int { return b.device }
func (b *deviceBuffer) Size() int   { return len(b.data) }

// AllocDevice implements backends.DeviceRuntime.
func (r *Runtime) AllocDevice(id int, nbytes int) (backends.DeviceBuffer, error) {
	if id < 0 {
		return nil, errors.Errorf("cpu.Runtime.AllocDevice: negative device id %d", id)
	}
	if nbytes < 0 {
		return nil, errors.Errorf("cpu.Runtime.AllocDevice: negative size %d", nbytes)
	}
	r.mu.Lock()
	if id+1 > r.numDev {
		r.numDev = id + 1
	}
	r.mu.Unlock()
	return &deviceBuffer{device: id, data: make([]byte, nbytes)}, nil
}

// stream implements backends.Stream. All copies run synchronously on the
// calling goroutine; Wait is a no-op since nothing is ever in flight.
type stream struct {
	device int
	mu     sync.Mutex
	closed bool
}

// NewStream implements backends.DeviceRuntime.
func (r *Runtime) NewStream(deviceID int) (backends.Stream, error) {
	if deviceID < 0 {
		return nil, errors.Errorf("cpu.Runtime.NewStream: negative device id %d", deviceID)
	}
	return &stream{device: deviceID}, nil
}

func (s *stream) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Errorf("cpu.stream: use of closed stream on device %d", s.device)
	}
	return nil
}

// CopyHostToDevice implements backends.Stream.
func (s *stream) CopyHostToDevice(dst backends.DeviceBuffer, src backends.HostBuffer) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	db, ok := dst.(*deviceBuffer)
	if !ok {
		return errors.Errorf("cpu.stream.CopyHostToDevice: dst is not a cpu device buffer")
	}
	hb, ok := src.(*hostBuffer)
	if !ok {
		return errors.Errorf("cpu.stream.CopyHostToDevice: src is not a cpu host buffer")
	}
	if len(db.data) != len(hb.data) {
		return errors.Errorf("cpu.stream.CopyHostToDevice: size mismatch, dst=%d src=%d", len(db.data), len(hb.data))
	}
	copy(db.data, hb.data)
	return nil
}

// CopyDeviceToHost implements backends.Stream.
func (s *stream) CopyDeviceToHost(dst backends.HostBuffer, src backends.DeviceBuffer) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	hb, ok := dst.(*hostBuffer)
	if !ok {
		return errors.Errorf("cpu.stream.CopyDeviceToHost: dst is not a cpu host buffer")
	}
	db, ok := src.(*deviceBuffer)
	if !ok {
		return errors.Errorf("cpu.stream.CopyDeviceToHost: src is not a cpu device buffer")
	}
	if len(hb.data) != len(db.data) {
		return errors.Errorf("cpu.stream.CopyDeviceToHost: size mismatch, dst=%d src=%d", len(hb.data), len(db.data))
	}
	copy(hb.data, db.data)
	return nil
}

// Wait implements backends.Stream.
func (s *stream) Wait() error {
	return s.checkOpen()
}

// Close implements backends.Stream.
func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
