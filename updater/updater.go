// Package updater defines the ModelUpdater collaborator: the
// out-of-scope component that owns the authoritative weights when a key
// runs with server-side updates enabled (update_on_server=1).
package updater

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ModelUpdater is implemented by whatever owns the authoritative model
// weights on the server side of a push/pull round. The engine never
// inspects or copies a ModelUpdater's internal state; it only calls these
// four methods at the points the engine calls out below.
type ModelUpdater interface {
	// SetParam forwards an engine configuration pair the engine itself
	// didn't recognize, the way the original forwards unknown config to
	// its custom_server.
	SetParam(name, value string)

	// InitUpdater is called once, before any key is initialized, with the
	// rank of this process and an opaque resumed state (nil on a cold
	// start).
	InitUpdater(rank int, state []byte) error

	// InitModel seeds the authoritative weight for key the first time the
	// key's push buffer is allocated.
	InitModel(key int, data []float64) error

	// Update applies a reduced gradient to key's authoritative weight and
	// writes the new weight back into grad in place -- mirroring the
	// original's by-reference update, where the server mutates the same
	// buffer the engine hands back out on the next pull.
	Update(key int, grad []float64) error
}

// defaultUpdater is a minimal in-place SGD updater: weight -= lr * grad.
// It exists so the engine's server-update path (including
// ServerInitKey) is exercisable without a real training framework
// plugged in.
type defaultUpdater struct {
	mu      sync.Mutex
	lr      float64
	weights map[int][]float64
}

// NewDefault returns a ModelUpdater performing plain SGD with a
// configurable learning rate (default 0.01, override via
// SetParam("lr", ...)).
func NewDefault() ModelUpdater {
	return &defaultUpdater{
		lr:      0.01,
		weights: make(map[int][]float64),
	}
}

func (u *defaultUpdater) SetParam(name, value string) {
	if name != "lr" {
		klog.V(2).Infof("updater.defaultUpdater.SetParam: ignoring unrecognized parameter %q=%q", name, value)
		return
	}
	lr, err := strconv.ParseFloat(value, 64)
	if err != nil {
		klog.Errorf("updater.defaultUpdater.SetParam: invalid lr value %q: %v", value, err)
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lr = lr
}

func (u *defaultUpdater) InitUpdater(rank int, state []byte) error {
	klog.V(1).Infof("updater.defaultUpdater.InitUpdater: rank=%d, resumed=%d bytes", rank, len(state))
	return nil
}

func (u *defaultUpdater) InitModel(key int, data []float64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, exists := u.weights[key]; exists {
		return errors.Errorf("updater.defaultUpdater.InitModel: key %d already initialized", key)
	}
	w := make([]float64, len(data))
	copy(w, data)
	u.weights[key] = w
	return nil
}

func (u *defaultUpdater) Update(key int, grad []float64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	w, ok := u.weights[key]
	if !ok {
		return errors.Errorf("updater.defaultUpdater.Update: key %d was never initialized", key)
	}
	if len(w) != len(grad) {
		return errors.Errorf("updater.defaultUpdater.Update: key %d gradient length %d, want %d", key, len(grad), len(w))
	}
	for i, g := range grad {
		w[i] -= u.lr * g
	}
	copy(grad, w)
	return nil
}
