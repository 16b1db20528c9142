/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package tensors implements HostTensor, the host-resident staging buffer
// used by the synchronization core to hold per-device contributions and
// the authoritative post-reduction value.
//
// Unlike a general-purpose accelerator tensor, a HostTensor never owns a
// device-side buffer itself: transferring bytes to and from an actual
// device is the job of the backends.DeviceRuntime facade (out of scope for
// this package, see the top-level backends package). HostTensor only
// keeps the canonical CPU-side values that the runtime copies into and out
// of.
package tensors

import (
	"github.com/gomlx/exceptions"
	"github.com/x448/float16"

	"github.com/gomlx/paramsync/types/shapes"
)

// HostTensor is a mutable rank-2 [H, W] tensor kept in host memory.
//
// Values are always stored internally as float64 for a uniform
// accumulation path; DType only governs how values are *quantized* when
// they cross the boundary to/from a device tensor of that element type,
// mirroring how a real accelerator copy would round-trip through the
// narrower on-device representation. Internal reduction and gather
// operate directly on the float64 backing array, never re-quantizing
// between host-side steps.
type HostTensor struct {
	shape shapes.Shape
	data  []float64
}

// New allocates a zeroed HostTensor of the given shape.
func New(shape shapes.Shape) *HostTensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.New: invalid shape %s", shape)
	}
	return &HostTensor{shape: shape, data: make([]float64, shape.Size())}
}

// Shape returns the tensor's shape.
func (t *HostTensor) Shape() shapes.Shape { return t.shape }

// Zero resets every element to 0.
func (t *HostTensor) Zero() {
	clear(t.data)
}

// Flat returns a mutable view over the entire flat H*W buffer.
func (t *HostTensor) Flat() []float64 {
	return t.data
}

// BlockFlat returns a mutable, no-copy view over rows [startRow,
// startRow+nrows) of the tensor, flattened row-major (length nrows*W).
// Callers must not retain it past the tensor's next Zero.
func (t *HostTensor) BlockFlat(startRow, nrows int) []float64 {
	w := t.shape.W
	lo, hi := startRow*w, (startRow+nrows)*w
	if lo < 0 || hi > len(t.data) || nrows < 0 {
		exceptions.Panicf("tensors.HostTensor.BlockFlat: rows [%d,%d) out of bounds for shape %s",
			startRow, startRow+nrows, t.shape)
	}
	return t.data[lo:hi]
}

// ViewBlock returns a new HostTensor of shape [nrows, W] sharing the
// backing array of rows [startRow, startRow+nrows) -- a genuine zero-copy
// view, not an allocation. Mutating the view mutates t and vice versa.
func (t *HostTensor) ViewBlock(startRow, nrows int) *HostTensor {
	return &HostTensor{
		shape: shapes.Make(t.shape.DType, nrows, t.shape.W),
		data:  t.BlockFlat(startRow, nrows),
	}
}

// SetBlockFromDeviceValues quantizes src (row-major, length nrows*W)
// through the tensor's DType and copies it into rows [startRow,
// startRow+nrows) -- used by the push worker to copy one device's
// contribution into its block of the [ndevice*H, W] staging tensor.
func (t *HostTensor) SetBlockFromDeviceValues(startRow, nrows int, src []float64) {
	dst := t.BlockFlat(startRow, nrows)
	if len(src) != len(dst) {
		exceptions.Panicf("tensors.HostTensor.SetBlockFromDeviceValues: got %d values, block wants %d",
			len(src), len(dst))
	}
	quantizeInto(dst, src, t.shape.DType)
}

// SetFromDeviceValues is SetBlockFromDeviceValues over the whole tensor.
func (t *HostTensor) SetFromDeviceValues(src []float64) {
	t.SetBlockFromDeviceValues(0, t.shape.H, src)
}

// ToDeviceValues returns a copy of the flat buffer, quantized through DType
// on the way out -- the counterpart of SetFromDeviceValues, run just before
// a pull copies this data down onto a device buffer of the same dtype.
func (t *HostTensor) ToDeviceValues() []float64 {
	out := make([]float64, len(t.data))
	quantizeInto(out, t.data, t.shape.DType)
	return out
}

func quantizeInto(dst, src []float64, dtype shapes.DType) {
	switch dtype {
	case shapes.Float16:
		for i, v := range src {
			dst[i] = float64(float16.Fromfloat32(float32(v)).Float32())
		}
	case shapes.Float32:
		for i, v := range src {
			dst[i] = float64(float32(v))
		}
	case shapes.Float64:
		copy(dst, src)
	default:
		exceptions.Panicf("tensors: unsupported dtype %s", dtype)
	}
}
