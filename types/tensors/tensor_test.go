package tensors_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/paramsync/types/shapes"
	"github.com/gomlx/paramsync/types/tensors"
)

func TestNewIsZeroed(t *testing.T) {
	ht := tensors.New(shapes.Make(shapes.Float32, 2, 3))
	for _, v := range ht.Flat() {
		assert.Zero(t, v)
	}
}

func TestBlockFlatAndSum(t *testing.T) {
	// Two devices, each contributing a [2,3] block into a [4,3] staging tensor.
	shape := shapes.Make(shapes.Float64, 4, 3)
	ht := tensors.New(shape)
	ht.SetBlockFromDeviceValues(0, 2, []float64{1, 2, 3, 4, 5, 6})
	ht.SetBlockFromDeviceValues(2, 2, []float64{10, 20, 30, 40, 50, 60})

	block0 := ht.BlockFlat(0, 2)
	block1 := ht.BlockFlat(2, 2)
	for i := range block0 {
		block0[i] += block1[i]
	}
	assert.Equal(t, []float64{11, 22, 33, 44, 55, 66}, ht.BlockFlat(0, 2))
}

func TestViewBlockIsZeroCopy(t *testing.T) {
	shape := shapes.Make(shapes.Float64, 4, 2)
	ht := tensors.New(shape)
	view := ht.ViewBlock(1, 2)
	view.Flat()[0] = 99
	assert.Equal(t, float64(99), ht.BlockFlat(1, 1)[0])
	assert.Equal(t, shapes.Make(shapes.Float64, 2, 2), view.Shape())
}

func TestFloat16RoundTripLosesPrecision(t *testing.T) {
	shape := shapes.Make(shapes.Float16, 1, 1)
	ht := tensors.New(shape)
	ht.SetFromDeviceValues([]float64{0.1})
	got := ht.ToDeviceValues()[0]
	assert.NotEqual(t, 0.1, got)
	assert.InDelta(t, 0.1, got, 1e-3)
}

func TestFloat64RoundTripIsExact(t *testing.T) {
	shape := shapes.Make(shapes.Float64, 1, 2)
	ht := tensors.New(shape)
	ht.SetFromDeviceValues([]float64{1.23456789, -9.87654321})
	assert.Equal(t, []float64{1.23456789, -9.87654321}, ht.ToDeviceValues())
}

func TestZero(t *testing.T) {
	ht := tensors.New(shapes.Make(shapes.Float32, 2, 2))
	ht.SetBlockFromDeviceValues(0, 1, []float64{1, 2})
	ht.Zero()
	for _, v := range ht.Flat() {
		assert.Zero(t, v)
	}
}

func TestSetFromDeviceValuesPanicsOnLengthMismatch(t *testing.T) {
	ht := tensors.New(shapes.Make(shapes.Float32, 2, 2))
	assert.Panics(t, func() { ht.SetFromDeviceValues([]float64{1, 2, 3}) })
}

func TestBlockFlatPanicsOutOfBounds(t *testing.T) {
	ht := tensors.New(shapes.Make(shapes.Float32, 2, 2))
	assert.Panics(t, func() { ht.BlockFlat(1, 5) })
}

func TestGatherIsNoOpView(t *testing.T) {
	// A [ndevice*H, W] staging tensor, once every device has copied in, is
	// already the gathered result -- no reduction, no copy needed.
	shape := shapes.Make(shapes.Float64, 3, 3)
	ht := tensors.New(shape)
	ht.SetBlockFromDeviceValues(0, 1, []float64{1, 2, 3})
	ht.SetBlockFromDeviceValues(1, 1, []float64{4, 5, 6})
	ht.SetBlockFromDeviceValues(2, 1, []float64{7, 8, 9})
	require.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, ht.Flat())
}
