package tensors

import (
	"encoding/binary"
	"math"

	"github.com/gomlx/exceptions"
	"github.com/x448/float16"

	"github.com/gomlx/paramsync/types/shapes"
)

// Encode serializes values as little-endian dtype-sized elements, the wire
// format the push/pull workers move across backends.HostBuffer/DeviceBuffer
// copies.
func Encode(values []float64, dtype shapes.DType) []byte {
	out := make([]byte, len(values)*dtype.Size())
	switch dtype {
	case shapes.Float16:
		for i, v := range values {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(float16.Fromfloat32(float32(v))))
		}
	case shapes.Float32:
		for i, v := range values {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		}
	case shapes.Float64:
		for i, v := range values {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
		}
	default:
		exceptions.Panicf("tensors.Encode: unsupported dtype %s", dtype)
	}
	return out
}

// Decode is the inverse of Encode.
func Decode(data []byte, dtype shapes.DType) []float64 {
	size := dtype.Size()
	if len(data)%size != 0 {
		exceptions.Panicf("tensors.Decode: byte length %d is not a multiple of dtype %s size %d", len(data), dtype, size)
	}
	n := len(data) / size
	out := make([]float64, n)
	switch dtype {
	case shapes.Float16:
		for i := range out {
			out[i] = float64(float16.Float16(binary.LittleEndian.Uint16(data[i*2:])).Float32())
		}
	case shapes.Float32:
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
	case shapes.Float64:
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
	default:
		exceptions.Panicf("tensors.Decode: unsupported dtype %s", dtype)
	}
	return out
}
