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

package shapes

import "github.com/gomlx/exceptions"

// DType indicates the type of the unit element of a host tensor staged by the
// synchronization core. Contributions arrive from client-owned device tensors
// of one of these element types; the core never changes a key's dtype after
// the first InitKey.
type DType int32

const (
	InvalidDType DType = iota
	Float16
	Float32
	Float64
)

// String implements fmt.Stringer.
func (d DType) String() string {
	switch d {
	case Float16:
		return "float16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "InvalidDType"
	}
}

// Size returns the number of bytes used by one element of the given DType.
func (d DType) Size() int {
	switch d {
	case Float16:
		return 2
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		exceptions.Panicf("shapes.DType(%d).Size(): unknown or invalid dtype", d)
		return 0
	}
}
