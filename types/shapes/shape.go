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

// Package shapes defines Shape and DType, the description of a parameter
// tensor staged by the synchronization core.
//
// Unlike a general tensor library, every Shape handled by this package is
// rank-2: [H, W]. That matches the wire contract the training loop uses
// with Push/PullReq: each key holds a logical [H, W] contribution
// per device.
package shapes

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

// Shape describes a rank-2 [H, W] host tensor and its element type.
type Shape struct {
	DType DType
	H, W  int
}

// Make returns a Shape, validating that H and W are positive.
func Make(dtype DType, h, w int) Shape {
	if h <= 0 || w <= 0 {
		exceptions.Panicf("shapes.Make(%s, %d, %d): dimensions must be positive", dtype, h, w)
	}
	return Shape{DType: dtype, H: h, W: w}
}

// Ok reports whether the shape has been initialized with a valid dtype.
func (s Shape) Ok() bool { return s.DType != InvalidDType }

// Size returns the number of elements, H*W.
func (s Shape) Size() int { return s.H * s.W }

// Memory returns the number of bytes needed to store this shape's data.
func (s Shape) Memory() int { return s.Size() * s.DType.Size() }

// Equal compares dtype and dimensions.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && s.H == s2.H && s.W == s2.W
}

// EqualDimensions compares H and W only, ignoring DType.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return s.H == s2.H && s.W == s2.W
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	return fmt.Sprintf("(%s)[%d %d]", s.DType, s.H, s.W)
}
