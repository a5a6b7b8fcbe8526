// Package engine defines the boundary to neural inference: dense tensors,
// named-input sessions, and the instrumentation around session runs.
package engine

import (
	"fmt"
	"slices"
)

// DType is the element type of a Tensor.
type DType uint8

const (
	Float32 DType = iota
	Int32
	Int64
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	}
	return fmt.Sprintf("DType(%d)", uint8(d))
}

// Tensor is a dense row-major array. Exactly one of the data slices is set,
// matching DType.
type Tensor struct {
	DType DType
	Shape []int64

	F32 []float32
	I32 []int32
	I64 []int64
}

func numElements(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

func checkSize(shape []int64, n int) {
	if numElements(shape) != n {
		panic(fmt.Sprintf("engine: shape %v does not hold %d elements", shape, n))
	}
}

// NewFloat32 wraps data without copying. It panics if shape and data disagree.
func NewFloat32(data []float32, shape ...int64) *Tensor {
	checkSize(shape, len(data))
	return &Tensor{DType: Float32, Shape: shape, F32: data}
}

// NewInt32 wraps data without copying.
func NewInt32(data []int32, shape ...int64) *Tensor {
	checkSize(shape, len(data))
	return &Tensor{DType: Int32, Shape: shape, I32: data}
}

// NewInt64 wraps data without copying.
func NewInt64(data []int64, shape ...int64) *Tensor {
	checkSize(shape, len(data))
	return &Tensor{DType: Int64, Shape: shape, I64: data}
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return numElements(t.Shape) }

// BatchSize returns the size of axis 0, or 1 for a scalar.
func (t *Tensor) BatchSize() int {
	if len(t.Shape) == 0 {
		return 1
	}
	return int(t.Shape[0])
}

// rowLen is the number of elements per index of axis 0.
func (t *Tensor) rowLen() int {
	if len(t.Shape) == 0 {
		return 1
	}
	return numElements(t.Shape[1:])
}

// Row returns the b-th slice along axis 0 with a leading axis of 1. The
// result shares data with t.
func (t *Tensor) Row(b int) *Tensor {
	if b < 0 || b >= t.BatchSize() {
		panic(fmt.Sprintf("engine: row %d outside batch of %d", b, t.BatchSize()))
	}
	n := t.rowLen()
	shape := append([]int64{1}, t.Shape[1:]...)
	lo, hi := b*n, (b+1)*n
	switch t.DType {
	case Float32:
		return &Tensor{DType: Float32, Shape: shape, F32: t.F32[lo:hi:hi]}
	case Int32:
		return &Tensor{DType: Int32, Shape: shape, I32: t.I32[lo:hi:hi]}
	default:
		return &Tensor{DType: Int64, Shape: shape, I64: t.I64[lo:hi:hi]}
	}
}

// RowFloat32 returns the float32 data of row b.
func (t *Tensor) RowFloat32(b int) []float32 {
	if t.DType != Float32 {
		panic(fmt.Sprintf("engine: RowFloat32 on %s tensor", t.DType))
	}
	return t.Row(b).F32
}

// Concat stacks tensors along axis 0. All inputs must share dtype and the
// trailing dimensions.
func Concat(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("concat: no tensors")
	}
	first := ts[0]
	if len(first.Shape) == 0 {
		return nil, fmt.Errorf("concat: scalar tensor")
	}
	batch := int64(0)
	for i, t := range ts {
		if t.DType != first.DType {
			return nil, fmt.Errorf("concat: tensor %d is %s, want %s", i, t.DType, first.DType)
		}
		if len(t.Shape) == 0 || !slices.Equal(t.Shape[1:], first.Shape[1:]) {
			return nil, fmt.Errorf("concat: tensor %d has shape %v, want [*%v]", i, t.Shape, first.Shape[1:])
		}
		batch += t.Shape[0]
	}
	shape := append([]int64{batch}, first.Shape[1:]...)
	out := &Tensor{DType: first.DType, Shape: shape}
	n := numElements(shape)
	switch first.DType {
	case Float32:
		out.F32 = make([]float32, 0, n)
		for _, t := range ts {
			out.F32 = append(out.F32, t.F32...)
		}
	case Int32:
		out.I32 = make([]int32, 0, n)
		for _, t := range ts {
			out.I32 = append(out.I32, t.I32...)
		}
	case Int64:
		out.I64 = make([]int64, 0, n)
		for _, t := range ts {
			out.I64 = append(out.I64, t.I64...)
		}
	}
	return out, nil
}
