// Package tensor provides a minimal CPU tensor type used throughout go-petal.
// All data is float32 in row-major order; any parallelism inside tensor math
// is left to the caller.
package tensor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Tensor is a fixed-shape float32 array in row-major (C) order.
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float32
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

// New creates a tensor with the given shape wrapping data. The data slice is
// used directly, not copied; its length must match the shape exactly.
func New(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := calculateNumElements(shape)
	if len(data) != n {
		return nil, errors.Errorf("data length %d does not match shape %v (want %d)", len(data), shape, n)
	}
	return &Tensor{
		Shape:    copyShape(shape),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: n,
	}, nil
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := calculateNumElements(shape)
	return &Tensor{
		Shape:    copyShape(shape),
		Strides:  calculateStrides(shape),
		Data:     make([]float32, n),
		NumElems: n,
	}, nil
}

// Full creates a tensor with every element set to val.
func Full(shape []int, val float32) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = val
	}
	return t, nil
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{
		Shape:    copyShape(t.Shape),
		Strides:  calculateStrides(t.Shape),
		Data:     data,
		NumElems: t.NumElems,
	}
}

// Reshape returns a view of the tensor with a new shape. The element count
// must be unchanged; the underlying data is shared.
func (t *Tensor) Reshape(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if n := calculateNumElements(shape); n != t.NumElems {
		return nil, errors.Errorf("cannot reshape %v to %v: element count %d != %d", t.Shape, shape, t.NumElems, n)
	}
	return &Tensor{
		Shape:    copyShape(shape),
		Strides:  calculateStrides(shape),
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

// SameShape reports whether both tensors have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i, dim := range t.Shape {
		if dim != o.Shape[i] {
			return false
		}
	}
	return true
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return errors.New("invalid shape: no dimensions")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return errors.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func copyShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}
