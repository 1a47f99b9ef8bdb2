package graph

import (
	"fmt"
	"slices"
)

// Tensor is a dense constant tensor. Exactly one of the typed slices is
// populated, selected by Type.
type Tensor struct {
	Type     ElemType
	Shape    []int64
	Float32s []float32
	Float64s []float64
	Int64s   []int64
}

// Initializer is a named constant tensor bound into a graph.
type Initializer struct {
	Name   string
	Tensor *Tensor
}

// NewFloatTensor stores values in the storage selected by t, which must be
// Float32 or Float64.
func NewFloatTensor(t ElemType, shape []int64, values []float64) (*Tensor, error) {
	if err := checkCount(shape, len(values)); err != nil {
		return nil, err
	}
	out := &Tensor{Type: t, Shape: slices.Clone(shape)}
	switch t {
	case Float32:
		out.Float32s = make([]float32, len(values))
		for i, v := range values {
			out.Float32s[i] = float32(v)
		}
	case Float64:
		out.Float64s = slices.Clone(values)
	default:
		return nil, &UnsupportedTypeError{Type: t, Context: "float tensor"}
	}
	return out, nil
}

// NewInt64Tensor builds an int64 tensor.
func NewInt64Tensor(shape []int64, values []int64) (*Tensor, error) {
	if err := checkCount(shape, len(values)); err != nil {
		return nil, err
	}
	return &Tensor{Type: Int64, Shape: slices.Clone(shape), Int64s: slices.Clone(values)}, nil
}

func checkCount(shape []int64, n int) error {
	want := int64(1)
	for _, d := range shape {
		if d < 0 {
			return fmt.Errorf("tensor shape %v has a negative dimension", shape)
		}
		want *= d
	}
	if want != int64(n) {
		return fmt.Errorf("tensor shape %v holds %d elements, got %d values", shape, want, n)
	}
	return nil
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	switch t.Type {
	case Float32:
		return len(t.Float32s)
	case Float64:
		return len(t.Float64s)
	case Int64:
		return len(t.Int64s)
	}
	return 0
}

// At returns element i converted to float64.
func (t *Tensor) At(i int) float64 {
	switch t.Type {
	case Float32:
		return float64(t.Float32s[i])
	case Float64:
		return t.Float64s[i]
	case Int64:
		return float64(t.Int64s[i])
	}
	return 0
}

// Values returns all elements converted to float64.
func (t *Tensor) Values() []float64 {
	out := make([]float64, t.Len())
	for i := range out {
		out[i] = t.At(i)
	}
	return out
}

// Descriptor describes the tensor under the given name.
func (t *Tensor) Descriptor(name string) TensorDescriptor {
	return TensorDescriptor{Name: name, Type: t.Type, Shape: ShapeOf(t.Shape...)}
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Type:     t.Type,
		Shape:    slices.Clone(t.Shape),
		Float32s: slices.Clone(t.Float32s),
		Float64s: slices.Clone(t.Float64s),
		Int64s:   slices.Clone(t.Int64s),
	}
}

// Equal reports whether t and o have the same type, shape and values.
func (t *Tensor) Equal(o *Tensor) bool {
	return t.Type == o.Type &&
		slices.Equal(t.Shape, o.Shape) &&
		slices.Equal(t.Float32s, o.Float32s) &&
		slices.Equal(t.Float64s, o.Float64s) &&
		slices.Equal(t.Int64s, o.Int64s)
}
