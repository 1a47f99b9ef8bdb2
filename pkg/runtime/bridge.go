package runtime

import (
	"fmt"
	"slices"

	"github.com/zerfoo/zerfoo/tensor"

	"github.com/zerfoo/zskl/pkg/graph"
)

// FromFloat32 converts a zerfoo tensor into a graph tensor usable as a feed.
func FromFloat32(t *tensor.TensorNumeric[float32]) (*graph.Tensor, error) {
	if t == nil {
		return nil, fmt.Errorf("nil tensor")
	}
	shape := make([]int64, len(t.Shape()))
	for k, d := range t.Shape() {
		shape[k] = int64(d)
	}
	data := t.Data()
	if len(data) != numel(shape) {
		return nil, fmt.Errorf("tensor holds %d elements for shape %v", len(data), shape)
	}
	return &graph.Tensor{Type: graph.Float32, Shape: shape, Float32s: slices.Clone(data)}, nil
}

// ToFloat32 converts a float graph tensor into a zerfoo float32 tensor.
// Float64 data is narrowed.
func ToFloat32(t *graph.Tensor) (*tensor.TensorNumeric[float32], error) {
	if t == nil {
		return nil, fmt.Errorf("nil tensor")
	}
	var data []float32
	switch t.Type {
	case graph.Float32:
		data = slices.Clone(t.Float32s)
	case graph.Float64:
		data = make([]float32, len(t.Float64s))
		for k, x := range t.Float64s {
			data[k] = float32(x)
		}
	default:
		return nil, &graph.UnsupportedTypeError{Type: t.Type, Context: "float32 tensor"}
	}
	shape := make([]int, len(t.Shape))
	for k, d := range t.Shape {
		shape[k] = int(d)
	}
	out, err := tensor.New[float32](shape, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor: %w", err)
	}
	return out, nil
}
