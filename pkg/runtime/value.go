package runtime

import (
	"fmt"
	"slices"

	"github.com/zerfoo/zskl/pkg/graph"
)

// value is the interpreter's working tensor. Float tensors keep their data
// in f as float64 (rounded to float32 precision for Float32); Int64 tensors
// use i.
type value struct {
	typ   graph.ElemType
	shape []int64
	f     []float64
	i     []int64
}

func numel(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

func newFloat(typ graph.ElemType, shape []int64) *value {
	return &value{typ: typ, shape: slices.Clone(shape), f: make([]float64, numel(shape))}
}

func newInt(shape []int64) *value {
	return &value{typ: graph.Int64, shape: slices.Clone(shape), i: make([]int64, numel(shape))}
}

func fromTensor(t *graph.Tensor) (*value, error) {
	v := &value{typ: t.Type, shape: slices.Clone(t.Shape)}
	switch t.Type {
	case graph.Float32:
		v.f = make([]float64, len(t.Float32s))
		for k, x := range t.Float32s {
			v.f[k] = float64(x)
		}
	case graph.Float64:
		v.f = slices.Clone(t.Float64s)
	case graph.Int64:
		v.i = slices.Clone(t.Int64s)
	default:
		return nil, &graph.UnsupportedTypeError{Type: t.Type, Context: "runtime tensor"}
	}
	if v.len() != numel(v.shape) {
		return nil, fmt.Errorf("tensor holds %d elements for shape %v", v.len(), v.shape)
	}
	return v, nil
}

func (v *value) tensor() *graph.Tensor {
	t := &graph.Tensor{Type: v.typ, Shape: slices.Clone(v.shape)}
	switch v.typ {
	case graph.Float32:
		t.Float32s = make([]float32, len(v.f))
		for k, x := range v.f {
			t.Float32s[k] = float32(x)
		}
	case graph.Float64:
		t.Float64s = slices.Clone(v.f)
	case graph.Int64:
		t.Int64s = slices.Clone(v.i)
	}
	return t
}

func (v *value) len() int {
	if v.typ == graph.Int64 {
		return len(v.i)
	}
	return len(v.f)
}

// at returns element k as float64 whatever the storage.
func (v *value) at(k int) float64 {
	if v.typ == graph.Int64 {
		return float64(v.i[k])
	}
	return v.f[k]
}

// round truncates float32 data to float32 precision.
func (v *value) round() {
	if v.typ != graph.Float32 {
		return
	}
	for k, x := range v.f {
		v.f[k] = float64(float32(x))
	}
}

func (v *value) reshaped(shape []int64) *value {
	out := *v
	out.shape = slices.Clone(shape)
	return &out
}

func strides(shape []int64) []int {
	s := make([]int, len(shape))
	acc := 1
	for k := len(shape) - 1; k >= 0; k-- {
		s[k] = acc
		acc *= int(shape[k])
	}
	return s
}

func normAxis(axis int64, rank int) (int, error) {
	a := axis
	if a < 0 {
		a += int64(rank)
	}
	if a < 0 || a >= int64(rank) {
		return 0, fmt.Errorf("axis %d out of range for rank %d", axis, rank)
	}
	return int(a), nil
}

// broadcastShape applies numpy broadcasting to a and b.
func broadcastShape(a, b []int64) ([]int64, error) {
	rank := max(len(a), len(b))
	out := make([]int64, rank)
	for k := range rank {
		da, db := int64(1), int64(1)
		if j := k - (rank - len(a)); j >= 0 {
			da = a[j]
		}
		if j := k - (rank - len(b)); j >= 0 {
			db = b[j]
		}
		switch {
		case da == db, db == 1:
			out[k] = da
		case da == 1:
			out[k] = db
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable", a, b)
		}
	}
	return out, nil
}

// broadcastIndex maps a flat index of out onto a flat index of src, which
// broadcasts to out.
func broadcastIndex(flat int, out []int64, outStrides []int, src []int64, srcStrides []int) int {
	idx := 0
	offset := len(out) - len(src)
	for k := range src {
		coord := (flat / outStrides[k+offset]) % int(out[k+offset])
		if src[k] != 1 {
			idx += coord * srcStrides[k]
		}
	}
	return idx
}

// binary applies fn elementwise with broadcasting. Both operands must share
// a float type.
func binary(a, b *value, fn func(x, y float64) float64) (*value, error) {
	if a.typ != b.typ {
		return nil, fmt.Errorf("operand types %s and %s differ", a.typ, b.typ)
	}
	if !a.typ.IsFloat() {
		return nil, &graph.UnsupportedTypeError{Type: a.typ, Context: "arithmetic"}
	}
	shape, err := broadcastShape(a.shape, b.shape)
	if err != nil {
		return nil, err
	}
	out := newFloat(a.typ, shape)
	outS, as, bs := strides(shape), strides(a.shape), strides(b.shape)
	for k := range out.f {
		out.f[k] = fn(a.f[broadcastIndex(k, shape, outS, a.shape, as)], b.f[broadcastIndex(k, shape, outS, b.shape, bs)])
	}
	return out, nil
}
