package runtime

import (
	"fmt"
	"math"
	"slices"

	"github.com/zerfoo/zskl/pkg/graph"
)

// kernel executes one node. opset is the default-domain version imported by
// the graph.
type kernel func(n *graph.Node, in []*value, opset int64) ([]*value, error)

var kernels = map[string]kernel{
	"Identity":               runIdentity,
	"Cast":                   runCast,
	"Sigmoid":                unary(func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }),
	"Log":                    unary(math.Log),
	"Softmax":                runSoftmax,
	"Clip":                   runClip,
	"Add":                    arith(func(x, y float64) float64 { return x + y }),
	"Sub":                    arith(func(x, y float64) float64 { return x - y }),
	"Mul":                    arith(func(x, y float64) float64 { return x * y }),
	"Div":                    arith(func(x, y float64) float64 { return x / y }),
	"Sum":                    runSum,
	"MatMul":                 runMatMul,
	"Concat":                 runConcat,
	"ArgMax":                 runArgMax,
	"Gather":                 runGather,
	"ReduceSum":              reduceKernel(false),
	"ReduceMean":             reduceKernel(true),
	"OneHot":                 runOneHot,
	"TreeEnsembleRegressor":  runTreeRegressor,
	"TreeEnsembleClassifier": runTreeClassifier,
}

// SupportedOps returns the operator types the interpreter can run.
func SupportedOps() []string {
	ops := make([]string, 0, len(kernels))
	for op := range kernels {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

func needInputs(in []*value, count int) error {
	if len(in) < count {
		return fmt.Errorf("needs %d inputs, has %d", count, len(in))
	}
	for k := range count {
		if in[k] == nil {
			return fmt.Errorf("input %d is missing", k)
		}
	}
	return nil
}

func runIdentity(_ *graph.Node, in []*value, _ int64) ([]*value, error) {
	if err := needInputs(in, 1); err != nil {
		return nil, err
	}
	return []*value{in[0]}, nil
}

func runCast(n *graph.Node, in []*value, _ int64) ([]*value, error) {
	if err := needInputs(in, 1); err != nil {
		return nil, err
	}
	src := in[0]
	to := graph.ElemType(n.AttrInt("to", 0))
	switch to {
	case graph.Float32, graph.Float64:
		out := newFloat(to, src.shape)
		for k := range out.f {
			out.f[k] = src.at(k)
		}
		return []*value{out}, nil
	case graph.Int64:
		out := newInt(src.shape)
		for k := range out.i {
			out.i[k] = int64(src.at(k))
		}
		return []*value{out}, nil
	}
	return nil, &graph.UnsupportedTypeError{Type: to, Context: "Cast target"}
}

func unary(fn func(float64) float64) kernel {
	return func(_ *graph.Node, in []*value, _ int64) ([]*value, error) {
		if err := needInputs(in, 1); err != nil {
			return nil, err
		}
		if !in[0].typ.IsFloat() {
			return nil, &graph.UnsupportedTypeError{Type: in[0].typ, Context: "unary op"}
		}
		out := newFloat(in[0].typ, in[0].shape)
		for k, x := range in[0].f {
			out.f[k] = fn(x)
		}
		return []*value{out}, nil
	}
}

func arith(fn func(x, y float64) float64) kernel {
	return func(_ *graph.Node, in []*value, _ int64) ([]*value, error) {
		if err := needInputs(in, 2); err != nil {
			return nil, err
		}
		out, err := binary(in[0], in[1], fn)
		if err != nil {
			return nil, err
		}
		return []*value{out}, nil
	}
}

func runSum(_ *graph.Node, in []*value, _ int64) ([]*value, error) {
	if err := needInputs(in, 1); err != nil {
		return nil, err
	}
	acc := in[0]
	for _, v := range in[1:] {
		var err error
		if acc, err = binary(acc, v, func(x, y float64) float64 { return x + y }); err != nil {
			return nil, err
		}
	}
	return []*value{acc}, nil
}

// runSoftmax normalizes along axis. Before opset 13 the input is coerced to
// 2D at axis (default 1); from 13 on the softmax runs along the single axis
// (default -1).
func runSoftmax(n *graph.Node, in []*value, opset int64) ([]*value, error) {
	if err := needInputs(in, 1); err != nil {
		return nil, err
	}
	x := in[0]
	rank := len(x.shape)
	def := int64(-1)
	if opset < 13 {
		def = 1
	}
	axis, err := normAxis(n.AttrInt("axis", def), rank)
	if err != nil {
		return nil, err
	}
	out := newFloat(x.typ, x.shape)
	var outer, size, inner int
	if opset < 13 {
		outer, size, inner = numel(x.shape[:axis]), numel(x.shape[axis:]), 1
	} else {
		outer, size, inner = numel(x.shape[:axis]), int(x.shape[axis]), numel(x.shape[axis+1:])
	}
	for o := range outer {
		for i := range inner {
			base := o*size*inner + i
			m := math.Inf(-1)
			for s := range size {
				m = math.Max(m, x.f[base+s*inner])
			}
			sum := 0.0
			for s := range size {
				e := math.Exp(x.f[base+s*inner] - m)
				out.f[base+s*inner] = e
				sum += e
			}
			for s := range size {
				out.f[base+s*inner] /= sum
			}
		}
	}
	return []*value{out}, nil
}

func runClip(n *graph.Node, in []*value, opset int64) ([]*value, error) {
	if err := needInputs(in, 1); err != nil {
		return nil, err
	}
	lo, hi := math.Inf(-1), math.Inf(1)
	if opset < 11 {
		lo = n.AttrFloat("min", lo)
		hi = n.AttrFloat("max", hi)
	} else {
		if len(in) > 1 && in[1] != nil {
			lo = in[1].at(0)
		}
		if len(in) > 2 && in[2] != nil {
			hi = in[2].at(0)
		}
	}
	x := in[0]
	out := newFloat(x.typ, x.shape)
	for k, v := range x.f {
		out.f[k] = min(max(v, lo), hi)
	}
	out.round()
	return []*value{out}, nil
}

func runMatMul(_ *graph.Node, in []*value, _ int64) ([]*value, error) {
	if err := needInputs(in, 2); err != nil {
		return nil, err
	}
	a, b := in[0], in[1]
	if len(a.shape) != 2 || len(b.shape) != 2 {
		return nil, fmt.Errorf("only rank-2 operands are supported, got %v x %v", a.shape, b.shape)
	}
	if a.typ != b.typ || !a.typ.IsFloat() {
		return nil, fmt.Errorf("operand types %s and %s", a.typ, b.typ)
	}
	m, k, n := int(a.shape[0]), int(a.shape[1]), int(b.shape[1])
	if int(b.shape[0]) != k {
		return nil, fmt.Errorf("inner dimensions differ: %v x %v", a.shape, b.shape)
	}
	out := newFloat(a.typ, []int64{int64(m), int64(n)})
	for r := range m {
		for c := range n {
			s := 0.0
			for j := range k {
				s += a.f[r*k+j] * b.f[j*n+c]
			}
			out.f[r*n+c] = s
		}
	}
	return []*value{out}, nil
}

func runConcat(n *graph.Node, in []*value, _ int64) ([]*value, error) {
	if err := needInputs(in, 1); err != nil {
		return nil, err
	}
	rank := len(in[0].shape)
	axis, err := normAxis(n.AttrInt("axis", 0), rank)
	if err != nil {
		return nil, err
	}
	shape := slices.Clone(in[0].shape)
	shape[axis] = 0
	for _, v := range in {
		if v.typ != in[0].typ || len(v.shape) != rank {
			return nil, fmt.Errorf("cannot concatenate %s%v with %s%v", in[0].typ, in[0].shape, v.typ, v.shape)
		}
		for d := range rank {
			if d != axis && v.shape[d] != in[0].shape[d] {
				return nil, fmt.Errorf("cannot concatenate %v with %v on axis %d", in[0].shape, v.shape, axis)
			}
		}
		shape[axis] += v.shape[axis]
	}
	outer, inner := numel(shape[:axis]), numel(shape[axis+1:])
	out := &value{typ: in[0].typ, shape: shape}
	if out.typ == graph.Int64 {
		out.i = make([]int64, 0, numel(shape))
	} else {
		out.f = make([]float64, 0, numel(shape))
	}
	for o := range outer {
		for _, v := range in {
			chunk := int(v.shape[axis]) * inner
			if out.typ == graph.Int64 {
				out.i = append(out.i, v.i[o*chunk:(o+1)*chunk]...)
			} else {
				out.f = append(out.f, v.f[o*chunk:(o+1)*chunk]...)
			}
		}
	}
	return []*value{out}, nil
}

// runArgMax returns the first index of the maximum along axis.
func runArgMax(n *graph.Node, in []*value, _ int64) ([]*value, error) {
	if err := needInputs(in, 1); err != nil {
		return nil, err
	}
	x := in[0]
	axis, err := normAxis(n.AttrInt("axis", 0), len(x.shape))
	if err != nil {
		return nil, err
	}
	outer, size, inner := numel(x.shape[:axis]), int(x.shape[axis]), numel(x.shape[axis+1:])
	keep := slices.Clone(x.shape)
	keep[axis] = 1
	out := newInt(keep)
	for o := range outer {
		for i := range inner {
			base := o*size*inner + i
			best := 0
			for s := 1; s < size; s++ {
				if x.at(base+s*inner) > x.at(base+best*inner) {
					best = s
				}
			}
			out.i[o*inner+i] = int64(best)
		}
	}
	if n.AttrInt("keepdims", 1) == 0 {
		out = out.reshaped(slices.Delete(keep, axis, axis+1))
	}
	return []*value{out}, nil
}

func runGather(n *graph.Node, in []*value, _ int64) ([]*value, error) {
	if err := needInputs(in, 2); err != nil {
		return nil, err
	}
	data, idx := in[0], in[1]
	if idx.typ != graph.Int64 {
		return nil, &graph.UnsupportedTypeError{Type: idx.typ, Context: "Gather indices"}
	}
	axis, err := normAxis(n.AttrInt("axis", 0), len(data.shape))
	if err != nil {
		return nil, err
	}
	dim := data.shape[axis]
	outer, inner := numel(data.shape[:axis]), numel(data.shape[axis+1:])
	shape := append(slices.Clone(data.shape[:axis]), idx.shape...)
	shape = append(shape, data.shape[axis+1:]...)
	out := &value{typ: data.typ, shape: shape}
	for o := range outer {
		for _, j := range idx.i {
			if j < 0 {
				j += dim
			}
			if j < 0 || j >= dim {
				return nil, fmt.Errorf("index %d out of range for axis of size %d", j, dim)
			}
			start := (o*int(dim) + int(j)) * inner
			if data.typ == graph.Int64 {
				out.i = append(out.i, data.i[start:start+inner]...)
			} else {
				out.f = append(out.f, data.f[start:start+inner]...)
			}
		}
	}
	return []*value{out}, nil
}

// reduceAxes reads the reduction axes from the second input (opset 13+ for
// ReduceSum, 18+ for ReduceMean) or the axes attribute. No axes reduces all.
func reduceAxes(n *graph.Node, in []*value, rank int) ([]int, error) {
	var raw []int64
	switch {
	case len(in) > 1 && in[1] != nil:
		raw = in[1].i
	case n.HasAttr("axes"):
		raw = n.AttrInts("axes")
	default:
		for d := range rank {
			raw = append(raw, int64(d))
		}
	}
	axes := make([]int, len(raw))
	for k, a := range raw {
		ax, err := normAxis(a, rank)
		if err != nil {
			return nil, err
		}
		axes[k] = ax
	}
	return axes, nil
}

func reduceKernel(mean bool) kernel {
	return func(n *graph.Node, in []*value, _ int64) ([]*value, error) {
		if err := needInputs(in, 1); err != nil {
			return nil, err
		}
		x := in[0]
		if !x.typ.IsFloat() {
			return nil, &graph.UnsupportedTypeError{Type: x.typ, Context: "reduction"}
		}
		axes, err := reduceAxes(n, in, len(x.shape))
		if err != nil {
			return nil, err
		}
		keep := slices.Clone(x.shape)
		count := 1
		for _, a := range axes {
			if keep[a] != 1 {
				count *= int(keep[a])
			}
			keep[a] = 1
		}
		out := newFloat(x.typ, keep)
		xs, ks := strides(x.shape), strides(keep)
		for k, v := range x.f {
			out.f[broadcastIndex(k, x.shape, xs, keep, ks)] += v
		}
		if mean {
			for k := range out.f {
				out.f[k] /= float64(count)
			}
		}
		if n.AttrInt("keepdims", 1) == 0 {
			var squeezed []int64
			for d, size := range keep {
				if !slices.Contains(axes, d) {
					squeezed = append(squeezed, size)
				}
			}
			out = out.reshaped(squeezed)
		}
		return []*value{out}, nil
	}
}

func runOneHot(n *graph.Node, in []*value, _ int64) ([]*value, error) {
	if err := needInputs(in, 3); err != nil {
		return nil, err
	}
	idx, depthV, values := in[0], in[1], in[2]
	if depthV.len() != 1 || values.len() != 2 {
		return nil, fmt.Errorf("depth must hold 1 value and values 2, got %d and %d", depthV.len(), values.len())
	}
	depth := int64(depthV.at(0))
	rank := len(idx.shape) + 1
	axis, err := normAxis(n.AttrInt("axis", -1), rank)
	if err != nil {
		return nil, err
	}
	shape := append(slices.Clone(idx.shape[:axis]), depth)
	shape = append(shape, idx.shape[axis:]...)
	off, on := values.at(0), values.at(1)
	out := newFloat(values.typ, shape)
	for k := range out.f {
		out.f[k] = off
	}
	inner := numel(idx.shape[axis:])
	for k := range idx.len() {
		j := int64(idx.at(k))
		if j < 0 {
			j += depth
		}
		if j < 0 || j >= depth {
			continue
		}
		o, i := k/inner, k%inner
		out.f[(o*int(depth)+int(j))*inner+i] = on
	}
	return []*value{out}, nil
}
