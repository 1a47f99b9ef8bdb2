package validator

import (
	"fmt"

	"github.com/zerfoo/zskl/pkg/graph"
)

// transferFunc derives the output descriptors of n from its input
// descriptors. A nil result with a nil error leaves the outputs unknown.
type transferFunc func(ic *inference, n *graph.Node, in []graph.TensorDescriptor) ([]graph.TensorDescriptor, error)

var transfers map[string]transferFunc

func init() {
	transfers = map[string]transferFunc{
		"Identity":               inferIdentity,
		"Cast":                   inferCast,
		"Sigmoid":                inferFloatUnary,
		"Log":                    inferFloatUnary,
		"Softmax":                inferFloatUnary,
		"Clip":                   inferFloatUnary,
		"Add":                    inferBroadcast,
		"Sub":                    inferBroadcast,
		"Mul":                    inferBroadcast,
		"Div":                    inferBroadcast,
		"Sum":                    inferBroadcast,
		"MatMul":                 inferMatMul,
		"Concat":                 inferConcat,
		"ArgMax":                 inferArgMax,
		"Gather":                 inferGather,
		"ReduceSum":              inferReduce,
		"ReduceMean":             inferReduce,
		"OneHot":                 inferOneHot,
		"TreeEnsembleRegressor":  inferTreeRegressor,
		"TreeEnsembleClassifier": inferTreeClassifier,
	}
}

type inference struct {
	known  map[string]graph.TensorDescriptor
	consts map[string]*graph.Tensor
}

func infer(g *graph.Graph) (map[string]graph.TensorDescriptor, error) {
	ic := &inference{
		known:  make(map[string]graph.TensorDescriptor),
		consts: make(map[string]*graph.Tensor),
	}
	for _, in := range g.Inputs {
		ic.known[in.Name] = graph.TensorDescriptor{Name: in.Name, Type: in.Type, Shape: in.Shape.Clone()}
	}
	for _, in := range g.Initializers {
		ic.known[in.Name] = in.Tensor.Descriptor(in.Name)
		ic.consts[in.Name] = in.Tensor
	}
	for _, n := range g.Nodes {
		fn, ok := transfers[n.OpType]
		if !ok {
			continue
		}
		in, ok := ic.inputs(n)
		if !ok {
			continue
		}
		outs, err := fn(ic, n, in)
		if err != nil {
			return nil, err
		}
		for i, d := range outs {
			if i >= len(n.Outputs) {
				break
			}
			d.Name = n.Outputs[i]
			ic.known[d.Name] = d
		}
	}
	return ic.known, nil
}

// inputs collects the descriptors of n's inputs; optional empty inputs are
// left zero. It reports false if any input is unknown.
func (ic *inference) inputs(n *graph.Node) ([]graph.TensorDescriptor, bool) {
	out := make([]graph.TensorDescriptor, len(n.Inputs))
	for i, name := range n.Inputs {
		if name == "" {
			continue
		}
		d, ok := ic.known[name]
		if !ok {
			return nil, false
		}
		out[i] = d
	}
	return out, true
}

func mismatch(n *graph.Node, tensor string, expected, got graph.TensorDescriptor, reason string) error {
	return &ShapeMismatchError{Node: n.Name, Tensor: tensor, Expected: expected, Got: got, Reason: reason}
}

func requireInputs(n *graph.Node, in []graph.TensorDescriptor, count int) error {
	if len(in) < count {
		return fmt.Errorf("node %q (%s) needs %d inputs, has %d", n.Name, n.OpType, count, len(in))
	}
	return nil
}

func requireFloat(n *graph.Node, d graph.TensorDescriptor) error {
	if d.Type.IsFloat() {
		return nil
	}
	want := d
	want.Type = graph.Float32
	return mismatch(n, d.Name, want, d, "expected a float tensor")
}

func requireSameType(n *graph.Node, in []graph.TensorDescriptor) error {
	for _, d := range in[1:] {
		if d.Name != "" && d.Type != in[0].Type {
			want := d
			want.Type = in[0].Type
			return mismatch(n, d.Name, want, d, "operand types differ")
		}
	}
	return nil
}

func normalizeAxis(axis int64, rank int) int {
	if axis < 0 {
		axis += int64(rank)
	}
	return int(axis)
}

func inferIdentity(_ *inference, n *graph.Node, in []graph.TensorDescriptor) ([]graph.TensorDescriptor, error) {
	if err := requireInputs(n, in, 1); err != nil {
		return nil, err
	}
	return []graph.TensorDescriptor{{Type: in[0].Type, Shape: in[0].Shape.Clone()}}, nil
}

func inferCast(_ *inference, n *graph.Node, in []graph.TensorDescriptor) ([]graph.TensorDescriptor, error) {
	if err := requireInputs(n, in, 1); err != nil {
		return nil, err
	}
	to := graph.ElemType(n.AttrInt("to", 0))
	if to == graph.Undefined {
		return nil, fmt.Errorf("node %q (Cast) has no target type", n.Name)
	}
	return []graph.TensorDescriptor{{Type: to, Shape: in[0].Shape.Clone()}}, nil
}

func inferFloatUnary(_ *inference, n *graph.Node, in []graph.TensorDescriptor) ([]graph.TensorDescriptor, error) {
	if err := requireInputs(n, in, 1); err != nil {
		return nil, err
	}
	if err := requireFloat(n, in[0]); err != nil {
		return nil, err
	}
	return []graph.TensorDescriptor{{Type: in[0].Type, Shape: in[0].Shape.Clone()}}, nil
}

// broadcastDim merges two right-aligned dimensions under numpy rules.
func broadcastDim(a, b graph.Dim) (graph.Dim, bool) {
	switch {
	case a.Value == 1:
		return b, true
	case b.Value == 1:
		return a, true
	case a.IsDynamic():
		return b, true
	case b.IsDynamic():
		return a, true
	}
	return a, a.Value == b.Value
}

func inferBroadcast(_ *inference, n *graph.Node, in []graph.TensorDescriptor) ([]graph.TensorDescriptor, error) {
	if err := requireInputs(n, in, 1); err != nil {
		return nil, err
	}
	if err := requireSameType(n, in); err != nil {
		return nil, err
	}
	out := in[0].Shape.Clone()
	for _, d := range in[1:] {
		rank := max(len(out), len(d.Shape))
		merged := make(graph.Shape, rank)
		for i := range rank {
			a, b := graph.Fixed(1), graph.Fixed(1)
			if j := i - (rank - len(out)); j >= 0 {
				a = out[j]
			}
			if j := i - (rank - len(d.Shape)); j >= 0 {
				b = d.Shape[j]
			}
			m, ok := broadcastDim(a, b)
			if !ok {
				return nil, mismatch(n, d.Name, graph.TensorDescriptor{Type: d.Type, Shape: out}, d, "shapes are not broadcastable")
			}
			merged[i] = m
		}
		out = merged
	}
	return []graph.TensorDescriptor{{Type: in[0].Type, Shape: out}}, nil
}

func inferMatMul(_ *inference, n *graph.Node, in []graph.TensorDescriptor) ([]graph.TensorDescriptor, error) {
	if err := requireInputs(n, in, 2); err != nil {
		return nil, err
	}
	a, b := in[0], in[1]
	if err := requireFloat(n, a); err != nil {
		return nil, err
	}
	if err := requireSameType(n, in); err != nil {
		return nil, err
	}
	if a.Shape.Rank() != 2 || b.Shape.Rank() != 2 {
		return nil, nil
	}
	k1, k2 := a.Shape[1], b.Shape[0]
	if !k1.IsDynamic() && !k2.IsDynamic() && k1.Value != k2.Value {
		want := graph.TensorDescriptor{Type: a.Type, Shape: graph.Shape{k1, b.Shape[1]}}
		return nil, mismatch(n, b.Name, want, b, "inner dimensions differ")
	}
	return []graph.TensorDescriptor{{Type: a.Type, Shape: graph.Shape{a.Shape[0], b.Shape[1]}}}, nil
}

func inferConcat(_ *inference, n *graph.Node, in []graph.TensorDescriptor) ([]graph.TensorDescriptor, error) {
	if err := requireInputs(n, in, 1); err != nil {
		return nil, err
	}
	if err := requireSameType(n, in); err != nil {
		return nil, err
	}
	if !n.HasAttr("axis") {
		return nil, fmt.Errorf("node %q (Concat) has no axis", n.Name)
	}
	rank := in[0].Shape.Rank()
	axis := normalizeAxis(n.AttrInt("axis", 0), rank)
	if axis < 0 || axis >= rank {
		return nil, mismatch(n, in[0].Name, in[0], in[0], fmt.Sprintf("axis %d out of range", n.AttrInt("axis", 0)))
	}
	out := in[0].Shape.Clone()
	for _, d := range in[1:] {
		if d.Shape.Rank() != rank {
			return nil, mismatch(n, d.Name, in[0], d, "ranks differ")
		}
		for i := range rank {
			if i == axis {
				if out[i].IsDynamic() || d.Shape[i].IsDynamic() {
					out[i] = graph.Dynamic("")
				} else {
					out[i] = graph.Fixed(out[i].Value + d.Shape[i].Value)
				}
				continue
			}
			if out[i].IsDynamic() {
				out[i] = d.Shape[i]
			} else if !d.Shape[i].IsDynamic() && d.Shape[i].Value != out[i].Value {
				return nil, mismatch(n, d.Name, graph.TensorDescriptor{Type: d.Type, Shape: out}, d, "non-axis dimensions differ")
			}
		}
	}
	return []graph.TensorDescriptor{{Type: in[0].Type, Shape: out}}, nil
}

func inferArgMax(_ *inference, n *graph.Node, in []graph.TensorDescriptor) ([]graph.TensorDescriptor, error) {
	if err := requireInputs(n, in, 1); err != nil {
		return nil, err
	}
	rank := in[0].Shape.Rank()
	axis := normalizeAxis(n.AttrInt("axis", 0), rank)
	if axis < 0 || axis >= rank {
		return nil, mismatch(n, in[0].Name, in[0], in[0], "axis out of range")
	}
	return []graph.TensorDescriptor{{Type: graph.Int64, Shape: reduceShape(in[0].Shape, []int{axis}, n.AttrInt("keepdims", 1) != 0)}}, nil
}

func reduceShape(s graph.Shape, axes []int, keep bool) graph.Shape {
	reduced := make(map[int]bool, len(axes))
	for _, a := range axes {
		reduced[a] = true
	}
	var out graph.Shape
	for i, d := range s {
		switch {
		case !reduced[i]:
			out = append(out, d)
		case keep:
			out = append(out, graph.Fixed(1))
		}
	}
	if out == nil {
		out = graph.Shape{}
	}
	return out
}

func inferGather(_ *inference, n *graph.Node, in []graph.TensorDescriptor) ([]graph.TensorDescriptor, error) {
	if err := requireInputs(n, in, 2); err != nil {
		return nil, err
	}
	data, idx := in[0], in[1]
	if idx.Type != graph.Int64 {
		want := idx
		want.Type = graph.Int64
		return nil, mismatch(n, idx.Name, want, idx, "indices must be int64")
	}
	rank := data.Shape.Rank()
	axis := normalizeAxis(n.AttrInt("axis", 0), rank)
	if axis < 0 || axis >= rank {
		return nil, mismatch(n, data.Name, data, data, "axis out of range")
	}
	out := append(graph.Shape{}, data.Shape[:axis]...)
	out = append(out, idx.Shape...)
	out = append(out, data.Shape[axis+1:]...)
	return []graph.TensorDescriptor{{Type: data.Type, Shape: out}}, nil
}

func inferReduce(ic *inference, n *graph.Node, in []graph.TensorDescriptor) ([]graph.TensorDescriptor, error) {
	if err := requireInputs(n, in, 1); err != nil {
		return nil, err
	}
	if err := requireFloat(n, in[0]); err != nil {
		return nil, err
	}
	rank := in[0].Shape.Rank()
	var raw []int64
	switch {
	case len(n.Inputs) > 1 && n.Inputs[1] != "":
		c, ok := ic.consts[n.Inputs[1]]
		if !ok {
			return nil, nil
		}
		if c.Type != graph.Int64 {
			want := in[1]
			want.Type = graph.Int64
			return nil, mismatch(n, in[1].Name, want, in[1], "axes must be int64")
		}
		raw = c.Int64s
	case n.HasAttr("axes"):
		raw = n.AttrInts("axes")
	default:
		for i := range rank {
			raw = append(raw, int64(i))
		}
	}
	axes := make([]int, len(raw))
	for i, a := range raw {
		axes[i] = normalizeAxis(a, rank)
		if axes[i] < 0 || axes[i] >= rank {
			return nil, mismatch(n, in[0].Name, in[0], in[0], fmt.Sprintf("axis %d out of range", a))
		}
	}
	return []graph.TensorDescriptor{{Type: in[0].Type, Shape: reduceShape(in[0].Shape, axes, n.AttrInt("keepdims", 1) != 0)}}, nil
}

func inferOneHot(ic *inference, n *graph.Node, in []graph.TensorDescriptor) ([]graph.TensorDescriptor, error) {
	if err := requireInputs(n, in, 3); err != nil {
		return nil, err
	}
	idx, values := in[0], in[2]
	depth := graph.Dynamic("")
	if c, ok := ic.consts[n.Inputs[1]]; ok && c.Len() == 1 {
		depth = graph.Fixed(int64(c.At(0)))
	}
	rank := idx.Shape.Rank() + 1
	axis := normalizeAxis(n.AttrInt("axis", -1), rank)
	if axis < 0 || axis >= rank {
		return nil, mismatch(n, idx.Name, idx, idx, "axis out of range")
	}
	out := append(graph.Shape{}, idx.Shape[:axis]...)
	out = append(out, depth)
	out = append(out, idx.Shape[axis:]...)
	return []graph.TensorDescriptor{{Type: values.Type, Shape: out}}, nil
}

func checkTreeInput(n *graph.Node, x graph.TensorDescriptor) error {
	if x.Shape.Rank() != 2 {
		return mismatch(n, x.Name, graph.TensorDescriptor{Type: x.Type, Shape: graph.ShapeOf(-1, -1)}, x, "tree input must be rank 2")
	}
	f := x.Shape[1]
	if f.IsDynamic() {
		return nil
	}
	for _, id := range n.AttrInts("nodes_featureids") {
		if id >= f.Value {
			return mismatch(n, x.Name, graph.TensorDescriptor{Type: x.Type, Shape: graph.Shape{x.Shape[0], graph.Fixed(id + 1)}}, x,
				fmt.Sprintf("split on feature %d", id))
		}
	}
	return nil
}

func inferTreeRegressor(_ *inference, n *graph.Node, in []graph.TensorDescriptor) ([]graph.TensorDescriptor, error) {
	if err := requireInputs(n, in, 1); err != nil {
		return nil, err
	}
	if err := checkTreeInput(n, in[0]); err != nil {
		return nil, err
	}
	targets := graph.Fixed(n.AttrInt("n_targets", 1))
	return []graph.TensorDescriptor{{Type: graph.Float32, Shape: graph.Shape{in[0].Shape[0], targets}}}, nil
}

func inferTreeClassifier(_ *inference, n *graph.Node, in []graph.TensorDescriptor) ([]graph.TensorDescriptor, error) {
	if err := requireInputs(n, in, 1); err != nil {
		return nil, err
	}
	if err := checkTreeInput(n, in[0]); err != nil {
		return nil, err
	}
	batch := in[0].Shape[0]
	classes := graph.Fixed(int64(len(n.AttrInts("classlabels_int64s"))))
	return []graph.TensorDescriptor{
		{Type: graph.Int64, Shape: graph.Shape{batch}},
		{Type: graph.Float32, Shape: graph.Shape{batch, classes}},
	}, nil
}
