package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerfoo/zskl/pkg/graph"
)

func linearGraph(t *testing.T, weightRows int64) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder("linear", graph.WithOpset(graph.DomainDefault, 15))
	require.NoError(t, b.AddInput(graph.FloatTensorType("x", 0, 3)))
	w, err := graph.NewFloatTensor(graph.Float32, []int64{weightRows, 1}, make([]float64, weightRows))
	require.NoError(t, err)
	require.NoError(t, b.AddInitializer("w", w))
	require.NoError(t, b.DeclareOutput(graph.FloatTensorType("y", 0, 1)))
	_, err = b.AddNode("MatMul", graph.DomainDefault, []string{"x", "w"}, []string{"y"}, nil)
	require.NoError(t, err)
	g, err := b.Finalize()
	require.NoError(t, err)
	return g
}

func TestValidate_Valid(t *testing.T) {
	require.NoError(t, Validate(linearGraph(t, 3)))
}

func TestValidate_ShapeMismatch(t *testing.T) {
	err := Validate(linearGraph(t, 4))
	var mismatch *ShapeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "w", mismatch.Tensor)
	assert.Equal(t, "MatMul", mismatch.Node)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestValidate_DeclaredOutputDisagrees(t *testing.T) {
	g := linearGraph(t, 3)
	g.Outputs[0].Type = graph.Float64
	err := Validate(g)
	var mismatch *ShapeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "y", mismatch.Tensor)
	assert.Equal(t, graph.Float32, mismatch.Got.Type)
}

func TestValidate_Structure(t *testing.T) {
	identity := func(name, in, out string) *graph.Node {
		return &graph.Node{Name: name, OpType: "Identity", Inputs: []string{in}, Outputs: []string{out}}
	}
	input := []graph.TensorDescriptor{graph.FloatTensorType("x", 0, 2)}
	output := []graph.TensorDescriptor{graph.FloatTensorType("z", 0, 2)}

	tests := []struct {
		name   string
		g      *graph.Graph
		target error
	}{
		{
			name: "out of order",
			g: &graph.Graph{Inputs: input, Outputs: output, Nodes: []*graph.Node{
				identity("second", "y", "z"),
				identity("first", "x", "y"),
			}},
			target: ErrCyclicGraph,
		},
		{
			name: "self loop",
			g: &graph.Graph{Inputs: input, Outputs: output, Nodes: []*graph.Node{
				identity("loop", "z", "z"),
			}},
			target: ErrCyclicGraph,
		},
		{
			name: "two producers",
			g: &graph.Graph{Inputs: input, Outputs: output, Nodes: []*graph.Node{
				identity("a", "x", "z"),
				identity("b", "x", "z"),
			}},
			target: ErrMultipleProducer,
		},
		{
			name: "unknown tensor",
			g: &graph.Graph{Inputs: input, Outputs: output, Nodes: []*graph.Node{
				identity("a", "ghost", "z"),
			}},
			target: graph.ErrUnknownTensor,
		},
		{
			name:   "output not produced",
			g:      &graph.Graph{Inputs: input, Outputs: output},
			target: graph.ErrIncompleteGraph,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.g)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestValidate_CyclicErrorNamesProducer(t *testing.T) {
	g := &graph.Graph{
		Inputs:  []graph.TensorDescriptor{graph.FloatTensorType("x", 0, 2)},
		Outputs: []graph.TensorDescriptor{graph.FloatTensorType("z", 0, 2)},
		Nodes: []*graph.Node{
			{Name: "late_reader", OpType: "Sigmoid", Inputs: []string{"y"}, Outputs: []string{"z"}},
			{Name: "producer", OpType: "Sigmoid", Inputs: []string{"x"}, Outputs: []string{"y"}},
		},
	}
	var cyclic *CyclicGraphError
	require.ErrorAs(t, Validate(g), &cyclic)
	assert.Equal(t, CyclicGraphError{Node: "late_reader", Tensor: "y", Producer: "producer"}, *cyclic)
}

func TestInfer(t *testing.T) {
	b := graph.NewBuilder("probe", graph.WithOpset(graph.DomainDefault, 13))
	require.NoError(t, b.AddInput(graph.FloatTensorType("x", 0, 4)))
	axes, err := graph.NewInt64Tensor([]int64{1}, []int64{1})
	require.NoError(t, err)
	require.NoError(t, b.AddInitializer("axes", axes))
	classes, err := graph.NewInt64Tensor([]int64{4}, []int64{5, 6, 7, 8})
	require.NoError(t, err)
	require.NoError(t, b.AddInitializer("classes", classes))

	steps := []struct {
		op     string
		inputs []string
		out    string
		attrs  graph.Attrs
	}{
		{"ReduceSum", []string{"x", "axes"}, "total", graph.Attrs{"keepdims": graph.IntAttr(1)}},
		{"Div", []string{"x", "total"}, "proba", nil},
		{"ArgMax", []string{"proba"}, "idx", graph.Attrs{"axis": graph.IntAttr(1), "keepdims": graph.IntAttr(0)}},
		{"Gather", []string{"classes", "idx"}, "label", graph.Attrs{"axis": graph.IntAttr(0)}},
		{"Concat", []string{"proba", "total"}, "wide", graph.Attrs{"axis": graph.IntAttr(1)}},
		{"Tanh", []string{"wide"}, "opaque", nil},
	}
	for _, s := range steps {
		_, err := b.AddNode(s.op, graph.DomainDefault, s.inputs, []string{s.out}, s.attrs)
		require.NoError(t, err)
	}
	g, err := b.Finalize()
	require.NoError(t, err)

	got, err := Infer(g)
	require.NoError(t, err)
	want := map[string]string{
		"total": "float32[N,1]",
		"proba": "float32[N,4]",
		"idx":   "int64[N]",
		"label": "int64[N]",
		"wide":  "float32[N,5]",
	}
	for name, desc := range want {
		d, ok := got[name]
		require.True(t, ok, name)
		assert.Equal(t, desc, d.Type.String()+d.Shape.String(), name)
	}
	_, ok := got["opaque"]
	assert.False(t, ok, "unknown operators leave their outputs uninferred")
}

func TestValidate_NodeWithoutInputs(t *testing.T) {
	for op := range transfers {
		t.Run(op, func(t *testing.T) {
			g := &graph.Graph{
				Name:  "empty-inputs",
				Nodes: []*graph.Node{{Name: "n", OpType: op, Outputs: []string{"y"}}},
			}
			var err error
			require.NotPanics(t, func() { err = Validate(g) })
			assert.ErrorContains(t, err, `node "n" (`+op+`) needs`)
		})
	}
}
