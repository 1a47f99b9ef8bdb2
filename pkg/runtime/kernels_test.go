package runtime

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerfoo/zskl/pkg/graph"
)

func floats(shape []int64, data ...float64) *value {
	return &value{typ: graph.Float32, shape: shape, f: data}
}

func ints(shape []int64, data ...int64) *value {
	return &value{typ: graph.Int64, shape: shape, i: data}
}

func node(op string, attrs graph.Attrs) *graph.Node {
	return &graph.Node{Name: op, OpType: op, Attributes: attrs}
}

func TestBroadcastShape(t *testing.T) {
	tests := []struct {
		a, b, want []int64
		fail       bool
	}{
		{a: []int64{4, 3}, b: []int64{3}, want: []int64{4, 3}},
		{a: []int64{4, 1}, b: []int64{1, 5}, want: []int64{4, 5}},
		{a: []int64{1}, b: []int64{2, 2}, want: []int64{2, 2}},
		{a: []int64{4, 3}, b: []int64{2}, fail: true},
	}
	for _, tt := range tests {
		got, err := broadcastShape(tt.a, tt.b)
		if tt.fail {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestArithmeticBroadcasts(t *testing.T) {
	out, err := kernels["Sub"](node("Sub", nil), []*value{
		floats([]int64{1}, 1),
		floats([]int64{2, 1}, 0.25, 0.75),
	}, 15)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.75, 0.25}, out[0].f)

	_, err = kernels["Add"](node("Add", nil), []*value{floats([]int64{1}, 1), ints([]int64{1}, 1)}, 15)
	assert.Error(t, err)
}

func TestReduceVariants(t *testing.T) {
	x := floats([]int64{2, 3}, 1, 2, 3, 4, 5, 6)

	byAttr, err := kernels["ReduceSum"](node("ReduceSum", graph.Attrs{"axes": graph.IntsAttr(1)}), []*value{x}, 11)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, byAttr[0].shape)
	assert.Equal(t, []float64{6, 15}, byAttr[0].f)

	byInput, err := kernels["ReduceSum"](node("ReduceSum", nil), []*value{x, ints([]int64{1}, 1)}, 13)
	require.NoError(t, err)
	assert.Equal(t, byAttr[0].f, byInput[0].f)

	mean, err := kernels["ReduceMean"](node("ReduceMean", graph.Attrs{"keepdims": graph.IntAttr(0)}), []*value{x}, 13)
	require.NoError(t, err)
	assert.Empty(t, mean[0].shape)
	assert.Equal(t, []float64{3.5}, mean[0].f)
}

func TestSoftmaxAxisDefaults(t *testing.T) {
	x := floats([]int64{1, 2, 2}, 0, 0, 0, 0)

	legacy, err := kernels["Softmax"](node("Softmax", nil), []*value{x}, 11)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, legacy[0].f)

	current, err := kernels["Softmax"](node("Softmax", nil), []*value{x}, 13)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5}, current[0].f)
}

func TestClipByOpset(t *testing.T) {
	x := floats([]int64{3}, -2, 0.5, 3)
	attrs, err := kernels["Clip"](node("Clip", graph.Attrs{"min": graph.FloatAttr(0), "max": graph.FloatAttr(1)}), []*value{x}, 6)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1}, attrs[0].f)

	inputs, err := kernels["Clip"](node("Clip", nil), []*value{x, floats(nil, -1), nil}, 11)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 0.5, 3}, inputs[0].f)
}

func TestArgMaxFirstMaximum(t *testing.T) {
	x := floats([]int64{3, 3}, 1, 5, 5, 2, 2, 2, 0, 1, 9)
	out, err := kernels["ArgMax"](node("ArgMax", graph.Attrs{"axis": graph.IntAttr(1), "keepdims": graph.IntAttr(0)}), []*value{x}, 13)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, out[0].shape)
	assert.Equal(t, []int64{1, 0, 2}, out[0].i)
}

func TestGatherAndConcat(t *testing.T) {
	labels := ints([]int64{3}, 10, 20, 30)
	got, err := kernels["Gather"](node("Gather", nil), []*value{labels, ints([]int64{4}, 2, 0, -1, 1)}, 13)
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 10, 30, 20}, got[0].i)

	_, err = kernels["Gather"](node("Gather", nil), []*value{labels, ints([]int64{1}, 3)}, 13)
	assert.Error(t, err)

	cat, err := kernels["Concat"](node("Concat", graph.Attrs{"axis": graph.IntAttr(1)}), []*value{
		floats([]int64{2, 1}, 1, 2),
		floats([]int64{2, 2}, 3, 4, 5, 6),
	}, 13)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, cat[0].shape)
	assert.Equal(t, []float64{1, 3, 4, 2, 5, 6}, cat[0].f)
}

func TestOneHot(t *testing.T) {
	out, err := kernels["OneHot"](node("OneHot", graph.Attrs{"axis": graph.IntAttr(-1)}), []*value{
		ints([]int64{4}, 0, 2, -1, 5),
		ints([]int64{1}, 3),
		floats([]int64{2}, 0, 1),
	}, 13)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3}, out[0].shape)
	want := []float64{
		1, 0, 0,
		0, 0, 1,
		0, 0, 1,
		0, 0, 0,
	}
	if diff := cmp.Diff(want, out[0].f); diff != "" {
		t.Errorf("OneHot mismatch (-want +got):\n%s", diff)
	}
}

func TestTreeEnsembleModes(t *testing.T) {
	attrs := graph.Attrs{
		"nodes_treeids":      graph.IntsAttr(0, 0, 0, 1, 1, 1),
		"nodes_nodeids":      graph.IntsAttr(0, 1, 2, 0, 1, 2),
		"nodes_featureids":   graph.IntsAttr(0, 0, 0, 1, 0, 0),
		"nodes_modes":        graph.StringsAttr("BRANCH_LT", "LEAF", "LEAF", "BRANCH_GTE", "LEAF", "LEAF"),
		"nodes_values":       graph.FloatsAttr(1, 0, 0, 2, 0, 0),
		"nodes_truenodeids":  graph.IntsAttr(1, 0, 0, 1, 0, 0),
		"nodes_falsenodeids": graph.IntsAttr(2, 0, 0, 2, 0, 0),
		"target_treeids":     graph.IntsAttr(0, 0, 1, 1),
		"target_nodeids":     graph.IntsAttr(1, 2, 1, 2),
		"target_ids":         graph.IntsAttr(0, 0, 0, 0),
		"target_weights":     graph.FloatsAttr(1, 10, 100, 1000),
		"n_targets":          graph.IntAttr(1),
	}
	x := floats([]int64{3, 2}, 0, 2, 1, 1, 5, 3)

	sum, err := kernels["TreeEnsembleRegressor"](node("TreeEnsembleRegressor", attrs), []*value{x}, 15)
	require.NoError(t, err)
	assert.Equal(t, []float64{101, 1010, 110}, sum[0].f)

	attrs["aggregate_function"] = graph.StringAttr("MAX")
	attrs["base_values"] = graph.FloatsAttr(0.5)
	maxed, err := kernels["TreeEnsembleRegressor"](node("TreeEnsembleRegressor", attrs), []*value{x}, 15)
	require.NoError(t, err)
	assert.Equal(t, []float64{100.5, 1000.5, 100.5}, maxed[0].f)

	attrs["post_transform"] = graph.StringAttr("LOGISTIC")
	_, err = kernels["TreeEnsembleRegressor"](node("TreeEnsembleRegressor", attrs), []*value{x}, 15)
	assert.ErrorContains(t, err, "post_transform")
}

func TestSupportedOps(t *testing.T) {
	ops := SupportedOps()
	assert.Contains(t, ops, "TreeEnsembleClassifier")
	assert.Contains(t, ops, "OneHot")
	assert.IsIncreasing(t, ops)
}
