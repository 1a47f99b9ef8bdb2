package converter

import (
	"fmt"

	"github.com/zerfoo/zskl/pkg/estimator"
	"github.com/zerfoo/zskl/pkg/graph"
	"github.com/zerfoo/zskl/pkg/registry"
)

const (
	modeBranchLeq = "BRANCH_LEQ"
	modeLeaf      = "LEAF"
)

func readTree(ctx *registry.ConversionContext, est estimator.Estimator) (estimator.Tree, error) {
	var t estimator.Tree
	var err error
	if t.ChildrenLeft, err = estimator.Int64s(est, "children_left"); err != nil {
		return t, err
	}
	if t.ChildrenRight, err = estimator.Int64s(est, "children_right"); err != nil {
		return t, err
	}
	if t.Feature, err = estimator.Int64s(est, "feature"); err != nil {
		return t, err
	}
	if t.Threshold, err = estimator.Float64s(est, "threshold"); err != nil {
		return t, err
	}
	if err := t.Check(int(ctx.Features())); err != nil {
		return t, fmt.Errorf("%s: %w", ctx.Path(), err)
	}
	return t, nil
}

// treeNodeAttrs describes the nodes of a single tree (tree id 0) in the
// layout shared by TreeEnsembleRegressor and TreeEnsembleClassifier.
func treeNodeAttrs(t estimator.Tree) graph.Attrs {
	n := len(t.ChildrenLeft)
	ids := make([]int64, n)
	treeIDs := make([]int64, n)
	features := make([]int64, n)
	modes := make([]string, n)
	values := make([]float64, n)
	trueIDs := make([]int64, n)
	falseIDs := make([]int64, n)
	for i := range n {
		ids[i] = int64(i)
		if t.ChildrenLeft[i] == estimator.Leaf {
			modes[i] = modeLeaf
			continue
		}
		modes[i] = modeBranchLeq
		features[i] = t.Feature[i]
		values[i] = t.Threshold[i]
		trueIDs[i] = t.ChildrenLeft[i]
		falseIDs[i] = t.ChildrenRight[i]
	}
	return graph.Attrs{
		"nodes_treeids":      graph.IntsAttr(treeIDs...),
		"nodes_nodeids":      graph.IntsAttr(ids...),
		"nodes_featureids":   graph.IntsAttr(features...),
		"nodes_modes":        graph.StringsAttr(modes...),
		"nodes_values":       graph.FloatsAttr(values...),
		"nodes_truenodeids":  graph.IntsAttr(trueIDs...),
		"nodes_falsenodeids": graph.IntsAttr(falseIDs...),
		"post_transform":     graph.StringAttr("NONE"),
	}
}

func convertDecisionTreeRegressor(ctx *registry.ConversionContext, est estimator.Estimator, inputs []string) ([]string, error) {
	t, err := readTree(ctx, est)
	if err != nil {
		return nil, err
	}
	value, err := estimator.Float64s(est, "value")
	if err != nil {
		return nil, err
	}
	if len(value) != len(t.ChildrenLeft) {
		return nil, fmt.Errorf("%s: %d values for %d nodes", ctx.Path(), len(value), len(t.ChildrenLeft))
	}
	attrs := treeNodeAttrs(t)
	leaves := t.Leaves()
	targetNodes := make([]int64, len(leaves))
	weights := make([]float64, len(leaves))
	for i, leaf := range leaves {
		targetNodes[i] = int64(leaf)
		weights[i] = value[leaf]
	}
	attrs["n_targets"] = graph.IntAttr(1)
	attrs["aggregate_function"] = graph.StringAttr("SUM")
	attrs["target_ids"] = graph.IntsAttr(make([]int64, len(leaves))...)
	attrs["target_treeids"] = graph.IntsAttr(make([]int64, len(leaves))...)
	attrs["target_nodeids"] = graph.IntsAttr(targetNodes...)
	attrs["target_weights"] = graph.FloatsAttr(weights...)

	out, err := ctx.Emit("TreeEnsembleRegressor", graph.DomainML, inputs[:1], attrs, "tree_variable")
	if err != nil {
		return nil, err
	}
	variable, err := castToAccum(ctx, out[0], "variable")
	if err != nil {
		return nil, err
	}
	return []string{variable}, nil
}

func convertDecisionTreeClassifier(ctx *registry.ConversionContext, est estimator.Estimator, inputs []string) ([]string, error) {
	t, err := readTree(ctx, est)
	if err != nil {
		return nil, err
	}
	value, err := estimator.Matrix(est, "value")
	if err != nil {
		return nil, err
	}
	classes, err := estimator.Int64s(est, "classes")
	if err != nil {
		return nil, err
	}
	if err := estimator.CheckClasses(classes); err != nil {
		return nil, fmt.Errorf("%s: %w", ctx.Path(), err)
	}
	if r, c := value.Dims(); r != len(t.ChildrenLeft) || c != len(classes) {
		return nil, fmt.Errorf("%s: value is %dx%d, want %dx%d", ctx.Path(), r, c, len(t.ChildrenLeft), len(classes))
	}
	clf := &estimator.DecisionTreeClassifier{Tree: t, Value: value, ClassList: classes}

	attrs := treeNodeAttrs(t)
	var classNodes, classIDs []int64
	var weights []float64
	for _, leaf := range t.Leaves() {
		for j, p := range clf.LeafProba(leaf) {
			classNodes = append(classNodes, int64(leaf))
			classIDs = append(classIDs, int64(j))
			weights = append(weights, p)
		}
	}
	attrs["class_treeids"] = graph.IntsAttr(make([]int64, len(classNodes))...)
	attrs["class_nodeids"] = graph.IntsAttr(classNodes...)
	attrs["class_ids"] = graph.IntsAttr(classIDs...)
	attrs["class_weights"] = graph.FloatsAttr(weights...)
	attrs["classlabels_int64s"] = graph.IntsAttr(classes...)

	out, err := ctx.Emit("TreeEnsembleClassifier", graph.DomainML, inputs[:1], attrs, "label", "tree_scores")
	if err != nil {
		return nil, err
	}
	proba, err := castToAccum(ctx, out[1], "probabilities")
	if err != nil {
		return nil, err
	}
	return []string{out[0], proba}, nil
}
