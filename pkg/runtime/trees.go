package runtime

import (
	"fmt"
	"math"

	"github.com/zerfoo/zskl/pkg/graph"
)

type treeKey struct{ tree, node int64 }

type treeNode struct {
	mode      string
	feature   int64
	threshold float64
	yes, no   int64
}

type leafWeight struct {
	target int64
	weight float64
}

// forest is the decoded attribute set shared by both tree ensemble kernels.
type forest struct {
	nodes  map[treeKey]treeNode
	roots  []treeKey
	leaves map[treeKey][]leafWeight
}

func decodeForest(n *graph.Node, prefix string) (*forest, error) {
	treeIDs := n.AttrInts("nodes_treeids")
	nodeIDs := n.AttrInts("nodes_nodeids")
	features := n.AttrInts("nodes_featureids")
	modes := n.AttrStrings("nodes_modes")
	values := n.AttrFloats("nodes_values")
	trueIDs := n.AttrInts("nodes_truenodeids")
	falseIDs := n.AttrInts("nodes_falsenodeids")
	count := len(nodeIDs)
	for name, l := range map[string]int{
		"nodes_treeids": len(treeIDs), "nodes_featureids": len(features), "nodes_modes": len(modes),
		"nodes_values": len(values), "nodes_truenodeids": len(trueIDs), "nodes_falsenodeids": len(falseIDs),
	} {
		if l != count {
			return nil, fmt.Errorf("%s has %d entries, nodes_nodeids has %d", name, l, count)
		}
	}
	f := &forest{nodes: make(map[treeKey]treeNode, count), leaves: make(map[treeKey][]leafWeight)}
	seenTree := make(map[int64]bool)
	for k := range count {
		key := treeKey{treeIDs[k], nodeIDs[k]}
		if _, dup := f.nodes[key]; dup {
			return nil, fmt.Errorf("tree %d node %d is listed twice", key.tree, key.node)
		}
		f.nodes[key] = treeNode{
			mode:      modes[k],
			feature:   features[k],
			threshold: float64(float32(values[k])),
			yes:       trueIDs[k],
			no:        falseIDs[k],
		}
		if !seenTree[key.tree] {
			seenTree[key.tree] = true
			f.roots = append(f.roots, key)
		}
	}

	lTrees := n.AttrInts(prefix + "_treeids")
	lNodes := n.AttrInts(prefix + "_nodeids")
	lIDs := n.AttrInts(prefix + "_ids")
	lWeights := n.AttrFloats(prefix + "_weights")
	if len(lNodes) != len(lTrees) || len(lIDs) != len(lTrees) || len(lWeights) != len(lTrees) {
		return nil, fmt.Errorf("%s_* attributes have different lengths", prefix)
	}
	for k := range lTrees {
		key := treeKey{lTrees[k], lNodes[k]}
		f.leaves[key] = append(f.leaves[key], leafWeight{target: lIDs[k], weight: lWeights[k]})
	}
	return f, nil
}

func branch(mode string, x, threshold float64) (bool, error) {
	switch mode {
	case "BRANCH_LEQ":
		return x <= threshold, nil
	case "BRANCH_LT":
		return x < threshold, nil
	case "BRANCH_GTE":
		return x >= threshold, nil
	case "BRANCH_GT":
		return x > threshold, nil
	case "BRANCH_EQ":
		return x == threshold, nil
	case "BRANCH_NEQ":
		return x != threshold, nil
	}
	return false, fmt.Errorf("unknown node mode %q", mode)
}

// leaf walks one tree for row and returns the leaf it lands on.
func (f *forest) leaf(root treeKey, row []float64) (treeKey, error) {
	key := root
	for steps := 0; steps <= len(f.nodes); steps++ {
		node, ok := f.nodes[key]
		if !ok {
			return key, fmt.Errorf("tree %d has no node %d", key.tree, key.node)
		}
		if node.mode == "LEAF" {
			return key, nil
		}
		if node.feature < 0 || int(node.feature) >= len(row) {
			return key, fmt.Errorf("tree %d node %d reads feature %d of %d", key.tree, key.node, node.feature, len(row))
		}
		yes, err := branch(node.mode, row[node.feature], node.threshold)
		if err != nil {
			return key, err
		}
		if yes {
			key.node = node.yes
		} else {
			key.node = node.no
		}
	}
	return key, fmt.Errorf("tree %d does not reach a leaf", root.tree)
}

// scores aggregates the leaf weights of every tree for each row into an
// [N, width] matrix.
func (f *forest) scores(x *value, width int, aggregate string, base []float64) ([]float64, error) {
	if len(x.shape) != 2 {
		return nil, fmt.Errorf("tree ensemble input must have rank 2, got %v", x.shape)
	}
	rows, cols := int(x.shape[0]), int(x.shape[1])
	out := make([]float64, rows*width)
	row := make([]float64, cols)
	for r := range rows {
		for c := range cols {
			row[c] = x.at(r*cols + c)
		}
		acc := out[r*width : (r+1)*width]
		seen := make([]bool, width)
		for _, root := range f.roots {
			leaf, err := f.leaf(root, row)
			if err != nil {
				return nil, err
			}
			for _, lw := range f.leaves[leaf] {
				if lw.target < 0 || int(lw.target) >= width {
					return nil, fmt.Errorf("leaf weight targets %d of %d", lw.target, width)
				}
				t := int(lw.target)
				switch aggregate {
				case "SUM", "AVERAGE":
					acc[t] += lw.weight
				case "MIN":
					if !seen[t] {
						acc[t] = math.Inf(1)
					}
					acc[t] = math.Min(acc[t], lw.weight)
				case "MAX":
					if !seen[t] {
						acc[t] = math.Inf(-1)
					}
					acc[t] = math.Max(acc[t], lw.weight)
				default:
					return nil, fmt.Errorf("unknown aggregate function %q", aggregate)
				}
				seen[t] = true
			}
		}
		for t := range acc {
			if aggregate == "AVERAGE" && len(f.roots) > 0 {
				acc[t] /= float64(len(f.roots))
			}
			if t < len(base) {
				acc[t] += base[t]
			}
		}
	}
	return out, nil
}

func checkPostTransform(n *graph.Node) error {
	if pt := n.AttrString("post_transform", "NONE"); pt != "NONE" {
		return fmt.Errorf("post_transform %q is not supported", pt)
	}
	return nil
}

func runTreeRegressor(n *graph.Node, in []*value, _ int64) ([]*value, error) {
	if err := needInputs(in, 1); err != nil {
		return nil, err
	}
	if err := checkPostTransform(n); err != nil {
		return nil, err
	}
	f, err := decodeForest(n, "target")
	if err != nil {
		return nil, err
	}
	targets := int(n.AttrInt("n_targets", 1))
	data, err := f.scores(in[0], targets, n.AttrString("aggregate_function", "SUM"), n.AttrFloats("base_values"))
	if err != nil {
		return nil, err
	}
	out := &value{typ: graph.Float32, shape: []int64{in[0].shape[0], int64(targets)}, f: data}
	out.round()
	return []*value{out}, nil
}

func runTreeClassifier(n *graph.Node, in []*value, _ int64) ([]*value, error) {
	if err := needInputs(in, 1); err != nil {
		return nil, err
	}
	if err := checkPostTransform(n); err != nil {
		return nil, err
	}
	labels := n.AttrInts("classlabels_int64s")
	if len(labels) == 0 {
		return nil, fmt.Errorf("classlabels_int64s is empty")
	}
	f, err := decodeForest(n, "class")
	if err != nil {
		return nil, err
	}
	width := len(labels)
	data, err := f.scores(in[0], width, "SUM", n.AttrFloats("base_values"))
	if err != nil {
		return nil, err
	}
	rows := in[0].shape[0]
	scores := &value{typ: graph.Float32, shape: []int64{rows, int64(width)}, f: data}
	scores.round()
	label := newInt([]int64{rows})
	for r := range int(rows) {
		best := 0
		for c := 1; c < width; c++ {
			if scores.f[r*width+c] > scores.f[r*width+best] {
				best = c
			}
		}
		label.i[r] = labels[best]
	}
	return []*value{label, scores}, nil
}
