package estimator

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// Tree is the array form of a fitted binary decision tree. Node i is a leaf
// when ChildrenLeft[i] is -1; otherwise rows with x[Feature[i]] <= Threshold[i]
// go left.
type Tree struct {
	ChildrenLeft  []int64
	ChildrenRight []int64
	Feature       []int64
	Threshold     []float64
}

// Leaf marks a node without children.
const Leaf = -1

func (t Tree) params() map[string]any {
	return map[string]any{
		"children_left":  slices.Clone(t.ChildrenLeft),
		"children_right": slices.Clone(t.ChildrenRight),
		"feature":        slices.Clone(t.Feature),
		"threshold":      slices.Clone(t.Threshold),
	}
}

// Check verifies that the arrays describe a well-formed tree over nFeatures
// inputs. A non-positive nFeatures skips the feature bound check.
func (t Tree) Check(nFeatures int) error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n {
		return fmt.Errorf("tree arrays differ in length: left=%d right=%d feature=%d threshold=%d",
			n, len(t.ChildrenRight), len(t.Feature), len(t.Threshold))
	}
	for i := range n {
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if (l == Leaf) != (r == Leaf) {
			return fmt.Errorf("node %d has exactly one child", i)
		}
		if l == Leaf {
			continue
		}
		if l <= int64(i) || r <= int64(i) || l >= int64(n) || r >= int64(n) {
			return fmt.Errorf("node %d has out of order children %d, %d", i, l, r)
		}
		if t.Feature[i] < 0 || (nFeatures > 0 && t.Feature[i] >= int64(nFeatures)) {
			return fmt.Errorf("node %d splits on feature %d", i, t.Feature[i])
		}
	}
	return nil
}

// Leaves returns the indices of the leaf nodes in ascending order.
func (t Tree) Leaves() []int {
	var out []int
	for i, l := range t.ChildrenLeft {
		if l == Leaf {
			out = append(out, i)
		}
	}
	return out
}

// Apply returns the leaf reached by row.
func (t Tree) Apply(row []float64) int {
	i := 0
	for t.ChildrenLeft[i] != Leaf {
		if row[t.Feature[i]] <= t.Threshold[i] {
			i = int(t.ChildrenLeft[i])
		} else {
			i = int(t.ChildrenRight[i])
		}
	}
	return i
}

// DecisionTreeRegressor holds one value per tree node.
type DecisionTreeRegressor struct {
	Tree
	Value []float64
}

func (m *DecisionTreeRegressor) Kind() string { return KindDecisionTreeRegressor }

func (m *DecisionTreeRegressor) Parameters() map[string]any {
	p := m.params()
	p["value"] = slices.Clone(m.Value)
	return p
}

func (m *DecisionTreeRegressor) SubEstimators() []Weighted { return nil }

func (m *DecisionTreeRegressor) Predict(x *mat.Dense) ([]float64, error) {
	rows, cols := x.Dims()
	if err := m.Check(cols); err != nil {
		return nil, fmt.Errorf("%s: %w", m.Kind(), err)
	}
	out := make([]float64, rows)
	for i := range rows {
		out[i] = m.Value[m.Apply(x.RawRowView(i))]
	}
	return out, nil
}

// DecisionTreeClassifier holds per-node class weights; leaf probabilities
// are the normalized weights.
type DecisionTreeClassifier struct {
	Tree
	Value     *mat.Dense
	ClassList []int64
}

func (m *DecisionTreeClassifier) Kind() string { return KindDecisionTreeClassifier }

func (m *DecisionTreeClassifier) Parameters() map[string]any {
	p := m.params()
	p["value"] = mat.DenseCopyOf(m.Value)
	p["classes"] = slices.Clone(m.ClassList)
	return p
}

func (m *DecisionTreeClassifier) SubEstimators() []Weighted { return nil }

func (m *DecisionTreeClassifier) Classes() []int64 { return slices.Clone(m.ClassList) }

// LeafProba returns the normalized class weights of node.
func (m *DecisionTreeClassifier) LeafProba(node int) []float64 {
	row := slices.Clone(m.Value.RawRowView(node))
	sum := 0.0
	for _, v := range row {
		sum += v
	}
	if sum > 0 {
		for j := range row {
			row[j] /= sum
		}
	}
	return row
}

func (m *DecisionTreeClassifier) PredictProba(x *mat.Dense) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if err := m.Check(cols); err != nil {
		return nil, fmt.Errorf("%s: %w", m.Kind(), err)
	}
	if _, c := m.Value.Dims(); c != len(m.ClassList) {
		return nil, fmt.Errorf("%s: value has %d columns for %d classes", m.Kind(), c, len(m.ClassList))
	}
	proba := mat.NewDense(rows, len(m.ClassList), nil)
	for i := range rows {
		proba.SetRow(i, m.LeafProba(m.Apply(x.RawRowView(i))))
	}
	return proba, nil
}

func (m *DecisionTreeClassifier) Predict(x *mat.Dense) ([]int64, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return labelsFromProba(m.ClassList, proba), nil
}
