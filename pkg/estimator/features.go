package estimator

// NumFeatures reports the input width est expects. exact is false when the
// width is only bounded below by the features the model reads, as with
// trees; n is then the smallest width that covers every split. A declared
// "n_features" parameter always wins. Composites take the widest member.
func NumFeatures(est Estimator) (n int, exact bool) {
	if Has(est, "n_features") {
		if v, err := Float64(est, "n_features"); err == nil && v > 0 {
			return int(v), true
		}
	}
	switch m := est.(type) {
	case *LinearRegression:
		return len(m.Coef), true
	case *LogisticRegression:
		if m.Coef == nil {
			return 0, false
		}
		_, f := m.Coef.Dims()
		return f, true
	case *DecisionTreeRegressor:
		return m.Tree.minFeatures(), false
	case *DecisionTreeClassifier:
		return m.Tree.minFeatures(), false
	}
	for _, sub := range est.SubEstimators() {
		k, e := NumFeatures(sub.Estimator)
		switch {
		case e && !exact:
			n, exact = k, true
		case e == exact && k > n:
			n = k
		}
	}
	return n, exact
}

func (t Tree) minFeatures() int {
	n := 0
	for i, f := range t.Feature {
		if i < len(t.ChildrenLeft) && t.ChildrenLeft[i] != Leaf && int(f)+1 > n {
			n = int(f) + 1
		}
	}
	return n
}
