// Package estimator defines the fitted-estimator interface consumed by the
// converters, together with a small set of fitted estimator implementations
// that can predict directly on gonum matrices.
package estimator

import (
	"fmt"
	"maps"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Estimator kinds understood by the default converter registry.
const (
	KindLinearRegression       = "linear-regression"
	KindConstantRegressor      = "constant-regressor"
	KindLogisticRegression     = "logistic-regression"
	KindDecisionTreeRegressor  = "decision-tree-regressor"
	KindDecisionTreeClassifier = "decision-tree-classifier"
	KindAdaBoostRegressor      = "adaboost-regressor"
	KindAdaBoostClassifier     = "adaboost-classifier"
	KindVotingRegressor        = "voting-regressor"
	KindVotingClassifier       = "voting-classifier"
)

// Estimator is a fitted model described by its kind, its learned parameters
// and, for composites, its weighted sub-estimators.
type Estimator interface {
	Kind() string
	Parameters() map[string]any
	SubEstimators() []Weighted
}

// Weighted pairs a sub-estimator with its training-time weight.
type Weighted struct {
	Estimator Estimator
	Weight    float64
}

// Regressor predicts one value per row.
type Regressor interface {
	Estimator
	Predict(x *mat.Dense) ([]float64, error)
}

// Classifier predicts class probabilities and labels.
type Classifier interface {
	Estimator
	Classes() []int64
	PredictProba(x *mat.Dense) (*mat.Dense, error)
	Predict(x *mat.Dense) ([]int64, error)
}

// Opaque is an estimator known only through the generic interface. It is
// what the loader returns for kinds it has no concrete type for.
type Opaque struct {
	EstimatorKind string
	Params        map[string]any
	Subs          []Weighted
}

func (o *Opaque) Kind() string               { return o.EstimatorKind }
func (o *Opaque) Parameters() map[string]any { return maps.Clone(o.Params) }
func (o *Opaque) SubEstimators() []Weighted  { return append([]Weighted(nil), o.Subs...) }

// NormalizedWeights returns the learner weights divided by their sum.
func NormalizedWeights(subs []Weighted) ([]float64, error) {
	total := 0.0
	for i, s := range subs {
		if s.Weight < 0 || math.IsNaN(s.Weight) {
			return nil, fmt.Errorf("sub-estimator %d: invalid weight %v", i, s.Weight)
		}
		total += s.Weight
	}
	if total <= 0 {
		return nil, fmt.Errorf("sub-estimator weights sum to %v", total)
	}
	out := make([]float64, len(subs))
	for i, s := range subs {
		out[i] = s.Weight / total
	}
	return out, nil
}

func checkFeatures(kind string, x *mat.Dense, want int) (int, error) {
	rows, cols := x.Dims()
	if want > 0 && cols != want {
		return 0, fmt.Errorf("%s: expected %d features, got %d", kind, want, cols)
	}
	return rows, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func softmaxInPlace(row []float64) {
	m := math.Inf(-1)
	for _, v := range row {
		m = math.Max(m, v)
	}
	sum := 0.0
	for i, v := range row {
		row[i] = math.Exp(v - m)
		sum += row[i]
	}
	for i := range row {
		row[i] /= sum
	}
}

// CheckClasses reports an error unless classes is strictly increasing.
// Probability columns follow this order and exact ties resolve to the
// lowest label.
func CheckClasses(classes []int64) error {
	if len(classes) == 0 {
		return fmt.Errorf("no classes")
	}
	for i := 1; i < len(classes); i++ {
		if classes[i] <= classes[i-1] {
			return fmt.Errorf("classes %v are not sorted and unique", classes)
		}
	}
	return nil
}

// argmax returns the first index holding the maximum.
func argmax(row []float64) int {
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return best
}

// labelsFromProba maps the per-row argmax column to its class label.
func labelsFromProba(classes []int64, proba *mat.Dense) []int64 {
	rows, _ := proba.Dims()
	out := make([]int64, rows)
	for i := range rows {
		out[i] = classes[argmax(proba.RawRowView(i))]
	}
	return out
}
