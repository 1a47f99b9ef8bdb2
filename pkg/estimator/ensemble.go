package estimator

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// Boosting algorithms and vote rules for classification ensembles.
const (
	AlgorithmSAMME  = "SAMME"
	AlgorithmSAMMER = "SAMME.R"

	VoteSoft = "soft"
	VoteHard = "hard"
)

// SAMMEREpsilon is the lower clip bound applied to learner probabilities
// before taking logarithms.
const SAMMEREpsilon = 2.220446049250313e-16

// AdaBoostRegressor averages its learners with their boosting weights.
type AdaBoostRegressor struct {
	Learners []Weighted
}

func (m *AdaBoostRegressor) Kind() string               { return KindAdaBoostRegressor }
func (m *AdaBoostRegressor) Parameters() map[string]any { return map[string]any{} }
func (m *AdaBoostRegressor) SubEstimators() []Weighted  { return slices.Clone(m.Learners) }

func (m *AdaBoostRegressor) Predict(x *mat.Dense) ([]float64, error) {
	return weightedMean(m.Kind(), m.Learners, x)
}

// VotingRegressor averages its learners with the given weights.
type VotingRegressor struct {
	Learners []Weighted
}

func (m *VotingRegressor) Kind() string               { return KindVotingRegressor }
func (m *VotingRegressor) Parameters() map[string]any { return map[string]any{} }
func (m *VotingRegressor) SubEstimators() []Weighted  { return slices.Clone(m.Learners) }

func (m *VotingRegressor) Predict(x *mat.Dense) ([]float64, error) {
	return weightedMean(m.Kind(), m.Learners, x)
}

// AdaBoostClassifier combines learners with SAMME or SAMME.R. SAMME labels
// are the weighted hard vote of the learners; its probabilities are the
// softmax of the weighted mean probability scaled by 1/(C-1). SAMME.R sums
// weighted centered log-probabilities.
type AdaBoostClassifier struct {
	Learners  []Weighted
	ClassList []int64
	Algorithm string
}

func (m *AdaBoostClassifier) Kind() string { return KindAdaBoostClassifier }

func (m *AdaBoostClassifier) Parameters() map[string]any {
	p := map[string]any{"classes": slices.Clone(m.ClassList)}
	if m.Algorithm != "" {
		p["algorithm"] = m.Algorithm
	}
	return p
}

func (m *AdaBoostClassifier) SubEstimators() []Weighted { return slices.Clone(m.Learners) }
func (m *AdaBoostClassifier) Classes() []int64          { return slices.Clone(m.ClassList) }

func (m *AdaBoostClassifier) PredictProba(x *mat.Dense) (*mat.Dense, error) {
	switch m.Algorithm {
	case AlgorithmSAMMER:
		return sammeR(m.Kind(), m.Learners, m.ClassList, x)
	case "", AlgorithmSAMME:
		return samme(m.Kind(), m.Learners, m.ClassList, x)
	}
	return nil, fmt.Errorf("%s: unknown algorithm %q", m.Kind(), m.Algorithm)
}

func (m *AdaBoostClassifier) Predict(x *mat.Dense) ([]int64, error) {
	var (
		scores *mat.Dense
		err    error
	)
	switch m.Algorithm {
	case "", AlgorithmSAMME:
		scores, err = combineProba(m.Kind(), m.Learners, m.ClassList, x, true)
	default:
		scores, err = m.PredictProba(x)
	}
	if err != nil {
		return nil, err
	}
	return labelsFromProba(m.ClassList, scores), nil
}

// VotingClassifier combines learners by soft (probability) or hard voting.
type VotingClassifier struct {
	Learners  []Weighted
	ClassList []int64
	Voting    string
}

func (m *VotingClassifier) Kind() string { return KindVotingClassifier }

func (m *VotingClassifier) Parameters() map[string]any {
	p := map[string]any{"classes": slices.Clone(m.ClassList)}
	if m.Voting != "" {
		p["voting"] = m.Voting
	}
	return p
}

func (m *VotingClassifier) SubEstimators() []Weighted { return slices.Clone(m.Learners) }
func (m *VotingClassifier) Classes() []int64          { return slices.Clone(m.ClassList) }

// PredictProba returns averaged probabilities for soft voting and the
// normalized weighted vote share for hard voting.
func (m *VotingClassifier) PredictProba(x *mat.Dense) (*mat.Dense, error) {
	switch m.Voting {
	case "", VoteSoft:
		return combineProba(m.Kind(), m.Learners, m.ClassList, x, false)
	case VoteHard:
		return combineProba(m.Kind(), m.Learners, m.ClassList, x, true)
	}
	return nil, fmt.Errorf("%s: unknown voting rule %q", m.Kind(), m.Voting)
}

func (m *VotingClassifier) Predict(x *mat.Dense) ([]int64, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return labelsFromProba(m.ClassList, proba), nil
}

func weightedMean(kind string, learners []Weighted, x *mat.Dense) ([]float64, error) {
	weights, err := NormalizedWeights(learners)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	rows, _ := x.Dims()
	out := make([]float64, rows)
	for i, l := range learners {
		r, ok := l.Estimator.(Regressor)
		if !ok {
			return nil, fmt.Errorf("%s: sub-estimator %d (%s) is not a regressor", kind, i, l.Estimator.Kind())
		}
		pred, err := r.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("%s: sub-estimator %d: %w", kind, i, err)
		}
		for j, v := range pred {
			out[j] += weights[i] * v
		}
	}
	return out, nil
}

func learnerProba(kind string, i int, l Weighted, classes []int64, x *mat.Dense) (*mat.Dense, error) {
	c, ok := l.Estimator.(Classifier)
	if !ok {
		return nil, fmt.Errorf("%s: sub-estimator %d (%s) is not a classifier", kind, i, l.Estimator.Kind())
	}
	if !slices.Equal(c.Classes(), classes) {
		return nil, fmt.Errorf("%s: sub-estimator %d classes %v differ from %v", kind, i, c.Classes(), classes)
	}
	p, err := c.PredictProba(x)
	if err != nil {
		return nil, fmt.Errorf("%s: sub-estimator %d: %w", kind, i, err)
	}
	return p, nil
}

func combineProba(kind string, learners []Weighted, classes []int64, x *mat.Dense, hard bool) (*mat.Dense, error) {
	weights, err := NormalizedWeights(learners)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	rows, _ := x.Dims()
	acc := mat.NewDense(rows, len(classes), nil)
	for i, l := range learners {
		p, err := learnerProba(kind, i, l, classes, x)
		if err != nil {
			return nil, err
		}
		for r := range rows {
			row := p.RawRowView(r)
			dst := acc.RawRowView(r)
			if hard {
				dst[argmax(row)] += weights[i]
				continue
			}
			for j, v := range row {
				dst[j] += weights[i] * v
			}
		}
	}
	for r := range rows {
		dst := acc.RawRowView(r)
		sum := 0.0
		for _, v := range dst {
			sum += v
		}
		for j := range dst {
			dst[j] /= sum
		}
	}
	return acc, nil
}

func samme(kind string, learners []Weighted, classes []int64, x *mat.Dense) (*mat.Dense, error) {
	if len(classes) < 2 {
		return nil, fmt.Errorf("%s: SAMME needs at least 2 classes, got %d", kind, len(classes))
	}
	acc, err := combineProba(kind, learners, classes, x, false)
	if err != nil {
		return nil, err
	}
	scale := 1 / float64(len(classes)-1)
	rows, _ := acc.Dims()
	for r := range rows {
		row := acc.RawRowView(r)
		for j := range row {
			row[j] *= scale
		}
		softmaxInPlace(row)
	}
	return acc, nil
}

func sammeR(kind string, learners []Weighted, classes []int64, x *mat.Dense) (*mat.Dense, error) {
	weights, err := NormalizedWeights(learners)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	rows, _ := x.Dims()
	c := len(classes)
	acc := mat.NewDense(rows, c, nil)
	logp := make([]float64, c)
	for i, l := range learners {
		p, err := learnerProba(kind, i, l, classes, x)
		if err != nil {
			return nil, err
		}
		for r := range rows {
			mean := 0.0
			for j, v := range p.RawRowView(r) {
				logp[j] = math.Log(min(max(v, SAMMEREpsilon), 1))
				mean += logp[j]
			}
			mean /= float64(c)
			dst := acc.RawRowView(r)
			for j := range dst {
				dst[j] += weights[i] * (logp[j] - mean)
			}
		}
	}
	for r := range rows {
		softmaxInPlace(acc.RawRowView(r))
	}
	return acc, nil
}
