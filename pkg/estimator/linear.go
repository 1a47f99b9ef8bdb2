package estimator

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// LinearRegression is a single-target least-squares model.
type LinearRegression struct {
	Coef      []float64
	Intercept float64
}

func (m *LinearRegression) Kind() string { return KindLinearRegression }

func (m *LinearRegression) Parameters() map[string]any {
	return map[string]any{"coef": slices.Clone(m.Coef), "intercept": m.Intercept}
}

func (m *LinearRegression) SubEstimators() []Weighted { return nil }

func (m *LinearRegression) Predict(x *mat.Dense) ([]float64, error) {
	rows, err := checkFeatures(m.Kind(), x, len(m.Coef))
	if err != nil {
		return nil, err
	}
	coef := mat.NewVecDense(len(m.Coef), slices.Clone(m.Coef))
	out := make([]float64, rows)
	for i := range rows {
		out[i] = mat.Dot(x.RowView(i), coef) + m.Intercept
	}
	return out, nil
}

// ConstantRegressor predicts the same value for every row.
type ConstantRegressor struct {
	Value float64
}

func (m *ConstantRegressor) Kind() string { return KindConstantRegressor }

func (m *ConstantRegressor) Parameters() map[string]any {
	return map[string]any{"constant": m.Value}
}

func (m *ConstantRegressor) SubEstimators() []Weighted { return nil }

func (m *ConstantRegressor) Predict(x *mat.Dense) ([]float64, error) {
	rows, _ := x.Dims()
	out := make([]float64, rows)
	for i := range out {
		out[i] = m.Value
	}
	return out, nil
}

// Multi-class strategies for LogisticRegression.
const (
	MultinomialStrategy = "multinomial"
	OneVsRestStrategy   = "ovr"
)

// LogisticRegression is a linear classifier. With two classes Coef has a
// single row scoring the second class; otherwise it has one row per class.
type LogisticRegression struct {
	Coef       *mat.Dense
	Intercept  []float64
	ClassList  []int64
	MultiClass string
}

func (m *LogisticRegression) Kind() string { return KindLogisticRegression }

func (m *LogisticRegression) Parameters() map[string]any {
	p := map[string]any{
		"coef":      mat.DenseCopyOf(m.Coef),
		"intercept": slices.Clone(m.Intercept),
		"classes":   slices.Clone(m.ClassList),
	}
	if m.MultiClass != "" {
		p["multi_class"] = m.MultiClass
	}
	return p
}

func (m *LogisticRegression) SubEstimators() []Weighted { return nil }

func (m *LogisticRegression) Classes() []int64 { return slices.Clone(m.ClassList) }

// Binary reports whether the model scores a two-class problem with a single
// decision function.
func (m *LogisticRegression) Binary() bool {
	r, _ := m.Coef.Dims()
	return r == 1 && len(m.ClassList) == 2
}

func (m *LogisticRegression) PredictProba(x *mat.Dense) (*mat.Dense, error) {
	k, f := m.Coef.Dims()
	rows, err := checkFeatures(m.Kind(), x, f)
	if err != nil {
		return nil, err
	}
	if len(m.Intercept) != k {
		return nil, fmt.Errorf("%s: %d intercepts for %d coefficient rows", m.Kind(), len(m.Intercept), k)
	}
	var scores mat.Dense
	scores.Mul(x, m.Coef.T())
	c := len(m.ClassList)
	proba := mat.NewDense(rows, c, nil)
	for i := range rows {
		z := scores.RawRowView(i)
		for j := range z {
			z[j] += m.Intercept[j]
		}
		out := proba.RawRowView(i)
		switch {
		case m.Binary():
			p := sigmoid(z[0])
			out[0], out[1] = 1-p, p
		case m.MultiClass == OneVsRestStrategy:
			sum := 0.0
			for j := range z {
				out[j] = sigmoid(z[j])
				sum += out[j]
			}
			for j := range out {
				out[j] /= sum
			}
		default:
			copy(out, z)
			softmaxInPlace(out)
		}
	}
	return proba, nil
}

func (m *LogisticRegression) Predict(x *mat.Dense) ([]int64, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return labelsFromProba(m.ClassList, proba), nil
}
