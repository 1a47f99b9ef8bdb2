package estimator

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk description of a fitted estimator. JSON documents
// are accepted as well since they parse as YAML.
type Document struct {
	Kind       string         `yaml:"kind"`
	Params     map[string]any `yaml:"params,omitempty"`
	Estimators []WeightedDoc  `yaml:"estimators,omitempty"`
}

// WeightedDoc is one weighted entry of a composite document.
type WeightedDoc struct {
	Weight    *float64  `yaml:"weight,omitempty"`
	Estimator *Document `yaml:"estimator"`
}

type decodeFunc func(o *Opaque) (Estimator, error)

var decoders = map[string]decodeFunc{
	KindLinearRegression:       decodeLinear,
	KindConstantRegressor:      decodeConstant,
	KindLogisticRegression:     decodeLogistic,
	KindDecisionTreeRegressor:  decodeTreeRegressor,
	KindDecisionTreeClassifier: decodeTreeClassifier,
	KindAdaBoostRegressor:      decodeAdaBoostRegressor,
	KindAdaBoostClassifier:     decodeAdaBoostClassifier,
	KindVotingRegressor:        decodeVotingRegressor,
	KindVotingClassifier:       decodeVotingClassifier,
}

// Load reads an estimator description file.
func Load(path string) (est Estimator, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open estimator file %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close estimator file %s: %w", path, closeErr)
		}
	}()
	est, err = Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return est, nil
}

// Decode parses a single estimator document.
func Decode(r io.Reader) (Estimator, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty estimator document")
		}
		return nil, err
	}
	return doc.Build()
}

// Build turns the document into an estimator. Kinds without a concrete type
// become *Opaque values so that a registry can still convert them.
func (d *Document) Build() (Estimator, error) {
	if d.Kind == "" {
		return nil, fmt.Errorf("estimator document has no kind")
	}
	o := &Opaque{EstimatorKind: d.Kind, Params: d.Params}
	if o.Params == nil {
		o.Params = map[string]any{}
	}
	for i, sub := range d.Estimators {
		if sub.Estimator == nil {
			return nil, fmt.Errorf("%s: estimators[%d] has no estimator", d.Kind, i)
		}
		est, err := sub.Estimator.Build()
		if err != nil {
			return nil, fmt.Errorf("%s: estimators[%d]: %w", d.Kind, i, err)
		}
		w := 1.0
		if sub.Weight != nil {
			w = *sub.Weight
		}
		o.Subs = append(o.Subs, Weighted{Estimator: est, Weight: w})
	}
	decode, ok := decoders[d.Kind]
	if !ok {
		return o, nil
	}
	return decode(o)
}

// Describe renders est as a document. Only the generic interface is used.
func Describe(est Estimator) *Document {
	d := &Document{Kind: est.Kind(), Params: map[string]any{}}
	for k, v := range est.Parameters() {
		if m, ok := v.(*mat.Dense); ok {
			r, _ := m.Dims()
			rows := make([][]float64, r)
			for i := range r {
				rows[i] = append([]float64(nil), m.RawRowView(i)...)
			}
			v = rows
		}
		d.Params[k] = v
	}
	for _, sub := range est.SubEstimators() {
		w := sub.Weight
		d.Estimators = append(d.Estimators, WeightedDoc{Weight: &w, Estimator: Describe(sub.Estimator)})
	}
	return d
}

func decodeLinear(o *Opaque) (Estimator, error) {
	coef, err := Float64s(o, "coef")
	if err != nil {
		return nil, err
	}
	intercept := 0.0
	if Has(o, "intercept") {
		if intercept, err = Float64(o, "intercept"); err != nil {
			return nil, err
		}
	}
	return &LinearRegression{Coef: coef, Intercept: intercept}, nil
}

func decodeConstant(o *Opaque) (Estimator, error) {
	v, err := Float64(o, "constant")
	if err != nil {
		return nil, err
	}
	return &ConstantRegressor{Value: v}, nil
}

func decodeLogistic(o *Opaque) (Estimator, error) {
	coef, err := Matrix(o, "coef")
	if err != nil {
		return nil, err
	}
	intercept, err := Float64s(o, "intercept")
	if err != nil {
		return nil, err
	}
	classes, err := classList(o)
	if err != nil {
		return nil, err
	}
	strategy, err := StringOr(o, "multi_class", "")
	if err != nil {
		return nil, err
	}
	k, _ := coef.Dims()
	if len(intercept) != k {
		return nil, &ParameterError{Kind: o.Kind(), Key: "intercept", Reason: fmt.Sprintf("has %d entries for %d coefficient rows", len(intercept), k)}
	}
	if !(k == 1 && len(classes) == 2) && k != len(classes) {
		return nil, &ParameterError{Kind: o.Kind(), Key: "coef", Reason: fmt.Sprintf("has %d rows for %d classes", k, len(classes))}
	}
	return &LogisticRegression{Coef: coef, Intercept: intercept, ClassList: classes, MultiClass: strategy}, nil
}

func decodeTree(o *Opaque) (Tree, error) {
	var t Tree
	var err error
	if t.ChildrenLeft, err = Int64s(o, "children_left"); err != nil {
		return t, err
	}
	if t.ChildrenRight, err = Int64s(o, "children_right"); err != nil {
		return t, err
	}
	if t.Feature, err = Int64s(o, "feature"); err != nil {
		return t, err
	}
	if t.Threshold, err = Float64s(o, "threshold"); err != nil {
		return t, err
	}
	if err := t.Check(0); err != nil {
		return t, fmt.Errorf("%s: %w", o.Kind(), err)
	}
	return t, nil
}

func decodeTreeRegressor(o *Opaque) (Estimator, error) {
	t, err := decodeTree(o)
	if err != nil {
		return nil, err
	}
	value, err := Float64s(o, "value")
	if err != nil {
		return nil, err
	}
	if len(value) != len(t.ChildrenLeft) {
		return nil, &ParameterError{Kind: o.Kind(), Key: "value", Reason: fmt.Sprintf("has %d entries for %d nodes", len(value), len(t.ChildrenLeft))}
	}
	return &DecisionTreeRegressor{Tree: t, Value: value}, nil
}

func decodeTreeClassifier(o *Opaque) (Estimator, error) {
	t, err := decodeTree(o)
	if err != nil {
		return nil, err
	}
	value, err := Matrix(o, "value")
	if err != nil {
		return nil, err
	}
	classes, err := classList(o)
	if err != nil {
		return nil, err
	}
	r, c := value.Dims()
	if r != len(t.ChildrenLeft) || c != len(classes) {
		return nil, &ParameterError{Kind: o.Kind(), Key: "value", Reason: fmt.Sprintf("is %dx%d, want %dx%d", r, c, len(t.ChildrenLeft), len(classes))}
	}
	return &DecisionTreeClassifier{Tree: t, Value: value, ClassList: classes}, nil
}

func decodeAdaBoostRegressor(o *Opaque) (Estimator, error) {
	if len(o.Subs) == 0 {
		return nil, fmt.Errorf("%s: no sub-estimators", o.Kind())
	}
	return &AdaBoostRegressor{Learners: o.Subs}, nil
}

func decodeVotingRegressor(o *Opaque) (Estimator, error) {
	if len(o.Subs) == 0 {
		return nil, fmt.Errorf("%s: no sub-estimators", o.Kind())
	}
	return &VotingRegressor{Learners: o.Subs}, nil
}

func decodeAdaBoostClassifier(o *Opaque) (Estimator, error) {
	if len(o.Subs) == 0 {
		return nil, fmt.Errorf("%s: no sub-estimators", o.Kind())
	}
	classes, err := classList(o)
	if err != nil {
		return nil, err
	}
	algorithm, err := StringOr(o, "algorithm", AlgorithmSAMME)
	if err != nil {
		return nil, err
	}
	return &AdaBoostClassifier{Learners: o.Subs, ClassList: classes, Algorithm: algorithm}, nil
}

func decodeVotingClassifier(o *Opaque) (Estimator, error) {
	if len(o.Subs) == 0 {
		return nil, fmt.Errorf("%s: no sub-estimators", o.Kind())
	}
	classes, err := classList(o)
	if err != nil {
		return nil, err
	}
	voting, err := StringOr(o, "voting", VoteSoft)
	if err != nil {
		return nil, err
	}
	return &VotingClassifier{Learners: o.Subs, ClassList: classes, Voting: voting}, nil
}

func classList(o *Opaque) ([]int64, error) {
	classes, err := Int64s(o, "classes")
	if err != nil {
		return nil, err
	}
	if err := CheckClasses(classes); err != nil {
		return nil, fmt.Errorf("%s: %w", o.Kind(), err)
	}
	return classes, nil
}
