package runtime_test

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerfoo/zerfoo/tensor"
	"gonum.org/v1/gonum/mat"

	"github.com/zerfoo/zskl/pkg/converter"
	"github.com/zerfoo/zskl/pkg/estimator"
	"github.com/zerfoo/zskl/pkg/graph"
	"github.com/zerfoo/zskl/pkg/runtime"
)

const features = 3

// sample returns rows x features of float32-representable values, both as a
// feed and as a matrix for direct predictions.
func sample(rows int, seed uint64) (*graph.Tensor, *mat.Dense) {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	f32 := make([]float32, rows*features)
	f64 := make([]float64, rows*features)
	for k := range f32 {
		f32[k] = float32(r.NormFloat64())
		f64[k] = float64(f32[k])
	}
	return &graph.Tensor{Type: graph.Float32, Shape: []int64{int64(rows), features}, Float32s: f32},
		mat.NewDense(rows, features, f64)
}

func near(want, got float64) bool {
	return math.Abs(want-got) <= 1e-4+1e-4*math.Abs(want)
}

func treeRegressor() *estimator.DecisionTreeRegressor {
	return &estimator.DecisionTreeRegressor{
		Tree: estimator.Tree{
			ChildrenLeft:  []int64{1, 3, 5, -1, -1, -1, -1},
			ChildrenRight: []int64{2, 4, 6, -1, -1, -1, -1},
			Feature:       []int64{0, 1, 2, 0, 0, 0, 0},
			Threshold:     []float64{0.25, -0.5, 1.5, 0, 0, 0, 0},
		},
		Value: []float64{0, 0, 0, -3.5, 1.25, 7, 12.5},
	}
}

func treeClassifier(classes []int64) *estimator.DecisionTreeClassifier {
	return &estimator.DecisionTreeClassifier{
		Tree: estimator.Tree{
			ChildrenLeft:  []int64{1, -1, 3, -1, -1},
			ChildrenRight: []int64{2, -1, 4, -1, -1},
			Feature:       []int64{2, 0, 1, 0, 0},
			Threshold:     []float64{0, 0, 0.75, 0, 0},
		},
		Value: mat.NewDense(5, 3, []float64{
			0, 0, 0,
			8, 1, 1,
			0, 0, 0,
			1, 6, 3,
			2, 2, 6,
		}),
		ClassList: classes,
	}
}

func logistic(strategy string) *estimator.LogisticRegression {
	return &estimator.LogisticRegression{
		Coef: mat.NewDense(3, features, []float64{
			0.8, -0.4, 0.1,
			-0.3, 0.9, -0.7,
			0.2, 0.05, 0.6,
		}),
		Intercept:  []float64{0.1, -0.2, 0.05},
		ClassList:  []int64{0, 1, 2},
		MultiClass: strategy,
	}
}

func regressors() map[string]estimator.Regressor {
	linear := &estimator.LinearRegression{Coef: []float64{0.5, -1.25, 2}, Intercept: 0.75}
	return map[string]estimator.Regressor{
		"linear":   linear,
		"constant": &estimator.ConstantRegressor{Value: 4.5},
		"tree":     treeRegressor(),
		"adaboost": &estimator.AdaBoostRegressor{Learners: []estimator.Weighted{
			{Estimator: linear, Weight: 0.3},
			{Estimator: treeRegressor(), Weight: 0.7},
		}},
		"voting": &estimator.VotingRegressor{Learners: []estimator.Weighted{
			{Estimator: &estimator.ConstantRegressor{Value: -2}, Weight: 1},
			{Estimator: linear, Weight: 3},
		}},
	}
}

func classifiers() map[string]estimator.Classifier {
	classes := []int64{0, 1, 2}
	learners := []estimator.Weighted{
		{Estimator: logistic(estimator.MultinomialStrategy), Weight: 1},
		{Estimator: treeClassifier(classes), Weight: 2},
		{Estimator: logistic(estimator.OneVsRestStrategy), Weight: 4},
	}
	return map[string]estimator.Classifier{
		"logistic-binary": &estimator.LogisticRegression{
			Coef:      mat.NewDense(1, features, []float64{1.5, -0.5, 0.25}),
			Intercept: []float64{-0.1},
			ClassList: []int64{3, 9},
		},
		"logistic-multinomial": logistic(estimator.MultinomialStrategy),
		"logistic-ovr":         logistic(estimator.OneVsRestStrategy),
		"tree":                 treeClassifier([]int64{10, 20, 30}),
		"voting-soft":          &estimator.VotingClassifier{Learners: learners, ClassList: classes, Voting: estimator.VoteSoft},
		"voting-hard":          &estimator.VotingClassifier{Learners: learners, ClassList: classes, Voting: estimator.VoteHard},
		"adaboost-samme":       &estimator.AdaBoostClassifier{Learners: learners, ClassList: classes},
		"adaboost-samme-r":     &estimator.AdaBoostClassifier{Learners: learners, ClassList: classes, Algorithm: estimator.AlgorithmSAMMER},
	}
}

func session(t *testing.T, est estimator.Estimator, opset int64, opts ...runtime.Option) *runtime.Session {
	t.Helper()
	o := converter.DefaultConvertOptions()
	o.TargetOpset = opset
	res, err := converter.Convert(converter.NewDefaultRegistry(), est,
		[]graph.TensorDescriptor{graph.FloatTensorType("input", 0, features)}, o)
	require.NoError(t, err)
	s, err := runtime.NewSession(res.Graph, opts...)
	require.NoError(t, err)
	return s
}

func TestRegressorFidelity(t *testing.T) {
	for name, est := range regressors() {
		for _, rows := range []int{1, 7, 1000} {
			feed, x := sample(rows, uint64(rows))
			want, err := est.Predict(x)
			require.NoError(t, err)

			s := session(t, est, converter.DefaultTargetOpset)
			out, err := s.Run(nil, map[string]*graph.Tensor{"input": feed})
			require.NoError(t, err, name)
			require.Len(t, out, 1)
			assert.Equal(t, []int64{int64(rows), 1}, out[0].Shape, name)
			for k := range want {
				if !near(want[k], out[0].At(k)) {
					t.Fatalf("%s rows=%d: row %d: want %v, got %v", name, rows, k, want[k], out[0].At(k))
				}
			}
		}
	}
}

func TestClassifierFidelity(t *testing.T) {
	for name, est := range classifiers() {
		for _, opset := range []int64{9, 11, 13, 18} {
			for _, rows := range []int{1, 7, 1000} {
				feed, x := sample(rows, uint64(rows)+uint64(opset))
				proba, err := est.PredictProba(x)
				require.NoError(t, err)
				labels, err := est.Predict(x)
				require.NoError(t, err)

				s := session(t, est, opset)
				out, err := s.Run(nil, map[string]*graph.Tensor{"input": feed})
				require.NoError(t, err, "%s opset %d", name, opset)
				require.Len(t, out, 2)
				gotLabels, gotProba := out[0], out[1]
				c := len(est.Classes())
				require.Equal(t, []int64{int64(rows)}, gotLabels.Shape)
				require.Equal(t, []int64{int64(rows), int64(c)}, gotProba.Shape)

				for r := range rows {
					row := proba.RawRowView(r)
					for j, p := range row {
						if !near(p, gotProba.At(r*c+j)) {
							t.Fatalf("%s opset %d rows=%d: proba[%d,%d] want %v, got %v", name, opset, rows, r, j, p, gotProba.At(r*c+j))
						}
					}
					if clearWinner(row) {
						assert.Equal(t, labels[r], gotLabels.Int64s[r], "%s opset %d row %d", name, opset, r)
					}
				}
			}
		}
	}
}

// clearWinner reports whether the top probability leads the runner-up by
// more than the comparison tolerance.
func clearWinner(row []float64) bool {
	best, second := math.Inf(-1), math.Inf(-1)
	for _, p := range row {
		switch {
		case p > best:
			best, second = p, best
		case p > second:
			second = p
		}
	}
	return best-second > 1e-3
}

func TestDoubleAndInt64Inputs(t *testing.T) {
	est := &estimator.LinearRegression{Coef: []float64{0.5, -1.25, 2}, Intercept: 0.75}
	x := mat.NewDense(2, features, []float64{1, 2, 3, -4, 5, -6})
	want, err := est.Predict(x)
	require.NoError(t, err)

	tests := []struct {
		name string
		desc graph.TensorDescriptor
		feed *graph.Tensor
	}{
		{
			name: "double",
			desc: graph.DoubleTensorType("input", 0, features),
			feed: &graph.Tensor{Type: graph.Float64, Shape: []int64{2, features}, Float64s: []float64{1, 2, 3, -4, 5, -6}},
		},
		{
			name: "int64",
			desc: graph.Int64TensorType("input", 0, features),
			feed: &graph.Tensor{Type: graph.Int64, Shape: []int64{2, features}, Int64s: []int64{1, 2, 3, -4, 5, -6}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := converter.Convert(converter.NewDefaultRegistry(), est, []graph.TensorDescriptor{tt.desc}, converter.DefaultConvertOptions())
			require.NoError(t, err)
			s, err := runtime.NewSession(res.Graph)
			require.NoError(t, err)
			out, err := s.Run([]string{converter.OutputVariable}, map[string]*graph.Tensor{"input": tt.feed})
			require.NoError(t, err)
			assert.InDeltaSlice(t, want, out[0].Values(), 1e-5)
		})
	}
}

func TestRunOutputSelection(t *testing.T) {
	s := session(t, logistic(estimator.MultinomialStrategy), converter.DefaultTargetOpset)
	feed, _ := sample(4, 1)
	feeds := map[string]*graph.Tensor{"input": feed}

	all, err := s.Run(nil, feeds)
	require.NoError(t, err)
	require.Len(t, all, 2)

	sub, err := s.Run([]string{converter.OutputProbabilities, converter.OutputLabel}, feeds)
	require.NoError(t, err)
	require.Len(t, sub, 2)
	assert.True(t, sub[0].Equal(all[1]))
	assert.True(t, sub[1].Equal(all[0]))

	_, err = s.Run([]string{"scores"}, feeds)
	var unknown *runtime.UnknownOutputNameError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "scores", unknown.Name)
}

func TestRunFeedErrors(t *testing.T) {
	s := session(t, &estimator.LinearRegression{Coef: []float64{1, 2, 3}}, converter.DefaultTargetOpset)
	good, _ := sample(2, 2)

	tests := []struct {
		name   string
		feeds  map[string]*graph.Tensor
		target error
	}{
		{"missing input", map[string]*graph.Tensor{}, runtime.ErrMissingInput},
		{"unknown input", map[string]*graph.Tensor{"input": good, "extra": good}, runtime.ErrUnknownInputName},
		{"type mismatch", map[string]*graph.Tensor{"input": {Type: graph.Float64, Shape: []int64{1, 3}, Float64s: []float64{1, 2, 3}}}, runtime.ErrTypeMismatch},
		{"strict rank", map[string]*graph.Tensor{"input": {Type: graph.Float32, Shape: []int64{6}, Float32s: make([]float32, 6)}}, runtime.ErrShape},
		{"strict width", map[string]*graph.Tensor{"input": {Type: graph.Float32, Shape: []int64{3, 2}, Float32s: make([]float32, 6)}}, runtime.ErrShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Run(nil, tt.feeds)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestLenientShapes(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	est := &estimator.LinearRegression{Coef: []float64{1, 2, 3}, Intercept: 1}
	s := session(t, est, converter.DefaultTargetOpset, runtime.WithShapePolicy(runtime.Lenient), runtime.WithLogger(logger))

	flat := &graph.Tensor{Type: graph.Float32, Shape: []int64{6}, Float32s: []float32{1, 0, 0, 0, 1, 1}}
	out, err := s.Run(nil, map[string]*graph.Tensor{"input": flat})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, out[0].Shape)
	assert.Equal(t, []float32{2, 6}, out[0].Float32s)

	deep := &graph.Tensor{Type: graph.Float32, Shape: []int64{1, 2, 3}, Float32s: []float32{1, 0, 0, 0, 1, 1}}
	out, err = s.Run(nil, map[string]*graph.Tensor{"input": deep})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 6}, out[0].Float32s)
	assert.Contains(t, logs.String(), "more dimensions than declared")

	odd := &graph.Tensor{Type: graph.Float32, Shape: []int64{7}, Float32s: make([]float32, 7)}
	_, err = s.Run(nil, map[string]*graph.Tensor{"input": odd})
	var shapeErr *runtime.ShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, "input", shapeErr.Name)
}

func TestSessionMetadata(t *testing.T) {
	o := converter.DefaultConvertOptions()
	o.DocString = "weighted linear model"
	o.Props = map[string]string{"owner": "tests"}
	res, err := converter.Convert(converter.NewDefaultRegistry(), &estimator.LinearRegression{Coef: []float64{1, 2, 3}},
		[]graph.TensorDescriptor{graph.FloatTensorType("input", 0, features)}, o)
	require.NoError(t, err)
	s, err := runtime.NewSession(res.Graph)
	require.NoError(t, err)

	meta := s.Metadata()
	assert.Equal(t, converter.ProducerName, meta.ProducerName)
	assert.Equal(t, converter.ModelDomain, meta.Domain)
	assert.Equal(t, "weighted linear model", meta.Description)
	assert.Equal(t, estimator.KindLinearRegression, meta.GraphName)
	assert.Equal(t, int64(1), meta.Version)
	assert.Equal(t, map[string]string{"owner": "tests"}, meta.CustomMetadataMap)
	assert.Equal(t, []string{"input"}, []string{s.Inputs()[0].Name})
	assert.Equal(t, converter.OutputVariable, s.Outputs()[0].Name)
}

func TestUnsupportedOperator(t *testing.T) {
	b := graph.NewBuilder("tanh", graph.WithOpset(graph.DomainDefault, 15))
	require.NoError(t, b.AddInput(graph.FloatTensorType("x", 0, 2)))
	require.NoError(t, b.DeclareOutput(graph.FloatTensorType("y", 0, 2)))
	_, err := b.AddNode("Tanh", graph.DomainDefault, []string{"x"}, []string{"y"}, nil)
	require.NoError(t, err)
	g, err := b.Finalize()
	require.NoError(t, err)

	_, err = runtime.NewSession(g)
	var unsupported *runtime.UnsupportedOpError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "Tanh", unsupported.OpType)
}

func TestTensorBridge(t *testing.T) {
	s := session(t, &estimator.LinearRegression{Coef: []float64{1, 1, 1}}, converter.DefaultTargetOpset)
	in, err := tensor.New[float32]([]int{2, features}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	feed, err := runtime.FromFloat32(in)
	require.NoError(t, err)
	out, err := s.Run(nil, map[string]*graph.Tensor{"input": feed})
	require.NoError(t, err)

	back, err := runtime.ToFloat32(out[0])
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, back.Shape())
	assert.Equal(t, []float32{6, 15}, back.Data())

	_, err = runtime.ToFloat32(&graph.Tensor{Type: graph.Int64, Shape: []int64{1}, Int64s: []int64{1}})
	assert.ErrorIs(t, err, graph.ErrUnsupportedType)
}
