package main

import (
	"fmt"
	"io"
	"math"
	"math/rand/v2"

	"github.com/spf13/cobra"
	"github.com/zerfoo/zerfoo/tensor"
	"gonum.org/v1/gonum/mat"

	"github.com/zerfoo/zskl/pkg/converter"
	"github.com/zerfoo/zskl/pkg/estimator"
	"github.com/zerfoo/zskl/pkg/graph"
	"github.com/zerfoo/zskl/pkg/runtime"
)

type verifyOptions struct {
	rows      int
	seed      uint64
	tolerance float64
	opset     int64
}

func newVerifyCmd(a *app) *cobra.Command {
	var opts verifyOptions
	cmd := &cobra.Command{
		Use:   "verify <estimator-file>",
		Short: "Check that the converted graph reproduces the estimator's predictions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.rows <= 0 {
				return fmt.Errorf("--rows must be positive, got %d", opts.rows)
			}
			if opts.opset == 0 {
				opts.opset = a.cfg.TargetOpset
			}
			est, err := estimator.Load(args[0])
			if err != nil {
				return err
			}
			return a.verify(cmd.OutOrStdout(), est, opts)
		},
	}
	cmd.Flags().IntVar(&opts.rows, "rows", 100, "Number of random rows to compare")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "Seed of the random rows")
	cmd.Flags().Float64Var(&opts.tolerance, "tolerance", 1e-4, "Allowed absolute plus relative difference")
	cmd.Flags().Int64Var(&opts.opset, "opset", 0, "Target opset of the main domain (default $ZSKL_TARGET_OPSET)")
	return cmd
}

func (a *app) verify(w io.Writer, est estimator.Estimator, opts verifyOptions) error {
	res, err := convertEstimator(converter.NewDefaultRegistry(), est, opts.opset, a)
	if err != nil {
		return err
	}
	sess, err := runtime.NewSession(res.Graph, runtime.WithLogger(a.logger))
	if err != nil {
		return err
	}

	width, _ := estimator.NumFeatures(est)
	width = max(width, 1)
	x, err := randomRows(opts.rows, width, opts.seed)
	if err != nil {
		return err
	}
	feed, err := runtime.FromFloat32(x)
	if err != nil {
		return err
	}
	outs, err := sess.Run(nil, map[string]*graph.Tensor{sess.Inputs()[0].Name: feed})
	if err != nil {
		return err
	}
	dense := toDense(x)

	var worst float64
	switch m := est.(type) {
	case estimator.Classifier:
		worst, err = compareClassifier(m, dense, outs, opts.tolerance)
	case estimator.Regressor:
		worst, err = compareRegressor(m, dense, outs[0], opts.tolerance)
	default:
		return fmt.Errorf("%s has no reference prediction to verify against", est.Kind())
	}
	if err != nil {
		return err
	}
	a.logger.Info("verified estimator", "kind", est.Kind(), "rows", opts.rows, "max_diff", worst)
	fmt.Fprintf(w, "Verified %s on %d rows: max difference %.3g (tolerance %g)\n", est.Kind(), opts.rows, worst, opts.tolerance)
	return nil
}

// randomRows draws float32 rows so the graph and the reference see the
// same values.
func randomRows(rows, width int, seed uint64) (*tensor.TensorNumeric[float32], error) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	data := make([]float32, rows*width)
	for i := range data {
		data[i] = float32(rng.NormFloat64() * 2)
	}
	return tensor.New[float32]([]int{rows, width}, data)
}

func toDense(x *tensor.TensorNumeric[float32]) *mat.Dense {
	shape := x.Shape()
	data := make([]float64, len(x.Data()))
	for i, v := range x.Data() {
		data[i] = float64(v)
	}
	return mat.NewDense(shape[0], shape[1], data)
}

func within(want, got, tol float64) bool {
	return math.Abs(want-got) <= tol+tol*math.Abs(want)
}

func compareRegressor(m estimator.Regressor, x *mat.Dense, out *graph.Tensor, tol float64) (float64, error) {
	want, err := m.Predict(x)
	if err != nil {
		return 0, err
	}
	got, err := runtime.ToFloat32(out)
	if err != nil {
		return 0, err
	}
	var worst float64
	for i, v := range got.Data() {
		worst = max(worst, math.Abs(want[i]-float64(v)))
		if !within(want[i], float64(v), tol) {
			return worst, fmt.Errorf("prediction mismatch at row %d: estimator %g, graph %g", i, want[i], v)
		}
	}
	return worst, nil
}

func compareClassifier(m estimator.Classifier, x *mat.Dense, outs []*graph.Tensor, tol float64) (float64, error) {
	want, err := m.PredictProba(x)
	if err != nil {
		return 0, err
	}
	got, err := runtime.ToFloat32(outs[1])
	if err != nil {
		return 0, err
	}
	_, classes := want.Dims()
	var worst float64
	for k, v := range got.Data() {
		i, j := k/classes, k%classes
		w := want.At(i, j)
		worst = max(worst, math.Abs(w-float64(v)))
		if !within(w, float64(v), tol) {
			return worst, fmt.Errorf("probability mismatch at row %d class %d: estimator %g, graph %g", i, j, w, v)
		}
	}
	return worst, nil
}
