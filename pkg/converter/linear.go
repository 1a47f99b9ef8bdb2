package converter

import (
	"fmt"

	"github.com/zerfoo/zskl/pkg/estimator"
	"github.com/zerfoo/zskl/pkg/graph"
	"github.com/zerfoo/zskl/pkg/registry"
)

// affine emits inputs[0] x coef + intercept for a [F,K] coefficient matrix.
func affine(ctx *registry.ConversionContext, x string, coef []float64, f, k int64, intercept []float64, hint string) (string, error) {
	if ctx.Features() > 0 && ctx.Features() != f {
		return "", fmt.Errorf("%s: coefficients expect %d features, input has %d", ctx.Path(), f, ctx.Features())
	}
	w, err := ctx.Const("coef", []int64{f, k}, coef)
	if err != nil {
		return "", err
	}
	b, err := ctx.Const("intercept", []int64{k}, intercept)
	if err != nil {
		return "", err
	}
	mm, err := ctx.Emit1("MatMul", []string{x, w}, nil, hint+"_matmul")
	if err != nil {
		return "", err
	}
	return ctx.Emit1("Add", []string{mm, b}, nil, hint)
}

func convertLinearRegression(ctx *registry.ConversionContext, est estimator.Estimator, inputs []string) ([]string, error) {
	coef, err := estimator.Float64s(est, "coef")
	if err != nil {
		return nil, err
	}
	intercept := 0.0
	if estimator.Has(est, "intercept") {
		if intercept, err = estimator.Float64(est, "intercept"); err != nil {
			return nil, err
		}
	}
	out, err := affine(ctx, inputs[0], coef, int64(len(coef)), 1, []float64{intercept}, "variable")
	if err != nil {
		return nil, err
	}
	return []string{out}, nil
}

func convertConstantRegressor(ctx *registry.ConversionContext, est estimator.Estimator, inputs []string) ([]string, error) {
	v, err := estimator.Float64(est, "constant")
	if err != nil {
		return nil, err
	}
	f := ctx.Features()
	if f <= 0 {
		return nil, fmt.Errorf("%s: constant regressor needs a fixed feature count", ctx.Path())
	}
	out, err := affine(ctx, inputs[0], make([]float64, f), f, 1, []float64{v}, "variable")
	if err != nil {
		return nil, err
	}
	return []string{out}, nil
}

func convertLogisticRegression(ctx *registry.ConversionContext, est estimator.Estimator, inputs []string) ([]string, error) {
	coef, err := estimator.Matrix(est, "coef")
	if err != nil {
		return nil, err
	}
	intercept, err := estimator.Float64s(est, "intercept")
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
	strategy, err := estimator.StringOr(est, "multi_class", estimator.MultinomialStrategy)
	if err != nil {
		return nil, err
	}
	k, f := coef.Dims()
	binary := k == 1 && len(classes) == 2
	if !binary && k != len(classes) {
		return nil, fmt.Errorf("%s: %d coefficient rows for %d classes", ctx.Path(), k, len(classes))
	}
	if len(intercept) != k {
		return nil, fmt.Errorf("%s: %d intercepts for %d coefficient rows", ctx.Path(), len(intercept), k)
	}

	// Coefficients are stored transposed so that X [N,F] x W [F,K] gives scores.
	wt := make([]float64, 0, f*k)
	for j := range f {
		for i := range k {
			wt = append(wt, coef.At(i, j))
		}
	}
	scores, err := affine(ctx, inputs[0], wt, int64(f), int64(k), intercept, "scores")
	if err != nil {
		return nil, err
	}

	var proba string
	switch {
	case binary:
		p1, err := ctx.Emit1("Sigmoid", []string{scores}, nil, "positive")
		if err != nil {
			return nil, err
		}
		one, err := ctx.Const("one", []int64{1}, []float64{1})
		if err != nil {
			return nil, err
		}
		p0, err := ctx.Emit1("Sub", []string{one, p1}, nil, "negative")
		if err != nil {
			return nil, err
		}
		proba, err = ctx.Emit1("Concat", []string{p0, p1}, graph.Attrs{"axis": graph.IntAttr(1)}, "probabilities")
		if err != nil {
			return nil, err
		}
	case strategy == estimator.OneVsRestStrategy:
		s, err := ctx.Emit1("Sigmoid", []string{scores}, nil, "ovr_scores")
		if err != nil {
			return nil, err
		}
		if proba, err = normalizeRows(ctx, s, "probabilities"); err != nil {
			return nil, err
		}
	default:
		proba, err = ctx.Emit1("Softmax", []string{scores}, graph.Attrs{"axis": graph.IntAttr(1)}, "probabilities")
		if err != nil {
			return nil, err
		}
	}
	label, err := labelFromProba(ctx, proba, classes)
	if err != nil {
		return nil, err
	}
	return []string{label, proba}, nil
}
