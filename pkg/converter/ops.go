package converter

import (
	"github.com/zerfoo/zskl/pkg/graph"
	"github.com/zerfoo/zskl/pkg/registry"
)

// Opset versions at which operator signatures changed.
const (
	opsetClipInputs       = 11
	opsetReduceSumAxes    = 13
	opsetReduceMeanAxes   = 18
	opsetOneHot           = 9
	mlOpset         int64 = 1
)

// reduce emits ReduceSum or ReduceMean over axis 1 with keepdims=1. The axes
// move from an attribute to an input at the given opset.
func reduce(ctx *registry.ConversionContext, opType string, in string, inputAxesFrom int64, hint string) (string, error) {
	attrs := graph.Attrs{"keepdims": graph.IntAttr(1)}
	inputs := []string{in}
	if ctx.TargetOpset() >= inputAxesFrom {
		axes, err := ctx.ConstInt64("axes", []int64{1}, []int64{1})
		if err != nil {
			return "", err
		}
		inputs = append(inputs, axes)
	} else {
		attrs["axes"] = graph.IntsAttr(1)
	}
	return ctx.Emit1(opType, inputs, attrs, hint)
}

func reduceSum(ctx *registry.ConversionContext, in, hint string) (string, error) {
	return reduce(ctx, "ReduceSum", in, opsetReduceSumAxes, hint)
}

func reduceMean(ctx *registry.ConversionContext, in, hint string) (string, error) {
	return reduce(ctx, "ReduceMean", in, opsetReduceMeanAxes, hint)
}

// clip bounds in to [lo, hi].
func clip(ctx *registry.ConversionContext, in string, lo, hi float64, hint string) (string, error) {
	if ctx.TargetOpset() < opsetClipInputs {
		return ctx.Emit1("Clip", []string{in}, graph.Attrs{
			"min": graph.FloatAttr(lo),
			"max": graph.FloatAttr(hi),
		}, hint)
	}
	loName, err := ctx.Const("clip_min", []int64{}, []float64{lo})
	if err != nil {
		return "", err
	}
	hiName, err := ctx.Const("clip_max", []int64{}, []float64{hi})
	if err != nil {
		return "", err
	}
	return ctx.Emit1("Clip", []string{in, loName, hiName}, nil, hint)
}

// argMax returns the int64 [N] index of the first maximum of each row.
func argMax(ctx *registry.ConversionContext, in, hint string) (string, error) {
	return ctx.Emit1("ArgMax", []string{in}, graph.Attrs{
		"axis":     graph.IntAttr(1),
		"keepdims": graph.IntAttr(0),
	}, hint)
}

// normalizeRows divides each row of in by its sum.
func normalizeRows(ctx *registry.ConversionContext, in, hint string) (string, error) {
	total, err := reduceSum(ctx, in, hint+"_sum")
	if err != nil {
		return "", err
	}
	return ctx.Emit1("Div", []string{in, total}, nil, hint)
}

// labelFromProba maps the per-row argmax of proba onto classes.
func labelFromProba(ctx *registry.ConversionContext, proba string, classes []int64) (string, error) {
	idx, err := argMax(ctx, proba, "label_index")
	if err != nil {
		return "", err
	}
	labels, err := ctx.ConstInt64("classes", []int64{int64(len(classes))}, classes)
	if err != nil {
		return "", err
	}
	return ctx.Emit1("Gather", []string{labels, idx}, graph.Attrs{"axis": graph.IntAttr(0)}, "label")
}

// castToAccum converts a float32 tensor to the accumulation type when that
// differs.
func castToAccum(ctx *registry.ConversionContext, in, hint string) (string, error) {
	if ctx.AccumType() == graph.Float32 {
		return in, nil
	}
	return ctx.Emit1("Cast", []string{in}, graph.Attrs{"to": graph.IntAttr(int64(ctx.AccumType()))}, hint)
}
