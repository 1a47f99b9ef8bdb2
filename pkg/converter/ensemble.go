package converter

import (
	"fmt"
	"slices"

	"github.com/zerfoo/zskl/pkg/estimator"
	"github.com/zerfoo/zskl/pkg/graph"
	"github.com/zerfoo/zskl/pkg/registry"
)

// convertWeightedRegression stacks the [N,1] learner outputs into [N,M] and
// takes their weighted mean with a single MatMul against the normalized
// weights.
func convertWeightedRegression(ctx *registry.ConversionContext, est estimator.Estimator, inputs []string) ([]string, error) {
	subs := est.SubEstimators()
	if len(subs) == 0 {
		return nil, fmt.Errorf("%s: no sub-estimators", ctx.Path())
	}
	weights, err := estimator.NormalizedWeights(subs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ctx.Path(), err)
	}
	outs := make([]string, len(subs))
	for i, s := range subs {
		res, err := ctx.ConvertSub(i, s.Estimator, inputs)
		if err != nil {
			return nil, err
		}
		if len(res) != 1 {
			return nil, fmt.Errorf("%s[%d]: %s is not a regressor", ctx.Path(), i, s.Estimator.Kind())
		}
		outs[i] = res[0]
	}
	stacked, err := ctx.Emit1("Concat", outs, graph.Attrs{"axis": graph.IntAttr(1)}, "stacked")
	if err != nil {
		return nil, err
	}
	w, err := ctx.Const("learner_weights", []int64{int64(len(weights)), 1}, weights)
	if err != nil {
		return nil, err
	}
	variable, err := ctx.Emit1("MatMul", []string{stacked, w}, nil, "variable")
	if err != nil {
		return nil, err
	}
	ctx.Logger().Debug("aggregated regression ensemble", "learners", len(subs))
	return []string{variable}, nil
}

// aggregation selects how class probabilities of the learners combine.
type aggregation int

const (
	aggregateSoft aggregation = iota
	aggregateHard
	aggregateSAMME
	aggregateSAMMER
)

func convertAdaBoostClassifier(ctx *registry.ConversionContext, est estimator.Estimator, inputs []string) ([]string, error) {
	algorithm, err := estimator.StringOr(est, "algorithm", estimator.AlgorithmSAMME)
	if err != nil {
		return nil, err
	}
	switch algorithm {
	case estimator.AlgorithmSAMME:
		return convertWeightedClassification(ctx, est, inputs, aggregateSAMME)
	case estimator.AlgorithmSAMMER:
		return convertWeightedClassification(ctx, est, inputs, aggregateSAMMER)
	}
	return nil, fmt.Errorf("%s: unknown algorithm %q", ctx.Path(), algorithm)
}

func convertVotingClassifier(ctx *registry.ConversionContext, est estimator.Estimator, inputs []string) ([]string, error) {
	voting, err := estimator.StringOr(est, "voting", estimator.VoteSoft)
	if err != nil {
		return nil, err
	}
	switch voting {
	case estimator.VoteSoft:
		return convertWeightedClassification(ctx, est, inputs, aggregateSoft)
	case estimator.VoteHard:
		return convertWeightedClassification(ctx, est, inputs, aggregateHard)
	}
	return nil, fmt.Errorf("%s: unknown voting rule %q", ctx.Path(), voting)
}

// convertWeightedClassification converts every learner, turns its class
// probabilities into a per-learner contribution, weights and sums them and
// derives the label from the combined scores. SAMME keeps two sums: the
// weighted probabilities feed the output probabilities and the weighted
// one-hot votes pick the label.
func convertWeightedClassification(ctx *registry.ConversionContext, est estimator.Estimator, inputs []string, agg aggregation) ([]string, error) {
	classes, err := estimator.Int64s(est, "classes")
	if err != nil {
		return nil, err
	}
	if err := estimator.CheckClasses(classes); err != nil {
		return nil, fmt.Errorf("%s: %w", ctx.Path(), err)
	}
	subs := est.SubEstimators()
	if len(subs) == 0 {
		return nil, fmt.Errorf("%s: no sub-estimators", ctx.Path())
	}
	weights, err := estimator.NormalizedWeights(subs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ctx.Path(), err)
	}
	c := int64(len(classes))
	if agg == aggregateSAMME && c < 2 {
		return nil, fmt.Errorf("%s: SAMME needs at least 2 classes, got %d", ctx.Path(), c)
	}

	contributions := make([]string, len(subs))
	var votes []string
	for i, s := range subs {
		res, err := ctx.ConvertSub(i, s.Estimator, inputs)
		if err != nil {
			return nil, err
		}
		if len(res) != 2 {
			return nil, fmt.Errorf("%s[%d]: %s is not a classifier", ctx.Path(), i, s.Estimator.Kind())
		}
		learnerClasses, err := estimator.Int64s(s.Estimator, "classes")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", ctx.Path(), i, err)
		}
		if !slices.Equal(learnerClasses, classes) {
			return nil, fmt.Errorf("%s[%d]: learner classes %v differ from ensemble classes %v", ctx.Path(), i, learnerClasses, classes)
		}
		w, err := ctx.Const("learner_weight", []int64{1}, []float64{weights[i]})
		if err != nil {
			return nil, err
		}
		mode := agg
		if agg == aggregateSAMME {
			mode = aggregateSoft
			vote, err := learnerContribution(ctx, res[1], c, aggregateHard)
			if err != nil {
				return nil, err
			}
			weighted, err := ctx.Emit1("Mul", []string{vote, w}, nil, "weighted_vote")
			if err != nil {
				return nil, err
			}
			votes = append(votes, weighted)
		}
		contrib, err := learnerContribution(ctx, res[1], c, mode)
		if err != nil {
			return nil, err
		}
		if contributions[i], err = ctx.Emit1("Mul", []string{contrib, w}, nil, "weighted"); err != nil {
			return nil, err
		}
	}

	total, err := ctx.Emit1("Sum", contributions, nil, "weighted_sum")
	if err != nil {
		return nil, err
	}
	var proba string
	switch agg {
	case aggregateSAMME:
		proba, err = sammeProba(ctx, total, c)
	case aggregateSAMMER:
		proba, err = ctx.Emit1("Softmax", []string{total}, graph.Attrs{"axis": graph.IntAttr(1)}, "probabilities")
	default:
		proba, err = normalizeRows(ctx, total, "probabilities")
	}
	if err != nil {
		return nil, err
	}
	scores := proba
	if agg == aggregateSAMME {
		if scores, err = ctx.Emit1("Sum", votes, nil, "vote_sum"); err != nil {
			return nil, err
		}
	}
	label, err := labelFromProba(ctx, scores, classes)
	if err != nil {
		return nil, err
	}
	ctx.Logger().Debug("aggregated classification ensemble", "learners", len(subs), "classes", c)
	return []string{label, proba}, nil
}

// sammeProba scales the weighted mean probability by 1/(c-1) and applies a
// row softmax.
func sammeProba(ctx *registry.ConversionContext, total string, c int64) (string, error) {
	scale, err := ctx.Const("samme_scale", []int64{1}, []float64{1 / float64(c-1)})
	if err != nil {
		return "", err
	}
	scaled, err := ctx.Emit1("Mul", []string{total, scale}, nil, "scaled")
	if err != nil {
		return "", err
	}
	return ctx.Emit1("Softmax", []string{scaled}, graph.Attrs{"axis": graph.IntAttr(1)}, "probabilities")
}

// learnerContribution maps one learner's [N,C] probabilities to what is
// summed across learners: the probabilities themselves, a one-hot vote, or
// the centered log-probabilities of SAMME.R.
func learnerContribution(ctx *registry.ConversionContext, proba string, c int64, agg aggregation) (string, error) {
	switch agg {
	case aggregateHard:
		idx, err := argMax(ctx, proba, "vote_index")
		if err != nil {
			return "", err
		}
		depth, err := ctx.ConstInt64("depth", []int64{1}, []int64{c})
		if err != nil {
			return "", err
		}
		values, err := ctx.Const("onehot_values", []int64{2}, []float64{0, 1})
		if err != nil {
			return "", err
		}
		return ctx.Emit1("OneHot", []string{idx, depth, values}, graph.Attrs{"axis": graph.IntAttr(-1)}, "vote")
	case aggregateSAMMER:
		clipped, err := clip(ctx, proba, estimator.SAMMEREpsilon, 1, "clipped")
		if err != nil {
			return "", err
		}
		logp, err := ctx.Emit1("Log", []string{clipped}, nil, "log_proba")
		if err != nil {
			return "", err
		}
		mean, err := reduceMean(ctx, logp, "log_proba_mean")
		if err != nil {
			return "", err
		}
		return ctx.Emit1("Sub", []string{logp, mean}, nil, "centered")
	}
	return proba, nil
}
