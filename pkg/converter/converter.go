// Package converter turns fitted estimators into validated operator graphs.
// Convert is the entry point; NewDefaultRegistry returns a registry holding
// the converters for every estimator kind this module ships.
package converter

import (
	"fmt"
	"log/slog"
	"maps"

	"github.com/zerfoo/zskl/pkg/estimator"
	"github.com/zerfoo/zskl/pkg/graph"
	"github.com/zerfoo/zskl/pkg/registry"
	"github.com/zerfoo/zskl/pkg/validator"
)

// Producer identification stamped into every graph.
const (
	ProducerName    = "zskl"
	ProducerVersion = "0.1.0"
	ModelDomain     = "ai.zskl"
)

// DefaultTargetOpset is the opset used when ConvertOptions leaves it unset.
const DefaultTargetOpset int64 = 15

// Output semantics.
const (
	SemanticPrediction    = "prediction"
	SemanticLabel         = "label"
	SemanticProbabilities = "probabilities"
)

// Graph output names.
const (
	OutputVariable      = "variable"
	OutputLabel         = "label"
	OutputProbabilities = "probabilities"
)

// ConvertOptions tunes a single conversion.
type ConvertOptions struct {
	TargetOpset  int64
	Name         string
	DocString    string
	ModelVersion int64
	Props        map[string]string
	Logger       *slog.Logger
}

// DefaultConvertOptions returns options targeting DefaultTargetOpset.
func DefaultConvertOptions() ConvertOptions {
	return ConvertOptions{TargetOpset: DefaultTargetOpset, ModelVersion: 1}
}

// OutputBinding names what a graph output means.
type OutputBinding struct {
	Index    int
	Name     string
	Semantic string
}

// Result is a finished conversion.
type Result struct {
	Graph   *graph.Graph
	Outputs []OutputBinding
}

// Output returns the binding with the given semantic.
func (r *Result) Output(semantic string) (OutputBinding, bool) {
	for _, o := range r.Outputs {
		if o.Semantic == semantic {
			return o, true
		}
	}
	return OutputBinding{}, false
}

// NewDefaultRegistry returns a registry with every built-in converter.
func NewDefaultRegistry() *registry.Registry {
	reg := registry.New()
	all := []struct {
		kind string
		rng  registry.VersionRange
		conv registry.Converter
	}{
		{estimator.KindLinearRegression, registry.From(1), convertLinearRegression},
		{estimator.KindConstantRegressor, registry.From(1), convertConstantRegressor},
		{estimator.KindLogisticRegression, registry.From(1), convertLogisticRegression},
		{estimator.KindDecisionTreeRegressor, registry.From(1), convertDecisionTreeRegressor},
		{estimator.KindDecisionTreeClassifier, registry.From(1), convertDecisionTreeClassifier},
		{estimator.KindAdaBoostRegressor, registry.From(opsetOneHot), convertWeightedRegression},
		{estimator.KindVotingRegressor, registry.From(opsetOneHot), convertWeightedRegression},
		{estimator.KindAdaBoostClassifier, registry.From(opsetOneHot), convertAdaBoostClassifier},
		{estimator.KindVotingClassifier, registry.From(opsetOneHot), convertVotingClassifier},
	}
	for _, c := range all {
		if err := reg.Register(c.kind, c.rng, c.conv); err != nil {
			panic(fmt.Sprintf("default registry: %v", err))
		}
	}
	return reg
}

// Convert lowers est into a validated graph reading the single rank-2 input
// described by inputs. Classifiers produce the outputs label and
// probabilities, regressors produce variable. No graph is returned on error.
func Convert(reg *registry.Registry, est estimator.Estimator, inputs []graph.TensorDescriptor, opts ConvertOptions) (*Result, error) {
	if est == nil {
		return nil, fmt.Errorf("nil estimator")
	}
	if opts.TargetOpset == 0 {
		opts.TargetOpset = DefaultTargetOpset
	}
	if opts.Name == "" {
		opts.Name = est.Kind()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%s: expected exactly one input, got %d", est.Kind(), len(inputs))
	}
	in := inputs[0]
	if in.Shape.Rank() != 2 {
		return nil, fmt.Errorf("%s: input %q must have rank 2, got %s", est.Kind(), in.Name, in.Shape)
	}
	accum := in.Type
	switch in.Type {
	case graph.Float32, graph.Float64:
	case graph.Int64:
		accum = graph.Float32
	default:
		return nil, &graph.UnsupportedTypeError{Type: in.Type, Context: "input " + in.Name}
	}

	b := graph.NewBuilder(opts.Name,
		graph.WithMetadata(graph.Metadata{
			ProducerName:    ProducerName,
			ProducerVersion: ProducerVersion,
			Domain:          ModelDomain,
			ModelVersion:    opts.ModelVersion,
			DocString:       opts.DocString,
			Props:           maps.Clone(opts.Props),
		}),
		graph.WithOpset(graph.DomainDefault, opts.TargetOpset),
		graph.WithOpset(graph.DomainML, mlOpset),
	)
	if err := b.AddInput(in); err != nil {
		return nil, err
	}
	// Reserve the output names so no converter takes them.
	for _, name := range []string{OutputLabel, OutputProbabilities, OutputVariable} {
		if got := b.NewTensorName(name); got != name {
			return nil, &graph.DuplicateNameError{Name: name, What: "output"}
		}
	}

	x := in.Name
	if in.Type == graph.Int64 {
		cast := b.NewTensorName("cast_input")
		if _, err := b.AddNode("Cast", graph.DomainDefault, []string{in.Name}, []string{cast},
			graph.Attrs{"to": graph.IntAttr(int64(graph.Float32))}); err != nil {
			return nil, err
		}
		x = cast
	}

	var features int64
	if d := in.Shape[1]; !d.IsDynamic() {
		features = d.Value
	}
	ctx := registry.NewContext(b, reg, est.Kind(), registry.Scope{
		Opset:     opts.TargetOpset,
		AccumType: accum,
		Features:  features,
		Logger:    logger,
	})
	outs, err := ctx.Convert(est, []string{x})
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s: %w", est.Kind(), err)
	}

	batch := in.Shape[0]
	var bindings []OutputBinding
	switch len(outs) {
	case 1:
		bindings = []OutputBinding{{Index: 0, Name: OutputVariable, Semantic: SemanticPrediction}}
		if err := bindOutput(b, outs[0], graph.TensorDescriptor{Name: OutputVariable, Type: accum, Shape: graph.Shape{batch, graph.Fixed(1)}}); err != nil {
			return nil, err
		}
	case 2:
		classes := graph.Dynamic("C")
		if cs, err := estimator.Int64s(est, "classes"); err == nil {
			classes = graph.Fixed(int64(len(cs)))
		}
		bindings = []OutputBinding{
			{Index: 0, Name: OutputLabel, Semantic: SemanticLabel},
			{Index: 1, Name: OutputProbabilities, Semantic: SemanticProbabilities},
		}
		if err := bindOutput(b, outs[0], graph.TensorDescriptor{Name: OutputLabel, Type: graph.Int64, Shape: graph.Shape{batch}}); err != nil {
			return nil, err
		}
		if err := bindOutput(b, outs[1], graph.TensorDescriptor{Name: OutputProbabilities, Type: accum, Shape: graph.Shape{batch, classes}}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%s: converter returned %d outputs", est.Kind(), len(outs))
	}

	g, err := b.Finalize()
	if err != nil {
		return nil, err
	}
	if err := validator.Validate(g); err != nil {
		return nil, fmt.Errorf("graph for %s failed validation: %w", est.Kind(), err)
	}
	logger.Debug("converted estimator",
		"kind", est.Kind(),
		"opset", opts.TargetOpset,
		"nodes", len(g.Nodes),
		"initializers", len(g.Initializers),
		"graph_id", g.Metadata.GraphID)
	return &Result{Graph: g, Outputs: bindings}, nil
}

// bindOutput declares desc and copies src into it.
func bindOutput(b *graph.Builder, src string, desc graph.TensorDescriptor) error {
	if err := b.DeclareOutput(desc); err != nil {
		return err
	}
	_, err := b.AddNode("Identity", graph.DomainDefault, []string{src}, []string{desc.Name}, nil)
	return err
}
