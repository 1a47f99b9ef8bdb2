package registry

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zerfoo/zskl/pkg/estimator"
	"github.com/zerfoo/zskl/pkg/graph"
)

// ConversionContext is threaded through every converter of one top-level
// conversion. It carries the shared builder, the target opset, the
// accumulation element type and the position of the estimator being
// converted. Sub-conversions get a derived context from Sub; the builder is
// shared, the path is not.
type ConversionContext struct {
	builder  *graph.Builder
	registry *Registry
	scope    Scope
	path     string
}

// Scope holds the per-conversion settings shared by every converter.
type Scope struct {
	// Opset is the targeted default-domain operator set version.
	Opset int64
	// AccumType is the float type of intermediate results.
	AccumType graph.ElemType
	// Features is the fixed input width, or 0 when it is dynamic.
	Features int64
	Logger   *slog.Logger
}

// NewContext starts a conversion of an estimator of kind rootKind.
func NewContext(b *graph.Builder, reg *Registry, rootKind string, s Scope) *ConversionContext {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	return &ConversionContext{builder: b, registry: reg, scope: s, path: rootKind}
}

// Builder returns the graph builder shared by the whole conversion.
func (c *ConversionContext) Builder() *graph.Builder { return c.builder }

// TargetOpset returns the default-domain opset being targeted.
func (c *ConversionContext) TargetOpset() int64 { return c.scope.Opset }

// AccumType returns the float type used for intermediate results.
func (c *ConversionContext) AccumType() graph.ElemType { return c.scope.AccumType }

// Features returns the fixed input width, or 0 when unknown.
func (c *ConversionContext) Features() int64 { return c.scope.Features }

// Logger returns the conversion logger annotated with the current path.
func (c *ConversionContext) Logger() *slog.Logger { return c.scope.Logger.With("path", c.path) }

// Path returns the position of the estimator being converted, such as
// "adaboost-classifier[2]".
func (c *ConversionContext) Path() string { return c.path }

// Sub derives the context for the index-th sub-estimator of the current one.
func (c *ConversionContext) Sub(index int) *ConversionContext {
	sub := *c
	sub.path = fmt.Sprintf("%s[%d]", c.path, index)
	return &sub
}

// Convert resolves est in the registry and runs its converter with c.
func (c *ConversionContext) Convert(est estimator.Estimator, inputs []string) ([]string, error) {
	conv, err := c.registry.Resolve(est.Kind(), c.scope.Opset)
	if err != nil {
		var ue *UnsupportedEstimatorError
		if errors.As(err, &ue) {
			ue.Path = c.path
		}
		return nil, err
	}
	c.scope.Logger.Debug("converting estimator", "kind", est.Kind(), "path", c.path, "opset", c.scope.Opset)
	outputs, err := conv(c, est, inputs)
	if err != nil {
		return nil, err
	}
	return outputs, nil
}

// ConvertSub converts the index-th sub-estimator of the current estimator.
func (c *ConversionContext) ConvertSub(index int, est estimator.Estimator, inputs []string) ([]string, error) {
	return c.Sub(index).Convert(est, inputs)
}

// Name returns a fresh tensor name built from hint.
func (c *ConversionContext) Name(hint string) string {
	return c.builder.NewTensorName(hint)
}

// Emit appends a node producing fresh tensors named after outputHints and
// returns their names.
func (c *ConversionContext) Emit(opType, domain string, inputs []string, attrs graph.Attrs, outputHints ...string) ([]string, error) {
	outputs := make([]string, len(outputHints))
	for i, h := range outputHints {
		outputs[i] = c.builder.NewTensorName(h)
	}
	if _, err := c.builder.AddNode(opType, domain, inputs, outputs, attrs); err != nil {
		return nil, fmt.Errorf("%s: %w", c.path, err)
	}
	return outputs, nil
}

// Emit1 is Emit for single-output nodes.
func (c *ConversionContext) Emit1(opType string, inputs []string, attrs graph.Attrs, outputHint string) (string, error) {
	out, err := c.Emit(opType, graph.DomainDefault, inputs, attrs, outputHint)
	if err != nil {
		return "", err
	}
	return out[0], nil
}

// Const binds a float constant in the accumulation type.
func (c *ConversionContext) Const(hint string, shape []int64, values []float64) (string, error) {
	t, err := graph.NewFloatTensor(c.scope.AccumType, shape, values)
	if err != nil {
		return "", fmt.Errorf("%s: constant %s: %w", c.path, hint, err)
	}
	return c.builder.AddConstant(hint, t)
}

// ConstInt64 binds an int64 constant.
func (c *ConversionContext) ConstInt64(hint string, shape []int64, values []int64) (string, error) {
	t, err := graph.NewInt64Tensor(shape, values)
	if err != nil {
		return "", fmt.Errorf("%s: constant %s: %w", c.path, hint, err)
	}
	return c.builder.AddConstant(hint, t)
}
