// Package runtime is a small reference interpreter for the graphs produced by
// the converter. It runs the operator subset the converters emit, in node
// order, and is used to check converted graphs against direct estimator
// predictions.
package runtime

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/zerfoo/zskl/pkg/graph"
	"github.com/zerfoo/zskl/pkg/validator"
)

// ShapePolicy decides how feeds whose shape differs from the declared input
// shape are treated.
type ShapePolicy int

const (
	// Strict requires the feed rank to match and every fixed dimension to be
	// equal.
	Strict ShapePolicy = iota
	// Lenient reshapes a feed to [count/F, trailing...] whenever its element
	// count is a multiple of the product F of the fixed trailing dimensions.
	Lenient
)

func (p ShapePolicy) String() string {
	if p == Lenient {
		return "lenient"
	}
	return "strict"
}

// Option configures a Session.
type Option func(*Session)

// WithShapePolicy sets the feed shape policy. The default is Strict.
func WithShapePolicy(p ShapePolicy) Option {
	return func(s *Session) { s.policy = p }
}

// WithLogger sets the logger used for shape warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// ModelMeta is the model-level metadata exposed by a session.
type ModelMeta struct {
	CustomMetadataMap map[string]string
	Description       string
	Domain            string
	GraphName         string
	ProducerName      string
	Version           int64
}

// Session runs one graph. Run may be called from several goroutines.
type Session struct {
	g      *graph.Graph
	opset  int64
	consts map[string]*value
	policy ShapePolicy
	logger *slog.Logger
}

// NewSession validates g and prepares it for execution. Graphs using an
// operator without a kernel are rejected here rather than at Run.
func NewSession(g *graph.Graph, opts ...Option) (*Session, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if err := validator.Validate(g); err != nil {
		return nil, err
	}
	s := &Session{
		g:      g.Clone(),
		opset:  g.Opset(),
		consts: make(map[string]*value, len(g.Initializers)),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, n := range s.g.Nodes {
		if _, ok := kernels[n.OpType]; !ok || (n.Domain != graph.DomainDefault && n.Domain != graph.DomainML) {
			return nil, &UnsupportedOpError{Node: n.Name, OpType: n.OpType, Domain: n.Domain}
		}
	}
	for _, in := range s.g.Initializers {
		v, err := fromTensor(in.Tensor)
		if err != nil {
			return nil, fmt.Errorf("failed to load initializer %s: %w", in.Name, err)
		}
		s.consts[in.Name] = v
	}
	return s, nil
}

// Inputs returns the declared graph inputs.
func (s *Session) Inputs() []graph.TensorDescriptor { return slices.Clone(s.g.Inputs) }

// Outputs returns the declared graph outputs.
func (s *Session) Outputs() []graph.TensorDescriptor { return slices.Clone(s.g.Outputs) }

// Metadata returns the graph's model metadata.
func (s *Session) Metadata() ModelMeta {
	m := s.g.Metadata
	return ModelMeta{
		CustomMetadataMap: maps.Clone(m.Props),
		Description:       m.DocString,
		Domain:            m.Domain,
		GraphName:         s.g.Name,
		ProducerName:      m.ProducerName,
		Version:           m.ModelVersion,
	}
}

// Run evaluates the graph and returns the requested outputs in the order
// asked for. A nil outputNames returns every output in declaration order.
func (s *Session) Run(outputNames []string, feeds map[string]*graph.Tensor) ([]*graph.Tensor, error) {
	if outputNames == nil {
		outputNames = s.g.OutputNames()
	}
	for _, name := range outputNames {
		if _, ok := s.g.Output(name); !ok {
			return nil, &UnknownOutputNameError{Name: name}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(feeds)) {
		if _, ok := s.g.Input(name); !ok {
			return nil, &UnknownInputNameError{Name: name}
		}
	}

	env := make(map[string]*value, len(s.consts)+len(s.g.Nodes))
	maps.Copy(env, s.consts)
	for _, in := range s.g.Inputs {
		t, ok := feeds[in.Name]
		if !ok || t == nil {
			return nil, &MissingInputError{Name: in.Name}
		}
		v, err := s.feed(in, t)
		if err != nil {
			return nil, err
		}
		env[in.Name] = v
	}

	for _, n := range s.g.Nodes {
		args := make([]*value, len(n.Inputs))
		for k, name := range n.Inputs {
			if name == "" {
				continue
			}
			v, ok := env[name]
			if !ok {
				return nil, fmt.Errorf("node %s: missing input %s", n.Name, name)
			}
			args[k] = v
		}
		outs, err := kernels[n.OpType](n, args, s.opset)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", n.Name, n.OpType, err)
		}
		for k, name := range n.Outputs {
			if k >= len(outs) {
				break
			}
			out := outs[k]
			// Outputs passed through unchanged are shared with the environment.
			if !slices.Contains(args, out) {
				out.round()
			}
			env[name] = out
		}
	}

	result := make([]*graph.Tensor, len(outputNames))
	for k, name := range outputNames {
		v, ok := env[name]
		if !ok {
			return nil, fmt.Errorf("output %s was not produced", name)
		}
		result[k] = v.tensor()
	}
	return result, nil
}

// feed checks t against the declaration of input in and applies the shape
// policy.
func (s *Session) feed(in graph.TensorDescriptor, t *graph.Tensor) (*value, error) {
	if t.Type != in.Type {
		return nil, &TypeMismatchError{Name: in.Name, Expected: in.Type, Got: t.Type}
	}
	v, err := fromTensor(t)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", in.Name, err)
	}
	if strictMatch(in.Shape, v.shape) {
		return v, nil
	}
	if s.policy == Strict {
		return nil, &ShapeError{Name: in.Name, Expected: in.Shape, Got: v.shape, Reason: "rank or fixed dimension differs"}
	}

	trailing := make([]int64, 0, len(in.Shape))
	width := int64(1)
	for _, d := range in.Shape[min(1, len(in.Shape)):] {
		if d.IsDynamic() {
			return nil, &ShapeError{Name: in.Name, Expected: in.Shape, Got: v.shape, Reason: "trailing dimensions are not fixed"}
		}
		trailing = append(trailing, d.Value)
		width *= d.Value
	}
	count := int64(v.len())
	if width == 0 || count%width != 0 {
		return nil, &ShapeError{
			Name: in.Name, Expected: in.Shape, Got: v.shape,
			Reason: fmt.Sprintf("%d elements is not a multiple of %d", count, width),
		}
	}
	if len(v.shape) > len(in.Shape) {
		s.logger.Warn("feed has more dimensions than declared, reshaping",
			"input", in.Name, "declared", in.Shape.String(), "got", v.shape)
	}
	return v.reshaped(append([]int64{count / width}, trailing...)), nil
}

func strictMatch(s graph.Shape, got []int64) bool {
	if len(s) != len(got) {
		return false
	}
	for k, d := range s {
		if !d.IsDynamic() && d.Value != got[k] {
			return false
		}
	}
	return true
}
