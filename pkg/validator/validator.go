// Package validator checks finished graphs: topological order, a single
// producer per tensor and a shape/type inference pass over the known
// operators. It never mutates the graph.
package validator

import (
	"errors"
	"fmt"

	"github.com/zerfoo/zskl/pkg/graph"
)

var (
	// ErrCyclicGraph is returned when a node consumes a tensor produced later.
	ErrCyclicGraph = errors.New("graph is not topologically ordered")

	// ErrMultipleProducer is returned when a tensor has more than one producer.
	ErrMultipleProducer = errors.New("tensor produced more than once")

	// ErrShapeMismatch is returned when inference conflicts with a declared or
	// required shape or element type.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// CyclicGraphError names the node reading a tensor before it is produced.
type CyclicGraphError struct {
	Node     string
	Tensor   string
	Producer string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("node %q reads %q before its producer %q runs", e.Node, e.Tensor, e.Producer)
}

func (e *CyclicGraphError) Unwrap() error { return ErrCyclicGraph }

// MultipleProducerError names a tensor with two producers.
type MultipleProducerError struct {
	Tensor    string
	Producers []string
}

func (e *MultipleProducerError) Error() string {
	return fmt.Sprintf("tensor %q is produced by %v", e.Tensor, e.Producers)
}

func (e *MultipleProducerError) Unwrap() error { return ErrMultipleProducer }

// ShapeMismatchError reports a conflict found while inferring Node.
type ShapeMismatchError struct {
	Node     string
	Tensor   string
	Expected graph.TensorDescriptor
	Got      graph.TensorDescriptor
	Reason   string
}

func (e *ShapeMismatchError) Error() string {
	msg := fmt.Sprintf("node %q: tensor %q expected %s%s, got %s%s",
		e.Node, e.Tensor, e.Expected.Type, e.Expected.Shape, e.Got.Type, e.Got.Shape)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ShapeMismatchError) Unwrap() error { return ErrShapeMismatch }

const (
	producerInput       = "<input>"
	producerInitializer = "<initializer>"
)

// Validate runs the structural checks and shape inference on g and compares
// the inferred descriptors of the declared outputs with their declarations.
func Validate(g *graph.Graph) error {
	producers, err := checkStructure(g)
	if err != nil {
		return err
	}
	inferred, err := infer(g)
	if err != nil {
		return err
	}
	for _, out := range g.Outputs {
		got, ok := inferred[out.Name]
		if !ok {
			continue
		}
		if (got.Type != graph.Undefined && out.Type != got.Type) || !out.Shape.Compatible(got.Shape) {
			return &ShapeMismatchError{
				Node:     producers[out.Name],
				Tensor:   out.Name,
				Expected: out,
				Got:      got,
				Reason:   "declared output disagrees with inferred descriptor",
			}
		}
	}
	return nil
}

// Infer returns the descriptor inferred for every tensor whose type and
// shape could be derived. Tensors produced by unknown operators are absent.
func Infer(g *graph.Graph) (map[string]graph.TensorDescriptor, error) {
	if _, err := checkStructure(g); err != nil {
		return nil, err
	}
	return infer(g)
}

// checkStructure verifies single producers, topological order and that
// every declared output is produced. It returns the producer of each tensor.
func checkStructure(g *graph.Graph) (map[string]string, error) {
	producers := make(map[string]string)
	position := make(map[string]int)
	claim := func(tensor, producer string, pos int) error {
		if prev, ok := producers[tensor]; ok {
			return &MultipleProducerError{Tensor: tensor, Producers: []string{prev, producer}}
		}
		producers[tensor] = producer
		position[tensor] = pos
		return nil
	}
	for _, in := range g.Inputs {
		if err := claim(in.Name, producerInput, -1); err != nil {
			return nil, err
		}
	}
	for _, in := range g.Initializers {
		if err := claim(in.Name, producerInitializer, -1); err != nil {
			return nil, err
		}
	}
	for i, n := range g.Nodes {
		for _, out := range n.Outputs {
			if err := claim(out, n.Name, i); err != nil {
				return nil, err
			}
		}
	}

	for i, n := range g.Nodes {
		for _, in := range n.Inputs {
			if in == "" {
				continue
			}
			pos, ok := position[in]
			if !ok {
				return nil, &graph.UnknownTensorReferenceError{Node: n.Name, OpType: n.OpType, Tensor: in}
			}
			if pos >= i {
				return nil, &CyclicGraphError{Node: n.Name, Tensor: in, Producer: producers[in]}
			}
		}
	}

	var missing []string
	for _, out := range g.Outputs {
		if _, ok := producers[out.Name]; !ok {
			missing = append(missing, out.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &graph.IncompleteGraphError{Missing: missing}
	}
	return producers, nil
}
