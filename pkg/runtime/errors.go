package runtime

import (
	"errors"
	"fmt"

	"github.com/zerfoo/zskl/pkg/graph"
)

// Sentinel errors returned by Session. The typed errors below unwrap to them.
var (
	// ErrUnknownOutputName is returned when Run asks for an output the graph
	// does not declare.
	ErrUnknownOutputName = errors.New("unknown output name")

	// ErrUnknownInputName is returned for a feed that names no graph input.
	ErrUnknownInputName = errors.New("unknown input name")

	// ErrMissingInput is returned when a graph input has no feed.
	ErrMissingInput = errors.New("missing input")

	// ErrTypeMismatch is returned when a feed's element type differs from
	// the declared input type.
	ErrTypeMismatch = errors.New("element type mismatch")

	// ErrShape is returned when a feed's shape is rejected by the shape policy.
	ErrShape = errors.New("feed shape rejected")

	// ErrUnsupportedOp is returned by NewSession for a node without a kernel.
	ErrUnsupportedOp = errors.New("unsupported operator")
)

// UnknownOutputNameError names a requested output the graph lacks.
type UnknownOutputNameError struct {
	Name string
}

func (e *UnknownOutputNameError) Error() string {
	return fmt.Sprintf("graph has no output %q", e.Name)
}

func (e *UnknownOutputNameError) Unwrap() error { return ErrUnknownOutputName }

// UnknownInputNameError names a feed that matches no graph input.
type UnknownInputNameError struct {
	Name string
}

func (e *UnknownInputNameError) Error() string {
	return fmt.Sprintf("graph has no input %q", e.Name)
}

func (e *UnknownInputNameError) Unwrap() error { return ErrUnknownInputName }

// MissingInputError names a graph input left without a feed.
type MissingInputError struct {
	Name string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("no feed for input %q", e.Name)
}

func (e *MissingInputError) Unwrap() error { return ErrMissingInput }

// TypeMismatchError reports a feed of the wrong element type.
type TypeMismatchError struct {
	Name     string
	Expected graph.ElemType
	Got      graph.ElemType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("input %q expects %s, got %s", e.Name, e.Expected, e.Got)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

// ShapeError reports a feed whose shape the session's policy rejects.
type ShapeError struct {
	Name     string
	Expected graph.Shape
	Got      []int64
	Reason   string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("input %q expects shape %s, got %v: %s", e.Name, e.Expected, e.Got, e.Reason)
}

func (e *ShapeError) Unwrap() error { return ErrShape }

// UnsupportedOpError reports a node whose operator has no kernel.
type UnsupportedOpError struct {
	Node   string
	OpType string
	Domain string
}

func (e *UnsupportedOpError) Error() string {
	if e.Domain != "" {
		return fmt.Sprintf("node %q: operator %s/%s is not supported", e.Node, e.Domain, e.OpType)
	}
	return fmt.Sprintf("node %q: operator %s is not supported", e.Node, e.OpType)
}

func (e *UnsupportedOpError) Unwrap() error { return ErrUnsupportedOp }
