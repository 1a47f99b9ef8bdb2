package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph construction. Every typed error below unwraps to
// one of these so callers can use errors.Is.
var (
	// ErrDuplicateName is returned when a tensor name is declared twice.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrUnknownTensor is returned when a node consumes a tensor that is
	// neither a graph input, an initializer nor an earlier node output.
	ErrUnknownTensor = errors.New("unknown tensor reference")

	// ErrIncompleteGraph is returned when a declared output is never produced.
	ErrIncompleteGraph = errors.New("incomplete graph")

	// ErrUnsupportedType is returned for element types the engine cannot handle.
	ErrUnsupportedType = errors.New("unsupported element type")
)

// DuplicateNameError reports a tensor or initializer name collision.
type DuplicateNameError struct {
	Name string
	What string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate %s name %q", e.What, e.Name)
}

func (e *DuplicateNameError) Unwrap() error { return ErrDuplicateName }

// UnknownTensorReferenceError reports a node input that is not yet known.
type UnknownTensorReferenceError struct {
	Node   string
	OpType string
	Tensor string
}

func (e *UnknownTensorReferenceError) Error() string {
	return fmt.Sprintf("node %q (%s) references unknown tensor %q", e.Node, e.OpType, e.Tensor)
}

func (e *UnknownTensorReferenceError) Unwrap() error { return ErrUnknownTensor }

// IncompleteGraphError lists declared outputs no node produces.
type IncompleteGraphError struct {
	Missing []string
}

func (e *IncompleteGraphError) Error() string {
	return fmt.Sprintf("declared outputs never produced: %v", e.Missing)
}

func (e *IncompleteGraphError) Unwrap() error { return ErrIncompleteGraph }

// UnsupportedTypeError reports an element type that is not accepted where it
// was used.
type UnsupportedTypeError struct {
	Type    ElemType
	Context string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported element type %s for %s", e.Type, e.Context)
}

func (e *UnsupportedTypeError) Unwrap() error { return ErrUnsupportedType }
