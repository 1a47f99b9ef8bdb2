// Package graph holds the operator-graph representation produced by the
// conversion engine: tensor descriptors, constant tensors, operator nodes,
// the finished Graph and the incremental Builder that produces it.
package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// ElemType is the element type of a tensor.
type ElemType int32

// Element types understood by the engine. Values follow the ONNX
// TensorProto.DataType numbering so they survive serialization unchanged.
const (
	Undefined ElemType = 0
	Float32   ElemType = 1
	String    ElemType = 8
	Bool      ElemType = 9
	Float64   ElemType = 11
	Int64     ElemType = 7
)

func (t ElemType) String() string {
	switch t {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int64:
		return "int64"
	case String:
		return "string"
	case Bool:
		return "bool"
	default:
		return "undefined(" + strconv.Itoa(int(t)) + ")"
	}
}

// IsFloat reports whether t is a floating point type.
func (t ElemType) IsFloat() bool {
	return t == Float32 || t == Float64
}

// Dim is one dimension of a shape. A dimension is fixed when Value > 0,
// otherwise it is dynamic and Param optionally carries its symbolic name.
type Dim struct {
	Value int64
	Param string
}

// Fixed returns a fixed dimension of size n.
func Fixed(n int64) Dim { return Dim{Value: n} }

// Dynamic returns a dynamic dimension with the given symbolic name.
func Dynamic(name string) Dim { return Dim{Param: name} }

// IsDynamic reports whether the dimension is not fixed.
func (d Dim) IsDynamic() bool { return d.Value <= 0 }

func (d Dim) String() string {
	if !d.IsDynamic() {
		return strconv.FormatInt(d.Value, 10)
	}
	if d.Param != "" {
		return d.Param
	}
	return "?"
}

// Shape is an ordered sequence of dimensions.
type Shape []Dim

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s) }

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Compatible reports whether s and o have the same rank and agree on every
// dimension that is fixed in both.
func (s Shape) Compatible(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i].IsDynamic() || o[i].IsDynamic() {
			continue
		}
		if s[i].Value != o[i].Value {
			return false
		}
	}
	return true
}

// Clone returns a copy of s.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// ShapeOf builds a shape from integer sizes; sizes <= 0 become dynamic.
func ShapeOf(dims ...int64) Shape {
	s := make(Shape, len(dims))
	for i, d := range dims {
		if d > 0 {
			s[i] = Fixed(d)
		} else {
			s[i] = Dynamic("")
		}
	}
	return s
}

// TensorDescriptor names a tensor and declares its element type and shape.
type TensorDescriptor struct {
	Name  string
	Type  ElemType
	Shape Shape
}

func (d TensorDescriptor) String() string {
	return fmt.Sprintf("%s: %s%s", d.Name, d.Type, d.Shape)
}

// FloatTensorType declares a float32 tensor. A negative or zero size marks a
// dynamic dimension; the first dynamic dimension is named "N".
func FloatTensorType(name string, dims ...int64) TensorDescriptor {
	return TensorDescriptor{Name: name, Type: Float32, Shape: batchShape(dims)}
}

// DoubleTensorType declares a float64 tensor.
func DoubleTensorType(name string, dims ...int64) TensorDescriptor {
	return TensorDescriptor{Name: name, Type: Float64, Shape: batchShape(dims)}
}

// Int64TensorType declares an int64 tensor.
func Int64TensorType(name string, dims ...int64) TensorDescriptor {
	return TensorDescriptor{Name: name, Type: Int64, Shape: batchShape(dims)}
}

func batchShape(dims []int64) Shape {
	s := ShapeOf(dims...)
	for i := range s {
		if s[i].IsDynamic() {
			s[i].Param = "N"
			break
		}
	}
	return s
}
