// Package serializer writes converted graphs as ZMF models.
package serializer

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/zerfoo/zmf"
	"google.golang.org/protobuf/proto"

	"github.com/zerfoo/zskl/pkg/graph"
)

// ToZMF converts g into a ZMF model. Dynamic dimensions are written as -1.
func ToZMF(g *graph.Graph) (*zmf.Model, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	model := &zmf.Model{
		Graph: &zmf.Graph{
			Nodes:      make([]*zmf.Node, 0, len(g.Nodes)),
			Parameters: make(map[string]*zmf.Tensor, len(g.Initializers)),
			Inputs:     valueInfos(g.Inputs),
			Outputs:    valueInfos(g.Outputs),
		},
		Metadata: &zmf.Metadata{
			ProducerName:    g.Metadata.ProducerName,
			ProducerVersion: g.Metadata.ProducerVersion,
			OpsetVersion:    g.Opset(),
		},
	}

	for _, n := range g.Nodes {
		node, err := convertNode(n)
		if err != nil {
			return nil, fmt.Errorf("failed to convert node '%s': %w", n.Name, err)
		}
		model.Graph.Nodes = append(model.Graph.Nodes, node)
	}
	for _, in := range g.Initializers {
		t, err := convertTensor(in.Tensor)
		if err != nil {
			return nil, fmt.Errorf("failed to convert initializer '%s': %w", in.Name, err)
		}
		model.Graph.Parameters[in.Name] = t
	}
	return model, nil
}

// Marshal converts g and encodes it in the ZMF wire format.
func Marshal(g *graph.Graph) ([]byte, error) {
	model, err := ToZMF(g)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ZMF model: %w", err)
	}
	return data, nil
}

// WriteFile writes g to path as a ZMF model.
func WriteFile(g *graph.Graph, path string) error {
	data, err := Marshal(g)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ZMF file: %w", err)
	}
	return nil
}

// ReadFile reads and decodes a ZMF model.
func ReadFile(path string) (*zmf.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	model := &zmf.Model{}
	if err := proto.Unmarshal(data, model); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ZMF model: %w", err)
	}
	return model, nil
}

func convertNode(n *graph.Node) (*zmf.Node, error) {
	node := &zmf.Node{
		Name:       n.Name,
		OpType:     n.OpType,
		Inputs:     append([]string(nil), n.Inputs...),
		Outputs:    append([]string(nil), n.Outputs...),
		Attributes: make(map[string]*zmf.Attribute, len(n.Attributes)),
	}
	for _, name := range n.AttrNames() {
		attr, err := convertAttribute(n.Attributes[name])
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		node.Attributes[name] = attr
	}
	return node, nil
}

func convertAttribute(a graph.Attribute) (*zmf.Attribute, error) {
	attr := &zmf.Attribute{}
	switch a.Type {
	case graph.AttrFloat:
		attr.Value = &zmf.Attribute_F{F: float32(a.Float)}
	case graph.AttrInt:
		attr.Value = &zmf.Attribute_I{I: a.Int}
	case graph.AttrString:
		attr.Value = &zmf.Attribute_S{S: a.Str}
	case graph.AttrFloats:
		floats := make([]float32, len(a.Floats))
		for i, f := range a.Floats {
			floats[i] = float32(f)
		}
		attr.Value = &zmf.Attribute_Floats{Floats: &zmf.Floats{Val: floats}}
	case graph.AttrInts:
		attr.Value = &zmf.Attribute_Ints{Ints: &zmf.Ints{Val: append([]int64(nil), a.Ints...)}}
	case graph.AttrStrings:
		attr.Value = &zmf.Attribute_Strings{Strings: &zmf.Strings{Val: append([]string(nil), a.Strings...)}}
	default:
		return nil, fmt.Errorf("unsupported attribute type: %d", a.Type)
	}
	return attr, nil
}

// convertTensor encodes t little-endian.
func convertTensor(t *graph.Tensor) (*zmf.Tensor, error) {
	out := &zmf.Tensor{Shape: append([]int64(nil), t.Shape...)}
	switch t.Type {
	case graph.Float32:
		out.Dtype = zmf.Tensor_FLOAT32
		out.Data = make([]byte, 4*len(t.Float32s))
		for i, v := range t.Float32s {
			binary.LittleEndian.PutUint32(out.Data[i*4:], math.Float32bits(v))
		}
	case graph.Float64:
		out.Dtype = zmf.Tensor_FLOAT64
		out.Data = make([]byte, 8*len(t.Float64s))
		for i, v := range t.Float64s {
			binary.LittleEndian.PutUint64(out.Data[i*8:], math.Float64bits(v))
		}
	case graph.Int64:
		out.Dtype = zmf.Tensor_INT64
		out.Data = make([]byte, 8*len(t.Int64s))
		for i, v := range t.Int64s {
			binary.LittleEndian.PutUint64(out.Data[i*8:], uint64(v))
		}
	default:
		return nil, &graph.UnsupportedTypeError{Type: t.Type, Context: "ZMF tensor"}
	}
	return out, nil
}

// DecodeTensor decodes the data of a ZMF tensor written by ToZMF.
func DecodeTensor(t *zmf.Tensor) (*graph.Tensor, error) {
	shape := append([]int64(nil), t.GetShape()...)
	data := t.GetData()
	switch t.GetDtype() {
	case zmf.Tensor_FLOAT32:
		if len(data)%4 != 0 {
			return nil, fmt.Errorf("data length %d is not a multiple of 4 for FLOAT32", len(data))
		}
		vals := make([]float32, len(data)/4)
		for i := range vals {
			vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return &graph.Tensor{Type: graph.Float32, Shape: shape, Float32s: vals}, nil
	case zmf.Tensor_FLOAT64:
		if len(data)%8 != 0 {
			return nil, fmt.Errorf("data length %d is not a multiple of 8 for FLOAT64", len(data))
		}
		vals := make([]float64, len(data)/8)
		for i := range vals {
			vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
		return &graph.Tensor{Type: graph.Float64, Shape: shape, Float64s: vals}, nil
	case zmf.Tensor_INT64:
		if len(data)%8 != 0 {
			return nil, fmt.Errorf("data length %d is not a multiple of 8 for INT64", len(data))
		}
		vals := make([]int64, len(data)/8)
		for i := range vals {
			vals[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
		}
		return &graph.Tensor{Type: graph.Int64, Shape: shape, Int64s: vals}, nil
	}
	return nil, fmt.Errorf("unsupported tensor data type: %s", t.GetDtype())
}

func valueInfos(ds []graph.TensorDescriptor) []*zmf.ValueInfo {
	infos := make([]*zmf.ValueInfo, len(ds))
	for i, d := range ds {
		shape := make([]int64, len(d.Shape))
		for j, dim := range d.Shape {
			shape[j] = -1
			if !dim.IsDynamic() {
				shape[j] = dim.Value
			}
		}
		infos[i] = &zmf.ValueInfo{Name: d.Name, Shape: shape}
	}
	return infos
}
