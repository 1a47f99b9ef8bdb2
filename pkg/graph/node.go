package graph

import (
	"maps"
	"slices"
)

// Operator domains.
const (
	DomainDefault = ""
	DomainML      = "ai.onnx.ml"
)

// AttrType tags the value held by an Attribute.
type AttrType int

// Attribute value kinds.
const (
	AttrInt AttrType = iota + 1
	AttrFloat
	AttrString
	AttrInts
	AttrFloats
	AttrStrings
)

// Attribute is a scalar or array literal attached to a node.
type Attribute struct {
	Type    AttrType
	Int     int64
	Float   float64
	Str     string
	Ints    []int64
	Floats  []float64
	Strings []string
}

// IntAttr returns an integer attribute.
func IntAttr(v int64) Attribute { return Attribute{Type: AttrInt, Int: v} }

// FloatAttr returns a float attribute.
func FloatAttr(v float64) Attribute { return Attribute{Type: AttrFloat, Float: v} }

// StringAttr returns a string attribute.
func StringAttr(v string) Attribute { return Attribute{Type: AttrString, Str: v} }

// IntsAttr returns an integer array attribute.
func IntsAttr(v ...int64) Attribute { return Attribute{Type: AttrInts, Ints: slices.Clone(v)} }

// FloatsAttr returns a float array attribute.
func FloatsAttr(v ...float64) Attribute { return Attribute{Type: AttrFloats, Floats: slices.Clone(v)} }

// StringsAttr returns a string array attribute.
func StringsAttr(v ...string) Attribute { return Attribute{Type: AttrStrings, Strings: slices.Clone(v)} }

func (a Attribute) clone() Attribute {
	a.Ints = slices.Clone(a.Ints)
	a.Floats = slices.Clone(a.Floats)
	a.Strings = slices.Clone(a.Strings)
	return a
}

// Node is a single operator in the graph.
type Node struct {
	Name       string
	OpType     string
	Domain     string
	Inputs     []string
	Outputs    []string
	Attributes map[string]Attribute
}

// Attrs is a convenience alias used when emitting nodes.
type Attrs = map[string]Attribute

// AttrInt returns an integer attribute or defaultVal.
func (n *Node) AttrInt(name string, defaultVal int64) int64 {
	if a, ok := n.Attributes[name]; ok && a.Type == AttrInt {
		return a.Int
	}
	return defaultVal
}

// AttrFloat returns a float attribute or defaultVal.
func (n *Node) AttrFloat(name string, defaultVal float64) float64 {
	if a, ok := n.Attributes[name]; ok && a.Type == AttrFloat {
		return a.Float
	}
	return defaultVal
}

// AttrString returns a string attribute or defaultVal.
func (n *Node) AttrString(name, defaultVal string) string {
	if a, ok := n.Attributes[name]; ok && a.Type == AttrString {
		return a.Str
	}
	return defaultVal
}

// AttrInts returns an integer array attribute.
func (n *Node) AttrInts(name string) []int64 {
	if a, ok := n.Attributes[name]; ok && a.Type == AttrInts {
		return a.Ints
	}
	return nil
}

// AttrFloats returns a float array attribute.
func (n *Node) AttrFloats(name string) []float64 {
	if a, ok := n.Attributes[name]; ok && a.Type == AttrFloats {
		return a.Floats
	}
	return nil
}

// AttrStrings returns a string array attribute.
func (n *Node) AttrStrings(name string) []string {
	if a, ok := n.Attributes[name]; ok && a.Type == AttrStrings {
		return a.Strings
	}
	return nil
}

// HasAttr reports whether the node carries the named attribute.
func (n *Node) HasAttr(name string) bool {
	_, ok := n.Attributes[name]
	return ok
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	out := &Node{
		Name:    n.Name,
		OpType:  n.OpType,
		Domain:  n.Domain,
		Inputs:  slices.Clone(n.Inputs),
		Outputs: slices.Clone(n.Outputs),
	}
	if n.Attributes != nil {
		out.Attributes = make(map[string]Attribute, len(n.Attributes))
		for k, v := range n.Attributes {
			out.Attributes[k] = v.clone()
		}
	}
	return out
}

// AttrNames returns the attribute names in sorted order.
func (n *Node) AttrNames() []string {
	return slices.Sorted(maps.Keys(n.Attributes))
}
