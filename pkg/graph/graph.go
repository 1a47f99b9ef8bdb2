package graph

import (
	"maps"
	"slices"
)

// Metadata records how and by whom a graph was produced.
type Metadata struct {
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	GraphID         string
	OpsetImports    map[string]int64
	Props           map[string]string
}

func (m Metadata) clone() Metadata {
	m.OpsetImports = maps.Clone(m.OpsetImports)
	m.Props = maps.Clone(m.Props)
	return m
}

// Graph is a finalized, topologically ordered operator graph. A Graph is
// produced by Builder.Finalize and is not mutated afterwards.
type Graph struct {
	Name         string
	Nodes        []*Node
	Inputs       []TensorDescriptor
	Outputs      []TensorDescriptor
	Initializers []Initializer
	Metadata     Metadata
}

// Opset returns the version imported for the default domain.
func (g *Graph) Opset() int64 {
	return g.Metadata.OpsetImports[DomainDefault]
}

// Node returns the node with the given name.
func (g *Graph) Node(name string) (*Node, bool) {
	for _, n := range g.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// Initializer returns the constant bound to name.
func (g *Graph) Initializer(name string) (*Tensor, bool) {
	for _, in := range g.Initializers {
		if in.Name == name {
			return in.Tensor, true
		}
	}
	return nil, false
}

// Input returns the declared graph input called name.
func (g *Graph) Input(name string) (TensorDescriptor, bool) {
	return findDescriptor(g.Inputs, name)
}

// Output returns the declared graph output called name.
func (g *Graph) Output(name string) (TensorDescriptor, bool) {
	return findDescriptor(g.Outputs, name)
}

// InputNames returns the declared input names in declaration order.
func (g *Graph) InputNames() []string { return descriptorNames(g.Inputs) }

// OutputNames returns the declared output names in declaration order.
func (g *Graph) OutputNames() []string { return descriptorNames(g.Outputs) }

// OpTypes returns the op type of every node in graph order.
func (g *Graph) OpTypes() []string {
	out := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		out[i] = n.OpType
	}
	return out
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		Name:     g.Name,
		Nodes:    make([]*Node, len(g.Nodes)),
		Inputs:   cloneDescriptors(g.Inputs),
		Outputs:  cloneDescriptors(g.Outputs),
		Metadata: g.Metadata.clone(),
	}
	for i, n := range g.Nodes {
		out.Nodes[i] = n.Clone()
	}
	out.Initializers = make([]Initializer, len(g.Initializers))
	for i, in := range g.Initializers {
		out.Initializers[i] = Initializer{Name: in.Name, Tensor: in.Tensor.Clone()}
	}
	return out
}

func findDescriptor(ds []TensorDescriptor, name string) (TensorDescriptor, bool) {
	for _, d := range ds {
		if d.Name == name {
			return d, true
		}
	}
	return TensorDescriptor{}, false
}

func descriptorNames(ds []TensorDescriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name
	}
	return out
}

func cloneDescriptors(ds []TensorDescriptor) []TensorDescriptor {
	out := slices.Clone(ds)
	for i := range out {
		out[i].Shape = out[i].Shape.Clone()
	}
	return out
}
