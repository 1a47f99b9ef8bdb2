package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Builder assembles a Graph one node at a time. It owns the name allocator
// for the graph under construction and is not safe for concurrent use.
type Builder struct {
	name         string
	nodes        []*Node
	inputs       []TensorDescriptor
	outputs      []TensorDescriptor
	initializers []Initializer
	metadata     Metadata

	known     map[string]struct{}
	reserved  map[string]struct{}
	nodeNames map[string]struct{}
	counters  map[string]int
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithMetadata seeds the graph metadata.
func WithMetadata(m Metadata) BuilderOption {
	return func(b *Builder) { b.SetMetadata(m) }
}

// WithOpset imports an operator set version for a domain.
func WithOpset(domain string, version int64) BuilderOption {
	return func(b *Builder) { b.SetOpset(domain, version) }
}

// NewBuilder returns an empty builder for a graph called name.
func NewBuilder(name string, opts ...BuilderOption) *Builder {
	b := &Builder{
		name:      name,
		known:     make(map[string]struct{}),
		reserved:  make(map[string]struct{}),
		nodeNames: make(map[string]struct{}),
		counters:  make(map[string]int),
		metadata:  Metadata{OpsetImports: make(map[string]int64)},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewTensorName returns a name unused in the graph so far. The hint itself is
// returned when free, otherwise hint_1, hint_2 and so on.
func (b *Builder) NewTensorName(hint string) string {
	if hint == "" {
		hint = "t"
	}
	name := b.unique(hint, func(n string) bool {
		_, k := b.known[n]
		_, r := b.reserved[n]
		return k || r
	})
	b.reserved[name] = struct{}{}
	return name
}

// NewNodeName returns a unique node name derived from opType.
func (b *Builder) NewNodeName(opType string) string {
	name := b.unique(opType, func(n string) bool {
		_, ok := b.nodeNames[n]
		return ok
	})
	b.nodeNames[name] = struct{}{}
	return name
}

func (b *Builder) unique(hint string, taken func(string) bool) string {
	if !taken(hint) {
		return hint
	}
	for {
		b.counters[hint]++
		candidate := hint + "_" + strconv.Itoa(b.counters[hint])
		if !taken(candidate) {
			return candidate
		}
	}
}

// Known reports whether name is available as a node input.
func (b *Builder) Known(name string) bool {
	_, ok := b.known[name]
	return ok
}

// NodeCount returns the number of nodes appended so far.
func (b *Builder) NodeCount() int { return len(b.nodes) }

// AddInput declares a graph input.
func (b *Builder) AddInput(desc TensorDescriptor) error {
	if b.Known(desc.Name) {
		return &DuplicateNameError{Name: desc.Name, What: "input"}
	}
	b.known[desc.Name] = struct{}{}
	b.reserved[desc.Name] = struct{}{}
	b.inputs = append(b.inputs, TensorDescriptor{Name: desc.Name, Type: desc.Type, Shape: desc.Shape.Clone()})
	return nil
}

// AddInitializer binds a constant tensor under name.
func (b *Builder) AddInitializer(name string, t *Tensor) error {
	if t == nil {
		return fmt.Errorf("initializer %q: nil tensor", name)
	}
	if b.Known(name) {
		return &DuplicateNameError{Name: name, What: "initializer"}
	}
	b.known[name] = struct{}{}
	b.reserved[name] = struct{}{}
	b.initializers = append(b.initializers, Initializer{Name: name, Tensor: t.Clone()})
	return nil
}

// AddConstant allocates a fresh name from hint and binds t under it.
func (b *Builder) AddConstant(hint string, t *Tensor) (string, error) {
	name := b.NewTensorName(hint)
	if err := b.AddInitializer(name, t); err != nil {
		return "", err
	}
	return name, nil
}

// AddNode appends an operator node. Every input must already be known and
// every output must be new; the outputs become known afterwards.
func (b *Builder) AddNode(opType, domain string, inputs, outputs []string, attrs map[string]Attribute) (*Node, error) {
	name := b.NewNodeName(opType)
	for _, in := range inputs {
		if in == "" {
			// Optional input left empty.
			continue
		}
		if !b.Known(in) {
			return nil, &UnknownTensorReferenceError{Node: name, OpType: opType, Tensor: in}
		}
	}
	seen := make(map[string]struct{}, len(outputs))
	for _, out := range outputs {
		if _, dup := seen[out]; dup || b.Known(out) {
			return nil, &DuplicateNameError{Name: out, What: "tensor"}
		}
		seen[out] = struct{}{}
	}
	n := &Node{
		Name:    name,
		OpType:  opType,
		Domain:  domain,
		Inputs:  append([]string(nil), inputs...),
		Outputs: append([]string(nil), outputs...),
	}
	if len(attrs) > 0 {
		n.Attributes = make(map[string]Attribute, len(attrs))
		for k, v := range attrs {
			n.Attributes[k] = v.clone()
		}
	}
	for _, out := range outputs {
		b.known[out] = struct{}{}
		b.reserved[out] = struct{}{}
	}
	b.nodes = append(b.nodes, n)
	return n, nil
}

// DeclareOutput marks a tensor as a graph output. The tensor may be produced
// after the declaration.
func (b *Builder) DeclareOutput(desc TensorDescriptor) error {
	for _, o := range b.outputs {
		if o.Name == desc.Name {
			return &DuplicateNameError{Name: desc.Name, What: "output"}
		}
	}
	b.outputs = append(b.outputs, TensorDescriptor{Name: desc.Name, Type: desc.Type, Shape: desc.Shape.Clone()})
	return nil
}

// SetMetadata replaces the graph metadata. Opset imports already set are
// kept unless m overrides them.
func (b *Builder) SetMetadata(m Metadata) {
	imports := b.metadata.OpsetImports
	b.metadata = m.clone()
	if b.metadata.OpsetImports == nil {
		b.metadata.OpsetImports = make(map[string]int64)
	}
	for d, v := range imports {
		if _, ok := b.metadata.OpsetImports[d]; !ok {
			b.metadata.OpsetImports[d] = v
		}
	}
}

// SetOpset imports version of domain.
func (b *Builder) SetOpset(domain string, version int64) {
	b.metadata.OpsetImports[domain] = version
}

// Finalize checks that every declared output is produced and returns an
// independent Graph stamped with a structural GraphID.
func (b *Builder) Finalize() (*Graph, error) {
	var missing []string
	for _, o := range b.outputs {
		if !b.Known(o.Name) {
			missing = append(missing, o.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &IncompleteGraphError{Missing: missing}
	}
	g := (&Graph{
		Name:         b.name,
		Nodes:        b.nodes,
		Inputs:       b.inputs,
		Outputs:      b.outputs,
		Initializers: b.initializers,
		Metadata:     b.metadata,
	}).Clone()
	g.Metadata.GraphID = StructuralID(g)
	return g, nil
}

// StructuralID returns a name-based UUID over the structure of g: its nodes,
// declared tensors and initializer values. Metadata is not included.
func StructuralID(g *Graph) string {
	var sb strings.Builder
	sb.WriteString(g.Name)
	sb.WriteByte('\n')
	for _, d := range g.Inputs {
		fmt.Fprintf(&sb, "in %s\n", d)
	}
	for _, d := range g.Outputs {
		fmt.Fprintf(&sb, "out %s\n", d)
	}
	for _, in := range g.Initializers {
		fmt.Fprintf(&sb, "init %s %s %v %v\n", in.Name, in.Tensor.Type, in.Tensor.Shape, in.Tensor.Values())
	}
	for _, n := range g.Nodes {
		fmt.Fprintf(&sb, "node %s %s/%s %v -> %v", n.Name, n.Domain, n.OpType, n.Inputs, n.Outputs)
		for _, k := range n.AttrNames() {
			a := n.Attributes[k]
			fmt.Fprintf(&sb, " %s=%d:%d:%v:%q:%v:%v:%q", k, a.Type, a.Int, a.Float, a.Str, a.Ints, a.Floats, a.Strings)
		}
		sb.WriteByte('\n')
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(sb.String())).String()
}
