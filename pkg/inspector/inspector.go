// Package inspector prints human-readable summaries of converted graphs and
// ZMF model files.
package inspector

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/zerfoo/zmf"

	"github.com/zerfoo/zskl/pkg/graph"
	"github.com/zerfoo/zskl/pkg/serializer"
)

// Graph prints a summary of g followed by its node table.
func Graph(w io.Writer, g *graph.Graph) {
	fmt.Fprintf(w, "Graph: %s (%s)\n", g.Name, g.Metadata.GraphID)
	fmt.Fprintf(w, "Producer: %s %s\n", g.Metadata.ProducerName, g.Metadata.ProducerVersion)
	domains := make([]string, 0, len(g.Metadata.OpsetImports))
	for d := range g.Metadata.OpsetImports {
		domains = append(domains, d)
	}
	slices.Sort(domains)
	for _, d := range domains {
		name := d
		if name == "" {
			name = "ai.onnx"
		}
		fmt.Fprintf(w, "Opset %s: %d\n", name, g.Metadata.OpsetImports[d])
	}
	for _, in := range g.Inputs {
		fmt.Fprintf(w, "Input %s\n", in)
	}
	for _, out := range g.Outputs {
		fmt.Fprintf(w, "Output %s\n", out)
	}
	fmt.Fprintf(w, "Graph has %d nodes.\n", len(g.Nodes))
	fmt.Fprintf(w, "Graph has %d parameters.\n", len(g.Initializers))

	rows := make([][]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		op := n.OpType
		if n.Domain != "" {
			op = n.Domain + "." + op
		}
		rows = append(rows, []string{n.Name, op, strings.Join(n.Inputs, ", "), strings.Join(n.Outputs, ", "), strings.Join(n.AttrNames(), ", ")})
	}
	renderNodes(w, rows)
}

// ZMF prints a summary of a ZMF model followed by its node table.
func ZMF(w io.Writer, model *zmf.Model) {
	fmt.Fprintf(w, "Producer: %s %s\n", model.GetMetadata().GetProducerName(), model.GetMetadata().GetProducerVersion())
	fmt.Fprintf(w, "Opset version: %d\n", model.GetMetadata().GetOpsetVersion())
	fmt.Fprintf(w, "Graph has %d nodes.\n", len(model.GetGraph().GetNodes()))
	fmt.Fprintf(w, "Graph has %d parameters.\n", len(model.GetGraph().GetParameters()))

	rows := make([][]string, 0, len(model.GetGraph().GetNodes()))
	for _, n := range model.GetGraph().GetNodes() {
		attrs := make([]string, 0, len(n.GetAttributes()))
		for name := range n.GetAttributes() {
			attrs = append(attrs, name)
		}
		slices.Sort(attrs)
		rows = append(rows, []string{n.GetName(), n.GetOpType(), strings.Join(n.GetInputs(), ", "), strings.Join(n.GetOutputs(), ", "), strings.Join(attrs, ", ")})
	}
	renderNodes(w, rows)
}

// InspectFile loads the ZMF model at path and prints its summary.
func InspectFile(w io.Writer, path string) error {
	fmt.Fprintf(w, "Inspecting ZMF model from: %s\n", path)
	model, err := serializer.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to load ZMF model: %w", err)
	}
	ZMF(w, model)
	return nil
}

func renderNodes(w io.Writer, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintln(w)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NODE", "OP", "INPUTS", "OUTPUTS", "ATTRIBUTES"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
}
