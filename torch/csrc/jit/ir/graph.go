package ir

import (
	"fmt"
	"strings"
)

// Graph is a multi-entry collection of nested blocks. It owns all of its
// blocks, nodes, and values transitively; passes create, move, and destroy
// nodes only through the graph and node APIs.
type Graph struct {
	block       *Block
	inputs      []*Value
	valueCount  int
	insertPoint *Node
}

// NewGraph returns an empty graph with a top-level block.
func NewGraph() *Graph {
	g := &Graph{}
	g.block = newBlock(g, nil)
	return g
}

// Block returns the graph's top-level block.
func (g *Graph) Block() *Block {
	return g.block
}

// Inputs returns the graph's input values.
func (g *Graph) Inputs() []*Value {
	return g.inputs
}

// AddInput creates a new graph input value. Graph inputs have no defining
// node and dominate every node in the graph.
func (g *Graph) AddInput() *Value {
	v := g.newValue(nil, len(g.inputs))
	g.inputs = append(g.inputs, v)
	return v
}

// Create builds a new node of the given kind with the given inputs and a
// single untyped output. The node is not inserted into any block.
func (g *Graph) Create(kind Symbol, inputs ...*Value) *Node {
	if kind == kindBlockEnd {
		panic("cannot create a block sentinel node")
	}
	n := &Node{kind: kind, graph: g}
	for _, in := range inputs {
		n.AddInput(in)
	}
	n.AddOutput()
	return n
}

// SetInsertPoint makes subsequent InsertConstant calls insert immediately
// before n.
func (g *Graph) SetInsertPoint(n *Node) {
	n.assertOwned()
	g.insertPoint = n
}

// ClearInsertPoint restores the default behavior of appending constants to
// the top-level block.
func (g *Graph) ClearInsertPoint() {
	g.insertPoint = nil
}

// InsertConstant materializes a prim::Constant node carrying iv at the
// current insert point and returns its output value.
func (g *Graph) InsertConstant(iv IValue) *Value {
	n := g.Create(PrimConstant)
	n.ival = &iv
	n.Output().SetType(iv.valueType())
	if g.insertPoint != nil {
		n.InsertBefore(g.insertPoint)
	} else {
		g.block.Push(n)
	}
	return n.Output()
}

func (g *Graph) newValue(node *Node, offset int) *Value {
	v := &Value{node: node, offset: offset, name: fmt.Sprintf("%d", g.valueCount)}
	g.valueCount++
	return v
}

// String renders the graph in a compact textual form for logging and
// debugging.
func (g *Graph) String() string {
	var sb strings.Builder
	names := make([]string, len(g.inputs))
	for i, in := range g.inputs {
		names[i] = formatValue(in)
	}
	fmt.Fprintf(&sb, "graph(%s):\n", strings.Join(names, ", "))
	writeBlock(&sb, g.block, 1)
	return sb.String()
}

func writeBlock(sb *strings.Builder, b *Block, depth int) {
	indent := strings.Repeat("  ", depth)
	for n := b.First(); n != nil; n = n.NextNode() {
		fmt.Fprintf(sb, "%s%s\n", indent, n.String())
		for i, nested := range n.blocks {
			fmt.Fprintf(sb, "%sblock%d:\n", indent, i)
			writeBlock(sb, nested, depth+1)
		}
	}
}

// String renders the node the way it appears in a graph dump, e.g.
// "%5 : Tensor = aten::cat(%3, %4)".
func (n *Node) String() string {
	outs := make([]string, len(n.outputs))
	for i, out := range n.outputs {
		outs[i] = formatValue(out)
	}
	ins := make([]string, len(n.inputs))
	for i, in := range n.inputs {
		ins[i] = "%" + in.name
	}
	attr := ""
	if n.ival != nil {
		attr = "[value=" + n.ival.String() + "]"
	}
	return fmt.Sprintf("%s = %s%s(%s)",
		strings.Join(outs, ", "), n.kind, attr, strings.Join(ins, ", "))
}

func formatValue(v *Value) string {
	t := "?"
	if v.typ != nil {
		t = v.typ.String()
	}
	return "%" + v.name + " : " + t
}
