package ir

// Symbol is a namespaced operator name, e.g. "aten::cat".
type Symbol string

// Operator symbols used by the concat optimization passes and their tests.
const (
	AtenAppend        Symbol = "aten::append"
	AtenCat           Symbol = "aten::cat"
	AtenCopy          Symbol = "aten::copy_"
	AtenEmpty         Symbol = "aten::empty"
	AtenSlice         Symbol = "aten::slice"
	PrimConcat        Symbol = "prim::Concat"
	PrimConstant      Symbol = "prim::Constant"
	PrimIf            Symbol = "prim::If"
	PrimListConstruct Symbol = "prim::ListConstruct"
	PrimLoop          Symbol = "prim::Loop"

	// kindBlockEnd marks the sentinel nodes delimiting a block's node list.
	kindBlockEnd Symbol = "prim::BlockEnd"
)

// Spacing between consecutive topological indices, leaving room for
// insertions without renumbering the whole block.
const topoIndexGap int64 = 1 << 20

// Node is a typed operation with an ordered input list, one or more output
// values, optional nested blocks for control constructs, and membership in
// exactly one block.
type Node struct {
	kind        Symbol
	graph       *Graph
	inputs      []*Value
	outputs     []*Value
	blocks      []*Block
	owningBlock *Block
	prev, next  *Node
	topoIndex   int64
	ival        *IValue
}

// Kind returns the node's operator symbol.
func (n *Node) Kind() Symbol {
	return n.kind
}

// OwningGraph returns the graph that owns this node.
func (n *Node) OwningGraph() *Graph {
	return n.graph
}

// OwningBlock returns the block this node currently belongs to, or nil when
// the node has been created but not yet inserted.
func (n *Node) OwningBlock() *Block {
	return n.owningBlock
}

// Inputs returns the node's ordered input values. The returned slice must
// not be mutated.
func (n *Node) Inputs() []*Value {
	return n.inputs
}

// Input returns the i-th input value.
func (n *Node) Input(i int) *Value {
	return n.inputs[i]
}

// AddInput appends v to the node's input list and registers the use.
func (n *Node) AddInput(v *Value) {
	n.inputs = append(n.inputs, v)
	v.uses = append(v.uses, Use{User: n, Offset: len(n.inputs) - 1})
}

// Outputs returns the node's output values. The returned slice must not be
// mutated.
func (n *Node) Outputs() []*Value {
	return n.outputs
}

// Output returns the node's single output. It panics when the node does not
// have exactly one output.
func (n *Node) Output() *Value {
	if len(n.outputs) != 1 {
		panic("node does not have a single output: " + string(n.kind))
	}
	return n.outputs[0]
}

// AddOutput appends a fresh output value to the node and returns it.
func (n *Node) AddOutput() *Value {
	v := n.graph.newValue(n, len(n.outputs))
	n.outputs = append(n.outputs, v)
	return v
}

// Blocks returns the node's nested blocks. The returned slice must not be
// mutated.
func (n *Node) Blocks() []*Block {
	return n.blocks
}

// AddBlock creates a nested block owned by this node and returns it.
func (n *Node) AddBlock() *Block {
	b := newBlock(n.graph, n)
	n.blocks = append(n.blocks, b)
	return b
}

// NextNode returns the node after n in its block, or nil at the end of the
// block.
func (n *Node) NextNode() *Node {
	if n.next == nil || n.next.kind == kindBlockEnd {
		return nil
	}
	return n.next
}

// PrevNode returns the node before n in its block, or nil at the start of
// the block.
func (n *Node) PrevNode() *Node {
	if n.prev == nil || n.prev.kind == kindBlockEnd {
		return nil
	}
	return n.prev
}

// InsertBefore inserts this not-yet-inserted node immediately before pos.
func (n *Node) InsertBefore(pos *Node) *Node {
	if n.owningBlock != nil {
		panic("node is already owned by a block")
	}
	pos.assertOwned()
	n.linkBefore(pos)
	return n
}

// InsertAfter inserts this not-yet-inserted node immediately after pos.
func (n *Node) InsertAfter(pos *Node) *Node {
	if n.owningBlock != nil {
		panic("node is already owned by a block")
	}
	pos.assertOwned()
	n.linkBefore(pos.next)
	return n
}

// MoveBefore removes this node from its current position and re-inserts it
// immediately before pos, which may be in a different block.
func (n *Node) MoveBefore(pos *Node) {
	n.assertOwned()
	pos.assertOwned()
	if n == pos {
		return
	}
	n.unlink()
	n.linkBefore(pos)
}

// Remove detaches the node from its block without destroying it.
func (n *Node) Remove() {
	n.assertOwned()
	n.unlink()
}

// Destroy removes the node from the graph. All of its outputs must be
// unused; input uses are dropped and nested blocks are destroyed.
func (n *Node) Destroy() {
	for _, out := range n.outputs {
		if out.HasUses() {
			panic("cannot destroy a node whose output still has uses: " + string(n.kind))
		}
	}
	for i := len(n.inputs) - 1; i >= 0; i-- {
		n.inputs[i].removeUse(n, i)
	}
	n.inputs = nil
	for _, b := range n.blocks {
		b.destroyNodes()
	}
	n.blocks = nil
	if n.owningBlock != nil {
		n.unlink()
	}
}

// IsBefore reports whether this node appears before other within their
// shared block. Both nodes must be owned by the same block.
func (n *Node) IsBefore(other *Node) bool {
	n.assertOwned()
	other.assertOwned()
	if n.owningBlock != other.owningBlock {
		panic("nodes are not owned by the same block")
	}
	return n.topoIndex < other.topoIndex
}

// IsAfter reports whether this node appears after other within their
// shared block.
func (n *Node) IsAfter(other *Node) bool {
	return other.IsBefore(n)
}

// IsDominatedBy reports whether dominator dominates this node: every path
// reaching this node first passes through dominator. In this linear IR a
// node dominates everything after it in its block, including nodes in
// blocks nested under those.
func (n *Node) IsDominatedBy(dominator *Node) bool {
	dominator.assertOwned()
	cur := n
	for cur != nil {
		cur.assertOwned()
		if cur.owningBlock == dominator.owningBlock {
			return dominator.topoIndex < cur.topoIndex
		}
		cur = cur.owningBlock.owningNode
	}
	return false
}

func (n *Node) assertOwned() {
	if n.owningBlock == nil {
		panic("node is not owned by a block: " + string(n.kind))
	}
}

// linkBefore splices n into pos's block immediately before pos and assigns
// a topological index, renumbering the block when the gap is exhausted.
func (n *Node) linkBefore(pos *Node) {
	prev := pos.prev
	prev.next = n
	n.prev = prev
	n.next = pos
	pos.prev = n
	n.owningBlock = pos.owningBlock
	if prev.kind == kindBlockEnd && pos.kind == kindBlockEnd {
		n.topoIndex = 0
		return
	}
	switch {
	case prev.kind == kindBlockEnd:
		n.topoIndex = pos.topoIndex - topoIndexGap
	case pos.kind == kindBlockEnd:
		n.topoIndex = prev.topoIndex + topoIndexGap
	default:
		n.topoIndex = prev.topoIndex + (pos.topoIndex-prev.topoIndex)/2
		if n.topoIndex == prev.topoIndex {
			n.owningBlock.renumber()
		}
	}
}

func (n *Node) unlink() {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
	n.owningBlock = nil
}
