package ir

// Block holds an ordered sequence of nodes between two sentinel nodes, the
// same shape as a doubly-linked operation list with explicit end markers.
// The graph's top-level block has no owning node; blocks nested under
// control constructs are owned by their node.
type Block struct {
	graph      *Graph
	owningNode *Node
	head, tail *Node
}

func newBlock(g *Graph, owner *Node) *Block {
	b := &Block{graph: g, owningNode: owner}
	b.head = &Node{kind: kindBlockEnd, graph: g, owningBlock: b}
	b.tail = &Node{kind: kindBlockEnd, graph: g, owningBlock: b}
	b.head.next = b.tail
	b.tail.prev = b.head
	return b
}

// OwningNode returns the control node this block is nested under, or nil
// for a graph's top-level block.
func (b *Block) OwningNode() *Node {
	return b.owningNode
}

// First returns the first node in the block, or nil when the block is
// empty.
func (b *Block) First() *Node {
	return b.head.NextNode()
}

// Nodes returns a snapshot of the block's nodes in order. Mutating the
// block does not affect a previously taken snapshot, so a pass can scan a
// snapshot and commit rewrites afterwards.
func (b *Block) Nodes() []*Node {
	var nodes []*Node
	for n := b.First(); n != nil; n = n.NextNode() {
		nodes = append(nodes, n)
	}
	return nodes
}

// Push appends a node to the end of the block.
func (b *Block) Push(n *Node) *Node {
	if n.kind == kindBlockEnd {
		panic("cannot insert a block sentinel node")
	}
	if n.owningBlock != nil {
		panic("node is already owned by a block")
	}
	n.linkBefore(b.tail)
	return n
}

// destroyNodes destroys every node in the block, last to first so that
// in-block uses are released before their producers.
func (b *Block) destroyNodes() {
	for last := b.tail.prev; last.kind != kindBlockEnd; last = b.tail.prev {
		last.Destroy()
	}
}

// renumber reassigns evenly spaced topological indices to every node in the
// block. Called when an insertion exhausts the gap between two neighbors.
func (b *Block) renumber() {
	idx := int64(0)
	for n := b.First(); n != nil; n = n.NextNode() {
		n.topoIndex = idx
		idx += topoIndexGap
	}
}
