package ir

// AliasDb answers the alias and ordering queries the optimization passes
// need: whether any write in the graph can reach a value through an alias,
// and whether a node can be relocated without crossing a dependency or
// mutation boundary. It is built once over a snapshot of the graph and is
// valid only until the graph is mutated; a pass builds it lazily during its
// scan and discards it after its commit phase.
type AliasDb struct {
	graph *Graph
	// Union-find over values: two values in the same set may share memory.
	parent map[*Value]*Value
	// Alias sets (by representative) that some node writes into.
	written map[*Value]bool
}

// View kinds produce an output aliasing their first input. List
// construction is treated as containment: the list may alias every element.
// Write kinds mutate their first input in place.

// NewAliasDb builds the alias facts for the graph's current shape.
func NewAliasDb(g *Graph) *AliasDb {
	db := &AliasDb{
		graph:   g,
		parent:  make(map[*Value]*Value),
		written: make(map[*Value]bool),
	}
	// Aliasing must be fully known before any write is recorded, so the
	// write sweep runs only after the alias sweep has seen every block.
	db.collectAliases(g.block)
	db.collectWrites(g.block)
	return db
}

func (db *AliasDb) collectAliases(b *Block) {
	for n := b.First(); n != nil; n = n.NextNode() {
		switch n.kind {
		case AtenSlice:
			db.union(n.Output(), n.Input(0))
		case PrimListConstruct:
			for _, in := range n.inputs {
				db.union(n.Output(), in)
			}
		case AtenCopy, AtenAppend:
			// In-place ops return their mutated first argument.
			db.union(n.Output(), n.Input(0))
		}
		for _, nested := range n.blocks {
			db.collectAliases(nested)
		}
	}
}

func (db *AliasDb) collectWrites(b *Block) {
	for n := b.First(); n != nil; n = n.NextNode() {
		for _, w := range nodeWrites(n) {
			db.written[db.find(w)] = true
		}
		for _, nested := range n.blocks {
			db.collectWrites(nested)
		}
	}
}

func nodeWrites(n *Node) []*Value {
	switch n.kind {
	case AtenCopy, AtenAppend:
		return n.inputs[:1]
	}
	return nil
}

// HasWriters reports whether any node in the graph writes to v or to a
// value that may alias v.
func (db *AliasDb) HasWriters(v *Value) bool {
	return db.written[db.find(v)]
}

// DominatesNode reports whether a dominates b.
func (db *AliasDb) DominatesNode(a, b *Node) bool {
	return b.IsDominatedBy(a)
}

// CouldMoveBeforeTopologically reports whether n could be relocated to the
// position immediately before movePoint without breaking a data dependency
// or reordering against a write to memory n touches. Both nodes must be in
// the same block and n must currently precede movePoint.
func (db *AliasDb) CouldMoveBeforeTopologically(n, movePoint *Node) bool {
	if n.owningBlock == nil || movePoint.owningBlock == nil || n.owningBlock != movePoint.owningBlock {
		return false
	}
	if n == movePoint || !n.IsBefore(movePoint) {
		return false
	}
	for between := n.NextNode(); between != nil && between != movePoint; between = between.NextNode() {
		if db.moveConflict(n, between) {
			return false
		}
	}
	return true
}

// moveConflict reports whether relocating n past between would break a
// dependency or reorder against a write, looking through between's nested
// blocks as well.
func (db *AliasDb) moveConflict(n, between *Node) bool {
	// A consumer of n's outputs would end up before its producer.
	for _, in := range between.inputs {
		for _, out := range n.outputs {
			if in == out {
				return true
			}
		}
	}
	// A write between the two positions that touches memory n reads or
	// produces would be reordered against n.
	for _, w := range nodeWrites(between) {
		if db.touches(n, w) {
			return true
		}
	}
	// Symmetrically, n's own writes must not jump over a reader or writer
	// of the same memory.
	for _, w := range nodeWrites(n) {
		if db.touches(between, w) {
			return true
		}
	}
	for _, nested := range between.blocks {
		for m := nested.First(); m != nil; m = m.NextNode() {
			if db.moveConflict(n, m) {
				return true
			}
		}
	}
	return false
}

// touches reports whether node n reads or produces a value aliasing w.
func (db *AliasDb) touches(n *Node, w *Value) bool {
	rep := db.find(w)
	for _, in := range n.inputs {
		if db.find(in) == rep {
			return true
		}
	}
	for _, out := range n.outputs {
		if db.find(out) == rep {
			return true
		}
	}
	return false
}

func (db *AliasDb) find(v *Value) *Value {
	p, ok := db.parent[v]
	if !ok || p == v {
		return v
	}
	root := db.find(p)
	db.parent[v] = root
	return root
}

func (db *AliasDb) union(a, b *Value) {
	ra, rb := db.find(a), db.find(b)
	if ra != rb {
		db.parent[ra] = rb
	}
}
