package passes

import (
	"github.com/HarutMov/pytorch/torch/csrc/jit/ir"
	"github.com/HarutMov/pytorch/torch/csrc/jit/jitlog"
)

// listMutationRemover folds aten::append calls on a freshly constructed
// list back into the prim::ListConstruct operand list, removing the
// in-place mutation:
//
//	%l = prim::ListConstruct(%a)
//	%l2 = aten::append(%l, %b)
//	%c = aten::cat(%l, %d)
//
// becomes
//
//	%l = prim::ListConstruct(%a, %b)
//	%c = aten::cat(%l, %d)
//
// The fold is legal only when no node observes the list between its
// construction and the append; such an observer would see the shorter
// list. The construct node is relocated to just before the append so that
// the appended value's producer stays ahead of it.
type listMutationRemover struct {
	graph *ir.Graph

	appendNodes []*ir.Node
	eligible    []*ir.Node
}

func newListMutationRemover(graph *ir.Graph) *listMutationRemover {
	return &listMutationRemover{graph: graph}
}

func (r *listMutationRemover) run() bool {
	r.collectAppendNodes(r.graph.Block())
	for _, n := range r.appendNodes {
		if r.canRemoveAppend(n) {
			r.eligible = append(r.eligible, n)
		}
	}
	changed := false
	for _, n := range r.eligible {
		r.removeAppend(n)
		changed = true
	}
	return changed
}

func (r *listMutationRemover) collectAppendNodes(block *ir.Block) {
	for _, node := range block.Nodes() {
		if node.Kind() == ir.AtenAppend {
			r.appendNodes = append(r.appendNodes, node)
		}
		for _, nested := range node.Blocks() {
			r.collectAppendNodes(nested)
		}
	}
}

func (r *listMutationRemover) canRemoveAppend(n *ir.Node) bool {
	list := n.Input(0)
	listNode := list.Node()
	if listNode == nil || listNode.Kind() != ir.PrimListConstruct {
		return false
	}
	if listNode.OwningBlock() != n.OwningBlock() {
		return false
	}
	for _, u := range list.Uses() {
		if u.User == n {
			continue
		}
		if u.User.OwningBlock() != n.OwningBlock() {
			// A use in another block may or may not observe the shorter
			// list; skip conservatively.
			return false
		}
		if u.User.IsBefore(n) {
			return false
		}
	}
	return true
}

func (r *listMutationRemover) removeAppend(n *ir.Node) {
	list := n.Input(0)
	listNode := list.Node()
	jitlog.GraphUpdate("Folding", n, "into", listNode)
	listNode.MoveBefore(n)
	listNode.AddInput(n.Input(1))
	// aten::append returns the mutated list itself.
	n.Output().ReplaceAllUsesWith(list)
	jitlog.GraphUpdate("Deleting", n)
	n.Destroy()
}

// RemoveListMutation removes in-place list mutations that follow a literal
// list construction by folding the mutated element into the construction.
// It reports whether the graph changed.
func RemoveListMutation(graph *ir.Graph) bool {
	jitlog.GraphDump("Before removing list mutation", graph)
	changed := newListMutationRemover(graph).run()
	if changed {
		jitlog.GraphDump("After removing list mutation", graph)
	}
	return changed
}
