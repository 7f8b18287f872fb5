// Package passes contains graph-rewriting optimizations over the jit IR.
// Every pass follows the same collect-then-commit discipline: one read-only
// traversal of the graph (recursing into nested blocks) collects the
// rewrites to perform, and only after the traversal completes are they
// applied, so that no decision is invalidated by graph mutation mid-scan.
package passes

import (
	"slices"

	"github.com/HarutMov/pytorch/torch/csrc/jit/ir"
	"github.com/HarutMov/pytorch/torch/csrc/jit/jitlog"
)

// removeCatNodeFromGraph destroys an aten::cat node and, when this orphans
// its list input, the list-construction node as well.
func removeCatNodeFromGraph(n *ir.Node) {
	if n.Kind() != ir.AtenCat {
		panic("expected an aten::cat node, got " + string(n.Kind()))
	}
	inpList := n.Input(0)
	jitlog.GraphUpdate("Deleting", n)
	n.Destroy()
	if !inpList.HasUses() && inpList.Node() != nil {
		jitlog.GraphUpdate("Deleting", inpList.Node())
		inpList.Node().Destroy()
	}
}

// concatCommonInputsEliminator rewrites a prim::Concat whose operand list
// repeats a dominating earlier concat's full operand list as a prefix or
// suffix, so the later concat reuses the earlier result instead of
// recomputing it.
type concatCommonInputsEliminator struct {
	graph   *ir.Graph
	aliasDb *ir.AliasDb

	// Previously visited concats usable as reuse sources, in program
	// order so that rewrites are deterministic under multiple matches.
	concatedOutputs []*ir.Node

	concatsToReplace map[*ir.Node]*ir.Node
	replaceOrder     []*ir.Node
}

func newConcatCommonInputsEliminator(graph *ir.Graph) *concatCommonInputsEliminator {
	return &concatCommonInputsEliminator{
		graph:            graph,
		concatsToReplace: make(map[*ir.Node]*ir.Node),
	}
}

func (e *concatCommonInputsEliminator) run() bool {
	e.handleBlock(e.graph.Block())
	return e.postprocess()
}

func (e *concatCommonInputsEliminator) handleBlock(block *ir.Block) {
	for _, node := range block.Nodes() {
		if node.Kind() == ir.PrimConcat {
			e.handleConcat(node)
		}
		for _, nested := range node.Blocks() {
			e.handleBlock(nested)
		}
	}
}

func (e *concatCommonInputsEliminator) handleConcat(node *ir.Node) {
	jitlog.GraphDebug("Considering concat node for CSE opt:", node)

	allInputs := node.Inputs()
	tensorInputs := allInputs[:len(allInputs)-1]
	dim := allInputs[len(allInputs)-1]

	// Save this concat so subsequent concats can reuse it, unless its
	// output is written to somewhere in the graph. A written-to output
	// does not represent the concatenated list beyond the writes, and no
	// finer-grained analysis is attempted.
	if !e.getOrCreateAliasDb().HasWriters(node.Output()) {
		e.concatedOutputs = append(e.concatedOutputs, node)
	}

	if len(tensorInputs) <= 2 {
		// A concat of 2 tensors can only be optimized against another
		// concat of the exact same 2 tensors, which generic CSE handles.
		return
	}

	// Check whether the first N-1 tensor inputs appeared in a previous
	// concat.
	//
	// Example:
	//    %11 = prim::Concat(%0, %1, <dim>)
	//    ...
	//    %13 = prim::Concat(%0, %1, %2, <dim>) // first 2 inputs same as %11
	//
	// After the rewrite:
	//    %11 = prim::Concat(%0, %1, <dim>)
	//    ...
	//    %14 = prim::Concat(%11, %2, <dim>)    // reuse %11
	prefix := tensorInputs[:len(tensorInputs)-1]
	for _, prev := range e.concatedOutputs {
		if !matchesConcatOperands(prev, prefix, dim) {
			continue
		}
		if !node.IsDominatedBy(prev) {
			// The previous concatenated output cannot be read at this
			// node's position.
			continue
		}
		e.planReplacement(node, prev.Output(), tensorInputs[len(tensorInputs)-1], dim)
		return
	}

	// Check whether the last N-1 tensor inputs appeared in a previous
	// concat, the mirrored form of the prefix case.
	suffix := tensorInputs[1:]
	for _, prev := range e.concatedOutputs {
		if !matchesConcatOperands(prev, suffix, dim) {
			continue
		}
		if !node.IsDominatedBy(prev) {
			continue
		}
		e.planReplacement(node, tensorInputs[0], prev.Output(), dim)
		return
	}

	// Shorter shared runs (N-2 and below) are not searched for.
}

// matchesConcatOperands reports whether prev's full tensor-operand list
// equals operands and its dimension operand is dim.
func matchesConcatOperands(prev *ir.Node, operands []*ir.Value, dim *ir.Value) bool {
	prevInputs := prev.Inputs()
	prevTensorInputs := prevInputs[:len(prevInputs)-1]
	prevDim := prevInputs[len(prevInputs)-1]
	return slices.Equal(prevTensorInputs, operands) && dim == prevDim
}

func (e *concatCommonInputsEliminator) planReplacement(node *ir.Node, first, second, dim *ir.Value) {
	newConcat := e.graph.Create(ir.PrimConcat, first, second, dim)
	newConcat.Output().SetType(node.Output().Type())
	e.concatsToReplace[node] = newConcat
	e.replaceOrder = append(e.replaceOrder, node)
}

func (e *concatCommonInputsEliminator) postprocess() bool {
	// Commit in program order: a planned replacement may reference a
	// concat that is itself being replaced, and committing front to back
	// redirects such references before the referenced node is destroyed.
	changed := false
	for _, currNode := range e.replaceOrder {
		newNode := e.concatsToReplace[currNode]
		jitlog.GraphUpdate("Inserting", newNode, "before", currNode)
		newNode.InsertBefore(currNode)
		jitlog.GraphUpdate("Replacing uses of", currNode, "with", newNode)
		currNode.Output().ReplaceAllUsesWith(newNode.Output())
		jitlog.GraphUpdate("Deleting", currNode)
		currNode.Destroy()
		changed = true
	}
	return changed
}

func (e *concatCommonInputsEliminator) getOrCreateAliasDb() *ir.AliasDb {
	if e.aliasDb == nil {
		e.aliasDb = ir.NewAliasDb(e.graph)
	}
	return e.aliasDb
}

// EliminateConcatCommonInputs eliminates redundant computation in concat
// nodes that share a dominating prefix or suffix of operands with an
// earlier concat. It reports whether the graph changed.
func EliminateConcatCommonInputs(graph *ir.Graph) bool {
	jitlog.GraphDump("Before eliminating Concat common inputs", graph)
	changed := newConcatCommonInputsEliminator(graph).run()
	if changed {
		jitlog.GraphDump("After eliminating Concat common inputs", graph)
	}
	return changed
}

// concatExpander lowers an aten::cat with statically known shapes into an
// explicit output-buffer allocation plus per-operand slice views and
// copies, then fuses chained buffers.
type concatExpander struct {
	graph   *ir.Graph
	aliasDb *ir.AliasDb

	nodesToRemove   []*ir.Node
	replaceUsesWith map[*ir.Value]*ir.Value
	replaceOrder    []*ir.Value
	copiesAdded     []*ir.Node
	slicesAdded     []*ir.Node
}

func newConcatExpander(graph *ir.Graph) *concatExpander {
	return &concatExpander{
		graph:           graph,
		replaceUsesWith: make(map[*ir.Value]*ir.Value),
	}
}

func (e *concatExpander) run() {
	e.handleBlock(e.graph.Block())
	e.cleanupExpandedCatOps()
	jitlog.GraphDump("Before reusing copy buffers:", e.graph)
	e.reuseBuffersInCopies()
}

func (e *concatExpander) handleBlock(block *ir.Block) {
	for _, node := range block.Nodes() {
		if node.Kind() == ir.AtenCat {
			e.expandCat(node)
		}
		for _, nested := range node.Blocks() {
			e.handleBlock(nested)
		}
	}
}

// expandCat expands a cat node into an output buffer with one copy per
// operand.
//
// Example:
//
//	%10 = prim::ListConstruct(%2, %3)
//	%11 = aten::cat(%10, %d)
//	...
//	    = %11 ... // uses %11
//
// After expansion:
//
//	%20 = aten::empty(...)         // cat output buffer
//	%21 = aten::slice(%20, ...)    // slice for %2
//	%22 = aten::copy_(%21, %2)     // copy %2
//	%23 = aten::slice(%20, ...)    // slice for %3
//	%24 = aten::copy_(%23, %3)     // copy %3
//	...
//	    = %20 ... // uses %20 in place of %11
func (e *concatExpander) expandCat(node *ir.Node) {
	jitlog.GraphDebug("Considering cat node for expansion:", node)
	// Do not expand cat nodes whose input list is mutated anywhere in the
	// graph, not just in the region being optimized.
	if e.getOrCreateAliasDb().HasWriters(node.Input(0)) {
		return
	}
	catInpList := node.Input(0).Node()
	if catInpList == nil || catInpList.Kind() != ir.PrimListConstruct {
		// Unknown form of input to the cat op.
		return
	}
	if !allShapesAreKnown(node) {
		return
	}
	catDimValue, ok := ir.ConstantAsInt(node.Input(1))
	if !ok {
		// Can't expand when the cat dimension is not a constant.
		return
	}
	outType, ok := node.Output().Type().(*ir.TensorType)
	if !ok {
		return
	}
	if catDimValue < 0 || catDimValue >= int64(outType.Dim()) {
		return
	}
	for _, catInp := range catInpList.Inputs() {
		if !shapeIsKnown(catInp) {
			return
		}
		if inpType, ok := catInp.Type().(*ir.TensorType); !ok || catDimValue >= int64(inpType.Dim()) {
			return
		}
	}
	// TODO: handle operands whose dtype, layout, device, or memory format
	// differ; the buffer currently inherits nothing explicitly.
	catDim := node.Input(1)

	g := e.graph
	g.SetInsertPoint(node)
	defer g.ClearInsertPoint()
	none := g.InsertConstant(ir.NewNone())
	one := g.InsertConstant(ir.NewInt(1))

	// Materialize the static output shape as a literal size list.
	sizes := outType.Sizes()
	catOutSize := make([]*ir.Value, len(sizes))
	for i, s := range sizes {
		catOutSize[i] = g.InsertConstant(ir.NewInt(s))
	}
	catOutSizeList := g.Create(ir.PrimListConstruct, catOutSize...)
	catOutSizeList.Output().SetType(ir.NewListType(ir.NewIntType()))
	catOutSizeList.InsertBefore(node)

	// Allocate an uninitialized buffer of the output size.
	catOutEmpty := g.Create(ir.AtenEmpty,
		catOutSizeList.Output(), none, none, none, none, none)
	catOutEmpty.Output().SetType(node.Output().Type())
	jitlog.GraphUpdate("Inserting", catOutEmpty, "before", node)
	catOutEmpty.InsertBefore(node)

	// For each operand, slice its destination range out of the buffer and
	// copy the operand into the slice. The ranges partition
	// [0, total_extent) along the cat dimension in operand order.
	catOutValue := catOutEmpty.Output()
	startIdx := int64(0)
	start := g.InsertConstant(ir.NewInt(startIdx))
	for _, catInp := range catInpList.Inputs() {
		inpType := catInp.Type().(*ir.TensorType)
		endIdx := startIdx + inpType.Sizes()[catDimValue]
		end := g.InsertConstant(ir.NewInt(endIdx))

		slice := g.Create(ir.AtenSlice, catOutValue, catDim, start, end, one)
		slice.Output().SetType(catInp.Type())
		jitlog.GraphUpdate("Inserting", slice, "before", node)
		slice.InsertBefore(node)
		e.slicesAdded = append(e.slicesAdded, slice)

		copyNode := g.Create(ir.AtenCopy, slice.Output(), catInp)
		copyNode.Output().SetType(catInp.Type())
		jitlog.GraphUpdate("Inserting", copyNode, "before", node)
		copyNode.InsertBefore(node)
		e.copiesAdded = append(e.copiesAdded, copyNode)

		startIdx = endIdx
		start = end
	}

	if _, planned := e.replaceUsesWith[node.Output()]; !planned {
		e.replaceOrder = append(e.replaceOrder, node.Output())
	}
	e.replaceUsesWith[node.Output()] = catOutValue
	e.nodesToRemove = append(e.nodesToRemove, node)
}

func shapeIsKnown(v *ir.Value) bool {
	if v.Type() == nil {
		return false
	}
	if t, ok := v.Type().(*ir.TensorType); ok {
		return t.IsComplete()
	}
	return true
}

func allShapesAreKnown(node *ir.Node) bool {
	for _, input := range node.Inputs() {
		if !shapeIsKnown(input) {
			return false
		}
	}
	for _, output := range node.Outputs() {
		if !shapeIsKnown(output) {
			return false
		}
	}
	return true
}

func (e *concatExpander) cleanupExpandedCatOps() {
	for _, v := range e.replaceOrder {
		replacement := e.replaceUsesWith[v]
		jitlog.GraphUpdate("Replacing uses of", v.Node(), "with", replacement.Node())
		v.ReplaceAllUsesWith(replacement)
	}
	for _, n := range e.nodesToRemove {
		removeCatNodeFromGraph(n)
	}
}

// moveBefore relocates node to just before the given position, first
// relocating everything node depends on so ordering stays valid. The
// dependency closure can reach shared sub-inputs, hence the visited guard.
func (e *concatExpander) moveBefore(node, before *ir.Node) {
	e.moveBeforeRec(node, before, make(map[*ir.Node]bool))
}

func (e *concatExpander) moveBeforeRec(node, before *ir.Node, visited map[*ir.Node]bool) {
	if visited[node] {
		return
	}
	visited[node] = true
	for _, inp := range node.Inputs() {
		if inp.Node() != nil {
			e.moveBeforeRec(inp.Node(), before, visited)
		}
	}
	node.MoveBefore(before)
}

// reuseBuffersInCopies fuses the buffers of chained concats. When a copy
// written during expansion has another expansion's buffer as its source,
// the entire inner concat result was only feeding this one, so the inner
// buffer can become a slice view of the outer one.
//
// Example, after expanding two chained cats:
//
//	%20 = aten::empty(...)          // cat.1 output buffer
//	%21 = aten::slice(%20, ...)
//	%22 = aten::copy_(%21, %2)
//	%23 = aten::slice(%20, ...)
//	%24 = aten::copy_(%23, %3)
//	...
//	%30 = aten::empty(...)          // cat.2 output buffer
//	%31 = aten::slice(%30, ...)
//	%32 = aten::copy_(%31, %20)     // source is a buffer: reuse it
//	%33 = aten::slice(%30, ...)
//	%34 = aten::copy_(%33, %4)
//
// After reuse:
//
//	%30 = aten::empty(...)          // cat.2 output buffer
//	%31 = aten::slice(%30, ...)     // moved, with its inputs, before %20
//	%21 = aten::slice(%31, ...)     // %31 in place of %20
//	%22 = aten::copy_(%21, %2)
//	%23 = aten::slice(%31, ...)     // %31 in place of %20
//	%24 = aten::copy_(%23, %3)
//	...
//	...                             // copy into %31 is gone
//	%33 = aten::slice(%30, ...)
//	%34 = aten::copy_(%33, %4)
func (e *concatExpander) reuseBuffersInCopies() {
	for _, copyNode := range e.copiesAdded {
		src := copyNode.Input(1)
		dst := copyNode.Input(0)
		if src.Node() == nil || src.Node().Kind() != ir.AtenEmpty {
			continue
		}
		srcNode := src.Node()

		jitlog.GraphUpdate("Moving", dst.Node(), "before", srcNode)
		e.moveBefore(dst.Node(), srcNode)

		jitlog.GraphUpdate("Replacing", srcNode, "with", dst.Node())
		src.ReplaceAllUsesWith(dst)

		jitlog.GraphUpdate("Deleting", srcNode)
		srcNode.Destroy()

		jitlog.GraphUpdate("Deleting", copyNode)
		copyNode.Destroy()
	}
}

func (e *concatExpander) getOrCreateAliasDb() *ir.AliasDb {
	if e.aliasDb == nil {
		e.aliasDb = ir.NewAliasDb(e.graph)
	}
	return e.aliasDb
}

// ExpandConcatAndEliminateRedundancy expands every eligible aten::cat into
// buffer allocation plus per-operand copies and fuses chained buffers.
// Ineligible nodes are silently left untouched; progress is reported only
// through logging.
func ExpandConcatAndEliminateRedundancy(graph *ir.Graph) {
	newConcatExpander(graph).run()
	jitlog.GraphDump("After expanding Concat and eliminating redundancy", graph)
}

// variadicCatUpdater folds aten::cat(prim::ListConstruct(a, b, ...), dim)
// into prim::Concat(a, b, ..., dim), eliminating the intermediate list
// value so later passes observe a flat, alias-free operand sequence.
type variadicCatUpdater struct {
	graph   *ir.Graph
	aliasDb *ir.AliasDb

	catNodes []*ir.Node
}

func newVariadicCatUpdater(graph *ir.Graph) *variadicCatUpdater {
	return &variadicCatUpdater{graph: graph}
}

func (u *variadicCatUpdater) run() bool {
	u.collectCatNodes(u.graph.Block())
	changed := false
	for _, c := range u.catNodes {
		if u.replaceWithVariadicCat(c) {
			changed = true
		}
	}
	return changed
}

func (u *variadicCatUpdater) collectCatNodes(block *ir.Block) {
	for _, node := range block.Nodes() {
		if node.Kind() == ir.AtenCat {
			u.catNodes = append(u.catNodes, node)
		}
		for _, nested := range node.Blocks() {
			u.collectCatNodes(nested)
		}
	}
}

func (u *variadicCatUpdater) replaceWithVariadicCat(cat *ir.Node) bool {
	listNode := cat.Input(0).Node()
	if listNode == nil || listNode.Kind() != ir.PrimListConstruct {
		return false
	}
	// A list that cannot be moved to the position right before the cat is
	// mutated somewhere between its construction and its use.
	if !u.getOrCreateAliasDb().CouldMoveBeforeTopologically(listNode, cat) {
		return false
	}
	inputs := append([]*ir.Value(nil), listNode.Inputs()...)
	inputs = append(inputs, cat.Input(1))
	varCat := u.graph.Create(ir.PrimConcat, inputs...)
	varCat.Output().SetType(cat.Output().Type())
	jitlog.GraphUpdate("Adding", varCat)
	varCat.InsertBefore(cat)
	jitlog.GraphUpdate("Replacing", cat, "with", varCat)
	cat.Output().ReplaceAllUsesWith(varCat.Output())
	jitlog.GraphUpdate("Deleting", cat)
	cat.Destroy()
	if !listNode.Output().HasUses() {
		jitlog.GraphUpdate("Deleting", listNode)
		listNode.Destroy()
	}
	return true
}

func (u *variadicCatUpdater) getOrCreateAliasDb() *ir.AliasDb {
	if u.aliasDb == nil {
		u.aliasDb = ir.NewAliasDb(u.graph)
	}
	return u.aliasDb
}

// UseVariadicCat folds every eligible list-based aten::cat into a variadic
// prim::Concat. It reports whether the graph changed.
func UseVariadicCat(graph *ir.Graph) bool {
	jitlog.GraphDump("Before VariadicCat", graph)
	changed := newVariadicCatUpdater(graph).run()
	if changed {
		jitlog.GraphDump("After VariadicCat", graph)
	}
	return changed
}

// Every fold or mutation removal strictly simplifies the graph, so the
// fixpoint below terminates; the cap only guards against a corrupted graph.
const maxFixpointIterations = 1000

// RemoveListMutationAndUseVariadicCat alternates list-mutation removal and
// variadic-cat folding until neither makes progress. Mutation removal runs
// first within each iteration because it can unblock folds that folding
// alone cannot reach. It reports whether anything changed overall.
func RemoveListMutationAndUseVariadicCat(graph *ir.Graph) bool {
	changed := false
	for i := 0; ; i++ {
		if i == maxFixpointIterations {
			panic("RemoveListMutationAndUseVariadicCat failed to converge")
		}
		changedInIter := RemoveListMutation(graph)
		if UseVariadicCat(graph) {
			changedInIter = true
		}
		if !changedInIter {
			break
		}
		changed = true
	}
	return changed
}
