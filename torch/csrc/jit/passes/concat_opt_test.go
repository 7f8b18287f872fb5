package passes_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/HarutMov/pytorch/torch/csrc/jit/ir"
	"github.com/HarutMov/pytorch/torch/csrc/jit/passes"
)

const kindSink = ir.Symbol("aten::relu")

func tensorInput(g *ir.Graph, sizes ...int64) *ir.Value {
	v := g.AddInput()
	if sizes == nil {
		v.SetType(ir.NewTensorType())
	} else {
		v.SetType(ir.NewCompleteTensorType(sizes...))
	}
	return v
}

// variadicConcat appends a prim::Concat(tensors..., dim) node to the graph.
func variadicConcat(g *ir.Graph, dim *ir.Value, out ir.Type, tensors ...*ir.Value) *ir.Node {
	inputs := append([]*ir.Value(nil), tensors...)
	inputs = append(inputs, dim)
	n := g.Create(ir.PrimConcat, inputs...)
	n.Output().SetType(out)
	return g.Block().Push(n)
}

// listCat appends prim::ListConstruct(tensors...) and aten::cat(list, dim)
// nodes to the graph and returns both.
func listCat(g *ir.Graph, dim *ir.Value, out ir.Type, tensors ...*ir.Value) (list, cat *ir.Node) {
	list = g.Create(ir.PrimListConstruct, tensors...)
	list.Output().SetType(ir.NewListType(ir.NewTensorType()))
	g.Block().Push(list)
	cat = g.Create(ir.AtenCat, list.Output(), dim)
	cat.Output().SetType(out)
	g.Block().Push(cat)
	return list, cat
}

// sink appends a consumer node so pass results can be observed through its
// input.
func sink(g *ir.Graph, v *ir.Value) *ir.Node {
	n := g.Create(kindSink, v)
	n.Output().SetType(v.Type())
	return g.Block().Push(n)
}

func findNodes(b *ir.Block, kind ir.Symbol) []*ir.Node {
	var found []*ir.Node
	for _, n := range b.Nodes() {
		if n.Kind() == kind {
			found = append(found, n)
		}
		for _, nested := range n.Blocks() {
			found = append(found, findNodes(nested, kind)...)
		}
	}
	return found
}

func countNodes(b *ir.Block, kind ir.Symbol) int {
	return len(findNodes(b, kind))
}

func sameValues(got, want []*ir.Value) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestEliminateConcatCommonInputs(t *testing.T) {
	t.Run("prefix match reuses the earlier concat", func(t *testing.T) {
		g := ir.NewGraph()
		a, b, c, d := tensorInput(g), tensorInput(g), tensorInput(g), tensorInput(g)
		dim := g.InsertConstant(ir.NewInt(0))
		x := variadicConcat(g, dim, ir.NewTensorType(), a, b, c)
		y := variadicConcat(g, dim, ir.NewTensorType(), a, b, c, d)
		use := sink(g, y.Output())

		if !passes.EliminateConcatCommonInputs(g) {
			t.Fatal("expected the pass to report a change")
		}
		rewritten := use.Input(0).Node()
		if rewritten.Kind() != ir.PrimConcat {
			t.Fatalf("expected sink to consume a concat, got %v", rewritten)
		}
		if !sameValues(rewritten.Inputs(), []*ir.Value{x.Output(), d, dim}) {
			t.Errorf("expected rewritten concat to be (x, d, dim), got %v", rewritten)
		}
		if x.OwningBlock() == nil {
			t.Errorf("the reuse source must stay in the graph")
		}
		if y.OwningBlock() != nil {
			t.Errorf("the rewritten concat must be destroyed")
		}
	})

	t.Run("suffix match reuses the earlier concat", func(t *testing.T) {
		g := ir.NewGraph()
		a, b, c, z := tensorInput(g), tensorInput(g), tensorInput(g), tensorInput(g)
		dim := g.InsertConstant(ir.NewInt(0))
		x := variadicConcat(g, dim, ir.NewTensorType(), a, b, c)
		y := variadicConcat(g, dim, ir.NewTensorType(), z, a, b, c)
		use := sink(g, y.Output())

		if !passes.EliminateConcatCommonInputs(g) {
			t.Fatal("expected the pass to report a change")
		}
		rewritten := use.Input(0).Node()
		if !sameValues(rewritten.Inputs(), []*ir.Value{z, x.Output(), dim}) {
			t.Errorf("expected rewritten concat to be (z, x, dim), got %v", rewritten)
		}
	})

	t.Run("two-operand concats are never rewritten", func(t *testing.T) {
		g := ir.NewGraph()
		a, b := tensorInput(g), tensorInput(g)
		dim := g.InsertConstant(ir.NewInt(0))
		variadicConcat(g, dim, ir.NewTensorType(), a, b)
		y := variadicConcat(g, dim, ir.NewTensorType(), a, b)
		sink(g, y.Output())

		if passes.EliminateConcatCommonInputs(g) {
			t.Errorf("identical 2-operand concats are left to generic CSE")
		}
	})

	t.Run("different dimension values do not match", func(t *testing.T) {
		g := ir.NewGraph()
		a, b, c, d := tensorInput(g), tensorInput(g), tensorInput(g), tensorInput(g)
		dim0 := g.InsertConstant(ir.NewInt(0))
		dim1 := g.InsertConstant(ir.NewInt(1))
		variadicConcat(g, dim0, ir.NewTensorType(), a, b, c)
		y := variadicConcat(g, dim1, ir.NewTensorType(), a, b, c, d)
		sink(g, y.Output())

		if passes.EliminateConcatCommonInputs(g) {
			t.Errorf("concats along different dimensions must not be merged")
		}
	})

	t.Run("non-dominating candidate is skipped", func(t *testing.T) {
		g := ir.NewGraph()
		a, b, c, d := tensorInput(g), tensorInput(g), tensorInput(g), tensorInput(g)
		cond := g.AddInput()
		dim := g.InsertConstant(ir.NewInt(0))
		// The candidate lives inside a conditional block before the
		// current concat, so it is visited first but never dominates.
		ifNode := g.Block().Push(g.Create(ir.PrimIf, cond))
		x := g.Create(ir.PrimConcat, a, b, c, dim)
		x.Output().SetType(ir.NewTensorType())
		ifNode.AddBlock().Push(x)
		y := variadicConcat(g, dim, ir.NewTensorType(), a, b, c, d)
		sink(g, y.Output())

		if passes.EliminateConcatCommonInputs(g) {
			t.Errorf("a non-dominating candidate must never be used")
		}
		if y.OwningBlock() == nil {
			t.Errorf("the concat must be left as-is")
		}
	})

	t.Run("alias-written candidate is not a reuse source", func(t *testing.T) {
		g := ir.NewGraph()
		a, b, c, d, w := tensorInput(g), tensorInput(g), tensorInput(g), tensorInput(g), tensorInput(g)
		dim := g.InsertConstant(ir.NewInt(0))
		x := variadicConcat(g, dim, ir.NewTensorType(), a, b, c)
		g.Block().Push(g.Create(ir.AtenCopy, x.Output(), w))
		y := variadicConcat(g, dim, ir.NewTensorType(), a, b, c, d)
		sink(g, y.Output())

		if passes.EliminateConcatCommonInputs(g) {
			t.Errorf("a written-to concat output must not be reused")
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		g := ir.NewGraph()
		a, b, c, d := tensorInput(g), tensorInput(g), tensorInput(g), tensorInput(g)
		dim := g.InsertConstant(ir.NewInt(0))
		variadicConcat(g, dim, ir.NewTensorType(), a, b, c)
		y := variadicConcat(g, dim, ir.NewTensorType(), a, b, c, d)
		sink(g, y.Output())

		if !passes.EliminateConcatCommonInputs(g) {
			t.Fatal("expected the first run to change the graph")
		}
		if passes.EliminateConcatCommonInputs(g) {
			t.Errorf("expected the second run to be a no-op")
		}
	})
}

// sliceRange reads the constant [start, end) bounds of an aten::slice node.
func sliceRange(t *testing.T, slice *ir.Node) [2]int64 {
	t.Helper()
	start, ok := ir.ConstantAsInt(slice.Input(2))
	if !ok {
		t.Fatalf("slice start is not a constant: %v", slice)
	}
	end, ok := ir.ConstantAsInt(slice.Input(3))
	if !ok {
		t.Fatalf("slice end is not a constant: %v", slice)
	}
	return [2]int64{start, end}
}

func TestExpandConcat(t *testing.T) {
	t.Run("expansion partitions the output buffer", func(t *testing.T) {
		g := ir.NewGraph()
		a := tensorInput(g, 2, 3)
		b := tensorInput(g, 4, 3)
		dim := g.InsertConstant(ir.NewInt(0))
		list, cat := listCat(g, dim, ir.NewCompleteTensorType(6, 3), a, b)
		use := sink(g, cat.Output())

		passes.ExpandConcatAndEliminateRedundancy(g)

		buf := use.Input(0).Node()
		if buf == nil || buf.Kind() != ir.AtenEmpty {
			t.Fatalf("expected sink to consume the output buffer, got %v", use.Input(0))
		}
		sizeList := buf.Input(0).Node()
		if sizeList.Kind() != ir.PrimListConstruct {
			t.Fatalf("expected a literal size list, got %v", sizeList)
		}
		var gotSizes []int64
		for _, in := range sizeList.Inputs() {
			s, ok := ir.ConstantAsInt(in)
			if !ok {
				t.Fatalf("size entry is not a constant: %v", in)
			}
			gotSizes = append(gotSizes, s)
		}
		if diff := cmp.Diff([]int64{6, 3}, gotSizes); diff != "" {
			t.Errorf("buffer size mismatch (-want +got):\n%s", diff)
		}

		slices := findNodes(g.Block(), ir.AtenSlice)
		var ranges [][2]int64
		for _, s := range slices {
			if s.Input(0) != buf.Output() {
				t.Errorf("expected every slice to view the output buffer")
			}
			ranges = append(ranges, sliceRange(t, s))
		}
		if diff := cmp.Diff([][2]int64{{0, 2}, {2, 6}}, ranges); diff != "" {
			t.Errorf("slice ranges must partition [0, 6) (-want +got):\n%s", diff)
		}

		copies := findNodes(g.Block(), ir.AtenCopy)
		if len(copies) != 2 {
			t.Fatalf("expected one copy per operand, got %d", len(copies))
		}
		if copies[0].Input(1) != a || copies[1].Input(1) != b {
			t.Errorf("copies must read the operands in original order")
		}

		if cat.OwningBlock() != nil || list.OwningBlock() != nil {
			t.Errorf("the cat and its operand list must be destroyed")
		}
	})

	t.Run("skips are silent and leave the node untouched", func(t *testing.T) {
		cases := []struct {
			name  string
			build func(g *ir.Graph) *ir.Node
		}{
			{
				name: "non-constant dimension",
				build: func(g *ir.Graph) *ir.Node {
					a, b := tensorInput(g, 2, 3), tensorInput(g, 4, 3)
					dim := g.AddInput().SetType(ir.NewIntType())
					_, cat := listCat(g, dim, ir.NewCompleteTensorType(6, 3), a, b)
					return cat
				},
			},
			{
				name: "unknown operand shape",
				build: func(g *ir.Graph) *ir.Node {
					a, b := tensorInput(g, 2, 3), tensorInput(g)
					dim := g.InsertConstant(ir.NewInt(0))
					_, cat := listCat(g, dim, ir.NewCompleteTensorType(6, 3), a, b)
					return cat
				},
			},
			{
				name: "zero-dimensional operand",
				build: func(g *ir.Graph) *ir.Node {
					a := tensorInput(g, 2, 3)
					b := g.AddInput().SetType(ir.NewCompleteTensorType())
					dim := g.InsertConstant(ir.NewInt(0))
					_, cat := listCat(g, dim, ir.NewCompleteTensorType(6, 3), a, b)
					return cat
				},
			},
			{
				name: "unknown output shape",
				build: func(g *ir.Graph) *ir.Node {
					a, b := tensorInput(g, 2, 3), tensorInput(g, 4, 3)
					dim := g.InsertConstant(ir.NewInt(0))
					_, cat := listCat(g, dim, ir.NewTensorType(), a, b)
					return cat
				},
			},
			{
				name: "alias-written operand list",
				build: func(g *ir.Graph) *ir.Node {
					a, b, c := tensorInput(g, 2, 3), tensorInput(g, 4, 3), tensorInput(g, 1, 3)
					dim := g.InsertConstant(ir.NewInt(0))
					list, cat := listCat(g, dim, ir.NewCompleteTensorType(6, 3), a, b)
					g.Block().Push(g.Create(ir.AtenAppend, list.Output(), c))
					return cat
				},
			},
			{
				name: "list from an unknown computation",
				build: func(g *ir.Graph) *ir.Node {
					list := g.AddInput().SetType(ir.NewListType(ir.NewTensorType()))
					dim := g.InsertConstant(ir.NewInt(0))
					cat := g.Create(ir.AtenCat, list, dim)
					cat.Output().SetType(ir.NewCompleteTensorType(6, 3))
					return g.Block().Push(cat)
				},
			},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				g := ir.NewGraph()
				cat := tc.build(g)
				sink(g, cat.Output())

				passes.ExpandConcatAndEliminateRedundancy(g)

				if cat.OwningBlock() == nil {
					t.Fatalf("ineligible cat must be left in the graph")
				}
				if n := countNodes(g.Block(), ir.AtenEmpty); n != 0 {
					t.Errorf("no buffer must be allocated, found %d", n)
				}
			})
		}
	})

	t.Run("chained concats share one buffer", func(t *testing.T) {
		g := ir.NewGraph()
		a := tensorInput(g, 2, 3)
		b := tensorInput(g, 2, 3)
		c := tensorInput(g, 1, 3)
		d := tensorInput(g, 2, 3)
		dim := g.InsertConstant(ir.NewInt(0))
		_, cat1 := listCat(g, dim, ir.NewCompleteTensorType(4, 3), a, b)
		_, cat2 := listCat(g, dim, ir.NewCompleteTensorType(5, 3), cat1.Output(), c)
		_, cat3 := listCat(g, dim, ir.NewCompleteTensorType(7, 3), cat2.Output(), d)
		use := sink(g, cat3.Output())

		passes.ExpandConcatAndEliminateRedundancy(g)

		if n := countNodes(g.Block(), ir.AtenEmpty); n != 1 {
			t.Fatalf("chained concats must share one physical buffer, found %d", n)
		}
		if n := countNodes(g.Block(), ir.AtenCopy); n != 4 {
			t.Errorf("buffer-to-buffer copies must be removed, found %d copies", n)
		}
		if use.Input(0).Node().Kind() != ir.AtenEmpty {
			t.Errorf("the final consumer must read the shared buffer")
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		g := ir.NewGraph()
		a := tensorInput(g, 2, 3)
		b := tensorInput(g, 4, 3)
		dim := g.InsertConstant(ir.NewInt(0))
		_, cat := listCat(g, dim, ir.NewCompleteTensorType(6, 3), a, b)
		sink(g, cat.Output())

		passes.ExpandConcatAndEliminateRedundancy(g)
		before := len(g.Block().Nodes())
		passes.ExpandConcatAndEliminateRedundancy(g)
		if after := len(g.Block().Nodes()); after != before {
			t.Errorf("second run must not change the graph: %d -> %d nodes", before, after)
		}
	})
}

func TestUseVariadicCat(t *testing.T) {
	t.Run("folds a literal list into a variadic concat", func(t *testing.T) {
		g := ir.NewGraph()
		a, b, c := tensorInput(g), tensorInput(g), tensorInput(g)
		dim := g.InsertConstant(ir.NewInt(0))
		list, cat := listCat(g, dim, ir.NewTensorType(), a, b, c)
		use := sink(g, cat.Output())

		if !passes.UseVariadicCat(g) {
			t.Fatal("expected the fold to report a change")
		}
		folded := use.Input(0).Node()
		if folded.Kind() != ir.PrimConcat {
			t.Fatalf("expected a variadic concat, got %v", folded)
		}
		if !sameValues(folded.Inputs(), []*ir.Value{a, b, c, dim}) {
			t.Errorf("folded operands must be (a, b, c, dim) in order, got %v", folded)
		}
		if cat.OwningBlock() != nil || list.OwningBlock() != nil {
			t.Errorf("the cat and its orphaned list must be destroyed")
		}
	})

	t.Run("keeps a list that still has other uses", func(t *testing.T) {
		g := ir.NewGraph()
		a, b := tensorInput(g), tensorInput(g)
		dim := g.InsertConstant(ir.NewInt(0))
		list, _ := listCat(g, dim, ir.NewTensorType(), a, b)
		g.Block().Push(g.Create(ir.Symbol("aten::len"), list.Output()))

		if !passes.UseVariadicCat(g) {
			t.Fatal("expected the fold to report a change")
		}
		if list.OwningBlock() == nil {
			t.Errorf("a list with remaining uses must not be destroyed")
		}
	})

	t.Run("skips a non-literal list input", func(t *testing.T) {
		g := ir.NewGraph()
		list := g.AddInput().SetType(ir.NewListType(ir.NewTensorType()))
		dim := g.InsertConstant(ir.NewInt(0))
		cat := g.Block().Push(g.Create(ir.AtenCat, list, dim))
		cat.Output().SetType(ir.NewTensorType())
		sink(g, cat.Output())

		if passes.UseVariadicCat(g) {
			t.Errorf("a cat over a non-literal list must not be folded")
		}
	})

	t.Run("skips a list mutated before the cat", func(t *testing.T) {
		g := ir.NewGraph()
		a, b, x := tensorInput(g), tensorInput(g), tensorInput(g)
		dim := g.InsertConstant(ir.NewInt(0))
		list := g.Block().Push(g.Create(ir.PrimListConstruct, a, b))
		list.Output().SetType(ir.NewListType(ir.NewTensorType()))
		g.Block().Push(g.Create(ir.AtenAppend, list.Output(), x))
		cat := g.Block().Push(g.Create(ir.AtenCat, list.Output(), dim))
		cat.Output().SetType(ir.NewTensorType())
		sink(g, cat.Output())

		if passes.UseVariadicCat(g) {
			t.Errorf("a mutated list must not be folded")
		}
		if cat.OwningBlock() == nil {
			t.Errorf("the cat must be left as-is")
		}
	})

	t.Run("folds every eligible cat in one run", func(t *testing.T) {
		g := ir.NewGraph()
		a, b, c := tensorInput(g), tensorInput(g), tensorInput(g)
		dim := g.InsertConstant(ir.NewInt(0))
		_, cat1 := listCat(g, dim, ir.NewTensorType(), a, b)
		_, cat2 := listCat(g, dim, ir.NewTensorType(), b, c)
		sink(g, cat1.Output())
		sink(g, cat2.Output())

		if !passes.UseVariadicCat(g) {
			t.Fatal("expected the fold to report a change")
		}
		if n := countNodes(g.Block(), ir.AtenCat); n != 0 {
			t.Errorf("expected all cats folded in a single run, %d left", n)
		}
		if n := countNodes(g.Block(), ir.PrimConcat); n != 2 {
			t.Errorf("expected 2 variadic concats, got %d", n)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		g := ir.NewGraph()
		a, b := tensorInput(g), tensorInput(g)
		dim := g.InsertConstant(ir.NewInt(0))
		_, cat := listCat(g, dim, ir.NewTensorType(), a, b)
		sink(g, cat.Output())

		if !passes.UseVariadicCat(g) {
			t.Fatal("expected the first run to change the graph")
		}
		if passes.UseVariadicCat(g) {
			t.Errorf("expected the second run to be a no-op")
		}
	})
}

func TestRemoveListMutationAndUseVariadicCat(t *testing.T) {
	t.Run("mutation removal unblocks the fold", func(t *testing.T) {
		g := ir.NewGraph()
		a, b := tensorInput(g), tensorInput(g)
		dim := g.InsertConstant(ir.NewInt(0))
		list := g.Block().Push(g.Create(ir.PrimListConstruct, a))
		list.Output().SetType(ir.NewListType(ir.NewTensorType()))
		g.Block().Push(g.Create(ir.AtenAppend, list.Output(), b))
		cat := g.Block().Push(g.Create(ir.AtenCat, list.Output(), dim))
		cat.Output().SetType(ir.NewTensorType())
		use := sink(g, cat.Output())

		if !passes.RemoveListMutationAndUseVariadicCat(g) {
			t.Fatal("expected the driver to report a change")
		}
		folded := use.Input(0).Node()
		if folded.Kind() != ir.PrimConcat {
			t.Fatalf("expected a variadic concat, got %v", folded)
		}
		if !sameValues(folded.Inputs(), []*ir.Value{a, b, dim}) {
			t.Errorf("expected the appended element folded in order, got %v", folded)
		}
		if n := countNodes(g.Block(), ir.AtenAppend); n != 0 {
			t.Errorf("expected the mutation to be removed, %d appends left", n)
		}
	})

	t.Run("converges in one iteration without mutation", func(t *testing.T) {
		g := ir.NewGraph()
		a, b := tensorInput(g), tensorInput(g)
		dim := g.InsertConstant(ir.NewInt(0))
		_, cat := listCat(g, dim, ir.NewTensorType(), a, b)
		sink(g, cat.Output())

		if !passes.RemoveListMutationAndUseVariadicCat(g) {
			t.Fatal("expected the first driver run to change the graph")
		}
		if passes.RemoveListMutationAndUseVariadicCat(g) {
			t.Errorf("expected the second driver run to be a no-op")
		}
	})

	t.Run("no-op on an untouched graph", func(t *testing.T) {
		g := ir.NewGraph()
		a := tensorInput(g)
		sink(g, a)

		if passes.RemoveListMutationAndUseVariadicCat(g) {
			t.Errorf("expected no change on a graph without cats or mutation")
		}
	})
}
