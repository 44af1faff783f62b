package opset

import (
	"slices"
	"sort"
)

// Tree is the ordered op storage of one object. Queries address ops only by
// position, so any ordered structure can back an object.
type Tree interface {
	Len() int
	// At returns the op at position i. Only the owner of a tree obtained
	// from Clone may modify it.
	At(i int) *Op
	Insert(i int, op Op)
	// Search returns the smallest i for which f(At(i)) is true, or Len().
	// f must be false on a prefix of the tree and true on the rest.
	Search(f func(*Op) bool) int
	Clone() Tree
}

// sliceTree keeps the ops in one sorted slice.
type sliceTree struct {
	ops []Op
}

func newSliceTree() *sliceTree {
	return &sliceTree{}
}

func (t *sliceTree) Len() int     { return len(t.ops) }
func (t *sliceTree) At(i int) *Op { return &t.ops[i] }

func (t *sliceTree) Insert(i int, op Op) {
	t.ops = slices.Insert(t.ops, i, op)
}

func (t *sliceTree) Search(f func(*Op) bool) int {
	return sort.Search(len(t.ops), func(i int) bool { return f(&t.ops[i]) })
}

func (t *sliceTree) Clone() Tree {
	return &sliceTree{ops: slices.Clone(t.ops)}
}
