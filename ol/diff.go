package ol

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/kevinxiao27/egdoc/types"
)

// expandToSet returns the causal closure of frontier: the frontier changes
// and everything they transitively depend on. Unknown hashes are ignored.
func (h *History) expandToSet(frontier []types.ChangeHash) mapset.Set[types.ChangeHash] {
	set := mapset.NewThreadUnsafeSet[types.ChangeHash]()
	toExpand := make([]types.ChangeHash, len(frontier))
	copy(toExpand, frontier)

	for len(toExpand) > 0 {
		hash := toExpand[len(toExpand)-1]
		toExpand = toExpand[:len(toExpand)-1]
		if set.Contains(hash) {
			continue
		}
		c, ok := h.Get(hash)
		if !ok {
			continue
		}
		set.Add(hash)
		toExpand = append(toExpand, c.Deps...)
	}
	return set
}

type DiffResult struct {
	AOnly []types.ChangeHash
	BOnly []types.ChangeHash
}

// Diff compares the versions named by two sets of heads.
func (h *History) Diff(a []types.ChangeHash, b []types.ChangeHash) DiffResult {
	aExpand := h.expandToSet(a)
	bExpand := h.expandToSet(b)
	return DiffResult{
		AOnly: types.SortHashes(aExpand.Difference(bExpand).ToSlice()),
		BOnly: types.SortHashes(bExpand.Difference(aExpand).ToSlice()),
	}
}

// ChangesSince returns the applied changes outside the closure of heads, in
// causal order. Empty heads yields the whole history.
func (h *History) ChangesSince(heads []types.ChangeHash) []*Change {
	seen := h.expandToSet(heads)
	var out []*Change
	for _, c := range h.changes {
		if !seen.Contains(c.hash) {
			out = append(out, c)
		}
	}
	return out
}

// ClockAt returns the op clock of the version named by heads. An op is part
// of that version exactly when the clock covers it.
func (h *History) ClockAt(heads []types.ChangeHash) Clock {
	clock := make(Clock)
	for hash := range h.expandToSet(heads).Iter() {
		c, _ := h.Get(hash)
		if len(c.Ops) == 0 {
			continue
		}
		if c.MaxOp() > clock[c.Actor] {
			clock[c.Actor] = c.MaxOp()
		}
	}
	return clock
}
