// Package ol is the change history of a document: every applied change in
// causal order, the current heads, and the per-actor sequence numbers.
package ol

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/kevinxiao27/egdoc/types"
	"github.com/kevinxiao27/egdoc/util"
)

var (
	ErrMissingDeps  = errors.New("change depends on unknown changes")
	ErrDuplicateSeq = errors.New("duplicate sequence number")
)

// History is the append-only log of applied changes. Changes whose
// dependencies have not arrived yet wait in a queue.
type History struct {
	changes  []*Change
	byHash   map[types.ChangeHash]int
	frontier []types.ChangeHash
	version  RemoteVersion
	maxOp    uint64
	queue    []*Change
}

func NewHistory() *History {
	return &History{
		changes:  []*Change{},
		byHash:   make(map[types.ChangeHash]int),
		frontier: []types.ChangeHash{},
		version:  make(RemoteVersion),
	}
}

// advanceFrontier drops the deps of a new change from the frontier and adds
// the change itself.
func advanceFrontier(frontier []types.ChangeHash, hash types.ChangeHash, deps []types.ChangeHash) []types.ChangeHash {
	f := util.Filter(frontier, func(h types.ChangeHash) bool {
		return !util.Reduce(deps, func(dep types.ChangeHash, exists bool) bool {
			return h == dep || exists
		}, false)
	})
	f = append(f, hash)
	return types.SortHashes(f)
}

// Heads returns the hashes of changes no other change depends on, sorted.
func (h *History) Heads() []types.ChangeHash {
	return slices.Clone(h.frontier)
}

func (h *History) Len() int { return len(h.changes) }

// MaxOp is the greatest op counter of any applied change.
func (h *History) MaxOp() uint64 { return h.maxOp }

// Changes returns every applied change in application order, which is a
// topological order of the dependency graph.
func (h *History) Changes() []*Change {
	return slices.Clone(h.changes)
}

func (h *History) Get(hash types.ChangeHash) (*Change, bool) {
	i, ok := h.byHash[hash]
	if !ok {
		return nil, false
	}
	return h.changes[i], true
}

func (h *History) Has(hash types.ChangeHash) bool {
	_, ok := h.byHash[hash]
	return ok
}

// Seq returns the last applied seq of actor, 0 when none.
func (h *History) Seq(actor types.ActorId) uint64 {
	return h.version[actor]
}

func (h *History) Version() RemoteVersion {
	v := make(RemoteVersion, len(h.version))
	for a, s := range h.version {
		v[a] = s
	}
	return v
}

// Actors lists every actor that has authored an applied change.
func (h *History) Actors() []types.ActorId {
	actors := make([]types.ActorId, 0, len(h.version))
	for a := range h.version {
		actors = append(actors, a)
	}
	slices.SortFunc(actors, types.ActorId.Compare)
	return actors
}

func (h *History) checkReady(c *Change) error {
	if last := h.version[c.Actor]; c.Seq <= last {
		return fmt.Errorf("%w: actor %s seq %d, already at %d", ErrDuplicateSeq, c.Actor, c.Seq, last)
	}
	if last := h.version[c.Actor]; c.Seq != last+1 {
		return fmt.Errorf("%w: actor %s seq %d follows unknown seq %d", ErrMissingDeps, c.Actor, c.Seq, c.Seq-1)
	}
	for _, d := range c.Deps {
		if !h.Has(d) {
			return fmt.Errorf("%w: %s", ErrMissingDeps, d)
		}
	}
	return nil
}

func (h *History) push(c *Change) {
	h.byHash[c.hash] = len(h.changes)
	h.changes = append(h.changes, c)
	h.frontier = advanceFrontier(h.frontier, c.hash, c.Deps)
	h.version[c.Actor] = c.Seq
	if len(c.Ops) > 0 {
		h.maxOp = max(h.maxOp, c.MaxOp())
	}
}

// Append adds a locally created change. Its deps must all be applied and its
// seq must directly follow the actor's last seq.
func (h *History) Append(c *Change) error {
	if h.Has(c.hash) {
		return nil
	}
	if err := h.checkReady(c); err != nil {
		return err
	}
	h.push(c)
	return nil
}

// Push adds changes received from another replica. Known changes are
// skipped and changes with missing deps are queued until the deps arrive.
// It returns the changes that became applied, in causal order. Those stay
// applied even when an error is returned.
func (h *History) Push(changes ...*Change) ([]*Change, error) {
	for _, c := range changes {
		if last := h.version[c.Actor]; c.Seq <= last && !h.Has(c.hash) {
			return nil, fmt.Errorf("%w: actor %s seq %d, already at %d", ErrDuplicateSeq, c.Actor, c.Seq, last)
		}
	}
	for _, c := range changes {
		if h.Has(c.hash) || slices.ContainsFunc(h.queue, func(q *Change) bool { return q.hash == c.hash }) {
			continue
		}
		h.queue = append(h.queue, c)
	}

	var (
		applied []*Change
		dupErr  error
	)
	for progress := true; progress; {
		progress = false
		remaining := make([]*Change, 0, len(h.queue))
		for _, c := range h.queue {
			err := h.checkReady(c)
			switch {
			case err == nil:
				h.push(c)
				applied = append(applied, c)
				progress = true
			case errors.Is(err, ErrDuplicateSeq):
				// a sibling with the same seq won; this one can never apply
				dupErr = err
			default:
				remaining = append(remaining, c)
			}
		}
		h.queue = remaining
	}
	return applied, dupErr
}

// Pending returns the queued changes still waiting on deps.
func (h *History) Pending() []*Change {
	return slices.Clone(h.queue)
}

// MissingDeps lists hashes referenced by queued changes, or named in heads,
// that are not applied or queued.
func (h *History) MissingDeps(heads ...types.ChangeHash) []types.ChangeHash {
	queued := make(map[types.ChangeHash]bool, len(h.queue))
	for _, c := range h.queue {
		queued[c.hash] = true
	}
	missing := map[types.ChangeHash]bool{}
	for _, c := range h.queue {
		for _, d := range c.Deps {
			if !h.Has(d) && !queued[d] {
				missing[d] = true
			}
		}
	}
	for _, hd := range heads {
		if !h.Has(hd) && !queued[hd] {
			missing[hd] = true
		}
	}
	out := make([]types.ChangeHash, 0, len(missing))
	for m := range missing {
		out = append(out, m)
	}
	return types.SortHashes(out)
}

// MergeInto pushes every change of src that dest lacks into dest.
func MergeInto(dest *History, src *History) ([]*Change, error) {
	// src.changes is already causally ordered, so nothing lands in the queue
	var missing []*Change
	for _, c := range src.changes {
		if !dest.Has(c.hash) {
			missing = append(missing, c)
		}
	}
	return dest.Push(missing...)
}

// Clone returns an independent copy of h. Changes are shared, they are
// immutable.
func (h *History) Clone() *History {
	return &History{
		changes:  slices.Clone(h.changes),
		byHash:   maps.Clone(h.byHash),
		frontier: slices.Clone(h.frontier),
		version:  maps.Clone(h.version),
		maxOp:    h.maxOp,
		queue:    slices.Clone(h.queue),
	}
}
