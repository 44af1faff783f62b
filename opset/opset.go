// Package opset is the in-memory store of every op of a document, grouped
// per object and ordered so that reads at any version are a linear scan.
//
// An OpSet is written only through a fork. Fork shares every object with its
// parent and clones an object the first time it is modified, so trees handed
// out to readers are never changed afterwards.
package opset

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/kevinxiao27/egdoc/types"
)

// Object is one map, list or text object and its position in the document.
type Object struct {
	Type   types.ObjType
	Parent ObjId
	// Key is the slot of the parent holding this object.
	Key  Key
	tree Tree
}

func (o *Object) Tree() Tree { return o.tree }

type OpSet struct {
	actors   []types.ActorId
	actorIdx map[types.ActorId]uint32
	objects  map[ObjId]*Object
	owned    map[ObjId]bool
	maxOp    uint64
	len      int
}

func New() *OpSet {
	return &OpSet{
		actorIdx: make(map[types.ActorId]uint32),
		objects:  map[ObjId]*Object{Root: {Type: types.ObjMap, tree: newSliceTree()}},
		owned:    map[ObjId]bool{Root: true},
	}
}

// Fork returns a writable copy of s. Both s and the fork clone an object
// before their next write to it.
func (s *OpSet) Fork() *OpSet {
	s.owned = make(map[ObjId]bool)
	return &OpSet{
		actors:   slices.Clip(s.actors),
		actorIdx: maps.Clone(s.actorIdx),
		objects:  maps.Clone(s.objects),
		owned:    make(map[ObjId]bool),
		maxOp:    s.maxOp,
		len:      s.len,
	}
}

// Seal gives up ownership of every object, so trees read from s afterwards
// stay unchanged by later writes.
func (s *OpSet) Seal() {
	clear(s.owned)
}

// Freeze gives up ownership of one object.
func (s *OpSet) Freeze(obj ObjId) {
	delete(s.owned, obj)
}

func (s *OpSet) MaxOp() uint64 { return s.maxOp }

// Len is the number of ops stored.
func (s *OpSet) Len() int { return s.len }

// Actors returns the actor table. Index i is the actor of OpIds with Actor i.
func (s *OpSet) Actors() []types.ActorId {
	return slices.Clip(s.actors)
}

// ActorIndex interns actor.
func (s *OpSet) ActorIndex(actor types.ActorId) uint32 {
	if i, ok := s.actorIdx[actor]; ok {
		return i
	}
	i := uint32(len(s.actors))
	s.actors = append(s.actors, actor)
	s.actorIdx[actor] = i
	return i
}

func (s *OpSet) LookupActor(actor types.ActorId) (uint32, bool) {
	i, ok := s.actorIdx[actor]
	return i, ok
}

// ExportId converts an internal id into a replica independent one.
func (s *OpSet) ExportId(id OpId) types.ExId {
	return ExportId(s.actors, id)
}

func ExportId(actors []types.ActorId, id OpId) types.ExId {
	if id.IsZero() {
		return types.Root
	}
	return types.ExId{Counter: id.Counter, Actor: actors[id.Actor]}
}

// ImportId converts an exported id, interning its actor.
func (s *OpSet) ImportId(id types.ExId) OpId {
	if id.IsRoot() {
		return OpId{}
	}
	return OpId{Counter: id.Counter, Actor: s.ActorIndex(id.Actor)}
}

// LookupObj resolves an exported object id without interning anything.
func (s *OpSet) LookupObj(id types.ExId) (ObjId, bool) {
	if id.IsRoot() {
		return Root, true
	}
	a, ok := s.actorIdx[id.Actor]
	if !ok {
		return Root, false
	}
	obj := ObjId{Counter: id.Counter, Actor: a}
	_, ok = s.objects[obj]
	return obj, ok
}

func (s *OpSet) Object(obj ObjId) (*Object, bool) {
	o, ok := s.objects[obj]
	return o, ok
}

// Compare orders op ids by counter, then actor bytes. This order does not
// depend on the actor table, so every replica agrees on it.
func (s *OpSet) Compare(a, b OpId) int {
	if c := cmp.Compare(a.Counter, b.Counter); c != 0 {
		return c
	}
	return s.actors[a.Actor].Compare(s.actors[b.Actor])
}

func (s *OpSet) mutable(obj ObjId) (*Object, bool) {
	o, ok := s.objects[obj]
	if !ok {
		return nil, false
	}
	if s.owned[obj] {
		return o, true
	}
	c := *o
	c.tree = o.tree.Clone()
	s.objects[obj] = &c
	s.owned[obj] = true
	return &c, true
}

// Apply inserts op into its object, records it as the successor of its
// preds and creates the object it makes, if any. Ops of one object must be
// applied in causal order.
func (s *OpSet) Apply(op Op) error {
	o, ok := s.mutable(op.Obj)
	if !ok {
		return fmt.Errorf("apply %s: object %s: %w", op.Id, OpId(op.Obj), ErrNotFound)
	}
	if op.Key.Seq != o.Type.IsSequence() {
		return fmt.Errorf("apply %s: key does not fit %s object: %w", op.Id, o.Type, ErrWrongType)
	}
	if _, exists := s.objects[ObjId(op.Id)]; exists {
		return fmt.Errorf("apply %s: op id already used by an object", op.Id)
	}

	var pos int
	if op.Key.Seq {
		var err error
		if pos, err = s.seekList(o.tree, &op); err != nil {
			return fmt.Errorf("apply %s: %w", op.Id, err)
		}
	} else {
		pos = s.seekMap(o.tree, &op)
	}
	for _, p := range op.Pred {
		if _, ok := s.findOp(o.tree, op.Key, p); !ok {
			return fmt.Errorf("apply %s: pred %s: %w", op.Id, p, ErrNotFound)
		}
	}
	op.Succ = nil
	o.tree.Insert(pos, op)

	for _, p := range op.Pred {
		i, _ := s.findOp(o.tree, op.Key, p)
		pred := o.tree.At(i)
		succ := Succ{Id: op.Id}
		if op.Action == types.ActionIncrement {
			succ.Inc = true
			succ.By = op.Value.AsInt()
		}
		pred.Succ = append(slices.Clip(pred.Succ), succ)
	}

	if t, ok := op.Action.ObjType(); ok {
		key := op.Key
		if op.Insert {
			key = SeqKey(op.Id)
		}
		s.objects[ObjId(op.Id)] = &Object{Type: t, Parent: op.Obj, Key: key, tree: newSliceTree()}
		s.owned[ObjId(op.Id)] = true
	}
	s.maxOp = max(s.maxOp, op.Id.Counter)
	s.len++
	return nil
}

// seekMap finds the position of op among ops sorted by (key, id).
func (s *OpSet) seekMap(t Tree, op *Op) int {
	return t.Search(func(o *Op) bool {
		if o.Key.Prop != op.Key.Prop {
			return o.Key.Prop > op.Key.Prop
		}
		return s.Compare(o.Id, op.Id) > 0
	})
}

// seekList finds the position of op in a list object. An insert goes after
// its reference element and every later op up to the first insert with a
// smaller id. Any other op goes after its element's insert op and the ops on
// that element with smaller ids.
func (s *OpSet) seekList(t Tree, op *Op) (int, error) {
	i := 0
	if !op.Key.Elem.IsZero() {
		e, ok := findElem(t, op.Key.Elem)
		if !ok {
			return 0, fmt.Errorf("element %s: %w", op.Key.Elem, ErrNotFound)
		}
		i = e + 1
	} else if !op.Insert {
		return 0, fmt.Errorf("non-insert op at list head: %w", ErrNotFound)
	}

	for ; i < t.Len(); i++ {
		o := t.At(i)
		if op.Insert {
			if o.Insert && s.Compare(o.Id, op.Id) < 0 {
				break
			}
		} else if o.Insert || s.Compare(o.Id, op.Id) > 0 {
			break
		}
	}
	return i, nil
}

func findElem(t Tree, elem OpId) (int, bool) {
	for i := 0; i < t.Len(); i++ {
		if o := t.At(i); o.Insert && o.Id == elem {
			return i, true
		}
	}
	return 0, false
}

// groupEnd returns the end of the element group starting at the insert op
// at i.
func groupEnd(t Tree, i int) int {
	for i++; i < t.Len() && !t.At(i).Insert; i++ {
	}
	return i
}

// keyRange returns the positions of the ops at prop in a map object.
func keyRange(t Tree, prop string) (int, int) {
	start := t.Search(func(o *Op) bool { return o.Key.Prop >= prop })
	end := t.Search(func(o *Op) bool { return o.Key.Prop > prop })
	return start, end
}

func (s *OpSet) findOp(t Tree, key Key, id OpId) (int, bool) {
	var start, end int
	if key.Seq {
		e, ok := findElem(t, key.Elem)
		if !ok {
			return 0, false
		}
		start, end = e, groupEnd(t, e)
	} else {
		start, end = keyRange(t, key.Prop)
	}
	for i := start; i < end; i++ {
		if t.At(i).Id == id {
			return i, true
		}
	}
	return 0, false
}
