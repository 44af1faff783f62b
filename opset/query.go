package opset

import (
	"fmt"
	"strings"

	"github.com/kevinxiao27/egdoc/types"
	"github.com/kevinxiao27/egdoc/util"
)

// KeyRange selects the map keys k with From <= k, and k < To when HasTo.
type KeyRange struct {
	From  string
	To    string
	HasTo bool
}

// IndexRange selects the list indices i with Start <= i, and i < End when
// End is not negative.
type IndexRange struct {
	Start int
	End   int
}

// Entry is one visible slot of an object: a map key or a list element, with
// its winning op and value.
type Entry struct {
	Key   string
	Index int
	Elem  OpId
	Id    OpId
	Value types.Value
	// Conflict is set when more than one op is visible at the slot.
	Conflict bool
}

// winner returns the last visible op in [start, end) and the number of
// visible ops.
func winner(t Tree, start, end int, c Clock) (*Op, int) {
	var (
		w *Op
		n int
	)
	for i := start; i < end; i++ {
		if o := t.At(i); o.VisibleAt(c) {
			w = o
			n++
		}
	}
	return w, n
}

// MapCursor walks the visible keys of a map object in key order, from either
// end.
type MapCursor struct {
	tree  Tree
	clock Clock
	front int
	back  int
}

// MapRange returns a cursor over the keys of obj in r, or nil when obj is
// not a map.
func (s *OpSet) MapRange(obj ObjId, r KeyRange, c Clock) *MapCursor {
	o, ok := s.objects[obj]
	if !ok || o.Type != types.ObjMap {
		return nil
	}
	t := o.tree
	front := t.Search(func(op *Op) bool { return op.Key.Prop >= r.From })
	back := util.Choose(r.HasTo, t.Search(func(op *Op) bool { return op.Key.Prop >= r.To }), t.Len())
	return &MapCursor{tree: t, clock: c, front: front, back: max(front, back)}
}

func (m *MapCursor) entry(start, end int) (Entry, bool) {
	w, n := winner(m.tree, start, end, m.clock)
	if w == nil {
		return Entry{}, false
	}
	return Entry{Key: w.Key.Prop, Id: w.Id, Value: w.ValueAt(m.clock), Conflict: n > 1}, true
}

func (m *MapCursor) Next() (Entry, bool) {
	for m.front < m.back {
		start := m.front
		prop := m.tree.At(start).Key.Prop
		end := start + 1
		for end < m.back && m.tree.At(end).Key.Prop == prop {
			end++
		}
		m.front = end
		if e, ok := m.entry(start, end); ok {
			return e, true
		}
	}
	return Entry{}, false
}

func (m *MapCursor) NextBack() (Entry, bool) {
	for m.front < m.back {
		end := m.back
		prop := m.tree.At(end - 1).Key.Prop
		start := end - 1
		for start > m.front && m.tree.At(start-1).Key.Prop == prop {
			start--
		}
		m.back = start
		if e, ok := m.entry(start, end); ok {
			return e, true
		}
	}
	return Entry{}, false
}

// ListCursor walks the visible elements of a list or text object in index
// order.
type ListCursor struct {
	tree  Tree
	clock Clock
	pos   int
	index int
	start int
	end   int
}

// ListRange returns a cursor over the elements of obj in r, or nil when obj
// is not a sequence.
func (s *OpSet) ListRange(obj ObjId, r IndexRange, c Clock) *ListCursor {
	o, ok := s.objects[obj]
	if !ok || !o.Type.IsSequence() {
		return nil
	}
	return &ListCursor{tree: o.tree, clock: c, start: r.Start, end: r.End}
}

func (l *ListCursor) Next() (Entry, bool) {
	for l.pos < l.tree.Len() {
		if l.end >= 0 && l.index >= l.end {
			return Entry{}, false
		}
		start := l.pos
		end := groupEnd(l.tree, start)
		l.pos = end
		w, n := winner(l.tree, start, end, l.clock)
		if w == nil {
			continue
		}
		idx := l.index
		l.index++
		if idx < l.start {
			continue
		}
		return Entry{
			Index:    idx,
			Elem:     l.tree.At(start).Id,
			Id:       w.Id,
			Value:    w.ValueAt(l.clock),
			Conflict: n > 1,
		}, true
	}
	return Entry{}, false
}

// nth finds the group of the n-th visible element.
func nth(t Tree, n int, c Clock) (int, int, bool) {
	seen := 0
	for i := 0; i < t.Len(); {
		end := groupEnd(t, i)
		if w, _ := winner(t, i, end, c); w != nil {
			if seen == n {
				return i, end, true
			}
			seen++
		}
		i = end
	}
	return 0, 0, false
}

// Lookup resolves prop in obj to the key of new ops written there and the
// ops visible at it, oldest first.
func (s *OpSet) Lookup(obj ObjId, prop types.Prop, c Clock) (Key, []Op, error) {
	o, ok := s.objects[obj]
	if !ok {
		return Key{}, nil, fmt.Errorf("object %s: %w", OpId(obj), ErrNotFound)
	}
	t := o.tree
	var (
		key        Key
		start, end int
	)
	switch p := prop.(type) {
	case types.Key:
		if o.Type != types.ObjMap {
			return Key{}, nil, fmt.Errorf("key %q on %s: %w", string(p), o.Type, ErrWrongType)
		}
		key = MapKey(string(p))
		start, end = keyRange(t, string(p))
	case types.Index:
		if !o.Type.IsSequence() {
			return Key{}, nil, fmt.Errorf("index %d on %s: %w", int(p), o.Type, ErrWrongType)
		}
		if p < 0 {
			return Key{}, nil, fmt.Errorf("index %d: %w", int(p), ErrOutOfRange)
		}
		if start, end, ok = nth(t, int(p), c); !ok {
			return Key{}, nil, fmt.Errorf("index %d: %w", int(p), ErrOutOfRange)
		}
		key = SeqKey(t.At(start).Id)
	default:
		return Key{}, nil, fmt.Errorf("prop %v: %w", prop, ErrWrongType)
	}

	var ops []Op
	for i := start; i < end; i++ {
		if op := t.At(i); op.VisibleAt(c) {
			ops = append(ops, *op)
		}
	}
	return key, ops, nil
}

// InsertKey returns the key of an insert at index in a sequence: the head,
// or the element before index.
func (s *OpSet) InsertKey(obj ObjId, index int) (Key, error) {
	o, ok := s.objects[obj]
	if !ok {
		return Key{}, fmt.Errorf("object %s: %w", OpId(obj), ErrNotFound)
	}
	if !o.Type.IsSequence() {
		return Key{}, fmt.Errorf("insert into %s: %w", o.Type, ErrWrongType)
	}
	if index < 0 {
		return Key{}, fmt.Errorf("insert at %d: %w", index, ErrOutOfRange)
	}
	if index == 0 {
		return SeqKey(OpId{}), nil
	}
	start, _, ok := nth(o.tree, index-1, nil)
	if !ok {
		return Key{}, fmt.Errorf("insert at %d: %w", index, ErrOutOfRange)
	}
	return SeqKey(o.tree.At(start).Id), nil
}

// Length counts the visible keys or elements of obj, 0 when it is missing.
func (s *OpSet) Length(obj ObjId, c Clock) int {
	o, ok := s.objects[obj]
	if !ok {
		return 0
	}
	n := 0
	if o.Type.IsSequence() {
		cur := &ListCursor{tree: o.tree, clock: c, end: -1}
		for _, ok := cur.Next(); ok; _, ok = cur.Next() {
			n++
		}
		return n
	}
	cur := &MapCursor{tree: o.tree, clock: c, back: o.tree.Len()}
	for _, ok := cur.Next(); ok; _, ok = cur.Next() {
		n++
	}
	return n
}

// objectReplacement stands in for a non-string element of a text object.
const objectReplacement = "\ufffc"

// Text concatenates the visible elements of a text object.
func (s *OpSet) Text(obj ObjId, c Clock) (string, error) {
	o, ok := s.objects[obj]
	if !ok {
		return "", fmt.Errorf("object %s: %w", OpId(obj), ErrNotFound)
	}
	if o.Type != types.ObjText {
		return "", fmt.Errorf("text of %s: %w", o.Type, ErrWrongType)
	}
	var b strings.Builder
	cur := &ListCursor{tree: o.tree, clock: c, end: -1}
	for e, ok := cur.Next(); ok; e, ok = cur.Next() {
		if v := e.Value.Scalar(); !e.Value.IsObject() && v.Type() == types.ScalarStr {
			b.WriteString(v.AsStr())
		} else {
			b.WriteString(objectReplacement)
		}
	}
	return b.String(), nil
}

// ParentProp returns the parent of obj, the prop holding it, and whether
// the op that created obj is still visible there.
func (s *OpSet) ParentProp(obj ObjId) (ObjId, types.Prop, bool, bool) {
	o, ok := s.objects[obj]
	if !ok || obj.IsRoot() {
		return Root, nil, false, false
	}
	parent, ok := s.objects[o.Parent]
	if !ok {
		return Root, nil, false, false
	}
	t := parent.tree
	visible := false
	if i, ok := s.findOp(t, o.Key, obj.Op()); ok {
		visible = t.At(i).VisibleAt(nil)
	}
	return o.Parent, s.Prop(o.Parent, o.Key), visible, true
}

// Prop returns the prop at which an op with key sits in obj, for reporting.
func (s *OpSet) Prop(obj ObjId, key Key) types.Prop {
	if !key.Seq {
		return types.Key(key.Prop)
	}
	o, ok := s.objects[obj]
	if !ok {
		return types.Index(0)
	}
	index := 0
	for i := 0; i < o.tree.Len(); {
		end := groupEnd(o.tree, i)
		if o.tree.At(i).Id == key.Elem {
			break
		}
		if w, _ := winner(o.tree, i, end, nil); w != nil {
			index++
		}
		i = end
	}
	return types.Index(index)
}
