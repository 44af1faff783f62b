package doc

import (
	"iter"

	"github.com/kevinxiao27/egdoc/opset"
	"github.com/kevinxiao27/egdoc/types"
)

// Iterators wrap an optional cursor over a snapshot of one object. A nil
// cursor means the object is absent or of another kind, and the iterator is
// empty. Exported ids are resolved as items are produced. Iterators are
// single use.

// Keys yields the visible keys of a map in ascending byte order.
type Keys struct {
	cur *opset.MapCursor
}

func (k *Keys) Next() (string, bool) {
	if k.cur == nil {
		return "", false
	}
	e, ok := k.cur.Next()
	return e.Key, ok
}

func (k *Keys) NextBack() (string, bool) {
	if k.cur == nil {
		return "", false
	}
	e, ok := k.cur.NextBack()
	return e.Key, ok
}

func (k *Keys) All() iter.Seq[string] {
	return drain(k.Next)
}

type MapItem struct {
	Key      string
	Value    Value
	Id       ExId
	Conflict bool
}

// MapRange yields the visible entries of a map whose keys fall in a range.
type MapRange struct {
	cur    *opset.MapCursor
	actors []types.ActorId
}

func (m *MapRange) item(e opset.Entry, ok bool) (MapItem, bool) {
	if !ok {
		return MapItem{}, false
	}
	return MapItem{Key: e.Key, Value: e.Value, Id: opset.ExportId(m.actors, e.Id), Conflict: e.Conflict}, true
}

func (m *MapRange) Next() (MapItem, bool) {
	if m.cur == nil {
		return MapItem{}, false
	}
	return m.item(m.cur.Next())
}

func (m *MapRange) NextBack() (MapItem, bool) {
	if m.cur == nil {
		return MapItem{}, false
	}
	return m.item(m.cur.NextBack())
}

func (m *MapRange) All() iter.Seq[MapItem] {
	return drain(m.Next)
}

type ListItem struct {
	Index    int
	Value    Value
	Id       ExId
	Conflict bool
}

// ListRange yields the visible elements of a list or text in index order.
type ListRange struct {
	cur    *opset.ListCursor
	actors []types.ActorId
}

func (l *ListRange) Next() (ListItem, bool) {
	if l.cur == nil {
		return ListItem{}, false
	}
	e, ok := l.cur.Next()
	if !ok {
		return ListItem{}, false
	}
	return ListItem{Index: e.Index, Value: e.Value, Id: opset.ExportId(l.actors, e.Id), Conflict: e.Conflict}, true
}

func (l *ListRange) All() iter.Seq[ListItem] {
	return drain(l.Next)
}

// valueIter is whatever produces the next value of a Values iterator.
type valueIter interface {
	next() (ValueId, bool)
}

type noValues struct{}

func (noValues) next() (ValueId, bool) { return ValueId{}, false }

type mapValues struct {
	cur    *opset.MapCursor
	actors []types.ActorId
}

func (m mapValues) next() (ValueId, bool) {
	e, ok := m.cur.Next()
	if !ok {
		return ValueId{}, false
	}
	return ValueId{Value: e.Value, Id: opset.ExportId(m.actors, e.Id)}, true
}

type listValues struct {
	cur    *opset.ListCursor
	actors []types.ActorId
}

func (l listValues) next() (ValueId, bool) {
	e, ok := l.cur.Next()
	if !ok {
		return ValueId{}, false
	}
	return ValueId{Value: e.Value, Id: opset.ExportId(l.actors, e.Id)}, true
}

// Values yields the visible values of any object, without keys or indices.
type Values struct {
	it valueIter
}

func (v *Values) Next() (ValueId, bool) {
	return v.it.next()
}

func (v *Values) All() iter.Seq[ValueId] {
	return drain(v.Next)
}

type Parent struct {
	Obj  ExId
	Prop Prop
	// Visible is false when the child has since been overwritten or deleted.
	Visible bool
}

// Parents walks from an object up to the root, one parent per step.
type Parents struct {
	ops *opset.OpSet
	obj opset.ObjId
}

func (p *Parents) Next() (Parent, bool) {
	if p.ops == nil || p.obj.IsRoot() {
		return Parent{}, false
	}
	parent, prop, visible, ok := p.ops.ParentProp(p.obj)
	if !ok {
		p.ops = nil
		return Parent{}, false
	}
	p.obj = parent
	return Parent{Obj: p.ops.ExportId(parent.Op()), Prop: prop, Visible: visible}, true
}

func (p *Parents) All() iter.Seq[Parent] {
	return drain(p.Next)
}

func drain[T any](next func() (T, bool)) iter.Seq[T] {
	return func(yield func(T) bool) {
		for v, ok := next(); ok; v, ok = next() {
			if !yield(v) {
				return
			}
		}
	}
}
