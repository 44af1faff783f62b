package doc

import (
	"errors"
	"fmt"

	"github.com/kevinxiao27/egdoc/ol"
	"github.com/kevinxiao27/egdoc/opset"
	"github.com/kevinxiao27/egdoc/types"
)

type state struct {
	ops  *opset.OpSet
	hist *ol.History
}

// clock returns the op clock of heads, or nil for the current version.
func (st state) clock(heads []ChangeHash, at bool) opset.Clock {
	if !at {
		return nil
	}
	c := make(opset.Clock)
	for actor, max := range st.hist.ClockAt(heads) {
		if i, ok := st.ops.LookupActor(actor); ok {
			c[i] = max
		}
	}
	return c
}

type rlocker interface {
	RLock()
	RUnlock()
}

type noLock struct{}

func (noLock) RLock()   {}
func (noLock) RUnlock() {}

// Reader is the read API shared by Document and Transaction. Every read has
// a current form and an At form that reads the version named by heads.
// Unknown heads are ignored.
type Reader struct {
	mu    rlocker
	state func() state
	// freeze makes iterators snapshot objects a transaction may still write.
	freeze bool
	// resolved reports that the transaction behind the reader is done.
	resolved func() bool
}

func (r *Reader) read() (state, func(), error) {
	r.mu.RLock()
	if r.resolved != nil && r.resolved() {
		r.mu.RUnlock()
		return state{}, func() {}, ErrTransactionDone
	}
	return r.state(), r.mu.RUnlock, nil
}

// Heads returns the current heads, or nil through a resolved transaction.
func (r *Reader) Heads() []ChangeHash {
	st, done, err := r.read()
	defer done()
	if err != nil {
		return nil
	}
	return st.hist.Heads()
}

// Get returns the winning value at prop, its id, and whether there is one.
func (r *Reader) Get(obj ExId, prop Prop) (Value, ExId, bool, error) {
	return r.get(obj, prop, nil, false)
}

func (r *Reader) GetAt(obj ExId, prop Prop, heads []ChangeHash) (Value, ExId, bool, error) {
	return r.get(obj, prop, heads, true)
}

func (r *Reader) get(obj ExId, prop Prop, heads []ChangeHash, at bool) (Value, ExId, bool, error) {
	all, err := r.getAll(obj, prop, heads, at)
	if err != nil || len(all) == 0 {
		return Value{}, ExId{}, false, err
	}
	return all[0].Value, all[0].Id, true, nil
}

// GetAll returns every visible value at prop, winner first.
func (r *Reader) GetAll(obj ExId, prop Prop) ([]ValueId, error) {
	return r.getAll(obj, prop, nil, false)
}

func (r *Reader) GetAllAt(obj ExId, prop Prop, heads []ChangeHash) ([]ValueId, error) {
	return r.getAll(obj, prop, heads, true)
}

func (r *Reader) getAll(obj ExId, prop Prop, heads []ChangeHash, at bool) ([]ValueId, error) {
	st, done, err := r.read()
	defer done()
	if err != nil {
		return nil, err
	}
	o, ok := st.ops.LookupObj(obj)
	if !ok {
		return nil, fmt.Errorf("get %s in %s: %w", prop, obj, ErrNotFound)
	}
	c := st.clock(heads, at)
	_, ops, err := st.ops.Lookup(o, prop, c)
	if errors.Is(err, ErrOutOfRange) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s in %s: %w", prop, obj, err)
	}
	out := make([]ValueId, 0, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		out = append(out, ValueId{Value: ops[i].ValueAt(c), Id: st.ops.ExportId(ops[i].Id)})
	}
	return out, nil
}

// resolve looks up obj for an iterator, giving up ownership of it when
// reading inside a transaction.
func (r *Reader) resolve(st state, obj ExId) (opset.ObjId, bool) {
	o, ok := st.ops.LookupObj(obj)
	if ok && r.freeze {
		st.ops.Freeze(o)
	}
	return o, ok
}

func (r *Reader) Keys(obj ExId) *Keys {
	return r.keys(obj, nil, false)
}

func (r *Reader) KeysAt(obj ExId, heads []ChangeHash) *Keys {
	return r.keys(obj, heads, true)
}

func (r *Reader) keys(obj ExId, heads []ChangeHash, at bool) *Keys {
	st, done, err := r.read()
	defer done()
	if err != nil {
		return &Keys{}
	}
	o, ok := r.resolve(st, obj)
	if !ok {
		return &Keys{}
	}
	return &Keys{cur: st.ops.MapRange(o, AllKeys(), st.clock(heads, at))}
}

func (r *Reader) MapRange(obj ExId, rng KeyRange) *MapRange {
	return r.mapRange(obj, rng, nil, false)
}

func (r *Reader) MapRangeAt(obj ExId, rng KeyRange, heads []ChangeHash) *MapRange {
	return r.mapRange(obj, rng, heads, true)
}

func (r *Reader) mapRange(obj ExId, rng KeyRange, heads []ChangeHash, at bool) *MapRange {
	st, done, err := r.read()
	defer done()
	if err != nil {
		return &MapRange{}
	}
	o, ok := r.resolve(st, obj)
	if !ok {
		return &MapRange{}
	}
	return &MapRange{cur: st.ops.MapRange(o, rng, st.clock(heads, at)), actors: st.ops.Actors()}
}

func (r *Reader) ListRange(obj ExId, rng IndexRange) *ListRange {
	return r.listRange(obj, rng, nil, false)
}

func (r *Reader) ListRangeAt(obj ExId, rng IndexRange, heads []ChangeHash) *ListRange {
	return r.listRange(obj, rng, heads, true)
}

func (r *Reader) listRange(obj ExId, rng IndexRange, heads []ChangeHash, at bool) *ListRange {
	st, done, err := r.read()
	defer done()
	if err != nil {
		return &ListRange{}
	}
	o, ok := r.resolve(st, obj)
	if !ok {
		return &ListRange{}
	}
	return &ListRange{cur: st.ops.ListRange(o, rng, st.clock(heads, at)), actors: st.ops.Actors()}
}

func (r *Reader) Values(obj ExId) *Values {
	return r.values(obj, nil, false)
}

func (r *Reader) ValuesAt(obj ExId, heads []ChangeHash) *Values {
	return r.values(obj, heads, true)
}

func (r *Reader) values(obj ExId, heads []ChangeHash, at bool) *Values {
	st, done, err := r.read()
	defer done()
	if err != nil {
		return &Values{it: noValues{}}
	}
	o, ok := r.resolve(st, obj)
	if !ok {
		return &Values{it: noValues{}}
	}
	c := st.clock(heads, at)
	if cur := st.ops.MapRange(o, AllKeys(), c); cur != nil {
		return &Values{it: mapValues{cur: cur, actors: st.ops.Actors()}}
	}
	if cur := st.ops.ListRange(o, From(0), c); cur != nil {
		return &Values{it: listValues{cur: cur, actors: st.ops.Actors()}}
	}
	return &Values{it: noValues{}}
}

// Length counts the visible keys or elements of obj, 0 when obj is unknown.
func (r *Reader) Length(obj ExId) int {
	return r.length(obj, nil, false)
}

func (r *Reader) LengthAt(obj ExId, heads []ChangeHash) int {
	return r.length(obj, heads, true)
}

func (r *Reader) length(obj ExId, heads []ChangeHash, at bool) int {
	st, done, err := r.read()
	defer done()
	if err != nil {
		return 0
	}
	o, ok := st.ops.LookupObj(obj)
	if !ok {
		return 0
	}
	return st.ops.Length(o, st.clock(heads, at))
}

func (r *Reader) Text(obj ExId) (string, error) {
	return r.text(obj, nil, false)
}

func (r *Reader) TextAt(obj ExId, heads []ChangeHash) (string, error) {
	return r.text(obj, heads, true)
}

func (r *Reader) text(obj ExId, heads []ChangeHash, at bool) (string, error) {
	st, done, err := r.read()
	defer done()
	if err != nil {
		return "", err
	}
	o, ok := st.ops.LookupObj(obj)
	if !ok {
		return "", fmt.Errorf("text of %s: %w", obj, ErrNotFound)
	}
	s, err := st.ops.Text(o, st.clock(heads, at))
	if err != nil {
		return "", fmt.Errorf("text of %s: %w", obj, err)
	}
	return s, nil
}

// ObjectType returns the kind of obj, or false when obj is not an object.
func (r *Reader) ObjectType(obj ExId) (ObjType, bool) {
	st, done, err := r.read()
	defer done()
	if err != nil {
		return 0, false
	}
	o, ok := st.ops.LookupObj(obj)
	if !ok {
		return 0, false
	}
	info, _ := st.ops.Object(o)
	return info.Type, true
}

// ParentObject returns the object holding obj and the prop it sits at, or
// false for the root and unknown objects.
func (r *Reader) ParentObject(obj ExId) (ExId, Prop, bool) {
	st, done, err := r.read()
	defer done()
	if err != nil {
		return ExId{}, nil, false
	}
	o, ok := st.ops.LookupObj(obj)
	if !ok {
		return ExId{}, nil, false
	}
	parent, prop, _, ok := st.ops.ParentProp(o)
	if !ok {
		return ExId{}, nil, false
	}
	return st.ops.ExportId(parent.Op()), prop, true
}

// Parents walks up from obj. Inside a transaction the walk reads a fork
// taken here, so later writes of the transaction do not show up in it.
func (r *Reader) Parents(obj ExId) *Parents {
	st, done, err := r.read()
	defer done()
	if err != nil {
		return &Parents{}
	}
	o, ok := st.ops.LookupObj(obj)
	if !ok {
		return &Parents{}
	}
	ops := st.ops
	if r.freeze {
		ops = ops.Fork()
	}
	return &Parents{ops: ops, obj: o}
}

// Materialize returns obj as plain Go values: maps become map[string]any,
// lists []any, text a string and scalars their native value.
func (r *Reader) Materialize(obj ExId) (any, error) {
	st, done, err := r.read()
	defer done()
	if err != nil {
		return nil, err
	}
	o, ok := st.ops.LookupObj(obj)
	if !ok {
		return nil, fmt.Errorf("materialize %s: %w", obj, ErrNotFound)
	}
	return materialize(st.ops, o), nil
}

func materialize(ops *opset.OpSet, obj opset.ObjId) any {
	info, _ := ops.Object(obj)
	switch info.Type {
	case types.ObjText:
		s, _ := ops.Text(obj, nil)
		return s
	case types.ObjList:
		out := []any{}
		cur := ops.ListRange(obj, From(0), nil)
		for e, ok := cur.Next(); ok; e, ok = cur.Next() {
			out = append(out, materializeValue(ops, e))
		}
		return out
	default:
		out := map[string]any{}
		cur := ops.MapRange(obj, AllKeys(), nil)
		for e, ok := cur.Next(); ok; e, ok = cur.Next() {
			out[e.Key] = materializeValue(ops, e)
		}
		return out
	}
}

func materializeValue(ops *opset.OpSet, e opset.Entry) any {
	if e.Value.IsObject() {
		return materialize(ops, opset.ObjId(e.Id))
	}
	return e.Value.Scalar().Native()
}
