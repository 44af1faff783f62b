package opset

import (
	"errors"
	"fmt"

	"github.com/kevinxiao27/egdoc/types"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrWrongType  = errors.New("wrong object type")
	ErrOutOfRange = errors.New("index out of range")
)

// OpId is an op id whose actor is an index into the OpSet's actor table.
// The zero value never names an op.
type OpId struct {
	Counter uint64
	Actor   uint32
}

func (id OpId) IsZero() bool { return id.Counter == 0 }

func (id OpId) String() string {
	return fmt.Sprintf("%d@%d", id.Counter, id.Actor)
}

// ObjId is the id of the op that created an object. Root is the zero value.
type ObjId OpId

var Root ObjId

func (o ObjId) IsRoot() bool { return o == Root }
func (o ObjId) Op() OpId     { return OpId(o) }

// Key is where an op lands inside its object: a map property, or the
// element id of a list/text element. A seq key with a zero Elem is the head.
type Key struct {
	Prop string
	Elem OpId
	Seq  bool
}

func MapKey(prop string) Key { return Key{Prop: prop} }
func SeqKey(elem OpId) Key   { return Key{Elem: elem, Seq: true} }

// Succ records an op that superseded or incremented another op.
type Succ struct {
	Id  OpId
	Inc bool
	By  int64
}

type Op struct {
	Id     OpId
	Obj    ObjId
	Key    Key
	Insert bool
	Action types.Action
	Value  types.ScalarValue
	Pred   []OpId
	Succ   []Succ
}

// Elem is the list element an op belongs to.
func (op *Op) Elem() OpId {
	if op.Insert {
		return op.Id
	}
	return op.Key.Elem
}

// Clock selects a historical version: for each actor index, the greatest
// op counter included. A nil Clock is the current version.
type Clock map[uint32]uint64

func (c Clock) Covers(id OpId) bool {
	if c == nil {
		return true
	}
	max, ok := c[id.Actor]
	return ok && id.Counter <= max
}

// VisibleAt reports whether op holds a live value in the version c.
func (op *Op) VisibleAt(c Clock) bool {
	if op.Action == types.ActionDelete || op.Action == types.ActionIncrement {
		return false
	}
	if !c.Covers(op.Id) {
		return false
	}
	for _, s := range op.Succ {
		if !s.Inc && c.Covers(s.Id) {
			return false
		}
	}
	return true
}

// ValueAt is the value op holds in the version c. Counters include every
// covered increment.
func (op *Op) ValueAt(c Clock) types.Value {
	if t, ok := op.Action.ObjType(); ok {
		return types.ObjectValue(t)
	}
	if !op.Value.IsCounter() {
		return types.ScalarOf(op.Value)
	}
	sum := op.Value.AsInt()
	for _, s := range op.Succ {
		if s.Inc && c.Covers(s.Id) {
			sum += s.By
		}
	}
	return types.ScalarOf(types.Counter(sum))
}
