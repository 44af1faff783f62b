package ol

import (
	"slices"

	"github.com/kevinxiao27/egdoc/types"
)

// Key is the target slot of a change op: a map property, or the element id
// of a list/text element. A seq key with a zero Elem refers to the head of
// the sequence.
type Key struct {
	Prop string
	Elem types.ExId
	Seq  bool
}

func MapKey(prop string) Key     { return Key{Prop: prop} }
func SeqKey(elem types.ExId) Key { return Key{Elem: elem, Seq: true} }
func (k Key) IsHead() bool       { return k.Seq && k.Elem.IsRoot() }

// ChangeOp is an operation as carried by a change. References use exported
// ids so the op means the same thing on every replica.
type ChangeOp struct {
	Obj    types.ExId
	Key    Key
	Insert bool
	Action types.Action
	Value  types.ScalarValue
	Pred   []types.ExId
}

// Change is an immutable, content addressed batch of ops from one actor.
// Ops get consecutive counters starting at StartOp.
type Change struct {
	Actor   types.ActorId
	Seq     uint64
	StartOp uint64
	Time    int64
	Message string
	Deps    []types.ChangeHash
	Ops     []ChangeOp

	hash  types.ChangeHash
	bytes []byte
}

// NewChange seals c: deps are sorted, the change is encoded and hashed.
func NewChange(c Change) *Change {
	c.Deps = types.SortHashes(slices.Clone(c.Deps))
	c.bytes = encodeChange(&c)
	c.hash = hashBytes(c.bytes)
	return &c
}

func (c *Change) Hash() types.ChangeHash { return c.hash }

// Bytes is the encoded change. Callers must not modify it.
func (c *Change) Bytes() []byte { return c.bytes }

// MaxOp is the counter of the last op, or StartOp-1 for an empty change.
func (c *Change) MaxOp() uint64 {
	return c.StartOp + uint64(len(c.Ops)) - 1
}

// OpId returns the exported id of the i-th op.
func (c *Change) OpId(i int) types.ExId {
	return types.ExId{Counter: c.StartOp + uint64(i), Actor: c.Actor}
}

// RemoteVersion maps each actor to the last seq applied.
type RemoteVersion map[types.ActorId]uint64

// Clock maps each actor to the greatest op counter covered by a version.
type Clock map[types.ActorId]uint64

func (c Clock) Covers(id types.ExId) bool {
	max, ok := c[id.Actor]
	return ok && id.Counter <= max
}
