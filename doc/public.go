package doc

import (
	"github.com/kevinxiao27/egdoc/ol"
	"github.com/kevinxiao27/egdoc/opset"
	"github.com/kevinxiao27/egdoc/types"
)

// Re-exported so callers of the document API need a single import.
type (
	ActorId     = types.ActorId
	ChangeHash  = types.ChangeHash
	ExId        = types.ExId
	ObjType     = types.ObjType
	Action      = types.Action
	ScalarValue = types.ScalarValue
	Value       = types.Value
	Prop        = types.Prop
	Key         = types.Key
	Index       = types.Index
	Change      = ol.Change
	KeyRange    = opset.KeyRange
	IndexRange  = opset.IndexRange
)

var Root = types.Root

const (
	ObjMap  = types.ObjMap
	ObjList = types.ObjList
	ObjText = types.ObjText
)

// ValueId is a value together with the id of the op that wrote it.
type ValueId struct {
	Value Value
	Id    ExId
}

// AllKeys selects every key of a map.
func AllKeys() KeyRange { return KeyRange{} }

// KeysBetween selects the keys k with from <= k < to.
func KeysBetween(from, to string) KeyRange {
	return KeyRange{From: from, To: to, HasTo: true}
}

// From selects the list indices from start on.
func From(start int) IndexRange { return IndexRange{Start: start, End: -1} }

// Between selects the list indices i with start <= i < end.
func Between(start, end int) IndexRange {
	return IndexRange{Start: start, End: max(end, 0)}
}

func NewActorId() ActorId { return types.NewActorId() }
