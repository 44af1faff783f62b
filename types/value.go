package types

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
)

type ObjType uint8

const (
	ObjMap ObjType = iota + 1
	ObjList
	ObjText
)

func (t ObjType) String() string {
	switch t {
	case ObjMap:
		return "map"
	case ObjList:
		return "list"
	case ObjText:
		return "text"
	default:
		return "obj(" + strconv.Itoa(int(t)) + ")"
	}
}

// IsSequence reports whether the object is indexed by position.
func (t ObjType) IsSequence() bool {
	return t == ObjList || t == ObjText
}

type Action uint8

// Action codes are part of the change wire format.
const (
	ActionMakeMap Action = iota
	ActionPut
	ActionMakeList
	ActionDelete
	ActionMakeText
	ActionIncrement
)

func MakeAction(t ObjType) Action {
	switch t {
	case ObjList:
		return ActionMakeList
	case ObjText:
		return ActionMakeText
	default:
		return ActionMakeMap
	}
}

// ObjType returns the kind of object the action creates, if any.
func (a Action) ObjType() (ObjType, bool) {
	switch a {
	case ActionMakeMap:
		return ObjMap, true
	case ActionMakeList:
		return ObjList, true
	case ActionMakeText:
		return ObjText, true
	default:
		return 0, false
	}
}

func (a Action) String() string {
	switch a {
	case ActionMakeMap:
		return "makeMap"
	case ActionPut:
		return "put"
	case ActionMakeList:
		return "makeList"
	case ActionDelete:
		return "del"
	case ActionMakeText:
		return "makeText"
	case ActionIncrement:
		return "inc"
	default:
		return "action(" + strconv.Itoa(int(a)) + ")"
	}
}

type ScalarType uint8

const (
	ScalarNull ScalarType = iota
	ScalarBool
	ScalarInt
	ScalarUint
	ScalarF64
	ScalarStr
	ScalarBytes
	ScalarCounter
	ScalarTimestamp
)

func (t ScalarType) String() string {
	return [...]string{"null", "bool", "int", "uint", "f64", "str", "bytes", "counter", "timestamp"}[t]
}

// ScalarValue is an immutable leaf value. The zero value is null.
type ScalarValue struct {
	typ   ScalarType
	num   uint64
	str   string
	bytes []byte
}

func Null() ScalarValue { return ScalarValue{} }

func Bool(b bool) ScalarValue {
	var n uint64
	if b {
		n = 1
	}
	return ScalarValue{typ: ScalarBool, num: n}
}

func Int(i int64) ScalarValue       { return ScalarValue{typ: ScalarInt, num: uint64(i)} }
func Uint(u uint64) ScalarValue     { return ScalarValue{typ: ScalarUint, num: u} }
func F64(f float64) ScalarValue     { return ScalarValue{typ: ScalarF64, num: math.Float64bits(f)} }
func Str(s string) ScalarValue      { return ScalarValue{typ: ScalarStr, str: s} }
func Counter(i int64) ScalarValue   { return ScalarValue{typ: ScalarCounter, num: uint64(i)} }
func Timestamp(i int64) ScalarValue { return ScalarValue{typ: ScalarTimestamp, num: uint64(i)} }

func Bytes(b []byte) ScalarValue {
	return ScalarValue{typ: ScalarBytes, bytes: bytes.Clone(b)}
}

func (v ScalarValue) Type() ScalarType { return v.typ }
func (v ScalarValue) IsNull() bool     { return v.typ == ScalarNull }
func (v ScalarValue) IsCounter() bool  { return v.typ == ScalarCounter }
func (v ScalarValue) AsBool() bool     { return v.num != 0 }

// AsInt returns the value of an int, counter or timestamp.
func (v ScalarValue) AsInt() int64     { return int64(v.num) }
func (v ScalarValue) AsUint() uint64   { return v.num }
func (v ScalarValue) AsF64() float64   { return math.Float64frombits(v.num) }
func (v ScalarValue) AsStr() string    { return v.str }
func (v ScalarValue) AsBytes() []byte  { return v.bytes }

func (v ScalarValue) Equal(o ScalarValue) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case ScalarStr:
		return v.str == o.str
	case ScalarBytes:
		return bytes.Equal(v.bytes, o.bytes)
	default:
		return v.num == o.num
	}
}

// Native returns the value as a plain Go value, for json/yaml output.
func (v ScalarValue) Native() any {
	switch v.typ {
	case ScalarBool:
		return v.AsBool()
	case ScalarInt, ScalarCounter, ScalarTimestamp:
		return v.AsInt()
	case ScalarUint:
		return v.AsUint()
	case ScalarF64:
		return v.AsF64()
	case ScalarStr:
		return v.str
	case ScalarBytes:
		return v.bytes
	default:
		return nil
	}
}

func (v ScalarValue) String() string {
	switch v.typ {
	case ScalarNull:
		return "null"
	case ScalarStr:
		return strconv.Quote(v.str)
	case ScalarBytes:
		return fmt.Sprintf("%x", v.bytes)
	case ScalarCounter:
		return fmt.Sprintf("counter(%d)", v.AsInt())
	case ScalarTimestamp:
		return fmt.Sprintf("timestamp(%d)", v.AsInt())
	default:
		return fmt.Sprint(v.Native())
	}
}

// Value is either an object of some ObjType or a scalar.
type Value struct {
	obj    ObjType
	scalar ScalarValue
}

func ObjectValue(t ObjType) Value      { return Value{obj: t} }
func ScalarOf(s ScalarValue) Value     { return Value{scalar: s} }
func (v Value) IsObject() bool         { return v.obj != 0 }
func (v Value) ObjType() ObjType       { return v.obj }
func (v Value) Scalar() ScalarValue    { return v.scalar }

func (v Value) String() string {
	if v.IsObject() {
		return v.obj.String()
	}
	return v.scalar.String()
}
