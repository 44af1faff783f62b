package ol

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"unicode/utf8"

	"github.com/kevinxiao27/egdoc/columnar"
	"github.com/kevinxiao27/egdoc/types"
)

// column ids inside an encoded change
const (
	colObj    columnar.ColumnId = 0
	colKey    columnar.ColumnId = 1
	colInsert columnar.ColumnId = 3
	colAction columnar.ColumnId = 4
	colValue  columnar.ColumnId = 5
	colPred   columnar.ColumnId = 7
)

var (
	specObjActor  = columnar.NewColumnSpec(colObj, columnar.ColumnActor)
	specObjCtr    = columnar.NewColumnSpec(colObj, columnar.ColumnInteger)
	specKeyActor  = columnar.NewColumnSpec(colKey, columnar.ColumnActor)
	specKeyCtr    = columnar.NewColumnSpec(colKey, columnar.ColumnDeltaInteger)
	specKeyStr    = columnar.NewColumnSpec(colKey, columnar.ColumnString)
	specInsert    = columnar.NewColumnSpec(colInsert, columnar.ColumnBoolean)
	specAction    = columnar.NewColumnSpec(colAction, columnar.ColumnInteger)
	specValueMeta = columnar.NewColumnSpec(colValue, columnar.ColumnValueMetadata)
	specValueRaw  = columnar.NewColumnSpec(colValue, columnar.ColumnValue)
	specPredNum   = columnar.NewColumnSpec(colPred, columnar.ColumnGroup)
	specPredActor = columnar.NewColumnSpec(colPred, columnar.ColumnActor)
	specPredCtr   = columnar.NewColumnSpec(colPred, columnar.ColumnDeltaInteger)
)

func hashBytes(b []byte) types.ChangeHash {
	return types.ChangeHash(sha256.Sum256(b))
}

func decodeErr(format string, a ...any) error {
	return fmt.Errorf("%w: change: %s", columnar.ErrDecode, fmt.Sprintf(format, a...))
}

// actorTable assigns the change author index 0 and every other referenced
// actor an index in byte order.
type actorTable struct {
	actors []types.ActorId
	index  map[types.ActorId]int
}

func newActorTable(c *Change) *actorTable {
	others := map[types.ActorId]struct{}{}
	note := func(id types.ExId) {
		if !id.IsRoot() && id.Actor != c.Actor {
			others[id.Actor] = struct{}{}
		}
	}
	for _, op := range c.Ops {
		note(op.Obj)
		if op.Key.Seq {
			note(op.Key.Elem)
		}
		for _, p := range op.Pred {
			note(p)
		}
	}
	sorted := make([]types.ActorId, 0, len(others))
	for a := range others {
		sorted = append(sorted, a)
	}
	slices.SortFunc(sorted, types.ActorId.Compare)

	t := &actorTable{actors: append([]types.ActorId{c.Actor}, sorted...), index: map[types.ActorId]int{}}
	for i, a := range t.actors {
		t.index[a] = i
	}
	return t
}

func encodeChange(c *Change) []byte {
	actors := newActorTable(c)

	var buf []byte
	buf = binary.AppendUvarint(buf, uint64(len(c.Deps)))
	for _, d := range c.Deps {
		buf = append(buf, d[:]...)
	}
	buf = append(buf, c.Actor[:]...)
	buf = binary.AppendUvarint(buf, c.Seq)
	buf = binary.AppendUvarint(buf, c.StartOp)
	buf = binary.AppendVarint(buf, c.Time)
	buf = columnar.AppendLengthPrefixed(buf, []byte(c.Message))
	buf = binary.AppendUvarint(buf, uint64(len(actors.actors)-1))
	for _, a := range actors.actors[1:] {
		buf = append(buf, a[:]...)
	}

	var (
		objActor  = columnar.NewUintEncoder()
		objCtr    = columnar.NewUintEncoder()
		keyActor  = columnar.NewUintEncoder()
		keyCtr    = columnar.NewDeltaEncoder()
		keyStr    = columnar.NewStringEncoder()
		insert    = columnar.NewBooleanEncoder()
		action    = columnar.NewUintEncoder()
		values    = columnar.NewValueEncoder()
		predNum   = columnar.NewUintEncoder()
		predActor = columnar.NewUintEncoder()
		predCtr   = columnar.NewDeltaEncoder()
	)
	for _, op := range c.Ops {
		if op.Obj.IsRoot() {
			objActor.AppendNull()
			objCtr.AppendNull()
		} else {
			objActor.Append(uint64(actors.index[op.Obj.Actor]))
			objCtr.Append(op.Obj.Counter)
		}

		switch {
		case !op.Key.Seq:
			keyActor.AppendNull()
			keyCtr.AppendNull()
			keyStr.Append(op.Key.Prop)
		case op.Key.IsHead():
			keyActor.AppendNull()
			keyCtr.Append(0)
			keyStr.AppendNull()
		default:
			keyActor.Append(uint64(actors.index[op.Key.Elem.Actor]))
			keyCtr.Append(int64(op.Key.Elem.Counter))
			keyStr.AppendNull()
		}

		insert.Append(op.Insert)
		action.Append(uint64(op.Action))
		values.Append(encodeScalar(op.Value))

		predNum.Append(uint64(len(op.Pred)))
		for _, p := range op.Pred {
			predActor.Append(uint64(actors.index[p.Actor]))
			predCtr.Append(int64(p.Counter))
		}
	}

	var layout columnar.LayoutBuilder
	if len(c.Ops) > 0 {
		meta, raw := values.Finish()
		layout.Add(specObjActor, objActor.Finish())
		layout.Add(specObjCtr, objCtr.Finish())
		layout.Add(specKeyActor, keyActor.Finish())
		layout.Add(specKeyCtr, keyCtr.Finish())
		layout.Add(specKeyStr, keyStr.Finish())
		layout.Add(specInsert, insert.Finish())
		layout.Add(specAction, action.Finish())
		layout.Add(specValueMeta, meta)
		layout.Add(specValueRaw, raw)
		layout.Add(specPredNum, predNum.Finish())
		layout.Add(specPredActor, predActor.Finish())
		layout.Add(specPredCtr, predCtr.Finish())
	}
	return layout.AppendTo(buf)
}

func encodeScalar(v types.ScalarValue) (columnar.ValueType, []byte) {
	switch v.Type() {
	case types.ScalarBool:
		if v.AsBool() {
			return columnar.ValueTrue, nil
		}
		return columnar.ValueFalse, nil
	case types.ScalarUint:
		return columnar.ValueUleb, binary.AppendUvarint(nil, v.AsUint())
	case types.ScalarInt:
		return columnar.ValueLeb, binary.AppendVarint(nil, v.AsInt())
	case types.ScalarF64:
		return columnar.ValueFloat, binary.LittleEndian.AppendUint64(nil, math.Float64bits(v.AsF64()))
	case types.ScalarStr:
		return columnar.ValueUtf8, []byte(v.AsStr())
	case types.ScalarBytes:
		return columnar.ValueBytes, v.AsBytes()
	case types.ScalarCounter:
		return columnar.ValueCounter, binary.AppendVarint(nil, v.AsInt())
	case types.ScalarTimestamp:
		return columnar.ValueTimestamp, binary.AppendVarint(nil, v.AsInt())
	default:
		return columnar.ValueNull, nil
	}
}

func decodeScalar(t columnar.ValueType, payload []byte) (types.ScalarValue, error) {
	varint := func() (int64, error) {
		v, n := binary.Varint(payload)
		if n <= 0 || n != len(payload) {
			return 0, decodeErr("malformed signed value")
		}
		return v, nil
	}
	switch t {
	case columnar.ValueNull:
		return types.Null(), nil
	case columnar.ValueFalse:
		return types.Bool(false), nil
	case columnar.ValueTrue:
		return types.Bool(true), nil
	case columnar.ValueUleb:
		v, n := binary.Uvarint(payload)
		if n <= 0 || n != len(payload) {
			return types.ScalarValue{}, decodeErr("malformed unsigned value")
		}
		return types.Uint(v), nil
	case columnar.ValueLeb:
		v, err := varint()
		return types.Int(v), err
	case columnar.ValueFloat:
		if len(payload) != 8 {
			return types.ScalarValue{}, decodeErr("float value of %d bytes", len(payload))
		}
		return types.F64(math.Float64frombits(binary.LittleEndian.Uint64(payload))), nil
	case columnar.ValueUtf8:
		if !utf8.Valid(payload) {
			return types.ScalarValue{}, decodeErr("invalid utf-8 in string value")
		}
		return types.Str(string(payload)), nil
	case columnar.ValueBytes:
		return types.Bytes(slices.Clone(payload)), nil
	case columnar.ValueCounter:
		v, err := varint()
		return types.Counter(v), err
	case columnar.ValueTimestamp:
		v, err := varint()
		return types.Timestamp(v), err
	default:
		return types.ScalarValue{}, decodeErr("unknown value type %d", t)
	}
}

// DecodeChange parses an encoded change. The returned change keeps its own
// copy of b and hashes to the same value as the change that produced it.
func DecodeChange(b []byte) (*Change, error) {
	b = slices.Clone(b)
	r := columnar.NewReader(b)
	c := &Change{bytes: b, hash: hashBytes(b)}

	nDeps, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < nDeps; i++ {
		raw, err := r.Bytes(uint64(len(types.ChangeHash{})))
		if err != nil {
			return nil, err
		}
		c.Deps = append(c.Deps, types.ChangeHash(raw))
	}
	actor, err := r.Bytes(uint64(len(types.ActorId{})))
	if err != nil {
		return nil, err
	}
	c.Actor = types.ActorId(actor)
	if c.Seq, err = r.Uvarint(); err != nil {
		return nil, err
	}
	if c.StartOp, err = r.Uvarint(); err != nil {
		return nil, err
	}
	if c.Time, err = r.Varint(); err != nil {
		return nil, err
	}
	msg, err := r.LengthPrefixed()
	if err != nil {
		return nil, err
	}
	c.Message = string(msg)

	nOthers, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	actors := []types.ActorId{c.Actor}
	for i := uint64(0); i < nOthers; i++ {
		raw, err := r.Bytes(uint64(len(types.ActorId{})))
		if err != nil {
			return nil, err
		}
		actors = append(actors, types.ActorId(raw))
	}

	layout, err := columnar.ParseLayout(b[r.Offset():])
	if err != nil {
		return nil, err
	}
	ops, err := decodeOps(layout, actors)
	if err != nil {
		return nil, err
	}
	c.Ops = ops
	if c.Seq == 0 {
		return nil, decodeErr("seq must be positive")
	}
	return c, nil
}

type opColumns struct {
	objActor  *columnar.RleDecoder[uint64]
	objCtr    *columnar.RleDecoder[uint64]
	keyActor  *columnar.RleDecoder[uint64]
	keyCtr    *columnar.DeltaDecoder
	keyStr    *columnar.RleDecoder[string]
	insert    *columnar.BooleanDecoder
	action    *columnar.RleDecoder[uint64]
	values    *columnar.ValueDecoder
	predNum   *columnar.RleDecoder[uint64]
	predActor *columnar.RleDecoder[uint64]
	predCtr   *columnar.DeltaDecoder
}

func column(layout *columnar.ColumnLayout, spec columnar.ColumnSpec, i int) []byte {
	parts := layout.ColumnBytes(spec.Id(), spec.ColType())
	if i < len(parts) {
		return parts[i]
	}
	return nil
}

func decodeOps(layout *columnar.ColumnLayout, actors []types.ActorId) ([]ChangeOp, error) {
	cols := opColumns{
		objActor:  columnar.NewUintDecoder(column(layout, specObjActor, 0)),
		objCtr:    columnar.NewUintDecoder(column(layout, specObjCtr, 0)),
		keyActor:  columnar.NewUintDecoder(column(layout, specKeyActor, 0)),
		keyCtr:    columnar.NewDeltaDecoder(column(layout, specKeyCtr, 0)),
		keyStr:    columnar.NewStringDecoder(column(layout, specKeyStr, 0)),
		insert:    columnar.NewBooleanDecoder(column(layout, specInsert, 0)),
		action:    columnar.NewUintDecoder(column(layout, specAction, 0)),
		values:    columnar.NewValueDecoder(column(layout, specValueMeta, 0), column(layout, specValueMeta, 1)),
		predNum:   columnar.NewUintDecoder(column(layout, specPredNum, 0)),
		predActor: columnar.NewUintDecoder(column(layout, specPredNum, 1)),
		predCtr:   columnar.NewDeltaDecoder(column(layout, specPredNum, 2)),
	}

	actorAt := func(idx uint64) (types.ActorId, error) {
		if idx >= uint64(len(actors)) {
			return types.ActorId{}, decodeErr("actor index %d out of range", idx)
		}
		return actors[idx], nil
	}
	// truncated reports a column that ended before the action column did.
	truncated := func(name string, err error) error {
		if errors.Is(err, io.EOF) {
			return decodeErr("%s column shorter than action column", name)
		}
		return err
	}

	var ops []ChangeOp
	for {
		act, err := cols.action.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if !act.Valid || act.Value > uint64(types.ActionIncrement) {
			return nil, decodeErr("invalid action in op %d", len(ops))
		}
		op := ChangeOp{Action: types.Action(act.Value)}

		oa, err := cols.objActor.Next()
		if err != nil {
			return nil, truncated("object actor", err)
		}
		oc, err := cols.objCtr.Next()
		if err != nil {
			return nil, truncated("object counter", err)
		}
		if oa.Valid != oc.Valid {
			return nil, decodeErr("object id half null in op %d", len(ops))
		}
		if oa.Valid {
			if op.Obj.Actor, err = actorAt(oa.Value); err != nil {
				return nil, err
			}
			op.Obj.Counter = oc.Value
		}

		ka, err := cols.keyActor.Next()
		if err != nil {
			return nil, truncated("key actor", err)
		}
		kc, err := cols.keyCtr.Next()
		if err != nil {
			return nil, truncated("key counter", err)
		}
		ks, err := cols.keyStr.Next()
		if err != nil {
			return nil, truncated("key string", err)
		}
		switch {
		case ks.Valid:
			op.Key = MapKey(ks.Value)
		case kc.Valid && kc.Value == 0 && !ka.Valid:
			op.Key = SeqKey(types.Root)
		case kc.Valid && ka.Valid && kc.Value > 0:
			actor, err := actorAt(ka.Value)
			if err != nil {
				return nil, err
			}
			op.Key = SeqKey(types.ExId{Counter: uint64(kc.Value), Actor: actor})
		default:
			return nil, decodeErr("missing key in op %d", len(ops))
		}

		if op.Insert, err = cols.insert.Next(); err != nil {
			return nil, truncated("insert", err)
		}
		vt, payload, err := cols.values.Next()
		if err != nil {
			return nil, truncated("value", err)
		}
		if op.Value, err = decodeScalar(vt, payload); err != nil {
			return nil, err
		}

		n, err := cols.predNum.Next()
		if err != nil {
			return nil, truncated("pred count", err)
		}
		for i := uint64(0); n.Valid && i < n.Value; i++ {
			pa, err := cols.predActor.Next()
			if err != nil {
				return nil, truncated("pred actor", err)
			}
			pc, err := cols.predCtr.Next()
			if err != nil {
				return nil, truncated("pred counter", err)
			}
			if !pa.Valid || !pc.Valid || pc.Value <= 0 {
				return nil, decodeErr("invalid pred in op %d", len(ops))
			}
			actor, err := actorAt(pa.Value)
			if err != nil {
				return nil, err
			}
			op.Pred = append(op.Pred, types.ExId{Counter: uint64(pc.Value), Actor: actor})
		}
		ops = append(ops, op)
	}
	return ops, nil
}
