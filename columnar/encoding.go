package columnar

import (
	"encoding/binary"
	"io"
)

// DeltaEncoder stores each integer as the difference from the previous
// non-null integer, run-length encoded. Monotone counters collapse to a
// single run.
type DeltaEncoder struct {
	rle *RleEncoder[int64]
	abs int64
}

func NewDeltaEncoder() *DeltaEncoder {
	return &DeltaEncoder{rle: NewIntEncoder()}
}

func (e *DeltaEncoder) Append(v int64) {
	e.rle.Append(v - e.abs)
	e.abs = v
}

func (e *DeltaEncoder) AppendNull() {
	e.rle.AppendNull()
}

func (e *DeltaEncoder) AppendNullable(v Nullable[int64]) {
	if v.Valid {
		e.Append(v.Value)
	} else {
		e.AppendNull()
	}
}

func (e *DeltaEncoder) Len() int       { return e.rle.Len() }
func (e *DeltaEncoder) Finish() []byte { return e.rle.Finish() }

type DeltaDecoder struct {
	rle *RleDecoder[int64]
	abs int64
}

func NewDeltaDecoder(buf []byte) *DeltaDecoder {
	return &DeltaDecoder{rle: NewIntDecoder(buf)}
}

func (d *DeltaDecoder) Done() bool { return d.rle.Done() }

func (d *DeltaDecoder) Next() (Nullable[int64], error) {
	delta, err := d.rle.Next()
	if err != nil || !delta.Valid {
		return delta, err
	}
	d.abs += delta.Value
	return Some(d.abs), nil
}

// BooleanEncoder writes alternating run lengths, starting with a run of
// false. A run longer than MaxRunLength is split by an empty opposite run.
type BooleanEncoder struct {
	buf   []byte
	last  bool
	count int
	n     int
}

func NewBooleanEncoder() *BooleanEncoder {
	return &BooleanEncoder{}
}

func (e *BooleanEncoder) Append(b bool) {
	e.n++
	if b == e.last {
		if e.count == MaxRunLength {
			e.buf = binary.AppendUvarint(e.buf, uint64(e.count))
			e.buf = binary.AppendUvarint(e.buf, 0)
			e.count = 0
		}
		e.count++
		return
	}
	e.buf = binary.AppendUvarint(e.buf, uint64(e.count))
	e.last = b
	e.count = 1
}

func (e *BooleanEncoder) Len() int { return e.n }

func (e *BooleanEncoder) Finish() []byte {
	if e.count > 0 {
		e.buf = binary.AppendUvarint(e.buf, uint64(e.count))
		e.count = 0
	}
	return e.buf
}

type BooleanDecoder struct {
	r         *reader
	value     bool
	started   bool
	remaining uint64
}

func NewBooleanDecoder(buf []byte) *BooleanDecoder {
	return &BooleanDecoder{r: newReader(buf)}
}

func (d *BooleanDecoder) Done() bool {
	return d.remaining == 0 && d.r.done()
}

func (d *BooleanDecoder) Next() (bool, error) {
	for d.remaining == 0 {
		if d.r.done() {
			return false, io.EOF
		}
		off := d.r.off
		n, err := d.r.uvarint()
		if err != nil {
			return false, err
		}
		if n > MaxRunLength {
			return false, decodeErr(off, "boolean run length %d exceeds maximum", n)
		}
		if d.started {
			d.value = !d.value
		}
		d.started = true
		d.remaining = n
	}
	d.remaining--
	return d.value, nil
}

// RawEncoder concatenates opaque byte strings. Their lengths live in a
// companion column.
type RawEncoder struct {
	buf []byte
}

func (e *RawEncoder) Append(b []byte) int {
	e.buf = append(e.buf, b...)
	return len(b)
}

func (e *RawEncoder) Finish() []byte { return e.buf }

// RawDecoder hands out slices of the underlying buffer without copying.
type RawDecoder struct {
	r *reader
}

func NewRawDecoder(buf []byte) *RawDecoder {
	return &RawDecoder{r: newReader(buf)}
}

func (d *RawDecoder) Done() bool { return d.r.done() }

func (d *RawDecoder) Read(n uint64) ([]byte, error) {
	return d.r.take(n)
}

// ValueType is the low nibble of a value metadata entry.
type ValueType uint8

const (
	ValueNull ValueType = iota
	ValueFalse
	ValueTrue
	ValueUleb
	ValueLeb
	ValueFloat
	ValueUtf8
	ValueBytes
	ValueCounter
	ValueTimestamp
)

// ValueEncoder writes a metadata column of len<<4|type entries and a raw
// column holding the payloads.
type ValueEncoder struct {
	meta *RleEncoder[uint64]
	raw  RawEncoder
}

func NewValueEncoder() *ValueEncoder {
	return &ValueEncoder{meta: NewUintEncoder()}
}

func (e *ValueEncoder) Append(t ValueType, payload []byte) {
	e.meta.Append(uint64(len(payload))<<4 | uint64(t&0x0f))
	e.raw.Append(payload)
}

func (e *ValueEncoder) Len() int { return e.meta.Len() }

func (e *ValueEncoder) Finish() (meta []byte, raw []byte) {
	return e.meta.Finish(), e.raw.Finish()
}

type ValueDecoder struct {
	meta *RleDecoder[uint64]
	raw  *RawDecoder
}

func NewValueDecoder(meta []byte, raw []byte) *ValueDecoder {
	return &ValueDecoder{meta: NewUintDecoder(meta), raw: NewRawDecoder(raw)}
}

func (d *ValueDecoder) Done() bool { return d.meta.Done() }

// Next returns the value type and its payload, which aliases the raw column.
func (d *ValueDecoder) Next() (ValueType, []byte, error) {
	m, err := d.meta.Next()
	if err != nil {
		return ValueNull, nil, err
	}
	if !m.Valid {
		return ValueNull, nil, nil
	}
	payload, err := d.raw.Read(m.Value >> 4)
	if err != nil {
		return ValueNull, nil, err
	}
	return ValueType(m.Value & 0x0f), payload, nil
}
