package columnar

import (
	"encoding/binary"
	"io"
)

// MaxRunLength bounds every run (repeated, literal, null or boolean) so a
// hostile control code cannot make a decoder allocate or spin unboundedly.
const MaxRunLength = 1 << 16

// Nullable is a column item that may be absent.
type Nullable[T any] struct {
	Value T
	Valid bool
}

func Some[T any](v T) Nullable[T] {
	return Nullable[T]{Value: v, Valid: true}
}

type valueCodec[T comparable] struct {
	put func([]byte, T) []byte
	get func(*reader) (T, error)
}

var uintCodec = valueCodec[uint64]{
	put: binary.AppendUvarint,
	get: (*reader).uvarint,
}

var intCodec = valueCodec[int64]{
	put: binary.AppendVarint,
	get: (*reader).varint,
}

var stringCodec = valueCodec[string]{
	put: func(buf []byte, s string) []byte {
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		return append(buf, s...)
	},
	get: func(r *reader) (string, error) {
		n, err := r.uvarint()
		if err != nil {
			return "", err
		}
		b, err := r.take(n)
		return string(b), err
	},
}

type rleState int

const (
	stateEmpty rleState = iota
	stateNullRun
	stateLoneVal
	stateRun
	stateLiteral
)

// RleEncoder run-length encodes a nullable column. A control varint n > 0
// precedes a run of n copies of one value, n < 0 precedes -n literal values
// and 0 precedes a ULEB count of nulls.
type RleEncoder[T comparable] struct {
	codec   valueCodec[T]
	buf     []byte
	state   rleState
	count   int
	last    T
	literal []T
	n       int
}

func NewUintEncoder() *RleEncoder[uint64]   { return &RleEncoder[uint64]{codec: uintCodec} }
func NewIntEncoder() *RleEncoder[int64]     { return &RleEncoder[int64]{codec: intCodec} }
func NewStringEncoder() *RleEncoder[string] { return &RleEncoder[string]{codec: stringCodec} }

// Len is the number of items appended so far.
func (e *RleEncoder[T]) Len() int {
	return e.n
}

func (e *RleEncoder[T]) Append(v T) {
	e.n++
	switch e.state {
	case stateEmpty:
		e.state, e.last = stateLoneVal, v
	case stateNullRun:
		e.flushNulls()
		e.state, e.last = stateLoneVal, v
	case stateLoneVal:
		if e.last == v {
			e.state, e.count = stateRun, 2
		} else {
			e.state = stateLiteral
			e.literal = append(e.literal[:0], e.last)
			e.last = v
		}
	case stateRun:
		if e.last == v && e.count < MaxRunLength {
			e.count++
		} else {
			e.flushRun()
			e.state, e.last = stateLoneVal, v
		}
	case stateLiteral:
		if e.last == v {
			e.flushLiteral()
			e.state, e.count = stateRun, 2
			return
		}
		e.literal = append(e.literal, e.last)
		e.last = v
		if len(e.literal)+1 >= MaxRunLength {
			e.literal = append(e.literal, e.last)
			e.flushLiteral()
			e.state = stateEmpty
		}
	}
}

func (e *RleEncoder[T]) AppendNull() {
	e.n++
	switch e.state {
	case stateEmpty:
		e.state, e.count = stateNullRun, 1
	case stateNullRun:
		if e.count == MaxRunLength {
			e.flushNulls()
			e.count = 0
		}
		e.count++
	case stateLoneVal:
		e.literal = append(e.literal[:0], e.last)
		e.flushLiteral()
		e.state, e.count = stateNullRun, 1
	case stateRun:
		e.flushRun()
		e.state, e.count = stateNullRun, 1
	case stateLiteral:
		e.literal = append(e.literal, e.last)
		e.flushLiteral()
		e.state, e.count = stateNullRun, 1
	}
}

func (e *RleEncoder[T]) AppendNullable(v Nullable[T]) {
	if v.Valid {
		e.Append(v.Value)
	} else {
		e.AppendNull()
	}
}

// Finish flushes pending runs and returns the encoded column.
func (e *RleEncoder[T]) Finish() []byte {
	switch e.state {
	case stateNullRun:
		e.flushNulls()
	case stateLoneVal:
		e.literal = append(e.literal[:0], e.last)
		e.flushLiteral()
	case stateRun:
		e.flushRun()
	case stateLiteral:
		e.literal = append(e.literal, e.last)
		e.flushLiteral()
	}
	e.state = stateEmpty
	return e.buf
}

func (e *RleEncoder[T]) flushNulls() {
	e.buf = binary.AppendVarint(e.buf, 0)
	e.buf = binary.AppendUvarint(e.buf, uint64(e.count))
}

func (e *RleEncoder[T]) flushRun() {
	e.buf = binary.AppendVarint(e.buf, int64(e.count))
	e.buf = e.codec.put(e.buf, e.last)
}

func (e *RleEncoder[T]) flushLiteral() {
	e.buf = binary.AppendVarint(e.buf, -int64(len(e.literal)))
	for _, v := range e.literal {
		e.buf = e.codec.put(e.buf, v)
	}
	e.literal = e.literal[:0]
}

// RleDecoder reads a column written by RleEncoder. Next returns io.EOF once
// the column is exhausted.
type RleDecoder[T comparable] struct {
	codec     valueCodec[T]
	r         *reader
	kind      rleState
	remaining int
	value     T
}

func NewUintDecoder(buf []byte) *RleDecoder[uint64] {
	return &RleDecoder[uint64]{codec: uintCodec, r: newReader(buf)}
}

func NewIntDecoder(buf []byte) *RleDecoder[int64] {
	return &RleDecoder[int64]{codec: intCodec, r: newReader(buf)}
}

func NewStringDecoder(buf []byte) *RleDecoder[string] {
	return &RleDecoder[string]{codec: stringCodec, r: newReader(buf)}
}

func (d *RleDecoder[T]) Done() bool {
	return d.remaining == 0 && d.r.done()
}

func (d *RleDecoder[T]) Next() (Nullable[T], error) {
	if d.remaining == 0 {
		if d.r.done() {
			return Nullable[T]{}, io.EOF
		}
		if err := d.readControl(); err != nil {
			return Nullable[T]{}, err
		}
	}
	d.remaining--
	switch d.kind {
	case stateNullRun:
		return Nullable[T]{}, nil
	case stateRun:
		return Some(d.value), nil
	default:
		v, err := d.readValue()
		if err != nil {
			return Nullable[T]{}, err
		}
		return Some(v), nil
	}
}

// Collect drains the decoder.
func (d *RleDecoder[T]) Collect() ([]Nullable[T], error) {
	var out []Nullable[T]
	for {
		v, err := d.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

func (d *RleDecoder[T]) readControl() error {
	off := d.r.off
	c, err := d.r.varint()
	if err != nil {
		return err
	}
	switch {
	case c > 0:
		if c > MaxRunLength {
			return decodeErr(off, "run length %d exceeds maximum", c)
		}
		v, err := d.readValue()
		if err != nil {
			return err
		}
		d.kind, d.remaining, d.value = stateRun, int(c), v
	case c < 0:
		if c < -MaxRunLength {
			return decodeErr(off, "literal length %d exceeds maximum", -c)
		}
		d.kind, d.remaining = stateLiteral, int(-c)
	default:
		n, err := d.r.uvarint()
		if err == io.ErrUnexpectedEOF {
			return decodeErr(d.r.off, "truncated null run")
		}
		if err != nil {
			return err
		}
		if n == 0 || n > MaxRunLength {
			return decodeErr(off, "invalid null run length %d", n)
		}
		d.kind, d.remaining = stateNullRun, int(n)
	}
	return nil
}

func (d *RleDecoder[T]) readValue() (T, error) {
	v, err := d.codec.get(d.r)
	if err == io.ErrUnexpectedEOF {
		return v, decodeErr(d.r.off, "truncated value")
	}
	return v, err
}
