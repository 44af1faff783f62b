package columnar

import (
	"encoding/binary"
	"io"
)

// reader walks a borrowed buffer. Slices it returns alias the buffer.
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) done() bool {
	return r.off >= len(r.buf)
}

func (r *reader) uvarint() (uint64, error) {
	if r.done() {
		return 0, io.ErrUnexpectedEOF
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n == 0 {
		return 0, decodeErr(r.off, "truncated varint")
	}
	if n < 0 {
		return 0, decodeErr(r.off, "varint overflows 64 bits")
	}
	r.off += n
	return v, nil
}

func (r *reader) varint() (int64, error) {
	if r.done() {
		return 0, io.ErrUnexpectedEOF
	}
	v, n := binary.Varint(r.buf[r.off:])
	if n == 0 {
		return 0, decodeErr(r.off, "truncated varint")
	}
	if n < 0 {
		return 0, decodeErr(r.off, "varint overflows 64 bits")
	}
	r.off += n
	return v, nil
}

func (r *reader) take(n uint64) ([]byte, error) {
	if n > uint64(len(r.buf)-r.off) {
		return nil, decodeErr(r.off, "need %d bytes, have %d", n, len(r.buf)-r.off)
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

// Reader exposes the varint primitives for headers that sit outside a column
// layout, such as change headers.
type Reader struct {
	r reader
}

func NewReader(buf []byte) *Reader {
	return &Reader{r: reader{buf: buf}}
}

func (r *Reader) Offset() int { return r.r.off }
func (r *Reader) Done() bool  { return r.r.done() }

func (r *Reader) Uvarint() (uint64, error) {
	v, err := r.r.uvarint()
	if err == io.ErrUnexpectedEOF {
		return 0, decodeErr(r.r.off, "unexpected end of buffer")
	}
	return v, err
}

func (r *Reader) Varint() (int64, error) {
	v, err := r.r.varint()
	if err == io.ErrUnexpectedEOF {
		return 0, decodeErr(r.r.off, "unexpected end of buffer")
	}
	return v, err
}

func (r *Reader) Bytes(n uint64) ([]byte, error) {
	return r.r.take(n)
}

// LengthPrefixed reads a ULEB length followed by that many bytes.
func (r *Reader) LengthPrefixed() ([]byte, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	return r.r.take(n)
}

func AppendLengthPrefixed(buf []byte, b []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}
