package columnar

import (
	"encoding/binary"
	"slices"
)

// ColumnLayout is a parsed blob: the logical columns and the buffer they
// index into. The layout never copies column data.
type ColumnLayout struct {
	buf     []byte
	columns []Column
}

type rawColumn struct {
	spec ColumnSpec
	r    Range
}

// ParseLayout reads a column header and validates every range against buf.
// The column data must end exactly at the end of buf.
func ParseLayout(buf []byte) (*ColumnLayout, error) {
	r := newReader(buf)
	count, err := r.uvarint()
	if err != nil {
		return nil, decodeErr(r.off, "column count: %v", err)
	}
	if count > uint64(len(buf)) {
		return nil, decodeErr(0, "column count %d exceeds buffer", count)
	}

	specs := make([]ColumnSpec, 0, count)
	lengths := make([]uint64, 0, count)
	for i := uint64(0); i < count; i++ {
		off := r.off
		s, err := r.uvarint()
		if err != nil {
			return nil, decodeErr(off, "column %d spec: %v", i, err)
		}
		if s > 0xffffffff {
			return nil, decodeErr(off, "column spec %d out of range", s)
		}
		spec := ColumnSpec(s)
		if spec.Deflate() {
			return nil, decodeErr(off, "column %s is deflated, which is not supported", spec)
		}
		if n := len(specs); n > 0 && spec <= specs[n-1] {
			return nil, decodeErr(off, "column %s out of order after %s", spec, specs[n-1])
		}
		off = r.off
		l, err := r.uvarint()
		if err != nil {
			return nil, decodeErr(off, "column %s length: %v", spec, err)
		}
		specs = append(specs, spec)
		lengths = append(lengths, l)
	}

	raw := make([]rawColumn, 0, count)
	pos := r.off
	for i, spec := range specs {
		if lengths[i] > uint64(len(buf)-pos) {
			return nil, decodeErr(pos, "column %s range of %d bytes exceeds buffer", spec, lengths[i])
		}
		end := pos + int(lengths[i])
		raw = append(raw, rawColumn{spec: spec, r: Range{Start: pos, End: end}})
		pos = end
	}
	if pos != len(buf) {
		return nil, decodeErr(pos, "%d trailing bytes after columns", len(buf)-pos)
	}

	columns, err := groupColumns(raw)
	if err != nil {
		return nil, err
	}
	return &ColumnLayout{buf: buf, columns: columns}, nil
}

func groupColumns(raw []rawColumn) ([]Column, error) {
	var columns []Column
	valueRange := func(i int) (ValueColRange, int) {
		meta := raw[i]
		vr := ValueColRange{Meta: meta.r, Raw: Range{Start: meta.r.End, End: meta.r.End}}
		if i+1 < len(raw) && raw[i+1].spec == NewColumnSpec(meta.spec.Id(), ColumnValue) {
			vr.Raw = raw[i+1].r
			i++
		}
		return vr, i
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c.spec.ColType() {
		case ColumnValue:
			return nil, decodeErr(c.r.Start, "value column %s without metadata", c.spec)
		case ColumnValueMetadata:
			var vr ValueColRange
			vr, i = valueRange(i)
			columns = append(columns, NewColumn(c.spec, vr))
		case ColumnGroup:
			group := GroupColRange{Num: c.r}
			for i+1 < len(raw) && raw[i+1].spec.Id() == c.spec.Id() {
				i++
				child := raw[i]
				switch child.spec.ColType() {
				case ColumnValue:
					return nil, decodeErr(child.r.Start, "value column %s without metadata", child.spec)
				case ColumnValueMetadata:
					var vr ValueColRange
					vr, i = valueRange(i)
					group.Values = append(group.Values, vr)
				default:
					group.Values = append(group.Values, SimpleColRange{Type: child.spec.ColType(), R: child.r})
				}
			}
			columns = append(columns, NewColumn(c.spec, group))
		default:
			columns = append(columns, NewColumn(c.spec, SimpleColRange{Type: c.spec.ColType(), R: c.r}))
		}
	}
	return columns, nil
}

func (l *ColumnLayout) Columns() []Column {
	return l.columns
}

// Find returns the logical column with the given id and type.
func (l *ColumnLayout) Find(id ColumnId, t ColumnType) (Column, bool) {
	spec := NewColumnSpec(id, t)
	for _, c := range l.columns {
		if c.spec == spec {
			return c, true
		}
	}
	return Column{}, false
}

// Bytes returns the slice of the blob covered by r.
func (l *ColumnLayout) Bytes(r Range) []byte {
	return l.buf[r.Start:r.End]
}

// ColumnBytes returns the primitive ranges of the column identified by
// (id, t), or nil slices when the column is absent.
func (l *ColumnLayout) ColumnBytes(id ColumnId, t ColumnType) [][]byte {
	c, ok := l.Find(id, t)
	if !ok {
		return nil
	}
	ranges := c.IntoRanges().Ranges()
	out := make([][]byte, len(ranges))
	for i, r := range ranges {
		out[i] = l.Bytes(r)
	}
	return out
}

// LayoutBuilder collects encoded primitive columns and writes a blob.
type LayoutBuilder struct {
	cols []builtColumn
}

type builtColumn struct {
	spec ColumnSpec
	data []byte
}

func (b *LayoutBuilder) Add(spec ColumnSpec, data []byte) {
	b.cols = append(b.cols, builtColumn{spec: spec.Normalize(), data: data})
}

// AppendTo writes the header and column data in spec order. Adding the same
// spec twice keeps the last data.
func (b *LayoutBuilder) AppendTo(buf []byte) []byte {
	cols := slices.Clone(b.cols)
	slices.SortStableFunc(cols, func(x, y builtColumn) int {
		switch {
		case x.spec < y.spec:
			return -1
		case x.spec > y.spec:
			return 1
		default:
			return 0
		}
	})
	deduped := cols[:0]
	for _, c := range cols {
		if n := len(deduped); n > 0 && deduped[n-1].spec == c.spec {
			deduped[n-1] = c
			continue
		}
		deduped = append(deduped, c)
	}

	buf = binary.AppendUvarint(buf, uint64(len(deduped)))
	for _, c := range deduped {
		buf = binary.AppendUvarint(buf, uint64(c.spec))
		buf = binary.AppendUvarint(buf, uint64(len(c.data)))
	}
	for _, c := range deduped {
		buf = append(buf, c.data...)
	}
	return buf
}

func (b *LayoutBuilder) Bytes() []byte {
	return b.AppendTo(nil)
}
