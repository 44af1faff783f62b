// Package columnar packs logical fields of operation data into contiguous,
// self-describing byte ranges and reads them back in place.
//
// A blob is a header listing (ColumnSpec, length) pairs followed by the
// column data. Columns are addressed purely by byte range so a decoder can
// work directly against a received buffer.
package columnar

import (
	"fmt"
	"strconv"
)

type ColumnId uint32

type ColumnType uint8

const (
	ColumnGroup ColumnType = iota
	ColumnActor
	ColumnInteger
	ColumnDeltaInteger
	ColumnBoolean
	ColumnString
	ColumnValueMetadata
	ColumnValue
)

func (t ColumnType) String() string {
	switch t {
	case ColumnGroup:
		return "group"
	case ColumnActor:
		return "actor"
	case ColumnInteger:
		return "integer"
	case ColumnDeltaInteger:
		return "delta"
	case ColumnBoolean:
		return "boolean"
	case ColumnString:
		return "string"
	case ColumnValueMetadata:
		return "value-metadata"
	case ColumnValue:
		return "value"
	default:
		return "type(" + strconv.Itoa(int(t)) + ")"
	}
}

// ColumnSpec packs id<<4 | deflate<<3 | type.
type ColumnSpec uint32

const deflateBit = 0x08

func NewColumnSpec(id ColumnId, t ColumnType) ColumnSpec {
	return ColumnSpec(uint32(id)<<4 | uint32(t&0x07))
}

func (s ColumnSpec) Id() ColumnId         { return ColumnId(s >> 4) }
func (s ColumnSpec) ColType() ColumnType  { return ColumnType(s & 0x07) }
func (s ColumnSpec) Deflate() bool        { return s&deflateBit != 0 }
func (s ColumnSpec) Normalize() ColumnSpec { return s &^ deflateBit }

func (s ColumnSpec) String() string {
	return fmt.Sprintf("%d:%s", s.Id(), s.ColType())
}

// Range is a half-open byte span within a blob.
type Range struct {
	Start int
	End   int
}

func (r Range) Len() int      { return r.End - r.Start }
func (r Range) IsEmpty() bool { return r.End <= r.Start }

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// GenericColumnRange is the physical layout behind one logical column: a
// SimpleColRange, a ValueColRange or a GroupColRange.
type GenericColumnRange interface {
	// Range spans every primitive range of the column.
	Range() Range
	// Ranges lists the primitive ranges in blob order.
	Ranges() []Range
	isGenericColumnRange()
}

type SimpleColRange struct {
	Type ColumnType
	R    Range
}

func (r SimpleColRange) Range() Range    { return r.R }
func (r SimpleColRange) Ranges() []Range { return []Range{r.R} }
func (SimpleColRange) isGenericColumnRange() {}

type ValueColRange struct {
	Meta Range
	Raw  Range
}

func (r ValueColRange) Range() Range    { return Range{Start: r.Meta.Start, End: r.Raw.End} }
func (r ValueColRange) Ranges() []Range { return []Range{r.Meta, r.Raw} }
func (ValueColRange) isGenericColumnRange() {}

// GroupColRange is a count column followed by the columns whose values it
// groups, one count per row.
type GroupColRange struct {
	Num    Range
	Values []GenericColumnRange
}

func (r GroupColRange) Range() Range {
	end := r.Num.End
	if n := len(r.Values); n > 0 {
		end = r.Values[n-1].Range().End
	}
	return Range{Start: r.Num.Start, End: end}
}

func (r GroupColRange) Ranges() []Range {
	ranges := []Range{r.Num}
	for _, v := range r.Values {
		ranges = append(ranges, v.Ranges()...)
	}
	return ranges
}

func (GroupColRange) isGenericColumnRange() {}

// Column is a logical column: one value per row, possibly backed by several
// primitive ranges.
type Column struct {
	spec ColumnSpec
	rng  GenericColumnRange
}

func NewColumn(spec ColumnSpec, rng GenericColumnRange) Column {
	return Column{spec: spec, rng: rng}
}

func (c Column) Range() Range                     { return c.rng.Range() }
func (c Column) IntoRanges() GenericColumnRange   { return c.rng }
func (c Column) ColType() ColumnType              { return c.spec.ColType() }
func (c Column) Id() ColumnId                     { return c.spec.Id() }
func (c Column) Spec() ColumnSpec                 { return c.spec }
