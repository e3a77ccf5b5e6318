package types

import (
	"fmt"

	"ffigen/internal/source"
)

// RecordKind distinguishes struct and union records.
type RecordKind uint8

const (
	RecordStruct RecordKind = iota
	RecordUnion
)

func (k RecordKind) String() string {
	if k == RecordUnion {
		return "union"
	}
	return "struct"
}

// Field is one member of a record.
type Field struct {
	Name string // empty for unnamed bitfields and anonymous members
	Type TypeID
	Loc  source.Loc

	// Bitfield is set when the member carries a bit width (possibly zero).
	Bitfield bool
	BitWidth uint32

	// HasOffset marks OffsetBits as the oracle's declared offset, used as a
	// cross-check by the layout engine.
	HasOffset  bool
	OffsetBits uint64
}

// LayoutHint carries the oracle's view of a record's size and alignment.
type LayoutHint struct {
	Valid bool
	Size  uint64
	Align uint64
}

// RecordInfo stores the structure of a struct or union node.
type RecordInfo struct {
	Kind   RecordKind
	Fields []Field
	Packed bool
	// AlignAttr is the aligned(N) attribute in bytes, zero when absent.
	AlignAttr uint64
	Hint      LayoutHint
}

// DefineRecord promotes id to a record with the given structure. A pending
// placeholder keeps its TypeID; a record defined twice gets its info replaced.
func (g *Graph) DefineRecord(id TypeID, info RecordInfo) {
	n := g.MustNode(id)
	if n.Type.Kind == KindRecord {
		g.records[n.Type.Payload] = cloneRecordInfo(info)
		return
	}
	if n.Type.Kind != KindOpaque {
		panic(fmt.Sprintf("types: cannot define record over %s node %q", n.Type.Kind, n.Name))
	}
	slot := nextSlot(len(g.records), "record")
	g.records = append(g.records, cloneRecordInfo(info))
	g.promote(id, Type{Kind: KindRecord, Payload: slot})
}

// RecordInfo returns the structure of a record node.
func (g *Graph) RecordInfo(id TypeID) (*RecordInfo, bool) {
	tt, ok := g.Lookup(id)
	if !ok || tt.Kind != KindRecord {
		return nil, false
	}
	if tt.Payload == 0 || int(tt.Payload) >= len(g.records) {
		return nil, false
	}
	return &g.records[tt.Payload], true
}

// SameRecordShape reports whether two records have identical kind,
// attributes and member list (names, types and bit widths).
func (g *Graph) SameRecordShape(a, b TypeID) bool {
	ra, okA := g.RecordInfo(a)
	rb, okB := g.RecordInfo(b)
	if !okA || !okB {
		return false
	}
	return ShapeEqual(ra, rb)
}

// ShapeEqual compares two record infos structurally.
func ShapeEqual(a, b *RecordInfo) bool {
	if a.Kind != b.Kind || a.Packed != b.Packed || a.AlignAttr != b.AlignAttr {
		return false
	}
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		fa, fb := a.Fields[i], b.Fields[i]
		if fa.Name != fb.Name || fa.Type != fb.Type || fa.Bitfield != fb.Bitfield || fa.BitWidth != fb.BitWidth {
			return false
		}
	}
	return true
}

func cloneRecordInfo(info RecordInfo) RecordInfo {
	out := info
	if len(info.Fields) > 0 {
		out.Fields = append([]Field(nil), info.Fields...)
	}
	return out
}
