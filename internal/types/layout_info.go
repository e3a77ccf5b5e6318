package types

// Layout is the annotation the layout engine attaches to records, enums and
// opaque blobs. Offsets and sizes are in bytes unless named otherwise.
type Layout struct {
	Size  uint64
	Align uint64

	// Fields is parallel to RecordInfo.Fields.
	Fields  []FieldLayout
	Units   []StorageUnit
	Padding []Padding

	// Repr is the integer representation chosen for an enum.
	Repr PrimKind

	// Unsupported is non-empty when the record has a shape that cannot be
	// expressed, e.g. a dependent array that is not the trailing member.
	Unsupported string

	// Unsized is non-empty when the type needs an incomplete, unknown or
	// void type by value and therefore has no size on the target.
	Unsized string
}

// FieldLayout places one record member.
type FieldLayout struct {
	Offset uint64
	Size   uint64
	Align  uint64

	// Flexible marks a trailing incomplete or dependent array of zero length.
	Flexible bool

	// Bitfield members live in Units[Unit]. BitOffset is the shift of the
	// member's least significant bit inside the unit value.
	Bitfield  bool
	Unit      int
	BitOffset uint32
	BitWidth  uint32
}

// StorageUnit is an integer cell that holds packed bitfields. Prim is
// PrimInvalid when no integer of Size bytes can sit at Offset; the unit is
// then a plain byte array.
type StorageUnit struct {
	Offset uint64
	Size   uint64
	Prim   PrimKind
}

// Padding is an unused byte range inside a record.
type Padding struct {
	Offset uint64
	Len    uint64
}

// End returns the first byte past the padding region.
func (p Padding) End() uint64 { return p.Offset + p.Len }

// SetLayout attaches a computed layout to id.
func (g *Graph) SetLayout(id TypeID, l *Layout) {
	if n, ok := g.Node(id); ok {
		n.Layout = l
	}
}

// LayoutOf returns the layout annotation of id, if any.
func (g *Graph) LayoutOf(id TypeID) (*Layout, bool) {
	n, ok := g.Node(id)
	if !ok || n.Layout == nil {
		return nil, false
	}
	return n.Layout, true
}
