package layout

import (
	"fmt"
	"slices"

	"fortio.org/safecast"

	"ffigen/internal/target"
	"ffigen/internal/types"
)

// bitRun is a maximal sequence of bitfields that share storage.
type bitRun struct {
	startBit  uint64
	endBit    uint64
	declSize  uint64
	members   []int
	nextBytes uint64 // first byte used by whatever follows the run
}

func (e *LayoutEngine) fieldLayouts(info *types.RecordInfo, state *layoutState) ([]*types.Layout, string, *LayoutError) {
	out := make([]*types.Layout, len(info.Fields))
	for i, f := range info.Fields {
		fl, err := e.layoutOf(f.Type, state)
		if err != nil {
			return nil, "", err
		}
		if fl.Unsized != "" {
			return nil, fmt.Sprintf("field %s: %s", fieldName(f, i), fl.Unsized), nil
		}
		out[i] = fl
	}
	return out, "", nil
}

func fieldName(f types.Field, i int) string {
	if f.Name != "" {
		return f.Name
	}
	return fmt.Sprintf("#%d", i)
}

func (e *LayoutEngine) structLayout(id types.TypeID, n *types.Node, info *types.RecordInfo, state *layoutState) (*types.Layout, *LayoutError) {
	fls, reason, lerr := e.fieldLayouts(info, state)
	if lerr != nil {
		return &types.Layout{Size: 0, Align: 1}, lerr
	}
	if reason != "" {
		return unsized(reason), nil
	}

	out := &types.Layout{Fields: make([]types.FieldLayout, len(info.Fields))}
	absBits := make([]uint64, len(info.Fields))
	var runs []bitRun
	open := -1
	pos := uint64(0) // next free bit
	align := uint64(1)
	msvc := e.Target.BitfieldPacking == target.PackMSVC
	unitEnd := uint64(0) // end bit of the open unit under MSVC packing

	for i, f := range info.Fields {
		fl := fls[i]
		if f.Bitfield {
			width, typeBits, err := e.checkBitfield(id, n, f, fl)
			if err != nil {
				return out, err
			}
			if width == 0 {
				// Zero-width bitfields close the open unit and align the
				// next member to the declared type. MSVC ignores them unless
				// a unit is open.
				switch {
				case msvc:
					if open >= 0 {
						pos = unitEnd
					}
				case !info.Packed:
					pos = roundUp(pos, fl.Align*8)
				}
				out.Fields[i] = types.FieldLayout{Offset: pos / 8, Bitfield: true, Unit: -1}
				absBits[i] = pos
				if open >= 0 {
					runs[open].nextBytes = ceilDiv(pos, 8)
				}
				open = -1
				continue
			}
			if msvc {
				if open >= 0 && (runs[open].declSize != fl.Size || pos+width > unitEnd) {
					pos = unitEnd
					runs[open].nextBytes = unitEnd / 8
					open = -1
				}
				if open < 0 {
					if info.Packed {
						pos = roundUp(pos, 8)
					} else {
						pos = roundUp(pos, fl.Align*8)
					}
					runs = append(runs, bitRun{startBit: pos, declSize: fl.Size})
					open = len(runs) - 1
					unitEnd = pos + typeBits
				}
				r := &runs[open]
				r.members = append(r.members, i)
				absBits[i] = pos
				pos += width
				r.endBit = pos
				if !info.Packed {
					align = max(align, fl.Align)
				}
				continue
			}
			moved := false
			if !info.Packed && pos/typeBits != (pos+width-1)/typeBits {
				pos = roundUp(pos, fl.Align*8)
				moved = true
			}
			if open < 0 || moved {
				if open >= 0 {
					runs[open].nextBytes = ceilDiv(pos, 8)
				}
				runs = append(runs, bitRun{startBit: pos})
				open = len(runs) - 1
			}
			r := &runs[open]
			r.members = append(r.members, i)
			r.declSize = max(r.declSize, fl.Size)
			absBits[i] = pos
			pos += width
			r.endBit = pos
			if !info.Packed && f.Name != "" {
				align = max(align, fl.Align)
			}
			continue
		}

		falign := max(fl.Align, 1)
		if info.Packed {
			falign = 1
		}
		flexible := e.isFlexible(f.Type)
		if flexible && i != len(info.Fields)-1 && out.Unsupported == "" {
			out.Unsupported = fmt.Sprintf("array member %s has no constant length and is not the last member", fieldName(f, i))
		}
		if msvc && open >= 0 {
			pos = unitEnd
		}
		off := roundUp(ceilDiv(pos, 8), falign)
		if open >= 0 {
			runs[open].nextBytes = off
			open = -1
		}
		out.Fields[i] = types.FieldLayout{Offset: off, Size: fl.Size, Align: falign, Flexible: flexible}
		absBits[i] = off * 8
		pos = (off + fl.Size) * 8
		align = max(align, falign)
	}

	if info.AlignAttr != 0 {
		if !isPow2(info.AlignAttr) {
			return out, &LayoutError{
				Kind: LayoutErrBadAttribute, Type: id, Name: n.Name, Loc: n.Loc,
				Msg: fmt.Sprintf("aligned(%d) is not a power of two", info.AlignAttr),
			}
		}
		align = max(align, info.AlignAttr)
	}
	if msvc && open >= 0 {
		pos = unitEnd
	}
	out.Align = align
	out.Size = roundUp(ceilDiv(pos, 8), align)
	if open >= 0 {
		runs[open].nextBytes = out.Size
	}

	for k := range runs {
		e.placeUnit(out, info, runs[k], absBits)
	}
	out.Padding = padding(out)

	if err := e.crossCheck(id, n, info, out, absBits); err != nil {
		return out, err
	}
	return out, nil
}

// checkBitfield validates a bitfield member and returns its width and the
// bit size of its declared type.
func (e *LayoutEngine) checkBitfield(id types.TypeID, n *types.Node, f types.Field, fl *types.Layout) (uint64, uint64, *LayoutError) {
	if _, ok := e.integerPrim(f.Type, fl); !ok {
		return 0, 0, &LayoutError{
			Kind: LayoutErrBadAttribute, Type: id, Name: n.Name, Loc: f.Loc, Field: f.Name,
			Msg: fmt.Sprintf("bitfield %q does not have an integer type", f.Name),
		}
	}
	width := uint64(f.BitWidth)
	typeBits := fl.Size * 8
	if width > typeBits {
		return 0, 0, &LayoutError{
			Kind: LayoutErrBitfieldTooWide, Type: id, Name: n.Name, Loc: f.Loc, Field: f.Name,
			Want: typeBits, Got: width,
		}
	}
	return width, typeBits, nil
}

// placeUnit chooses the storage unit for one run and places its members.
func (e *LayoutEngine) placeUnit(out *types.Layout, info *types.RecordInfo, r bitRun, absBits []uint64) {
	start := r.startBit / 8
	covered := ceilDiv(r.endBit, 8) - start
	limit := max(r.nextBytes, start+covered)

	fits := func(size uint64) bool {
		if size < covered || start+size > limit {
			return false
		}
		return info.Packed || start%size == 0
	}
	size := uint64(0)
	switch {
	case e.Target.BitfieldPacking == target.PackMSVC:
		// MSVC units always span the declared type.
		size = r.declSize
	case e.Target.BitfieldUnit == target.UnitDeclared && fits(r.declSize):
		size = r.declSize
	}
	if size == 0 {
		for _, s := range []uint64{1, 2, 4, 8} {
			if fits(s) {
				size = s
				break
			}
		}
	}
	prim := types.PrimInvalid
	if size != 0 {
		if p, ok := e.Target.IntegerBySize(size, false); ok {
			prim = p
		}
	}
	unitAlign := uint64(1)
	if prim == types.PrimInvalid {
		size = covered
	} else if !info.Packed {
		if pl, ok := e.Target.Prim(prim); ok {
			unitAlign = pl.Align
		}
	}

	unit := len(out.Units)
	out.Units = append(out.Units, types.StorageUnit{Offset: start, Size: size, Prim: prim})
	for _, i := range r.members {
		width := uint64(info.Fields[i].BitWidth)
		rel := absBits[i] - start*8
		shift := rel
		if e.Target.BitfieldOrder == target.MSBFirst {
			shift = size*8 - rel - width
		}
		bitOffset, err := safecast.Conv[uint32](shift)
		if err != nil {
			bitOffset = 0
		}
		out.Fields[i] = types.FieldLayout{
			Offset:    start,
			Size:      size,
			Align:     unitAlign,
			Bitfield:  true,
			Unit:      unit,
			BitOffset: bitOffset,
			BitWidth:  info.Fields[i].BitWidth,
		}
	}
}

func (e *LayoutEngine) unionLayout(id types.TypeID, n *types.Node, info *types.RecordInfo, state *layoutState) (*types.Layout, *LayoutError) {
	fls, reason, lerr := e.fieldLayouts(info, state)
	if lerr != nil {
		return &types.Layout{Size: 0, Align: 1}, lerr
	}
	if reason != "" {
		return unsized(reason), nil
	}

	out := &types.Layout{Fields: make([]types.FieldLayout, len(info.Fields))}
	absBits := make([]uint64, len(info.Fields))
	align := uint64(1)
	largest := uint64(0)

	for i, f := range info.Fields {
		fl := fls[i]
		falign := max(fl.Align, 1)
		if info.Packed {
			falign = 1
		}
		if !f.Bitfield {
			out.Fields[i] = types.FieldLayout{Size: fl.Size, Align: falign, Flexible: e.isFlexible(f.Type)}
			largest = max(largest, fl.Size)
			align = max(align, falign)
			continue
		}
		width, _, err := e.checkBitfield(id, n, f, fl)
		if err != nil {
			return out, err
		}
		if width == 0 {
			out.Fields[i] = types.FieldLayout{Bitfield: true, Unit: -1}
			continue
		}
		// Each union bitfield starts at bit 0 of its own unit.
		r := bitRun{startBit: 0, endBit: width, declSize: fl.Size, members: []int{i}, nextBytes: fl.Size}
		e.placeUnit(out, info, r, absBits)
		largest = max(largest, out.Units[len(out.Units)-1].Size)
		if f.Name != "" || e.Target.BitfieldPacking == target.PackMSVC {
			align = max(align, falign)
		}
	}

	if info.AlignAttr != 0 {
		if !isPow2(info.AlignAttr) {
			return out, &LayoutError{
				Kind: LayoutErrBadAttribute, Type: id, Name: n.Name, Loc: n.Loc,
				Msg: fmt.Sprintf("aligned(%d) is not a power of two", info.AlignAttr),
			}
		}
		align = max(align, info.AlignAttr)
	}
	out.Align = align
	out.Size = roundUp(largest, align)
	if out.Size > largest {
		out.Padding = []types.Padding{{Offset: largest, Len: out.Size - largest}}
	}
	if err := e.crossCheck(id, n, info, out, absBits); err != nil {
		return out, err
	}
	return out, nil
}

type span struct{ start, end uint64 }

// padding lists the byte ranges no member or storage unit covers.
func padding(l *types.Layout) []types.Padding {
	var used []span
	for _, f := range l.Fields {
		if f.Bitfield || f.Size == 0 {
			continue
		}
		used = append(used, span{f.Offset, f.Offset + f.Size})
	}
	for _, u := range l.Units {
		used = append(used, span{u.Offset, u.Offset + u.Size})
	}
	slices.SortFunc(used, func(a, b span) int {
		switch {
		case a.start < b.start:
			return -1
		case a.start > b.start:
			return 1
		default:
			return 0
		}
	})
	var out []types.Padding
	cursor := uint64(0)
	for _, s := range used {
		if s.start > cursor {
			out = append(out, types.Padding{Offset: cursor, Len: s.start - cursor})
		}
		cursor = max(cursor, s.end)
	}
	if l.Size > cursor {
		out = append(out, types.Padding{Offset: cursor, Len: l.Size - cursor})
	}
	return out
}

// crossCheck compares the computed layout with the parser's own figures.
func (e *LayoutEngine) crossCheck(id types.TypeID, n *types.Node, info *types.RecordInfo, l *types.Layout, absBits []uint64) *LayoutError {
	mismatch := func(what string, want, got uint64) *LayoutError {
		return &LayoutError{Kind: LayoutErrMismatch, Type: id, Name: n.Name, Loc: n.Loc, What: what, Want: want, Got: got}
	}
	if info.Hint.Valid {
		if info.Hint.Size != l.Size {
			return mismatch("size", info.Hint.Size, l.Size)
		}
		if info.Hint.Align != 0 && info.Hint.Align != l.Align {
			return mismatch("alignment", info.Hint.Align, l.Align)
		}
	}
	for i, f := range info.Fields {
		if !f.HasOffset {
			continue
		}
		got := absBits[i]
		if info.Kind == types.RecordUnion {
			got = 0
		}
		if f.Bitfield {
			if got != f.OffsetBits {
				return mismatch(fmt.Sprintf("bit offset of field %s", fieldName(f, i)), f.OffsetBits, got)
			}
			continue
		}
		if got != f.OffsetBits {
			return mismatch(fmt.Sprintf("offset of field %s (bits)", fieldName(f, i)), f.OffsetBits, got)
		}
	}
	return nil
}

func isPow2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}
