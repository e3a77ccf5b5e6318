package layout

import (
	"fmt"

	"ffigen/internal/config"
	"ffigen/internal/types"
)

var compatOrder = []types.PrimKind{
	types.PrimInt, types.PrimUInt,
	types.PrimLong, types.PrimULong,
	types.PrimLongLong, types.PrimULongLong,
}

// enumLayout picks the representation of an enum: the configured override,
// else the declared underlying type, else the mode's choice. Whatever wins
// must hold every value.
func (e *LayoutEngine) enumLayout(id types.TypeID, n *types.Node) (*types.Layout, *LayoutError) {
	info, ok := e.Graph.EnumInfo(id)
	if !ok {
		return unsized(fmt.Sprintf("enum %q has no body", n.Name)), nil
	}
	r := info.Range()

	var repr types.PrimKind
	switch {
	case e.EnumOverride != types.PrimInvalid:
		repr = e.EnumOverride
	case info.Underlying != types.NoTypeID:
		tt, ok := e.Graph.Lookup(e.Graph.Canonical(info.Underlying))
		if !ok || tt.Kind != types.KindPrimitive || !(tt.Prim.IsInteger() || tt.Prim == types.PrimBool) {
			return &types.Layout{Size: 0, Align: 1}, &LayoutError{
				Kind: LayoutErrBadAttribute, Type: id, Name: n.Name, Loc: n.Loc,
				Msg: fmt.Sprintf("underlying type %s is not an integer", e.Graph.Describe(info.Underlying)),
			}
		}
		repr = tt.Prim
	case e.EnumRepr == config.EnumReprCompat:
		repr = e.firstFit(compatOrder, r)
	default:
		repr = e.smallestFit(r)
	}

	pl, ok := e.Target.Prim(repr)
	if repr == types.PrimInvalid || !ok || !e.fits(repr, pl.Size, r) {
		if repr == types.PrimInvalid {
			repr = types.PrimULongLong
			if r.Min < 0 {
				repr = types.PrimLongLong
			}
		}
		return &types.Layout{Size: 0, Align: 1}, &LayoutError{
			Kind: LayoutErrEnumRangeOverflow, Type: id, Name: n.Name, Loc: n.Loc,
			Repr: repr, Range: r,
		}
	}
	return &types.Layout{Size: pl.Size, Align: pl.Align, Repr: repr}, nil
}

func (e *LayoutEngine) smallestFit(r types.EnumRange) types.PrimKind {
	signed := r.Min < 0
	var order []types.PrimKind
	for _, size := range []uint64{1, 2, 4, 8} {
		if p, ok := e.Target.IntegerBySize(size, signed); ok {
			order = append(order, p)
		}
	}
	return e.firstFit(order, r)
}

func (e *LayoutEngine) firstFit(order []types.PrimKind, r types.EnumRange) types.PrimKind {
	for _, p := range order {
		if pl, ok := e.Target.Prim(p); ok && e.fits(p, pl.Size, r) {
			return p
		}
	}
	return types.PrimInvalid
}

// fits reports whether every value in r is representable in p.
func (e *LayoutEngine) fits(p types.PrimKind, size uint64, r types.EnumRange) bool {
	if size == 0 {
		return false
	}
	if p == types.PrimBool {
		return !r.Big && r.Min >= 0 && r.Max <= 1
	}
	signed := e.Target.Signed(p)
	switch {
	case signed && r.Big:
		return false
	case !signed && r.Min < 0:
		return false
	case size >= 8:
		return true
	}
	nbits := size * 8
	if signed {
		lo := -(int64(1) << (nbits - 1))
		hi := int64(1)<<(nbits-1) - 1
		return r.Min >= lo && r.Max <= hi
	}
	hi := uint64(1)<<nbits - 1
	if r.Big {
		return r.MaxUnsigned <= hi
	}
	return uint64(r.Max) <= hi
}
