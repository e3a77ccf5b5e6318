package layout

import (
	"fmt"
	"math/bits"

	"ffigen/internal/types"
)

func (e *LayoutEngine) computeLayout(id types.TypeID, state *layoutState) (*types.Layout, *LayoutError) {
	n, ok := e.Graph.Node(id)
	if !ok {
		return unsized("invalid type"), nil
	}
	tt := n.Type

	switch tt.Kind {
	case types.KindPrimitive:
		if tt.Prim == types.PrimVoid {
			return unsized("void has no size"), nil
		}
		pl, ok := e.Target.Prim(tt.Prim)
		if !ok {
			return unsized(fmt.Sprintf("%s is not available on %s", tt.Prim, e.Target.Triple)), nil
		}
		return &types.Layout{Size: pl.Size, Align: pl.Align}, nil

	case types.KindPointer:
		return e.ptrLayout(), nil

	case types.KindFunc:
		return unsized("function type used by value"), nil

	case types.KindArray:
		return e.arrayLayout(id, tt, state)

	case types.KindRecord:
		info, ok := e.Graph.RecordInfo(id)
		if !ok {
			return unsized(fmt.Sprintf("record %q has no body", n.Name)), nil
		}
		if info.Kind == types.RecordUnion {
			return e.unionLayout(id, n, info, state)
		}
		return e.structLayout(id, n, info, state)

	case types.KindEnum:
		return e.enumLayout(id, n)

	case types.KindOpaque:
		if tt.Opaque == types.OpaqueUnknown {
			return unsized(fmt.Sprintf("unknown type %q used by value", n.Name)), nil
		}
		return unsized(fmt.Sprintf("incomplete type %q used by value", n.Name)), nil

	default:
		return unsized(fmt.Sprintf("%s has no layout", tt.Kind)), nil
	}
}

func unsized(reason string) *types.Layout {
	return &types.Layout{Size: 0, Align: 1, Unsized: reason}
}

func (e *LayoutEngine) ptrLayout() *types.Layout {
	ptrSize := e.Target.PtrSize
	ptrAlign := e.Target.PtrAlign
	if ptrSize == 0 {
		ptrSize = 8
	}
	if ptrAlign == 0 {
		ptrAlign = ptrSize
	}
	return &types.Layout{Size: ptrSize, Align: ptrAlign}
}

func roundUp(n, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	r := n % align
	if r == 0 {
		return n
	}
	return n + (align - r)
}

func ceilDiv(n, d uint64) uint64 {
	return (n + d - 1) / d
}

func (e *LayoutEngine) arrayLayout(id types.TypeID, tt types.Type, state *layoutState) (*types.Layout, *LayoutError) {
	elem, err := e.layoutOf(tt.Elem, state)
	if err != nil {
		return elem, err
	}
	if elem.Unsized != "" {
		return unsized("array element: " + elem.Unsized), nil
	}
	align := max(elem.Align, 1)
	if tt.Len != types.ArrayFixed {
		return &types.Layout{Size: 0, Align: align}, nil
	}
	stride := roundUp(elem.Size, align)
	hi, size := bits.Mul64(stride, tt.Count)
	if hi != 0 {
		return elem, &LayoutError{
			Kind: LayoutErrOverflow,
			Type: id,
			Name: e.Graph.Describe(id),
			Msg:  fmt.Sprintf("array of %d elements overflows the address space", tt.Count),
		}
	}
	return &types.Layout{Size: size, Align: align}, nil
}

// isFlexible reports whether id is an array without a constant length.
func (e *LayoutEngine) isFlexible(id types.TypeID) bool {
	tt, ok := e.Graph.Lookup(e.Graph.Canonical(id))
	return ok && tt.Kind == types.KindArray && tt.Len != types.ArrayFixed
}

// integerPrim returns the integer primitive a bitfield's declared type
// stands for. Enums use their chosen representation.
func (e *LayoutEngine) integerPrim(id types.TypeID, l *types.Layout) (types.PrimKind, bool) {
	tt, ok := e.Graph.Lookup(e.Graph.Canonical(id))
	if !ok {
		return types.PrimInvalid, false
	}
	switch tt.Kind {
	case types.KindPrimitive:
		return tt.Prim, tt.Prim.IsInteger() || tt.Prim == types.PrimBool
	case types.KindEnum:
		return l.Repr, l.Repr != types.PrimInvalid
	default:
		return types.PrimInvalid, false
	}
}
