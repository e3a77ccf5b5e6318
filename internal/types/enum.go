package types

import (
	"fmt"

	"ffigen/internal/source"
)

// Variant is one enumerator. Values above math.MaxInt64 are stored with
// Unsigned set and Value holding the two's complement bit pattern.
type Variant struct {
	Name     string
	Value    int64
	Unsigned bool
	Loc      source.Loc
}

// EnumInfo describes enum structure.
type EnumInfo struct {
	// Underlying is the declared fixed underlying type, NoTypeID when the
	// enum leaves it to the compiler.
	Underlying TypeID
	Variants   []Variant
}

// DefineEnum promotes id to an enum node.
func (g *Graph) DefineEnum(id TypeID, info EnumInfo) {
	n := g.MustNode(id)
	if n.Type.Kind == KindEnum {
		g.enums[n.Type.Payload] = cloneEnumInfo(info)
		return
	}
	if n.Type.Kind != KindOpaque {
		panic(fmt.Sprintf("types: cannot define enum over %s node %q", n.Type.Kind, n.Name))
	}
	slot := nextSlot(len(g.enums), "enum")
	g.enums = append(g.enums, cloneEnumInfo(info))
	g.promote(id, Type{Kind: KindEnum, Payload: slot})
}

// EnumInfo returns the enum metadata for id.
func (g *Graph) EnumInfo(id TypeID) (*EnumInfo, bool) {
	tt, ok := g.Lookup(id)
	if !ok || tt.Kind != KindEnum {
		return nil, false
	}
	if tt.Payload == 0 || int(tt.Payload) >= len(g.enums) {
		return nil, false
	}
	return &g.enums[tt.Payload], true
}

// EnumRange is the closed interval covered by an enum's values.
type EnumRange struct {
	Min int64
	Max int64
	// Big is set when some value exceeds MaxInt64; MaxUnsigned then holds
	// the true maximum and Max is meaningless.
	Big         bool
	MaxUnsigned uint64
}

// Range returns the value interval of the enum. An enum without variants
// covers [0, 0].
func (e *EnumInfo) Range() EnumRange {
	var r EnumRange
	if e == nil {
		return r
	}
	haveSigned := false
	for _, v := range e.Variants {
		if v.Unsigned && v.Value < 0 {
			u := uint64(v.Value)
			if !r.Big || u > r.MaxUnsigned {
				r.MaxUnsigned = u
			}
			r.Big = true
			continue
		}
		if !haveSigned {
			r.Min, r.Max = v.Value, v.Value
			haveSigned = true
			continue
		}
		r.Min = min(r.Min, v.Value)
		r.Max = max(r.Max, v.Value)
	}
	return r
}

func cloneEnumInfo(info EnumInfo) EnumInfo {
	out := info
	if len(info.Variants) > 0 {
		out.Variants = append([]Variant(nil), info.Variants...)
	}
	return out
}
