package types

import "fmt"

// TypedefInfo stores the aliased type of a typedef node.
type TypedefInfo struct {
	Target TypeID
}

// DefineTypedef promotes id to a typedef of target.
func (g *Graph) DefineTypedef(id, target TypeID) {
	n := g.MustNode(id)
	if n.Type.Kind == KindTypedef {
		g.typedefs[n.Type.Payload] = TypedefInfo{Target: target}
		return
	}
	if n.Type.Kind != KindOpaque {
		panic(fmt.Sprintf("types: cannot define typedef over %s node %q", n.Type.Kind, n.Name))
	}
	slot := nextSlot(len(g.typedefs), "typedef")
	g.typedefs = append(g.typedefs, TypedefInfo{Target: target})
	g.promote(id, Type{Kind: KindTypedef, Payload: slot})
}

// TypedefInfo returns the typedef metadata for id.
func (g *Graph) TypedefInfo(id TypeID) (*TypedefInfo, bool) {
	tt, ok := g.Lookup(id)
	if !ok || tt.Kind != KindTypedef {
		return nil, false
	}
	if tt.Payload == 0 || int(tt.Payload) >= len(g.typedefs) {
		return nil, false
	}
	return &g.typedefs[tt.Payload], true
}

// Canonical strips typedefs until a non-typedef node is reached. Typedef
// chains that loop back on themselves resolve to NoTypeID.
func (g *Graph) Canonical(id TypeID) TypeID {
	seen := 0
	for id != NoTypeID {
		info, ok := g.TypedefInfo(id)
		if !ok {
			return id
		}
		seen++
		if seen > g.Len() {
			return NoTypeID
		}
		id = info.Target
	}
	return id
}
