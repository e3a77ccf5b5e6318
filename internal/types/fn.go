package types

import (
	"strconv"
	"strings"
)

// Param is one function parameter; the name is informational.
type Param struct {
	Name string
	Type TypeID
}

// FuncInfo describes a function signature.
type FuncInfo struct {
	Result   TypeID
	Params   []Param
	Variadic bool
	// NoProto marks a K&R declaration without a prototype, e.g. `int f();`.
	NoProto bool
}

// InternFunc returns the TypeID of a signature. Identical signatures
// (ignoring parameter names) share one node.
func (g *Graph) InternFunc(info FuncInfo) TypeID {
	key := funcKey(info)
	if id, ok := g.funcKeys[key]; ok {
		return id
	}
	slot := nextSlot(len(g.funcs), "func")
	stored := info
	stored.Params = append([]Param(nil), info.Params...)
	g.funcs = append(g.funcs, stored)
	id := g.appendNode(Node{Type: Type{Kind: KindFunc, Payload: slot}})
	g.funcKeys[key] = id
	return id
}

// FuncInfo returns the signature stored for id.
func (g *Graph) FuncInfo(id TypeID) (*FuncInfo, bool) {
	tt, ok := g.Lookup(id)
	if !ok || tt.Kind != KindFunc {
		return nil, false
	}
	if tt.Payload == 0 || int(tt.Payload) >= len(g.funcs) {
		return nil, false
	}
	return &g.funcs[tt.Payload], true
}

func funcKey(info FuncInfo) string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(uint64(info.Result), 10))
	sb.WriteByte('(')
	for i, p := range info.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(uint64(p.Type), 10))
	}
	sb.WriteByte(')')
	if info.Variadic {
		sb.WriteString("...")
	}
	if info.NoProto {
		sb.WriteString("!")
	}
	return sb.String()
}
