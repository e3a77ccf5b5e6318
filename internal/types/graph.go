package types

import (
	"fmt"
	"strings"

	"fortio.org/safecast"

	"ffigen/internal/source"
)

// Node is the view of one graph entry: the compact descriptor plus the
// common nominal metadata. Kind-specific structure lives in side tables
// (RecordInfo, EnumInfo, FuncInfo, TypedefInfo).
type Node struct {
	ID   TypeID
	Type Type

	// Name is the qualified C name for nominal nodes; synthesized for
	// anonymous ones (Anonymous is then true).
	Name      string
	Anonymous bool
	Loc       source.Loc
	Builtin   bool

	// RefBy names the first declaration that referenced this node while it
	// was still a placeholder; used for unresolved-type reports.
	RefBy    string
	RefByLoc source.Loc

	// Annotations owned by later stages.
	Layout *Layout
	Caps   *CapabilityFlags
}

// Graph owns every node of one translation unit. TypeIDs are stable for the
// lifetime of the graph; nodes are never removed.
type Graph struct {
	nodes    []Node
	index    map[typeKey]TypeID
	records  []RecordInfo
	enums    []EnumInfo
	funcs    []FuncInfo
	typedefs []TypedefInfo
	funcKeys map[string]TypeID

	functions []Function
	globals   []Global
	declNames map[string]struct{}
}

// NewGraph constructs an empty graph. ID 0 is reserved for NoTypeID.
func NewGraph() *Graph {
	g := &Graph{
		index:     make(map[typeKey]TypeID, 64),
		funcKeys:  make(map[string]TypeID, 16),
		declNames: make(map[string]struct{}, 16),
	}
	g.nodes = append(g.nodes, Node{})
	g.records = append(g.records, RecordInfo{})
	g.enums = append(g.enums, EnumInfo{})
	g.funcs = append(g.funcs, FuncInfo{})
	g.typedefs = append(g.typedefs, TypedefInfo{})
	return g
}

// Intern returns the stable TypeID of a structural descriptor (primitive,
// pointer, array). Equal descriptors share one node.
func (g *Graph) Intern(t Type) TypeID {
	if t.Kind == KindInvalid {
		return NoTypeID
	}
	if t.Kind.Nominal() || t.Kind == KindFunc {
		panic(fmt.Sprintf("types: Intern called with nominal kind %s", t.Kind))
	}
	key := typeKey{
		Kind: t.Kind, Prim: t.Prim, Elem: t.Elem, Const: t.Const,
		Len: t.Len, Count: t.Count, LenExpr: t.LenExpr,
	}
	if id, ok := g.index[key]; ok {
		return id
	}
	id := g.appendNode(Node{Type: t})
	g.index[key] = id
	return id
}

func (g *Graph) appendNode(n Node) TypeID {
	lenNodes, err := safecast.Conv[uint32](len(g.nodes))
	if err != nil {
		panic(fmt.Errorf("len(nodes) overflow: %w", err))
	}
	id := TypeID(lenNodes)
	n.ID = id
	g.nodes = append(g.nodes, n)
	return id
}

// Len returns the number of live nodes (NoTypeID excluded).
func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.nodes) - 1
}

// IDs returns every TypeID in creation order.
func (g *Graph) IDs() []TypeID {
	if g == nil {
		return nil
	}
	out := make([]TypeID, 0, len(g.nodes)-1)
	for i := 1; i < len(g.nodes); i++ {
		out = append(out, TypeID(i))
	}
	return out
}

// Node returns the node for id.
func (g *Graph) Node(id TypeID) (*Node, bool) {
	if g == nil || id == NoTypeID || int(id) >= len(g.nodes) {
		return nil, false
	}
	return &g.nodes[id], true
}

// MustNode panics when id is invalid.
func (g *Graph) MustNode(id TypeID) *Node {
	n, ok := g.Node(id)
	if !ok {
		panic(fmt.Sprintf("types: invalid TypeID %d", id))
	}
	return n
}

// Lookup returns the descriptor for a TypeID.
func (g *Graph) Lookup(id TypeID) (Type, bool) {
	n, ok := g.Node(id)
	if !ok {
		return Type{}, false
	}
	return n.Type, true
}

// Placeholder inserts a pending opaque node standing in for a declaration
// that has not been seen yet. The node is promoted in place later.
func (g *Graph) Placeholder(name string, loc source.Loc) TypeID {
	return g.appendNode(Node{
		Type: Type{Kind: KindOpaque, Opaque: OpaquePending},
		Name: name,
		Loc:  loc,
	})
}

// IsPending reports whether id is a placeholder awaiting promotion.
func (g *Graph) IsPending(id TypeID) bool {
	tt, ok := g.Lookup(id)
	return ok && tt.Kind == KindOpaque && tt.Opaque == OpaquePending
}

// MarkOpaque settles a pending node as an opaque type.
func (g *Graph) MarkOpaque(id TypeID, reason OpaqueReason) {
	n, ok := g.Node(id)
	if !ok || n.Type.Kind != KindOpaque {
		return
	}
	n.Type.Opaque = reason
}

// promote rewrites a nominal node in place. Identity is preserved so every
// TypeID already handed out keeps resolving to the same node.
func (g *Graph) promote(id TypeID, t Type) {
	n := g.MustNode(id)
	switch n.Type.Kind {
	case KindOpaque:
	default:
		if n.Type.Kind != t.Kind {
			panic(fmt.Sprintf("types: cannot promote %s node %q to %s", n.Type.Kind, n.Name, t.Kind))
		}
	}
	n.Type = t
}

// Describe renders a short C-like spelling of id, for messages and dumps.
func (g *Graph) Describe(id TypeID) string {
	var sb strings.Builder
	g.describe(&sb, id, 0)
	return sb.String()
}

func (g *Graph) describe(sb *strings.Builder, id TypeID, depth int) {
	n, ok := g.Node(id)
	if !ok {
		sb.WriteString("<none>")
		return
	}
	if depth > 8 {
		sb.WriteString("...")
		return
	}
	switch n.Type.Kind {
	case KindPrimitive:
		sb.WriteString(n.Type.Prim.String())
	case KindPointer:
		if n.Type.Const {
			sb.WriteString("const ")
		}
		g.describe(sb, n.Type.Elem, depth+1)
		sb.WriteString("*")
	case KindArray:
		g.describe(sb, n.Type.Elem, depth+1)
		switch n.Type.Len {
		case ArrayFixed:
			fmt.Fprintf(sb, "[%d]", n.Type.Count)
		case ArrayIncomplete:
			sb.WriteString("[]")
		case ArrayDependent:
			fmt.Fprintf(sb, "[%s]", n.Type.LenExpr)
		}
	case KindFunc:
		info, _ := g.FuncInfo(id)
		if info == nil {
			sb.WriteString("fn(?)")
			return
		}
		g.describe(sb, info.Result, depth+1)
		sb.WriteString(" (")
		for i, p := range info.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			g.describe(sb, p.Type, depth+1)
		}
		if info.Variadic {
			if len(info.Params) > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("...")
		}
		sb.WriteString(")")
	case KindRecord:
		info, _ := g.RecordInfo(id)
		if info != nil && info.Kind == RecordUnion {
			sb.WriteString("union ")
		} else {
			sb.WriteString("struct ")
		}
		sb.WriteString(n.Name)
	case KindEnum:
		sb.WriteString("enum ")
		sb.WriteString(n.Name)
	case KindTypedef, KindOpaque:
		sb.WriteString(n.Name)
	default:
		sb.WriteString(n.Type.Kind.String())
	}
}

type typeKey struct {
	Kind    Kind
	Prim    PrimKind
	Elem    TypeID
	Const   bool
	Len     ArrayLen
	Count   uint64
	LenExpr string
}

func nextSlot(n int, what string) uint32 {
	slot, err := safecast.Conv[uint32](n)
	if err != nil {
		panic(fmt.Errorf("%s info overflow: %w", what, err))
	}
	return slot
}
