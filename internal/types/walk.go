package types

// Ref is an edge from a nominal node to another nominal node it mentions.
// ByValue is false when the edge passes through a pointer or a function
// signature, i.e. the referencing type does not need the target's layout.
type Ref struct {
	To      TypeID
	ByValue bool
}

// Refs returns the nominal nodes directly mentioned by id, in field order,
// without duplicates (a by-value edge wins over a pointer edge).
func (g *Graph) Refs(id TypeID) []Ref {
	var w refWalker
	w.g = g
	n, ok := g.Node(id)
	if !ok {
		return nil
	}
	switch n.Type.Kind {
	case KindRecord:
		info, _ := g.RecordInfo(id)
		if info != nil {
			for _, f := range info.Fields {
				w.visit(f.Type, true)
			}
		}
	case KindEnum:
		info, _ := g.EnumInfo(id)
		if info != nil {
			w.visit(info.Underlying, true)
		}
	case KindTypedef:
		info, _ := g.TypedefInfo(id)
		if info != nil {
			w.visit(info.Target, true)
		}
	default:
		w.visitStructure(id, true)
	}
	return w.out
}

// RefsOfType returns the nominal nodes reached from an arbitrary type
// expression, e.g. a function signature or a global's type.
func (g *Graph) RefsOfType(id TypeID) []Ref {
	w := refWalker{g: g}
	w.visit(id, true)
	return w.out
}

type refWalker struct {
	g    *Graph
	out  []Ref
	seen map[TypeID]int
}

func (w *refWalker) add(id TypeID, byValue bool) {
	if w.seen == nil {
		w.seen = make(map[TypeID]int)
	}
	if idx, ok := w.seen[id]; ok {
		if byValue {
			w.out[idx].ByValue = true
		}
		return
	}
	w.seen[id] = len(w.out)
	w.out = append(w.out, Ref{To: id, ByValue: byValue})
}

func (w *refWalker) visit(id TypeID, byValue bool) {
	tt, ok := w.g.Lookup(id)
	if !ok {
		return
	}
	if tt.Kind.Nominal() {
		w.add(id, byValue)
		return
	}
	w.visitStructure(id, byValue)
}

func (w *refWalker) visitStructure(id TypeID, byValue bool) {
	tt, ok := w.g.Lookup(id)
	if !ok {
		return
	}
	switch tt.Kind {
	case KindPointer:
		w.visit(tt.Elem, false)
	case KindArray:
		w.visit(tt.Elem, byValue)
	case KindFunc:
		info, _ := w.g.FuncInfo(id)
		if info == nil {
			return
		}
		w.visit(info.Result, false)
		for _, p := range info.Params {
			w.visit(p.Type, false)
		}
	}
}

// IsFuncPointer reports whether id (after typedefs) is a pointer to a
// function signature.
func (g *Graph) IsFuncPointer(id TypeID) bool {
	tt, ok := g.Lookup(g.Canonical(id))
	if !ok || tt.Kind != KindPointer {
		return false
	}
	inner, ok := g.Lookup(g.Canonical(tt.Elem))
	return ok && inner.Kind == KindFunc
}

// ArrayBase strips nested arrays (and typedefs) and returns the element
// type together with the total element count. Incomplete or dependent
// dimensions contribute zero.
func (g *Graph) ArrayBase(id TypeID) (elem TypeID, count uint64) {
	count = 1
	id = g.Canonical(id)
	for {
		tt, ok := g.Lookup(id)
		if !ok || tt.Kind != KindArray {
			return id, count
		}
		if tt.Len == ArrayFixed {
			count *= tt.Count
		} else {
			count = 0
		}
		id = g.Canonical(tt.Elem)
	}
}
