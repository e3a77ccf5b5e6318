package types

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// DumpOptions configures graph dumping.
type DumpOptions struct {
	// Structural includes primitive, pointer, array and function nodes.
	Structural bool
}

// Dump writes a human-readable listing of the graph: nominal nodes with
// their layout and capability annotations, then functions and globals.
func Dump(w io.Writer, g *Graph, opts DumpOptions) error {
	if w == nil || g == nil {
		return nil
	}
	var b strings.Builder

	ids := g.IDs()
	nominal := 0
	for _, id := range ids {
		if g.MustNode(id).Type.Kind.Nominal() {
			nominal++
		}
	}
	fmt.Fprintf(&b, "nodes=%d nominal=%d\n", len(ids), nominal)
	for _, id := range ids {
		n := g.MustNode(id)
		if !n.Type.Kind.Nominal() && !opts.Structural {
			continue
		}
		dumpNode(&b, g, n)
	}

	fns := slices.Clone(g.Functions())
	slices.SortStableFunc(fns, func(a, b Function) int { return strings.Compare(a.Name, b.Name) })
	fmt.Fprintf(&b, "functions=%d\n", len(fns))
	for _, fn := range fns {
		fmt.Fprintf(&b, "  %s: %s\n", fn.Name, g.Describe(fn.Sig))
	}

	globals := g.Globals()
	fmt.Fprintf(&b, "globals=%d\n", len(globals))
	for _, v := range globals {
		mut := " mut"
		if v.Const {
			mut = ""
		}
		fmt.Fprintf(&b, "  %s:%s %s\n", v.Name, mut, g.Describe(v.Type))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func dumpNode(b *strings.Builder, g *Graph, n *Node) {
	name := n.Name
	if name == "" {
		name = g.Describe(n.ID)
	}
	fmt.Fprintf(b, "  T%d %s %s", n.ID, n.Type.Kind, name)
	if n.Anonymous {
		b.WriteString(" anon")
	}
	if n.Builtin {
		b.WriteString(" builtin")
	}
	if n.Type.Kind == KindOpaque {
		fmt.Fprintf(b, " (%s)", n.Type.Opaque)
	}
	if l := n.Layout; l != nil {
		switch {
		case l.Unsized != "":
			fmt.Fprintf(b, " unsized=%q", l.Unsized)
		case l.Unsupported != "":
			fmt.Fprintf(b, " unsupported=%q", l.Unsupported)
		default:
			fmt.Fprintf(b, " size=%d align=%d", l.Size, l.Align)
		}
		if n.Type.Kind == KindEnum && l.Repr != PrimInvalid {
			fmt.Fprintf(b, " repr=%s", l.Repr)
		}
	}
	if n.Caps != nil {
		fmt.Fprintf(b, " [%s]", n.Caps)
	}
	b.WriteString("\n")

	switch n.Type.Kind {
	case KindRecord:
		info, _ := g.RecordInfo(n.ID)
		if info == nil {
			return
		}
		for i, f := range info.Fields {
			fname := f.Name
			if fname == "" {
				fname = "_"
			}
			fmt.Fprintf(b, "    .%s: %s", fname, g.Describe(f.Type))
			if f.Bitfield {
				fmt.Fprintf(b, " : %d", f.BitWidth)
			}
			if n.Layout != nil && i < len(n.Layout.Fields) {
				fl := n.Layout.Fields[i]
				if fl.Bitfield {
					fmt.Fprintf(b, " @unit%d+%db", fl.Unit, fl.BitOffset)
				} else {
					fmt.Fprintf(b, " @%d", fl.Offset)
				}
			}
			b.WriteString("\n")
		}
	case KindEnum:
		info, _ := g.EnumInfo(n.ID)
		if info == nil {
			return
		}
		for _, v := range info.Variants {
			if v.Unsigned {
				fmt.Fprintf(b, "    %s = %d\n", v.Name, uint64(v.Value))
			} else {
				fmt.Fprintf(b, "    %s = %d\n", v.Name, v.Value)
			}
		}
	case KindTypedef:
		if info, ok := g.TypedefInfo(n.ID); ok {
			fmt.Fprintf(b, "    = %s\n", g.Describe(info.Target))
		}
	}
}
