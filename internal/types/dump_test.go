package types

import (
	"strings"
	"testing"

	"ffigen/internal/source"
)

func TestDumpListsNominalNodes(t *testing.T) {
	g := NewGraph()
	i := g.Intern(MakePrim(PrimInt))
	pt := g.Placeholder("Point", source.Loc{File: "p.h", Line: 1})
	g.DefineRecord(pt, RecordInfo{Fields: []Field{{Name: "x", Type: i}, {Name: "y", Type: i}}})
	g.SetLayout(pt, &Layout{Size: 8, Align: 4, Fields: []FieldLayout{{Offset: 0, Size: 4}, {Offset: 4, Size: 4}}})
	g.SetCaps(pt, AllDerive())
	td := g.Placeholder("point_t", source.Loc{File: "p.h", Line: 1})
	g.DefineTypedef(td, pt)
	g.AddGlobal(Global{Name: "origin", Type: pt, Const: true})

	var sb strings.Builder
	if err := Dump(&sb, g, DumpOptions{}); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	for _, want := range []string{
		"record Point size=8 align=4 [copy=derive debug=derive default=derive]",
		".y: int @4",
		"typedef point_t",
		"= struct Point",
		"globals=1",
		"origin: struct Point",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "primitive") {
		t.Errorf("structural nodes listed without Structural:\n%s", out)
	}

	sb.Reset()
	if err := Dump(&sb, g, DumpOptions{Structural: true}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sb.String(), "primitive int") {
		t.Errorf("Structural dump missing primitive:\n%s", sb.String())
	}
}
