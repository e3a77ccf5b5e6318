package builder

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"ffigen/internal/ast"
	"ffigen/internal/config"
	"ffigen/internal/diag"
	"ffigen/internal/types"
)

func buildYAML(t *testing.T, cfg config.Config, text string) (*types.Graph, *diag.Bag, error) {
	t.Helper()
	decls, err := ast.DecodeBytes([]byte(text), ast.FormatYAML)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	bag := diag.NewBag(100)
	g, err := Build(context.Background(), ast.NewSliceStream(decls), cfg, diag.BagReporter{Bag: bag})
	return g, bag, err
}

func mustBuild(t *testing.T, text string) *types.Graph {
	t.Helper()
	g, _, err := buildYAML(t, config.Default(), text)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return g
}

func named(t *testing.T, g *types.Graph, name string) (types.TypeID, *types.Node) {
	t.Helper()
	for _, id := range g.IDs() {
		n := g.MustNode(id)
		if n.Name == name && n.Type.Kind.Nominal() {
			return id, n
		}
	}
	t.Fatalf("no node named %q", name)
	return types.NoTypeID, nil
}

func countNamed(g *types.Graph, name string) int {
	count := 0
	for _, id := range g.IDs() {
		if n := g.MustNode(id); n.Name == name && n.Type.Kind.Nominal() {
			count++
		}
	}
	return count
}

func TestSelfReferentialRecord(t *testing.T) {
	g := mustBuild(t, `
- kind: struct
  id: c:@S@Node
  name: Node
  loc: list.h:1:8
  fields:
    - name: value
      type: {kind: prim, prim: int}
    - name: next
      type: {kind: pointer, elem: {kind: ref, ref: c:@S@Node, tag: struct, name: Node}}
`)
	id, n := named(t, g, "Node")
	if n.Type.Kind != types.KindRecord {
		t.Fatalf("Node kind = %s", n.Type.Kind)
	}
	info, _ := g.RecordInfo(id)
	ptr, _ := g.Lookup(info.Fields[1].Type)
	if ptr.Kind != types.KindPointer || ptr.Elem != id {
		t.Fatalf("next should point back to Node, got %+v", ptr)
	}
	if countNamed(g, "Node") != 1 {
		t.Fatalf("Node duplicated")
	}
	if n.Loc.File != "list.h" || n.Loc.Line != 1 {
		t.Fatalf("location lost: %v", n.Loc)
	}
}

func TestReferenceBeforeDefinitionPromotesPlaceholder(t *testing.T) {
	g := mustBuild(t, `
- kind: struct
  name: A
  fields:
    - name: b
      type: {kind: pointer, elem: {kind: ref, tag: struct, name: B}}
- kind: struct
  name: B
  fields:
    - name: a
      type: {kind: ref, tag: struct, name: A}
`)
	aID, _ := named(t, g, "A")
	bID, bNode := named(t, g, "B")
	if bNode.Type.Kind != types.KindRecord {
		t.Fatalf("B not promoted: %s", bNode.Type.Kind)
	}
	info, _ := g.RecordInfo(aID)
	ptr, _ := g.Lookup(info.Fields[0].Type)
	if ptr.Elem != bID {
		t.Fatalf("A.b points at %d, want %d", ptr.Elem, bID)
	}
}

func TestForwardOnlyRecordIsIncomplete(t *testing.T) {
	g := mustBuild(t, `
- {kind: struct, name: Handle, forward: true}
- kind: function
  name: open_handle
  result: {kind: pointer, elem: {kind: ref, tag: struct, name: Handle}}
`)
	_, n := named(t, g, "Handle")
	if n.Type.Kind != types.KindOpaque || n.Type.Opaque != types.OpaqueIncomplete {
		t.Fatalf("Handle = %s/%s, want opaque incomplete", n.Type.Kind, n.Type.Opaque)
	}
	if len(g.Functions()) != 1 {
		t.Fatalf("function lost")
	}
}

const unresolvedUnit = `
- kind: struct
  name: S
  loc: s.h:4:8
  fields:
    - name: f
      loc: s.h:5:5
      type: {kind: pointer, elem: {kind: ref, tag: struct, name: Foo}}
`

func TestUnresolvedFailsUnderFailPolicy(t *testing.T) {
	_, _, err := buildYAML(t, config.Default(), unresolvedUnit)
	var ue *UnresolvedTypeError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnresolvedTypeError, got %v", err)
	}
	if ue.Name != "Foo" || ue.Referrer != "S" || ue.Loc.Line != 5 {
		t.Fatalf("unexpected error fields: %+v", ue)
	}
	if ue.Code() != diag.BldUnresolvedType {
		t.Fatalf("code = %v", ue.Code())
	}
	if !strings.Contains(err.Error(), "struct Foo") {
		t.Fatalf("message should spell the tag: %v", err)
	}
}

func TestUnresolvedBecomesOpaqueWhenAllowed(t *testing.T) {
	cfg := config.Default()
	cfg.UnknownTypes = config.UnknownAllowOpaque
	g, bag, err := buildYAML(t, cfg, unresolvedUnit)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	_, n := named(t, g, "Foo")
	if n.Type.Opaque != types.OpaqueUnknown {
		t.Fatalf("Foo = %s, want unknown", n.Type.Opaque)
	}
	if !bag.HasWarnings() {
		t.Fatalf("expected an opaque fallback warning")
	}
	if bag.Items()[0].Code != diag.BldOpaqueFallback {
		t.Fatalf("code = %v", bag.Items()[0].Code)
	}
}

func TestAnonymousMembersNamedAfterUseSite(t *testing.T) {
	g := mustBuild(t, `
- kind: struct
  name: Outer
  fields:
    - name: u
      type:
        kind: ref
        decl:
          kind: union
          fields:
            - {name: i, type: {kind: prim, prim: int}}
            - {name: f, type: {kind: prim, prim: float}}
    - name: s
      type:
        kind: ref
        decl:
          kind: struct
          fields:
            - {name: x, type: {kind: prim, prim: int}}
    - type:
        kind: ref
        decl:
          kind: enum
          variants: [{name: RED, value: 0}]
`)
	_, u := named(t, g, "Outer_u")
	if !u.Anonymous || u.Type.Kind != types.KindRecord {
		t.Fatalf("Outer_u: %+v", u)
	}
	named(t, g, "Outer_s")
	_, e := named(t, g, "Outer_anon2")
	if e.Type.Kind != types.KindEnum {
		t.Fatalf("inline enum not lifted: %s", e.Type.Kind)
	}
}

func TestIdentifiedAnonymousSplitsPerUseSite(t *testing.T) {
	g := mustBuild(t, `
- kind: struct
  id: anon-1
  fields:
    - {name: x, type: {kind: prim, prim: int}}
- kind: struct
  name: P
  fields:
    - {name: a, type: {kind: ref, ref: anon-1}}
    - {name: b, type: {kind: ref, ref: anon-1}}
- kind: struct
  id: anon-2
  fields:
    - {name: y, type: {kind: prim, prim: char}}
`)
	pa, _ := named(t, g, "P_a")
	pb, _ := named(t, g, "P_b")
	if pa == pb {
		t.Fatalf("distinct use sites must not share a node")
	}
	if !g.SameRecordShape(pa, pb) {
		t.Fatalf("split nodes should keep the same shape")
	}
	named(t, g, "Anon1")
}

func TestTypedefAdoptsAnonymousAndElidesSameName(t *testing.T) {
	g := mustBuild(t, `
- kind: typedef
  name: Point
  type:
    kind: ref
    decl:
      kind: struct
      fields:
        - {name: x, type: {kind: prim, prim: int}}
        - {name: y, type: {kind: prim, prim: int}}
- {kind: struct, name: Vec, fields: [{name: n, type: {kind: prim, prim: long}}]}
- {kind: typedef, name: Vec, type: {kind: ref, tag: struct, name: Vec}}
- kind: var
  name: origin
  type: {kind: ref, name: Point}
- kind: var
  name: v
  type: {kind: ref, name: Vec}
`)
	pid, p := named(t, g, "Point")
	if p.Type.Kind != types.KindRecord || p.Anonymous {
		t.Fatalf("Point should be a named record, got %+v", p)
	}
	for _, id := range g.IDs() {
		if g.MustNode(id).Type.Kind == types.KindTypedef {
			t.Fatalf("unexpected typedef node %q", g.MustNode(id).Name)
		}
	}
	globals := g.Globals()
	if globals[0].Type != pid {
		t.Fatalf("origin should reference Point directly")
	}
	vid, _ := named(t, g, "Vec")
	if globals[1].Type != vid {
		t.Fatalf("v should reference the Vec record")
	}
}

func TestTypedefChainAndLateTypedef(t *testing.T) {
	g := mustBuild(t, `
- kind: var
  name: x
  type: {kind: ref, name: size_t}
- {kind: typedef, name: __size_t, type: {kind: prim, prim: unsigned long}}
- {kind: typedef, name: size_t, type: {kind: ref, name: __size_t}}
`)
	id, n := named(t, g, "size_t")
	if n.Type.Kind != types.KindTypedef {
		t.Fatalf("size_t = %s", n.Type.Kind)
	}
	if g.Globals()[0].Type != id {
		t.Fatalf("placeholder identity not preserved")
	}
	canon, _ := g.Lookup(g.Canonical(id))
	if canon.Kind != types.KindPrimitive || canon.Prim != types.PrimULong {
		t.Fatalf("canonical = %+v", canon)
	}
}

func TestBuiltinsSkippedBecomeOpaque(t *testing.T) {
	text := `
- kind: typedef
  name: __builtin_va_list
  builtin: true
  type:
    kind: array
    len: 1
    elem: {kind: ref, tag: struct, name: __va_list_tag}
- kind: function
  name: vprintf
  result: {kind: prim, prim: int}
  params:
    - {name: fmt, type: {kind: pointer, const: true, elem: {kind: prim, prim: char}}}
    - {name: ap, type: {kind: ref, name: __builtin_va_list}}
`
	g, bag, err := buildYAML(t, config.Default(), text)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	_, n := named(t, g, "__builtin_va_list")
	if !n.Builtin || n.Type.Kind != types.KindOpaque {
		t.Fatalf("builtin should be an opaque handle: %+v", n)
	}
	if bag.Len() == 0 || bag.Items()[0].Code != diag.BldBuiltinSkipped {
		t.Fatalf("expected a builtin-skipped note")
	}

	cfg := config.Default()
	cfg.Builtins = true
	cfg.UnknownTypes = config.UnknownAllowOpaque
	g, _, err = buildYAML(t, cfg, text)
	if err != nil {
		t.Fatalf("build with builtins: %v", err)
	}
	_, n = named(t, g, "__builtin_va_list")
	if n.Type.Kind != types.KindTypedef {
		t.Fatalf("builtins enabled: %s", n.Type.Kind)
	}
}

func TestParamArraysDecay(t *testing.T) {
	g := mustBuild(t, `
- kind: function
  name: sum
  result: {kind: prim, prim: int}
  params:
    - name: xs
      type: {kind: array, len: 4, elem: {kind: prim, prim: int}}
    - {name: n, type: {kind: prim, prim: int}}
`)
	fn := g.Functions()[0]
	info, ok := g.FuncInfo(fn.Sig)
	if !ok {
		t.Fatalf("signature missing")
	}
	p, _ := g.Lookup(info.Params[0].Type)
	if p.Kind != types.KindPointer {
		t.Fatalf("array parameter should decay, got %s", p.Kind)
	}
	if fn.ParamNames[0] != "xs" {
		t.Fatalf("param names = %v", fn.ParamNames)
	}
}

func TestConflictingRedefinitionWarns(t *testing.T) {
	_, bag, err := buildYAML(t, config.Default(), `
- {kind: struct, name: S, fields: [{name: a, type: {kind: prim, prim: int}}]}
- {kind: struct, name: S, fields: [{name: a, type: {kind: prim, prim: int}}]}
- {kind: struct, name: S, fields: [{name: a, type: {kind: prim, prim: long}}]}
`)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if bag.Len() != 1 || bag.Items()[0].Code != diag.BldConflictingDecl {
		t.Fatalf("expected exactly one conflict warning, got %v", bag.Items())
	}
}

func TestMalformedDeclaration(t *testing.T) {
	_, _, err := buildYAML(t, config.Default(), `
- kind: var
  name: g
  type: {kind: prim, prim: quadruple}
`)
	var de *DeclError
	if !errors.As(err, &de) || de.Decl != "g" {
		t.Fatalf("expected DeclError for g, got %v", err)
	}
}

func anonymousNames(g *types.Graph) []string {
	var out []string
	for _, id := range g.IDs() {
		if n := g.MustNode(id); n.Anonymous && n.Type.Kind == types.KindRecord {
			out = append(out, n.Name)
		}
	}
	slices.Sort(out)
	return out
}

func TestIdentifiedAnonymousIndependentOfOrder(t *testing.T) {
	const decl = `
- kind: struct
  id: anon-1
  fields:
    - {name: v, type: {kind: prim, prim: int}}
`
	const useA = `
- kind: struct
  name: A
  fields:
    - {name: x, type: {kind: ref, ref: anon-1}}
`
	const useB = `
- kind: struct
  name: B
  fields:
    - {name: y, type: {kind: pointer, elem: {kind: ref, ref: anon-1}}}
`
	orders := map[string]string{
		"declaration first":  decl + useA + useB,
		"declaration middle": useA + decl + useB,
		"declaration last":   useA + useB + decl,
	}
	for name, text := range orders {
		t.Run(name, func(t *testing.T) {
			g := mustBuild(t, text)
			if got := anonymousNames(g); !slices.Equal(got, []string{"A_x", "B_y"}) {
				t.Fatalf("anonymous records = %v, want [A_x B_y]", got)
			}
			if countNamed(g, "anon-1") != 0 {
				t.Fatalf("a placeholder kept the raw reference as its name")
			}
			ax, _ := named(t, g, "A_x")
			info, _ := g.RecordInfo(ax)
			if len(info.Fields) != 1 || info.Fields[0].Name != "v" {
				t.Fatalf("A_x fields = %+v", info.Fields)
			}
		})
	}
}

func TestTypedefBeforeAnonymousDeclaration(t *testing.T) {
	g := mustBuild(t, `
- {kind: typedef, name: Handle, type: {kind: ref, ref: anon-7}}
- kind: var
  name: h
  type: {kind: ref, ref: anon-7}
- kind: struct
  id: anon-7
  fields:
    - {name: fd, type: {kind: prim, prim: int}}
`)
	id, n := named(t, g, "Handle")
	if n.Type.Kind != types.KindRecord || n.Anonymous {
		t.Fatalf("Handle = %s anonymous=%t, want the record itself", n.Type.Kind, n.Anonymous)
	}
	if got := g.Canonical(g.Globals()[0].Type); got != id {
		t.Fatalf("h resolves to %d, want Handle %d", got, id)
	}
	if names := anonymousNames(g); len(names) != 0 {
		t.Fatalf("unexpected anonymous records %v", names)
	}
}

func TestNamedDeclarationAfterBareReference(t *testing.T) {
	g := mustBuild(t, `
- kind: struct
  name: A
  fields:
    - {name: p, type: {kind: pointer, elem: {kind: ref, ref: c:@S@Late}}}
    - {name: q, type: {kind: pointer, elem: {kind: ref, ref: c:@S@Late}}}
- kind: struct
  id: c:@S@Late
  name: Late
  fields:
    - {name: n, type: {kind: prim, prim: int}}
`)
	late, n := named(t, g, "Late")
	if n.Type.Kind != types.KindRecord {
		t.Fatalf("Late kind = %s", n.Type.Kind)
	}
	a, _ := named(t, g, "A")
	info, _ := g.RecordInfo(a)
	for _, f := range info.Fields {
		ptr, _ := g.Lookup(f.Type)
		if g.Canonical(ptr.Elem) != late {
			t.Fatalf("field %s does not reach Late", f.Name)
		}
	}
}

func TestUndeclaredBareReferencesCollapse(t *testing.T) {
	cfg := config.Default()
	cfg.UnknownTypes = config.UnknownAllowOpaque
	g, _, err := buildYAML(t, cfg, `
- kind: struct
  name: A
  fields:
    - {name: p, type: {kind: pointer, elem: {kind: ref, ref: anon-9}}}
- kind: struct
  name: B
  fields:
    - {name: q, type: {kind: pointer, elem: {kind: ref, ref: anon-9}}}
`)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	target := func(record string) types.TypeID {
		id, _ := named(t, g, record)
		info, _ := g.RecordInfo(id)
		ptr, _ := g.Lookup(info.Fields[0].Type)
		return g.Canonical(ptr.Elem)
	}
	pa, pb := target("A"), target("B")
	if pa != pb {
		t.Fatalf("uses of one missing declaration must share an opaque node")
	}
	if n := g.MustNode(pa); n.Type.Opaque != types.OpaqueUnknown {
		t.Fatalf("missing declaration = %s, want unknown", n.Type.Opaque)
	}
}

func TestDeferredAnonymousBodyErrorFails(t *testing.T) {
	const decl = `
- kind: struct
  id: anon-3
  fields:
    - {name: w, type: {kind: prim, prim: quadruple}}
`
	const use = `
- kind: struct
  name: U
  fields:
    - {name: m, type: {kind: ref, ref: anon-3}}
`
	for name, text := range map[string]string{"use first": use + decl, "declaration first": decl + use} {
		t.Run(name, func(t *testing.T) {
			_, _, err := buildYAML(t, config.Default(), text)
			var de *DeclError
			if !errors.As(err, &de) {
				t.Fatalf("expected DeclError, got %v", err)
			}
			if !strings.Contains(err.Error(), "quadruple") {
				t.Fatalf("error should name the bad primitive: %v", err)
			}
		})
	}
}
