package emit_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ffigen/internal/ast"
	"ffigen/internal/builder"
	"ffigen/internal/capability"
	"ffigen/internal/config"
	"ffigen/internal/diag"
	"ffigen/internal/emit"
	"ffigen/internal/layout"
)

func generate(t *testing.T, cfg config.Config, text string) (*emit.Output, *diag.Bag, error) {
	t.Helper()
	decls, err := ast.DecodeBytes([]byte(text), ast.FormatYAML)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ctx := context.Background()
	bag := diag.NewBag(100)
	rep := diag.BagReporter{Bag: bag}
	g, err := builder.Build(ctx, ast.NewSliceStream(decls), cfg, rep)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := layout.New(cfg, g).Run(ctx, rep); err != nil {
		t.Fatalf("layout: %v", err)
	}
	if err := capability.New(cfg, g).Run(ctx, rep); err != nil {
		t.Fatalf("capability: %v", err)
	}
	out, err := emit.New(cfg, g).Emit(ctx, rep)
	return out, bag, err
}

func mustGenerate(t *testing.T, cfg config.Config, text string) (*emit.Output, *diag.Bag) {
	t.Helper()
	out, bag, err := generate(t, cfg, text)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	return out, bag
}

func item(t *testing.T, out *emit.Output, name string) emit.Item {
	t.Helper()
	it, ok := out.Find(name)
	if !ok {
		t.Fatalf("no item %q in\n%s", name, out.Rust())
	}
	return it
}

func index(out *emit.Output, kind emit.ItemKind, name string) int {
	for i, it := range out.Items {
		if it.Kind == kind && it.Name == name {
			return i
		}
	}
	return -1
}

func contains(t *testing.T, text string, wants ...string) {
	t.Helper()
	for _, w := range wants {
		if !strings.Contains(text, w) {
			t.Fatalf("missing %q in\n%s", w, text)
		}
	}
}

func TestFlagsBitfieldAccessors(t *testing.T) {
	out, _ := mustGenerate(t, config.Default(), `
- kind: struct
  name: Flags
  fields:
    - {name: a, bits: 3, type: {kind: prim, prim: unsigned int}}
    - {name: b, bits: 5, type: {kind: prim, prim: unsigned int}}
`)
	it := item(t, out, "Flags")
	if it.Kind != emit.ItemStruct || it.Size != 4 || it.Align != 4 {
		t.Fatalf("Flags item = %+v", it)
	}
	contains(t, it.Text,
		"#[repr(C)]\n#[derive(Copy, Clone, Debug)]\npub struct Flags {\n    pub _bitfield_1: u32,\n}\n",
		"pub fn a(&self) -> ::std::os::raw::c_uint {\n        ((self._bitfield_1 >> 0) & 0x7u32) as ::std::os::raw::c_uint\n",
		"pub fn b(&self) -> ::std::os::raw::c_uint {\n        ((self._bitfield_1 >> 3) & 0x1fu32) as ::std::os::raw::c_uint\n",
		"pub fn set_b(&mut self, val: ::std::os::raw::c_uint) {\n        let mask: u32 = 0xf8;\n",
		"[\"Size of Flags\"][::std::mem::size_of::<Flags>() - 4usize];",
		"[\"Offset of field: Flags::_bitfield_1\"][::std::mem::offset_of!(Flags, _bitfield_1) - 0usize];",
		"unsafe { ::std::mem::zeroed() }",
	)
	if len(it.Fields) != 3 || it.Fields[2].Name != "b" || it.Fields[2].BitOffset != 3 || it.Fields[2].BitWidth != 5 {
		t.Fatalf("IR fields = %+v", it.Fields)
	}
}

func TestSignedBitfieldSignExtends(t *testing.T) {
	out, _ := mustGenerate(t, config.Default(), `
- kind: struct
  name: S
  fields:
    - {name: lo, bits: 4, type: {kind: prim, prim: int}}
    - {name: hi, bits: 4, type: {kind: prim, prim: int}}
`)
	contains(t, item(t, out, "S").Text,
		"(((self._bitfield_1 << 24) as i32) >> 28) as ::std::os::raw::c_int",
		"(((self._bitfield_1 << 28) as i32) >> 28) as ::std::os::raw::c_int",
	)
}

func TestExplicitPadding(t *testing.T) {
	out, _ := mustGenerate(t, config.Default(), `
- kind: struct
  name: P
  fields:
    - {name: c, type: {kind: prim, prim: char}}
    - {name: i, type: {kind: prim, prim: int}}
    - {name: d, type: {kind: prim, prim: char}}
`)
	contains(t, item(t, out, "P").Text,
		"    pub c: ::std::os::raw::c_char,\n    pub _pad0: [u8; 3],\n    pub i: ::std::os::raw::c_int,\n    pub d: ::std::os::raw::c_char,\n    pub _pad1: [u8; 3],\n",
		"::std::mem::size_of::<P>() - 12usize",
		"::std::mem::offset_of!(P, i) - 4usize",
	)
}

func TestFlexibleMemberKeepsOffset(t *testing.T) {
	out, _ := mustGenerate(t, config.Default(), `
- kind: struct
  name: Msg
  fields:
    - {name: a, type: {kind: prim, prim: long}}
    - {name: c, type: {kind: prim, prim: char}}
    - {name: data, type: {kind: array, elem: {kind: prim, prim: int}}}
`)
	contains(t, item(t, out, "Msg").Text,
		"    pub c: ::std::os::raw::c_char,\n    pub _pad0: [u8; 3],\n    pub data: [::std::os::raw::c_int; 0],\n    pub _pad1: [u8; 4],\n",
		"::std::mem::offset_of!(Msg, data) - 12usize",
	)
}

const colorUnit = `
- kind: enum
  name: Color
  variants:
    - {name: RED, value: -1}
    - {name: GREEN, value: 0}
    - {name: BLUE, value: 255}
    - {name: CRIMSON, value: -1}
`

func TestTaggedEnum(t *testing.T) {
	out, _ := mustGenerate(t, config.Default(), colorUnit)
	it := item(t, out, "Color")
	if it.Kind != emit.ItemEnum || it.Repr != "i16" {
		t.Fatalf("Color = %+v", it)
	}
	contains(t, it.Text,
		"#[repr(i16)]\n#[derive(Copy, Clone, Debug, PartialEq, Eq, Hash, Default)]\npub enum Color {\n    RED = -1,\n    #[default]\n    GREEN = 0,\n    BLUE = 255,\n}\n",
		"impl Color {\n    pub const CRIMSON: Color = Color::RED;\n}\n",
	)
}

func TestIntegerConstantEnum(t *testing.T) {
	cfg := config.Default()
	cfg.EnumEmission = config.EnumConstants
	out, _ := mustGenerate(t, cfg, colorUnit)
	it := item(t, out, "Color")
	if it.Kind != emit.ItemConstants {
		t.Fatalf("Color kind = %s", it.Kind)
	}
	contains(t, it.Text,
		"pub type Color = ::std::os::raw::c_short;\n",
		"pub const Color_RED: Color = -1;\n",
		"pub const Color_BLUE: Color = 255;\n",
		"pub const Color_CRIMSON: Color = -1;\n",
	)
}

const cycleUnit = `
- kind: struct
  name: A
  fields:
    - {name: b, type: {kind: pointer, elem: {kind: ref, tag: struct, name: B}}}
    - {name: in, type: {kind: ref, tag: struct, name: Inner}}
- kind: struct
  name: B
  fields:
    - {name: a, type: {kind: pointer, elem: {kind: ref, tag: struct, name: A}}}
- kind: struct
  name: Inner
  fields:
    - {name: x, type: {kind: prim, prim: int}}
`

func TestDependencyOrderAndForwardItems(t *testing.T) {
	out, _ := mustGenerate(t, config.Default(), cycleUnit)
	fwd := index(out, emit.ItemForward, "A")
	b := index(out, emit.ItemStruct, "B")
	a := index(out, emit.ItemStruct, "A")
	inner := index(out, emit.ItemStruct, "Inner")
	if fwd < 0 || b < 0 || a < 0 || inner < 0 {
		t.Fatalf("missing items: %+v", out.Items)
	}
	if fwd >= b || b >= a {
		t.Fatalf("order forward=%d B=%d A=%d", fwd, b, a)
	}
	if inner >= a {
		t.Fatalf("by-value dependency Inner (%d) after A (%d)", inner, a)
	}
	contains(t, item(t, out, "A").Text, "pub in_: Inner,", "pub b: *mut B,")
}

func TestKeywordsAreEscapedAndAliased(t *testing.T) {
	out, bag := mustGenerate(t, config.Default(), `
- kind: struct
  name: type
  fields:
    - {name: match, type: {kind: prim, prim: int}}
- kind: function
  name: loop
  result: {kind: prim, prim: void}
  params:
    - {name: self, type: {kind: pointer, elem: {kind: ref, tag: struct, name: type}}}
`)
	it := item(t, out, "type_")
	if !it.Renamed || it.CName != "type" {
		t.Fatalf("type item = %+v", it)
	}
	contains(t, it.Text, "#[doc(alias = \"type\")]\n", "pub match_: ::std::os::raw::c_int,")
	fn := item(t, out, "loop_")
	contains(t, fn.Text, "#[link_name = \"loop\"]\n", "pub fn loop_(self_: *mut type_);")
	renamed := 0
	for _, d := range bag.Items() {
		if d.Code == diag.EmiRenamed {
			renamed++
		}
	}
	if renamed != 1 {
		t.Fatalf("renamed notes = %d, want 1", renamed)
	}
}

const collisionUnit = `
- kind: struct
  name: Foo
  fields:
    - {name: x, type: {kind: prim, prim: int}}
- kind: struct
  name: Foo_1
  fields:
    - {name: y, type: {kind: prim, prim: int}}
- {kind: typedef, name: Foo, type: {kind: prim, prim: long}}
`

func TestCollisionsAreNumbered(t *testing.T) {
	out, _ := mustGenerate(t, config.Default(), collisionUnit)
	alias := item(t, out, "Foo_2")
	if alias.Kind != emit.ItemAlias || alias.CName != "Foo" {
		t.Fatalf("alias = %+v", alias)
	}
	contains(t, alias.Text, "#[doc(alias = \"Foo\")]\npub type Foo_2 = ::std::os::raw::c_long;\n")
}

func TestCollisionExhaustion(t *testing.T) {
	cfg := config.Default()
	cfg.MaxRenameAttempts = 1
	_, _, err := generate(t, cfg, collisionUnit)
	var ee *emit.EmitError
	if !errors.As(err, &ee) || ee.Kind != emit.EmitErrNameCollision || ee.Name != "Foo" {
		t.Fatalf("err = %v, want a name collision on Foo", err)
	}
	if ee.Code() != diag.EmiNameCollision {
		t.Fatalf("code = %s", ee.Code())
	}
}

func TestUnsupportedShape(t *testing.T) {
	_, _, err := generate(t, config.Default(), `
- kind: struct
  name: Bad
  fields:
    - {name: data, type: {kind: array, elem: {kind: prim, prim: int}}}
    - {name: n, type: {kind: prim, prim: int}}
`)
	var ee *emit.EmitError
	if !errors.As(err, &ee) || ee.Kind != emit.EmitErrUnsupportedShape || ee.Name != "Bad" {
		t.Fatalf("err = %v, want unsupported shape on Bad", err)
	}
}

func TestExternBlock(t *testing.T) {
	cfg := config.Default()
	cfg.Links = []config.Link{{Name: "z", Kind: config.LinkStatic}, {Name: "m"}}
	cfg.LinkPrefix = "pfx_"
	out, bag := mustGenerate(t, cfg, `
- kind: function
  name: printf
  variadic: true
  result: {kind: prim, prim: int}
  params:
    - {name: fmt, type: {kind: pointer, const: true, elem: {kind: prim, prim: char}}}
- kind: function
  name: legacy
  noproto: true
  result: {kind: prim, prim: int}
- {kind: var, name: version, const: true, type: {kind: prim, prim: int}}
- {kind: var, name: counter, type: {kind: prim, prim: unsigned long}}
`)
	text := out.Rust()
	contains(t, text,
		emit.Banner,
		"#[link(name = \"z\", kind = \"static\")]\n#[link(name = \"m\")]\nunsafe extern \"C\" {\n",
		"    #[link_name = \"pfx_printf\"]\n    pub fn printf(fmt: *const ::std::os::raw::c_char, ...) -> ::std::os::raw::c_int;\n",
		"    pub static version: ::std::os::raw::c_int;\n",
		"    pub static mut counter: ::std::os::raw::c_ulong;\n",
	)
	if strings.Contains(text, "legacy") {
		t.Fatalf("prototype-less function emitted:\n%s", text)
	}
	skipped := false
	for _, d := range bag.Items() {
		if d.Code == diag.EmiSkippedNoProto && d.Subject == "legacy" {
			skipped = true
		}
	}
	if !skipped {
		t.Fatalf("expected a no-prototype warning")
	}
}

func TestFunctionPointers(t *testing.T) {
	out, _ := mustGenerate(t, config.Default(), `
- kind: struct
  name: Cb
  fields:
    - name: cb
      type:
        kind: pointer
        elem: {kind: func, result: {kind: prim, prim: void}, params: [{type: {kind: prim, prim: int}}]}
- kind: typedef
  name: old_fn
  type: {kind: pointer, elem: {kind: func, noproto: true, result: {kind: prim, prim: void}}}
`)
	cb := item(t, out, "Cb")
	contains(t, cb.Text, "pub cb: ::std::option::Option<unsafe extern \"C\" fn(::std::os::raw::c_int)>,")
	if strings.Contains(cb.Text, "Debug") {
		t.Fatalf("function pointer record derives Debug:\n%s", cb.Text)
	}
	stub := item(t, out, "old_fn")
	if stub.Kind != emit.ItemStub {
		t.Fatalf("old_fn kind = %s", stub.Kind)
	}
	contains(t, stub.Text, "pub type old_fn = *const ::std::os::raw::c_void;")
}

func TestLargeArrayGetsManualImpls(t *testing.T) {
	out, _ := mustGenerate(t, config.Default(), `
- kind: struct
  name: Big
  fields:
    - {name: len, type: {kind: prim, prim: int}}
    - {name: buf, type: {kind: array, len: 64, elem: {kind: prim, prim: char}}}
`)
	it := item(t, out, "Big")
	if len(it.Derives) != 0 {
		t.Fatalf("Big derives %v", it.Derives)
	}
	contains(t, it.Text,
		"impl Clone for Big {\n    fn clone(&self) -> Self {\n        *self\n    }\n}\nimpl Copy for Big {}\n",
		"f.debug_struct(\"Big\")\n            .field(\"len\", &self.len)\n            .finish_non_exhaustive()",
	)
}

func TestTypedefOfSameNameIsElided(t *testing.T) {
	out, _ := mustGenerate(t, config.Default(), `
- kind: struct
  name: Vec
  fields:
    - {name: x, type: {kind: prim, prim: float}}
- {kind: typedef, name: Vec, type: {kind: ref, tag: struct, name: Vec}}
- kind: function
  name: vec_len
  result: {kind: prim, prim: float}
  params:
    - {name: v, type: {kind: pointer, const: true, elem: {kind: ref, name: Vec}}}
`)
	for _, it := range out.Items {
		if it.Kind == emit.ItemAlias {
			t.Fatalf("unexpected alias %+v", it)
		}
	}
	contains(t, item(t, out, "vec_len").Text, "pub fn vec_len(v: *const Vec) -> f32;")
}

const unknownUnit = `
- kind: struct
  name: S
  fields:
    - {name: f, type: {kind: pointer, elem: {kind: ref, tag: struct, name: Foo}}}
`

func TestUnknownTypeBecomesHandle(t *testing.T) {
	cfg := config.Default()
	cfg.UnknownTypes = config.UnknownAllowOpaque
	out, _ := mustGenerate(t, cfg, unknownUnit)
	foo := item(t, out, "Foo")
	if foo.Kind != emit.ItemOpaque {
		t.Fatalf("Foo kind = %s", foo.Kind)
	}
	contains(t, foo.Text, "pub struct Foo {\n    _unused: [u8; 0],\n}\n")
	contains(t, item(t, out, "S").Text, "pub f: *mut Foo,")
	if index(out, emit.ItemOpaque, "Foo") > index(out, emit.ItemStruct, "S") {
		t.Fatalf("handle must precede its user")
	}
}

func TestUnsizedUsesAreSkipped(t *testing.T) {
	cfg := config.Default()
	cfg.UnknownTypes = config.UnknownAllowOpaque
	out, bag := mustGenerate(t, cfg, `
- kind: struct
  name: Holder
  fields:
    - {name: f, type: {kind: ref, tag: struct, name: Foo}}
- kind: function
  name: take
  result: {kind: prim, prim: void}
  params:
    - {name: h, type: {kind: ref, tag: struct, name: Holder}}
- kind: function
  name: take_ptr
  result: {kind: prim, prim: void}
  params:
    - {name: h, type: {kind: pointer, elem: {kind: ref, tag: struct, name: Holder}}}
`)
	if it := item(t, out, "Holder"); it.Kind != emit.ItemOpaque {
		t.Fatalf("Holder kind = %s", it.Kind)
	}
	if _, ok := out.Find("take"); ok {
		t.Fatalf("take needs Holder by value and must be skipped")
	}
	item(t, out, "take_ptr")
	warned := false
	for _, d := range bag.Items() {
		if d.Code == diag.EmiSkippedOpaqueUse && d.Subject == "take" {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected a skipped-use warning for take")
	}
}

func TestDenyFilterKeepsLayout(t *testing.T) {
	cfg := config.Default()
	f, err := config.NewFilter(nil, []string{"Secret", "Hidden"})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	cfg.Filter = f
	out, _ := mustGenerate(t, cfg, `
- kind: struct
  name: Secret
  fields:
    - {name: a, type: {kind: prim, prim: int}}
    - {name: b, type: {kind: prim, prim: long}}
- kind: struct
  name: Hidden
  fields:
    - {name: a, type: {kind: prim, prim: int}}
- kind: struct
  name: Pub
  fields:
    - {name: s, type: {kind: ref, tag: struct, name: Secret}}
    - {name: h, type: {kind: pointer, elem: {kind: ref, tag: struct, name: Hidden}}}
`)
	secret := item(t, out, "Secret")
	if secret.Kind != emit.ItemBlob || secret.Size != 16 || secret.Align != 8 {
		t.Fatalf("Secret = %+v", secret)
	}
	contains(t, secret.Text, "#[repr(C, align(8))]", "pub _blob: [u8; 16],")
	if hidden := item(t, out, "Hidden"); hidden.Kind != emit.ItemOpaque {
		t.Fatalf("Hidden kind = %s", hidden.Kind)
	}
	if strings.Contains(out.Rust(), "pub a:") {
		t.Fatalf("filtered fields leaked:\n%s", out.Rust())
	}
}

func TestMatchRestrictsRoots(t *testing.T) {
	cfg := config.Default()
	cfg.Match = []string{"api.h"}
	out, _ := mustGenerate(t, cfg, `
- kind: struct
  name: Dep
  loc: internal.h:1:1
  fields:
    - {name: x, type: {kind: prim, prim: int}}
- kind: struct
  name: Unused
  loc: internal.h:5:1
  fields:
    - {name: y, type: {kind: prim, prim: int}}
- kind: struct
  name: Api
  loc: api.h:1:1
  fields:
    - {name: d, type: {kind: ref, tag: struct, name: Dep}}
`)
	item(t, out, "Api")
	item(t, out, "Dep")
	if _, ok := out.Find("Unused"); ok {
		t.Fatalf("Unused does not match and nothing needs it")
	}
}

func TestJSONRendering(t *testing.T) {
	out, _ := mustGenerate(t, config.Default(), cycleUnit)
	var sb strings.Builder
	if err := emit.RenderJSON(&sb, out); err != nil {
		t.Fatalf("render: %v", err)
	}
	contains(t, sb.String(), `"kind": "forward"`, `"kind": "struct"`, `"c_name": "Inner"`, `"target": "x86_64-linux-gnu"`)
}
