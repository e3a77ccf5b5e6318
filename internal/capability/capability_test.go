package capability_test

import (
	"context"
	"testing"

	"ffigen/internal/ast"
	"ffigen/internal/builder"
	"ffigen/internal/capability"
	"ffigen/internal/config"
	"ffigen/internal/diag"
	"ffigen/internal/layout"
	"ffigen/internal/types"
)

func analyze(t *testing.T, cfg config.Config, text string) (*types.Graph, *diag.Bag) {
	t.Helper()
	decls, err := ast.DecodeBytes([]byte(text), ast.FormatYAML)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ctx := context.Background()
	g, err := builder.Build(ctx, ast.NewSliceStream(decls), cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	bag := diag.NewBag(50)
	rep := diag.BagReporter{Bag: bag}
	if err := layout.New(cfg, g).Run(ctx, rep); err != nil {
		t.Fatalf("layout: %v", err)
	}
	if err := capability.New(cfg, g).Run(ctx, rep); err != nil {
		t.Fatalf("capability: %v", err)
	}
	return g, bag
}

func capsOf(t *testing.T, g *types.Graph, name string) types.CapabilityFlags {
	t.Helper()
	for _, id := range g.IDs() {
		n := g.MustNode(id)
		if n.Name != name || !n.Type.Kind.Nominal() {
			continue
		}
		f, ok := g.CapsOf(id)
		if !ok {
			t.Fatalf("%s has no capability flags", name)
		}
		return f
	}
	t.Fatalf("no node named %q", name)
	return types.CapabilityFlags{}
}

const mixedUnit = `
- kind: struct
  name: Plain
  fields:
    - {name: x, type: {kind: prim, prim: int}}
    - {name: p, type: {kind: pointer, elem: {kind: prim, prim: char}}}
- kind: struct
  name: Callback
  fields:
    - name: cb
      type: {kind: pointer, elem: {kind: func, result: {kind: prim, prim: void}}}
- kind: struct
  name: Big
  fields:
    - {name: buf, type: {kind: array, len: 64, elem: {kind: prim, prim: char}}}
- kind: struct
  name: Small
  fields:
    - {name: buf, type: {kind: array, len: 16, elem: {kind: prim, prim: char}}}
- kind: struct
  name: Outer
  fields:
    - {name: inner, type: {kind: ref, tag: struct, name: Big}}
- kind: union
  name: Either
  fields:
    - {name: i, type: {kind: prim, prim: int}}
    - {name: f, type: {kind: prim, prim: float}}
- kind: enum
  name: Color
  variants:
    - {name: RED, value: 0}
    - {name: GREEN, value: 1}
`

func TestPlainRecordDerivesEverythingButDefault(t *testing.T) {
	g, _ := analyze(t, config.Default(), mixedUnit)
	f := capsOf(t, g, "Plain")
	if f.Copy != types.CapDerive || f.Debug != types.CapDerive {
		t.Fatalf("Plain = %s", f)
	}
	// Raw pointers have no Default; the record falls back to zeroing.
	if f.Default != types.CapManual {
		t.Fatalf("Plain default = %s, want manual", f.Default)
	}
}

func TestFunctionPointerSuppressesDebug(t *testing.T) {
	g, bag := analyze(t, config.Default(), mixedUnit)
	f := capsOf(t, g, "Callback")
	if f.Debug != types.CapNone || f.Copy != types.CapDerive {
		t.Fatalf("Callback = %s", f)
	}
	found := false
	for _, d := range bag.Items() {
		if d.Code == diag.CapDebugSuppressed && d.Subject == "Callback" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a suppressed-Debug note for Callback")
	}
}

func TestLargeArraysNeedManualImpls(t *testing.T) {
	g, bag := analyze(t, config.Default(), mixedUnit)
	big := capsOf(t, g, "Big")
	if big.Copy != types.CapManual || big.Debug != types.CapManual || big.Default != types.CapManual {
		t.Fatalf("Big = %s", big)
	}
	if small := capsOf(t, g, "Small"); small != types.AllDerive() {
		t.Fatalf("Small = %s", small)
	}
	// Conjunction carries through by-value members.
	if outer := capsOf(t, g, "Outer"); outer.Copy != types.CapManual {
		t.Fatalf("Outer = %s", outer)
	}
	manual := 0
	for _, d := range bag.Items() {
		if d.Code == diag.CapManualImpl {
			manual++
		}
	}
	if manual != 2 {
		t.Fatalf("manual impl notes = %d, want 2", manual)
	}
}

func TestArrayLimitIsConfigurable(t *testing.T) {
	cfg := config.Default()
	cfg.DeriveArrayLimit = 8
	g, _ := analyze(t, cfg, mixedUnit)
	if small := capsOf(t, g, "Small"); small.Copy != types.CapManual {
		t.Fatalf("Small with limit 8 = %s", small)
	}
}

func TestUnionsNeverDeriveDebug(t *testing.T) {
	g, _ := analyze(t, config.Default(), mixedUnit)
	f := capsOf(t, g, "Either")
	if f.Debug != types.CapNone || f.Copy != types.CapDerive || f.Default != types.CapManual {
		t.Fatalf("Either = %s", f)
	}
}

func TestEnumsAreFullyEligible(t *testing.T) {
	for _, mode := range []config.EnumEmission{config.EnumTagged, config.EnumConstants} {
		cfg := config.Default()
		cfg.EnumEmission = mode
		g, _ := analyze(t, cfg, mixedUnit)
		if f := capsOf(t, g, "Color"); f != types.AllDerive() {
			t.Fatalf("%s: Color = %s", mode, f)
		}
	}
}

func TestDebugNever(t *testing.T) {
	cfg := config.Default()
	cfg.DeriveDebug = config.DebugNever
	g, bag := analyze(t, cfg, mixedUnit)
	for _, name := range []string{"Plain", "Small", "Color"} {
		if f := capsOf(t, g, name); f.Debug != types.CapNone {
			t.Fatalf("%s debug = %s under never", name, f.Debug)
		}
	}
	for _, d := range bag.Items() {
		if d.Code == diag.CapDebugSuppressed {
			t.Fatalf("unexpected note under never: %s", d.Message)
		}
	}
}

func TestUnknownOpaqueByValue(t *testing.T) {
	cfg := config.Default()
	cfg.UnknownTypes = config.UnknownAllowOpaque
	g, _ := analyze(t, cfg, `
- kind: struct
  name: Holder
  fields:
    - {name: f, type: {kind: ref, tag: struct, name: Foo}}
- kind: struct
  name: ByPtr
  fields:
    - {name: f, type: {kind: pointer, elem: {kind: ref, tag: struct, name: Foo}}}
`)
	if f := capsOf(t, g, "Holder"); f.Copy != types.CapNone || f.Debug != types.CapNone {
		t.Fatalf("Holder = %s", f)
	}
	if f := capsOf(t, g, "ByPtr"); f.Copy != types.CapDerive || f.Debug != types.CapDerive {
		t.Fatalf("ByPtr = %s", f)
	}
	if f := capsOf(t, g, "Foo"); f.Debug != types.CapNone {
		t.Fatalf("Foo = %s", f)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	cfg := config.Default()
	g, _ := analyze(t, cfg, mixedUnit)
	before := map[types.TypeID]types.CapabilityFlags{}
	for _, id := range g.IDs() {
		if f, ok := g.CapsOf(id); ok {
			before[id] = f
		}
	}
	if err := capability.New(cfg, g).Run(context.Background(), nil); err != nil {
		t.Fatalf("second run: %v", err)
	}
	for id, want := range before {
		if got, _ := g.CapsOf(id); got != want {
			t.Fatalf("%s changed from %s to %s", g.MustNode(id).Name, want, got)
		}
	}
}
