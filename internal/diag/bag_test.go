package diag

import (
	"strings"
	"testing"

	"ffigen/internal/source"
)

func TestBagLimitAndDropped(t *testing.T) {
	b := NewBag(2)
	r := BagReporter{Bag: b}
	for i := 0; i < 3; i++ {
		ReportWarning(r, BldBuiltinSkipped, source.Loc{}, "skipped").Emit()
	}
	if b.Len() != 2 || b.Dropped() != 1 {
		t.Fatalf("len=%d dropped=%d", b.Len(), b.Dropped())
	}
	if b.HasErrors() || !b.HasWarnings() {
		t.Fatalf("severity predicates wrong")
	}
}

func TestBagSortAndDedup(t *testing.T) {
	b := NewBag(10)
	b.Add(New(SevInfo, EmiRenamed, source.Loc{File: "b.h", Line: 1}, "x"))
	b.Add(New(SevWarning, EmiSkippedOpaqueUse, source.Loc{File: "a.h", Line: 5}, "y"))
	b.Add(New(SevWarning, EmiSkippedOpaqueUse, source.Loc{File: "a.h", Line: 5}, "y"))
	b.Add(New(SevError, EmiNameCollision, source.Loc{File: "a.h", Line: 5}, "z"))
	b.Dedup()
	b.Sort()
	items := b.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 after dedup, got %d", len(items))
	}
	if items[0].Code != EmiNameCollision || items[2].Loc.File != "b.h" {
		t.Fatalf("unexpected order: %+v", items)
	}
}

func TestDedupReporter(t *testing.T) {
	b := NewBag(10)
	r := Dedup(BagReporter{Bag: b})
	for i := 0; i < 3; i++ {
		ReportWarning(r, BldOpaqueFallback, source.Loc{File: "x.h"}, "opaque").About("Foo").Emit()
	}
	ReportWarning(r, BldOpaqueFallback, source.Loc{File: "x.h"}, "opaque").About("Bar").Emit()
	if b.Len() != 2 {
		t.Fatalf("expected 2 unique diagnostics, got %d", b.Len())
	}
}

func TestBagCountAndClamp(t *testing.T) {
	b := NewBag(0)
	b.Add(New(SevInfo, EmiRenamed, source.Loc{}, "a"))
	b.Add(New(SevWarning, EmiRenamed, source.Loc{}, "b"))
	b.Add(New(SevError, EmiNameCollision, source.Loc{}, "c"))
	if b.Count(SevWarning) != 2 || b.Count(SevInfo) != 3 || b.Count(SevError) != 1 {
		t.Fatalf("unexpected counts")
	}
	if b.Dropped() != 0 {
		t.Fatalf("unlimited bag dropped diagnostics")
	}
	if Severity(9).String() != "UNKNOWN" {
		t.Fatalf("out-of-range severity name")
	}
}

func TestFormatShort(t *testing.T) {
	d := ReportWarning(nil, EmiSkippedOpaqueUse, source.Loc{File: "a.h", Line: 3, Col: 1}, "needs Foo by value").
		About("Holder").
		WithNote(source.Loc{File: "a.h", Line: 1}, "Foo is unresolved").
		Diagnostic()
	out := FormatShort([]Diagnostic{d}, true)
	want := "a.h:3:1: WARNING FFI4003 Holder: needs Foo by value\n    note: a.h:1: Foo is unresolved\n"
	if out != want {
		t.Fatalf("FormatShort:\n%s\nwant:\n%s", out, want)
	}
	if !strings.HasPrefix(LayMismatch.String(), "[FFI2002]") {
		t.Fatalf("unexpected code string %s", LayMismatch.String())
	}
}
