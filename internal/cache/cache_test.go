package cache

import (
	"testing"

	"ffigen/internal/diag"
	"ffigen/internal/emit"
	"ffigen/internal/source"
	"ffigen/internal/version"
)

func sampleEntry() *Entry {
	return &Entry{
		Output: &emit.Output{
			Target:     "x86_64-linux-gnu",
			LinkPrefix: "pfx_",
			Links:      []emit.Link{{Name: "z", Kind: "static"}},
			Items: []emit.Item{
				{Kind: emit.ItemForward, Name: "A", CName: "A"},
				{
					Kind: emit.ItemStruct, Name: "A", CName: "A", Size: 8, Align: 8,
					Derives: []string{"Copy", "Clone"},
					Fields:  []emit.Field{{Name: "p", Type: "*mut A", Size: 8}},
					Text:    "pub struct A {\n    pub p: *mut A,\n}\n",
				},
				{Kind: emit.ItemFunction, Name: "f", CName: "f", Extern: true, Text: "pub fn f();\n"},
			},
		},
		Diags: []diag.Diagnostic{
			diag.New(diag.SevWarning, diag.EmiSkippedNoProto, source.Loc{File: "a.h", Line: 3, Col: 1}, "skipped").WithSubject("g"),
		},
	}
}

func TestKeyDependsOnInputAndConfig(t *testing.T) {
	a := Key([]byte("decls"), "cfg1")
	if a != Key([]byte("decls"), "cfg1") {
		t.Fatalf("key is not deterministic")
	}
	if a == Key([]byte("decls"), "cfg2") {
		t.Fatalf("config change must change the key")
	}
	if a == Key([]byte("decls2"), "cfg1") {
		t.Fatalf("input change must change the key")
	}
	// The fingerprint is length-prefixed, so moving bytes across the
	// boundary gives a different key.
	if Key([]byte("bc"), "a") == Key([]byte("c"), "ab") {
		t.Fatalf("ambiguous key framing")
	}
}

func TestKeyDependsOnGeneratorVersion(t *testing.T) {
	saved := version.Version
	defer func() { version.Version = saved }()

	version.Version = "1.0.0"
	old := Key([]byte("decls"), "cfg")
	version.Version = "1.1.0"
	if Key([]byte("decls"), "cfg") == old {
		t.Fatalf("a new generator version must change the key")
	}
}

func TestMemoryCache(t *testing.T) {
	c, err := New(2, "")
	if err != nil {
		t.Fatal(err)
	}
	k1, k2, k3 := Key([]byte("1"), ""), Key([]byte("2"), ""), Key([]byte("3"), "")
	for _, k := range []Digest{k1, k2, k3} {
		if err := c.Put(k, sampleEntry()); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
	if _, ok, _ := c.Get(k1); ok {
		t.Fatalf("oldest entry should be evicted")
	}
	if _, ok, _ := c.Get(k3); !ok {
		t.Fatalf("newest entry missing")
	}
}

func TestDiskRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := New(4, dir)
	if err != nil {
		t.Fatal(err)
	}
	key := Key([]byte("unit"), "fp")
	if err := c.Put(key, sampleEntry()); err != nil {
		t.Fatalf("put: %v", err)
	}

	// A fresh cache over the same directory only has the disk copy.
	fresh, err := New(4, dir)
	if err != nil {
		t.Fatal(err)
	}
	e, ok, err := fresh.Get(key)
	if err != nil || !ok {
		t.Fatalf("get = %v, %v", ok, err)
	}
	out := e.Output
	if out.Target != "x86_64-linux-gnu" || out.LinkPrefix != "pfx_" || len(out.Links) != 1 {
		t.Fatalf("output header = %+v", out)
	}
	if len(out.Items) != 3 || out.Items[0].Kind != emit.ItemForward || out.Items[1].Kind != emit.ItemStruct {
		t.Fatalf("items = %+v", out.Items)
	}
	if out.Items[1].Text != sampleEntry().Output.Items[1].Text || !out.Items[2].Extern {
		t.Fatalf("item bodies lost: %+v", out.Items)
	}
	if len(e.Diags) != 1 || e.Diags[0].Code != diag.EmiSkippedNoProto || e.Diags[0].Subject != "g" || e.Diags[0].Loc.Line != 3 {
		t.Fatalf("diags = %+v", e.Diags)
	}
	if fresh.Len() != 1 {
		t.Fatalf("disk hit should populate memory")
	}

	if err := fresh.Purge(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := fresh.Get(key); ok {
		t.Fatalf("purged entry still present")
	}
}

func TestNilCacheMisses(t *testing.T) {
	var c *Cache
	if _, ok, err := c.Get(Key(nil, "")); ok || err != nil {
		t.Fatalf("nil cache hit")
	}
	if err := c.Put(Key(nil, ""), sampleEntry()); err != nil {
		t.Fatal(err)
	}
}
