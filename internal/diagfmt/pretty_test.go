package diagfmt

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"ffigen/internal/diag"
	"ffigen/internal/source"
)

func sampleItems() []diag.Diagnostic {
	return []diag.Diagnostic{
		diag.New(diag.SevWarning, diag.BldUnresolvedType, source.Loc{File: "/work/include/zlib.h", Line: 12, Col: 3}, "unknown type Foo").
			WithSubject("S").
			WithNote(source.Loc{File: "/work/include/zlib.h", Line: 4}, "referenced here"),
		diag.New(diag.SevError, diag.IOConfig, source.Loc{}, "bad config"),
	}
}

func TestPathModes(t *testing.T) {
	tests := []struct {
		name     string
		mode     PathMode
		contains string
	}{
		{"Absolute path", PathModeAbsolute, "/work/include/zlib.h:12:3"},
		{"Relative path", PathModeRelative, "include/zlib.h:12:3"},
		{"Basename only", PathModeBasename, "zlib.h:12:3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			opts := PrettyOpts{PathMode: tt.mode, BaseDir: "/work"}
			if err := Pretty(&buf, sampleItems(), opts); err != nil {
				t.Fatal(err)
			}
			first := strings.SplitN(buf.String(), "\n", 2)[0]
			if !strings.HasPrefix(first, tt.contains) {
				t.Errorf("expected line to start with %q, got %q", tt.contains, first)
			}
		})
	}
}

func TestPrettyWithoutColor(t *testing.T) {
	var buf bytes.Buffer
	if err := Pretty(&buf, sampleItems(), PrettyOpts{ShowNotes: true}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("escape codes with Color off:\n%q", out)
	}
	want := "/work/include/zlib.h:12:3: WARNING " + diag.BldUnresolvedType.ID() + " S: unknown type Foo\n" +
		"    note: /work/include/zlib.h:4: referenced here\n" +
		"ERROR " + diag.IOConfig.ID() + " bad config\n"
	if out != want {
		t.Fatalf("got:\n%s\nwant:\n%s", out, want)
	}
}

func TestPrettyColorAndLimit(t *testing.T) {
	var buf bytes.Buffer
	if err := Pretty(&buf, sampleItems(), PrettyOpts{Color: true, Max: 1}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "\x1b[") {
		t.Errorf("expected escape codes with Color on:\n%q", out)
	}
	if !strings.Contains(out, "1 more diagnostics not shown") {
		t.Errorf("missing truncation line:\n%s", out)
	}
	if strings.Contains(out, "bad config") {
		t.Errorf("second diagnostic printed past Max:\n%s", out)
	}
}

func TestSummary(t *testing.T) {
	if got := Summary(nil); got != "" {
		t.Fatalf("Summary(nil) = %q", got)
	}
	items := append(sampleItems(), diag.New(diag.SevWarning, diag.IOCache, source.Loc{}, "x"))
	if got := Summary(items); got != "1 error, 2 warnings" {
		t.Fatalf("Summary = %q", got)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	if err := JSON(&buf, "zlib.json", sampleItems(), JSONOpts{PathMode: PathModeBasename}); err != nil {
		t.Fatal(err)
	}
	var out DiagnosticsOutput
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if out.Unit != "zlib.json" || out.Count != 2 {
		t.Fatalf("unexpected header: %+v", out)
	}
	first := out.Diagnostics[0]
	if first.Severity != "WARNING" || first.Subject != "S" || first.Location == nil || first.Location.File != "zlib.h" {
		t.Fatalf("unexpected first diagnostic: %+v", first)
	}
	if len(first.Notes) != 0 {
		t.Fatalf("notes included without IncludeNotes")
	}
	if out.Diagnostics[1].Location != nil {
		t.Fatalf("zero location should be omitted")
	}
}
