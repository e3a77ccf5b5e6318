package source

import "testing"

func TestLoc_String(t *testing.T) {
	tests := []struct {
		name string
		loc  Loc
		want string
	}{
		{name: "zero", loc: Loc{}, want: "<unknown>"},
		{name: "file only", loc: Loc{File: "a.h"}, want: "a.h"},
		{name: "line", loc: Loc{File: "a.h", Line: 3}, want: "a.h:3"},
		{name: "full", loc: Loc{File: "a.h", Line: 3, Col: 7}, want: "a.h:3:7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.loc.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLoc(t *testing.T) {
	tests := []struct {
		in   string
		want Loc
	}{
		{in: "", want: Loc{}},
		{in: "foo.h", want: Loc{File: "foo.h"}},
		{in: "foo.h:12", want: Loc{File: "foo.h", Line: 12}},
		{in: "foo.h:12:5", want: Loc{File: "foo.h", Line: 12, Col: 5}},
		{in: `C:\inc\foo.h:12:5`, want: Loc{File: `C:\inc\foo.h`, Line: 12, Col: 5}},
	}
	for _, tt := range tests {
		got, err := ParseLoc(tt.in)
		if err != nil {
			t.Fatalf("ParseLoc(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLoc(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseLoc(":1:2"); err == nil {
		t.Errorf("expected error for missing file")
	}
}

func TestLoc_Before(t *testing.T) {
	a := Loc{File: "a.h", Line: 1, Col: 9}
	b := Loc{File: "a.h", Line: 2, Col: 1}
	c := Loc{File: "b.h", Line: 1, Col: 1}
	if !a.Before(b) || b.Before(a) {
		t.Errorf("line ordering broken")
	}
	if !b.Before(c) {
		t.Errorf("file ordering broken")
	}
}
