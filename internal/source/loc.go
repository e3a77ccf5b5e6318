package source

import (
	"fmt"
	"strconv"
	"strings"
)

// Loc is a source position reported by the AST oracle.
type Loc struct {
	File string
	Line uint32 // 1-based, 0 when unknown
	Col  uint32 // 1-based, 0 when unknown
}

// IsZero reports whether the location carries no information.
func (l Loc) IsZero() bool {
	return l.File == "" && l.Line == 0 && l.Col == 0
}

func (l Loc) String() string {
	if l.IsZero() {
		return "<unknown>"
	}
	if l.Line == 0 {
		return l.File
	}
	if l.Col == 0 {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
}

// Before orders locations by file, line and column.
func (l Loc) Before(other Loc) bool {
	if l.File != other.File {
		return l.File < other.File
	}
	if l.Line != other.Line {
		return l.Line < other.Line
	}
	return l.Col < other.Col
}

// ParseLoc parses "file:line:col", "file:line" or "file".
// Windows drive prefixes ("C:\...") are kept as part of the file name.
func ParseLoc(s string) (Loc, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Loc{}, nil
	}
	parts := strings.Split(s, ":")
	nums := make([]uint32, 0, 2)
	for len(parts) > 1 && len(nums) < 2 {
		last := parts[len(parts)-1]
		n, err := strconv.ParseUint(last, 10, 32)
		if err != nil {
			break
		}
		nums = append([]uint32{uint32(n)}, nums...)
		parts = parts[:len(parts)-1]
	}
	file := strings.Join(parts, ":")
	if file == "" {
		return Loc{}, fmt.Errorf("invalid location %q: missing file", s)
	}
	loc := Loc{File: file}
	switch len(nums) {
	case 2:
		loc.Line, loc.Col = nums[0], nums[1]
	case 1:
		loc.Line = nums[0]
	}
	return loc, nil
}
