package types

import (
	"fmt"
	"strings"
)

// PrimKind enumerates the builtin C arithmetic types (and void).
// Widths are not fixed here; they come from the target ABI table.
type PrimKind uint8

const (
	PrimInvalid PrimKind = iota
	PrimVoid
	PrimBool
	PrimChar // plain char, signedness is target dependent
	PrimSChar
	PrimUChar
	PrimShort
	PrimUShort
	PrimInt
	PrimUInt
	PrimLong
	PrimULong
	PrimLongLong
	PrimULongLong
	PrimInt128
	PrimUInt128
	PrimWChar
	PrimChar16
	PrimChar32
	PrimFloat
	PrimDouble
	PrimLongDouble
	primCount
)

var primNames = [primCount]string{
	PrimInvalid:    "<invalid>",
	PrimVoid:       "void",
	PrimBool:       "_Bool",
	PrimChar:       "char",
	PrimSChar:      "signed char",
	PrimUChar:      "unsigned char",
	PrimShort:      "short",
	PrimUShort:     "unsigned short",
	PrimInt:        "int",
	PrimUInt:       "unsigned int",
	PrimLong:       "long",
	PrimULong:      "unsigned long",
	PrimLongLong:   "long long",
	PrimULongLong:  "unsigned long long",
	PrimInt128:     "__int128",
	PrimUInt128:    "unsigned __int128",
	PrimWChar:      "wchar_t",
	PrimChar16:     "char16_t",
	PrimChar32:     "char32_t",
	PrimFloat:      "float",
	PrimDouble:     "double",
	PrimLongDouble: "long double",
}

func (p PrimKind) String() string {
	if p < primCount {
		return primNames[p]
	}
	return fmt.Sprintf("PrimKind(%d)", p)
}

// AllPrims lists every valid primitive kind in declaration order.
func AllPrims() []PrimKind {
	out := make([]PrimKind, 0, primCount-1)
	for p := PrimVoid; p < primCount; p++ {
		out = append(out, p)
	}
	return out
}

// IsFloat reports whether p is a floating-point type.
func (p PrimKind) IsFloat() bool {
	return p == PrimFloat || p == PrimDouble || p == PrimLongDouble
}

// IsInteger reports whether p is an integer type (including bool and chars).
func (p PrimKind) IsInteger() bool {
	return p != PrimInvalid && p != PrimVoid && !p.IsFloat() && p < primCount
}

// Signed reports the signedness of p; charSigned resolves plain char.
func (p PrimKind) Signed(charSigned bool) bool {
	switch p {
	case PrimChar:
		return charSigned
	case PrimSChar, PrimShort, PrimInt, PrimLong, PrimLongLong, PrimInt128, PrimWChar:
		return true
	case PrimFloat, PrimDouble, PrimLongDouble:
		return true
	default:
		return false
	}
}

var primSpellings = map[string]PrimKind{
	"void":                   PrimVoid,
	"_bool":                  PrimBool,
	"bool":                   PrimBool,
	"char":                   PrimChar,
	"signed char":            PrimSChar,
	"unsigned char":          PrimUChar,
	"uchar":                  PrimUChar,
	"schar":                  PrimSChar,
	"short":                  PrimShort,
	"short int":              PrimShort,
	"signed short":           PrimShort,
	"signed short int":       PrimShort,
	"sshort":                 PrimShort,
	"unsigned short":         PrimUShort,
	"unsigned short int":     PrimUShort,
	"ushort":                 PrimUShort,
	"int":                    PrimInt,
	"signed":                 PrimInt,
	"signed int":             PrimInt,
	"sint":                   PrimInt,
	"unsigned":               PrimUInt,
	"unsigned int":           PrimUInt,
	"uint":                   PrimUInt,
	"long":                   PrimLong,
	"long int":               PrimLong,
	"signed long":            PrimLong,
	"signed long int":        PrimLong,
	"slong":                  PrimLong,
	"unsigned long":          PrimULong,
	"unsigned long int":      PrimULong,
	"ulong":                  PrimULong,
	"long long":              PrimLongLong,
	"long long int":          PrimLongLong,
	"signed long long":       PrimLongLong,
	"signed long long int":   PrimLongLong,
	"slonglong":              PrimLongLong,
	"unsigned long long":     PrimULongLong,
	"unsigned long long int": PrimULongLong,
	"ulonglong":              PrimULongLong,
	"__int128":               PrimInt128,
	"__int128_t":             PrimInt128,
	"unsigned __int128":      PrimUInt128,
	"__uint128_t":            PrimUInt128,
	"wchar_t":                PrimWChar,
	"char16_t":               PrimChar16,
	"char32_t":               PrimChar32,
	"float":                  PrimFloat,
	"double":                 PrimDouble,
	"long double":            PrimLongDouble,
}

// ParsePrim maps a C spelling (as produced by the oracle, e.g. "unsigned int"
// or "long long int") to a PrimKind. Qualifiers are ignored.
func ParsePrim(spelling string) (PrimKind, bool) {
	fields := strings.Fields(strings.ToLower(spelling))
	kept := fields[:0]
	for _, f := range fields {
		switch f {
		case "const", "volatile", "restrict", "__restrict", "__const":
			continue
		}
		kept = append(kept, f)
	}
	p, ok := primSpellings[strings.Join(kept, " ")]
	return p, ok
}
