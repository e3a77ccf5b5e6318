// Package config holds the immutable policy value threaded through every
// stage of a generation run.
package config

import (
	"fmt"
	"strings"

	"ffigen/internal/target"
	"ffigen/internal/types"
)

// UnknownTypePolicy decides what happens to references that never resolve.
type UnknownTypePolicy uint8

const (
	UnknownFail UnknownTypePolicy = iota
	UnknownAllowOpaque
)

func (p UnknownTypePolicy) String() string {
	if p == UnknownAllowOpaque {
		return "allow-as-opaque"
	}
	return "fail"
}

// ParseUnknownTypePolicy accepts "fail" or "allow-as-opaque".
func ParseUnknownTypePolicy(s string) (UnknownTypePolicy, error) {
	switch strings.TrimSpace(s) {
	case "fail":
		return UnknownFail, nil
	case "allow-as-opaque", "allow":
		return UnknownAllowOpaque, nil
	default:
		return UnknownFail, fmt.Errorf("unknown_types: unsupported value %q (want fail or allow-as-opaque)", s)
	}
}

// EnumEmission selects how enums are rendered.
type EnumEmission uint8

const (
	EnumTagged EnumEmission = iota
	EnumConstants
)

func (m EnumEmission) String() string {
	if m == EnumConstants {
		return "integer-constants"
	}
	return "tagged-enum"
}

// ParseEnumEmission accepts "tagged-enum" or "integer-constants".
func ParseEnumEmission(s string) (EnumEmission, error) {
	switch strings.TrimSpace(s) {
	case "tagged-enum", "tagged":
		return EnumTagged, nil
	case "integer-constants", "constants":
		return EnumConstants, nil
	default:
		return EnumTagged, fmt.Errorf("enum_emission: unsupported value %q (want tagged-enum or integer-constants)", s)
	}
}

// EnumRepr selects the integer width of enums without a declared
// underlying type.
type EnumRepr uint8

const (
	// EnumReprSmallest picks the smallest integer that covers every value.
	EnumReprSmallest EnumRepr = iota
	// EnumReprCompat picks int, then unsigned int, then wider types, the way
	// C compilers size enums by default.
	EnumReprCompat
)

func (r EnumRepr) String() string {
	if r == EnumReprCompat {
		return "compat"
	}
	return "smallest"
}

// ParseEnumRepr accepts "smallest" or "compat".
func ParseEnumRepr(s string) (EnumRepr, error) {
	switch strings.TrimSpace(s) {
	case "smallest":
		return EnumReprSmallest, nil
	case "compat", "c":
		return EnumReprCompat, nil
	default:
		return EnumReprSmallest, fmt.Errorf("enum_repr: unsupported value %q (want smallest or compat)", s)
	}
}

// DeriveDebug controls Debug derivation.
type DeriveDebug uint8

const (
	DebugWhenEligible DeriveDebug = iota
	DebugNever
)

func (d DeriveDebug) String() string {
	if d == DebugNever {
		return "never"
	}
	return "attempt-when-eligible"
}

// ParseDeriveDebug accepts "attempt-when-eligible" or "never".
func ParseDeriveDebug(s string) (DeriveDebug, error) {
	switch strings.TrimSpace(s) {
	case "attempt-when-eligible", "auto":
		return DebugWhenEligible, nil
	case "never":
		return DebugNever, nil
	default:
		return DebugWhenEligible, fmt.Errorf("derive_debug: unsupported value %q (want attempt-when-eligible or never)", s)
	}
}

// LinkKind is the kind of a native library link.
type LinkKind uint8

const (
	LinkDynamic LinkKind = iota
	LinkStatic
	LinkFramework
)

func (k LinkKind) String() string {
	switch k {
	case LinkStatic:
		return "static"
	case LinkFramework:
		return "framework"
	default:
		return "dylib"
	}
}

// ParseLinkKind accepts "dylib"/"dynamic", "static" or "framework".
func ParseLinkKind(s string) (LinkKind, error) {
	switch strings.TrimSpace(s) {
	case "", "dylib", "dynamic":
		return LinkDynamic, nil
	case "static":
		return LinkStatic, nil
	case "framework":
		return LinkFramework, nil
	default:
		return LinkDynamic, fmt.Errorf("link kind: unsupported value %q", s)
	}
}

// Link is one native library to link against.
type Link struct {
	Name string
	Kind LinkKind
}

// Emit toggles which declaration groups reach the output.
type Emit struct {
	Functions   bool
	Enums       bool
	Globals     bool
	Types       bool
	LayoutTests bool
}

// Config is the full policy for one run. It is treated as an immutable value.
type Config struct {
	UnknownTypes UnknownTypePolicy
	EnumEmission EnumEmission
	EnumRepr     EnumRepr
	// EnumReprOverride forces every enum to this primitive when set.
	EnumReprOverride types.PrimKind
	DeriveDebug      DeriveDebug
	DeriveArrayLimit uint64

	Target target.Target
	Filter Filter
	// Match restricts emission to declarations whose source file contains
	// one of the substrings. Empty matches everything.
	Match    []string
	Builtins bool
	Emit     Emit

	Links      []Link
	LinkPrefix string

	MaxRenameAttempts int
}

const (
	DefaultDeriveArrayLimit  = 32
	DefaultMaxRenameAttempts = 16
)

// Default returns the built-in policy.
func Default() Config {
	return Config{
		UnknownTypes:      UnknownFail,
		EnumEmission:      EnumTagged,
		EnumRepr:          EnumReprSmallest,
		DeriveDebug:       DebugWhenEligible,
		DeriveArrayLimit:  DefaultDeriveArrayLimit,
		Target:            target.Default(),
		Emit:              Emit{Functions: true, Enums: true, Globals: true, Types: true, LayoutTests: true},
		MaxRenameAttempts: DefaultMaxRenameAttempts,
	}
}

var enumOverrides = map[string]types.PrimKind{
	"uchar":     types.PrimUChar,
	"schar":     types.PrimSChar,
	"ushort":    types.PrimUShort,
	"sshort":    types.PrimShort,
	"uint":      types.PrimUInt,
	"sint":      types.PrimInt,
	"ulong":     types.PrimULong,
	"slong":     types.PrimLong,
	"ulonglong": types.PrimULongLong,
	"slonglong": types.PrimLongLong,
}

// ParseEnumOverride maps the short override names (uchar, sint, ...) to a
// primitive. The empty string clears the override.
func ParseEnumOverride(s string) (types.PrimKind, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.PrimInvalid, nil
	}
	p, ok := enumOverrides[s]
	if !ok {
		return types.PrimInvalid, fmt.Errorf("enum_repr_override: unsupported value %q", s)
	}
	return p, nil
}

// Validate reports the first inconsistency in c.
func (c Config) Validate() error {
	if err := c.Target.Validate(); err != nil {
		return err
	}
	if c.MaxRenameAttempts <= 0 {
		return fmt.Errorf("max_rename_attempts must be positive, got %d", c.MaxRenameAttempts)
	}
	if c.EnumReprOverride != types.PrimInvalid {
		if !c.EnumReprOverride.IsInteger() {
			return fmt.Errorf("enum_repr_override: %s is not an integer type", c.EnumReprOverride)
		}
		if _, ok := c.Target.Prim(c.EnumReprOverride); !ok {
			return fmt.Errorf("enum_repr_override: %s is not available on %s", c.EnumReprOverride, c.Target.Triple)
		}
	}
	for _, l := range c.Links {
		if strings.TrimSpace(l.Name) == "" {
			return fmt.Errorf("link: empty library name")
		}
	}
	return nil
}

// MatchesFile reports whether declarations from file pass the match filter.
func (c Config) MatchesFile(file string) bool {
	if len(c.Match) == 0 {
		return true
	}
	for _, m := range c.Match {
		if m != "" && strings.Contains(file, m) {
			return true
		}
	}
	return false
}

// Fingerprint renders every setting that influences output into a stable
// string, used to key cached results.
func (c Config) Fingerprint() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "unknown=%s;enum=%s;repr=%s;override=%s;debug=%s;arrays=%d;",
		c.UnknownTypes, c.EnumEmission, c.EnumRepr, c.EnumReprOverride, c.DeriveDebug, c.DeriveArrayLimit)
	t := c.Target
	fmt.Fprintf(&sb, "target=%s;ptr=%d/%d;char=%t;wchar=%t;bf=%s/%s/%s;",
		t.Triple, t.PtrSize, t.PtrAlign, t.CharSigned, t.WCharSigned, t.BitfieldOrder, t.BitfieldUnit, t.BitfieldPacking)
	for _, p := range types.AllPrims() {
		if l, ok := t.Prim(p); ok {
			fmt.Fprintf(&sb, "%d:%d/%d,", p, l.Size, l.Align)
		}
	}
	fmt.Fprintf(&sb, ";allow=%s;deny=%s;match=%s;builtins=%t;",
		strings.Join(c.Filter.AllowPatterns(), "|"), strings.Join(c.Filter.DenyPatterns(), "|"),
		strings.Join(c.Match, "|"), c.Builtins)
	fmt.Fprintf(&sb, "emit=%t%t%t%t%t;", c.Emit.Functions, c.Emit.Enums, c.Emit.Globals, c.Emit.Types, c.Emit.LayoutTests)
	for _, l := range c.Links {
		fmt.Fprintf(&sb, "link=%s:%s,", l.Name, l.Kind)
	}
	fmt.Fprintf(&sb, ";prefix=%s;renames=%d", c.LinkPrefix, c.MaxRenameAttempts)
	return sb.String()
}
