package target

import (
	"fmt"
	"sort"
	"strings"

	"ffigen/internal/types"
)

// BitfieldOrder is the order in which bitfields are allocated inside a
// storage unit.
type BitfieldOrder uint8

const (
	// LSBFirst allocates the first declared bitfield at the least significant
	// bits of the unit (System V and MSVC on little-endian hosts).
	LSBFirst BitfieldOrder = iota
	// MSBFirst allocates from the most significant bit down (big-endian ABIs).
	MSBFirst
)

func (o BitfieldOrder) String() string {
	if o == MSBFirst {
		return "msb"
	}
	return "lsb"
}

// ParseBitfieldOrder accepts "lsb" or "msb".
func ParseBitfieldOrder(s string) (BitfieldOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lsb", "lsb-first":
		return LSBFirst, nil
	case "msb", "msb-first":
		return MSBFirst, nil
	default:
		return LSBFirst, fmt.Errorf("unknown bitfield order %q (want lsb or msb)", s)
	}
}

// UnitSelection chooses the storage unit type for a new bitfield unit.
type UnitSelection uint8

const (
	// UnitDeclared uses the field's declared integer type.
	UnitDeclared UnitSelection = iota
	// UnitSmallest uses the smallest primitive that holds the field width.
	UnitSmallest
)

func (u UnitSelection) String() string {
	if u == UnitSmallest {
		return "smallest"
	}
	return "declared"
}

// ParseUnitSelection accepts "declared" or "smallest".
func ParseUnitSelection(s string) (UnitSelection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "declared":
		return UnitDeclared, nil
	case "smallest":
		return UnitSmallest, nil
	default:
		return UnitDeclared, fmt.Errorf("unknown bitfield unit selection %q (want declared or smallest)", s)
	}
}

// BitfieldPacking selects the rules for sharing storage units between
// adjacent bitfields.
type BitfieldPacking uint8

const (
	// PackSysV lets a bitfield share any unit it fits in without crossing a
	// boundary of its declared type.
	PackSysV BitfieldPacking = iota
	// PackMSVC opens a new unit whenever the declared type size changes or the
	// field does not fit the remaining bits of the open unit.
	PackMSVC
)

func (p BitfieldPacking) String() string {
	if p == PackMSVC {
		return "msvc"
	}
	return "sysv"
}

// ParseBitfieldPacking accepts "sysv" or "msvc".
func ParseBitfieldPacking(s string) (BitfieldPacking, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sysv", "gnu", "itanium":
		return PackSysV, nil
	case "msvc", "ms":
		return PackMSVC, nil
	default:
		return PackSysV, fmt.Errorf("unknown bitfield packing %q (want sysv or msvc)", s)
	}
}

// PrimLayout is the size and alignment of a primitive in bytes.
type PrimLayout struct {
	Size  uint64
	Align uint64
}

// Target describes the ABI of the platform the bindings are generated for.
type Target struct {
	Triple   string
	PtrSize  uint64 // bytes
	PtrAlign uint64 // bytes

	CharSigned  bool
	WCharSigned bool

	BitfieldOrder   BitfieldOrder
	BitfieldUnit    UnitSelection
	BitfieldPacking BitfieldPacking

	prims map[types.PrimKind]PrimLayout
}

// Prim returns the layout of p. ok is false for primitives the target does
// not provide (void, __int128 on 32-bit targets).
func (t Target) Prim(p types.PrimKind) (PrimLayout, bool) {
	l, ok := t.prims[p]
	return l, ok
}

// WithPrim returns a copy of t with the layout of p replaced.
func (t Target) WithPrim(p types.PrimKind, l PrimLayout) Target {
	next := make(map[types.PrimKind]PrimLayout, len(t.prims)+1)
	for k, v := range t.prims {
		next[k] = v
	}
	next[p] = l
	t.prims = next
	return t
}

// Signed resolves the signedness of p on this target.
func (t Target) Signed(p types.PrimKind) bool {
	switch p {
	case types.PrimWChar:
		return t.WCharSigned
	default:
		return p.Signed(t.CharSigned)
	}
}

// Validate checks that every layout entry is usable.
func (t Target) Validate() error {
	if t.Triple == "" {
		return fmt.Errorf("target: empty triple")
	}
	if t.PtrSize == 0 || !isPow2(t.PtrAlign) {
		return fmt.Errorf("target %s: invalid pointer layout %d/%d", t.Triple, t.PtrSize, t.PtrAlign)
	}
	for p, l := range t.prims {
		if !isPow2(l.Align) {
			return fmt.Errorf("target %s: %s alignment %d is not a power of two", t.Triple, p, l.Align)
		}
		if l.Size == 0 {
			return fmt.Errorf("target %s: %s has zero size", t.Triple, p)
		}
	}
	return nil
}

func isPow2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// IntegerBySize returns the primitive integer of the given byte size and
// signedness, preferring the shortest spelling.
func (t Target) IntegerBySize(size uint64, signed bool) (types.PrimKind, bool) {
	var order []types.PrimKind
	if signed {
		order = []types.PrimKind{types.PrimSChar, types.PrimShort, types.PrimInt, types.PrimLong, types.PrimLongLong, types.PrimInt128}
	} else {
		order = []types.PrimKind{types.PrimUChar, types.PrimUShort, types.PrimUInt, types.PrimULong, types.PrimULongLong, types.PrimUInt128}
	}
	for _, p := range order {
		if l, ok := t.prims[p]; ok && l.Size == size {
			return p, true
		}
	}
	return types.PrimInvalid, false
}

type presetFunc func() Target

var presets = map[string]presetFunc{
	"x86_64-linux-gnu":    X86_64LinuxGNU,
	"i686-linux-gnu":      I686LinuxGNU,
	"aarch64-linux-gnu":   AArch64LinuxGNU,
	"x86_64-windows-msvc": X86_64WindowsMSVC,
}

// Lookup returns the preset for a triple.
func Lookup(triple string) (Target, error) {
	fn, ok := presets[strings.TrimSpace(triple)]
	if !ok {
		return Target{}, fmt.Errorf("unknown target %q (known: %s)", triple, strings.Join(Presets(), ", "))
	}
	return fn(), nil
}

// Presets lists the known triples in sorted order.
func Presets() []string {
	out := make([]string, 0, len(presets))
	for k := range presets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Default is the target used when nothing is configured.
func Default() Target { return X86_64LinuxGNU() }

func lp64() map[types.PrimKind]PrimLayout {
	return map[types.PrimKind]PrimLayout{
		types.PrimBool:       {1, 1},
		types.PrimChar:       {1, 1},
		types.PrimSChar:      {1, 1},
		types.PrimUChar:      {1, 1},
		types.PrimShort:      {2, 2},
		types.PrimUShort:     {2, 2},
		types.PrimInt:        {4, 4},
		types.PrimUInt:       {4, 4},
		types.PrimLong:       {8, 8},
		types.PrimULong:      {8, 8},
		types.PrimLongLong:   {8, 8},
		types.PrimULongLong:  {8, 8},
		types.PrimInt128:     {16, 16},
		types.PrimUInt128:    {16, 16},
		types.PrimWChar:      {4, 4},
		types.PrimChar16:     {2, 2},
		types.PrimChar32:     {4, 4},
		types.PrimFloat:      {4, 4},
		types.PrimDouble:     {8, 8},
		types.PrimLongDouble: {16, 16},
	}
}

func X86_64LinuxGNU() Target {
	return Target{
		Triple:      "x86_64-linux-gnu",
		PtrSize:     8,
		PtrAlign:    8,
		CharSigned:  true,
		WCharSigned: true,
		prims:       lp64(),
	}
}

func I686LinuxGNU() Target {
	p := lp64()
	p[types.PrimLong] = PrimLayout{4, 4}
	p[types.PrimULong] = PrimLayout{4, 4}
	p[types.PrimLongLong] = PrimLayout{8, 4}
	p[types.PrimULongLong] = PrimLayout{8, 4}
	p[types.PrimDouble] = PrimLayout{8, 4}
	p[types.PrimLongDouble] = PrimLayout{12, 4}
	delete(p, types.PrimInt128)
	delete(p, types.PrimUInt128)
	return Target{
		Triple:      "i686-linux-gnu",
		PtrSize:     4,
		PtrAlign:    4,
		CharSigned:  true,
		WCharSigned: true,
		prims:       p,
	}
}

func AArch64LinuxGNU() Target {
	return Target{
		Triple:   "aarch64-linux-gnu",
		PtrSize:  8,
		PtrAlign: 8,
		// char and wchar_t are unsigned on AAPCS64.
		CharSigned:  false,
		WCharSigned: false,
		prims:       lp64(),
	}
}

func X86_64WindowsMSVC() Target {
	p := lp64()
	p[types.PrimLong] = PrimLayout{4, 4}
	p[types.PrimULong] = PrimLayout{4, 4}
	p[types.PrimWChar] = PrimLayout{2, 2}
	p[types.PrimLongDouble] = PrimLayout{8, 8}
	delete(p, types.PrimInt128)
	delete(p, types.PrimUInt128)
	return Target{
		Triple:          "x86_64-windows-msvc",
		PtrSize:         8,
		PtrAlign:        8,
		CharSigned:      true,
		WCharSigned:     false,
		BitfieldPacking: PackMSVC,
		prims:           p,
	}
}
