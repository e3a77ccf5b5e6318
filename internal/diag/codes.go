package diag

import (
	"fmt"
)

type Code uint16

const (
	UnknownCode Code = 0

	// Graph construction
	BldInfo               Code = 1000
	BldUnresolvedType     Code = 1001
	BldOpaqueFallback     Code = 1002
	BldBuiltinSkipped     Code = 1003
	BldIncompleteRecord   Code = 1004
	BldConflictingDecl    Code = 1005
	BldInvalidRecord      Code = 1006
	BldAnonymousRenamed   Code = 1007
	BldTypedefCycle       Code = 1008
	BldUnnamedDeclaration Code = 1009

	// Layout
	LayInfo              Code = 2000
	LayEnumRangeOverflow Code = 2001
	LayMismatch          Code = 2002
	LayUnsupportedShape  Code = 2003
	LayBitfieldTooWide   Code = 2004
	LayRecursiveValue    Code = 2005
	LayUnsized           Code = 2006
	LayBadAttribute      Code = 2007

	// Capability analysis
	CapInfo            Code = 3000
	CapManualImpl      Code = 3001
	CapDebugSuppressed Code = 3002

	// Emission
	EmiInfo             Code = 4000
	EmiUnsupportedShape Code = 4001
	EmiNameCollision    Code = 4002
	EmiSkippedOpaqueUse Code = 4003
	EmiRenamed          Code = 4004
	EmiSkippedNoProto   Code = 4005
	EmiOpaqueBlob       Code = 4006
	EmiFiltered         Code = 4007

	// I/O and configuration
	IOInfo          Code = 5000
	IOLoadFileError Code = 5001
	IORecordDecode  Code = 5002
	IOConfig        Code = 5003
	IOCache         Code = 5004

	// Observability
	ObsInfo    Code = 6000
	ObsTimings Code = 6001
)

var (
	codeDescription = map[Code]string{
		UnknownCode:           "Unknown error",
		BldInfo:               "Graph construction information",
		BldUnresolvedType:     "unresolved type reference",
		BldOpaqueFallback:     "unresolved type admitted as opaque",
		BldBuiltinSkipped:     "builtin declaration skipped",
		BldIncompleteRecord:   "record is declared but never defined",
		BldConflictingDecl:    "conflicting redeclaration",
		BldInvalidRecord:      "malformed declaration record",
		BldAnonymousRenamed:   "anonymous type given a synthesized name",
		BldTypedefCycle:       "typedef refers to itself",
		BldUnnamedDeclaration: "declaration without a name",
		LayInfo:               "Layout information",
		LayEnumRangeOverflow:  "enum values do not fit the representation type",
		LayMismatch:           "computed layout differs from the parser's layout",
		LayUnsupportedShape:   "record shape has no faithful layout",
		LayBitfieldTooWide:    "bitfield is wider than its declared type",
		LayRecursiveValue:     "recursive value type has infinite size",
		LayUnsized:            "type has no size on this target",
		LayBadAttribute:       "invalid layout attribute",
		CapInfo:               "Capability information",
		CapManualImpl:         "capability implemented manually",
		CapDebugSuppressed:    "Debug is not available",
		EmiInfo:               "Emission information",
		EmiUnsupportedShape:   "construct has no faithful representation",
		EmiNameCollision:      "identifier collision could not be resolved",
		EmiSkippedOpaqueUse:   "declaration skipped: needs an opaque type by value",
		EmiRenamed:            "identifier renamed",
		EmiSkippedNoProto:     "function without prototype skipped",
		EmiOpaqueBlob:         "type emitted as opaque blob",
		EmiFiltered:           "declaration filtered out",
		IOInfo:                "I/O information",
		IOLoadFileError:       "I/O load file error",
		IORecordDecode:        "cannot decode declaration records",
		IOConfig:              "invalid configuration",
		IOCache:               "cache unavailable",
		ObsInfo:               "Observability information",
		ObsTimings:            "Pipeline timings",
	}
)

func (c Code) ID() string {
	if c == UnknownCode {
		return "FFI0000"
	}
	return fmt.Sprintf("FFI%04d", int(c))
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[Code(0)]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
