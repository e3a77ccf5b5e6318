package layout

import (
	"fmt"
	"strings"

	"ffigen/internal/diag"
	"ffigen/internal/source"
	"ffigen/internal/types"
)

// LayoutErrorKind enumerates types of layout calculation errors.
type LayoutErrorKind uint8

const (
	// LayoutErrRecursiveValue indicates a record that contains itself by value.
	LayoutErrRecursiveValue LayoutErrorKind = iota + 1
	// LayoutErrEnumRangeOverflow: the chosen representation cannot hold
	// every enumerator value.
	LayoutErrEnumRangeOverflow
	// LayoutErrMismatch: the computed layout disagrees with the parser's.
	LayoutErrMismatch
	LayoutErrBitfieldTooWide
	LayoutErrBadAttribute
	LayoutErrOverflow
)

// LayoutError represents an error during memory layout calculation.
type LayoutError struct {
	Kind LayoutErrorKind
	Type types.TypeID
	Name string // declaring type
	Loc  source.Loc

	Field string          // member involved, if any
	Cycle []string        // for LayoutErrRecursiveValue
	Repr  types.PrimKind  // for LayoutErrEnumRangeOverflow
	Range types.EnumRange // for LayoutErrEnumRangeOverflow
	What  string          // for LayoutErrMismatch: "size", "alignment", "offset of field x"
	Want  uint64          // oracle value
	Got   uint64          // computed value
	Msg   string          // free-form detail for the remaining kinds
}

func (e *LayoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var msg string
	switch e.Kind {
	case LayoutErrRecursiveValue:
		if len(e.Cycle) == 0 {
			msg = fmt.Sprintf("recursive value type %q has infinite size", e.Name)
		} else {
			msg = fmt.Sprintf("recursive value type has infinite size (cycle: %s)", strings.Join(e.Cycle, " -> "))
		}
	case LayoutErrEnumRangeOverflow:
		msg = fmt.Sprintf("enum %q: values %s do not fit %s", e.Name, formatRange(e.Range), e.Repr)
	case LayoutErrMismatch:
		msg = fmt.Sprintf("%q: computed %s %d, parser reports %d", e.Name, e.What, e.Got, e.Want)
	case LayoutErrBitfieldTooWide:
		msg = fmt.Sprintf("%q: bitfield %q is %d bits wide, its type has %d", e.Name, e.Field, e.Got, e.Want)
	case LayoutErrBadAttribute:
		msg = fmt.Sprintf("%q: %s", e.Name, e.Msg)
	case LayoutErrOverflow:
		msg = fmt.Sprintf("%q: %s", e.Name, e.Msg)
	default:
		msg = fmt.Sprintf("layout error kind=%d type %q", e.Kind, e.Name)
	}
	if e.Loc.IsZero() {
		return msg
	}
	return e.Loc.String() + ": " + msg
}

// Code maps the error to its diagnostic code.
func (e *LayoutError) Code() diag.Code {
	switch e.Kind {
	case LayoutErrRecursiveValue:
		return diag.LayRecursiveValue
	case LayoutErrEnumRangeOverflow:
		return diag.LayEnumRangeOverflow
	case LayoutErrMismatch:
		return diag.LayMismatch
	case LayoutErrBitfieldTooWide:
		return diag.LayBitfieldTooWide
	case LayoutErrBadAttribute:
		return diag.LayBadAttribute
	default:
		return diag.LayUnsupportedShape
	}
}

func formatRange(r types.EnumRange) string {
	if r.Big {
		return fmt.Sprintf("[%d, %d]", r.Min, r.MaxUnsigned)
	}
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}
