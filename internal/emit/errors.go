package emit

import (
	"fmt"

	"ffigen/internal/diag"
	"ffigen/internal/source"
)

// EmitErrorKind classifies emission failures.
type EmitErrorKind uint8

const (
	// EmitErrUnsupportedShape: a construct has no faithful Rust form.
	EmitErrUnsupportedShape EmitErrorKind = iota + 1
	// EmitErrNameCollision: renaming ran out of attempts.
	EmitErrNameCollision
)

func (k EmitErrorKind) String() string {
	switch k {
	case EmitErrUnsupportedShape:
		return "unsupported shape"
	case EmitErrNameCollision:
		return "name collision"
	default:
		return fmt.Sprintf("EmitErrorKind(%d)", k)
	}
}

// EmitError aborts emission of a unit.
type EmitError struct {
	Kind EmitErrorKind
	Name string // C name of the declaration being emitted
	Loc  source.Loc
	Msg  string
}

func (e *EmitError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %q: %s", e.Kind, e.Name, e.Msg)
	if e.Loc.IsZero() {
		return msg
	}
	return e.Loc.String() + ": " + msg
}

// Code maps the error to its diagnostic code.
func (e *EmitError) Code() diag.Code {
	if e.Kind == EmitErrNameCollision {
		return diag.EmiNameCollision
	}
	return diag.EmiUnsupportedShape
}

func unsupported(name string, loc source.Loc, format string, args ...any) *EmitError {
	return &EmitError{Kind: EmitErrUnsupportedShape, Name: name, Loc: loc, Msg: fmt.Sprintf(format, args...)}
}
