package pipeline

import (
	"errors"
	"fmt"

	"ffigen/internal/builder"
	"ffigen/internal/diag"
	"ffigen/internal/emit"
	"ffigen/internal/layout"
)

// Error is the single terminal failure of a unit.
type Error struct {
	Stage Stage
	Unit  string
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Unit == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Unit, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code is the reason code of the underlying failure.
func (e *Error) Code() diag.Code {
	var coded interface{ Code() diag.Code }
	if errors.As(e.Err, &coded) {
		return coded.Code()
	}
	if e.Stage == StageDecode {
		return diag.IORecordDecode
	}
	return diag.UnknownCode
}

// Type names the declaration the failure is about, if known.
func (e *Error) Type() string {
	var (
		unresolved *builder.UnresolvedTypeError
		decl       *builder.DeclError
		lay        *layout.LayoutError
		em         *emit.EmitError
	)
	switch {
	case errors.As(e.Err, &em):
		return em.Name
	case errors.As(e.Err, &lay):
		return lay.Name
	case errors.As(e.Err, &unresolved):
		return unresolved.Referrer
	case errors.As(e.Err, &decl):
		return decl.Decl
	}
	return ""
}
