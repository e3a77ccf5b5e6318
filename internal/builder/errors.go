package builder

import (
	"fmt"

	"ffigen/internal/diag"
	"ffigen/internal/source"
)

// UnresolvedTypeError reports a reference to a type that no declaration in
// the unit provides, under the fail policy.
type UnresolvedTypeError struct {
	Name     string // referenced name, e.g. "Foo"
	Tag      string // "struct", "union", "enum" or "" for typedef names
	Referrer string // declaration containing the first reference
	Loc      source.Loc
}

func (e *UnresolvedTypeError) Error() string {
	spelled := e.Name
	if e.Tag != "" {
		spelled = e.Tag + " " + e.Name
	}
	msg := fmt.Sprintf("unresolved type %q", spelled)
	if e.Referrer != "" {
		msg += fmt.Sprintf(" referenced by %q", e.Referrer)
	}
	if !e.Loc.IsZero() {
		msg += " at " + e.Loc.String()
	}
	return msg
}

// Code maps the error to its diagnostic code.
func (e *UnresolvedTypeError) Code() diag.Code { return diag.BldUnresolvedType }

// DeclError wraps a malformed declaration record.
type DeclError struct {
	Decl string
	Loc  source.Loc
	Err  error
}

func (e *DeclError) Error() string {
	name := e.Decl
	if name == "" {
		name = "<anonymous>"
	}
	if e.Loc.IsZero() {
		return fmt.Sprintf("declaration %s: %v", name, e.Err)
	}
	return fmt.Sprintf("%s: declaration %s: %v", e.Loc, name, e.Err)
}

func (e *DeclError) Unwrap() error { return e.Err }

// Code maps the error to its diagnostic code.
func (e *DeclError) Code() diag.Code { return diag.BldInvalidRecord }
