// Package ast defines the declaration records produced by the external C
// parser and decoders for the encodings it can emit.
package ast

import (
	"fmt"

	"ffigen/internal/source"
)

// DeclKind is the kind of a top-level (or inline) declaration record.
type DeclKind string

const (
	DeclStruct   DeclKind = "struct"
	DeclUnion    DeclKind = "union"
	DeclEnum     DeclKind = "enum"
	DeclTypedef  DeclKind = "typedef"
	DeclFunction DeclKind = "function"
	DeclVar      DeclKind = "var"
)

// Tag returns the C tag namespace a declaration lives in. Typedefs,
// functions and variables share the ordinary namespace ("").
func (k DeclKind) Tag() string {
	switch k {
	case DeclStruct, DeclUnion, DeclEnum:
		return string(k)
	default:
		return ""
	}
}

// IsRecord reports whether k is a struct or union.
func (k DeclKind) IsRecord() bool { return k == DeclStruct || k == DeclUnion }

// TypeKind is the shape of a type expression.
type TypeKind string

const (
	TypePrim    TypeKind = "prim"
	TypePointer TypeKind = "pointer"
	TypeArray   TypeKind = "array"
	TypeFunc    TypeKind = "func"
	TypeRef     TypeKind = "ref"
)

// Decl is one declaration record.
type Decl struct {
	// ID is the parser's stable identity for the declaration (a USR or an
	// opaque cursor hash). References name it through TypeExpr.Ref.
	ID   string   `json:"id,omitempty" yaml:"id,omitempty"`
	Kind DeclKind `json:"kind" yaml:"kind"`
	// Name is the qualified name, empty for anonymous declarations.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Loc  string `json:"loc,omitempty" yaml:"loc,omitempty"`

	// Forward marks a declaration without a body (`struct S;`).
	Forward bool `json:"forward,omitempty" yaml:"forward,omitempty"`
	Builtin bool `json:"builtin,omitempty" yaml:"builtin,omitempty"`

	// Records.
	Fields []Field `json:"fields,omitempty" yaml:"fields,omitempty"`
	Packed bool    `json:"packed,omitempty" yaml:"packed,omitempty"`
	Align  uint64  `json:"align,omitempty" yaml:"align,omitempty"`

	// Enums.
	Variants   []Variant `json:"variants,omitempty" yaml:"variants,omitempty"`
	Underlying *TypeExpr `json:"underlying,omitempty" yaml:"underlying,omitempty"`

	// Typedefs and variables.
	Type  *TypeExpr `json:"type,omitempty" yaml:"type,omitempty"`
	Const bool      `json:"const,omitempty" yaml:"const,omitempty"`

	// Functions.
	Result   *TypeExpr `json:"result,omitempty" yaml:"result,omitempty"`
	Params   []Param   `json:"params,omitempty" yaml:"params,omitempty"`
	Variadic bool      `json:"variadic,omitempty" yaml:"variadic,omitempty"`
	NoProto  bool      `json:"noproto,omitempty" yaml:"noproto,omitempty"`

	// Layout is the parser's own size/alignment computation, if it has one.
	Layout *LayoutHint `json:"layout,omitempty" yaml:"layout,omitempty"`
}

// Field is a record member.
type Field struct {
	Name       string    `json:"name,omitempty" yaml:"name,omitempty"`
	Type       *TypeExpr `json:"type" yaml:"type"`
	BitWidth   *uint32   `json:"bits,omitempty" yaml:"bits,omitempty"`
	OffsetBits *uint64   `json:"offset,omitempty" yaml:"offset,omitempty"`
	Loc        string    `json:"loc,omitempty" yaml:"loc,omitempty"`
}

// Variant is an enumerator. Big carries values above MaxInt64.
type Variant struct {
	Name  string  `json:"name" yaml:"name"`
	Value int64   `json:"value" yaml:"value"`
	Big   *uint64 `json:"big,omitempty" yaml:"big,omitempty"`
}

// Param is a function parameter.
type Param struct {
	Name string    `json:"name,omitempty" yaml:"name,omitempty"`
	Type *TypeExpr `json:"type" yaml:"type"`
}

// LayoutHint is what the parser computed for a record.
type LayoutHint struct {
	Size  uint64 `json:"size" yaml:"size"`
	Align uint64 `json:"align" yaml:"align"`
}

// TypeExpr is a type as it appears at a use site.
type TypeExpr struct {
	Kind TypeKind `json:"kind" yaml:"kind"`

	// TypePrim: C spelling, e.g. "unsigned int".
	Prim string `json:"prim,omitempty" yaml:"prim,omitempty"`
	// Const marks the pointee of a TypePointer as const-qualified.
	Const bool `json:"const,omitempty" yaml:"const,omitempty"`

	// TypePointer and TypeArray.
	Elem *TypeExpr `json:"elem,omitempty" yaml:"elem,omitempty"`
	// TypeArray: Len is nil for `T[]`; LenExpr is set when the parser could
	// not fold the length.
	Len     *uint64 `json:"len,omitempty" yaml:"len,omitempty"`
	LenExpr string  `json:"len_expr,omitempty" yaml:"len_expr,omitempty"`

	// TypeFunc.
	Result   *TypeExpr `json:"result,omitempty" yaml:"result,omitempty"`
	Params   []Param   `json:"params,omitempty" yaml:"params,omitempty"`
	Variadic bool      `json:"variadic,omitempty" yaml:"variadic,omitempty"`
	NoProto  bool      `json:"noproto,omitempty" yaml:"noproto,omitempty"`

	// TypeRef: Ref is the referenced declaration's ID; Name and Tag are the
	// spelling used when the ID is missing or unknown. Decl carries an
	// inline declaration (anonymous struct, inline enum).
	Ref  string `json:"ref,omitempty" yaml:"ref,omitempty"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Tag  string `json:"tag,omitempty" yaml:"tag,omitempty"`
	Decl *Decl  `json:"decl,omitempty" yaml:"decl,omitempty"`
}

// Location parses the record's location. Malformed locations are dropped.
func (d *Decl) Location() source.Loc {
	if d == nil || d.Loc == "" {
		return source.Loc{}
	}
	loc, err := source.ParseLoc(d.Loc)
	if err != nil {
		return source.Loc{}
	}
	return loc
}

// Location parses the field's location.
func (f *Field) Location() source.Loc {
	if f == nil || f.Loc == "" {
		return source.Loc{}
	}
	loc, err := source.ParseLoc(f.Loc)
	if err != nil {
		return source.Loc{}
	}
	return loc
}

// Validate checks the structural invariants a decoder cannot express.
func (d *Decl) Validate() error {
	if d == nil {
		return fmt.Errorf("nil declaration")
	}
	switch d.Kind {
	case DeclStruct, DeclUnion:
		for i := range d.Fields {
			if d.Fields[i].Type == nil {
				return fmt.Errorf("%s %q: field %d has no type", d.Kind, d.Name, i)
			}
			if err := d.Fields[i].Type.Validate(); err != nil {
				return fmt.Errorf("%s %q: field %q: %w", d.Kind, d.Name, d.Fields[i].Name, err)
			}
		}
	case DeclEnum:
		if d.Underlying != nil {
			if err := d.Underlying.Validate(); err != nil {
				return fmt.Errorf("enum %q: underlying: %w", d.Name, err)
			}
		}
	case DeclTypedef, DeclVar:
		if d.Name == "" {
			return fmt.Errorf("%s without a name", d.Kind)
		}
		if d.Type == nil {
			return fmt.Errorf("%s %q has no type", d.Kind, d.Name)
		}
		if err := d.Type.Validate(); err != nil {
			return fmt.Errorf("%s %q: %w", d.Kind, d.Name, err)
		}
	case DeclFunction:
		if d.Name == "" {
			return fmt.Errorf("function without a name")
		}
		if d.Result != nil {
			if err := d.Result.Validate(); err != nil {
				return fmt.Errorf("function %q: result: %w", d.Name, err)
			}
		}
		for i, p := range d.Params {
			if p.Type == nil {
				return fmt.Errorf("function %q: parameter %d has no type", d.Name, i)
			}
			if err := p.Type.Validate(); err != nil {
				return fmt.Errorf("function %q: parameter %d: %w", d.Name, i, err)
			}
		}
	default:
		return fmt.Errorf("unknown declaration kind %q", d.Kind)
	}
	return nil
}

// Validate checks that the expression carries the data its kind needs.
func (t *TypeExpr) Validate() error {
	if t == nil {
		return fmt.Errorf("missing type")
	}
	switch t.Kind {
	case TypePrim:
		if t.Prim == "" {
			return fmt.Errorf("prim type without spelling")
		}
	case TypePointer, TypeArray:
		if t.Elem == nil {
			return fmt.Errorf("%s type without element", t.Kind)
		}
		return t.Elem.Validate()
	case TypeFunc:
		if t.Result != nil {
			if err := t.Result.Validate(); err != nil {
				return err
			}
		}
		for _, p := range t.Params {
			if err := p.Type.Validate(); err != nil {
				return err
			}
		}
	case TypeRef:
		if t.Ref == "" && t.Name == "" && t.Decl == nil {
			return fmt.Errorf("type reference without target")
		}
		if t.Decl != nil {
			return t.Decl.Validate()
		}
	default:
		return fmt.Errorf("unknown type kind %q", t.Kind)
	}
	return nil
}

// Spelling renders the reference the way it would appear in C.
func (t *TypeExpr) Spelling() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TypePrim:
		return t.Prim
	case TypePointer:
		return t.Elem.Spelling() + " *"
	case TypeArray:
		switch {
		case t.Len != nil:
			return fmt.Sprintf("%s[%d]", t.Elem.Spelling(), *t.Len)
		case t.LenExpr != "":
			return fmt.Sprintf("%s[%s]", t.Elem.Spelling(), t.LenExpr)
		default:
			return t.Elem.Spelling() + "[]"
		}
	case TypeFunc:
		return "function"
	case TypeRef:
		name := t.Name
		if name == "" && t.Decl != nil {
			name = t.Decl.Name
		}
		if name == "" {
			name = "<anonymous>"
		}
		if t.Tag != "" {
			return t.Tag + " " + name
		}
		return name
	default:
		return string(t.Kind)
	}
}
