package types

import "fmt"

// TypeID uniquely identifies a node inside the graph.
type TypeID uint32

// NoTypeID marks the absence of a type.
const NoTypeID TypeID = 0

// Kind enumerates the closed set of C type kinds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindPrimitive
	KindPointer
	KindArray
	KindFunc
	KindRecord
	KindEnum
	KindTypedef
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindPrimitive:
		return "primitive"
	case KindPointer:
		return "pointer"
	case KindArray:
		return "array"
	case KindFunc:
		return "func"
	case KindRecord:
		return "record"
	case KindEnum:
		return "enum"
	case KindTypedef:
		return "typedef"
	case KindOpaque:
		return "opaque"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Nominal reports whether nodes of this kind carry a declaration name.
func (k Kind) Nominal() bool {
	switch k {
	case KindRecord, KindEnum, KindTypedef, KindOpaque:
		return true
	default:
		return false
	}
}

// ArrayLen classifies the length of an array type.
type ArrayLen uint8

const (
	ArrayFixed ArrayLen = iota
	ArrayIncomplete
	ArrayDependent // length is an expression the oracle could not fold
)

func (l ArrayLen) String() string {
	switch l {
	case ArrayFixed:
		return "fixed"
	case ArrayIncomplete:
		return "incomplete"
	case ArrayDependent:
		return "dependent"
	default:
		return fmt.Sprintf("ArrayLen(%d)", l)
	}
}

// OpaqueReason says why a node has no visible structure.
type OpaqueReason uint8

const (
	// OpaquePending marks a placeholder that has not been promoted yet.
	// No pending node survives a successful build.
	OpaquePending OpaqueReason = iota
	// OpaqueIncomplete is a forward-declared record that was never defined.
	OpaqueIncomplete
	// OpaqueUnknown is an unresolved type admitted by the allow-as-opaque policy.
	OpaqueUnknown
)

func (r OpaqueReason) String() string {
	switch r {
	case OpaquePending:
		return "pending"
	case OpaqueIncomplete:
		return "incomplete"
	case OpaqueUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("OpaqueReason(%d)", r)
	}
}

// Type is the compact descriptor stored for every node. Nominal kinds keep
// their structure in side tables addressed by Payload.
type Type struct {
	Kind    Kind
	Prim    PrimKind     // KindPrimitive
	Elem    TypeID       // pointer target, array element
	Const   bool         // pointer to const-qualified target
	Len     ArrayLen     // KindArray
	Count   uint64       // KindArray with ArrayFixed
	LenExpr string       // KindArray with ArrayDependent
	Opaque  OpaqueReason // KindOpaque
	Payload uint32       // slot in the kind's side table
}

// Descriptor helpers ---------------------------------------------------------

// MakePrim describes a primitive C type.
func MakePrim(p PrimKind) Type {
	return Type{Kind: KindPrimitive, Prim: p}
}

// MakePointer describes a pointer; constTarget marks `const T *`.
func MakePointer(elem TypeID, constTarget bool) Type {
	return Type{Kind: KindPointer, Elem: elem, Const: constTarget}
}

// MakeArray describes a fixed-length array.
func MakeArray(elem TypeID, count uint64) Type {
	return Type{Kind: KindArray, Elem: elem, Len: ArrayFixed, Count: count}
}

// MakeIncompleteArray describes `T[]`.
func MakeIncompleteArray(elem TypeID) Type {
	return Type{Kind: KindArray, Elem: elem, Len: ArrayIncomplete}
}

// MakeDependentArray describes an array whose length expression is unresolved.
func MakeDependentArray(elem TypeID, expr string) Type {
	return Type{Kind: KindArray, Elem: elem, Len: ArrayDependent, LenExpr: expr}
}
