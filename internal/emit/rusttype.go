package emit

import (
	"fmt"
	"strings"

	"ffigen/internal/source"
	"ffigen/internal/types"
)

const rawPrefix = "::std::os::raw::"

// site names the declaration a type expression belongs to, for errors.
type site struct {
	name string
	loc  source.Loc
}

var rawNames = map[types.PrimKind]string{
	types.PrimVoid:      "c_void",
	types.PrimChar:      "c_char",
	types.PrimSChar:     "c_schar",
	types.PrimUChar:     "c_uchar",
	types.PrimShort:     "c_short",
	types.PrimUShort:    "c_ushort",
	types.PrimInt:       "c_int",
	types.PrimUInt:      "c_uint",
	types.PrimLong:      "c_long",
	types.PrimULong:     "c_ulong",
	types.PrimLongLong:  "c_longlong",
	types.PrimULongLong: "c_ulonglong",
}

// intName is the fixed-width Rust integer of size bytes.
func intName(size uint64, signed bool) string {
	prefix := "u"
	if signed {
		prefix = "i"
	}
	return fmt.Sprintf("%s%d", prefix, size*8)
}

// primType renders a primitive for the configured target.
func (e *Emitter) primType(p types.PrimKind) string {
	if raw, ok := rawNames[p]; ok {
		return rawPrefix + raw
	}
	t := e.cfg.Target
	switch p {
	case types.PrimBool:
		return "bool"
	case types.PrimInt128:
		return "i128"
	case types.PrimUInt128:
		return "u128"
	case types.PrimFloat:
		return "f32"
	case types.PrimDouble:
		return "f64"
	case types.PrimWChar, types.PrimChar16, types.PrimChar32:
		l, _ := t.Prim(p)
		return intName(max(l.Size, 1), t.Signed(p))
	case types.PrimLongDouble:
		l, _ := t.Prim(p)
		switch {
		case l.Size == 8:
			return "f64"
		case l.Size == 16 && l.Align == 16:
			return "u128"
		case l.Align > 0 && l.Size%l.Align == 0:
			return fmt.Sprintf("[%s; %d]", intName(l.Align, false), l.Size/l.Align)
		default:
			return fmt.Sprintf("[u8; %d]", l.Size)
		}
	default:
		return rawPrefix + "c_void"
	}
}

// rustType renders the type of a field, parameter, global or alias.
func (e *Emitter) rustType(id types.TypeID, s site) (string, error) {
	tt, ok := e.g.Lookup(id)
	if !ok {
		return "", fmt.Errorf("%s: type %d is not in the graph", s.name, id)
	}
	switch tt.Kind {
	case types.KindPrimitive:
		return e.primType(tt.Prim), nil

	case types.KindPointer:
		if e.g.IsFuncPointer(id) {
			if name, ok := e.typeNames[tt.Elem]; ok {
				return name, nil
			}
			return e.fnPointer(e.g.Canonical(tt.Elem), s)
		}
		inner, err := e.rustType(tt.Elem, s)
		if err != nil {
			return "", err
		}
		if tt.Const {
			return "*const " + inner, nil
		}
		return "*mut " + inner, nil

	case types.KindArray:
		elem, err := e.rustType(tt.Elem, s)
		if err != nil {
			return "", err
		}
		switch tt.Len {
		case types.ArrayFixed:
			return fmt.Sprintf("[%s; %d]", elem, tt.Count), nil
		case types.ArrayIncomplete:
			return fmt.Sprintf("[%s; 0]", elem), nil
		default:
			return "", unsupported(s.name, s.loc, "array length %q is not a constant", tt.LenExpr)
		}

	case types.KindFunc:
		return e.fnPointer(id, s)

	case types.KindRecord, types.KindEnum, types.KindTypedef, types.KindOpaque:
		name, ok := e.typeNames[id]
		if !ok {
			return "", fmt.Errorf("%s: %s was not selected for emission", s.name, e.g.MustNode(id).Name)
		}
		return name, nil

	default:
		return "", unsupported(s.name, s.loc, "%s types have no Rust form", tt.Kind)
	}
}

// flexibleType renders a trailing array member as a zero-length array.
func (e *Emitter) flexibleType(id types.TypeID, s site) (string, error) {
	tt, ok := e.g.Lookup(e.g.Canonical(id))
	if !ok || tt.Kind != types.KindArray {
		return e.rustType(id, s)
	}
	elem, err := e.rustType(tt.Elem, s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s; 0]", elem), nil
}

// fnPointer renders a nullable C function pointer. Signatures without a
// prototype become an untyped pointer rather than a guessed signature.
func (e *Emitter) fnPointer(fid types.TypeID, s site) (string, error) {
	info, ok := e.g.FuncInfo(fid)
	if !ok {
		return "", fmt.Errorf("%s: missing signature %d", s.name, fid)
	}
	if info.NoProto {
		return "*const " + rawPrefix + "c_void", nil
	}
	params := make([]string, 0, len(info.Params)+1)
	for _, p := range info.Params {
		pt, err := e.rustType(p.Type, s)
		if err != nil {
			return "", err
		}
		params = append(params, pt)
	}
	if info.Variadic {
		params = append(params, "...")
	}
	ret, err := e.resultType(info.Result, s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("::std::option::Option<unsafe extern \"C\" fn(%s)%s>", strings.Join(params, ", "), ret), nil
}

// resultType renders " -> T", or "" for void.
func (e *Emitter) resultType(id types.TypeID, s site) (string, error) {
	if tt, ok := e.g.Lookup(e.g.Canonical(id)); ok && tt.Kind == types.KindPrimitive && tt.Prim == types.PrimVoid {
		return "", nil
	}
	rt, err := e.rustType(id, s)
	if err != nil {
		return "", err
	}
	return " -> " + rt, nil
}

// isNoProtoFn reports whether id is a prototype-less function type or a
// pointer to one.
func (e *Emitter) isNoProtoFn(id types.TypeID) bool {
	c := e.g.Canonical(id)
	tt, ok := e.g.Lookup(c)
	if !ok {
		return false
	}
	if tt.Kind == types.KindPointer {
		c = e.g.Canonical(tt.Elem)
	}
	info, ok := e.g.FuncInfo(c)
	return ok && info.NoProto
}
