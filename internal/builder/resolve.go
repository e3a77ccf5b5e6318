package builder

import (
	"fmt"

	"ffigen/internal/ast"
	"ffigen/internal/source"
	"ffigen/internal/types"
)

// useSite describes where a type expression appears. Anonymous declarations
// found there are named after it.
type useSite struct {
	enclosing string // name of the declaration being built
	member    string // field or parameter name
	index     int    // position among siblings, for unnamed members
	param     bool   // function parameter: arrays decay to pointers
	loc       source.Loc
}

func (s useSite) name() string {
	switch {
	case s.member != "":
		return s.enclosing + "_" + s.member
	case s.param:
		return fmt.Sprintf("%s_arg%d", s.enclosing, s.index)
	default:
		return fmt.Sprintf("%s_anon%d", s.enclosing, s.index)
	}
}

func (b *Builder) resolve(t *ast.TypeExpr, site useSite) (types.TypeID, error) {
	if t == nil {
		return b.graph.Intern(types.MakePrim(types.PrimVoid)), nil
	}
	switch t.Kind {
	case ast.TypePrim:
		p, ok := types.ParsePrim(t.Prim)
		if !ok {
			return types.NoTypeID, fmt.Errorf("unknown primitive %q", t.Prim)
		}
		return b.graph.Intern(types.MakePrim(p)), nil

	case ast.TypePointer:
		inner := site
		inner.param = false
		elem, err := b.resolve(t.Elem, inner)
		if err != nil {
			return types.NoTypeID, err
		}
		return b.graph.Intern(types.MakePointer(elem, t.Const)), nil

	case ast.TypeArray:
		inner := site
		inner.param = false
		elem, err := b.resolve(t.Elem, inner)
		if err != nil {
			return types.NoTypeID, err
		}
		if site.param {
			return b.graph.Intern(types.MakePointer(elem, t.Const)), nil
		}
		switch {
		case t.Len != nil:
			return b.graph.Intern(types.MakeArray(elem, *t.Len)), nil
		case t.LenExpr != "":
			return b.graph.Intern(types.MakeDependentArray(elem, t.LenExpr)), nil
		default:
			return b.graph.Intern(types.MakeIncompleteArray(elem)), nil
		}

	case ast.TypeFunc:
		return b.resolveSignature(t.Result, t.Params, t.Variadic, t.NoProto, site)

	case ast.TypeRef:
		return b.resolveRef(t, site)

	default:
		return types.NoTypeID, fmt.Errorf("unknown type kind %q", t.Kind)
	}
}

func (b *Builder) resolveSignature(result *ast.TypeExpr, params []ast.Param, variadic, noProto bool, site useSite) (types.TypeID, error) {
	res, err := b.resolve(result, useSite{enclosing: site.enclosing, member: "result", loc: site.loc})
	if err != nil {
		return types.NoTypeID, err
	}
	info := types.FuncInfo{Result: res, Variadic: variadic, NoProto: noProto}
	for i, p := range params {
		ps := useSite{enclosing: site.enclosing, member: p.Name, index: i, param: true, loc: site.loc}
		id, err := b.resolve(p.Type, ps)
		if err != nil {
			return types.NoTypeID, fmt.Errorf("parameter %d: %w", i, err)
		}
		info.Params = append(info.Params, types.Param{Name: p.Name, Type: id})
	}
	return b.graph.InternFunc(info), nil
}

func (b *Builder) resolveRef(t *ast.TypeExpr, site useSite) (types.TypeID, error) {
	if t.Decl != nil {
		return b.resolveInline(t.Decl, site)
	}
	if t.Ref != "" {
		if d, ok := b.deferred[t.Ref]; ok {
			return b.useAnonymous(t.Ref, d, site)
		}
		if t.Name == "" && b.awaitsDecl(t.Ref) {
			return b.pendingUse(t, site), nil
		}
	}
	ns := namespaceOf(t.Tag)
	if id, ok := b.lookup(t.Ref, ns, t.Name); ok {
		return id, nil
	}
	// C++ lets a tag name be used without its keyword.
	if ns == nsOrdinary && t.Name != "" {
		if id, ok := b.byName[nameKey{nsTag, t.Name}]; ok {
			return id, nil
		}
	}

	name := t.Name
	builtin := false
	if skipped, ok := b.skippedIDs[t.Ref]; ok {
		name, builtin = skipped, true
	}
	if name == "" {
		name = t.Ref
	}
	if !b.cfg.Builtins && isBuiltinName(name) {
		builtin = true
	}

	id := b.graph.Placeholder(name, source.Loc{})
	n := b.graph.MustNode(id)
	n.RefBy = site.enclosing
	n.RefByLoc = site.loc
	b.register(id, t.Ref, ns, t.Name)
	if builtin {
		n.Builtin = true
		b.graph.MarkOpaque(id, types.OpaqueIncomplete)
		return id, nil
	}
	b.refs[id] = refSite{name: name, tag: t.Tag, referrer: site.enclosing, loc: site.loc}
	return id, nil
}

// resolveInline handles a declaration written at its use site.
func (b *Builder) resolveInline(d *ast.Decl, site useSite) (types.TypeID, error) {
	if b.isSkippedBuiltin(d) {
		return b.resolveRef(&ast.TypeExpr{Kind: ast.TypeRef, Ref: d.ID, Name: d.Name, Tag: d.Kind.Tag()}, site)
	}
	switch d.Kind {
	case ast.DeclStruct, ast.DeclUnion, ast.DeclEnum:
	default:
		return types.NoTypeID, fmt.Errorf("inline %s declaration", d.Kind)
	}
	if d.Name != "" {
		return b.declareNamed(d)
	}
	if d.ID != "" {
		if id, ok := b.byID[d.ID]; ok && !b.graph.IsPending(id) {
			return id, nil
		}
		if err := b.deferAnonymous(d); err != nil {
			return types.NoTypeID, err
		}
		if parked, ok := b.deferred[d.ID]; ok {
			return b.useAnonymous(d.ID, parked, site)
		}
		return b.byID[d.ID], nil
	}

	// Without an ID, a second declaration at the same site is the same type
	// if it has the same shape.
	siteName := site.name()
	if prev, ok := b.anonSites[siteName]; ok {
		same, err := b.sameShape(prev, d, siteName)
		if err != nil {
			return types.NoTypeID, err
		}
		if same {
			return prev, nil
		}
	}
	id, err := b.buildAnonymous(d, b.uniqueName(siteName), "")
	if err != nil {
		return types.NoTypeID, err
	}
	if _, ok := b.anonSites[siteName]; !ok {
		b.anonSites[siteName] = id
	}
	return id, nil
}

// useAnonymous returns the node for an identified anonymous declaration as
// seen from site. Each distinct use site gets its own node.
func (b *Builder) useAnonymous(ref string, d *ast.Decl, site useSite) (types.TypeID, error) {
	siteName := site.name()
	key := ref + "@" + siteName
	if id, ok := b.anonSites[key]; ok {
		return id, nil
	}
	b.anonUses[ref]++
	id, err := b.buildAnonymous(d, b.uniqueName(siteName), "")
	if err != nil {
		return types.NoTypeID, err
	}
	b.anonSites[key] = id
	return id, nil
}

// awaitsDecl reports whether a bare ID reference names a declaration that
// has not been seen in any form.
func (b *Builder) awaitsDecl(ref string) bool {
	if _, ok := b.byID[ref]; ok {
		return false
	}
	_, skipped := b.skippedIDs[ref]
	return !skipped
}

// pendingUse returns the placeholder standing for ref at site until the
// declaration arrives. Repeated uses from one site share it.
func (b *Builder) pendingUse(t *ast.TypeExpr, site useSite) types.TypeID {
	siteName := site.name()
	key := t.Ref + "@" + siteName
	if id, ok := b.anonSites[key]; ok {
		return id
	}
	id := b.graph.Placeholder(t.Ref, source.Loc{})
	n := b.graph.MustNode(id)
	n.RefBy = site.enclosing
	n.RefByLoc = site.loc
	b.refs[id] = refSite{name: t.Ref, tag: t.Tag, referrer: site.enclosing, loc: site.loc}
	b.anonSites[key] = id
	b.addPending(t.Ref, pendingSite{id: id, site: siteName})
	return id
}

func (b *Builder) addPending(ref string, ps pendingSite) {
	if _, ok := b.pendingSites[ref]; !ok {
		b.pendingOrder = append(b.pendingOrder, ref)
	}
	b.pendingSites[ref] = append(b.pendingSites[ref], ps)
}

// takePending removes and returns the placeholders waiting for ref.
func (b *Builder) takePending(ref string) []pendingSite {
	sites := b.pendingSites[ref]
	delete(b.pendingSites, ref)
	return sites
}

func (b *Builder) sameShape(prev types.TypeID, d *ast.Decl, siteName string) (bool, error) {
	if d.Kind == ast.DeclEnum {
		have, ok := b.graph.EnumInfo(prev)
		if !ok {
			return false, nil
		}
		want, err := b.enumInfo(d, siteName)
		if err != nil {
			return false, err
		}
		return sameEnum(have, &want), nil
	}
	have, ok := b.graph.RecordInfo(prev)
	if !ok {
		return false, nil
	}
	want, err := b.recordInfo(d, siteName)
	if err != nil {
		return false, err
	}
	return types.ShapeEqual(have, &want), nil
}

func sameEnum(a, b *types.EnumInfo) bool {
	if a.Underlying != b.Underlying || len(a.Variants) != len(b.Variants) {
		return false
	}
	for i := range a.Variants {
		x, y := a.Variants[i], b.Variants[i]
		if x.Name != y.Name || x.Value != y.Value || x.Unsigned != y.Unsigned {
			return false
		}
	}
	return true
}

func (b *Builder) lookup(ref string, ns namespace, name string) (types.TypeID, bool) {
	if ref != "" {
		if id, ok := b.byID[ref]; ok {
			return id, true
		}
	}
	if name != "" {
		if id, ok := b.byName[nameKey{ns, name}]; ok {
			return id, true
		}
	}
	return types.NoTypeID, false
}

func (b *Builder) register(id types.TypeID, ref string, ns namespace, name string) {
	if ref != "" {
		if _, ok := b.byID[ref]; !ok {
			b.byID[ref] = id
		}
	}
	if name != "" {
		key := nameKey{ns, name}
		if _, ok := b.byName[key]; !ok {
			b.byName[key] = id
		}
		b.usedNames[name] = true
	}
}

func namespaceOf(tag string) namespace {
	if tag == "" {
		return nsOrdinary
	}
	return nsTag
}
