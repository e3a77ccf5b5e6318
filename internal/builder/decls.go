package builder

import (
	"errors"
	"fmt"

	"ffigen/internal/ast"
	"ffigen/internal/diag"
	"ffigen/internal/types"
)

var builtinNames = map[string]struct{}{
	"__builtin_va_list":      {},
	"__builtin_ms_va_list":   {},
	"__va_list_tag":          {},
	"__va_list":              {},
	"__int128_t":             {},
	"__uint128_t":            {},
	"__NSConstantString":     {},
	"__NSConstantString_tag": {},
}

func isBuiltinName(name string) bool {
	_, ok := builtinNames[name]
	return ok
}

// declareNamed handles a named struct, union or enum, whether written at
// top level or inline. The first definition wins.
func (b *Builder) declareNamed(d *ast.Decl) (types.TypeID, error) {
	loc := d.Location()
	id, exists := b.lookup(d.ID, nsTag, d.Name)
	var sites []pendingSite
	if d.ID != "" {
		sites = b.takePending(d.ID)
	}
	if !exists {
		id = b.claimSite(sites, d.Name)
		if id == types.NoTypeID {
			id = b.graph.Placeholder(d.Name, loc)
		}
	}
	b.register(id, d.ID, nsTag, d.Name)
	for _, ps := range sites {
		if ps.id == id {
			continue
		}
		name := d.Name
		if ps.adopt {
			name = ""
		}
		if err := b.aliasSite(ps.id, id, name, d); err != nil {
			return id, err
		}
	}

	n := b.graph.MustNode(id)
	if n.Loc.IsZero() {
		n.Loc = loc
	}
	b.declared[id] = true
	if d.Forward {
		return id, nil
	}
	if b.defined[id] {
		b.checkRedefinition(id, d)
		return id, nil
	}
	if !b.graph.IsPending(id) {
		b.conflict(id, d, fmt.Sprintf("%s %q was already declared as %s", d.Kind, d.Name, n.Type.Kind))
		return id, nil
	}
	n.Loc = loc
	b.defined[id] = true
	return id, b.defineBody(id, d, d.Name)
}

func (b *Builder) checkRedefinition(id types.TypeID, d *ast.Decl) {
	n := b.graph.MustNode(id)
	switch d.Kind {
	case ast.DeclEnum:
		have, ok := b.graph.EnumInfo(id)
		if !ok {
			b.conflict(id, d, fmt.Sprintf("enum %q redeclares a %s", d.Name, n.Type.Kind))
			return
		}
		want, err := b.enumInfo(d, n.Name)
		if err != nil || !sameEnum(have, &want) {
			b.conflict(id, d, fmt.Sprintf("conflicting definitions of enum %q", d.Name))
		}
	default:
		have, ok := b.graph.RecordInfo(id)
		if !ok {
			b.conflict(id, d, fmt.Sprintf("%s %q redeclares a %s", d.Kind, d.Name, n.Type.Kind))
			return
		}
		want, err := b.recordInfo(d, n.Name)
		if err != nil || !types.ShapeEqual(have, &want) {
			b.conflict(id, d, fmt.Sprintf("conflicting definitions of %s %q", d.Kind, d.Name))
		}
	}
}

func (b *Builder) conflict(id types.TypeID, d *ast.Decl, msg string) {
	n := b.graph.MustNode(id)
	diag.ReportWarning(b.rep, diag.BldConflictingDecl, d.Location(), msg+"; keeping the first").
		About(n.Name).
		WithNote(n.Loc, "first declared here").
		Emit()
}

// deferAnonymous parks an identified anonymous declaration until a use site
// names it. Uses that arrived before the declaration each hold a placeholder;
// those are defined in place under their site names, or under the typedef
// name when a typedef adopted the declaration.
func (b *Builder) deferAnonymous(d *ast.Decl) error {
	if _, ok := b.deferred[d.ID]; ok {
		return nil
	}
	if id, ok := b.byID[d.ID]; ok {
		if !b.graph.IsPending(id) {
			return nil
		}
		return b.promoteSite(id, d, b.nextAnonName(), true)
	}

	sites := b.takePending(d.ID)
	for _, ps := range sites {
		if !ps.adopt {
			continue
		}
		// typedef T came first: T is the record, every other use aliases it.
		name := b.graph.MustNode(ps.id).Name
		b.byID[d.ID] = ps.id
		if err := b.promoteSite(ps.id, d, name, false); err != nil {
			return err
		}
		for _, other := range sites {
			if other.id == ps.id {
				continue
			}
			alias := name
			if other.adopt {
				alias = ""
			}
			if err := b.aliasSite(other.id, ps.id, alias, d); err != nil {
				return err
			}
		}
		return nil
	}

	b.deferred[d.ID] = d
	b.deferOrder = append(b.deferOrder, d.ID)
	for _, ps := range sites {
		b.anonUses[d.ID]++
		if err := b.promoteSite(ps.id, d, b.uniqueName(ps.site), true); err != nil {
			return err
		}
	}
	return nil
}

// promoteSite defines a waiting placeholder with the body of d.
func (b *Builder) promoteSite(id types.TypeID, d *ast.Decl, name string, anonymous bool) error {
	n := b.graph.MustNode(id)
	n.Name = name
	n.Anonymous = anonymous
	n.Loc = d.Location()
	b.usedNames[name] = true
	delete(b.refs, id)
	b.declared[id] = true
	b.defined[id] = true
	return b.wrap(name, d, b.defineBody(id, d, name))
}

// aliasSite turns a waiting placeholder into a typedef of target. An empty
// name keeps the placeholder's own name.
func (b *Builder) aliasSite(id, target types.TypeID, name string, d *ast.Decl) error {
	n := b.graph.MustNode(id)
	if name != "" {
		n.Name = name
	}
	if n.Loc.IsZero() {
		n.Loc = d.Location()
	}
	delete(b.refs, id)
	b.declared[id] = true
	b.defined[id] = true
	if b.graph.Canonical(target) == id {
		return &DeclError{Decl: n.Name, Loc: d.Location(), Err: errors.New("typedef refers to itself")}
	}
	b.graph.DefineTypedef(id, target)
	return nil
}

// claimSite picks the placeholder of the first plain use site to become the
// declared node itself.
func (b *Builder) claimSite(sites []pendingSite, name string) types.TypeID {
	for _, ps := range sites {
		if ps.adopt {
			continue
		}
		n := b.graph.MustNode(ps.id)
		n.Name = name
		delete(b.refs, ps.id)
		return ps.id
	}
	return types.NoTypeID
}

// collapseSites settles uses of a declaration that never arrived: every
// placeholder aliases the first one, so the unit sees a single opaque type.
func (b *Builder) collapseSites(sites []pendingSite) {
	if len(sites) < 2 {
		return
	}
	anchor := sites[0]
	for _, ps := range sites {
		if ps.adopt {
			anchor = ps
			break
		}
	}
	name := b.graph.MustNode(anchor.id).Name
	for _, ps := range sites {
		if ps.id == anchor.id {
			continue
		}
		n := b.graph.MustNode(ps.id)
		if !ps.adopt {
			n.Name = name
		}
		delete(b.refs, ps.id)
		b.declared[ps.id] = true
		b.defined[ps.id] = true
		b.graph.DefineTypedef(ps.id, anchor.id)
	}
}

// buildAnonymous creates a node for an anonymous declaration under name.
func (b *Builder) buildAnonymous(d *ast.Decl, name, ref string) (types.TypeID, error) {
	id := b.graph.Placeholder(name, d.Location())
	n := b.graph.MustNode(id)
	n.Anonymous = true
	b.usedNames[name] = true
	if ref != "" {
		b.byID[ref] = id
	}
	b.declared[id] = true
	b.defined[id] = true
	return id, b.defineBody(id, d, name)
}

func (b *Builder) defineBody(id types.TypeID, d *ast.Decl, name string) error {
	if d.Kind == ast.DeclEnum {
		info, err := b.enumInfo(d, name)
		if err != nil {
			return err
		}
		b.graph.DefineEnum(id, info)
		return nil
	}
	info, err := b.recordInfo(d, name)
	if err != nil {
		return err
	}
	b.graph.DefineRecord(id, info)
	return nil
}

func (b *Builder) recordInfo(d *ast.Decl, enclosing string) (types.RecordInfo, error) {
	info := types.RecordInfo{Kind: types.RecordStruct, Packed: d.Packed, AlignAttr: d.Align}
	if d.Kind == ast.DeclUnion {
		info.Kind = types.RecordUnion
	}
	if d.Layout != nil {
		info.Hint = types.LayoutHint{Valid: true, Size: d.Layout.Size, Align: d.Layout.Align}
	}
	info.Fields = make([]types.Field, 0, len(d.Fields))
	for i := range d.Fields {
		f := &d.Fields[i]
		loc := f.Location()
		if loc.IsZero() {
			loc = d.Location()
		}
		id, err := b.resolve(f.Type, useSite{enclosing: enclosing, member: f.Name, index: i, loc: loc})
		if err != nil {
			return info, b.wrap(enclosing, d, fmt.Errorf("field %q: %w", f.Name, err))
		}
		field := types.Field{Name: f.Name, Type: id, Loc: loc}
		if f.BitWidth != nil {
			field.Bitfield = true
			field.BitWidth = *f.BitWidth
		}
		if f.OffsetBits != nil {
			field.HasOffset = true
			field.OffsetBits = *f.OffsetBits
		}
		info.Fields = append(info.Fields, field)
	}
	return info, nil
}

func (b *Builder) enumInfo(d *ast.Decl, enclosing string) (types.EnumInfo, error) {
	var info types.EnumInfo
	if d.Underlying != nil {
		id, err := b.resolve(d.Underlying, useSite{enclosing: enclosing, member: "repr", loc: d.Location()})
		if err != nil {
			return info, b.wrap(enclosing, d, fmt.Errorf("underlying type: %w", err))
		}
		info.Underlying = id
	}
	info.Variants = make([]types.Variant, 0, len(d.Variants))
	for _, v := range d.Variants {
		tv := types.Variant{Name: v.Name, Value: v.Value, Loc: d.Location()}
		if v.Big != nil {
			tv.Value = int64(*v.Big) // two's complement
			tv.Unsigned = true
		}
		info.Variants = append(info.Variants, tv)
	}
	return info, nil
}

func (b *Builder) addTypedef(d *ast.Decl) error {
	loc := d.Location()
	key := nameKey{nsOrdinary, d.Name}
	existing, have := b.byName[key]
	if have && !b.graph.IsPending(existing) {
		return nil
	}

	t := d.Type
	if !have && t != nil && t.Kind == ast.TypeRef && t.Decl == nil && t.Name == "" && t.Ref != "" &&
		b.deferred[t.Ref] == nil && b.awaitsDecl(t.Ref) {
		// The declaration comes later; the typedef name will carry it.
		id := b.graph.Placeholder(d.Name, loc)
		b.byName[key] = id
		b.usedNames[d.Name] = true
		b.refs[id] = refSite{name: d.Name, tag: t.Tag, referrer: d.Name, loc: loc}
		b.addPending(t.Ref, pendingSite{id: id, site: d.Name, adopt: true})
		return nil
	}
	if anon, ref := b.anonymousTarget(t); anon != nil {
		if !have {
			// typedef struct { ... } T; the record takes the typedef's name.
			id := b.graph.Placeholder(d.Name, loc)
			b.byName[key] = id
			b.usedNames[d.Name] = true
			b.adoptRef(ref, id)
			b.declared[id] = true
			b.defined[id] = true
			return b.wrap(d.Name, d, b.defineBody(id, anon, d.Name))
		}
		target, err := b.buildAnonymous(anon, d.Name, "")
		if err != nil {
			return err
		}
		b.adoptRef(ref, target)
		return b.defineTypedef(existing, d, target)
	}

	// typedef struct X X; both spellings name the record.
	if !have && t.Kind == ast.TypeRef && refName(t) == d.Name && (t.Tag != "" || t.Decl != nil) {
		target, err := b.resolve(t, useSite{enclosing: d.Name, loc: loc})
		if err != nil {
			return b.wrap(d.Name, d, err)
		}
		b.byName[key] = target
		return nil
	}

	target, err := b.resolve(t, useSite{enclosing: d.Name, loc: loc})
	if err != nil {
		return b.wrap(d.Name, d, err)
	}
	id := existing
	if !have {
		id = b.graph.Placeholder(d.Name, loc)
		b.register(id, d.ID, nsOrdinary, d.Name)
	}
	return b.defineTypedef(id, d, target)
}

func (b *Builder) defineTypedef(id types.TypeID, d *ast.Decl, target types.TypeID) error {
	n := b.graph.MustNode(id)
	n.Loc = d.Location()
	delete(b.refs, id)
	b.declared[id] = true
	b.defined[id] = true
	if b.graph.Canonical(target) == id {
		return &DeclError{Decl: d.Name, Loc: d.Location(), Err: errors.New("typedef refers to itself")}
	}
	b.graph.DefineTypedef(id, target)
	return nil
}

// anonymousTarget returns the anonymous declaration a typedef names, if any.
func (b *Builder) anonymousTarget(t *ast.TypeExpr) (*ast.Decl, string) {
	if t == nil || t.Kind != ast.TypeRef {
		return nil, ""
	}
	if t.Decl != nil && t.Decl.Name == "" && !b.isSkippedBuiltin(t.Decl) {
		return t.Decl, t.Decl.ID
	}
	if t.Ref != "" {
		if d, ok := b.deferred[t.Ref]; ok {
			return d, t.Ref
		}
	}
	return nil, ""
}

// adoptRef makes later references to ref resolve to id.
func (b *Builder) adoptRef(ref string, id types.TypeID) {
	if ref == "" {
		return
	}
	delete(b.deferred, ref)
	b.byID[ref] = id
}

func refName(t *ast.TypeExpr) string {
	if t.Name != "" {
		return t.Name
	}
	if t.Decl != nil {
		return t.Decl.Name
	}
	return ""
}

func (b *Builder) addFunction(d *ast.Decl) error {
	loc := d.Location()
	sig, err := b.resolveSignature(d.Result, d.Params, d.Variadic, d.NoProto, useSite{enclosing: d.Name, loc: loc})
	if err != nil {
		return b.wrap(d.Name, d, err)
	}
	names := make([]string, len(d.Params))
	for i, p := range d.Params {
		names[i] = p.Name
	}
	b.graph.AddFunction(types.Function{Name: d.Name, Sig: sig, ParamNames: names, Loc: loc})
	return nil
}

func (b *Builder) addVar(d *ast.Decl) error {
	loc := d.Location()
	id, err := b.resolve(d.Type, useSite{enclosing: d.Name, loc: loc})
	if err != nil {
		return b.wrap(d.Name, d, err)
	}
	b.graph.AddGlobal(types.Global{Name: d.Name, Type: id, Const: d.Const, Loc: loc})
	return nil
}

func (b *Builder) wrap(name string, d *ast.Decl, err error) error {
	if err == nil {
		return nil
	}
	var de *DeclError
	if errors.As(err, &de) {
		return err
	}
	return &DeclError{Decl: name, Loc: d.Location(), Err: err}
}

func (b *Builder) uniqueName(base string) string {
	name := base
	for k := 1; b.usedNames[name]; k++ {
		name = fmt.Sprintf("%s_%d", base, k)
	}
	b.usedNames[name] = true
	return name
}

func (b *Builder) nextAnonName() string {
	for {
		b.anonSeq++
		name := fmt.Sprintf("Anon%d", b.anonSeq)
		if !b.usedNames[name] {
			b.usedNames[name] = true
			return name
		}
	}
}
