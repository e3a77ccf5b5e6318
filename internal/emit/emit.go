// Package emit renders an annotated type graph as Rust FFI declarations.
//
// The emitter reads layouts and capability flags; it never recomputes
// them. Items come out in dependency order: a by-value dependency always
// precedes its user, and pointer cycles are broken with forward items.
package emit

import (
	"context"
	"fmt"

	"ffigen/internal/config"
	"ffigen/internal/diag"
	"ffigen/internal/source"
	"ffigen/internal/trace"
	"ffigen/internal/types"
)

// ItemKind classifies output items.
type ItemKind uint8

const (
	ItemForward   ItemKind = iota + 1 // cycle break, no Rust text
	ItemStruct                        // #[repr(C)] struct
	ItemUnion                         // #[repr(C)] union
	ItemEnum                          // #[repr(iN)] enum
	ItemConstants                     // type alias plus const group
	ItemAlias                         // pub type
	ItemOpaque                        // zero-sized handle
	ItemBlob                          // size-preserving opaque bytes
	ItemStub                          // function pointer without prototype
	ItemFunction                      // extern fn
	ItemGlobal                        // extern static
)

var itemKindNames = [...]string{
	ItemForward:   "forward",
	ItemStruct:    "struct",
	ItemUnion:     "union",
	ItemEnum:      "enum",
	ItemConstants: "constants",
	ItemAlias:     "alias",
	ItemOpaque:    "opaque",
	ItemBlob:      "blob",
	ItemStub:      "stub",
	ItemFunction:  "function",
	ItemGlobal:    "global",
}

func (k ItemKind) String() string {
	if int(k) < len(itemKindNames) && itemKindNames[k] != "" {
		return itemKindNames[k]
	}
	return fmt.Sprintf("ItemKind(%d)", k)
}

// MarshalText renders the kind by name in the JSON IR.
func (k ItemKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Field is the IR view of one emitted member.
type Field struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Offset    uint64 `json:"offset"`
	Size      uint64 `json:"size"`
	BitOffset uint32 `json:"bit_offset,omitempty"`
	BitWidth  uint32 `json:"bit_width,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

// Item is one emitted declaration.
type Item struct {
	Kind    ItemKind `json:"kind"`
	Name    string   `json:"name"`
	CName   string   `json:"c_name"`
	Renamed bool     `json:"renamed,omitempty"`
	Loc     string   `json:"loc,omitempty"`
	Size    uint64   `json:"size,omitempty"`
	Align   uint64   `json:"align,omitempty"`
	Repr    string   `json:"repr,omitempty"`
	Type    string   `json:"type,omitempty"`
	Derives []string `json:"derives,omitempty"`
	Fields  []Field  `json:"fields,omitempty"`
	// Extern items live inside the unit's extern block.
	Extern bool `json:"extern,omitempty"`
	// Text is the rendered Rust source of the item.
	Text string `json:"-"`
}

// Link is a native library the extern block links against.
type Link struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Output is the ordered result for one translation unit.
type Output struct {
	Target     string `json:"target"`
	Links      []Link `json:"links,omitempty"`
	LinkPrefix string `json:"link_prefix,omitempty"`
	Items      []Item `json:"items"`
}

// mode is how much of a node reaches the output.
type mode uint8

const (
	modeNone   mode = iota
	modeHandle      // only used through pointers
	modeBlob        // filtered but needed by value
	modeFull
)

// Emitter turns one graph into an Output.
type Emitter struct {
	cfg config.Config
	g   *types.Graph
	rep diag.Reporter

	modes     map[types.TypeID]mode
	roots     []types.TypeID
	fns       []types.Function
	globals   []types.Global
	typeNames map[types.TypeID]string
	renamed   map[types.TypeID]bool
	elided    map[types.TypeID]bool
	enumConst map[types.TypeID][]string
	fnNames   map[string]string
	varNames  map[string]string
	typeNS    *namer
	valueNS   *namer

	placed    map[types.TypeID]bool
	visiting  map[types.TypeID]bool
	forwarded map[types.TypeID]bool
	items     []Item
}

// New creates an emitter over a graph that has been through layout and
// capability analysis.
func New(cfg config.Config, g *types.Graph) *Emitter {
	limit := cfg.MaxRenameAttempts
	if limit <= 0 {
		limit = config.DefaultMaxRenameAttempts
	}
	cfg.MaxRenameAttempts = limit
	return &Emitter{
		cfg:       cfg,
		g:         g,
		rep:       diag.NopReporter{},
		modes:     make(map[types.TypeID]mode),
		typeNames: make(map[types.TypeID]string),
		renamed:   make(map[types.TypeID]bool),
		elided:    make(map[types.TypeID]bool),
		enumConst: make(map[types.TypeID][]string),
		fnNames:   make(map[string]string),
		varNames:  make(map[string]string),
		typeNS:    newNamer(limit),
		valueNS:   newNamer(limit),
		placed:    make(map[types.TypeID]bool),
		visiting:  make(map[types.TypeID]bool),
		forwarded: make(map[types.TypeID]bool),
	}
}

// Emit produces the item list. Any error aborts the whole unit.
func (e *Emitter) Emit(ctx context.Context, rep diag.Reporter) (*Output, error) {
	if rep != nil {
		e.rep = rep
	}

	e.selectRoots()
	if err := e.assignNames(); err != nil {
		return nil, err
	}
	for _, id := range e.roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.place(id); err != nil {
			return nil, err
		}
	}
	for _, fn := range e.fns {
		for _, r := range e.signatureRefs(fn.Sig) {
			if err := e.place(r.To); err != nil {
				return nil, err
			}
		}
	}
	for _, v := range e.globals {
		for _, r := range e.g.RefsOfType(v.Type) {
			if err := e.place(r.To); err != nil {
				return nil, err
			}
		}
	}
	for _, fn := range e.fns {
		it, err := e.function(fn)
		if err != nil {
			return nil, err
		}
		e.items = append(e.items, it)
	}
	for _, v := range e.globals {
		it, err := e.global(v)
		if err != nil {
			return nil, err
		}
		e.items = append(e.items, it)
	}

	out := &Output{
		Target:     e.cfg.Target.Triple,
		LinkPrefix: e.cfg.LinkPrefix,
		Items:      e.items,
	}
	for _, l := range e.cfg.Links {
		out.Links = append(out.Links, Link{Name: l.Name, Kind: l.Kind.String()})
	}
	for i := range out.Items {
		trace.Note(ctx, "item", out.Items[i].Kind.String()+" "+out.Items[i].Name)
	}
	return out, nil
}

// selectRoots decides which declarations are emitted and with how much
// detail. Roots pull in everything they reference.
func (e *Emitter) selectRoots() {
	for _, id := range e.g.IDs() {
		n := e.g.MustNode(id)
		if !e.isRoot(n) {
			continue
		}
		if e.cfg.Filter.Denied(n.Name) {
			diag.ReportInfo(e.rep, diag.EmiFiltered, n.Loc, "denied by filter").About(n.Name).Emit()
			continue
		}
		e.roots = append(e.roots, id)
		e.mark(id, true)
	}

	if e.cfg.Emit.Functions {
		for _, fn := range e.g.Functions() {
			if !e.passes(fn.Name, fn.Loc) {
				continue
			}
			info, ok := e.g.FuncInfo(fn.Sig)
			if !ok {
				continue
			}
			if info.NoProto {
				diag.ReportWarning(e.rep, diag.EmiSkippedNoProto, fn.Loc,
					"function declared without a prototype; its parameters are unknown").
					About(fn.Name).
					Emit()
				continue
			}
			if info.Variadic && len(info.Params) == 0 {
				diag.ReportWarning(e.rep, diag.EmiUnsupportedShape, fn.Loc,
					"variadic function without named parameters cannot be declared").
					About(fn.Name).
					Emit()
				continue
			}
			if why := e.byValueBlocker(info.Result); why != "" {
				e.skipOpaqueUse(fn.Name, fn.Loc, why)
				continue
			}
			blocked := ""
			for _, p := range info.Params {
				if why := e.byValueBlocker(p.Type); why != "" {
					blocked = why
					break
				}
			}
			if blocked != "" {
				e.skipOpaqueUse(fn.Name, fn.Loc, blocked)
				continue
			}
			e.fns = append(e.fns, fn)
			for _, r := range e.signatureRefs(fn.Sig) {
				e.mark(r.To, r.ByValue)
			}
		}
	}

	if e.cfg.Emit.Globals {
		for _, v := range e.g.Globals() {
			if !e.passes(v.Name, v.Loc) {
				continue
			}
			if why := e.byValueBlocker(v.Type); why != "" {
				e.skipOpaqueUse(v.Name, v.Loc, why)
				continue
			}
			e.globals = append(e.globals, v)
			for _, r := range e.g.RefsOfType(v.Type) {
				e.mark(r.To, r.ByValue)
			}
		}
	}
}

func (e *Emitter) passes(name string, loc source.Loc) bool {
	return e.cfg.MatchesFile(loc.File) && e.cfg.Filter.Allowed(name) && !e.cfg.Filter.Denied(name)
}

func (e *Emitter) isRoot(n *types.Node) bool {
	switch n.Type.Kind {
	case types.KindRecord, types.KindTypedef:
		if !e.cfg.Emit.Types {
			return false
		}
	case types.KindEnum:
		if !e.cfg.Emit.Enums {
			return false
		}
	case types.KindOpaque:
		if !e.cfg.Emit.Types || n.Type.Opaque != types.OpaqueIncomplete {
			return false
		}
	default:
		return false
	}
	if n.Builtin && !e.cfg.Builtins {
		return false
	}
	return e.cfg.MatchesFile(n.Loc.File) && e.cfg.Filter.Allowed(n.Name)
}

func (e *Emitter) skipOpaqueUse(name string, loc source.Loc, why string) {
	diag.ReportWarning(e.rep, diag.EmiSkippedOpaqueUse, loc, "skipped: "+why).About(name).Emit()
}

// signatureRefs lists the nominal types a function declaration mentions.
// Parameters and the result are passed by value.
func (e *Emitter) signatureRefs(sig types.TypeID) []types.Ref {
	info, ok := e.g.FuncInfo(sig)
	if !ok {
		return nil
	}
	var out []types.Ref
	seen := make(map[types.TypeID]int)
	add := func(refs []types.Ref) {
		for _, r := range refs {
			if i, dup := seen[r.To]; dup {
				out[i].ByValue = out[i].ByValue || r.ByValue
				continue
			}
			seen[r.To] = len(out)
			out = append(out, r)
		}
	}
	add(e.g.RefsOfType(info.Result))
	for _, p := range info.Params {
		add(e.g.RefsOfType(p.Type))
	}
	return out
}

// byValueBlocker explains why a value of type id cannot cross the FFI
// boundary, or returns "".
func (e *Emitter) byValueBlocker(id types.TypeID) string {
	c := e.g.Canonical(id)
	tt, ok := e.g.Lookup(c)
	if !ok {
		return "type has no definition"
	}
	switch tt.Kind {
	case types.KindOpaque:
		return fmt.Sprintf("needs %s type %s by value", tt.Opaque, e.g.MustNode(c).Name)
	case types.KindRecord:
		if l, ok := e.g.LayoutOf(c); ok && l.Unsized != "" {
			return fmt.Sprintf("needs %s by value: %s", e.g.MustNode(c).Name, l.Unsized)
		}
	}
	return ""
}

// mark raises the emission mode of a nominal node and pulls in what a full
// body needs.
func (e *Emitter) mark(id types.TypeID, byValue bool) {
	n, ok := e.g.Node(id)
	if !ok || !n.Type.Kind.Nominal() {
		return
	}
	want := e.desired(id, n, byValue)
	if want <= e.modes[id] {
		return
	}
	e.modes[id] = want
	if want != modeFull {
		return
	}
	for _, r := range e.g.Refs(id) {
		e.mark(r.To, r.ByValue)
	}
}

func (e *Emitter) desired(id types.TypeID, n *types.Node, byValue bool) mode {
	switch n.Type.Kind {
	case types.KindOpaque:
		return modeHandle
	case types.KindRecord:
		if l, ok := e.g.LayoutOf(id); ok && l.Unsized != "" {
			return modeHandle
		}
	}
	if !e.cfg.Filter.Denied(n.Name) {
		return modeFull
	}
	if !byValue {
		return modeHandle
	}
	if _, ok := e.blobLayout(id); ok {
		return modeBlob
	}
	return modeFull
}

// blobLayout is the size and alignment a filtered type must keep.
func (e *Emitter) blobLayout(id types.TypeID) (*types.Layout, bool) {
	c := e.g.Canonical(id)
	tt, ok := e.g.Lookup(c)
	if !ok || (tt.Kind != types.KindRecord && tt.Kind != types.KindEnum) {
		return nil, false
	}
	l, ok := e.g.LayoutOf(c)
	if !ok || l.Unsized != "" {
		return nil, false
	}
	return l, true
}

// elidedTypedef reports whether a typedef only restates a tag type of the
// same name, as in `typedef struct Foo Foo;`.
func (e *Emitter) elidedTypedef(id types.TypeID, n *types.Node) (types.TypeID, bool) {
	info, ok := e.g.TypedefInfo(id)
	if !ok {
		return types.NoTypeID, false
	}
	target, ok := e.g.Node(info.Target)
	if !ok || target.Name != n.Name {
		return types.NoTypeID, false
	}
	switch target.Type.Kind {
	case types.KindRecord, types.KindEnum, types.KindOpaque:
		return info.Target, true
	}
	return types.NoTypeID, false
}

// assignNames fixes every Rust identifier before any text is rendered, in
// graph order so that renames are deterministic.
func (e *Emitter) assignNames() error {
	var typedefs []types.TypeID
	for _, id := range e.g.IDs() {
		if e.modes[id] == modeNone {
			continue
		}
		n := e.g.MustNode(id)
		if n.Type.Kind == types.KindTypedef {
			typedefs = append(typedefs, id)
			continue
		}
		if err := e.claimType(id, n); err != nil {
			return err
		}
	}
	for _, id := range typedefs {
		n := e.g.MustNode(id)
		if target, ok := e.elidedTypedef(id, n); ok {
			if name, named := e.typeNames[target]; named {
				e.typeNames[id] = name
				e.elided[id] = true
				continue
			}
		}
		if err := e.claimType(id, n); err != nil {
			return err
		}
	}

	if e.cfg.EnumEmission == config.EnumConstants {
		for _, id := range e.g.IDs() {
			if e.modes[id] != modeFull {
				continue
			}
			info, ok := e.g.EnumInfo(id)
			if !ok || len(info.Variants) == 0 {
				continue
			}
			if err := e.claimEnumConstants(id, info); err != nil {
				return err
			}
		}
	} else {
		// Enums without variants fall back to constants form.
		for _, id := range e.g.IDs() {
			if info, ok := e.g.EnumInfo(id); ok && e.modes[id] == modeFull && len(info.Variants) == 0 {
				e.enumConst[id] = nil
			}
		}
	}

	for _, fn := range e.fns {
		name, ok := e.valueNS.claim(fn.Name)
		if !ok {
			return e.collision(fn.Name, fn.Loc)
		}
		e.fnNames[fn.Name] = name
	}
	for _, v := range e.globals {
		name, ok := e.valueNS.claim(v.Name)
		if !ok {
			return e.collision(v.Name, v.Loc)
		}
		e.varNames[v.Name] = name
	}
	return nil
}

func (e *Emitter) claimType(id types.TypeID, n *types.Node) error {
	name, ok := e.typeNS.claim(n.Name)
	if !ok {
		return e.collision(n.Name, n.Loc)
	}
	e.typeNames[id] = name
	if name != n.Name {
		e.renamed[id] = true
		diag.ReportInfo(e.rep, diag.EmiRenamed, n.Loc, fmt.Sprintf("emitted as %s", name)).About(n.Name).Emit()
	}
	return nil
}

func (e *Emitter) claimEnumConstants(id types.TypeID, info *types.EnumInfo) error {
	names := make([]string, len(info.Variants))
	for i, v := range info.Variants {
		name, ok := e.valueNS.claim(e.typeNames[id] + "_" + v.Name)
		if !ok {
			return e.collision(v.Name, v.Loc)
		}
		names[i] = name
	}
	e.enumConst[id] = names
	return nil
}

func (e *Emitter) collision(name string, loc source.Loc) error {
	return &EmitError{
		Kind: EmitErrNameCollision, Name: name, Loc: loc,
		Msg: fmt.Sprintf("no free identifier after %d renames", e.cfg.MaxRenameAttempts),
	}
}

// place appends id after everything it depends on. Re-entering a node that
// is still being placed means a pointer cycle; the node gets a forward item.
func (e *Emitter) place(id types.TypeID) error {
	if e.placed[id] || e.modes[id] == modeNone {
		return nil
	}
	if e.visiting[id] {
		if !e.forwarded[id] {
			e.forwarded[id] = true
			n := e.g.MustNode(id)
			e.items = append(e.items, Item{Kind: ItemForward, Name: e.typeNames[id], CName: n.Name, Loc: locString(n.Loc)})
		}
		return nil
	}
	e.visiting[id] = true
	if e.modes[id] == modeFull {
		for _, r := range e.g.Refs(id) {
			if err := e.place(r.To); err != nil {
				return err
			}
		}
	}
	delete(e.visiting, id)
	e.placed[id] = true

	it, ok, err := e.render(id)
	if err != nil {
		return err
	}
	if ok {
		e.items = append(e.items, it)
	}
	return nil
}

func (e *Emitter) render(id types.TypeID) (Item, bool, error) {
	n := e.g.MustNode(id)
	switch e.modes[id] {
	case modeHandle:
		return e.handle(id, n), true, nil
	case modeBlob:
		return e.blob(id, n), true, nil
	}
	switch n.Type.Kind {
	case types.KindRecord:
		it, err := e.record(id, n)
		return it, err == nil, err
	case types.KindEnum:
		it, err := e.enum(id, n)
		return it, err == nil, err
	case types.KindTypedef:
		if e.elided[id] {
			return Item{}, false, nil
		}
		it, err := e.typedef(id, n)
		return it, err == nil, err
	case types.KindOpaque:
		return e.handle(id, n), true, nil
	default:
		return Item{}, false, nil
	}
}

func locString(l source.Loc) string {
	if l.IsZero() {
		return ""
	}
	return l.String()
}
