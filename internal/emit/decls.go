package emit

import (
	"fmt"
	"strings"

	"ffigen/internal/diag"
	"ffigen/internal/types"
)

func (e *Emitter) typedef(id types.TypeID, n *types.Node) (Item, error) {
	info, ok := e.g.TypedefInfo(id)
	if !ok {
		return Item{}, fmt.Errorf("typedef %s has no target", n.Name)
	}
	name := e.typeNames[id]
	var sb strings.Builder
	if e.isNoProtoFn(info.Target) {
		sb.WriteString("/// Function pointer declared without a prototype. Cast it to the real\n")
		sb.WriteString("/// signature before calling.\n")
		if e.renamed[id] {
			fmt.Fprintf(&sb, "#[doc(alias = %q)]\n", n.Name)
		}
		ty := "*const " + rawPrefix + "c_void"
		fmt.Fprintf(&sb, "pub type %s = %s;\n", name, ty)
		return Item{
			Kind: ItemStub, Name: name, CName: n.Name, Renamed: e.renamed[id],
			Loc: locString(n.Loc), Type: ty, Text: sb.String(),
		}, nil
	}
	ty, err := e.rustType(info.Target, site{name: n.Name, loc: n.Loc})
	if err != nil {
		return Item{}, err
	}
	if e.renamed[id] {
		fmt.Fprintf(&sb, "#[doc(alias = %q)]\n", n.Name)
	}
	fmt.Fprintf(&sb, "pub type %s = %s;\n", name, ty)
	return Item{
		Kind: ItemAlias, Name: name, CName: n.Name, Renamed: e.renamed[id],
		Loc: locString(n.Loc), Type: ty, Text: sb.String(),
	}, nil
}

// symbolAttrs writes the attributes that tie a Rust name to its C symbol.
func (e *Emitter) symbolAttrs(sb *strings.Builder, rust, cname string) {
	if rust != cname {
		fmt.Fprintf(sb, "#[doc(alias = %q)]\n", cname)
	}
	if e.cfg.LinkPrefix != "" || rust != cname {
		fmt.Fprintf(sb, "#[link_name = %q]\n", e.cfg.LinkPrefix+cname)
	}
}

func (e *Emitter) function(fn types.Function) (Item, error) {
	info, ok := e.g.FuncInfo(fn.Sig)
	if !ok {
		return Item{}, fmt.Errorf("function %s has no signature", fn.Name)
	}
	at := site{name: fn.Name, loc: fn.Loc}
	name := e.fnNames[fn.Name]
	params := newNamer(e.cfg.MaxRenameAttempts)
	args := make([]string, 0, len(info.Params)+1)
	for i, p := range info.Params {
		pname := p.Name
		if i < len(fn.ParamNames) {
			pname = fn.ParamNames[i]
		}
		if pname == "" {
			pname = fmt.Sprintf("arg%d", i)
		}
		ident, ok := params.claim(pname)
		if !ok {
			return Item{}, e.collision(fn.Name+"("+pname+")", fn.Loc)
		}
		ty, err := e.rustType(p.Type, at)
		if err != nil {
			return Item{}, err
		}
		args = append(args, ident+": "+ty)
	}
	if info.Variadic {
		args = append(args, "...")
	}
	ret, err := e.resultType(info.Result, at)
	if err != nil {
		return Item{}, err
	}
	sig := fmt.Sprintf("fn(%s)%s", strings.Join(args, ", "), ret)

	var sb strings.Builder
	e.symbolAttrs(&sb, name, fn.Name)
	fmt.Fprintf(&sb, "pub fn %s(%s)%s;\n", name, strings.Join(args, ", "), ret)
	return Item{
		Kind: ItemFunction, Name: name, CName: fn.Name, Renamed: name != fn.Name,
		Loc: locString(fn.Loc), Type: sig, Extern: true, Text: sb.String(),
	}, nil
}

func (e *Emitter) global(v types.Global) (Item, error) {
	name := e.varNames[v.Name]
	ty, err := e.rustType(v.Type, site{name: v.Name, loc: v.Loc})
	if err != nil {
		return Item{}, err
	}
	var sb strings.Builder
	e.symbolAttrs(&sb, name, v.Name)
	if v.Const {
		fmt.Fprintf(&sb, "pub static %s: %s;\n", name, ty)
	} else {
		fmt.Fprintf(&sb, "pub static mut %s: %s;\n", name, ty)
	}
	return Item{
		Kind: ItemGlobal, Name: name, CName: v.Name, Renamed: name != v.Name,
		Loc: locString(v.Loc), Type: ty, Extern: true, Text: sb.String(),
	}, nil
}

func (e *Emitter) reportBlob(n *types.Node, size uint64) {
	diag.ReportInfo(e.rep, diag.EmiOpaqueBlob, n.Loc,
		fmt.Sprintf("filtered type kept as a %d-byte blob", size)).
		About(n.Name).
		Emit()
}
