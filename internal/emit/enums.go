package emit

import (
	"fmt"
	"strconv"
	"strings"

	"ffigen/internal/types"
)

// reprName is the fixed-width integer an enum is stored as.
func (e *Emitter) reprName(l *types.Layout) string {
	if l.Repr == types.PrimBool {
		return "u8"
	}
	return intName(l.Size, e.cfg.Target.Signed(l.Repr))
}

func variantValue(v types.Variant) string {
	if v.Unsigned {
		return strconv.FormatUint(uint64(v.Value), 10)
	}
	return strconv.FormatInt(v.Value, 10)
}

func (e *Emitter) enum(id types.TypeID, n *types.Node) (Item, error) {
	info, ok := e.g.EnumInfo(id)
	if !ok {
		return e.handle(id, n), nil
	}
	l, ok := e.g.LayoutOf(id)
	if !ok || l.Repr == types.PrimInvalid {
		return Item{}, fmt.Errorf("enum %s has no representation", n.Name)
	}
	if consts, ok := e.enumConst[id]; ok {
		return e.enumConstants(id, n, info, l, consts), nil
	}

	name := e.typeNames[id]
	repr := e.reprName(l)
	caps, _ := e.g.CapsOf(id)
	derives := deriveList(caps)
	derives = append(derives, "PartialEq", "Eq", "Hash")

	variants := newNamer(e.cfg.MaxRenameAttempts)
	firstOf := make(map[string]string)
	var body, aliases strings.Builder
	defaultSet := false
	for _, v := range info.Variants {
		vname, ok := variants.claim(v.Name)
		if !ok {
			return Item{}, e.collision(n.Name+"::"+v.Name, v.Loc)
		}
		val := variantValue(v)
		if first, dup := firstOf[val]; dup {
			// Rust discriminants must be unique; later spellings of a
			// value become associated constants.
			fmt.Fprintf(&aliases, "    pub const %s: %s = %s::%s;\n", vname, name, name, first)
			continue
		}
		firstOf[val] = vname
		if val == "0" && caps.Default == types.CapDerive && !defaultSet {
			body.WriteString("    #[default]\n")
			defaultSet = true
		}
		fmt.Fprintf(&body, "    %s = %s,\n", vname, val)
	}
	if defaultSet {
		derives = append(derives, "Default")
	}

	var sb strings.Builder
	if e.renamed[id] {
		fmt.Fprintf(&sb, "#[doc(alias = %q)]\n", n.Name)
	}
	fmt.Fprintf(&sb, "#[repr(%s)]\n", repr)
	fmt.Fprintf(&sb, "#[derive(%s)]\n", strings.Join(derives, ", "))
	fmt.Fprintf(&sb, "pub enum %s {\n%s}\n", name, body.String())
	if aliases.Len() > 0 {
		fmt.Fprintf(&sb, "impl %s {\n%s}\n", name, aliases.String())
	}
	return Item{
		Kind: ItemEnum, Name: name, CName: n.Name, Renamed: e.renamed[id],
		Loc: locString(n.Loc), Size: l.Size, Align: l.Align, Repr: repr,
		Derives: derives, Text: sb.String(),
	}, nil
}

func (e *Emitter) enumConstants(id types.TypeID, n *types.Node, info *types.EnumInfo, l *types.Layout, consts []string) Item {
	name := e.typeNames[id]
	ty := e.primType(l.Repr)
	if l.Repr == types.PrimBool {
		ty = "u8"
	}
	var sb strings.Builder
	if e.renamed[id] {
		fmt.Fprintf(&sb, "#[doc(alias = %q)]\n", n.Name)
	}
	fmt.Fprintf(&sb, "pub type %s = %s;\n", name, ty)
	for i, v := range info.Variants {
		if i >= len(consts) {
			break
		}
		fmt.Fprintf(&sb, "pub const %s: %s = %s;\n", consts[i], name, variantValue(v))
	}
	return Item{
		Kind: ItemConstants, Name: name, CName: n.Name, Renamed: e.renamed[id],
		Loc: locString(n.Loc), Size: l.Size, Align: l.Align, Repr: ty, Type: ty,
		Text: sb.String(),
	}
}
