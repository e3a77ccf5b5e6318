package emit

import (
	"fmt"
	"slices"
	"strings"

	"ffigen/internal/target"
	"ffigen/internal/types"
)

// slot is one physical member of an emitted struct, in offset order.
type slot struct {
	offset uint64
	rank   int // zero-sized members sort before padding at the same offset
	field  int // index into RecordInfo.Fields, or -1
	unit   int // index into Layout.Units, or -1
	pad    uint64
}

func (e *Emitter) record(id types.TypeID, n *types.Node) (Item, error) {
	info, ok := e.g.RecordInfo(id)
	if !ok {
		return e.handle(id, n), nil
	}
	l, ok := e.g.LayoutOf(id)
	if !ok {
		return Item{}, fmt.Errorf("record %s has no layout", n.Name)
	}
	at := site{name: n.Name, loc: n.Loc}
	if l.Unsupported != "" {
		return Item{}, unsupported(n.Name, n.Loc, "%s", l.Unsupported)
	}
	if info.Packed && info.AlignAttr > 1 {
		return Item{}, unsupported(n.Name, n.Loc, "packed record with aligned(%d) has no Rust form", info.AlignAttr)
	}

	name := e.typeNames[id]
	kind := ItemStruct
	keyword := "struct"
	if info.Kind == types.RecordUnion {
		kind = ItemUnion
		keyword = "union"
	}
	it := Item{
		Kind: kind, Name: name, CName: n.Name, Renamed: e.renamed[id],
		Loc: locString(n.Loc), Size: l.Size, Align: l.Align,
	}

	fieldNS := newNamer(e.cfg.MaxRenameAttempts)
	names := make([]string, len(info.Fields))
	anon := 0
	for i, f := range info.Fields {
		if f.Bitfield {
			continue
		}
		cname := f.Name
		if cname == "" {
			anon++
			cname = fmt.Sprintf("__anon%d", anon)
		}
		fname, ok := fieldNS.claim(cname)
		if !ok {
			return Item{}, e.collision(n.Name+"."+cname, f.Loc)
		}
		names[i] = fname
	}
	unitNames := make([]string, len(l.Units))
	for k := range l.Units {
		uname, ok := fieldNS.claim(fmt.Sprintf("_bitfield_%d", k+1))
		if !ok {
			return Item{}, e.collision(n.Name, n.Loc)
		}
		unitNames[k] = uname
	}

	slots := e.slots(info, l)
	var body strings.Builder
	natural := uint64(1)
	pads := 0
	for _, s := range slots {
		switch {
		case s.field >= 0:
			f := info.Fields[s.field]
			fl := l.Fields[s.field]
			var ty string
			var err error
			if fl.Flexible {
				ty, err = e.flexibleType(f.Type, at)
			} else {
				ty, err = e.rustType(f.Type, at)
			}
			if err != nil {
				return Item{}, err
			}
			fmt.Fprintf(&body, "    pub %s: %s,\n", names[s.field], ty)
			natural = max(natural, fl.Align)
			it.Fields = append(it.Fields, Field{Name: names[s.field], Type: ty, Offset: fl.Offset, Size: fl.Size})
		case s.unit >= 0:
			u := l.Units[s.unit]
			ty := unitType(u)
			fmt.Fprintf(&body, "    pub %s: %s,\n", unitNames[s.unit], ty)
			if u.Prim != types.PrimInvalid && !info.Packed {
				if pl, ok := e.cfg.Target.Prim(u.Prim); ok {
					natural = max(natural, pl.Align)
				}
			}
			it.Fields = append(it.Fields, Field{Name: unitNames[s.unit], Type: ty, Offset: u.Offset, Size: u.Size})
		default:
			pname, ok := fieldNS.claim(fmt.Sprintf("_pad%d", pads))
			if !ok {
				return Item{}, e.collision(n.Name, n.Loc)
			}
			pads++
			ty := fmt.Sprintf("[u8; %d]", s.pad)
			fmt.Fprintf(&body, "    pub %s: %s,\n", pname, ty)
			it.Fields = append(it.Fields, Field{Name: pname, Type: ty, Offset: s.offset, Size: s.pad})
		}
	}
	for i, f := range info.Fields {
		fl := l.Fields[i]
		if !f.Bitfield || fl.Unit < 0 || f.Name == "" {
			continue
		}
		it.Fields = append(it.Fields, Field{
			Name: f.Name, Type: e.g.Describe(f.Type), Offset: fl.Offset, Size: fl.Size,
			BitOffset: fl.BitOffset, BitWidth: fl.BitWidth, Unit: unitNames[fl.Unit],
		})
	}

	caps, _ := e.g.CapsOf(id)
	it.Derives = deriveList(caps)

	var sb strings.Builder
	if it.Renamed {
		fmt.Fprintf(&sb, "#[doc(alias = %q)]\n", n.Name)
	}
	switch {
	case info.Packed:
		sb.WriteString("#[repr(C, packed)]\n")
	case l.Align > natural:
		fmt.Fprintf(&sb, "#[repr(C, align(%d))]\n", l.Align)
	default:
		sb.WriteString("#[repr(C)]\n")
	}
	if len(it.Derives) > 0 {
		fmt.Fprintf(&sb, "#[derive(%s)]\n", strings.Join(it.Derives, ", "))
	}
	fmt.Fprintf(&sb, "pub %s %s {\n%s}\n", keyword, name, body.String())

	accessors, err := e.bitfieldAccessors(n, info, l, unitNames)
	if err != nil {
		return Item{}, err
	}
	if accessors != "" {
		fmt.Fprintf(&sb, "impl %s {\n%s}\n", name, accessors)
	}
	e.manualImpls(&sb, name, caps, info, l, names)
	if e.cfg.Emit.LayoutTests {
		e.layoutAsserts(&sb, name, info, l, slots, names, unitNames)
	}
	it.Text = sb.String()
	return it, nil
}

// slots orders the members, storage units and padding of a record. Unions
// list their members in declaration order and carry no padding fields.
func (e *Emitter) slots(info *types.RecordInfo, l *types.Layout) []slot {
	var out []slot
	if info.Kind == types.RecordUnion {
		seen := make(map[int]bool)
		for i, f := range info.Fields {
			fl := l.Fields[i]
			if !f.Bitfield {
				out = append(out, slot{field: i, unit: -1})
				continue
			}
			if fl.Unit >= 0 && !seen[fl.Unit] {
				seen[fl.Unit] = true
				out = append(out, slot{field: -1, unit: fl.Unit})
			}
		}
		return out
	}

	var flexAt []uint64
	for i, f := range info.Fields {
		if f.Bitfield {
			continue
		}
		fl := l.Fields[i]
		rank := 1
		if fl.Size == 0 {
			rank = 0
			flexAt = append(flexAt, fl.Offset)
		}
		out = append(out, slot{offset: fl.Offset, rank: rank, field: i, unit: -1})
	}
	for k, u := range l.Units {
		out = append(out, slot{offset: u.Offset, rank: 1, field: -1, unit: k})
	}
	for _, p := range l.Padding {
		// A zero-sized member inside a padding run splits it so that the
		// member keeps its offset.
		start := p.Offset
		for _, at := range flexAt {
			if at > start && at < p.End() {
				out = append(out, slot{offset: start, rank: 1, field: -1, unit: -1, pad: at - start})
				start = at
			}
		}
		out = append(out, slot{offset: start, rank: 1, field: -1, unit: -1, pad: p.End() - start})
	}
	slices.SortStableFunc(out, func(a, b slot) int {
		switch {
		case a.offset != b.offset:
			if a.offset < b.offset {
				return -1
			}
			return 1
		default:
			return a.rank - b.rank
		}
	})
	return out
}

func unitType(u types.StorageUnit) string {
	if u.Prim == types.PrimInvalid {
		return fmt.Sprintf("[u8; %d]", u.Size)
	}
	return intName(u.Size, false)
}

func deriveList(caps types.CapabilityFlags) []string {
	var out []string
	if caps.Copy == types.CapDerive {
		out = append(out, "Copy", "Clone")
	}
	if caps.Debug == types.CapDerive {
		out = append(out, "Debug")
	}
	return out
}

// bitfieldValue returns the primitive a bitfield's accessors traffic in.
func (e *Emitter) bitfieldValue(id types.TypeID) types.PrimKind {
	c := e.g.Canonical(id)
	tt, ok := e.g.Lookup(c)
	if !ok {
		return types.PrimInvalid
	}
	switch tt.Kind {
	case types.KindPrimitive:
		return tt.Prim
	case types.KindEnum:
		if l, ok := e.g.LayoutOf(c); ok {
			return l.Repr
		}
	}
	return types.PrimInvalid
}

func (e *Emitter) bitfieldAccessors(n *types.Node, info *types.RecordInfo, l *types.Layout, unitNames []string) (string, error) {
	var sb strings.Builder
	methods := newNamer(e.cfg.MaxRenameAttempts)
	for i, f := range info.Fields {
		fl := l.Fields[i]
		if !f.Bitfield || fl.Unit < 0 || f.Name == "" {
			continue
		}
		prim := e.bitfieldValue(f.Type)
		if prim == types.PrimInvalid {
			return "", unsupported(n.Name, f.Loc, "bitfield %s has no integer type", f.Name)
		}
		if fl.BitWidth > 64 {
			return "", unsupported(n.Name, f.Loc, "bitfield %s is %d bits wide", f.Name, fl.BitWidth)
		}
		getter, ok := methods.claim(f.Name)
		if !ok {
			return "", e.collision(n.Name+"."+f.Name, f.Loc)
		}
		setter, ok := methods.claim("set_" + f.Name)
		if !ok {
			return "", e.collision(n.Name+".set_"+f.Name, f.Loc)
		}
		acc := bitAccess{
			unit:   unitNames[fl.Unit],
			u:      l.Units[fl.Unit],
			shift:  uint64(fl.BitOffset),
			width:  uint64(fl.BitWidth),
			ty:     e.primType(prim),
			isBool: prim == types.PrimBool,
			signed: prim != types.PrimBool && e.cfg.Target.Signed(prim),
			msb:    e.cfg.Target.BitfieldOrder == target.MSBFirst,
		}
		fmt.Fprintf(&sb, "    #[inline]\n    pub fn %s(&self) -> %s {\n%s    }\n", getter, acc.ty, acc.getter())
		fmt.Fprintf(&sb, "    #[inline]\n    pub fn %s(&mut self, val: %s) {\n%s    }\n", setter, acc.ty, acc.setter())
	}
	return sb.String(), nil
}

// bitAccess generates the body of one bitfield getter and setter.
type bitAccess struct {
	unit   string
	u      types.StorageUnit
	shift  uint64
	width  uint64
	ty     string
	isBool bool
	signed bool
	msb    bool
}

func (a bitAccess) lowMask() uint64 {
	if a.width >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<a.width - 1
}

func (a bitAccess) finish(v string, bits uint64) string {
	switch {
	case a.isBool:
		return fmt.Sprintf("%s != 0", v)
	case a.signed:
		ity := intName(bits/8, true)
		return fmt.Sprintf("(((%s << %d) as %s) >> %d) as %s", v, bits-a.width, ity, bits-a.width, a.ty)
	default:
		return fmt.Sprintf("%s as %s", v, a.ty)
	}
}

func (a bitAccess) getter() string {
	if a.u.Prim != types.PrimInvalid {
		ut := intName(a.u.Size, false)
		bits := a.u.Size * 8
		if a.signed {
			ity := intName(a.u.Size, true)
			return fmt.Sprintf("        (((self.%s << %d) as %s) >> %d) as %s\n",
				a.unit, bits-a.shift-a.width, ity, bits-a.width, a.ty)
		}
		v := fmt.Sprintf("((self.%s >> %d) & 0x%x%s)", a.unit, a.shift, a.lowMask(), ut)
		return "        " + a.finish(v, bits) + "\n"
	}
	var sb strings.Builder
	sb.WriteString("        let mut v: u64 = 0;\n")
	fmt.Fprintf(&sb, "        for i in 0..%du32 {\n", a.width)
	fmt.Fprintf(&sb, "            let bit = %d + i;\n", a.shift)
	fmt.Fprintf(&sb, "            if (self.%s[%s] >> (bit %% 8)) & 1 != 0 {\n", a.unit, a.byteIndex())
	sb.WriteString("                v |= 1u64 << i;\n")
	sb.WriteString("            }\n")
	sb.WriteString("        }\n")
	fmt.Fprintf(&sb, "        %s\n", a.finish("v", 64))
	return sb.String()
}

func (a bitAccess) byteIndex() string {
	if a.msb {
		return fmt.Sprintf("(%d - bit / 8) as usize", a.u.Size-1)
	}
	return "(bit / 8) as usize"
}

func (a bitAccess) setter() string {
	if a.u.Prim != types.PrimInvalid {
		ut := intName(a.u.Size, false)
		mask := a.lowMask() << a.shift
		var sb strings.Builder
		fmt.Fprintf(&sb, "        let mask: %s = 0x%x;\n", ut, mask)
		fmt.Fprintf(&sb, "        self.%s = (self.%s & !mask) | (((val as %s) << %d) & mask);\n", a.unit, a.unit, ut, a.shift)
		return sb.String()
	}
	var sb strings.Builder
	sb.WriteString("        let v = val as u64;\n")
	fmt.Fprintf(&sb, "        for i in 0..%du32 {\n", a.width)
	fmt.Fprintf(&sb, "            let bit = %d + i;\n", a.shift)
	fmt.Fprintf(&sb, "            let byte = %s;\n", a.byteIndex())
	sb.WriteString("            let m = 1u8 << (bit % 8);\n")
	sb.WriteString("            if (v >> i) & 1 != 0 {\n")
	fmt.Fprintf(&sb, "                self.%s[byte] |= m;\n", a.unit)
	sb.WriteString("            } else {\n")
	fmt.Fprintf(&sb, "                self.%s[byte] &= !m;\n", a.unit)
	sb.WriteString("            }\n")
	sb.WriteString("        }\n")
	return sb.String()
}

// manualImpls writes the trait impls capability analysis asked for by hand.
func (e *Emitter) manualImpls(sb *strings.Builder, name string, caps types.CapabilityFlags, info *types.RecordInfo, l *types.Layout, names []string) {
	if caps.Copy == types.CapManual {
		fmt.Fprintf(sb, "impl Clone for %s {\n    fn clone(&self) -> Self {\n        *self\n    }\n}\n", name)
		fmt.Fprintf(sb, "impl Copy for %s {}\n", name)
	}
	if caps.Debug == types.CapManual {
		fmt.Fprintf(sb, "impl ::std::fmt::Debug for %s {\n", name)
		sb.WriteString("    fn fmt(&self, f: &mut ::std::fmt::Formatter<'_>) -> ::std::fmt::Result {\n")
		fmt.Fprintf(sb, "        f.debug_struct(%q)", name)
		for i, f := range info.Fields {
			if f.Bitfield || l.Fields[i].Flexible || e.isLargeArray(f.Type) {
				continue
			}
			if e.capsOfField(f.Type).Debug != types.CapDerive {
				continue
			}
			if info.Packed {
				fmt.Fprintf(sb, "\n            .field(%q, &{ self.%s })", names[i], names[i])
			} else {
				fmt.Fprintf(sb, "\n            .field(%q, &self.%s)", names[i], names[i])
			}
		}
		sb.WriteString("\n            .finish_non_exhaustive()\n    }\n}\n")
	}
	if caps.Default != types.CapNone {
		fmt.Fprintf(sb, "impl Default for %s {\n    fn default() -> Self {\n        unsafe { ::std::mem::zeroed() }\n    }\n}\n", name)
	}
}

func (e *Emitter) isLargeArray(id types.TypeID) bool {
	limit := e.cfg.DeriveArrayLimit
	if limit == 0 {
		return false
	}
	_, count := e.g.ArrayBase(id)
	tt, ok := e.g.Lookup(e.g.Canonical(id))
	return ok && tt.Kind == types.KindArray && count > limit
}

// capsOfField reads the flags of a member type without re-running analysis:
// nominal types carry their own, everything else is derivable unless it is
// a function pointer.
func (e *Emitter) capsOfField(id types.TypeID) types.CapabilityFlags {
	c := e.g.Canonical(id)
	if f, ok := e.g.CapsOf(c); ok {
		return f
	}
	if base, _ := e.g.ArrayBase(c); base != c {
		return e.capsOfField(base)
	}
	if e.g.IsFuncPointer(c) {
		return types.CapabilityFlags{Copy: types.CapDerive, Debug: types.CapNone, Default: types.CapDerive}
	}
	return types.AllDerive()
}

func (e *Emitter) layoutAsserts(sb *strings.Builder, name string, info *types.RecordInfo, l *types.Layout, slots []slot, names, unitNames []string) {
	sb.WriteString("#[allow(clippy::unnecessary_operation, clippy::identity_op)]\n")
	sb.WriteString("const _: () = {\n")
	fmt.Fprintf(sb, "    [\"Size of %s\"][::std::mem::size_of::<%s>() - %dusize];\n", name, name, l.Size)
	fmt.Fprintf(sb, "    [\"Alignment of %s\"][::std::mem::align_of::<%s>() - %dusize];\n", name, name, l.Align)
	if info.Kind == types.RecordStruct {
		for _, s := range slots {
			switch {
			case s.field >= 0:
				fmt.Fprintf(sb, "    [\"Offset of field: %s::%s\"][::std::mem::offset_of!(%s, %s) - %dusize];\n",
					name, names[s.field], name, names[s.field], l.Fields[s.field].Offset)
			case s.unit >= 0:
				fmt.Fprintf(sb, "    [\"Offset of field: %s::%s\"][::std::mem::offset_of!(%s, %s) - %dusize];\n",
					name, unitNames[s.unit], name, unitNames[s.unit], l.Units[s.unit].Offset)
			}
		}
	}
	sb.WriteString("};\n")
}

// handle renders a type that is only ever used behind a pointer.
func (e *Emitter) handle(id types.TypeID, n *types.Node) Item {
	name := e.typeNames[id]
	why := "declared but never defined"
	switch {
	case n.Type.Kind == types.KindOpaque && n.Type.Opaque == types.OpaqueUnknown:
		why = "unresolved type admitted as opaque"
	case n.Type.Kind == types.KindRecord:
		if l, ok := e.g.LayoutOf(id); ok && l.Unsized != "" {
			why = "no size: " + l.Unsized
			e.skipOpaqueUse(n.Name, n.Loc, "body replaced by an opaque handle, "+l.Unsized)
		} else {
			why = "filtered"
		}
	case n.Type.Kind != types.KindOpaque:
		why = "filtered"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "/// Opaque handle: %s.\n", why)
	if e.renamed[id] {
		fmt.Fprintf(&sb, "#[doc(alias = %q)]\n", n.Name)
	}
	sb.WriteString("#[repr(C)]\n#[derive(Copy, Clone)]\n")
	fmt.Fprintf(&sb, "pub struct %s {\n    _unused: [u8; 0],\n}\n", name)
	return Item{
		Kind: ItemOpaque, Name: name, CName: n.Name, Renamed: e.renamed[id],
		Loc: locString(n.Loc), Derives: []string{"Copy", "Clone"}, Text: sb.String(),
	}
}

// blob renders a filtered type that is still needed by value: its bytes
// and alignment survive, its structure does not.
func (e *Emitter) blob(id types.TypeID, n *types.Node) Item {
	name := e.typeNames[id]
	l, _ := e.blobLayout(id)
	var sb strings.Builder
	fmt.Fprintf(&sb, "/// Opaque blob of %d bytes.\n", l.Size)
	if e.renamed[id] {
		fmt.Fprintf(&sb, "#[doc(alias = %q)]\n", n.Name)
	}
	if l.Align > 1 {
		fmt.Fprintf(&sb, "#[repr(C, align(%d))]\n", l.Align)
	} else {
		sb.WriteString("#[repr(C)]\n")
	}
	sb.WriteString("#[derive(Copy, Clone)]\n")
	fmt.Fprintf(&sb, "pub struct %s {\n    pub _blob: [u8; %d],\n}\n", name, l.Size)
	e.reportBlob(n, l.Size)
	return Item{
		Kind: ItemBlob, Name: name, CName: n.Name, Renamed: e.renamed[id],
		Loc: locString(n.Loc), Size: l.Size, Align: l.Align,
		Derives: []string{"Copy", "Clone"}, Text: sb.String(),
	}
}
