package testkit

import (
	"fmt"
	"slices"

	"fortio.org/safecast"

	"ffigen/internal/types"
)

// CheckLayout runs the layout soundness invariants on one record:
// 1) alignment is a power of two and size is a multiple of it
// 2) every member sits at a multiple of its alignment and ends inside the record
// 3) struct members and storage units never overlap
// 4) struct members, storage units and padding tile [0, size) exactly
// 5) every bitfield fits inside its storage unit
func CheckLayout(g *types.Graph, id types.TypeID) error {
	if g == nil {
		return fmt.Errorf("nil graph")
	}
	n, ok := g.Node(id)
	if !ok {
		return fmt.Errorf("type %d not found", id)
	}
	info, ok := g.RecordInfo(id)
	if !ok {
		return fmt.Errorf("%s is not a record", n.Name)
	}
	l, ok := g.LayoutOf(id)
	if !ok {
		return fmt.Errorf("%s has no layout", n.Name)
	}
	if l.Unsized != "" {
		return nil
	}
	if len(l.Fields) != len(info.Fields) {
		return fmt.Errorf("%s: %d field layouts for %d fields", n.Name, len(l.Fields), len(info.Fields))
	}

	// 1) alignment and size
	if l.Align == 0 || l.Align&(l.Align-1) != 0 {
		return fmt.Errorf("%s: alignment %d is not a power of two", n.Name, l.Align)
	}
	if l.Size%l.Align != 0 {
		return fmt.Errorf("%s: size %d is not a multiple of alignment %d", n.Name, l.Size, l.Align)
	}

	// 2) member placement; 5) bitfields inside their units
	for i, fl := range l.Fields {
		name := info.Fields[i].Name
		if fl.Bitfield {
			if fl.Unit < 0 {
				continue
			}
			if fl.Unit >= len(l.Units) {
				return fmt.Errorf("%s.%s: unit %d out of range", n.Name, name, fl.Unit)
			}
			u := l.Units[fl.Unit]
			shift, err := safecast.Conv[uint64](fl.BitOffset)
			if err != nil {
				return fmt.Errorf("%s.%s: bit offset overflow: %w", n.Name, name, err)
			}
			if shift+uint64(fl.BitWidth) > u.Size*8 {
				return fmt.Errorf("%s.%s: bits [%d, %d) exceed a %d-byte unit", n.Name, name, shift, shift+uint64(fl.BitWidth), u.Size)
			}
			continue
		}
		if fl.Align != 0 && fl.Offset%fl.Align != 0 {
			return fmt.Errorf("%s.%s: offset %d is not aligned to %d", n.Name, name, fl.Offset, fl.Align)
		}
		if fl.Offset+fl.Size > l.Size {
			return fmt.Errorf("%s.%s: ends at %d past size %d", n.Name, name, fl.Offset+fl.Size, l.Size)
		}
	}
	for k, u := range l.Units {
		if u.Offset+u.Size > l.Size {
			return fmt.Errorf("%s: unit %d ends at %d past size %d", n.Name, k, u.Offset+u.Size, l.Size)
		}
	}
	if info.Kind == types.RecordUnion {
		return nil
	}

	// 3) no overlap; 4) exact tiling
	type span struct {
		start, end uint64
		what       string
	}
	var spans []span
	for i, fl := range l.Fields {
		if fl.Bitfield || fl.Size == 0 {
			continue
		}
		spans = append(spans, span{fl.Offset, fl.Offset + fl.Size, "field " + info.Fields[i].Name})
	}
	for k, u := range l.Units {
		spans = append(spans, span{u.Offset, u.Offset + u.Size, fmt.Sprintf("unit %d", k)})
	}
	for _, p := range l.Padding {
		spans = append(spans, span{p.Offset, p.End(), "padding"})
	}
	slices.SortFunc(spans, func(a, b span) int {
		switch {
		case a.start < b.start:
			return -1
		case a.start > b.start:
			return 1
		default:
			return 0
		}
	})
	cursor := uint64(0)
	for _, s := range spans {
		if s.start < cursor {
			return fmt.Errorf("%s: %s at %d overlaps previous range ending at %d", n.Name, s.what, s.start, cursor)
		}
		if s.start > cursor {
			return fmt.Errorf("%s: bytes [%d, %d) are neither used nor padding", n.Name, cursor, s.start)
		}
		cursor = s.end
	}
	if cursor != l.Size {
		return fmt.Errorf("%s: ranges cover %d of %d bytes", n.Name, cursor, l.Size)
	}
	return nil
}

// CheckGraphLayouts runs CheckLayout on every record that has a layout.
func CheckGraphLayouts(g *types.Graph) error {
	for _, id := range g.IDs() {
		if _, ok := g.RecordInfo(id); !ok {
			continue
		}
		if _, ok := g.LayoutOf(id); !ok {
			continue
		}
		if err := CheckLayout(g, id); err != nil {
			return err
		}
	}
	return nil
}
