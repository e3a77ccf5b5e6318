// Package layout computes the size, alignment, field offsets, padding and
// bitfield storage units of every record and the representation of every
// enum in a types.Graph, for one target ABI.
package layout

import (
	"context"

	"ffigen/internal/config"
	"ffigen/internal/diag"
	"ffigen/internal/target"
	"ffigen/internal/trace"
	"ffigen/internal/types"
)

// LayoutEngine computes memory layout for types.
type LayoutEngine struct {
	Target target.Target
	Graph  *types.Graph

	// EnumRepr and EnumOverride select enum representations.
	EnumRepr     config.EnumRepr
	EnumOverride types.PrimKind

	cache map[types.TypeID]cacheEntry
}

type cacheEntry struct {
	Layout *types.Layout
	Err    *LayoutError
}

// New creates a new LayoutEngine for the configured target.
func New(cfg config.Config, g *types.Graph) *LayoutEngine {
	return &LayoutEngine{
		Target:       cfg.Target,
		Graph:        g,
		EnumRepr:     cfg.EnumRepr,
		EnumOverride: cfg.EnumReprOverride,
		cache:        make(map[types.TypeID]cacheEntry, g.Len()),
	}
}

type layoutState struct {
	stack []types.TypeID
	index map[types.TypeID]int
}

func newLayoutState() *layoutState {
	return &layoutState{
		stack: nil,
		index: make(map[types.TypeID]int, 32),
	}
}

// Run lays out every record, enum and typedef of the graph and attaches the
// result to its node. The first fatal error stops the run. Records that need
// an incomplete type by value are marked unsized and reported to rep.
func (e *LayoutEngine) Run(ctx context.Context, rep diag.Reporter) error {
	if rep == nil {
		rep = diag.NopReporter{}
	}
	for _, id := range e.Graph.IDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := e.Graph.MustNode(id)
		switch n.Type.Kind {
		case types.KindRecord, types.KindEnum, types.KindTypedef:
		default:
			continue
		}
		l, err := e.LayoutOf(id)
		if err != nil {
			return err
		}
		e.Graph.SetLayout(id, l)
		if n.Type.Kind == types.KindTypedef {
			continue
		}
		if l.Unsized != "" {
			diag.ReportWarning(rep, diag.LayUnsized, n.Loc, l.Unsized).About(n.Name).Emit()
			trace.Note(ctx, "unsized", n.Name)
		}
		if l.Unsupported != "" {
			trace.Note(ctx, "unsupported", n.Name)
		}
	}
	return nil
}

// LayoutOf computes and caches the layout of a type.
func (e *LayoutEngine) LayoutOf(t types.TypeID) (*types.Layout, error) {
	if e == nil {
		return &types.Layout{Size: 0, Align: 1}, nil
	}
	if e.cache == nil {
		e.cache = make(map[types.TypeID]cacheEntry)
	}
	l, err := e.layoutOf(t, newLayoutState())
	if err != nil {
		return l, err
	}
	return l, nil
}

func (e *LayoutEngine) layoutOf(t types.TypeID, state *layoutState) (*types.Layout, *LayoutError) {
	if state == nil {
		state = newLayoutState()
	}
	canon := e.Graph.Canonical(t)
	if canon == types.NoTypeID {
		return unsized("typedef refers to itself"), nil
	}
	if cached, ok := e.cache[canon]; ok {
		return cached.Layout, cached.Err
	}

	if idx, ok := state.index[canon]; ok {
		cycle := make([]string, 0, len(state.stack)-idx+1)
		for _, id := range state.stack[idx:] {
			cycle = append(cycle, e.Graph.MustNode(id).Name)
		}
		cycle = append(cycle, e.Graph.MustNode(canon).Name)
		n := e.Graph.MustNode(canon)
		err := &LayoutError{
			Kind:  LayoutErrRecursiveValue,
			Type:  canon,
			Name:  n.Name,
			Loc:   n.Loc,
			Cycle: cycle,
		}
		return &types.Layout{Size: 0, Align: 1}, err
	}

	state.index[canon] = len(state.stack)
	state.stack = append(state.stack, canon)
	l, err := e.computeLayout(canon, state)
	state.stack = state.stack[:len(state.stack)-1]
	delete(state.index, canon)

	e.cache[canon] = cacheEntry{Layout: l, Err: err}
	return l, err
}

// SizeOf returns the size of a type in bytes.
func (e *LayoutEngine) SizeOf(t types.TypeID) (uint64, error) {
	l, err := e.LayoutOf(t)
	return l.Size, err
}

// AlignOf returns the alignment requirement of a type in bytes.
func (e *LayoutEngine) AlignOf(t types.TypeID) (uint64, error) {
	l, err := e.LayoutOf(t)
	return l.Align, err
}

// FieldOffset returns the byte offset of a record member.
func (e *LayoutEngine) FieldOffset(record types.TypeID, fieldIdx int) (uint64, error) {
	l, err := e.LayoutOf(record)
	if err != nil {
		return 0, err
	}
	if fieldIdx < 0 || fieldIdx >= len(l.Fields) {
		return 0, nil
	}
	return l.Fields[fieldIdx].Offset, nil
}
