// Package capability decides which Rust traits each record and enum may
// derive: Copy/Clone, Debug and Default.
//
// Flags are a conjunction over members. Pointers are leaves: the pointee's
// flags never flow into the pointer, so cyclic graphs terminate.
package capability

import (
	"context"
	"fmt"

	"ffigen/internal/config"
	"ffigen/internal/diag"
	"ffigen/internal/trace"
	"ffigen/internal/types"
)

// Analyzer computes capability flags over one graph.
type Analyzer struct {
	Graph *types.Graph

	ArrayLimit   uint64
	DebugNever   bool
	IntConstants bool

	memo     map[types.TypeID]types.CapabilityFlags
	visiting map[types.TypeID]bool
}

// New creates an analyzer with the derive policy of cfg.
func New(cfg config.Config, g *types.Graph) *Analyzer {
	limit := cfg.DeriveArrayLimit
	if limit == 0 {
		limit = config.DefaultDeriveArrayLimit
	}
	return &Analyzer{
		Graph:        g,
		ArrayLimit:   limit,
		DebugNever:   cfg.DeriveDebug == config.DebugNever,
		IntConstants: cfg.EnumEmission == config.EnumConstants,
	}
}

// Run annotates every record, enum and opaque node. Running it again on an
// unchanged graph yields the same flags.
func (a *Analyzer) Run(ctx context.Context, rep diag.Reporter) error {
	if rep == nil {
		rep = diag.NopReporter{}
	}
	a.memo = make(map[types.TypeID]types.CapabilityFlags, a.Graph.Len())
	a.visiting = make(map[types.TypeID]bool)

	for _, id := range a.Graph.IDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := a.Graph.MustNode(id)
		switch n.Type.Kind {
		case types.KindRecord, types.KindEnum, types.KindOpaque:
		default:
			continue
		}
		flags := a.Of(id)
		a.Graph.SetCaps(id, flags)
		if n.Type.Kind != types.KindRecord {
			continue
		}
		if flags.Copy == types.CapManual || flags.Debug == types.CapManual {
			diag.ReportInfo(rep, diag.CapManualImpl, n.Loc,
				fmt.Sprintf("large array member: %s implemented by hand", manualTraits(flags))).
				About(n.Name).
				Emit()
		}
		if flags.Debug == types.CapNone && !a.DebugNever {
			diag.ReportInfo(rep, diag.CapDebugSuppressed, n.Loc, "no Debug impl: "+a.debugBlocker(id)).
				About(n.Name).
				Emit()
		}
		trace.Note(ctx, "caps", n.Name+" "+flags.String())
	}
	return nil
}

func manualTraits(f types.CapabilityFlags) string {
	switch {
	case f.Copy == types.CapManual && f.Debug == types.CapManual:
		return "Clone and Debug"
	case f.Copy == types.CapManual:
		return "Clone"
	default:
		return "Debug"
	}
}

// Of returns the flags of any type.
func (a *Analyzer) Of(id types.TypeID) types.CapabilityFlags {
	if a.memo == nil {
		a.memo = make(map[types.TypeID]types.CapabilityFlags)
		a.visiting = make(map[types.TypeID]bool)
	}
	if f, ok := a.memo[id]; ok {
		return f
	}
	if a.visiting[id] {
		return types.AllDerive()
	}
	a.visiting[id] = true
	f := a.compute(id)
	delete(a.visiting, id)
	if a.DebugNever {
		f.Debug = types.CapNone
	}
	a.memo[id] = f
	return f
}

func (a *Analyzer) compute(id types.TypeID) types.CapabilityFlags {
	n, ok := a.Graph.Node(id)
	if !ok {
		return none()
	}
	switch n.Type.Kind {
	case types.KindPrimitive:
		return types.AllDerive()

	case types.KindPointer:
		if a.Graph.IsFuncPointer(id) {
			// Option<fn> defaults to None but has nothing to print.
			return types.CapabilityFlags{Copy: types.CapDerive, Debug: types.CapNone, Default: types.CapDerive}
		}
		return types.CapabilityFlags{Copy: types.CapDerive, Debug: types.CapDerive, Default: types.CapManual}

	case types.KindArray:
		f := a.Of(n.Type.Elem)
		if n.Type.Len == types.ArrayFixed && n.Type.Count > a.ArrayLimit {
			f.Copy = types.Meet(f.Copy, types.CapManual)
			f.Debug = types.Meet(f.Debug, types.CapManual)
			f.Default = types.Meet(f.Default, types.CapManual)
		}
		return f

	case types.KindFunc:
		return none()

	case types.KindTypedef:
		info, ok := a.Graph.TypedefInfo(id)
		if !ok {
			return none()
		}
		return a.Of(info.Target)

	case types.KindEnum:
		if a.IntConstants {
			if l, ok := a.Graph.LayoutOf(id); ok && l.Repr != types.PrimInvalid {
				return a.Of(a.Graph.Intern(types.MakePrim(l.Repr)))
			}
		}
		return types.AllDerive()

	case types.KindOpaque:
		return types.CapabilityFlags{Copy: types.CapDerive, Debug: types.CapNone, Default: types.CapManual}

	case types.KindRecord:
		return a.record(id)

	default:
		return none()
	}
}

func (a *Analyzer) record(id types.TypeID) types.CapabilityFlags {
	if l, ok := a.Graph.LayoutOf(id); ok && l.Unsized != "" {
		return none()
	}
	info, ok := a.Graph.RecordInfo(id)
	if !ok {
		return none()
	}
	f := types.AllDerive()
	for _, field := range info.Fields {
		ff := a.Of(field.Type)
		if a.isUnknownOpaque(field.Type) {
			ff.Debug = types.CapNone
		}
		f = f.Meet(ff)
	}
	if info.Kind == types.RecordUnion {
		f.Debug = types.CapNone
		f.Default = types.Meet(f.Default, types.CapManual)
	}
	if l, ok := a.Graph.LayoutOf(id); ok && len(l.Padding) > 0 {
		// Padding arrays are plain bytes; only large ones matter.
		for _, p := range l.Padding {
			if p.Len > a.ArrayLimit {
				f.Copy = types.Meet(f.Copy, types.CapManual)
				f.Debug = types.Meet(f.Debug, types.CapManual)
			}
		}
	}
	return f
}

// debugBlocker names the first reason a record cannot print itself.
func (a *Analyzer) debugBlocker(id types.TypeID) string {
	if l, ok := a.Graph.LayoutOf(id); ok && l.Unsized != "" {
		return l.Unsized
	}
	info, ok := a.Graph.RecordInfo(id)
	if !ok {
		return "no body"
	}
	if info.Kind == types.RecordUnion {
		return "unions have no Debug"
	}
	for i, f := range info.Fields {
		if a.Of(f.Type).Debug != types.CapNone && !a.isUnknownOpaque(f.Type) {
			continue
		}
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		return fmt.Sprintf("field %s has type %s", name, a.Graph.Describe(f.Type))
	}
	return "no eligible fields"
}

func (a *Analyzer) isUnknownOpaque(id types.TypeID) bool {
	tt, ok := a.Graph.Lookup(a.Graph.Canonical(id))
	return ok && tt.Kind == types.KindOpaque && tt.Opaque == types.OpaqueUnknown
}

func none() types.CapabilityFlags {
	return types.CapabilityFlags{Copy: types.CapNone, Debug: types.CapNone, Default: types.CapNone}
}
