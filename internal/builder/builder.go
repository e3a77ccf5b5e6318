// Package builder turns a stream of parser declaration records into a
// types.Graph.
//
// Construction is placeholder-first: a reference to a type that has not been
// declared yet inserts a pending opaque node, and the declaration promotes it
// in place when it arrives. Cycles through pointers therefore never recurse.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io"

	"ffigen/internal/ast"
	"ffigen/internal/config"
	"ffigen/internal/diag"
	"ffigen/internal/source"
	"ffigen/internal/trace"
	"ffigen/internal/types"
)

type namespace uint8

const (
	nsOrdinary namespace = iota // typedef names
	nsTag                       // struct, union and enum tags
)

type nameKey struct {
	ns   namespace
	name string
}

// refSite remembers where a still-pending node was first referenced.
type refSite struct {
	name     string
	tag      string
	referrer string
	loc      source.Loc
}

// pendingSite is a use of an identified anonymous declaration that has not
// arrived yet. adopt marks a typedef that takes the declaration's name.
type pendingSite struct {
	id    types.TypeID
	site  string
	adopt bool
}

// Builder accumulates declarations of one translation unit.
type Builder struct {
	cfg    config.Config
	graph  *types.Graph
	rep    diag.Reporter
	tracer trace.Tracer
	span   uint64

	byID   map[string]types.TypeID
	byName map[nameKey]types.TypeID

	// Anonymous declarations delivered at top level with an ID wait here
	// until a use site or a typedef gives them a name.
	deferred   map[string]*ast.Decl
	deferOrder []string
	anonUses   map[string]int
	anonSites  map[string]types.TypeID
	usedNames  map[string]bool
	anonSeq    int
	skippedIDs map[string]string

	// References by ID alone that precede their declaration, one
	// placeholder per use site.
	pendingSites map[string][]pendingSite
	pendingOrder []string

	declared map[types.TypeID]bool
	defined  map[types.TypeID]bool
	refs     map[types.TypeID]refSite
}

// Option customises a Builder.
type Option func(*Builder)

// WithReporter routes non-fatal findings to r.
func WithReporter(r diag.Reporter) Option {
	return func(b *Builder) {
		if r != nil {
			b.rep = r
		}
	}
}

// WithTracer emits per-declaration events under parent.
func WithTracer(t trace.Tracer, parent uint64) Option {
	return func(b *Builder) {
		if t != nil {
			b.tracer = t
			b.span = parent
		}
	}
}

// New creates a builder for one unit.
func New(cfg config.Config, opts ...Option) *Builder {
	b := &Builder{
		cfg:        cfg,
		graph:      types.NewGraph(),
		rep:        diag.NopReporter{},
		tracer:     trace.Nop,
		byID:       make(map[string]types.TypeID, 64),
		byName:     make(map[nameKey]types.TypeID, 64),
		deferred:   make(map[string]*ast.Decl),
		anonUses:   make(map[string]int),
		anonSites:  make(map[string]types.TypeID),
		usedNames:  make(map[string]bool),
		skippedIDs: make(map[string]string),
		declared:   make(map[types.TypeID]bool, 64),
		defined:    make(map[types.TypeID]bool, 64),
		refs:       make(map[types.TypeID]refSite),

		pendingSites: make(map[string][]pendingSite),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Graph exposes the graph under construction.
func (b *Builder) Graph() *types.Graph { return b.graph }

// Build drains s into a new graph.
func Build(ctx context.Context, s ast.Stream, cfg config.Config, rep diag.Reporter) (*types.Graph, error) {
	b := New(cfg,
		WithReporter(rep),
		WithTracer(trace.FromContext(ctx), trace.CurrentSpan(ctx).SpanID),
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read declarations: %w", err)
		}
		if err := b.Add(d); err != nil {
			return nil, err
		}
	}
	return b.Finish()
}

// Add ingests one top-level declaration.
func (b *Builder) Add(d *ast.Decl) error {
	if err := d.Validate(); err != nil {
		return &DeclError{Decl: declName(d), Loc: d.Location(), Err: err}
	}
	if b.isSkippedBuiltin(d) {
		if d.ID != "" {
			b.skippedIDs[d.ID] = d.Name
		}
		diag.ReportInfo(b.rep, diag.BldBuiltinSkipped, d.Location(), "builtin declaration skipped").About(d.Name).Emit()
		trace.Point(b.tracer, trace.ScopeDecl, "skip-builtin", d.Name, b.span)
		return nil
	}
	switch d.Kind {
	case ast.DeclStruct, ast.DeclUnion, ast.DeclEnum:
		if d.Name == "" && d.ID != "" {
			return b.deferAnonymous(d)
		}
		if d.Name == "" {
			_, err := b.buildAnonymous(d, b.nextAnonName(), "")
			return err
		}
		_, err := b.declareNamed(d)
		return err
	case ast.DeclTypedef:
		return b.addTypedef(d)
	case ast.DeclFunction:
		return b.addFunction(d)
	case ast.DeclVar:
		return b.addVar(d)
	default:
		return &DeclError{Decl: d.Name, Loc: d.Location(), Err: fmt.Errorf("unsupported kind %q", d.Kind)}
	}
}

// Finish names leftover anonymous declarations, settles every pending
// placeholder and returns the graph. Under the fail policy the first
// unresolved reference aborts the unit.
func (b *Builder) Finish() (*types.Graph, error) {
	for _, ref := range b.pendingOrder {
		b.collapseSites(b.pendingSites[ref])
	}
	b.pendingSites = make(map[string][]pendingSite)
	b.pendingOrder = nil

	for _, id := range b.deferOrder {
		d, ok := b.deferred[id]
		if !ok || b.anonUses[id] > 0 {
			continue
		}
		if _, err := b.buildAnonymous(d, b.nextAnonName(), id); err != nil {
			return nil, err
		}
	}

	for _, id := range b.graph.IDs() {
		if !b.graph.IsPending(id) {
			continue
		}
		n := b.graph.MustNode(id)
		if b.declared[id] {
			b.graph.MarkOpaque(id, types.OpaqueIncomplete)
			trace.Point(b.tracer, trace.ScopeDecl, "incomplete", n.Name, b.span)
			continue
		}
		site := b.refs[id]
		if b.cfg.UnknownTypes == config.UnknownFail {
			return nil, &UnresolvedTypeError{Name: site.name, Tag: site.tag, Referrer: site.referrer, Loc: site.loc}
		}
		b.graph.MarkOpaque(id, types.OpaqueUnknown)
		diag.ReportWarning(b.rep, diag.BldOpaqueFallback, site.loc,
			fmt.Sprintf("unresolved type %q admitted as opaque", spelled(site.tag, site.name))).
			About(site.referrer).
			Emit()
		trace.Point(b.tracer, trace.ScopeDecl, "opaque-unknown", n.Name, b.span)
	}
	return b.graph, nil
}

func (b *Builder) isSkippedBuiltin(d *ast.Decl) bool {
	if b.cfg.Builtins {
		return false
	}
	return d.Builtin || isBuiltinName(d.Name)
}

func declName(d *ast.Decl) string {
	if d == nil {
		return ""
	}
	return d.Name
}

func spelled(tag, name string) string {
	if tag == "" {
		return name
	}
	return tag + " " + name
}
