package trace

import "context"

type ctxKey struct{}

// state is what a context carries: the tracer and the innermost open span.
type state struct {
	tracer Tracer
	span   uint64
}

func stateOf(ctx context.Context) state {
	if ctx != nil {
		if st, ok := ctx.Value(ctxKey{}).(state); ok {
			return st
		}
	}
	return state{tracer: Nop}
}

// FromContext returns the tracer attached to ctx, or Nop.
func FromContext(ctx context.Context) Tracer {
	return stateOf(ctx).tracer
}

// WithTracer attaches t to ctx. The current span is kept.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	if t == nil {
		t = Nop
	}
	st := stateOf(ctx)
	st.tracer = t
	return context.WithValue(ctx, ctxKey{}, st)
}

// SpanContext identifies the innermost open span of a context.
type SpanContext struct {
	SpanID uint64
}

// CurrentSpan returns the span that new events in ctx should hang under.
func CurrentSpan(ctx context.Context) SpanContext {
	return SpanContext{SpanID: stateOf(ctx).span}
}

// WithSpanContext makes sc the parent of events emitted through ctx.
func WithSpanContext(ctx context.Context, sc SpanContext) context.Context {
	if ctx == nil {
		return nil
	}
	st := stateOf(ctx)
	st.span = sc.SpanID
	return context.WithValue(ctx, ctxKey{}, st)
}

// Start begins a span under the current one and returns a context whose
// events nest inside it. A span filtered out by the level keeps the parent.
func Start(ctx context.Context, scope Scope, name string) (context.Context, *Span) {
	st := stateOf(ctx)
	span := Begin(st.tracer, scope, name, st.span)
	if span.ID() == 0 {
		return ctx, span
	}
	st.span = span.ID()
	return context.WithValue(ctx, ctxKey{}, st), span
}

// Note emits a declaration-scope point event under the current span.
func Note(ctx context.Context, name, detail string) {
	st := stateOf(ctx)
	Point(st.tracer, ScopeDecl, name, detail, st.span)
}
