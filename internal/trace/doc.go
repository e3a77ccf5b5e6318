// Package trace is the logging layer of ffigen: structured begin/end and
// point events for the driver, each translation unit, each stage and, at the
// debug level, individual declarations.
//
// Enable it from the command line:
//
//	ffigen generate --trace=- --trace-level=detail records.json
//
// Implementations:
//
//   - Nop: disabled tracing
//   - StreamTracer: writes text or NDJSON to a file or stderr
//   - RingTracer: keeps the tail in memory for failure dumps
//   - MultiTracer: fans out to several tracers
//
// Tracers travel through the pipeline in the context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	ctx, span := trace.Start(ctx, trace.ScopeStage, "layout")
//	defer span.End("")
//	trace.Note(ctx, "opaque-unknown", name)
package trace
