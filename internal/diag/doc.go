// Package diag defines the diagnostic model shared by all generation stages.
//
// # Purpose
//
//   - Provide deterministic, serialisable records for non-fatal findings of
//     the builder, layout, capability and emit stages (skipped declarations,
//     opaque fallbacks, synthesized impls, renames).
//   - Offer light-weight utilities (Reporter, Bag) that let producers emit
//     diagnostics without coupling to concrete storage or formatting layers.
//
// Fatal conditions are not diagnostics: every stage returns a typed error and
// the pipeline aborts the translation unit. Those errors still carry a Code
// so the CLI can print the same stable identifier for both.
//
// # Data model
//
// Diagnostic is the central record. It contains:
//
//   - Severity – tri-level enum (Info, Warning, Error) defined in severity.go.
//   - Code – compact numeric identifier (see codes.go) with stable FFI#### form.
//   - Message – human oriented text; keep it short and actionable.
//   - Loc – the source location carried by the record, possibly zero.
//   - Subject – the C name of the declaration the finding is about.
//   - Notes – optional secondary locations/messages.
//
// # Emitting diagnostics
//
// Stages use a diag.Reporter. ReportWarning/ReportInfo return a ReportBuilder
// that can chain WithNote before Emit. BagReporter aggregates diagnostics into
// a Bag, which supports sorting and deduplication.
package diag
