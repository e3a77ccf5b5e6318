package diag

import "ffigen/internal/source"

// Reporter receives diagnostics from the stages.
type Reporter interface {
	Report(d Diagnostic)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Diagnostic)

func (f ReporterFunc) Report(d Diagnostic) { f(d) }

// ReportBuilder collects subject and notes, then hands the diagnostic to its
// reporter on Emit. A nil reporter makes Emit a no-op, which lets tests
// build diagnostics with Diagnostic().
type ReportBuilder struct {
	reporter Reporter
	diag     Diagnostic
	sent     bool
}

func report(r Reporter, sev Severity, code Code, loc source.Loc, msg string) *ReportBuilder {
	return &ReportBuilder{reporter: r, diag: New(sev, code, loc, msg)}
}

func ReportError(r Reporter, code Code, loc source.Loc, msg string) *ReportBuilder {
	return report(r, SevError, code, loc, msg)
}

func ReportWarning(r Reporter, code Code, loc source.Loc, msg string) *ReportBuilder {
	return report(r, SevWarning, code, loc, msg)
}

func ReportInfo(r Reporter, code Code, loc source.Loc, msg string) *ReportBuilder {
	return report(r, SevInfo, code, loc, msg)
}

func (b *ReportBuilder) WithNote(loc source.Loc, msg string) *ReportBuilder {
	b.diag = b.diag.WithNote(loc, msg)
	return b
}

// About names the declaration the diagnostic refers to.
func (b *ReportBuilder) About(name string) *ReportBuilder {
	b.diag = b.diag.WithSubject(name)
	return b
}

// Emit reports the diagnostic. Only the first call has an effect.
func (b *ReportBuilder) Emit() {
	if b.sent {
		return
	}
	b.sent = true
	if b.reporter != nil {
		b.reporter.Report(b.diag)
	}
}

func (b *ReportBuilder) Diagnostic() Diagnostic { return b.diag }

// BagReporter adds to Bag.
type BagReporter struct{ Bag *Bag }

func (r BagReporter) Report(d Diagnostic) {
	if r.Bag != nil {
		r.Bag.Add(d)
	}
}

// NopReporter drops everything.
type NopReporter struct{}

func (NopReporter) Report(Diagnostic) {}

// identity is what makes two diagnostics the same report; notes are
// excluded since they only elaborate.
type identity struct {
	code    Code
	sev     Severity
	loc     source.Loc
	subject string
	msg     string
}

func identityOf(d Diagnostic) identity {
	return identity{d.Code, d.Severity, d.Loc, d.Subject, d.Message}
}

// Dedup forwards each distinct diagnostic to next once. Layout and
// capability both revisit shared nodes, so a unit's reporter is wrapped in
// it. Not safe for concurrent use.
func Dedup(next Reporter) Reporter {
	seen := make(map[identity]struct{})
	return ReporterFunc(func(d Diagnostic) {
		id := identityOf(d)
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		if next != nil {
			next.Report(d)
		}
	})
}
