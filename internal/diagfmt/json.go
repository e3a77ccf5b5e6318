package diagfmt

import (
	"encoding/json"
	"io"

	"ffigen/internal/diag"
	"ffigen/internal/source"
)

// LocationJSON is a source position in JSON output.
type LocationJSON struct {
	File string `json:"file,omitempty"`
	Line uint32 `json:"line,omitempty"`
	Col  uint32 `json:"col,omitempty"`
}

// NoteJSON is an attached note.
type NoteJSON struct {
	Message  string        `json:"message"`
	Location *LocationJSON `json:"location,omitempty"`
}

// DiagnosticJSON is one diagnostic in JSON output.
type DiagnosticJSON struct {
	Severity string        `json:"severity"`
	Code     string        `json:"code"`
	Title    string        `json:"title,omitempty"`
	Subject  string        `json:"subject,omitempty"`
	Message  string        `json:"message"`
	Location *LocationJSON `json:"location,omitempty"`
	Notes    []NoteJSON    `json:"notes,omitempty"`
}

// DiagnosticsOutput is the root of the JSON document.
type DiagnosticsOutput struct {
	Unit        string           `json:"unit,omitempty"`
	Diagnostics []DiagnosticJSON `json:"diagnostics"`
	Count       int              `json:"count"`
}

func makeLocation(loc source.Loc, opts JSONOpts) *LocationJSON {
	if loc.IsZero() {
		return nil
	}
	return &LocationJSON{
		File: formatPath(loc.File, opts.PathMode, opts.BaseDir),
		Line: loc.Line,
		Col:  loc.Col,
	}
}

// BuildDiagnosticsOutput assembles the JSON document without encoding it.
func BuildDiagnosticsOutput(unit string, items []diag.Diagnostic, opts JSONOpts) DiagnosticsOutput {
	n := len(items)
	if opts.Max > 0 && opts.Max < n {
		n = opts.Max
	}
	diagnostics := make([]DiagnosticJSON, 0, n)
	for _, d := range items[:n] {
		dj := DiagnosticJSON{
			Severity: d.Severity.String(),
			Code:     d.Code.ID(),
			Title:    d.Code.Title(),
			Subject:  d.Subject,
			Message:  d.Message,
			Location: makeLocation(d.Loc, opts),
		}
		includeNotes := opts.IncludeNotes || d.Code == diag.ObsTimings
		if includeNotes && len(d.Notes) > 0 {
			dj.Notes = make([]NoteJSON, len(d.Notes))
			for j, note := range d.Notes {
				dj.Notes[j] = NoteJSON{Message: note.Msg, Location: makeLocation(note.Loc, opts)}
			}
		}
		diagnostics = append(diagnostics, dj)
	}
	return DiagnosticsOutput{Unit: unit, Diagnostics: diagnostics, Count: len(diagnostics)}
}

// JSON encodes the diagnostics of one unit as an indented JSON document.
func JSON(w io.Writer, unit string, items []diag.Diagnostic, opts JSONOpts) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(BuildDiagnosticsOutput(unit, items, opts))
}
