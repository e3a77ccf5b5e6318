package diagfmt

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/fatih/color"

	"ffigen/internal/diag"
	"ffigen/internal/source"
)

type palette struct {
	err, warn, info, code, loc, note *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		err:  color.New(color.FgRed, color.Bold),
		warn: color.New(color.FgYellow, color.Bold),
		info: color.New(color.FgCyan, color.Bold),
		code: color.New(color.Faint),
		loc:  color.New(color.Bold),
		note: color.New(color.FgBlue),
	}
	for _, c := range []*color.Color{p.err, p.warn, p.info, p.code, p.loc, p.note} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) severity(s diag.Severity) *color.Color {
	switch s {
	case diag.SevError:
		return p.err
	case diag.SevWarning:
		return p.warn
	default:
		return p.info
	}
}

// Pretty writes diagnostics in a human-readable form, one header line per
// diagnostic:
//
//	<path>:<line>:<col>: <SEV> <CODE> <subject>: <message>
//
// followed by its notes when ShowNotes is set. Items are printed in the
// order given; callers sort the bag first.
func Pretty(w io.Writer, items []diag.Diagnostic, opts PrettyOpts) error {
	p := newPalette(opts.Color)
	shown := items
	if opts.Max > 0 && len(shown) > opts.Max {
		shown = shown[:opts.Max]
	}
	for _, d := range shown {
		if !d.Loc.IsZero() {
			if _, err := p.loc.Fprintf(w, "%s: ", formatLoc(d.Loc, opts.PathMode, opts.BaseDir)); err != nil {
				return err
			}
		}
		p.severity(d.Severity).Fprint(w, d.Severity.String())
		p.code.Fprintf(w, " %s ", d.Code.ID())
		if d.Subject != "" {
			fmt.Fprintf(w, "%s: ", d.Subject)
		}
		if _, err := fmt.Fprintln(w, d.Message); err != nil {
			return err
		}
		if !opts.ShowNotes {
			continue
		}
		for _, n := range d.Notes {
			p.note.Fprint(w, "    note: ")
			if !n.Loc.IsZero() {
				fmt.Fprintf(w, "%s: ", formatLoc(n.Loc, opts.PathMode, opts.BaseDir))
			}
			fmt.Fprintln(w, n.Msg)
		}
	}
	if hidden := len(items) - len(shown); hidden > 0 {
		if _, err := fmt.Fprintf(w, "... %d more diagnostics not shown\n", hidden); err != nil {
			return err
		}
	}
	return nil
}

// Summary counts diagnostics by severity, e.g. "1 error, 2 warnings".
// It returns "" for an empty list.
func Summary(items []diag.Diagnostic) string {
	var errs, warns, infos int
	for _, d := range items {
		switch d.Severity {
		case diag.SevError:
			errs++
		case diag.SevWarning:
			warns++
		default:
			infos++
		}
	}
	out := ""
	add := func(n int, what string) {
		if n == 0 {
			return
		}
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%d %s", n, what)
		if n != 1 {
			out += "s"
		}
	}
	add(errs, "error")
	add(warns, "warning")
	add(infos, "note")
	return out
}

func formatLoc(loc source.Loc, mode PathMode, baseDir string) string {
	loc.File = formatPath(loc.File, mode, baseDir)
	return loc.String()
}

func formatPath(path string, mode PathMode, baseDir string) string {
	if path == "" {
		return path
	}
	switch mode {
	case PathModeAbsolute:
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
	case PathModeRelative:
		if baseDir == "" {
			return path
		}
		if rel, err := filepath.Rel(baseDir, path); err == nil {
			return rel
		}
	case PathModeBasename:
		return filepath.Base(path)
	}
	return path
}
