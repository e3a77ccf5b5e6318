package diag

import (
	"fmt"
	"strings"
)

// FormatShort renders diagnostics one per line:
//
//	file:line:col: WARNING FFI1003 subject: message
//
// Notes follow on indented lines when includeNotes is set.
func FormatShort(items []Diagnostic, includeNotes bool) string {
	if len(items) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, d := range items {
		writeLine(&sb, d)
		if includeNotes {
			for _, n := range d.Notes {
				sb.WriteString("    note: ")
				if !n.Loc.IsZero() {
					sb.WriteString(n.Loc.String())
					sb.WriteString(": ")
				}
				sb.WriteString(n.Msg)
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String()
}

func writeLine(sb *strings.Builder, d Diagnostic) {
	if !d.Loc.IsZero() {
		sb.WriteString(d.Loc.String())
		sb.WriteString(": ")
	}
	fmt.Fprintf(sb, "%s %s ", d.Severity, d.Code.ID())
	if d.Subject != "" {
		sb.WriteString(d.Subject)
		sb.WriteString(": ")
	}
	sb.WriteString(d.Message)
	sb.WriteByte('\n')
}
