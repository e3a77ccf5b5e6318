package diag

import (
	"ffigen/internal/source"
)

type Note struct {
	Loc source.Loc
	Msg string
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Loc      source.Loc
	Subject  string
	Notes    []Note
}

func New(sev Severity, code Code, loc source.Loc, msg string) Diagnostic {
	return Diagnostic{
		Severity: sev,
		Code:     code,
		Loc:      loc,
		Message:  msg,
	}
}

func (d Diagnostic) WithNote(loc source.Loc, msg string) Diagnostic {
	d.Notes = append(d.Notes, Note{Loc: loc, Msg: msg})
	return d
}

func (d Diagnostic) WithSubject(name string) Diagnostic {
	d.Subject = name
	return d
}
