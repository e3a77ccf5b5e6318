package trace

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Format is the encoding of a trace line.
type Format uint8

const (
	FormatAuto Format = iota
	FormatText
	FormatNDJSON
)

// ParseFormat accepts auto, text, ndjson or json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "text":
		return FormatText, nil
	case "ndjson", "json":
		return FormatNDJSON, nil
	}
	return FormatAuto, fmt.Errorf("invalid trace format %q (want auto|text|ndjson)", s)
}

// FormatEvent renders ev as one newline-terminated line.
func FormatEvent(ev *Event, format Format) []byte {
	if format == FormatNDJSON {
		return encodeJSON(ev)
	}
	return encodeText(ev)
}

type wireEvent struct {
	Time      string            `json:"time"`
	Seq       uint64            `json:"seq"`
	Kind      string            `json:"kind"`
	Scope     string            `json:"scope"`
	Span      uint64            `json:"span,omitempty"`
	Parent    uint64            `json:"parent,omitempty"`
	Name      string            `json:"name"`
	Detail    string            `json:"detail,omitempty"`
	ElapsedUS int64             `json:"elapsed_us,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

func encodeJSON(ev *Event) []byte {
	w := wireEvent{
		Time:      ev.Time.UTC().Format(time.RFC3339Nano),
		Seq:       ev.Seq,
		Kind:      ev.Kind.String(),
		Scope:     ev.Scope.String(),
		Span:      ev.SpanID,
		Parent:    ev.ParentID,
		Name:      ev.Name,
		Detail:    ev.Detail,
		ElapsedUS: ev.Elapsed.Microseconds(),
	}
	if len(ev.Attrs) > 0 {
		w.Attrs = make(map[string]string, len(ev.Attrs))
		for _, a := range ev.Attrs {
			w.Attrs[a.Key] = a.Value
		}
	}
	data, err := json.Marshal(w)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"kind": "error", "detail": err.Error()})
	}
	return append(data, '\n')
}

var textMarks = [...]string{
	KindSpanBegin: ">",
	KindSpanEnd:   "<",
	KindPoint:     "*",
	KindHeartbeat: "~",
}

// encodeText writes "15:04:05.000 #seq scope  > name (detail) 1.2ms k=v".
// Events under a parent span are indented by one step.
func encodeText(ev *Event) []byte {
	var b strings.Builder
	b.WriteString(ev.Time.Format("15:04:05.000"))
	b.WriteString(" #")
	b.WriteString(strconv.FormatUint(ev.Seq, 10))
	fmt.Fprintf(&b, " %-6s ", ev.Scope)
	if ev.ParentID != 0 {
		b.WriteString("  ")
	}
	mark := "?"
	if int(ev.Kind) < len(textMarks) && textMarks[ev.Kind] != "" {
		mark = textMarks[ev.Kind]
	}
	b.WriteString(mark)
	b.WriteByte(' ')
	b.WriteString(ev.Name)
	if ev.Detail != "" {
		fmt.Fprintf(&b, " (%s)", ev.Detail)
	}
	if ev.Kind == KindSpanEnd {
		b.WriteByte(' ')
		b.WriteString(ev.Elapsed.Round(time.Microsecond).String())
	}
	for _, a := range ev.Attrs {
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}
