package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"

	"ffigen/internal/pipeline"
)

func TestApplyEventTracksUnits(t *testing.T) {
	m := NewProgressModel("generating", []string{"a.json", "b.json"}, nil).(*progressModel)

	m.apply(pipeline.Event{Unit: "a.json", Stage: pipeline.StageLayout, Status: pipeline.StatusWorking})
	if got := m.rows[0].label(); got != "layout" {
		t.Fatalf("status = %q", got)
	}
	m.apply(pipeline.Event{Unit: "a.json", Stage: pipeline.StageEmit, Status: pipeline.StatusDone, Elapsed: 3 * time.Millisecond})
	m.apply(pipeline.Event{Unit: "b.json", Stage: pipeline.StageBuild, Status: pipeline.StatusError, Err: errors.New("boom")})
	// finished rows ignore late events
	m.apply(pipeline.Event{Unit: "a.json", Stage: pipeline.StageBuild, Status: pipeline.StatusWorking})
	m.apply(pipeline.Event{Unit: "unknown.json", Stage: pipeline.StageBuild, Status: pipeline.StatusWorking})

	if m.rows[0].state != stateDone || m.rows[0].elapsed != 3*time.Millisecond {
		t.Fatalf("a.json = %+v", m.rows[0])
	}
	if m.rows[1].state != stateFailed || m.rows[1].err != "boom" {
		t.Fatalf("b.json = %+v", m.rows[1])
	}
	if finished, failed := m.counts(); finished != 2 || failed != 1 {
		t.Fatalf("counts = %d, %d", finished, failed)
	}
	if got := m.percent(); got != 1.0 {
		t.Fatalf("percent = %v, want 1", got)
	}
	view := m.View()
	if !strings.Contains(view, "(2/2), 1 failed") || !strings.Contains(view, "boom") {
		t.Fatalf("view missing header or error:\n%s", view)
	}
}

func TestPercentCountsStages(t *testing.T) {
	m := NewProgressModel("x", []string{"a", "b"}, nil).(*progressModel)
	m.apply(pipeline.Event{Unit: "a", Stage: pipeline.StageEmit, Status: pipeline.StatusWorking})
	if got := m.percent(); got != 0.4 {
		t.Fatalf("percent = %v, want 0.4", got)
	}
	m.apply(pipeline.Event{Unit: "b", Stage: pipeline.StageDecode, Status: pipeline.StatusCached})
	if got := m.percent(); got != 0.9 {
		t.Fatalf("percent = %v, want 0.9", got)
	}
}

func TestModelQuitsWhenEventsClose(t *testing.T) {
	events := make(chan pipeline.Event)
	close(events)
	m := NewProgressModel("x", []string{"a"}, events).(*progressModel)
	msg := m.next()()
	if _, ok := msg.(closedMsg); !ok {
		t.Fatalf("next on a closed channel = %T", msg)
	}
	if _, cmd := m.Update(msg); cmd == nil || !m.closed {
		t.Fatalf("model did not quit")
	}
	if !strings.Contains(m.View(), "done:") {
		t.Fatalf("closed view lacks done marker")
	}
}

func TestFitKeepsDisplayWidth(t *testing.T) {
	s := fit("ヘッダー/very/long/path.json", 12)
	if w := runewidth.StringWidth(s); w != 12 {
		t.Fatalf("width %d != 12: %q", w, s)
	}
	if !strings.Contains(s, "...") {
		t.Fatalf("missing ellipsis: %q", s)
	}
	if got := fit("ab", 4); got != "ab  " {
		t.Fatalf("fit = %q", got)
	}
}
