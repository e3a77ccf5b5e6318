package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestLevelScopes(t *testing.T) {
	if LevelPhase.ShouldEmit(ScopeStage) {
		t.Fatalf("phase level must not emit stage events")
	}
	if !LevelDetail.ShouldEmit(ScopeStage) || LevelDetail.ShouldEmit(ScopeDecl) {
		t.Fatalf("detail level should stop at stage scope")
	}
	if !LevelDebug.ShouldEmit(ScopeDecl) {
		t.Fatalf("debug level emits everything")
	}
	if LevelOff.ShouldEmit(ScopeDriver) {
		t.Fatalf("off emits nothing")
	}
	for _, s := range []string{"off", "error", "phase", "detail", "debug"} {
		l, err := ParseLevel(" " + strings.ToUpper(s))
		if err != nil || l.String() != s {
			t.Fatalf("ParseLevel(%q) = %v, %v", s, l, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestStreamTracerNDJSON(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDetail, FormatNDJSON)
	unit := Begin(tr, ScopeUnit, "a.json", 0)
	stage := Begin(tr, ScopeStage, "layout", unit.ID())
	Point(tr, ScopeDecl, "skipped", "too detailed", stage.ID())
	stage.Set("nodes", "3").End("")
	unit.End("ok")
	if err := tr.Flush(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 events, got %d:\n%s", len(lines), buf.String())
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(lines[2]), &ev); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if ev["kind"] != "end" || ev["name"] != "layout" || ev["parent"] != float64(unit.ID()) {
		t.Fatalf("unexpected event %v", ev)
	}
	attrs, _ := ev["attrs"].(map[string]any)
	if attrs["nodes"] != "3" {
		t.Fatalf("attrs lost: %v", ev)
	}
}

func TestStreamTracerBuffersUntilFlush(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelPhase, FormatText)
	Begin(tr, ScopeUnit, "a.json", 0).End("")
	if buf.Len() != 0 {
		t.Fatalf("stream wrote before flush: %q", buf.String())
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "unit   > a.json") || !strings.Contains(out, "unit   < a.json") {
		t.Fatalf("unexpected text output:\n%s", out)
	}
}

func TestRingTracerWraps(t *testing.T) {
	r := NewRingTracer(2, LevelDebug)
	for _, name := range []string{"a", "b", "c"} {
		Point(r, ScopeDecl, name, "", 0)
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d", r.Len())
	}
	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].Name != "b" || snap[1].Name != "c" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	var buf bytes.Buffer
	if err := r.Dump(&buf, FormatText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "* c") {
		t.Fatalf("dump missing event: %q", buf.String())
	}
}

func TestStartNestsSpans(t *testing.T) {
	if FromContext(context.Background()) != Nop {
		t.Fatalf("missing tracer should be Nop")
	}
	r := NewRingTracer(16, LevelDebug)
	ctx := WithTracer(context.Background(), r)
	if FromContext(ctx) != Tracer(r) {
		t.Fatalf("tracer not propagated")
	}

	uctx, unit := Start(ctx, ScopeUnit, "a.json")
	sctx, stage := Start(uctx, ScopeStage, "build")
	if CurrentSpan(sctx).SpanID != stage.ID() {
		t.Fatalf("stage context does not carry the stage span")
	}
	Note(sctx, "opaque-unknown", "FILE")
	stage.End("")
	unit.End("")

	events := r.Snapshot()
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %+v", events)
	}
	note := events[2]
	if note.Kind != KindPoint || note.ParentID != stage.ID() || note.Detail != "FILE" {
		t.Fatalf("note not nested under stage: %+v", note)
	}
	if events[1].ParentID != unit.ID() {
		t.Fatalf("stage not nested under unit: %+v", events[1])
	}
}

func TestStartKeepsParentWhenFiltered(t *testing.T) {
	r := NewRingTracer(16, LevelPhase)
	ctx := WithTracer(context.Background(), r)
	uctx, unit := Start(ctx, ScopeUnit, "a.json")
	sctx, stage := Start(uctx, ScopeStage, "layout")
	if stage.ID() != 0 {
		t.Fatalf("stage span should be filtered at phase level")
	}
	if CurrentSpan(sctx).SpanID != unit.ID() {
		t.Fatalf("filtered span replaced the parent")
	}
	if d := stage.End(""); d != 0 {
		t.Fatalf("inert span reported duration %v", d)
	}
}

func TestNewModes(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil || tr.Enabled() {
		t.Fatalf("off config should give a disabled tracer")
	}

	var buf bytes.Buffer
	tr, err = New(Config{Level: LevelDetail, Mode: ModeBoth, Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.(*MultiTracer); !ok {
		t.Fatalf("both mode should fan out, got %T", tr)
	}
	ring, ok := RingOf(tr)
	if !ok {
		t.Fatalf("ring not reachable through multi tracer")
	}
	Point(tr, ScopeStage, "emit", "", 0)
	if ring.Len() != 1 {
		t.Fatalf("ring did not receive the event")
	}
	if err := tr.Flush(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "* emit") {
		t.Fatalf("stream did not receive the event: %q", buf.String())
	}

	if _, ok := RingOf(Nop); ok {
		t.Fatalf("Nop has no ring")
	}
	if _, err := ParseMode("disk"); err == nil {
		t.Fatalf("expected mode error")
	}
}

func TestHeartbeatReportsStatus(t *testing.T) {
	if StartHeartbeat(Nop, time.Millisecond, nil) != nil {
		t.Fatalf("heartbeat on a disabled tracer")
	}
	r := NewRingTracer(64, LevelError)
	hb := StartHeartbeat(r, time.Millisecond, func() string { return "1/2 units" })
	deadline := time.Now().Add(2 * time.Second)
	for r.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	hb.Stop()
	hb.Stop()

	events := r.Snapshot()
	if len(events) == 0 {
		t.Fatalf("no heartbeat recorded")
	}
	if events[0].Kind != KindHeartbeat || events[0].Detail != "#1 1/2 units" {
		t.Fatalf("unexpected heartbeat %+v", events[0])
	}
}
