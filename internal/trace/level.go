package trace

import (
	"fmt"
	"strings"
)

// Level selects how deep tracing goes.
type Level uint8

const (
	LevelOff Level = iota
	LevelError
	LevelPhase
	LevelDetail
	LevelDebug
)

var levelNames = [...]string{"off", "error", "phase", "detail", "debug"}

// deepest scope admitted per level; error keeps stages so a ring dump
// shows where a unit stopped
var levelLimit = [...]Scope{0, ScopeStage, ScopeUnit, ScopeStage, ScopeDecl}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// ParseLevel accepts one of off, error, phase, detail or debug.
func ParseLevel(s string) (Level, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for i, name := range levelNames {
		if name == want {
			return Level(i), nil
		}
	}
	return LevelOff, fmt.Errorf("invalid trace level %q (want %s)", s, strings.Join(levelNames[:], "|"))
}

// ShouldEmit reports whether events of scope pass at this level.
func (l Level) ShouldEmit(scope Scope) bool {
	if int(l) >= len(levelLimit) {
		return false
	}
	return scope != 0 && scope <= levelLimit[l]
}

// admits is the filter shared by the storing tracers: heartbeats always
// pass once tracing is on.
func admits(l Level, ev *Event) bool {
	if ev == nil || l == LevelOff {
		return false
	}
	return ev.Kind == KindHeartbeat || l.ShouldEmit(ev.Scope)
}
