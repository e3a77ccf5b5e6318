package trace

import "time"

// Kind says what an event marks.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1
	KindSpanEnd
	KindPoint
	KindHeartbeat
)

var kindNames = [...]string{
	KindSpanBegin: "begin",
	KindSpanEnd:   "end",
	KindPoint:     "point",
	KindHeartbeat: "heartbeat",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// Scope is how much of a run an event covers. Smaller scopes come first, so
// a level admits every scope up to its limit.
type Scope uint8

const (
	ScopeDriver Scope = iota + 1 // one CLI invocation
	ScopeUnit                    // one record file
	ScopeStage                   // decode, build, layout, capability, emit
	ScopeDecl                    // a single declaration or graph node
)

var scopeNames = [...]string{
	ScopeDriver: "driver",
	ScopeUnit:   "unit",
	ScopeStage:  "stage",
	ScopeDecl:   "decl",
}

func (s Scope) String() string {
	if int(s) < len(scopeNames) && scopeNames[s] != "" {
		return scopeNames[s]
	}
	return "unknown"
}

// Attr is a key/value annotation on an end event.
type Attr struct {
	Key   string
	Value string
}

// Event is one trace record.
type Event struct {
	Time     time.Time
	Seq      uint64
	Kind     Kind
	Scope    Scope
	SpanID   uint64
	ParentID uint64
	Name     string
	Detail   string
	Elapsed  time.Duration // set on span ends
	Attrs    []Attr
}
