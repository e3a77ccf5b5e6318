package pipeline

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stage describes one pass over a translation unit.
type Stage string

const (
	// StageDecode reads and decodes the declaration records.
	StageDecode Stage = "decode"
	// StageBuild constructs the type graph.
	StageBuild Stage = "build"
	// StageLayout computes sizes, alignments and offsets.
	StageLayout Stage = "layout"
	// StageCapability decides which traits each type supports.
	StageCapability Stage = "capability"
	// StageEmit renders the declarations.
	StageEmit Stage = "emit"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageDecode, StageBuild, StageLayout, StageCapability, StageEmit}

func (s Stage) index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return len(Stages)
}

// Status captures progress state within a stage.
type Status string

const (
	// StatusQueued indicates the unit is waiting to start.
	StatusQueued Status = "queued"
	// StatusWorking indicates the unit is currently in a stage.
	StatusWorking Status = "working"
	// StatusDone indicates the unit finished.
	StatusDone Status = "done"
	// StatusCached indicates the unit was served from the cache.
	StatusCached Status = "cached"
	// StatusError indicates the unit failed.
	StatusError Status = "error"
)

// Event reports progress for a unit.
type Event struct {
	Unit    string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events. Sinks may be called from several
// goroutines at once.
type ProgressSink interface {
	OnEvent(Event)
}

// MultiSink forwards each event to every non-nil sink in order.
type MultiSink []ProgressSink

func (m MultiSink) OnEvent(evt Event) {
	for _, s := range m {
		if s != nil {
			s.OnEvent(evt)
		}
	}
}

// Counter tallies unit outcomes. The zero value is ready to use.
type Counter struct {
	queued atomic.Int64
	done   atomic.Int64
	failed atomic.Int64
}

func (c *Counter) OnEvent(evt Event) {
	switch evt.Status {
	case StatusQueued:
		c.queued.Add(1)
	case StatusDone, StatusCached:
		c.done.Add(1)
	case StatusError:
		c.failed.Add(1)
	}
}

// Finished returns the number of units that completed or failed.
func (c *Counter) Finished() (done, failed int64) {
	return c.done.Load(), c.failed.Load()
}

// String renders e.g. "3/10 units, 1 failed".
func (c *Counter) String() string {
	done, failed := c.Finished()
	return fmt.Sprintf("%d/%d units, %d failed", done+failed, c.queued.Load(), failed)
}

// ChannelSink forwards events into a channel. Once Done is closed, events
// nobody receives are dropped instead of blocking the pipeline.
type ChannelSink struct {
	Ch   chan<- Event
	Done <-chan struct{}
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	select {
	case s.Ch <- evt:
	case <-s.Done:
	}
}

// Timings holds stage durations.
type Timings struct {
	stages map[Stage]time.Duration
}

func (t *Timings) ensure() {
	if t.stages == nil {
		t.stages = make(map[Stage]time.Duration)
	}
}

// Set stores a duration for the given stage.
func (t *Timings) Set(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	t.ensure()
	t.stages[stage] = dur
}

// Has reports whether a duration for stage is recorded.
func (t Timings) Has(stage Stage) bool {
	if t.stages == nil {
		return false
	}
	_, ok := t.stages[stage]
	return ok
}

// Duration returns the recorded duration for stage.
func (t Timings) Duration(stage Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	return t.stages[stage]
}

// Sum returns the sum of durations across the provided stages, or across
// all stages when none are given.
func (t Timings) Sum(stages ...Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	if len(stages) == 0 {
		stages = Stages
	}
	var total time.Duration
	for _, stage := range stages {
		total += t.stages[stage]
	}
	return total
}
