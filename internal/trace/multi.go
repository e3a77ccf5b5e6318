package trace

import "errors"

// MultiTracer forwards every event to each of its tracers.
type MultiTracer struct {
	tracers []Tracer
	level   Level
}

// NewMultiTracer combines tracers. Nil and disabled tracers are dropped.
func NewMultiTracer(level Level, tracers ...Tracer) *MultiTracer {
	m := &MultiTracer{level: level}
	for _, t := range tracers {
		if t != nil && t.Enabled() {
			m.tracers = append(m.tracers, t)
		}
	}
	return m
}

// Emit gives each tracer a private copy, since tracers may stamp Seq.
func (m *MultiTracer) Emit(ev *Event) {
	if ev == nil {
		return
	}
	for _, t := range m.tracers {
		cp := *ev
		t.Emit(&cp)
	}
}

func (m *MultiTracer) Flush() error {
	var errs []error
	for _, t := range m.tracers {
		errs = append(errs, t.Flush())
	}
	return errors.Join(errs...)
}

func (m *MultiTracer) Close() error {
	var errs []error
	for _, t := range m.tracers {
		errs = append(errs, t.Close())
	}
	return errors.Join(errs...)
}

func (m *MultiTracer) Level() Level  { return m.level }
func (m *MultiTracer) Enabled() bool { return m.level > LevelOff && len(m.tracers) > 0 }
