package trace

import (
	"bufio"
	"io"
	"sync"
)

// StreamTracer encodes events as they arrive. Output is buffered; Flush
// pushes it to the underlying writer.
type StreamTracer struct {
	mu     sync.Mutex
	dst    io.Writer
	bw     *bufio.Writer
	level  Level
	format Format
	err    error // first write error, reported by Flush
}

// NewStreamTracer writes to w in format; FormatAuto means text.
func NewStreamTracer(w io.Writer, level Level, format Format) *StreamTracer {
	if format == FormatAuto {
		format = FormatText
	}
	return &StreamTracer{dst: w, bw: bufio.NewWriter(w), level: level, format: format}
}

// Emit encodes ev. A failed write is remembered and later events are
// dropped; the run itself carries on.
func (t *StreamTracer) Emit(ev *Event) {
	if !admits(t.level, ev) {
		return
	}
	if ev.Seq == 0 {
		ev.Seq = NextSeq()
	}
	line := FormatEvent(ev, t.format)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return
	}
	if _, err := t.bw.Write(line); err != nil {
		t.err = err
		return
	}
	// heartbeats exist to show liveness, so they go out at once
	if ev.Kind == KindHeartbeat {
		t.err = t.bw.Flush()
	}
}

func (t *StreamTracer) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	return t.bw.Flush()
}

// Close flushes, then closes the destination when it is an io.Closer.
func (t *StreamTracer) Close() error {
	if err := t.Flush(); err != nil {
		return err
	}
	if c, ok := t.dst.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (t *StreamTracer) Level() Level  { return t.level }
func (t *StreamTracer) Enabled() bool { return t.level > LevelOff }
