package trace

import (
	"fmt"
	"sync"
	"time"
)

// Heartbeat emits a driver-scope event at a fixed interval while a batch of
// units runs, so a stalled run is visible in the trace.
type Heartbeat struct {
	tracer Tracer
	status func() string
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// StartHeartbeat starts the ticker. status, when non-nil, supplies the
// detail of each beat, e.g. "3/10 units". It returns nil when tracing is
// off or interval is not positive; Stop accepts nil.
func StartHeartbeat(tracer Tracer, interval time.Duration, status func() string) *Heartbeat {
	if tracer == nil || !tracer.Enabled() || interval <= 0 {
		return nil
	}
	h := &Heartbeat{
		tracer: tracer,
		status: status,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.run(interval)
	return h
}

func (h *Heartbeat) run(interval time.Duration) {
	defer close(h.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var beat uint64
	for {
		select {
		case <-ticker.C:
			beat++
			detail := fmt.Sprintf("#%d", beat)
			if h.status != nil {
				detail += " " + h.status()
			}
			h.tracer.Emit(&Event{
				Time:   time.Now(),
				Seq:    NextSeq(),
				Kind:   KindHeartbeat,
				Scope:  ScopeDriver,
				Name:   "heartbeat",
				Detail: detail,
			})
		case <-h.stop:
			return
		}
	}
}

// Stop ends the ticker goroutine and waits for it. Repeated calls are no-ops.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.stop) })
	<-h.done
}
