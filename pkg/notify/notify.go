// Package notify emits fire-and-forget events for the downstream
// notification/job collaborator. Delivery is best-effort through a bounded
// in-memory queue: a slow or failing sink drops events and bumps a counter,
// it never blocks or fails message delivery.
package notify

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"courier/pkg/logger"
)

const (
	EventMessageCreated = "message.created"
	EventThreadCreated  = "thread.created"
	EventThreadClosed   = "thread.closed"
	EventThreadReported = "thread.reported"
)

type Event struct {
	Kind    string `json:"kind"`
	Thread  string `json:"thread"`
	Message string `json:"message,omitempty"`
	Actor   string `json:"actor,omitempty"`
	TS      int64  `json:"ts"`
}

// Sink receives events asynchronously. Implementations must tolerate
// at-most-once delivery.
type Sink interface {
	Deliver(Event)
}

// LogSink is the default sink; it just logs the event.
type LogSink struct{}

func (LogSink) Deliver(e Event) {
	logger.Info("notify_event", "kind", e.Kind, "thread", e.Thread, "message", e.Message)
}

var dropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "courier_notify_dropped_total",
	Help: "Notification events dropped because the queue was full.",
})

const defaultCapacity = 1024

type Emitter struct {
	ch        chan Event
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewEmitter starts a single delivery goroutine draining into sink.
func NewEmitter(sink Sink, capacity int) *Emitter {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if sink == nil {
		sink = LogSink{}
	}
	e := &Emitter{ch: make(chan Event, capacity)}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for ev := range e.ch {
			sink.Deliver(ev)
		}
	}()
	return e
}

// Emit enqueues the event without blocking; a full queue drops it.
func (e *Emitter) Emit(ev Event) {
	if ev.TS == 0 {
		ev.TS = time.Now().UTC().UnixNano()
	}
	select {
	case e.ch <- ev:
	default:
		dropped.Inc()
		logger.Warn("notify_dropped", "kind", ev.Kind, "thread", ev.Thread)
	}
}

// Close stops the emitter after draining queued events.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() { close(e.ch) })
	e.wg.Wait()
}
