package dispatch

import (
	"log/slog"
	"sync"

	"github.com/onnwee/danmaku-reactor/event"
	"github.com/onnwee/danmaku-reactor/telemetry"
)

// DefaultQueueSize bounds the inbound backlog.
const DefaultQueueSize = 256

// Queue buffers inbound events between the source and the single dispatcher
// worker. Push never blocks; when the buffer is full the oldest event is dropped.
type Queue struct {
	ch     chan event.Event
	mu     sync.Mutex
	closed bool
}

// NewQueue returns a queue holding up to size events.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan event.Event, size)}
}

// Push enqueues ev. It is safe to call from several goroutines.
func (q *Queue) Push(ev event.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	for {
		select {
		case q.ch <- ev:
			telemetry.SetQueueDepth(len(q.ch))
			return
		default:
		}
		select {
		case old := <-q.ch:
			telemetry.RecordDropped()
			slog.Warn("event queue full; dropped oldest event", slog.String("kind", string(old.Kind())))
		default:
		}
	}
}

// Len reports the number of queued events.
func (q *Queue) Len() int { return len(q.ch) }

// Close stops accepting events. Queued events can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// C returns the receive side of the queue.
func (q *Queue) C() <-chan event.Event { return q.ch }
