package supervisor

import (
	"strings"
	"sync"
	"time"

	"github.com/BDNK1/blockflow/internal/constants"
)

// EventType classifies an event by severity.
type EventType string

const (
	EventLog   EventType = "log"
	EventWarn  EventType = "warn"
	EventError EventType = "error"
)

// Source tells where an event came from.
type Source string

const (
	SourceStdout     Source = "stdout"
	SourceStderr     Source = "stderr"
	SourceSupervisor Source = "supervisor"
)

// Event is one line of run output. Seq increases by one per delivered event.
type Event struct {
	Seq     int64     `json:"seq"`
	Type    EventType `json:"type"`
	Message string    `json:"message"`
	Source  Source    `json:"source"`
	Time    time.Time `json:"time"`
}

// Structured returns the payload of a structured progress message.
func (e Event) Structured() (string, bool) {
	if !strings.HasPrefix(e.Message, constants.LogMarker) {
		return "", false
	}
	return strings.TrimPrefix(e.Message, constants.LogMarker), true
}

// eventQueue is an unbounded FIFO. Producers never block; a single consumer
// drains it with pop.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Event
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, ev)
	q.cond.Signal()
	return true
}

// pop blocks until an event is available. It returns false once the queue is
// closed and empty.
func (q *eventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Event{}, false
	}
	ev := q.items[0]
	q.items[0] = Event{}
	q.items = q.items[1:]
	return ev, true
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
