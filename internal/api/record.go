package api

import (
	"sync"
	"time"

	"github.com/BDNK1/blockflow/internal/compiler"
	"github.com/BDNK1/blockflow/internal/supervisor"
)

// record keeps a run's event history so late subscribers can replay it.
type record struct {
	id        string
	flowID    string
	run       Run
	warnings  []compiler.Warning
	startedAt time.Time

	mu     sync.Mutex
	events []supervisor.Event
	notify chan struct{}
	closed bool
}

func newRecord(flowID string, run Run, warnings []compiler.Warning) *record {
	return &record{
		id:        run.RunID(),
		flowID:    flowID,
		run:       run,
		warnings:  warnings,
		startedAt: time.Now(),
		notify:    make(chan struct{}),
	}
}

// consume drains the run's events into the history until the run closes
// its stream.
func (r *record) consume() {
	for ev := range r.run.Events() {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.broadcastLocked()
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.closed = true
	r.broadcastLocked()
	r.mu.Unlock()
}

func (r *record) broadcastLocked() {
	close(r.notify)
	r.notify = make(chan struct{})
}

// since returns the events from index from on, a channel closed on the next
// change and whether the stream has ended.
func (r *record) since(from int) ([]supervisor.Event, <-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []supervisor.Event
	if from < len(r.events) {
		out = append(out, r.events[from:]...)
	}
	return out, r.notify, r.closed
}

type runView struct {
	ID        string             `json:"id"`
	FlowID    string             `json:"flowId"`
	State     supervisor.State   `json:"state"`
	ExitCode  *int               `json:"exitCode,omitempty"`
	Error     string             `json:"error,omitempty"`
	StartedAt time.Time          `json:"startedAt"`
	Duration  string             `json:"duration,omitempty"`
	Events    int                `json:"events"`
	Warnings  []compiler.Warning `json:"warnings"`
}

func (r *record) view() runView {
	r.mu.Lock()
	count := len(r.events)
	r.mu.Unlock()

	v := runView{
		ID:        r.id,
		FlowID:    r.flowID,
		State:     supervisor.StateRunning,
		StartedAt: r.startedAt,
		Events:    count,
		Warnings:  r.warnings,
	}
	if v.Warnings == nil {
		v.Warnings = []compiler.Warning{}
	}
	if res, ok := r.run.Result(); ok {
		code := res.ExitCode
		v.State = res.State
		v.ExitCode = &code
		v.Duration = res.Duration.String()
		if res.Err != nil {
			v.Error = res.Err.Error()
		}
	}
	return v
}
