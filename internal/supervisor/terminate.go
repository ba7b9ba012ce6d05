package supervisor

import "time"

// Phase is a step of the termination sequence.
type Phase int

const (
	PhaseRequestedCooperative Phase = iota + 1
	PhaseGracePeriod
	PhaseForcedKill
	PhaseVerified
)

func (p Phase) String() string {
	switch p {
	case PhaseRequestedCooperative:
		return "requested_cooperative"
	case PhaseGracePeriod:
		return "grace_period"
	case PhaseForcedKill:
		return "forced_kill"
	case PhaseVerified:
		return "verified"
	default:
		return "none"
	}
}

type terminationOutcome struct {
	Phases      []Phase
	Forced      bool
	Escalations int
}

func (o terminationOutcome) last() Phase {
	if len(o.Phases) == 0 {
		return 0
	}
	return o.Phases[len(o.Phases)-1]
}

// terminator drives one process through the termination sequence:
// cooperative request, grace period, forced kill, verification.
type terminator struct {
	handle    processHandle
	grace     time.Duration
	killDelay time.Duration
	after     func(time.Duration) <-chan time.Time
	observe   func(Phase)
}

// run executes the sequence. With cooperative false the request and grace
// period are skipped.
func (t *terminator) run(cooperative bool) terminationOutcome {
	var out terminationOutcome
	enter := func(p Phase) {
		out.Phases = append(out.Phases, p)
		if t.observe != nil {
			t.observe(p)
		}
	}

	if cooperative {
		enter(PhaseRequestedCooperative)
		_ = t.handle.RequestStop()

		enter(PhaseGracePeriod)
		if t.wait(t.grace) {
			enter(PhaseVerified)
			return out
		}
	}

	enter(PhaseForcedKill)
	out.Forced = true
	if t.handle.SupportsSignals() {
		_ = t.handle.Kill(false)
		if !t.wait(t.killDelay) {
			_ = t.handle.Kill(true)
			out.Escalations++
		}
	} else {
		_ = t.handle.Kill(true)
	}

	enter(PhaseVerified)
	if !t.wait(t.killDelay) {
		_ = t.handle.Kill(true)
		out.Escalations++
		t.wait(t.killDelay)
	}
	return out
}

// wait reports whether the process is gone within d.
func (t *terminator) wait(d time.Duration) bool {
	after := t.after
	if after == nil {
		after = time.After
	}
	select {
	case <-t.handle.Exited():
		return true
	case <-after(d):
		return !t.handle.Alive()
	}
}
