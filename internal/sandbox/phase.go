package sandbox

import "fmt"

// Phase is the per-job state machine of spec.md §4.4:
// pending -> preparing -> running-build -> (running-test)? -> done.
type Phase int

const (
	PhasePending Phase = iota
	PhasePreparing
	PhaseRunningBuild
	PhaseRunningTest
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhasePreparing:
		return "preparing"
	case PhaseRunningBuild:
		return "running-build"
	case PhaseRunningTest:
		return "running-test"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// legalNext enumerates the state machine's edges. running-test is
// reachable only through the build phase; done is reachable from either
// build or test, covering the modes that skip phase 3 entirely.
var legalNext = map[Phase][]Phase{
	PhasePending:      {PhasePreparing},
	PhasePreparing:    {PhaseRunningBuild, PhaseDone}, // done directly on prepare failure
	PhaseRunningBuild: {PhaseRunningTest, PhaseDone},
	PhaseRunningTest:  {PhaseDone},
}

// tracker enforces the phase state machine, panicking on an illegal
// transition -- a programming error in the executor, not a runtime
// condition any caller should need to recover from.
type tracker struct {
	current Phase
}

func (t *tracker) advance(to Phase) {
	for _, allowed := range legalNext[t.current] {
		if allowed == to {
			t.current = to
			return
		}
	}
	panic(fmt.Sprintf("sandbox: illegal phase transition %s -> %s", t.current, to))
}
