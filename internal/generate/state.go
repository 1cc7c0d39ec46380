package generate

import "fmt"

// State is a position in the orchestrator's state machine.
type State string

const (
	StatePlan     State = "plan"
	StateGenerate State = "generate"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// transitions lists the legal successors of each state. There is no loop-back.
var transitions = map[State][]State{
	StatePlan:     {StateGenerate, StateFailed},
	StateGenerate: {StateComplete, StateFailed},
}

// IsFinal reports whether no further transition is possible.
func (s State) IsFinal() bool {
	return s == StateComplete || s == StateFailed
}

// machine tracks one request's progress through the stages.
type machine struct {
	state State
}

func newMachine() *machine {
	return &machine{state: StatePlan}
}

func (m *machine) advance(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal stage transition %s -> %s", m.state, next)
}
