package syncer

import "fmt"

// State is the delivery state of one queue entry during a cycle. Only Pending
// and DeadLettered are persisted; InFlight exists only in memory and Applied
// entries are removed from the queue.
type State int

const (
	StatePending State = iota
	StateInFlight
	StateApplied
	StateDeadLettered
)

var stateNames = map[State]string{
	StatePending:      "pending",
	StateInFlight:     "in_flight",
	StateApplied:      "applied",
	StateDeadLettered: "dead_lettered",
}

// transitions lists the legal successors of each state. Applied and
// DeadLettered are terminal.
var transitions = map[State][]State{
	StatePending:  {StateInFlight},
	StateInFlight: {StateApplied, StatePending, StateDeadLettered},
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// To returns next, panicking if the transition is illegal. An illegal
// transition is a bug in the coordinator, not a runtime condition.
func (s State) To(next State) State {
	if !s.CanTransition(next) {
		panic(fmt.Sprintf("syncer: illegal transition %s -> %s", s, next))
	}
	return next
}
