package queue

import "fmt"

type Action string

const (
	ActionCall     Action = "call"
	ActionServe    Action = "serve"
	ActionComplete Action = "complete"
)

type transition struct {
	from Status
	to   Status
}

// transitions is the whole state machine: waiting -> called -> serving -> completed.
var transitions = map[Action]transition{
	ActionCall:     {from: StatusWaiting, to: StatusCalled},
	ActionServe:    {from: StatusCalled, to: StatusServing},
	ActionComplete: {from: StatusServing, to: StatusCompleted},
}

// NextStatus returns the status an action leads to from the given status.
func NextStatus(action Action, from Status) (Status, error) {
	t, ok := transitions[action]
	if !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	if t.from != from {
		return "", fmt.Errorf("%w: cannot %s an entry that is %s", ErrInvalidTransition, action, from)
	}
	return t.to, nil
}

// ValidTransition reports whether from -> to is an edge of the state machine.
func ValidTransition(from, to Status) bool {
	for _, t := range transitions {
		if t.from == from && t.to == to {
			return true
		}
	}
	return false
}

// ActionFor returns the action that moves an entry into the target status.
func ActionFor(to Status) (Action, error) {
	for a, t := range transitions {
		if t.to == to {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: no transition leads to %s", ErrInvalidTransition, to)
}
