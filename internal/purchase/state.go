package purchase

import (
	"errors"
	"fmt"
	"slices"
)

// State is a step of the buyer's purchase flow.
type State string

const (
	StateBrowsing      State = "BROWSING"
	StateConfirming    State = "CONFIRMING"
	StatePaid          State = "PAID"
	StateAwaitingCode  State = "AWAITING_CODE"
	StateCodeDelivered State = "CODE_DELIVERED"
	StateClaimed       State = "CLAIMED"
)

// ErrInvalidTransition is returned for moves the flow does not allow.
var ErrInvalidTransition = errors.New("purchase: invalid state transition")

var transitions = map[State][]State{
	StateBrowsing:      {StateConfirming},
	StateConfirming:    {StateBrowsing, StatePaid},
	StatePaid:          {StateAwaitingCode},
	StateAwaitingCode:  {StateCodeDelivered, StateClaimed},
	StateCodeDelivered: {StateAwaitingCode, StateClaimed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

func transition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
