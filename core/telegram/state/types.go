// Package state keeps per-user conversation steps for multi-message flows
// such as the deposit wizard.
package state

import tele "gopkg.in/telebot.v4"

// State identifies a conversation step.
type State string

// StateIdle means no flow is active.
const StateIdle State = "idle"

// Session stores the step and scratch values of one user.
type Session struct {
	State    State
	TempData map[string]any
}

// Manager tracks sessions and dispatches text and photo updates to the
// handler registered for the user's current step.
type Manager interface {
	SetState(userID int64, st State)
	GetState(userID int64) State
	SetTemp(userID int64, key string, value any)
	GetTemp(userID int64, key string) (any, bool)
	Clear(userID int64)

	// Handle registers h for st, replacing any previous handler.
	Handle(st State, h tele.HandlerFunc)

	InProgress(userID int64) bool
	ManagerHandler(c tele.Context) error
}

// TempString reads a string scratch value.
func TempString(m Manager, userID int64, key string) (string, bool) {
	v, ok := m.GetTemp(userID, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
