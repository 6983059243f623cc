package session

import (
	"context"

	"github.com/looplab/fsm"
)

// State is a bridge lifecycle state
type State string

const (
	StateAwaitingStart State = "awaiting_start"
	StateAIConnecting  State = "ai_connecting"
	StateAIHandshaking State = "ai_handshaking"
	StateActive        State = "active"
	StateTerminated    State = "terminated"
)

// lifecycle events
const (
	evStart        = "start"
	evAIOpen       = "ai_open"
	evSessionReady = "session_ready"
	evTerminate    = "terminate"
)

// newLifecycle builds the per-call state machine. onTransition runs after
// every state change.
func newLifecycle(onTransition func(event, from, to string)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateAwaitingStart),
		fsm.Events{
			{Name: evStart, Src: []string{string(StateAwaitingStart)}, Dst: string(StateAIConnecting)},
			{Name: evAIOpen, Src: []string{string(StateAIConnecting)}, Dst: string(StateAIHandshaking)},
			{Name: evSessionReady, Src: []string{string(StateAIHandshaking)}, Dst: string(StateActive)},
			{Name: evTerminate, Src: []string{
				string(StateAwaitingStart),
				string(StateAIConnecting),
				string(StateAIHandshaking),
				string(StateActive),
			}, Dst: string(StateTerminated)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onTransition(e.Event, e.Src, e.Dst)
			},
		},
	)
}
