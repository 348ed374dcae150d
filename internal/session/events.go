package session

import "github.com/chatpad-app/chatpad/backend/internal/model/chat"

// EventType classifies what a machine reports to its presentation adapter.
type EventType string

const (
	// EventState announces a state transition.
	EventState EventType = "state"
	// EventToken delivers one streamed fragment of the pending AI message.
	EventToken EventType = "token"
	// EventMessage delivers a finalized log entry (the echoed human message
	// or the completed AI message).
	EventMessage EventType = "message"
	// EventSaved reports a durable save, carrying the session id.
	EventSaved EventType = "saved"
	// EventNotice surfaces a non-fatal problem (transport error, failed
	// save). The turn itself carries on.
	EventNotice EventType = "notice"
)

// Event is what the machine pushes to the sink during a turn.
type Event struct {
	Type      EventType     `json:"type"`
	State     State         `json:"state,omitempty"`
	Token     string        `json:"token,omitempty"`
	Message   *chat.Message `json:"message,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	Notice    string        `json:"notice,omitempty"`
}

// Sink receives turn events. Calls arrive sequentially; implementations
// should return quickly since they run on the turn's goroutine.
type Sink func(Event)

func discardSink(Event) {}
