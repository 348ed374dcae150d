package chat

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem Role = "system"
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
)

// Message is one entry in a session's ordered log. The first entry of every
// in-memory log is a system message carrying the assistant instructions.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// VisibleMessages filters a log for display. System rows are hidden unless
// the user opted into seeing the prompt.
func VisibleMessages(messages []Message, showSystem bool) []Message {
	if showSystem {
		return messages
	}
	visible := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			continue
		}
		visible = append(visible, msg)
	}
	return visible
}
