package chat

import "time"

// Session is a named, persisted conversation. The store assigns the ID when
// the first completed turn of a new conversation is saved.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
