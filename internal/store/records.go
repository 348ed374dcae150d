package store

import (
	"time"

	"github.com/chatpad-app/chatpad/backend/internal/model/chat"
)

// sessionRecord is the persisted form of chat.Session.
type sessionRecord struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	CreatedAt time.Time
}

func (sessionRecord) TableName() string { return "chat_sessions" }

// messageRecord is the persisted form of chat.Message. Seq preserves log
// order even when neighbouring timestamps collide.
type messageRecord struct {
	ID        string `gorm:"primaryKey"`
	SessionID string `gorm:"index"`
	Role      string
	Content   string
	Timestamp time.Time
	Seq       int
}

func (messageRecord) TableName() string { return "messages" }

func (r sessionRecord) toDomain() chat.Session {
	return chat.Session{ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt}
}

func (r messageRecord) toDomain() chat.Message {
	return chat.Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Role:      chat.Role(r.Role),
		Content:   r.Content,
		Timestamp: r.Timestamp,
	}
}
