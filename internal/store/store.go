package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/chatpad-app/chatpad/backend/internal/model/chat"
)

var ErrSessionNotFound = errors.New("session not found")

// Store is the durable record of sessions and messages, backed by a local
// sqlite database. Writes publish to the notifier so live queries can
// re-read without polling. Safe for concurrent use across sessions.
type Store struct {
	db       *gorm.DB
	notifier *notifier
	log      zerolog.Logger
}

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	if err := getMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{
		db:       db,
		notifier: newNotifier(),
		log:      logger,
	}, nil
}

// DB exposes the underlying handle so collaborators persisted alongside chat
// data (the settings table) can share the connection.
func (s *Store) DB() *gorm.DB { return s.db }

// Watch subscribes to change notifications for a topic. The returned cancel
// function must be called when the subscriber goes away.
func (s *Store) Watch(topic string) (<-chan struct{}, func()) {
	return s.notifier.subscribe(topic)
}

// CreateSession persists a new named session and returns it with its
// assigned id.
func (s *Store) CreateSession(ctx context.Context, name string) (chat.Session, error) {
	record := sessionRecord{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return chat.Session{}, fmt.Errorf("failed to create session: %w", err)
	}

	s.notifier.publish(TopicSessions)
	s.log.Debug().Str("session", record.ID).Str("name", name).Msg("session created")
	return record.toDomain(), nil
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (chat.Session, error) {
	var record sessionRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	return record.toDomain(), nil
}

// ListSessions returns all sessions, most recently created first.
func (s *Store) ListSessions(ctx context.Context) ([]chat.Session, error) {
	var records []sessionRecord
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]chat.Session, 0, len(records))
	for _, record := range records {
		sessions = append(sessions, record.toDomain())
	}
	return sessions, nil
}

// DeleteSession removes a session and all messages referencing it in one
// transaction, so readers never observe the half-deleted state.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&messageRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&sessionRecord{}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.notifier.publish(TopicSessions)
	s.notifier.publish(TopicMessages(id))
	s.log.Debug().Str("session", id).Msg("session deleted")
	return nil
}

// ReplaceMessages swaps the entire message set of a session for the given
// ordered log. Callers pass the complete log every time; the previous rows
// are dropped in the same transaction that writes the new ones.
func (s *Store) ReplaceMessages(ctx context.Context, sessionID string, messages []chat.Message) error {
	records := make([]messageRecord, 0, len(messages))
	for i, msg := range messages {
		id := msg.ID
		if id == "" {
			id = uuid.NewString()
		}
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		records = append(records, messageRecord{
			ID:        id,
			SessionID: sessionID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			Timestamp: ts,
			Seq:       i,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&messageRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.Create(&records).Error
	})
	if err != nil {
		return fmt.Errorf("failed to replace messages: %w", err)
	}

	s.notifier.publish(TopicMessages(sessionID))
	return nil
}

// ListMessages returns the ordered message log for a session. An unknown
// session yields an empty log, matching the cascade-delete contract.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var records []messageRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC, seq ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]chat.Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, record.toDomain())
	}
	return messages, nil
}
