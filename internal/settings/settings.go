package settings

import (
	"context"
	"fmt"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Settings is the user-editable configuration surface, persisted
// independently of the chat tables.
type Settings struct {
	OpenAIKey        string `json:"openAiKey,omitempty"`
	ShowSystemPrompt bool   `json:"showSystemPrompt"`
}

const (
	keyOpenAIKey        = "openAiKey"
	keyShowSystemPrompt = "showSystemPrompt"
)

type settingRecord struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func (settingRecord) TableName() string { return "settings" }

// Store persists settings as key-value rows.
type Store struct {
	db *gorm.DB
}

// Open migrates the settings table on the shared database handle.
func Open(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&settingRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate settings table: %w", err)
	}
	return &Store{db: db}, nil
}

// Get reads the current settings. Missing rows fall back to zero values.
func (s *Store) Get(ctx context.Context) (Settings, error) {
	var records []settingRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	var out Settings
	for _, record := range records {
		switch record.Key {
		case keyOpenAIKey:
			out.OpenAIKey = record.Value
		case keyShowSystemPrompt:
			out.ShowSystemPrompt, _ = strconv.ParseBool(record.Value)
		}
	}
	return out, nil
}

// Update overwrites the stored settings.
func (s *Store) Update(ctx context.Context, settings Settings) error {
	records := []settingRecord{
		{Key: keyOpenAIKey, Value: settings.OpenAIKey},
		{Key: keyShowSystemPrompt, Value: strconv.FormatBool(settings.ShowSystemPrompt)},
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&records).Error
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// OpenAIKey returns the stored API key, or "" when none is configured.
func (s *Store) OpenAIKey(ctx context.Context) string {
	settings, err := s.Get(ctx)
	if err != nil {
		return ""
	}
	return settings.OpenAIKey
}
