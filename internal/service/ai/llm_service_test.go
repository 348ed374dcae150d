package ai

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/chatpad-app/chatpad/backend/internal/config"
	"github.com/chatpad-app/chatpad/backend/internal/model/chat"
)

func TestBuildHistoryMessagesWindow(t *testing.T) {
	s := &Service{cfg: config.AIConfig{HistoryWindow: 2}}

	log := []chat.Message{
		{Role: chat.RoleHuman, Content: "q1"},
		{Role: chat.RoleAI, Content: "a1"},
		{Role: chat.RoleHuman, Content: "q2"},
		{Role: chat.RoleAI, Content: "a2"},
		{Role: chat.RoleHuman, Content: "q3"},
		{Role: chat.RoleAI, Content: "a3"},
	}

	history := s.buildHistoryMessages(log)
	require.Len(t, history, 4, "window keeps the last two interactions")
	require.Equal(t, "q2", history[0].Content)
	require.Equal(t, schema.User, history[0].Role)
	require.Equal(t, "a3", history[3].Content)
	require.Equal(t, schema.Assistant, history[3].Role)
}

func TestBuildHistoryMessagesSkipsSystem(t *testing.T) {
	s := &Service{cfg: config.AIConfig{HistoryWindow: 5}}

	history := s.buildHistoryMessages([]chat.Message{
		{Role: chat.RoleSystem, Content: "be helpful"},
		{Role: chat.RoleHuman, Content: "hello"},
	})
	require.Len(t, history, 1, "system entry is templated separately")
	require.Equal(t, "hello", history[0].Content)
}

func TestBuildHistoryMessagesEmpty(t *testing.T) {
	s := &Service{cfg: config.AIConfig{HistoryWindow: 5}}
	require.Nil(t, s.buildHistoryMessages(nil))
}

func TestBuildHistoryMessagesUnlimitedWindow(t *testing.T) {
	s := &Service{cfg: config.AIConfig{}}

	log := []chat.Message{
		{Role: chat.RoleHuman, Content: "q1"},
		{Role: chat.RoleAI, Content: "a1"},
		{Role: chat.RoleHuman, Content: "q2"},
	}
	require.Len(t, s.buildHistoryMessages(log), 3, "zero window means no limit")
}
