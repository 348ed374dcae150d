package ai

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	openai "github.com/openai/openai-go"
	"github.com/stretchr/testify/require"

	"github.com/chatpad-app/chatpad/backend/internal/config"
)

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

func TestBuildParams(t *testing.T) {
	m := &openAIChatModel{cfg: config.AIConfig{
		Model:       "gpt-3.5-turbo",
		Temperature: floatPtr(0.2),
		MaxTokens:   intPtr(512),
	}}

	params, err := m.buildParams([]*schema.Message{
		schema.SystemMessage("be helpful"),
		schema.UserMessage("hello"),
		schema.AssistantMessage("hi", nil),
	})
	require.NoError(t, err)

	require.Equal(t, "gpt-3.5-turbo", params.Model)
	require.Len(t, params.Messages, 3)
	require.Equal(t, openai.Float(0.2), params.Temperature)
	require.Equal(t, openai.Int(512), params.MaxTokens)
	// Unset sampling knobs stay unset so provider defaults apply.
	require.False(t, params.TopP.Valid())
	require.False(t, params.FrequencyPenalty.Valid())
}

func TestBuildParamsRejectsUnknownRole(t *testing.T) {
	m := &openAIChatModel{cfg: config.AIConfig{Model: "gpt-3.5-turbo"}}

	_, err := m.buildParams([]*schema.Message{{Role: schema.Tool, Content: "result"}})
	require.Error(t, err)
}
