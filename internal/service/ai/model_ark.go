package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/chatpad-app/chatpad/backend/internal/config"
)

// newArkChatModel builds the alternate Volcengine Ark provider. Credentials
// are static: either ARK_API_KEY or the AK/SK pair.
func newArkChatModel(ctx context.Context, cfg config.AIConfig) (model.ChatModel, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY or AK/SK plus ARK_MODEL")
	}

	var temperature *float32
	if cfg.Temperature != nil {
		val := float32(*cfg.Temperature)
		temperature = &val
	}

	var topP *float32
	if cfg.TopP != nil {
		val := float32(*cfg.TopP)
		topP = &val
	}

	var maxTokens *int
	if cfg.MaxTokens != nil {
		val := *cfg.MaxTokens
		maxTokens = &val
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		Region:      cfg.Region,
		APIKey:      cfg.APIKey,
		AccessKey:   cfg.AccessKey,
		SecretKey:   cfg.SecretKey,
		Model:       cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
}
