package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/chatpad-app/chatpad/backend/internal/config"
	"github.com/chatpad-app/chatpad/backend/internal/model/chat"
)

// CredentialSource resolves the API key at request time, so a key saved
// through the settings surface takes effect without a restart.
type CredentialSource func(ctx context.Context) string

// Service issues streaming completion requests against the configured model
// provider. One request per turn: system prompt, a bounded window of prior
// turns, and the new user input.
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
	log       zerolog.Logger
}

// NewService creates the generation service and compiles the chat chain.
func NewService(ctx context.Context, cfg config.AIConfig, credentials CredentialSource, logger zerolog.Logger) (*Service, error) {
	chatModel, err := newChatModel(ctx, cfg, credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
		log:       logger,
	}, nil
}

func newChatModel(ctx context.Context, cfg config.AIConfig, credentials CredentialSource) (model.ChatModel, error) {
	switch cfg.Provider {
	case "ark":
		return newArkChatModel(ctx, cfg)
	case "openai", "":
		return newOpenAIChatModel(cfg, credentials), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}

// StartGeneration runs one completion request. onToken is invoked for every
// chunk in arrival order. Cancelling ctx is the cancellation signal: the
// stream stops promptly and the accumulated text is returned with
// cancelled=true. On transport errors the accumulated text is returned
// alongside the error so callers never lose a partially received response.
func (s *Service) StartGeneration(ctx context.Context, systemPrompt string, history []chat.Message, input string, onToken func(token string)) (string, bool, error) {
	in := map[string]any{
		"system":  systemPrompt,
		"history": s.buildHistoryMessages(history),
		"query":   input,
	}

	if !s.cfg.StreamResponse {
		return s.generateOnce(ctx, in, onToken)
	}

	stream, err := s.chain.Stream(ctx, in)
	if err != nil {
		if wasCancelled(ctx, err) {
			return "", true, nil
		}
		return "", false, fmt.Errorf("failed to start AI stream: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			if wasCancelled(ctx, recvErr) {
				return full.String(), true, nil
			}
			return full.String(), false, fmt.Errorf("AI stream failed: %w", recvErr)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		full.WriteString(chunk.Content)
		onToken(chunk.Content)
	}

	s.log.Debug().Int("length", full.Len()).Msg("generation complete")
	return full.String(), false, nil
}

// generateOnce serves the non-streaming configuration: a single Invoke whose
// result is delivered through onToken as one chunk.
func (s *Service) generateOnce(ctx context.Context, in map[string]any, onToken func(token string)) (string, bool, error) {
	response, err := s.chain.Invoke(ctx, in)
	if err != nil {
		if wasCancelled(ctx, err) {
			return "", true, nil
		}
		return "", false, fmt.Errorf("failed to run AI chain: %w", err)
	}

	if response.Content != "" {
		onToken(response.Content)
	}
	return response.Content, false, nil
}

// buildHistoryMessages converts the prior log into model messages, keeping
// only the last HistoryWindow interactions (one human plus one ai message
// each). The system entry is templated separately and skipped here.
func (s *Service) buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	limit := s.cfg.HistoryWindow * 2
	startIdx := 0
	if limit > 0 && len(messages) > limit {
		startIdx = len(messages) - limit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleHuman:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAI:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}

func wasCancelled(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	return ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled)
}
