package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/chatpad-app/chatpad/backend/internal/config"
)

// openAIChatModel adapts the OpenAI streaming client to eino's ChatModel so
// the chain never depends on the provider's types. Context cancellation is
// plumbed straight through to the underlying HTTP stream, which is how
// mid-flight aborts reach the network layer.
type openAIChatModel struct {
	cfg         config.AIConfig
	credentials CredentialSource
}

func newOpenAIChatModel(cfg config.AIConfig, credentials CredentialSource) model.ChatModel {
	return &openAIChatModel{cfg: cfg, credentials: credentials}
}

// client builds a request-scoped client. The key is resolved per call so
// settings changes apply to the next turn.
func (m *openAIChatModel) client(ctx context.Context) openai.Client {
	opts := make([]option.RequestOption, 0, 2)
	if key := m.credentials(ctx); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if m.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(m.cfg.BaseURL))
	}
	return openai.NewClient(opts...)
}

func (m *openAIChatModel) buildParams(input []*schema.Message) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(input))
	for _, msg := range input {
		switch msg.Role {
		case schema.System:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case schema.User:
			messages = append(messages, openai.UserMessage(msg.Content))
		case schema.Assistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    m.cfg.Model,
		Messages: messages,
	}
	if m.cfg.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*m.cfg.MaxTokens))
	}
	if m.cfg.Temperature != nil {
		params.Temperature = openai.Float(*m.cfg.Temperature)
	}
	if m.cfg.TopP != nil {
		params.TopP = openai.Float(*m.cfg.TopP)
	}
	if m.cfg.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*m.cfg.FrequencyPenalty)
	}
	if m.cfg.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*m.cfg.PresencePenalty)
	}
	return params, nil
}

func (m *openAIChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	params, err := m.buildParams(input)
	if err != nil {
		return nil, err
	}

	client := m.client(ctx)
	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("completion returned no choices")
	}

	return schema.AssistantMessage(completion.Choices[0].Message.Content, nil), nil
}

func (m *openAIChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	params, err := m.buildParams(input)
	if err != nil {
		return nil, err
	}

	client := m.client(ctx)
	stream := client.Chat.Completions.NewStreaming(ctx, params)

	reader, writer := schema.Pipe[*schema.Message](8)
	go func() {
		defer writer.Close()
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if closed := writer.Send(schema.AssistantMessage(delta, nil), nil); closed {
				return
			}
		}
		if err := stream.Err(); err != nil {
			writer.Send(nil, err)
		}
	}()

	return reader, nil
}

func (m *openAIChatModel) BindTools(_ []*schema.ToolInfo) error {
	return errors.New("tool binding is not supported")
}
