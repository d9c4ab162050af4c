package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/agribot/internal/apperr"
	"github.com/ashureev/agribot/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

var (
	errMissingAPIKey = errors.New("engine API key is required")
	errNoChoices     = errors.New("no completion choices returned")
	errEmptyReply    = errors.New("completion returned empty content")
)

// OpenAIEngine talks to any OpenAI-compatible chat completion endpoint.
// The default points at Gemini.
type OpenAIEngine struct {
	client       *openai.Client
	model        string
	systemPrompt string
	temperature  float32
	topP         float32
	maxTokens    int
	logger       *slog.Logger
}

// NewOpenAIEngine creates an engine from cfg. Zero fields fall back to DefaultConfig.
func NewOpenAIEngine(cfg Config, logger *slog.Logger) (*OpenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, errMissingAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = def.SystemPrompt
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &OpenAIEngine{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
		topP:         cfg.TopP,
		maxTokens:    cfg.MaxTokens,
		logger:       logger,
	}, nil
}

// Generate implements Engine. The history is read, never modified.
func (e *OpenAIEngine) Generate(ctx context.Context, message string, history []domain.Turn) (string, error) {
	const op = "agent.generate"

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Messages:    BuildMessages(e.systemPrompt, history, message),
		Temperature: e.temperature,
		TopP:        e.topP,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			e.logger.Debug("engine API error", "status", apiErr.HTTPStatusCode, "code", apiErr.Code)
		}
		return "", apperr.New(apperr.KindEngine, op, err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.KindEngine, op, errNoChoices)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", apperr.New(apperr.KindEngine, op, fmt.Errorf("%w (finish reason %q)", errEmptyReply, resp.Choices[0].FinishReason))
	}
	return content, nil
}

// BuildMessages converts the system prompt, history and new message into
// chat completion messages in conversation order.
func BuildMessages(systemPrompt string, history []domain.Turn, message string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})
}
