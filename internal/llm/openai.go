package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	gopenai "github.com/sashabaranov/go-openai"

	"github.com/edgard/omega/internal/config"
)

type openAIGateway struct {
	client      *gopenai.Client
	log         *slog.Logger
	model       string
	temperature float32
	maxRetries  int
	retryDelay  time.Duration
}

// NewOpenAI returns a Gateway for any OpenAI-compatible chat completions API.
func NewOpenAI(cfg config.AIConfig, log *slog.Logger) (Gateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	aiConfig := gopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		aiConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	aiConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	logger := log.With("component", "openai_gateway")
	logger.Info("OpenAI gateway initialized", "model", cfg.Model, "base_url", aiConfig.BaseURL)
	return &openAIGateway{
		client:      gopenai.NewClientWithConfig(aiConfig),
		log:         logger,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
	}, nil
}

func (o *openAIGateway) Generate(ctx context.Context, req Request) (Result, error) {
	system, conversation := splitSystem(req.Messages)

	messages := make([]gopenai.ChatCompletionMessage, 0, len(conversation)+1)
	if system != "" {
		messages = append(messages, gopenai.ChatCompletionMessage{Role: gopenai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range conversation {
		role := gopenai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = gopenai.ChatMessageRoleAssistant
		}
		messages = append(messages, gopenai.ChatCompletionMessage{Role: role, Content: m.Text()})
	}

	completion := gopenai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: o.temperature,
	}
	if req.Tool != nil {
		completion.Tools = []gopenai.Tool{openAITool(req.Tool)}
		completion.ToolChoice = "auto"
	}

	var resp gopenai.ChatCompletionResponse
	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			var err error
			resp, err = o.client.CreateChatCompletion(ctx, completion)
			if err != nil {
				o.log.DebugContext(ctx, "Completion attempt failed", "attempt", attempt, "error", err)
				return fmt.Errorf("chat completion API call failed: %w", err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(o.maxRetries+1)),
		retry.Delay(o.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetriableOpenAIError),
		retry.OnRetry(func(n uint, err error) {
			o.log.InfoContext(ctx, "Retrying completion request", "attempt", n+1, "max_attempts", o.maxRetries+1, "error", err)
		}),
	)
	if err != nil {
		return Result{}, wrap("openai", err)
	}

	res, err := parseCompletion(resp, req.Tool)
	if err != nil {
		o.log.WarnContext(ctx, "Unusable completion response", "error", err)
		return Result{}, wrap("openai", err)
	}
	return res, nil
}

func openAITool(t *Tool) gopenai.Tool {
	props := make(map[string]any, len(t.Fields))
	required := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		props[f.Name] = map[string]any{"type": "string", "description": f.Description}
		required = append(required, f.Name)
	}
	return gopenai.Tool{
		Type: gopenai.ToolTypeFunction,
		Function: &gopenai.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": props,
				"required":   required,
			},
		},
	}
}

func parseCompletion(resp gopenai.ChatCompletionResponse, tool *Tool) (Result, error) {
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: no choices", ErrEmptyResponse)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == gopenai.FinishReasonContentFilter {
		return Result{}, fmt.Errorf("%w: content filter", ErrBlocked)
	}

	if tool != nil {
		for _, tc := range choice.Message.ToolCalls {
			if strings.TrimSpace(tc.Function.Name) != tool.Name {
				continue
			}
			args := make(map[string]any)
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return Result{}, fmt.Errorf("invalid %s arguments: %w", tool.Name, err)
			}
			return Result{Structured: stringArgs(args)}, nil
		}
	}

	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return Result{}, ErrEmptyResponse
	}
	return Result{Text: text}, nil
}

func isRetriableOpenAIError(err error) bool {
	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
			return true
		}
		return false
	}
	var reqErr *gopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= 500
	}
	return false
}
