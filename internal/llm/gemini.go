package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/edgard/omega/internal/config"
)

type geminiGateway struct {
	client      *genai.Client
	log         *slog.Logger
	model       string
	temperature float32
	timeout     time.Duration
	maxRetries  int
	retryDelay  time.Duration
}

// NewGemini returns a Gateway backed by the Gemini API.
func NewGemini(ctx context.Context, cfg config.AIConfig, log *slog.Logger) (Gateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}

	gi, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger := log.With("component", "gemini_gateway")
	logger.Info("Gemini gateway initialized", "model", cfg.Model)
	return &geminiGateway{
		client:      gi,
		log:         logger,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
	}, nil
}

func (g *geminiGateway) Generate(ctx context.Context, req Request) (Result, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	system, conversation := splitSystem(req.Messages)
	g.log.DebugContext(ctx, "Generating content", "message_count", len(conversation), "tool", req.Tool != nil)

	contents := make([]*genai.Content, 0, len(conversation))
	for _, m := range conversation {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text(), role))
	}

	temperature := g.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature: &temperature,
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.Tool != nil {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{geminiDeclaration(req.Tool)}}}
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
		}
	}

	resp, err := g.generateContentWithRetries(ctx, contents, cfg)
	if err != nil {
		return Result{}, wrap("gemini", err)
	}

	res, err := g.extractResult(ctx, resp, req.Tool)
	if err != nil {
		return Result{}, wrap("gemini", err)
	}
	return res, nil
}

func geminiDeclaration(t *Tool) *genai.FunctionDeclaration {
	props := make(map[string]*genai.Schema, len(t.Fields))
	required := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		props[f.Name] = &genai.Schema{Type: genai.TypeString, Description: f.Description}
		required = append(required, f.Name)
	}
	return &genai.FunctionDeclaration{
		Name:        t.Name,
		Description: t.Description,
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: props,
			Required:   required,
		},
	}
}

func (g *geminiGateway) generateContentWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var err error
	for i := 0; i <= g.maxRetries; i++ {
		var resp *genai.GenerateContentResponse
		resp, err = g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err == nil {
			return resp, nil
		}

		code := 0
		var apiErr *genai.APIError
		if errors.As(err, &apiErr) {
			code = apiErr.Code
		}

		if (code == 500 || code == 503) && i < g.maxRetries {
			g.log.InfoContext(ctx, "Retrying Gemini API call due to retriable APIError", "attempt", i+1, "delay", g.retryDelay, "code", code)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.retryDelay):
			}
			continue
		}

		g.log.WarnContext(ctx, "Gemini API call failed", "attempt", i+1, "code", code, "error", err)
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	return nil, err
}

func (g *geminiGateway) extractResult(ctx context.Context, resp *genai.GenerateContentResponse, tool *Tool) (Result, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reason := string(resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reason = resp.PromptFeedback.BlockReasonMessage
		}
		g.log.ErrorContext(ctx, "Gemini request blocked", "reason", reason)
		return Result{}, fmt.Errorf("%w: %s", ErrBlocked, reason)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = string(resp.Candidates[0].FinishReason)
		}
		g.log.WarnContext(ctx, "Gemini response missing candidates or content", "finish_reason", finishReason)
		return Result{}, fmt.Errorf("%w: finish reason %s", ErrEmptyResponse, finishReason)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil && tool != nil && part.FunctionCall.Name == tool.Name {
			return Result{Structured: stringArgs(part.FunctionCall.Args)}, nil
		}
		if part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return Result{}, ErrEmptyResponse
	}
	return Result{Text: text}, nil
}
