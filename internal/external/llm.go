package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"companion/internal/types"
)

// OpenAIChatConfig configures an OpenAI-compatible chat completions client.
type OpenAIChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Logger  *slog.Logger
}

// OpenAIChatClient implements ChatModel against /chat/completions.
type OpenAIChatClient struct {
	base    *BaseClient
	baseURL string
	apiKey  string
	model   string
	logger  *slog.Logger
}

// NewOpenAIChatClient creates a chat client. The http client timeout bounds
// each attempt; retries are kept low since completions are slow.
func NewOpenAIChatClient(httpClient *http.Client, cfg OpenAIChatConfig, opts ...BaseClientOption) *OpenAIChatClient {
	base := NewBaseClient(
		httpClient,
		"llm",
		RetryPolicy{
			MaxRetries: 1,
			MinWait:    time.Second,
			MaxWait:    5 * time.Second,
		},
		"Companion/1.0",
		opts...,
	)
	return NewOpenAIChatClientWithBase(base, cfg)
}

// NewOpenAIChatClientWithBase creates a chat client with a pre-configured
// BaseClient.
func NewOpenAIChatClientWithBase(base *BaseClient, cfg OpenAIChatConfig) *OpenAIChatClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIChatClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		logger:  logger,
	}
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends the conversation prefixed with the persona's system prompt.
func (c *OpenAIChatClient) Complete(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	messages := make([]ChatMessage, 0, len(req.Messages)+1)
	messages = append(messages, ChatMessage{Role: RoleSystem, Content: systemPrompt(req.Persona)})
	messages = append(messages, req.Messages...)

	body, err := json.Marshal(chatCompletionRequest{Model: c.model, Messages: messages})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode chat request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.base.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr chatErrorResponse
		_ = json.Unmarshal(raw, &apiErr)
		c.logger.WarnContext(ctx, "chat completion rejected",
			"status", resp.StatusCode,
			"error_type", apiErr.Error.Type,
		)
		return nil, types.NewAppError(
			types.ErrCodeUpstreamLLM,
			fmt.Sprintf("chat model returned %d", resp.StatusCode),
			nil,
		)
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamLLM, "failed to decode chat completion", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamLLM, "chat model returned no reply", nil)
	}

	return &ChatReply{Content: out.Choices[0].Message.Content, Model: out.Model}, nil
}

func systemPrompt(p types.Persona) string {
	name := p.DisplayName
	if name == "" {
		name = p.ID
	}
	return fmt.Sprintf("You are %s, a warm and attentive companion. Stay in character and keep replies conversational.", name)
}

var _ ChatModel = (*OpenAIChatClient)(nil)
