package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Sentinel errors for the failure modes callers distinguish.
var (
	// ErrBackendUnavailable reports that the model backend could not be
	// reached or answered with a server error.
	ErrBackendUnavailable = errors.New("llm backend unavailable")
	// ErrRateLimited reports that the backend throttled the request.
	ErrRateLimited = errors.New("llm backend rate limited")
	// ErrContentFiltered reports that the backend refused to complete the
	// request on content grounds.
	ErrContentFiltered = errors.New("llm response filtered")
)

// Message is one turn of conversation history passed to the model.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	callTimeout  = 60 * time.Second
	maxAttempts  = 3
	retryBackoff = 500 * time.Millisecond
)

// Client wraps an OpenAI-compatible API client for chat and embeddings.
type Client struct {
	api        *openai.Client
	chatModel  string
	embedModel string
}

// New creates a new LLM client. baseURL may point at any
// OpenAI-compatible server; empty means the default endpoint.
func New(baseURL, apiKey, chatModel, embedModel string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:        openai.NewClientWithConfig(config),
		chatModel:  chatModel,
		embedModel: embedModel,
	}
}

// ChatModel returns the configured chat model name.
func (c *Client) ChatModel() string { return c.chatModel }

// EmbedModel returns the configured embedding model name.
func (c *Client) EmbedModel() string { return c.embedModel }

// classify maps transport and API errors onto the client's sentinels so
// callers can branch without knowing the SDK's error types.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	// Connection refused, DNS failure and friends.
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrBackendUnavailable)
}

// withRetry runs fn up to maxAttempts times with exponential backoff on
// transient failures. The per-attempt timeout bounds each call.
func withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBackoff << (attempt - 1)
			slog.Debug("retrying llm call", "op", op, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		err = classify(fn(callCtx))
		cancel()
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

// Embed returns one embedding vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp openai.EmbeddingResponse
	err := withRetry(ctx, "embed", func(ctx context.Context) error {
		var err error
		resp, err = c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(c.embedModel),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("embedding API call: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding API returned out-of-range index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Generate produces a free-form completion from a system prompt, prior
// conversation history and the current user message.
func (c *Client) Generate(ctx context.Context, systemPrompt string, history []Message, userMsg string) (string, error) {
	chatMsgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userMsg})

	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, "generate", func(ctx context.Context) error {
		var err error
		resp, err = c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.chatModel,
			Messages:    chatMsgs,
			Temperature: 0.3,
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", ErrContentFiltered
	}
	return choice.Message.Content, nil
}

// GenerateJSON produces a completion in JSON mode and unmarshals it into
// out. Used for structured outputs like assessment item sets.
func (c *Client) GenerateJSON(ctx context.Context, systemPrompt, userMsg string, out any) error {
	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, "generate_json", func(ctx context.Context) error {
		var err error
		resp, err = c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.chatModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userMsg},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Temperature: 0.2,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("LLM returned no choices")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return ErrContentFiltered
	}
	raw := choice.Message.Content
	slog.Debug("LLM JSON response", "raw", raw)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	return nil
}

// Ping verifies the backend is reachable by requesting a single trivial
// embedding.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Embed(ctx, []string{"ping"})
	return err
}
