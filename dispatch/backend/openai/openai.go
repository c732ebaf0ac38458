// Package openai provides a Backend adapter for OpenAI-compatible APIs.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dshills/dispatch-go/dispatch/backend"
)

// Backend implements backend.Backend for OpenAI's API and any
// OpenAI-compatible inference server (vLLM, sglang, llama.cpp server).
//
// Provides:
//   - Automatic retry logic for transient errors
//   - Rate limit handling with backoff
//   - Context cancellation
//   - Custom base URL for self-hosted inference nodes
//
// Example usage:
//
//	// Hosted OpenAI:
//	b := openai.New(os.Getenv("OPENAI_API_KEY"), "gpt-4o")
//
//	// Self-hosted vLLM node:
//	b := openai.New("EMPTY", "meta-llama/Llama-3.3-70B-Instruct",
//	    openai.WithBaseURL("http://gpu-node:8000/v1"))
//
//	resp := b.Generate(ctx, backend.Request{
//	    Messages: []backend.Message{{Role: backend.RoleUser, Content: "hi"}},
//	})
type Backend struct {
	apiKey     string
	modelName  string
	baseURL    string
	maxRetries int
	retryDelay time.Duration
}

// Option configures a Backend.
type Option func(*Backend)

// WithBaseURL points the client at an OpenAI-compatible server instead of
// the hosted API. The URL should include the version prefix, e.g.
// "http://gpu-node:8000/v1".
func WithBaseURL(url string) Option {
	return func(b *Backend) {
		b.baseURL = url
	}
}

// WithMaxRetries overrides the retry attempt count for transient errors.
func WithMaxRetries(n int) Option {
	return func(b *Backend) {
		b.maxRetries = n
	}
}

// New creates an OpenAI Backend.
//
// Defaults: 3 retry attempts for transient errors, 1 second base delay
// with linear backoff on rate limits, model "gpt-4o" when modelName is
// empty.
func New(apiKey, modelName string, opts ...Option) *Backend {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	b := &Backend{
		apiKey:     apiKey,
		modelName:  modelName,
		maxRetries: 3,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Generate implements backend.Backend.
//
// Transient errors (network faults, 5xx, rate limits) are retried with
// backoff; other errors are reported in the Response immediately.
func (b *Backend) Generate(ctx context.Context, req backend.Request) backend.Response {
	if err := ctx.Err(); err != nil {
		return backend.ErrorResponse(req, err, b.modelName)
	}

	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		text, err := b.createChatCompletion(ctx, req)
		if err == nil {
			return backend.Response{Request: req, Text: text, ModelName: b.modelName}
		}

		lastErr = err
		if !isTransientError(err) {
			return backend.ErrorResponse(req, err, b.modelName)
		}
		if attempt >= b.maxRetries {
			break
		}

		delay := b.retryDelay * time.Duration(attempt+1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return backend.ErrorResponse(req, ctx.Err(), b.modelName)
		}
	}

	return backend.ErrorResponse(req,
		fmt.Errorf("OpenAI API failed after %d retries: %w", b.maxRetries, lastErr), b.modelName)
}

func (b *Backend) createChatCompletion(ctx context.Context, req backend.Request) (string, error) {
	if b.apiKey == "" {
		return "", errors.New("OpenAI API key is required")
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(b.apiKey)}
	if b.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(b.baseURL))
	}
	client := openaisdk.NewClient(clientOpts...)

	model := req.Model
	if model == "" {
		model = b.modelName
	}
	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(model),
		Messages: convertMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openaisdk.Float(req.Temperature)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("OpenAI API returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// convertMessages converts our Message format to OpenAI's format.
func convertMessages(messages []backend.Message) []openaisdk.ChatCompletionMessageParamUnion {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))

	for i, msg := range messages {
		switch msg.Role {
		case backend.RoleSystem:
			result[i] = openaisdk.SystemMessage(msg.Content)
		case backend.RoleAssistant:
			result[i] = openaisdk.AssistantMessage(msg.Content)
		default:
			result[i] = openaisdk.UserMessage(msg.Content)
		}
	}

	return result
}

// isTransientError determines if an error should trigger a retry.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	msgLower := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"network",
		"connection",
		"temporary",
		"rate limit",
		"429",
		"503",
		"502",
		"500",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(msgLower, pattern) {
			return true
		}
	}
	return false
}
