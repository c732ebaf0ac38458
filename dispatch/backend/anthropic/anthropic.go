// Package anthropic provides a Backend adapter for Anthropic's Claude API.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/dispatch-go/dispatch/backend"
)

// Backend implements backend.Backend for Anthropic's Claude API.
//
// Provides:
//   - Error translation to the common Response format
//   - System prompt extraction (Anthropic uses a separate system parameter)
//   - Context cancellation
//
// Example usage:
//
//	b := anthropic.New(os.Getenv("ANTHROPIC_API_KEY"), "claude-sonnet-4-5")
//	resp := b.Generate(ctx, backend.Request{
//	    Messages: []backend.Message{{Role: backend.RoleUser, Content: "hi"}},
//	})
type Backend struct {
	apiKey    string
	modelName string
}

// defaultMaxTokens bounds responses when the request does not set a limit;
// the Anthropic API requires an explicit max.
const defaultMaxTokens = 4096

// New creates an Anthropic Backend. Empty modelName selects a default
// Claude model.
func New(apiKey, modelName string) *Backend {
	if modelName == "" {
		modelName = "claude-sonnet-4-5"
	}
	return &Backend{
		apiKey:    apiKey,
		modelName: modelName,
	}
}

// Generate implements backend.Backend.
func (b *Backend) Generate(ctx context.Context, req backend.Request) backend.Response {
	if err := ctx.Err(); err != nil {
		return backend.ErrorResponse(req, err, b.modelName)
	}
	if b.apiKey == "" {
		return backend.ErrorResponse(req, errors.New("anthropic API key is required"), b.modelName)
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(b.apiKey))

	systemPrompt, conversation := splitSystemPrompt(req.Messages)

	model := req.Model
	if model == "" {
		model = b.modelName
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		Messages:  convertMessages(conversation),
		MaxTokens: maxTokens,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{
			{Text: systemPrompt},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(req.Temperature)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return backend.ErrorResponse(req, fmt.Errorf("anthropic API error: %w", err), b.modelName)
	}

	return backend.Response{Request: req, Text: extractText(resp), ModelName: b.modelName}
}

// splitSystemPrompt separates system messages from the conversation;
// Anthropic takes the system prompt as a dedicated request field.
func splitSystemPrompt(messages []backend.Message) (string, []backend.Message) {
	var systemPrompt string
	conversation := make([]backend.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == backend.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += msg.Content
			continue
		}
		conversation = append(conversation, msg)
	}
	return systemPrompt, conversation
}

// convertMessages converts our Message format to Anthropic's format.
func convertMessages(messages []backend.Message) []anthropicsdk.MessageParam {
	result := make([]anthropicsdk.MessageParam, len(messages))

	for i, msg := range messages {
		switch msg.Role {
		case backend.RoleAssistant:
			result[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content))
		default:
			result[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content))
		}
	}
	return result
}

// extractText concatenates the text blocks of a response, skipping
// tool-use and other non-text block kinds.
func extractText(resp *anthropicsdk.Message) string {
	var text string
	for _, block := range resp.Content {
		if block.Type != "text" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += block.Text
	}
	return text
}
