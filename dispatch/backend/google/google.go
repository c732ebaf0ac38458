// Package google provides a Backend adapter for Google's Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/dispatch-go/dispatch/backend"
)

// Backend implements backend.Backend for Google's Gemini API.
//
// Example usage:
//
//	b := google.New(os.Getenv("GOOGLE_API_KEY"), "gemini-1.5-pro")
//	resp := b.Generate(ctx, backend.Request{
//	    Messages: []backend.Message{{Role: backend.RoleUser, Content: "hi"}},
//	})
type Backend struct {
	apiKey    string
	modelName string
}

// New creates a Gemini Backend. Empty modelName selects a default model.
func New(apiKey, modelName string) *Backend {
	if modelName == "" {
		modelName = "gemini-1.5-pro"
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
		return backend.ErrorResponse(req, errors.New("google API key is required"), b.modelName)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(b.apiKey))
	if err != nil {
		return backend.ErrorResponse(req, fmt.Errorf("failed to create Google client: %w", err), b.modelName)
	}
	defer func() { _ = client.Close() }()

	model := req.Model
	if model == "" {
		model = b.modelName
	}
	genModel := client.GenerativeModel(model)
	if req.MaxTokens > 0 {
		genModel.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		genModel.SetTemperature(float32(req.Temperature))
	}

	systemPrompt, parts := convertMessages(req.Messages)
	if systemPrompt != "" {
		genModel.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	resp, err := genModel.GenerateContent(ctx, parts...)
	if err != nil {
		return backend.ErrorResponse(req, fmt.Errorf("google API error: %w", err), b.modelName)
	}

	return backend.Response{Request: req, Text: extractText(resp), ModelName: b.modelName}
}

// convertMessages converts our Message format to Google's format. System
// messages become the model's SystemInstruction; everything else becomes a
// text part.
func convertMessages(messages []backend.Message) (string, []genai.Part) {
	var systemPrompt string
	var parts []genai.Part

	for _, msg := range messages {
		if msg.Role == backend.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += msg.Content
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}
	return systemPrompt, parts
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return ""
	}

	var text string
	for _, part := range candidate.Content.Parts {
		if p, ok := part.(genai.Text); ok {
			if text != "" {
				text += "\n"
			}
			text += string(p)
		}
	}
	return text
}
