// Package gemini implements llm.Provider on top of the Google GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"google.golang.org/genai"

	"github.com/candorhq/go-candor-ai/pkg/llm"
	"github.com/candorhq/go-candor-ai/pkg/message"
)

const defaultMaxTokens = 8192

// Client handles communication with Gemini models
type Client struct {
	client    *genai.Client
	maxTokens int
}

// NewClient creates a new Gemini client with configurable maxTokens
func NewClient(maxTokens int) (*Client, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		client:    client,
		maxTokens: maxTokens,
	}, nil
}

// Name implements llm.Provider
func (c *Client) Name() string { return "gemini" }

// Chat sends a conversation to the given Gemini model
func (c *Client) Chat(ctx context.Context, model string, messages []message.Message, opts llm.Options) (*llm.Result, error) {
	contents := make([]*genai.Content, 0, len(messages))
	var systemInstruction *genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			// Gemini carries the system prompt outside the turn list
			systemInstruction = genai.NewContentFromText(msg.Content, genai.RoleUser)
		case message.RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case message.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens:   int32(maxTokens),
		SystemInstruction: systemInstruction,
	}
	if opts.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(opts.Temperature))
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		if isThrottled(err) {
			return nil, fmt.Errorf("gemini: %w", llm.ErrThrottled)
		}
		return nil, fmt.Errorf("gemini API error: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("no content in Gemini response")
	}

	result := &llm.Result{Text: text}
	if resp.UsageMetadata != nil {
		result.Usage = message.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result, nil
}

// Embed returns an embedding vector from the Gemini embeddings endpoint
func (c *Client) Embed(ctx context.Context, model string, text string) ([]float64, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	resp, err := c.client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		if isThrottled(err) {
			return nil, fmt.Errorf("gemini: %w", llm.ErrThrottled)
		}
		return nil, fmt.Errorf("gemini embeddings call failed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("no embedding in Gemini response")
	}

	values := resp.Embeddings[0].Values
	vec := make([]float64, len(values))
	for i, v := range values {
		vec[i] = float64(v)
	}
	return vec, nil
}

// isThrottled reports whether the SDK error is an HTTP 429
func isThrottled(err error) bool {
	var apierr genai.APIError
	if errors.As(err, &apierr) {
		return apierr.Code == http.StatusTooManyRequests
	}
	return false
}
