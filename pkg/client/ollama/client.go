// Package ollama implements llm.Provider against a local Ollama server. It is
// the terminal fallback tier: no API quota, no per-token cost.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ollama/ollama/api"

	"github.com/candorhq/go-candor-ai/pkg/llm"
	"github.com/candorhq/go-candor-ai/pkg/message"
)

const defaultMaxTokens = 4096

// Client handles communication with a local Ollama server
type Client struct {
	client    *api.Client
	maxTokens int
}

// NewClient creates a new Ollama client from OLLAMA_HOST environment settings
func NewClient(maxTokens int) (*Client, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
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
func (c *Client) Name() string { return "ollama" }

// Chat sends a conversation to the given local model
func (c *Client) Chat(ctx context.Context, model string, messages []message.Message, opts llm.Options) (*llm.Result, error) {
	ollamaMessages := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		ollamaMessages = append(ollamaMessages, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	options := map[string]any{
		"num_predict": maxTokens,
	}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}

	stream := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: ollamaMessages,
		Stream:   &stream,
		Options:  options,
	}

	var content string
	var usage message.TokenUsage
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		if resp.Done {
			usage = message.TokenUsage{
				InputTokens:  resp.Metrics.PromptEvalCount,
				OutputTokens: resp.Metrics.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		if isThrottled(err) {
			return nil, fmt.Errorf("ollama: %w", llm.ErrThrottled)
		}
		return nil, fmt.Errorf("ollama API error: %w", err)
	}
	if content == "" {
		return nil, fmt.Errorf("no content in Ollama response")
	}

	return &llm.Result{Text: content, Usage: usage}, nil
}

// Embed returns an embedding vector from the local embeddings endpoint
func (c *Client) Embed(ctx context.Context, model string, text string) ([]float64, error) {
	resp, err := c.client.Embed(ctx, &api.EmbedRequest{
		Model: model,
		Input: text,
	})
	if err != nil {
		if isThrottled(err) {
			return nil, fmt.Errorf("ollama: %w", llm.ErrThrottled)
		}
		return nil, fmt.Errorf("ollama embeddings call failed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("no embedding in Ollama response")
	}

	values := resp.Embeddings[0]
	vec := make([]float64, len(values))
	for i, v := range values {
		vec[i] = float64(v)
	}
	return vec, nil
}

// isThrottled reports whether the server replied with HTTP 429
func isThrottled(err error) bool {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
