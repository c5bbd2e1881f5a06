// Package openai implements llm.Provider on top of the OpenAI SDK, covering
// both chat completions and the embeddings endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/candorhq/go-candor-ai/pkg/llm"
	"github.com/candorhq/go-candor-ai/pkg/message"
)

const defaultMaxTokens = 4096

// Client handles communication with OpenAI models
type Client struct {
	client    *openai.Client
	maxTokens int
}

// NewClient creates a new OpenAI client with configurable maxTokens
func NewClient(maxTokens int) (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}

	// Support custom base URL (for Azure OpenAI, etc.)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		client:    &client,
		maxTokens: maxTokens,
	}, nil
}

// Name implements llm.Provider
func (c *Client) Name() string { return "openai" }

// Chat sends a conversation to the given OpenAI model
func (c *Client) Chat(ctx context.Context, model string, messages []message.Message, opts llm.Options) (*llm.Result, error) {
	openaiMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case message.RoleUser:
			openaiMessages = append(openaiMessages, openai.UserMessage(msg.Content))
		case message.RoleAssistant:
			openaiMessages = append(openaiMessages, openai.AssistantMessage(msg.Content))
		case message.RoleSystem:
			openaiMessages = append(openaiMessages, openai.SystemMessage(msg.Content))
		}
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := openai.ChatCompletionNewParams{
		Messages:            openaiMessages,
		Model:               shared.ChatModel(model),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if isThrottled(err) {
			return nil, fmt.Errorf("openai: %w", llm.ErrThrottled)
		}
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	return &llm.Result{
		Text: completion.Choices[0].Message.Content,
		Usage: message.TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

// Embed returns an embedding vector from the OpenAI embeddings endpoint
func (c *Client) Embed(ctx context.Context, model string, text string) ([]float64, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		if isThrottled(err) {
			return nil, fmt.Errorf("openai: %w", llm.ErrThrottled)
		}
		return nil, fmt.Errorf("OpenAI embeddings call failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding in OpenAI response")
	}

	vec := make([]float64, len(resp.Data[0].Embedding))
	copy(vec, resp.Data[0].Embedding)
	return vec, nil
}

// isThrottled reports whether the SDK error is an HTTP 429
func isThrottled(err error) bool {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
