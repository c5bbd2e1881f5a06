// Package anthropic implements llm.Provider on top of the Anthropic SDK.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/candorhq/go-candor-ai/pkg/llm"
	"github.com/candorhq/go-candor-ai/pkg/message"
)

const defaultMaxTokens = 4096

// Client handles communication with Claude models
type Client struct {
	client    *anthropic.Client
	maxTokens int
}

// NewClient creates a new Anthropic client with configurable maxTokens
func NewClient(maxTokens int) (*Client, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		client:    &client,
		maxTokens: maxTokens,
	}, nil
}

// Name implements llm.Provider
func (c *Client) Name() string { return "anthropic" }

// Chat sends a conversation to the given Claude model
func (c *Client) Chat(ctx context.Context, model string, messages []message.Message, opts llm.Options) (*llm.Result, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := anthropic.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  toAnthropicMessages(messages),
		Model:     anthropic.Model(model),
	}
	if system := systemPrompt(messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if isThrottled(err) {
			return nil, fmt.Errorf("anthropic: %w", llm.ErrThrottled)
		}
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}
	if len(msg.Content) == 0 {
		return nil, fmt.Errorf("no content in Anthropic response")
	}

	var content string
	for _, contentBlock := range msg.Content {
		switch variant := contentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			content += variant.Text
		}
	}

	return &llm.Result{
		Text: content,
		Usage: message.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// Embed implements llm.Provider. Anthropic has no embeddings endpoint.
func (c *Client) Embed(ctx context.Context, model string, text string) ([]float64, error) {
	return nil, llm.ErrNotSupported
}

// toAnthropicMessages converts internal messages to the Anthropic wire format.
// System messages are carried separately via the System param.
func toAnthropicMessages(messages []message.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case message.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case message.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return out
}

// systemPrompt concatenates system messages into the top-level system param
func systemPrompt(messages []message.Message) string {
	var system string
	for _, msg := range messages {
		if msg.Role == message.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += msg.Content
		}
	}
	return system
}

// isThrottled reports whether the SDK error is an HTTP 429
func isThrottled(err error) bool {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
