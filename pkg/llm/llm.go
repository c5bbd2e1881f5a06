// Package llm defines the provider-neutral inference interface implemented by
// every concrete provider client under pkg/client.
package llm

import (
	"context"
	"errors"

	"github.com/candorhq/go-candor-ai/pkg/message"
)

// ErrThrottled is returned when a provider signals backpressure (HTTP 429).
// Callers may retry with backoff; all provider clients normalize their SDK's
// rate-limit errors into this sentinel.
var ErrThrottled = errors.New("provider throttled request")

// ErrNotSupported is returned when a provider does not implement the
// requested capability (e.g. embeddings on Anthropic).
var ErrNotSupported = errors.New("capability not supported by provider")

// Options carries per-call generation parameters.
type Options struct {
	Temperature float64
	MaxTokens   int // 0 = use the client's configured default
}

// Result is a normalized provider response: the generated text plus whatever
// token accounting the provider reported.
type Result struct {
	Text  string
	Usage message.TokenUsage
}

// Provider is the uniform surface the router calls. Implementations wrap one
// provider SDK and normalize its request/response shapes.
type Provider interface {
	// Name returns the provider identifier ("anthropic", "openai", ...)
	Name() string

	// Chat sends a conversation to the given model and returns the response
	Chat(ctx context.Context, model string, messages []message.Message, opts Options) (*Result, error)

	// Embed returns an embedding vector for the given text, or ErrNotSupported
	Embed(ctx context.Context, model string, text string) ([]float64, error)
}
