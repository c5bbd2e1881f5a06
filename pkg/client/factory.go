// Package client constructs concrete provider clients behind the llm.Provider
// interface.
package client

import (
	"fmt"

	"github.com/candorhq/go-candor-ai/pkg/client/anthropic"
	"github.com/candorhq/go-candor-ai/pkg/client/gemini"
	"github.com/candorhq/go-candor-ai/pkg/client/ollama"
	"github.com/candorhq/go-candor-ai/pkg/client/openai"
	"github.com/candorhq/go-candor-ai/pkg/llm"
)

// NewProvider creates a client for the named backend. One client is shared by
// every model tier on the same provider; the model is chosen per call.
func NewProvider(backend string, maxTokens int) (llm.Provider, error) {
	switch backend {
	case "anthropic":
		return anthropic.NewClient(maxTokens)
	case "openai":
		return openai.NewClient(maxTokens)
	case "gemini":
		return gemini.NewClient(maxTokens)
	case "ollama":
		return ollama.NewClient(maxTokens)
	default:
		return nil, fmt.Errorf("unsupported provider backend: %s", backend)
	}
}
